package checker

import (
	"context"
	"errors"
	"fmt"

	"github.com/orizon-lang/capsafe/internal/diagnostic"
	capserr "github.com/orizon-lang/capsafe/internal/errors"
	"github.com/orizon-lang/capsafe/internal/proof"
	"github.com/orizon-lang/capsafe/internal/violation"
)

// Report is the outcome of one unit.
type Report struct {
	RunID       string
	Unit        string
	Violations  []*violation.Violation
	Diagnostics []*diagnostic.Diagnostic
	Proofs      *proof.Ledger
	Decls       []proof.Decl

	// Accepted is true when no diagnostic is an error. Undecided
	// obligations are warnings unless configured as errors, but they are
	// never counted as proved.
	Accepted bool
}

// Summary attributes the proof notes to the functions of the unit.
func (r *Report) Summary() proof.Summary {
	return r.Proofs.Summarize(r.Decls)
}

// Finish runs the whole-unit sweep and closes the unit. Every open frame
// is exited, the top level included, so no leak goes unreported; pending
// obligations are discharged; and a final concurrency scan covers bindings
// whose frame never closed. The unit accepts no calls afterwards.
func (u *Unit) Finish(ctx context.Context) (*Report, error) {
	if err := u.live(); err != nil {
		return nil, err
	}
	end := u.scopes[0].span

	var errs []error
	for len(u.scopes) > 1 {
		s := u.top()
		if s.kind == scopeFunction {
			if _, err := u.EndFunction(ctx, s.span); err != nil {
				errs = append(errs, err)
				break
			}
			continue
		}
		if _, err := u.exitBlock(s.span); err != nil {
			errs = append(errs, err)
			break
		}
	}

	found, err := u.discharger.Flush(ctx)
	u.collectAll(found)
	if err != nil {
		errs = append(errs, fmt.Errorf("flush obligations: %w", err))
	}

	leaks, err := u.caps.ExitScope(end)
	u.collectAll(leaks)
	if err != nil {
		errs = append(errs, err)
	}
	u.collectAll(u.caps.ValidateAll())

	if err := u.discharger.Close(); err != nil {
		errs = append(errs, capserr.SolverUnavailable("close session", err))
	}
	u.finished = true

	report := u.report()
	u.logger.Info("unit finished",
		"unit", u.name,
		"violations", len(report.Violations),
		"proved", report.Proofs.Len(),
		"accepted", report.Accepted,
	)
	return report, errors.Join(errs...)
}

func (u *Unit) report() *Report {
	vs := u.Violations()
	ds := u.factory.FromViolations(vs)

	accepted := true
	for _, d := range ds {
		if d.Level == diagnostic.LevelError {
			accepted = false
			break
		}
	}

	return &Report{
		RunID:       u.ledger.RunID,
		Unit:        u.name,
		Violations:  vs,
		Diagnostics: ds,
		Proofs:      u.ledger,
		Decls:       append([]proof.Decl(nil), u.decls...),
		Accepted:    accepted,
	}
}
