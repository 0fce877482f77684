package diagnostic

import (
	"fmt"
	"strings"

	"github.com/orizon-lang/capsafe/internal/violation"
)

// Diagnostic codes, one per violation kind.
const (
	CodeUseAfterMove        = "E5001"
	CodeDoubleMove          = "E5002"
	CodeBorrowAfterMove     = "E5003"
	CodeBorrowExclusivity   = "E5004"
	CodeUseAfterConsumption = "E5101"
	CodeResourceLeak        = "E5102"
	CodeConcurrentUse       = "E5103"
	CodeProofRefuted        = "E5201"
	CodeSolverUnknown       = "W5202"
)

// CodeFor returns the diagnostic code of kind.
func CodeFor(kind violation.Kind) string {
	switch kind {
	case violation.UseAfterMove:
		return CodeUseAfterMove
	case violation.DoubleMove:
		return CodeDoubleMove
	case violation.BorrowAfterMove:
		return CodeBorrowAfterMove
	case violation.BorrowExclusivity:
		return CodeBorrowExclusivity
	case violation.UseAfterConsumption:
		return CodeUseAfterConsumption
	case violation.ResourceLeak:
		return CodeResourceLeak
	case violation.ConcurrentUseWithoutSync:
		return CodeConcurrentUse
	case violation.ProofRefuted:
		return CodeProofRefuted
	case violation.SolverTimeout:
		return CodeSolverUnknown
	}
	return ""
}

// FactoryOptions tunes the mapping.
type FactoryOptions struct {
	// UnknownAsError reports undecided obligations as errors instead of
	// warnings. An undecided obligation is never treated as proved either way.
	UnknownAsError bool
}

// Factory maps violations to diagnostics. It is a pure function of its
// options and input.
type Factory struct {
	opts FactoryOptions
}

// NewFactory creates a factory.
func NewFactory(opts FactoryOptions) *Factory {
	return &Factory{opts: opts}
}

// FromViolation maps v to exactly one diagnostic, or nil for a nil v.
func (f *Factory) FromViolation(v *violation.Violation) *Diagnostic {
	if v == nil {
		return nil
	}

	name := v.Binding
	b := NewDiagnostic().
		Error().
		Code(CodeFor(v.Kind)).
		Binding(name).
		Span(v.Span).
		Tag(v.Kind.String())

	switch v.Kind {
	case violation.UseAfterMove:
		b.Category(CategoryOwnership).
			Title("Use of moved value").
			Message(withReason(fmt.Sprintf("`%s` is used after it was moved", name), v.Reason)).
			Related(v.Conflict, "value moved here").
			Suggest(fmt.Sprintf("borrow `%s` instead of moving it, or move it only after its last use", name))

	case violation.DoubleMove:
		b.Category(CategoryOwnership).
			Title("Value moved twice").
			Message(withReason(fmt.Sprintf("`%s` is moved again after it was already moved", name), v.Reason)).
			Related(v.Conflict, "first moved here").
			Suggest(fmt.Sprintf("remove one of the moves of `%s`", name))

	case violation.BorrowAfterMove:
		b.Category(CategoryOwnership)
		if v.Reason == "moved while borrowed" {
			b.Title("Move of borrowed value").
				Message(fmt.Sprintf("`%s` is moved while a borrow of it is still active", name)).
				Related(v.Conflict, "borrowed here").
				Suggest(fmt.Sprintf("release the borrow of `%s` before moving it", name))
		} else {
			b.Title("Borrow of moved value").
				Message(withReason(fmt.Sprintf("`%s` is borrowed after it was moved", name), v.Reason)).
				Related(v.Conflict, "value moved here").
				Suggest(fmt.Sprintf("borrow `%s` before the move", name))
		}

	case violation.BorrowExclusivity:
		b.Category(CategoryOwnership).
			Title("Conflicting borrow").
			Message(withReason(fmt.Sprintf("`%s` cannot be borrowed here because a conflicting borrow is active", name), v.Reason)).
			Related(v.Conflict, "conflicting borrow here").
			Suggest("release the earlier borrow before borrowing again")

	case violation.UseAfterConsumption:
		b.Category(CategoryCapability).
			Title("Use of consumed capability").
			Message(withReason(fmt.Sprintf("capability `%s` is used after it was consumed", name), v.Reason)).
			Related(v.Conflict, "consumed here").
			Suggest(fmt.Sprintf("do not use `%s` after the consuming call", name))

	case violation.ResourceLeak:
		b.Category(CategoryCapability).
			Title("Capability never consumed").
			Message(fmt.Sprintf("capability `%s` goes out of scope without being consumed", name)).
			Related(v.Conflict, "defined here").
			Suggest(fmt.Sprintf("consume or transfer `%s` before the end of its scope", name))

	case violation.ConcurrentUseWithoutSync:
		b.Category(CategoryConcurrency).
			Title("Unsynchronized concurrent use").
			Message(fmt.Sprintf("capability `%s` is accessed from threads %s and %s without synchronization",
				name, v.Threads[0], v.Threads[1])).
			Related(v.Conflict, fmt.Sprintf("accessed from thread %s here", v.Threads[0])).
			Suggest(fmt.Sprintf("insert a synchronization point between the accesses, or share `%s` explicitly", name))

	case violation.ProofRefuted:
		b.Category(CategoryProof).
			Title("Obligation refuted").
			Message(fmt.Sprintf("cannot prove %s: %s", v.Obligation, counterexample(v))).
			Suggest("add a guard or assertion that establishes the condition")
		if v.Model != "" {
			b.Related(&v.Span, "counterexample:\n"+v.Model)
		}

	case violation.SolverTimeout:
		b.Category(CategoryProof).
			Title("Obligation undecided").
			Message(withReason(fmt.Sprintf("the solver could not decide %s", v.Obligation), v.Reason)).
			Suggest("simplify the condition or raise the solver timeout")
		if !f.opts.UnknownAsError {
			b.Warning()
		}

	default:
		b.Title(v.Kind.String()).Message(v.Error())
	}

	return b.Build()
}

// FromViolations maps each violation in order.
func (f *Factory) FromViolations(vs []*violation.Violation) []*Diagnostic {
	out := make([]*Diagnostic, 0, len(vs))
	for _, v := range vs {
		if d := f.FromViolation(v); d != nil {
			out = append(out, d)
		}
	}
	return out
}

func withReason(msg, reason string) string {
	if reason == "" {
		return msg
	}
	return msg + " (" + reason + ")"
}

func counterexample(v *violation.Violation) string {
	assignments := v.SortedAssignments()
	if len(assignments) == 0 {
		return "a counterexample exists"
	}
	return "counterexample " + strings.Join(assignments, ", ")
}
