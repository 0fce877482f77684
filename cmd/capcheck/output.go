package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/orizon-lang/capsafe/internal/diagnostic"
	"github.com/orizon-lang/capsafe/internal/position"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Every unit accepted
	ExitFailure      = 1 // At least one unit rejected
	ExitCommandError = 2 // Bad flags, unreadable traces, contract errors
)

// ExitError carries the process exit code of a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// exitCode extracts the exit code from err. Errors that are not an
// ExitError are command errors.
func exitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCommandError
}

// outcome is one verified trace with its diagnostics filtered through the
// configured engine.
type outcome struct {
	result
	engine   *diagnostic.Engine
	accepted bool
}

func evaluate(results []result, config diagnostic.Config) []outcome {
	out := make([]outcome, len(results))
	for i, r := range results {
		out[i] = outcome{result: r}
		if r.Err != nil {
			continue
		}

		cfg := config
		if src := r.Script.Source; src != "" {
			sm := position.NewSourceMap()
			sm.AddFile(r.Script.Unit, src)
			cfg.Highlighter = position.NewSpanHighlighter(sm, 0)
		}

		engine := diagnostic.NewEngine(cfg)
		for _, d := range r.Report.Diagnostics {
			c := *d
			engine.Add(&c)
		}
		engine.Sort()
		out[i].engine = engine
		out[i].accepted = !engine.HasErrors()
	}
	return out
}

// tally counts accepted, rejected and failed outcomes.
func tally(outcomes []outcome) (accepted, rejected, failed int) {
	for _, o := range outcomes {
		switch {
		case o.Err != nil:
			failed++
		case o.accepted:
			accepted++
		default:
			rejected++
		}
	}
	return accepted, rejected, failed
}

func verdictError(outcomes []outcome) error {
	_, rejected, failed := tally(outcomes)
	switch {
	case failed > 0:
		return &ExitError{Code: ExitCommandError, Message: fmt.Sprintf("%d unit(s) could not be checked", failed)}
	case rejected > 0:
		return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("%d unit(s) rejected", rejected)}
	}
	return nil
}

func writeText(w io.Writer, outcomes []outcome) error {
	for _, o := range outcomes {
		if o.Err != nil {
			fmt.Fprintf(w, "%s: error: %v\n\n", o.Path, o.Err)
			continue
		}

		verdict := "accepted"
		if !o.accepted {
			verdict = "rejected"
		}
		fmt.Fprintf(w, "%s: %s (%d proved)\n", o.Path, verdict, o.Report.Proofs.Len())
		fmt.Fprintf(w, "%s\n", o.engine.Format())
	}

	accepted, rejected, failed := tally(outcomes)
	_, err := fmt.Fprintf(w, "verified %d unit(s): %d accepted, %d rejected, %d failed\n",
		len(outcomes), accepted, rejected, failed)
	return err
}

type jsonRelated struct {
	Span    string `json:"span"`
	Message string `json:"message"`
}

type jsonDiagnostic struct {
	Code       string        `json:"code"`
	Level      string        `json:"level"`
	Category   string        `json:"category"`
	Title      string        `json:"title"`
	Message    string        `json:"message"`
	Binding    string        `json:"binding,omitempty"`
	Span       string        `json:"span,omitempty"`
	Suggestion string        `json:"suggestion,omitempty"`
	Related    []jsonRelated `json:"related,omitempty"`
}

type jsonUnit struct {
	Path        string           `json:"path"`
	Unit        string           `json:"unit,omitempty"`
	RunID       string           `json:"run_id,omitempty"`
	Accepted    bool             `json:"accepted"`
	Proved      int              `json:"proved"`
	Error       string           `json:"error,omitempty"`
	Diagnostics []jsonDiagnostic `json:"diagnostics"`
}

// jsonResponse mirrors the text output for tooling.
type jsonResponse struct {
	Status   string     `json:"status"` // "ok", "rejected" or "error"
	Units    []jsonUnit `json:"units"`
	Accepted int        `json:"accepted"`
	Rejected int        `json:"rejected"`
	Failed   int        `json:"failed"`
}

func spanText(s position.Span) string {
	if !s.IsValid() {
		return ""
	}
	return s.String()
}

func writeJSON(w io.Writer, outcomes []outcome) error {
	resp := jsonResponse{Units: make([]jsonUnit, 0, len(outcomes))}
	resp.Accepted, resp.Rejected, resp.Failed = tally(outcomes)
	switch {
	case resp.Failed > 0:
		resp.Status = "error"
	case resp.Rejected > 0:
		resp.Status = "rejected"
	default:
		resp.Status = "ok"
	}

	for _, o := range outcomes {
		u := jsonUnit{Path: o.Path, Diagnostics: []jsonDiagnostic{}}
		if o.Err != nil {
			u.Error = o.Err.Error()
			resp.Units = append(resp.Units, u)
			continue
		}

		u.Unit = o.Report.Unit
		u.RunID = o.Report.RunID
		u.Accepted = o.accepted
		u.Proved = o.Report.Proofs.Len()
		for _, d := range o.engine.Diagnostics() {
			jd := jsonDiagnostic{
				Code:       d.Code,
				Level:      d.Level.String(),
				Category:   d.Category.String(),
				Title:      d.Title,
				Message:    d.Message,
				Binding:    d.Binding,
				Span:       spanText(d.Span),
				Suggestion: d.Suggestion,
			}
			for _, rel := range d.Related {
				jd.Related = append(jd.Related, jsonRelated{Span: spanText(rel.Span), Message: rel.Message})
			}
			u.Diagnostics = append(u.Diagnostics, jd)
		}
		resp.Units = append(resp.Units, u)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
