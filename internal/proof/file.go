package proof

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/orizon-lang/capsafe/internal/position"
)

// SchemaVersion is written into every saved ledger.
const SchemaVersion = "1.0.0"

// compatibleSchemas is the range Load accepts.
const compatibleSchemas = "^1"

type noteFile struct {
	Plugin       string   `json:"plugin"`
	Kind         string   `json:"kind"`
	File         string   `json:"file"`
	Span         string   `json:"span"`
	Message      string   `json:"message"`
	SMTGoal      string   `json:"smt_goal"`
	UnsatCore    []string `json:"unsat_core,omitempty"`
	DerivedLemma string   `json:"derived_lemma,omitempty"`
}

type ledgerFile struct {
	SchemaVersion string     `json:"schema_version"`
	RunID         string     `json:"run_id"`
	Unit          string     `json:"unit"`
	Notes         []noteFile `json:"notes"`
}

// compactSpan renders span in the notation ParseSpan reads back.
func compactSpan(s position.Span) string {
	if s.Start.Line == s.End.Line {
		return fmt.Sprintf("%d:%d-%d", s.Start.Line, s.Start.Column, s.End.Column)
	}
	return fmt.Sprintf("%d:%d-%d:%d", s.Start.Line, s.Start.Column, s.End.Line, s.End.Column)
}

// Save writes the ledger as indented JSON.
func (l *Ledger) Save(w io.Writer) error {
	out := ledgerFile{
		SchemaVersion: SchemaVersion,
		RunID:         l.RunID,
		Unit:          l.Unit,
		Notes:         make([]noteFile, 0, len(l.notes)),
	}
	for _, n := range l.notes {
		out.Notes = append(out.Notes, noteFile{
			Plugin:       n.Plugin,
			Kind:         n.Kind,
			File:         n.Span.Start.Filename,
			Span:         compactSpan(n.Span),
			Message:      n.Message,
			SMTGoal:      n.SMTGoal,
			UnsatCore:    n.UnsatCore,
			DerivedLemma: n.DerivedLemma,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// Load reads a ledger written by Save. Ledgers from an incompatible schema
// major version are rejected.
func Load(r io.Reader) (*Ledger, error) {
	var in ledgerFile
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return nil, fmt.Errorf("decode ledger: %w", err)
	}

	version, err := semver.NewVersion(in.SchemaVersion)
	if err != nil {
		return nil, fmt.Errorf("ledger schema version %q: %w", in.SchemaVersion, err)
	}
	constraint, err := semver.NewConstraint(compatibleSchemas)
	if err != nil {
		return nil, err
	}
	if !constraint.Check(version) {
		return nil, fmt.Errorf("ledger schema version %s is not %s", version, compatibleSchemas)
	}

	l := &Ledger{RunID: in.RunID, Unit: in.Unit}
	for i, n := range in.Notes {
		span, err := position.ParseSpan(n.File, n.Span)
		if err != nil {
			return nil, fmt.Errorf("note %d: %w", i, err)
		}
		l.notes = append(l.notes, Note{
			Plugin:       n.Plugin,
			Kind:         n.Kind,
			Span:         span,
			Message:      n.Message,
			SMTGoal:      n.SMTGoal,
			UnsatCore:    n.UnsatCore,
			DerivedLemma: n.DerivedLemma,
		})
	}
	return l, nil
}

// Lemma joins core facts into one SMT-LIB2 conjunction. It returns "" for
// an empty core.
func Lemma(facts []string) string {
	switch len(facts) {
	case 0:
		return ""
	case 1:
		return facts[0]
	}
	return "(and " + strings.Join(facts, " ") + ")"
}
