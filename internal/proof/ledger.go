// Package proof records the obligations the discharger proved and
// summarizes them per declaration.
package proof

import (
	"slices"
	"sort"

	"github.com/google/uuid"

	"github.com/orizon-lang/capsafe/internal/position"
)

// Note is one discharged obligation worth recording.
type Note struct {
	Plugin  string
	Kind    string
	Span    position.Span
	Message string

	// SMTGoal is the refutation goal, as SMT-LIB2 text, that was shown
	// unsatisfiable.
	SMTGoal   string
	UnsatCore []string

	// DerivedLemma is the conjunction of the core facts, when there is a core.
	DerivedLemma string
}

// Ledger is the ordered list of proof notes of one verification run.
type Ledger struct {
	RunID string
	Unit  string
	notes []Note
}

// NewLedger creates an empty ledger with a fresh run id.
func NewLedger(unit string) *Ledger {
	return &Ledger{RunID: uuid.NewString(), Unit: unit}
}

// Append records n at the end of the ledger.
func (l *Ledger) Append(n Note) {
	n.UnsatCore = slices.Clone(n.UnsatCore)
	l.notes = append(l.notes, n)
}

// Notes returns the notes in the order they were appended.
func (l *Ledger) Notes() []Note {
	return slices.Clone(l.notes)
}

// Len returns the number of notes.
func (l *Ledger) Len() int {
	return len(l.notes)
}

// Counts maps a kind or plugin name to a number of notes.
type Counts map[string]int

// Keys returns the keys in sorted order.
func (c Counts) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Decl is a declaration whose span range groups notes.
type Decl struct {
	Name string
	Span position.Span
}

// DeclSummary counts the notes attributed to one declaration.
type DeclSummary struct {
	Name     string
	Span     position.Span
	Total    int
	ByKind   Counts
	ByPlugin Counts
}

func newDeclSummary(name string, span position.Span) *DeclSummary {
	return &DeclSummary{Name: name, Span: span, ByKind: Counts{}, ByPlugin: Counts{}}
}

func (s *DeclSummary) add(n Note) {
	s.Total++
	s.ByKind[n.Kind]++
	s.ByPlugin[n.Plugin]++
}

// Summary is the per-declaration view of a ledger.
type Summary struct {
	Decls []DeclSummary
	// Unattributed holds notes outside every declaration span.
	Unattributed DeclSummary
	Total        int
	ByKind       Counts
	ByPlugin     Counts
}

// Summarize attributes every note to the innermost declaration whose span
// contains the note's span. Declarations are reported in the order given.
func (l *Ledger) Summarize(decls []Decl) Summary {
	per := make([]*DeclSummary, len(decls))
	for i, d := range decls {
		per[i] = newDeclSummary(d.Name, d.Span)
	}
	rest := newDeclSummary("", position.Span{})
	total := newDeclSummary("", position.Span{})

	for _, n := range l.notes {
		total.add(n)

		best := -1
		for i, d := range decls {
			if !d.Span.ContainsSpan(n.Span) {
				continue
			}
			if best < 0 || decls[best].Span.ContainsSpan(d.Span) {
				best = i
			}
		}
		if best < 0 {
			rest.add(n)
		} else {
			per[best].add(n)
		}
	}

	out := Summary{
		Decls:        make([]DeclSummary, len(per)),
		Unattributed: *rest,
		Total:        total.Total,
		ByKind:       total.ByKind,
		ByPlugin:     total.ByPlugin,
	}
	for i, s := range per {
		out.Decls[i] = *s
	}
	return out
}
