// Package violation defines the findings reported against analyzed programs.
//
// A Violation is a recoverable result: the trackers return it and keep going.
// It implements error so it can be logged and matched with errors.As, but it
// is returned apart from contract errors and never wrapped into one.
package violation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/orizon-lang/capsafe/internal/position"
)

// Kind enumerates the violation variants.
type Kind int

const (
	UseAfterMove Kind = iota + 1
	DoubleMove
	BorrowAfterMove
	BorrowExclusivity
	UseAfterConsumption
	ResourceLeak
	ConcurrentUseWithoutSync
	ProofRefuted
	SolverTimeout
)

var kindNames = map[Kind]string{
	UseAfterMove:             "UseAfterMove",
	DoubleMove:               "DoubleMove",
	BorrowAfterMove:          "BorrowAfterMove",
	BorrowExclusivity:        "BorrowExclusivity",
	UseAfterConsumption:      "UseAfterConsumption",
	ResourceLeak:             "ResourceLeak",
	ConcurrentUseWithoutSync: "ConcurrentUseWithoutSync",
	ProofRefuted:             "ProofRefuted",
	SolverTimeout:            "SolverTimeout",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// IsLifecycle reports whether k comes from the ownership or capability trackers.
func (k Kind) IsLifecycle() bool {
	return k >= UseAfterMove && k <= ConcurrentUseWithoutSync
}

// IsProof reports whether k comes from the discharger.
func (k Kind) IsProof() bool {
	return k == ProofRefuted || k == SolverTimeout
}

// ParseKind is the inverse of Kind.String.
func ParseKind(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return k, true
		}
	}
	return 0, false
}

// ThreadTag names the concurrency region of an access in the analyzed program.
type ThreadTag string

// MainThread is the region of code outside any parallel or async block.
const MainThread ThreadTag = "main"

// Violation is a single finding. Binding is empty for proof violations
// whose subject is a literal.
type Violation struct {
	Kind    Kind
	Binding string
	Span    position.Span

	// Conflict is the prior event: the move site, the consuming access, the
	// outstanding borrow, the other thread's access, or the definition of a
	// leaked binding.
	Conflict *position.Span

	// Threads is set for ConcurrentUseWithoutSync: the tag of Conflict first,
	// then the tag of Span.
	Threads [2]ThreadTag

	Reason string

	// Proof violations only.
	Obligation  string
	Model       string
	Assignments map[string]string
}

// Error implements the error interface.
func (v *Violation) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", v.Span, v.Kind)
	if v.Binding != "" {
		fmt.Fprintf(&b, " of %q", v.Binding)
	}
	if v.Reason != "" {
		fmt.Fprintf(&b, " (%s)", v.Reason)
	}
	if v.Conflict != nil {
		fmt.Fprintf(&b, ", see %s", v.Conflict)
	}
	return b.String()
}

// Key identifies a violation for deduplication: the same finding reached
// through two paths (eager and sweep scanning) compares equal.
func (v *Violation) Key() string {
	conflict := ""
	if v.Conflict != nil {
		conflict = v.Conflict.String()
	}
	return fmt.Sprintf("%d|%s|%s|%s|%s|%s|%s", v.Kind, v.Binding, v.Span, conflict, v.Threads[0], v.Threads[1], v.Obligation)
}

// SortedAssignments returns the model assignments ordered by symbol name.
func (v *Violation) SortedAssignments() []string {
	names := make([]string, 0, len(v.Assignments))
	for name := range v.Assignments {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, name+" = "+v.Assignments[name])
	}
	return out
}

// New returns a violation with a conflicting span.
func New(kind Kind, binding string, span position.Span, conflict position.Span) *Violation {
	v := &Violation{Kind: kind, Binding: binding, Span: span}
	if conflict.IsValid() {
		v.Conflict = &conflict
	}
	return v
}

// Sort orders violations by span, then kind.
func Sort(vs []*Violation) {
	sort.SliceStable(vs, func(i, j int) bool {
		if c := vs[i].Span.Start.Compare(vs[j].Span.Start); c != 0 {
			return c < 0
		}
		return vs[i].Kind < vs[j].Kind
	})
}
