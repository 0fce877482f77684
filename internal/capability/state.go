// Package capability tracks the lifecycle of capability bindings across one
// compilation unit: Fresh, InUse, Consumed, plus a monotonic shared flag.
//
// Scope frames detect leaks when a block ends with an unconsumed capability.
// Every access carries the thread tag of the region it lexically belongs to,
// and sync markers split the access history into windows; two accesses from
// different threads in the same window conflict unless the binding is shared.
package capability

import (
	"slices"

	"github.com/orizon-lang/capsafe/internal/position"
	"github.com/orizon-lang/capsafe/internal/typeclass"
	"github.com/orizon-lang/capsafe/internal/violation"
)

// State is the lifecycle state of a capability binding.
type State int

const (
	Fresh State = iota
	InUse
	Consumed
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case InUse:
		return "in-use"
	case Consumed:
		return "consumed"
	default:
		return "invalid"
	}
}

// AccessKind labels an AccessRecord.
type AccessKind int

const (
	AccessUse AccessKind = iota
	AccessMove
	AccessBorrow
	AccessConsume
	AccessShare
	AccessSync
)

func (k AccessKind) String() string {
	switch k {
	case AccessUse:
		return "use"
	case AccessMove:
		return "move"
	case AccessBorrow:
		return "borrow"
	case AccessConsume:
		return "consume"
	case AccessShare:
		return "share"
	case AccessSync:
		return "sync"
	default:
		return "unknown"
	}
}

// conflicting reports whether accesses of kind k take part in the
// concurrent-use check.
func (k AccessKind) conflicting() bool {
	return k == AccessUse || k == AccessConsume
}

// ArmRef names one arm of one branch. Branch numbers are unique within a
// context; arms count from zero.
type ArmRef struct {
	Branch int
	Arm    int
}

// AccessRecord is one entry of a binding's history. Seq is the evaluation
// order of the analyzed program within the compilation unit. Path lists the
// branch arms enclosing the access, outermost first.
type AccessRecord struct {
	Seq    int
	Thread violation.ThreadTag
	Span   position.Span
	Kind   AccessKind
	Path   []ArmRef
}

// exclusive reports whether paths a and b take different arms of the same
// branch, so that no execution reaches both.
func exclusive(a, b []ArmRef) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i].Branch != b[i].Branch {
			return false
		}
		if a[i].Arm != b[i].Arm {
			return true
		}
	}
	return false
}

// onPath reports whether every arm of p is taken by one of paths, so that
// an event at p happens on every execution reaching all of them.
func onPath(p []ArmRef, paths ...[]ArmRef) bool {
	for _, ref := range p {
		taken := false
		for _, q := range paths {
			if slices.Contains(q, ref) {
				taken = true
				break
			}
		}
		if !taken {
			return false
		}
	}
	return true
}

type binding struct {
	name       string
	kind       typeclass.CapabilityKind
	definedAt  position.Span
	thread     violation.ThreadTag
	frame      *frame
	state      State
	shared     bool
	consumedAt position.Span
	// mayConsumedAt is set while the binding is consumed on some but not
	// all of the paths reaching the current point.
	mayConsumedAt position.Span
	history       []AccessRecord
}

// frame is one lexical block. Bindings stay reachable from the context after
// their frame is popped so that ValidateAll can still scan them.
type frame struct {
	openedAt position.Span
	names    map[string]*binding
	order    []*binding
	closed   bool
}
