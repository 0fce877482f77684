// Package ownership tracks move and borrow discipline for the bindings of
// one function body.
//
// The tracker is independent of capability state and of the solver: a
// binding may be registered here and in the capability context at the same
// time, and the two never consult each other.
package ownership

import (
	"github.com/orizon-lang/capsafe/internal/position"
)

// State is the ownership state of a binding.
type State int

const (
	Owned State = iota
	BorrowedImmut
	BorrowedMut
	Moved
	// Unknown is entered when control-flow arms disagree on whether the
	// binding was moved. It is absorbing and not usable.
	Unknown
)

func (s State) String() string {
	switch s {
	case Owned:
		return "owned"
	case BorrowedImmut:
		return "borrowed"
	case BorrowedMut:
		return "borrowed mutably"
	case Moved:
		return "moved"
	case Unknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Usable reports whether a binding in state s may be read.
func (s State) Usable() bool {
	return s == Owned || s == BorrowedImmut || s == BorrowedMut
}

// EventKind labels an entry in a binding's history.
type EventKind int

const (
	EventDefine EventKind = iota
	EventRead
	EventMove
	EventBorrow
	EventBorrowMut
	EventRelease
	EventMerge
)

func (k EventKind) String() string {
	switch k {
	case EventDefine:
		return "define"
	case EventRead:
		return "read"
	case EventMove:
		return "move"
	case EventBorrow:
		return "borrow"
	case EventBorrowMut:
		return "borrow mut"
	case EventRelease:
		return "release"
	case EventMerge:
		return "merge"
	default:
		return "unknown"
	}
}

// Event is one successful access in source evaluation order.
type Event struct {
	Kind EventKind
	Span position.Span
}

// record is the mutable part of a binding, copied by Snapshot.
type record struct {
	state   State
	movedAt position.Span
	shared  []position.Span // outstanding immutable borrows, oldest first
	mutAt   position.Span   // outstanding mutable borrow
	hasMut  bool
}

func (r record) equal(other record) bool {
	if r.state != other.state || r.hasMut != other.hasMut || len(r.shared) != len(other.shared) {
		return false
	}
	if r.state == Moved && r.movedAt != other.movedAt {
		return false
	}
	return true
}

func (r record) clone() record {
	c := r
	c.shared = append([]position.Span(nil), r.shared...)
	return c
}

// derive recomputes state from the outstanding borrows.
func (r *record) derive() {
	switch {
	case r.state == Moved || r.state == Unknown:
	case r.hasMut:
		r.state = BorrowedMut
	case len(r.shared) > 0:
		r.state = BorrowedImmut
	default:
		r.state = Owned
	}
}

// latestBorrow returns the span of the borrow a move or release conflicts with.
func (r *record) latestBorrow() position.Span {
	if r.hasMut {
		return r.mutAt
	}
	if n := len(r.shared); n > 0 {
		return r.shared[n-1]
	}
	return position.Span{}
}

type binding struct {
	name      string
	definedAt position.Span
	record
	history []Event
}
