package capability

import (
	"github.com/orizon-lang/capsafe/internal/position"
)

type lifecycle struct {
	state         State
	shared        bool
	consumedAt    position.Span
	mayConsumedAt position.Span
}

// Snapshot is the lifecycle state of every visible binding at one point of
// the walk. Access histories are not captured; they only grow.
type Snapshot struct {
	states map[*binding]lifecycle
}

// Snapshot captures the lifecycle of all bindings in the open frames.
func (c *Context) Snapshot() Snapshot {
	s := Snapshot{states: make(map[*binding]lifecycle)}
	for _, f := range c.frames {
		for _, b := range f.order {
			s.states[b] = lifecycle{
				state:         b.state,
				shared:        b.shared,
				consumedAt:    b.consumedAt,
				mayConsumedAt: b.mayConsumedAt,
			}
		}
	}
	return s
}

// Restore resets the bindings captured in s. The shared flag never goes
// back to false.
func (c *Context) Restore(s Snapshot) {
	for b, l := range s.states {
		b.state = l.state
		b.consumedAt = l.consumedAt
		b.mayConsumedAt = l.mayConsumedAt
		b.shared = b.shared || l.shared
	}
}

// Merge joins the end states of the arms of a branch. A binding consumed on
// every arm stays Consumed. One consumed on only some arms is InUse and
// remembers the consuming site: a missing consume on the other arms is
// still reported as a leak, and a later access is a use after consumption.
// Shared is the union over the arms.
func (c *Context) Merge(arms ...Snapshot) {
	if len(arms) == 0 {
		return
	}

	for b, first := range arms[0].states {
		merged := first
		allConsumed := first.state == Consumed
		anyLive := first.state != Fresh
		for _, arm := range arms[1:] {
			l, ok := arm.states[b]
			if !ok {
				continue
			}
			merged.shared = merged.shared || l.shared
			if l.state != Consumed {
				allConsumed = false
			}
			if l.state != Fresh {
				anyLive = true
			}
			if merged.consumedAt.IsZero() {
				merged.consumedAt = l.consumedAt
			}
			if merged.mayConsumedAt.IsZero() {
				merged.mayConsumedAt = l.mayConsumedAt
			}
		}

		switch {
		case allConsumed:
			merged.state = Consumed
			merged.mayConsumedAt = position.Span{}
		case anyLive:
			merged.state = InUse
			if merged.mayConsumedAt.IsZero() {
				merged.mayConsumedAt = merged.consumedAt
			}
			merged.consumedAt = position.Span{}
		default:
			merged.state = Fresh
		}

		b.state = merged.state
		b.consumedAt = merged.consumedAt
		b.mayConsumedAt = merged.mayConsumedAt
		b.shared = b.shared || merged.shared
	}
}
