package ownership

import (
	"slices"

	"github.com/orizon-lang/capsafe/internal/position"
)

// Snapshot is the ownership state of every visible binding at one point of
// the walk. It is used to run the arms of a branch from the same state.
type Snapshot struct {
	records map[*binding]record
}

// Snapshot captures the state of all bindings in the active scope chain.
func (t *Tracker) Snapshot() Snapshot {
	s := Snapshot{records: make(map[*binding]record)}
	for _, scope := range t.scopes {
		for _, b := range scope {
			s.records[b] = b.record.clone()
		}
	}
	return s
}

// Restore resets every binding captured in s to its captured state.
// Bindings defined after s was taken are left alone.
func (t *Tracker) Restore(s Snapshot) {
	for b, r := range s.records {
		b.record = r.clone()
	}
}

// Merge joins the end states of the arms of a branch. Arms that agree on
// whether a binding was moved keep a usable or moved state, with the union
// of the outstanding borrows. A binding moved on some arms only becomes
// Unknown, keeping the first move site seen for later reports.
func (t *Tracker) Merge(span position.Span, arms ...Snapshot) {
	if len(arms) == 0 {
		return
	}

	for b, first := range arms[0].records {
		merged := first.clone()
		agree := true
		for _, arm := range arms[1:] {
			r, ok := arm.records[b]
			if !ok {
				continue
			}
			if !r.equal(first) {
				agree = false
			}
			merged.join(r)
		}

		if agree {
			b.record = first.clone()
			continue
		}
		b.record = merged
		b.history = append(b.history, Event{Kind: EventMerge, Span: span})
	}
}

// join folds the end state of another arm into r.
func (r *record) join(other record) {
	if r.movedAt.IsZero() {
		r.movedAt = other.movedAt
	}

	switch {
	case r.state == Unknown || other.state == Unknown || (r.state == Moved) != (other.state == Moved):
		r.state = Unknown
		r.shared = nil
		r.hasMut = false
		r.mutAt = position.Span{}
		return
	case r.state == Moved:
		return
	}

	for _, span := range other.shared {
		if !slices.Contains(r.shared, span) {
			r.shared = append(r.shared, span)
		}
	}
	if other.hasMut && !r.hasMut {
		r.hasMut = true
		r.mutAt = other.mutAt
	}
	r.derive()
}
