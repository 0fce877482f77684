package ownership

import (
	"io"
	"log/slog"

	capserr "github.com/orizon-lang/capsafe/internal/errors"
	"github.com/orizon-lang/capsafe/internal/position"
	"github.com/orizon-lang/capsafe/internal/violation"
)

// Tracker is the ownership state of one function body. The zero value is
// not usable; call NewTracker.
//
// Every operation returns a violation for a finding about the analyzed
// program and an error for a caller contract breach (an undefined name, an
// unbalanced scope). A violation never changes state.
type Tracker struct {
	scopes []map[string]*binding
	logger *slog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger used for debug traces of violations.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewTracker returns a tracker with one open scope.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		scopes: []map[string]*binding{make(map[string]*binding)},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// EnterScope opens a nested lexical scope.
func (t *Tracker) EnterScope() {
	t.scopes = append(t.scopes, make(map[string]*binding))
}

// ExitScope closes the innermost scope. Bindings that were never moved are
// not an error here; ownership only forbids use after move.
func (t *Tracker) ExitScope() error {
	if len(t.scopes) <= 1 {
		return capserr.ScopeUnderflow("ownership")
	}
	t.scopes = t.scopes[:len(t.scopes)-1]
	return nil
}

// Depth returns the number of open scopes, the root included.
func (t *Tracker) Depth() int {
	return len(t.scopes)
}

// Define creates name in state Owned in the innermost scope. Shadowing a
// binding of an enclosing scope is allowed.
func (t *Tracker) Define(name string, span position.Span) error {
	scope := t.scopes[len(t.scopes)-1]
	if _, exists := scope[name]; exists {
		return capserr.DuplicateBinding(name)
	}
	scope[name] = &binding{
		name:      name,
		definedAt: span,
		record:    record{state: Owned},
		history:   []Event{{Kind: EventDefine, Span: span}},
	}
	return nil
}

func (t *Tracker) lookup(name string) (*binding, error) {
	for i := len(t.scopes) - 1; i >= 0; i-- {
		if b, ok := t.scopes[i][name]; ok {
			return b, nil
		}
	}
	return nil, capserr.UnknownBinding(name)
}

// Read checks that name is still usable. A moved binding yields
// UseAfterMove carrying the move site.
func (t *Tracker) Read(name string, span position.Span) (*violation.Violation, error) {
	b, err := t.lookup(name)
	if err != nil {
		return nil, err
	}

	if !b.state.Usable() {
		v := violation.New(violation.UseAfterMove, name, span, b.movedAt)
		if b.state == Unknown {
			v.Reason = "may have been moved on another path"
		}
		return t.report(v), nil
	}

	b.history = append(b.history, Event{Kind: EventRead, Span: span})
	return nil, nil
}

// Move transfers ownership out of name. Moving twice yields DoubleMove
// against the first move; moving while a borrow is outstanding is rejected
// as BorrowAfterMove with the borrow as conflict.
func (t *Tracker) Move(name string, span position.Span) (*violation.Violation, error) {
	b, err := t.lookup(name)
	if err != nil {
		return nil, err
	}

	switch b.state {
	case Moved, Unknown:
		v := violation.New(violation.DoubleMove, name, span, b.movedAt)
		if b.state == Unknown {
			v.Reason = "may have been moved on another path"
		}
		return t.report(v), nil
	case BorrowedImmut, BorrowedMut:
		v := violation.New(violation.BorrowAfterMove, name, span, b.latestBorrow())
		v.Reason = "moved while borrowed"
		return t.report(v), nil
	}

	b.state = Moved
	b.movedAt = span
	b.history = append(b.history, Event{Kind: EventMove, Span: span})
	return nil, nil
}

// Borrow takes a shared or mutable borrow of name. Shared borrows stack; a
// mutable borrow excludes every other borrow.
func (t *Tracker) Borrow(name string, span position.Span, mutable bool) (*violation.Violation, error) {
	b, err := t.lookup(name)
	if err != nil {
		return nil, err
	}

	switch {
	case b.state == Moved || b.state == Unknown:
		v := violation.New(violation.BorrowAfterMove, name, span, b.movedAt)
		if b.state == Unknown {
			v.Reason = "may have been moved on another path"
		}
		return t.report(v), nil
	case b.hasMut:
		v := violation.New(violation.BorrowExclusivity, name, span, b.mutAt)
		v.Reason = "already borrowed mutably"
		return t.report(v), nil
	case mutable && len(b.shared) > 0:
		v := violation.New(violation.BorrowExclusivity, name, span, b.shared[0])
		v.Reason = "already borrowed"
		return t.report(v), nil
	}

	kind := EventBorrow
	if mutable {
		b.hasMut = true
		b.mutAt = span
		kind = EventBorrowMut
	} else {
		b.shared = append(b.shared, span)
	}
	b.derive()
	b.history = append(b.history, Event{Kind: kind, Span: span})
	return nil, nil
}

// ReleaseBorrow ends the most recent outstanding borrow of name. The state
// returns to Owned only when no borrow remains.
func (t *Tracker) ReleaseBorrow(name string, span position.Span) error {
	b, err := t.lookup(name)
	if err != nil {
		return err
	}

	switch {
	case b.hasMut:
		b.hasMut = false
		b.mutAt = position.Span{}
	case len(b.shared) > 0:
		b.shared = b.shared[:len(b.shared)-1]
	default:
		return capserr.NoActiveBorrow(name)
	}

	b.derive()
	b.history = append(b.history, Event{Kind: EventRelease, Span: span})
	return nil
}

// State returns the current state of the visible binding name.
func (t *Tracker) State(name string) (State, error) {
	b, err := t.lookup(name)
	if err != nil {
		return Unknown, err
	}
	return b.state, nil
}

// Borrows returns the number of outstanding shared and mutable borrows.
func (t *Tracker) Borrows(name string) (shared, mutable int, err error) {
	b, err := t.lookup(name)
	if err != nil {
		return 0, 0, err
	}
	if b.hasMut {
		mutable = 1
	}
	return len(b.shared), mutable, nil
}

// History returns the successful events of the visible binding name.
func (t *Tracker) History(name string) ([]Event, error) {
	b, err := t.lookup(name)
	if err != nil {
		return nil, err
	}
	return append([]Event(nil), b.history...), nil
}

// DefinedAt returns the definition span of the visible binding name.
func (t *Tracker) DefinedAt(name string) (position.Span, error) {
	b, err := t.lookup(name)
	if err != nil {
		return position.Span{}, err
	}
	return b.definedAt, nil
}

func (t *Tracker) report(v *violation.Violation) *violation.Violation {
	t.logger.Debug("ownership violation",
		"kind", v.Kind.String(),
		"binding", v.Binding,
		"span", v.Span.String(),
	)
	return v
}
