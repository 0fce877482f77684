package checker

import (
	"github.com/orizon-lang/capsafe/internal/capability"
	"github.com/orizon-lang/capsafe/internal/position"
	"github.com/orizon-lang/capsafe/internal/violation"
)

// Every declared binding is tracked for ownership. Whether an assignment
// moves or copies is decided by the caller, which reports a copy of a
// Copyable value as a read.

// Read records a read of name.
func (u *Unit) Read(name string, span position.Span) (*violation.Violation, error) {
	if err := u.live(); err != nil {
		return nil, err
	}
	e, err := u.lookup(name)
	if err != nil {
		return nil, err
	}

	v, err := e.tracker.Read(name, span)
	return u.collect(v), err
}

// Move records a move out of name.
func (u *Unit) Move(name string, span position.Span) (*violation.Violation, error) {
	if err := u.live(); err != nil {
		return nil, err
	}
	e, err := u.lookup(name)
	if err != nil {
		return nil, err
	}

	v, err := e.tracker.Move(name, span)
	if err != nil || v != nil {
		return u.collect(v), err
	}
	return nil, u.note(e, capability.AccessMove, span)
}

// Borrow records a shared or mutable borrow of name.
func (u *Unit) Borrow(name string, span position.Span, mutable bool) (*violation.Violation, error) {
	if err := u.live(); err != nil {
		return nil, err
	}
	e, err := u.lookup(name)
	if err != nil {
		return nil, err
	}

	v, err := e.tracker.Borrow(name, span, mutable)
	if err != nil || v != nil {
		return u.collect(v), err
	}
	return nil, u.note(e, capability.AccessBorrow, span)
}

// ReleaseBorrow ends the latest outstanding borrow of name.
func (u *Unit) ReleaseBorrow(name string, span position.Span) error {
	if err := u.live(); err != nil {
		return err
	}
	e, err := u.lookup(name)
	if err != nil {
		return err
	}
	return e.tracker.ReleaseBorrow(name, span)
}

// note appends a move or borrow to the capability history of name.
func (u *Unit) note(e *entry, kind capability.AccessKind, span position.Span) error {
	if !e.binding.Mode.HasCapability() {
		return nil
	}
	return u.caps.Note(e.binding.Name, kind, span)
}

type capabilityOp func(c *capability.Context, name string, span position.Span) (*violation.Violation, error)

// capAccess runs op for capability bindings and accepts the access
// silently for any other declared binding.
func (u *Unit) capAccess(name string, span position.Span, op capabilityOp) (*violation.Violation, error) {
	if err := u.live(); err != nil {
		return nil, err
	}
	e, err := u.lookup(name)
	if err != nil {
		return nil, err
	}
	if !e.binding.Mode.HasCapability() {
		return nil, nil
	}

	v, err := op(u.caps, name, span)
	return u.collect(v), err
}

// Use records a live access of the capability name.
func (u *Unit) Use(name string, span position.Span) (*violation.Violation, error) {
	return u.capAccess(name, span, (*capability.Context).Use)
}

// Consume ends the life of the capability name.
func (u *Unit) Consume(name string, span position.Span) (*violation.Violation, error) {
	return u.capAccess(name, span, (*capability.Context).Consume)
}

// Share marks the capability name as shared across threads.
func (u *Unit) Share(name string, span position.Span) (*violation.Violation, error) {
	return u.capAccess(name, span, (*capability.Context).Share)
}
