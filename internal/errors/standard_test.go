package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestStandardErrorWrapsSentinel(t *testing.T) {
	tests := []struct {
		name     string
		err      *StandardError
		sentinel error
		code     string
	}{
		{"unknown binding", UnknownBinding("s"), ErrUnknownBinding, "UNKNOWN_BINDING"},
		{"duplicate binding", DuplicateBinding("s"), ErrDuplicateBinding, "DUPLICATE_BINDING"},
		{"no borrow", NoActiveBorrow("x"), ErrNoActiveBorrow, "NO_ACTIVE_BORROW"},
		{"underflow", ScopeUnderflow("capability"), ErrScopeUnderflow, "SCOPE_UNDERFLOW"},
		{"subject", UnsupportedSubject("a + b"), ErrUnsupportedSubject, "UNSUPPORTED_SUBJECT"},
		{"symbol", UnknownSymbol("h0"), ErrUnknownSymbol, "UNKNOWN_SYMBOL"},
		{"solver", SolverUnavailable("z3 not found", nil), ErrSolverUnavailable, "SOLVER_UNAVAILABLE"},
		{"duplicate decl", DuplicateDecl("Socket"), ErrDuplicateDecl, "DUPLICATE_DECL"},
		{"invalid decl", InvalidDecl("Socket", "empty name"), ErrInvalidDecl, "INVALID_DECL"},
		{"finished", UnitFinished("main.oz"), ErrUnitFinished, "UNIT_FINISHED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false", tt.err, tt.sentinel)
			}
			if tt.err.Code != tt.code {
				t.Errorf("Code = %s, want %s", tt.err.Code, tt.code)
			}
			wrapped := fmt.Errorf("checker: %w", tt.err)
			if !errors.Is(wrapped, tt.sentinel) {
				t.Errorf("sentinel lost through wrapping")
			}
		})
	}
}

func TestStandardErrorCaller(t *testing.T) {
	err := UnknownBinding("s")
	if !strings.Contains(err.Caller, "TestStandardErrorCaller") {
		t.Errorf("Caller = %q, want the calling test", err.Caller)
	}
	if !strings.HasPrefix(err.Error(), "[CONTRACT:UNKNOWN_BINDING]") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestNewStandardError(t *testing.T) {
	err := NewStandardError(CategoryValidation, "BAD_INPUT", "bad input", nil)
	if err.Err != nil {
		t.Errorf("plain standard error should not wrap a sentinel")
	}
	if !strings.Contains(err.Caller, "TestNewStandardError") {
		t.Errorf("Caller = %q", err.Caller)
	}
}
