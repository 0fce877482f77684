// Package errors provides standardized error values for capsafe.
//
// Findings about the analyzed program are violations (see package violation).
// The errors defined here report misuse of the checker API itself: looking up a
// binding that was never declared, popping more scopes than were pushed, or
// handing the discharger a subject it cannot encode.
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryContract   ErrorCategory = "CONTRACT"
	CategoryValidation ErrorCategory = "VALIDATION"
	CategorySolver     ErrorCategory = "SOLVER"
	CategorySystem     ErrorCategory = "SYSTEM"
)

// Sentinel errors matched with errors.Is.
var (
	ErrUnknownBinding     = errors.New("unknown binding")
	ErrDuplicateBinding   = errors.New("binding already defined in this scope")
	ErrNoActiveBorrow     = errors.New("no outstanding borrow")
	ErrScopeUnderflow     = errors.New("scope stack underflow")
	ErrUnsupportedSubject = errors.New("unsupported proof subject")
	ErrUnknownSymbol      = errors.New("unknown solver symbol")
	ErrSolverUnavailable  = errors.New("solver unavailable")
	ErrDuplicateDecl      = errors.New("type already declared")
	ErrInvalidDecl        = errors.New("invalid type declaration")
	ErrUnitFinished       = errors.New("compilation unit already finished")
)

// StandardError provides a consistent error format
type StandardError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Context  map[string]any
	Caller   string
	Err      error
}

// Error implements the error interface
func (e *StandardError) Error() string {
	return fmt.Sprintf("[%s:%s] %s (caller: %s)", e.Category, e.Code, e.Message, e.Caller)
}

// Unwrap exposes the sentinel so callers can use errors.Is.
func (e *StandardError) Unwrap() error {
	return e.Err
}

// NewStandardError creates a new standardized error
func NewStandardError(category ErrorCategory, code, message string, context map[string]any) *StandardError {
	return newStandardError(2, category, code, message, context, nil)
}

func newStandardError(skip int, category ErrorCategory, code, message string, context map[string]any, err error) *StandardError {
	pc, _, _, ok := runtime.Caller(skip)
	caller := "unknown"
	if ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			caller = fn.Name()
		}
	}

	return &StandardError{
		Category: category,
		Code:     code,
		Message:  message,
		Context:  context,
		Caller:   caller,
		Err:      err,
	}
}

// Common error constructors

func UnknownBinding(name string) *StandardError {
	return newStandardError(2, CategoryContract, "UNKNOWN_BINDING",
		fmt.Sprintf("binding %q is not defined", name),
		map[string]any{"binding": name}, ErrUnknownBinding)
}

func DuplicateBinding(name string) *StandardError {
	return newStandardError(2, CategoryContract, "DUPLICATE_BINDING",
		fmt.Sprintf("binding %q is already defined in the active scope", name),
		map[string]any{"binding": name}, ErrDuplicateBinding)
}

func NoActiveBorrow(name string) *StandardError {
	return newStandardError(2, CategoryContract, "NO_ACTIVE_BORROW",
		fmt.Sprintf("binding %q has no outstanding borrow to release", name),
		map[string]any{"binding": name}, ErrNoActiveBorrow)
}

func ScopeUnderflow(component string) *StandardError {
	return newStandardError(2, CategoryContract, "SCOPE_UNDERFLOW",
		fmt.Sprintf("%s: exit without matching enter", component),
		map[string]any{"component": component}, ErrScopeUnderflow)
}

func UnsupportedSubject(subject string) *StandardError {
	return newStandardError(2, CategoryValidation, "UNSUPPORTED_SUBJECT",
		fmt.Sprintf("proof subject %q is neither a literal nor a resolved handle", subject),
		map[string]any{"subject": subject}, ErrUnsupportedSubject)
}

func UnknownSymbol(symbol string) *StandardError {
	return newStandardError(2, CategorySolver, "UNKNOWN_SYMBOL",
		fmt.Sprintf("symbol %q was not declared in this session", symbol),
		map[string]any{"symbol": symbol}, ErrUnknownSymbol)
}

func SolverUnavailable(details string, cause error) *StandardError {
	ctx := map[string]any{"details": details}
	if cause != nil {
		ctx["cause"] = cause.Error()
	}
	return newStandardError(2, CategorySystem, "SOLVER_UNAVAILABLE",
		fmt.Sprintf("solver unavailable: %s", details),
		ctx, ErrSolverUnavailable)
}

func DuplicateDecl(name string) *StandardError {
	return newStandardError(2, CategoryContract, "DUPLICATE_DECL",
		fmt.Sprintf("type %q is already registered", name),
		map[string]any{"type": name}, ErrDuplicateDecl)
}

func InvalidDecl(name, details string) *StandardError {
	return newStandardError(2, CategoryValidation, "INVALID_DECL",
		fmt.Sprintf("type %q: %s", name, details),
		map[string]any{"type": name, "details": details}, ErrInvalidDecl)
}

func UnitFinished(unit string) *StandardError {
	return newStandardError(2, CategoryContract, "UNIT_FINISHED",
		fmt.Sprintf("unit %q was already finished", unit),
		map[string]any{"unit": unit}, ErrUnitFinished)
}
