package smt

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Status is the outcome of a satisfiability check.
type Status int

const (
	Unknown Status = iota
	Sat
	Unsat
)

func (s Status) String() string {
	switch s {
	case Sat:
		return "sat"
	case Unsat:
		return "unsat"
	default:
		return "unknown"
	}
}

// Model is a satisfying assignment of the integer symbols, and of the
// uninterpreted applications that occurred in the check.
type Model struct {
	Values map[string]string
}

// Names returns the assigned names in sorted order.
func (m Model) Names() []string {
	names := make([]string, 0, len(m.Values))
	for name := range m.Values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// String renders the model as SMT-LIB2 define-fun entries, one per line.
func (m Model) String() string {
	var b strings.Builder
	for _, name := range m.Names() {
		if strings.HasPrefix(name, "(") {
			fmt.Fprintf(&b, "; %s = %s\n", name, m.Values[name])
			continue
		}
		fmt.Fprintf(&b, "(define-fun %s () Int %s)\n", name, m.Values[name])
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Result is what a Check returns. Model is set for Sat, Core for Unsat,
// Reason for Unknown.
type Result struct {
	Status Status
	Model  Model
	Core   []string
	Reason string
}

// Session is a warm solver session owned by one verification pass.
//
// Declarations and named assertions live at the base level for the rest of
// the session. Check asserts goal in a temporary level that is discarded
// before it returns, so goals never leak into later checks.
type Session interface {
	DeclareConst(name string) error
	DeclareFunc(name string, arity int) error
	Assert(name string, f Formula) error
	Check(ctx context.Context, goal Formula) (Result, error)
	Close() error
}

// Config is shared by the session implementations.
type Config struct {
	// Timeout bounds a single Check. Zero means no limit.
	Timeout time.Duration
}
