// Package smt holds the small term language of proof obligations and the
// solver sessions that decide it.
//
// The language has unsigned integer constants, integer symbols, applications
// of uninterpreted integer functions, comparisons and boolean connectives.
// Formulas render to SMT-LIB2 text, which is both what proof notes record
// and what the external solver reads.
package smt

import (
	"strconv"
	"strings"
)

// Term is an integer-valued expression.
type Term interface {
	isTerm()
	String() string
}

// Const is an integer literal.
type Const struct {
	Value uint64
}

// Symbol is a declared integer constant.
type Symbol struct {
	Name string
}

// App applies a declared uninterpreted function.
type App struct {
	Func string
	Args []Term
}

func (Const) isTerm()  {}
func (Symbol) isTerm() {}
func (App) isTerm()    {}

func (c Const) String() string  { return strconv.FormatUint(c.Value, 10) }
func (s Symbol) String() string { return s.Name }

func (a App) String() string {
	if len(a.Args) == 0 {
		return a.Func
	}
	parts := make([]string, 0, len(a.Args)+1)
	parts = append(parts, a.Func)
	for _, arg := range a.Args {
		parts = append(parts, arg.String())
	}
	return "(" + strings.Join(parts, " ") + ")"
}

// Int returns a literal term.
func Int(v uint64) Term { return Const{Value: v} }

// Sym returns a symbol term.
func Sym(name string) Term { return Symbol{Name: name} }

// Apply returns an application term.
func Apply(fn string, args ...Term) Term { return App{Func: fn, Args: args} }

// Formula is a boolean expression over terms.
type Formula interface {
	isFormula()
	String() string
}

// CmpOp is a comparison operator.
type CmpOp int

const (
	OpEq CmpOp = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
)

var cmpNames = [...]string{
	OpEq: "=",
	OpNe: "distinct",
	OpLt: "<",
	OpLe: "<=",
	OpGt: ">",
	OpGe: ">=",
}

// Cmp compares two terms.
type Cmp struct {
	Op   CmpOp
	L, R Term
}

// Junction is a conjunction or disjunction.
type Junction struct {
	Or   bool
	Args []Formula
}

// Negation negates a formula.
type Negation struct {
	F Formula
}

// Truth is a boolean constant.
type Truth bool

func (Cmp) isFormula()      {}
func (Junction) isFormula() {}
func (Negation) isFormula() {}
func (Truth) isFormula()    {}

func (c Cmp) String() string {
	return "(" + cmpNames[c.Op] + " " + c.L.String() + " " + c.R.String() + ")"
}

func (j Junction) String() string {
	switch len(j.Args) {
	case 0:
		return Truth(!j.Or).String()
	case 1:
		return j.Args[0].String()
	}
	op := "and"
	if j.Or {
		op = "or"
	}
	parts := make([]string, 0, len(j.Args)+1)
	parts = append(parts, op)
	for _, f := range j.Args {
		parts = append(parts, f.String())
	}
	return "(" + strings.Join(parts, " ") + ")"
}

func (n Negation) String() string { return "(not " + n.F.String() + ")" }

func (t Truth) String() string {
	if t {
		return "true"
	}
	return "false"
}

func Eq(l, r Term) Formula { return Cmp{Op: OpEq, L: l, R: r} }
func Ne(l, r Term) Formula { return Cmp{Op: OpNe, L: l, R: r} }
func Lt(l, r Term) Formula { return Cmp{Op: OpLt, L: l, R: r} }
func Le(l, r Term) Formula { return Cmp{Op: OpLe, L: l, R: r} }
func Gt(l, r Term) Formula { return Cmp{Op: OpGt, L: l, R: r} }
func Ge(l, r Term) Formula { return Cmp{Op: OpGe, L: l, R: r} }

// And returns the conjunction of fs.
func And(fs ...Formula) Formula { return Junction{Args: fs} }

// Or returns the disjunction of fs.
func Or(fs ...Formula) Formula { return Junction{Or: true, Args: fs} }

// Not returns the negation of f.
func Not(f Formula) Formula { return Negation{F: f} }

// Symbols returns the distinct symbol names of f in first-occurrence order.
func Symbols(f Formula) []string {
	var (
		names []string
		seen  = make(map[string]bool)
	)
	var walkTerm func(Term)
	walkTerm = func(t Term) {
		switch t := t.(type) {
		case Symbol:
			if !seen[t.Name] {
				seen[t.Name] = true
				names = append(names, t.Name)
			}
		case App:
			for _, arg := range t.Args {
				walkTerm(arg)
			}
		}
	}
	var walk func(Formula)
	walk = func(f Formula) {
		switch f := f.(type) {
		case Cmp:
			walkTerm(f.L)
			walkTerm(f.R)
		case Junction:
			for _, g := range f.Args {
				walk(g)
			}
		case Negation:
			walk(f.F)
		}
	}
	walk(f)
	return names
}
