package smt

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-air/gini"
	"github.com/go-air/gini/z"

	capserr "github.com/orizon-lang/capsafe/internal/errors"
)

const width = 64

// bitvec is an unsigned integer as literals, least significant bit first.
type bitvec [width]z.Lit

type appInstance struct {
	key    string
	args   []bitvec
	result bitvec
}

type namedFact struct {
	name string
	act  z.Lit
}

// BitBlaster decides the term language over 64-bit unsigned integers with
// the gini SAT solver. Formulas are translated to CNF through Tseitin gates;
// uninterpreted functions are eliminated with Ackermann constraints. Each
// named assertion is guarded by an activation literal that is assumed on
// every check, so failed assumptions give the unsat core. A check guards its
// goal the same way and retires the guard afterwards.
type BitBlaster struct {
	cfg     Config
	g       *gini.Gini
	nextVar z.Var
	maxVar  z.Var
	truth   z.Lit

	consts    map[string]bitvec
	constList []string
	funcs     map[string]int
	apps      map[string][]*appInstance
	appByKey  map[string]*appInstance
	appList   []*appInstance
	facts     []namedFact
	closed    bool
}

// NewBitBlaster starts an in-process session.
func NewBitBlaster(cfg Config) *BitBlaster {
	b := &BitBlaster{
		cfg:      cfg,
		g:        gini.New(),
		consts:   make(map[string]bitvec),
		funcs:    make(map[string]int),
		apps:     make(map[string][]*appInstance),
		appByKey: make(map[string]*appInstance),
	}
	b.truth = b.fresh()
	b.clause(b.truth)
	return b
}

func (b *BitBlaster) fresh() z.Lit {
	b.nextVar++
	return b.nextVar.Pos()
}

func (b *BitBlaster) falsity() z.Lit {
	return b.truth.Not()
}

func (b *BitBlaster) clause(ms ...z.Lit) {
	for _, m := range ms {
		if v := m.Var(); v > b.maxVar {
			b.maxVar = v
		}
		b.g.Add(m)
	}
	b.g.Add(z.LitNull)
}

func (b *BitBlaster) and2(x, y z.Lit) z.Lit {
	switch {
	case x == b.falsity() || y == b.falsity() || x == y.Not():
		return b.falsity()
	case x == b.truth || x == y:
		return y
	case y == b.truth:
		return x
	}
	g := b.fresh()
	b.clause(g.Not(), x)
	b.clause(g.Not(), y)
	b.clause(g, x.Not(), y.Not())
	return g
}

func (b *BitBlaster) or2(x, y z.Lit) z.Lit {
	return b.and2(x.Not(), y.Not()).Not()
}

func (b *BitBlaster) iff(x, y z.Lit) z.Lit {
	switch {
	case x == y:
		return b.truth
	case x == y.Not():
		return b.falsity()
	case x == b.truth:
		return y
	case x == b.falsity():
		return y.Not()
	case y == b.truth:
		return x
	case y == b.falsity():
		return x.Not()
	}
	g := b.fresh()
	b.clause(g.Not(), x.Not(), y)
	b.clause(g.Not(), x, y.Not())
	b.clause(g, x, y)
	b.clause(g, x.Not(), y.Not())
	return g
}

func (b *BitBlaster) andN(ls []z.Lit) z.Lit {
	out := b.truth
	for _, l := range ls {
		out = b.and2(out, l)
	}
	return out
}

func (b *BitBlaster) orN(ls []z.Lit) z.Lit {
	out := b.falsity()
	for _, l := range ls {
		out = b.or2(out, l)
	}
	return out
}

func (b *BitBlaster) constVec(v uint64) bitvec {
	var out bitvec
	for i := range width {
		if v>>i&1 == 1 {
			out[i] = b.truth
		} else {
			out[i] = b.falsity()
		}
	}
	return out
}

func (b *BitBlaster) freshVec() bitvec {
	var out bitvec
	for i := range width {
		out[i] = b.fresh()
	}
	return out
}

func (b *BitBlaster) eqVec(x, y bitvec) z.Lit {
	bits := make([]z.Lit, width)
	for i := range width {
		bits[i] = b.iff(x[i], y[i])
	}
	return b.andN(bits)
}

// ultVec is x < y, unsigned, built from the least significant bit up.
func (b *BitBlaster) ultVec(x, y bitvec) z.Lit {
	lt := b.falsity()
	for i := range width {
		below := b.and2(x[i].Not(), y[i])
		lt = b.or2(below, b.and2(b.iff(x[i], y[i]), lt))
	}
	return lt
}

func (b *BitBlaster) term(t Term) (bitvec, error) {
	switch t := t.(type) {
	case Const:
		return b.constVec(t.Value), nil
	case Symbol:
		v, ok := b.consts[t.Name]
		if !ok {
			return bitvec{}, capserr.UnknownSymbol(t.Name)
		}
		return v, nil
	case App:
		return b.apply(t)
	default:
		return bitvec{}, fmt.Errorf("smt: unsupported term %T", t)
	}
}

func (b *BitBlaster) apply(t App) (bitvec, error) {
	arity, ok := b.funcs[t.Func]
	if !ok {
		return bitvec{}, capserr.UnknownSymbol(t.Func)
	}
	if len(t.Args) != arity {
		return bitvec{}, fmt.Errorf("smt: %s takes %d arguments, got %d", t.Func, arity, len(t.Args))
	}

	key := t.String()
	if inst, ok := b.appByKey[key]; ok {
		return inst.result, nil
	}

	inst := &appInstance{key: key, args: make([]bitvec, len(t.Args))}
	for i, arg := range t.Args {
		v, err := b.term(arg)
		if err != nil {
			return bitvec{}, err
		}
		inst.args[i] = v
	}
	inst.result = b.freshVec()

	// Functional consistency with every earlier application of t.Func.
	for _, other := range b.apps[t.Func] {
		same := make([]z.Lit, len(inst.args))
		for i := range inst.args {
			same[i] = b.eqVec(inst.args[i], other.args[i])
		}
		b.clause(b.andN(same).Not(), b.eqVec(inst.result, other.result))
	}

	b.apps[t.Func] = append(b.apps[t.Func], inst)
	b.appByKey[key] = inst
	b.appList = append(b.appList, inst)
	return inst.result, nil
}

func (b *BitBlaster) formula(f Formula) (z.Lit, error) {
	switch f := f.(type) {
	case Truth:
		if f {
			return b.truth, nil
		}
		return b.falsity(), nil
	case Negation:
		l, err := b.formula(f.F)
		if err != nil {
			return z.LitNull, err
		}
		return l.Not(), nil
	case Junction:
		lits := make([]z.Lit, 0, len(f.Args))
		for _, g := range f.Args {
			l, err := b.formula(g)
			if err != nil {
				return z.LitNull, err
			}
			lits = append(lits, l)
		}
		if f.Or {
			return b.orN(lits), nil
		}
		return b.andN(lits), nil
	case Cmp:
		l, err := b.term(f.L)
		if err != nil {
			return z.LitNull, err
		}
		r, err := b.term(f.R)
		if err != nil {
			return z.LitNull, err
		}
		switch f.Op {
		case OpEq:
			return b.eqVec(l, r), nil
		case OpNe:
			return b.eqVec(l, r).Not(), nil
		case OpLt:
			return b.ultVec(l, r), nil
		case OpLe:
			return b.ultVec(r, l).Not(), nil
		case OpGt:
			return b.ultVec(r, l), nil
		case OpGe:
			return b.ultVec(l, r).Not(), nil
		}
		return z.LitNull, fmt.Errorf("smt: unknown comparison %d", f.Op)
	default:
		return z.LitNull, fmt.Errorf("smt: unsupported formula %T", f)
	}
}

// DeclareConst declares an integer symbol. Declaring it again is a no-op.
func (b *BitBlaster) DeclareConst(name string) error {
	if b.closed {
		return capserr.SolverUnavailable("session closed", nil)
	}
	if _, ok := b.consts[name]; ok {
		return nil
	}
	b.consts[name] = b.freshVec()
	b.constList = append(b.constList, name)
	return nil
}

// DeclareFunc declares an uninterpreted function from integers to integers.
func (b *BitBlaster) DeclareFunc(name string, arity int) error {
	if b.closed {
		return capserr.SolverUnavailable("session closed", nil)
	}
	if prev, ok := b.funcs[name]; ok {
		if prev != arity {
			return fmt.Errorf("smt: %s redeclared with arity %d, was %d", name, arity, prev)
		}
		return nil
	}
	b.funcs[name] = arity
	return nil
}

// Assert adds f at the base level. A named fact can appear in unsat cores;
// an unnamed one is added unconditionally.
func (b *BitBlaster) Assert(name string, f Formula) error {
	if b.closed {
		return capserr.SolverUnavailable("session closed", nil)
	}
	lit, err := b.formula(f)
	if err != nil {
		return err
	}
	if name == "" {
		b.clause(lit)
		return nil
	}
	act := b.fresh()
	b.clause(act.Not(), lit)
	b.facts = append(b.facts, namedFact{name: name, act: act})
	return nil
}

// Check decides the base facts together with goal. The context is only
// consulted before the solve starts; a running solve ends on its own or on
// the configured timeout.
func (b *BitBlaster) Check(ctx context.Context, goal Formula) (Result, error) {
	if b.closed {
		return Result{}, capserr.SolverUnavailable("session closed", nil)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	lit, err := b.formula(goal)
	if err != nil {
		return Result{}, err
	}
	act := b.fresh()
	b.clause(act.Not(), lit)
	defer b.clause(act.Not())

	assumptions := make([]z.Lit, 0, len(b.facts)+1)
	for _, fact := range b.facts {
		assumptions = append(assumptions, fact.act)
	}
	assumptions = append(assumptions, act)
	b.g.Assume(assumptions...)

	switch b.solve() {
	case 1:
		return Result{Status: Sat, Model: b.model()}, nil
	case -1:
		return Result{Status: Unsat, Core: b.core()}, nil
	default:
		return Result{Status: Unknown, Reason: "timeout"}, nil
	}
}

func (b *BitBlaster) solve() int {
	if b.cfg.Timeout <= 0 {
		return b.g.Solve()
	}
	return b.g.GoSolve().Try(b.cfg.Timeout)
}

func (b *BitBlaster) value(l z.Lit) bool {
	switch {
	case l == b.truth:
		return true
	case l == b.falsity():
		return false
	case l.Var() > b.maxVar:
		return false
	}
	return b.g.Value(l)
}

func (b *BitBlaster) vecValue(v bitvec) uint64 {
	var out uint64
	for i := range width {
		if b.value(v[i]) {
			out |= 1 << i
		}
	}
	return out
}

func (b *BitBlaster) model() Model {
	m := Model{Values: make(map[string]string, len(b.constList)+len(b.appList))}
	for _, name := range b.constList {
		m.Values[name] = strconv.FormatUint(b.vecValue(b.consts[name]), 10)
	}
	for _, inst := range b.appList {
		m.Values[inst.key] = strconv.FormatUint(b.vecValue(inst.result), 10)
	}
	return m
}

func (b *BitBlaster) core() []string {
	byLit := make(map[z.Lit]string, len(b.facts))
	for _, fact := range b.facts {
		byLit[fact.act] = fact.name
	}

	var names []string
	for _, l := range b.g.Why(nil) {
		if name, ok := byLit[l]; ok {
			names = append(names, name)
		}
	}
	return names
}

// Close releases the solver.
func (b *BitBlaster) Close() error {
	b.closed = true
	b.g = nil
	return nil
}
