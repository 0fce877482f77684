// Package discharge proves numeric and shape side conditions by refutation.
//
// Each obligation is turned into the formula "the condition fails" and
// handed to a warm solver session: unsatisfiable means proved, a model means
// refuted, and anything else is undecided. Undecided is never treated as
// proved.
package discharge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	capserr "github.com/orizon-lang/capsafe/internal/errors"
	"github.com/orizon-lang/capsafe/internal/metrics"
	"github.com/orizon-lang/capsafe/internal/position"
	"github.com/orizon-lang/capsafe/internal/proof"
	"github.com/orizon-lang/capsafe/internal/smt"
	"github.com/orizon-lang/capsafe/internal/violation"
)

// ShapeFunc is the uninterpreted function holding tensor dimensions:
// tensor_dim(h, i) is the size of dimension i of handle h.
const ShapeFunc = "tensor_dim"

// handleMax is the upper bound every fresh handle starts with.
const handleMax = 1<<32 - 1

// Discharger owns one warm solver session for a compilation unit. It is
// not safe for concurrent use.
type Discharger struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	ledger  *proof.Ledger
	open    func(ctx context.Context) (smt.Session, error)

	session  smt.Session
	nonce    int
	facts    map[string]string // rendered fact -> assertion name
	factText map[string]string // assertion name -> rendered fact
	handles  map[string]bool
	queue    []Obligation
}

// Option configures a Discharger.
type Option func(*Discharger)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Discharger) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics records obligation outcomes and solve times.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Discharger) { d.metrics = m }
}

// WithLedger appends proof notes to l instead of a private ledger.
func WithLedger(l *proof.Ledger) Option {
	return func(d *Discharger) {
		if l != nil {
			d.ledger = l
		}
	}
}

// WithSession uses s instead of opening one for the configured profile.
func WithSession(s smt.Session) Option {
	return func(d *Discharger) {
		d.open = func(context.Context) (smt.Session, error) { return s, nil }
	}
}

// New creates a discharger. The solver session is opened on first use.
func New(cfg Config, opts ...Option) *Discharger {
	if cfg.Profile == "" {
		cfg.Profile = ProfileFast
	}
	d := &Discharger{
		cfg:      cfg,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		ledger:   proof.NewLedger(""),
		facts:    make(map[string]string),
		factText: make(map[string]string),
		handles:  make(map[string]bool),
	}
	d.open = d.openProfile
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Discharger) openProfile(ctx context.Context) (smt.Session, error) {
	sc := smt.Config{Timeout: d.cfg.Timeout()}
	switch d.cfg.Profile {
	case ProfileThorough:
		return smt.NewZ3(ctx, d.cfg.Z3Path, sc)
	default:
		return smt.NewBitBlaster(sc), nil
	}
}

func (d *Discharger) ensure(ctx context.Context) (smt.Session, error) {
	if d.session != nil {
		return d.session, nil
	}
	s, err := d.open(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.DeclareFunc(ShapeFunc, 2); err != nil {
		_ = s.Close()
		return nil, err
	}
	d.session = s
	d.logger.Debug("solver session opened", "profile", string(d.cfg.Profile), "timeout", d.cfg.Timeout())
	return s, nil
}

// Ledger returns the ledger proof notes are appended to.
func (d *Discharger) Ledger() *proof.Ledger {
	return d.ledger
}

// Profile returns the configured profile.
func (d *Discharger) Profile() Profile {
	return d.cfg.Profile
}

// symbolPrefix maps prefix onto an ASCII identifier: every other rune
// becomes '_' and a name not starting with a letter gets an "h" prefix.
func symbolPrefix(prefix string) string {
	var b strings.Builder
	for _, r := range prefix {
		if isSymbolRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" || !isLetter(out[0]) {
		out = "h" + out
	}
	return out
}

func isLetter(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func isSymbolRune(r rune) bool {
	return r < 0x80 && (r == '_' || isLetter(byte(r)) || ('0' <= r && r <= '9'))
}

func (d *Discharger) nextName(prefix string) string {
	name := fmt.Sprintf("%s%d", symbolPrefix(prefix), d.nonce)
	d.nonce++
	return name
}

// FreshSymbol allocates a symbolic integer bound to [0, 2^32-1]. The nonce
// keeps names distinct across obligations of the same session.
func (d *Discharger) FreshSymbol(ctx context.Context, prefix string) (Handle, error) {
	s, err := d.ensure(ctx)
	if err != nil {
		return Handle{}, err
	}

	name := d.nextName(prefix)
	if err := s.DeclareConst(name); err != nil {
		return Handle{}, err
	}
	d.handles[name] = true

	h := smt.Sym(name)
	if err := d.PushConstraint(ctx, smt.And(smt.Ge(h, smt.Int(0)), smt.Le(h, smt.Int(handleMax)))); err != nil {
		return Handle{}, err
	}
	return Handle{Symbol: name}, nil
}

// PushConstraint adds a global fact to the session. Asserting a fact that
// renders identically to an earlier one is a no-op.
func (d *Discharger) PushConstraint(ctx context.Context, fact smt.Formula) error {
	for _, name := range smt.Symbols(fact) {
		if !d.handles[name] {
			return capserr.UnknownSymbol(name)
		}
	}

	text := fact.String()
	if _, ok := d.facts[text]; ok {
		return nil
	}

	s, err := d.ensure(ctx)
	if err != nil {
		return err
	}
	name := fmt.Sprintf("fact%d", len(d.facts))
	if err := s.Assert(name, fact); err != nil {
		return err
	}
	d.facts[text] = name
	d.factText[name] = text
	return nil
}

// AssertShape records that handle has the given dimensions.
func (d *Discharger) AssertShape(ctx context.Context, h Handle, dims []uint64) error {
	if !d.handles[h.Symbol] {
		return capserr.UnknownSymbol(h.Symbol)
	}
	for i, dim := range dims {
		fact := smt.Eq(smt.Apply(ShapeFunc, smt.Sym(h.Symbol), smt.Int(uint64(i))), smt.Int(dim))
		if err := d.PushConstraint(ctx, fact); err != nil {
			return err
		}
	}
	return nil
}

// ProveInRange proves lo <= subject <= hi. A refutation carries the model.
func (d *Discharger) ProveInRange(ctx context.Context, span position.Span, subject Subject, lo, hi uint64) (*violation.Violation, error) {
	_, v, err := d.Discharge(ctx, Obligation{Kind: KindRange, Span: span, Subject: subject, Lo: lo, Hi: hi})
	return v, err
}

// ProveShape proves that handle has exactly the given dimensions.
func (d *Discharger) ProveShape(ctx context.Context, span position.Span, subject Subject, dims []uint64) (*violation.Violation, error) {
	_, v, err := d.Discharge(ctx, Obligation{Kind: KindShape, Span: span, Subject: subject, Dims: dims})
	return v, err
}

// validate rejects subjects that cannot be encoded.
func (d *Discharger) validate(o Obligation) error {
	switch subj := o.Subject.(type) {
	case IntLit:
		if o.Kind == KindShape {
			return capserr.UnsupportedSubject(subj.String())
		}
		return nil
	case Handle:
		if !d.handles[subj.Symbol] {
			return capserr.UnknownSymbol(subj.Symbol)
		}
		return nil
	case nil:
		return capserr.UnsupportedSubject("<nil>")
	default:
		return capserr.UnsupportedSubject(subj.String())
	}
}

// refutation builds the goal whose satisfiability means o fails.
func (d *Discharger) refutation(s smt.Session, o Obligation) (smt.Formula, string, error) {
	switch subj := o.Subject.(type) {
	case IntLit:
		name := d.nextName("v")
		if err := s.DeclareConst(name); err != nil {
			return nil, "", err
		}
		v := smt.Sym(name)
		return smt.And(
			smt.Eq(v, smt.Int(subj.Value)),
			smt.Or(smt.Lt(v, smt.Int(o.Lo)), smt.Gt(v, smt.Int(o.Hi))),
		), "", nil
	case Handle:
		h := smt.Sym(subj.Symbol)
		if o.Kind == KindRange {
			return smt.Or(smt.Lt(h, smt.Int(o.Lo)), smt.Gt(h, smt.Int(o.Hi))), subj.Symbol, nil
		}
		wrong := make([]smt.Formula, len(o.Dims))
		for i, dim := range o.Dims {
			wrong[i] = smt.Ne(smt.Apply(ShapeFunc, h, smt.Int(uint64(i))), smt.Int(dim))
		}
		return smt.Or(wrong...), subj.Symbol, nil
	}
	return nil, "", capserr.UnsupportedSubject(fmt.Sprint(o.Subject))
}

// Discharge decides one obligation now. Proved obligations are recorded in
// the ledger; refuted and undecided ones are returned as violations.
func (d *Discharger) Discharge(ctx context.Context, o Obligation) (Outcome, *violation.Violation, error) {
	if err := d.validate(o); err != nil {
		return Undecided, nil, err
	}
	if err := ctx.Err(); err != nil {
		return Undecided, nil, err
	}
	return d.solve(ctx, o)
}

func (d *Discharger) solve(ctx context.Context, o Obligation) (Outcome, *violation.Violation, error) {
	s, err := d.ensure(ctx)
	if err != nil {
		return Undecided, nil, err
	}
	goal, binding, err := d.refutation(s, o)
	if err != nil {
		return Undecided, nil, err
	}

	start := time.Now()
	res, err := s.Check(context.WithoutCancel(ctx), goal)
	elapsed := time.Since(start)
	d.metrics.ObserveSolve(string(d.cfg.Profile), elapsed)
	if err != nil {
		return Undecided, nil, fmt.Errorf("discharge %s: %w", o, err)
	}

	var (
		outcome Outcome
		v       *violation.Violation
	)
	switch res.Status {
	case smt.Unsat:
		outcome = Proved
		d.record(o, goal, res.Core)
	case smt.Sat:
		outcome = Refuted
		v = violation.New(violation.ProofRefuted, binding, o.Span, position.Span{})
		v.Obligation = o.String()
		v.Model = res.Model.String()
		v.Assignments = res.Model.Values
		v.Reason = "counterexample found"
	default:
		outcome = Undecided
		v = violation.New(violation.SolverTimeout, binding, o.Span, position.Span{})
		v.Obligation = o.String()
		v.Reason = res.Reason
	}

	d.metrics.ObserveObligation(o.Kind.String(), outcome.String())
	d.logger.Debug("obligation discharged",
		"obligation", o.String(),
		"outcome", outcome.String(),
		"span", o.Span.String(),
		"elapsed", elapsed,
	)
	return outcome, v, nil
}

func (d *Discharger) record(o Obligation, goal smt.Formula, core []string) {
	facts := make([]string, 0, len(core))
	for _, name := range core {
		if text, ok := d.factText[name]; ok {
			facts = append(facts, text)
		} else {
			facts = append(facts, name)
		}
	}
	d.ledger.Append(proof.Note{
		Plugin:       d.cfg.plugin(),
		Kind:         o.Kind.String() + ".proved",
		Span:         o.Span,
		Message:      o.String(),
		SMTGoal:      goal.String(),
		UnsatCore:    facts,
		DerivedLemma: proof.Lemma(facts),
	})
}

// Enqueue queues o for the next Flush. Subjects that can never be encoded
// are rejected here rather than at flush time.
func (d *Discharger) Enqueue(o Obligation) error {
	if err := d.validate(o); err != nil {
		return err
	}
	d.queue = append(d.queue, o)
	return nil
}

// Pending returns the number of queued obligations.
func (d *Discharger) Pending() int {
	return len(d.queue)
}

// Flush discharges the queue in order. Cancellation is honoured between
// obligations only; the obligations not yet started stay queued.
func (d *Discharger) Flush(ctx context.Context) ([]*violation.Violation, error) {
	var found []*violation.Violation
	for len(d.queue) > 0 {
		if err := ctx.Err(); err != nil {
			return found, err
		}
		_, v, err := d.solve(ctx, d.queue[0])
		d.queue = d.queue[1:]
		if err != nil {
			return found, err
		}
		if v != nil {
			found = append(found, v)
		}
	}
	d.queue = nil
	return found, nil
}

// Close releases the solver session.
func (d *Discharger) Close() error {
	if d.session == nil {
		return nil
	}
	err := d.session.Close()
	d.session = nil
	return err
}
