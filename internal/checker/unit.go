// Package checker drives the resource-safety components over one
// compilation unit.
//
// The semantic checker walks the program once and reports declarations and
// accesses to a Unit. The unit classifies each binding, routes accesses to
// the ownership tracker and the capability context, queues proof work, and
// turns every violation into exactly one diagnostic. Violations never abort
// the walk; only contract errors (an undeclared name, unbalanced scopes) are
// returned as errors.
package checker

import (
	"context"
	"io"
	"log/slog"

	"github.com/orizon-lang/capsafe/internal/capability"
	"github.com/orizon-lang/capsafe/internal/diagnostic"
	"github.com/orizon-lang/capsafe/internal/discharge"
	capserr "github.com/orizon-lang/capsafe/internal/errors"
	"github.com/orizon-lang/capsafe/internal/metrics"
	"github.com/orizon-lang/capsafe/internal/ownership"
	"github.com/orizon-lang/capsafe/internal/position"
	"github.com/orizon-lang/capsafe/internal/proof"
	"github.com/orizon-lang/capsafe/internal/typeclass"
	"github.com/orizon-lang/capsafe/internal/violation"
)

// Config holds the tunables of a unit. It is plain data; the unit never
// reads files or the environment.
type Config struct {
	StrictMode     bool
	TimeoutMS      uint32
	Profile        discharge.Profile
	Z3Path         string
	UnknownAsError bool
}

// Binding is a declared name and its tracking decision.
type Binding struct {
	Name      string
	Type      *typeclass.Type
	DefinedAt position.Span
	Mode      typeclass.Mode
}

type entry struct {
	binding Binding
	tracker *ownership.Tracker
}

type scopeKind int

const (
	scopeRoot scopeKind = iota
	scopeFunction
	scopeBlock
)

type scope struct {
	kind    scopeKind
	name    string
	span    position.Span
	tracker *ownership.Tracker
	names   map[string]*entry
}

// Unit checks one compilation unit. It is not safe for concurrent use.
type Unit struct {
	name     string
	cfg      Config
	registry *typeclass.Registry
	logger   *slog.Logger
	metrics  *metrics.Metrics

	caps       *capability.Context
	discharger *discharge.Discharger
	ledger     *proof.Ledger
	factory    *diagnostic.Factory

	scopes   []*scope
	branches []*branch
	decls    []proof.Decl

	violations []*violation.Violation
	seen       map[string]bool
	finished   bool
}

// Option configures a Unit.
type Option func(*Unit)

// WithLogger sets the logger handed to every component.
func WithLogger(logger *slog.Logger) Option {
	return func(u *Unit) {
		if logger != nil {
			u.logger = logger
		}
	}
}

// WithMetrics records violations and solver activity.
func WithMetrics(m *metrics.Metrics) Option {
	return func(u *Unit) { u.metrics = m }
}

// NewUnit creates a unit named name. A nil registry knows only builtins.
func NewUnit(name string, registry *typeclass.Registry, cfg Config, opts ...Option) *Unit {
	u := &Unit{
		name:     name,
		cfg:      cfg,
		registry: registry,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		seen:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(u)
	}

	u.ledger = proof.NewLedger(name)
	u.factory = diagnostic.NewFactory(diagnostic.FactoryOptions{UnknownAsError: cfg.UnknownAsError})
	u.caps = capability.NewContext(capability.Options{Strict: cfg.StrictMode, Logger: u.logger})
	u.discharger = discharge.New(discharge.Config{
		Profile:   cfg.Profile,
		TimeoutMS: cfg.TimeoutMS,
		Z3Path:    cfg.Z3Path,
	},
		discharge.WithLogger(u.logger),
		discharge.WithMetrics(u.metrics),
		discharge.WithLedger(u.ledger),
	)
	u.scopes = []*scope{{
		kind:    scopeRoot,
		name:    name,
		tracker: ownership.NewTracker(ownership.WithLogger(u.logger)),
		names:   make(map[string]*entry),
	}}
	return u
}

// Name returns the unit name.
func (u *Unit) Name() string {
	return u.name
}

func (u *Unit) top() *scope {
	return u.scopes[len(u.scopes)-1]
}

func (u *Unit) lookup(name string) (*entry, error) {
	for i := len(u.scopes) - 1; i >= 0; i-- {
		if e, ok := u.scopes[i].names[name]; ok {
			return e, nil
		}
	}
	return nil, capserr.UnknownBinding(name)
}

func (u *Unit) live() error {
	if u.finished {
		return capserr.UnitFinished(u.name)
	}
	return nil
}

// collect records v once. Findings reached twice, such as an eager
// concurrency check and the final sweep, share a key.
func (u *Unit) collect(v *violation.Violation) *violation.Violation {
	if v == nil {
		return nil
	}
	key := v.Key()
	if u.seen[key] {
		return v
	}
	u.seen[key] = true
	u.violations = append(u.violations, v)
	u.metrics.ObserveViolation(v.Kind.String())
	return v
}

func (u *Unit) collectAll(vs []*violation.Violation) []*violation.Violation {
	for _, v := range vs {
		u.collect(v)
	}
	return vs
}

// Violations returns the findings so far in report order.
func (u *Unit) Violations() []*violation.Violation {
	out := append([]*violation.Violation(nil), u.violations...)
	violation.Sort(out)
	return out
}

// Lookup returns the visible binding name.
func (u *Unit) Lookup(name string) (Binding, bool) {
	e, err := u.lookup(name)
	if err != nil {
		return Binding{}, false
	}
	return e.binding, true
}

// Ownership returns the ownership state of the visible binding name.
func (u *Unit) Ownership(name string) (ownership.State, error) {
	e, err := u.lookup(name)
	if err != nil {
		return ownership.Unknown, err
	}
	return e.tracker.State(name)
}

// Capability returns the capability state of the visible binding name.
func (u *Unit) Capability(name string) (capability.State, error) {
	e, err := u.lookup(name)
	if err != nil {
		return capability.Fresh, err
	}
	if !e.binding.Mode.HasCapability() {
		return capability.Fresh, capserr.UnknownBinding(name)
	}
	return u.caps.State(name)
}

// Declare classifies t and registers name with the ownership tracker and,
// for capability types, with the capability context.
func (u *Unit) Declare(name string, t *typeclass.Type, span position.Span) (Binding, error) {
	if err := u.live(); err != nil {
		return Binding{}, err
	}
	s := u.top()
	if _, exists := s.names[name]; exists {
		return Binding{}, capserr.DuplicateBinding(name)
	}

	b := Binding{Name: name, Type: t, DefinedAt: span, Mode: u.registry.TrackingMode(t)}
	if err := s.tracker.Define(name, span); err != nil {
		return Binding{}, err
	}
	if b.Mode.HasCapability() {
		if err := u.caps.Define(name, b.Mode.Capability, span); err != nil {
			return Binding{}, err
		}
	}

	s.names[name] = &entry{binding: b, tracker: s.tracker}
	u.logger.Debug("binding declared", "binding", name, "type", t.String(), "mode", b.Mode.String())
	return b, nil
}

// BeginFunction opens a function body with its own ownership tracker and a
// capability frame.
func (u *Unit) BeginFunction(name string, span position.Span) error {
	if err := u.live(); err != nil {
		return err
	}
	u.caps.EnterScope(span)
	u.scopes = append(u.scopes, &scope{
		kind:    scopeFunction,
		name:    name,
		span:    span,
		tracker: ownership.NewTracker(ownership.WithLogger(u.logger)),
		names:   make(map[string]*entry),
	})
	return nil
}

// EndFunction discharges the obligations queued so far and closes the
// function, together with any block left open inside it. span is the end
// of the body.
func (u *Unit) EndFunction(ctx context.Context, span position.Span) ([]*violation.Violation, error) {
	if err := u.live(); err != nil {
		return nil, err
	}

	idx := -1
	for i := len(u.scopes) - 1; i > 0; i-- {
		if u.scopes[i].kind == scopeFunction {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, capserr.ScopeUnderflow("function")
	}

	proved, err := u.discharger.Flush(ctx)
	found := u.collectAll(proved)
	if err != nil {
		return found, err
	}

	for len(u.scopes)-1 > idx {
		leaks, err := u.exitBlock(span)
		found = append(found, leaks...)
		if err != nil {
			return found, err
		}
	}

	fn := u.top()
	leaks, err := u.caps.ExitScope(span)
	found = append(found, u.collectAll(leaks)...)
	if err != nil {
		return found, err
	}
	u.scopes = u.scopes[:idx]

	u.decls = append(u.decls, proof.Decl{Name: fn.name, Span: fn.span.Union(span)})
	return found, nil
}

// EnterBlock opens a lexical block.
func (u *Unit) EnterBlock(span position.Span) error {
	if err := u.live(); err != nil {
		return err
	}
	tracker := u.top().tracker
	tracker.EnterScope()
	u.caps.EnterScope(span)
	u.scopes = append(u.scopes, &scope{
		kind:    scopeBlock,
		span:    span,
		tracker: tracker,
		names:   make(map[string]*entry),
	})
	return nil
}

// ExitBlock closes the innermost block and returns the capabilities it
// leaked, plus any deferred concurrency findings.
func (u *Unit) ExitBlock(span position.Span) ([]*violation.Violation, error) {
	if err := u.live(); err != nil {
		return nil, err
	}
	return u.exitBlock(span)
}

func (u *Unit) exitBlock(span position.Span) ([]*violation.Violation, error) {
	s := u.top()
	if s.kind != scopeBlock {
		return nil, capserr.ScopeUnderflow("block")
	}
	if err := s.tracker.ExitScope(); err != nil {
		return nil, err
	}
	u.scopes = u.scopes[:len(u.scopes)-1]

	leaks, err := u.caps.ExitScope(span)
	return u.collectAll(leaks), err
}

// EnterThread marks the following accesses as running in region tag.
func (u *Unit) EnterThread(tag violation.ThreadTag) error {
	if err := u.live(); err != nil {
		return err
	}
	u.caps.EnterThread(tag)
	return nil
}

// ExitThread closes the innermost thread region.
func (u *Unit) ExitThread() error {
	if err := u.live(); err != nil {
		return err
	}
	return u.caps.ExitThread()
}

// Thread returns the current thread region.
func (u *Unit) Thread() violation.ThreadTag {
	return u.caps.Thread()
}

// Sync records a join or synchronization point.
func (u *Unit) Sync(span position.Span) error {
	if err := u.live(); err != nil {
		return err
	}
	u.caps.Sync(span)
	return nil
}
