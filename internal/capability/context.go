package capability

import (
	"io"
	"log/slog"

	capserr "github.com/orizon-lang/capsafe/internal/errors"
	"github.com/orizon-lang/capsafe/internal/position"
	"github.com/orizon-lang/capsafe/internal/typeclass"
	"github.com/orizon-lang/capsafe/internal/violation"
)

// Options configures a Context.
type Options struct {
	// Strict checks for concurrent use on every Use and Consume. Otherwise
	// the check runs when the defining frame exits and in ValidateAll.
	Strict bool
	Logger *slog.Logger
}

// Context is the capability state of one compilation unit. It starts with
// one open root frame and the main thread region.
type Context struct {
	strict  bool
	logger  *slog.Logger
	frames  []*frame
	threads []violation.ThreadTag
	all     []*binding
	seq     int

	open     []openBranch
	branches int
}

// openBranch is a branch whose arms are still being walked. synced counts
// the finished arms that passed a sync marker on every path through them.
type openBranch struct {
	ArmRef
	synced  int
	current bool
}

// NewContext creates a context with the root frame open.
func NewContext(opts Options) *Context {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c := &Context{
		strict:  opts.Strict,
		logger:  logger,
		threads: []violation.ThreadTag{violation.MainThread},
	}
	c.EnterScope(position.Span{})
	return c
}

// Strict reports whether concurrent use is checked eagerly.
func (c *Context) Strict() bool {
	return c.strict
}

// Depth returns the number of open frames, the root included.
func (c *Context) Depth() int {
	return len(c.frames)
}

// EnterScope pushes a frame opened at span.
func (c *Context) EnterScope(span position.Span) {
	c.frames = append(c.frames, &frame{openedAt: span, names: make(map[string]*binding)})
}

// ExitScope pops the innermost frame. Every binding defined in it that is
// not Consumed yields one ResourceLeak; all leaks are collected. span is
// the end of the block and becomes the primary span of each leak. In
// non-strict mode the popped bindings are also scanned for concurrent use.
func (c *Context) ExitScope(span position.Span) ([]*violation.Violation, error) {
	if len(c.frames) == 0 {
		return nil, capserr.ScopeUnderflow("capability")
	}

	f := c.frames[len(c.frames)-1]
	c.frames = c.frames[:len(c.frames)-1]
	f.closed = true

	var found []*violation.Violation
	for _, b := range f.order {
		if b.state == Consumed {
			continue
		}
		primary := span
		if !primary.IsValid() {
			primary = b.definedAt
		}
		v := violation.New(violation.ResourceLeak, b.name, primary, b.definedAt)
		v.Reason = b.kind.String() + " is " + b.state.String() + " at end of scope"
		found = append(found, c.report(v))
	}

	if !c.strict {
		for _, b := range f.order {
			for _, v := range scanBinding(b) {
				found = append(found, c.report(v))
			}
		}
	}

	return found, nil
}

// EnterThread opens a concurrency region; accesses until the matching
// ExitThread carry tag.
func (c *Context) EnterThread(tag violation.ThreadTag) {
	c.threads = append(c.threads, tag)
}

// ExitThread closes the innermost concurrency region.
func (c *Context) ExitThread() error {
	if len(c.threads) <= 1 {
		return capserr.ScopeUnderflow("thread region")
	}
	c.threads = c.threads[:len(c.threads)-1]
	return nil
}

// Thread returns the current thread tag.
func (c *Context) Thread() violation.ThreadTag {
	return c.threads[len(c.threads)-1]
}

// EnterBranch opens a branch. Accesses until NextArm belong to its first
// arm; accesses on different arms of one branch never conflict.
func (c *Context) EnterBranch() {
	c.branches++
	c.open = append(c.open, openBranch{ArmRef: ArmRef{Branch: c.branches}})
}

// NextArm moves to the next arm of the innermost branch.
func (c *Context) NextArm() error {
	if len(c.open) == 0 {
		return capserr.ScopeUnderflow("branch")
	}
	b := &c.open[len(c.open)-1]
	if b.current {
		b.synced++
	}
	b.current = false
	b.Arm++
	return nil
}

// ExitBranch closes the innermost branch at span. When the branch has more
// than one arm and every arm synced, the join is itself a sync point.
func (c *Context) ExitBranch(span position.Span) error {
	if len(c.open) == 0 {
		return capserr.ScopeUnderflow("branch")
	}
	b := c.open[len(c.open)-1]
	c.open = c.open[:len(c.open)-1]
	if b.current {
		b.synced++
	}
	if b.Arm > 0 && b.synced == b.Arm+1 {
		c.Sync(span)
	}
	return nil
}

func (c *Context) path() []ArmRef {
	if len(c.open) == 0 {
		return nil
	}
	out := make([]ArmRef, len(c.open))
	for i, b := range c.open {
		out[i] = b.ArmRef
	}
	return out
}

// Define creates name in state Fresh in the innermost frame.
func (c *Context) Define(name string, kind typeclass.CapabilityKind, span position.Span) error {
	if len(c.frames) == 0 {
		return capserr.ScopeUnderflow("capability")
	}
	f := c.frames[len(c.frames)-1]
	if _, exists := f.names[name]; exists {
		return capserr.DuplicateBinding(name)
	}

	b := &binding{
		name:      name,
		kind:      kind,
		definedAt: span,
		thread:    c.Thread(),
		frame:     f,
		state:     Fresh,
	}
	f.names[name] = b
	f.order = append(f.order, b)
	c.all = append(c.all, b)
	return nil
}

func (c *Context) lookup(name string) (*binding, error) {
	for i := len(c.frames) - 1; i >= 0; i-- {
		if b, ok := c.frames[i].names[name]; ok {
			return b, nil
		}
	}
	return nil, capserr.UnknownBinding(name)
}

// Has reports whether name is a visible capability binding.
func (c *Context) Has(name string) bool {
	_, err := c.lookup(name)
	return err == nil
}

func (c *Context) record(b *binding, kind AccessKind, span position.Span) AccessRecord {
	c.seq++
	r := AccessRecord{Seq: c.seq, Thread: c.Thread(), Span: span, Kind: kind, Path: c.path()}
	b.history = append(b.history, r)
	return r
}

const mayBeConsumed = "may have been consumed on another path"

// consumedViolation returns the UseAfterConsumption of an access to b, or
// nil when b is live on every path.
func (c *Context) consumedViolation(b *binding, span position.Span, reason string) *violation.Violation {
	var v *violation.Violation
	switch {
	case b.state == Consumed:
		v = violation.New(violation.UseAfterConsumption, b.name, span, b.consumedAt)
		v.Reason = reason
	case !b.mayConsumedAt.IsZero():
		v = violation.New(violation.UseAfterConsumption, b.name, span, b.mayConsumedAt)
		v.Reason = mayBeConsumed
	default:
		return nil
	}
	return c.report(v)
}

// Use records a live access. A binding consumed on any path reaching span
// yields UseAfterConsumption carrying the consuming span.
func (c *Context) Use(name string, span position.Span) (*violation.Violation, error) {
	b, err := c.lookup(name)
	if err != nil {
		return nil, err
	}
	if v := c.consumedViolation(b, span, ""); v != nil {
		return v, nil
	}

	b.state = InUse
	c.record(b, AccessUse, span)
	return c.eager(b), nil
}

// Consume moves name to the terminal Consumed state. Consuming twice is a
// use after consumption. A binding consumed on only some paths is reported
// the same way and is Consumed afterwards.
func (c *Context) Consume(name string, span position.Span) (*violation.Violation, error) {
	b, err := c.lookup(name)
	if err != nil {
		return nil, err
	}
	if b.state == Consumed {
		return c.consumedViolation(b, span, "consumed twice"), nil
	}
	maybe := c.consumedViolation(b, span, "")

	b.state = Consumed
	b.consumedAt = span
	b.mayConsumedAt = position.Span{}
	c.record(b, AccessConsume, span)
	if maybe != nil {
		return maybe, nil
	}
	return c.eager(b), nil
}

// Share marks name as shared for the rest of its life. The lifecycle state
// is unchanged.
func (c *Context) Share(name string, span position.Span) (*violation.Violation, error) {
	b, err := c.lookup(name)
	if err != nil {
		return nil, err
	}
	if v := c.consumedViolation(b, span, "shared after consumption"); v != nil {
		return v, nil
	}

	b.shared = true
	c.record(b, AccessShare, span)
	return nil, nil
}

// Note appends a move or borrow performed through the ownership tracker to
// the history of name, for diagnostics. It does not change state.
func (c *Context) Note(name string, kind AccessKind, span position.Span) error {
	b, err := c.lookup(name)
	if err != nil {
		return err
	}
	c.record(b, kind, span)
	return nil
}

// Sync records a join or synchronization point. Accesses on either side of
// it never conflict when the marker lies on the path of both.
func (c *Context) Sync(span position.Span) {
	c.seq++
	marker := AccessRecord{Seq: c.seq, Thread: c.Thread(), Span: span, Kind: AccessSync, Path: c.path()}
	for _, f := range c.frames {
		for _, b := range f.order {
			b.history = append(b.history, marker)
		}
	}
	if n := len(c.open); n > 0 {
		c.open[n-1].current = true
	}
}

// ValidateAll scans every binding of the unit, including those whose frame
// has been popped, and returns one ConcurrentUseWithoutSync per distinct
// thread pair per sync window. It does not change state.
func (c *Context) ValidateAll() []*violation.Violation {
	var found []*violation.Violation
	for _, b := range c.all {
		found = append(found, scanBinding(b)...)
	}
	return found
}

func (c *Context) eager(b *binding) *violation.Violation {
	if !c.strict {
		return nil
	}
	if v := checkLatest(b); v != nil {
		return c.report(v)
	}
	return nil
}

// State returns the lifecycle state of the visible binding name.
func (c *Context) State(name string) (State, error) {
	b, err := c.lookup(name)
	if err != nil {
		return Fresh, err
	}
	return b.state, nil
}

// Shared reports whether the visible binding name has been shared.
func (c *Context) Shared(name string) (bool, error) {
	b, err := c.lookup(name)
	if err != nil {
		return false, err
	}
	return b.shared, nil
}

// History returns the access records of the visible binding name.
func (c *Context) History(name string) ([]AccessRecord, error) {
	b, err := c.lookup(name)
	if err != nil {
		return nil, err
	}
	return append([]AccessRecord(nil), b.history...), nil
}

// Kind returns the capability kind of the visible binding name.
func (c *Context) Kind(name string) (typeclass.CapabilityKind, error) {
	b, err := c.lookup(name)
	if err != nil {
		return typeclass.NoCapability, err
	}
	return b.kind, nil
}

func (c *Context) report(v *violation.Violation) *violation.Violation {
	c.logger.Debug("capability violation",
		"kind", v.Kind.String(),
		"binding", v.Binding,
		"span", v.Span.String(),
		"strict", c.strict,
	)
	return v
}
