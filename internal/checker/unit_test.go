package checker

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orizon-lang/capsafe/internal/capability"
	"github.com/orizon-lang/capsafe/internal/diagnostic"
	"github.com/orizon-lang/capsafe/internal/discharge"
	capserr "github.com/orizon-lang/capsafe/internal/errors"
	"github.com/orizon-lang/capsafe/internal/metrics"
	"github.com/orizon-lang/capsafe/internal/ownership"
	"github.com/orizon-lang/capsafe/internal/position"
	"github.com/orizon-lang/capsafe/internal/typeclass"
	"github.com/orizon-lang/capsafe/internal/violation"
)

func at(line int) position.Span {
	return position.At("unit.oz", line, 1)
}

func registry(t *testing.T) *typeclass.Registry {
	t.Helper()
	r := typeclass.NewRegistry()
	require.NoError(t, r.Register(typeclass.Decl{Name: "Socket", Capability: typeclass.Socket}))
	require.NoError(t, r.Register(typeclass.Decl{Name: "Buffer", Traits: []typeclass.Trait{typeclass.TraitLinear}}))
	require.NoError(t, r.Register(typeclass.Decl{Name: "Point", Traits: []typeclass.Trait{typeclass.TraitCopy}}))
	return r
}

func newUnit(t *testing.T, cfg Config, opts ...Option) *Unit {
	t.Helper()
	if cfg.TimeoutMS == 0 {
		cfg.TimeoutMS = 5000
	}
	return NewUnit("unit.oz", registry(t), cfg, opts...)
}

func declare(t *testing.T, u *Unit, name, typ string, line int) Binding {
	t.Helper()
	b, err := u.Declare(name, typeclass.MustParseType(typ), at(line))
	require.NoError(t, err)
	return b
}

func finish(t *testing.T, u *Unit) *Report {
	t.Helper()
	r, err := u.Finish(context.Background())
	require.NoError(t, err)
	return r
}

func kinds(vs []*violation.Violation) []violation.Kind {
	out := make([]violation.Kind, len(vs))
	for i, v := range vs {
		out[i] = v.Kind
	}
	return out
}

func TestScenarioConsumedSocket(t *testing.T) {
	u := newUnit(t, Config{})
	require.NoError(t, u.BeginFunction("serve", at(1)))
	declare(t, u, "s", "Socket", 2)

	v, err := u.Use("s", at(3))
	require.NoError(t, err)
	assert.Nil(t, v)
	v, err = u.Consume("s", at(4))
	require.NoError(t, err)
	assert.Nil(t, v)

	leaks, err := u.EndFunction(context.Background(), at(5))
	require.NoError(t, err)
	assert.Empty(t, leaks)

	r := finish(t, u)
	assert.True(t, r.Accepted)
	assert.Empty(t, r.Diagnostics)
}

func TestScenarioLeakedSocket(t *testing.T) {
	u := newUnit(t, Config{})
	require.NoError(t, u.BeginFunction("serve", at(1)))
	declare(t, u, "s", "Socket", 2)

	_, err := u.Use("s", at(3))
	require.NoError(t, err)

	leaks, err := u.EndFunction(context.Background(), at(5))
	require.NoError(t, err)
	require.Len(t, leaks, 1)
	assert.Equal(t, violation.ResourceLeak, leaks[0].Kind)
	assert.Equal(t, "s", leaks[0].Binding)

	r := finish(t, u)
	assert.False(t, r.Accepted)
	require.Len(t, r.Diagnostics, 1)
	assert.Equal(t, diagnostic.CodeResourceLeak, r.Diagnostics[0].Code)
	assert.Equal(t, at(5), r.Diagnostics[0].Span)
	assert.Equal(t, at(2), r.Diagnostics[0].Related[0].Span)
}

func TestScenarioUseAfterMove(t *testing.T) {
	u := newUnit(t, Config{})
	b := declare(t, u, "x", "u32", 1)
	assert.True(t, b.Mode.None())

	v, err := u.Move("x", at(2))
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = u.Read("x", at(3))
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, violation.UseAfterMove, v.Kind)
	require.NotNil(t, v.Conflict)
	assert.Equal(t, at(2), *v.Conflict)

	r := finish(t, u)
	require.Len(t, r.Diagnostics, 1)
	assert.Equal(t, diagnostic.CodeUseAfterMove, r.Diagnostics[0].Code)
}

func TestScenarioLiteralRange(t *testing.T) {
	u := newUnit(t, Config{})
	require.NoError(t, u.BeginFunction("main", at(1)))
	require.NoError(t, u.RequireInRange(at(2), discharge.IntLit{Value: 80}, 0, 100))
	require.NoError(t, u.RequireInRange(at(3), discharge.IntLit{Value: 150}, 0, 100))
	assert.Equal(t, 2, u.Pending())

	found, err := u.EndFunction(context.Background(), at(4))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, violation.ProofRefuted, found[0].Kind)
	assert.Contains(t, found[0].Model, "150")
	assert.Equal(t, 0, u.Pending())

	r := finish(t, u)
	assert.False(t, r.Accepted)
	assert.Equal(t, 1, r.Proofs.Len())

	summary := r.Summary()
	require.Len(t, summary.Decls, 1)
	assert.Equal(t, "main", summary.Decls[0].Name)
	assert.Equal(t, 1, summary.Decls[0].Total)
}

func TestMoveSiteIsStable(t *testing.T) {
	u := newUnit(t, Config{})
	declare(t, u, "buf", "Buffer", 1)

	_, err := u.Move("buf", at(2))
	require.NoError(t, err)

	for line := 3; line <= 5; line++ {
		v, err := u.Read("buf", at(line))
		require.NoError(t, err)
		require.NotNil(t, v)
		assert.Equal(t, at(2), *v.Conflict)
	}
	v, err := u.Move("buf", at(6))
	require.NoError(t, err)
	assert.Equal(t, violation.DoubleMove, v.Kind)
	assert.Equal(t, at(2), *v.Conflict)
}

func TestBorrowExclusivity(t *testing.T) {
	u := newUnit(t, Config{})
	declare(t, u, "buf", "Buffer", 1)

	v, err := u.Borrow("buf", at(2), false)
	require.NoError(t, err)
	assert.Nil(t, v)
	v, err = u.Borrow("buf", at(3), false)
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = u.Borrow("buf", at(4), true)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, violation.BorrowExclusivity, v.Kind)

	require.NoError(t, u.ReleaseBorrow("buf", at(5)))
	require.NoError(t, u.ReleaseBorrow("buf", at(6)))
	v, err = u.Borrow("buf", at(7), true)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestUntrackedAccessesAreAccepted(t *testing.T) {
	u := newUnit(t, Config{})
	declare(t, u, "p", "Point", 1)

	for _, op := range []func(string, position.Span) (*violation.Violation, error){u.Use, u.Consume, u.Share} {
		v, err := op("p", at(2))
		require.NoError(t, err)
		assert.Nil(t, v)
	}

	r := finish(t, u)
	assert.True(t, r.Accepted)
}

func TestContractErrors(t *testing.T) {
	u := newUnit(t, Config{})

	_, err := u.Read("ghost", at(1))
	assert.ErrorIs(t, err, capserr.ErrUnknownBinding)
	_, err = u.Use("ghost", at(1))
	assert.ErrorIs(t, err, capserr.ErrUnknownBinding)

	declare(t, u, "x", "u32", 1)
	_, err = u.Declare("x", typeclass.MustParseType("u32"), at(2))
	assert.ErrorIs(t, err, capserr.ErrDuplicateBinding)

	_, err = u.ExitBlock(at(3))
	assert.ErrorIs(t, err, capserr.ErrScopeUnderflow)
	_, err = u.EndFunction(context.Background(), at(3))
	assert.ErrorIs(t, err, capserr.ErrScopeUnderflow)
	assert.ErrorIs(t, u.NextArm(), capserr.ErrScopeUnderflow)
	assert.ErrorIs(t, u.ExitThread(), capserr.ErrScopeUnderflow)

	err = u.RequireInRange(at(4), discharge.Opaque{Text: "a + b"}, 0, 1)
	assert.ErrorIs(t, err, capserr.ErrUnsupportedSubject)

	finish(t, u)
	_, err = u.Read("x", at(5))
	assert.ErrorIs(t, err, capserr.ErrUnitFinished)
	_, err = u.Finish(context.Background())
	assert.ErrorIs(t, err, capserr.ErrUnitFinished)
}

func TestShadowingInBlocks(t *testing.T) {
	u := newUnit(t, Config{})
	declare(t, u, "x", "Socket", 1)

	require.NoError(t, u.EnterBlock(at(2)))
	b := declare(t, u, "x", "u32", 3)
	assert.False(t, b.Mode.HasCapability())

	v, err := u.Consume("x", at(4))
	require.NoError(t, err)
	assert.Nil(t, v, "inner x carries no capability")

	leaks, err := u.ExitBlock(at(5))
	require.NoError(t, err)
	assert.Empty(t, leaks)

	_, err = u.Consume("x", at(6))
	require.NoError(t, err)
	st, err := u.Capability("x")
	require.NoError(t, err)
	assert.Equal(t, capability.Consumed, st)

	assert.True(t, finish(t, u).Accepted)
}

func TestTopLevelLeakNeedsFinish(t *testing.T) {
	u := newUnit(t, Config{})
	declare(t, u, "s", "Socket", 1)
	assert.Empty(t, u.Violations())

	r := finish(t, u)
	require.Len(t, r.Violations, 1)
	assert.Equal(t, violation.ResourceLeak, r.Violations[0].Kind)
	assert.Equal(t, at(1), r.Violations[0].Span)
}

func TestFinishClosesOpenFrames(t *testing.T) {
	u := newUnit(t, Config{})
	require.NoError(t, u.BeginFunction("f", at(1)))
	require.NoError(t, u.EnterBlock(at(2)))
	declare(t, u, "a", "Socket", 3)
	declare(t, u, "b", "tensor<f32>", 4)

	r := finish(t, u)
	assert.Equal(t, []violation.Kind{violation.ResourceLeak, violation.ResourceLeak}, kinds(r.Violations))
	require.Len(t, r.Decls, 1)
	assert.Equal(t, "f", r.Decls[0].Name)
}

func concurrentUses(t *testing.T, u *Unit) {
	t.Helper()
	declare(t, u, "s", "Socket", 1)
	_, err := u.Use("s", at(2))
	require.NoError(t, err)

	require.NoError(t, u.EnterThread("worker"))
	_, err = u.Use("s", at(3))
	require.NoError(t, err)
	require.NoError(t, u.ExitThread())

	_, err = u.Consume("s", at(4))
	require.NoError(t, err)
}

func TestConcurrentUseStrictAndDeferred(t *testing.T) {
	for _, strict := range []bool{true, false} {
		u := newUnit(t, Config{StrictMode: strict})
		concurrentUses(t, u)

		r := finish(t, u)
		require.Len(t, r.Violations, 1, "strict=%v", strict)
		v := r.Violations[0]
		assert.Equal(t, violation.ConcurrentUseWithoutSync, v.Kind)
		assert.Equal(t, [2]violation.ThreadTag{"main", "worker"}, v.Threads)
		assert.Equal(t, at(3), v.Span)
		assert.Equal(t, diagnostic.CodeConcurrentUse, r.Diagnostics[0].Code)
	}
}

func TestConcurrentUseEagerInStrictMode(t *testing.T) {
	u := newUnit(t, Config{StrictMode: true})
	declare(t, u, "s", "Socket", 1)
	_, err := u.Use("s", at(2))
	require.NoError(t, err)

	require.NoError(t, u.EnterThread("worker"))
	v, err := u.Use("s", at(3))
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, violation.ConcurrentUseWithoutSync, v.Kind)
}

func TestSyncAndShareSuppressConcurrency(t *testing.T) {
	u := newUnit(t, Config{})
	declare(t, u, "a", "Socket", 1)
	declare(t, u, "b", "Socket", 1)

	_, err := u.Share("a", at(2))
	require.NoError(t, err)
	_, err = u.Use("a", at(3))
	require.NoError(t, err)
	_, err = u.Use("b", at(3))
	require.NoError(t, err)
	require.NoError(t, u.Sync(at(4)))

	require.NoError(t, u.EnterThread("worker"))
	_, err = u.Use("a", at(5))
	require.NoError(t, err)
	_, err = u.Consume("b", at(6))
	require.NoError(t, err)
	require.NoError(t, u.ExitThread())
	_, err = u.Consume("a", at(7))
	require.NoError(t, err)

	assert.True(t, finish(t, u).Accepted)
}

func TestBranchMerge(t *testing.T) {
	u := newUnit(t, Config{})
	declare(t, u, "buf", "Buffer", 1)
	declare(t, u, "s", "Socket", 1)

	require.NoError(t, u.BeginBranch())
	_, err := u.Move("buf", at(2))
	require.NoError(t, err)
	_, err = u.Consume("s", at(2))
	require.NoError(t, err)
	require.NoError(t, u.NextArm())

	st, err := u.Ownership("buf")
	require.NoError(t, err)
	assert.Equal(t, ownership.Owned, st, "each arm starts from the entry state")

	_, err = u.Consume("s", at(3))
	require.NoError(t, err)
	require.NoError(t, u.EndBranch(at(4)))

	st, err = u.Ownership("buf")
	require.NoError(t, err)
	assert.Equal(t, ownership.Unknown, st)

	v, err := u.Read("buf", at(5))
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "may have been moved on another path", v.Reason)
	assert.Equal(t, at(2), *v.Conflict)

	cs, err := u.Capability("s")
	require.NoError(t, err)
	assert.Equal(t, capability.Consumed, cs)
}

func TestIfWithoutElseKeepsCapabilityAlive(t *testing.T) {
	u := newUnit(t, Config{})
	declare(t, u, "s", "Socket", 1)

	require.NoError(t, u.BeginBranch())
	_, err := u.Consume("s", at(2))
	require.NoError(t, err)
	require.NoError(t, u.EndBranch(at(3)))

	cs, err := u.Capability("s")
	require.NoError(t, err)
	assert.Equal(t, capability.InUse, cs)

	r := finish(t, u)
	assert.Equal(t, []violation.Kind{violation.ResourceLeak}, kinds(r.Violations))
}

func TestUseAfterConsumeOnOneArm(t *testing.T) {
	u := newUnit(t, Config{})
	declare(t, u, "s", "Socket", 1)

	require.NoError(t, u.BeginBranch())
	_, err := u.Consume("s", at(2))
	require.NoError(t, err)
	require.NoError(t, u.EndBranch(at(3)))

	v, err := u.Use("s", at(4))
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, violation.UseAfterConsumption, v.Kind)
	assert.Equal(t, "may have been consumed on another path", v.Reason)
	assert.Equal(t, at(2), *v.Conflict)

	v, err = u.Consume("s", at(5))
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, violation.UseAfterConsumption, v.Kind)

	r := finish(t, u)
	assert.False(t, r.Accepted)
	assert.Equal(t, []violation.Kind{violation.UseAfterConsumption, violation.UseAfterConsumption}, kinds(r.Violations))
}

func TestBorrowOnOneArmStaysUsable(t *testing.T) {
	u := newUnit(t, Config{})
	declare(t, u, "buf", "Buffer", 1)

	require.NoError(t, u.BeginBranch())
	_, err := u.Borrow("buf", at(2), false)
	require.NoError(t, err)
	require.NoError(t, u.EndBranch(at(3)))

	st, err := u.Ownership("buf")
	require.NoError(t, err)
	assert.Equal(t, ownership.BorrowedImmut, st)

	v, err := u.Read("buf", at(4))
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = u.Borrow("buf", at(5), true)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, violation.BorrowExclusivity, v.Kind)
	assert.Equal(t, at(2), *v.Conflict)
}

func TestAccessesOnSiblingArmsAreNotConcurrent(t *testing.T) {
	for _, strict := range []bool{false, true} {
		u := newUnit(t, Config{StrictMode: strict})
		declare(t, u, "s", "Socket", 1)

		require.NoError(t, u.BeginBranch())
		require.NoError(t, u.EnterThread("worker"))
		v, err := u.Consume("s", at(2))
		require.NoError(t, err)
		assert.Nil(t, v)
		require.NoError(t, u.ExitThread())
		require.NoError(t, u.NextArm())
		v, err = u.Consume("s", at(3))
		require.NoError(t, err)
		assert.Nil(t, v, "strict=%v", strict)
		require.NoError(t, u.EndBranch(at(4)))

		r := finish(t, u)
		assert.True(t, r.Accepted, "strict=%v", strict)
		assert.Empty(t, r.Violations, "strict=%v", strict)
	}
}

func TestShapeThroughUnit(t *testing.T) {
	u := newUnit(t, Config{})
	ctx := context.Background()

	h, err := u.FreshHandle(ctx, "img")
	require.NoError(t, err)
	require.NoError(t, u.AssertShape(ctx, h, []uint64{3, 224, 224}))
	require.NoError(t, u.RequireShape(at(2), h, []uint64{3, 224, 224}))
	require.NoError(t, u.RequireShape(at(3), h, []uint64{3, 224, 225}))

	r := finish(t, u)
	require.Len(t, r.Violations, 1)
	assert.Equal(t, violation.ProofRefuted, r.Violations[0].Kind)
	assert.Equal(t, at(3), r.Violations[0].Span)
	assert.Equal(t, 1, r.Proofs.Len())
}

func TestViolationsAreCountedOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	u := newUnit(t, Config{StrictMode: true}, WithMetrics(m))
	concurrentUses(t, u)
	r := finish(t, u)

	require.Len(t, r.Violations, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Violations.WithLabelValues("ConcurrentUseWithoutSync")))
}

func TestUndecidedIsNeverAccepted(t *testing.T) {
	u := newUnit(t, Config{UnknownAsError: true})
	v := violation.New(violation.SolverTimeout, "", at(1), position.Span{})
	u.collect(v)

	r := finish(t, u)
	assert.False(t, r.Accepted)
	assert.Equal(t, diagnostic.LevelError, r.Diagnostics[0].Level)

	u = newUnit(t, Config{})
	u.collect(violation.New(violation.SolverTimeout, "", at(1), position.Span{}))
	r = finish(t, u)
	assert.True(t, r.Accepted, "warnings alone do not reject the unit")
	assert.Equal(t, diagnostic.LevelWarning, r.Diagnostics[0].Level)
}
