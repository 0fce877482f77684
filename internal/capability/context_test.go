package capability

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	capserr "github.com/orizon-lang/capsafe/internal/errors"
	"github.com/orizon-lang/capsafe/internal/position"
	"github.com/orizon-lang/capsafe/internal/typeclass"
	"github.com/orizon-lang/capsafe/internal/violation"
)

func at(line int) position.Span {
	return position.At("unit.oz", line, 1)
}

func newScoped(t *testing.T, strict bool, names ...string) *Context {
	t.Helper()
	c := NewContext(Options{Strict: strict})
	c.EnterScope(at(1))
	for _, name := range names {
		require.NoError(t, c.Define(name, typeclass.Socket, at(2)))
	}
	return c
}

func mustUse(t *testing.T, c *Context, name string, line int) *violation.Violation {
	t.Helper()
	v, err := c.Use(name, at(line))
	require.NoError(t, err)
	return v
}

func TestScenarioConsumedBeforeExit(t *testing.T) {
	c := newScoped(t, false, "s")

	assert.Nil(t, mustUse(t, c, "s", 3))
	v, err := c.Consume("s", at(4))
	require.NoError(t, err)
	assert.Nil(t, v)

	leaks, err := c.ExitScope(at(5))
	require.NoError(t, err)
	assert.Empty(t, leaks)
}

func TestScenarioLeakAtExit(t *testing.T) {
	c := newScoped(t, false, "s")
	assert.Nil(t, mustUse(t, c, "s", 3))

	leaks, err := c.ExitScope(at(5))
	require.NoError(t, err)
	require.Len(t, leaks, 1)

	leak := leaks[0]
	assert.Equal(t, violation.ResourceLeak, leak.Kind)
	assert.Equal(t, "s", leak.Binding)
	assert.Equal(t, at(5), leak.Span)
	require.NotNil(t, leak.Conflict)
	assert.Equal(t, at(2), *leak.Conflict)
}

func TestExitScopeCollectsAllLeaks(t *testing.T) {
	c := newScoped(t, false, "a", "b", "c")
	_, err := c.Consume("b", at(3))
	require.NoError(t, err)

	leaks, err := c.ExitScope(at(9))
	require.NoError(t, err)
	require.Len(t, leaks, 2)
	assert.Equal(t, "a", leaks[0].Binding)
	assert.Equal(t, "c", leaks[1].Binding)
}

func TestLeaksOnlyForPoppedFrame(t *testing.T) {
	c := newScoped(t, false, "outer")

	c.EnterScope(at(3))
	require.NoError(t, c.Define("inner", typeclass.Region, at(4)))
	leaks, err := c.ExitScope(at(5))
	require.NoError(t, err)
	require.Len(t, leaks, 1)
	assert.Equal(t, "inner", leaks[0].Binding)

	assert.False(t, c.Has("inner"))
	assert.True(t, c.Has("outer"))
}

func TestUseAfterConsumption(t *testing.T) {
	c := newScoped(t, false, "s")
	_, err := c.Consume("s", at(3))
	require.NoError(t, err)

	v := mustUse(t, c, "s", 4)
	require.NotNil(t, v)
	assert.Equal(t, violation.UseAfterConsumption, v.Kind)
	assert.Equal(t, at(3), *v.Conflict)

	v, err = c.Consume("s", at(5))
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, violation.UseAfterConsumption, v.Kind)
	assert.Equal(t, "consumed twice", v.Reason)

	v, err = c.Share("s", at(6))
	require.NoError(t, err)
	require.NotNil(t, v)

	state, err := c.State("s")
	require.NoError(t, err)
	assert.Equal(t, Consumed, state)
}

func TestLifecycleTransitions(t *testing.T) {
	c := newScoped(t, false, "s")

	state, _ := c.State("s")
	assert.Equal(t, Fresh, state)

	mustUse(t, c, "s", 3)
	mustUse(t, c, "s", 4)
	state, _ = c.State("s")
	assert.Equal(t, InUse, state)

	v, err := c.Share("s", at(5))
	require.NoError(t, err)
	assert.Nil(t, v)
	state, _ = c.State("s")
	assert.Equal(t, InUse, state, "share does not change lifecycle state")
	shared, _ := c.Shared("s")
	assert.True(t, shared)

	history, err := c.History("s")
	require.NoError(t, err)
	kinds := make([]AccessKind, len(history))
	for i, r := range history {
		kinds[i] = r.Kind
	}
	assert.Equal(t, []AccessKind{AccessUse, AccessUse, AccessShare}, kinds)
	assert.Less(t, history[0].Seq, history[1].Seq)
}

func TestConcurrentUseWithoutSync(t *testing.T) {
	for _, strict := range []bool{false, true} {
		c := newScoped(t, strict, "s")

		c.EnterThread("worker")
		eager := mustUse(t, c, "s", 3)
		require.NoError(t, c.ExitThread())
		assert.Nil(t, eager, "a single access never conflicts")

		eager = mustUse(t, c, "s", 4)

		found := c.ValidateAll()
		require.Len(t, found, 1, "strict=%v", strict)
		v := found[0]
		assert.Equal(t, violation.ConcurrentUseWithoutSync, v.Kind)
		assert.Equal(t, at(4), v.Span)
		assert.Equal(t, at(3), *v.Conflict)
		assert.Equal(t, [2]violation.ThreadTag{"worker", violation.MainThread}, v.Threads)

		if strict {
			require.NotNil(t, eager)
			assert.Equal(t, v.Key(), eager.Key())
		} else {
			assert.Nil(t, eager)
		}

		again := c.ValidateAll()
		assert.Len(t, again, 1, "ValidateAll does not change state")
	}
}

func TestSharedSuppressesConcurrency(t *testing.T) {
	c := newScoped(t, false, "s")
	_, err := c.Share("s", at(2))
	require.NoError(t, err)

	c.EnterThread("worker")
	mustUse(t, c, "s", 3)
	require.NoError(t, c.ExitThread())
	mustUse(t, c, "s", 4)

	assert.Empty(t, c.ValidateAll())
}

func TestSyncSeparatesWindows(t *testing.T) {
	c := newScoped(t, true, "s")

	c.EnterThread("worker")
	mustUse(t, c, "s", 3)
	require.NoError(t, c.ExitThread())

	c.Sync(at(4))
	assert.Nil(t, mustUse(t, c, "s", 5))
	assert.Empty(t, c.ValidateAll())

	history, _ := c.History("s")
	require.Len(t, history, 3)
	assert.Equal(t, AccessSync, history[1].Kind)
}

func TestOneViolationPerThreadPair(t *testing.T) {
	c := newScoped(t, false, "s")

	c.EnterThread("a")
	mustUse(t, c, "s", 3)
	require.NoError(t, c.ExitThread())
	c.EnterThread("b")
	mustUse(t, c, "s", 4)
	mustUse(t, c, "s", 5)
	require.NoError(t, c.ExitThread())
	c.EnterThread("a")
	mustUse(t, c, "s", 6)
	require.NoError(t, c.ExitThread())
	mustUse(t, c, "s", 7)

	found := c.ValidateAll()
	require.Len(t, found, 3)

	pairs := map[[2]violation.ThreadTag]bool{}
	for _, v := range found {
		pairs[v.Threads] = true
	}
	assert.True(t, pairs[[2]violation.ThreadTag{"a", "b"}])
	assert.True(t, pairs[[2]violation.ThreadTag{"a", violation.MainThread}])
	assert.True(t, pairs[[2]violation.ThreadTag{"b", violation.MainThread}])
}

func TestMoveAndBorrowDoNotConflict(t *testing.T) {
	c := newScoped(t, false, "s")

	c.EnterThread("worker")
	require.NoError(t, c.Note("s", AccessBorrow, at(3)))
	require.NoError(t, c.ExitThread())
	require.NoError(t, c.Note("s", AccessMove, at(4)))

	assert.Empty(t, c.ValidateAll())
}

func TestNonStrictScansAtExit(t *testing.T) {
	c := newScoped(t, false, "s")

	c.EnterThread("worker")
	mustUse(t, c, "s", 3)
	require.NoError(t, c.ExitThread())
	mustUse(t, c, "s", 4)
	_, err := c.Consume("s", at(5))
	require.NoError(t, err)

	found, err := c.ExitScope(at(6))
	require.NoError(t, err)
	require.Len(t, found, 1, "worker/main pair on use and on consume share one report")
	assert.Equal(t, violation.ConcurrentUseWithoutSync, found[0].Kind)
	assert.Equal(t, at(4), found[0].Span)
}

func TestStrictDoesNotRescanAtExit(t *testing.T) {
	c := newScoped(t, true, "s")

	c.EnterThread("worker")
	mustUse(t, c, "s", 3)
	require.NoError(t, c.ExitThread())
	require.NotNil(t, mustUse(t, c, "s", 4))
	_, err := c.Consume("s", at(5))
	require.NoError(t, err)

	found, err := c.ExitScope(at(6))
	require.NoError(t, err)
	assert.Empty(t, found)
	assert.Len(t, c.ValidateAll(), 1, "popped bindings are still scanned")
}

func TestContractErrors(t *testing.T) {
	c := NewContext(Options{})

	_, err := c.Use("ghost", at(1))
	assert.True(t, errors.Is(err, capserr.ErrUnknownBinding))
	_, err = c.Consume("ghost", at(1))
	assert.True(t, errors.Is(err, capserr.ErrUnknownBinding))
	_, err = c.Share("ghost", at(1))
	assert.True(t, errors.Is(err, capserr.ErrUnknownBinding))
	assert.True(t, errors.Is(c.Note("ghost", AccessMove, at(1)), capserr.ErrUnknownBinding))

	require.NoError(t, c.Define("s", typeclass.Socket, at(1)))
	assert.True(t, errors.Is(c.Define("s", typeclass.Socket, at(2)), capserr.ErrDuplicateBinding))
	assert.True(t, errors.Is(c.ExitThread(), capserr.ErrScopeUnderflow))

	leaks, err := c.ExitScope(position.Span{})
	require.NoError(t, err)
	require.Len(t, leaks, 1)
	assert.Equal(t, at(1), leaks[0].Span, "without an end span the leak points at the definition")

	_, err = c.ExitScope(position.Span{})
	assert.True(t, errors.Is(err, capserr.ErrScopeUnderflow))
	assert.True(t, errors.Is(c.Define("t", typeclass.Socket, at(3)), capserr.ErrScopeUnderflow))
}

func TestMergeBranches(t *testing.T) {
	c := newScoped(t, false, "s", "t")
	before := c.Snapshot()

	_, err := c.Consume("s", at(3))
	require.NoError(t, err)
	_, err = c.Consume("t", at(3))
	require.NoError(t, err)
	thenArm := c.Snapshot()

	c.Restore(before)
	_, err = c.Consume("t", at(5))
	require.NoError(t, err)
	_, err = c.Share("s", at(5))
	require.NoError(t, err)
	elseArm := c.Snapshot()

	c.Merge(thenArm, elseArm)

	state, _ := c.State("s")
	assert.Equal(t, InUse, state, "consumed on one arm only")
	shared, _ := c.Shared("s")
	assert.True(t, shared)

	state, _ = c.State("t")
	assert.Equal(t, Consumed, state)

	leaks, err := c.ExitScope(at(8))
	require.NoError(t, err)
	require.Len(t, leaks, 1)
	assert.Equal(t, "s", leaks[0].Binding)
}

func TestConsumedOnOneArm(t *testing.T) {
	c := newScoped(t, false, "s")
	before := c.Snapshot()

	_, err := c.Consume("s", at(3))
	require.NoError(t, err)
	thenArm := c.Snapshot()
	c.Restore(before)
	elseArm := c.Snapshot()
	c.Merge(thenArm, elseArm)

	state, _ := c.State("s")
	assert.Equal(t, InUse, state)

	v := mustUse(t, c, "s", 5)
	require.NotNil(t, v)
	assert.Equal(t, violation.UseAfterConsumption, v.Kind)
	assert.Equal(t, "may have been consumed on another path", v.Reason)
	assert.Equal(t, at(3), *v.Conflict)

	v, err = c.Share("s", at(6))
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, violation.UseAfterConsumption, v.Kind)

	v, err = c.Consume("s", at(7))
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, violation.UseAfterConsumption, v.Kind)
	assert.Equal(t, at(3), *v.Conflict)

	state, _ = c.State("s")
	assert.Equal(t, Consumed, state)
	leaks, err := c.ExitScope(at(8))
	require.NoError(t, err)
	assert.Empty(t, leaks, "the final consume covers the arm that skipped the first")
}

func TestConsumedOnEveryArmThenUsed(t *testing.T) {
	c := newScoped(t, false, "s")
	before := c.Snapshot()

	_, err := c.Consume("s", at(3))
	require.NoError(t, err)
	thenArm := c.Snapshot()
	c.Restore(before)
	_, err = c.Consume("s", at(4))
	require.NoError(t, err)
	elseArm := c.Snapshot()
	c.Merge(thenArm, elseArm)

	v := mustUse(t, c, "s", 6)
	require.NotNil(t, v)
	assert.Equal(t, violation.UseAfterConsumption, v.Kind)
	assert.Empty(t, v.Reason)
	assert.Equal(t, at(3), *v.Conflict)
}

func TestSiblingArmsDoNotConflict(t *testing.T) {
	for _, strict := range []bool{false, true} {
		c := newScoped(t, strict, "s")

		c.EnterBranch()
		c.EnterThread("worker")
		assert.Nil(t, mustUse(t, c, "s", 3))
		require.NoError(t, c.ExitThread())
		require.NoError(t, c.NextArm())
		assert.Nil(t, mustUse(t, c, "s", 4), "strict=%v", strict)
		require.NoError(t, c.ExitBranch(at(5)))

		assert.Empty(t, c.ValidateAll(), "strict=%v", strict)

		history, _ := c.History("s")
		require.Len(t, history, 2)
		assert.Equal(t, []ArmRef{{Branch: 1, Arm: 0}}, history[0].Path)
		assert.Equal(t, []ArmRef{{Branch: 1, Arm: 1}}, history[1].Path)

		eager := mustUse(t, c, "s", 6)
		found := c.ValidateAll()
		require.Len(t, found, 1, "strict=%v", strict)
		assert.Equal(t, at(6), found[0].Span)
		assert.Equal(t, at(3), *found[0].Conflict)
		if strict {
			require.NotNil(t, eager)
			assert.Equal(t, found[0].Key(), eager.Key())
		}
	}
}

func TestNestedBranchesConflictWithinOneArm(t *testing.T) {
	c := newScoped(t, false, "s")

	c.EnterBranch()
	c.EnterThread("worker")
	mustUse(t, c, "s", 3)
	require.NoError(t, c.ExitThread())
	c.EnterBranch()
	mustUse(t, c, "s", 4)
	require.NoError(t, c.ExitBranch(at(5)))
	require.NoError(t, c.NextArm())
	mustUse(t, c, "s", 6)
	require.NoError(t, c.ExitBranch(at(7)))

	found := c.ValidateAll()
	require.Len(t, found, 1)
	assert.Equal(t, at(4), found[0].Span)
	assert.Equal(t, at(3), *found[0].Conflict)
}

func TestSyncOnOneArmDoesNotSeparate(t *testing.T) {
	c := newScoped(t, false, "s")

	c.EnterThread("worker")
	mustUse(t, c, "s", 3)
	require.NoError(t, c.ExitThread())

	c.EnterBranch()
	c.Sync(at(4))
	require.NoError(t, c.NextArm())
	require.NoError(t, c.ExitBranch(at(5)))
	mustUse(t, c, "s", 6)

	found := c.ValidateAll()
	require.Len(t, found, 1)
	assert.Equal(t, at(6), found[0].Span)
}

func TestSyncOnEveryArmSeparates(t *testing.T) {
	c := newScoped(t, false, "s")

	c.EnterThread("worker")
	mustUse(t, c, "s", 3)
	require.NoError(t, c.ExitThread())

	c.EnterBranch()
	c.Sync(at(4))
	require.NoError(t, c.NextArm())
	c.Sync(at(5))
	require.NoError(t, c.ExitBranch(at(6)))
	mustUse(t, c, "s", 7)

	assert.Empty(t, c.ValidateAll())

	err := c.NextArm()
	assert.True(t, errors.Is(err, capserr.ErrScopeUnderflow))
	err = c.ExitBranch(at(8))
	assert.True(t, errors.Is(err, capserr.ErrScopeUnderflow))
}
