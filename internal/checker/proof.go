package checker

import (
	"context"

	"github.com/orizon-lang/capsafe/internal/discharge"
	"github.com/orizon-lang/capsafe/internal/position"
	"github.com/orizon-lang/capsafe/internal/smt"
)

// RequireInRange queues the obligation lo <= subject <= hi. It is decided
// when the enclosing function ends, or at Finish.
func (u *Unit) RequireInRange(span position.Span, subject discharge.Subject, lo, hi uint64) error {
	if err := u.live(); err != nil {
		return err
	}
	return u.discharger.Enqueue(discharge.Obligation{
		Kind:    discharge.KindRange,
		Span:    span,
		Subject: subject,
		Lo:      lo,
		Hi:      hi,
	})
}

// RequireShape queues the obligation that subject has exactly dims.
func (u *Unit) RequireShape(span position.Span, subject discharge.Subject, dims []uint64) error {
	if err := u.live(); err != nil {
		return err
	}
	return u.discharger.Enqueue(discharge.Obligation{
		Kind:    discharge.KindShape,
		Span:    span,
		Subject: subject,
		Dims:    append([]uint64(nil), dims...),
	})
}

// FreshHandle allocates a symbolic value in the unit's solver session.
func (u *Unit) FreshHandle(ctx context.Context, prefix string) (discharge.Handle, error) {
	if err := u.live(); err != nil {
		return discharge.Handle{}, err
	}
	return u.discharger.FreshSymbol(ctx, prefix)
}

// AssertShape records the known dimensions of h.
func (u *Unit) AssertShape(ctx context.Context, h discharge.Handle, dims []uint64) error {
	if err := u.live(); err != nil {
		return err
	}
	return u.discharger.AssertShape(ctx, h, dims)
}

// Assume adds a fact about handles, such as a guard that dominates the
// rest of the unit.
func (u *Unit) Assume(ctx context.Context, fact smt.Formula) error {
	if err := u.live(); err != nil {
		return err
	}
	return u.discharger.PushConstraint(ctx, fact)
}

// Pending returns the number of queued obligations.
func (u *Unit) Pending() int {
	return u.discharger.Pending()
}
