package checker

import (
	"github.com/orizon-lang/capsafe/internal/capability"
	capserr "github.com/orizon-lang/capsafe/internal/errors"
	"github.com/orizon-lang/capsafe/internal/ownership"
	"github.com/orizon-lang/capsafe/internal/position"
)

// branch is an open if/match. Every arm starts from the entry state; the
// arms' end states are joined when the branch closes. The capability context
// also tags accesses with the arm they occur on, so that accesses on
// different arms are never paired as concurrent.
type branch struct {
	trackers []*ownership.Tracker
	entryOwn []ownership.Snapshot
	entryCap capability.Snapshot

	armsOwn [][]ownership.Snapshot
	armsCap []capability.Snapshot
}

func (u *Unit) trackers() []*ownership.Tracker {
	var out []*ownership.Tracker
	seen := make(map[*ownership.Tracker]bool)
	for _, s := range u.scopes {
		if !seen[s.tracker] {
			seen[s.tracker] = true
			out = append(out, s.tracker)
		}
	}
	return out
}

func snapshots(trackers []*ownership.Tracker) []ownership.Snapshot {
	out := make([]ownership.Snapshot, len(trackers))
	for i, t := range trackers {
		out[i] = t.Snapshot()
	}
	return out
}

// BeginBranch opens a branch; the first arm starts immediately.
func (u *Unit) BeginBranch() error {
	if err := u.live(); err != nil {
		return err
	}
	trackers := u.trackers()
	u.branches = append(u.branches, &branch{
		trackers: trackers,
		entryOwn: snapshots(trackers),
		entryCap: u.caps.Snapshot(),
	})
	u.caps.EnterBranch()
	return nil
}

func (u *Unit) openBranch() (*branch, error) {
	if len(u.branches) == 0 {
		return nil, capserr.ScopeUnderflow("branch")
	}
	return u.branches[len(u.branches)-1], nil
}

func (b *branch) endArm(caps *capability.Context) {
	b.armsOwn = append(b.armsOwn, snapshots(b.trackers))
	b.armsCap = append(b.armsCap, caps.Snapshot())
}

func (b *branch) rewind(caps *capability.Context) {
	for i, t := range b.trackers {
		t.Restore(b.entryOwn[i])
	}
	caps.Restore(b.entryCap)
}

// NextArm ends the current arm and starts the next one from the entry state.
func (u *Unit) NextArm() error {
	if err := u.live(); err != nil {
		return err
	}
	b, err := u.openBranch()
	if err != nil {
		return err
	}
	b.endArm(u.caps)
	b.rewind(u.caps)
	return u.caps.NextArm()
}

// EndBranch ends the last arm and joins all arms. A branch with a single
// arm is an if without else: the entry state is the implicit second arm.
func (u *Unit) EndBranch(span position.Span) error {
	if err := u.live(); err != nil {
		return err
	}
	b, err := u.openBranch()
	if err != nil {
		return err
	}
	u.branches = u.branches[:len(u.branches)-1]
	b.endArm(u.caps)
	if err := u.caps.ExitBranch(span); err != nil {
		return err
	}

	if len(b.armsCap) == 1 {
		b.armsOwn = append(b.armsOwn, b.entryOwn)
		b.armsCap = append(b.armsCap, b.entryCap)
	}

	for i, t := range b.trackers {
		arms := make([]ownership.Snapshot, len(b.armsOwn))
		for j, arm := range b.armsOwn {
			arms[j] = arm[i]
		}
		t.Merge(span, arms...)
	}
	u.caps.Merge(b.armsCap...)
	return nil
}
