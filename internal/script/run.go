package script

import (
	"context"
	"errors"
	"fmt"

	"github.com/orizon-lang/capsafe/internal/checker"
	"github.com/orizon-lang/capsafe/internal/discharge"
	"github.com/orizon-lang/capsafe/internal/position"
	"github.com/orizon-lang/capsafe/internal/typeclass"
	"github.com/orizon-lang/capsafe/internal/violation"
)

// StepError locates the step of a trace that failed, such as
// "steps[2].body[0]".
type StepError struct {
	Where string
	Err   error
}

func (e *StepError) Error() string {
	return e.Where + ": " + e.Err.Error()
}

func (e *StepError) Unwrap() error {
	return e.Err
}

type runner struct {
	unit    *checker.Unit
	file    string
	handles map[string]discharge.Handle
}

// Run replays the steps of s into u. Violations are collected by the unit
// and never stop the replay; the first contract error does.
func Run(ctx context.Context, s *Script, u *checker.Unit) error {
	r := &runner{
		unit:    u,
		file:    s.Unit,
		handles: make(map[string]discharge.Handle),
	}
	return r.steps(ctx, "steps", s.Steps)
}

// Check registers the types of s, replays it into a fresh unit and
// finishes the unit.
func Check(ctx context.Context, s *Script, cfg checker.Config, opts ...checker.Option) (*checker.Report, error) {
	reg, err := s.Registry()
	if err != nil {
		return nil, err
	}

	u := checker.NewUnit(s.Unit, reg, cfg, opts...)
	if err := Run(ctx, s, u); err != nil {
		_, _ = u.Finish(ctx)
		return nil, err
	}
	return u.Finish(ctx)
}

func (r *runner) span(text string) (position.Span, error) {
	if text == "" {
		return position.Span{}, nil
	}
	return position.ParseSpan(r.file, text)
}

func (r *runner) steps(ctx context.Context, path string, steps []Step) error {
	for i := range steps {
		where := fmt.Sprintf("%s[%d]", path, i)
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.step(ctx, where, &steps[i]); err != nil {
			var se *StepError
			if errors.As(err, &se) {
				return err
			}
			return &StepError{Where: where, Err: err}
		}
	}
	return nil
}

// endOr returns the span of step.End, or at when End is absent.
func (r *runner) endOr(step *Step, at position.Span) (position.Span, error) {
	if step.End == "" {
		return at, nil
	}
	return r.span(step.End)
}

func (r *runner) handle(name string) (discharge.Handle, error) {
	h, ok := r.handles[name]
	if !ok {
		return discharge.Handle{}, fmt.Errorf("unknown handle %q", name)
	}
	return h, nil
}

func (r *runner) step(ctx context.Context, where string, step *Step) error {
	at, err := r.span(step.At)
	if err != nil {
		return err
	}
	u := r.unit

	access := func(_ *violation.Violation, err error) error { return err }

	name, _ := step.op()
	switch name {
	case "declare":
		t, err := typeclass.ParseType(step.Type)
		if err != nil {
			return err
		}
		_, err = u.Declare(step.Declare, t, at)
		return err

	case "read":
		return access(u.Read(step.Read, at))
	case "move":
		return access(u.Move(step.Move, at))
	case "borrow":
		return access(u.Borrow(step.Borrow, at, false))
	case "borrow_mut":
		return access(u.Borrow(step.BorrowMut, at, true))
	case "release":
		return u.ReleaseBorrow(step.Release, at)
	case "use":
		return access(u.Use(step.Use, at))
	case "consume":
		return access(u.Consume(step.Consume, at))
	case "share":
		return access(u.Share(step.Share, at))

	case "function":
		if err := u.BeginFunction(step.Function, at); err != nil {
			return err
		}
		if err := r.steps(ctx, where+".body", step.Body); err != nil {
			return err
		}
		end, err := r.endOr(step, at)
		if err != nil {
			return err
		}
		_, err = u.EndFunction(ctx, end)
		return err

	case "block":
		if err := u.EnterBlock(at); err != nil {
			return err
		}
		if err := r.steps(ctx, where+".body", step.Body); err != nil {
			return err
		}
		end, err := r.endOr(step, at)
		if err != nil {
			return err
		}
		_, err = u.ExitBlock(end)
		return err

	case "thread":
		if err := u.EnterThread(violation.ThreadTag(step.Thread)); err != nil {
			return err
		}
		if err := r.steps(ctx, where+".body", step.Body); err != nil {
			return err
		}
		return u.ExitThread()

	case "sync":
		return u.Sync(at)

	case "branch":
		if err := u.BeginBranch(); err != nil {
			return err
		}
		for i, arm := range step.Branch {
			if i > 0 {
				if err := u.NextArm(); err != nil {
					return err
				}
			}
			if err := r.steps(ctx, fmt.Sprintf("%s.branch[%d]", where, i), arm); err != nil {
				return err
			}
		}
		return u.EndBranch(at)

	case "fresh":
		h, err := u.FreshHandle(ctx, step.Fresh)
		if err != nil {
			return err
		}
		r.handles[step.Fresh] = h
		return nil

	case "assert_shape":
		h, err := r.handle(step.AssertShape.Handle)
		if err != nil {
			return err
		}
		return u.AssertShape(ctx, h, step.AssertShape.Dims)

	case "prove_range":
		pr := step.ProveRange
		var subject discharge.Subject
		if pr.Value != nil {
			subject = discharge.IntLit{Value: *pr.Value}
		} else {
			h, err := r.handle(pr.Handle)
			if err != nil {
				return err
			}
			subject = h
		}
		return u.RequireInRange(at, subject, pr.Lo, pr.Hi)

	case "prove_shape":
		h, err := r.handle(step.ProveShape.Handle)
		if err != nil {
			return err
		}
		return u.RequireShape(at, h, step.ProveShape.Dims)
	}

	return fmt.Errorf("no operation")
}
