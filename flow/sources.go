package flow

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Long-running task started by "Coordinator.Go".
type Runner interface {
	Run(ctx context.Context) error
}

// Adapts a function to "Runner".
type RunnerFunc func(ctx context.Context) error

func (self RunnerFunc) Run(ctx context.Context) error { return self(ctx) }

/*
Publishes the numbers from "Start" up to but excluding "End", advancing by
"Step" and pausing "Delay" between them, then stops its topic.
*/
type RangeSource struct {
	Topic *Topic[uint64]
	Start uint64
	End   uint64
	Step  uint64
	Delay time.Duration
}

func Range(name string, start, end, step uint64, delay time.Duration) *RangeSource {
	return &RangeSource{
		Topic: NewTopic[uint64](name),
		Start: start,
		End:   end,
		Step:  step,
		Delay: delay,
	}
}

// Implements "Runner".
func (self *RangeSource) Run(ctx context.Context) error {
	step := max(self.Step, 1)

	for num := self.Start; num < self.End; num += step {
		if self.Delay > 0 && num > self.Start {
			err := sleep(ctx, self.Delay)
			if err != nil {
				return err
			}
		}

		err := self.Topic.Publish(ctx, num)
		if err != nil {
			return err
		}

		// Comparing distances avoids overflowing "num" near the top of the range.
		if self.End-num <= step {
			break
		}
	}
	return self.Topic.Stop(ctx)
}

/*
Publishes the result of "Generate" every "Every" interval. Runs until the
context is canceled, or until "Limit" messages have been published when it's
positive, in which case it stops its topic.
*/
type TimerSource[T any] struct {
	Topic    *Topic[T]
	Every    time.Duration
	Limit    int
	Generate func(context.Context) (T, error)
}

func Timer[T any](name string, every time.Duration, generate func(context.Context) (T, error)) *TimerSource[T] {
	return &TimerSource[T]{Topic: NewTopic[T](name), Every: every, Generate: generate}
}

// Implements "Runner".
func (self *TimerSource[T]) Run(ctx context.Context) error {
	if self.Every <= 0 {
		return errors.Errorf(`timer %q requires a positive interval`, self.Topic.Name)
	}

	ticker := time.NewTicker(self.Every)
	defer ticker.Stop()

	for count := 0; self.Limit <= 0 || count < self.Limit; count++ {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		val, err := self.Generate(ctx)
		if err != nil {
			return errors.Wrapf(err, `timer %q failed to generate a message`, self.Topic.Name)
		}

		err = self.Topic.Publish(ctx, val)
		if err != nil {
			return err
		}
	}
	return self.Topic.Stop(ctx)
}

func sleep(ctx context.Context, dur time.Duration) error {
	timer := time.NewTimer(dur)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	case <-timer.C:
		return nil
	}
}
