package flow

import (
	"context"
	"math"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runGraph(t *testing.T, source Runner, sinks ...Stoppable) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := Run(ctx, 0, func(co *Coordinator) error {
		co.Go("source", source)
		co.Watch(sinks...)
		return nil
	})
	require.NoError(t, err)
}

func TestRange_Batcher(t *testing.T) {
	nums := Range("nums", 0, 25, 1, 0)
	batches := Connect(nums.Topic, Batcher[uint64]("batches", 10))
	out := Connect(batches.Topic, NewCollector[[]uint64]())

	runGraph(t, nums, out)

	items := out.Items()
	require.Len(t, items, 3)
	assert.Len(t, items[0], 10)
	assert.Len(t, items[1], 10)
	assert.Equal(t, []uint64{20, 21, 22, 23, 24}, items[2])
	assert.True(t, batches.Topic.IsStopped())
}

func TestRange_step_and_delay(t *testing.T) {
	nums := Range("nums", 3, 12, 4, time.Millisecond)
	out := Connect(nums.Topic, NewCollector[uint64]())

	runGraph(t, nums, out)
	assert.Equal(t, []uint64{3, 7, 11}, out.Items())
}

func TestCounter(t *testing.T) {
	nums := Range("nums", 0, 100, 1, 0)
	counts := Connect(nums.Topic, Counter[uint64]("counts", 25))
	out := Connect(counts.Topic, NewCollector[int]())

	runGraph(t, nums, out)
	assert.Equal(t, []int{25, 50, 75, 100}, out.Items())
}

func TestSkipper(t *testing.T) {
	nums := Range("nums", 0, 10, 1, 0)
	skipped := Connect(nums.Topic, Skipper[uint64]("skipped", 3))
	out := Connect(skipped.Topic, NewCollector[uint64]())

	runGraph(t, nums, out)
	assert.Equal(t, []uint64{0, 3, 6, 9}, out.Items())
}

func TestMap_Filter(t *testing.T) {
	nums := Range("nums", 0, 6, 1, 0)
	even := Connect(nums.Topic, Filter("even", func(num uint64) bool { return num%2 == 0 }))
	squares := Connect(even.Topic, Map("squares", func(_ context.Context, num uint64) (uint64, error) {
		return num * num, nil
	}))
	out := Connect(squares.Topic, NewCollector[uint64]())

	runGraph(t, nums, out)
	assert.Equal(t, []uint64{0, 4, 16}, out.Items())
}

func TestRange_near_max_uint64(t *testing.T) {
	nums := Range("max", math.MaxUint64-3, math.MaxUint64, 2, 0)
	out := Connect(nums.Topic, NewCollector[uint64]())
	runGraph(t, nums, out)
	assert.Equal(t, []uint64{math.MaxUint64 - 3, math.MaxUint64 - 1}, out.Items())

	empty := Range("empty", 5, 5, 1, 0)
	none := Connect(empty.Topic, NewCollector[uint64]())
	runGraph(t, empty, none)
	assert.Empty(t, none.Items())
}

func TestCombinator(t *testing.T) {
	nums := Range("nums", 0, 5, 1, 0)
	double := Map("double", func(_ context.Context, num uint64) (int, error) { return int(num) * 2, nil })
	combined := Connect(nums.Topic, Combinator("combined", double, Counter[uint64]("count", 5)))
	out := Connect(combined.Topic, NewCollector[int]())

	runGraph(t, nums, out)
	assert.Equal(t, []int{0, 2, 4, 6, 8, 5}, out.Items())
	assert.False(t, double.Topic.IsStopped())
}

func TestCombinator_runs_inner_close_hooks(t *testing.T) {
	nums := Range("nums", 0, 7, 1, 0)
	combined := Connect(nums.Topic, Combinator("combined", Batcher[uint64]("batches", 3)))
	out := Connect(combined.Topic, NewCollector[[]uint64]())

	runGraph(t, nums, out)
	assert.Equal(t, [][]uint64{{0, 1, 2}, {3, 4, 5}, {6}}, out.Items())
}

func TestInlet_stops_after_every_source(t *testing.T) {
	ctx := context.Background()
	one := NewTopic[int]("one")
	two := NewTopic[int]("two")

	var stops atomic.Int32
	sink := &Inlet[int]{OnStop: func(context.Context) error {
		stops.Add(1)
		return nil
	}}
	Connect(one, sink)
	Connect(two, sink)

	require.NoError(t, one.Stop(ctx))
	assert.False(t, sink.Stopped())

	require.NoError(t, two.Publish(ctx, 1))
	require.NoError(t, two.Stop(ctx))
	require.NoError(t, two.Stop(ctx))
	assert.True(t, sink.Stopped())
	assert.Equal(t, int32(1), stops.Load())

	select {
	case <-sink.Done():
	default:
		t.Fatal("expected the sink to be done")
	}

	err := one.Publish(ctx, 2)
	assert.ErrorIs(t, err, ErrStopped)
}

func TestTopic_sink_errors(t *testing.T) {
	topic := NewTopic[int]("nums")
	Connect(topic, FuncSink(func(_ context.Context, num int) error {
		if num > 1 {
			return errors.New("too large")
		}
		return nil
	}))

	ctx := context.Background()
	assert.NoError(t, topic.Publish(ctx, 1))
	assert.ErrorContains(t, topic.Publish(ctx, 2), "too large")
	assert.ErrorContains(t, <-topic.PublishAsync(ctx, 3), "too large")

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, topic.Publish(canceled, 1), context.Canceled)
}

func TestThrottler(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	src := NewTopic[int]("src")
	throttler := Connect(src, NewThrottler[int]("throttled", 100, 5*time.Millisecond))
	out := Connect(throttler.Topic, NewCollector[[]int]())

	ran := make(chan error, 1)
	go func() { ran <- throttler.Run(ctx) }()

	for num := range 3 {
		require.NoError(t, src.Publish(ctx, num))
	}
	require.Eventually(t, func() bool { return len(out.Items()) > 0 }, time.Second, time.Millisecond)

	require.NoError(t, src.Publish(ctx, 3))
	require.NoError(t, src.Stop(ctx))
	require.NoError(t, <-ran)

	assert.Equal(t, []int{0, 1, 2, 3}, slices.Concat(out.Items()...))
	assert.True(t, out.Stopped())
}

func TestThrottler_flushes_full_batches(t *testing.T) {
	nums := Range("nums", 0, 4, 1, 0)
	throttler := Connect(nums.Topic, NewThrottler[uint64]("throttled", 2, time.Hour))
	out := Connect(throttler.Topic, NewCollector[[]uint64]())

	runGraph(t, nums, out)
	assert.Equal(t, [][]uint64{{0, 1}, {2, 3}}, out.Items())
}

func TestThrottler_in_combinator(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	src := NewTopic[int]("src")
	throttler := NewThrottler[int]("throttled", 100, 5*time.Millisecond)
	combined := Connect(src, Combinator("combined", throttler.Vertex))
	out := Connect(combined.Topic, NewCollector[[]int]())

	ran := make(chan error, 1)
	go func() { ran <- throttler.Run(ctx) }()

	for num := range 3 {
		require.NoError(t, src.Publish(ctx, num))
	}

	// Only a timed flush can deliver these.
	require.Eventually(t, func() bool { return len(out.Items()) > 0 }, time.Second, time.Millisecond)

	require.NoError(t, src.Publish(ctx, 3))
	require.NoError(t, src.Stop(ctx))
	require.NoError(t, <-ran)

	assert.Equal(t, []int{0, 1, 2, 3}, slices.Concat(out.Items()...))
	assert.True(t, out.Stopped())
	assert.False(t, throttler.Topic.IsStopped())
}

func TestTimer(t *testing.T) {
	var count atomic.Int32
	timer := Timer("ticks", time.Millisecond, func(context.Context) (int32, error) {
		return count.Add(1), nil
	})
	timer.Limit = 3
	out := Connect(timer.Topic, NewCollector[int32]())

	runGraph(t, timer, out)
	assert.Equal(t, []int32{1, 2, 3}, out.Items())
}

func TestCoordinator_propagates_task_errors(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := Run(ctx, 0, func(co *Coordinator) error {
		co.Go("failing", RunnerFunc(func(context.Context) error {
			return errors.New("boom")
		}))
		co.Go("blocked", RunnerFunc(func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}))
		co.Watch(&Inlet[int]{})
		return nil
	})

	require.Error(t, err)
	assert.ErrorContains(t, err, `task "failing" failed: boom`)
	assert.NotErrorIs(t, err, context.Canceled)
}

func TestCoordinator_parent_cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	err := Run(ctx, 0, func(co *Coordinator) error {
		co.Go("idle", RunnerFunc(func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		}))
		co.Watch(&Inlet[int]{})
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCoordinator_setup_error(t *testing.T) {
	started := make(chan struct{})
	err := Run(context.Background(), 0, func(co *Coordinator) error {
		co.Go("started", RunnerFunc(func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return nil
		}))
		<-started
		return errors.New("invalid graph")
	})
	assert.EqualError(t, err, "invalid graph")
}

func TestCoordinator_limits_concurrency(t *testing.T) {
	var running, peak atomic.Int32
	task := RunnerFunc(func(context.Context) error {
		cur := running.Add(1)
		defer running.Add(-1)
		for {
			prev := peak.Load()
			if cur <= prev || peak.CompareAndSwap(prev, cur) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		return nil
	})

	done := &Inlet[int]{}
	trigger := NewTopic[int]("trigger")
	Connect(trigger, done)

	err := Run(context.Background(), 2, func(co *Coordinator) error {
		for range 8 {
			co.Go("task", task)
		}
		co.Go("finish", RunnerFunc(func(ctx context.Context) error {
			for running.Load() > 0 || peak.Load() == 0 {
				time.Sleep(time.Millisecond)
			}
			return trigger.Stop(ctx)
		}))
		co.Watch(done)
		return nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}
