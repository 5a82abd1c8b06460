package flow

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Groups messages into batches of "size", flushing the remainder on close.
func Batcher[T any](name string, size int) *Vertex[T, []T] {
	if size <= 0 {
		size = 1
	}
	var buf []T

	out := NewVertex(name, func(ctx context.Context, msg T, out *Topic[[]T]) error {
		buf = append(buf, msg)
		if len(buf) < size {
			return nil
		}
		batch := buf
		buf = nil
		return out.Publish(ctx, batch)
	})

	out.OnClose = func(ctx context.Context, out *Topic[[]T]) error {
		if len(buf) == 0 {
			return nil
		}
		batch := buf
		buf = nil
		return out.Publish(ctx, batch)
	}
	return out
}

/*
Like "Batcher", but also flushes a non-empty buffer every "Every" interval.
The interval timer runs in ".Run", which must be started alongside the
sources, typically via "Coordinator.Go". ".Run" returns once the throttler has
been closed. Timed flushes go to the topic the throttler last published on,
which is the combinator's topic when it's nested in "Combinator".
*/
type Throttler[T any] struct {
	*Vertex[T, []T]
	Size  int
	Every time.Duration

	lock      sync.Mutex
	buf       []T
	out       *Topic[[]T]
	closed    chan struct{}
	closeOnce sync.Once
}

func NewThrottler[T any](name string, size int, every time.Duration) *Throttler[T] {
	if size <= 0 {
		size = 1
	}
	self := &Throttler[T]{Size: size, Every: every, closed: make(chan struct{})}

	self.Vertex = NewVertex(name, func(ctx context.Context, msg T, out *Topic[[]T]) error {
		self.lock.Lock()
		defer self.lock.Unlock()

		self.out = out
		self.buf = append(self.buf, msg)
		if len(self.buf) < self.Size {
			return nil
		}
		return self.flushLocked(ctx)
	})

	self.Vertex.OnClose = func(ctx context.Context, out *Topic[[]T]) error {
		defer self.closeOnce.Do(func() { close(self.closed) })

		self.lock.Lock()
		defer self.lock.Unlock()

		self.out = out
		return self.flushLocked(ctx)
	}
	return self
}

// Flushes on every tick until closed. Implements "Runner".
func (self *Throttler[T]) Run(ctx context.Context) error {
	if self.Every <= 0 {
		return errors.Errorf(`throttler %q requires a positive interval`, self.Topic.Name)
	}

	ticker := time.NewTicker(self.Every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-self.closed:
			return nil
		case <-ticker.C:
			self.lock.Lock()
			err := self.flushLocked(ctx)
			self.lock.Unlock()
			if err != nil && !errors.Is(err, ErrStopped) {
				return err
			}
		}
	}
}

func (self *Throttler[T]) flushLocked(ctx context.Context) error {
	if len(self.buf) == 0 {
		return nil
	}
	out := self.out
	if out == nil {
		out = self.Topic
	}
	batch := self.buf
	self.buf = nil
	return out.Publish(ctx, batch)
}

// Publishes the running count of received messages after every "freq" of them.
func Counter[T any](name string, freq int) *Vertex[T, int] {
	if freq <= 0 {
		freq = 1
	}
	var count int

	return NewVertex(name, func(ctx context.Context, _ T, out *Topic[int]) error {
		count++
		if count%freq != 0 {
			return nil
		}
		return out.Publish(ctx, count)
	})
}

// Forwards the first message of every "n", dropping the rest.
func Skipper[T any](name string, n int) *Vertex[T, T] {
	if n <= 0 {
		n = 1
	}
	var count int

	return NewVertex(name, func(ctx context.Context, msg T, out *Topic[T]) error {
		skip := count%n != 0
		count++
		if skip {
			return nil
		}
		return out.Publish(ctx, msg)
	})
}

// Publishes the result of applying the function to each message.
func Map[In, Out any](name string, fun func(context.Context, In) (Out, error)) *Vertex[In, Out] {
	return NewVertex(name, func(ctx context.Context, msg In, out *Topic[Out]) error {
		val, err := fun(ctx, msg)
		if err != nil {
			return err
		}
		return out.Publish(ctx, val)
	})
}

// Publishes only the messages satisfying the predicate.
func Filter[T any](name string, fun func(T) bool) *Vertex[T, T] {
	return NewVertex(name, func(ctx context.Context, msg T, out *Topic[T]) error {
		if !fun(msg) {
			return nil
		}
		return out.Publish(ctx, msg)
	})
}

/*
Runs several vertices as one: each message goes through the transform of every
inner vertex, in order, and all of their outputs are published on the
combinator's topic. On close, runs the close hooks of the inner vertices. The
inner vertices must not be connected elsewhere.
*/
func Combinator[In, Out any](name string, inner ...*Vertex[In, Out]) *Vertex[In, Out] {
	out := NewVertex(name, func(ctx context.Context, msg In, out *Topic[Out]) error {
		for _, vert := range inner {
			err := vert.Transform(ctx, msg, out)
			if err != nil {
				return err
			}
		}
		return nil
	})

	out.OnClose = func(ctx context.Context, out *Topic[Out]) error {
		for _, vert := range inner {
			if vert.OnClose == nil {
				continue
			}
			err := vert.OnClose(ctx, out)
			if err != nil {
				return err
			}
		}
		return nil
	}
	return out
}

// Sink that keeps every received message in memory.
type Collector[T any] struct {
	Inlet[T]

	lock  sync.Mutex
	items []T
}

func NewCollector[T any]() *Collector[T] {
	self := &Collector[T]{}
	self.Inlet.OnMessage = func(_ context.Context, msg T) error {
		self.lock.Lock()
		defer self.lock.Unlock()
		self.items = append(self.items, msg)
		return nil
	}
	return self
}

// Returns a copy of the messages received so far.
func (self *Collector[T]) Items() []T {
	self.lock.Lock()
	defer self.lock.Unlock()
	return slices.Clone(self.items)
}

// Sink that calls the function for every message.
func FuncSink[T any](fun func(context.Context, T) error) *Inlet[T] {
	return &Inlet[T]{OnMessage: fun}
}
