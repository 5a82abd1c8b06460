/*
Dataflow runtime: sources publish typed messages on topics, sinks consume them,
vertices do both. Delivery is synchronous: "Topic.Publish" runs every connected
sink inline and returns after all of them have handled the message, which
gives natural back-pressure. Each sink handles one message at a time.

Shutdown is graceful and explicit. A source that runs out calls "Topic.Stop",
which sends a "Stopped" envelope downstream. A sink connected to several
topics stops after receiving "Stopped" from each of them; a vertex then runs
its close hook and stops its own topic. A "Coordinator" runs the sources and
completes when the sinks it watches have stopped.

	nums := flow.Range("nums", 0, 100, 1, 0)
	batches := flow.Batcher[uint64]("batches", 10)
	out := flow.NewCollector[[]uint64]()
	flow.Connect(nums.Topic, batches)
	flow.Connect(batches.Topic, out)

	err := flow.Run(ctx, 0, func(co *flow.Coordinator) error {
		co.Go("nums", nums)
		co.Watch(out)
		return nil
	})
*/
package flow

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Returned when publishing on a topic after ".Stop".
var ErrStopped = errors.New("topic stopped")

/*
A message in transit. "Sender" is the name of the publishing topic. When
"Stopped" is set, the envelope carries no message and signals that the sender
won't publish again.
*/
type Envelope[T any] struct {
	Sender  string
	Message T
	Stopped bool
}

// Anything with a completion signal. Watched by "Coordinator".
type Stoppable interface {
	Done() <-chan struct{}
}

/*
Consumer of messages of type T. "Attach" is called once per connected topic;
the sink is stopped once it has received as many "Stopped" envelopes. See
"Inlet" for a ready-made implementation.
*/
type Sink[T any] interface {
	Stoppable
	Attach()
	Receive(ctx context.Context, env Envelope[T]) error
}

/*
Reusable sink implementation: counts attached sources, serializes delivery, and
runs "OnStop" when the last source has stopped. Envelopes received after that
are ignored. The zero value is ready to use; a sink without sources never
stops.
*/
type Inlet[T any] struct {
	OnMessage func(ctx context.Context, msg T) error
	OnStop    func(ctx context.Context) error

	lock    sync.Mutex
	sources int
	stopped bool
	done    chan struct{}
}

// Implements "Sink".
func (self *Inlet[T]) Attach() {
	self.lock.Lock()
	defer self.lock.Unlock()
	self.sources++
}

// Implements "Sink".
func (self *Inlet[T]) Receive(ctx context.Context, env Envelope[T]) error {
	self.lock.Lock()
	defer self.lock.Unlock()

	if self.stopped {
		return nil
	}

	if !env.Stopped {
		if self.OnMessage == nil {
			return nil
		}
		return self.OnMessage(ctx, env.Message)
	}

	self.sources--
	if self.sources > 0 {
		return nil
	}

	self.stopped = true
	defer close(self.doneLocked())

	if self.OnStop == nil {
		return nil
	}
	return self.OnStop(ctx)
}

// Implements "Stoppable". Closed once every attached source has stopped.
func (self *Inlet[T]) Done() <-chan struct{} {
	self.lock.Lock()
	defer self.lock.Unlock()
	return self.doneLocked()
}

// True once every attached source has stopped.
func (self *Inlet[T]) Stopped() bool {
	self.lock.Lock()
	defer self.lock.Unlock()
	return self.stopped
}

func (self *Inlet[T]) doneLocked() chan struct{} {
	if self.done == nil {
		self.done = make(chan struct{})
	}
	return self.done
}

/*
Named fan-out point. Every source and vertex publishes on at least one topic;
sinks are connected to topics via "Connect".
*/
type Topic[T any] struct {
	Name string

	lock    sync.RWMutex
	sinks   []Sink[T]
	stopped atomic.Bool
}

func NewTopic[T any](name string) *Topic[T] {
	return &Topic[T]{Name: name}
}

/*
Connects the sink to the topic and attaches it, incrementing its source count.
Connecting one sink to several topics is allowed. Returns the sink, for
chaining. Connect everything before starting the sources.
*/
func Connect[T any, S Sink[T]](topic *Topic[T], sink S) S {
	topic.lock.Lock()
	topic.sinks = append(topic.sinks, sink)
	topic.lock.Unlock()

	sink.Attach()
	return sink
}

/*
Delivers the message to every connected sink, in connection order, and waits
for them. Returns the first sink error.
*/
func (self *Topic[T]) Publish(ctx context.Context, msg T) error {
	if self.stopped.Load() {
		return errors.Wrapf(ErrStopped, `failed to publish on %q`, self.Name)
	}
	return self.deliver(ctx, Envelope[T]{Sender: self.Name, Message: msg})
}

/*
Like "Publish", but doesn't wait. The returned channel receives the outcome
and is then closed. Ordering relative to other publications is not preserved.
*/
func (self *Topic[T]) PublishAsync(ctx context.Context, msg T) <-chan error {
	out := make(chan error, 1)
	go func() {
		defer close(out)
		out <- self.Publish(ctx, msg)
	}()
	return out
}

/*
Sends the "Stopped" envelope to every connected sink. Later calls do nothing,
and later publications fail with "ErrStopped".
*/
func (self *Topic[T]) Stop(ctx context.Context) error {
	if !self.stopped.CompareAndSwap(false, true) {
		return nil
	}
	return self.deliver(ctx, Envelope[T]{Sender: self.Name, Stopped: true})
}

// True once ".Stop" has been called.
func (self *Topic[T]) IsStopped() bool { return self.stopped.Load() }

func (self *Topic[T]) deliver(ctx context.Context, env Envelope[T]) error {
	err := ctx.Err()
	if err != nil {
		return errors.WithStack(err)
	}

	self.lock.RLock()
	sinks := self.sinks
	self.lock.RUnlock()

	for _, sink := range sinks {
		err := sink.Receive(ctx, env)
		if err != nil {
			return errors.Wrapf(err, `sink of %q failed`, self.Name)
		}
	}
	return nil
}

/*
Both a sink and a source: transforms each incoming message into zero or more
messages on ".Topic". When every upstream source has stopped, runs "OnClose"
and stops ".Topic".
*/
type Vertex[In, Out any] struct {
	Inlet[In]
	Topic     *Topic[Out]
	Transform func(ctx context.Context, msg In, out *Topic[Out]) error
	OnClose   func(ctx context.Context, out *Topic[Out]) error
}

/*
Creates a vertex publishing on a topic with the given name. The transform
receives the output topic as a parameter, which lets "Combinator" reuse it.
*/
func NewVertex[In, Out any](name string, transform func(ctx context.Context, msg In, out *Topic[Out]) error) *Vertex[In, Out] {
	self := &Vertex[In, Out]{Topic: NewTopic[Out](name), Transform: transform}

	self.Inlet.OnMessage = func(ctx context.Context, msg In) error {
		return self.Transform(ctx, msg, self.Topic)
	}

	self.Inlet.OnStop = func(ctx context.Context) error {
		var err error
		if self.OnClose != nil {
			err = self.OnClose(ctx, self.Topic)
		}
		stopErr := self.Topic.Stop(ctx)
		if err != nil {
			return errors.Wrapf(err, `failed to close %q`, self.Topic.Name)
		}
		return stopErr
	}
	return self
}
