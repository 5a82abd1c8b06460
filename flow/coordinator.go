package flow

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/purelabio/web3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Used when "NewCoordinator" is given a non-positive concurrency.
const DefaultConcurrency = 64

/*
Runs a dataflow graph. Tasks started via ".Go" share a context that is canceled
when any of them fails or when ".Wait" returns, and hold one slot of a
semaphore while running. The graph is complete when every sink registered via
".Watch" has stopped.
*/
type Coordinator struct {
	Logger *zap.Logger

	parent  context.Context
	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
	sem     *semaphore.Weighted
	lock    sync.Mutex
	watched []Stoppable
}

func NewCoordinator(ctx context.Context, concurrency int64) *Coordinator {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	inner, cancel := context.WithCancel(ctx)
	group, inner := errgroup.WithContext(inner)

	return &Coordinator{
		Logger: web3.Logger(),
		parent: ctx,
		ctx:    inner,
		cancel: cancel,
		group:  group,
		sem:    semaphore.NewWeighted(concurrency),
	}
}

// Context shared by the coordinator's tasks.
func (self *Coordinator) Context() context.Context { return self.ctx }

/*
Starts the runner in the background. A failure cancels every other task and is
reported by ".Wait". Errors caused by that cancellation are not reported.
*/
func (self *Coordinator) Go(name string, runner Runner) {
	self.group.Go(func() error {
		err := self.sem.Acquire(self.ctx, 1)
		if err != nil {
			return nil
		}
		defer self.sem.Release(1)

		self.Logger.Debug(`task started`, zap.String("task", name))
		err = runner.Run(self.ctx)

		if err != nil && self.ctx.Err() == nil {
			self.Logger.Error(`task failed`, zap.String("task", name), zap.Error(err))
			return errors.Wrapf(err, `task %q failed`, name)
		}
		self.Logger.Debug(`task finished`, zap.String("task", name))
		return nil
	})
}

// Registers sinks whose completion completes the graph.
func (self *Coordinator) Watch(sinks ...Stoppable) {
	self.lock.Lock()
	defer self.lock.Unlock()
	self.watched = append(self.watched, sinks...)
}

/*
Blocks until every watched sink has stopped, a task has failed, or the parent
context is canceled. Then cancels the remaining tasks and waits for them.
Returns the first task error, or the parent context's error if the graph
didn't complete.
*/
func (self *Coordinator) Wait() error {
	self.lock.Lock()
	watched := self.watched
	self.lock.Unlock()

	complete := make(chan struct{})
	go func() {
		for _, sink := range watched {
			select {
			case <-sink.Done():
			case <-self.ctx.Done():
				return
			}
		}
		close(complete)
	}()

	select {
	case <-complete:
	case <-self.ctx.Done():
	}

	self.cancel()
	err := self.group.Wait()
	if err != nil {
		return err
	}

	select {
	case <-complete:
		return nil
	default:
		return errors.WithStack(self.parent.Err())
	}
}

/*
Creates a coordinator, lets the function start tasks and register sinks, then
waits for completion. Everything started within is canceled on return.
*/
func Run(ctx context.Context, concurrency int64, fun func(*Coordinator) error) error {
	self := NewCoordinator(ctx, concurrency)
	err := fun(self)
	if err != nil {
		self.cancel()
		_ = self.group.Wait()
		return err
	}
	return self.Wait()
}
