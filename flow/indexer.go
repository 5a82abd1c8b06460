package flow

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/purelabio/web3"
	"go.uber.org/zap"
)

/*
Turns the output of a "BlockSource" into decoded event logs: for every block,
fetches the event's logs by block hash and publishes them on ".Logs" in
chain order. Forwards reorgs on ".Reorgs" after rewinding, so that blocks
re-published by the source are indexed again. Connect ".BlockInput" and
".ReorgInput" to the source's topics.
*/
type EventIndexer[E any] struct {
	Event   web3.Event[E]
	Logs    *Topic[web3.DecodedLog[E]]
	Reorgs  *Topic[Reorg]
	OnReorg func(context.Context, Reorg) error
	Logger  *zap.Logger

	lock    sync.Mutex
	sources int
	cursor  uint64
	stopped bool
	done    chan struct{}
}

func NewEventIndexer[E any](name string, event web3.Event[E]) *EventIndexer[E] {
	return &EventIndexer[E]{
		Event:  event,
		Logs:   NewTopic[web3.DecodedLog[E]](name),
		Reorgs: NewTopic[Reorg](name + ".reorgs"),
		done:   make(chan struct{}),
	}
}

// Sink for the blocks of a "BlockSource".
func (self *EventIndexer[E]) BlockInput() Sink[web3.BlockHead] {
	return indexerInput[E, web3.BlockHead]{self, self.onBlock}
}

// Sink for the reorgs of a "BlockSource".
func (self *EventIndexer[E]) ReorgInput() Sink[Reorg] {
	return indexerInput[E, Reorg]{self, self.onReorg}
}

// Implements "Stoppable". Closed once every connected source has stopped.
func (self *EventIndexer[E]) Done() <-chan struct{} { return self.done }

// Next block number the indexer expects.
func (self *EventIndexer[E]) Cursor() uint64 {
	self.lock.Lock()
	defer self.lock.Unlock()
	return self.cursor
}

func (self *EventIndexer[E]) onBlock(ctx context.Context, block web3.BlockHead) error {
	num := uint64(block.Number)
	if num < self.cursor {
		self.logger().Debug(`skipping indexed block`, zap.Uint64("block", num))
		return nil
	}

	logs, err := self.Event.GetBlockLogs(ctx, block.Hash)
	if err != nil {
		return errors.Wrapf(err, `failed to index block %v`, num)
	}

	for _, log := range logs {
		err := self.Logs.Publish(ctx, log)
		if err != nil {
			return err
		}
	}

	self.cursor = num + 1
	return nil
}

func (self *EventIndexer[E]) onReorg(ctx context.Context, reorg Reorg) error {
	if reorg.BlockNumber < self.cursor {
		self.logger().Info(`rewinding after reorg`,
			zap.String("event", self.Event.Name()),
			zap.Uint64("from", self.cursor),
			zap.Uint64("to", reorg.BlockNumber),
		)
		self.cursor = reorg.BlockNumber
	}

	if self.OnReorg != nil {
		err := self.OnReorg(ctx, reorg)
		if err != nil {
			return err
		}
	}
	return self.Reorgs.Publish(ctx, reorg)
}

func (self *EventIndexer[E]) sourceStopped(ctx context.Context) error {
	self.sources--
	if self.sources > 0 {
		return nil
	}

	self.stopped = true
	defer close(self.done)

	err := self.Logs.Stop(ctx)
	if err != nil {
		return err
	}
	return self.Reorgs.Stop(ctx)
}

func (self *EventIndexer[E]) logger() *zap.Logger {
	if self.Logger != nil {
		return self.Logger
	}
	return web3.Logger()
}

type indexerInput[E, T any] struct {
	indexer *EventIndexer[E]
	handle  func(context.Context, T) error
}

func (self indexerInput[E, T]) Attach() {
	self.indexer.lock.Lock()
	defer self.indexer.lock.Unlock()
	self.indexer.sources++
}

func (self indexerInput[E, T]) Receive(ctx context.Context, env Envelope[T]) error {
	self.indexer.lock.Lock()
	defer self.indexer.lock.Unlock()

	if self.indexer.stopped {
		return nil
	}
	if env.Stopped {
		return self.indexer.sourceStopped(ctx)
	}
	return self.handle(ctx, env.Message)
}

func (self indexerInput[E, T]) Done() <-chan struct{} { return self.indexer.done }
