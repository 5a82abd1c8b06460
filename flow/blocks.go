package flow

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/purelabio/web3"
	"go.uber.org/zap"
)

// Number of recent blocks remembered by "BlockSource" for reorg detection.
const DefaultReorgHorizon = 5

// Poll interval of "BlockSource" when the network doesn't specify a block time.
const DefaultPollInterval = 2 * time.Second

/*
Published by "BlockSource" when the chain it follows was reorganized.
Consumers should discard everything derived from blocks at or after
".BlockNumber", which the source re-publishes from the new chain.
*/
type Reorg struct {
	BlockNumber uint64
	Head        web3.BlockHead
}

/*
Follows the chain head and publishes every block in order on ".Blocks",
detecting reorgs within a horizon of recent blocks.

Each incoming block is checked against the remembered history before it's
recorded. A block whose parent hash doesn't match the remembered block below
it, or which replaces a remembered block with a different hash, means the
chain was reorganized. The source then publishes a "Reorg" pointing
"Horizon" blocks below the new block, forgets the history from that point,
and resumes publishing from there.

The head is tracked by polling "eth_blockNumber", and additionally through a
"newHeads" subscription when "Heads" is set.
*/
type BlockSource struct {
	Trans        web3.Trans
	Network      string
	Start        uint64
	Horizon      uint64
	PollInterval time.Duration
	Heads        bool
	Cache        *web3.BlockCache
	Logger       *zap.Logger
	Metrics      *web3.Metrics
	Blocks       *Topic[web3.BlockHead]
	Reorgs       *Topic[Reorg]

	lock    sync.Mutex
	history map[uint64]web3.BlockHead
	cursor  uint64
	started bool
}

/*
Creates a block source for the network's dispatcher, starting at the latest
block. Subscribes to heads when the network has a websocket endpoint.
*/
func NewBlockSource(net web3.Network) *BlockSource {
	poll := net.BlockTime
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	dispatcher := web3.Dispatch(net)
	name := net.String()

	return &BlockSource{
		Trans:        dispatcher,
		Network:      name,
		Horizon:      DefaultReorgHorizon,
		PollInterval: poll,
		Heads:        dispatcher.HasWs(),
		Logger:       web3.Logger(),
		Metrics:      dispatcher.Metrics,
		Blocks:       NewTopic[web3.BlockHead](name + ".blocks"),
		Reorgs:       NewTopic[Reorg](name + ".reorgs"),
	}
}

// Next block number the source expects.
func (self *BlockSource) Cursor() uint64 {
	self.lock.Lock()
	defer self.lock.Unlock()
	return self.cursor
}

/*
Follows the chain until the context is canceled, then stops both topics.
Fetch errors are logged and retried on the next poll. Implements "Runner".
*/
func (self *BlockSource) Run(ctx context.Context) error {
	defer self.stop(context.WithoutCancel(ctx))

	tip, err := web3.EthBlockNumber(ctx, self.Trans)
	if err != nil {
		return errors.Wrap(err, `failed to fetch latest block number`)
	}

	self.lock.Lock()
	if !self.started {
		self.started = true
		self.cursor = self.Start
		if self.cursor == 0 {
			self.cursor = tip
		}
	}
	self.lock.Unlock()

	var heads chan web3.BlockHead
	if self.Heads {
		heads = make(chan web3.BlockHead, 16)
		go func() {
			err := web3.SubscribeHeads(ctx, self.Trans, heads)
			if err != nil && ctx.Err() == nil {
				self.logger().Warn(`head subscription ended`, zap.String("network", self.Network), zap.Error(err))
			}
		}()
	}

	ticker := time.NewTicker(self.pollInterval())
	defer ticker.Stop()

	for {
		err := self.catchUp(ctx, tip)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ErrStopped) {
				return err
			}
			self.logger().Warn(`failed to fetch blocks`, zap.String("network", self.Network), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil

		case head, ok := <-heads:
			if !ok {
				heads = nil
				continue
			}
			tip = max(tip, uint64(head.Number))
			if uint64(head.Number) < self.Cursor() {
				err := self.Process(ctx, head)
				if err != nil {
					return err
				}
			}

		case <-ticker.C:
			latest, err := web3.EthBlockNumber(ctx, self.Trans)
			if err != nil {
				self.logger().Warn(`failed to fetch latest block number`, zap.String("network", self.Network), zap.Error(err))
				continue
			}
			tip = max(tip, latest)
		}
	}
}

func (self *BlockSource) catchUp(ctx context.Context, tip uint64) error {
	for {
		cursor := self.Cursor()
		if cursor > tip {
			return nil
		}

		block, err := web3.EthGetBlockByNumber(ctx, self.Trans, cursor)
		if errors.Is(err, web3.ErrNotFound) {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, `failed to fetch block %v`, cursor)
		}

		err = self.Process(ctx, block)
		if err != nil {
			return err
		}
	}
}

/*
Checks the block against the history, then either records and publishes it,
or publishes a "Reorg" and rewinds. Duplicates and blocks older than the
history are ignored. Called by ".Run" for every fetched block.
*/
func (self *BlockSource) Process(ctx context.Context, block web3.BlockHead) error {
	reorg, accept := self.check(block)

	if reorg != nil {
		self.logger().Warn(`chain reorganization detected`,
			zap.String("network", self.Network),
			zap.Uint64("block", uint64(block.Number)),
			zap.Stringer("hash", block.Hash),
			zap.Uint64("rewindTo", reorg.BlockNumber),
		)
		self.Metrics.ObserveReorg(self.Network)
		return self.Reorgs.Publish(ctx, *reorg)
	}

	if !accept {
		return nil
	}
	return self.Blocks.Publish(ctx, block)
}

func (self *BlockSource) check(block web3.BlockHead) (*Reorg, bool) {
	self.lock.Lock()
	defer self.lock.Unlock()

	if self.history == nil {
		self.history = map[uint64]web3.BlockHead{}
	}
	if !self.started {
		self.started = true
		self.cursor = uint64(block.Number)
	}

	num := uint64(block.Number)
	existing, hasExisting := self.history[num]
	if hasExisting && existing.Hash == block.Hash {
		return nil, false
	}

	prev, hasPrev := self.history[num-1]
	if (hasExisting && existing.Hash != block.Hash) || (num > 0 && hasPrev && prev.Hash != block.ParentHash) {
		target := num - min(num, self.horizon())
		for key, val := range self.history {
			if key >= target {
				delete(self.history, key)
				if self.Cache != nil {
					self.Cache.Remove(val.Hash)
				}
			}
		}
		self.cursor = target
		return &Reorg{BlockNumber: target, Head: block}, false
	}

	if num < self.cursor {
		return nil, false
	}

	self.history[num] = block
	for key := range self.history {
		if key+self.horizon() <= num {
			delete(self.history, key)
		}
	}
	if self.Cache != nil {
		self.Cache.Put(block)
	}
	self.cursor = num + 1
	return nil, true
}

func (self *BlockSource) stop(ctx context.Context) {
	err := self.Blocks.Stop(ctx)
	if err != nil {
		self.logger().Warn(`failed to stop block topic`, zap.Error(err))
	}
	err = self.Reorgs.Stop(ctx)
	if err != nil {
		self.logger().Warn(`failed to stop reorg topic`, zap.Error(err))
	}
}

func (self *BlockSource) horizon() uint64 {
	if self.Horizon == 0 {
		return DefaultReorgHorizon
	}
	return self.Horizon
}

func (self *BlockSource) pollInterval() time.Duration {
	if self.PollInterval <= 0 {
		return DefaultPollInterval
	}
	return self.PollInterval
}

func (self *BlockSource) logger() *zap.Logger {
	if self.Logger != nil {
		return self.Logger
	}
	return web3.Logger()
}
