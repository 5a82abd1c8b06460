package flow

import (
	"context"
	"encoding/json"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/purelabio/web3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testTransfer struct {
	From  web3.Address `abi:"from,indexed"`
	To    web3.Address `abi:"to,indexed"`
	Value *big.Int     `abi:"value"`
}

var (
	testToken = web3.MustParseAddress("0xdac17f958d2ee523a2206206994597c13d831ec7")
	testFrom  = web3.MustParseAddress("0x5754284f345afc66a98fbb0a0afe71e0f007b949")
	testTo    = web3.MustParseAddress("0x28c6c06298d514db089934071355e5743bf21d60")
)

// Block hashes encode the fork and the number, to tell forks apart.
func testHash(num uint64, fork byte) web3.Hash {
	var out web3.Hash
	out[0] = fork + 1
	big.NewInt(0).SetUint64(num).FillBytes(out[24:])
	return out
}

func testBlock(num uint64, fork byte) web3.BlockHead {
	return web3.BlockHead{
		Number:     web3.HexUint64(num),
		Hash:       testHash(num, fork),
		ParentHash: testHash(num-1, fork),
	}
}

func blockNumbers(blocks []web3.BlockHead) []uint64 {
	out := make([]uint64, len(blocks))
	for i, block := range blocks {
		out[i] = uint64(block.Number)
	}
	return out
}

/*
In-memory chain serving "eth_blockNumber", "eth_getBlockByNumber" and
"eth_getLogs" by block hash.
*/
type testChain struct {
	lock   sync.Mutex
	blocks map[uint64]web3.BlockHead
	logs   map[web3.Hash][]web3.LogEntry
	tip    uint64
}

func newTestChain() *testChain {
	return &testChain{
		blocks: map[uint64]web3.BlockHead{},
		logs:   map[web3.Hash][]web3.LogEntry{},
	}
}

func (self *testChain) add(block web3.BlockHead, logs ...web3.LogEntry) {
	self.lock.Lock()
	defer self.lock.Unlock()

	num := uint64(block.Number)
	self.blocks[num] = block
	self.tip = max(self.tip, num)

	for i, log := range logs {
		log.BlockNumber = block.Number
		log.BlockHash = block.Hash
		log.LogIndex = web3.HexUint64(i)
		self.logs[block.Hash] = append(self.logs[block.Hash], log)
	}
}

func (self *testChain) Call(_ context.Context, out any, method string, params ...any) error {
	self.lock.Lock()
	defer self.lock.Unlock()

	var res any
	switch method {
	case "eth_blockNumber":
		res = web3.HexUint64(self.tip)

	case "eth_getBlockByNumber":
		block, ok := self.blocks[uint64(params[0].(web3.HexUint64))]
		if ok {
			res = map[string]any{
				"number":     block.Number,
				"hash":       block.Hash,
				"parentHash": block.ParentHash,
			}
		}

	case "eth_getLogs":
		filter := params[0].(web3.LogFilter)
		if filter.BlockHash == nil {
			return errors.New("expected a block hash filter")
		}
		res = self.logs[*filter.BlockHash]
		if res == nil {
			res = []web3.LogEntry{}
		}

	default:
		return errors.WithStack(&web3.RpcError{Code: -32601, Message: "method not found: " + method})
	}

	body, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

func (self *testChain) Subscribe(_ context.Context, out chan []byte, _ ...any) error {
	close(out)
	return errors.New("subscriptions not supported")
}

func (self *testChain) Connected() chan struct{} {
	out := make(chan struct{})
	close(out)
	return out
}

func newTestBlockSource(trans web3.Trans) *BlockSource {
	return &BlockSource{
		Trans:        trans,
		Network:      "test",
		PollInterval: 5 * time.Millisecond,
		Blocks:       NewTopic[web3.BlockHead]("test.blocks"),
		Reorgs:       NewTopic[Reorg]("test.reorgs"),
	}
}

func TestBlockSource_replaced_block(t *testing.T) {
	ctx := context.Background()
	cache, err := web3.NewBlockCache(16)
	require.NoError(t, err)

	src := newTestBlockSource(nil)
	src.Cache = cache
	blocks := Connect(src.Blocks, NewCollector[web3.BlockHead]())
	reorgs := Connect(src.Reorgs, NewCollector[Reorg]())

	for num := uint64(100); num <= 103; num++ {
		require.NoError(t, src.Process(ctx, testBlock(num, 0)))
	}
	assert.Equal(t, uint64(104), src.Cursor())
	assert.Equal(t, 4, cache.Len())

	replaced := testBlock(103, 1)
	replaced.ParentHash = testHash(102, 0)
	require.NoError(t, src.Process(ctx, replaced))

	assert.Equal(t, []uint64{100, 101, 102, 103}, blockNumbers(blocks.Items()))
	require.Len(t, reorgs.Items(), 1)
	assert.Equal(t, uint64(98), reorgs.Items()[0].BlockNumber)
	assert.Equal(t, replaced.Hash, reorgs.Items()[0].Head.Hash)
	assert.Equal(t, uint64(98), src.Cursor())
	assert.Zero(t, cache.Len())

	for num := uint64(98); num <= 103; num++ {
		require.NoError(t, src.Process(ctx, testBlock(num, 1)))
	}
	assert.Equal(t, []uint64{100, 101, 102, 103, 98, 99, 100, 101, 102, 103}, blockNumbers(blocks.Items()))
	assert.Equal(t, testHash(103, 1), blocks.Items()[9].Hash)
	assert.Len(t, reorgs.Items(), 1)
	assert.Equal(t, uint64(104), src.Cursor())
}

func TestBlockSource_parent_mismatch(t *testing.T) {
	ctx := context.Background()
	src := newTestBlockSource(nil)
	blocks := Connect(src.Blocks, NewCollector[web3.BlockHead]())
	reorgs := Connect(src.Reorgs, NewCollector[Reorg]())

	require.NoError(t, src.Process(ctx, testBlock(10, 0)))
	require.NoError(t, src.Process(ctx, testBlock(11, 0)))
	require.NoError(t, src.Process(ctx, testBlock(12, 1)))

	assert.Equal(t, []uint64{10, 11}, blockNumbers(blocks.Items()))
	require.Len(t, reorgs.Items(), 1)
	assert.Equal(t, uint64(7), reorgs.Items()[0].BlockNumber)
	assert.Equal(t, uint64(7), src.Cursor())
}

func TestBlockSource_ignores_duplicates_and_old_blocks(t *testing.T) {
	ctx := context.Background()
	src := newTestBlockSource(nil)
	src.Horizon = 2
	blocks := Connect(src.Blocks, NewCollector[web3.BlockHead]())
	reorgs := Connect(src.Reorgs, NewCollector[Reorg]())

	for num := uint64(50); num <= 54; num++ {
		require.NoError(t, src.Process(ctx, testBlock(num, 0)))
	}
	require.NoError(t, src.Process(ctx, testBlock(54, 0)))
	require.NoError(t, src.Process(ctx, testBlock(40, 3)))

	assert.Equal(t, []uint64{50, 51, 52, 53, 54}, blockNumbers(blocks.Items()))
	assert.Empty(t, reorgs.Items())
	assert.Equal(t, uint64(55), src.Cursor())
}

func TestBlockSource_Run(t *testing.T) {
	chain := newTestChain()
	for num := uint64(1); num <= 3; num++ {
		chain.add(testBlock(num, 0))
	}

	src := newTestBlockSource(chain)
	src.Start = 1
	blocks := Connect(src.Blocks, NewCollector[web3.BlockHead]())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ran := make(chan error, 1)
	go func() { ran <- src.Run(ctx) }()

	require.Eventually(t, func() bool { return len(blocks.Items()) == 3 }, time.Second, time.Millisecond)

	chain.add(testBlock(4, 0))
	chain.add(testBlock(5, 0))
	require.Eventually(t, func() bool { return len(blocks.Items()) == 5 }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-ran)

	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, blockNumbers(blocks.Items()))
	assert.True(t, blocks.Stopped())
	assert.True(t, src.Reorgs.IsStopped())
}

func TestBlockSource_Run_starts_at_tip(t *testing.T) {
	chain := newTestChain()
	for num := uint64(1); num <= 8; num++ {
		chain.add(testBlock(num, 0))
	}

	src := newTestBlockSource(chain)
	blocks := Connect(src.Blocks, NewCollector[web3.BlockHead]())

	ctx, cancel := context.WithCancel(context.Background())
	ran := make(chan error, 1)
	go func() { ran <- src.Run(ctx) }()

	require.Eventually(t, func() bool { return len(blocks.Items()) == 1 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-ran)
	assert.Equal(t, []uint64{8}, blockNumbers(blocks.Items()))
}

func TestEventIndexer(t *testing.T) {
	ctx := context.Background()
	event := web3.MustEvent[testTransfer]("Transfer").At(testToken)

	transfer := func(value int64) web3.LogEntry {
		log, err := event.Encode(testTransfer{From: testFrom, To: testTo, Value: big.NewInt(value)})
		require.NoError(t, err)
		return log
	}

	chain := newTestChain()
	chain.add(testBlock(10, 0), transfer(1), transfer(2))
	chain.add(testBlock(11, 0), transfer(3))
	chain.add(testBlock(11, 1), transfer(4))

	src := newTestBlockSource(chain)
	src.Horizon = 2

	indexer := NewEventIndexer("transfers", event.Via(chain))
	var rewinds []uint64
	indexer.OnReorg = func(_ context.Context, reorg Reorg) error {
		rewinds = append(rewinds, reorg.BlockNumber)
		return nil
	}

	Connect(src.Blocks, indexer.BlockInput())
	Connect(src.Reorgs, indexer.ReorgInput())
	logs := Connect(indexer.Logs, NewCollector[web3.DecodedLog[testTransfer]]())
	reorgs := Connect(indexer.Reorgs, NewCollector[Reorg]())

	require.NoError(t, src.Process(ctx, testBlock(10, 0)))
	require.NoError(t, src.Process(ctx, testBlock(11, 0)))
	assert.Equal(t, uint64(12), indexer.Cursor())

	replaced := testBlock(11, 1)
	replaced.ParentHash = testHash(10, 0)
	require.NoError(t, src.Process(ctx, replaced))
	assert.Equal(t, uint64(9), indexer.Cursor())
	assert.Equal(t, []uint64{9}, rewinds)

	require.NoError(t, src.Process(ctx, testBlock(10, 0)))
	require.NoError(t, src.Process(ctx, replaced))
	assert.Equal(t, uint64(12), indexer.Cursor())

	var values []int64
	for _, log := range logs.Items() {
		values = append(values, log.Event.Value.Int64())
		assert.Equal(t, testToken, log.Address)
	}
	assert.Equal(t, []int64{1, 2, 3, 1, 2, 4}, values)
	assert.Equal(t, testHash(11, 1), logs.Items()[5].BlockHash)
	require.Len(t, reorgs.Items(), 1)

	require.NoError(t, src.Blocks.Stop(ctx))
	assert.False(t, logs.Stopped())
	require.NoError(t, src.Reorgs.Stop(ctx))
	assert.True(t, logs.Stopped())
	assert.True(t, reorgs.Stopped())

	select {
	case <-indexer.Done():
	default:
		t.Fatal("expected the indexer to be done")
	}
}

func TestEventIndexer_propagates_fetch_errors(t *testing.T) {
	ctx := context.Background()
	src := newTestBlockSource(nil)
	indexer := NewEventIndexer("transfers", web3.MustEvent[testTransfer]("Transfer").Via(&failingTrans{}))
	Connect(src.Blocks, indexer.BlockInput())

	err := src.Process(ctx, testBlock(1, 0))
	assert.ErrorContains(t, err, "failed to index block 1")
	assert.Zero(t, indexer.Cursor())
}

type failingTrans struct{ testChain }

func (*failingTrans) Call(context.Context, any, string, ...any) error {
	return errors.New("node unavailable")
}
