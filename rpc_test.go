package web3

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEthFeeHistory(t *testing.T) {
	trans := newFakeTrans().on("eth_feeHistory", func(params []any) (any, error) {
		assert.Equal(t, HexUint64(4), params[0])
		assert.Equal(t, BlockNumberLatest, params[1])
		assert.Equal(t, []float64{50}, params[2])

		return map[string]any{
			"oldestBlock":   "0x10",
			"baseFeePerGas": []string{"0x3b9aca00", "0x3b9aca01"},
			"gasUsedRatio":  []float64{0.5},
			"reward":        [][]string{{"0x1"}},
		}, nil
	})

	out, err := EthFeeHistory(context.Background(), trans, 4, nil, []float64{50})
	require.NoError(t, err)
	assert.Equal(t, HexUint64(16), out.OldestBlock)
	require.Len(t, out.BaseFeePerGas, 2)
	assert.Equal(t, int64(1_000_000_001), out.BaseFeePerGas[1].Big().Int64())
	assert.Equal(t, []float64{0.5}, out.GasUsedRatio)
}

func TestEthGetCode_invalid_block(t *testing.T) {
	trans := newFakeTrans()
	_, err := EthGetCode(context.Background(), trans, testUsdt, "tomorrow")
	assert.ErrorContains(t, err, `error in "eth_getCode"`)
	assert.Zero(t, trans.count("eth_getCode"))
}

func TestEthCall_overrides(t *testing.T) {
	trans := newFakeTrans().returns("eth_call", HexBytes{1})
	msg := TxMsg{To: &testUsdt}

	out, err := EthCall(context.Background(), trans, msg, nil, StateOverride{}, StateOverride{})
	assert.Error(t, err)
	assert.Nil(t, out)
	assert.Zero(t, trans.count("eth_call"))

	out, err = EthCallLatest(context.Background(), trans, msg)
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, out)
}

func TestEthGetTxReceipt_not_found(t *testing.T) {
	trans := newFakeTrans().returns("eth_getTransactionReceipt", nil)

	_, err := EthGetTxReceipt(context.Background(), trans, Hash{1})
	assert.ErrorIs(t, err, ErrNotFound)

	confirmed, err := IsTxConfirmed(context.Background(), trans, Hash{1})
	require.NoError(t, err)
	assert.False(t, confirmed)
}

func TestWaitForReceipt(t *testing.T) {
	polls := 0
	trans := newFakeTrans().on("eth_getTransactionReceipt", func([]any) (any, error) {
		polls++
		if polls < 3 {
			return nil, nil
		}
		return map[string]any{
			"status":          "0x1",
			"blockNumber":     "0x2a",
			"contractAddress": testUsdt,
		}, nil
	})

	receipt, err := WaitForReceipt(context.Background(), trans, Hash{1}, time.Millisecond)
	require.NoError(t, err)
	assert.True(t, receipt.Succeeded())
	assert.Equal(t, HexUint64(42), receipt.BlockNumber)
	assert.Equal(t, 3, polls)

	addr, err := EthContractAddress(context.Background(), trans, Hash{1})
	require.NoError(t, err)
	assert.Equal(t, testUsdt, addr)
}

func TestWaitForReceipt_gives_up(t *testing.T) {
	trans := newFakeTrans().returns("eth_getTransactionReceipt", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := WaitForReceipt(ctx, trans, Hash{1}, time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	failing := newFakeTrans().on("eth_getTransactionReceipt", func([]any) (any, error) {
		return nil, errors.New("node unavailable")
	})
	_, err = WaitForReceipt(context.Background(), failing, Hash{1}, time.Millisecond)
	assert.ErrorContains(t, err, "node unavailable")
}

func TestLogTimestamp_uses_cache(t *testing.T) {
	trans := newFakeTrans().on("eth_getBlockByHash", func(params []any) (any, error) {
		assert.Equal(t, Hash{7}, params[0])
		return map[string]any{"number": "0x1", "hash": Hash{7}, "timestamp": "0x65000000"}, nil
	})
	cache, err := NewBlockCache(8)
	require.NoError(t, err)

	log := LogEntry{BlockHash: Hash{7}}
	for range 3 {
		stamp, err := LogTimestamp(context.Background(), trans, cache, log)
		require.NoError(t, err)
		assert.Equal(t, time.Unix(0x65000000, 0).UTC(), stamp)
	}
	assert.Equal(t, 1, trans.count("eth_getBlockByHash"))

	cache.Remove(Hash{7})
	assert.Zero(t, cache.Len())
}

func TestSubscribeToBlockHeads(t *testing.T) {
	trans := newFakeTrans()
	trans.subscribe = func(_ context.Context, out chan []byte, params ...any) error {
		defer close(out)
		assert.Equal(t, []any{"newHeads"}, params)
		out <- []byte(`{"number": "0x1"}`)
		out <- []byte(`{"number": "0x2"}`)
		return nil
	}

	heads := make(chan BlockHead, 4)
	require.NoError(t, SubscribeToBlockHeads(context.Background(), trans, heads))

	var nums []HexUint64
	for head := range heads {
		nums = append(nums, head.Number)
	}
	assert.Equal(t, []HexUint64{1, 2}, nums)
}

func TestSubscribeToBlockHeads_malformed(t *testing.T) {
	trans := newFakeTrans()
	trans.subscribe = func(ctx context.Context, out chan []byte, _ ...any) error {
		defer close(out)
		out <- []byte(`{`)
		<-ctx.Done()
		return ctx.Err()
	}

	heads := make(chan BlockHead, 4)
	err := SubscribeToBlockHeads(context.Background(), trans, heads)
	assert.ErrorContains(t, err, "failed to decode block head")

	_, open := <-heads
	assert.False(t, open)
}
