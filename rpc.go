package web3

import (
	"context"
	"encoding/json"
	"math/big"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

// Returned when the node answers `null` for a block, transaction or receipt.
var ErrNotFound = errors.New("not found")

// Strongly-typed version of the "eth_chainId" RPC method.
func EthChainId(ctx context.Context, trans Trans) (uint64, error) {
	out, err := MethodChainId.Call(ctx, trans, NoParams{})
	return uint64(out), err
}

// Strongly-typed version of the "eth_blockNumber" RPC method.
func EthBlockNumber(ctx context.Context, trans Trans) (uint64, error) {
	out, err := MethodBlockNumber.Call(ctx, trans, NoParams{})
	return uint64(out), err
}

// Strongly-typed version of the "eth_getBalance" RPC method.
func EthGetBalance(ctx context.Context, trans Trans, addr Address, block BlockNumber) (*big.Int, error) {
	num, err := EncodeBlockNumber(block)
	if err != nil {
		return nil, errors.Wrap(err, `error in "eth_getBalance"`)
	}
	out, err := MethodGetBalance.Call(ctx, trans, AccountParams{Address: addr, Block: num})
	return new(big.Int).Set(out.Big()), err
}

// Strongly-typed version of the "eth_getCode" RPC method.
func EthGetCode(ctx context.Context, trans Trans, addr Address, block BlockNumber) (HexBytes, error) {
	num, err := EncodeBlockNumber(block)
	if err != nil {
		return nil, errors.Wrap(err, `error in "eth_getCode"`)
	}
	return MethodGetCode.Call(ctx, trans, AccountParams{Address: addr, Block: num})
}

// Strongly-typed version of the "eth_getTransactionCount" RPC method.
func EthGetTransactionCount(ctx context.Context, trans Trans, addr Address, block BlockNumber) (uint64, error) {
	num, err := EncodeBlockNumber(block)
	if err != nil {
		return 0, errors.Wrap(err, `error in "eth_getTransactionCount"`)
	}
	out, err := MethodGetTransactionCount.Call(ctx, trans, AccountParams{Address: addr, Block: num})
	return uint64(out), err
}

// Strongly-typed version of the "eth_gasPrice" RPC method.
func EthGasPrice(ctx context.Context, trans Trans) (*big.Int, error) {
	out, err := MethodGasPrice.Call(ctx, trans, NoParams{})
	return new(big.Int).Set(out.Big()), err
}

// Strongly-typed version of the "eth_maxPriorityFeePerGas" RPC method.
func EthMaxPriorityFeePerGas(ctx context.Context, trans Trans) (*big.Int, error) {
	out, err := MethodMaxPriorityFeePerGas.Call(ctx, trans, NoParams{})
	return new(big.Int).Set(out.Big()), err
}

// Strongly-typed version of the "eth_feeHistory" RPC method.
func EthFeeHistory(ctx context.Context, trans Trans, count uint64, newest BlockNumber, percentiles []float64) (FeeHistory, error) {
	num, err := EncodeBlockNumber(newest)
	if err != nil {
		return FeeHistory{}, errors.Wrap(err, `error in "eth_feeHistory"`)
	}
	return MethodFeeHistory.Call(ctx, trans, FeeHistoryParams{
		BlockCount:  HexUint64(count),
		Newest:      num,
		Percentiles: percentiles,
	})
}

/*
Strongly-typed version of the "eth_estimateGas" RPC method.

Note that estimating gas is a somewhat slow operation; the remote node will
attempt to execute the transaction against the given block, running EVM code
if required. This can easily take tens of milliseconds, or more.
*/
func EthEstimateGas(ctx context.Context, trans Trans, msg TxMsg, block BlockNumber) (uint64, error) {
	num, err := EncodeBlockNumber(block)
	if err != nil {
		return 0, errors.Wrap(err, `error in "eth_estimateGas"`)
	}
	out, err := MethodEstimateGas.Call(ctx, trans, CallParams{Msg: msg, Block: num})
	return uint64(out), err
}

// Strongly-typed version of the "eth_createAccessList" RPC method.
func EthCreateAccessList(ctx context.Context, trans Trans, msg TxMsg, block BlockNumber) (AccessListResult, error) {
	num, err := EncodeBlockNumber(block)
	if err != nil {
		return AccessListResult{}, errors.Wrap(err, `error in "eth_createAccessList"`)
	}
	out, err := MethodCreateAccessList.Call(ctx, trans, CallParams{Msg: msg, Block: num})
	if err == nil && out.Error != "" {
		err = errors.Errorf(`error in "eth_createAccessList": %v`, out.Error)
	}
	return out, err
}

/*
Strongly-typed version of the "eth_call" RPC method.

Invokes a "view" or "pure" contract method. In other words, a read-only method
that doesn't create a new transaction. The caller must ABI-pack the "TxMsg.Data"
payload and ABI-unpack the output. At most one state override may be provided.
*/
func EthCall(ctx context.Context, trans Trans, msg TxMsg, block BlockNumber, overrides ...StateOverride) ([]byte, error) {
	num, err := EncodeBlockNumber(block)
	if err != nil {
		return nil, errors.Wrap(err, `error in "eth_call"`)
	}

	params := CallParams{Msg: msg, Block: num}
	switch len(overrides) {
	case 0:
	case 1:
		params.Overrides = overrides[0]
	default:
		return nil, errors.Errorf(`error in "eth_call": expected at most one state override, got %v`, len(overrides))
	}

	return MethodCall.Call(ctx, trans, params)
}

// Same as "EthCall", but always uses the latest block number.
func EthCallLatest(ctx context.Context, trans Trans, msg TxMsg) ([]byte, error) {
	return EthCall(ctx, trans, msg, BlockNumberLatest)
}

// Strongly-typed version of the "eth_getLogs" RPC method.
func EthGetLogs(ctx context.Context, trans Trans, filter LogFilter) ([]LogEntry, error) {
	return MethodGetLogs.Call(ctx, trans, filter)
}

/*
Strongly-typed version of the "eth_getBlockByNumber" RPC method. The input must
be a number or one of the magic strings; see the "BlockNumber" constants.
Returns "ErrNotFound" when the block doesn't exist yet.
*/
func EthGetBlockByNumber(ctx context.Context, trans Trans, block BlockNumber) (BlockHead, error) {
	num, err := EncodeBlockNumber(block)
	if err != nil {
		return BlockHead{}, errors.Wrap(err, `error in "eth_getBlockByNumber"`)
	}
	out, err := MethodGetBlockByNumber.Call(ctx, trans, BlockByNumberParams{Block: num})
	return derefFound(out, err, "eth_getBlockByNumber")
}

// Strongly-typed version of the "eth_getBlockByHash" RPC method.
func EthGetBlockByHash(ctx context.Context, trans Trans, hash Hash) (BlockHead, error) {
	out, err := MethodGetBlockByHash.Call(ctx, trans, BlockByHashParams{Hash: hash})
	return derefFound(out, err, "eth_getBlockByHash")
}

func derefFound[A any](val *A, err error, method string) (A, error) {
	var out A
	if err != nil {
		return out, err
	}
	if val == nil {
		return out, errors.Wrapf(ErrNotFound, `error in %q`, method)
	}
	return *val, nil
}

/*
Cache for "EthGetBlockByHash" with deduplication. For any given hash, the
corresponding block is fetched no more than once while it stays in the cache;
concurrent requests for the same hash wait for the first one.

Note: this is implemented only for block hash, not block number. The "hash ↔︎
block" association is unique and immutable, while the "blockNumber ↔︎ block"
association may change when switching between forks.
*/
type BlockCache struct {
	lock  sync.Mutex
	cache *lru.Cache[Hash, *blockCacheEntry]
}

type blockCacheEntry struct {
	lock  sync.Mutex
	block BlockHead
	valid bool
}

// Creates a cache holding up to "size" blocks, evicting the least recently used.
func NewBlockCache(size int) (*BlockCache, error) {
	cache, err := lru.New[Hash, *blockCacheEntry](size)
	if err != nil {
		return nil, errors.Wrap(err, `failed to create block cache`)
	}
	return &BlockCache{cache: cache}, nil
}

// Returns the block with the given hash, fetching it if it's not cached.
func (self *BlockCache) Get(ctx context.Context, trans Trans, hash Hash) (BlockHead, error) {
	self.lock.Lock()
	entry, ok := self.cache.Get(hash)
	if !ok {
		entry = &blockCacheEntry{}
		self.cache.Add(hash, entry)
	}
	self.lock.Unlock()

	entry.lock.Lock()
	defer entry.lock.Unlock()

	if entry.valid {
		return entry.block, nil
	}

	block, err := EthGetBlockByHash(ctx, trans, hash)
	if err != nil {
		return block, err
	}

	entry.block = block
	entry.valid = true
	return block, nil
}

// Adds a block fetched elsewhere, such as from a "newHeads" subscription.
func (self *BlockCache) Put(block BlockHead) {
	self.lock.Lock()
	defer self.lock.Unlock()
	self.cache.Add(block.Hash, &blockCacheEntry{block: block, valid: true})
}

// Removes a block, typically one orphaned by a reorg.
func (self *BlockCache) Remove(hash Hash) {
	self.lock.Lock()
	defer self.lock.Unlock()
	self.cache.Remove(hash)
}

// Number of cached entries.
func (self *BlockCache) Len() int { return self.cache.Len() }

// Returns the timestamp of the block containing the log.
func LogTimestamp(ctx context.Context, trans Trans, cache *BlockCache, log LogEntry) (time.Time, error) {
	block, err := cache.Get(ctx, trans, log.BlockHash)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(block.Timestamp), 0).UTC(), nil
}

// Strongly-typed version of the "eth_sendRawTransaction" RPC method.
func EthSendRawTransaction(ctx context.Context, trans Trans, raw []byte) (Hash, error) {
	return MethodSendRawTransaction.Call(ctx, trans, HexBytes(raw))
}

/*
Strongly-typed version of the "eth_getTransactionReceipt" RPC method. Returns
"ErrNotFound" while the transaction is pending or unknown.
*/
func EthGetTxReceipt(ctx context.Context, trans Trans, hash Hash) (TxReceipt, error) {
	out, err := MethodGetTxReceipt.Call(ctx, trans, hash)
	return derefFound(out, err, "eth_getTransactionReceipt")
}

// Strongly-typed version of the "eth_getTransactionByHash" RPC method.
func EthGetTxByHash(ctx context.Context, trans Trans, hash Hash) (Transaction, error) {
	out, err := MethodGetTxByHash.Call(ctx, trans, hash)
	return derefFound(out, err, "eth_getTransactionByHash")
}

// True if the transaction has a receipt, which means it was mined.
func IsTxConfirmed(ctx context.Context, trans Trans, hash Hash) (bool, error) {
	var body json.RawMessage
	err := trans.Call(ctx, &body, "eth_getTransactionReceipt", hash)
	return len(body) > 0 && string(body) != "null", errors.Wrap(err, `error in "eth_getTransactionReceipt"`)
}

/*
Waits until the transaction appears in the blockchain and returns its receipt.
Useful for confirming freshly-sent transactions. Polls at the given interval,
or every 2 seconds when the interval is zero.

Doesn't detect reorgs: a receipt for a block that is later orphaned is still
returned. Use "flow.BlockSource" when that matters.
*/
func WaitForReceipt(ctx context.Context, trans Trans, hash Hash, poll time.Duration) (TxReceipt, error) {
	if poll <= 0 {
		poll = 2 * time.Second
	}

	for {
		receipt, err := EthGetTxReceipt(ctx, trans, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return receipt, err
		}

		err = sleep(ctx, poll)
		if err != nil {
			return TxReceipt{}, errors.Wrapf(err, `gave up waiting for transaction %v`, hash)
		}
	}
}

/*
Retrieves the address of the contract found at the given transaction. Returns
an error if the transaction doesn't appear to be a contract deployment.
*/
func EthContractAddress(ctx context.Context, trans Trans, hash Hash) (Address, error) {
	receipt, err := EthGetTxReceipt(ctx, trans, hash)
	if err != nil {
		return Address{}, errors.Wrapf(err, `failed to retrieve contract address for transaction %v`, hash)
	}
	if receipt.ContractAddress == nil || *receipt.ContractAddress == ZeroAddress {
		return Address{}, errors.Errorf(`no contract address found at transaction %v`, hash)
	}
	return *receipt.ContractAddress, nil
}

/*
Subscribes to future blocks, sending them over the provided channel. Returns an
error when the context is canceled, or when the connection is interrupted. Does
NOT automatically resubscribe; see "SubscribeHeads" for a resilient version.
*/
func SubscribeToBlockHeads(ctx context.Context, trans Trans, out chan<- BlockHead) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		close(out)
	}()

	inputs := make(chan []byte, cap(out))
	errChan := gogo(func() error {
		return trans.Subscribe(ctx, inputs, "newHeads")
	})

	for input := range inputs {
		var value BlockHead
		err := json.Unmarshal(input, &value)
		if err != nil {
			cancel()
			for range inputs {
			}
			<-errChan
			return errors.Wrap(err, `failed to decode block head`)
		}

		select {
		case out <- value:
		case <-ctx.Done():
		}
	}
	return <-errChan
}
