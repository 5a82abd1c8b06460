package web3

import (
	"context"
	"math/big"

	"github.com/pkg/errors"
)

/*
A call that can be batched through Multicall3. Implemented by every bound
"Function" with arguments applied.
*/
type Callable interface {
	Target() Address
	Calldata() (HexBytes, error)
	DecodeResult([]byte) (any, error)
}

// One entry of the "tryAggregate" input.
type MulticallCall struct {
	Target   Address  `abi:"target"`
	CallData HexBytes `abi:"callData"`
}

// One entry of the "tryAggregate" output.
type MulticallResult struct {
	Success    bool     `abi:"success"`
	ReturnData HexBytes `abi:"returnData"`
}

type TryAggregateArgs struct {
	RequireSuccess bool            `abi:"requireSuccess"`
	Calls          []MulticallCall `abi:"calls"`
}

/*
Binding of the Multicall3 contract, deployed at "Multicall3Address" on most
chains. Batches read-only calls into one "eth_call", so that every result
reflects the same block.
*/
type Multicall3 struct {
	Contract
	TryAggregate   Function[TryAggregateArgs, []MulticallResult]
	GetBlockNumber Function[Empty, *big.Int]
	GetEthBalance  Function[Address, *big.Int]

	// Custom errors of the batched contracts. Lets "TryExecute" describe their
	// reverts. Optional.
	Errors Abi
}

// Binds Multicall3 at the network's configured address, routed to the network.
func BindMulticall(net Network) (*Multicall3, error) {
	addr := net.Multicall3
	if addr == ZeroAddress {
		addr = Multicall3Address
	}
	return BindContract[Multicall3](Contract{Address: addr, Network: &net})
}

/*
Outcome of one call batched via "TryExecute". When the call reverted, "Err"
carries the decoded revert reason if any; when it succeeded but its result
couldn't be decoded, "Err" carries the codec error.
*/
type TryResult struct {
	Success    bool
	ReturnData HexBytes
	Value      any
	Err        error
}

/*
Performs the calls in one "eth_call" against the given block and returns their
decoded results in order. With "requireSuccess", any reverting call fails the
whole batch; otherwise the results of reverted calls are nil.
*/
func (self *Multicall3) Execute(ctx context.Context, block BlockNumber, requireSuccess bool, calls ...Callable) ([]any, error) {
	results, err := self.aggregate(ctx, block, requireSuccess, calls)
	if err != nil {
		return nil, err
	}

	out := make([]any, len(calls))
	for i, res := range results {
		if !res.Success {
			continue
		}
		out[i], err = calls[i].DecodeResult(res.ReturnData)
		if err != nil {
			return nil, errors.Wrapf(err, `failed to decode result %v of multicall`, i)
		}
	}
	return out, nil
}

/*
Like "Execute" without "requireSuccess", but reports the outcome of each call
separately instead of failing on decode errors.
*/
func (self *Multicall3) TryExecute(ctx context.Context, block BlockNumber, calls ...Callable) ([]TryResult, error) {
	results, err := self.aggregate(ctx, block, false, calls)
	if err != nil {
		return nil, err
	}

	out := make([]TryResult, len(calls))
	for i, res := range results {
		out[i] = TryResult{Success: res.Success, ReturnData: res.ReturnData}

		if !res.Success {
			reason, ok := self.Errors.DecodeRevert(res.ReturnData)
			if !ok {
				reason = "no reason"
			}
			out[i].Err = errors.Errorf(`call %v to %v reverted: %v`, i, calls[i].Target(), reason)
			continue
		}

		out[i].Value, out[i].Err = calls[i].DecodeResult(res.ReturnData)
	}
	return out, nil
}

func (self *Multicall3) aggregate(ctx context.Context, block BlockNumber, requireSuccess bool, calls []Callable) ([]MulticallResult, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	args := TryAggregateArgs{RequireSuccess: requireSuccess, Calls: make([]MulticallCall, len(calls))}
	for i, call := range calls {
		data, err := call.Calldata()
		if err != nil {
			return nil, errors.Wrapf(err, `invalid call %v of multicall`, i)
		}
		args.Calls[i] = MulticallCall{Target: call.Target(), CallData: data}
	}

	fun, err := self.TryAggregate.With(args)
	if err != nil {
		return nil, err
	}

	results, err := fun.Get(ctx, block)
	if err != nil {
		return nil, errors.Wrap(err, `multicall failed`)
	}
	if len(results) != len(calls) {
		return nil, errors.Errorf(`multicall returned %v results for %v calls`, len(results), len(calls))
	}
	return results, nil
}

/*
Batches the calls through Multicall3 on the context's current network. Any
reverting call fails the batch. See "Multicall3.Execute".
*/
func MulticallExecute(ctx context.Context, block BlockNumber, calls ...Callable) ([]any, error) {
	net, err := CurrentNetwork(ctx)
	if err != nil {
		return nil, err
	}

	multicall, err := BindMulticall(net)
	if err != nil {
		return nil, err
	}
	return multicall.Execute(ctx, block, true, calls...)
}
