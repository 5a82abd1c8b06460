package web3

import (
	"context"
	"reflect"

	"github.com/pkg/errors"
)

/*
A typed JSON-RPC method: a wire name with a parameter type "P" and a result
type "R". Params are serialized as a single-element array, unless "P" embeds
"Positional", in which case its exported fields become the positional array in
declaration order, with trailing nil fields dropped.

	var ethGetBalance = Method[AccountParams, HexInt]{"eth_getBalance"}
	balance, err := ethGetBalance.Call(ctx, trans, AccountParams{Address: addr, Block: "latest"})
*/
type Method[P, R any] struct {
	Name string
}

// Performs the call and decodes the result. Errors are wrapped with the method name.
func (self Method[P, R]) Call(ctx context.Context, trans Trans, params P) (R, error) {
	var out R

	args, err := methodParams(params)
	if err != nil {
		return out, errors.Wrapf(err, `error in %q`, self.Name)
	}

	err = trans.Call(ctx, &out, self.Name, args...)
	return out, errors.Wrapf(err, `error in %q`, self.Name)
}

/*
Marker for parameter structs whose fields are sent as positional params rather
than as a single object.
*/
type Positional struct{}

// Params of methods that take none. Encodes as `[]`.
type NoParams struct{ Positional }

var positionalType = reflect.TypeFor[Positional]()

func methodParams(params any) ([]any, error) {
	val := reflect.ValueOf(params)
	if !val.IsValid() {
		return nil, nil
	}
	if !isPositional(val.Type()) {
		return []any{params}, nil
	}

	typ := val.Type()
	out := make([]any, 0, typ.NumField())
	for i := range typ.NumField() {
		field := typ.Field(i)
		if !field.IsExported() || (field.Anonymous && field.Type == positionalType) {
			continue
		}
		out = append(out, val.Field(i).Interface())
	}

	for len(out) > 0 && isNilParam(out[len(out)-1]) {
		out = out[:len(out)-1]
	}
	return out, nil
}

func isPositional(typ reflect.Type) bool {
	if typ.Kind() != reflect.Struct {
		return false
	}
	for i := range typ.NumField() {
		field := typ.Field(i)
		if field.Anonymous && field.Type == positionalType {
			return true
		}
	}
	return false
}

func isNilParam(input any) bool {
	val := reflect.ValueOf(input)
	switch val.Kind() {
	case reflect.Invalid:
		return true
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice:
		return val.IsNil()
	}
	return false
}

// Params of "eth_call", "eth_estimateGas" and "eth_createAccessList".
type CallParams struct {
	Positional
	Msg       TxMsg
	Block     any
	Overrides StateOverride
}

// Params of "eth_getBalance", "eth_getCode" and "eth_getTransactionCount".
type AccountParams struct {
	Positional
	Address Address
	Block   any
}

// Params of "eth_getBlockByNumber".
type BlockByNumberParams struct {
	Positional
	Block  any
	FullTx bool
}

// Params of "eth_getBlockByHash".
type BlockByHashParams struct {
	Positional
	Hash   Hash
	FullTx bool
}

// Params of "eth_feeHistory".
type FeeHistoryParams struct {
	Positional
	BlockCount  HexUint64
	Newest      any
	Percentiles []float64
}

// Registry of typed methods used by the "EthXxx" helpers.
var (
	MethodChainId              = Method[NoParams, HexUint64]{"eth_chainId"}
	MethodBlockNumber          = Method[NoParams, HexUint64]{"eth_blockNumber"}
	MethodCall                 = Method[CallParams, HexBytes]{"eth_call"}
	MethodEstimateGas          = Method[CallParams, HexUint64]{"eth_estimateGas"}
	MethodCreateAccessList     = Method[CallParams, AccessListResult]{"eth_createAccessList"}
	MethodGetLogs              = Method[LogFilter, []LogEntry]{"eth_getLogs"}
	MethodGetBlockByNumber     = Method[BlockByNumberParams, *BlockHead]{"eth_getBlockByNumber"}
	MethodGetBlockByHash       = Method[BlockByHashParams, *BlockHead]{"eth_getBlockByHash"}
	MethodGetBalance           = Method[AccountParams, HexInt]{"eth_getBalance"}
	MethodGetCode              = Method[AccountParams, HexBytes]{"eth_getCode"}
	MethodGetTransactionCount  = Method[AccountParams, HexUint64]{"eth_getTransactionCount"}
	MethodGasPrice             = Method[NoParams, HexInt]{"eth_gasPrice"}
	MethodMaxPriorityFeePerGas = Method[NoParams, HexInt]{"eth_maxPriorityFeePerGas"}
	MethodFeeHistory           = Method[FeeHistoryParams, FeeHistory]{"eth_feeHistory"}
	MethodSendRawTransaction   = Method[HexBytes, Hash]{"eth_sendRawTransaction"}
	MethodGetTxReceipt         = Method[Hash, *TxReceipt]{"eth_getTransactionReceipt"}
	MethodGetTxByHash          = Method[Hash, *Transaction]{"eth_getTransactionByHash"}
)
