package web3

import (
	"context"
	"math/big"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testTransferArgs struct {
	To     Address  `abi:"to"`
	Amount *big.Int `abi:"amount"`
}

type testErc20 struct {
	Contract
	Name      Function[Empty, string]
	Symbol    Function[Empty, string]
	Decimals  Function[Empty, uint8]
	BalanceOf Function[Address, *big.Int]
	Transfer  Function[testTransferArgs, bool]
	Transfers Event[testTransfer] `abi:"Transfer"`
	Ignored   Function[Empty, bool] `abi:"-"`
}

var testBalance = big.NewInt(6_600_822_508_869_000)

func wordBytes(word Word) []byte { return word[:] }

func TestBind(t *testing.T) {
	token, err := Bind[testErc20](testUsdt)
	require.NoError(t, err)

	assert.Equal(t, testUsdt, token.Address)
	assert.Equal(t, "name()", token.Name.Signature())
	assert.Equal(t, "balanceOf(address)", token.BalanceOf.Signature())
	assert.Equal(t, "transfer(address,uint256)", token.Transfer.Signature())
	assert.Equal(t, [4]byte{0xa9, 0x05, 0x9c, 0xbb}, token.Transfer.Selector())
	assert.Equal(t, "Transfer(address,address,uint256)", token.Transfers.Signature())
	assert.Equal(t, testUsdt, token.Transfers.Contract().Address)
	assert.Empty(t, token.Ignored.Name())
}

func TestBind_requalify_leaves_original(t *testing.T) {
	token := MustBind[testErc20](testUsdt)
	trans := newFakeTrans()

	routed := Via(token, trans)
	assert.Equal(t, trans, routed.Trans)
	assert.Equal(t, trans, routed.BalanceOf.Contract().Trans)
	assert.Equal(t, trans, routed.Transfers.Contract().Trans)
	assert.Nil(t, token.Trans)
	assert.Nil(t, token.BalanceOf.Contract().Trans)

	onBase := On(token, Base)
	require.NotNil(t, onBase.Network)
	assert.Equal(t, Base.ChainID, onBase.Decimals.Contract().Network.ChainID)
	assert.Nil(t, token.Network)
}

func TestFunction_calldata(t *testing.T) {
	fun := MustFunction[Address, *big.Int]("balanceOf").MustWith(testAlice)

	data, err := fun.Calldata()
	require.NoError(t, err)
	assert.Equal(t, HexBytes(words(
		"70a08231",
		"0000000000000000000000005754284f345afc66a98fbb0a0afe71e0f007b949",
	)), data)

	arg, err := fun.DecodeArgs(data)
	require.NoError(t, err)
	assert.Equal(t, testAlice, arg)

	_, err = fun.DecodeArgs([]byte{1, 2, 3, 4})
	requireCodecError(t, err)
}

func TestFunction_calldata_does_not_alias_selector(t *testing.T) {
	fun := MustFunction[Empty, string]("name")

	data, err := fun.Calldata()
	require.NoError(t, err)
	data[0] = 0xff

	again, err := fun.Calldata()
	require.NoError(t, err)
	assert.Equal(t, HexBytes{0x06, 0xfd, 0xde, 0x03}, again)
}

func TestFunction_requires_arguments(t *testing.T) {
	_, err := MustFunction[Address, *big.Int]("balanceOf").Calldata()

	var contractual *ContractualError
	assert.True(t, errors.As(err, &contractual))
}

func TestFunction_Get(t *testing.T) {
	trans := newFakeTrans().on("eth_call", func(params []any) (any, error) {
		msg := params[0].(TxMsg)
		assert.Equal(t, testUsdt, *msg.To)
		assert.Equal(t, HexUint64(19_000_000), params[1])

		return HexBytes(wordBytes(BigWord(testBalance))), nil
	})

	token := Via(MustBind[testErc20](testUsdt), trans)
	balance, err := token.BalanceOf.MustWith(testAlice).Get(context.Background(), uint64(19_000_000))
	require.NoError(t, err)
	assert.Equal(t, 0, testBalance.Cmp(balance))
}

func TestFunction_Decode_empty_return_data(t *testing.T) {
	_, err := MustFunction[Empty, string]("name").Decode(nil)
	requireCodecError(t, err)
}

func TestFunction_EstimateGas_applies_buffer(t *testing.T) {
	trans := newFakeTrans().returns("eth_estimateGas", HexUint64(40_000))
	token := Via(MustBind[testErc20](testUsdt), trans)

	gas, err := token.Transfer.MustWith(testTransferArgs{To: testBob, Amount: big.NewInt(5)}).
		EstimateGas(context.Background(), testAlice, BlockNumberLatest)
	require.NoError(t, err)
	assert.Equal(t, uint64(50_000), gas)
}

func TestFunction_routing_through_context(t *testing.T) {
	token := MustBind[testErc20](testUsdt)

	_, err := token.Contract.Transport(context.Background())
	var contractual *ContractualError
	assert.True(t, errors.As(err, &contractual))

	trans, err := token.Contract.Transport(WithNetwork(context.Background(), Sepolia))
	require.NoError(t, err)
	assert.Equal(t, Sepolia, trans.(*Dispatcher).Network)

	trans, err = On(token, Base).Contract.Transport(WithNetwork(context.Background(), Sepolia))
	require.NoError(t, err)
	assert.Equal(t, Base, trans.(*Dispatcher).Network)
}

// Answers "tryAggregate" for a fake ERC-20 at "testUsdt".
func multicallTrans(t *testing.T) *fakeTrans {
	token := MustBind[testErc20](testUsdt)
	aggregate := MustFunction[TryAggregateArgs, []MulticallResult]("tryAggregate")

	return newFakeTrans().on("eth_call", func(params []any) (any, error) {
		msg := params[0].(TxMsg)
		assert.Equal(t, Multicall3Address, *msg.To)

		args, err := aggregate.DecodeArgs(msg.Data)
		require.NoError(t, err)

		results := make([]MulticallResult, len(args.Calls))
		for i, call := range args.Calls {
			var encoded []byte
			var err error
			selector := [4]byte(call.CallData[:4])

			switch {
			case call.Target != testUsdt:
				results[i] = MulticallResult{Success: false}
				continue
			case selector == token.Name.Selector():
				encoded, err = AbiMarshalValues([]AbiType{AbiString}, "Tether USD")
			case selector == token.Symbol.Selector():
				encoded, err = AbiMarshalValues([]AbiType{AbiString}, "USDT")
			case selector == token.Decimals.Selector():
				encoded, err = AbiMarshalValues([]AbiType{UintType(8)}, uint8(6))
			case selector == token.BalanceOf.Selector():
				holder, err := token.BalanceOf.DecodeArgs(call.CallData)
				require.NoError(t, err)
				assert.Equal(t, testAlice, holder)
				encoded = wordBytes(BigWord(testBalance))
			default:
				reason, err := AbiMarshalValues([]AbiType{AbiString}, "unsupported")
				require.NoError(t, err)
				results[i] = MulticallResult{ReturnData: append(HexBytes{0x08, 0xc3, 0x79, 0xa0}, reason...)}
				continue
			}
			require.NoError(t, err)
			results[i] = MulticallResult{Success: true, ReturnData: encoded}
		}

		out, err := AbiMarshalValues([]AbiType{MustParseAbiType("(bool,bytes)[]")}, results)
		require.NoError(t, err)
		return HexBytes(out), nil
	})
}

func TestMulticall_Execute(t *testing.T) {
	trans := multicallTrans(t)
	mc, err := BindMulticall(Mainnet)
	require.NoError(t, err)
	mc = Via(mc, trans)

	token := MustBind[testErc20](testUsdt)
	out, err := mc.Execute(context.Background(), BlockNumberLatest, true,
		token.Name,
		token.Symbol,
		token.Decimals,
		token.BalanceOf.MustWith(testAlice),
	)
	require.NoError(t, err)
	require.Len(t, out, 4)

	assert.Equal(t, "Tether USD", out[0])
	assert.Equal(t, "USDT", out[1])
	assert.Equal(t, uint8(6), out[2])
	assert.Equal(t, 0, testBalance.Cmp(out[3].(*big.Int)))
	assert.Equal(t, 1, trans.count("eth_call"))
}

func TestMulticall_TryExecute(t *testing.T) {
	mc := Via(MustBind[Multicall3](Multicall3Address), multicallTrans(t))
	token := MustBind[testErc20](testUsdt)

	out, err := mc.TryExecute(context.Background(), BlockNumberLatest,
		token.Symbol,
		token.Transfer.MustWith(testTransferArgs{To: testBob, Amount: big.NewInt(1)}),
		token.Symbol.At(testAlice),
	)
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.True(t, out[0].Success)
	assert.Equal(t, "USDT", out[0].Value)
	assert.NoError(t, out[0].Err)

	assert.False(t, out[1].Success)
	assert.ErrorContains(t, out[1].Err, "unsupported")

	assert.False(t, out[2].Success)
	assert.ErrorContains(t, out[2].Err, "no reason")
}

func TestMulticall_empty(t *testing.T) {
	trans := newFakeTrans()
	mc := Via(MustBind[Multicall3](Multicall3Address), trans)

	out, err := mc.Execute(context.Background(), BlockNumberLatest, false)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, 0, trans.count("eth_call"))
}

func TestMulticall_TryExecute_custom_errors(t *testing.T) {
	errs := MustParseAbiJson(`[{"type": "error", "name": "Paused", "inputs": [{"name": "until", "type": "uint64"}]}]`)
	paused, ok := errs.ErrorBySelector(AbiSelector("Paused", []AbiType{UintType(64)}))
	require.True(t, ok)

	args, err := AbiMarshalValues([]AbiType{UintType(64)}, uint64(1700000000))
	require.NoError(t, err)
	revert := append(HexBytes(paused.Selector[:]), args...)

	trans := newFakeTrans().on("eth_call", func([]any) (any, error) {
		out, err := AbiMarshalValues(
			[]AbiType{MustParseAbiType("(bool,bytes)[]")},
			[]MulticallResult{{ReturnData: revert}},
		)
		if err != nil {
			return nil, err
		}
		return HexBytes(out), nil
	})

	token := MustBind[testErc20](testUsdt)
	mc := Via(MustBind[Multicall3](Multicall3Address), trans)

	out, err := mc.TryExecute(context.Background(), BlockNumberLatest, token.Symbol)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.ErrorContains(t, out[0].Err, "no reason")

	mc.Errors = errs
	out, err = mc.TryExecute(context.Background(), BlockNumberLatest, token.Symbol)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.False(t, out[0].Success)
	assert.ErrorContains(t, out[0].Err, "reverted: Paused(1700000000)")

	// Requalifying keeps the error definitions.
	assert.Len(t, On(mc, Mainnet).Errors, 1)
}
