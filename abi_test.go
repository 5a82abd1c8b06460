package web3

import (
	"math/big"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func words(input ...string) []byte {
	return MustHexParse("0x" + strings.Join(input, ""))
}

func requireCodecError(t *testing.T, err error) {
	t.Helper()
	var codecErr *CodecError
	require.True(t, errors.As(err, &codecErr), "expected *CodecError, got %+v", err)
}

func TestAbiSelector(t *testing.T) {
	cases := map[string]string{
		"name()":                             "0x06fdde03",
		"balanceOf(address)":                 "0x70a08231",
		"allowance(address, address)":        "0xdd62ed3e",
		"transfer(address to, uint amount)":  "0xa9059cbb",
		"transferFrom(address,address,uint)": "0x23b872dd",
	}

	for sig, expected := range cases {
		name, types, err := ParseAbiSignature(sig)
		require.NoError(t, err, sig)

		sel := AbiSelector(name, types)
		assert.Equal(t, expected, HexBytes(sel[:]).String(), sig)
	}
}

func TestParseAbiSignature(t *testing.T) {
	name, types, err := ParseAbiSignature("swap((address,uint256)[], bytes32)")
	require.NoError(t, err)
	assert.Equal(t, "swap", name)
	assert.Equal(t, "swap((address,uint256)[],bytes32)", AbiSignature(name, types))

	cases := map[string]string{
		"transfer(address to, uint amount)":                                 "transfer(address,uint256)",
		"Transfer(address indexed from, address indexed to, uint256 value)": "Transfer(address,address,uint256)",
		"function approve(address spender, uint256 amount)":                 "approve(address,uint256)",
		"event Swap((address token, uint amount)[2] legs, bytes32 salt)":     "Swap((address,uint256)[2],bytes32)",
		"nested(((uint8 a, bool b) inner, string label)[] items)":           "nested(((uint8,bool),string)[])",
		"  spaced ( uint256[] values )  ":                                     "spaced(uint256[])",
	}
	for sig, expected := range cases {
		name, types, err := ParseAbiSignature(sig)
		require.NoError(t, err, sig)
		assert.Equal(t, expected, AbiSignature(name, types), sig)
	}

	name, types, err = ParseAbiSignature("totalSupply")
	require.NoError(t, err)
	assert.Equal(t, "totalSupply", name)
	assert.Empty(t, types)

	_, _, err = ParseAbiSignature("(uint256)")
	assert.Error(t, err)

	_, _, err = ParseAbiSignature("broken(uint256")
	assert.Error(t, err)

	_, _, err = ParseAbiSignature("listed(uint256)[]")
	assert.Error(t, err)

	for _, sig := range []string{"gap(address,,uint256)", "open((address)", "shut(address))"} {
		_, _, err = ParseAbiSignature(sig)
		assert.Error(t, err, sig)
	}
}

func TestTransferTopic(t *testing.T) {
	assert.Equal(t,
		"0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef",
		Keccak256([]byte("Transfer(address,address,uint256)")).String(),
	)
}

func TestAbiMarshalValues_head_tail(t *testing.T) {
	out, err := AbiMarshalValues([]AbiType{AbiUint256, AbiString}, big.NewInt(1), "abc")
	require.NoError(t, err)

	assert.Equal(t, words(
		"0000000000000000000000000000000000000000000000000000000000000001",
		"0000000000000000000000000000000000000000000000000000000000000040",
		"0000000000000000000000000000000000000000000000000000000000000003",
		"6162630000000000000000000000000000000000000000000000000000000000",
	), out)
}

func TestAbiMarshal_dynamic_array_of_strings(t *testing.T) {
	out, err := AbiMarshal(MustParseAbiType("string[]"), []string{"one", "two"})
	require.NoError(t, err)

	assert.Equal(t, words(
		"0000000000000000000000000000000000000000000000000000000000000002",
		"0000000000000000000000000000000000000000000000000000000000000040",
		"0000000000000000000000000000000000000000000000000000000000000080",
		"0000000000000000000000000000000000000000000000000000000000000003",
		"6f6e650000000000000000000000000000000000000000000000000000000000",
		"0000000000000000000000000000000000000000000000000000000000000003",
		"74776f0000000000000000000000000000000000000000000000000000000000",
	), out)
}

func TestAbiMarshal_negative_int(t *testing.T) {
	out, err := AbiMarshal(IntType(24), int32(-1))
	require.NoError(t, err)
	assert.Equal(t, words("ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"), out)

	var back int32
	require.NoError(t, AbiUnmarshal(out, IntType(24), &back))
	assert.Equal(t, int32(-1), back)
}

func TestAbiMarshal_out_of_range(t *testing.T) {
	_, err := AbiMarshal(UintType(8), big.NewInt(256))
	requireCodecError(t, err)

	_, err = AbiMarshal(UintType(256), big.NewInt(-1))
	requireCodecError(t, err)

	_, err = AbiMarshal(FixedBytesType(4), HexBytes{1, 2, 3})
	requireCodecError(t, err)
}

type testPosition struct {
	Owner     Address  `abi:"owner"`
	Liquidity *big.Int `abi:"liquidity"`
	Tick      int32    `abi:"tick,type=int24"`
	Label     string   `abi:"label"`
	Hooks     []Word   `abi:"hooks"`
	Internal  string   `abi:"-"`
}

func TestAbi_struct_roundtrip(t *testing.T) {
	atype, err := AbiTypeFor[testPosition]()
	require.NoError(t, err)
	assert.Equal(t, "(address,uint256,int24,string,bytes32[])", atype.Type)

	input := testPosition{
		Owner:     MustParseAddress("0x5754284f345afc66a98fbb0a0afe71e0f007b949"),
		Liquidity: new(big.Int).Lsh(big.NewInt(1), 200),
		Tick:      -887272,
		Label:     "full range",
		Hooks:     []Word{BigWord(big.NewInt(7)), ZeroWord},
		Internal:  "ignored",
	}

	encoded, err := AbiMarshal(atype, input)
	require.NoError(t, err)

	var output testPosition
	require.NoError(t, AbiUnmarshal(encoded, atype, &output))

	input.Internal = ""
	assert.Equal(t, input, output)
}

func TestAbi_empty_dynamic_roundtrip(t *testing.T) {
	types := []AbiType{AbiBytes, SliceType(AbiUint256), AbiBytes}
	encoded, err := AbiMarshalValues(types, []byte{}, []*big.Int{}, []byte{1, 2})
	require.NoError(t, err)

	var empty, tail []byte
	var nums []*big.Int
	require.NoError(t, AbiUnmarshalValues(encoded, types, &empty, &nums, &tail))

	assert.NotNil(t, empty)
	assert.Empty(t, empty)
	assert.NotNil(t, nums)
	assert.Empty(t, nums)

	encoded[len(encoded)-WordSize] = 0xff
	assert.Equal(t, []byte{1, 2}, tail)
}

func TestAbi_nested_fixed_arrays_roundtrip(t *testing.T) {
	atype := MustParseAbiType("uint32[2][3]")
	input := [3][2]uint32{{1, 2}, {3, 4}, {5, 6}}

	encoded, err := AbiMarshal(atype, input)
	require.NoError(t, err)
	assert.Len(t, encoded, 6*WordSize)

	var output [3][2]uint32
	require.NoError(t, AbiUnmarshal(encoded, atype, &output))
	assert.Equal(t, input, output)
}

func TestAbiUnmarshal_strict(t *testing.T) {
	var flag bool
	err := AbiUnmarshal(words("0000000000000000000000000000000000000000000000000000000000000002"), AbiBool, &flag)
	requireCodecError(t, err)

	var small uint8
	err = AbiUnmarshal(words("0000000000000000000000000000000000000000000000000000000000000100"), UintType(8), &small)
	requireCodecError(t, err)

	var addr Address
	err = AbiUnmarshal(words("0100000000000000000000005754284f345afc66a98fbb0a0afe71e0f007b949"), AbiAddress, &addr)
	requireCodecError(t, err)

	var str string
	err = AbiUnmarshalValues(words("0000000000000000000000000000000000000000000000000000000000000400"), []AbiType{AbiString}, &str)
	requireCodecError(t, err)

	var short *big.Int
	err = AbiUnmarshal([]byte{1, 2, 3}, AbiUint256, &short)
	requireCodecError(t, err)
}

func TestAbiUnmarshal_interface_defaults(t *testing.T) {
	encoded, err := AbiMarshalValues(
		[]AbiType{UintType(8), AbiUint256, AbiAddress, AbiString},
		uint8(6), big.NewInt(1_000_000), ZeroAddress, "USDT",
	)
	require.NoError(t, err)

	outs := make([]any, 4)
	require.NoError(t, AbiUnmarshalValues(encoded,
		[]AbiType{UintType(8), AbiUint256, AbiAddress, AbiString},
		&outs[0], &outs[1], &outs[2], &outs[3],
	))

	assert.Equal(t, uint8(6), outs[0])
	assert.Equal(t, big.NewInt(1_000_000), outs[1])
	assert.Equal(t, ZeroAddress, outs[2])
	assert.Equal(t, "USDT", outs[3])
}

func TestParseAbiType_aliases(t *testing.T) {
	assert.Equal(t, "uint256", MustParseAbiType("uint").Type)
	assert.Equal(t, "int256", MustParseAbiType("int").Type)
	assert.Equal(t, "bytes1", MustParseAbiType("byte").Type)
	assert.Equal(t, "(uint256,(address,bytes)[])[]", MustParseAbiType("(uint,(address,bytes)[])[]").Type)

	_, err := ParseAbiType("uint7")
	assert.Error(t, err)
	_, err = ParseAbiType("bytes33")
	assert.Error(t, err)
}

func TestDecodeRevertReason(t *testing.T) {
	data := words(
		"08c379a0"+"0000000000000000000000000000000000000000000000000000000000000020",
		"000000000000000000000000000000000000000000000000000000000000000c",
		"696e73756666696369656e740000000000000000000000000000000000000000",
	)

	_, ok := DecodeRevertReason(nil)
	assert.False(t, ok)

	reason, ok := DecodeRevertReason(data)
	require.True(t, ok)
	assert.Equal(t, "insufficient", reason)
}
