package web3

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHexDecode(t *testing.T) {
	out, err := HexDecode([]byte("0xDEADbeef"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, out)

	out, err = HexDecode(nil)
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = HexDecode([]byte("deadbeef"))
	assert.ErrorContains(t, err, "missing 0x prefix")

	_, err = HexDecode([]byte("0x123"))
	assert.Error(t, err)

	var word Word
	assert.Error(t, HexDecodeTo(word[:], []byte("0x1234")))
}

func TestHexEncode(t *testing.T) {
	assert.Equal(t, "0x", string(HexEncode(nil)))
	assert.Equal(t, "0x00ff", string(HexEncode([]byte{0, 0xff})))
	assert.Equal(t, `"0x00ff"`, string(hexEncodeQuoted([]byte{0, 0xff})))
	assert.Equal(t, 42, HexEncodedLen(20))
}

func TestHexUint64(t *testing.T) {
	out, err := json.Marshal([]HexUint64{0, 255})
	require.NoError(t, err)
	assert.Equal(t, `["0x0","0xff"]`, string(out))

	var num HexUint64
	require.NoError(t, json.Unmarshal([]byte(`"0x10d4f"`), &num))
	assert.Equal(t, HexUint64(68943), num)
	assert.Error(t, json.Unmarshal([]byte(`"10"`), &num))
}

func TestHexInt(t *testing.T) {
	var num HexInt
	require.NoError(t, json.Unmarshal([]byte(`"0xde0b6b3a7640000"`), &num))
	assert.Equal(t, "1000000000000000000", num.Big().String())
	assert.Equal(t, "0xde0b6b3a7640000", num.String())
}

func TestAddress_checksum(t *testing.T) {
	const checksummed = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

	addr := MustParseAddress("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	assert.Equal(t, checksummed, addr.String())

	assert.True(t, IsChecksumValid(checksummed))
	assert.True(t, IsChecksumValid("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"))
	assert.False(t, IsChecksumValid("0x5AAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"))
	assert.False(t, IsChecksumValid("0x5aaeb6053f3e94c9b9a09f33669435e7ef1bea"))
}

func TestZeroValues_encode_as_null(t *testing.T) {
	out, err := json.Marshal(struct {
		Address Address
		Hash    Hash
		Word    Word
	}{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Address": null, "Hash": null, "Word": null}`, string(out))

	assert.Equal(t, "0x0000000000000000000000000000000000000000", ZeroAddress.String())
}

func TestAddress_Word(t *testing.T) {
	assert.Equal(t,
		MustParseWord("0x0000000000000000000000005754284f345afc66a98fbb0a0afe71e0f007b949"),
		testAlice.Word(),
	)
}

func TestEncodeBlockNumber(t *testing.T) {
	cases := []struct {
		input BlockNumber
		out   any
	}{
		{nil, BlockNumberLatest},
		{uint64(16), HexUint64(16)},
		{16, HexUint64(16)},
		{Ptr(uint64(3)), HexUint64(3)},
		{BlockNumberFinalized, BlockNumberFinalized},
		{"0x20", HexUint64(32)},
	}

	for _, tc := range cases {
		out, err := EncodeBlockNumber(tc.input)
		require.NoError(t, err)
		assert.Equal(t, tc.out, out)
	}

	for _, input := range []BlockNumber{-1, "tomorrow", 1.5} {
		_, err := EncodeBlockNumber(input)
		assert.Error(t, err, "%v", input)
	}
}

func TestEtherConversions(t *testing.T) {
	assert.Equal(t, 0, EthToWei(1.5).Cmp(big.NewInt(1_500_000_000_000_000_000)))
	assert.Equal(t, 0.25, WeiToEth(big.NewInt(250_000_000_000_000_000)))
}

func TestKeccak256(t *testing.T) {
	assert.Equal(t,
		MustParseHash("0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470"),
		Keccak256(),
	)
	assert.Equal(t, Keccak256([]byte("ab")), Keccak256([]byte("a"), []byte("b")))
}
