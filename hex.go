package web3

import (
	"encoding/hex"
	"strconv"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
)

/*
Hex-encodes the input with the "0x" prefix required by RPC nodes. Empty input
encodes as "0x".
*/
func HexEncode(input []byte) []byte { return []byte(hexutil.Encode(input)) }

/*
Decodes "0x"-prefixed hex into the output, which must be exactly as long as
the encoded bytes. Accepts any letter case and both "0x" and "0X". Empty input
is ok and requires empty output.
*/
func HexDecodeTo(output []byte, input []byte) error {
	raw, err := drop0x(input)
	if err != nil {
		return err
	}
	if len(raw) != len(output)*2 {
		return errors.Errorf(`hex input %q has %d digits, expected %d`, input, len(raw), len(output)*2)
	}
	_, err = hex.Decode(output, raw)
	return errors.Wrapf(err, `malformed hex input %q`, input)
}

// Like "HexDecodeTo", but allocates an output of the decoded size.
func HexDecode(input []byte) ([]byte, error) {
	raw, err := drop0x(input)
	if err != nil {
		return nil, err
	}
	out := make([]byte, hex.DecodedLen(len(raw)))
	_, err = hex.Decode(out, raw)
	if err != nil {
		return nil, errors.Wrapf(err, `malformed hex input %q`, input)
	}
	return out, nil
}

// Panicking version of "HexDecode" for string constants.
func MustHexParse(input string) []byte {
	out, err := HexDecode(stringToBytesUnsafe(input))
	if err != nil {
		panic(err)
	}
	return out
}

// Length of the "0x"-prefixed encoding of the given number of bytes.
func HexEncodedLen(size int) int { return 2 + hex.EncodedLen(size) }

func drop0x(input []byte) ([]byte, error) {
	if len(input) == 0 {
		return nil, nil
	}
	if has0x(input) {
		return input[2:], nil
	}
	return input, errors.Errorf(`malformed hex input %q: missing 0x prefix`, input)
}

// Like "drop0x", but tolerates a missing prefix. For user input such as
// private keys and CLI arguments.
func trim0x(input string) string {
	if has0x(stringToBytesUnsafe(input)) {
		return input[2:]
	}
	return input
}

func has0x(input []byte) bool {
	return len(input) >= 2 && input[0] == '0' && (input[1] == 'x' || input[1] == 'X')
}

// RPC quantity: hex without leading zeros. Zero encodes as "0x0".
func appendHexQuantity(out []byte, num uint64) []byte {
	out = append(out, '0', 'x')
	return strconv.AppendUint(out, num, 16)
}

func hexEncodeQuoted(input []byte) []byte {
	return strconv.AppendQuote(make([]byte, 0, HexEncodedLen(len(input))+2), hexutil.Encode(input))
}
