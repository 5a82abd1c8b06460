package web3

import (
	"context"
	"math/big"
	"time"
	"unsafe"

	"golang.org/x/crypto/sha3"
)

// Conversion ratios.
const (
	Wei   = 1
	Gwei  = 1e9  // Measured in wei
	Ether = 1e18 // Measured in wei
)

// "Magic" words understood by RPC methods that expect a block number.
const (
	BlockNumberEarliest  = "earliest"
	BlockNumberLatest    = "latest"
	BlockNumberPending   = "pending"
	BlockNumberSafe      = "safe"
	BlockNumberFinalized = "finalized"
)

// Zero-initialized arrays for equality comparisons.
var (
	ZeroAddress Address
	ZeroWord    Word
	ZeroHash    Hash
	ZeroBloom   Bloom
)

var (
	// Determines the default reconnect interval of long-lived subscriptions.
	// Configurable on a per-subscription basis.
	defaultReconnectInterval = time.Second

	etherBig = big.NewFloat(Ether)
)

/*
Converts ethers to wei. Truncates leftover fractional digits. Beware: floats
should not be used for financial calculations. Conversion functions are
provided only for display purposes and for handling user input.
*/
func EthToWei(eth float64) *big.Int {
	num := big.NewFloat(eth)
	num.Mul(num, etherBig)
	out, _ := num.Int(nil)
	return out
}

/*
Converts wei to ethers. Beware: floats should not be used for financial
calculations. Conversion functions are provided only for display purposes and
for handling user input.
*/
func WeiToEth(wei *big.Int) float64 {
	num := new(big.Float).SetInt(wei)
	num.Quo(num, etherBig)
	out, _ := num.Float64()
	return out
}

// Legacy Keccak256 over the concatenation of the inputs, as used everywhere in
// Ethereum.
func Keccak256(inputs ...[]byte) Hash {
	hash := sha3.NewLegacyKeccak256()
	for _, input := range inputs {
		hash.Write(input)
	}
	var out Hash
	hash.Sum(out[:0])
	return out
}

// Returns a pointer to a copy of the value. Convenient for optional fields.
func Ptr[T any](val T) *T { return &val }

/*
Reinterprets a byte slice as a string, saving an allocation.
Borrowed from the standard library. Reasonably safe.
*/
func bytesToMutableString(bytes []byte) string {
	return unsafe.String(unsafe.SliceData(bytes), len(bytes))
}

/*
Returns a byte slice backed by the provided string. Mutations are reflected in
the source string, unless it's backed by constant storage, in which case they
trigger a segfault. Should be safe as long as the bytes are treated as
read-only.
*/
func stringToBytesUnsafe(str string) []byte {
	return unsafe.Slice(unsafe.StringData(str), len(str))
}

// Launches a goroutine, returning a channel that will close on completion,
// transmitting its error or panic, if any.
func gogo(fun func() error) chan error {
	out := make(chan error, 1)

	go func() {
		defer func() {
			err, _ := recover().(error)
			if err != nil {
				select {
				case out <- err:
				default:
				}
			}
			close(out)
		}()

		err := fun()
		if err != nil {
			out <- err
		}
	}()

	return out
}

// Sleeps for the given duration or until the context is canceled, whichever
// comes first.
func sleep(ctx context.Context, dur time.Duration) error {
	if dur <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(dur)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
