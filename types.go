package web3

import (
	"bytes"
	"encoding/json"
	"math/big"
	"strconv"

	"github.com/pkg/errors"
)

var null = []byte{'n', 'u', 'l', 'l'}

// Version of "[]byte" that uses "0x"-prefixed hex encoding and decoding.
type HexBytes []byte

/*
Decodes the provided input. Zero-length input is ok. Otherwise, it must be
prefixed with "0x".
*/
func DecodeHexBytes(input []byte) (HexBytes, error) {
	var out HexBytes
	err := out.UnmarshalText(input)
	return out, err
}

/*
Decodes the provided string. Zero-length input is ok. Otherwise, it must be
prefixed with "0x".
*/
func ParseHexBytes(input string) (HexBytes, error) {
	return DecodeHexBytes(stringToBytesUnsafe(input))
}

/*
Decodes the provided string. Zero-length input is ok. Otherwise, it must be
prefixed with "0x". Panics on error. Convenient for initializing global
variables.
*/
func MustParseHexBytes(input string) HexBytes {
	out, err := ParseHexBytes(input)
	if err != nil {
		panic(err)
	}
	return out
}

/*
Implements "encoding.Marshaler". Uses hex encoding prefixed with "0x".
*/
func (self HexBytes) MarshalText() ([]byte, error) {
	return HexEncode([]byte(self)), nil
}

/*
Implements "encoding.Unmarshaler". Empty input is ok. Otherwise, it must be
prefixed with "0x".
*/
func (self *HexBytes) UnmarshalText(input []byte) error {
	out, err := HexDecode(input)
	if err != nil {
		return err
	}
	*self = HexBytes(out)
	return nil
}

/*
Implements "json.Marshaler". Always encodes as a hex string; an empty value
encodes as "0x", which nodes accept as empty calldata.
*/
func (self HexBytes) MarshalJSON() ([]byte, error) {
	return hexEncodeQuoted(self), nil
}

/*
Implements "fmt.Stringer". Follows the same rules as "MarshalText".
*/
func (self HexBytes) String() string {
	return bytesToMutableString(HexEncode([]byte(self)))
}

// Version of `big.Int` that encodes/decodes in base 16 with the "0x" prefix.
type HexInt big.Int

// Shortcut for converting a *big.Int. Nil stays nil.
func BigHex(num *big.Int) *HexInt { return (*HexInt)(num) }

// Returns the underlying *big.Int. Nil stays nil.
func (self *HexInt) Big() *big.Int { return (*big.Int)(self) }

/*
Implements "encoding.Marshaler". Uses hex encoding prefixed with "0x". Negative
numbers are rejected since RPC quantities are unsigned.
*/
func (self *HexInt) MarshalText() ([]byte, error) {
	num := (*big.Int)(self)
	if num.Sign() < 0 {
		return nil, errors.Errorf("can't hex-encode negative quantity %v", num)
	}
	out := make([]byte, 0, 16)
	out = append(out, '0', 'x')
	return num.Append(out, 16), nil
}

/*
Implements "encoding.Unmarshaler". The input must be in base 16, prefixed with
"0x".
*/
func (self *HexInt) UnmarshalText(input []byte) error {
	input, err := drop0x(input)
	if err != nil {
		return err
	}
	if len(input) == 0 {
		(*big.Int)(self).SetUint64(0)
		return nil
	}

	_, ok := (*big.Int)(self).SetString(bytesToMutableString(input), 16)
	if !ok {
		return errors.Errorf("failed to decode %q as a hex integer", input)
	}
	return nil
}

/*
Implements "fmt.Stringer". Follows the same rules as "MarshalText".
*/
func (self *HexInt) String() string {
	bytes, _ := self.MarshalText()
	return bytesToMutableString(bytes)
}

// Version of `uint64` that encodes/decodes in base 16 with the "0x" prefix.
type HexUint64 uint64

/*
Implements "encoding.Marshaler". Uses hex encoding prefixed with "0x".
*/
func (self HexUint64) MarshalText() ([]byte, error) {
	return appendHexQuantity(make([]byte, 0, 18), uint64(self)), nil
}

/*
Implements "encoding.Unmarshaler". The input must be in base 16, prefixed with
"0x".
*/
func (self *HexUint64) UnmarshalText(input []byte) error {
	input, err := drop0x(input)
	if err != nil {
		return err
	}
	if len(input) == 0 {
		*self = 0
		return nil
	}
	out, err := strconv.ParseUint(bytesToMutableString(input), 16, 64)
	*self = HexUint64(out)
	return errors.WithStack(err)
}

/*
Implements "fmt.Stringer". Follows the same rules as "MarshalText".
*/
func (self HexUint64) String() string {
	bytes, _ := self.MarshalText()
	return bytesToMutableString(bytes)
}

/*
Compact representation of an Ethereum address. Uses hex-encoding and
hex-decoding with the mandatory "0x" prefix. Encodes with the EIP-55 mixed-case
checksum; decodes any letter case.

To avoid gotchas, a zero-initialized Address{} JSON-encodes as "null" and
text-encodes as "".
*/
type Address [20]byte

/*
Decodes the provided input. Zero-length input is ok. Otherwise, it must be
prefixed with "0x".
*/
func DecodeAddress(input []byte) (Address, error) {
	var out Address
	err := out.UnmarshalText(input)
	return out, err
}

/*
Decodes the provided string. Zero-length input is ok. Otherwise, it must be
prefixed with "0x".
*/
func ParseAddress(input string) (Address, error) {
	return DecodeAddress(stringToBytesUnsafe(input))
}

/*
Decodes the provided string. Zero-length input is ok. Otherwise, it must be
prefixed with "0x". Panics on error. Convenient for initializing global
variables.
*/
func MustParseAddress(input string) Address {
	out, err := ParseAddress(input)
	if err != nil {
		panic(err)
	}
	return out
}

/*
Implements "encoding.Marshaler". A zero-initialized value encodes as "",
otherwise uses the EIP-55 checksummed hex encoding prefixed with "0x".
*/
func (self Address) MarshalText() ([]byte, error) {
	if self == ZeroAddress {
		return nil, nil
	}
	return self.checksummed(), nil
}

/*
Implements "encoding.Unmarshaler". Empty input is ok. Otherwise, it must be
prefixed with "0x".
*/
func (self *Address) UnmarshalText(input []byte) error {
	if len(input) == 0 {
		*self = Address{}
		return nil
	}
	return HexDecodeTo(self[:], input)
}

/*
Implements "json.Marshaler". A zero-initialized value encodes as "null".
Otherwise, it encodes as a checksummed hex string, prefixed with "0x".
*/
func (self Address) MarshalJSON() ([]byte, error) {
	if self == ZeroAddress {
		return null, nil
	}
	out := make([]byte, 0, HexEncodedLen(len(self))+2)
	out = append(out, '"')
	out = append(out, self.checksummed()...)
	return append(out, '"'), nil
}

/*
Implements "fmt.Stringer". Uses the checksummed hex encoding prefixed with
"0x". Unlike "MarshalText" and "MarshalJSON", doesn't have special rules for
zero-initialized values.
*/
func (self Address) String() string {
	return bytesToMutableString(self.checksummed())
}

// Converts into a Word for event log filtering, zero-padded on the left.
func (self Address) Word() Word {
	var out Word
	copy(out[len(out)-len(self):], self[:])
	return out
}

// https://eips.ethereum.org/EIPS/eip-55
func (self Address) checksummed() []byte {
	out := HexEncode(self[:])
	hash := Keccak256(out[2:])
	for i := 2; i < len(out); i++ {
		char := out[i]
		if char < 'a' || char > 'f' {
			continue
		}
		nibble := hash[(i-2)/2]
		if (i-2)%2 == 0 {
			nibble >>= 4
		}
		if nibble&0xf >= 8 {
			out[i] = char - 'a' + 'A'
		}
	}
	return out
}

/*
Reports whether the input is a hex address whose letter case either carries a
valid EIP-55 checksum or is uniformly lower or upper case.
*/
func IsChecksumValid(input string) bool {
	addr, err := ParseAddress(input)
	if err != nil || len(input) != HexEncodedLen(len(addr)) {
		return false
	}
	body := input[2:]
	lower := bytes.ToLower([]byte(body))
	upper := bytes.ToUpper([]byte(body))
	if string(lower) == body || string(upper) == body {
		return true
	}
	return string(addr.checksummed()[2:]) == body
}

/*
A Word represents the standard memory granularity of the EVM: 32 bytes of
arbitrary content. All EVM types are padded to at least this size when
ABI-encoded. This size is also used for hashes, log/event topics, etc.

Note that Hash has exactly the same structure, but a slightly different
interpretation. A Word is not assumed to be a hash.

Uses the 0x-prefixed hex notation for encoding and decoding. An empty Word{}
will text-encode as "" and JSON-encode as `null` rather than
"0x0000000000000000000000000000000000000000000000000000000000000000".
*/
type Word [32]byte

/*
Decodes the provided input. Zero-length input is ok. Otherwise, it must be
prefixed with "0x".
*/
func DecodeWord(input []byte) (Word, error) {
	var out Word
	err := out.UnmarshalText(input)
	return out, err
}

/*
Decodes the provided string. Zero-length input is ok. Otherwise, it must be
prefixed with "0x".
*/
func ParseWord(input string) (Word, error) {
	return DecodeWord(stringToBytesUnsafe(input))
}

/*
Decodes the provided string. Zero-length input is ok. Otherwise, it must be
prefixed with "0x". Panics on error. Convenient for initializing global
variables.
*/
func MustParseWord(input string) Word {
	out, err := ParseWord(input)
	if err != nil {
		panic(err)
	}
	return out
}

/*
Implements "encoding.Marshaler". A zero-initialized value encodes as "",
otherwise uses hex encoding prefixed with "0x".
*/
func (self Word) MarshalText() ([]byte, error) {
	if self == ZeroWord {
		return nil, nil
	}
	return HexEncode(self[:]), nil
}

/*
Implements "encoding.Unmarshaler". Empty input is ok. Otherwise, it must be
prefixed with "0x".
*/
func (self *Word) UnmarshalText(input []byte) error {
	if len(input) == 0 {
		*self = Word{}
		return nil
	}
	return HexDecodeTo(self[:], input)
}

/*
Implements "json.Marshaler". A zero-initialized value encodes as "null".
Otherwise, it encodes as a hex string, prefixed with "0x".
*/
func (self Word) MarshalJSON() ([]byte, error) {
	if self == ZeroWord {
		return null, nil
	}
	return hexEncodeQuoted(self[:]), nil
}

/*
Implements "fmt.Stringer". Uses hex encoding prefixed with "0x". Unlike
"MarshalText" and "MarshalJSON", doesn't have special rules for zero-initialized
values.
*/
func (self Word) String() string {
	return bytesToMutableString(HexEncode(self[:]))
}

// Interprets the word as a left-padded address, as found in event topics.
func (self Word) Address() Address {
	var out Address
	copy(out[:], self[len(self)-len(out):])
	return out
}

// Interprets the word as a big-endian unsigned integer.
func (self Word) Big() *big.Int {
	return new(big.Int).SetBytes(self[:])
}

// Left-pads the big-endian representation of a non-negative integer.
func BigWord(num *big.Int) Word {
	var out Word
	num.FillBytes(out[:])
	return out
}

/*
Usually represents a block or transaction hash.

Note that while this shares structure and encoding/decoding behavior with Word,
the assumed interpretation is different: a Word is not assumed to be a hash.
*/
type Hash [32]byte

/*
Decodes the provided string. Zero-length input is ok. Otherwise, it must be
prefixed with "0x".
*/
func ParseHash(input string) (Hash, error) {
	hash, err := ParseWord(input)
	return Hash(hash), err
}

/*
Decodes the provided string. Zero-length input is ok. Otherwise, it must be
prefixed with "0x". Panics on error. Convenient for initializing global
variables.
*/
func MustParseHash(input string) Hash { return Hash(MustParseWord(input)) }

/*
Implements "encoding.Marshaler". A zero-initialized value encodes as "",
otherwise uses hex encoding prefixed with "0x".
*/
func (self Hash) MarshalText() ([]byte, error) { return Word(self).MarshalText() }

/*
Implements "encoding.Unmarshaler". Empty input is ok. Otherwise, it must be
prefixed with "0x".
*/
func (self *Hash) UnmarshalText(input []byte) error { return (*Word)(self).UnmarshalText(input) }

/*
Implements "json.Marshaler". A zero-initialized value encodes as "null".
Otherwise, it encodes as a hex string, prefixed with "0x".
*/
func (self Hash) MarshalJSON() ([]byte, error) { return Word(self).MarshalJSON() }

/*
Implements "fmt.Stringer". Uses hex encoding prefixed with "0x". Unlike
"MarshalText" and "MarshalJSON", doesn't have special rules for zero-initialized
values.
*/
func (self Hash) String() string { return Word(self).String() }

type Bloom [256]byte

/*
Implements "encoding.Marshaler". A zero-initialized value encodes as "",
otherwise uses hex encoding prefixed with "0x".
*/
func (self Bloom) MarshalText() ([]byte, error) {
	if self == ZeroBloom {
		return nil, nil
	}
	return HexEncode(self[:]), nil
}

/*
Implements "encoding.Unmarshaler". Empty input is ok. Otherwise, it must be
prefixed with "0x".
*/
func (self *Bloom) UnmarshalText(input []byte) error {
	if len(input) == 0 {
		*self = ZeroBloom
		return nil
	}
	return HexDecodeTo(self[:], input)
}

/*
Implements "json.Marshaler". A zero-initialized value encodes as "null".
Otherwise, it encodes as a hex string, prefixed with "0x".
*/
func (self Bloom) MarshalJSON() ([]byte, error) {
	if self == ZeroBloom {
		return null, nil
	}
	return hexEncodeQuoted(self[:]), nil
}

/*
Stand-in for anything representing a block number. Makes the signatures of
RPC functions more readable.

RPC methods accept block numbers in several formats: a regular number, a
hex-encoded number, or the magic strings "earliest", "latest", "pending",
"safe", "finalized". See the "BlockNumberX" constants. Nil means "latest".
*/
type BlockNumber any

/*
Converts a "BlockNumber" into its wire form: a "0x"-prefixed hex quantity or a
magic string. Returns an error for unsupported inputs.
*/
func EncodeBlockNumber(num BlockNumber) (any, error) {
	switch num := num.(type) {
	case nil:
		return BlockNumberLatest, nil
	case uint64:
		return HexUint64(num), nil
	case int:
		if num < 0 {
			return nil, errors.Errorf("negative block number %v", num)
		}
		return HexUint64(num), nil
	case HexUint64:
		return num, nil
	case *uint64:
		if num == nil {
			return BlockNumberLatest, nil
		}
		return HexUint64(*num), nil
	case *big.Int:
		if num == nil {
			return BlockNumberLatest, nil
		}
		return (*HexInt)(num), nil
	case *HexInt:
		return num, nil
	case string:
		switch num {
		case BlockNumberEarliest, BlockNumberLatest, BlockNumberPending,
			BlockNumberSafe, BlockNumberFinalized:
			return num, nil
		}
		var out HexUint64
		err := out.UnmarshalText(stringToBytesUnsafe(num))
		if err != nil {
			return nil, errors.Errorf("unrecognized block number %q", num)
		}
		return out, nil
	default:
		return nil, errors.Errorf("unrecognized block number of type %T", num)
	}
}

/*
Represents the input for an Ethereum transaction, or the input to a
non-mutating contract call. Passed to "eth_call", "eth_estimateGas" and
"eth_createAccessList". Unset fields are omitted from the request.
*/
type TxMsg struct {
	From                 Address         `json:"from,omitzero"`
	To                   *Address        `json:"to,omitempty"`
	Data                 HexBytes        `json:"data,omitempty"`
	Value                *HexInt         `json:"value,omitempty"`
	Gas                  *HexUint64      `json:"gas,omitempty"`
	GasPrice             *HexInt         `json:"gasPrice,omitempty"`
	MaxFeePerGas         *HexInt         `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *HexInt         `json:"maxPriorityFeePerGas,omitempty"`
	Nonce                *HexUint64      `json:"nonce,omitempty"`
	AccessList           AccessList      `json:"accessList,omitempty"`
	AuthorizationList    []Authorization `json:"authorizationList,omitempty"`
}

/*
Per-account state replacement for "eth_call" and "eth_estimateGas", keyed by
account address.
*/
type StateOverride map[Address]AccountOverride

// One entry of "StateOverride". Unset fields leave the account state as-is.
type AccountOverride struct {
	Nonce     *HexUint64    `json:"nonce,omitempty"`
	Code      HexBytes      `json:"code,omitempty"`
	Balance   *HexInt       `json:"balance,omitempty"`
	State     map[Hash]Hash `json:"state,omitempty"`
	StateDiff map[Hash]Hash `json:"stateDiff,omitempty"`
}

// EIP-2930 access list.
type AccessList []AccessTuple

type AccessTuple struct {
	Address     Address `json:"address"`
	StorageKeys []Hash  `json:"storageKeys"`
}

// Output of "eth_createAccessList".
type AccessListResult struct {
	AccessList AccessList `json:"accessList"`
	GasUsed    HexUint64  `json:"gasUsed"`
	Error      string     `json:"error,omitempty"`
}

// Represents an Ethereum block without any attached transactions.
type BlockHead struct {
	BaseFeePerGas    *HexInt   `json:"baseFeePerGas"`
	Difficulty       *HexInt   `json:"difficulty"`
	ExtraData        HexBytes  `json:"extraData"`
	GasLimit         HexUint64 `json:"gasLimit"`
	GasUsed          HexUint64 `json:"gasUsed"`
	Hash             Hash      `json:"hash"`
	LogsBloom        Bloom     `json:"logsBloom"`
	Miner            Address   `json:"miner"`
	MixHash          Hash      `json:"mixHash"`
	Nonce            HexBytes  `json:"nonce"`
	Number           HexUint64 `json:"number"`
	ParentHash       Hash      `json:"parentHash"`
	ReceiptsRoot     Hash      `json:"receiptsRoot"`
	Sha3Uncles       Hash      `json:"sha3Uncles"`
	StateRoot        Hash      `json:"stateRoot"`
	Timestamp        HexUint64 `json:"timestamp"`
	TransactionsRoot Hash      `json:"transactionsRoot"`
}

// Represents an Ethereum transaction.
type Transaction struct {
	Type                 HexUint64       `json:"type"`
	Hash                 Hash            `json:"hash"`
	Nonce                HexUint64       `json:"nonce"`
	BlockHash            Hash            `json:"blockHash"`
	BlockNumber          *HexUint64      `json:"blockNumber"`
	TransactionIndex     *HexUint64      `json:"transactionIndex"`
	From                 Address         `json:"from"`
	To                   *Address        `json:"to"`
	Value                *HexInt         `json:"value"`
	GasPrice             *HexInt         `json:"gasPrice"`
	MaxFeePerGas         *HexInt         `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *HexInt         `json:"maxPriorityFeePerGas"`
	Gas                  HexUint64       `json:"gas"`
	Input                HexBytes        `json:"input"`
	ChainId              *HexInt         `json:"chainId"`
	AccessList           AccessList      `json:"accessList"`
	AuthorizationList    []Authorization `json:"authorizationList"`
	V                    *HexInt         `json:"v"`
	R                    *HexInt         `json:"r"`
	S                    *HexInt         `json:"s"`
}

// Represents a transaction receipt.
type TxReceipt struct {
	Type              HexUint64  `json:"type"`
	BlockHash         Hash       `json:"blockHash"`
	BlockNumber       HexUint64  `json:"blockNumber"`
	ContractAddress   *Address   `json:"contractAddress"`
	GasUsed           HexUint64  `json:"gasUsed"`
	EffectiveGasPrice *HexInt    `json:"effectiveGasPrice"`
	Logs              []LogEntry `json:"logs"`
	LogsBloom         Bloom      `json:"logsBloom"`
	CumulativeGasUsed HexUint64  `json:"cumulativeGasUsed"`
	Status            HexUint64  `json:"status"`
	TransactionHash   Hash       `json:"transactionHash"`
	TransactionIndex  HexUint64  `json:"transactionIndex"`
}

// True if the transaction executed without reverting.
func (self TxReceipt) Succeeded() bool { return self.Status == 1 }

// Output of "eth_feeHistory".
type FeeHistory struct {
	OldestBlock   HexUint64  `json:"oldestBlock"`
	BaseFeePerGas []*HexInt  `json:"baseFeePerGas"`
	GasUsedRatio  []float64  `json:"gasUsedRatio"`
	Reward        [][]HexInt `json:"reward"`
}

/*
A log entry, typically obtained via "EthGetLogs" and used for contract events.

Original definition in "go-ethereum":
https://github.com/ethereum/go-ethereum/blob/0ae462fb80b8a95e38af08d894ea9ecf9e45f2e7/core/types/log.go#L31
*/
type LogEntry struct {
	Address          Address   `json:"address"`
	Topics           []Word    `json:"topics"`
	Data             HexBytes  `json:"data"`
	BlockHash        Hash      `json:"blockHash"`
	BlockNumber      HexUint64 `json:"blockNumber"`
	TransactionHash  Hash      `json:"transactionHash"`
	TransactionIndex HexUint64 `json:"transactionIndex"`
	LogIndex         HexUint64 `json:"logIndex"`
	Removed          bool      `json:"removed"`
}

/*
Orders log entries by position in the chain: block number, then transaction
index, then log index. Suitable for "slices.SortFunc".
*/
func CompareLogEntries(one, other LogEntry) int {
	switch {
	case one.BlockNumber != other.BlockNumber:
		return cmpUint64(uint64(one.BlockNumber), uint64(other.BlockNumber))
	case one.TransactionIndex != other.TransactionIndex:
		return cmpUint64(uint64(one.TransactionIndex), uint64(other.TransactionIndex))
	default:
		return cmpUint64(uint64(one.LogIndex), uint64(other.LogIndex))
	}
}

func cmpUint64(one, other uint64) int {
	switch {
	case one < other:
		return -1
	case one > other:
		return 1
	default:
		return 0
	}
}

/*
LogFilter is passed to "EthGetLogs" and to "logs" subscriptions.

Original definition in "go-ethereum":
https://github.com/ethereum/go-ethereum/blob/0ae462fb80b8a95e38af08d894ea9ecf9e45f2e7/interfaces.go#L133

"FromBlock" and "ToBlock" accept anything supported by "EncodeBlockNumber";
they're mutually exclusive with "BlockHash".
*/
type LogFilter struct {
	FromBlock BlockNumber
	ToBlock   BlockNumber
	BlockHash *Hash
	Address   []Address

	/**
	"Topics" represent indexed event parameters. For any fixed-size parameter, a
	"topic" is its ABI-encoded representation, which is always Word-sized (32
	bytes). For a variable-sized parameter, a "topic" is its Word-sized hash.
	Note that since hashing loses information, indexed variable-sized parameters
	can't be recovered from topics.
	*/
	Topics []TopicFilter
}

// Implements "json.Marshaler".
func (self LogFilter) MarshalJSON() ([]byte, error) {
	type wire struct {
		FromBlock any           `json:"fromBlock,omitempty"`
		ToBlock   any           `json:"toBlock,omitempty"`
		BlockHash *Hash         `json:"blockHash,omitempty"`
		Address   []Address     `json:"address,omitempty"`
		Topics    []TopicFilter `json:"topics,omitempty"`
	}

	out := wire{BlockHash: self.BlockHash, Address: self.Address, Topics: trimTopics(self.Topics)}

	if self.BlockHash == nil {
		var err error
		if self.FromBlock != nil {
			out.FromBlock, err = EncodeBlockNumber(self.FromBlock)
			if err != nil {
				return nil, err
			}
		}
		if self.ToBlock != nil {
			out.ToBlock, err = EncodeBlockNumber(self.ToBlock)
			if err != nil {
				return nil, err
			}
		}
	}

	return json.Marshal(out)
}

/*
Matches one topic position. Empty means "any value" and encodes as `null`. One
value encodes as a plain string, several values as an OR-list.
*/
type TopicFilter []Word

// Implements "json.Marshaler". Zero words are encoded literally, never as
// `null`, since `null` means "any value" in this position.
func (self TopicFilter) MarshalJSON() ([]byte, error) {
	switch len(self) {
	case 0:
		return null, nil
	case 1:
		return hexEncodeQuoted(self[0][:]), nil
	}

	out := []byte{'['}
	for i, word := range self {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, hexEncodeQuoted(word[:])...)
	}
	return append(out, ']'), nil
}

// Trailing wildcards carry no information and some providers reject them.
func trimTopics(topics []TopicFilter) []TopicFilter {
	for len(topics) > 0 && len(topics[len(topics)-1]) == 0 {
		topics = topics[:len(topics)-1]
	}
	return topics
}

/*
Reports whether the log satisfies the filter's address and topic constraints.
Block ranges are not checked.
*/
func (self LogFilter) Matches(log LogEntry) bool {
	if len(self.Address) > 0 {
		found := false
		for _, addr := range self.Address {
			if addr == log.Address {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	for i, topic := range self.Topics {
		if len(topic) == 0 {
			continue
		}
		if i >= len(log.Topics) {
			return false
		}
		found := false
		for _, word := range topic {
			if word == log.Topics[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

/*
String256 is a regular string that behaves as "bytes32" for ABI encoding and
decoding. When encoding, it's interpreted as raw bytes, zero-padded on the
right. If the string is longer than 32 bytes, encoding fails. When decoding, it
takes 32 bytes from the input and truncates them at the first zero byte.

Useful for legacy tokens that return "bytes32" from "name()" and "symbol()",
and for event parameters that must stay readable when indexed.
*/
type String256 string

// Implements "AbiTyper".
func (String256) EthAbiType() string { return "bytes32" }

// Implements "AbiMarshaler".
func (self String256) EthAbiMarshal() ([]byte, error) {
	word, err := self.Word()
	if err != nil {
		return nil, err
	}
	return word[:], nil
}

// Implements "AbiUnmarshaler".
func (self *String256) EthAbiUnmarshal(input []byte) error {
	if len(input) < WordSize {
		return errors.WithStack(codecErrorf("bytes32", "%s", lenMismatch(WordSize, len(input))))
	}
	word := input[:WordSize]
	if idx := bytes.IndexByte(word, 0); idx >= 0 {
		word = word[:idx]
	}
	*self = String256(word)
	return nil
}

// Converts to a Word for use in log filtering.
func (self String256) Word() (Word, error) {
	var out Word
	if len(self) > len(out) {
		return out, errors.Errorf(`can't fit string %q into %v bytes`, self, len(out))
	}
	copy(out[:], self)
	return out, nil
}
