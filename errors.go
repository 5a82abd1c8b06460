package web3

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

/*
Represents an error that arrives over JSON RPC. See
https://www.jsonrpc.org/specification#error_object for details. Never retried
by transports.
*/
type RpcError struct {
	Code    int64           `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Implements "error". Includes the RPC error details if possible.
func (self *RpcError) Error() string {
	str := "RPC error " + strconv.FormatInt(self.Code, 10) + ": " + self.Message
	if len(self.Data) > 0 {
		str += " Additional details: " + string(self.Data)
	}
	return str
}

/*
Returns the revert payload carried by "eth_call" and "eth_estimateGas" errors,
if any. Nodes put it into "data" as a hex string.
*/
func (self *RpcError) RevertData() (HexBytes, bool) {
	var str string
	if json.Unmarshal(self.Data, &str) != nil || !strings.HasPrefix(str, "0x") {
		return nil, false
	}
	out, err := ParseHexBytes(str)
	return out, err == nil
}

// Connection failure, timeout, or a reset before a response was received.
// Retried by transports.
type TransportError struct {
	Url   string
	Cause error
}

func (self *TransportError) Error() string {
	return fmt.Sprintf("transport error at %v: %v", self.Url, self.Cause)
}

func (self *TransportError) Unwrap() error { return self.Cause }

// The response body could not be decoded as a JSON-RPC response. Retried by
// transports.
type RpcDecodeError struct {
	Method string
	Body   []byte
	Cause  error
}

func (self *RpcDecodeError) Error() string {
	body := self.Body
	if len(body) > 256 {
		body = body[:256]
	}
	return fmt.Sprintf("failed to decode response to %q: %v; body: %s", self.Method, self.Cause, body)
}

func (self *RpcDecodeError) Unwrap() error { return self.Cause }

// Non-200 HTTP status. 429 is treated as rate limiting and 5xx as transient.
type HttpStatusError struct {
	Status int
	Body   []byte
}

func (self *HttpStatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %v: %s", self.Status, self.Body)
}

/*
Signals a mismatch between an ABI type and a Go value or a byte stream:
out-of-bounds offsets, malformed padding, values that don't fit the declared
width, or Go types that can't hold the ABI type.
*/
type CodecError struct {
	Type   string
	Reason string
}

func (self *CodecError) Error() string {
	if self.Type == "" {
		return "ABI codec error: " + self.Reason
	}
	return fmt.Sprintf("ABI codec error for %q: %v", self.Type, self.Reason)
}

func codecErrorf(atype string, format string, args ...any) *CodecError {
	return &CodecError{Type: atype, Reason: fmt.Sprintf(format, args...)}
}

// A log's topic count doesn't match the indexed inputs of the event.
type IndexedTopicArityError struct {
	Event    string
	Expected int
	Actual   int
}

func (self *IndexedTopicArityError) Error() string {
	return fmt.Sprintf("event %v: expected %v topics, found %v", self.Event, self.Expected, self.Actual)
}

/*
Wraps any failure to decode a log under an event schema. Event streams log and
skip such entries instead of aborting.
*/
type LogDecodeError struct {
	Event string
	Log   LogEntry
	Cause error
}

func (self *LogDecodeError) Error() string {
	return fmt.Sprintf("failed to decode log %v/%v in tx %v as %v: %v",
		uint64(self.Log.BlockNumber), uint64(self.Log.LogIndex), self.Log.TransactionHash, self.Event, self.Cause)
}

func (self *LogDecodeError) Unwrap() error { return self.Cause }

/*
The provider refused an "eth_getLogs" window as too large. When the provider
suggests a narrower range, "End" holds its upper bound and "Hinted" is true.
*/
type LogResponseExceededError struct {
	Start  uint64
	End    uint64
	Hinted bool
	Cause  error
}

func (self *LogResponseExceededError) Error() string {
	if self.Hinted {
		return fmt.Sprintf("log response exceeded, suggested range [%v, %v]: %v", self.Start, self.End, self.Cause)
	}
	return fmt.Sprintf("log response exceeded: %v", self.Cause)
}

func (self *LogResponseExceededError) Unwrap() error { return self.Cause }

// The provider signalled rate limiting.
type RateLimitedError struct {
	Cause error
}

func (self *RateLimitedError) Error() string { return "rate limited: " + self.Cause.Error() }

func (self *RateLimitedError) Unwrap() error { return self.Cause }

// A precondition supplied by the caller doesn't hold, e.g. a chain without a
// base fee, or a function handle without bound arguments.
type ContractualError struct {
	Reason string
}

func (self *ContractualError) Error() string { return self.Reason }

func contractualErrorf(format string, args ...any) error {
	return errors.WithStack(&ContractualError{Reason: fmt.Sprintf(format, args...)})
}

// True if the error is worth retrying at the transport level.
func isRetriable(err error) bool {
	var transErr *TransportError
	var decodeErr *RpcDecodeError
	var statusErr *HttpStatusError
	switch {
	case errors.As(err, &transErr), errors.As(err, &decodeErr):
		return true
	case errors.As(err, &statusErr):
		return statusErr.Status >= 500
	default:
		return false
	}
}
