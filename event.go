package web3

import (
	"context"
	"reflect"
	"slices"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

/*
A typed handle for one contract event. "E" must be a struct whose exported
fields are the event's inputs in declaration order; indexed inputs carry the
tag option "indexed":

	type Transfer struct {
		From  web3.Address `abi:"from,indexed"`
		To    web3.Address `abi:"to,indexed"`
		Value *big.Int     `abi:"value"`
	}

Like "Function", a handle is a value: "Where", "On", "At" and "Via" return
modified copies.
*/
type Event[E any] struct {
	def       *eventDef
	contract  Contract
	topics    []TopicFilter
	addresses []Address
}

type eventDef struct {
	AbiEvent
	fields []abiField
}

// Log and its decoded form. Embeds the log for direct access to its position.
type DecodedLog[E any] struct {
	LogEntry
	Event E
}

type eventKey struct {
	name string
	typ  reflect.Type
}

type eventEntry struct {
	def *eventDef
	err error
}

var eventCache sync.Map

// Creates an unrouted event handle. See "Function" and "Bind".
func NewEvent[E any](name string) (Event[E], error) {
	def, err := eventDefFor(name, reflect.TypeFor[E]())
	return Event[E]{def: def}, err
}

// Like "NewEvent", but panics on error.
func MustEvent[E any](name string) Event[E] {
	out, err := NewEvent[E](name)
	if err != nil {
		panic(err)
	}
	return out
}

func eventDefFor(name string, typ reflect.Type) (*eventDef, error) {
	key := eventKey{name, typ}
	cached, ok := eventCache.Load(key)
	if ok {
		entry := cached.(eventEntry)
		return entry.def, entry.err
	}

	var entry eventEntry
	fields, err := abiStructFields(typ)
	if err != nil {
		entry.err = errors.Wrapf(err, `invalid definition of event %q`, name)
	} else {
		inputs := make([]AbiParam, len(fields))
		indexed := 0
		for i, field := range fields {
			inputs[i] = AbiParamOf(field.Name, field.Type, field.Indexed)
			if field.Indexed {
				indexed++
			}
		}
		if indexed > 3 {
			entry.err = errors.Errorf(`event %q has %v indexed inputs, at most 3 are allowed`, name, indexed)
		} else {
			entry.def = &eventDef{AbiEvent: NewAbiEvent(name, inputs, false), fields: fields}
		}
	}

	eventCache.Store(key, entry)
	return entry.def, entry.err
}

func (self *Event[E]) bindAs(name string, contract Contract) error {
	def, err := eventDefFor(name, reflect.TypeFor[E]())
	if err != nil {
		return err
	}
	self.def = def
	self.contract = contract
	return nil
}

func (self *Event[E]) rebind(contract Contract) { self.contract = contract }

func (self Event[E]) definition() (*eventDef, error) {
	if self.def == nil {
		return nil, contractualErrorf(`event handle %v is not initialized: use "Bind" or "NewEvent"`, reflect.TypeFor[Event[E]]())
	}
	return self.def, nil
}

// Solidity name of the event.
func (self Event[E]) Name() string {
	if self.def == nil {
		return ""
	}
	return self.def.Name
}

// Canonical signature, such as "Transfer(address,address,uint256)".
func (self Event[E]) Signature() string {
	if self.def == nil {
		return ""
	}
	return self.def.Signature
}

// Keccak256 hash of the signature: the first topic of every log of this event.
func (self Event[E]) Topic0() Word {
	if self.def == nil {
		return Word{}
	}
	return self.def.Selector
}

// Returns a copy of the ABI definition.
func (self Event[E]) Abi() AbiEvent {
	if self.def == nil {
		return AbiEvent{}
	}
	return self.def.AbiEvent
}

// The contract this handle targets.
func (self Event[E]) Contract() Contract { return self.contract }

// Returns a copy routed to the given network.
func (self Event[E]) On(net Network) Event[E] {
	self.contract = self.contract.On(net)
	return self
}

// Returns a copy routed through the given transport.
func (self Event[E]) Via(trans Trans) Event[E] {
	self.contract = self.contract.Via(trans)
	return self
}

// Returns a copy targeting another address.
func (self Event[E]) At(addr Address) Event[E] {
	self.contract = self.contract.At(addr)
	return self
}

func (self Event[E]) logger() *zap.Logger { return self.contract.logger() }

/*
Decodes a log of this event. Returns "*IndexedTopicArityError" when the topic
count doesn't match, and "*CodecError" for other mismatches. Indexed inputs of
hashed types decode only into 32-byte fields.
*/
func (self Event[E]) Decode(log LogEntry) (E, error) {
	var out E
	def, err := self.definition()
	if err != nil {
		return out, err
	}

	val := reflect.ValueOf(&out).Elem()
	outs := make([]any, len(def.fields))
	for i, field := range def.fields {
		outs[i] = val.Field(field.Index).Addr().Interface()
	}

	err = def.UnmarshalLogEntry(log, outs...)
	return out, err
}

/*
Encodes an event value into a log emitted by this handle's contract, with
topics and data laid out the way the EVM does it.
*/
func (self Event[E]) Encode(event E) (LogEntry, error) {
	def, err := self.definition()
	if err != nil {
		return LogEntry{}, err
	}

	val := reflect.ValueOf(event)
	args := make([]any, len(def.fields))
	for i, field := range def.fields {
		args[i] = val.Field(field.Index).Interface()
	}

	out, err := def.EncodeLog(args...)
	out.Address = self.contract.Address
	return out, err
}

/*
Decodes logs in chain order, skipping entries that don't match the event
schema. Skips are logged at "warn" and counted in metrics.
*/
func (self Event[E]) DecodeLogs(logs []LogEntry) []DecodedLog[E] {
	logs = slices.Clone(logs)
	slices.SortStableFunc(logs, CompareLogEntries)

	out := make([]DecodedLog[E], 0, len(logs))
	for _, log := range logs {
		decoded, ok := self.decodeOrSkip(log)
		if ok {
			out = append(out, decoded)
		}
	}
	return out
}

func (self Event[E]) decodeOrSkip(log LogEntry) (DecodedLog[E], bool) {
	event, err := self.Decode(log)
	if err != nil {
		err = &LogDecodeError{Event: self.Name(), Log: log, Cause: err}
		self.logger().Warn(`skipping undecodable log`, zap.Error(err))
		DefaultMetrics().observeLog(self.Name(), true)
		return DecodedLog[E]{}, false
	}
	DefaultMetrics().observeLog(self.Name(), false)
	return DecodedLog[E]{LogEntry: log, Event: event}, true
}

/*
Fetches and decodes the logs of this event in the given block range, in one
"eth_getLogs" request. For large ranges, use "Backfill".
*/
func (self Event[E]) GetLogs(ctx context.Context, from, to BlockNumber) ([]DecodedLog[E], error) {
	filter, err := self.LogFilter(from, to)
	if err != nil {
		return nil, err
	}
	return self.getLogs(ctx, filter)
}

// Fetches and decodes the logs of this event in the block with the given hash.
func (self Event[E]) GetBlockLogs(ctx context.Context, hash Hash) ([]DecodedLog[E], error) {
	filter, err := self.LogFilter(nil, nil)
	if err != nil {
		return nil, err
	}
	filter.BlockHash = &hash
	return self.getLogs(ctx, filter)
}

func (self Event[E]) getLogs(ctx context.Context, filter LogFilter) ([]DecodedLog[E], error) {
	trans, err := self.contract.Transport(ctx)
	if err != nil {
		return nil, err
	}

	logs, err := EthGetLogs(ctx, trans, filter)
	if err != nil {
		return nil, errors.Wrapf(err, `failed to get logs of %v`, self.Signature())
	}
	return self.DecodeLogs(logs), nil
}
