package web3

import (
	"reflect"

	"github.com/pkg/errors"
)

/*
Encodes a value as a log topic, the way the EVM does for indexed event
parameters. Value types (integers, bool, address, bytesN) are ABI-encoded into
one word. `string` and `bytes` are replaced with the keccak256 hash of their
contents. Arrays and tuples are replaced with the hash of their in-place
encoding: elements padded to 32 bytes and concatenated, without offsets or
length prefixes.
*/
func AbiEncodeTopic(atype AbiType, input any) (Word, error) {
	val := reflect.ValueOf(input)

	if atype.IsValueType() {
		chunk, err := abiAppend(nil, atype, val)
		if err != nil {
			return Word{}, err
		}
		return Word(chunk), nil
	}

	if atype.Kind == AbiKindDenseArray {
		val, err := abiIndirect(val, atype)
		if err != nil {
			return Word{}, err
		}
		body, ok := abiBytesOf(val)
		if !ok {
			return Word{}, errors.WithStack(typeMismatch(atype.Type, val.Type()))
		}
		return Word(Keccak256(body)), nil
	}

	chunk, err := abiAppendInPlace(nil, atype, val)
	if err != nil {
		return Word{}, err
	}
	return Word(Keccak256(chunk)), nil
}

func abiAppendInPlace(out []byte, atype AbiType, val reflect.Value) ([]byte, error) {
	if atype.IsValueType() {
		return abiAppend(out, atype, val)
	}

	val, err := abiIndirect(val, atype)
	if err != nil {
		return out, err
	}

	switch atype.Kind {
	case AbiKindDenseArray:
		body, ok := abiBytesOf(val)
		if ok {
			return appendRightPadded(out, body), nil
		}

	case AbiKindSparseArray:
		if val.Kind() != reflect.Slice && val.Kind() != reflect.Array {
			break
		}
		if atype.FixedLen && val.Len() != atype.ArrayLen {
			return out, errors.WithStack(codecErrorf(atype.Type, "expected %v elements, got %v", atype.ArrayLen, val.Len()))
		}
		for i := range val.Len() {
			out, err = abiAppendInPlace(out, *atype.Elem, val.Index(i))
			if err != nil {
				return out, err
			}
		}
		return out, nil

	case AbiKindTuple:
		vals, err := abiTupleValues(val, len(atype.Components))
		if err != nil {
			return out, err
		}
		if vals == nil {
			break
		}
		for i, comp := range atype.Components {
			out, err = abiAppendInPlace(out, comp, vals[i])
			if err != nil {
				return out, err
			}
		}
		return out, nil
	}

	return out, errors.WithStack(typeMismatch(atype.Type, val.Type()))
}

/*
Encodes event arguments, given in declaration order, into topics and data the
way the EVM emits them. The inverse of "UnmarshalLogEntry" for value-typed
indexed parameters. Mostly useful for tests and for building topic filters.
*/
func (self AbiEvent) EncodeLog(args ...any) (LogEntry, error) {
	if len(args) != len(self.Inputs) {
		return LogEntry{}, errors.WithStack(codecErrorf("", "event %v: expected %v arguments, got %v", self.Name, len(self.Inputs), len(args)))
	}

	var out LogEntry
	if !self.Anonymous {
		out.Topics = append(out.Topics, self.Selector)
	}

	var dataArgs []any
	for i, param := range self.Inputs {
		if !param.Indexed {
			dataArgs = append(dataArgs, args[i])
			continue
		}
		topic, err := AbiEncodeTopic(param.AbiType, args[i])
		if err != nil {
			return LogEntry{}, errors.Wrapf(err, `failed to encode indexed parameter %q of event %v`, param.Name, self.Name)
		}
		out.Topics = append(out.Topics, topic)
	}

	data, err := AbiMarshalTuple(self.NonIndexedInputs, dataArgs...)
	if err != nil {
		return LogEntry{}, errors.Wrapf(err, `failed to encode data of event %v`, self.Name)
	}
	out.Data = data
	return out, nil
}

// Number of topics a log of this event must carry.
func (self AbiEvent) TopicCount() int {
	count := len(self.IndexedInputs)
	if !self.Anonymous {
		count++
	}
	return count
}

/*
Attempts to ABI-decode event parameters from the log entry into the provided
outputs, which must exactly match the event's inputs in declaration order. The
outputs must be pointers; a nil output skips the parameter. Log entries are
usually obtained via "EthGetLogs".

Indexed and non-indexed parameters are stored separately. Non-indexed ones are
encoded as their own tuple in "Data", as if the others don't exist. Indexed
ones are topics, in declaration order. Since hashing loses information, an
indexed parameter of a dynamic type, array or tuple can only be decoded into a
32-byte output (Hash, Word or [32]byte), which receives the hash.

Returns "*IndexedTopicArityError" when the number of topics doesn't match the
definition, and "*CodecError" in case of event mismatch, type mismatch, or
malformed input.
*/
func (self AbiEvent) UnmarshalLogEntry(input LogEntry, outs ...any) error {
	if len(input.Topics) != self.TopicCount() {
		return errors.WithStack(&IndexedTopicArityError{
			Event:    self.Name,
			Expected: self.TopicCount(),
			Actual:   len(input.Topics),
		})
	}

	topics := input.Topics
	if !self.Anonymous {
		if topics[0] != self.Selector {
			return errors.WithStack(codecErrorf("", "log entry doesn't appear to contain event %v: topic0 %v", self.Name, topics[0]))
		}
		topics = topics[1:]
	}

	if len(outs) != len(self.Inputs) {
		return errors.WithStack(codecErrorf("", "event %v has %v parameters, found %v outputs", self.Name, len(self.Inputs), len(outs)))
	}

	var outsNonIndexed []any
	for i, param := range self.Inputs {
		if !param.Indexed {
			outsNonIndexed = append(outsNonIndexed, outs[i])
			continue
		}

		topic := topics[0]
		topics = topics[1:]

		if outs[i] == nil {
			continue
		}
		err := unmarshalTopic(topic, param.AbiType, outs[i])
		if err != nil {
			return errors.Wrapf(err, `failed to decode indexed parameter %q of event %v`, param.Name, self.Name)
		}
	}

	return AbiUnmarshalTuple(input.Data, self.NonIndexedInputs, outsNonIndexed)
}

func unmarshalTopic(topic Word, atype AbiType, out any) error {
	if atype.IsValueType() {
		return AbiUnmarshal(topic[:], atype, out)
	}

	val, err := abiOutput(out)
	if err != nil {
		return err
	}
	for val.Kind() == reflect.Ptr {
		if val.IsNil() {
			val.Set(reflect.New(val.Type().Elem()))
		}
		val = val.Elem()
	}

	switch {
	case val.Kind() == reflect.Interface && val.NumMethod() == 0:
		val.Set(reflect.ValueOf(Hash(topic)))
		return nil
	case wordType.ConvertibleTo(val.Type()):
		val.Set(reflect.ValueOf(topic).Convert(val.Type()))
		return nil
	}
	return errors.WithStack(codecErrorf(atype.Type, "indexed %v is hashed and can only be decoded into a 32-byte value, got %v", atype.Type, val.Type()))
}
