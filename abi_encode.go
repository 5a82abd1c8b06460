package web3

import (
	"encoding/binary"
	"math/big"
	"reflect"
	"strconv"

	"github.com/pkg/errors"
)

/*
Allows a user-defined type to implement its own ABI encoding. Invoked by
ABI-encoding functions. Must produce exactly the static size of its declared
type; dynamic types must encode themselves as they'd appear in the tail.
*/
type AbiMarshaler interface {
	EthAbiMarshal() ([]byte, error)
}

/*
ABI-encodes an arbitrary Go value, using the provided type. For dynamic types,
the output starts with the value itself (length prefix for `bytes`, `string`
and `T[]`), without a head offset. Returns a "CodecError" in case of type
mismatch or a value that doesn't fit the declared width.
*/
func AbiMarshal(atype AbiType, input any) ([]byte, error) {
	return abiAppend(nil, atype, reflect.ValueOf(input))
}

/*
ABI-encodes multiple values as a tuple, using the standard head/tail layout.
This is the format of call arguments and return values.
*/
func AbiMarshalValues(types []AbiType, args ...any) ([]byte, error) {
	return abiAppendValues(nil, types, args)
}

func abiAppendValues(out []byte, types []AbiType, args []any) ([]byte, error) {
	if len(types) != len(args) {
		return out, errors.WithStack(codecErrorf("", "arity mismatch: expected %v values, got %v", len(types), len(args)))
	}
	vals := make([]reflect.Value, len(args))
	for i, arg := range args {
		vals[i] = reflect.ValueOf(arg)
	}
	return abiAppendSeq(out, types, vals)
}

/*
Encodes a sequence of values, such as tuple components or array elements.
Static values are written inline; dynamic values place an offset in the head,
relative to the start of the sequence, and their payload in the tail.
*/
func abiAppendSeq(out []byte, types []AbiType, vals []reflect.Value) ([]byte, error) {
	headSize := 0
	for _, atype := range types {
		size := atype.Size()
		if size >= 0 {
			headSize += size
		} else {
			headSize += WordSize
		}
	}

	head := make([]byte, 0, headSize)
	var tail []byte

	for i, atype := range types {
		var err error
		size := atype.Size()

		if size >= 0 {
			prev := len(head)
			head, err = abiAppend(head, atype, vals[i])
			if err == nil && len(head)-prev != size {
				err = errors.WithStack(codecErrorf(atype.Type, "expected %v encoded bytes, got %v", size, len(head)-prev))
			}
		} else {
			head = abiAppendUint64(head, uint64(headSize+len(tail)))
			tail, err = abiAppend(tail, atype, vals[i])
		}

		if err != nil {
			return out, errors.Wrapf(err, `failed to encode value %v of type %q`, i, atype.Type)
		}
	}

	out = append(out, head...)
	return append(out, tail...), nil
}

func abiAppend(out []byte, atype AbiType, val reflect.Value) ([]byte, error) {
	val, err := abiIndirect(val, atype)
	if err != nil {
		return out, err
	}

	if val.Type().Implements(abiMarshalerType) {
		chunk, err := val.Interface().(AbiMarshaler).EthAbiMarshal()
		return append(out, chunk...), err
	}
	if val.CanAddr() && val.Addr().Type().Implements(abiMarshalerType) {
		chunk, err := val.Addr().Interface().(AbiMarshaler).EthAbiMarshal()
		return append(out, chunk...), err
	}

	typ := val.Type()

	switch atype.Kind {
	case AbiKindBool:
		if typ.Kind() == reflect.Bool {
			if val.Bool() {
				return append(out, trueWord[:]...), nil
			}
			return append(out, falseWord[:]...), nil
		}

	case AbiKindUint, AbiKindInt:
		num, ok := abiBigIntOf(val)
		if ok {
			return abiAppendInteger(out, atype, num)
		}

	case AbiKindAddress:
		if typ.ConvertibleTo(addressType) {
			input := val.Convert(addressType).Interface().(Address)
			return appendLeftPadded(out, input[:]), nil
		}

	case AbiKindFunction:
		if typ.ConvertibleTo(functionType) {
			input := val.Convert(functionType).Interface().(solFunc)
			return appendRightPadded(out, input[:]), nil
		}

	case AbiKindDenseArray:
		input, ok := abiBytesOf(val)
		if !ok {
			break
		}
		if atype.FixedLen {
			if len(input) != atype.ArrayLen {
				return out, errors.WithStack(codecErrorf(atype.Type, "expected %v bytes, got %v", atype.ArrayLen, len(input)))
			}
			return appendRightPadded(out, input), nil
		}
		out = abiAppendUint64(out, uint64(len(input)))
		return appendRightPadded(out, input), nil

	case AbiKindSparseArray:
		// Note: for sparse arrays, this is element count, not byte count
		if typ.Kind() != reflect.Array && typ.Kind() != reflect.Slice {
			break
		}
		length := val.Len()
		if atype.FixedLen {
			if length != atype.ArrayLen {
				return out, errors.WithStack(codecErrorf(atype.Type, "expected %v elements, got %v", atype.ArrayLen, length))
			}
		} else {
			out = abiAppendUint64(out, uint64(length))
		}

		types := make([]AbiType, length)
		vals := make([]reflect.Value, length)
		for i := range length {
			types[i] = *atype.Elem
			vals[i] = val.Index(i)
		}
		return abiAppendSeq(out, types, vals)

	case AbiKindTuple:
		vals, err := abiTupleValues(val, len(atype.Components))
		if err != nil {
			return out, errors.Wrapf(err, `can't encode %v as %q`, typ, atype.Type)
		}
		if vals != nil {
			return abiAppendSeq(out, atype.Components, vals)
		}
	}

	return out, errors.WithStack(typeMismatch(atype.Type, typ))
}

/*
Unwraps pointers and interfaces, except for pointer types that are themselves
meaningful ABI values, such as *big.Int. Nil is an error.
*/
func abiIndirect(val reflect.Value, atype AbiType) (reflect.Value, error) {
	for {
		if !val.IsValid() {
			return val, errors.WithStack(codecErrorf(atype.Type, "can't encode nil"))
		}
		switch val.Kind() {
		case reflect.Interface:
			if val.IsNil() {
				return val, errors.WithStack(codecErrorf(atype.Type, "can't encode nil"))
			}
			val = val.Elem()
		case reflect.Ptr:
			if val.IsNil() {
				return val, errors.WithStack(codecErrorf(atype.Type, "can't encode nil %v", val.Type()))
			}
			if val.Type() == bigIntPtrType || val.Type() == hexIntPtrType {
				return val, nil
			}
			if val.Type().Implements(abiMarshalerType) && !val.Elem().Type().Implements(abiMarshalerType) {
				return val, nil
			}
			val = val.Elem()
		default:
			return val, nil
		}
	}
}

// Returns the integer held by any Go integer type or big integer type.
func abiBigIntOf(val reflect.Value) (*big.Int, bool) {
	switch val.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return new(big.Int).SetUint64(val.Uint()), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return big.NewInt(val.Int()), true
	}

	typ := val.Type()
	switch {
	case typ == bigIntPtrType || typ == hexIntPtrType:
		return val.Convert(bigIntPtrType).Interface().(*big.Int), true
	case typ == bigIntType || typ == hexIntType:
		if val.CanAddr() {
			return val.Addr().Convert(bigIntPtrType).Interface().(*big.Int), true
		}
		num := val.Convert(bigIntType).Interface().(big.Int)
		return &num, true
	case typ.ConvertibleTo(bigIntPtrType):
		return val.Convert(bigIntPtrType).Interface().(*big.Int), true
	}
	return nil, false
}

// Returns the bytes held by a string, a byte slice, or a byte array.
func abiBytesOf(val reflect.Value) ([]byte, bool) {
	typ := val.Type()
	switch {
	case typ.Kind() == reflect.String:
		return stringToBytesUnsafe(val.String()), true
	case typ.Kind() == reflect.Slice && typ.Elem().Kind() == reflect.Uint8:
		return val.Bytes(), true
	case typ.Kind() == reflect.Array && typ.Elem().Kind() == reflect.Uint8:
		out := make([]byte, typ.Len())
		reflect.Copy(reflect.ValueOf(out), val)
		return out, true
	}
	return nil, false
}

/*
Returns tuple components held by a struct (ABI fields in declaration order), or
by a slice or array of arbitrary values. Returns nil for other kinds.
*/
func abiTupleValues(val reflect.Value, count int) ([]reflect.Value, error) {
	var vals []reflect.Value

	switch val.Kind() {
	case reflect.Struct:
		fields, err := abiStructFields(val.Type())
		if err != nil {
			return nil, err
		}
		vals = make([]reflect.Value, len(fields))
		for i, field := range fields {
			vals[i] = val.Field(field.Index)
		}

	case reflect.Slice, reflect.Array:
		vals = make([]reflect.Value, val.Len())
		for i := range vals {
			vals[i] = val.Index(i)
		}

	default:
		return nil, nil
	}

	if len(vals) != count {
		return nil, errors.WithStack(codecErrorf("", "expected %v tuple components, got %v", count, len(vals)))
	}
	return vals, nil
}

var two256 = new(big.Int).Lsh(big.NewInt(1), 256)

/*
Appends an integer as a 32-byte word, checking that it fits the declared width.
Negative numbers use two's complement.
*/
func abiAppendInteger(out []byte, atype AbiType, num *big.Int) ([]byte, error) {
	if !abiIntegerFits(atype, num) {
		return out, errors.WithStack(codecErrorf(atype.Type, "%v overflows %v", num, atype.Type))
	}

	var word Word
	if num.Sign() < 0 {
		new(big.Int).Add(num, two256).FillBytes(word[:])
	} else {
		num.FillBytes(word[:])
	}
	return append(out, word[:]...), nil
}

func abiIntegerFits(atype AbiType, num *big.Int) bool {
	if atype.Kind == AbiKindUint {
		return num.Sign() >= 0 && num.BitLen() <= atype.Bits
	}
	if num.Sign() >= 0 {
		return num.BitLen() <= atype.Bits-1
	}
	// For negative numbers, -num-1 must fit into the non-sign bits.
	abs := new(big.Int).Neg(num)
	abs.Sub(abs, bigOne)
	return abs.BitLen() <= atype.Bits-1
}

func typeMismatch(expected string, actual reflect.Type) error {
	return codecErrorf(expected, "type mismatch: Solidity type %q, Go type %q", expected, actual)
}

func lenMismatch(expected, actual int) string {
	return "length mismatch: expected at least " + strconv.Itoa(expected) + " bytes, got " + strconv.Itoa(actual)
}

func abiPaddedLen(length int) int {
	if length <= 0 {
		return length
	}
	return (length + WordSize - 1) / WordSize * WordSize
}

func abiPaddingDelta(length int) int {
	if length <= 0 {
		return 0
	}
	return abiPaddedLen(length) - length
}

var zeroPad [WordSize]byte

func appendLeftPadded(out []byte, buf []byte) []byte {
	out = append(out, zeroPad[:abiPaddingDelta(len(buf))]...)
	return append(out, buf...)
}

func appendRightPadded(out []byte, buf []byte) []byte {
	out = append(out, buf...)
	return append(out, zeroPad[:abiPaddingDelta(len(buf))]...)
}

func abiAppendUint64(out []byte, num uint64) []byte {
	out = append(out, zeroPad[:WordSize-8]...)
	return binary.BigEndian.AppendUint64(out, num)
}

var (
	trueWord = func() Word {
		var out Word
		out[len(out)-1] = 1
		return out
	}()
	falseWord Word
)

var bigOne = big.NewInt(1)
