package web3

import (
	"encoding/binary"
	"math"
	"math/big"
	"reflect"

	"github.com/pkg/errors"
)

/*
Allows a user-defined type to implement its own ABI decoding. For statically
sized types, the input is exactly the encoded value; for dynamic types, it
starts at the value and may extend past it.
*/
type AbiUnmarshaler interface {
	EthAbiUnmarshal([]byte) error
}

var abiUnmarshalerType = reflect.TypeFor[AbiUnmarshaler]()

/*
ABI-decodes arbitrary data into a Go value, using the provided type. The output
must be a non-nil pointer. Inverse of "AbiMarshal": for dynamic types, the input
starts at the value itself, without a head offset.

Decoding is strict: non-zero padding, out-of-range offsets and lengths, and
values that don't fit the declared width are rejected with a "CodecError".
Pointers are allocated as needed. An interface output receives a default Go
representation: small integers become Go integers, wider ones become *big.Int,
tuples become []any.
*/
func AbiUnmarshal(input []byte, atype AbiType, out any) error {
	val, err := abiOutput(out)
	if err != nil {
		return err
	}
	return abiDecode(input, atype, val)
}

/*
ABI-decodes a head/tail encoded sequence of values, such as return values of a
call, into the provided pointers. A nil output skips the corresponding value
after validating it.
*/
func AbiUnmarshalValues(input []byte, types []AbiType, outs ...any) error {
	if len(types) != len(outs) {
		return errors.WithStack(codecErrorf("", "arity mismatch: expected %v outputs, got %v", len(types), len(outs)))
	}

	vals := make([]reflect.Value, len(outs))
	for i, out := range outs {
		if out == nil {
			vals[i] = reflect.New(abiDefaultGoType(types[i])).Elem()
			continue
		}
		val, err := abiOutput(out)
		if err != nil {
			return err
		}
		vals[i] = val
	}
	return abiDecodeSeq(input, types, vals)
}

func abiOutput(out any) (reflect.Value, error) {
	val := reflect.ValueOf(out)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return val, errors.WithStack(codecErrorf("", "can't decode into non-pointer or nil value of type %T", out))
	}
	return val.Elem(), nil
}

func abiDecodeSeq(data []byte, types []AbiType, vals []reflect.Value) error {
	offset := 0

	for i, atype := range types {
		size := atype.Size()

		if size >= 0 {
			end := offset + size
			if len(data) < end {
				return errors.WithStack(codecErrorf(atype.Type, "%s", lenMismatch(end, len(data))))
			}
			err := abiDecode(data[offset:end], atype, vals[i])
			if err != nil {
				return errors.Wrapf(err, `failed to decode value %v of type %q`, i, atype.Type)
			}
			offset = end
			continue
		}

		heapOffset, err := abiReadLength(data, offset, atype)
		if err != nil {
			return err
		}
		if heapOffset > len(data) {
			return errors.WithStack(codecErrorf(atype.Type, "offset %v out of bounds of %v bytes", heapOffset, len(data)))
		}
		err = abiDecode(data[heapOffset:], atype, vals[i])
		if err != nil {
			return errors.Wrapf(err, `failed to decode value %v of type %q`, i, atype.Type)
		}
		offset += WordSize
	}
	return nil
}

func abiDecode(data []byte, atype AbiType, val reflect.Value) error {
	for {
		if val.CanAddr() && val.Addr().Type().Implements(abiUnmarshalerType) {
			size := atype.Size()
			if size >= 0 {
				if len(data) < size {
					return errors.WithStack(codecErrorf(atype.Type, "%s", lenMismatch(size, len(data))))
				}
				data = data[:size]
			}
			return val.Addr().Interface().(AbiUnmarshaler).EthAbiUnmarshal(data)
		}

		if val.Kind() == reflect.Interface && val.NumMethod() == 0 {
			tmp := reflect.New(abiDefaultGoType(atype)).Elem()
			err := abiDecode(data, atype, tmp)
			if err != nil {
				return err
			}
			val.Set(tmp)
			return nil
		}

		if val.Kind() != reflect.Ptr {
			break
		}
		if val.IsNil() {
			val.Set(reflect.New(val.Type().Elem()))
		}
		val = val.Elem()
	}

	typ := val.Type()

	switch atype.Kind {
	case AbiKindBool, AbiKindUint, AbiKindInt, AbiKindAddress, AbiKindFunction:
		if len(data) < WordSize {
			return errors.WithStack(codecErrorf(atype.Type, "%s", lenMismatch(WordSize, len(data))))
		}
	}

	switch atype.Kind {
	case AbiKindBool:
		if typ.Kind() != reflect.Bool {
			break
		}
		if !isZeroBytes(data[:WordSize-1]) || data[WordSize-1] > 1 {
			return errors.WithStack(codecErrorf(atype.Type, "malformed bool word %x", data[:WordSize]))
		}
		val.SetBool(data[WordSize-1] == 1)
		return nil

	case AbiKindUint:
		num := new(big.Int).SetBytes(data[:WordSize])
		if num.BitLen() > atype.Bits {
			return errors.WithStack(codecErrorf(atype.Type, "dirty high bits in word %x", data[:WordSize]))
		}
		return abiSetInteger(val, atype, num)

	case AbiKindInt:
		num := new(big.Int).SetBytes(data[:WordSize])
		if data[0]&0x80 != 0 {
			num.Sub(num, two256)
		}
		if !abiIntegerFits(atype, num) {
			return errors.WithStack(codecErrorf(atype.Type, "improper sign extension in word %x", data[:WordSize]))
		}
		return abiSetInteger(val, atype, num)

	case AbiKindAddress:
		if !addressType.ConvertibleTo(typ) {
			break
		}
		if !isZeroBytes(data[:WordSize-len(Address{})]) {
			return errors.WithStack(codecErrorf(atype.Type, "dirty padding in word %x", data[:WordSize]))
		}
		var addr Address
		copy(addr[:], data[WordSize-len(addr):WordSize])
		val.Set(reflect.ValueOf(addr).Convert(typ))
		return nil

	case AbiKindFunction:
		if !functionType.ConvertibleTo(typ) {
			break
		}
		if !isZeroBytes(data[len(solFunc{}):WordSize]) {
			return errors.WithStack(codecErrorf(atype.Type, "dirty padding in word %x", data[:WordSize]))
		}
		var fun solFunc
		copy(fun[:], data)
		val.Set(reflect.ValueOf(fun).Convert(typ))
		return nil

	case AbiKindDenseArray:
		var body []byte

		if atype.FixedLen {
			if len(data) < WordSize {
				return errors.WithStack(codecErrorf(atype.Type, "%s", lenMismatch(WordSize, len(data))))
			}
			if !isZeroBytes(data[atype.ArrayLen:WordSize]) {
				return errors.WithStack(codecErrorf(atype.Type, "dirty padding in word %x", data[:WordSize]))
			}
			body = data[:atype.ArrayLen]
		} else {
			length, err := abiReadLength(data, 0, atype)
			if err != nil {
				return err
			}
			if len(data)-WordSize < length {
				return errors.WithStack(codecErrorf(atype.Type, "%s", lenMismatch(WordSize+length, len(data))))
			}
			body = data[WordSize : WordSize+length]
		}

		switch {
		case typ.Kind() == reflect.String:
			val.SetString(string(body))
			return nil
		case typ.Kind() == reflect.Slice && typ.Elem().Kind() == reflect.Uint8:
			out := make([]byte, len(body))
			copy(out, body)
			val.SetBytes(out)
			return nil
		case typ.Kind() == reflect.Array && typ.Elem().Kind() == reflect.Uint8 && typ.Len() == len(body):
			reflect.Copy(val, reflect.ValueOf(body))
			return nil
		}

	case AbiKindSparseArray:
		// Note: for sparse arrays, this is element count, not byte count
		length := atype.ArrayLen
		body := data

		if !atype.FixedLen {
			var err error
			length, err = abiReadLength(data, 0, atype)
			if err != nil {
				return err
			}
			body = data[WordSize:]
			if length > len(body)/WordSize {
				return errors.WithStack(codecErrorf(atype.Type, "%v elements can't fit into %v bytes", length, len(body)))
			}
		}

		var storage reflect.Value
		switch {
		case typ.Kind() == reflect.Array && typ.Len() == length:
			storage = val
		case typ.Kind() == reflect.Slice:
			storage = reflect.MakeSlice(typ, length, length)
		default:
			return errors.WithStack(typeMismatch(atype.Type, typ))
		}

		types := make([]AbiType, length)
		vals := make([]reflect.Value, length)
		for i := range length {
			types[i] = *atype.Elem
			vals[i] = storage.Index(i)
		}

		err := abiDecodeSeq(body, types, vals)
		if err != nil {
			return err
		}
		if storage != val {
			val.Set(storage)
		}
		return nil

	case AbiKindTuple:
		vals, err := abiTupleTargets(val, len(atype.Components))
		if err != nil {
			return errors.Wrapf(err, `can't decode %q into %v`, atype.Type, typ)
		}
		if vals != nil {
			return abiDecodeSeq(data, atype.Components, vals)
		}
	}

	return errors.WithStack(typeMismatch(atype.Type, typ))
}

/*
Returns settable targets for tuple components: struct fields, or elements of a
slice (allocated as needed) or array. Returns nil for other kinds.
*/
func abiTupleTargets(val reflect.Value, count int) ([]reflect.Value, error) {
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

	case reflect.Slice:
		if val.Len() != count {
			val.Set(reflect.MakeSlice(val.Type(), count, count))
		}
		fallthrough

	case reflect.Array:
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

func abiSetInteger(val reflect.Value, atype AbiType, num *big.Int) error {
	switch val.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if num.Sign() < 0 || !num.IsUint64() || val.OverflowUint(num.Uint64()) {
			return errors.WithStack(codecErrorf(atype.Type, "%v overflows %v", num, val.Type()))
		}
		val.SetUint(num.Uint64())
		return nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if !num.IsInt64() || val.OverflowInt(num.Int64()) {
			return errors.WithStack(codecErrorf(atype.Type, "%v overflows %v", num, val.Type()))
		}
		val.SetInt(num.Int64())
		return nil
	}

	if abiMaybeSetBigInt(val, num) {
		return nil
	}
	return errors.WithStack(typeMismatch(atype.Type, val.Type()))
}

func abiMaybeSetBigInt(val reflect.Value, num *big.Int) bool {
	typ := val.Type()
	switch {
	case typ == bigIntType && val.CanAddr():
		val.Addr().Interface().(*big.Int).Set(num)
	case bigIntType.ConvertibleTo(typ) && val.CanAddr():
		val.Addr().Convert(bigIntPtrType).Interface().(*big.Int).Set(num)
	case typ == bigIntPtrType:
		val.Set(reflect.ValueOf(num))
	case bigIntPtrType.ConvertibleTo(typ):
		val.Set(reflect.ValueOf(num).Convert(typ))
	default:
		return false
	}
	return true
}

/*
Reads a word at the given position as an offset or a length. Such words must
fit into a sane integer.
*/
func abiReadLength(data []byte, at int, atype AbiType) (int, error) {
	end := at + WordSize
	if len(data) < end {
		return 0, errors.WithStack(codecErrorf(atype.Type, "%s", lenMismatch(end, len(data))))
	}
	word := data[at:end]
	num := binary.BigEndian.Uint64(word[WordSize-8:])
	if !isZeroBytes(word[:WordSize-8]) || num > math.MaxInt32 {
		return 0, errors.WithStack(codecErrorf(atype.Type, "offset or length out of range: %x", word))
	}
	return int(num), nil
}

// Go type used when decoding into an interface.
func abiDefaultGoType(atype AbiType) reflect.Type {
	switch atype.Kind {
	case AbiKindBool:
		return reflect.TypeFor[bool]()
	case AbiKindUint:
		switch {
		case atype.Bits <= 8:
			return reflect.TypeFor[uint8]()
		case atype.Bits <= 16:
			return reflect.TypeFor[uint16]()
		case atype.Bits <= 32:
			return reflect.TypeFor[uint32]()
		case atype.Bits <= 64:
			return reflect.TypeFor[uint64]()
		}
		return bigIntPtrType
	case AbiKindInt:
		switch {
		case atype.Bits <= 8:
			return reflect.TypeFor[int8]()
		case atype.Bits <= 16:
			return reflect.TypeFor[int16]()
		case atype.Bits <= 32:
			return reflect.TypeFor[int32]()
		case atype.Bits <= 64:
			return reflect.TypeFor[int64]()
		}
		return bigIntPtrType
	case AbiKindAddress:
		return addressType
	case AbiKindFunction:
		return functionType
	case AbiKindDenseArray:
		switch {
		case atype.FixedLen:
			return reflect.ArrayOf(atype.ArrayLen, reflect.TypeFor[byte]())
		case atype.IsString():
			return reflect.TypeFor[string]()
		}
		return byteSliceType
	case AbiKindSparseArray:
		elem := abiDefaultGoType(*atype.Elem)
		if atype.FixedLen {
			return reflect.ArrayOf(atype.ArrayLen, elem)
		}
		return reflect.SliceOf(elem)
	default:
		return anySliceType
	}
}

func isZeroBytes(input []byte) bool {
	for _, char := range input {
		if char != 0 {
			return false
		}
	}
	return true
}
