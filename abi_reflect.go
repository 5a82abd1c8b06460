package web3

import (
	"math/big"
	"reflect"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

/*
Allows a user-defined type to declare its Solidity type, such as "int24" or
"bytes32". Consulted by "AbiTypeOf" before any other rule. Types that implement
this usually also implement "AbiMarshaler" and "AbiUnmarshaler".
*/
type AbiTyper interface {
	EthAbiType() string
}

var (
	bigIntType        = reflect.TypeFor[big.Int]()
	bigIntPtrType     = reflect.TypeFor[*big.Int]()
	hexIntType        = reflect.TypeFor[HexInt]()
	hexIntPtrType     = reflect.TypeFor[*HexInt]()
	addressType       = reflect.TypeFor[Address]()
	commonAddressType = reflect.TypeFor[common.Address]()
	wordType          = reflect.TypeFor[Word]()
	hashType          = reflect.TypeFor[Hash]()
	commonHashType    = reflect.TypeFor[common.Hash]()
	functionType      = reflect.TypeFor[solFunc]()
	byteSliceType     = reflect.TypeFor[[]byte]()
	anySliceType      = reflect.TypeFor[[]any]()
	abiTyperType      = reflect.TypeFor[AbiTyper]()
	abiMarshalerType  = reflect.TypeFor[AbiMarshaler]()
)

type solFunc = [24]byte

type abiTypeEntry struct {
	atype AbiType
	err   error
}

var abiTypeCache sync.Map

/*
Derives the Solidity type for a Go type. The mapping:

	bool                       -> bool
	uint8 ... uint64           -> uint8 ... uint64
	int8 ... int64             -> int8 ... int64
	uint, int                  -> uint256, int256
	big.Int, *big.Int, HexInt  -> uint256
	Address, common.Address    -> address
	Hash, Word, common.Hash    -> bytes32
	[N]byte (N <= 32)          -> bytesN
	[]byte, HexBytes           -> bytes
	string                     -> string
	[]T                        -> T[]
	[N]T                       -> T[N]
	struct                     -> tuple of exported fields in declaration order
	AbiTyper                   -> whatever it declares

Struct fields accept the tag `abi:"name,type=<solidity type>,indexed"`. The
name overrides the component name, the type overrides the derived type (e.g.
"int24" for an int32 field, "int256" for a *big.Int field), "indexed" marks
event parameters. The tag `abi:"-"` skips a field. Results are cached per type.
*/
func AbiTypeOf(typ reflect.Type) (AbiType, error) {
	cached, ok := abiTypeCache.Load(typ)
	if ok {
		entry := cached.(abiTypeEntry)
		return entry.atype, entry.err
	}

	atype, err := abiTypeOf(typ)
	abiTypeCache.Store(typ, abiTypeEntry{atype, err})
	return atype, err
}

// Generic shortcut for "AbiTypeOf".
func AbiTypeFor[T any]() (AbiType, error) {
	return AbiTypeOf(reflect.TypeFor[T]())
}

func abiTypeOf(typ reflect.Type) (AbiType, error) {
	switch typ {
	case bigIntType, bigIntPtrType, hexIntType, hexIntPtrType:
		return AbiUint256, nil
	case addressType, commonAddressType:
		return AbiAddress, nil
	case wordType, hashType, commonHashType:
		return AbiBytes32, nil
	case functionType:
		return parseElementaryAbiType("function")
	}

	if typ.Kind() == reflect.Ptr {
		return AbiTypeOf(typ.Elem())
	}

	if typ.Kind() != reflect.Interface && reflect.PointerTo(typ).Implements(abiTyperType) {
		return ParseAbiType(reflect.New(typ).Interface().(AbiTyper).EthAbiType())
	}

	switch typ.Kind() {
	case reflect.Bool:
		return AbiBool, nil
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return UintType(typ.Bits()), nil
	case reflect.Uint, reflect.Uintptr:
		return AbiUint256, nil
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return IntType(typ.Bits()), nil
	case reflect.Int:
		return AbiInt256, nil
	case reflect.String:
		return AbiString, nil

	case reflect.Slice:
		if typ.Elem().Kind() == reflect.Uint8 {
			return AbiBytes, nil
		}
		elem, err := AbiTypeOf(typ.Elem())
		if err != nil {
			return AbiType{}, err
		}
		return SliceType(elem), nil

	case reflect.Array:
		if typ.Elem().Kind() == reflect.Uint8 && typ.Len() >= 1 && typ.Len() <= WordSize {
			return FixedBytesType(typ.Len()), nil
		}
		elem, err := AbiTypeOf(typ.Elem())
		if err != nil {
			return AbiType{}, err
		}
		return ArrayType(elem, typ.Len()), nil

	case reflect.Struct:
		fields, err := abiStructFields(typ)
		if err != nil {
			return AbiType{}, err
		}
		comps := make([]AbiType, len(fields))
		names := make([]string, len(fields))
		for i, field := range fields {
			comps[i] = field.Type
			names[i] = field.Name
		}
		return TupleType(comps, names), nil
	}

	return AbiType{}, errors.WithStack(codecErrorf("", "no Solidity type for Go type %v", typ))
}

// Describes one exported struct field participating in ABI encoding.
type abiField struct {
	Index   int
	GoName  string
	Name    string
	Type    AbiType
	Indexed bool
}

type abiFieldsEntry struct {
	fields []abiField
	err    error
}

var abiFieldsCache sync.Map

// Returns the ABI-relevant fields of a struct type in declaration order.
func abiStructFields(typ reflect.Type) ([]abiField, error) {
	cached, ok := abiFieldsCache.Load(typ)
	if ok {
		entry := cached.(abiFieldsEntry)
		return entry.fields, entry.err
	}

	fields, err := readAbiStructFields(typ)
	abiFieldsCache.Store(typ, abiFieldsEntry{fields, err})
	return fields, err
}

func readAbiStructFields(typ reflect.Type) ([]abiField, error) {
	if typ.Kind() != reflect.Struct {
		return nil, errors.Errorf(`expected a struct type, got %v`, typ)
	}

	var out []abiField
	for i := range typ.NumField() {
		sfield := typ.Field(i)
		if !sfield.IsExported() {
			continue
		}

		tag, hasTag := sfield.Tag.Lookup("abi")
		if tag == "-" {
			continue
		}

		field := abiField{Index: i, GoName: sfield.Name, Name: lowerFirst(sfield.Name)}
		var typeName string

		if hasTag {
			parts := strings.Split(tag, ",")
			if parts[0] != "" {
				field.Name = parts[0]
			}
			for _, part := range parts[1:] {
				switch {
				case part == "indexed":
					field.Indexed = true
				case strings.HasPrefix(part, "type="):
					typeName = part[len("type="):]
				case part == "":
				default:
					return nil, errors.Errorf(`unknown option %q in abi tag of field %v.%v`, part, typ, sfield.Name)
				}
			}
		}

		var err error
		if typeName != "" {
			field.Type, err = ParseAbiType(typeName)
		} else {
			field.Type, err = AbiTypeOf(sfield.Type)
		}
		if err != nil {
			return nil, errors.Wrapf(err, `failed to derive Solidity type of field %v.%v`, typ, sfield.Name)
		}

		out = append(out, field)
	}
	return out, nil
}

func lowerFirst(str string) string {
	char, size := utf8.DecodeRuneInString(str)
	if char == utf8.RuneError {
		return str
	}
	return string(unicode.ToLower(char)) + str[size:]
}

/*
Reports whether a Go type used as a function's argument or result type denotes
a list of values (a struct whose fields are the list) rather than one value.
Structs that map to a single Solidity value, such as big.Int or types
implementing "AbiTyper", are single values.
*/
func isAbiValueList(typ reflect.Type) bool {
	if typ.Kind() != reflect.Struct {
		return false
	}
	switch typ {
	case bigIntType, hexIntType:
		return false
	}
	return !reflect.PointerTo(typ).Implements(abiTyperType)
}
