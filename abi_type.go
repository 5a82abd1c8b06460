package web3

/*
See https://docs.soliditylang.org/en/latest/abi-spec.html
*/

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Size of an EVM word, the granularity of ABI encoding.
const WordSize = 256 / 8

/*
Represents a broad category of EVM types. Used internally for ABI encoding and
decoding.
*/
type AbiKind byte

const (
	AbiKindBool AbiKind = iota + 1
	AbiKindUint
	AbiKindInt
	AbiKindAddress
	AbiKindFunction
	AbiKindDenseArray  // `string`, `bytes` and `bytesN`
	AbiKindSparseArray // `T[k]` and `T[]`
	AbiKindTuple
)

// Implements "fmt.Stringer".
func (self AbiKind) String() string {
	switch self {
	case AbiKindBool:
		return "AbiKindBool"
	case AbiKindUint:
		return "AbiKindUint"
	case AbiKindInt:
		return "AbiKindInt"
	case AbiKindAddress:
		return "AbiKindAddress"
	case AbiKindFunction:
		return "AbiKindFunction"
	case AbiKindDenseArray:
		return "AbiKindDenseArray"
	case AbiKindSparseArray:
		return "AbiKindSparseArray"
	case AbiKindTuple:
		return "AbiKindTuple"
	default:
		return ""
	}
}

/*
Details about a concrete EVM type. ".Type" is always the canonical name used in
signatures: aliases such as "uint" are normalized, and tuples are spelled out
as "(T1,T2,...)".
*/
type AbiType struct {
	Type       string
	Kind       AbiKind
	Bits       int       // only for AbiKindUint and AbiKindInt
	ArrayLen   int       // can be 0 when FixedLen == true
	FixedLen   bool      // implies Kind == AbiKindDenseArray || Kind == AbiKindSparseArray
	Elem       *AbiType  // must be present if Kind == AbiKindSparseArray
	Components []AbiType // must be present if Kind == AbiKindTuple
	Names      []string  // optional component names, same length as .Components
}

// Commonly used types.
var (
	AbiBool    = AbiType{Type: "bool", Kind: AbiKindBool}
	AbiAddress = AbiType{Type: "address", Kind: AbiKindAddress}
	AbiString  = AbiType{Type: "string", Kind: AbiKindDenseArray}
	AbiBytes   = AbiType{Type: "bytes", Kind: AbiKindDenseArray}
	AbiUint256 = UintType(256)
	AbiInt256  = IntType(256)
	AbiBytes32 = FixedBytesType(32)
)

// Returns "uintN". Doesn't validate the width; see "ParseAbiType".
func UintType(bits int) AbiType {
	return AbiType{Type: "uint" + strconv.Itoa(bits), Kind: AbiKindUint, Bits: bits}
}

// Returns "intN". Doesn't validate the width; see "ParseAbiType".
func IntType(bits int) AbiType {
	return AbiType{Type: "int" + strconv.Itoa(bits), Kind: AbiKindInt, Bits: bits}
}

// Returns "bytesN". Doesn't validate the length; see "ParseAbiType".
func FixedBytesType(length int) AbiType {
	return AbiType{Type: "bytes" + strconv.Itoa(length), Kind: AbiKindDenseArray, ArrayLen: length, FixedLen: true}
}

// Returns "T[]".
func SliceType(elem AbiType) AbiType {
	return AbiType{Type: elem.Type + "[]", Kind: AbiKindSparseArray, Elem: &elem}
}

// Returns "T[k]".
func ArrayType(elem AbiType, length int) AbiType {
	return AbiType{
		Type:     elem.Type + "[" + strconv.Itoa(length) + "]",
		Kind:     AbiKindSparseArray,
		ArrayLen: length,
		FixedLen: true,
		Elem:     &elem,
	}
}

// Returns "(T1,T2,...)". Names are optional.
func TupleType(components []AbiType, names []string) AbiType {
	var buf strings.Builder
	buf.WriteByte('(')
	for i, comp := range components {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(comp.Type)
	}
	buf.WriteByte(')')

	if names != nil && len(names) != len(components) {
		names = nil
	}
	return AbiType{Type: buf.String(), Kind: AbiKindTuple, Components: components, Names: names}
}

// Implements "fmt.Stringer". Returns the canonical type name.
func (self AbiType) String() string { return self.Type }

/*
Determines how many bytes are needed to ABI-encode a value of this type. Returns
-1 for dynamically-sized types. Otherwise, it's a multiple of 32.
*/
func (self AbiType) Size() int {
	switch self.Kind {
	case AbiKindDenseArray:
		if !self.FixedLen {
			return -1
		}
		return WordSize
	case AbiKindSparseArray:
		if !self.FixedLen {
			return -1
		}
		size := self.Elem.Size()
		if size >= 0 {
			return size * self.ArrayLen
		}
		return -1
	case AbiKindTuple:
		total := 0
		for _, comp := range self.Components {
			size := comp.Size()
			if size < 0 {
				return -1
			}
			total += size
		}
		return total
	default:
		return WordSize
	}
}

// True if a value of this type has a fixed size and is ABI-encoded inline,
// without a "heap" reference.
func (self AbiType) IsStaticallySized() bool {
	return self.Size() >= 0
}

// True for `string`.
func (self AbiType) IsString() bool {
	return self.Kind == AbiKindDenseArray && self.Type == "string"
}

/*
True for types that fit into one word and are stored in topics as-is when
indexed. Everything else is hashed.
*/
func (self AbiType) IsValueType() bool {
	switch self.Kind {
	case AbiKindSparseArray, AbiKindTuple:
		return false
	case AbiKindDenseArray:
		return self.FixedLen
	default:
		return true
	}
}

/*
Accepts a name of an EVM type, such as "bytes32", "uint256", "address[12]" or
"(uint256,(address,bytes)[])[]", and returns its details as an AbiType.
Aliases are normalized: "uint" becomes "uint256", "int" becomes "int256",
"byte" becomes "bytes1".
*/
func ParseAbiType(typeName string) (AbiType, error) {
	parser := abiTypeParser{input: typeName}
	out, err := parser.parse()
	if err == nil && parser.pos != len(parser.input) {
		err = errors.Errorf(`unexpected %q at position %v`, parser.input[parser.pos:], parser.pos)
	}
	if err != nil {
		return AbiType{}, errors.Wrapf(err, `failed to parse %q as Solidity type`, typeName)
	}
	return out, nil
}

// Version of "ParseAbiType" that panics on error. Convenient for initializing
// global variables.
func MustParseAbiType(typeName string) AbiType {
	out, err := ParseAbiType(typeName)
	if err != nil {
		panic(err)
	}
	return out
}

type abiTypeParser struct {
	input string
	pos   int
}

func (self *abiTypeParser) peek() byte {
	if self.pos < len(self.input) {
		return self.input[self.pos]
	}
	return 0
}

func (self *abiTypeParser) parse() (AbiType, error) {
	var base AbiType

	if self.peek() == '(' {
		self.pos++
		var comps []AbiType
		if self.peek() != ')' {
			for {
				comp, err := self.parse()
				if err != nil {
					return AbiType{}, err
				}
				comps = append(comps, comp)
				if self.peek() != ',' {
					break
				}
				self.pos++
			}
		}
		if self.peek() != ')' {
			return AbiType{}, errors.Errorf(`unterminated tuple at position %v`, self.pos)
		}
		self.pos++
		base = TupleType(comps, nil)
	} else {
		start := self.pos
		for isAbiIdentChar(self.peek()) {
			self.pos++
		}
		elem, err := parseElementaryAbiType(self.input[start:self.pos])
		if err != nil {
			return AbiType{}, err
		}
		base = elem
	}

	start := self.pos
	for self.peek() == '[' {
		self.pos++
		for self.peek() >= '0' && self.peek() <= '9' {
			self.pos++
		}
		if self.peek() != ']' {
			return AbiType{}, errors.Errorf(`unterminated array suffix at position %v`, self.pos)
		}
		self.pos++
	}
	return applyAbiArraySuffix(base, self.input[start:self.pos])
}

func isAbiIdentChar(char byte) bool {
	return (char >= 'a' && char <= 'z') || (char >= '0' && char <= '9')
}

/*
Wraps the type into array types according to a suffix such as "[2][]". The
leftmost suffix binds tightest: "uint8[2][]" is a dynamic array of "uint8[2]".
*/
func applyAbiArraySuffix(base AbiType, suffix string) (AbiType, error) {
	for len(suffix) > 0 {
		end := strings.IndexByte(suffix, ']')
		if suffix[0] != '[' || end < 0 {
			return AbiType{}, errors.Errorf(`malformed array suffix %q`, suffix)
		}
		digits := suffix[1:end]
		suffix = suffix[end+1:]

		if digits == "" {
			base = SliceType(base)
			continue
		}
		length, err := strconv.ParseUint(digits, 10, 31)
		if err != nil {
			return AbiType{}, errors.Wrapf(err, `malformed array length %q`, digits)
		}
		base = ArrayType(base, int(length))
	}
	return base, nil
}

func parseElementaryAbiType(name string) (AbiType, error) {
	switch name {
	case "bool":
		return AbiBool, nil
	case "address":
		return AbiAddress, nil
	case "function":
		return AbiType{Type: "function", Kind: AbiKindFunction}, nil
	case "string":
		return AbiString, nil
	case "bytes":
		return AbiBytes, nil
	case "byte":
		return FixedBytesType(1), nil
	case "uint":
		return UintType(256), nil
	case "int":
		return IntType(256), nil
	case "":
		return AbiType{}, errors.New(`missing type name`)
	}

	switch {
	case strings.HasPrefix(name, "bytes"):
		length, err := strconv.Atoi(name[len("bytes"):])
		if err != nil || length < 1 || length > WordSize {
			return AbiType{}, errors.Errorf(`invalid fixed bytes type %q`, name)
		}
		return FixedBytesType(length), nil

	case strings.HasPrefix(name, "uint"):
		bits, err := parseAbiBits(name[len("uint"):])
		if err != nil {
			return AbiType{}, errors.Wrapf(err, `invalid type %q`, name)
		}
		return UintType(bits), nil

	case strings.HasPrefix(name, "int"):
		bits, err := parseAbiBits(name[len("int"):])
		if err != nil {
			return AbiType{}, errors.Wrapf(err, `invalid type %q`, name)
		}
		return IntType(bits), nil
	}

	return AbiType{}, errors.Errorf(`unknown type %q`, name)
}

func parseAbiBits(digits string) (int, error) {
	bits, err := strconv.Atoi(digits)
	if err != nil || bits < 8 || bits > 256 || bits%8 != 0 {
		return 0, errors.Errorf(`integer width must be a multiple of 8 between 8 and 256, got %q`, digits)
	}
	return bits, nil
}

/*
Returns the canonical signature "name(T1,T2,...)" used for function selectors
and event topics.
*/
func AbiSignature(name string, types []AbiType) string {
	var buf strings.Builder
	buf.WriteString(name)
	buf.WriteByte('(')
	for i, typ := range types {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(typ.Type)
	}
	buf.WriteByte(')')
	return buf.String()
}

// Returns the 4-byte function selector for the given name and input types.
func AbiSelector(name string, types []AbiType) [4]byte {
	sum := Keccak256([]byte(AbiSignature(name, types)))
	return [4]byte{sum[0], sum[1], sum[2], sum[3]}
}

/*
Splits a human-readable signature such as "transfer(address to, uint256)" into
the name and the parsed parameter types. Parameter names, "indexed" and other
modifiers are dropped, aliases are normalized, and a missing parameter list
means no parameters. A leading "function" or "event" keyword is allowed.
Joining the results with "AbiSignature" yields the canonical form.
*/
func ParseAbiSignature(input string) (string, []AbiType, error) {
	head, params, found := strings.Cut(strings.TrimSpace(input), "(")

	var name string
	if fields := strings.Fields(head); len(fields) > 0 {
		name = fields[len(fields)-1]
	}
	if name == "" {
		return "", nil, errors.Errorf(`missing name in signature %q`, input)
	}
	if !found {
		return name, nil, nil
	}

	params = strings.TrimSpace(params)
	if !strings.HasSuffix(params, ")") {
		return "", nil, errors.Errorf(`malformed parameter list in signature %q`, input)
	}

	canon, err := canonicalAbiParams(params[:len(params)-1])
	if err != nil {
		return "", nil, errors.Wrapf(err, `malformed signature %q`, input)
	}

	tuple, err := ParseAbiType("(" + canon + ")")
	if err != nil {
		return "", nil, errors.Wrapf(err, `malformed signature %q`, input)
	}
	if tuple.Kind != AbiKindTuple {
		return "", nil, errors.Errorf(`malformed parameter list in signature %q`, input)
	}
	return name, tuple.Components, nil
}

// Reduces a parameter list to comma-separated types, recursing into tuples.
func canonicalAbiParams(input string) (string, error) {
	parts, err := splitAbiParams(input)
	if err != nil {
		return "", err
	}

	out := make([]string, len(parts))
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return "", errors.Errorf(`empty parameter in %q`, input)
		}

		if part[0] != '(' {
			out[i] = strings.Fields(part)[0]
			continue
		}

		end := strings.LastIndexByte(part, ')')
		inner, err := canonicalAbiParams(part[1:end])
		if err != nil {
			return "", err
		}

		rest := strings.TrimLeft(part[end+1:], " \t\r\n")
		suffix := rest[:len(rest)-len(strings.TrimLeft(rest, "[]0123456789"))]
		out[i] = "(" + inner + ")" + suffix
	}
	return strings.Join(out, ","), nil
}

// Splits at commas outside of nested parentheses.
func splitAbiParams(input string) ([]string, error) {
	if strings.TrimSpace(input) == "" {
		return nil, nil
	}

	var out []string
	var depth, start int
	for i := range len(input) {
		switch input[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, errors.Errorf(`unbalanced parentheses in %q`, input)
			}
		case ',':
			if depth == 0 {
				out = append(out, input[start:i])
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, errors.Errorf(`unbalanced parentheses in %q`, input)
	}
	return append(out, input[start:]), nil
}
