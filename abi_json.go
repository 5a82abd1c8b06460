package web3

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
)

/*
Compiled contract: its ABI and creation bytecode, as emitted by
"solc --combined-json=abi,bin". See "ReadContractDefs".
*/
type ContractDef struct {
	FileName     string
	ContractName string
	Abi          Abi
	AbiJson      string
	Code         HexBytes
}

/*
Creation payload of the contract: bytecode followed by the ABI-encoded
constructor arguments. Without a constructor in the ABI, accepts no arguments.
*/
func (self ContractDef) DeployData(args ...any) ([]byte, error) {
	ctor, _ := self.Abi.MaybeConstructor()
	out, err := ctor.Marshal(self.Code, args...)
	return out, errors.Wrapf(err, `invalid constructor arguments of %v`, self.ContractName)
}

type solcContract struct {
	Abi json.RawMessage `json:"abi"`
	Bin string          `json:"bin"`
}

/*
Reads the output of "solc --combined-json=abi,bin". Keys of the resulting map
are solc identifiers of the form "path/to/File.sol:Name". The "abi" of each
contract may be either an embedded JSON array, or a JSON string containing
one, depending on the compiler version.
*/
func ReadContractDefs(src io.Reader) (map[string]ContractDef, error) {
	var input struct {
		Contracts map[string]solcContract `json:"contracts"`
	}
	err := json.NewDecoder(src).Decode(&input)
	if err != nil {
		return nil, errors.Wrap(err, `failed to read Solidity output`)
	}

	out := make(map[string]ContractDef, len(input.Contracts))
	for key, val := range input.Contracts {
		out[key], err = val.def(key)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (self solcContract) def(key string) (out ContractDef, err error) {
	out.FileName, out.ContractName, _ = strings.Cut(key, ":")

	abiJson := []byte(self.Abi)
	if len(abiJson) > 0 && abiJson[0] == '"' {
		var str string
		if err = json.Unmarshal(abiJson, &str); err != nil {
			return out, errors.Wrapf(err, `failed to decode ABI of %q`, key)
		}
		abiJson = []byte(str)
	}

	out.AbiJson = string(abiJson)
	if err = json.Unmarshal(abiJson, &out.Abi); err != nil {
		return out, errors.Wrapf(err, `failed to decode ABI of %q`, key)
	}

	out.Code, err = hex.DecodeString(trim0x(self.Bin))
	return out, errors.Wrapf(err, `failed to decode bytecode of %q`, key)
}

/*
JSON ABI of a contract: its constructor, functions, events and custom errors,
in declaration order. Lookups are linear scans; contracts rarely declare more
than a few dozen entries. See "AbiMethod" for the entry types.
*/
type Abi []AbiMethod

/*
Like "json.Unmarshal" into "Abi", but panics on failure. For package-level
variables:

	var erc20Abi = web3.MustParseAbiJson(`[{"type": "function", "name": "totalSupply", ...}]`)
*/
func MustParseAbiJson(input string) Abi {
	var out Abi
	err := json.Unmarshal(stringToBytesUnsafe(input), &out)
	if err != nil {
		panic(err)
	}
	return out
}

func abiFind[T AbiMethod](abi Abi, fun func(T) bool) (T, bool) {
	for _, entry := range abi {
		val, ok := entry.(T)
		if ok && fun(val) {
			return val, true
		}
	}
	var zero T
	return zero, false
}

// The constructor, if the ABI declares one.
func (self Abi) MaybeConstructor() (AbiConstructor, bool) {
	return abiFind(self, func(AbiConstructor) bool { return true })
}

func (self Abi) MaybeFunction(name string) (AbiFunction, bool) {
	return abiFind(self, func(val AbiFunction) bool { return val.Name == name })
}

// Like "MaybeFunction", but panics when the function is missing.
func (self Abi) Function(name string) AbiFunction {
	out, ok := self.MaybeFunction(name)
	if !ok {
		panic(fmt.Sprintf(`ABI has no function %q`, name))
	}
	return out
}

func (self Abi) MaybeEvent(name string) (AbiEvent, bool) {
	return abiFind(self, func(val AbiEvent) bool { return val.Name == name })
}

// Like "MaybeEvent", but panics when the event is missing.
func (self Abi) Event(name string) AbiEvent {
	out, ok := self.MaybeEvent(name)
	if !ok {
		panic(fmt.Sprintf(`ABI has no event %q`, name))
	}
	return out
}

// Finds a custom error by its 4-byte selector.
func (self Abi) ErrorBySelector(selector [4]byte) (AbiError, bool) {
	return abiFind(self, func(val AbiError) bool { return val.Selector == selector })
}

/*
Describes revert data in human terms. Handles the standard "Error(string)" and
"Panic(uint256)" payloads, plus the custom errors declared in this ABI, which
are rendered as "Name(arg0, arg1, ...)". A nil ABI handles only the standard
payloads. Returns false for empty or unrecognized data.
*/
func (self Abi) DecodeRevert(data []byte) (string, bool) {
	reason, ok := DecodeRevertReason(data)
	if ok || len(data) < 4 {
		return reason, ok
	}

	def, ok := self.ErrorBySelector([4]byte(data[:4]))
	if !ok {
		return "", false
	}

	vals := make([]any, len(def.Inputs))
	ptrs := make([]any, len(vals))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if def.Unmarshal(data, ptrs...) != nil {
		return "", false
	}

	args := make([]string, len(vals))
	for i, val := range vals {
		args[i] = fmt.Sprint(val)
	}
	return def.Name + "(" + strings.Join(args, ", ") + ")", true
}

// Implements "json.Unmarshaler". Entries are dispatched on their "type" field.
func (self *Abi) UnmarshalJSON(input []byte) error {
	var entries []json.RawMessage
	err := json.Unmarshal(input, &entries)
	if err != nil {
		return errors.WithStack(err)
	}

	out := make(Abi, 0, len(entries))
	for i, entry := range entries {
		val, err := unmarshalAbiMethod(entry)
		if err != nil {
			return errors.Wrapf(err, `invalid ABI entry %v`, i)
		}
		out = append(out, val)
	}
	*self = out
	return nil
}

func unmarshalAbiMethod(input []byte) (AbiMethod, error) {
	var head struct {
		Type string `json:"type"`
	}
	err := json.Unmarshal(input, &head)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	switch head.Type {
	case "constructor":
		return unmarshalAbiEntry[AbiConstructor](input)
	// Ancient compilers omit "type" for functions.
	case "function", "fallback", "receive", "":
		return unmarshalAbiEntry[AbiFunction](input)
	case "event":
		return unmarshalAbiEntry[AbiEvent](input)
	case "error":
		return unmarshalAbiEntry[AbiError](input)
	default:
		return nil, errors.Errorf(`unsupported ABI entry type %q`, head.Type)
	}
}

func unmarshalAbiEntry[T any](input []byte) (AbiMethod, error) {
	var out T
	err := json.Unmarshal(input, &out)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return out, nil
}

/*
One entry of a JSON ABI. The dynamic type is always one of:

	AbiConstructor
	AbiFunction
	AbiEvent
	AbiError
*/
type AbiMethod any

type AbiConstructor struct {
	Type            string     `json:"type"`
	Inputs          []AbiParam `json:"inputs"`
	Payable         bool       `json:"payable,omitempty"`
	StateMutability string     `json:"stateMutability,omitempty"`
}

// Appends the ABI-encoded arguments to a copy of the creation bytecode.
func (self AbiConstructor) Marshal(code []byte, args ...any) ([]byte, error) {
	return abiAppendValues(append([]byte(nil), code...), AbiParamTypes(self.Inputs), args)
}

/*
A function entry, with its canonical signature and selector computed when it's
built or decoded. Encodes calldata and decodes return data.
*/
type AbiFunction struct {
	Type            string     `json:"type"`
	Name            string     `json:"name"`
	Constant        bool       `json:"constant,omitempty"`
	Inputs          []AbiParam `json:"inputs"`
	Outputs         []AbiParam `json:"outputs"`
	Payable         bool       `json:"payable,omitempty"`
	StateMutability string     `json:"stateMutability,omitempty"`
	Signature       string     `json:"-"`
	Selector        [4]byte    `json:"-"`
}

func NewAbiFunction(name string, inputs, outputs []AbiParam) AbiFunction {
	types := AbiParamTypes(inputs)
	return AbiFunction{
		Type:      "function",
		Name:      name,
		Inputs:    inputs,
		Outputs:   outputs,
		Signature: AbiSignature(name, types),
		Selector:  AbiSelector(name, types),
	}
}

/*
Encodes calldata: the selector followed by the arguments, which must match
".Inputs" in count and types.
*/
func (self AbiFunction) Marshal(args ...any) ([]byte, error) {
	return abiAppendValues(self.Selector[:], AbiParamTypes(self.Inputs), args)
}

/*
Decodes return data into the given pointers, which must match ".Outputs" in
count and types.
*/
func (self AbiFunction) Unmarshal(input []byte, outs ...any) error {
	return AbiUnmarshalTuple(input, self.Outputs, outs)
}

// Implements "json.Unmarshaler". Computes ".Signature" and ".Selector".
func (self *AbiFunction) UnmarshalJSON(input []byte) error {
	type plain AbiFunction
	var val plain
	err := json.Unmarshal(input, &val)
	if err != nil {
		return err
	}

	*self = NewAbiFunction(val.Name, val.Inputs, val.Outputs)
	self.Type = val.Type
	self.Constant = val.Constant
	self.Payable = val.Payable
	self.StateMutability = val.StateMutability
	return nil
}

/*
An event entry. ".Selector" is topic0 of non-anonymous events. Inputs are
additionally split into indexed ones, which go into topics, and the rest,
which go into log data.
*/
type AbiEvent struct {
	Type             string     `json:"type"`
	Name             string     `json:"name"`
	Inputs           []AbiParam `json:"inputs"`
	Anonymous        bool       `json:"anonymous"`
	Signature        string     `json:"-"`
	Selector         Word       `json:"-"`
	IndexedInputs    []AbiParam `json:"-"`
	NonIndexedInputs []AbiParam `json:"-"`
}

func NewAbiEvent(name string, inputs []AbiParam, anonymous bool) AbiEvent {
	out := AbiEvent{
		Type:      "event",
		Name:      name,
		Inputs:    inputs,
		Anonymous: anonymous,
		Signature: AbiSignature(name, AbiParamTypes(inputs)),
	}
	out.Selector = Word(Keccak256([]byte(out.Signature)))

	for _, param := range inputs {
		if param.Indexed {
			out.IndexedInputs = append(out.IndexedInputs, param)
		} else {
			out.NonIndexedInputs = append(out.NonIndexedInputs, param)
		}
	}
	return out
}

// Implements "json.Unmarshaler". Computes ".Selector" and splits the inputs.
func (self *AbiEvent) UnmarshalJSON(input []byte) error {
	type plain AbiEvent
	var val plain
	err := json.Unmarshal(input, &val)
	if err != nil {
		return err
	}
	*self = NewAbiEvent(val.Name, val.Inputs, val.Anonymous)
	return nil
}

// Custom Solidity error, such as "InsufficientBalance(uint256,uint256)".
type AbiError struct {
	Type      string     `json:"type"`
	Name      string     `json:"name"`
	Inputs    []AbiParam `json:"inputs"`
	Signature string     `json:"-"`
	Selector  [4]byte    `json:"-"`
}

// Implements "json.Unmarshaler". Computes ".Signature" and ".Selector".
func (self *AbiError) UnmarshalJSON(input []byte) error {
	type plain AbiError
	var val plain
	err := json.Unmarshal(input, &val)
	if err != nil {
		return err
	}

	types := AbiParamTypes(val.Inputs)
	*self = AbiError{
		Type:      "error",
		Name:      val.Name,
		Inputs:    val.Inputs,
		Signature: AbiSignature(val.Name, types),
		Selector:  AbiSelector(val.Name, types),
	}
	return nil
}

// Decodes revert data of this error into the given pointers. Checks the selector.
func (self AbiError) Unmarshal(input []byte, outs ...any) error {
	if len(input) < 4 || [4]byte(input[:4]) != self.Selector {
		return errors.WithStack(codecErrorf("", "revert data doesn't start with selector %x of %v", self.Selector, self.Signature))
	}
	return AbiUnmarshalTuple(input[4:], self.Inputs, outs)
}

var (
	revertErrorSelector = [4]byte{0x08, 0xc3, 0x79, 0xa0} // Error(string)
	revertPanicSelector = [4]byte{0x4e, 0x48, 0x7b, 0x71} // Panic(uint256)
)

/*
Decodes the standard revert payloads "Error(string)" and "Panic(uint256)" into
a readable reason. Returns false for custom errors and empty data. See
"Abi.DecodeRevert" for custom errors.
*/
func DecodeRevertReason(data []byte) (string, bool) {
	if len(data) < 4 {
		return "", false
	}
	body := data[4:]

	switch [4]byte(data[:4]) {
	case revertErrorSelector:
		var reason string
		if AbiUnmarshalValues(body, []AbiType{AbiString}, &reason) != nil {
			return "", false
		}
		return reason, true
	case revertPanicSelector:
		var code uint64
		if AbiUnmarshalValues(body, []AbiType{AbiUint256}, &code) != nil {
			return "", false
		}
		return fmt.Sprintf("panic code %#x", code), true
	}
	return "", false
}

/*
A named parameter of a constructor, function, event or error. ".AbiType" is
parsed from ".Type" and ".Components" when decoding JSON.
*/
type AbiParam struct {
	Name         string     `json:"name"`
	Type         string     `json:"type"`
	InternalType string     `json:"internalType,omitempty"`
	Components   []AbiParam `json:"components,omitempty"`
	Indexed      bool       `json:"indexed,omitempty"`
	AbiType      AbiType    `json:"-"`
}

/*
Builds a parameter from a parsed type. Tuple types are spelled the way JSON ABI
spells them: "tuple" or "tuple[]" with explicit components.
*/
func AbiParamOf(name string, atype AbiType, indexed bool) AbiParam {
	out := AbiParam{Name: name, Type: atype.Type, Indexed: indexed, AbiType: atype}

	inner := atype
	for inner.Kind == AbiKindSparseArray {
		inner = *inner.Elem
	}
	if inner.Kind != AbiKindTuple {
		return out
	}

	out.Type = "tuple" + atype.Type[len(inner.Type):]
	out.Components = make([]AbiParam, len(inner.Components))
	for i, comp := range inner.Components {
		var compName string
		if i < len(inner.Names) {
			compName = inner.Names[i]
		}
		out.Components[i] = AbiParamOf(compName, comp, false)
	}
	return out
}

// Implements "json.Unmarshaler". Parses ".AbiType".
func (self *AbiParam) UnmarshalJSON(input []byte) error {
	type plain AbiParam
	var val plain
	err := json.Unmarshal(input, &val)
	if err != nil {
		return err
	}

	suffix, isTuple := strings.CutPrefix(val.Type, "tuple")
	if isTuple {
		comps := make([]AbiType, len(val.Components))
		names := make([]string, len(val.Components))
		for i, comp := range val.Components {
			comps[i] = comp.AbiType
			names[i] = comp.Name
		}
		val.AbiType, err = applyAbiArraySuffix(TupleType(comps, names), suffix)
	} else {
		val.AbiType, err = ParseAbiType(val.Type)
	}
	if err != nil {
		return errors.Wrapf(err, `invalid type of parameter %q`, val.Name)
	}

	*self = AbiParam(val)
	return nil
}

func AbiParamTypes(params []AbiParam) []AbiType {
	out := make([]AbiType, len(params))
	for i, param := range params {
		out[i] = param.AbiType
	}
	return out
}

// Encodes the arguments as a head/tail sequence matching the parameters.
func AbiMarshalTuple(params []AbiParam, args ...any) ([]byte, error) {
	return abiAppendValues(nil, AbiParamTypes(params), args)
}

// Decodes a head/tail sequence matching the parameters into the given pointers.
func AbiUnmarshalTuple(input []byte, params []AbiParam, outs []any) error {
	return AbiUnmarshalValues(input, AbiParamTypes(params), outs...)
}
