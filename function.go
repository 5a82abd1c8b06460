package web3

import (
	"bytes"
	"context"
	"reflect"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Argument or result type of functions that take or return nothing.
type Empty struct{}

/*
A typed handle for one contract function. "A" is the argument type and "R" is
the result type. A struct type other than "big.Int" and "AbiTyper"
implementations is a list of values, one per exported field, named and typed
per the `abi` tag (see "AbiTypeOf"); any other type is a single value. Use
"Empty" for no arguments or no results. To pass or return a single tuple, wrap
it in a struct with one field.

Handles are values. "With" returns a copy with encoded arguments, and "On",
"At" and "Via" return routed copies. The ABI definition is computed once per
(name, A, R) and shared by every copy.
*/
type Function[A, R any] struct {
	def      *AbiFunction
	contract Contract
	calldata HexBytes
	bound    bool
}

type functionKey struct {
	name   string
	args   reflect.Type
	result reflect.Type
}

type functionEntry struct {
	def *AbiFunction
	err error
}

var functionCache sync.Map

/*
Creates an unrouted function handle. Prefer declaring handles as fields of a
contract struct materialized via "Bind"; this is for ad-hoc use.
*/
func NewFunction[A, R any](name string) (Function[A, R], error) {
	def, err := abiFunctionFor(name, reflect.TypeFor[A](), reflect.TypeFor[R]())
	return Function[A, R]{def: def}, err
}

// Like "NewFunction", but panics on error.
func MustFunction[A, R any](name string) Function[A, R] {
	out, err := NewFunction[A, R](name)
	if err != nil {
		panic(err)
	}
	return out
}

func abiFunctionFor(name string, args, result reflect.Type) (*AbiFunction, error) {
	key := functionKey{name, args, result}
	cached, ok := functionCache.Load(key)
	if ok {
		entry := cached.(functionEntry)
		return entry.def, entry.err
	}

	entry := functionEntry{}
	inputs, err := abiParamsFor(args)
	if err != nil {
		entry.err = errors.Wrapf(err, `invalid arguments of function %q`, name)
	} else {
		outputs, err := abiParamsFor(result)
		if err != nil {
			entry.err = errors.Wrapf(err, `invalid results of function %q`, name)
		} else {
			def := NewAbiFunction(name, inputs, outputs)
			entry.def = &def
		}
	}

	functionCache.Store(key, entry)
	return entry.def, entry.err
}

func abiParamsFor(typ reflect.Type) ([]AbiParam, error) {
	if !isAbiValueList(typ) {
		atype, err := AbiTypeOf(typ)
		if err != nil {
			return nil, err
		}
		return []AbiParam{AbiParamOf("", atype, false)}, nil
	}

	fields, err := abiStructFields(typ)
	if err != nil {
		return nil, err
	}
	out := make([]AbiParam, len(fields))
	for i, field := range fields {
		out[i] = AbiParamOf(field.Name, field.Type, false)
	}
	return out, nil
}

// Returns the values of a list type, or the value itself.
func abiListValues(val reflect.Value) []reflect.Value {
	if !isAbiValueList(val.Type()) {
		return []reflect.Value{val}
	}
	fields, _ := abiStructFields(val.Type())
	out := make([]reflect.Value, len(fields))
	for i, field := range fields {
		out[i] = val.Field(field.Index)
	}
	return out
}

func (self *Function[A, R]) bindAs(name string, contract Contract) error {
	def, err := abiFunctionFor(name, reflect.TypeFor[A](), reflect.TypeFor[R]())
	if err != nil {
		return err
	}
	self.def = def
	self.contract = contract
	return nil
}

func (self *Function[A, R]) rebind(contract Contract) { self.contract = contract }

func (*Function[A, R]) isFunction() {}

func (self Function[A, R]) definition() (*AbiFunction, error) {
	if self.def == nil {
		return nil, contractualErrorf(`function handle %v is not initialized: use "Bind" or "NewFunction"`, reflect.TypeFor[Function[A, R]]())
	}
	return self.def, nil
}

// Solidity name of the function.
func (self Function[A, R]) Name() string {
	if self.def == nil {
		return ""
	}
	return self.def.Name
}

// Canonical signature, such as "transfer(address,uint256)".
func (self Function[A, R]) Signature() string {
	if self.def == nil {
		return ""
	}
	return self.def.Signature
}

// First 4 bytes of the keccak256 hash of the signature.
func (self Function[A, R]) Selector() [4]byte {
	if self.def == nil {
		return [4]byte{}
	}
	return self.def.Selector
}

// Returns a copy of the ABI definition.
func (self Function[A, R]) Abi() AbiFunction {
	if self.def == nil {
		return AbiFunction{}
	}
	return *self.def
}

// The contract this handle targets.
func (self Function[A, R]) Contract() Contract { return self.contract }

// Implements "Callable".
func (self Function[A, R]) Target() Address { return self.contract.Address }

// Returns a copy routed to the given network.
func (self Function[A, R]) On(net Network) Function[A, R] {
	self.contract = self.contract.On(net)
	return self
}

// Returns a copy routed through the given transport.
func (self Function[A, R]) Via(trans Trans) Function[A, R] {
	self.contract = self.contract.Via(trans)
	return self
}

// Returns a copy targeting another address.
func (self Function[A, R]) At(addr Address) Function[A, R] {
	self.contract = self.contract.At(addr)
	return self
}

// Returns a copy with the arguments ABI-encoded into its calldata.
func (self Function[A, R]) With(args A) (Function[A, R], error) {
	def, err := self.definition()
	if err != nil {
		return self, err
	}

	types := AbiParamTypes(def.Inputs)
	out := make([]byte, 0, len(def.Selector)+len(types)*WordSize)
	out = append(out, def.Selector[:]...)

	out, err = abiAppendSeq(out, types, abiListValues(reflect.ValueOf(&args).Elem()))
	if err != nil {
		return self, errors.Wrapf(err, `failed to encode arguments of %v`, def.Signature)
	}

	self.calldata = out
	self.bound = true
	return self, nil
}

// Like "With", but panics on error.
func (self Function[A, R]) MustWith(args A) Function[A, R] {
	out, err := self.With(args)
	if err != nil {
		panic(err)
	}
	return out
}

/*
Implements "Callable". Returns the selector followed by the encoded arguments.
Functions without parameters don't need "With".
*/
func (self Function[A, R]) Calldata() (HexBytes, error) {
	def, err := self.definition()
	if err != nil {
		return nil, err
	}
	if self.bound {
		return self.calldata, nil
	}
	if len(def.Inputs) == 0 {
		return HexBytes(append([]byte(nil), def.Selector[:]...)), nil
	}
	return nil, contractualErrorf(`function %v requires arguments: use "With"`, def.Signature)
}

// Decodes calldata produced by "Calldata" back into arguments.
func (self Function[A, R]) DecodeArgs(calldata []byte) (A, error) {
	var out A
	def, err := self.definition()
	if err != nil {
		return out, err
	}

	if len(calldata) < len(def.Selector) || !bytes.Equal(calldata[:len(def.Selector)], def.Selector[:]) {
		return out, errors.WithStack(codecErrorf("", "calldata doesn't start with selector %x of %v", def.Selector, def.Signature))
	}

	err = abiDecodeSeq(calldata[len(def.Selector):], AbiParamTypes(def.Inputs), abiListValues(reflect.ValueOf(&out).Elem()))
	return out, errors.Wrapf(err, `failed to decode arguments of %v`, def.Signature)
}

/*
Decodes ABI-encoded return data into "R". Empty data for a function with
results is reported distinctly, since it usually means there's no contract at
the address.
*/
func (self Function[A, R]) Decode(data []byte) (R, error) {
	var out R
	def, err := self.definition()
	if err != nil {
		return out, err
	}

	if len(data) == 0 && len(def.Outputs) > 0 {
		return out, errors.WithStack(codecErrorf("", "empty return data from %v at %v: is there a contract at this address?", def.Signature, self.contract.Address))
	}

	err = abiDecodeSeq(data, AbiParamTypes(def.Outputs), abiListValues(reflect.ValueOf(&out).Elem()))
	return out, errors.Wrapf(err, `failed to decode results of %v`, def.Signature)
}

// Implements "Callable".
func (self Function[A, R]) DecodeResult(data []byte) (any, error) {
	return self.Decode(data)
}

func (self Function[A, R]) msg(from Address) (TxMsg, error) {
	data, err := self.Calldata()
	if err != nil {
		return TxMsg{}, err
	}
	to := self.contract.Address
	return TxMsg{From: from, To: &to, Data: data}, nil
}

/*
Performs "eth_call" against the given block and returns the raw result. At most
one state override may be given.
*/
func (self Function[A, R]) Call(ctx context.Context, block BlockNumber, overrides ...StateOverride) (HexBytes, error) {
	trans, err := self.contract.Transport(ctx)
	if err != nil {
		return nil, err
	}

	msg, err := self.msg(ZeroAddress)
	if err != nil {
		return nil, err
	}

	out, err := EthCall(ctx, trans, msg, block, overrides...)
	if err != nil {
		return nil, errors.Wrapf(err, `failed to call %v at %v`, self.Signature(), self.contract.Address)
	}
	return out, nil
}

// Performs "eth_call" and decodes the result.
func (self Function[A, R]) Get(ctx context.Context, block BlockNumber, overrides ...StateOverride) (R, error) {
	data, err := self.Call(ctx, block, overrides...)
	if err != nil {
		var zero R
		return zero, err
	}
	return self.Decode(data)
}

/*
Estimates gas for sending this call from the given sender, multiplied by the
contract's gas buffer (1.25 by default).
*/
func (self Function[A, R]) EstimateGas(ctx context.Context, from Address, block BlockNumber) (uint64, error) {
	trans, err := self.contract.Transport(ctx)
	if err != nil {
		return 0, err
	}

	msg, err := self.msg(from)
	if err != nil {
		return 0, err
	}

	gas, err := EthEstimateGas(ctx, trans, msg, block)
	if err != nil {
		return 0, errors.Wrapf(err, `failed to estimate gas of %v at %v`, self.Signature(), self.contract.Address)
	}
	return bufferGas(gas, self.contract.gasBuffer()), nil
}

/*
Requests an access list for sending this call from the given sender against the
latest block. Returns the list and the gas used with it.
*/
func (self Function[A, R]) AccessList(ctx context.Context, from Address) (AccessList, uint64, error) {
	trans, err := self.contract.Transport(ctx)
	if err != nil {
		return nil, 0, err
	}

	msg, err := self.msg(from)
	if err != nil {
		return nil, 0, err
	}

	out, err := EthCreateAccessList(ctx, trans, msg, BlockNumberLatest)
	if err != nil {
		return nil, 0, errors.Wrapf(err, `failed to create access list for %v at %v`, self.Signature(), self.contract.Address)
	}
	return out.AccessList, uint64(out.GasUsed), nil
}

/*
Builds an unsigned transaction invoking this function from the wallet. Unset
fields of the options are filled in from the network; see "PrepareTx".
*/
func (self Function[A, R]) Prepare(ctx context.Context, wallet *Wallet, opts TxOpts) (PreparedTx, error) {
	trans, err := self.contract.Transport(ctx)
	if err != nil {
		return PreparedTx{}, err
	}

	data, err := self.Calldata()
	if err != nil {
		return PreparedTx{}, err
	}

	if opts.GasBuffer == 0 {
		opts.GasBuffer = self.contract.gasBuffer()
	}
	if opts.ChainID == 0 {
		net, err := self.contract.ResolveNetwork(ctx)
		if err == nil {
			opts.ChainID = net.ChainID
		}
	}

	to := self.contract.Address
	out, err := PrepareTx(ctx, trans, wallet, TxRequest{To: &to, Data: data}, opts)
	return out, errors.Wrapf(err, `failed to prepare %v at %v`, self.Signature(), self.contract.Address)
}

// Prepares, signs and broadcasts the call. Returns the transaction hash.
func (self Function[A, R]) Execute(ctx context.Context, wallet *Wallet, opts TxOpts) (Hash, error) {
	tx, err := self.Prepare(ctx, wallet, opts)
	if err != nil {
		return Hash{}, err
	}

	trans, err := self.contract.Transport(ctx)
	if err != nil {
		return Hash{}, err
	}

	hash, err := SendTx(ctx, trans, wallet, tx)
	if err != nil {
		return hash, err
	}

	self.contract.logger().Debug(`sent transaction`,
		zap.Stringer("hash", hash),
		zap.String("function", self.Signature()),
		zap.Stringer("to", self.contract.Address),
	)
	return hash, nil
}

func bufferGas(gas uint64, buffer float64) uint64 {
	if buffer <= 0 {
		return gas
	}
	return uint64(float64(gas) * buffer)
}
