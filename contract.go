package web3

import (
	"context"
	"reflect"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Default multiplier applied to gas estimates.
const DefaultGasBuffer = 1.25

/*
A deployed contract: an address plus routing. Embed it into a struct of
"Function" and "Event" fields and materialize the struct with "Bind":

	type Erc20 struct {
		web3.Contract
		Name      web3.Function[web3.Empty, string]
		BalanceOf web3.Function[web3.Address, *big.Int]
		Transfer  web3.Function[TransferArgs, bool]
		Transfers web3.Event[Transfer] `abi:"Transfer"`
	}

	usdt := web3.MustBind[Erc20](addr)
	balance, err := usdt.BalanceOf.MustWith(holder).Get(ctx, web3.BlockNumberLatest)

Routing, in order of precedence: ".Trans" if set, then ".Network", then the
current network of the context (see "CurrentNetwork"). A Contract is a value;
"On" and "Via" return qualified copies and never mutate shared state.
*/
type Contract struct {
	Address   Address
	Network   *Network
	Trans     Trans
	GasBuffer float64
	Logger    *zap.Logger
}

// Returns a copy routed to the given network.
func (self Contract) On(net Network) Contract {
	self.Network = &net
	self.Trans = nil
	return self
}

// Returns a copy routed through the given transport.
func (self Contract) Via(trans Trans) Contract {
	self.Trans = trans
	return self
}

// Returns a copy at another address.
func (self Contract) At(addr Address) Contract {
	self.Address = addr
	return self
}

// Resolves the transport for a request made with the given context.
func (self Contract) Transport(ctx context.Context) (Trans, error) {
	if self.Trans != nil {
		return self.Trans, nil
	}
	if self.Network != nil {
		return Dispatch(*self.Network), nil
	}
	return CurrentDispatcher(ctx)
}

/*
Resolves the network for a request made with the given context. Contracts
routed through an explicit transport without a network fall back to the
context's network, if any.
*/
func (self Contract) ResolveNetwork(ctx context.Context) (Network, error) {
	if self.Network != nil {
		return *self.Network, nil
	}
	return CurrentNetwork(ctx)
}

func (self Contract) gasBuffer() float64 {
	if self.GasBuffer > 0 {
		return self.GasBuffer
	}
	return DefaultGasBuffer
}

func (self Contract) logger() *zap.Logger { return loggerOr(self.Logger) }

// Implemented by "Function" and "Event".
type binder interface {
	bindAs(name string, contract Contract) error
	rebind(contract Contract)
}

var (
	contractType = reflect.TypeFor[Contract]()
	binderType   = reflect.TypeFor[binder]()
)

type contractField struct {
	Index    int
	Name     string
	Embedded bool
}

var contractFieldsCache sync.Map

/*
Materializes the contract struct "C" at the given address. See "Contract" for
the shape of "C". Function names default to the field name with a lower-case
first letter, event names to the field name; the tag `abi:"name"` overrides
either. Overloads are declared as separate fields sharing one tag name.
*/
func Bind[C any](addr Address) (*C, error) {
	return BindContract[C](Contract{Address: addr})
}

// Like "Bind", with full control over routing and gas settings.
func BindContract[C any](contract Contract) (*C, error) {
	out := new(C)
	err := bindContract(reflect.ValueOf(out).Elem(), contract, false)
	if err != nil {
		return nil, errors.Wrapf(err, `failed to bind %v`, reflect.TypeFor[C]())
	}
	return out, nil
}

// Like "Bind", but panics on error. Convenient for global variables.
func MustBind[C any](addr Address) *C {
	out, err := Bind[C](addr)
	if err != nil {
		panic(err)
	}
	return out
}

/*
Returns a copy of the bound contract struct, with the embedded "Contract" and
every handle routed to the given network. The original is unchanged. This is
the "Contract[Net]" qualifier.
*/
func On[C any](src *C, net Network) *C {
	return Requalify(src, func(contract Contract) Contract { return contract.On(net) })
}

// Returns a copy of the bound contract struct routed through the transport.
func Via[C any](src *C, trans Trans) *C {
	return Requalify(src, func(contract Contract) Contract { return contract.Via(trans) })
}

/*
Returns a copy of the bound contract struct with the embedded "Contract"
transformed by the function and propagated to every handle. The struct must
embed "Contract".
*/
func Requalify[C any](src *C, fun func(Contract) Contract) *C {
	out := *src
	val := reflect.ValueOf(&out).Elem()

	fields, err := contractFields(val.Type())
	if err != nil {
		panic(err)
	}

	var contract Contract
	found := false
	for _, field := range fields {
		if field.Embedded {
			contract = val.Field(field.Index).Interface().(Contract)
			found = true
			break
		}
	}
	if !found {
		panic(errors.Errorf(`%v doesn't embed web3.Contract`, val.Type()))
	}

	err = bindContract(val, fun(contract), true)
	if err != nil {
		panic(err)
	}
	return &out
}

func bindContract(val reflect.Value, contract Contract, rebind bool) error {
	fields, err := contractFields(val.Type())
	if err != nil {
		return err
	}

	for _, field := range fields {
		target := val.Field(field.Index)
		if field.Embedded {
			target.Set(reflect.ValueOf(contract))
			continue
		}

		handle := target.Addr().Interface().(binder)
		if rebind {
			handle.rebind(contract)
			continue
		}
		err := handle.bindAs(field.Name, contract)
		if err != nil {
			return errors.Wrapf(err, `failed to bind field %v`, val.Type().Field(field.Index).Name)
		}
	}
	return nil
}

func contractFields(typ reflect.Type) ([]contractField, error) {
	cached, ok := contractFieldsCache.Load(typ)
	if ok {
		return cached.([]contractField), nil
	}

	if typ.Kind() != reflect.Struct {
		return nil, errors.Errorf(`expected a contract struct, got %v`, typ)
	}

	var out []contractField
	for i := range typ.NumField() {
		field := typ.Field(i)
		if !field.IsExported() {
			continue
		}

		if field.Anonymous && field.Type == contractType {
			out = append(out, contractField{Index: i, Embedded: true})
			continue
		}

		if !reflect.PointerTo(field.Type).Implements(binderType) {
			continue
		}

		name := field.Tag.Get("abi")
		if name == "-" {
			continue
		}
		if name == "" {
			name = field.Name
			if reflect.PointerTo(field.Type).Implements(functionBinderType) {
				name = lowerFirst(name)
			}
		}
		out = append(out, contractField{Index: i, Name: name})
	}

	contractFieldsCache.Store(typ, out)
	return out, nil
}

// Distinguishes functions, whose names are camelCase by convention, from events.
type functionBinder interface {
	binder
	isFunction()
}

var functionBinderType = reflect.TypeFor[functionBinder]()
