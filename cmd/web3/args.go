package main

import (
	"math/big"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/purelabio/web3"
)

/*
Converts a command-line argument into a Go value accepted by the ABI encoder
for the given type. Arrays and tuples aren't supported.
*/
func parseArg(atype web3.AbiType, input string) (any, error) {
	switch atype.Kind {
	case web3.AbiKindBool:
		out, err := strconv.ParseBool(input)
		return out, errors.Wrapf(err, `invalid %v %q`, atype, input)

	case web3.AbiKindAddress:
		return web3.ParseAddress(input)

	case web3.AbiKindUint, web3.AbiKindInt:
		out, ok := new(big.Int).SetString(strings.ReplaceAll(input, "_", ""), 0)
		if !ok {
			return nil, errors.Errorf(`invalid %v %q`, atype, input)
		}
		return out, nil

	case web3.AbiKindDenseArray:
		if atype.IsString() {
			return input, nil
		}
		return web3.ParseHexBytes(input)

	default:
		return nil, errors.Errorf(`arguments of type %v can't be given on the command line`, atype)
	}
}

func parseArgs(types []web3.AbiType, inputs []string) ([]any, error) {
	if len(types) != len(inputs) {
		return nil, errors.Errorf(`expected %v arguments, got %v`, len(types), len(inputs))
	}

	out := make([]any, len(inputs))
	for i, input := range inputs {
		var err error
		out[i], err = parseArg(types[i], input)
		if err != nil {
			return nil, errors.Wrapf(err, `invalid argument %v`, i)
		}
	}
	return out, nil
}

func abiParams(types []web3.AbiType) []web3.AbiParam {
	out := make([]web3.AbiParam, len(types))
	for i, atype := range types {
		out[i] = web3.AbiParamOf("", atype, false)
	}
	return out
}

// Accepts "latest" and the other tags, decimal numbers, and hex quantities.
func parseBlock(input string) (web3.BlockNumber, error) {
	num, err := strconv.ParseUint(input, 10, 64)
	if err == nil {
		return num, nil
	}

	out, err := web3.EncodeBlockNumber(input)
	if err != nil {
		return nil, err
	}
	return out, nil
}
