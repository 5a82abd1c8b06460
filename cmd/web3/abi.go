package main

import (
	"fmt"
	"os"
	"slices"

	"github.com/pkg/errors"
	"github.com/purelabio/web3"
	"github.com/spf13/cobra"
)

func selectorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "selector <signature>...",
		Short: "Print 4-byte function selectors",
		Long: `Print the 4-byte selector of each function signature.

Examples:
  web3 selector 'name()' 'balanceOf(address)'
  web3 selector 'transfer(address to, uint amount)'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, arg := range args {
				name, types, err := web3.ParseAbiSignature(arg)
				if err != nil {
					return err
				}
				sel := web3.AbiSelector(name, types)
				fmt.Fprintf(cmd.OutOrStdout(), "%v\t%v\n", web3.HexBytes(sel[:]), web3.AbiSignature(name, types))
			}
			return nil
		},
	}
}

func topicCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "topic <signature>...",
		Short: "Print event topic hashes",
		Long: `Print topic0 of each event signature.

Examples:
  web3 topic 'Transfer(address,address,uint256)'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, arg := range args {
				name, types, err := web3.ParseAbiSignature(arg)
				if err != nil {
					return err
				}
				sig := web3.AbiSignature(name, types)
				fmt.Fprintf(cmd.OutOrStdout(), "%v\t%v\n", web3.Keccak256([]byte(sig)), sig)
			}
			return nil
		},
	}
}

func abiCmd() *cobra.Command {
	var contract string

	cmd := &cobra.Command{
		Use:   "abi <solc-output.json>",
		Short: "List constructors, functions, events and errors of compiled contracts",
		Long: `Read the output of "solc --combined-json=abi,bin" and list the
constructor arguments, selectors and topics of every contract.

Examples:
  web3 abi out.json
  web3 abi out.json --contract Token`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(args[0])
			if err != nil {
				return errors.WithStack(err)
			}
			defer file.Close()

			defs, err := web3.ReadContractDefs(file)
			if err != nil {
				return err
			}

			keys := make([]string, 0, len(defs))
			for key, def := range defs {
				if contract == "" || def.ContractName == contract {
					keys = append(keys, key)
				}
			}
			if len(keys) == 0 {
				return errors.Errorf(`no contract %q in %q`, contract, args[0])
			}
			slices.Sort(keys)

			out := cmd.OutOrStdout()
			for _, key := range keys {
				def := defs[key]
				fmt.Fprintf(out, "%v (%v bytes of code)\n", key, len(def.Code))
				printAbi(cmd, def.Abi)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&contract, "contract", "", "Only list the contract with this name")
	return cmd
}

func printAbi(cmd *cobra.Command, abi web3.Abi) {
	out := cmd.OutOrStdout()

	ctor, ok := abi.MaybeConstructor()
	if ok {
		fmt.Fprintf(out, "  constructor\t%v\t%v\n", web3.AbiSignature("", web3.AbiParamTypes(ctor.Inputs)), ctor.StateMutability)
	}

	for _, method := range abi {
		switch method := method.(type) {
		case web3.AbiFunction:
			fmt.Fprintf(out, "  function %v\t%v\t%v\n", web3.HexBytes(method.Selector[:]), method.Signature, method.StateMutability)
		case web3.AbiEvent:
			fmt.Fprintf(out, "  event    %v\t%v\n", method.Selector, method.Signature)
		case web3.AbiError:
			fmt.Fprintf(out, "  error    %v\t%v\n", web3.HexBytes(method.Selector[:]), method.Signature)
		}
	}
}
