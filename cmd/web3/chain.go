package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/purelabio/web3"
	"github.com/spf13/cobra"
)

func callCmd(root *rootOpts) *cobra.Command {
	var (
		returns string
		block   string
		from    string
	)

	cmd := &cobra.Command{
		Use:   "call <address> <signature> [args...]",
		Short: "Perform a read-only contract call",
		Long: `Encode a call from a function signature and command-line arguments,
execute it via eth_call, and decode the result.

Examples:
  web3 call 0xdAC17F958D2ee523a2206206994597C13D831ec7 'decimals()' --returns '(uint8)'
  web3 call 0xdAC17F958D2ee523a2206206994597C13D831ec7 'balanceOf(address)' 0x5754284f345afc66a98fbb0a0afe71e0f007b949 --returns '(uint256)'`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, err := web3.ParseAddress(args[0])
			if err != nil {
				return err
			}

			name, inputs, err := web3.ParseAbiSignature(args[1])
			if err != nil {
				return err
			}

			var outputs []web3.AbiType
			if returns != "" {
				_, outputs, err = web3.ParseAbiSignature("returns" + returns)
				if err != nil {
					return err
				}
			}

			vals, err := parseArgs(inputs, args[2:])
			if err != nil {
				return err
			}

			fun := web3.NewAbiFunction(name, abiParams(inputs), abiParams(outputs))
			data, err := fun.Marshal(vals...)
			if err != nil {
				return err
			}

			blockNum, err := parseBlock(block)
			if err != nil {
				return err
			}

			msg := web3.TxMsg{To: &to, Data: data}
			if from != "" {
				msg.From, err = web3.ParseAddress(from)
				if err != nil {
					return err
				}
			}

			disp, err := root.dispatcher()
			if err != nil {
				return err
			}

			ret, err := web3.EthCall(cmd.Context(), disp, msg, blockNum)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(outputs) == 0 {
				fmt.Fprintln(out, web3.HexBytes(ret))
				return nil
			}

			decoded := make([]any, len(outputs))
			ptrs := make([]any, len(outputs))
			for i := range decoded {
				ptrs[i] = &decoded[i]
			}
			err = web3.AbiUnmarshalValues(ret, outputs, ptrs...)
			if err != nil {
				return errors.Wrapf(err, `failed to decode result %v`, web3.HexBytes(ret))
			}

			for i, val := range decoded {
				fmt.Fprintf(out, "%v\t%v\n", outputs[i], formatValue(val))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&returns, "returns", "", "Output types, such as '(uint256,string)'")
	cmd.Flags().StringVar(&block, "block", web3.BlockNumberLatest, "Block number or tag")
	cmd.Flags().StringVar(&from, "from", "", "Caller address")
	return cmd
}

func formatValue(val any) string {
	switch val := val.(type) {
	case []byte:
		return web3.HexBytes(val).String()
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

func balanceCmd(root *rootOpts) *cobra.Command {
	var block string

	cmd := &cobra.Command{
		Use:   "balance <address>",
		Short: "Print the ether balance of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := web3.ParseAddress(args[0])
			if err != nil {
				return err
			}
			blockNum, err := parseBlock(block)
			if err != nil {
				return err
			}
			disp, err := root.dispatcher()
			if err != nil {
				return err
			}

			wei, err := web3.EthGetBalance(cmd.Context(), disp, addr, blockNum)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%v wei\t%v ether\n", wei, web3.WeiToEth(wei))
			return nil
		},
	}

	cmd.Flags().StringVar(&block, "block", web3.BlockNumberLatest, "Block number or tag")
	return cmd
}

func blockNumberCmd(root *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "block-number",
		Short: "Print the latest block number",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			disp, err := root.dispatcher()
			if err != nil {
				return err
			}
			num, err := web3.EthBlockNumber(cmd.Context(), disp)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), num)
			return nil
		},
	}
}

func networksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "networks",
		Short: "List known networks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(out, "NAME\tCHAIN ID\tHTTP\tWS\tBLOCK TIME")
			for _, net := range web3.Networks() {
				fmt.Fprintf(out, "%v\t%v\t%v\t%v\t%v\n", net.Name, net.ChainID, net.HttpURL, net.WsURL, net.BlockTime)
			}
			return out.Flush()
		},
	}
}
