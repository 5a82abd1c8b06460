package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/purelabio/web3"
	"github.com/purelabio/web3/flow"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func backfillCmd(root *rootOpts) *cobra.Command {
	var (
		addrs []string
		event string
		opts  web3.BackfillOpts
		to    uint64
		conf  uint64
	)

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Print historical logs as JSON lines",
		Long: `Sweep historical logs in windows, shrinking them when the provider
refuses a range and retrying when it rate-limits.

Examples:
  web3 backfill --event 'Transfer(address,address,uint256)' --address 0xdAC17F958D2ee523a2206206994597C13D831ec7 --from 19000000 --to 19000100 --step 20`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var filter web3.LogFilter

			for _, input := range addrs {
				addr, err := web3.ParseAddress(input)
				if err != nil {
					return err
				}
				filter.Address = append(filter.Address, addr)
			}

			if event != "" {
				name, types, err := web3.ParseAbiSignature(event)
				if err != nil {
					return err
				}
				topic0 := web3.Word(web3.Keccak256([]byte(web3.AbiSignature(name, types))))
				filter.Topics = []web3.TopicFilter{{topic0}}
			}

			if cmd.Flags().Changed("to") {
				opts.To = &to
			}
			if cmd.Flags().Changed("confirmations") {
				opts.Confirmations = &conf
			}

			disp, err := root.dispatcher()
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			for log, err := range web3.BackfillLogs(cmd.Context(), disp, filter, opts) {
				if err != nil {
					return err
				}
				err = enc.Encode(log)
				if err != nil {
					return err
				}
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVar(&addrs, "address", nil, "Emitting contract addresses")
	flags.StringVar(&event, "event", "", "Event signature, such as 'Transfer(address,address,uint256)'")
	flags.Uint64Var(&opts.From, "from", 1, "First block")
	flags.Uint64Var(&to, "to", 0, "Last block (default: confirmed tip)")
	flags.Uint64Var(&opts.Step, "step", 2000, "Blocks per request")
	flags.Uint64Var(&conf, "confirmations", web3.DefaultConfirmations, "Blocks left out below the tip")
	return cmd
}

func headsCmd(root *rootOpts) *cobra.Command {
	var (
		start   uint64
		horizon uint64
	)

	cmd := &cobra.Command{
		Use:   "heads",
		Short: "Follow the chain, printing blocks and reorgs",
		Long: `Follow the chain head until interrupted. Uses a newHeads subscription
when the network has a websocket endpoint, and polling otherwise.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			net, err := root.resolveNetwork()
			if err != nil {
				return err
			}

			cache, err := web3.NewBlockCache(256)
			if err != nil {
				return err
			}

			src := flow.NewBlockSource(net)
			src.Start = start
			src.Horizon = horizon
			src.Cache = cache

			out := cmd.OutOrStdout()
			blocks := flow.Connect(src.Blocks, flow.FuncSink(func(_ context.Context, block web3.BlockHead) error {
				return printHead(out, block)
			}))
			reorgs := flow.Connect(src.Reorgs, flow.FuncSink(func(_ context.Context, reorg flow.Reorg) error {
				_, err := fmt.Fprintf(out, "reorg\trewinding to %v\n", reorg.BlockNumber)
				return err
			}))

			web3.Logger().Info(`following chain`, zap.Stringer("network", net), zap.Bool("subscription", src.Heads))

			err = flow.Run(cmd.Context(), 0, func(co *flow.Coordinator) error {
				co.Go("blocks", src)
				co.Watch(blocks, reorgs)
				return nil
			})
			if cmd.Context().Err() != nil {
				return nil
			}
			return err
		},
	}

	cmd.Flags().Uint64Var(&start, "start", 0, "First block (default: latest)")
	cmd.Flags().Uint64Var(&horizon, "horizon", flow.DefaultReorgHorizon, "Blocks remembered for reorg detection")
	return cmd
}

func printHead(out io.Writer, block web3.BlockHead) error {
	_, err := fmt.Fprintf(out, "block\t%v\t%v\tparent %v\ttime %v\n",
		uint64(block.Number), block.Hash, block.ParentHash, uint64(block.Timestamp))
	return err
}
