/*
Command-line companion of the "web3" package: computes selectors and topics,
inspects compiled ABIs, performs read-only calls, and follows chains and logs.

	web3 selector 'transfer(address,uint256)'
	web3 --network ethereum call 0xdAC17F958D2ee523a2206206994597C13D831ec7 'symbol()' --returns '(string)'
	web3 --network base heads
*/
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
	"github.com/purelabio/web3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type rootOpts struct {
	config    string
	env       []string
	network   string
	logLevel  string
	logFormat string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd().ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	opts := &rootOpts{}

	cmd := &cobra.Command{
		Use:           "web3",
		Short:         "Ethereum JSON-RPC and ABI toolkit",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.setup()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = web3.Logger().Sync()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.config, "config", "", "YAML file with additional networks")
	flags.StringSliceVar(&opts.env, "env", []string{".env"}, "Env files to load")
	flags.StringVarP(&opts.network, "network", "n", "ethereum", "Network name or chain id")
	flags.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	flags.StringVar(&opts.logFormat, "log-format", "console", "Log format: console|json")

	cmd.AddCommand(
		selectorCmd(),
		topicCmd(),
		abiCmd(),
		callCmd(opts),
		balanceCmd(opts),
		blockNumberCmd(opts),
		backfillCmd(opts),
		headsCmd(opts),
		networksCmd(),
	)
	return cmd
}

func (self *rootOpts) setup() error {
	logger, err := newLogger(self.logLevel, self.logFormat)
	if err != nil {
		return err
	}
	web3.SetLogger(logger)

	err = web3.LoadEnv(self.env...)
	if err != nil {
		return err
	}

	if self.config != "" {
		nets, err := web3.LoadNetworks(self.config)
		if err != nil {
			return err
		}
		web3.Register(nets...)
		logger.Debug(`loaded networks`, zap.String("path", self.config), zap.Int("count", len(nets)))
	}
	return nil
}

// Resolves "--network" by name, then by chain id, applying "ALCHEMY_KEY".
func (self *rootOpts) resolveNetwork() (web3.Network, error) {
	net, ok := web3.NetworkByName(self.network)
	if !ok {
		id, err := strconv.ParseUint(self.network, 0, 64)
		if err == nil {
			net, ok = web3.NetworkByChainID(id)
		}
	}
	if !ok {
		return net, errors.Errorf(`unknown network %q, see "web3 networks"`, self.network)
	}
	return net.FromEnv(), nil
}

func (self *rootOpts) dispatcher() (*web3.Dispatcher, error) {
	net, err := self.resolveNetwork()
	if err != nil {
		return nil, err
	}
	return web3.Dispatch(net), nil
}

func newLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, `invalid log level %q`, level)
	}

	var conf zap.Config
	switch format {
	case "json":
		conf = zap.NewProductionConfig()
	case "console":
		conf = zap.NewDevelopmentConfig()
		conf.DisableStacktrace = true
	default:
		return nil, errors.Errorf(`invalid log format %q`, format)
	}
	conf.Level = zap.NewAtomicLevelAt(lvl)

	out, err := conf.Build()
	return out, errors.Wrap(err, `failed to build logger`)
}
