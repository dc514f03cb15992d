package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	tmflags "github.com/tendermint/tendermint/libs/cli/flags"
	"github.com/tendermint/tendermint/libs/log"
	tmos "github.com/tendermint/tendermint/libs/os"

	"github.com/rollkit/rollcore/config"
	"github.com/rollkit/rollcore/node"
	"github.com/rollkit/rollcore/rpc"
	"github.com/rollkit/rollcore/types"
)

// NewRunNodeCmd returns the command that allows the CLI to start a node.
func NewRunNodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "start",
		Aliases: []string{"node", "run"},
		Short:   "Run the rollup node",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := parseConfig(viper.GetViper())
			if err != nil {
				return err
			}

			// create logger
			logger := log.NewTMLogger(log.NewSyncWriter(os.Stdout))
			logger, err = tmflags.ParseLogLevel(viper.GetString("log_level"), logger, defaultLogLevel)
			if err != nil {
				return fmt.Errorf("failed to parse log level: %w", err)
			}

			genesis, err := types.GenesisDocFromFile(conf.GenesisFile())
			if err != nil {
				return err
			}

			rollnode, err := node.NewNode(context.Background(), conf, genesis, logger)
			if err != nil {
				return fmt.Errorf("failed to create new rollup node: %w", err)
			}
			if err := rollnode.Start(); err != nil {
				return fmt.Errorf("failed to start node: %w", err)
			}

			server := rpc.NewServer(rollnode, conf.RPC, logger.With("module", "rpc"))
			if err := server.Start(); err != nil {
				_ = rollnode.Stop()
				return err
			}
			logger.Info("Started node", "chain_id", genesis.ChainID, "rpc", conf.RPC.ListenAddress)

			// Stop upon receiving SIGTERM or CTRL-C.
			tmos.TrapSignal(logger, func() {
				if server.IsRunning() {
					if err := server.Stop(); err != nil {
						logger.Error("unable to stop the RPC server", "error", err)
					}
				}
				if rollnode.IsRunning() {
					if err := rollnode.Stop(); err != nil {
						logger.Error("unable to stop the node", "error", err)
					}
				}
			})
			// Run forever.
			select {}
		},
	}

	config.AddFlags(cmd)
	return cmd
}

func parseConfig(v *viper.Viper) (config.NodeConfig, error) {
	conf := config.DefaultNodeConfig()
	if err := conf.GetViperConfig(v); err != nil {
		return conf, err
	}
	return conf, conf.ValidateBasic()
}
