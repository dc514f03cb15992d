package commands

import (
	"github.com/spf13/cobra"
)

const defaultLogLevel = "info"

func init() {
	registerFlagsRootCmd(RootCmd)
}

// registerFlagsRootCmd registers the flags for the root command
func registerFlagsRootCmd(cmd *cobra.Command) {
	cmd.PersistentFlags().String("log_level", defaultLogLevel, "set the log level; default is info. other options include debug, info, error, none")
}

// RootCmd is the root command for rollupd
var RootCmd = &cobra.Command{
	Use:   "rollupd",
	Short: "Transaction rollup node: sequencing, parallel execution and settlement of account based transactions.",
	Long: `
rollupd sequences submitted transactions, executes them against a locked account ledger and
exports contiguous ranges of the processed log for settlement.
If the --home flag is not specified, the rollupd command will use the folder "~/.rollcore" to
store its genesis document and data.
`,
}
