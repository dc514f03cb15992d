package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tendermint/tendermint/libs/cli"

	cmd "github.com/rollkit/rollcore/cmd/rollupd/commands"
)

func main() {
	rootCmd := cmd.RootCmd
	rootCmd.AddCommand(
		cmd.NewInitCmd(),
		cmd.NewRunNodeCmd(),
		cmd.VersionCmd,
	)

	executor := cli.PrepareBaseCmd(rootCmd, "RC", os.ExpandEnv(filepath.Join("$HOME", ".rollcore")))
	if err := executor.Execute(); err != nil {
		// Print to stderr and exit with error
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
