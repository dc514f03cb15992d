package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rollkit/rollcore/config"
)

// GitSHA is set at build time
var GitSHA string

// VersionCmd prints version info.
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version info",
	RunE: func(cmd *cobra.Command, args []string) error {
		sha := GitSHA
		if sha == "" {
			sha = "unknown"
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 0, 2, ' ', 0)
		fmt.Fprintf(w, "\nrollupd version:\t%v\n", config.Version)
		fmt.Fprintf(w, "rollupd git sha:\t%v\n", sha)
		fmt.Fprintln(w, "")
		return w.Flush()
	},
}
