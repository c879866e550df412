package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Build metadata, injected via -ldflags at release time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var versionCmd = &cobra.Command{
	Use:     "version",
	Short:   "Print version and build information",
	GroupID: GroupDiag,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("deck %s (commit %s, built %s)\n", Version, Commit, Date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
