// Package cmd provides CLI commands for the deck tool.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:     "deck",
	Short:   "Crewdeck - Multi-agent terminal console",
	Version: Version,
	Long: `Crewdeck (deck) runs multiple coding agents side by side in one terminal.

Each pane hosts an agent subprocess in its own working directory. Input,
output, and lifecycle commands flow through a bounded command channel, so
an unresponsive agent slows its own pane and nothing else.`,
	SilenceUsage: true,
}

// Command group IDs - used by subcommands to organize help output
const (
	GroupConsole = "console"
	GroupDiag    = "diag"
)

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: GroupConsole, Title: "Console:"},
		&cobra.Group{ID: GroupDiag, Title: "Diagnostics:"},
	)
	rootCmd.SetHelpCommandGroupID(GroupDiag)

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: DECK_CONFIG or built-in defaults)")
}

// configFile is the --config flag value, shared by all subcommands.
var configFile string

// Execute runs the root command and returns an exit code.
// The caller (main) should call os.Exit with this code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		// Errors already printed by cobra.
		return 1
	}
	return 0
}
