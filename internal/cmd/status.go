package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/crewdeck/crewdeck/internal/config"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show console and pane status for the runtime dir",
	GroupID: GroupDiag,
	RunE:    showStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func showStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "runtime dir:  %s\n", cfg.RuntimeDir)
	fmt.Fprintf(out, "agent:        %s %s\n", cfg.AgentCommand, strings.Join(cfg.AgentArgs, " "))
	fmt.Fprintf(out, "channel:      capacity %d, threshold %d, policy %s\n",
		cfg.ChannelCapacity, cfg.BackpressureThreshold, cfg.BackpressurePolicy)

	// Probe the console lock: if we can take it, nothing is running.
	consoleLock := flock.New(filepath.Join(cfg.RuntimeDir, "deck.lock"))
	locked, err := consoleLock.TryLock()
	switch {
	case err != nil:
		fmt.Fprintf(out, "console:      unknown (%v)\n", err)
	case locked:
		_ = consoleLock.Unlock()
		fmt.Fprintln(out, "console:      not running")
	default:
		fmt.Fprintln(out, "console:      running")
	}

	sockets, err := paneSockets(cfg.RuntimeDir)
	if err != nil {
		return err
	}
	if len(sockets) == 0 {
		fmt.Fprintln(out, "panes:        none")
		return nil
	}
	fmt.Fprintf(out, "panes:        %d\n", len(sockets))
	for _, s := range sockets {
		fmt.Fprintf(out, "  %s\n", s)
	}
	return nil
}

// paneSockets lists the pane IDs with a socket in the runtime dir.
func paneSockets(runtimeDir string) ([]string, error) {
	entries, err := os.ReadDir(runtimeDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading runtime dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), ".sock"); ok {
			out = append(out, name)
		}
	}
	return out, nil
}
