package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/crewdeck/crewdeck/internal/channel"
	"github.com/crewdeck/crewdeck/internal/config"
	"github.com/crewdeck/crewdeck/internal/console"
	"github.com/crewdeck/crewdeck/internal/supervisor"
	"github.com/crewdeck/crewdeck/internal/telemetry"
	"github.com/crewdeck/crewdeck/internal/transport"
	"github.com/crewdeck/crewdeck/internal/ui"
	"github.com/crewdeck/crewdeck/internal/worker"
)

var runCmd = &cobra.Command{
	Use:     "run [dir ...]",
	Short:   "Open the console with one pane per directory",
	GroupID: GroupConsole,
	Long: `Run opens the interactive console. Each directory argument becomes a
pane running one agent in that directory; with no arguments a single pane
opens in the current directory.`,
	RunE: runConsole,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runConsole(cmd *cobra.Command, args []string) error {
	if !ui.IsTerminal() {
		return fmt.Errorf("the console needs a terminal; stdout is not a TTY")
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	specs, err := paneSpecs(args)
	if err != nil {
		return err
	}

	if err := transport.EnsureRuntimeDir(cfg.RuntimeDir); err != nil {
		return fmt.Errorf("preparing runtime dir: %w", err)
	}

	// One console per runtime dir. The lock closes the TOCTOU window two
	// concurrent starts would otherwise race through.
	consoleLock := flock.New(filepath.Join(cfg.RuntimeDir, "deck.lock"))
	locked, err := consoleLock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring console lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another deck console is already using %s", cfg.RuntimeDir)
	}
	defer func() { _ = consoleLock.Unlock() }()

	log, logClose, err := openLogger(cfg.RuntimeDir)
	if err != nil {
		return err
	}
	defer logClose()

	// Telemetry is opt-in and best-effort; a dead collector endpoint must
	// not keep the console from opening.
	provider, err := telemetry.Init(context.Background(), "crewdeck", Version)
	if err != nil {
		log.Warn("telemetry disabled", "err", err)
	}
	if provider != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := provider.Shutdown(ctx); err != nil {
				log.Warn("telemetry shutdown", "err", err)
			}
		}()
	}

	// The supervisor's callbacks close over orch, which in turn needs the
	// supervisor; declare first, construct in dependency order.
	var orch *worker.Orchestrator
	sup := supervisor.New(supervisor.Config{
		Command:     cfg.AgentCommand,
		Args:        cfg.AgentArgs,
		GracePeriod: cfg.StopGracePeriod,
		Logger:      log,
		OnOutput: func(paneID, line string) {
			orch.HandleProcessOutput(paneID, line)
		},
		OnExit: func(paneID string, err error) {
			orch.HandleProcessExit(paneID, err)
		},
	})

	dialer := func(ctx context.Context, paneID string) (transport.Conn, error) {
		return transport.Dial(ctx, transport.SocketPath(cfg.RuntimeDir, paneID))
	}

	orch = worker.NewOrchestrator(cfg, sup, dialer, worker.WithLogger(log))

	ch := channel.New(cfg, orch.HandleCommand,
		channel.WithLogger(log),
		channel.WithMetrics(channel.NewMetrics()),
	)
	if err := ch.Start(); err != nil {
		return fmt.Errorf("starting command channel: %w", err)
	}
	defer ch.Stop()
	orch.BindSender(ch)

	log.Info("console starting",
		"panes", len(specs),
		"agent", cfg.AgentCommand,
		"capacity", cfg.ChannelCapacity,
		"policy", cfg.BackpressurePolicy,
	)

	defer orch.CleanupAllWorkers()
	return console.New(orch, specs).Run()
}

// paneSpecs derives pane IDs and working directories from the run args.
// Directories must exist; duplicate directories get distinct panes.
func paneSpecs(args []string) ([]console.PaneSpec, error) {
	dirs := args
	if len(dirs) == 0 {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolving working directory: %w", err)
		}
		dirs = []string{cwd}
	}

	specs := make([]console.PaneSpec, 0, len(dirs))
	seen := make(map[string]int)
	for _, dir := range dirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", dir, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("pane directory %s: %w", dir, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("pane path %s is not a directory", dir)
		}

		id := paneID(abs)
		seen[id]++
		if n := seen[id]; n > 1 {
			id = fmt.Sprintf("%s-%d", id, n)
		}
		specs = append(specs, console.PaneSpec{ID: id, WorkingDir: abs})
	}
	return specs, nil
}

// paneID names a pane after its directory, normalized for socket paths.
func paneID(dir string) string {
	base := filepath.Base(dir)
	base = strings.ToLower(strings.ReplaceAll(base, " ", "-"))
	if base == "" || base == "/" || base == "." {
		return "pane"
	}
	return base
}

// openLogger writes structured logs to a file in the runtime dir; stdout
// belongs to the TUI while the console runs.
func openLogger(runtimeDir string) (*slog.Logger, func(), error) {
	path := filepath.Join(runtimeDir, "deck.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	level := slog.LevelInfo
	if v := os.Getenv("DECK_LOG_LEVEL"); v != "" {
		if err := level.UnmarshalText([]byte(v)); err != nil {
			level = slog.LevelInfo
		}
	}

	var w io.Writer = f
	log := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	return log, func() { _ = f.Close() }, nil
}
