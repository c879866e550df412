// Package supervisor owns OS processes for pane workers: spawning the
// agent subprocess in its own process group, streaming its output lines,
// detecting exits, and terminating it gracefully (SIGTERM, grace period,
// SIGKILL).
package supervisor

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Execer creates exec.Cmd instances. The indirection lets tests spawn mock
// binaries without touching production code.
type Execer interface {
	Command(name string, args ...string) *exec.Cmd
}

// RealExecer is the production Execer backed by os/exec.
type RealExecer struct{}

// Command creates a standard exec.Cmd.
func (RealExecer) Command(name string, args ...string) *exec.Cmd {
	return exec.Command(name, args...)
}

// Config configures a Supervisor.
type Config struct {
	// Command and Args are the agent program run in every pane.
	Command string
	Args    []string

	// GracePeriod is the window between SIGTERM and SIGKILL on stop.
	GracePeriod time.Duration

	// OnOutput receives each line the worker writes to stdout or stderr.
	// Called from the worker's reader goroutines; must not block for long.
	OnOutput func(paneID, line string)

	// OnExit is called when a worker exits without Stop having been
	// requested, i.e. a crash from the orchestrator's point of view.
	OnExit func(paneID string, err error)

	// Execer defaults to RealExecer.
	Execer Execer

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// scanBufSize bounds a single output line. Agents paste big blobs.
const scanBufSize = 1 << 20

type proc struct {
	cmd      *exec.Cmd
	pid      int
	done     chan struct{}
	stopping bool // guarded by Supervisor.mu
}

// Supervisor spawns and terminates one subprocess per pane.
type Supervisor struct {
	cfg Config
	log *slog.Logger

	mu    sync.Mutex
	procs map[string]*proc
}

// New creates a Supervisor.
func New(cfg Config) *Supervisor {
	if cfg.Execer == nil {
		cfg.Execer = RealExecer{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 5 * time.Second
	}
	return &Supervisor{
		cfg:   cfg,
		log:   cfg.Logger,
		procs: make(map[string]*proc),
	}
}

// Start spawns the agent process for a pane in workingDir with the given
// extra environment. Returns the OS pid. A pane can have at most one live
// process.
func (s *Supervisor) Start(paneID, workingDir string, env []string) (int, error) {
	// Reserve the pane before spawning, so two racing starts cannot both
	// pass the duplicate check and leak an untracked process.
	p := &proc{done: make(chan struct{})}
	s.mu.Lock()
	if _, exists := s.procs[paneID]; exists {
		s.mu.Unlock()
		return 0, fmt.Errorf("pane %s already has a running process", paneID)
	}
	s.procs[paneID] = p
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		delete(s.procs, paneID)
		s.mu.Unlock()
	}

	cmd := s.cfg.Execer.Command(s.cfg.Command, s.cfg.Args...)
	cmd.Dir = workingDir
	cmd.Env = append(os.Environ(), env...)
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		release()
		return 0, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		release()
		return 0, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		release()
		return 0, fmt.Errorf("spawning %s: %w", s.cfg.Command, err)
	}

	s.mu.Lock()
	p.cmd = cmd
	p.pid = cmd.Process.Pid
	s.mu.Unlock()

	go s.streamOutput(paneID, stdout)
	go s.streamOutput(paneID, stderr)
	go s.reap(paneID, p)

	s.log.Info("worker process started", "pane", paneID, "pid", p.pid, "dir", workingDir)
	return p.pid, nil
}

func (s *Supervisor) streamOutput(paneID string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), scanBufSize)
	for scanner.Scan() {
		if s.cfg.OnOutput != nil {
			s.cfg.OnOutput(paneID, scanner.Text())
		}
	}
}

// reap waits for the process and reports unexpected exits.
func (s *Supervisor) reap(paneID string, p *proc) {
	err := p.cmd.Wait()
	close(p.done)

	s.mu.Lock()
	stopping := p.stopping
	if s.procs[paneID] == p {
		delete(s.procs, paneID)
	}
	s.mu.Unlock()

	if stopping {
		s.log.Debug("worker process stopped", "pane", paneID, "pid", p.pid)
		return
	}

	s.log.Warn("worker process exited unexpectedly", "pane", paneID, "pid", p.pid, "err", err)
	if s.cfg.OnExit != nil {
		if err == nil {
			err = fmt.Errorf("worker exited unexpectedly")
		}
		s.cfg.OnExit(paneID, err)
	}
}

// Stop terminates a pane's process: SIGTERM to the process group, then
// SIGKILL after the grace period. Returns ErrNotRunning-style error when
// no process exists for the pane.
func (s *Supervisor) Stop(paneID string) error {
	s.mu.Lock()
	p, ok := s.procs[paneID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("no process for pane %s", paneID)
	}
	if p.cmd == nil {
		// Reserved but not yet spawned; there is no pid to signal.
		s.mu.Unlock()
		return fmt.Errorf("pane %s is still spawning", paneID)
	}
	p.stopping = true
	s.mu.Unlock()

	terminateProcess(p.cmd, p.pid)

	select {
	case <-p.done:
		return nil
	case <-time.After(s.cfg.GracePeriod):
	}

	s.log.Warn("worker ignored SIGTERM, killing", "pane", paneID, "pid", p.pid)
	killProcess(p.cmd, p.pid)

	select {
	case <-p.done:
	case <-time.After(time.Second):
		return fmt.Errorf("pane %s pid %d did not exit after SIGKILL", paneID, p.pid)
	}
	return nil
}

// Running reports whether the pane has a live process.
func (s *Supervisor) Running(paneID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.procs[paneID]
	return ok
}

// Pid returns the pane's process id if running.
func (s *Supervisor) Pid(paneID string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[paneID]
	if !ok || p.cmd == nil {
		return 0, false
	}
	return p.pid, true
}

// StopAll terminates every tracked process, best effort.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	panes := make([]string, 0, len(s.procs))
	for paneID := range s.procs {
		panes = append(panes, paneID)
	}
	s.mu.Unlock()

	for _, paneID := range panes {
		if err := s.Stop(paneID); err != nil {
			s.log.Warn("stopping worker failed", "pane", paneID, "err", err)
		}
	}
}
