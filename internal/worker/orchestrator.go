// Package worker orchestrates the lifecycle of one agent subprocess per
// pane: spawning through the process supervisor, binding a transport
// connection, relaying input and output, and tearing down. All status
// transitions for a pane funnel through this package's guarded registry;
// commands travel through the bounded command channel so per-pane ordering
// holds end to end.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/crewdeck/crewdeck/internal/config"
	"github.com/crewdeck/crewdeck/internal/ipc"
	"github.com/crewdeck/crewdeck/internal/transport"
)

// Sender dispatches session commands through the command channel. Satisfied
// by *channel.Channel; faked in tests.
type Sender interface {
	Send(ctx context.Context, cmd ipc.SessionCommand) ipc.SessionResponse
	SendWithRetry(ctx context.Context, cmd ipc.SessionCommand) ipc.SessionResponse
}

// ProcessSupervisor is the external collaborator that owns OS processes.
// Satisfied by *supervisor.Supervisor.
type ProcessSupervisor interface {
	Start(paneID, workingDir string, env []string) (int, error)
	Stop(paneID string) error
	Running(paneID string) bool
}

// Env var names passed to every spawned agent process.
const (
	EnvPaneID = "DECK_PANE_ID"
	EnvSocket = "DECK_SOCKET"
)

// entry is one pane's registry record. Mutated only under Orchestrator.mu.
type entry struct {
	paneID       string
	pid          int
	sessionID    string
	status       Status
	workingDir   string
	startedAt    time.Time
	lastActivity time.Time
	restartCount int
	failures     int

	buf   *Buffer
	relay *Relay
	conn  transport.Conn
}

// system publishes a timestamped console message through the pane's relay,
// so failures are visible in the pane rather than silently dropped.
func (e *entry) system(format string, args ...any) {
	line := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	_ = e.relay.Publish(context.Background(), line)
}

// Info is a read-only snapshot of one pane's worker.
type Info struct {
	PaneID       string
	PID          int
	SessionID    string
	Status       Status
	WorkingDir   string
	StartedAt    time.Time
	LastActivity time.Time
	RestartCount int
}

// Orchestrator is the per-pane lifecycle state machine. It is the only
// writer of the worker registry; status queries take a read lock.
type Orchestrator struct {
	cfg      config.Config
	sup      ProcessSupervisor
	dial     transport.Dialer
	log      *slog.Logger
	restarts *restartTracker

	mu      sync.RWMutex
	sender  Sender
	workers map[string]*entry
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator's logger.
func WithLogger(log *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// NewOrchestrator creates an orchestrator. BindSender must be called with
// the command channel before workers are started; the two are constructed
// in sequence because the channel's handler is this orchestrator.
func NewOrchestrator(cfg config.Config, sup ProcessSupervisor, dial transport.Dialer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		sup:      sup,
		dial:     dial,
		log:      slog.Default(),
		restarts: newRestartTracker(cfg.MaxRestartAttempts, cfg.RestartCooldown),
		workers:  make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// BindSender attaches the command channel used for dispatch.
func (o *Orchestrator) BindSender(s Sender) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sender = s
}

func (o *Orchestrator) getSender() Sender {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.sender
}

// StartWorker spawns the agent process for a pane, establishes its
// transport connection, and asynchronously confirms the session through
// the command channel. A pane with an existing entry is rejected, not
// queued: concurrent double-starts fail cleanly, and a Crashed pane must
// be restarted or stopped explicitly.
func (o *Orchestrator) StartWorker(paneID, workingDir string, sink OutputSink) error {
	o.mu.Lock()
	if existing, ok := o.workers[paneID]; ok {
		status := existing.status
		o.mu.Unlock()
		return fmt.Errorf("pane %s already has a worker (status %s)", paneID, status)
	}
	e := &entry{
		paneID:       paneID,
		status:       StatusStarting,
		workingDir:   workingDir,
		startedAt:    time.Now(),
		lastActivity: time.Now(),
		buf:          NewBuffer(o.cfg.MaxBufferLines),
	}
	e.relay = NewRelay(e.buf, sink, o.cfg.RefreshInterval)
	o.workers[paneID] = e
	o.mu.Unlock()

	pid, err := o.sup.Start(paneID, workingDir, o.agentEnv(paneID))
	if err != nil {
		o.removeEntry(paneID)
		return fmt.Errorf("starting worker for pane %s: %w", paneID, err)
	}

	conn, err := o.dialWorker(paneID)
	if err != nil {
		if stopErr := o.sup.Stop(paneID); stopErr != nil {
			o.log.Warn("stopping worker after failed handshake", "pane", paneID, "err", stopErr)
		}
		o.removeEntry(paneID)
		return fmt.Errorf("connecting to worker for pane %s: %w", paneID, err)
	}

	o.mu.Lock()
	if cur, ok := o.workers[paneID]; !ok || cur != e || e.status != StatusStarting {
		// Stopped (or crashed) while the dial was in flight; the entry is
		// gone and nothing else will ever close this conn.
		o.mu.Unlock()
		_ = conn.Close()
		if o.sup.Running(paneID) {
			_ = o.sup.Stop(paneID)
		}
		return fmt.Errorf("pane %s was stopped during startup", paneID)
	}
	e.pid = pid
	e.conn = conn
	o.mu.Unlock()
	e.system("worker started (pid %d)", pid)

	go o.confirmStart(paneID, workingDir)
	return nil
}

func (o *Orchestrator) agentEnv(paneID string) []string {
	return []string{
		EnvPaneID + "=" + paneID,
		EnvSocket + "=" + transport.SocketPath(o.cfg.RuntimeDir, paneID),
	}
}

// dialWorker connects to the pane's socket, retrying while the freshly
// spawned agent creates its listener. Bounded by the request timeout.
func (o *Orchestrator) dialWorker(paneID string) (transport.Conn, error) {
	deadline := time.Now().Add(o.cfg.RequestTimeout)
	var lastErr error
	for {
		ctx, cancel := context.WithDeadline(context.Background(), deadline)
		conn, err := o.dial(ctx, paneID)
		cancel()
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if time.Now().After(deadline) {
			return nil, lastErr
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// confirmStart issues the StartSession command and advances the pane to
// Running on confirmation. A failed confirmation marks the pane Crashed;
// it does not linger half-started.
func (o *Orchestrator) confirmStart(paneID, workingDir string) {
	sender := o.getSender()
	if sender == nil {
		o.log.Error("orchestrator has no command channel bound", "pane", paneID)
		return
	}
	resp := sender.SendWithRetry(context.Background(), ipc.StartSession(paneID, workingDir))

	o.mu.Lock()
	e, ok := o.workers[paneID]
	if !ok || e.status != StatusStarting {
		// Stopped or crashed while we waited; the late response is moot.
		o.mu.Unlock()
		return
	}
	if resp.Type == ipc.RespSessionStarted {
		o.transition(e, StatusRunning)
		e.sessionID = resp.SessionID
		if resp.ProcessID != 0 {
			e.pid = resp.ProcessID
		}
		o.mu.Unlock()
		e.system("session %s running", resp.SessionID)
		o.log.Info("session running", "pane", paneID, "session", resp.SessionID)
		return
	}

	o.transition(e, StatusCrashed)
	o.mu.Unlock()
	e.system("session start failed: %s", resp.Message)
	o.log.Error("session start failed", "pane", paneID, "err", resp.Message)
	if err := o.sup.Stop(paneID); err != nil {
		o.log.Debug("stopping worker after failed session start", "pane", paneID, "err", err)
	}
}

// SendInput delivers user input to a Running pane. The input is echoed
// into the pane buffer immediately so the UI never waits on the round
// trip; dispatch happens asynchronously. Delivery failures are logged and
// counted — only repeated failure flips the pane to Unhealthy.
func (o *Orchestrator) SendInput(paneID, text string) error {
	o.mu.Lock()
	e, ok := o.workers[paneID]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("pane %s: %w", paneID, ipc.ErrSessionNotFound)
	}
	// Unhealthy panes still take input: a successful delivery is what
	// heals them.
	if e.status != StatusRunning && e.status != StatusUnhealthy {
		o.mu.Unlock()
		return fmt.Errorf("pane %s is %s, input requires a running session", paneID, e.status)
	}
	e.lastActivity = time.Now()
	o.mu.Unlock()

	_ = e.relay.Publish(context.Background(), "> "+text)

	go func() {
		sender := o.getSender()
		if sender == nil {
			return
		}
		resp := sender.SendWithRetry(context.Background(), ipc.SendInput(paneID, text))
		if resp.IsError() {
			o.noteInputFailure(paneID, resp.Message)
		} else {
			o.clearInputFailures(paneID)
		}
	}()
	return nil
}

func (o *Orchestrator) noteInputFailure(paneID, message string) {
	o.mu.Lock()
	e, ok := o.workers[paneID]
	if !ok {
		o.mu.Unlock()
		return
	}
	e.failures++
	failures := e.failures
	unhealthy := failures >= o.cfg.UnhealthyAfter && e.status == StatusRunning
	if unhealthy {
		o.transition(e, StatusUnhealthy)
	}
	o.mu.Unlock()

	e.system("input delivery failed: %s", message)
	o.log.Warn("input delivery failed", "pane", paneID, "failures", failures, "err", message)
	if unhealthy {
		e.system("pane marked unhealthy after %d consecutive failures", o.cfg.UnhealthyAfter)
	}
}

func (o *Orchestrator) clearInputFailures(paneID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.workers[paneID]
	if !ok {
		return
	}
	e.failures = 0
	if e.status == StatusUnhealthy {
		o.transition(e, StatusRunning)
	}
}

// StopWorker tears down a pane: graceful process termination through the
// supervisor, transport release, a final termination message, and removal
// of the entry. Valid from any state.
func (o *Orchestrator) StopWorker(paneID string) error {
	o.mu.Lock()
	e, ok := o.workers[paneID]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("pane %s: %w", paneID, ipc.ErrSessionNotFound)
	}
	if e.status == StatusStopping {
		o.mu.Unlock()
		return nil
	}
	o.transition(e, StatusStopping)
	hasConn := e.conn != nil
	o.mu.Unlock()

	// Give the agent a chance to wind down cleanly before signaling.
	if sender := o.getSender(); sender != nil && hasConn {
		if resp := sender.Send(context.Background(), ipc.StopSession(paneID)); resp.IsError() {
			o.log.Debug("stop command not acknowledged", "pane", paneID, "err", resp.Message)
		}
	}

	o.mu.Lock()
	conn := e.conn
	e.conn = nil
	o.mu.Unlock()

	if o.sup.Running(paneID) {
		if err := o.sup.Stop(paneID); err != nil {
			o.log.Warn("terminating worker", "pane", paneID, "err", err)
		}
	}
	if conn != nil {
		_ = conn.Close()
	}

	e.system("session terminated")
	e.relay.Close()

	o.mu.Lock()
	delete(o.workers, paneID)
	o.mu.Unlock()
	o.restarts.forget(paneID)

	o.log.Info("worker stopped", "pane", paneID)
	return nil
}

// CleanupAllWorkers stops every pane, best effort. Used at console
// shutdown; one pane failing to stop never blocks the others.
func (o *Orchestrator) CleanupAllWorkers() {
	o.mu.RLock()
	panes := make([]string, 0, len(o.workers))
	for paneID := range o.workers {
		panes = append(panes, paneID)
	}
	o.mu.RUnlock()

	for _, paneID := range panes {
		if err := o.StopWorker(paneID); err != nil {
			o.log.Warn("cleanup: stopping worker failed", "pane", paneID, "err", err)
		}
	}
}

// RestartWorker requests an explicit session restart through the command
// channel. Bounded by the per-pane restart budget and cooldown; crashed
// panes are only ever revived this way.
func (o *Orchestrator) RestartWorker(paneID string) (string, error) {
	sender := o.getSender()
	if sender == nil {
		return "", fmt.Errorf("no command channel bound")
	}
	resp := sender.SendWithRetry(context.Background(), ipc.RestartSession(paneID))
	if resp.IsError() {
		return "", fmt.Errorf("restarting pane %s: %s", paneID, resp.Message)
	}
	return resp.SessionID, nil
}

// HandleProcessOutput feeds one subprocess output line into the pane's
// relay. Wired as the supervisor's OnOutput callback.
func (o *Orchestrator) HandleProcessOutput(paneID, line string) {
	o.mu.RLock()
	e, ok := o.workers[paneID]
	o.mu.RUnlock()
	if !ok {
		return
	}
	_ = e.relay.Publish(context.Background(), line)
}

// HandleProcessExit marks a pane Crashed on unexpected subprocess exit.
// Wired as the supervisor's OnExit callback. No auto-restart: recovery is
// an explicit RestartSession.
func (o *Orchestrator) HandleProcessExit(paneID string, err error) {
	o.mu.Lock()
	e, ok := o.workers[paneID]
	if !ok || e.status == StatusStopping {
		o.mu.Unlock()
		return
	}
	o.transition(e, StatusCrashed)
	conn := e.conn
	e.conn = nil
	o.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	e.system("worker crashed: %v", err)
	o.log.Error("worker crashed", "pane", paneID, "err", err)
}

// transition applies a guarded status change. Callers hold o.mu.
func (o *Orchestrator) transition(e *entry, to Status) bool {
	if !canTransition(e.status, to) {
		o.log.Warn("invalid status transition", "pane", e.paneID, "from", e.status, "to", to)
		return false
	}
	o.log.Debug("status transition", "pane", e.paneID, "from", e.status, "to", to)
	e.status = to
	return true
}

func (o *Orchestrator) removeEntry(paneID string) {
	o.mu.Lock()
	e, ok := o.workers[paneID]
	delete(o.workers, paneID)
	o.mu.Unlock()
	if ok {
		e.relay.Close()
	}
}

// IsWorkerActive reports whether the pane has a starting, running, or
// unhealthy worker.
func (o *Orchestrator) IsWorkerActive(paneID string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	e, ok := o.workers[paneID]
	return ok && e.status.Active()
}

// GetWorkerStatus returns the pane's status, or StatusNotStarted when no
// entry exists.
func (o *Orchestrator) GetWorkerStatus(paneID string) (Status, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if e, ok := o.workers[paneID]; ok {
		return e.status, true
	}
	return StatusNotStarted, false
}

// GetActiveWorkerCount returns the number of active panes.
func (o *Orchestrator) GetActiveWorkerCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	n := 0
	for _, e := range o.workers {
		if e.status.Active() {
			n++
		}
	}
	return n
}

// GetAllWorkers returns snapshots of every known pane.
func (o *Orchestrator) GetAllWorkers() []Info {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]Info, 0, len(o.workers))
	for _, e := range o.workers {
		out = append(out, Info{
			PaneID:       e.paneID,
			PID:          e.pid,
			SessionID:    e.sessionID,
			Status:       e.status,
			WorkingDir:   e.workingDir,
			StartedAt:    e.startedAt,
			LastActivity: e.lastActivity,
			RestartCount: e.restartCount,
		})
	}
	return out
}

// GetWorkerOutput returns the pane's buffered output.
func (o *Orchestrator) GetWorkerOutput(paneID string) (string, bool) {
	o.mu.RLock()
	e, ok := o.workers[paneID]
	o.mu.RUnlock()
	if !ok {
		return "", false
	}
	return e.buf.String(), true
}
