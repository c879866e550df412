package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/crewdeck/crewdeck/internal/ipc"
	"github.com/crewdeck/crewdeck/internal/transport"
)

// HandleCommand executes one session command. It runs on the channel's
// single dispatch goroutine, so commands for the same pane are serialized
// by construction. It must never call back into the command channel:
// restarts in particular are executed inline over the transport rather
// than re-queued, or the dispatch loop would deadlock on itself.
func (o *Orchestrator) HandleCommand(ctx context.Context, cmd ipc.SessionCommand) ipc.SessionResponse {
	switch cmd.Type {
	case ipc.CmdHealthCheck:
		return o.handleHealthCheck(ctx, cmd)
	case ipc.CmdRequestOutput:
		return o.handleRequestOutput(cmd)
	case ipc.CmdRestartSession:
		return o.handleRestart(ctx, cmd)
	case ipc.CmdStartSession, ipc.CmdStopSession, ipc.CmdSendInput:
		return o.forward(ctx, cmd)
	default:
		return ipc.ErrorResponse(cmd.PaneID, fmt.Sprintf("unknown command type %q", cmd.Type))
	}
}

// handleHealthCheck reports pane health without touching the agent unless
// the pane looks alive locally. The system pane is the channel itself: a
// response at all means the dispatch loop is consuming.
func (o *Orchestrator) handleHealthCheck(ctx context.Context, cmd ipc.SessionCommand) ipc.SessionResponse {
	if cmd.PaneID == ipc.SystemPane {
		return ipc.HealthStatus(ipc.SystemPane, true, "channel ok")
	}

	o.mu.RLock()
	e, ok := o.workers[cmd.PaneID]
	var conn transport.Conn
	if ok {
		conn = e.conn
	}
	o.mu.RUnlock()

	if !ok {
		return ipc.HealthStatus(cmd.PaneID, false, "Not found")
	}
	if !o.sup.Running(cmd.PaneID) {
		return ipc.HealthStatus(cmd.PaneID, false, "process not running")
	}
	if conn == nil {
		return ipc.HealthStatus(cmd.PaneID, false, "no transport connection")
	}

	resp, err := o.roundTrip(ctx, conn, cmd)
	if err != nil {
		return ipc.HealthStatus(cmd.PaneID, false, err.Error())
	}
	if resp.Type != ipc.RespHealthStatus {
		return ipc.HealthStatus(cmd.PaneID, false, fmt.Sprintf("unexpected response %q", resp.Type))
	}
	return resp
}

// handleRequestOutput answers from the local pane buffer; the agent is
// never consulted, so output reads stay cheap and always succeed for a
// known pane.
func (o *Orchestrator) handleRequestOutput(cmd ipc.SessionCommand) ipc.SessionResponse {
	o.mu.RLock()
	e, ok := o.workers[cmd.PaneID]
	o.mu.RUnlock()
	if !ok {
		return ipc.ErrorResponse(cmd.PaneID, fmt.Sprintf("pane %s: %v", cmd.PaneID, ipc.ErrSessionNotFound))
	}
	return ipc.OutputData(cmd.PaneID, e.buf.String())
}

// forward relays a command to the pane's agent over its transport
// connection and returns the agent's response.
func (o *Orchestrator) forward(ctx context.Context, cmd ipc.SessionCommand) ipc.SessionResponse {
	o.mu.RLock()
	e, ok := o.workers[cmd.PaneID]
	var conn transport.Conn
	if ok {
		conn = e.conn
	}
	o.mu.RUnlock()

	if !ok {
		return ipc.ErrorResponse(cmd.PaneID, fmt.Sprintf("pane %s: %v", cmd.PaneID, ipc.ErrSessionNotFound))
	}
	if conn == nil {
		return ipc.ErrorResponse(cmd.PaneID, fmt.Sprintf("pane %s: connection failed: no transport bound", cmd.PaneID))
	}

	resp, err := o.roundTrip(ctx, conn, cmd)
	if err != nil {
		return ipc.ErrorResponse(cmd.PaneID, err.Error())
	}
	if cmd.Type == ipc.CmdSendInput && !resp.IsError() {
		o.touch(cmd.PaneID)
	}
	return resp
}

// roundTrip writes one command envelope and reads one response envelope,
// bounded by the request timeout. Transport errors keep their timeout or
// connection wording so the retry coordinator can classify them.
func (o *Orchestrator) roundTrip(ctx context.Context, conn transport.Conn, cmd ipc.SessionCommand) (ipc.SessionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()

	if err := conn.Send(ctx, ipc.CommandEnvelope(cmd)); err != nil {
		return ipc.SessionResponse{}, err
	}
	env, err := conn.Receive(ctx)
	if err != nil {
		return ipc.SessionResponse{}, err
	}
	if env.Response == nil {
		return ipc.SessionResponse{}, fmt.Errorf("malformed envelope: expected a response")
	}
	return *env.Response, nil
}

func (o *Orchestrator) touch(paneID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if e, ok := o.workers[paneID]; ok {
		e.lastActivity = time.Now()
	}
}

// handleRestart tears the pane's process down and brings a fresh one up,
// inline. The restart budget and cooldown are enforced first so a crash
// loop cannot spin the supervisor.
func (o *Orchestrator) handleRestart(ctx context.Context, cmd ipc.SessionCommand) ipc.SessionResponse {
	paneID := cmd.PaneID

	o.mu.Lock()
	e, ok := o.workers[paneID]
	if !ok {
		o.mu.Unlock()
		return ipc.ErrorResponse(paneID, fmt.Sprintf("pane %s: %v", paneID, ipc.ErrSessionNotFound))
	}
	if e.status == StatusStopping {
		o.mu.Unlock()
		return ipc.ErrorResponse(paneID, fmt.Sprintf("pane %s is stopping", paneID))
	}
	if err := o.restarts.allow(paneID); err != nil {
		o.mu.Unlock()
		return ipc.ErrorResponse(paneID, err.Error())
	}
	o.transition(e, StatusStarting)
	e.restartCount++
	oldConn := e.conn
	e.conn = nil
	workingDir := e.workingDir
	o.mu.Unlock()

	e.system("restarting session (attempt %d)", o.restarts.count(paneID))
	o.log.Info("restarting worker", "pane", paneID, "attempt", o.restarts.count(paneID))

	if oldConn != nil {
		_ = oldConn.Close()
	}
	if o.sup.Running(paneID) {
		if err := o.sup.Stop(paneID); err != nil {
			o.log.Warn("stopping worker for restart", "pane", paneID, "err", err)
		}
	}

	pid, err := o.sup.Start(paneID, workingDir, o.agentEnv(paneID))
	if err != nil {
		return o.failRestart(e, fmt.Sprintf("restart failed: %v", err))
	}
	conn, err := o.dialWorker(paneID)
	if err != nil {
		if stopErr := o.sup.Stop(paneID); stopErr != nil {
			o.log.Debug("stopping worker after failed restart handshake", "pane", paneID, "err", stopErr)
		}
		return o.failRestart(e, fmt.Sprintf("restart failed: %v", err))
	}

	resp, err := o.roundTrip(ctx, conn, ipc.StartSession(paneID, workingDir))
	if err != nil || resp.Type != ipc.RespSessionStarted {
		_ = conn.Close()
		if stopErr := o.sup.Stop(paneID); stopErr != nil {
			o.log.Debug("stopping worker after failed restart session", "pane", paneID, "err", stopErr)
		}
		msg := "restart failed: session not confirmed"
		if err != nil {
			msg = fmt.Sprintf("restart failed: %v", err)
		} else if resp.IsError() {
			msg = fmt.Sprintf("restart failed: %s", resp.Message)
		}
		return o.failRestart(e, msg)
	}

	o.mu.Lock()
	if cur, ok := o.workers[paneID]; !ok || cur != e || e.status != StatusStarting {
		// The pane was stopped while the restart was in flight; discard
		// the fresh process rather than resurrect a deregistered pane.
		o.mu.Unlock()
		_ = conn.Close()
		if o.sup.Running(paneID) {
			_ = o.sup.Stop(paneID)
		}
		return ipc.ErrorResponse(paneID, fmt.Sprintf("pane %s was stopped during restart", paneID))
	}
	e.pid = pid
	e.conn = conn
	e.sessionID = resp.SessionID
	e.failures = 0
	e.lastActivity = time.Now()
	o.transition(e, StatusRunning)
	o.mu.Unlock()

	e.system("session %s running", resp.SessionID)
	o.log.Info("worker restarted", "pane", paneID, "session", resp.SessionID, "pid", pid)
	return ipc.SessionRestarted(paneID, resp.SessionID)
}

func (o *Orchestrator) failRestart(e *entry, message string) ipc.SessionResponse {
	o.mu.Lock()
	o.transition(e, StatusCrashed)
	o.mu.Unlock()
	e.system("%s", message)
	o.log.Error("restart failed", "pane", e.paneID, "err", message)
	return ipc.ErrorResponse(e.paneID, message)
}
