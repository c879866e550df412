package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/crewdeck/crewdeck/internal/ipc"
	"github.com/crewdeck/crewdeck/internal/transport"
)

// fakeSupervisor stands in for the process supervisor. No real processes:
// Start hands out fake pids and Stop flips the running bit.
type fakeSupervisor struct {
	mu       sync.Mutex
	nextPID  int
	running  map[string]bool
	startErr error
	starts   int
	stops    int
}

func newFakeSupervisor() *fakeSupervisor {
	return &fakeSupervisor{nextPID: 1000, running: make(map[string]bool)}
}

func (s *fakeSupervisor) Start(paneID, workingDir string, env []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return 0, s.startErr
	}
	if s.running[paneID] {
		return 0, fmt.Errorf("pane %s already has a process", paneID)
	}
	s.nextPID++
	s.starts++
	s.running[paneID] = true
	return s.nextPID, nil
}

func (s *fakeSupervisor) Stop(paneID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running[paneID] {
		return fmt.Errorf("pane %s has no process", paneID)
	}
	s.stops++
	delete(s.running, paneID)
	return nil
}

func (s *fakeSupervisor) Running(paneID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[paneID]
}

func (s *fakeSupervisor) startCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

func (s *fakeSupervisor) setStartErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startErr = err
}

// agentScript decides how the fake agent answers one command.
type agentScript func(cmd ipc.SessionCommand) ipc.SessionResponse

// defaultScript acknowledges every command the way a healthy agent would.
func defaultScript(cmd ipc.SessionCommand) ipc.SessionResponse {
	switch cmd.Type {
	case ipc.CmdStartSession:
		return ipc.SessionStarted(cmd.PaneID, "sess-"+cmd.PaneID, 4242)
	case ipc.CmdStopSession:
		return ipc.SessionStopped(cmd.PaneID)
	case ipc.CmdSendInput:
		return ipc.InputProcessed(cmd.PaneID)
	case ipc.CmdHealthCheck:
		return ipc.HealthStatus(cmd.PaneID, true, "ok")
	default:
		return ipc.ErrorResponse(cmd.PaneID, fmt.Sprintf("agent cannot handle %q", cmd.Type))
	}
}

// serveAgent runs a scripted agent on one end of a pipe: receive a command
// envelope, answer per the script, until the peer closes.
func serveAgent(conn transport.Conn, script agentScript) {
	defer conn.Close()
	for {
		env, err := conn.Receive(context.Background())
		if err != nil {
			return
		}
		if env.Command == nil {
			return
		}
		resp := script(*env.Command)
		if err := conn.Send(context.Background(), ipc.ResponseEnvelope(resp)); err != nil {
			return
		}
	}
}

// pipeDialer returns a Dialer whose connections are served by scripted
// agents, and records which commands each agent received.
type pipeDialer struct {
	mu       sync.Mutex
	script   agentScript
	received []ipc.SessionCommand
	dials    int
	dialErr  error
}

func newPipeDialer(script agentScript) *pipeDialer {
	if script == nil {
		script = defaultScript
	}
	return &pipeDialer{script: script}
}

func (d *pipeDialer) dial(ctx context.Context, paneID string) (transport.Conn, error) {
	d.mu.Lock()
	d.dials++
	err := d.dialErr
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	client, server := transport.Pipe()
	go serveAgent(server, d.observe)
	return client, nil
}

func (d *pipeDialer) observe(cmd ipc.SessionCommand) ipc.SessionResponse {
	d.mu.Lock()
	d.received = append(d.received, cmd)
	script := d.script
	d.mu.Unlock()
	return script(cmd)
}

func (d *pipeDialer) setScript(script agentScript) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.script = script
}

func (d *pipeDialer) commands() []ipc.SessionCommand {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]ipc.SessionCommand, len(d.received))
	copy(out, d.received)
	return out
}
