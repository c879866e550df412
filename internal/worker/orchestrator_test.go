package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewdeck/crewdeck/internal/channel"
	"github.com/crewdeck/crewdeck/internal/config"
	"github.com/crewdeck/crewdeck/internal/ipc"
	"github.com/crewdeck/crewdeck/internal/transport"
)

type fixture struct {
	orch *Orchestrator
	ch   *channel.Channel
	sup  *fakeSupervisor
	dial *pipeDialer
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()

	cfg := config.Default()
	cfg.RequestTimeout = 2 * time.Second
	cfg.RetryDelay = 10 * time.Millisecond
	cfg.RefreshInterval = 5 * time.Millisecond
	cfg.RestartCooldown = 0
	cfg.UnhealthyAfter = 3
	cfg.RuntimeDir = t.TempDir()
	if mutate != nil {
		mutate(&cfg)
	}

	sup := newFakeSupervisor()
	dial := newPipeDialer(nil)
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	orch := NewOrchestrator(cfg, sup, dial.dial, WithLogger(quiet))
	ch := channel.New(cfg, orch.HandleCommand, channel.WithLogger(quiet))
	require.NoError(t, ch.Start())
	orch.BindSender(ch)

	// LIFO: workers stop while the channel is still dispatching.
	t.Cleanup(ch.Stop)
	t.Cleanup(orch.CleanupAllWorkers)

	return &fixture{orch: orch, ch: ch, sup: sup, dial: dial}
}

func (f *fixture) startPane(t *testing.T, paneID string) *recordingSink {
	t.Helper()
	sink := &recordingSink{}
	require.NoError(t, f.orch.StartWorker(paneID, t.TempDir(), sink))
	require.Eventually(t, func() bool {
		status, ok := f.orch.GetWorkerStatus(paneID)
		return ok && status == StatusRunning
	}, 2*time.Second, 10*time.Millisecond, "pane %s never reached running", paneID)
	return sink
}

func TestStartWorkerReachesRunning(t *testing.T) {
	f := newFixture(t, nil)
	f.startPane(t, "pane-1")

	workers := f.orch.GetAllWorkers()
	require.Len(t, workers, 1)
	assert.Equal(t, "pane-1", workers[0].PaneID)
	assert.Equal(t, "sess-pane-1", workers[0].SessionID)
	assert.Equal(t, StatusRunning, workers[0].Status)
	assert.True(t, f.sup.Running("pane-1"))
	assert.Equal(t, 1, f.orch.GetActiveWorkerCount())
}

func TestStartWorkerRejectsDuplicate(t *testing.T) {
	f := newFixture(t, nil)
	f.startPane(t, "pane-1")

	err := f.orch.StartWorker("pane-1", t.TempDir(), &recordingSink{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already has a worker")
	assert.Equal(t, 1, f.orch.GetActiveWorkerCount())
	assert.Equal(t, 1, f.sup.startCount())
}

func TestStartWorkerSpawnFailureLeavesNoEntry(t *testing.T) {
	f := newFixture(t, nil)
	f.sup.setStartErr(errors.New("agent binary not found"))

	err := f.orch.StartWorker("pane-1", t.TempDir(), &recordingSink{})
	require.Error(t, err)
	_, ok := f.orch.GetWorkerStatus("pane-1")
	assert.False(t, ok, "failed start must not leave a registry entry")
	assert.Equal(t, 0, f.orch.GetActiveWorkerCount())
}

func TestStartWorkerDialFailureStopsProcess(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.RequestTimeout = 200 * time.Millisecond
	})
	f.dial.dialErr = errors.New("dial unix /run/missing.sock: connect: no such file or directory")

	err := f.orch.StartWorker("pane-1", t.TempDir(), &recordingSink{})
	require.Error(t, err)
	assert.False(t, f.sup.Running("pane-1"), "orphaned process must be stopped")
	_, ok := f.orch.GetWorkerStatus("pane-1")
	assert.False(t, ok)
}

func TestHealthCheckUnknownPaneReportsNotFound(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.ch.Send(context.Background(), ipc.HealthCheck("pane-x"))
	require.Equal(t, ipc.RespHealthStatus, resp.Type)
	assert.Equal(t, "pane-x", resp.PaneID)
	assert.False(t, resp.Healthy)
	assert.Equal(t, "Not found", resp.Detail)
}

func TestHealthCheckRunningPaneAsksAgent(t *testing.T) {
	f := newFixture(t, nil)
	f.startPane(t, "pane-1")

	resp := f.ch.Send(context.Background(), ipc.HealthCheck("pane-1"))
	require.Equal(t, ipc.RespHealthStatus, resp.Type)
	assert.True(t, resp.Healthy)
	assert.Equal(t, "ok", resp.Detail)
}

func TestSystemHealthCheck(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.ch.CheckConnectionHealth(context.Background())
	require.Equal(t, ipc.RespHealthStatus, resp.Type)
	assert.True(t, resp.Healthy)
	assert.Equal(t, ipc.SystemPane, resp.PaneID)
}

func TestSendInputEchoesAndDelivers(t *testing.T) {
	f := newFixture(t, nil)
	f.startPane(t, "pane-1")

	require.NoError(t, f.orch.SendInput("pane-1", "hello agent"))

	require.Eventually(t, func() bool {
		for _, cmd := range f.dial.commands() {
			if cmd.Type == ipc.CmdSendInput && cmd.Text == "hello agent" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "agent never received the input")

	require.Eventually(t, func() bool {
		out, ok := f.orch.GetWorkerOutput("pane-1")
		return ok && strings.Contains(out, "> hello agent")
	}, 2*time.Second, 10*time.Millisecond, "input was not echoed into the pane buffer")
}

func TestSendInputUnknownPane(t *testing.T) {
	f := newFixture(t, nil)

	err := f.orch.SendInput("pane-x", "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, ipc.ErrSessionNotFound)
}

func TestRepeatedInputFailuresMarkUnhealthyThenRecover(t *testing.T) {
	f := newFixture(t, nil)
	f.startPane(t, "pane-1")

	// Non-transient refusals: the retry coordinator passes them through,
	// so each send counts as exactly one failure.
	f.dial.setScript(func(cmd ipc.SessionCommand) ipc.SessionResponse {
		if cmd.Type == ipc.CmdSendInput {
			return ipc.ErrorResponse(cmd.PaneID, "agent rejected input")
		}
		return defaultScript(cmd)
	})

	for i := 0; i < 3; i++ {
		require.NoError(t, f.orch.SendInput("pane-1", "doomed"))
		time.Sleep(20 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		status, _ := f.orch.GetWorkerStatus("pane-1")
		return status == StatusUnhealthy
	}, 2*time.Second, 10*time.Millisecond, "three failures should flip the pane unhealthy")

	// One successful delivery heals the pane.
	f.dial.setScript(defaultScript)
	require.NoError(t, f.orch.SendInput("pane-1", "back online"))
	require.Eventually(t, func() bool {
		status, _ := f.orch.GetWorkerStatus("pane-1")
		return status == StatusRunning
	}, 2*time.Second, 10*time.Millisecond, "successful delivery should restore running status")
}

func TestConcurrentInputFailuresFlipUnhealthy(t *testing.T) {
	f := newFixture(t, nil)
	f.startPane(t, "pane-1")

	f.dial.setScript(func(cmd ipc.SessionCommand) ipc.SessionResponse {
		if cmd.Type == ipc.CmdSendInput {
			return ipc.ErrorResponse(cmd.PaneID, "agent rejected input")
		}
		return defaultScript(cmd)
	})

	// Failures from racing sends must be counted and logged without
	// tearing the shared counter.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.orch.SendInput("pane-1", "doomed")
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		status, _ := f.orch.GetWorkerStatus("pane-1")
		return status == StatusUnhealthy
	}, 2*time.Second, 10*time.Millisecond, "racing failures should still flip the pane unhealthy")
}

func TestRequestOutputReturnsBufferedLines(t *testing.T) {
	f := newFixture(t, nil)
	f.startPane(t, "pane-1")

	f.orch.HandleProcessOutput("pane-1", "build passed")
	require.Eventually(t, func() bool {
		out, ok := f.orch.GetWorkerOutput("pane-1")
		return ok && strings.Contains(out, "build passed")
	}, 2*time.Second, 10*time.Millisecond)

	resp := f.ch.Send(context.Background(), ipc.RequestOutput("pane-1"))
	require.Equal(t, ipc.RespOutputData, resp.Type)
	assert.Contains(t, resp.Text, "build passed")
}

func TestProcessOutputRefreshesSink(t *testing.T) {
	f := newFixture(t, nil)
	sink := f.startPane(t, "pane-1")

	f.orch.HandleProcessOutput("pane-1", "hello from the agent")
	require.Eventually(t, func() bool {
		content, _ := sink.snapshot()
		return strings.Contains(content, "hello from the agent")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStopWorkerTearsDown(t *testing.T) {
	f := newFixture(t, nil)
	f.startPane(t, "pane-1")

	require.NoError(t, f.orch.StopWorker("pane-1"))

	_, ok := f.orch.GetWorkerStatus("pane-1")
	assert.False(t, ok, "stopped pane must leave the registry")
	assert.False(t, f.sup.Running("pane-1"))

	var sawStop bool
	for _, cmd := range f.dial.commands() {
		if cmd.Type == ipc.CmdStopSession {
			sawStop = true
		}
	}
	assert.True(t, sawStop, "agent should get a graceful stop before termination")
}

func TestStopWorkerUnknownPane(t *testing.T) {
	f := newFixture(t, nil)

	err := f.orch.StopWorker("pane-x")
	require.Error(t, err)
	assert.ErrorIs(t, err, ipc.ErrSessionNotFound)
}

func TestProcessExitMarksCrashed(t *testing.T) {
	f := newFixture(t, nil)
	f.startPane(t, "pane-1")

	require.NoError(t, f.sup.Stop("pane-1"))
	f.orch.HandleProcessExit("pane-1", errors.New("exit status 3"))

	status, ok := f.orch.GetWorkerStatus("pane-1")
	require.True(t, ok, "crashed pane stays in the registry until stopped or restarted")
	assert.Equal(t, StatusCrashed, status)
	assert.False(t, f.orch.IsWorkerActive("pane-1"))

	require.Eventually(t, func() bool {
		out, _ := f.orch.GetWorkerOutput("pane-1")
		return strings.Contains(out, "worker crashed")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRestartWorkerAfterCrash(t *testing.T) {
	f := newFixture(t, nil)
	f.startPane(t, "pane-1")

	require.NoError(t, f.sup.Stop("pane-1"))
	f.orch.HandleProcessExit("pane-1", errors.New("signal: killed"))

	sessionID, err := f.orch.RestartWorker("pane-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-pane-1", sessionID)

	status, _ := f.orch.GetWorkerStatus("pane-1")
	assert.Equal(t, StatusRunning, status)
	assert.True(t, f.sup.Running("pane-1"))

	workers := f.orch.GetAllWorkers()
	require.Len(t, workers, 1)
	assert.Equal(t, 1, workers[0].RestartCount)
}

func TestRestartWorkerEnforcesLimit(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.MaxRestartAttempts = 1
	})
	f.startPane(t, "pane-1")

	_, err := f.orch.RestartWorker("pane-1")
	require.NoError(t, err)

	_, err = f.orch.RestartWorker("pane-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "restart limit")
}

func TestRestartWorkerEnforcesCooldown(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.RestartCooldown = time.Hour
	})
	f.startPane(t, "pane-1")

	_, err := f.orch.RestartWorker("pane-1")
	require.NoError(t, err)

	_, err = f.orch.RestartWorker("pane-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cooling down")
}

func TestRestartWorkerUnknownPane(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.orch.RestartWorker("pane-x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session not found")
}

func TestCleanupAllWorkers(t *testing.T) {
	f := newFixture(t, nil)
	f.startPane(t, "pane-1")
	f.startPane(t, "pane-2")
	require.Equal(t, 2, f.orch.GetActiveWorkerCount())

	f.orch.CleanupAllWorkers()

	assert.Equal(t, 0, f.orch.GetActiveWorkerCount())
	assert.Empty(t, f.orch.GetAllWorkers())
	assert.False(t, f.sup.Running("pane-1"))
	assert.False(t, f.sup.Running("pane-2"))
}

func TestStopDuringStartupDiscardsConnection(t *testing.T) {
	cfg := config.Default()
	cfg.RequestTimeout = 2 * time.Second
	cfg.RetryDelay = 10 * time.Millisecond
	cfg.RefreshInterval = 5 * time.Millisecond
	cfg.RuntimeDir = t.TempDir()

	sup := newFakeSupervisor()
	inner := newPipeDialer(nil)
	dialing := make(chan struct{})
	release := make(chan struct{})
	gated := func(ctx context.Context, paneID string) (transport.Conn, error) {
		close(dialing)
		<-release
		return inner.dial(ctx, paneID)
	}
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	orch := NewOrchestrator(cfg, sup, gated, WithLogger(quiet))

	dir := t.TempDir()
	errCh := make(chan error, 1)
	go func() {
		errCh <- orch.StartWorker("p1", dir, &recordingSink{})
	}()

	<-dialing
	require.NoError(t, orch.StopWorker("p1"))
	close(release)

	err := <-errCh
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopped during startup")
	_, ok := orch.GetWorkerStatus("p1")
	assert.False(t, ok)
	assert.False(t, sup.Running("p1"))
}
