package channel

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/crewdeck/crewdeck/internal/config"
	"github.com/crewdeck/crewdeck/internal/ipc"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.RequestTimeout = 2 * time.Second
	cfg.RetryDelay = 10 * time.Millisecond
	return cfg
}

// echoHandler acknowledges every command with the matching success variant.
func echoHandler(_ context.Context, cmd ipc.SessionCommand) ipc.SessionResponse {
	switch cmd.Type {
	case ipc.CmdHealthCheck:
		return ipc.HealthStatus(cmd.PaneID, true, "ok")
	case ipc.CmdSendInput:
		return ipc.InputProcessed(cmd.PaneID)
	default:
		return ipc.SessionStopped(cmd.PaneID)
	}
}

func startChannel(t *testing.T, cfg config.Config, h Handler) *Channel {
	t.Helper()
	c := New(cfg, h)
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(c.Stop)
	return c
}

func TestSend_Success(t *testing.T) {
	c := startChannel(t, testConfig(), echoHandler)

	resp := c.Send(context.Background(), ipc.SendInput("p1", "hello"))
	if resp.Type != ipc.RespInputProcessed || resp.PaneID != "p1" {
		t.Errorf("got %+v, want input_processed for p1", resp)
	}
}

func TestSend_TimeoutWhenHandlerNeverReplies(t *testing.T) {
	hang := make(chan struct{})

	cfg := testConfig()
	cfg.RequestTimeout = 50 * time.Millisecond
	c := startChannel(t, cfg, func(context.Context, ipc.SessionCommand) ipc.SessionResponse {
		<-hang
		return ipc.SessionResponse{}
	})
	// Unblock the handler before Stop waits on the dispatch loop.
	t.Cleanup(func() { close(hang) })

	resp := c.Send(context.Background(), ipc.SessionCommand{Type: ipc.CmdHealthCheck})
	if !resp.IsError() {
		t.Fatalf("expected error response, got %+v", resp)
	}
	if resp.Message != "Request timeout after 50ms" {
		t.Errorf("message = %q, want %q", resp.Message, "Request timeout after 50ms")
	}
	if ipc.Classify(resp.Message) != ipc.ClassTimeout {
		t.Errorf("timeout message should classify as timeout")
	}
}

func TestSend_CallerCancellation(t *testing.T) {
	hang := make(chan struct{})

	c := startChannel(t, testConfig(), func(context.Context, ipc.SessionCommand) ipc.SessionResponse {
		<-hang
		return ipc.SessionResponse{}
	})
	t.Cleanup(func() { close(hang) })

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	resp := c.Send(ctx, ipc.HealthCheck("p1"))
	if !resp.IsError() || resp.Message != "request canceled" {
		t.Errorf("got %+v, want canceled error", resp)
	}
}

func TestSend_ExactlyOneResponsePerRequest(t *testing.T) {
	c := startChannel(t, testConfig(), echoHandler)

	const n = 50
	var wg sync.WaitGroup
	responses := make(chan ipc.SessionResponse, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			responses <- c.Send(context.Background(), ipc.HealthCheck(fmt.Sprintf("pane-%d", i)))
		}(i)
	}
	wg.Wait()
	close(responses)

	count := 0
	for resp := range responses {
		count++
		if resp.IsError() {
			t.Errorf("unexpected error response: %s", resp.Message)
		}
	}
	if count != n {
		t.Errorf("observed %d responses, want %d", count, n)
	}
}

func TestSend_PerPaneOrdering(t *testing.T) {
	var mu sync.Mutex
	seen := map[string][]string{}
	c := startChannel(t, testConfig(), func(_ context.Context, cmd ipc.SessionCommand) ipc.SessionResponse {
		mu.Lock()
		seen[cmd.PaneID] = append(seen[cmd.PaneID], cmd.Text)
		mu.Unlock()
		return ipc.InputProcessed(cmd.PaneID)
	})

	// Two panes issue their own commands sequentially, concurrently with
	// each other. Each pane's sequence must be dispatched in issue order.
	var wg sync.WaitGroup
	for _, pane := range []string{"left", "right"} {
		wg.Add(1)
		go func(pane string) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				resp := c.Send(context.Background(), ipc.SendInput(pane, fmt.Sprintf("%s-%d", pane, i)))
				if resp.IsError() {
					t.Errorf("send %s-%d failed: %s", pane, i, resp.Message)
					return
				}
			}
		}(pane)
	}
	wg.Wait()

	for _, pane := range []string{"left", "right"} {
		for i, text := range seen[pane] {
			if want := fmt.Sprintf("%s-%d", pane, i); text != want {
				t.Errorf("pane %s position %d: got %q, want %q", pane, i, text, want)
			}
		}
		if len(seen[pane]) != 20 {
			t.Errorf("pane %s: dispatched %d commands, want 20", pane, len(seen[pane]))
		}
	}
}

func TestDispatchLoopSurvivesPanic(t *testing.T) {
	c := startChannel(t, testConfig(), func(_ context.Context, cmd ipc.SessionCommand) ipc.SessionResponse {
		if cmd.Text == "boom" {
			panic("kaboom")
		}
		return ipc.InputProcessed(cmd.PaneID)
	})

	resp := c.Send(context.Background(), ipc.SendInput("p1", "boom"))
	if !resp.IsError() || !strings.Contains(resp.Message, "handler panic") {
		t.Errorf("got %+v, want handler panic error", resp)
	}

	// The loop must still be alive.
	resp = c.Send(context.Background(), ipc.SendInput("p1", "fine"))
	if resp.IsError() {
		t.Errorf("loop died after panic: %s", resp.Message)
	}

	if errs := c.MetricsSnapshot().ErrorCount; errs != 1 {
		t.Errorf("errorCount = %d, want 1", errs)
	}
}

func TestSendAfterStop(t *testing.T) {
	c := New(testConfig(), echoHandler)
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c.Stop()

	resp := c.Send(context.Background(), ipc.HealthCheck("p1"))
	if !resp.IsError() || resp.Message != ipc.ErrChannelStopped.Error() {
		t.Errorf("got %+v, want channel stopped error", resp)
	}
}

func TestStartTwice(t *testing.T) {
	c := startChannel(t, testConfig(), echoHandler)
	if err := c.Start(); err == nil {
		t.Error("second Start should fail; the consumer must stay singular")
	}
}

func TestHealthCheckUsesOrdinaryPath(t *testing.T) {
	var got ipc.SessionCommand
	var mu sync.Mutex
	c := startChannel(t, testConfig(), func(_ context.Context, cmd ipc.SessionCommand) ipc.SessionResponse {
		mu.Lock()
		got = cmd
		mu.Unlock()
		return ipc.HealthStatus(cmd.PaneID, true, "queue ok")
	})

	resp := c.CheckConnectionHealth(context.Background())
	if resp.Type != ipc.RespHealthStatus || !resp.Healthy {
		t.Errorf("got %+v, want healthy status", resp)
	}
	mu.Lock()
	defer mu.Unlock()
	if got.Type != ipc.CmdHealthCheck || got.PaneID != ipc.SystemPane {
		t.Errorf("handler saw %+v, want health_check for %q", got, ipc.SystemPane)
	}
}

func TestMetricsAccounting(t *testing.T) {
	cfg := testConfig()
	cfg.ChannelCapacity = 4
	cfg.BackpressureThreshold = 2
	cfg.BackpressurePolicy = config.DropNewest
	c := New(cfg, echoHandler)
	// Not started: requests pile up so the threshold engages.

	done := make(chan ipc.SessionResponse, 4)
	for i := 0; i < 2; i++ {
		go func() { done <- c.Send(context.Background(), ipc.HealthCheck("p")) }()
	}
	// Wait until both are queued.
	deadline := time.Now().Add(time.Second)
	for c.QueueDepth() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	rejected := c.Send(context.Background(), ipc.HealthCheck("p"))
	if !rejected.IsError() {
		t.Fatalf("expected backpressure rejection, got %+v", rejected)
	}

	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(c.Stop)
	<-done
	<-done

	snap := c.MetricsSnapshot()
	if snap.DroppedRequests != 1 {
		t.Errorf("droppedRequests = %d, want 1", snap.DroppedRequests)
	}
	if snap.ProcessedRequests != 2 {
		t.Errorf("processedRequests = %d, want 2", snap.ProcessedRequests)
	}
	if snap.AverageLatencyMs <= 0 {
		t.Errorf("averageLatencyMs = %v, want > 0", snap.AverageLatencyMs)
	}
}
