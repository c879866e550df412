// Package channel implements the bounded, backpressure-aware command
// channel at the heart of the console: many producers submit session
// commands, exactly one consumer goroutine dispatches them in FIFO order,
// and every accepted command resolves to exactly one response (or the
// caller times out).
//
// The single-consumer structure is what guarantees per-pane command
// ordering: the orchestrator issues a pane's commands sequentially, and a
// FIFO drained by one goroutine cannot reorder them.
package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/crewdeck/crewdeck/internal/config"
	"github.com/crewdeck/crewdeck/internal/ipc"
)

// Handler executes one session command and produces its response. Handlers
// run on the dispatch goroutine; a panic is recovered and converted to an
// error response.
type Handler func(ctx context.Context, cmd ipc.SessionCommand) ipc.SessionResponse

// Channel is the bounded single-consumer/multi-producer command channel.
type Channel struct {
	cfg     config.Config
	handler Handler
	queue   *boundedQueue
	metrics *Metrics
	log     *slog.Logger

	runCtx  context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started atomic.Bool
	stopped atomic.Bool
}

// Option configures a Channel.
type Option func(*Channel)

// WithLogger sets the channel's logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Channel) { c.log = log }
}

// WithMetrics supplies a shared metrics set instead of a fresh one.
func WithMetrics(m *Metrics) Option {
	return func(c *Channel) { c.metrics = m }
}

// New creates a channel. The handler is invoked by the dispatch loop for
// every accepted command; cfg supplies capacity, threshold, policy, and the
// request timeout.
func New(cfg config.Config, handler Handler, opts ...Option) *Channel {
	runCtx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		cfg:     cfg,
		handler: handler,
		queue:   newBoundedQueue(cfg.ChannelCapacity, cfg.BackpressureThreshold, cfg.BackpressurePolicy),
		log:     slog.Default(),
		runCtx:  runCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = NewMetrics()
	}
	return c
}

// Start launches the single dispatch goroutine. Calling Start twice is an
// error; the consumer must stay singular for ordering to hold.
func (c *Channel) Start() error {
	if c.stopped.Load() {
		return ipc.ErrChannelStopped
	}
	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("command channel already started")
	}
	go c.dispatch()
	c.log.Debug("command channel started",
		"capacity", c.cfg.ChannelCapacity,
		"threshold", c.cfg.BackpressureThreshold,
		"policy", c.cfg.BackpressurePolicy)
	return nil
}

// Stop completes the queue and cancels the consumer. Requests still queued
// are failed with a channel-stopped error rather than left dangling. Safe
// to call more than once.
func (c *Channel) Stop() {
	if !c.stopped.CompareAndSwap(false, true) {
		return
	}
	c.cancel()
	c.queue.close()
	if c.started.Load() {
		<-c.done
	}
	c.log.Debug("command channel stopped")
}

// Send enqueues a command and waits for its private response sink. The wait
// is bounded by the configured request timeout linked with the caller's
// context. Every outcome is expressed as a SessionResponse; errors that
// reach the wire as text keep their class recognizable (see ipc.Classify).
func (c *Channel) Send(ctx context.Context, cmd ipc.SessionCommand) ipc.SessionResponse {
	if c.stopped.Load() {
		return ipc.ErrorResponse(cmd.PaneID, ipc.ErrChannelStopped.Error())
	}

	req := newRequest(cmd)
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	evicted, err := c.queue.enqueue(ctx, req)
	c.metrics.addDropped(len(evicted))
	for _, old := range evicted {
		// The evicted caller observes a backpressure failure instead of
		// waiting out its full timeout.
		old.deliver(ipc.ErrorResponse(old.cmd.PaneID, ipc.ErrBackpressureRejected.Error()))
	}
	if err != nil {
		switch {
		case err == context.DeadlineExceeded || ctx.Err() == context.DeadlineExceeded:
			return c.timeoutResponse(cmd)
		case err == context.Canceled:
			return ipc.ErrorResponse(cmd.PaneID, "request canceled")
		case err == ipc.ErrBackpressureRejected:
			c.metrics.addDropped(1)
			return ipc.ErrorResponse(cmd.PaneID, err.Error())
		default:
			return ipc.ErrorResponse(cmd.PaneID, err.Error())
		}
	}

	select {
	case resp := <-req.resp:
		return resp
	case <-ctx.Done():
		if ctx.Err() == context.Canceled {
			return ipc.ErrorResponse(cmd.PaneID, "request canceled")
		}
		return c.timeoutResponse(cmd)
	}
}

func (c *Channel) timeoutResponse(cmd ipc.SessionCommand) ipc.SessionResponse {
	return ipc.ErrorResponse(cmd.PaneID,
		fmt.Sprintf("Request timeout after %dms", c.cfg.RequestTimeout.Milliseconds()))
}

// CheckConnectionHealth probes the channel through the same path ordinary
// traffic takes, so the result reflects true queue and consumer health.
func (c *Channel) CheckConnectionHealth(ctx context.Context) ipc.SessionResponse {
	return c.Send(ctx, ipc.HealthCheck(ipc.SystemPane))
}

// QueueDepth samples the current queue length.
func (c *Channel) QueueDepth() int {
	return c.queue.depth()
}

// MetricsSnapshot returns the channel's counters with a sampled queue depth.
func (c *Channel) MetricsSnapshot() Snapshot {
	return c.metrics.snapshot(c.queue.depth())
}

// dispatch is the single consumer loop. It is process-lifetime-durable:
// handler errors and panics become error responses, never loop exits.
func (c *Channel) dispatch() {
	defer close(c.done)
	for {
		req, ok := c.queue.dequeue()
		if !ok {
			return
		}
		if c.runCtx.Err() != nil {
			// Stopping: fail the remaining queue explicitly.
			req.deliver(ipc.ErrorResponse(req.cmd.PaneID, ipc.ErrChannelStopped.Error()))
			continue
		}

		resp := c.invoke(req)
		req.deliver(resp)
	}
}

// invoke runs the handler for one request, converting panics to error
// responses and recording latency from enqueue to completion.
func (c *Channel) invoke(req *request) (resp ipc.SessionResponse) {
	defer func() {
		if r := recover(); r != nil {
			resp = ipc.ErrorResponse(req.cmd.PaneID, fmt.Sprintf("handler panic: %v", r))
			c.log.Error("command handler panicked",
				"request_id", req.id, "pane", req.cmd.PaneID, "panic", r)
		}
		latency := time.Since(req.enqueuedAt)
		c.metrics.observe(latency, resp.IsError())
		c.log.Debug("command dispatched",
			"request_id", req.id,
			"type", req.cmd.Type,
			"pane", req.cmd.PaneID,
			"latency", latency,
			"error", resp.IsError())
	}()

	return c.handler(c.runCtx, req.cmd)
}
