package channel

import (
	"context"
	"time"

	"github.com/crewdeck/crewdeck/internal/ipc"
)

// SendWithRetry wraps Send with retry for the transient error class
// (timeouts and connection failures). Attempt N waits N*RetryDelay before
// the next try, up to MaxRetryAttempts total attempts. Successful responses
// and non-transient errors pass through unchanged on the first occurrence;
// after exhausting retries the last error is returned.
func (c *Channel) SendWithRetry(ctx context.Context, cmd ipc.SessionCommand) ipc.SessionResponse {
	var resp ipc.SessionResponse
	for attempt := 1; attempt <= c.cfg.MaxRetryAttempts; attempt++ {
		resp = c.Send(ctx, cmd)
		if !resp.IsError() || !ipc.IsTransientMessage(resp.Message) {
			return resp
		}
		if attempt == c.cfg.MaxRetryAttempts {
			break
		}

		delay := time.Duration(attempt) * c.cfg.RetryDelay
		c.log.Debug("transient failure, retrying",
			"pane", cmd.PaneID,
			"type", cmd.Type,
			"attempt", attempt,
			"delay", delay,
			"err", resp.Message)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return resp
		case <-timer.C:
		}
	}
	return resp
}
