package worker

import (
	"context"
	"time"
)

// OutputSink is the UI's view of one pane. The core never assumes a
// rendering widget, only the ability to replace the visible text and
// request a redraw.
type OutputSink interface {
	SetContent(text string)
	Invalidate()
}

// relayQueueSize bounds the line channel between output producers and the
// relay goroutine. Producers block when it fills, so no line is ever lost.
const relayQueueSize = 1024

// Relay bridges a worker's output stream to the UI. Every line lands in
// the pane buffer; the sink is refreshed at most once per interval, which
// decouples subprocess burstiness from redraw frequency.
type Relay struct {
	buf      *Buffer
	sink     OutputSink
	interval time.Duration

	lines chan string
	quit  chan struct{}
	done  chan struct{}
}

// NewRelay creates and starts a relay for one pane.
func NewRelay(buf *Buffer, sink OutputSink, interval time.Duration) *Relay {
	r := &Relay{
		buf:      buf,
		sink:     sink,
		interval: interval,
		lines:    make(chan string, relayQueueSize),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go r.run()
	return r
}

// Publish delivers one output line. Blocks if the relay queue is full
// rather than dropping output; ctx bounds the wait. Publishing to a closed
// relay is a no-op.
func (r *Relay) Publish(ctx context.Context, line string) error {
	select {
	case <-r.quit:
		return nil
	default:
	}
	select {
	case r.lines <- line:
		return nil
	case <-r.quit:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the relay after draining already-published lines and issues
// one final refresh so the UI shows everything. Safe to call once.
func (r *Relay) Close() {
	close(r.quit)
	<-r.done
}

func (r *Relay) run() {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	dirty := false
	var lastRefresh time.Time

	for {
		select {
		case line := <-r.lines:
			r.buf.Append(line)
			if time.Since(lastRefresh) >= r.interval {
				r.flush()
				lastRefresh = time.Now()
				dirty = false
			} else {
				dirty = true
			}

		case <-ticker.C:
			if dirty {
				r.flush()
				lastRefresh = time.Now()
				dirty = false
			}

		case <-r.quit:
			// Drain what was already published, then refresh once.
			for {
				select {
				case line := <-r.lines:
					r.buf.Append(line)
				default:
					r.flush()
					return
				}
			}
		}
	}
}

func (r *Relay) flush() {
	r.sink.SetContent(r.buf.String())
	r.sink.Invalidate()
}
