package channel

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crewdeck/crewdeck/internal/config"
	"github.com/crewdeck/crewdeck/internal/ipc"
)

// request is the internal envelope carried through the queue. The response
// channel is buffered so the dispatcher's single write never blocks, even
// when the caller has already abandoned the wait.
type request struct {
	id         uuid.UUID
	cmd        ipc.SessionCommand
	resp       chan ipc.SessionResponse
	enqueuedAt time.Time
}

func newRequest(cmd ipc.SessionCommand) *request {
	return &request{
		id:         uuid.New(),
		cmd:        cmd,
		resp:       make(chan ipc.SessionResponse, 1),
		enqueuedAt: time.Now(),
	}
}

// deliver writes the response without blocking. A request receives at most
// one response; a second write (or a write to an abandoned sink with its
// buffer already used) is silently discarded.
func (r *request) deliver(resp ipc.SessionResponse) {
	select {
	case r.resp <- resp:
	default:
	}
}

// boundedQueue is the single shared mutable resource between producers and
// the consumer: a FIFO with hard capacity and a backpressure threshold.
// Safe for concurrent enqueue from many producers and dequeue from one
// consumer.
//
// The threshold engages the admission policy early for the rejecting and
// blocking policies; DropOldest only evicts once the queue is actually
// full, so a burst first fills the queue to capacity and then evicts
// strictly oldest-first.
type boundedQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	items     []*request
	capacity  int
	threshold int
	policy    config.BackpressurePolicy
	closed    bool
}

func newBoundedQueue(capacity, threshold int, policy config.BackpressurePolicy) *boundedQueue {
	q := &boundedQueue{
		capacity:  capacity,
		threshold: threshold,
		policy:    policy,
	}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// enqueue admits req under the configured policy. It returns any requests
// evicted to make room (DropOldest) so the caller can fail their sinks and
// count them as dropped. A non-nil error means req itself was not admitted.
func (q *boundedQueue) enqueue(ctx context.Context, req *request) (evicted []*request, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.closed {
			return evicted, ipc.ErrChannelStopped
		}
		if err := ctx.Err(); err != nil {
			return evicted, err
		}
		if len(q.items) < q.threshold {
			break
		}

		switch q.policy {
		case config.DropNewest, config.Reject:
			return evicted, ipc.ErrBackpressureRejected

		case config.BlockUntilSpace:
			// Wake the wait when the caller's context ends, otherwise a
			// cancelled producer would sleep until the next dequeue.
			stop := context.AfterFunc(ctx, func() {
				q.mu.Lock()
				q.notFull.Broadcast()
				q.mu.Unlock()
			})
			q.notFull.Wait()
			stop()
			continue

		case config.DropOldest:
			if len(q.items) >= q.capacity {
				evicted = append(evicted, q.items[0])
				q.items = q.items[1:]
			}
		}
		break
	}

	q.items = append(q.items, req)
	q.notEmpty.Signal()
	return evicted, nil
}

// dequeue blocks until an item is available or the queue is closed and
// drained. It returns ok=false only when nothing will ever arrive again.
func (q *boundedQueue) dequeue() (*request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}

	req := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	q.notFull.Broadcast()
	return req, true
}

// close completes the queue: no further admissions, pending items remain
// dequeueable so the consumer can fail them explicitly.
func (q *boundedQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

// depth returns the current queue length.
func (q *boundedQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
