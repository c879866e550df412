package worker

import (
	"fmt"
	"sync"
	"time"
)

// restartTracker enforces the per-pane restart budget and the minimum
// cooldown window between attempts, so a crashing agent cannot be driven
// into a tight restart loop.
type restartTracker struct {
	mu       sync.Mutex
	max      int
	cooldown time.Duration
	attempts map[string]*restartRecord
}

type restartRecord struct {
	count int
	last  time.Time
}

func newRestartTracker(max int, cooldown time.Duration) *restartTracker {
	return &restartTracker{
		max:      max,
		cooldown: cooldown,
		attempts: make(map[string]*restartRecord),
	}
}

// allow checks whether the pane may restart now and, if so, records the
// attempt. The check and the record are one step so two racing restarts
// cannot both pass under the same budget.
func (t *restartTracker) allow(paneID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.attempts[paneID]
	if rec == nil {
		rec = &restartRecord{}
		t.attempts[paneID] = rec
	}

	if rec.count >= t.max {
		return fmt.Errorf("pane %s reached the restart limit (%d attempts)", paneID, t.max)
	}
	if !rec.last.IsZero() {
		if wait := t.cooldown - time.Since(rec.last); wait > 0 {
			return fmt.Errorf("pane %s restart cooling down, retry in %s", paneID, wait.Round(time.Second))
		}
	}

	rec.count++
	rec.last = time.Now()
	return nil
}

// count returns the recorded restart attempts for a pane.
func (t *restartTracker) count(paneID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec := t.attempts[paneID]; rec != nil {
		return rec.count
	}
	return 0
}

// forget clears a pane's history, e.g. after a clean stop.
func (t *restartTracker) forget(paneID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.attempts, paneID)
}
