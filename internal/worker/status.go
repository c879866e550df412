package worker

// Status is a pane worker's lifecycle state. Every transition funnels
// through the orchestrator's guarded update path; there are no ad-hoc
// "is running" booleans anywhere else.
type Status string

const (
	// StatusNotStarted means no entry exists for the pane.
	StatusNotStarted Status = "not_started"

	// StatusStarting means the process is spawned and the session is being
	// established.
	StatusStarting Status = "starting"

	// StatusRunning means the session is confirmed and accepting input.
	StatusRunning Status = "running"

	// StatusUnhealthy means repeated I/O failures; the process is still up.
	StatusUnhealthy Status = "unhealthy"

	// StatusCrashed means the process exited unexpectedly. Recoverable only
	// through an explicit restart.
	StatusCrashed Status = "crashed"

	// StatusStopping means teardown is in progress; the entry is removed
	// when it completes.
	StatusStopping Status = "stopping"
)

// validNext lists the permitted transitions out of each state.
var validNext = map[Status][]Status{
	StatusNotStarted: {StatusStarting},
	StatusStarting:   {StatusRunning, StatusCrashed, StatusStopping},
	StatusRunning:    {StatusStarting, StatusUnhealthy, StatusCrashed, StatusStopping},
	StatusUnhealthy:  {StatusStarting, StatusRunning, StatusCrashed, StatusStopping},
	StatusCrashed:    {StatusStarting, StatusStopping},
	StatusStopping:   {},
}

// canTransition reports whether from → to is a legal lifecycle step.
func canTransition(from, to Status) bool {
	for _, next := range validNext[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Active reports whether the status counts toward the active worker set.
func (s Status) Active() bool {
	switch s {
	case StatusStarting, StatusRunning, StatusUnhealthy:
		return true
	}
	return false
}
