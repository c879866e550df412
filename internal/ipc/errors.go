package ipc

import (
	"errors"
	"strings"
)

// Sentinel errors for the IPC failure taxonomy. Error responses cross the
// transport as text, so classification works on messages as well as on
// wrapped sentinels (see Classify and IsTransientMessage).
var (
	// ErrBackpressureRejected is returned when the queue refuses admission
	// under the DropNewest or Reject policy.
	ErrBackpressureRejected = errors.New("backpressure: queue capacity exceeded")

	// ErrChannelStopped is returned for sends after the channel completed
	// its queue.
	ErrChannelStopped = errors.New("command channel stopped")

	// ErrSessionNotFound is returned for commands addressed to a pane with
	// no active worker entry.
	ErrSessionNotFound = errors.New("session not found")
)

// ErrorClass buckets a failure for propagation and retry decisions.
type ErrorClass string

const (
	ClassBackpressure  ErrorClass = "backpressure_rejected"
	ClassTimeout       ErrorClass = "timeout"
	ClassConnection    ErrorClass = "connection_error"
	ClassProcessCrash  ErrorClass = "process_crash"
	ClassNotFound      ErrorClass = "session_not_found"
	ClassSerialization ErrorClass = "serialization_error"
	ClassUnknown       ErrorClass = "unknown"
)

// Classify buckets an error message into the taxonomy. Matching is
// substring-based because responses arrive as wire text, not typed errors.
func Classify(message string) ErrorClass {
	m := strings.ToLower(message)
	switch {
	case strings.Contains(m, "backpressure") || strings.Contains(m, "capacity exceeded"):
		return ClassBackpressure
	case strings.Contains(m, "timeout") || strings.Contains(m, "timed out") || strings.Contains(m, "deadline exceeded"):
		return ClassTimeout
	case strings.Contains(m, "connection") || strings.Contains(m, "broken pipe") ||
		strings.Contains(m, "dial unix") || strings.Contains(m, "socket"):
		return ClassConnection
	case strings.Contains(m, "crash") || strings.Contains(m, "exited unexpectedly"):
		return ClassProcessCrash
	case strings.Contains(m, "not found") || strings.Contains(m, "no such session"):
		return ClassNotFound
	case strings.Contains(m, "unmarshal") || strings.Contains(m, "malformed") || strings.Contains(m, "invalid character"):
		return ClassSerialization
	default:
		return ClassUnknown
	}
}

// IsTransientMessage reports whether an error message belongs to the
// retry-eligible class: timeouts and connection-level failures. All other
// classes surface to the caller on first occurrence.
func IsTransientMessage(message string) bool {
	switch Classify(message) {
	case ClassTimeout, ClassConnection:
		return true
	default:
		return false
	}
}
