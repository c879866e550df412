// Package ipc defines the command/response model exchanged between the
// console and per-pane agent worker processes.
//
// Commands always carry the target pane ID so the dispatcher can attribute
// every failure to a pane. Correlation between a command and its response is
// structural (each in-flight request owns a private response channel); the
// types here are plain data and cross the process boundary as JSON.
package ipc

// CommandType identifies the requested session operation.
type CommandType string

const (
	CmdStartSession   CommandType = "start_session"
	CmdStopSession    CommandType = "stop_session"
	CmdSendInput      CommandType = "send_input"
	CmdRequestOutput  CommandType = "request_output"
	CmdHealthCheck    CommandType = "health_check"
	CmdRestartSession CommandType = "restart_session"
)

// SystemPane is the pseudo pane ID used for channel-level health checks.
// It targets the channel itself rather than any worker pane.
const SystemPane = "system"

// SessionCommand is a request addressed to one pane's agent session.
// Type selects the operation; the remaining fields are populated per type.
type SessionCommand struct {
	Type       CommandType `json:"type"`
	PaneID     string      `json:"pane_id"`
	WorkingDir string      `json:"working_dir,omitempty"` // start_session only
	Text       string      `json:"text,omitempty"`        // send_input only
}

// StartSession builds a command to start an agent session for a pane.
func StartSession(paneID, workingDir string) SessionCommand {
	return SessionCommand{Type: CmdStartSession, PaneID: paneID, WorkingDir: workingDir}
}

// StopSession builds a command to stop a pane's agent session.
func StopSession(paneID string) SessionCommand {
	return SessionCommand{Type: CmdStopSession, PaneID: paneID}
}

// SendInput builds a command to deliver user input to a pane's session.
func SendInput(paneID, text string) SessionCommand {
	return SessionCommand{Type: CmdSendInput, PaneID: paneID, Text: text}
}

// RequestOutput builds a command asking for a pane's buffered output.
func RequestOutput(paneID string) SessionCommand {
	return SessionCommand{Type: CmdRequestOutput, PaneID: paneID}
}

// HealthCheck builds a health probe for a pane (or SystemPane for the
// channel itself).
func HealthCheck(paneID string) SessionCommand {
	return SessionCommand{Type: CmdHealthCheck, PaneID: paneID}
}

// RestartSession builds a command to restart a pane's agent session.
func RestartSession(paneID string) SessionCommand {
	return SessionCommand{Type: CmdRestartSession, PaneID: paneID}
}
