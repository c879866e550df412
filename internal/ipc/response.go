package ipc

// ResponseType identifies the result variant of a SessionResponse.
type ResponseType string

const (
	RespSessionStarted   ResponseType = "session_started"
	RespSessionStopped   ResponseType = "session_stopped"
	RespInputProcessed   ResponseType = "input_processed"
	RespOutputData       ResponseType = "output_data"
	RespHealthStatus     ResponseType = "health_status"
	RespSessionRestarted ResponseType = "session_restarted"
	RespError            ResponseType = "error"
)

// SessionResponse is the result of one SessionCommand. Exactly one response
// is produced per accepted command, or the caller observes a timeout.
type SessionResponse struct {
	Type      ResponseType `json:"type"`
	PaneID    string       `json:"pane_id"`
	SessionID string       `json:"session_id,omitempty"` // session_started / session_restarted
	ProcessID int          `json:"process_id,omitempty"`  // session_started
	Text      string       `json:"text,omitempty"`        // output_data
	Healthy   bool         `json:"healthy,omitempty"`     // health_status
	Detail    string       `json:"detail,omitempty"`      // health_status
	Message   string       `json:"message,omitempty"`     // error
}

// SessionStarted reports a successfully started session and its OS process.
func SessionStarted(paneID, sessionID string, pid int) SessionResponse {
	return SessionResponse{Type: RespSessionStarted, PaneID: paneID, SessionID: sessionID, ProcessID: pid}
}

// SessionStopped reports a completed stop.
func SessionStopped(paneID string) SessionResponse {
	return SessionResponse{Type: RespSessionStopped, PaneID: paneID}
}

// InputProcessed acknowledges delivered input.
func InputProcessed(paneID string) SessionResponse {
	return SessionResponse{Type: RespInputProcessed, PaneID: paneID}
}

// OutputData carries a pane's buffered output.
func OutputData(paneID, text string) SessionResponse {
	return SessionResponse{Type: RespOutputData, PaneID: paneID, Text: text}
}

// HealthStatus reports pane (or channel) health with a human-readable detail.
func HealthStatus(paneID string, healthy bool, detail string) SessionResponse {
	return SessionResponse{Type: RespHealthStatus, PaneID: paneID, Healthy: healthy, Detail: detail}
}

// SessionRestarted reports a restart and the replacement session ID.
func SessionRestarted(paneID, newSessionID string) SessionResponse {
	return SessionResponse{Type: RespSessionRestarted, PaneID: paneID, SessionID: newSessionID}
}

// ErrorResponse reports a failed command.
func ErrorResponse(paneID, message string) SessionResponse {
	return SessionResponse{Type: RespError, PaneID: paneID, Message: message}
}

// IsError reports whether the response is the error variant.
func (r SessionResponse) IsError() bool {
	return r.Type == RespError
}
