package ipc

import "fmt"

// EnvelopeKind discriminates the two payload shapes crossing the transport.
type EnvelopeKind string

const (
	EnvelopeCommand  EnvelopeKind = "command"
	EnvelopeResponse EnvelopeKind = "response"
)

// Envelope is the logical unit exchanged with a worker over its transport
// connection: either a command or a response, never both.
type Envelope struct {
	Kind     EnvelopeKind     `json:"kind"`
	Command  *SessionCommand  `json:"command,omitempty"`
	Response *SessionResponse `json:"response,omitempty"`
}

// CommandEnvelope wraps a command for the wire.
func CommandEnvelope(cmd SessionCommand) Envelope {
	return Envelope{Kind: EnvelopeCommand, Command: &cmd}
}

// ResponseEnvelope wraps a response for the wire.
func ResponseEnvelope(resp SessionResponse) Envelope {
	return Envelope{Kind: EnvelopeResponse, Response: &resp}
}

// Validate checks that the envelope kind and payload agree.
func (e Envelope) Validate() error {
	switch e.Kind {
	case EnvelopeCommand:
		if e.Command == nil {
			return fmt.Errorf("malformed envelope: kind %q with no command", e.Kind)
		}
	case EnvelopeResponse:
		if e.Response == nil {
			return fmt.Errorf("malformed envelope: kind %q with no response", e.Kind)
		}
	default:
		return fmt.Errorf("malformed envelope: unknown kind %q", e.Kind)
	}
	return nil
}
