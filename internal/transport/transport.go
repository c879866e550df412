// Package transport provides the point-to-point connection between the
// console and one worker process. Envelopes are framed as newline-delimited
// JSON over a Unix domain socket: self-delimiting, debuggable with socat,
// and identical on both sides of the connection.
//
// One socket per pane, named after the pane ID under the runtime directory.
package transport

import (
	"context"

	"github.com/crewdeck/crewdeck/internal/ipc"
)

// Conn is a point-to-point envelope connection to one worker.
// Send and Receive honor context deadlines; Close is idempotent.
//
// Conn allows one concurrent sender and one concurrent receiver; writes are
// serialized internally.
type Conn interface {
	Send(ctx context.Context, env ipc.Envelope) error
	Receive(ctx context.Context) (ipc.Envelope, error)
	Close() error
}

// Dialer establishes the connection for a pane. Injected into the
// orchestrator so tests can substitute an in-memory pipe.
type Dialer func(ctx context.Context, paneID string) (Conn, error)
