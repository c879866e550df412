package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/crewdeck/crewdeck/internal/ipc"
)

// jsonConn frames envelopes as newline-delimited JSON over any net.Conn.
// json.Encoder terminates each value with a newline and json.Decoder is
// self-delimiting, so the pair gives the framing for free.
type jsonConn struct {
	nc net.Conn

	writeMu sync.Mutex
	enc     *json.Encoder
	dec     *json.Decoder

	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps an established net.Conn with envelope framing.
func NewConn(nc net.Conn) Conn {
	return &jsonConn{
		nc:  nc,
		enc: json.NewEncoder(nc),
		dec: json.NewDecoder(nc),
	}
}

// Dial connects to the given Unix socket path.
func Dial(ctx context.Context, path string) (Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}
	return NewConn(nc), nil
}

func (c *jsonConn) Send(ctx context.Context, env ipc.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if d, ok := ctx.Deadline(); ok {
		if err := c.nc.SetWriteDeadline(d); err != nil {
			return fmt.Errorf("connection write deadline: %w", err)
		}
		defer c.nc.SetWriteDeadline(time.Time{}) //nolint:errcheck
	}
	if err := c.enc.Encode(env); err != nil {
		return fmt.Errorf("connection write: %w", err)
	}
	return nil
}

func (c *jsonConn) Receive(ctx context.Context) (ipc.Envelope, error) {
	if d, ok := ctx.Deadline(); ok {
		if err := c.nc.SetReadDeadline(d); err != nil {
			return ipc.Envelope{}, fmt.Errorf("connection read deadline: %w", err)
		}
		defer c.nc.SetReadDeadline(time.Time{}) //nolint:errcheck
	}

	var env ipc.Envelope
	if err := c.dec.Decode(&env); err != nil {
		return ipc.Envelope{}, fmt.Errorf("connection read: %w", err)
	}
	if err := env.Validate(); err != nil {
		// Malformed envelope: surfaced unchanged as a serialization error.
		return ipc.Envelope{}, err
	}
	return env, nil
}

func (c *jsonConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.nc.Close()
	})
	return c.closeErr
}
