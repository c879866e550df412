package transport

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewdeck/crewdeck/internal/ipc"
)

func TestPipeRoundTrip(t *testing.T) {
	local, remote := Pipe()
	defer local.Close()
	defer remote.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go func() {
		env, err := remote.Receive(ctx)
		if err != nil {
			t.Error(err)
			return
		}
		resp := ipc.SessionStarted(env.Command.PaneID, "sess-1", 4242)
		if err := remote.Send(ctx, ipc.ResponseEnvelope(resp)); err != nil {
			t.Error(err)
		}
	}()

	require.NoError(t, local.Send(ctx, ipc.CommandEnvelope(ipc.StartSession("p1", "/tmp/proj"))))

	env, err := local.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, ipc.EnvelopeResponse, env.Kind)
	assert.Equal(t, "p1", env.Response.PaneID)
	assert.Equal(t, "sess-1", env.Response.SessionID)
	assert.Equal(t, 4242, env.Response.ProcessID)
}

func TestUnixSocketRoundTrip(t *testing.T) {
	path := SocketPath(t.TempDir(), "pane-1")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		peer := NewConn(nc)
		defer peer.Close()
		ctx := context.Background()
		env, err := peer.Receive(ctx)
		if err != nil {
			t.Error(err)
			return
		}
		peer.Send(ctx, ipc.ResponseEnvelope(ipc.InputProcessed(env.Command.PaneID))) //nolint:errcheck
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	conn, err := Dial(ctx, path)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Send(ctx, ipc.CommandEnvelope(ipc.SendInput("pane-1", "hello"))))
	env, err := conn.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, ipc.RespInputProcessed, env.Response.Type)
}

func TestDialMissingSocketIsConnectionError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := Dial(ctx, filepath.Join(t.TempDir(), "absent.sock"))
	require.Error(t, err)
	assert.Equal(t, ipc.ClassConnection, ipc.Classify(err.Error()))
}

func TestReceiveDeadline(t *testing.T) {
	local, remote := Pipe()
	defer local.Close()
	defer remote.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := local.Receive(ctx)
	require.Error(t, err)
	assert.Equal(t, ipc.ClassTimeout, ipc.Classify(err.Error()))
}

func TestSendRejectsMalformedEnvelope(t *testing.T) {
	local, remote := Pipe()
	defer local.Close()
	defer remote.Close()

	err := local.Send(context.Background(), ipc.Envelope{Kind: ipc.EnvelopeCommand})
	require.Error(t, err)
	assert.Equal(t, ipc.ClassSerialization, ipc.Classify(err.Error()))
}

func TestSocketPathSanitizesPaneID(t *testing.T) {
	p := SocketPath("/run/crewdeck", "../../etc/passwd")
	assert.Equal(t, "/run/crewdeck/.._.._etc_passwd.sock", p)
}
