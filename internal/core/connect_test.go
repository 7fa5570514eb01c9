package core

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"termlink/internal/broker"
	tlerrors "termlink/internal/errors"
	"termlink/internal/transport"
	"termlink/internal/transport/transporttest"
	"termlink/util"
)

func newManager(t *testing.T) *broker.Manager {
	t.Helper()
	m := broker.New(broker.Options{Logger: util.NewLogger(0)})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		m.Close(ctx) //nolint:errcheck
	})
	return m
}

// TestConnectMode_TCP verifies end-to-end connect mode over TCP: the
// server's greeting reaches stdout and the session ends with the peer.
func TestConnectMode_TCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	// Server: accept one conn, send greeting, close.
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("hello from server\n")) //nolint:errcheck
	}()

	output := &bytes.Buffer{}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	mode := &ConnectMode{
		Manager: newManager(t),
		ID:      "tcp",
		Build: func() (transport.Connection, error) {
			return &transport.TCP{Address: ln.Addr().String(), Timeout: 2 * time.Second}, nil
		},
		Logger: util.NewLogger(0),
		Stdin:  strings.NewReader(""),
		Stdout: output,
	}

	require.NoError(t, mode.Run(ctx))
	assert.Equal(t, "hello from server\n", output.String())
}

// TestConnectMode_SendData verifies keystrokes reach the server and
// the escape sequence ends the session.
func TestConnectMode_SendData(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		received <- line
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	mgr := newManager(t)
	mode := &ConnectMode{
		Manager: mgr,
		ID:      "tcp",
		Build: func() (transport.Connection, error) {
			return &transport.TCP{Address: ln.Addr().String(), Timeout: 2 * time.Second}, nil
		},
		Logger: util.NewLogger(0),
		Stdin:  strings.NewReader("ping\n\x01x"),
		Stdout: &bytes.Buffer{},
	}
	require.NoError(t, mode.Run(ctx))

	select {
	case got := <-received:
		assert.Equal(t, "ping\n", got)
	case <-ctx.Done():
		require.FailNow(t, "server received nothing")
	}
	assert.Empty(t, mgr.Sessions(), "sessions left after Run")
}

// fakeSource hands out a fresh Fake per attempt, failing the first
// `failures` connects with err.
type fakeSource struct {
	failures int32
	err      error
	builds   atomic.Int32
}

func (s *fakeSource) build() (transport.Connection, error) {
	f := transporttest.New()
	if s.builds.Add(1) <= s.failures {
		f.ConnectErr = s.err
	}
	return f, nil
}

func detachMode(t *testing.T, src *fakeSource, retries int) *ConnectMode {
	return &ConnectMode{
		Manager: newManager(t),
		ID:      "dev",
		Build:   src.build,
		Retries: retries,
		Logger:  util.NewLogger(0),
		Stdin:   strings.NewReader("\x01x"),
		Stdout:  &bytes.Buffer{},
	}
}

func TestConnectMode_Retries(t *testing.T) {
	src := &fakeSource{failures: 1, err: errors.New("device busy")}
	require.NoError(t, detachMode(t, src, 2).Run(context.Background()))
	assert.EqualValues(t, 2, src.builds.Load())
}

func TestConnectMode_NoRetries(t *testing.T) {
	src := &fakeSource{failures: 1, err: errors.New("device busy")}
	err := detachMode(t, src, 0).Run(context.Background())
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "giving up", "a single attempt should not mention retries")
	var te *tlerrors.TransportError
	assert.ErrorAs(t, err, &te)
}

func TestConnectMode_AuthFailureNotRetried(t *testing.T) {
	src := &fakeSource{failures: 5, err: fmt.Errorf("ssh: %w", tlerrors.ErrAuthFailed)}
	err := detachMode(t, src, 3).Run(context.Background())
	require.ErrorIs(t, err, tlerrors.ErrAuthFailed)
	assert.EqualValues(t, 1, src.builds.Load())
}

func TestConnectMode_BuildError(t *testing.T) {
	builds := 0
	mode := &ConnectMode{
		Manager: newManager(t),
		ID:      "dev",
		Build: func() (transport.Connection, error) {
			builds++
			return nil, errors.New("bad profile")
		},
		Retries: 3,
		Logger:  util.NewLogger(0),
	}
	require.EqualError(t, mode.Run(context.Background()), "bad profile")
	assert.Equal(t, 1, builds)
}
