package transport

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tlerrors "termlink/internal/errors"
)

// echoServer accepts one connection and echoes it back.
func echoServer(t *testing.T) (string, <-chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- conn
		io.Copy(conn, conn) //nolint:errcheck
	}()
	return ln.Addr().String(), accepted
}

func TestTCP_RoundTrip(t *testing.T) {
	addr, _ := echoServer(t)
	c := &TCP{Address: addr, Timeout: 2 * time.Second}
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	n, err := c.Write(context.Background(), []byte("show version\r"))
	require.NoError(t, err)
	assert.Equal(t, 13, n)

	got := readUntil(t, c, "show version\r", 64)
	assert.Equal(t, "show version\r", string(got))
}

func TestTCP_PeerCloseEndsRead(t *testing.T) {
	addr, accepted := echoServer(t)
	c := &TCP{Address: addr, Timeout: 2 * time.Second}
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	(<-accepted).Close()
	err := readUntilError(t, c)
	assert.NotErrorIs(t, err, tlerrors.ErrNotConnected)
	var te *tlerrors.TransportError
	assert.ErrorAs(t, err, &te)
}

func TestTCP_ContextCancelUnblocksRead(t *testing.T) {
	addr, _ := echoServer(t)
	c := &TCP{Address: addr, Timeout: 2 * time.Second}
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Read(ctx, make([]byte, 16))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTCP_DisconnectUnblocksRead(t *testing.T) {
	addr, _ := echoServer(t)
	c := &TCP{Address: addr, Timeout: 2 * time.Second}
	require.NoError(t, c.Connect(context.Background()))

	errc := make(chan error, 1)
	go func() {
		_, err := c.Read(context.Background(), make([]byte, 16))
		errc <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, c.Disconnect())
	require.NoError(t, c.Disconnect())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, tlerrors.ErrNotConnected)
	case <-time.After(2 * time.Second):
		require.FailNow(t, "Read did not return after Disconnect")
	}
}

func TestTCP_ConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	c := &TCP{Address: addr, Timeout: time.Second}
	err = c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, tlerrors.IsRetryable(err), "refused dial should be retryable: %v", err)

	_, err = c.Read(context.Background(), make([]byte, 4))
	assert.ErrorIs(t, err, tlerrors.ErrNotConnected)
}
