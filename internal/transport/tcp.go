package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	tlerrors "termlink/internal/errors"
	"termlink/util"
)

// TCP is a raw socket to a host:port, the way a telnet-less console
// server or a ser2net bridge is reached.  It optionally binds a specific
// source port.
type TCP struct {
	Address   string
	Timeout   time.Duration
	LocalPort int // optional source-port binding (0 = ephemeral)

	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

// Kind implements the broker's kind lookup.
func (t *TCP) Kind() string { return KindTCP }

func (t *TCP) String() string { return "tcp " + t.Address }

// Connect dials Address.
func (t *TCP) Connect(ctx context.Context) error {
	dialer := net.Dialer{Timeout: t.Timeout}

	if t.LocalPort > 0 {
		a, err := net.ResolveTCPAddr("tcp", fmt.Sprintf(":%d", t.LocalPort))
		if err != nil {
			return tlerrors.Wrap("connect", KindTCP, t.Address, fmt.Errorf("resolve local addr: %w", err))
		}
		dialer.LocalAddr = a
	}

	conn, err := dialer.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return tlerrors.Wrap("connect", KindTCP, t.Address, err)
	}

	t.mu.Lock()
	t.conn = conn
	t.closed = false
	t.mu.Unlock()
	return nil
}

func (t *TCP) current() (net.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil || t.closed {
		return nil, tlerrors.ErrNotConnected
	}
	return t.conn, nil
}

// Read blocks until data arrives, the peer closes, or ctx is done.  A
// peer close is reported as an error so the session ends.
func (t *TCP) Read(ctx context.Context, p []byte) (int, error) {
	conn, err := t.current()
	if err != nil {
		return 0, err
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()

	n, err := conn.Read(p)
	if n > 0 {
		return n, nil
	}
	return 0, t.ioError(ctx, "read", err)
}

// Write sends p in full or returns an error.
func (t *TCP) Write(ctx context.Context, p []byte) (int, error) {
	conn, err := t.current()
	if err != nil {
		return 0, err
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetWriteDeadline(time.Now()) })
	defer stop()

	n, err := conn.Write(p)
	if err != nil {
		return n, t.ioError(ctx, "write", err)
	}
	return n, nil
}

func (t *TCP) ioError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if util.IsClosed(err) {
		t.mu.Lock()
		closed := t.closed
		t.mu.Unlock()
		if closed {
			return tlerrors.ErrNotConnected
		}
	}
	return tlerrors.Wrap(op, KindTCP, t.Address, err)
}

// Disconnect closes the socket.  Safe to call more than once.
func (t *TCP) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil || t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close()
}
