// Package transporttest provides a deterministic in-memory
// transport.Connection for broker and consumer tests.
package transporttest

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"

	tlerrors "termlink/internal/errors"
	"termlink/internal/transport"
)

// Fake is a scripted connection.  Tests push inbound chunks with Push,
// fail the read side with FailRead, and inspect what the broker wrote
// with Writes.
type Fake struct {
	// ConnectErr, when set, is returned by Connect.
	ConnectErr error
	// Poll makes Read return (0, nil) immediately when nothing is
	// queued instead of blocking.
	Poll bool

	inbound  chan []byte
	failRead chan error
	done     chan struct{}

	mu        sync.Mutex
	connected bool
	writes    [][]byte
	writeErr  error
	onWrite   func([]byte)
	rest      transport.Leftover

	connects    atomic.Int32
	disconnects atomic.Int32
	reads       atomic.Int64
}

// New returns a Fake whose inbound queue holds up to 1024 chunks.
func New() *Fake {
	return &Fake{
		inbound:  make(chan []byte, 1024),
		failRead: make(chan error, 1),
		done:     make(chan struct{}),
	}
}

var _ transport.Connection = (*Fake)(nil)

// Kind implements the broker's kind lookup.
func (f *Fake) Kind() string { return "fake" }

// Push queues a chunk for Read.  The chunk is copied.
func (f *Fake) Push(p []byte) {
	c := make([]byte, len(p))
	copy(c, p)
	f.inbound <- c
}

// FailRead makes the next Read that finds no queued data return err.
func (f *Fake) FailRead(err error) {
	select {
	case f.failRead <- err:
	default:
	}
}

// SetWriteErr makes every subsequent Write fail with err (nil clears).
func (f *Fake) SetWriteErr(err error) {
	f.mu.Lock()
	f.writeErr = err
	f.mu.Unlock()
}

// OnWrite registers fn to be called with every accepted write.
func (f *Fake) OnWrite(fn func([]byte)) {
	f.mu.Lock()
	f.onWrite = fn
	f.mu.Unlock()
}

// Connect implements transport.Connection.
func (f *Fake) Connect(ctx context.Context) error {
	f.connects.Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.ConnectErr != nil {
		return f.ConnectErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.done:
		return errors.New("fake: connection already used")
	default:
	}
	f.connected = true
	return nil
}

// Disconnect implements transport.Connection.  It counts every call.
func (f *Fake) Disconnect() error {
	f.disconnects.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected {
		f.connected = false
		close(f.done)
	}
	return nil
}

func (f *Fake) isConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// Read implements transport.Connection.  Chunks larger than p are
// split across calls.
func (f *Fake) Read(ctx context.Context, p []byte) (int, error) {
	if !f.isConnected() {
		return 0, tlerrors.ErrNotConnected
	}
	f.reads.Add(1)
	if n := f.rest.Fill(p); n > 0 {
		return n, nil
	}

	if f.Poll {
		select {
		case c := <-f.inbound:
			return f.rest.Take(p, c), nil
		case err := <-f.failRead:
			return 0, err
		default:
			return 0, nil
		}
	}

	select {
	case c := <-f.inbound:
		return f.rest.Take(p, c), nil
	case err := <-f.failRead:
		return 0, err
	case <-f.done:
		return 0, tlerrors.ErrNotConnected
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Write implements transport.Connection.
func (f *Fake) Write(_ context.Context, p []byte) (int, error) {
	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		return 0, tlerrors.ErrNotConnected
	}
	if f.writeErr != nil {
		err := f.writeErr
		f.mu.Unlock()
		return 0, err
	}
	c := make([]byte, len(p))
	copy(c, p)
	f.writes = append(f.writes, c)
	fn := f.onWrite
	f.mu.Unlock()

	if fn != nil {
		fn(c)
	}
	return len(p), nil
}

// Writes returns a copy of every accepted write, in order.
func (f *Fake) Writes() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.writes))
	copy(out, f.writes)
	return out
}

// Written returns all accepted writes concatenated.
func (f *Fake) Written() []byte {
	return bytes.Join(f.Writes(), nil)
}

// Connects returns how many times Connect was called.
func (f *Fake) Connects() int { return int(f.connects.Load()) }

// Disconnects returns how many times Disconnect was called.
func (f *Fake) Disconnects() int { return int(f.disconnects.Load()) }

// Reads returns how many Read calls reached the connected path.
func (f *Fake) Reads() int64 { return f.reads.Load() }

// Connected reports whether the fake is between Connect and Disconnect.
func (f *Fake) Connected() bool { return f.isConnected() }
