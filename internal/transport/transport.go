// Package transport provides the byte-stream connections a broker
// session drives: serial lines, SSH shells, raw TCP sockets and local
// PTY shells.  Adapters handle the "how" of moving bytes; sessions,
// fan-out and consumers live in the broker.
package transport

import (
	"context"
)

// Connection is a bidirectional byte stream to a terminal-like device.
//
// Read returning (0, nil) means "no data right now" and is how
// poll-style transports report an idle line.  Suspending transports
// block until data, an error, or ctx cancellation.  Read and Write on a
// connection that was never connected, or was disconnected, return
// errors.ErrNotConnected.
//
// One Read may be in flight concurrently with Write and Disconnect, and
// Disconnect unblocks a pending Read.
type Connection interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Read(ctx context.Context, p []byte) (int, error)
	Write(ctx context.Context, p []byte) (int, error)
}

// Transport kinds.
const (
	KindSerial = "serial"
	KindSSH    = "ssh"
	KindTCP    = "tcp"
	KindShell  = "shell"
)

// KindOf returns c's transport kind, or "custom" when c does not
// report one.
func KindOf(c Connection) string {
	if k, ok := c.(interface{ Kind() string }); ok {
		return k.Kind()
	}
	return "custom"
}

// Leftover holds the tail of a chunk that did not fit the caller's
// buffer, for adapters whose Read hands out whole chunks.  Only the
// reading goroutine may touch it.
type Leftover struct {
	buf []byte
}

// Fill copies buffered bytes into p and reports how many it copied.
func (l *Leftover) Fill(p []byte) int {
	if len(l.buf) == 0 {
		return 0
	}
	n := copy(p, l.buf)
	l.buf = l.buf[n:]
	if len(l.buf) == 0 {
		l.buf = nil
	}
	return n
}

// Take copies chunk into p and keeps whatever did not fit.
func (l *Leftover) Take(p, chunk []byte) int {
	n := copy(p, chunk)
	if n < len(chunk) {
		l.buf = append(l.buf, chunk[n:]...)
	}
	return n
}
