package util

import (
	"errors"
	"io"
	"net"
	"os"
)

// IsClosed reports whether err is the kind of error a reader or writer
// returns after its underlying file or socket was closed underneath it.
// Transports use it to tell a deliberate Disconnect apart from a real
// failure.
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
		return true
	}
	// net.OpError wrapping "use of closed network connection"
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, net.ErrClosed)
	}
	return false
}
