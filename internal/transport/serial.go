package transport

import (
	"context"
	"fmt"
	"sync"

	tlerrors "termlink/internal/errors"
)

// Serial is a raw 8N1 serial line.  Reads are bounded to 100ms so an
// idle line reports "no data" instead of blocking.
type Serial struct {
	Port string // device path, e.g. /dev/ttyUSB0
	Baud int

	// mu is held shared by Read/Write for the length of one syscall
	// and exclusively by Disconnect, so the descriptor is never closed
	// under an in-flight read.
	mu sync.RWMutex
	fd int
	ok bool
}

// Kind implements the broker's kind lookup.
func (s *Serial) Kind() string { return KindSerial }

func (s *Serial) String() string { return fmt.Sprintf("serial %s@%d", s.Port, s.Baud) }

// Connect opens and configures the device.
func (s *Serial) Connect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ok {
		return nil
	}
	fd, err := openSerial(s.Port, s.Baud)
	if err != nil {
		return tlerrors.Wrap("connect", KindSerial, s.Port, err)
	}
	s.fd = fd
	s.ok = true
	return nil
}

// Read returns whatever arrived within the read timeout; (0, nil) when
// the line was idle.
func (s *Serial) Read(ctx context.Context, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.ok {
		return 0, tlerrors.ErrNotConnected
	}
	n, err := readSerial(s.fd, p)
	if err != nil {
		return 0, tlerrors.Wrap("read", KindSerial, s.Port, err)
	}
	return n, nil
}

// Write writes all of p.
func (s *Serial) Write(ctx context.Context, p []byte) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.ok {
		return 0, tlerrors.ErrNotConnected
	}
	written := 0
	for written < len(p) {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, err := writeSerial(s.fd, p[written:])
		if err != nil {
			return written, tlerrors.Wrap("write", KindSerial, s.Port, err)
		}
		written += n
	}
	return written, nil
}

// Disconnect closes the device.  Safe to call more than once.
func (s *Serial) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ok {
		return nil
	}
	s.ok = false
	if err := closeSerial(s.fd); err != nil {
		return tlerrors.Wrap("disconnect", KindSerial, s.Port, err)
	}
	return nil
}
