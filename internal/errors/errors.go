// Package errors provides domain-specific error types for termlink.
//
// These types carry structured context (operation, transport, host) that
// helps callers decide how to handle failures and gives better diagnostics
// than plain string wrapping.
package errors

import (
	"errors"
	"fmt"
	"net"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	// ErrNotFound is returned when an operation names a session id that
	// has no live session.
	ErrNotFound = errors.New("no such connection")
	// ErrChannelClosed is returned when the session's control plane is
	// gone, typically because its event loop already exited.
	ErrChannelClosed = errors.New("channel closed")
	// ErrNotConnected is returned by transports used before Connect or
	// after Disconnect.
	ErrNotConnected = errors.New("not connected")
	// ErrAlreadyRegistered is returned when a session id is already live.
	ErrAlreadyRegistered = errors.New("connection id already registered")
	// ErrHandleStopped is returned by a Handle that was already stopped.
	ErrHandleStopped = errors.New("handle already stopped")
	// ErrSessionClosed marks the end of a subscription's byte stream.
	ErrSessionClosed = errors.New("session closed")
	// ErrProfileNotFound is returned by profile stores.
	ErrProfileNotFound = errors.New("profile not found")

	ErrTimeout         = errors.New("operation timed out")
	ErrAuthFailed      = errors.New("authentication failed")
	ErrHostKeyMismatch = errors.New("host key mismatch")
	ErrUnsupported     = errors.New("not supported on this platform")
)

// ── Structured error types ───────────────────────────────────────────

// TransportError represents a failure inside a transport adapter.
type TransportError struct {
	Op        string // "connect", "read", "write", "disconnect"
	Transport string // "serial", "ssh", "tcp", "pty", ...
	Target    string // port path, host:port, command
	Err       error
	Retryable bool
}

func (e *TransportError) Error() string {
	s := fmt.Sprintf("%s %s", e.Transport, e.Op)
	if e.Target != "" {
		s += " " + e.Target
	}
	s += fmt.Sprintf(": %v", e.Err)
	if e.Retryable {
		s += " (retryable)"
	}
	return s
}

func (e *TransportError) Unwrap() error { return e.Err }

// SSHError represents an SSH-specific failure with host context.
type SSHError struct {
	Op   string // "handshake", "auth", "session", "pty", "shell"
	Host string
	Port int
	Err  error
}

func (e *SSHError) Error() string {
	return fmt.Sprintf("ssh %s %s:%d: %v", e.Op, e.Host, e.Port, e.Err)
}

func (e *SSHError) Unwrap() error { return e.Err }

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // config field name
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// ── Constructors ─────────────────────────────────────────────────────

// Wrap creates a TransportError, detecting retryability from the
// underlying error.  A nil err yields nil.
func Wrap(op, transport, target string, err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{
		Op:        op,
		Transport: transport,
		Target:    target,
		Err:       err,
		Retryable: classifyRetryable(err),
	}
}

// WrapSSH creates an SSHError.
func WrapSSH(op, host string, port int, err error) *SSHError {
	return &SSHError{Op: op, Host: host, Port: port, Err: err}
}

// ── Classification helpers ───────────────────────────────────────────

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuthFailed) || errors.Is(err, ErrHostKeyMismatch) {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}
	return classifyRetryable(err)
}

// IsNotFound reports whether err means the session id is unknown.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// classifyRetryable inspects standard library error types.
func classifyRetryable(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return true
		}
		// Refused / unreachable while dialing are worth another attempt.
		return opErr.Op == "dial"
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary() //nolint:staticcheck
	}
	return false
}

// ── Re-exports for convenience ───────────────────────────────────────

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

// Unwrap is [errors.Unwrap].
func Unwrap(err error) error { return errors.Unwrap(err) }

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }
