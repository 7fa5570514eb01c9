package core

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"termlink/internal/broker"
	"termlink/internal/console"
	"termlink/internal/retry"
	"termlink/internal/transport"
	"termlink/util"
)

// ConnectMode registers one connection with the broker and attaches
// the local terminal to it, the default client mode.
type ConnectMode struct {
	Manager *broker.Manager
	ID      string

	// Build returns a fresh adapter for each attempt; adapters are
	// single use.
	Build   func() (transport.Connection, error)
	Retries int

	Raw    bool
	Logger *util.Logger

	// Stdin/Stdout default to os.Stdin/os.Stdout when nil.
	// Override in tests for deterministic I/O.
	Stdin  io.Reader
	Stdout io.Writer
}

func (m *ConnectMode) stdin() io.Reader {
	if m.Stdin != nil {
		return m.Stdin
	}
	return os.Stdin
}

func (m *ConnectMode) stdout() io.Writer {
	if m.Stdout != nil {
		return m.Stdout
	}
	return os.Stdout
}

// Run connects, runs the console until the user detaches or the
// session ends, and leaves the session stopped.
func (m *ConnectMode) Run(ctx context.Context) error {
	sub, err := open(ctx, m.Manager, m.ID, m.Build, m.Retries, m.Logger)
	if err != nil {
		return err
	}
	if m.Raw {
		m.Logger.Info("connected. Press Ctrl+A then 'x' to exit.")
	}

	err = console.Run(ctx, console.Options{
		Manager:      m.Manager,
		ID:           m.ID,
		Subscription: sub,
		In:           m.stdin(),
		Out:          m.stdout(),
		Raw:          m.Raw,
		Logger:       m.Logger,
	})
	if mc := m.Manager.Metrics(); mc != nil {
		m.Logger.Debug("session metrics:\n%s", mc.JSON())
	}
	return err
}

// open connects id, retrying up to retries more times, and returns the
// first subscription.  Rejected credentials and host keys are never
// retried.
func open(ctx context.Context, mgr *broker.Manager, id string,
	build func() (transport.Connection, error), retries int, logger *util.Logger) (*broker.Subscription, error) {

	var sub *broker.Subscription
	attempt := func(int) error {
		conn, err := build()
		if err != nil {
			return retry.Permanent(err)
		}
		if str, ok := conn.(fmt.Stringer); ok {
			logger.Verbose("connecting %s", str)
		}
		_, s, err := mgr.Open(ctx, id, conn)
		if err != nil {
			return retry.Classify(err)
		}
		sub = s
		return nil
	}

	b := retry.ForConnect(max(retries, 0))
	b.OnRetry = func(n int, err error, wait time.Duration) {
		logger.Warn("attempt %d failed: %v (retrying in %s)", n, err, wait.Round(time.Millisecond))
	}
	err := b.Do(ctx, attempt)
	return sub, err
}
