package broker

import (
	"context"
	"sync/atomic"

	tlerrors "termlink/internal/errors"
)

// ErrManagerClosed is returned by Register after Close.
var ErrManagerClosed = tlerrors.New("manager closed")

// Handle is a capability for one registered session.  Handles are
// cheap and only reference the shared Manager.
type Handle struct {
	m       *Manager
	id      string
	stopped atomic.Bool
}

// ID returns the session id.
func (h *Handle) ID() string { return h.id }

// Write is Manager.Write for this session.
func (h *Handle) Write(ctx context.Context, p []byte) (int, error) {
	return h.m.Write(ctx, h.id, p)
}

// Subscribe is Manager.Subscribe for this session.
func (h *Handle) Subscribe() (*Subscription, error) {
	return h.m.Subscribe(h.id)
}

// Stop is Manager.Stop for this session.  A handle stops at most once;
// later calls return ErrHandleStopped without reaching the manager.
func (h *Handle) Stop(ctx context.Context) error {
	if !h.stopped.CompareAndSwap(false, true) {
		return tlerrors.ErrHandleStopped
	}
	return h.m.Stop(ctx, h.id)
}
