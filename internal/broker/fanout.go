package broker

import (
	"context"
	"sync"
	"sync/atomic"

	tlerrors "termlink/internal/errors"
	"termlink/internal/metrics"
)

// ── Fan-out ──────────────────────────────────────────────────────────
//
// Every chunk a session reads is offered to each of its subscribers.
// Delivery is at-most-once and never blocks the session: each
// subscriber owns a bounded queue, and when that queue is full the
// OLDEST queued chunk is discarded to make room.  A subscriber that
// falls behind therefore resumes with the most recent output and a gap,
// which is what a terminal viewer wants.  Subscribers only see chunks
// published after they subscribed.
//
// Chunks are shared between subscribers and must not be modified.

// Subscription is one consumer's view of a session's output.
type Subscription struct {
	ch      chan []byte
	hub     *hub
	dropped atomic.Uint64
}

// C returns the chunk channel.  It is closed when the session ends or
// the subscription is closed.
func (s *Subscription) C() <-chan []byte { return s.ch }

// Recv returns the next chunk.  It returns errors.ErrSessionClosed once
// the stream has ended, or ctx's error.
func (s *Subscription) Recv(ctx context.Context) ([]byte, error) {
	select {
	case b, ok := <-s.ch:
		if !ok {
			return nil, tlerrors.ErrSessionClosed
		}
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dropped returns how many chunks this subscriber lost by lagging.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close unsubscribes.  Safe to call more than once and after the
// session has ended.
func (s *Subscription) Close() { s.hub.unsubscribe(s) }

// hub is a session's data plane.
type hub struct {
	size    int
	metrics *metrics.Collector

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

func newHub(size int, m *metrics.Collector) *hub {
	return &hub{size: size, metrics: m, subs: make(map[*Subscription]struct{})}
}

// subscribe returns nil once the hub is closed.
func (h *hub) subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	s := &Subscription{ch: make(chan []byte, h.size), hub: h}
	h.subs[s] = struct{}{}
	return s
}

func (h *hub) unsubscribe(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.ch)
	}
}

// publish offers chunk to every subscriber, dropping each lagging
// subscriber's oldest chunk when its queue is full.  The hub lock makes
// publish the only sender, so a slot freed here stays free.
func (h *hub) publish(chunk []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		select {
		case s.ch <- chunk:
			continue
		default:
		}
		select {
		case <-s.ch:
			s.dropped.Add(1)
			h.metrics.ChunksDropped(1)
		default:
		}
		select {
		case s.ch <- chunk:
		default:
			// Only reachable with a zero-capacity queue.
			s.dropped.Add(1)
			h.metrics.ChunksDropped(1)
		}
	}
}

// close ends every subscription.  Later subscribes return nil.
func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		delete(h.subs, s)
		close(s.ch)
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
