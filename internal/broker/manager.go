// Package broker owns live terminal sessions.  A Manager connects
// transports, runs one event loop per session, fans received bytes out
// to any number of subscribers, and tears sessions down
// deterministically.
package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	tlerrors "termlink/internal/errors"
	"termlink/internal/metrics"
	"termlink/internal/transport"
	"termlink/util"
)

// Options tunes a Manager.  Zero values take the defaults noted.
type Options struct {
	ControlQueue    int           // per-session command queue (32)
	SubscriberQueue int           // per-subscriber chunk queue (256)
	ReadBufferSize  int           // bytes per transport read (4 KiB)
	PollInterval    time.Duration // back-off after an empty read (10ms)

	Logger  *util.Logger       // default: quiet logger
	Metrics *metrics.Collector // optional
}

func (o *Options) setDefaults() {
	if o.ControlQueue <= 0 {
		o.ControlQueue = 32
	}
	if o.SubscriberQueue <= 0 {
		o.SubscriberQueue = 256
	}
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = util.DefaultBufSize
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 10 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = util.NewLogger(0)
	}
}

// Manager is the registry of live sessions.  All methods are safe for
// concurrent use; the registry lock is never held across I/O.
type Manager struct {
	opts   Options
	logger *util.Logger

	mu       sync.Mutex
	sessions map[string]*session
	pending  map[string]struct{} // ids between Register and insert
	closed   bool
}

// New returns an empty Manager.
func New(opts Options) *Manager {
	opts.setDefaults()
	return &Manager{
		opts:     opts,
		logger:   opts.Logger.Named("broker"),
		sessions: make(map[string]*session),
		pending:  make(map[string]struct{}),
	}
}

// Metrics returns the collector the manager reports to, or nil.
func (m *Manager) Metrics() *metrics.Collector { return m.opts.Metrics }

// Register connects conn and starts its session under id.  It fails
// with ErrAlreadyRegistered if id is live or being registered, and with
// the transport's error if Connect fails, in which case nothing is
// registered.
func (m *Manager) Register(ctx context.Context, id string, conn transport.Connection) (*Handle, error) {
	h, _, err := m.register(ctx, id, conn, false)
	return h, err
}

// Open is Register plus a subscription taken before the session starts
// reading, so the first consumer sees output from the very first chunk
// (a login banner, a boot prompt).
func (m *Manager) Open(ctx context.Context, id string, conn transport.Connection) (*Handle, *Subscription, error) {
	return m.register(ctx, id, conn, true)
}

func (m *Manager) register(ctx context.Context, id string, conn transport.Connection, subscribe bool) (*Handle, *Subscription, error) {
	if id == "" {
		return nil, nil, fmt.Errorf("register: empty connection id")
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, nil, fmt.Errorf("register %q: %w", id, ErrManagerClosed)
	}
	if _, live := m.sessions[id]; live {
		m.mu.Unlock()
		return nil, nil, fmt.Errorf("register %q: %w", id, tlerrors.ErrAlreadyRegistered)
	}
	if _, busy := m.pending[id]; busy {
		m.mu.Unlock()
		return nil, nil, fmt.Errorf("register %q: %w", id, tlerrors.ErrAlreadyRegistered)
	}
	m.pending[id] = struct{}{}
	m.mu.Unlock()

	release := func() {
		m.mu.Lock()
		delete(m.pending, id)
		m.mu.Unlock()
	}

	if err := conn.Connect(ctx); err != nil {
		release()
		var te *tlerrors.TransportError
		if !tlerrors.As(err, &te) {
			err = tlerrors.Wrap("connect", transport.KindOf(conn), id, err)
		}
		m.logger.Verbose("connect %s failed: %v", id, err)
		return nil, nil, err
	}

	s := newSession(m, id, conn)

	m.mu.Lock()
	delete(m.pending, id)
	if m.closed {
		m.mu.Unlock()
		_ = conn.Disconnect()
		return nil, nil, fmt.Errorf("register %q: %w", id, ErrManagerClosed)
	}
	m.sessions[id] = s
	m.mu.Unlock()

	var sub *Subscription
	if subscribe {
		sub = s.hub.subscribe()
	}

	m.opts.Metrics.SessionOpened()
	go s.run()
	return &Handle{m: m, id: id}, sub, nil
}

func (m *Manager) lookup(id string) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("connection %q: %w", id, tlerrors.ErrNotFound)
	}
	return s, nil
}

// Subscribe returns a new, independent receiver of id's output.  Only
// chunks read after this call are delivered.
func (m *Manager) Subscribe(id string) (*Subscription, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	sub := s.hub.subscribe()
	if sub == nil {
		return nil, fmt.Errorf("connection %q: %w", id, tlerrors.ErrNotFound)
	}
	return sub, nil
}

// Write queues a copy of p for id's transport and returns len(p) once
// the session has accepted it.  Writes to one session are applied in
// the order they are accepted.  Transport write failures are not
// reported here; the session logs and counts them.
func (m *Manager) Write(ctx context.Context, id string, p []byte) (int, error) {
	s, err := m.lookup(id)
	if err != nil {
		return 0, err
	}
	select {
	case <-s.quit:
		return 0, fmt.Errorf("connection %q: %w", id, tlerrors.ErrChannelClosed)
	default:
	}

	data := make([]byte, len(p))
	copy(data, p)
	select {
	case s.commands <- command{data: data}:
		return len(p), nil
	case <-s.quit:
		return 0, fmt.Errorf("connection %q: %w", id, tlerrors.ErrChannelClosed)
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Stop removes id from the registry and waits until its session has
// disconnected and closed its subscriptions.  Writes accepted before
// Stop are applied first.  If ctx ends first its error is returned; the
// session is already unregistered and still finishes tearing down.
func (m *Manager) Stop(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("connection %q: %w", id, tlerrors.ErrNotFound)
	}

	s.requestStop()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reap drops a self-terminated session's record, unless the id has
// already been removed or reused.
func (m *Manager) reap(s *session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[s.id] == s {
		delete(m.sessions, s.id)
	}
}

// Info describes a live session.
type Info struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	State       string    `json:"state"`
	Subscribers int       `json:"subscribers"`
	CreatedAt   time.Time `json:"created_at"`
}

func (s *session) info() Info {
	return Info{
		ID:          s.id,
		Kind:        s.kind,
		State:       s.State().String(),
		Subscribers: s.hub.count(),
		CreatedAt:   s.created,
	}
}

// Info returns the description of id.
func (m *Manager) Info(id string) (Info, error) {
	s, err := m.lookup(id)
	if err != nil {
		return Info{}, err
	}
	return s.info(), nil
}

// Sessions lists live sessions ordered by id.
func (m *Manager) Sessions() []Info {
	m.mu.Lock()
	all := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	out := make([]Info, 0, len(all))
	for _, s := range all {
		out = append(out, s.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close stops every session and refuses further registrations.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			err := m.Stop(ctx, id)
			if tlerrors.IsNotFound(err) {
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("closing sessions: %w", err)
	}
	m.logger.Verbose("closed %d session(s)", len(ids))
	return nil
}
