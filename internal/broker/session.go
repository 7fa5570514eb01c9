package broker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"termlink/internal/transport"
	"termlink/util"
)

// State is a session's lifecycle stage.
type State int32

const (
	// Running sessions forward writes and publish reads.
	Running State = iota
	// Draining sessions apply already-queued writes and tear down.
	Draining
	// Terminated sessions have disconnected and closed all
	// subscriptions.
	Terminated
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// command is a control-plane message.  Stop travels on its own channel
// so it can never be refused by a full queue.
type command struct {
	data []byte
}

type readResult struct {
	chunk []byte
	err   error
}

// session is one live connection and its event loop.
type session struct {
	id      string
	kind    string
	created time.Time
	conn    transport.Connection
	m       *Manager
	logger  *util.Logger

	commands chan command
	hub      *hub

	stopOnce sync.Once
	stopc    chan struct{} // closed to request shutdown
	quit     chan struct{} // closed when the loop stops accepting commands
	done     chan struct{} // closed once the session is Terminated

	state atomic.Int32
}

func newSession(m *Manager, id string, conn transport.Connection) *session {
	return &session{
		id:       id,
		kind:     transport.KindOf(conn),
		created:  time.Now(),
		conn:     conn,
		m:        m,
		logger:   m.logger.Named(id),
		commands: make(chan command, m.opts.ControlQueue),
		hub:      newHub(m.opts.SubscriberQueue, m.opts.Metrics),
		stopc:    make(chan struct{}),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *session) State() State { return State(s.state.Load()) }

// requestStop asks the loop to drain and exit.  Idempotent.
func (s *session) requestStop() {
	s.stopOnce.Do(func() { close(s.stopc) })
}

// run is the session's event loop.  It owns the connection from here
// until Terminated.
func (s *session) run() {
	ctx, cancel := context.WithCancel(context.Background())
	results := make(chan readResult)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		s.readLoop(ctx, results)
	}()

	s.logger.Verbose("session started (%s)", s.kind)
	selfTerminated := false

loop:
	for {
		select {
		case cmd := <-s.commands:
			s.write(ctx, cmd.data)
		case <-s.stopc:
			break loop
		case r := <-results:
			if r.err != nil {
				s.logger.Verbose("read failed, ending session: %v", r.err)
				s.m.opts.Metrics.ReadFailed(s.id + ": " + r.err.Error())
				selfTerminated = true
				break loop
			}
			s.logger.Debug("read %d bytes", len(r.chunk))
			s.m.opts.Metrics.BytesReceived(int64(len(r.chunk)))
			s.hub.publish(r.chunk)
		}
	}

	s.state.Store(int32(Draining))
	close(s.quit)
	if selfTerminated {
		s.m.reap(s)
	} else {
		s.drain(ctx)
	}

	cancel()
	if err := s.conn.Disconnect(); err != nil {
		s.logger.Warn("disconnect: %v", err)
	}
	<-readerDone
	s.hub.close()

	s.state.Store(int32(Terminated))
	s.m.opts.Metrics.SessionClosed()
	s.logger.Verbose("session terminated")
	close(s.done)
}

// drain applies writes that were accepted before Stop.
func (s *session) drain(ctx context.Context) {
	for {
		select {
		case cmd := <-s.commands:
			s.write(ctx, cmd.data)
		default:
			return
		}
	}
}

// write forwards one chunk.  Failures are logged and counted; they never
// end the session.
func (s *session) write(ctx context.Context, p []byte) {
	n, err := s.conn.Write(ctx, p)
	if err != nil {
		s.logger.Warn("write failed: %v", err)
		s.m.opts.Metrics.WriteFailed(s.id + ": " + err.Error())
		return
	}
	s.logger.Debug("wrote %d bytes", n)
	s.m.opts.Metrics.BytesSent(int64(n))
}

// readLoop drives Read on its own goroutine so suspending transports
// never block the control plane.  A read of zero bytes means the
// transport had nothing; the loop backs off for the poll interval.
func (s *session) readLoop(ctx context.Context, results chan<- readResult) {
	var buf []byte
	if s.m.opts.ReadBufferSize == util.DefaultBufSize {
		pb := util.GetBuf()
		defer util.PutBuf(pb)
		buf = *pb
	} else {
		buf = make([]byte, s.m.opts.ReadBufferSize)
	}
	var idle *time.Timer
	defer func() {
		if idle != nil {
			idle.Stop()
		}
	}()

	for {
		n, err := s.conn.Read(ctx, buf)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			select {
			case results <- readResult{err: err}:
			case <-ctx.Done():
			}
			return
		}
		if n == 0 {
			if idle == nil {
				idle = time.NewTimer(s.m.opts.PollInterval)
			} else {
				idle.Reset(s.m.opts.PollInterval)
			}
			select {
			case <-idle.C:
			case <-ctx.Done():
				return
			}
			continue
		}

		chunk := make([]byte, n)
		copy(chunk, buf[:n])
		select {
		case results <- readResult{chunk: chunk}:
		case <-ctx.Done():
			return
		}
	}
}
