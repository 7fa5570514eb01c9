package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/ssh"

	tlerrors "termlink/internal/errors"
	"termlink/util"
)

const (
	// sshQueueSize bounds both worker queues.
	sshQueueSize = 32
	// sshReadSize is the chunk size the stdout worker reads with.
	sshReadSize = 1024
)

// SSHConfig holds everything needed to open an interactive shell.
type SSHConfig struct {
	User string
	Host string
	Port int

	Password       string
	KeyPath        string
	Passphrase     string
	UseAgent       bool
	PromptPassword bool // prompt on the terminal for a password or passphrase

	StrictHostKey   bool
	KnownHosts      string
	HostKeyCallback ssh.HostKeyCallback // overrides StrictHostKey/KnownHosts

	ConnTimeout time.Duration
	KeepAlive   time.Duration // 0 disables keepalive requests

	Term string // PTY terminal type (default "xterm")
	Rows int    // default 24
	Cols int    // default 80
}

// SSH runs a remote shell over an SSH session.  The session's blocking
// pipes are serviced by worker goroutines that exchange chunks with Read
// and Write over bounded queues.
type SSH struct {
	config *SSHConfig
	logger *util.Logger

	mu      sync.Mutex
	client  *ssh.Client
	session *ssh.Session

	inbound  chan []byte   // stdout worker → Read
	outbound chan []byte   // Write → stdin worker
	done     chan struct{} // closed by Disconnect
	wg       sync.WaitGroup

	readErr  error        // set by the stdout worker before closing inbound
	writeErr atomic.Value // first stdin failure, as errBox

	rest Leftover
}

type errBox struct{ err error }

// NewSSH returns an SSH adapter that is ready to Connect.
func NewSSH(cfg *SSHConfig, logger *util.Logger) *SSH {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.ConnTimeout == 0 {
		cfg.ConnTimeout = 30 * time.Second
	}
	if cfg.Term == "" {
		cfg.Term = "xterm"
	}
	if cfg.Rows == 0 {
		cfg.Rows = 24
	}
	if cfg.Cols == 0 {
		cfg.Cols = 80
	}
	return &SSH{config: cfg, logger: logger}
}

// Kind implements the broker's kind lookup.
func (s *SSH) Kind() string { return KindSSH }

func (s *SSH) String() string {
	return fmt.Sprintf("ssh %s@%s", s.config.User, util.FormatAddr(s.config.Host, s.config.Port))
}

// Config returns a copy of the adapter's settings with defaults
// applied.
func (s *SSH) Config() SSHConfig { return *s.config }

func (s *SSH) addr() string { return util.FormatAddr(s.config.Host, s.config.Port) }

// Connect dials, authenticates, requests a PTY and starts the shell.
func (s *SSH) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return tlerrors.Wrap("connect", KindSSH, s.addr(), fmt.Errorf("adapter already used"))
	}

	cfg := s.config
	authMethods, err := BuildAuthMethods(cfg)
	if err != nil {
		return tlerrors.Wrap("connect", KindSSH, s.addr(), tlerrors.WrapSSH("auth", cfg.Host, cfg.Port, err))
	}
	hkCallback, err := hostKeyCallback(cfg)
	if err != nil {
		return tlerrors.Wrap("connect", KindSSH, s.addr(), tlerrors.WrapSSH("hostkey", cfg.Host, cfg.Port, err))
	}

	sshCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            authMethods,
		HostKeyCallback: hkCallback,
		Timeout:         cfg.ConnTimeout,
	}

	addr := s.addr()
	s.logger.Debug("dialing %s as %s", addr, cfg.User)

	dialer := net.Dialer{Timeout: cfg.ConnTimeout}
	tcpConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return tlerrors.Wrap("connect", KindSSH, addr, err)
	}

	// Bound the handshake by the timeout and by ctx.
	_ = tcpConn.SetDeadline(time.Now().Add(cfg.ConnTimeout))
	stop := context.AfterFunc(ctx, func() { _ = tcpConn.SetDeadline(time.Now()) })
	sshConn, chans, reqs, err := ssh.NewClientConn(tcpConn, addr, sshCfg)
	stop()
	if err != nil {
		tcpConn.Close()
		if ctx.Err() != nil {
			return tlerrors.Wrap("connect", KindSSH, addr, ctx.Err())
		}
		return tlerrors.Wrap("connect", KindSSH, addr, classifyHandshake(cfg, err))
	}
	_ = tcpConn.SetDeadline(time.Time{})

	client := ssh.NewClient(sshConn, chans, reqs)
	session, stdin, stdout, err := openShell(client, cfg)
	if err != nil {
		client.Close()
		return tlerrors.Wrap("connect", KindSSH, addr, err)
	}

	s.client = client
	s.session = session
	s.inbound = make(chan []byte, sshQueueSize)
	s.outbound = make(chan []byte, sshQueueSize)
	s.done = make(chan struct{})

	s.wg.Add(2)
	go s.readWorker(stdout)
	go s.writeWorker(stdin)
	if cfg.KeepAlive > 0 {
		s.wg.Add(1)
		go s.keepAlive(client, cfg.KeepAlive)
	}

	s.logger.Verbose("ssh shell open on %s", addr)
	return nil
}

func openShell(client *ssh.Client, cfg *SSHConfig) (*ssh.Session, io.WriteCloser, io.Reader, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, nil, nil, tlerrors.WrapSSH("session", cfg.Host, cfg.Port, err)
	}
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 115200,
		ssh.TTY_OP_OSPEED: 115200,
	}
	if err := session.RequestPty(cfg.Term, cfg.Rows, cfg.Cols, modes); err != nil {
		session.Close()
		return nil, nil, nil, tlerrors.WrapSSH("pty", cfg.Host, cfg.Port, err)
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, nil, nil, tlerrors.WrapSSH("session", cfg.Host, cfg.Port, err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, nil, nil, tlerrors.WrapSSH("session", cfg.Host, cfg.Port, err)
	}
	if err := session.Shell(); err != nil {
		session.Close()
		return nil, nil, nil, tlerrors.WrapSSH("shell", cfg.Host, cfg.Port, err)
	}
	return session, stdin, stdout, nil
}

// classifyHandshake tags rejected credentials and changed host keys so
// callers can tell them apart from network failures.
func classifyHandshake(cfg *SSHConfig, err error) error {
	switch {
	case tlerrors.Is(err, tlerrors.ErrHostKeyMismatch):
		return tlerrors.WrapSSH("hostkey", cfg.Host, cfg.Port, err)
	case strings.Contains(err.Error(), tlerrors.ErrHostKeyMismatch.Error()):
		return tlerrors.WrapSSH("hostkey", cfg.Host, cfg.Port,
			fmt.Errorf("%w: %v", tlerrors.ErrHostKeyMismatch, err))
	case strings.Contains(err.Error(), "unable to authenticate"):
		return tlerrors.WrapSSH("auth", cfg.Host, cfg.Port,
			fmt.Errorf("%w: %v", tlerrors.ErrAuthFailed, err))
	default:
		return tlerrors.WrapSSH("handshake", cfg.Host, cfg.Port, err)
	}
}

// ── workers ──────────────────────────────────────────────────────────

func (s *SSH) readWorker(stdout io.Reader) {
	defer s.wg.Done()
	defer close(s.inbound)

	buf := make([]byte, sshReadSize)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case s.inbound <- chunk:
			case <-s.done:
				return
			}
		}
		if err != nil {
			if err == io.EOF {
				err = fmt.Errorf("remote shell closed")
			}
			s.readErr = err
			return
		}
	}
}

func (s *SSH) writeWorker(stdin io.WriteCloser) {
	defer s.wg.Done()
	defer stdin.Close()

	for {
		select {
		case p := <-s.outbound:
			if _, err := stdin.Write(p); err != nil {
				if s.writeErr.Load() == nil {
					s.writeErr.Store(errBox{err})
				}
				s.logger.Debug("stdin write failed: %v", err)
			}
		case <-s.done:
			return
		}
	}
}

// keepAlive sends keepalive@openssh.com requests and closes the client
// when one fails, which ends the session through the stdout worker.
func (s *SSH) keepAlive(client *ssh.Client, every time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				s.logger.Warn("keepalive to %s failed: %v", s.addr(), err)
				client.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}

// ── Connection ───────────────────────────────────────────────────────

func (s *SSH) channels() (inbound, outbound chan []byte, done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inbound, s.outbound, s.done
}

// Read returns the next chunk of shell output, splitting chunks larger
// than p across calls.
func (s *SSH) Read(ctx context.Context, p []byte) (int, error) {
	inbound, _, done := s.channels()
	if done == nil {
		return 0, tlerrors.ErrNotConnected
	}
	if isClosed(done) {
		return 0, tlerrors.ErrNotConnected
	}
	if n := s.rest.Fill(p); n > 0 {
		return n, nil
	}

	select {
	case chunk, ok := <-inbound:
		if !ok {
			if s.readErr == nil {
				return 0, tlerrors.ErrNotConnected
			}
			return 0, tlerrors.Wrap("read", KindSSH, s.addr(), s.readErr)
		}
		return s.rest.Take(p, chunk), nil
	case <-done:
		return 0, tlerrors.ErrNotConnected
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Write queues a copy of p for the stdin worker.  It reports len(p)
// once the chunk is queued; a failure of an earlier write is returned
// by the next call.  After Disconnect every Write fails with
// ErrNotConnected.
func (s *SSH) Write(ctx context.Context, p []byte) (int, error) {
	_, outbound, done := s.channels()
	if done == nil || isClosed(done) {
		return 0, tlerrors.ErrNotConnected
	}
	if b, ok := s.writeErr.Load().(errBox); ok {
		return 0, tlerrors.Wrap("write", KindSSH, s.addr(), b.err)
	}

	chunk := make([]byte, len(p))
	copy(chunk, p)
	select {
	case outbound <- chunk:
	case <-done:
		return 0, tlerrors.ErrNotConnected
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	// Disconnect may have won the race with the send; the stdin worker
	// is then gone and the chunk will never be written.
	if isClosed(done) {
		return 0, tlerrors.ErrNotConnected
	}
	return len(p), nil
}

func isClosed(done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	default:
		return false
	}
}

// Disconnect stops the workers, closes the session and client, and
// waits for the workers to exit.  Safe to call more than once.
func (s *SSH) Disconnect() error {
	s.mu.Lock()
	if s.done == nil {
		s.mu.Unlock()
		return nil
	}
	select {
	case <-s.done:
		s.mu.Unlock()
		return nil
	default:
	}
	close(s.done)
	session, client := s.session, s.client
	s.mu.Unlock()

	session.Close()
	err := client.Close()
	s.wg.Wait()
	if err != nil && !util.IsClosed(err) {
		return tlerrors.Wrap("disconnect", KindSSH, s.addr(), err)
	}
	s.logger.Verbose("ssh shell on %s closed", s.addr())
	return nil
}
