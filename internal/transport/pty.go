package transport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	tlerrors "termlink/internal/errors"
)

// ptyGrace is how long Disconnect waits after SIGTERM before SIGKILL.
const ptyGrace = 2 * time.Second

// PTY runs a local command on a pseudo-terminal, typically a shell.
type PTY struct {
	Command string
	Args    []string
	Dir     string
	Env     []string // appended to the current environment
	Rows    uint16   // default 24
	Cols    uint16   // default 80

	mu     sync.Mutex
	cmd    *exec.Cmd
	master *os.File
	exited chan struct{}
	closed bool
}

// Kind implements the broker's kind lookup.
func (p *PTY) Kind() string { return KindShell }

func (p *PTY) String() string {
	return strings.TrimSpace("shell " + p.Command + " " + strings.Join(p.Args, " "))
}

// Connect starts the command with its stdio on a fresh PTY.
func (p *PTY) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return tlerrors.Wrap("connect", KindShell, p.Command, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil {
		return tlerrors.Wrap("connect", KindShell, p.Command, fmt.Errorf("adapter already used"))
	}

	rows, cols := p.Rows, p.Cols
	if rows == 0 {
		rows = 24
	}
	if cols == 0 {
		cols = 80
	}

	cmd := exec.Command(p.Command, p.Args...)
	cmd.Dir = p.Dir
	cmd.Env = append(os.Environ(), "TERM=xterm")
	cmd.Env = append(cmd.Env, p.Env...)

	master, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: rows, Cols: cols})
	if err != nil {
		return tlerrors.Wrap("connect", KindShell, p.Command, err)
	}

	p.cmd = cmd
	p.master = master
	p.exited = make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(p.exited)
	}()
	return nil
}

func (p *PTY) file() (*os.File, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.master == nil || p.closed {
		return nil, tlerrors.ErrNotConnected
	}
	return p.master, nil
}

// Read blocks until the command writes output.  Once the command exits
// and its terminal is gone, Read returns an error.
func (p *PTY) Read(ctx context.Context, b []byte) (int, error) {
	f, err := p.file()
	if err != nil {
		return 0, err
	}
	stop := context.AfterFunc(ctx, func() { _ = f.SetReadDeadline(time.Now()) })
	defer stop()

	n, err := f.Read(b)
	if n > 0 {
		return n, nil
	}
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	if _, cerr := p.file(); cerr != nil {
		return 0, cerr
	}
	if err == nil {
		return 0, nil
	}
	// Linux reports a hung-up terminal as EIO.
	if errors.Is(err, syscall.EIO) {
		err = fmt.Errorf("%s exited", p.Command)
	}
	return 0, tlerrors.Wrap("read", KindShell, p.Command, err)
}

// Write sends b to the command's terminal.
func (p *PTY) Write(ctx context.Context, b []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f, err := p.file()
	if err != nil {
		return 0, err
	}
	n, err := f.Write(b)
	if err != nil {
		return n, tlerrors.Wrap("write", KindShell, p.Command, err)
	}
	return n, nil
}

// Resize changes the terminal window size.
func (p *PTY) Resize(rows, cols uint16) error {
	f, err := p.file()
	if err != nil {
		return err
	}
	return pty.Setsize(f, &pty.Winsize{Rows: rows, Cols: cols})
}

// Disconnect terminates the command's process group, reaps it and
// closes the master side.  Safe to call more than once.
func (p *PTY) Disconnect() error {
	p.mu.Lock()
	if p.cmd == nil || p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	cmd, master, exited := p.cmd, p.master, p.exited
	p.mu.Unlock()

	signalGroup(cmd, syscall.SIGTERM)
	select {
	case <-exited:
	case <-time.After(ptyGrace):
		signalGroup(cmd, syscall.SIGKILL)
		<-exited
	}
	if err := master.Close(); err != nil {
		return tlerrors.Wrap("disconnect", KindShell, p.Command, err)
	}
	return nil
}
