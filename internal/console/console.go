// Package console attaches a local terminal to a broker session: output
// chunks are copied to the screen and keystrokes are written to the
// session until the user detaches or the session ends.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"termlink/internal/broker"
	tlerrors "termlink/internal/errors"
	"termlink/util"
)

// Options configures Run.
type Options struct {
	Manager *broker.Manager
	ID      string

	// Subscription, when set, is used instead of subscribing anew.
	// Pass the one returned by Manager.Open to keep the first chunks.
	Subscription *broker.Subscription

	In  io.Reader // default os.Stdin
	Out io.Writer // default os.Stdout

	// Raw puts In into raw mode when it is a terminal, so every key
	// (Ctrl+C included) goes to the session.
	Raw bool

	// StopTimeout bounds the session teardown after Run finishes
	// (default 5s).
	StopTimeout time.Duration

	Logger *util.Logger
}

var (
	errDetached = errors.New("detached")
	errEnded    = errors.New("session ended")
)

// Run attaches to opts.ID and blocks until the user types Ctrl+A x,
// the session ends, or ctx is cancelled.  The session is stopped before
// Run returns.  Detaching and a session ending on its own are not
// errors.
func Run(ctx context.Context, opts Options) error {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = util.NewLogger(0)
	}
	logger := opts.Logger.Named("console")

	sub := opts.Subscription
	if sub == nil {
		var err error
		if sub, err = opts.Manager.Subscribe(opts.ID); err != nil {
			return err
		}
	}
	defer sub.Close()

	defer stopSession(ctx, opts, logger)

	if opts.Raw {
		if restore, err := makeRaw(opts.In); err != nil {
			logger.Warn("raw mode unavailable: %v", err)
		} else if restore != nil {
			defer restore()
		}
	}

	quit := make(chan struct{})
	defer close(quit)

	g, gctx := errgroup.WithContext(ctx)
	keys := readKeys(opts.In, quit)

	// session → screen
	g.Go(func() error {
		for {
			chunk, err := sub.Recv(gctx)
			if errors.Is(err, tlerrors.ErrSessionClosed) {
				return errEnded
			}
			if err != nil {
				return err
			}
			if _, err := opts.Out.Write(chunk); err != nil {
				return fmt.Errorf("writing output: %w", err)
			}
		}
	})

	// keyboard → session
	g.Go(func() error {
		var esc escaper
		for {
			select {
			case p, ok := <-keys:
				if !ok {
					// Input is exhausted; keep showing output.
					logger.Debug("input closed")
					return nil
				}
				out, detach := esc.feed(p)
				if len(out) > 0 {
					if _, err := opts.Manager.Write(gctx, opts.ID, out); err != nil {
						if tlerrors.IsNotFound(err) || errors.Is(err, tlerrors.ErrChannelClosed) {
							return errEnded
						}
						return err
					}
				}
				if detach {
					return errDetached
				}
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	err := g.Wait()
	switch {
	case errors.Is(err, errDetached):
		logger.Verbose("detached from %s", opts.ID)
		return nil
	case errors.Is(err, errEnded):
		logger.Info("connection %s closed", opts.ID)
		return nil
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return nil
	default:
		return err
	}
}

// readKeys pumps r into a channel until quit is closed.  A blocked
// terminal read cannot be interrupted, so the goroutine ends with the
// first read that completes after quit.
func readKeys(r io.Reader, quit <-chan struct{}) <-chan []byte {
	ch := make(chan []byte)
	go func() {
		defer close(ch)
		buf := make([]byte, 256)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				p := make([]byte, n)
				copy(p, buf[:n])
				select {
				case ch <- p:
				case <-quit:
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return ch
}

func stopSession(ctx context.Context, opts Options, logger *util.Logger) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), opts.StopTimeout)
	defer cancel()
	err := opts.Manager.Stop(sctx, opts.ID)
	if err != nil && !tlerrors.IsNotFound(err) {
		logger.Warn("stopping %s: %v", opts.ID, err)
	}
}

// makeRaw switches r into raw mode if it is a terminal.  It returns a
// nil restore func when r is not a terminal.
func makeRaw(r io.Reader) (func(), error) {
	f, ok := r.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return nil, nil
	}
	fd := int(f.Fd())
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return func() { _ = term.Restore(fd, state) }, nil
}
