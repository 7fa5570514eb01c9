package console

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"termlink/internal/broker"
	tlerrors "termlink/internal/errors"
	"termlink/internal/transport/transporttest"
	"termlink/util"
)

const wait = 2 * time.Second

func TestEscaper(t *testing.T) {
	tests := []struct {
		name   string
		in     []string
		want   string
		detach bool
	}{
		{"plain", []string{"ls -l\r"}, "ls -l\r", false},
		{"detach", []string{"ab\x01xcd"}, "ab", true},
		{"detach upper", []string{"\x01X"}, "", true},
		{"literal escape", []string{"a\x01\x01b"}, "a\x01b", false},
		{"escape then other", []string{"\x01q"}, "q", false},
		{"split across reads", []string{"ab\x01", "x"}, "ab", true},
		{"trailing escape held", []string{"ab\x01"}, "ab", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e escaper
			var got []byte
			var detach bool
			for _, p := range tt.in {
				out, d := e.feed([]byte(p))
				got = append(got, out...)
				if d {
					detach = true
					break
				}
			}
			assert.Equal(t, tt.want, string(got))
			assert.Equal(t, tt.detach, detach)
		})
	}
}

// syncBuffer is a bytes.Buffer safe for the output pump and the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func setup(t *testing.T) (*broker.Manager, *transporttest.Fake) {
	t.Helper()
	m := broker.New(broker.Options{Logger: util.NewLogger(0)})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), wait)
		defer cancel()
		m.Close(ctx) //nolint:errcheck
	})
	f := transporttest.New()
	_, err := m.Register(context.Background(), "dev", f)
	require.NoError(t, err)
	return m, f
}

// idleInput never yields a key until the test ends.
func idleInput(t *testing.T) io.Reader {
	r, w := io.Pipe()
	t.Cleanup(func() { w.Close() })
	return r
}

func runAsync(ctx context.Context, opts Options) <-chan error {
	errc := make(chan error, 1)
	go func() { errc <- Run(ctx, opts) }()
	return errc
}

func waitErr(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(wait):
		require.FailNow(t, "Run did not return")
		return nil
	}
}

func TestRun_DetachStopsSession(t *testing.T) {
	m, f := setup(t)

	err := Run(context.Background(), Options{
		Manager: m,
		ID:      "dev",
		In:      strings.NewReader("ls\n\x01xignored"),
		Out:     io.Discard,
	})
	require.NoError(t, err)

	assert.Equal(t, "ls\n", string(f.Written()))
	assert.Equal(t, 1, f.Disconnects())
	_, err = m.Info("dev")
	assert.ErrorIs(t, err, tlerrors.ErrNotFound)
}

func TestRun_CopiesOutput(t *testing.T) {
	m, f := setup(t)
	in, keys := io.Pipe()
	defer keys.Close()
	out := &syncBuffer{}

	errc := runAsync(context.Background(), Options{Manager: m, ID: "dev", In: in, Out: out})

	// Publishing only reaches subscribers that exist, so keep pushing
	// until the console has subscribed and echoed a chunk.
	require.Eventually(t, func() bool {
		f.Push([]byte("login: "))
		return strings.Contains(out.String(), "login: ")
	}, wait, 10*time.Millisecond)

	_, err := keys.Write([]byte{EscapeKey, 'x'})
	require.NoError(t, err)
	require.NoError(t, waitErr(t, errc))
}

func TestRun_SessionEndReturns(t *testing.T) {
	m, f := setup(t)
	errc := runAsync(context.Background(), Options{Manager: m, ID: "dev", In: idleInput(t), Out: io.Discard})

	// Let the console subscribe before the session dies.
	require.Eventually(t, func() bool {
		info, err := m.Info("dev")
		return err == nil && info.Subscribers == 1
	}, wait, 5*time.Millisecond)

	f.FailRead(errors.New("cable unplugged"))
	assert.NoError(t, waitErr(t, errc))
}

func TestRun_InputEOFKeepsOutput(t *testing.T) {
	m, f := setup(t)
	out := &syncBuffer{}
	errc := runAsync(context.Background(), Options{Manager: m, ID: "dev", In: strings.NewReader("show version\r"), Out: out})

	require.Eventually(t, func() bool {
		return string(f.Written()) == "show version\r"
	}, wait, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		f.Push([]byte("IOS 15.2\r\n"))
		return strings.Contains(out.String(), "IOS 15.2")
	}, wait, 10*time.Millisecond)

	f.FailRead(io.EOF)
	assert.NoError(t, waitErr(t, errc))
}

func TestRun_ContextCancel(t *testing.T) {
	m, f := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	errc := runAsync(ctx, Options{Manager: m, ID: "dev", In: idleInput(t), Out: io.Discard})

	cancel()
	assert.NoError(t, waitErr(t, errc))
	assert.Equal(t, 1, f.Disconnects(), "session is stopped on the way out")
}

func TestRun_UnknownSession(t *testing.T) {
	m := broker.New(broker.Options{Logger: util.NewLogger(0)})
	err := Run(context.Background(), Options{Manager: m, ID: "nope", In: strings.NewReader(""), Out: io.Discard})
	assert.ErrorIs(t, err, tlerrors.ErrNotFound)
}

func TestRun_OpenSubscriptionKeepsBanner(t *testing.T) {
	m := broker.New(broker.Options{Logger: util.NewLogger(0)})
	f := transporttest.New()
	f.Push([]byte("Password: "))
	_, sub, err := m.Open(context.Background(), "dev", f)
	require.NoError(t, err)

	out := &syncBuffer{}
	in, keys := io.Pipe()
	defer keys.Close()
	errc := runAsync(context.Background(), Options{Manager: m, ID: "dev", Subscription: sub, In: in, Out: out})

	require.Eventually(t, func() bool { return out.String() == "Password: " }, wait, 5*time.Millisecond)
	_, err = keys.Write([]byte("\x01x"))
	require.NoError(t, err)
	require.NoError(t, waitErr(t, errc))
}
