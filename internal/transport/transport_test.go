package transport

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindTCP, KindOf(&TCP{}))
	assert.Equal(t, KindSerial, KindOf(&Serial{}))
	assert.Equal(t, KindShell, KindOf(&PTY{}))
	assert.Equal(t, KindSSH, KindOf(NewSSH(&SSHConfig{}, nil)))
	assert.Equal(t, "custom", KindOf(struct{ Connection }{}))
}

func TestLeftover(t *testing.T) {
	var l Leftover
	p := make([]byte, 3)

	n := l.Take(p, []byte("abcdefgh"))
	assert.Equal(t, "abc", string(p[:n]))

	n = l.Fill(p)
	assert.Equal(t, "def", string(p[:n]))
	n = l.Fill(p)
	assert.Equal(t, "gh", string(p[:n]))
	assert.Zero(t, l.Fill(p))

	n = l.Take(p, []byte("xy"))
	assert.Equal(t, "xy", string(p[:n]))
	assert.Zero(t, l.Fill(p), "a chunk that fits leaves nothing behind")
}

func TestNotConnected(t *testing.T) {
	ctx := context.Background()
	conns := map[string]Connection{
		"tcp":    &TCP{Address: "127.0.0.1:1"},
		"serial": &Serial{Port: "/dev/null", Baud: 9600},
		"pty":    &PTY{Command: "sh"},
		"ssh":    NewSSH(&SSHConfig{Host: "127.0.0.1"}, nil),
	}
	for name, c := range conns {
		t.Run(name, func(t *testing.T) {
			_, err := c.Read(ctx, make([]byte, 8))
			assert.ErrorIs(t, err, errNotConnected)
			_, err = c.Write(ctx, []byte("x"))
			assert.ErrorIs(t, err, errNotConnected)
			assert.NoError(t, c.Disconnect(), "Disconnect before Connect is a no-op")
		})
	}
}

// readUntil reads from c until the collected bytes contain want.
func readUntil(t *testing.T, c Connection, want string, bufSize int) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got []byte
	buf := make([]byte, bufSize)
	for !bytes.Contains(got, []byte(want)) {
		n, err := c.Read(ctx, buf)
		if errors.Is(err, context.DeadlineExceeded) {
			require.FailNow(t, "timed out", "waiting for %q, got %q", want, got)
		}
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}
	return got
}

// readUntilError reads from c, discarding data, until Read fails.
func readUntilError(t *testing.T, c Connection) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	buf := make([]byte, 256)
	for {
		_, err := c.Read(ctx, buf)
		if err != nil {
			require.NotErrorIs(t, err, context.DeadlineExceeded, "read never failed")
			return err
		}
	}
}
