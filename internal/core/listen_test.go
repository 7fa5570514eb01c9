package core

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"termlink/internal/server"
	"termlink/util"
)

// TestListenMode_Serves verifies the API is reachable and Run returns
// cleanly once the context is cancelled.
func TestListenMode_Serves(t *testing.T) {
	port, err := util.FindFreePort()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
	defer cancel()

	ready := make(chan net.Addr, 1)
	mode := &ListenMode{
		Address: fmt.Sprintf("127.0.0.1:%d", port),
		Server:  server.New(server.Options{Manager: newManager(t), Logger: util.NewLogger(0)}),
		Logger:  util.NewLogger(0),
		Ready:   func(a net.Addr) { ready <- a },
	}

	errc := make(chan error, 1)
	go func() { errc <- mode.Run(ctx) }()

	var addr net.Addr
	select {
	case addr = <-ready:
	case err := <-errc:
		require.FailNow(t, "Run returned before the listener was ready", "err = %v", err)
	}

	resp, err := http.Get("http://" + addr.String() + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	assert.NoError(t, <-errc)
}

// TestListenMode_BadAddress verifies bind failures are reported.
func TestListenMode_BadAddress(t *testing.T) {
	mode := &ListenMode{
		Address: "127.0.0.1:99999",
		Server:  server.New(server.Options{Manager: newManager(t)}),
		Logger:  util.NewLogger(0),
	}
	assert.Error(t, mode.Run(context.Background()), "expected listen error")
}
