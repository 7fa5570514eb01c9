package core

import (
	"context"
	"fmt"
	"net"

	"termlink/internal/server"
	"termlink/util"
)

// ListenMode serves the broker over HTTP and WebSocket until ctx is
// cancelled, then stops every session.
type ListenMode struct {
	Address string // host:port
	Server  *server.Server
	Logger  *util.Logger

	// Ready, when set, is called with the bound address once the
	// listener is open.
	Ready func(net.Addr)
}

// Run binds Address and serves until ctx ends.
func (m *ListenMode) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", m.Address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", m.Address, err)
	}
	m.Logger.Verbose("listening on %s (tcp)", ln.Addr())
	if m.Ready != nil {
		m.Ready(ln.Addr())
	}
	return m.Server.Serve(ctx, ln)
}
