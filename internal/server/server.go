// Package server exposes the broker over HTTP: connections are created,
// written to and stopped with JSON requests, and their output is
// streamed over WebSockets.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"termlink/internal/broker"
	"termlink/internal/profile"
	"termlink/internal/transport"
	"termlink/util"
)

// Options configures a Server.
type Options struct {
	Manager  *broker.Manager
	Profiles profile.Store

	// Build turns a profile into an unconnected adapter.
	Build func(profile.Profile) (transport.Connection, error)

	ConnectTimeout  time.Duration // bound on Register (30s)
	StopTimeout     time.Duration // bound on Stop (5s)
	ShutdownTimeout time.Duration // bound on graceful shutdown (5s)
	MaxWriteSize    int64         // largest accepted write body (1 MiB)

	Logger *util.Logger
}

func (o *Options) setDefaults() {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 30 * time.Second
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = 5 * time.Second
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = 5 * time.Second
	}
	if o.MaxWriteSize <= 0 {
		o.MaxWriteSize = 1 << 20
	}
	if o.Logger == nil {
		o.Logger = util.NewLogger(0)
	}
}

// Server routes API and WebSocket requests onto a broker.Manager.
type Server struct {
	opts     Options
	logger   *util.Logger
	mux      *http.ServeMux
	handler  http.Handler
	upgrader websocket.Upgrader
}

// New returns a Server with its routes installed.
func New(opts Options) *Server {
	opts.setDefaults()
	s := &Server{
		opts:   opts,
		logger: opts.Logger.Named("server"),
		mux:    http.NewServeMux(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  util.DefaultBufSize,
			WriteBufferSize: util.DefaultBufSize,
		},
	}
	s.routes()
	s.handler = s.requestID(s.accessLog(s.recovery(s.mux)))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes() {
	// Health
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/metrics", s.handleMetrics)

	// Connections
	s.mux.HandleFunc("GET /api/connections", s.handleListConnections)
	s.mux.HandleFunc("POST /api/connections", s.handleCreateConnection)
	s.mux.HandleFunc("GET /api/connections/{id}", s.handleGetConnection)
	s.mux.HandleFunc("POST /api/connections/{id}/write", s.handleWrite)
	s.mux.HandleFunc("DELETE /api/connections/{id}", s.handleStop)

	// Profiles
	s.mux.HandleFunc("GET /api/profiles", s.handleListProfiles)
	s.mux.HandleFunc("PUT /api/profiles/{name}", s.handleSaveProfile)
	s.mux.HandleFunc("DELETE /api/profiles/{name}", s.handleDeleteProfile)

	// WebSocket
	s.mux.HandleFunc("GET /ws/connections/{id}", s.handleStream)
}

// Serve answers requests on ln until ctx is cancelled, then shuts the
// HTTP server down and stops every session.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	hs := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("listening on http://%s", ln.Addr())
		if err := hs.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Verbose("shutting down")

		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
		defer cancel()
		// Hijacked WebSocket connections are not tracked by Shutdown;
		// they finish when Manager.Close ends their sessions.
		herr := hs.Shutdown(sctx)
		merr := s.opts.Manager.Close(sctx)
		return errors.Join(herr, merr)
	})
	return g.Wait()
}
