package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-json-experiment/json"
	"github.com/google/uuid"

	"termlink/internal/broker"
	tlerrors "termlink/internal/errors"
	"termlink/internal/profile"
)

// ── Responses ────────────────────────────────────────────────────────

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.MarshalWrite(w, v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeBrokerError maps broker errors onto status codes.
func writeBrokerError(w http.ResponseWriter, err error) {
	switch {
	case tlerrors.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, tlerrors.ErrChannelClosed):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, tlerrors.ErrAlreadyRegistered):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, broker.ErrManagerClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decode(r *http.Request, v any) error {
	if err := json.UnmarshalRead(r.Body, v, json.RejectUnknownMembers(true)); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// ── Health ───────────────────────────────────────────────────────────

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.opts.Manager.Metrics().RecordHealthCheck()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Sessions: len(s.opts.Manager.Sessions()),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Manager.Metrics().Snapshot())
}

// ── Connections ──────────────────────────────────────────────────────

// createRequest selects a saved profile by name or describes the
// connection inline.
type createRequest struct {
	Profile string                `json:"profile,omitempty"`
	Kind    string                `json:"kind,omitempty"`
	Serial  *profile.SerialParams `json:"serial,omitempty"`
	SSH     *profile.SSHParams    `json:"ssh,omitempty"`
	TCP     *profile.TCPParams    `json:"tcp,omitempty"`
	Shell   *profile.ShellParams  `json:"shell,omitempty"`
}

type createResponse struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

func (s *Server) resolve(req createRequest) (profile.Profile, int, error) {
	if req.Profile != "" {
		if req.Kind != "" {
			return profile.Profile{}, http.StatusBadRequest,
				fmt.Errorf("give either a profile name or connection parameters, not both")
		}
		p, err := s.opts.Profiles.Get(req.Profile)
		if errors.Is(err, tlerrors.ErrProfileNotFound) {
			return profile.Profile{}, http.StatusNotFound, err
		}
		if err != nil {
			return profile.Profile{}, http.StatusInternalServerError, err
		}
		return p, 0, nil
	}
	return profile.Profile{
		Name:   "inline",
		Kind:   req.Kind,
		Serial: req.Serial,
		SSH:    req.SSH,
		TCP:    req.TCP,
		Shell:  req.Shell,
	}, 0, nil
}

func (s *Server) handleCreateConnection(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, status, err := s.resolve(req)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	conn, err := s.opts.Build(p)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := uuid.NewString()
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.ConnectTimeout)
	defer cancel()
	if _, err := s.opts.Manager.Register(ctx, id, conn); err != nil {
		var te *tlerrors.TransportError
		if tlerrors.As(err, &te) {
			s.logger.Warn("connect %s (%s) failed: %v", id, p.Summary(), err)
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeBrokerError(w, err)
		return
	}
	s.logger.Info("connection %s opened: %s", id, p.Summary())
	writeJSON(w, http.StatusCreated, createResponse{ID: id, Kind: p.Kind})
}

func (s *Server) handleListConnections(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Manager.Sessions())
}

func (s *Server) handleGetConnection(w http.ResponseWriter, r *http.Request) {
	info, err := s.opts.Manager.Info(r.PathValue("id"))
	if err != nil {
		writeBrokerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type writeResponse struct {
	Written int `json:"written"`
}

// handleWrite sends the raw request body to the connection.
func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxWriteSize))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := s.opts.Manager.Write(r.Context(), id, body)
	if err != nil {
		writeBrokerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, writeResponse{Written: n})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.StopTimeout)
	defer cancel()
	err := s.opts.Manager.Stop(ctx, id)
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		// Already unregistered; teardown finishes in the background.
		s.logger.Warn("connection %s still tearing down: %v", id, err)
	default:
		writeBrokerError(w, err)
		return
	}
	s.logger.Info("connection %s stopped", id)
	w.WriteHeader(http.StatusNoContent)
}

// ── Profiles ─────────────────────────────────────────────────────────

// profileView is what listings expose; credentials stay on the server.
type profileView struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Summary string `json:"summary"`
}

func (s *Server) handleListProfiles(w http.ResponseWriter, _ *http.Request) {
	all, err := s.opts.Profiles.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]profileView, 0, len(all))
	for _, p := range all {
		out = append(out, profileView{Name: p.Name, Kind: p.Kind, Summary: p.Summary()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSaveProfile(w http.ResponseWriter, r *http.Request) {
	var p profile.Profile
	if err := decode(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p.Name = r.PathValue("name")
	if err := s.opts.Profiles.Save(p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, profileView{Name: p.Name, Kind: p.Kind, Summary: p.Summary()})
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	existed, err := s.opts.Profiles.Delete(name)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !existed {
		writeError(w, http.StatusNotFound, fmt.Sprintf("profile %q: %v", name, tlerrors.ErrProfileNotFound))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
