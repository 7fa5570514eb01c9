package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"termlink/internal/broker"
	"termlink/internal/metrics"
	"termlink/internal/profile"
	"termlink/internal/transport"
	"termlink/internal/transport/transporttest"
	"termlink/util"
)

const wait = 2 * time.Second

type harness struct {
	t        *testing.T
	mgr      *broker.Manager
	profiles profile.Store
	srv      *Server
	http     *httptest.Server

	mu        sync.Mutex
	fakes     []*transporttest.Fake
	connErr   error
	buildHook func(profile.Profile)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{t: t}
	h.mgr = broker.New(broker.Options{Logger: util.NewLogger(0), Metrics: metrics.New()})
	store, err := profile.NewFileStore(t.TempDir(), util.NewLogger(0))
	require.NoError(t, err)
	h.profiles = store

	h.srv = New(Options{
		Manager:  h.mgr,
		Profiles: store,
		Build:    h.build,
		Logger:   util.NewLogger(0),
	})
	h.http = httptest.NewServer(h.srv)
	t.Cleanup(func() {
		h.http.Close()
		ctx, cancel := context.WithTimeout(context.Background(), wait)
		defer cancel()
		h.mgr.Close(ctx) //nolint:errcheck
	})
	return h
}

func (h *harness) build(p profile.Profile) (transport.Connection, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.buildHook != nil {
		h.buildHook(p)
	}
	f := transporttest.New()
	f.ConnectErr = h.connErr
	h.fakes = append(h.fakes, f)
	return f, nil
}

func (h *harness) lastFake() *transporttest.Fake {
	h.mu.Lock()
	defer h.mu.Unlock()
	require.NotEmpty(h.t, h.fakes)
	return h.fakes[len(h.fakes)-1]
}

func (h *harness) do(method, path, body string) (*http.Response, []byte) {
	h.t.Helper()
	req, err := http.NewRequest(method, h.http.URL+path, strings.NewReader(body))
	require.NoError(h.t, err)
	resp, err := h.http.Client().Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(h.t, err)
	return resp, data
}

func (h *harness) create(body string) string {
	h.t.Helper()
	resp, data := h.do("POST", "/api/connections", body)
	require.Equal(h.t, http.StatusCreated, resp.StatusCode, string(data))
	var out createResponse
	require.NoError(h.t, json.Unmarshal(data, &out))
	return out.ID
}

const tcpBody = `{"kind":"tcp","tcp":{"host":"10.0.0.2","port":3001}}`

func errorOf(t *testing.T, data []byte) string {
	t.Helper()
	var e errorResponse
	require.NoError(t, json.Unmarshal(data, &e), string(data))
	return e.Error
}

// ── Connections ──────────────────────────────────────────────────────

func TestCreateInline(t *testing.T) {
	h := newHarness(t)
	id := h.create(tcpBody)

	_, err := uuid.Parse(id)
	assert.NoError(t, err, "ids are UUIDs")
	assert.Equal(t, 1, h.lastFake().Connects())

	resp, data := h.do("GET", "/api/connections", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var list []broker.Info
	require.NoError(t, json.Unmarshal(data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
	assert.Equal(t, "fake", list[0].Kind)
	assert.Equal(t, "running", list[0].State)

	resp, data = h.do("GET", "/api/connections/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var info broker.Info
	require.NoError(t, json.Unmarshal(data, &info))
	assert.Equal(t, id, info.ID)
}

func TestCreateFromProfile(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.profiles.Save(profile.Profile{
		Name: "lab", Kind: "serial", Serial: &profile.SerialParams{Port: "/dev/ttyUSB0", Baud: 115200},
	}))
	var got profile.Profile
	h.buildHook = func(p profile.Profile) { got = p }

	h.create(`{"profile":"lab"}`)
	assert.Equal(t, "lab", got.Name)
	assert.Equal(t, 115200, got.Serial.Baud)
}

func TestCreateErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"malformed json", `{"kind":`, http.StatusBadRequest},
		{"unknown field", `{"kind":"tcp","colour":"red"}`, http.StatusBadRequest},
		{"invalid params", `{"kind":"tcp","tcp":{"host":"x"}}`, http.StatusBadRequest},
		{"missing profile", `{"profile":"nope"}`, http.StatusNotFound},
		{"profile and params", `{"profile":"lab","kind":"tcp"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			resp, data := h.do("POST", "/api/connections", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode, string(data))
			assert.NotEmpty(t, errorOf(t, data))
			assert.Empty(t, h.mgr.Sessions())
		})
	}
}

func TestCreateConnectFailure(t *testing.T) {
	h := newHarness(t)
	h.connErr = errors.New("connection refused")

	resp, data := h.do("POST", "/api/connections", tcpBody)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, errorOf(t, data), "connection refused")
	assert.Empty(t, h.mgr.Sessions())
}

func TestWrite(t *testing.T) {
	h := newHarness(t)
	id := h.create(tcpBody)

	resp, data := h.do("POST", "/api/connections/"+id+"/write", "show run\r")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var out writeResponse
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, 9, out.Written)

	f := h.lastFake()
	require.Eventually(t, func() bool { return string(f.Written()) == "show run\r" }, wait, 5*time.Millisecond)
}

func TestWriteTooLarge(t *testing.T) {
	h := newHarness(t)
	h.srv.opts.MaxWriteSize = 4
	id := h.create(tcpBody)

	resp, _ := h.do("POST", "/api/connections/"+id+"/write", "too long")
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestUnknownConnection(t *testing.T) {
	h := newHarness(t)
	for _, req := range []struct{ method, path string }{
		{"GET", "/api/connections/nope"},
		{"POST", "/api/connections/nope/write"},
		{"DELETE", "/api/connections/nope"},
	} {
		resp, data := h.do(req.method, req.path, "x")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, "%s %s", req.method, req.path)
		assert.Contains(t, errorOf(t, data), "no such connection")
	}
}

func TestStop(t *testing.T) {
	h := newHarness(t)
	id := h.create(tcpBody)

	resp, _ := h.do("DELETE", "/api/connections/"+id, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 1, h.lastFake().Disconnects())

	resp, _ = h.do("DELETE", "/api/connections/"+id, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// ── WebSocket ────────────────────────────────────────────────────────

func (h *harness) dial(id string) (*websocket.Conn, *http.Response, error) {
	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws/connections/" + id
	return websocket.DefaultDialer.Dial(url, nil)
}

func (h *harness) waitSubscribers(id string, n int) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		info, err := h.mgr.Info(id)
		return err == nil && info.Subscribers == n
	}, wait, 5*time.Millisecond)
}

func TestStream(t *testing.T) {
	h := newHarness(t)
	id := h.create(tcpBody)
	f := h.lastFake()

	ws, _, err := h.dial(id)
	require.NoError(t, err)
	defer ws.Close()
	h.waitSubscribers(id, 1)

	// output → client
	f.Push([]byte("Router>"))
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(wait)))
	typ, msg, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, typ)
	assert.Equal(t, "Router>", string(msg))

	// client → connection
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, []byte("enable\r")))
	require.Eventually(t, func() bool { return string(f.Written()) == "enable\r" }, wait, 5*time.Millisecond)

	// stop → close frame
	resp, _ := h.do("DELETE", "/api/connections/"+id, "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	_, _, err = ws.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, websocket.CloseNormalClosure, ce.Code)
}

func TestStreamClientLeavesSessionRunning(t *testing.T) {
	h := newHarness(t)
	id := h.create(tcpBody)

	ws, _, err := h.dial(id)
	require.NoError(t, err)
	h.waitSubscribers(id, 1)
	ws.Close()

	h.waitSubscribers(id, 0)
	assert.Equal(t, 0, h.lastFake().Disconnects())
}

func TestStreamUnknown(t *testing.T) {
	h := newHarness(t)
	_, resp, err := h.dial("nope")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// ── Profiles ─────────────────────────────────────────────────────────

func TestProfiles(t *testing.T) {
	h := newHarness(t)

	body := `{"kind":"ssh","ssh":{"host":"bastion","username":"ops","password":"hunter2"}}`
	resp, data := h.do("PUT", "/api/profiles/bastion", body)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	resp, data = h.do("GET", "/api/profiles", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, string(data), "hunter2")
	var list []profileView
	require.NoError(t, json.Unmarshal(data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, profileView{Name: "bastion", Kind: "ssh", Summary: "ssh ops@bastion:22"}, list[0])

	resp, _ = h.do("DELETE", "/api/profiles/bastion", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = h.do("DELETE", "/api/profiles/bastion", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSaveInvalidProfile(t *testing.T) {
	h := newHarness(t)
	resp, data := h.do("PUT", "/api/profiles/x", `{"kind":"tcp"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, errorOf(t, data), "exactly one")
}

// ── Health, middleware ───────────────────────────────────────────────

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t)
	id := h.create(tcpBody)
	h.do("POST", "/api/connections/"+id+"/write", "abc")
	require.Eventually(t, func() bool { return h.mgr.Metrics().TotalBytesOut() == 3 }, wait, 5*time.Millisecond)

	resp, data := h.do("GET", "/api/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health healthResponse
	require.NoError(t, json.Unmarshal(data, &health))
	assert.Equal(t, healthResponse{Status: "ok", Sessions: 1}, health)

	resp, data = h.do("GET", "/api/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap metrics.Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, int64(1), snap.SessionsActive)
	assert.Equal(t, int64(3), snap.BytesOut)
	assert.NotEmpty(t, snap.LastHealthCheck)
}

func TestRequestID(t *testing.T) {
	h := newHarness(t)

	resp, _ := h.do("GET", "/api/health", "")
	assert.Len(t, resp.Header.Get(requestIDHeader), 26, "ULID")

	req, err := http.NewRequest("GET", h.http.URL+"/api/health", nil)
	require.NoError(t, err)
	req.Header.Set(requestIDHeader, "trace-42")
	resp, err = h.http.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "trace-42", resp.Header.Get(requestIDHeader))
}

func TestRecovery(t *testing.T) {
	h := newHarness(t)
	h.buildHook = func(profile.Profile) { panic("boom") }

	resp, data := h.do("POST", "/api/connections", tcpBody)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "internal server error", errorOf(t, data))
}

func TestAccessLog(t *testing.T) {
	h := newHarness(t)
	var buf bytes.Buffer
	logger := util.NewLogger(2)
	logger.SetOutput(&buf)
	srv := New(Options{Manager: h.mgr, Profiles: h.profiles, Build: h.build, Logger: logger})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/api/connections/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, buf.String(), "GET /api/connections/nope 404")
}

// ── Serve ────────────────────────────────────────────────────────────

func TestServeShutsDownSessions(t *testing.T) {
	mgr := broker.New(broker.Options{Logger: util.NewLogger(0)})
	srv := New(Options{Manager: mgr, Logger: util.NewLogger(0)})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	f := transporttest.New()
	_, err = mgr.Register(context.Background(), "dev", f)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/api/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, wait, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(wait):
		require.FailNow(t, "Serve did not return")
	}
	assert.Equal(t, 1, f.Disconnects())
	assert.Empty(t, mgr.Sessions())
}
