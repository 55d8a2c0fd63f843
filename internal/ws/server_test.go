package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/tabcast/relay/internal/config"
	"github.com/tabcast/relay/internal/driver"
	"github.com/tabcast/relay/internal/metrics"
	"github.com/tabcast/relay/internal/session"
)

type testRelay struct {
	srv      *httptest.Server
	mock     *driver.Mock
	bus      *session.Bus
	queue    *session.Queue
	registry *Registry
	metrics  *metrics.Collector
	cancel   context.CancelFunc
	loopErr  chan error
}

func startRelay(t *testing.T, maxViewers int) *testRelay {
	t.Helper()

	cfg := config.Default()
	cfg.Server.MaxViewers = maxViewers
	cfg.Relay.TickInterval = 10 * time.Millisecond

	logger := log.New(io.Discard)
	m := metrics.New()
	mock := driver.NewMock(320, 240)
	bus := session.NewBus()
	queue := session.NewQueue(cfg.Relay.QueueCapacity)
	loop := session.NewLoop(mock, queue, bus, session.LoopConfig{
		TickInterval:     cfg.Relay.TickInterval,
		FailureThreshold: 1,
	}, m, logger)
	registry := NewRegistry(bus, maxViewers, m)

	server := NewServer(cfg, bus, queue, registry, m, logger)
	srv := httptest.NewServer(server.Handler())

	ctx, cancel := context.WithCancel(context.Background())
	r := &testRelay{
		srv:      srv,
		mock:     mock,
		bus:      bus,
		queue:    queue,
		registry: registry,
		metrics:  m,
		cancel:   cancel,
		loopErr:  make(chan error, 1),
	}
	go func() { r.loopErr <- loop.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	waitFor(t, "first publish", func() bool {
		_, version := bus.Current()
		return version > 0
	})
	return r
}

// viewerConn is a test viewer. A single goroutine reads the connection so
// that waiting for silence never sets a read deadline, which would leave the
// gorilla connection unusable.
type viewerConn struct {
	*websocket.Conn
	msgs chan wsMessage
}

type wsMessage struct {
	typ  int
	data []byte
	err  error
}

func (r *testRelay) dial(t *testing.T) *viewerConn {
	t.Helper()
	return dialViewer(t, r.srv.URL)
}

func dialViewer(t *testing.T, base string) *viewerConn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(base, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	v := &viewerConn{Conn: conn, msgs: make(chan wsMessage, 64)}
	go func() {
		for {
			typ, data, err := conn.ReadMessage()
			v.msgs <- wsMessage{typ: typ, data: data, err: err}
			if err != nil {
				return
			}
		}
	}()
	return v
}

// next returns the next message or read error, failing after 2s.
func (v *viewerConn) next(t *testing.T) wsMessage {
	t.Helper()
	select {
	case m := <-v.msgs:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a message")
		return wsMessage{}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func readMessage(t *testing.T, conn *viewerConn) (int, []byte) {
	t.Helper()
	m := conn.next(t)
	if m.err != nil {
		t.Fatalf("read: %v", m.err)
	}
	return m.typ, m.data
}

// readClose returns the error that ended the connection.
func readClose(t *testing.T, conn *viewerConn) error {
	t.Helper()
	for {
		m := conn.next(t)
		if m.err != nil {
			return m.err
		}
	}
}

// expectSilence fails if a message arrives within d.
func expectSilence(t *testing.T, conn *viewerConn, d time.Duration) {
	t.Helper()
	select {
	case m := <-conn.msgs:
		if m.err != nil {
			t.Fatalf("connection ended: %v", m.err)
		}
		t.Fatalf("unexpected message type %d: %q", m.typ, m.data)
	case <-time.After(d):
	}
}

// readInitial consumes the URL and frame every viewer gets on connect.
func readInitial(t *testing.T, conn *viewerConn) []byte {
	t.Helper()
	typ, data := readMessage(t, conn)
	if typ != websocket.TextMessage || string(data) != "about:blank" {
		t.Fatalf("first message = (%d, %q), want the current url", typ, data)
	}
	typ, frame := readMessage(t, conn)
	if typ != websocket.BinaryMessage || len(frame) == 0 {
		t.Fatalf("second message = (%d, %d bytes), want a binary frame", typ, len(frame))
	}
	return frame
}

func TestViewer_InitialPushExactlyOnce(t *testing.T) {
	r := startRelay(t, 0)
	conn := r.dial(t)

	frame := readInitial(t, conn)
	if !bytes.HasPrefix(frame, []byte("\x89PNG")) {
		t.Errorf("frame is not a PNG")
	}

	// The mock page is static, so nothing else should follow.
	expectSilence(t, conn, 150*time.Millisecond)
}

func TestViewer_ClickBroadcastsFrame(t *testing.T) {
	r := startRelay(t, 0)
	a := r.dial(t)
	b := r.dial(t)
	initial := readInitial(t, a)
	readInitial(t, b)

	if err := a.WriteMessage(websocket.TextMessage, []byte(`{"action":"click","x":100,"y":50}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	for name, conn := range map[string]*viewerConn{"sender": a, "other": b} {
		typ, frame := readMessage(t, conn)
		if typ != websocket.BinaryMessage {
			t.Fatalf("%s: message type = %d, want binary", name, typ)
		}
		if bytes.Equal(frame, initial) {
			t.Errorf("%s: frame unchanged after click", name)
		}
		expectSilence(t, conn, 100*time.Millisecond)
	}
	if got := r.mock.Calls(session.OpClick); got != 1 {
		t.Errorf("clicks = %d, want 1", got)
	}
}

func TestViewer_NavigateSendsURL(t *testing.T) {
	r := startRelay(t, 0)
	conn := r.dial(t)
	readInitial(t, conn)

	msg := `{"action":"navigate","url":"https://example.com/"}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write: %v", err)
	}

	typ, data := readMessage(t, conn)
	if typ != websocket.TextMessage || string(data) != "https://example.com/" {
		t.Fatalf("got (%d, %q), want the new url as text", typ, data)
	}
	typ, _ = readMessage(t, conn)
	if typ != websocket.BinaryMessage {
		t.Fatalf("message type = %d, want binary frame of the new page", typ)
	}
}

func TestViewer_MalformedInputKeepsConnection(t *testing.T) {
	r := startRelay(t, 0)
	conn := r.dial(t)
	readInitial(t, conn)

	for _, msg := range []string{`{"action":"unknown"}`, `not json`, `{"action":"click","x":1}`} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			t.Fatalf("write %q: %v", msg, err)
		}
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}); err != nil {
		t.Fatalf("write binary: %v", err)
	}
	expectSilence(t, conn, 100*time.Millisecond)
	if got := r.registry.Count(); got != 1 {
		t.Fatalf("viewers = %d after malformed input, want 1", got)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"key","key":"a"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if typ, _ := readMessage(t, conn); typ != websocket.BinaryMessage {
		t.Fatalf("message type = %d, want binary frame after key press", typ)
	}

	if got := r.mock.Calls(session.OpClick) + r.mock.Calls(session.OpNavigate); got != 0 {
		t.Errorf("malformed messages reached the driver %d times", got)
	}
	if got := r.mock.Calls(session.OpKey); got != 1 {
		t.Errorf("key presses = %d, want 1", got)
	}
}

func TestViewer_LongURLKeepsConnection(t *testing.T) {
	r := startRelay(t, 0)
	conn := r.dial(t)
	readInitial(t, conn)

	long := "https://example.com/?q=" + strings.Repeat("a", 5000)
	msg := `{"action":"navigate","url":"` + long + `"}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write: %v", err)
	}

	typ, data := readMessage(t, conn)
	if typ != websocket.TextMessage || string(data) != long {
		t.Fatalf("got (%d, %d bytes), want the long url echoed as text", typ, len(data))
	}
}

func getStatus(t *testing.T, r *testRelay) ConnectionInfo {
	t.Helper()
	resp, err := http.Get(r.srv.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d", resp.StatusCode)
	}
	var info ConnectionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return info
}

func TestStatusEndpoint(t *testing.T) {
	r := startRelay(t, 0)

	info := getStatus(t, r)
	if info.ActiveConnections != 0 || !info.Listening {
		t.Fatalf("status before connect = %+v", info)
	}

	conn := r.dial(t)
	readInitial(t, conn)
	if got := getStatus(t, r); got.ActiveConnections != 1 || got.SecondsInactive != 0 {
		t.Fatalf("status with one viewer = %+v", got)
	}

	conn.Close()
	waitFor(t, "viewer removal", func() bool { return r.registry.Count() == 0 })
	if got := getStatus(t, r); got.ActiveConnections != 0 {
		t.Fatalf("status after disconnect = %+v", got)
	}
}

func TestViewer_SessionFailureSendsErrorStatus(t *testing.T) {
	r := startRelay(t, 0)
	conn := r.dial(t)
	readInitial(t, conn)

	r.mock.FailNext(session.OpCapture, errors.New("target crashed"))

	select {
	case err := <-r.loopErr:
		if err == nil {
			t.Fatal("loop returned nil after a driver failure")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}

	typ, data := readMessage(t, conn)
	if typ != websocket.TextMessage {
		t.Fatalf("message type = %d, want text status", typ)
	}
	var status StatusMessage
	if err := json.Unmarshal(data, &status); err != nil {
		t.Fatalf("decode status %q: %v", data, err)
	}
	if status.Type != "status" || status.State != StatusError || !strings.Contains(status.Error, "target crashed") {
		t.Errorf("status = %+v", status)
	}

	err := readClose(t, conn)
	if !websocket.IsCloseError(err, websocket.CloseInternalServerErr) {
		t.Errorf("expected close %d, got %v", websocket.CloseInternalServerErr, err)
	}

	if getStatus(t, r).Listening {
		t.Error("status still listening after the session failed")
	}
}

func TestViewer_ShutdownSendsClosedStatus(t *testing.T) {
	r := startRelay(t, 0)
	conn := r.dial(t)
	readInitial(t, conn)

	r.cancel()

	typ, data := readMessage(t, conn)
	var status StatusMessage
	if typ != websocket.TextMessage || json.Unmarshal(data, &status) != nil || status.State != StatusClosed {
		t.Fatalf("got (%d, %q), want a closed status", typ, data)
	}
	err := readClose(t, conn)
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("expected close %d, got %v", websocket.CloseGoingAway, err)
	}
}

func TestHandleWS_MaxViewers(t *testing.T) {
	r := startRelay(t, 1)
	first := r.dial(t)
	readInitial(t, first)

	wsURL := "ws" + strings.TrimPrefix(r.srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("second viewer was accepted past the limit")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %v", resp)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	r := startRelay(t, 0)

	resp, err := http.Get(r.srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, name := range []string{"tabcast_ticks_total", "tabcast_frames_published_total 1"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics output missing %q", name)
		}
	}
}

func TestSecurityHeaders(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	securityHeaders(inner).ServeHTTP(rec, req)

	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Referrer-Policy":         "no-referrer",
		"Content-Security-Policy": "default-src 'self'; img-src 'self' blob: data:; connect-src 'self' ws: wss:",
	}

	for header, expected := range want {
		if got := rec.Header().Get(header); got != expected {
			t.Errorf("header %s = %q, want %q", header, got, expected)
		}
	}
}

func TestCheckOrigin(t *testing.T) {
	open := NewServer(config.Default(), session.NewBus(), session.NewQueue(1), nil, nil, nil)
	restricted := func() *Server {
		cfg := config.Default()
		cfg.Server.AllowedOrigins = []string{"https://viewer.example"}
		return NewServer(cfg, session.NewBus(), session.NewQueue(1), nil, nil, nil)
	}()

	tests := []struct {
		name   string
		s      *Server
		origin string
		host   string
		want   bool
	}{
		{"no origin", open, "", "relay:8080", true},
		{"same host", open, "http://relay:8080", "relay:8080", true},
		{"localhost", open, "http://localhost:5173", "relay:8080", true},
		{"loopback v6", open, "http://[::1]:5173", "relay:8080", true},
		{"foreign", open, "https://evil.example", "relay:8080", false},
		{"allowed", restricted, "https://viewer.example", "relay:8080", true},
		{"allowed host other scheme", restricted, "http://viewer.example", "relay:8080", true},
		{"not allowed localhost", restricted, "http://localhost:5173", "relay:8080", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			req.Host = tt.host
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := tt.s.checkOrigin(req); got != tt.want {
				t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

func TestServe_WaitsForViewersOnShutdown(t *testing.T) {
	cfg := config.Default()
	bus := session.NewBus()
	bus.Publish(session.State{URL: "about:blank", Frame: session.Frame("f1"), FrameSeq: 1})
	registry := NewRegistry(bus, 0, nil)
	server := NewServer(cfg, bus, session.NewQueue(4), registry, nil, log.New(io.Discard))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- server.Serve(ctx, ln) }()

	conn := dialViewer(t, "http://"+ln.Addr().String())
	readInitial(t, conn)

	// The session dies and the process shuts down right away.
	bus.Close(errors.New("target crashed"))
	cancel()

	select {
	case err := <-served:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
	if got := registry.Count(); got != 0 {
		t.Fatalf("Serve returned with %d viewer handlers still running", got)
	}

	typ, data := readMessage(t, conn)
	var status StatusMessage
	if typ != websocket.TextMessage || json.Unmarshal(data, &status) != nil || status.State != StatusError {
		t.Fatalf("got (%d, %q), want an error status", typ, data)
	}
	if err := readClose(t, conn); !websocket.IsCloseError(err, websocket.CloseInternalServerErr) {
		t.Errorf("expected close %d, got %v", websocket.CloseInternalServerErr, err)
	}
}
