package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/tabcast/relay/internal/config"
	"github.com/tabcast/relay/internal/metrics"
	"github.com/tabcast/relay/internal/monitor"
	"github.com/tabcast/relay/internal/session"
)

type Server struct {
	config         *config.Config
	bus            *session.Bus
	queue          *session.Queue
	registry       *Registry
	metrics        *metrics.Collector
	sampler        *monitor.Sampler
	static         http.Handler
	logger         *log.Logger
	upgrader       websocket.Upgrader
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool

	// viewers counts running /ws handlers; Serve waits for them on shutdown.
	viewers sync.WaitGroup
}

func NewServer(cfg *config.Config, bus *session.Bus, queue *session.Queue, registry *Registry, m *metrics.Collector, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		config:         cfg,
		bus:            bus,
		queue:          queue,
		registry:       registry,
		metrics:        m,
		logger:         logger,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin:     s.checkOrigin,
	}

	for _, origin := range cfg.Server.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}
	return s
}

// SetStatic configures the handler serving the web viewer at /. Must be
// called before Handler.
func (s *Server) SetStatic(h http.Handler) {
	s.static = h
}

// SetProcessSampler enables /api/process. Must be called before Handler.
func (s *Server) SetProcessSampler(sampler *monitor.Sampler) {
	s.sampler = sampler
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("GET /status", s.handleStatus)
	if s.sampler != nil {
		mux.HandleFunc("GET /api/process", s.handleProcess)
	}
	if s.config.Metrics.Enabled && s.metrics != nil {
		mux.Handle("GET "+s.config.Metrics.Path, s.metrics.Handler())
	}
	if s.static != nil {
		mux.Handle("/", s.static)
	}
	return securityHeaders(mux)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	// Added before the upgrade so that Shutdown, which waits for connections
	// not yet hijacked, orders every Add before Serve's Wait.
	s.viewers.Add(1)
	defer s.viewers.Done()

	if s.registry.Full() {
		http.Error(w, "too many viewers", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	v := newViewer(conn, s.bus, s.queue, s.config.Viewer, s.metrics, s.logger)
	if err := s.registry.Add(v); err != nil {
		s.logger.Warn("rejecting viewer", "remote", r.RemoteAddr, "err", err)
		v.writeClose(websocket.CloseTryAgainLater, err.Error())
		v.sub.Close()
		conn.Close()
		return
	}
	s.logger.Info("viewer connected", "viewer", v.id[:8], "remote", r.RemoteAddr, "active", s.registry.Count())

	v.run(r.Context())

	s.registry.Remove(v)
	s.logger.Info("viewer disconnected", "viewer", v.id[:8], "remote", r.RemoteAddr, "active", s.registry.Count())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.registry.Snapshot())
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	report, err := s.sampler.Sample(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("sample process: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, report)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(v)
}

// securityHeaders sets the headers every response carries. The viewer
// renders frames from blob: URLs and connects back over ws:/wss:.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'self'; img-src 'self' blob: data:; connect-src 'self' ws: wss:")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}
	if host == r.Host {
		return true
	}

	switch parsed.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// Run serves until ctx is cancelled, then shuts down. Cancelling ctx also
// cancels the request context of every open viewer connection.
func (s *Server) Run(ctx context.Context) error {
	addr := s.config.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	// Hijacked websocket connections are not tracked by Shutdown. Let the
	// viewers deliver their final status and close frame.
	drained := make(chan struct{})
	go func() {
		s.viewers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		s.logger.Warn("viewers still open after shutdown timeout", "active", s.registry.Count())
	}
	s.logger.Info("server stopped")
	return nil
}
