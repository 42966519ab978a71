// Package server exposes monitored sessions over HTTP.
//
// Each websocket connection on /ws/session is one candidate page: the page
// relays its browser events as signal frames and control actions, and the
// server runs a private monitor for it, answering with escalation notices,
// status snapshots and fullscreen commands. Ended sessions are sealed and
// handed to the forwarder. The same router serves health, metrics and the
// stored session history.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"proctord/internal/config"
	"proctord/internal/health"
	"proctord/internal/metrics"
	"proctord/internal/proctor"
	"proctord/internal/report"
)

// ErrServerClosed is returned by Serve after Shutdown.
var ErrServerClosed = errors.New("server: closed")

// Config holds transport settings.
type Config struct {
	Listen            string
	AllowedOrigins    []string
	MaxMessageBytes   int64
	SignalsPerSecond  float64
	SignalBurst       int
	WriteTimeout      time.Duration
	MaxSessions       int
	FullscreenTimeout time.Duration
}

// FromConfig converts the file configuration's server section.
func FromConfig(c *config.Config) Config {
	return Config{
		Listen:            c.Server.Listen,
		AllowedOrigins:    append([]string(nil), c.Server.AllowedOrigins...),
		MaxMessageBytes:   c.Server.MaxMessageBytes,
		SignalsPerSecond:  c.Server.SignalsPerSecond,
		SignalBurst:       c.Server.SignalBurst,
		WriteTimeout:      c.WriteTimeout(),
		MaxSessions:       c.Server.MaxSessions,
		FullscreenTimeout: 5 * time.Second,
	}
}

// Options carries the server's collaborators. Only MonitorConfig is
// required.
type Options struct {
	// MonitorConfig returns the configuration for a new session. It is
	// consulted on every activation so reloaded settings apply to the next
	// session.
	MonitorConfig func() *proctor.Config

	Forwarder *report.Forwarder
	History   History
	Metrics   *metrics.Metrics
	Health    *health.Checker
	Logger    *slog.Logger
}

// Server is the HTTP and websocket front end.
type Server struct {
	cfg           Config
	monitorConfig func() *proctor.Config
	forwarder     *report.Forwarder
	history       History
	metrics       *metrics.Metrics
	health        *health.Checker
	logger        *slog.Logger

	router   *mux.Router
	handler  http.Handler
	upgrader websocket.Upgrader

	mu      sync.Mutex
	conns   map[string]*conn
	closed  bool
	wg      sync.WaitGroup
	httpSrv *http.Server
}

// New creates a server.
func New(cfg Config, opts Options) (*Server, error) {
	if opts.MonitorConfig == nil {
		return nil, errors.New("server: monitor config is required")
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 64 * 1024
	}
	if cfg.SignalsPerSecond <= 0 {
		cfg.SignalsPerSecond = 50
	}
	if cfg.SignalBurst <= 0 {
		cfg.SignalBurst = 100
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.FullscreenTimeout <= 0 {
		cfg.FullscreenTimeout = 5 * time.Second
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:           cfg,
		monitorConfig: opts.MonitorConfig,
		forwarder:     opts.Forwarder,
		history:       opts.History,
		metrics:       opts.Metrics,
		health:        opts.Health,
		logger:        logger.With("component", "server"),
		conns:         make(map[string]*conn),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	if s.health == nil {
		s.health = health.NewChecker()
	}
	s.health.Add("sessions", false, health.SessionsCheck(s.Sessions, cfg.MaxSessions))
	if s.forwarder != nil {
		s.health.Add("forwarder", false, health.ForwarderCheck(s.forwarder.Stats))
	}
	s.router = s.routes()
	s.handler = s.router
	if len(cfg.AllowedOrigins) > 0 {
		// Lets a dashboard on an allowed origin read health and history.
		s.handler = cors.New(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet},
			AllowedHeaders: []string{"Content-Type"},
		}).Handler(s.router)
	}
	return s, nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()

	r.Handle("/healthz", s.health.Handler()).Methods(http.MethodGet)
	r.Handle("/livez", s.health.LiveHandler()).Methods(http.MethodGet)
	r.Handle("/readyz", s.health.ReadyHandler()).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metricsHandler()).Methods(http.MethodGet)
	}
	r.HandleFunc("/ws/session", s.handleSession).Methods(http.MethodGet)

	if s.history != nil {
		api := r.PathPrefix("/api").Subrouter()
		api.HandleFunc("/sessions", s.listSessions).Methods(http.MethodGet)
		api.HandleFunc("/sessions/{id}", s.getSession).Methods(http.MethodGet)
		api.HandleFunc("/sessions/{id}/log", s.getSessionLog).Methods(http.MethodGet)
	}
	return r
}

// metricsHandler refreshes forwarder totals before each scrape.
func (s *Server) metricsHandler() http.Handler {
	h := s.metrics.Handler()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.forwarder != nil {
			s.metrics.RecordForwarder(s.forwarder.Stats())
		}
		h.ServeHTTP(w, r)
	})
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Sessions returns the number of open session connections.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(s.cfg.AllowedOrigins) == 0 {
		return sameHost(origin, r.Host)
	}
	return slices.Contains(s.cfg.AllowedOrigins, "*") || slices.Contains(s.cfg.AllowedOrigins, origin)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()

	s.mu.Lock()
	full := s.cfg.MaxSessions > 0 && len(s.conns) >= s.cfg.MaxSessions
	closed := s.closed
	s.mu.Unlock()
	if closed {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	if full {
		s.logger.Warn("session limit reached", "limit", s.cfg.MaxSessions)
		http.Error(w, "session limit reached", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c, err := newConn(s, id, ws)
	if err != nil {
		s.logger.Error("create session", "error", err)
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "monitor unavailable"),
			time.Now().Add(s.cfg.WriteTimeout))
		ws.Close()
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		c.mon.Close()
		ws.Close()
		return
	}
	s.conns[id] = c
	s.wg.Add(1)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.Connections.Inc()
	}

	s.logger.Info("session connected", "conn_id", id, "remote", r.RemoteAddr)
	defer func() {
		s.mu.Lock()
		delete(s.conns, id)
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.Connections.Dec()
		}
		s.logger.Info("session disconnected", "conn_id", id)
		s.wg.Done()
	}()

	c.run()
}

// Serve accepts connections on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrServerClosed
	}
	s.httpSrv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpSrv
	s.mu.Unlock()

	s.health.SetServing(true)
	s.logger.Info("serving", "addr", l.Addr().String())

	err := srv.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return ErrServerClosed
	}
	return err
}

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	l, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Listen, err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(l) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	<-errCh
	return nil
}

// Shutdown stops accepting connections, ends every open session and waits
// for them to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.httpSrv
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	s.health.SetServing(false)

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}

	// Hijacked websocket connections are not tracked by http.Server.
	for _, c := range conns {
		c.shutdown()
		c.ws.SetReadDeadline(time.Now())
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	return err
}
