// Package api serves the telemetry store over HTTP.
//
//	POST /api/telemetry                         create a record (201)
//	GET  /api/devices                           list devices with last timestamp
//	GET  /api/devices/{id}/telemetry/latest     latest record
//	PUT  /api/devices/{id}/telemetry/latest     merge a partial update
//	GET  /api/devices/{id}/telemetry?limit=N    recent history, oldest first
//	POST /api/devices/{id}/command              forward a command over MQTT (202)
//
// Every response body is JSON; errors are {"error": category, "message": detail}.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/dratasich/telemetry-cache/events"
	"github.com/dratasich/telemetry-cache/metrics"
	"github.com/dratasich/telemetry-cache/normalize"
	"github.com/dratasich/telemetry-cache/store"
)

// Config holds HTTP server configuration
type Config struct {
	Addr            string        `env:"HTTP_ADDR, default=127.0.0.1:5000"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT, default=15s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT, default=15s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT, default=60s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT, default=10s"`

	// history length served when the request has no limit parameter
	DefaultHistoryLimit int `env:"DEFAULT_HISTORY_LIMIT, default=10"`
}

// DefaultConfig returns a default server configuration
func DefaultConfig() Config {
	return Config{
		Addr:                "127.0.0.1:5000",
		ReadTimeout:         15 * time.Second,
		WriteTimeout:        15 * time.Second,
		IdleTimeout:         60 * time.Second,
		ShutdownTimeout:     10 * time.Second,
		DefaultHistoryLimit: 10,
	}
}

// Validate checks that the configuration is coherent.
func (c Config) Validate() error {
	if c.Addr == "" {
		return errors.New("invalid HTTP_ADDR: must not be empty")
	}
	for name, d := range map[string]time.Duration{
		"HTTP_READ_TIMEOUT":  c.ReadTimeout,
		"HTTP_WRITE_TIMEOUT": c.WriteTimeout,
		"HTTP_IDLE_TIMEOUT":  c.IdleTimeout,
		"SHUTDOWN_TIMEOUT":   c.ShutdownTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("invalid %s: must be > 0", name)
		}
	}
	if c.DefaultHistoryLimit < 1 {
		return errors.New("invalid DEFAULT_HISTORY_LIMIT: must be >= 1")
	}
	return nil
}

// Commander forwards commands to devices. Implemented by the MQTT gateway.
type Commander interface {
	SendCommand(ctx context.Context, deviceID string, cmd events.Command) error
	Connected() bool
}

// Server represents the HTTP server of the telemetry cache
type Server struct {
	config     Config
	normalizer *normalize.Normalizer
	store      *store.Store

	commander Commander // nil when MQTT is disabled
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer

	httpServer *http.Server
}

// Option configures optional collaborators of the server.
type Option func(*Server)

// WithCommander enables the command endpoint.
func WithCommander(c Commander) Option {
	return func(s *Server) { s.commander = c }
}

// WithMetrics instruments all routes with m and serves g on /metrics.
func WithMetrics(m *metrics.Metrics, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

// New creates a new server instance
func New(cfg Config, n *normalize.Normalizer, st *store.Store, opts ...Option) *Server {
	s := &Server{
		config:     cfg,
		normalizer: n,
		store:      st,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Handler returns the routed, logged and instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	var h http.Handler = mux
	h = hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	})(h)
	h = hlog.RemoteAddrHandler("ip")(h)
	h = hlog.RequestIDHandler("req_id", "Request-Id")(h)
	h = hlog.NewHandler(log.Logger)(h)
	return h
}

// Start starts the HTTP server and blocks until context is cancelled
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		log.Info().Msgf("Server starting on %s", s.config.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		log.Info().Msg("Server shut down gracefully")
		return nil
	case err := <-errChan:
		return err
	}
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	s.handle(mux, "/{$}", "root", methods{http.MethodGet: s.handleRoot})
	s.handle(mux, "/healthz", "healthz", methods{http.MethodGet: s.handleHealth})
	s.handle(mux, "/debug/echo", "debug_echo", methods{http.MethodPost: s.handleEcho})

	s.handle(mux, "/api/telemetry", "create", methods{http.MethodPost: s.handleCreate})
	s.handle(mux, "/api/devices", "devices", methods{http.MethodGet: s.handleListDevices})
	s.handle(mux, "/api/devices/{id}/telemetry/latest", "latest", methods{
		http.MethodGet: s.handleLatest,
		http.MethodPut: s.handleUpdateLatest,
	})
	s.handle(mux, "/api/devices/{id}/telemetry", "history", methods{http.MethodGet: s.handleHistory})
	s.handle(mux, "/api/devices/{id}/command", "command", methods{http.MethodPost: s.handleCommand})

	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	// everything else
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, errorBody{Error: "NotFound", Message: "Resource not found"})
	})
}

// methods dispatches by HTTP method and answers 405 otherwise.
type methods map[string]http.HandlerFunc

func (m methods) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h, ok := m[r.Method]; ok {
		h(w, r)
		return
	}
	writeError(w, http.StatusMethodNotAllowed, errorBody{
		Error:   "MethodNotAllowed",
		Message: "Check the HTTP method and route",
	})
}

func (s *Server) handle(mux *http.ServeMux, pattern, route string, h http.Handler) {
	if s.metrics != nil {
		labels := prometheus.Labels{"route": route}
		h = promhttp.InstrumentHandlerDuration(s.metrics.HTTPDuration.MustCurryWith(labels), h)
		h = promhttp.InstrumentHandlerCounter(s.metrics.HTTPRequests.MustCurryWith(labels), h)
	}
	mux.Handle(pattern, h)
}
