// Package http provides inbound HTTP adapters for the price API.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/archon-research/stl/price-api/internal/ports/inbound"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	// Addr is the address to listen on (e.g., ":8000")
	Addr string

	// Logger for the server
	Logger *slog.Logger

	// ReadTimeout for HTTP requests
	ReadTimeout time.Duration

	// WriteTimeout for HTTP responses. It must leave room for the oracle
	// retries (two calls plus backoff).
	WriteTimeout time.Duration

	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler
}

// ServerConfigDefaults returns a config with default values.
func ServerConfigDefaults() ServerConfig {
	return ServerConfig{
		Addr:         ":8000",
		Logger:       slog.Default(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 90 * time.Second,
	}
}

// Server serves the price API together with readiness and liveness probes.
//
// Endpoints:
//   - /price         - price lookup
//   - /health        - status and chain name
//   - /health/ready  - 200 once the chain connectivity check has passed (readiness probe)
//   - /health/live   - 200 while the process is healthy (liveness probe)
//   - /metrics       - Prometheus exposition, when configured
//
// On SIGTERM the owner sets shuttingDown; probes then return 503 so the load
// balancer drains the instance before Shutdown is called.
type Server struct {
	server       *http.Server
	checker      inbound.HealthChecker
	shuttingDown *atomic.Bool
	logger       *slog.Logger
}

// NewServer creates a new API server.
func NewServer(config ServerConfig, handler *Handler, checker inbound.HealthChecker, shuttingDown *atomic.Bool) *Server {
	defaults := ServerConfigDefaults()
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if shuttingDown == nil {
		shuttingDown = &atomic.Bool{}
	}

	s := &Server{
		checker:      checker,
		shuttingDown: shuttingDown,
		logger:       config.Logger.With("component", "http-server"),
	}

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.HandleFunc("GET /health/ready", s.handleReady)
	mux.HandleFunc("GET /health/live", s.handleLive)
	if config.MetricsHandler != nil {
		mux.Handle("GET /metrics", config.MetricsHandler)
	}

	s.server = &http.Server{
		Addr:         config.Addr,
		Handler:      withCORS(mux),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// ListenAndServe blocks until the server stops. A graceful Shutdown is not an error.
func (s *Server) ListenAndServe() error {
	s.logger.Info("starting HTTP server", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handleReady handles the readiness probe.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown.Load() {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
		return
	}
	if s.checker.IsReady() {
		s.respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	} else {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
	}
}

// handleLive handles the liveness probe.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown.Load() {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
		return
	}
	if s.checker.IsHealthy() {
		s.respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	} else {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", "error", err)
	}
}
