// Package api is the HTTP surface of the sync server. Handlers decode
// requests, call the engine or store, and encode results; all sync
// semantics live in the engine.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/calderon/ventasync/internal/engine"
	"github.com/calderon/ventasync/internal/store"
)

// Server is the HTTP API server for ventasync.
type Server struct {
	config      Config
	http        *http.Server
	store       *store.Store
	engine      *engine.Engine
	metrics     *Metrics
	rateLimiter *RateLimiter
}

// NewServer creates a new Server with the given config and store.
func NewServer(cfg Config, st *store.Store) (*Server, error) {
	s := &Server{
		config:      cfg,
		store:       st,
		engine:      engine.New(st, slog.Default()).WithPageSize(cfg.PullPageSize),
		metrics:     NewMetrics(),
		rateLimiter: NewRateLimiter(),
	}

	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Start begins listening for HTTP requests (non-blocking).
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("http server", "err", err)
		}
	}()

	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the fully wired HTTP handler, mainly for tests that
// mount the server on their own listener.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// routes builds the HTTP handler with all routes and middleware.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Health & metrics
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /metricz", s.handleMetrics)

	// Auth
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/logout", s.requireDevice(s.handleLogout))
	mux.HandleFunc("GET /api/auth/verify", s.requireDevice(s.handleVerify))

	// Sync
	mux.HandleFunc("POST /api/sync/pull", s.requireDevice(s.withRateLimit(s.handlePull, s.config.RateLimitPull)))
	mux.HandleFunc("POST /api/sync/push", s.requireDevice(s.withRateLimit(s.handlePush, s.config.RateLimitPush)))
	mux.HandleFunc("GET /api/sync/conflicts", s.requireDevice(s.withRateLimit(s.handleConflicts, s.config.RateLimitOther)))
	mux.HandleFunc("POST /api/sync/conflicts/{uuid}/resolve", s.requireDevice(s.withRateLimit(s.handleResolveConflict, s.config.RateLimitOther)))
	mux.HandleFunc("GET /api/sync/sessions", s.requireDevice(s.withRateLimit(s.handleSessions, s.config.RateLimitOther)))
	mux.HandleFunc("GET /api/sync/datos/{tabla}", s.requireDevice(s.withRateLimit(s.handleSnapshot, s.config.RateLimitOther)))

	return chain(mux, recoveryMiddleware, requestIDMiddleware, loggerMiddleware, metricsMiddleware(s.metrics), loggingMiddleware, maxBytesMiddleware(10<<20), authRateLimitMiddleware(s.rateLimiter, s.config.RateLimitAuth))
}

// handleHealth returns a health check response, pinging the database.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "detail": "db unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMetrics returns a snapshot of server metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

// userJSON is the wire shape of a user in auth responses.
type userJSON struct {
	ID     string `json:"id"`
	Nombre string `json:"nombre"`
	Email  string `json:"email"`
	Rol    string `json:"rol"`
}

func toUserJSON(u *store.User) userJSON {
	return userJSON{ID: u.ID, Nombre: u.Name, Email: u.Email, Rol: u.Role}
}
