// Package api implements the REST and WebSocket control surface for
// persona test sessions.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dhruvshrma/persona-flow/internal/architect"
	"github.com/dhruvshrma/persona-flow/internal/buildinfo"
	"github.com/dhruvshrma/persona-flow/internal/session"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response,
// which is not actionable but worth tracking for debugging.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	writeJSON(w, map[string]string{"detail": detail}, logger)
}

// Server is the HTTP control API.
type Server struct {
	address   string
	port      int
	store     *session.Store
	runner    *session.Runner
	architect *architect.Architect
	hub       *Hub
	logger    *slog.Logger
	server    *http.Server

	// pacing spaces out the staged startup notices a launching session
	// emits. Shortened in tests.
	pacing time.Duration
}

// NewServer creates the control API server. hub must be the same Hub
// wired into the runner's sink so live events reach subscribers.
func NewServer(address string, port int, store *session.Store, runner *session.Runner, arch *architect.Architect, hub *Hub, logger *slog.Logger) *Server {
	return &Server{
		address:   address,
		port:      port,
		store:     store,
		runner:    runner,
		architect: arch,
		hub:       hub,
		logger:    logger,
		pacing:    time.Second,
	}
}

// Handler returns the route table. Exposed for httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /api/generate-personas", s.handleGeneratePersonas)
	mux.HandleFunc("POST /api/run-tests", s.handleRunTests)
	mux.HandleFunc("GET /api/test-sessions/{id}", s.handleSessionStatus)
	mux.HandleFunc("GET /api/test-sessions/{id}/report", s.handleSessionReport)
	mux.HandleFunc("GET /api/test-sessions/{id}/logs", s.handleSessionLogs)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests. It blocks until the listener
// fails or the server is shut down.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: log streaming connections stay open for the
		// life of a session.
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found", s.logger)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "PersonaFlow",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}
