package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dhruvshrma/persona-flow/internal/architect"
	"github.com/dhruvshrma/persona-flow/internal/session"
)

type generatePersonasRequest struct {
	MarketSegment string `json:"market_segment"`
	Count         int    `json:"count,omitempty"`
}

func (s *Server) handleGeneratePersonas(w http.ResponseWriter, r *http.Request) {
	var req generatePersonasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), s.logger)
		return
	}
	if req.MarketSegment == "" {
		writeError(w, http.StatusBadRequest, "market_segment must not be empty", s.logger)
		return
	}
	if req.Count <= 0 {
		req.Count = 3
	}

	personas, err := s.architect.GeneratePersonas(r.Context(), req.MarketSegment, req.Count)
	if err != nil {
		s.logger.Error("persona generation failed", "segment", req.MarketSegment, "error", err)
		writeError(w, http.StatusInternalServerError, "persona generation failed: "+err.Error(), s.logger)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"personas": personas}, s.logger)
}

func (s *Server) handleRunTests(w http.ResponseWriter, r *http.Request) {
	var req session.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), s.logger)
		return
	}

	sess, err := s.runner.Create(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), s.logger)
		return
	}

	go s.launchSession(sess)

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"session_id": sess.ID,
		"status":     sess.Status,
		"message":    "Test session started. Connect to the logs WebSocket for live progress.",
	}, s.logger)
}

// launchSession paces out a few startup notices so log subscribers see
// activity before the first model call returns, then runs the session.
func (s *Server) launchSession(sess *session.Session) {
	ctx := context.Background()

	stages := []string{
		"Preparing test environment...",
		"Initializing AI agents...",
		"Personas ready. Starting autonomous testing...",
	}
	for _, msg := range stages {
		s.runner.Emit(session.Event{
			SessionID: sess.ID,
			Type:      session.TypeInfo,
			Message:   msg,
		})
		time.Sleep(s.pacing)
	}

	if err := s.runner.Run(ctx, sess); err != nil {
		s.logger.Error("session run failed", "session_id", sess.ID, "error", err)
	}
}

// sessionStatus is the status payload: the session record plus how
// many log events it has accumulated so far.
type sessionStatus struct {
	*session.Session
	LogCount int `json:"log_count"`
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.store.Get(id)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "unknown session: "+id, s.logger)
		return
	}
	if err != nil {
		s.logger.Error("session lookup failed", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "session lookup failed", s.logger)
		return
	}

	count, err := s.store.LogCount(id)
	if err != nil {
		s.logger.Error("log count failed", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "session lookup failed", s.logger)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, sessionStatus{Session: sess, LogCount: count}, s.logger)
}

func (s *Server) handleSessionReport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.store.Get(id)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "unknown session: "+id, s.logger)
		return
	}
	if err != nil {
		s.logger.Error("session lookup failed", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "session lookup failed", s.logger)
		return
	}
	if sess.Report == "" {
		writeError(w, http.StatusNotFound, "report not ready for session: "+id, s.logger)
		return
	}

	if r.URL.Query().Get("format") == "html" {
		page, err := architect.RenderHTML(sess.Report)
		if err != nil {
			s.logger.Error("report render failed", "session_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "report render failed", s.logger)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if _, err := w.Write(page); err != nil {
			s.logger.Debug("failed to write HTML response", "error", err)
		}
		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	if _, err := w.Write([]byte(sess.Report)); err != nil {
		s.logger.Debug("failed to write report response", "error", err)
	}
}
