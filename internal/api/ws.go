package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dhruvshrma/persona-flow/internal/session"
)

// closeUnknownSession is the close code sent when a client asks for
// logs of a session that was never created.
const closeUnknownSession = 4004

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The control API has no browser origin to protect; sessions carry
	// no credentials.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleSessionLogs streams a session's event log over a WebSocket:
// first every event persisted so far, then live events until the
// session completes or the client disconnects. A subscriber that
// connects after completion still gets the full replay.
func (s *Server) handleSessionLogs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	known, err := s.store.Exists(id)
	if err != nil {
		s.logger.Error("session lookup failed", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "session lookup failed", s.logger)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "session_id", id, "error", err)
		return
	}
	defer conn.Close()

	if !known {
		msg := websocket.FormatCloseMessage(closeUnknownSession, "unknown session: "+id)
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		return
	}

	// Subscribe before replaying so nothing emitted during the replay
	// is missed. Events append-then-publish, so a duplicate across the
	// replay boundary is possible; a gap is not.
	live, cancel := s.hub.Subscribe(id)
	defer cancel()

	replay, err := s.store.Logs(id)
	if err != nil {
		s.logger.Error("log replay failed", "session_id", id, "error", err)
		return
	}
	for _, ev := range replay {
		if err := conn.WriteJSON(ev); err != nil {
			s.logger.Debug("websocket write failed", "session_id", id, "error", err)
			return
		}
	}

	// Drain client frames so pings and close frames are processed.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case ev, ok := <-live:
			if !ok {
				// Evicted or unsubscribed; say goodbye cleanly.
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Debug("websocket write failed", "session_id", id, "error", err)
				return
			}
			if ev.Type == session.TypeComplete {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session complete")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
				return
			}
		}
	}
}
