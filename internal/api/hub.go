package api

import (
	"log/slog"
	"sync"

	"github.com/dhruvshrma/persona-flow/internal/session"
)

// Hub fans live session events out to WebSocket subscribers, keyed by
// session ID. It implements session.Sink. Subscribers get a buffered
// channel; one that stops draining is dropped rather than allowed to
// stall the runner.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[chan session.Event]struct{}
	logger *slog.Logger
}

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subs:   make(map[string]map[chan session.Event]struct{}),
		logger: logger,
	}
}

// Subscribe registers a new listener for one session's events. The
// returned cancel function must be called when the listener goes away.
func (h *Hub) Subscribe(sessionID string) (<-chan session.Event, func()) {
	ch := make(chan session.Event, 64)

	h.mu.Lock()
	set, ok := h.subs[sessionID]
	if !ok {
		set = make(map[chan session.Event]struct{})
		h.subs[sessionID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[sessionID]; ok {
			if _, present := set[ch]; present {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(h.subs, sessionID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber of its session. A
// subscriber whose buffer is full is evicted.
func (h *Hub) Publish(ev session.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[ev.SessionID]
	if !ok {
		return
	}
	for ch := range set {
		select {
		case ch <- ev:
		default:
			h.logger.Warn("dropping slow log subscriber", "session_id", ev.SessionID)
			delete(set, ch)
			close(ch)
		}
	}
	if len(set) == 0 {
		delete(h.subs, ev.SessionID)
	}
}
