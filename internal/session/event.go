// Package session owns session metadata, the ordered log of typed
// events each session produces, and the runner that drives personas
// through a session sequentially.
package session

import "time"

// Event types, in the order a healthy session emits them.
const (
	TypeInfo      = "info"
	TypeThinking  = "thinking"
	TypeActing    = "acting"
	TypeObserving = "observing"
	TypeError     = "error"
	TypeComplete  = "complete"
)

// Session status values.
const (
	StatusStarted   = "started"
	StatusTesting   = "testing"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Event is one timestamped, typed log entry in a session's history.
// Events are emitted synchronously as the session progresses; delivery
// semantics (buffering, replay) belong to the transport.
type Event struct {
	Timestamp   time.Time      `json:"timestamp"`
	SessionID   string         `json:"session_id"`
	PersonaName string         `json:"persona_name,omitempty"`
	Type        string         `json:"type"`
	Message     string         `json:"message"`
	Data        map[string]any `json:"data,omitempty"`
}

// Sink receives session events. Implementations must not block the
// caller for long: the runner publishes inline.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

// Publish calls f(ev).
func (f SinkFunc) Publish(ev Event) { f(ev) }

// multiSink fans one event out to several sinks.
type multiSink []Sink

func (m multiSink) Publish(ev Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(ev)
		}
	}
}

// MultiSink combines sinks; nil entries are skipped.
func MultiSink(sinks ...Sink) Sink {
	return multiSink(sinks)
}
