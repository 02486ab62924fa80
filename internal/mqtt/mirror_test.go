package mqtt

import (
	"log/slog"
	"testing"
	"time"

	"github.com/dhruvshrma/persona-flow/internal/config"
	"github.com/dhruvshrma/persona-flow/internal/session"
)

func newTestMirror() *Mirror {
	return NewMirror(config.MQTTConfig{Broker: "mqtt://localhost:1883"}, slog.New(slog.DiscardHandler))
}

func TestPublishNeverBlocks(t *testing.T) {
	m := newTestMirror()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Well past the buffer size with no broker draining the channel.
		for i := 0; i < 1000; i++ {
			m.Publish(session.Event{SessionID: "s1", Type: session.TypeInfo})
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked without a connected broker")
	}

	if len(m.events) != cap(m.events) {
		t.Errorf("buffered %d events, want full buffer of %d", len(m.events), cap(m.events))
	}
}

func TestPublishQueuesBeforeStart(t *testing.T) {
	m := newTestMirror()

	m.Publish(session.Event{SessionID: "s1", Type: session.TypeThinking, Message: "hm"})
	m.Publish(session.Event{SessionID: "s1", Type: session.TypeActing, Message: "go"})

	if len(m.events) != 2 {
		t.Fatalf("queued %d events, want 2", len(m.events))
	}
	ev := <-m.events
	if ev.Type != session.TypeThinking || ev.Message != "hm" {
		t.Errorf("first queued event = %+v", ev)
	}
}

func TestTopics(t *testing.T) {
	m := newTestMirror()
	if got := m.logTopic("abc"); got != "personaflow/sessions/abc/logs" {
		t.Errorf("logTopic = %q", got)
	}
	if got := m.availabilityTopic(); got != "personaflow/availability" {
		t.Errorf("availabilityTopic = %q", got)
	}

	m.cfg.TopicPrefix = "qa/shop"
	if got := m.logTopic("abc"); got != "qa/shop/sessions/abc/logs" {
		t.Errorf("prefixed logTopic = %q", got)
	}
}

func TestStopWithoutStart(t *testing.T) {
	m := newTestMirror()
	if err := m.Stop(t.Context()); err != nil {
		t.Errorf("Stop() before Start() = %v", err)
	}
}
