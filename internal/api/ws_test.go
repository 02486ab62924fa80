package api

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dhruvshrma/persona-flow/internal/session"
)

func wsURL(httpURL, path string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + path
}

func TestLogsWebSocketReplaysSession(t *testing.T) {
	f := newFixture(t,
		checkoutDecision(),
		"### Executive Summary\nDone.",
	)

	id := f.startSession(t)
	f.awaitStatus(t, id)

	// Connect after completion: everything arrives as replay.
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(f.srv.URL, "/api/test-sessions/"+id+"/logs"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var types []string
	for {
		var ev session.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read before complete event: %v (types so far: %v)", err, types)
		}
		if ev.SessionID != id {
			t.Errorf("event carries session %q", ev.SessionID)
		}
		types = append(types, ev.Type)
		if ev.Type == session.TypeComplete {
			break
		}
	}

	joined := strings.Join(types, ",")
	for _, want := range []string{
		session.TypeInfo,
		session.TypeThinking,
		session.TypeActing,
		session.TypeObserving,
		session.TypeComplete,
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("replayed types %v missing %q", types, want)
		}
	}

	persisted, err := f.store.Logs(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(types) < len(persisted) {
		t.Errorf("replayed %d events, store holds %d", len(types), len(persisted))
	}
}

func TestLogsWebSocketUnknownSession(t *testing.T) {
	f := newFixture(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(f.srv.URL, "/api/test-sessions/"+uuid.NewString()+"/logs"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	_, _, err = conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("err = %v, want a close error", err)
	}
	if closeErr.Code != closeUnknownSession {
		t.Errorf("close code = %d, want %d", closeErr.Code, closeUnknownSession)
	}
}

func TestHubSubscribePublish(t *testing.T) {
	hub := NewHub(quietLogger())

	ch, cancel := hub.Subscribe("s1")
	defer cancel()

	hub.Publish(session.Event{SessionID: "s1", Type: session.TypeInfo, Message: "hello"})
	hub.Publish(session.Event{SessionID: "other", Type: session.TypeInfo, Message: "not for us"})

	select {
	case ev := <-ch:
		if ev.Message != "hello" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("subscribed event never arrived")
	}

	select {
	case ev := <-ch:
		t.Errorf("received foreign event %+v", ev)
	default:
	}
}

func TestHubCancelClosesChannel(t *testing.T) {
	hub := NewHub(quietLogger())

	ch, cancel := hub.Subscribe("s1")
	cancel()

	if _, open := <-ch; open {
		t.Error("channel still open after cancel")
	}

	// Publishing after the last cancel must not panic.
	hub.Publish(session.Event{SessionID: "s1", Type: session.TypeInfo})

	// Cancelling twice must not panic either.
	cancel()
}

func TestHubEvictsSlowSubscriber(t *testing.T) {
	hub := NewHub(quietLogger())

	ch, cancel := hub.Subscribe("s1")
	defer cancel()

	// Fill the buffer and overflow it; the subscriber never drains.
	for i := 0; i < 70; i++ {
		hub.Publish(session.Event{SessionID: "s1", Type: session.TypeInfo})
	}

	// The channel was closed on eviction: drain to the close.
	closed := false
	for i := 0; i < 80; i++ {
		if _, open := <-ch; !open {
			closed = true
			break
		}
	}
	if !closed {
		t.Error("slow subscriber was not evicted")
	}
}
