package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dhruvshrma/persona-flow/internal/architect"
	"github.com/dhruvshrma/persona-flow/internal/llm"
	"github.com/dhruvshrma/persona-flow/internal/persona"
	"github.com/dhruvshrma/persona-flow/internal/session"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// fixture wires a complete control API over a scripted model and a
// stub shop, returning the httptest server and the scripted client.
type fixture struct {
	srv    *httptest.Server
	shop   *httptest.Server
	client *llm.Scripted
	store  *session.Store
}

func newFixture(t *testing.T, responses ...string) *fixture {
	t.Helper()

	shop := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/checkout" {
			json.NewEncoder(w).Encode(map[string]string{"message": "Checkout successful", "order_id": "ord-1"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"products": []any{}})
	}))
	t.Cleanup(shop.Close)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	store, err := session.NewStore(dsn)
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	client := llm.NewScripted(responses...)
	arch := architect.New(client, "", quietLogger())
	hub := NewHub(quietLogger())
	runner := session.NewRunner(store, client, arch,
		session.WithSink(hub),
		session.WithLogger(quietLogger()),
	)

	s := NewServer("", 0, store, runner, arch, hub, quietLogger())
	s.pacing = 0 // no staged-notice delays in tests

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return &fixture{srv: srv, shop: shop, client: client, store: store}
}

func checkoutDecision() string {
	return `{"thought": "buy it", "tool_name": "checkout", "parameters": {"shipping_address": "1 Way", "billing_address": "1 Way"}}`
}

func (f *fixture) startSession(t *testing.T) string {
	t.Helper()
	body, _ := json.Marshal(session.Request{
		Personas: []persona.Persona{{Name: "Solo Sam", SystemPrompt: "You are Sam."}},
		Goal:     "buy anything",
		APIURL:   f.shop.URL,
		MaxSteps: 2,
	})
	resp, err := http.Post(f.srv.URL+"/api/run-tests", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/run-tests: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("run-tests status = %d", resp.StatusCode)
	}
	var launched map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&launched); err != nil {
		t.Fatal(err)
	}
	if launched["session_id"] == "" || launched["status"] != session.StatusStarted {
		t.Fatalf("launch response = %v", launched)
	}
	return launched["session_id"]
}

// awaitStatus polls the status endpoint until the session reaches a
// terminal state.
func (f *fixture) awaitStatus(t *testing.T, id string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(f.srv.URL + "/api/test-sessions/" + id)
		if err != nil {
			t.Fatal(err)
		}
		var got map[string]any
		json.NewDecoder(resp.Body).Decode(&got)
		resp.Body.Close()
		switch got["status"] {
		case session.StatusCompleted, session.StatusFailed:
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("session never reached a terminal state")
	return nil
}

func TestRootAndHealth(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var root map[string]string
	json.NewDecoder(resp.Body).Decode(&root)
	if root["name"] != "PersonaFlow" || root["status"] != "ok" {
		t.Errorf("root = %v", root)
	}

	resp2, err := http.Get(f.srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	var health map[string]string
	json.NewDecoder(resp2.Body).Decode(&health)
	if health["status"] != "healthy" {
		t.Errorf("health = %v", health)
	}
}

func TestGeneratePersonas(t *testing.T) {
	f := newFixture(t, `[{"name": "Budget Bob", "system_prompt": "You are Bob."}]`)

	body := []byte(`{"market_segment": "frugal gamers", "count": 1}`)
	resp, err := http.Post(f.srv.URL+"/api/generate-personas", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var got struct {
		Personas []persona.Persona `json:"personas"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got.Personas) != 1 || got.Personas[0].Name != "Budget Bob" {
		t.Errorf("personas = %+v", got.Personas)
	}
}

func TestGeneratePersonasRejectsEmptySegment(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Post(f.srv.URL+"/api/generate-personas", "application/json",
		strings.NewReader(`{"market_segment": ""}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGeneratePersonasGatewayFailure(t *testing.T) {
	f := newFixture(t)
	f.client.Fail = true

	resp, err := http.Post(f.srv.URL+"/api/generate-personas", "application/json",
		strings.NewReader(`{"market_segment": "anyone"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

func TestRunTestsLifecycle(t *testing.T) {
	f := newFixture(t,
		checkoutDecision(),
		"### Executive Summary\nAll good.",
	)

	id := f.startSession(t)
	got := f.awaitStatus(t, id)

	if got["status"] != session.StatusCompleted {
		t.Errorf("status = %v", got["status"])
	}
	if !strings.Contains(got["final_report"].(string), "Executive Summary") {
		t.Errorf("final_report = %v", got["final_report"])
	}
	results := got["test_results"].([]any)
	if len(results) != 1 {
		t.Fatalf("test_results = %v", results)
	}
	outcome := results[0].(map[string]any)
	if outcome["persona_name"] != "Solo Sam" || outcome["was_successful"] != true {
		t.Errorf("outcome = %v", outcome)
	}

	persisted, err := f.store.LogCount(id)
	if err != nil {
		t.Fatal(err)
	}
	if lc, ok := got["log_count"].(float64); !ok || int(lc) != persisted {
		t.Errorf("log_count = %v, store holds %d events", got["log_count"], persisted)
	}
	if persisted == 0 {
		t.Error("completed session has no log events")
	}
}

func TestRunTestsRejectsBadRequest(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body string
	}{
		{"not json", "{{{"},
		{"missing goal", `{"api_url": "http://x", "personas": [{"name": "A", "system_prompt": "B"}]}`},
		{"no personas", `{"test_goal": "g", "api_url": "http://x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(f.srv.URL+"/api/run-tests", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestSessionStatusUnknown(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/api/test-sessions/" + uuid.NewString())
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestSessionReport(t *testing.T) {
	f := newFixture(t,
		checkoutDecision(),
		"# Report\n\nA **significant** finding.",
	)
	id := f.startSession(t)
	f.awaitStatus(t, id)

	t.Run("markdown", func(t *testing.T) {
		resp, err := http.Get(f.srv.URL + "/api/test-sessions/" + id + "/report")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/markdown") {
			t.Errorf("content type = %q", ct)
		}
		var buf bytes.Buffer
		buf.ReadFrom(resp.Body)
		if got := buf.String(); got != "# Report\n\nA **significant** finding." {
			t.Errorf("report body = %q", got)
		}
	})

	t.Run("html", func(t *testing.T) {
		resp, err := http.Get(f.srv.URL + "/api/test-sessions/" + id + "/report?format=html")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/html") {
			t.Errorf("content type = %q", ct)
		}
		var buf bytes.Buffer
		buf.ReadFrom(resp.Body)
		html := buf.String()
		if !strings.Contains(html, "<strong>significant</strong>") {
			t.Errorf("markdown not rendered: %s", html)
		}
	})
}

func TestSessionReportNotReady(t *testing.T) {
	f := newFixture(t)
	// Create a session without running it: the report stays empty.
	body, _ := json.Marshal(session.Request{
		Personas: []persona.Persona{{Name: "A", SystemPrompt: "B"}},
		Goal:     "g",
		APIURL:   f.shop.URL,
	})
	resp, _ := http.Post(f.srv.URL+"/api/run-tests", "application/json", bytes.NewReader(body))
	var launched map[string]string
	json.NewDecoder(resp.Body).Decode(&launched)
	resp.Body.Close()

	// The run needs model responses it does not have; it will fail, and
	// a failed session has no report.
	f.awaitStatus(t, launched["session_id"])

	r, err := http.Get(f.srv.URL + "/api/test-sessions/" + launched["session_id"] + "/report")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Body.Close()
	if r.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", r.StatusCode)
	}
}
