package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestOllamaInvoke(t *testing.T) {
	var captured generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"response": "model says hi", "done": true})
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "gemma3:12b", 5*time.Second, quietLogger())
	got := c.Invoke(context.Background(), Request{Prompt: "hello"})

	if got != "model says hi" {
		t.Errorf("Invoke() = %q", got)
	}
	if captured.Model != "gemma3:12b" {
		t.Errorf("request model = %q", captured.Model)
	}
	if captured.Stream {
		t.Error("streaming must be disabled")
	}
	if captured.Prompt != "hello" {
		t.Errorf("request prompt = %q", captured.Prompt)
	}
}

func TestOllamaInvokeModelOverride(t *testing.T) {
	var captured generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(w).Encode(map[string]any{"response": "ok"})
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "gemma3:12b", 5*time.Second, quietLogger())
	c.Invoke(context.Background(), Request{Prompt: "p", Model: "llama3:8b"})

	if captured.Model != "llama3:8b" {
		t.Errorf("request model = %q, want the per-request override", captured.Model)
	}
}

func TestOllamaInvokeSchemaAndSystem(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(w).Encode(map[string]any{"response": "[]"})
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "m", 5*time.Second, quietLogger())
	c.Invoke(context.Background(), Request{
		Prompt: "p",
		System: "be brief",
		Schema: map[string]any{"type": "array"},
	})

	if captured["system"] != "be brief" {
		t.Errorf("system = %v", captured["system"])
	}
	format, ok := captured["format"].(map[string]any)
	if !ok || format["type"] != "array" {
		t.Errorf("format = %v", captured["format"])
	}
}

func TestOllamaInvokeAcceptsContentField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"content": "from content key"})
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "m", 5*time.Second, quietLogger())
	if got := c.Invoke(context.Background(), Request{Prompt: "p"}); got != "from content key" {
		t.Errorf("Invoke() = %q", got)
	}
}

func TestOllamaInvokeSentinelPaths(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "http error status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
		},
		{
			name: "garbage body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("<html>not json</html>"))
			},
		},
		{
			name: "empty response text",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]any{"done": true})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := NewOllamaClient(srv.URL, "m", 5*time.Second, quietLogger())
			if got := c.Invoke(context.Background(), Request{Prompt: "p"}); got != ErrorSentinel {
				t.Errorf("Invoke() = %q, want the error sentinel", got)
			}
		})
	}
}

func TestOllamaInvokeUnreachableHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // immediately: nothing is listening anymore

	c := NewOllamaClient(srv.URL, "m", time.Second, quietLogger())
	if got := c.Invoke(context.Background(), Request{Prompt: "p"}); got != ErrorSentinel {
		t.Errorf("Invoke() = %q, want the error sentinel", got)
	}
}

func TestErrorSentinelIsValidJSON(t *testing.T) {
	var decoded map[string]string
	if err := json.Unmarshal([]byte(ErrorSentinel), &decoded); err != nil {
		t.Fatalf("sentinel is not valid JSON: %v", err)
	}
	if decoded["error"] == "" {
		t.Error("sentinel missing error key")
	}
}

func TestScriptedClient(t *testing.T) {
	s := NewScripted("one", "two")

	if got := s.Invoke(context.Background(), Request{Prompt: "a"}); got != "one" {
		t.Errorf("first response = %q", got)
	}
	if got := s.Invoke(context.Background(), Request{Prompt: "b"}); got != "two" {
		t.Errorf("second response = %q", got)
	}
	if got := s.Invoke(context.Background(), Request{}); got != ErrorSentinel {
		t.Errorf("exhausted script = %q, want sentinel", got)
	}
	if s.Calls != 3 || len(s.Requests) != 3 {
		t.Errorf("bookkeeping: calls=%d requests=%d", s.Calls, len(s.Requests))
	}

	s.Push("three")
	if got := s.Invoke(context.Background(), Request{}); got != "three" {
		t.Errorf("pushed response = %q", got)
	}

	s.Fail = true
	s.Push("never seen")
	if got := s.Invoke(context.Background(), Request{}); got != ErrorSentinel {
		t.Errorf("failing client = %q, want sentinel", got)
	}
}
