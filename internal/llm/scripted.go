package llm

import (
	"context"
	"sync"
)

// Scripted is a Client that replays a fixed sequence of responses.
// Intended for tests that drive multi-step agent runs without a live
// model. Once the script is exhausted, or when Fail is set, Invoke
// returns [ErrorSentinel] exactly like a real gateway fault.
type Scripted struct {
	mu        sync.Mutex
	responses []string
	// Fail forces every subsequent Invoke to return the sentinel.
	Fail bool
	// Calls counts Invoke invocations.
	Calls int
	// Requests records every request received, in order.
	Requests []Request
}

// NewScripted creates a scripted client that returns the given
// responses in order.
func NewScripted(responses ...string) *Scripted {
	return &Scripted{responses: responses}
}

// Invoke pops the next scripted response.
func (s *Scripted) Invoke(_ context.Context, req Request) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Calls++
	s.Requests = append(s.Requests, req)

	if s.Fail || len(s.responses) == 0 {
		return ErrorSentinel
	}

	next := s.responses[0]
	s.responses = s.responses[1:]
	return next
}

// Push appends a response to the script.
func (s *Scripted) Push(response string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, response)
}
