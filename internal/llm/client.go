// Package llm provides the language model gateway.
//
// The gateway contract is deliberately lossy on errors: Invoke never
// fails, it returns ErrorSentinel instead. Callers feed the returned
// text straight into decision decoding, so a gateway fault surfaces as
// a decode failure and terminates the persona's run the same way a
// malformed model response would.
package llm

import "context"

// ErrorSentinel is returned by Invoke for any gateway-level failure:
// unreachable service, non-2xx status, timeout, or an undecodable
// response body. It is valid JSON but never a valid decision.
const ErrorSentinel = `{"error": "Failed to communicate with the language model service."}`

// Request carries one generation call.
type Request struct {
	// Prompt is the fully rendered prompt text.
	Prompt string
	// Model overrides the client's default model when non-empty.
	Model string
	// System is an optional system-level instruction.
	System string
	// Schema, when non-nil, constrains the output to the given JSON
	// schema (structured generation).
	Schema map[string]any
}

// Client is the gateway boundary. Implementations must bound their wait
// with a fixed ceiling and must return ErrorSentinel rather than an
// error for any failure.
type Client interface {
	Invoke(ctx context.Context, req Request) string
}
