// Package agent implements the think-act-observe loop that drives one
// persona toward one goal.
package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dhruvshrma/persona-flow/internal/llm"
	"github.com/dhruvshrma/persona-flow/internal/parse"
	"github.com/dhruvshrma/persona-flow/internal/persona"
)

// DefaultMaxSteps is the step budget when the caller passes none.
const DefaultMaxSteps = 10

// DefaultMarkers are the goal-completion substrings scanned for in tool
// observations. Matching is plain substring search over observation text.
var DefaultMarkers = []string{"Checkout successful", "ORDER CONFIRMED"}

// ToolRunner is the capability surface the loop acts through.
type ToolRunner interface {
	// Describe returns the capability catalog for prompt injection.
	Describe() string
	// Use executes an operation; failures come back encoded in the
	// returned text, never as a fault.
	Use(ctx context.Context, name string, args map[string]any) string
}

// EmitFunc receives progress events synchronously as the loop runs.
// kind is one of "thinking", "acting", "observing", "error".
type EmitFunc func(kind, message string, data map[string]any)

// Agent owns one persona's attempt at one goal.
type Agent struct {
	persona persona.Persona
	tools   ToolRunner
	client  llm.Client
	markers []string
	emit    EmitFunc
	logger  *slog.Logger
}

// Option configures an Agent.
type Option func(*Agent)

// WithMarkers overrides the goal-completion markers.
func WithMarkers(markers []string) Option {
	return func(a *Agent) {
		a.markers = markers
	}
}

// WithEmitter attaches a progress event callback.
func WithEmitter(emit EmitFunc) Option {
	return func(a *Agent) {
		a.emit = emit
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) {
		a.logger = logger
	}
}

// New creates an agent for one persona.
func New(p persona.Persona, tools ToolRunner, client llm.Client, opts ...Option) *Agent {
	a := &Agent{
		persona: p,
		tools:   tools,
		client:  client,
		markers: DefaultMarkers,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run executes the loop for up to maxSteps iterations and returns the
// run's Outcome. Termination conditions, in priority order per step:
//
//   - a malformed or sentinel model response fails the run fast, with
//     no retry and no later steps;
//   - a goal-completion marker in the fresh observation ends the run
//     successfully without consuming remaining budget;
//   - exhausting maxSteps is a normal boundary outcome, not an error.
//
// Tool-level failures never terminate the loop; they are observations.
// Run stops consuming budget once ctx is cancelled; an in-flight call
// is allowed to complete and its result is discarded.
func (a *Agent) Run(ctx context.Context, goal string, maxSteps int) Outcome {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}

	a.logger.Info("agent run started",
		"persona", a.persona.Name,
		"goal", goal,
		"max_steps", maxSteps,
	)

	var memory Memory

steps:
	for step := 1; step <= maxSteps; step++ {
		if ctx.Err() != nil {
			a.logger.Info("agent run abandoned", "persona", a.persona.Name, "step", step)
			break
		}

		a.send("thinking", fmt.Sprintf("%s is thinking (step %d)...", a.persona.Name, step), nil)

		prompt := a.renderPrompt(goal, memory)
		raw := a.client.Invoke(ctx, llm.Request{Prompt: prompt})

		decision, err := DecodeDecision(parse.Extract(raw))
		if err != nil {
			// Fail fast: a malformed decision means continuing would
			// only compound confusion.
			a.logger.Error("decision decode failed",
				"persona", a.persona.Name,
				"step", step,
				"error", err,
				"raw", raw,
			)
			a.send("error", fmt.Sprintf("%s produced an unusable response at step %d: %v", a.persona.Name, step, err),
				map[string]any{"raw": raw})
			break
		}

		a.send("thinking", fmt.Sprintf("%s: %q", a.persona.Name, decision.Thought), nil)
		memory = append(memory, Turn{Role: RoleAssistant, Content: decision.serialize()})

		a.send("acting", fmt.Sprintf("%s is using: %s", a.persona.Name, decision.ToolName), map[string]any{
			"tool":       decision.ToolName,
			"parameters": decision.Parameters,
		})

		observation := a.tools.Use(ctx, decision.ToolName, decision.Parameters)
		memory = append(memory, Turn{Role: RoleObservation, Content: observation})

		a.send("observing", fmt.Sprintf("%s observed: %s", a.persona.Name, truncate(observation, 200)),
			map[string]any{"full_result": observation})

		if containsAny(observation, a.markers) {
			a.logger.Info("goal achieved", "persona", a.persona.Name, "step", step)
			break steps
		}
	}

	// Re-scan the whole memory: success must still be detected when
	// the loop terminated abnormally right after the marker appeared.
	outcome := Outcome{
		PersonaName: a.persona.Name,
		Log:         memory,
		Successful:  memory.ContainsAny(a.markers),
	}

	a.logger.Info("agent run finished",
		"persona", a.persona.Name,
		"turns", len(memory),
		"successful", outcome.Successful,
	)
	return outcome
}

func (a *Agent) send(kind, message string, data map[string]any) {
	if a.emit != nil {
		a.emit(kind, message, data)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
