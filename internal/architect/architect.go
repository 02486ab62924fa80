// Package architect holds the stateless model calls that bracket a test
// session: generating personas before it and synthesizing the executive
// report after it.
package architect

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dhruvshrma/persona-flow/internal/agent"
	"github.com/dhruvshrma/persona-flow/internal/llm"
	"github.com/dhruvshrma/persona-flow/internal/persona"
)

// personaSchema constrains structured generation to a JSON array of
// {name, system_prompt} objects.
var personaSchema = map[string]any{
	"type": "array",
	"items": map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":          map[string]any{"type": "string"},
			"system_prompt": map[string]any{"type": "string"},
		},
		"required": []string{"name", "system_prompt"},
	},
}

const personaSystemInstruction = `You are an expert market researcher and product strategist.
Your task is to generate a certain number of distinct user personas based on the market segment description provided by the user.

For each persona, you must create a name and a detailed system_prompt that a future AI agent will use.
The system_prompt should encapsulate their personality, technical skill, goals, and pain points.

You MUST respond with ONLY a valid JSON array of persona objects.`

// Architect wraps a gateway client for the session-level calls.
type Architect struct {
	client llm.Client
	model  string
	logger *slog.Logger
}

// New creates an Architect. model may name a stronger model than the
// one persona agents use; empty means the client's default.
func New(client llm.Client, model string, logger *slog.Logger) *Architect {
	if logger == nil {
		logger = slog.Default()
	}
	return &Architect{client: client, model: model, logger: logger}
}

// GeneratePersonas asks the model for n distinct personas for a market
// segment. Unlike agent-loop calls, a bad response here is a plain
// error: there is no run to fail gracefully, only an API request to
// reject.
func (a *Architect) GeneratePersonas(ctx context.Context, marketSegment string, n int) ([]persona.Persona, error) {
	if n <= 0 {
		n = 3
	}

	prompt := fmt.Sprintf(`Generate exactly %d distinct user personas for the market segment: %q

Return them as a JSON array. Each persona should be unique and represent different aspects of this market segment.`, n, marketSegment)

	raw := a.client.Invoke(ctx, llm.Request{
		Prompt: prompt,
		Model:  a.model,
		System: personaSystemInstruction,
		Schema: personaSchema,
	})
	if raw == llm.ErrorSentinel {
		return nil, fmt.Errorf("persona generation: gateway unavailable")
	}

	var personas []persona.Persona
	if err := json.Unmarshal([]byte(raw), &personas); err != nil {
		a.logger.Error("persona generation returned invalid JSON", "error", err, "raw", raw)
		return nil, fmt.Errorf("persona generation: invalid JSON from model: %w", err)
	}
	for _, p := range personas {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("persona generation: %w", err)
		}
	}
	if len(personas) == 0 {
		return nil, fmt.Errorf("persona generation: model returned no personas")
	}

	a.logger.Info("personas generated", "segment", marketSegment, "count", len(personas))
	return personas, nil
}

// SynthesizeReport condenses all persona run logs into one executive
// narrative. The returned text is opaque prose: no parsing or
// validation is applied beyond the sentinel check.
func (a *Architect) SynthesizeReport(ctx context.Context, goal string, outcomes []agent.Outcome) (string, error) {
	a.logger.Info("synthesizing report", "outcomes", len(outcomes))

	var logs strings.Builder
	for _, outcome := range outcomes {
		fmt.Fprintf(&logs, "\n--- START LOG: %s (Success: %t) ---\n", outcome.PersonaName, outcome.Successful)
		serialized, err := json.MarshalIndent(outcome.Log, "", "  ")
		if err != nil {
			return "", fmt.Errorf("serialize log for %s: %w", outcome.PersonaName, err)
		}
		logs.Write(serialized)
		fmt.Fprintf(&logs, "\n--- END LOG: %s ---\n", outcome.PersonaName)
	}

	prompt := fmt.Sprintf(`You are a principal product manager analyzing the results of an automated API test.
The overall goal of the test was: %q

Multiple AI agents, each with a different persona, attempted this goal.
Below are the raw JSON logs of their thought processes and actions.

<RAW_LOGS>
%s
</RAW_LOGS>

Your task is to analyze these logs and generate a concise, insightful report for a busy executive.
The report should be in Markdown format and have the following sections:

### Executive Summary
A 2-3 sentence overview of the test results. Did the agents generally succeed or fail? What was the most significant finding?

### Key Findings & Actionable Insights
A bulleted list of the 3-5 most critical issues discovered across all personas. For each issue, briefly explain the problem and suggest a concrete action for the engineering team.

### Persona Deep Dive
Briefly summarize the experience of 2-3 key personas, highlighting how their unique personality led to different outcomes.`, goal, logs.String())

	report := a.client.Invoke(ctx, llm.Request{Prompt: prompt, Model: a.model})
	if report == llm.ErrorSentinel {
		return "", fmt.Errorf("report synthesis: gateway unavailable")
	}
	return report, nil
}
