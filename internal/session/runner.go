package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dhruvshrma/persona-flow/internal/agent"
	"github.com/dhruvshrma/persona-flow/internal/architect"
	"github.com/dhruvshrma/persona-flow/internal/llm"
	"github.com/dhruvshrma/persona-flow/internal/persona"
	"github.com/dhruvshrma/persona-flow/internal/toolbelt"
)

// DefaultMaxSteps is the per-persona step budget when a request does
// not set one. Deliberately tighter than the agent package's own
// fallback: a session run covers several personas, and the budget
// bounds total wall time.
const DefaultMaxSteps = 8

// Request describes one session to run.
type Request struct {
	Personas []persona.Persona `json:"personas"`
	Goal     string            `json:"test_goal"`
	APIURL   string            `json:"api_url"`
	MaxSteps int               `json:"max_steps,omitempty"`
}

// Runner drives sessions: one persona at a time against the target API,
// then a synthesized report over all outcomes. Runner methods persist
// every event before publishing it, so a transport that replays the
// store and then follows the sink sees every event at least once.
type Runner struct {
	store     *Store
	client    llm.Client
	architect *architect.Architect
	markers   []string
	sink      Sink
	logger    *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithSink attaches a live event sink.
func WithSink(sink Sink) RunnerOption {
	return func(r *Runner) {
		r.sink = sink
	}
}

// WithMarkers overrides the goal-completion markers passed to agents.
func WithMarkers(markers []string) RunnerOption {
	return func(r *Runner) {
		r.markers = markers
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// NewRunner creates a Runner. architect synthesizes the final report
// with the same gateway client the agents use unless it was built over
// a different model.
func NewRunner(store *Store, client llm.Client, arch *architect.Architect, opts ...RunnerOption) *Runner {
	r := &Runner{
		store:     store,
		client:    client,
		architect: arch,
		markers:   agent.DefaultMarkers,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create registers a new session in status "started" and returns it.
// The caller decides when (and on which goroutine) to Run it.
func (r *Runner) Create(req Request) (*Session, error) {
	if req.Goal == "" {
		return nil, fmt.Errorf("session goal must not be empty")
	}
	if req.APIURL == "" {
		return nil, fmt.Errorf("session api_url must not be empty")
	}
	if len(req.Personas) == 0 {
		return nil, fmt.Errorf("session needs at least one persona")
	}
	if req.MaxSteps <= 0 {
		req.MaxSteps = DefaultMaxSteps
	}

	sess := &Session{
		ID:        uuid.NewString(),
		Status:    StatusStarted,
		Goal:      req.Goal,
		APIURL:    req.APIURL,
		MaxSteps:  req.MaxSteps,
		Personas:  req.Personas,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.Create(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Run executes a created session to completion. It is synchronous;
// callers wanting background execution launch it on their own
// goroutine. Any error returned has already been reflected in the
// session's status and log.
func (r *Runner) Run(ctx context.Context, sess *Session) error {
	r.logger.Info("session started",
		"session_id", sess.ID,
		"goal", sess.Goal,
		"personas", len(sess.Personas),
	)

	if err := r.store.SetStatus(sess.ID, StatusTesting); err != nil {
		return fmt.Errorf("mark session testing: %w", err)
	}

	outcomes := make([]agent.Outcome, 0, len(sess.Personas))
	for _, p := range sess.Personas {
		if err := p.Validate(); err != nil {
			r.logger.Warn("persona skipped", "session_id", sess.ID, "error", err)
			r.emit(Event{
				SessionID: sess.ID,
				Type:      TypeError,
				Message:   fmt.Sprintf("Skipping invalid persona: %v", err),
			})
			continue
		}

		r.emit(Event{
			SessionID:   sess.ID,
			PersonaName: p.Name,
			Type:        TypeInfo,
			Message:     fmt.Sprintf("Persona %s is starting the test.", p.Name),
		})

		tools := toolbelt.New(sess.APIURL, toolbelt.WithLogger(r.logger))
		a := agent.New(p, tools, r.client,
			agent.WithMarkers(r.markers),
			agent.WithLogger(r.logger),
			agent.WithEmitter(r.emitterFor(sess.ID, p.Name)),
		)

		outcome := a.Run(ctx, sess.Goal, sess.MaxSteps)
		outcomes = append(outcomes, outcome)

		r.emit(Event{
			SessionID:   sess.ID,
			PersonaName: p.Name,
			Type:        TypeInfo,
			Message:     fmt.Sprintf("Persona %s finished (success: %t).", p.Name, outcome.Successful),
		})

		if ctx.Err() != nil {
			break
		}
	}

	report, err := r.architect.SynthesizeReport(ctx, sess.Goal, outcomes)
	if err != nil {
		r.logger.Error("report synthesis failed", "session_id", sess.ID, "error", err)
		r.emit(Event{
			SessionID: sess.ID,
			Type:      TypeError,
			Message:   fmt.Sprintf("Report synthesis failed: %v", err),
		})
		if serr := r.store.SetStatus(sess.ID, StatusFailed); serr != nil {
			r.logger.Error("status update failed", "session_id", sess.ID, "error", serr)
		}
		return fmt.Errorf("synthesize report: %w", err)
	}

	if err := r.store.SetResults(sess.ID, report, outcomes); err != nil {
		r.logger.Error("result persistence failed", "session_id", sess.ID, "error", err)
		if serr := r.store.SetStatus(sess.ID, StatusFailed); serr != nil {
			r.logger.Error("status update failed", "session_id", sess.ID, "error", serr)
		}
		return fmt.Errorf("store results: %w", err)
	}
	if err := r.store.SetStatus(sess.ID, StatusCompleted); err != nil {
		return fmt.Errorf("mark session completed: %w", err)
	}

	r.emit(Event{
		SessionID: sess.ID,
		Type:      TypeComplete,
		Message:   "Test session complete.",
		Data: map[string]any{
			"report":  report,
			"results": outcomes,
		},
	})

	r.logger.Info("session completed", "session_id", sess.ID, "outcomes", len(outcomes))
	return nil
}

// Emit persists and publishes an out-of-band event on behalf of the
// transport layer (startup notices, pacing messages).
func (r *Runner) Emit(ev Event) {
	r.emit(ev)
}

func (r *Runner) emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if err := r.store.AppendLog(ev); err != nil {
		r.logger.Error("event persistence failed",
			"session_id", ev.SessionID,
			"type", ev.Type,
			"error", err,
		)
	}
	if r.sink != nil {
		r.sink.Publish(ev)
	}
}

func (r *Runner) emitterFor(sessionID, personaName string) agent.EmitFunc {
	return func(kind, message string, data map[string]any) {
		r.emit(Event{
			SessionID:   sessionID,
			PersonaName: personaName,
			Type:        kind,
			Message:     message,
			Data:        data,
		})
	}
}
