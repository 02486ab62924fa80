package agent

import "strings"

// Turn roles. Memory alternates between the two in a healthy run.
const (
	RoleAssistant   = "assistant"
	RoleObservation = "tool_observation"
)

// Turn is one entry in a run's transcript.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Memory is the append-only ordered transcript of one persona run. It
// is the audit trail and doubles as the rendered conversation context
// for the model. It is never truncated within a run: long runs grow
// without bound, which is the accepted default behavior.
type Memory []Turn

// emptyHistory is rendered when no actions have been taken yet.
const emptyHistory = "No actions taken yet."

// Render formats the transcript for prompt injection, one
// "role:\ncontent" block per turn in insertion order.
func (m Memory) Render() string {
	if len(m) == 0 {
		return emptyHistory
	}
	blocks := make([]string, len(m))
	for i, turn := range m {
		blocks[i] = turn.Role + ":\n" + turn.Content
	}
	return strings.Join(blocks, "\n")
}

// ContainsAny reports whether any turn's content contains any of the
// given marker substrings.
func (m Memory) ContainsAny(markers []string) bool {
	for _, turn := range m {
		if containsAny(turn.Content, markers) {
			return true
		}
	}
	return false
}

func containsAny(s string, markers []string) bool {
	for _, marker := range markers {
		if marker != "" && strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

// Outcome summarizes one persona run: the full transcript and whether
// the goal-completion marker ever appeared in it.
type Outcome struct {
	PersonaName string `json:"persona_name"`
	Log         Memory `json:"log"`
	Successful  bool   `json:"was_successful"`
}
