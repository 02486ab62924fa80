package agent

import (
	"encoding/json"
	"fmt"
)

// Decision is one parsed model turn: the model's reasoning, the single
// operation it chose, and the arguments for it. Decisions are never
// mutated after decoding; they enter Memory in serialized form.
type Decision struct {
	Thought    string         `json:"thought"`
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters"`
}

// DecodeDecision decodes candidate text into a Decision. All three
// fields must be present; extra fields are ignored. A failure here
// means the model has lost the expected protocol.
func DecodeDecision(text string) (Decision, error) {
	var raw struct {
		Thought    *string         `json:"thought"`
		ToolName   *string         `json:"tool_name"`
		Parameters *map[string]any `json:"parameters"`
	}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return Decision{}, fmt.Errorf("decode decision: %w", err)
	}
	if raw.Thought == nil {
		return Decision{}, fmt.Errorf("decode decision: missing field %q", "thought")
	}
	if raw.ToolName == nil || *raw.ToolName == "" {
		return Decision{}, fmt.Errorf("decode decision: missing field %q", "tool_name")
	}
	if raw.Parameters == nil {
		return Decision{}, fmt.Errorf("decode decision: missing field %q", "parameters")
	}

	return Decision{
		Thought:    *raw.Thought,
		ToolName:   *raw.ToolName,
		Parameters: *raw.Parameters,
	}, nil
}

// serialize renders the decision exactly as it is stored in Memory.
func (d Decision) serialize() string {
	data, err := json.Marshal(d)
	if err != nil {
		// A decoded Decision always re-marshals; keep the loop alive
		// regardless.
		return fmt.Sprintf(`{"thought": %q, "tool_name": %q, "parameters": {}}`, d.Thought, d.ToolName)
	}
	return string(data)
}
