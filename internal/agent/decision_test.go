package agent

import (
	"strings"
	"testing"
)

func TestDecodeDecision(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    Decision
		wantErr string
	}{
		{
			name: "complete decision",
			text: `{"thought": "search first", "tool_name": "search_products", "parameters": {"q": "laptop"}}`,
			want: Decision{
				Thought:    "search first",
				ToolName:   "search_products",
				Parameters: map[string]any{"q": "laptop"},
			},
		},
		{
			name: "empty parameters allowed",
			text: `{"thought": "look around", "tool_name": "get_products", "parameters": {}}`,
			want: Decision{
				Thought:    "look around",
				ToolName:   "get_products",
				Parameters: map[string]any{},
			},
		},
		{
			name: "extra fields ignored",
			text: `{"thought": "t", "tool_name": "get_cart", "parameters": {}, "confidence": 0.9}`,
			want: Decision{Thought: "t", ToolName: "get_cart", Parameters: map[string]any{}},
		},
		{
			name:    "missing thought",
			text:    `{"tool_name": "get_cart", "parameters": {}}`,
			wantErr: "thought",
		},
		{
			name:    "missing tool_name",
			text:    `{"thought": "hm", "parameters": {}}`,
			wantErr: "tool_name",
		},
		{
			name:    "empty tool_name",
			text:    `{"thought": "hm", "tool_name": "", "parameters": {}}`,
			wantErr: "tool_name",
		},
		{
			name:    "missing parameters",
			text:    `{"thought": "hm", "tool_name": "get_cart"}`,
			wantErr: "parameters",
		},
		{
			name:    "not json",
			text:    "I would rather chat.",
			wantErr: "decode decision",
		},
		{
			name:    "gateway sentinel is not a decision",
			text:    `{"error": "Failed to communicate with the language model service."}`,
			wantErr: "thought",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeDecision(tt.text)
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("DecodeDecision() = %+v, want error containing %q", got, tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("error = %v, want mention of %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeDecision() error: %v", err)
			}
			if got.Thought != tt.want.Thought || got.ToolName != tt.want.ToolName {
				t.Errorf("DecodeDecision() = %+v, want %+v", got, tt.want)
			}
			if len(got.Parameters) != len(tt.want.Parameters) {
				t.Errorf("parameters = %#v, want %#v", got.Parameters, tt.want.Parameters)
			}
		})
	}
}

func TestDecisionSerializeRoundTrip(t *testing.T) {
	d := Decision{
		Thought:    "add the mouse",
		ToolName:   "add_to_cart",
		Parameters: map[string]any{"item_id": "2", "quantity": float64(1)},
	}

	got, err := DecodeDecision(d.serialize())
	if err != nil {
		t.Fatalf("serialized decision did not decode: %v", err)
	}
	if got.ToolName != d.ToolName || got.Thought != d.Thought {
		t.Errorf("round trip changed decision: %+v", got)
	}
}
