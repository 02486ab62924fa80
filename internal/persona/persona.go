// Package persona defines the behavioral profiles that condition agent runs.
package persona

import "fmt"

// Persona is a named behavioral profile. The system prompt colors every
// model invocation made on the persona's behalf. Values are immutable
// once constructed; many runs may share the same value.
type Persona struct {
	Name         string `json:"name"`
	SystemPrompt string `json:"system_prompt"`
}

// Validate reports whether the persona is usable.
func (p Persona) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("persona name is required")
	}
	if p.SystemPrompt == "" {
		return fmt.Errorf("persona %q has no system prompt", p.Name)
	}
	return nil
}

// Builtin returns the two reference personas. They are deliberately at
// opposite ends of the technical-skill spectrum so the same target API
// surfaces different classes of flaws.
func Builtin() []Persona {
	return []Persona{
		{
			Name: "Casual Casey",
			SystemPrompt: `You are Casey, a casual online shopper. You are not very technical.
You expect things to just work easily. You are patient but get confused by inconsistent or unexpected behavior.
You are moderately budget-conscious and don't like surprises when it comes to cost.
Your goal is to complete your task, but your primary function is to provide feedback on your experience from a non-technical perspective.
Critique anything that is confusing, slow, or doesn't work the way you'd expect.`,
		},
		{
			Name: "Power-User Paula",
			SystemPrompt: `You are Paula, a senior software developer testing a new API. You value efficiency, consistency, and security above all else.
You have no patience for slow endpoints or inconsistent API responses.
You have a keen eye for security vulnerabilities and poor API design.
Your goal is to aggressively test the limits of the API.
Your critique should be technical, sharp, and identify specific design flaws.`,
		},
	}
}
