package agent

import "fmt"

// promptTemplate assembles the persona directive, the goal, the tool
// catalog, and the rendered history into one generation prompt. The
// closing instruction pins the JSON protocol the decision decoder
// expects.
const promptTemplate = `%s

Your ultimate goal is: "%s"

You have the following tools available:
%s

This is the history of your actions and observations so far:
<history>
%s
</history>

Based on your persona, the goal, and the history, what is your next step?
You MUST respond in the following JSON format:
{
  "thought": "Your detailed thought process and critique of the last observation.",
  "tool_name": "The single tool you will use next.",
  "parameters": { "param_name": "param_value" }
}`

// renderPrompt builds the prompt for one step.
func (a *Agent) renderPrompt(goal string, memory Memory) string {
	return fmt.Sprintf(promptTemplate,
		a.persona.SystemPrompt,
		goal,
		a.tools.Describe(),
		memory.Render(),
	)
}
