// SPDX-License-Identifier: Apache-2.0

package planner

import (
	"encoding/json"
	"strings"
	"text/template"

	"github.com/jllopis/crewkernel/pkg/core"
	"github.com/jllopis/crewkernel/pkg/errors"
	"github.com/jllopis/crewkernel/pkg/tools"
)

// AgentInfo is how an agent is presented to the planning model. AgentID is
// the id plans must use to assign work.
type AgentInfo struct {
	AgentID      string         `json:"agent_id"`
	Tool         string         `json:"tool"`
	Name         string         `json:"name"`
	Role         string         `json:"role"`
	Capabilities map[string]any `json:"capabilities"`
}

// AgentsFromTools lists the agents behind a tool set, in membership order.
func AgentsFromTools(set *tools.Set) []AgentInfo {
	bindings := set.All()
	out := make([]AgentInfo, 0, len(bindings))
	for _, b := range bindings {
		out = append(out, AgentInfo{
			AgentID:      b.RemoteAgentID,
			Tool:         b.Name,
			Name:         b.AgentName,
			Role:         b.Role,
			Capabilities: b.Capabilities,
		})
	}
	return out
}

var planningTemplate = template.Must(template.New("plan").Parse(`You are an AI task orchestrator. Break the task below into subtasks that specialized AI agents can solve.

TASK DESCRIPTION:
{{.Task}}

AVAILABLE AGENTS:
{{.Agents}}

Create a plan of 3 to 7 sequential subtasks. For each subtask give:
1. A specific, detailed description of the work and the information needed.
2. The agent that should handle it, by its agent_id.
3. Why that agent is the best fit.

Reply with valid JSON only. No code fences, no markdown, no commentary.

{
  "plan": [
    {
      "subtask": "Detailed description of the subtask",
      "agent_id": "agent_id of the assigned agent",
      "reasoning": "Why this agent is suitable for this subtask"
    }
  ]
}
`))

var aggregationTemplate = template.Must(template.New("aggregate").Parse(`You aggregate the results of a multi-agent task execution into one coherent answer.

TASK DESCRIPTION:
{{.Task}}

AGENT RESPONSES:
{{.Responses}}

Write a summary that answers the original task, integrating everything the agents provided. Keep it concise but thorough and actionable.
`))

// PlanningPrompt renders the prompt asking the model for a plan.
func PlanningPrompt(task string, agents []AgentInfo) (string, error) {
	data, err := json.MarshalIndent(agents, "", "  ")
	if err != nil {
		return "", errors.New(errors.CodeInternal, "encode agents for planning prompt", err)
	}
	return render(planningTemplate, map[string]string{"Task": task, "Agents": string(data)})
}

// AggregationPrompt renders the prompt asking the model to combine outcomes.
func AggregationPrompt(task string, outcomes []core.SubtaskOutcome) (string, error) {
	data, err := json.MarshalIndent(outcomes, "", "  ")
	if err != nil {
		return "", errors.New(errors.CodeInternal, "encode outcomes for aggregation prompt", err)
	}
	return render(aggregationTemplate, map[string]string{"Task": task, "Responses": string(data)})
}

func render(t *template.Template, data map[string]string) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", errors.New(errors.CodeInternal, "render "+t.Name()+" prompt", err)
	}
	return b.String(), nil
}
