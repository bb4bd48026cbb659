// SPDX-License-Identifier: Apache-2.0

// Package telemetry wires OpenTelemetry tracing and metrics, the slog setup and
// the call trackers used around model calls, agent calls and task executions.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by spans and metrics.
const (
	AttrCrewID          = "crew.id"
	AttrTaskID          = "task.id"
	AttrTaskStatus      = "task.status"
	AttrTaskDescription = "task.description"

	AttrAgentID         = "agent.id"
	AttrAgentName       = "agent.name"
	AttrAgentInput      = "agent.input"
	AttrToolName        = "tool.name"
	AttrConversationKey = "conversation.key"

	AttrLLMModel        = "gen_ai.request.model"
	AttrLLMFunction     = "llm.function"
	AttrLLMPrompt       = "llm.prompt"
	AttrLLMTokensInput  = "gen_ai.usage.input_tokens"
	AttrLLMTokensOutput = "gen_ai.usage.output_tokens"
	AttrLLMCostUSD      = "llm.cost_usd"

	AttrStatus        = "status"
	AttrErrorCode     = "error.code"
	AttrResponseChars = "response.length"
)

// maxAttrLen bounds free-text attributes such as prompts and task descriptions.
const maxAttrLen = 200

// Truncate shortens s to n bytes, appending "..." when cut.
func Truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// TaskAttributes returns attributes for a task execution span.
func TaskAttributes(taskID, crewID, description string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrTaskID, taskID),
		attribute.String(AttrCrewID, crewID),
	}
	if description != "" {
		attrs = append(attrs, attribute.String(AttrTaskDescription, Truncate(description, maxAttrLen)))
	}
	return attrs
}

// AgentAttributes returns attributes for an agent call span.
func AgentAttributes(agentID, agentName, input string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrAgentID, agentID),
		attribute.String(AttrAgentName, agentName),
	}
	if input != "" {
		attrs = append(attrs, attribute.String(AttrAgentInput, Truncate(input, maxAttrLen)))
	}
	return attrs
}

// ModelAttributes returns attributes for a model call span.
func ModelAttributes(model, function, prompt string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrLLMModel, model),
		attribute.String(AttrLLMFunction, function),
	}
	if prompt != "" {
		attrs = append(attrs, attribute.String(AttrLLMPrompt, Truncate(prompt, maxAttrLen)))
	}
	return attrs
}

// UsageAttributes returns token and cost attributes for a finished model call.
func UsageAttributes(usage TokenUsage, cost float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrLLMTokensInput, usage.PromptTokens),
		attribute.Int(AttrLLMTokensOutput, usage.CompletionTokens),
		attribute.Float64(AttrLLMCostUSD, cost),
	}
}
