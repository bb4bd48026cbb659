// SPDX-License-Identifier: Apache-2.0

// Package llm defines the chat model boundary used for planning and
// aggregation, plus test doubles and a dependency-free Ollama adapter.
package llm

import (
	"context"
	"time"

	"github.com/jllopis/crewkernel/pkg/errors"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ToolType represents the type of tool.
type ToolType string

const (
	ToolTypeFunction ToolType = "function"
)

// FunctionDef defines a function tool.
type FunctionDef struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Parameters  interface{} `json:"parameters"` // JSON Schema
}

// Tool describes a callable tool in the shape model APIs expect.
type Tool struct {
	Type     ToolType    `json:"type"`
	Function FunctionDef `json:"function"`
}

// Message is a single unit of communication.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest encapsulates the input for the model.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// ModelOr returns the requested model, or fallback when none was named.
func (r ChatRequest) ModelOr(fallback string) string {
	if r.Model != "" {
		return r.Model
	}
	return fallback
}

// ChatResponse encapsulates the output from the model.
type ChatResponse struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Provider defines the interface for interacting with model backends.
type Provider interface {
	// Chat sends a chat request to the model and returns the response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// CallError wraps a failed provider call as a recoverable LLM_ERROR.
func CallError(provider, model string, err error) error {
	return errors.New(errors.CodeLLMError, provider+" call failed", err).
		WithContext("provider", provider).
		WithContext("model", model).
		WithRecoverable(true)
}

// Settings are the per-call parameters used with a provider.
type Settings struct {
	Model       string
	Temperature float64
	MaxTokens   int
	// Timeout bounds a single call. Zero means no bound.
	Timeout time.Duration
}

// Request builds a chat request carrying these settings.
func (s Settings) Request(messages ...Message) ChatRequest {
	return ChatRequest{
		Model:       s.Model,
		Messages:    messages,
		Temperature: s.Temperature,
		MaxTokens:   s.MaxTokens,
	}
}

// SystemMessage is shorthand for a system-role message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage is shorthand for a user-role message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// SplitSystem separates system messages, joined with blank lines, from the rest.
// Providers whose APIs take the system prompt out of band use it.
func SplitSystem(messages []Message) (string, []Message) {
	var system string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}
