// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"errors"
	"sync"
)

// MockProvider answers every request with Response, or fails with Err.
// ChatFunc, when set, takes over completely.
type MockProvider struct {
	Response string
	Err      error
	ChatFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// Chat implements Provider.
func (m *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return mockResponse(req, m.Response), nil
}

// ScriptedMockProvider pops one response per call and records every request.
// A plan reply followed by a summary reply scripts one task execution.
type ScriptedMockProvider struct {
	mu        sync.Mutex
	Responses []string
	Err       error
	CallCount int
	Requests  []ChatRequest
}

// NewScriptedMockProvider creates a provider that replies with responses in order.
func NewScriptedMockProvider(responses ...string) *ScriptedMockProvider {
	return &ScriptedMockProvider{Responses: responses}
}

// Chat implements Provider. It fails once the script is exhausted.
func (s *ScriptedMockProvider) Chat(_ context.Context, req ChatRequest) (*ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.CallCount++
	s.Requests = append(s.Requests, req)
	if s.Err != nil {
		return nil, s.Err
	}
	if len(s.Responses) == 0 {
		return nil, errors.New("scripted mock: no more responses available")
	}
	content := s.Responses[0]
	s.Responses = s.Responses[1:]
	return mockResponse(req, content), nil
}

// LastRequest returns the most recent request, or the zero value.
func (s *ScriptedMockProvider) LastRequest() ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Requests) == 0 {
		return ChatRequest{}
	}
	return s.Requests[len(s.Requests)-1]
}

// mockResponse reports usage at roughly four characters per token.
func mockResponse(req ChatRequest, content string) *ChatResponse {
	prompt := 0
	for _, m := range req.Messages {
		prompt += len(m.Content)
	}
	usage := Usage{PromptTokens: prompt / 4, CompletionTokens: len(content) / 4}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	return &ChatResponse{Content: content, Usage: usage}
}
