// SPDX-License-Identifier: Apache-2.0

package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jllopis/crewkernel/pkg/errors"
	"github.com/jllopis/crewkernel/pkg/llm"
)

func TestProviderImplementsInterface(t *testing.T) {
	var _ llm.Provider = (*Provider)(nil)
}

func TestNewProviderDefaults(t *testing.T) {
	p := New(WithAPIKey("test-key"))
	if p.model != "gpt-4" {
		t.Errorf("expected model gpt-4, got %s", p.model)
	}
	if p.name != "openai" {
		t.Errorf("expected openai, got %s", p.name)
	}

	az := New(WithAzure("https://example.openai.azure.com", "2024-06-01", "az-key"), WithModel("planner"))
	if az.name != "azure" || az.model != "planner" {
		t.Errorf("unexpected azure provider %+v", az)
	}
}

func TestChatAgainstCompatibleServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["model"] != "gpt-4" {
			t.Errorf("expected gpt-4, got %v", body["model"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1,
  "model": "gpt-4",
  "choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "{\"plan\": []}"}}],
  "usage": {"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16}
}`))
	}))
	defer srv.Close()

	p := New(WithAPIKey("test-key"), WithBaseURL(srv.URL))
	resp, err := p.Chat(context.Background(), llm.ChatRequest{
		Messages:    []llm.Message{llm.SystemMessage("plan"), llm.UserMessage("task")},
		Temperature: 0.7,
		MaxTokens:   1000,
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != `{"plan": []}` {
		t.Errorf("unexpected content %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 16 {
		t.Errorf("expected 16 tokens, got %d", resp.Usage.TotalTokens)
	}
}

func TestChatErrorIsLLMError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"message": "bad model", "type": "invalid_request_error"}}`))
	}))
	defer srv.Close()

	_, err := New(WithAPIKey("test-key"), WithBaseURL(srv.URL), WithModel("nope")).
		Chat(context.Background(), llm.ChatRequest{Messages: []llm.Message{llm.UserMessage("x")}})
	ce := errors.AsCrewError(err)
	if ce == nil || ce.Code != errors.CodeLLMError || ce.Context["model"] != "nope" {
		t.Fatalf("expected LLM_ERROR for model nope, got %v", err)
	}
}
