// SPDX-License-Identifier: Apache-2.0

package gemini

import (
	"testing"

	"google.golang.org/genai"

	"github.com/jllopis/crewkernel/pkg/llm"
)

func TestProviderImplementsInterface(t *testing.T) {
	var _ llm.Provider = (*Provider)(nil)
}

func TestToContents(t *testing.T) {
	contents, config := toContents(llm.ChatRequest{
		Messages: []llm.Message{
			llm.SystemMessage("You are a planner"),
			llm.UserMessage("plan this"),
			{Role: llm.RoleAssistant, Content: "ok"},
		},
		Temperature: 0.7,
		MaxTokens:   1000,
	})

	if len(contents) != 2 {
		t.Fatalf("expected 2 contents, got %d", len(contents))
	}
	if contents[0].Role != "user" || contents[1].Role != "model" {
		t.Errorf("unexpected roles %s/%s", contents[0].Role, contents[1].Role)
	}
	if config.SystemInstruction == nil || config.SystemInstruction.Parts[0].Text != "You are a planner" {
		t.Errorf("expected system instruction")
	}
	if config.Temperature == nil || *config.Temperature != float32(0.7) {
		t.Errorf("expected temperature 0.7")
	}
	if config.MaxOutputTokens != 1000 {
		t.Errorf("expected 1000 max output tokens, got %d", config.MaxOutputTokens)
	}
}

func TestFromResponse(t *testing.T) {
	resp := fromResponse(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: "part one "}, {Text: "part two"}}},
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     4,
			CandidatesTokenCount: 6,
			TotalTokenCount:      10,
		},
	})
	if resp.Content != "part one part two" {
		t.Errorf("unexpected content %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 10 {
		t.Errorf("expected 10 tokens, got %d", resp.Usage.TotalTokens)
	}
}
