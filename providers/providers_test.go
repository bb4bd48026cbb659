// SPDX-License-Identifier: Apache-2.0

package providers

import (
	"context"
	"testing"

	"github.com/jllopis/crewkernel/pkg/config"
	"github.com/jllopis/crewkernel/pkg/llm"
	"github.com/jllopis/crewkernel/providers/anthropic"
	"github.com/jllopis/crewkernel/providers/openai"
)

func TestNewSelectsProvider(t *testing.T) {
	tests := []struct {
		name  string
		cfg   config.LLMConfig
		check func(llm.Provider) bool
	}{
		{"openai", config.LLMConfig{Provider: "openai", APIKey: "k", Model: "gpt-4"}, func(p llm.Provider) bool {
			_, ok := p.(*openai.Provider)
			return ok
		}},
		{"azure", config.LLMConfig{Provider: "azure", APIKey: "k", BaseURL: "https://x.openai.azure.com", APIVersion: "2024-06-01"}, func(p llm.Provider) bool {
			_, ok := p.(*openai.Provider)
			return ok
		}},
		{"anthropic", config.LLMConfig{Provider: "anthropic", APIKey: "k"}, func(p llm.Provider) bool {
			_, ok := p.(*anthropic.Provider)
			return ok
		}},
		{"ollama", config.LLMConfig{Provider: "ollama", Model: "llama3"}, func(p llm.Provider) bool {
			_, ok := p.(*llm.OllamaProvider)
			return ok
		}},
		{"mock", config.LLMConfig{Provider: "mock"}, func(p llm.Provider) bool {
			_, ok := p.(*llm.MockProvider)
			return ok
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(context.Background(), tt.cfg)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if !tt.check(p) {
				t.Errorf("unexpected provider type %T", p)
			}
		})
	}
}

func TestNewRejectsIncompleteConfig(t *testing.T) {
	if _, err := New(context.Background(), config.LLMConfig{Provider: "azure"}); err == nil {
		t.Errorf("expected azure without endpoint to fail")
	}
	if _, err := New(context.Background(), config.LLMConfig{Provider: "watson"}); err == nil {
		t.Errorf("expected unknown provider to fail")
	}
}
