// SPDX-License-Identifier: Apache-2.0

// Package providers builds the configured llm.Provider.
package providers

import (
	"context"
	"fmt"

	"github.com/jllopis/crewkernel/pkg/config"
	"github.com/jllopis/crewkernel/pkg/llm"
	"github.com/jllopis/crewkernel/providers/anthropic"
	"github.com/jllopis/crewkernel/providers/gemini"
	"github.com/jllopis/crewkernel/providers/openai"
)

// New returns the provider named by cfg.Provider.
func New(ctx context.Context, cfg config.LLMConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case "openai":
		return openai.New(
			openai.WithAPIKey(cfg.APIKey),
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithModel(cfg.Model),
		), nil
	case "azure":
		if cfg.BaseURL == "" || cfg.APIKey == "" {
			return nil, fmt.Errorf("providers: azure requires llm.base_url and llm.api_key")
		}
		return openai.New(
			openai.WithAzure(cfg.BaseURL, cfg.APIVersion, cfg.APIKey),
			openai.WithModel(cfg.Model),
		), nil
	case "gemini":
		return gemini.New(ctx, cfg.APIKey, gemini.WithModel(cfg.Model))
	case "anthropic":
		return anthropic.New(
			anthropic.WithAPIKey(cfg.APIKey),
			anthropic.WithBaseURL(cfg.BaseURL),
			anthropic.WithModel(cfg.Model),
			anthropic.WithMaxTokens(int64(cfg.MaxTokens)),
		), nil
	case "ollama":
		return llm.NewOllama(cfg.BaseURL, cfg.Model), nil
	case "mock":
		return &llm.MockProvider{Response: `{"plan": []}`}, nil
	default:
		return nil, fmt.Errorf("providers: unknown provider %q", cfg.Provider)
	}
}
