// SPDX-License-Identifier: Apache-2.0

// Package openai adapts the OpenAI and Azure OpenAI chat completion APIs to llm.Provider.
package openai

import (
	"context"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"

	"github.com/jllopis/crewkernel/pkg/llm"
)

// DefaultModel is used when neither the request nor WithModel names one.
const DefaultModel = "gpt-4"

// Provider implements llm.Provider for OpenAI-compatible endpoints.
type Provider struct {
	client  openai.Client
	model   string
	name    string
	reqOpts []option.RequestOption
}

// Option configures the Provider.
type Option func(*Provider)

// WithModel sets the default model, the deployment name on Azure.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithBaseURL points the client at a proxy or a compatible server.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		if url != "" {
			p.reqOpts = append(p.reqOpts, option.WithBaseURL(url))
		}
	}
}

// WithAPIKey sets the API key.
func WithAPIKey(apiKey string) Option {
	return func(p *Provider) {
		if apiKey != "" {
			p.reqOpts = append(p.reqOpts, option.WithAPIKey(apiKey))
		}
	}
}

// WithAzure targets an Azure OpenAI resource.
func WithAzure(endpoint, apiVersion, apiKey string) Option {
	return func(p *Provider) {
		p.name = "azure"
		p.reqOpts = append(p.reqOpts,
			azure.WithEndpoint(endpoint, apiVersion),
			azure.WithAPIKey(apiKey),
		)
	}
}

// New creates a provider. Without WithAPIKey the SDK reads OPENAI_API_KEY.
func New(opts ...Option) *Provider {
	p := &Provider{model: DefaultModel, name: "openai"}
	for _, opt := range opts {
		opt(p)
	}
	p.client = openai.NewClient(p.reqOpts...)
	return p
}

// Chat implements llm.Provider.
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	model := req.ModelOr(p.model)
	completion, err := p.client.Chat.Completions.New(ctx, params(req, model))
	if err != nil {
		return nil, llm.CallError(p.name, model, err)
	}

	out := &llm.ChatResponse{Usage: llm.Usage{
		PromptTokens:     int(completion.Usage.PromptTokens),
		CompletionTokens: int(completion.Usage.CompletionTokens),
		TotalTokens:      int(completion.Usage.TotalTokens),
	}}
	if len(completion.Choices) > 0 {
		out.Content = completion.Choices[0].Message.Content
	}
	return out, nil
}

func params(req llm.ChatRequest, model string) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)),
	}
	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		case llm.RoleAssistant:
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		}
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	return params
}
