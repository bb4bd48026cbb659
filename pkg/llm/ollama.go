// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jllopis/crewkernel/pkg/errors"
)

// DefaultOllamaURL is where a local Ollama daemon listens.
const DefaultOllamaURL = "http://localhost:11434"

// OllamaProvider talks to the Ollama chat endpoint without streaming.
type OllamaProvider struct {
	endpoint string
	model    string
	client   *http.Client
}

// NewOllama returns a provider for the daemon at baseURL. model is used when
// a request names none.
func NewOllama(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	return &OllamaProvider{
		endpoint: strings.TrimRight(baseURL, "/") + "/api/chat",
		model:    model,
		client:   &http.Client{Timeout: 2 * time.Minute},
	}
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  *ollamaOptions `json:"options,omitempty"`
}

type ollamaResponse struct {
	Message         Message `json:"message"`
	EvalCount       int     `json:"eval_count"`
	PromptEvalCount int     `json:"prompt_eval_count"`
}

// Chat implements Provider.
func (p *OllamaProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body := ollamaRequest{Model: req.Model, Messages: req.Messages}
	if body.Model == "" {
		body.Model = p.model
	}
	if req.Temperature != 0 || req.MaxTokens > 0 {
		body.Options = &ollamaOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "encode ollama request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "build ollama request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, ollamaError("ollama api call failed", err, true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := fmt.Sprintf("ollama api returned status %d: %s", resp.StatusCode, bytes.TrimSpace(text))
		return nil, ollamaError(msg, nil, resp.StatusCode >= http.StatusInternalServerError)
	}

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, ollamaError("decode ollama response", err, false)
	}
	return &ChatResponse{
		Content: out.Message.Content,
		Usage: Usage{
			PromptTokens:     out.PromptEvalCount,
			CompletionTokens: out.EvalCount,
			TotalTokens:      out.PromptEvalCount + out.EvalCount,
		},
	}, nil
}

func ollamaError(msg string, cause error, recoverable bool) error {
	return errors.New(errors.CodeLLMError, msg, cause).
		WithContext("provider", "ollama").
		WithRecoverable(recoverable)
}
