// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "crewkernel.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AZURE_OPENAI_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.Provider != "openai" {
		t.Errorf("expected auto provider to resolve to openai, got %s", cfg.LLM.Provider)
	}
	if cfg.DirectLine.PollAttempts != 5 {
		t.Errorf("expected 5 poll attempts, got %d", cfg.DirectLine.PollAttempts)
	}
	if cfg.DirectLine.PollInterval != time.Second {
		t.Errorf("expected 1s poll interval, got %v", cfg.DirectLine.PollInterval)
	}
	if cfg.DirectLine.BaseURL != "https://directline.botframework.com/v3/directline" {
		t.Errorf("unexpected base url %s", cfg.DirectLine.BaseURL)
	}
	if cfg.Orchestrator.ConversationScope != "task" {
		t.Errorf("expected task scope, got %s", cfg.Orchestrator.ConversationScope)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("expected memory store, got %s", cfg.Store.Driver)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `llm:
  provider: gemini
  model: gemini-2.0-flash
directline:
  poll_attempts: 3
  poll_interval: 250ms
`)
	t.Setenv("CREW_DIRECTLINE_POLL_ATTEMPTS", "7")
	t.Setenv("CREW_ORCHESTRATOR_CONVERSATION_SCOPE", "subtask")
	t.Setenv("GEMINI_API_KEY", "g-key")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.Provider != "gemini" || cfg.LLM.Model != "gemini-2.0-flash" {
		t.Errorf("unexpected llm config %+v", cfg.LLM)
	}
	if cfg.LLM.APIKey != "g-key" {
		t.Errorf("expected legacy GEMINI_API_KEY to fill api_key")
	}
	if cfg.DirectLine.PollAttempts != 7 {
		t.Errorf("expected env to win over file, got %d", cfg.DirectLine.PollAttempts)
	}
	if cfg.DirectLine.PollInterval != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %v", cfg.DirectLine.PollInterval)
	}
	if cfg.Orchestrator.ConversationScope != "subtask" {
		t.Errorf("expected subtask scope from env")
	}
}

func TestLoadAzureAutoSelection(t *testing.T) {
	t.Setenv("AZURE_OPENAI_API_KEY", "az-key")
	t.Setenv("AZURE_OPENAI_ENDPOINT", "https://example.openai.azure.com")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.Provider != "azure" {
		t.Fatalf("expected azure, got %s", cfg.LLM.Provider)
	}
	if cfg.LLM.APIKey != "az-key" || cfg.LLM.BaseURL != "https://example.openai.azure.com" {
		t.Errorf("expected azure credentials, got %+v", cfg.LLM)
	}
}

func TestLoadWithOverrides(t *testing.T) {
	cfg, err := LoadWithOverrides("", []string{"llm.provider=mock", "directline.rate_limit=2.5"})
	if err != nil {
		t.Fatalf("LoadWithOverrides failed: %v", err)
	}
	if cfg.LLM.Provider != "mock" {
		t.Errorf("expected mock provider, got %s", cfg.LLM.Provider)
	}
	if cfg.DirectLine.RateLimit != 2.5 {
		t.Errorf("expected rate limit 2.5, got %v", cfg.DirectLine.RateLimit)
	}

	if _, err := LoadWithOverrides("", []string{"no-equals-sign"}); err == nil {
		t.Errorf("expected error for malformed override")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		overrides []string
	}{
		{"unknown provider", []string{"llm.provider=watson"}},
		{"unknown scope", []string{"orchestrator.conversation_scope=crew"}},
		{"sqlite without dsn", []string{"store.driver=sqlite"}},
		{"zero attempts", []string{"directline.poll_attempts=0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "")
			if _, err := LoadWithOverrides("", tt.overrides); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestDatabaseURLSelectsSQLite(t *testing.T) {
	t.Setenv("DATABASE_URL", "sqlite:///tmp/crew.db")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Store.DSN != "/tmp/crew.db" {
		t.Errorf("unexpected store config %+v", cfg.Store)
	}
}
