// SPDX-License-Identifier: Apache-2.0

// Package config loads layered configuration: defaults, an optional YAML file,
// CREW_* environment variables and explicit key=value overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment overrides (CREW_LLM_MODEL -> llm.model).
const EnvPrefix = "CREW_"

type Config struct {
	Log          LogConfig          `koanf:"log"`
	LLM          LLMConfig          `koanf:"llm"`
	DirectLine   DirectLineConfig   `koanf:"directline"`
	Telemetry    TelemetryConfig    `koanf:"telemetry"`
	Store        StoreConfig        `koanf:"store"`
	Server       ServerConfig       `koanf:"server"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

// LLMConfig selects the planning and aggregation model.
type LLMConfig struct {
	Provider    string        `koanf:"provider"` // auto, openai, azure, gemini, anthropic, ollama, mock
	Model       string        `koanf:"model"`
	BaseURL     string        `koanf:"base_url"`
	APIKey      string        `koanf:"api_key"`
	APIVersion  string        `koanf:"api_version"` // azure only
	Temperature float64       `koanf:"temperature"`
	MaxTokens   int           `koanf:"max_tokens"`
	Timeout     time.Duration `koanf:"timeout"`
}

// DirectLineConfig configures the remote agent channel.
type DirectLineConfig struct {
	BaseURL         string        `koanf:"base_url"`
	UserID          string        `koanf:"user_id"`
	Secret          string        `koanf:"secret"` // used when an agent has no secret of its own
	PollAttempts    int           `koanf:"poll_attempts"`
	PollInterval    time.Duration `koanf:"poll_interval"`
	RequestTimeout  time.Duration `koanf:"request_timeout"`
	RateLimit       float64       `koanf:"rate_limit"` // requests per second, 0 disables
	Burst           int           `koanf:"burst"`
	BreakerFailures int           `koanf:"breaker_failures"` // 0 disables
	BreakerCooldown time.Duration `koanf:"breaker_cooldown"`
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // none, stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
	ServiceName  string `koanf:"service_name"`
}

type StoreConfig struct {
	Driver   string `koanf:"driver"` // memory, sqlite
	DSN      string `koanf:"dsn"`
	Manifest string `koanf:"manifest"`
}

type ServerConfig struct {
	Addr string `koanf:"addr"`
}

// OrchestratorConfig tunes task execution.
type OrchestratorConfig struct {
	// ConversationScope is "task" (one remote conversation per agent per task)
	// or "subtask" (a fresh conversation for every plan step).
	ConversationScope string `koanf:"conversation_scope"`
}

var defaults = map[string]interface{}{
	"log.level":                       "info",
	"log.format":                      "text",
	"llm.provider":                    "auto",
	"llm.model":                       "gpt-4",
	"llm.api_version":                 "2024-06-01",
	"llm.temperature":                 0.7,
	"llm.max_tokens":                  1000,
	"llm.timeout":                     "60s",
	"directline.base_url":             "https://directline.botframework.com/v3/directline",
	"directline.user_id":              "user",
	"directline.poll_attempts":        5,
	"directline.poll_interval":        "1s",
	"directline.request_timeout":      "30s",
	"directline.burst":                1,
	"directline.breaker_cooldown":     "30s",
	"telemetry.exporter":              "none",
	"telemetry.service_name":          "crewkernel",
	"store.driver":                    "memory",
	"server.addr":                     ":8080",
	"orchestrator.conversation_scope": "task",
}

// Load reads configuration from defaults, the YAML file at path (optional) and
// the environment.
func Load(path string) (*Config, error) {
	return LoadWithOverrides(path, nil)
}

// LoadWithOverrides is Load followed by key=value overrides, as passed with
// the CLI --set flag.
func LoadWithOverrides(path string, overrides []string) (*Config, error) {
	k := koanf.New(".")

	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return nil, err
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	for _, raw := range overrides {
		key, value, ok := strings.Cut(raw, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("config: invalid override %q, expected key=value", raw)
		}
		if err := k.Set(strings.TrimSpace(key), value); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	applyLegacyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps CREW_DIRECTLINE_POLL_ATTEMPTS to directline.poll_attempts. Only
// the first underscore separates the section from the field.
func envKey(s string) string {
	return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".", 1)
}

// applyLegacyEnv fills unset fields from the variable names used by earlier
// deployments of the service.
func applyLegacyEnv(cfg *Config) {
	setIfEmpty := func(dst *string, names ...string) {
		if *dst != "" {
			return
		}
		for _, name := range names {
			if v := os.Getenv(name); v != "" {
				*dst = v
				return
			}
		}
	}

	setIfEmpty(&cfg.DirectLine.Secret, "DIRECT_LINE_SECRET")
	setIfEmpty(&cfg.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	if cfg.Telemetry.Exporter == "none" && cfg.Telemetry.OTLPEndpoint != "" {
		cfg.Telemetry.Exporter = "otlp"
	}
	if cfg.Store.DSN == "" {
		if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
			cfg.Store.DSN = strings.TrimPrefix(dsn, "sqlite://")
			if cfg.Store.Driver == "memory" {
				cfg.Store.Driver = "sqlite"
			}
		}
	}

	if cfg.LLM.Provider == "auto" {
		if os.Getenv("AZURE_OPENAI_API_KEY") != "" && os.Getenv("AZURE_OPENAI_ENDPOINT") != "" {
			cfg.LLM.Provider = "azure"
		} else {
			cfg.LLM.Provider = "openai"
		}
	}
	switch cfg.LLM.Provider {
	case "azure":
		setIfEmpty(&cfg.LLM.APIKey, "AZURE_OPENAI_API_KEY")
		setIfEmpty(&cfg.LLM.BaseURL, "AZURE_OPENAI_ENDPOINT")
	case "openai":
		setIfEmpty(&cfg.LLM.APIKey, "OPENAI_API_KEY")
		setIfEmpty(&cfg.LLM.BaseURL, "OPENAI_ENDPOINT")
	case "gemini":
		setIfEmpty(&cfg.LLM.APIKey, "GEMINI_API_KEY")
	case "anthropic":
		setIfEmpty(&cfg.LLM.APIKey, "ANTHROPIC_API_KEY")
	}
}

// Validate rejects values that no component accepts.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "azure", "gemini", "anthropic", "ollama", "mock":
	default:
		return fmt.Errorf("config: unknown llm provider %q", c.LLM.Provider)
	}
	switch c.Orchestrator.ConversationScope {
	case "task", "subtask":
	default:
		return fmt.Errorf("config: unknown conversation scope %q", c.Orchestrator.ConversationScope)
	}
	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.DSN == "" {
			return fmt.Errorf("config: sqlite store requires store.dsn")
		}
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.DirectLine.PollAttempts < 1 {
		return fmt.Errorf("config: directline.poll_attempts must be at least 1")
	}
	return nil
}
