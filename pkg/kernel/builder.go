// SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"context"
	"log/slog"
	"time"

	"github.com/jllopis/crewkernel/pkg/config"
	"github.com/jllopis/crewkernel/pkg/core"
	"github.com/jllopis/crewkernel/pkg/directline"
	"github.com/jllopis/crewkernel/pkg/errors"
	"github.com/jllopis/crewkernel/pkg/llm"
	"github.com/jllopis/crewkernel/pkg/store"
	"github.com/jllopis/crewkernel/pkg/tools"
)

// SettingsFromConfig extracts the call settings of an llm section.
func SettingsFromConfig(cfg config.LLMConfig) llm.Settings {
	return llm.Settings{
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     cfg.Timeout,
	}
}

// ProviderFactory returns the model connection for a new context.
type ProviderFactory func(ctx context.Context) (llm.Provider, llm.Settings, error)

// StaticProvider always hands out the same provider.
func StaticProvider(p llm.Provider, settings llm.Settings) ProviderFactory {
	return func(context.Context) (llm.Provider, llm.Settings, error) {
		return p, settings, nil
	}
}

// CrewBuilder builds contexts from the crew store.
type CrewBuilder struct {
	crews    store.CrewStore
	provider ProviderFactory
	tools    *tools.Factory
	logger   *slog.Logger
}

// NewBuilder creates a builder. logger may be nil.
func NewBuilder(crews store.CrewStore, provider ProviderFactory, factory *tools.Factory, logger *slog.Logger) *CrewBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &CrewBuilder{crews: crews, provider: provider, tools: factory, logger: logger}
}

// Build loads the crew and its members, connects the model and binds one
// tool per active member. Missing or inactive crews yield CREW_NOT_FOUND.
func (b *CrewBuilder) Build(ctx context.Context, crewID string) (*ExecutionContext, error) {
	crew, err := b.crews.GetCrew(ctx, crewID)
	if err != nil {
		return nil, err
	}
	if !crew.Active {
		return nil, errors.CrewNotFound(crewID)
	}
	members, err := b.crews.ListMembers(ctx, crewID)
	if err != nil {
		return nil, err
	}
	provider, settings, err := b.provider(ctx)
	if err != nil {
		return nil, errors.New(errors.CodeLLMError, "configure model for crew "+crewID, err).
			WithContext("crew_id", crewID)
	}
	set, err := b.tools.Build(members, "")
	if err != nil {
		return nil, err
	}
	b.logger.DebugContext(ctx, "kernel.builder.members", slog.String("crew_id", crewID), slog.Int("members", len(members)))
	return &ExecutionContext{
		CrewID:   crewID,
		Crew:     *crew,
		Members:  members,
		Provider: provider,
		Settings: settings,
		Tools:    set,
		BuiltAt:  time.Now(),
	}, nil
}

// DirectLineSenders reaches each agent through its own Direct Line client,
// authenticated with the agent's secret or, when it has none, cfg.Secret.
// Every call creates a new client, so rebuilt contexts start new sessions.
func DirectLineSenders(cfg config.DirectLineConfig, logger *slog.Logger) tools.SenderFactory {
	return func(agent core.Agent) tools.Sender {
		secret := agent.Secret
		if secret == "" {
			secret = cfg.Secret
		}
		opts := directline.OptionsFromConfig(cfg)
		if logger != nil {
			opts = append(opts, directline.WithLogger(logger.With(slog.String("agent_id", agent.ID))))
		}
		return directline.New(secret, opts...)
	}
}
