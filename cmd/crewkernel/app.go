// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/jllopis/crewkernel/pkg/config"
	"github.com/jllopis/crewkernel/pkg/core"
	"github.com/jllopis/crewkernel/pkg/errors"
	"github.com/jllopis/crewkernel/pkg/kernel"
	"github.com/jllopis/crewkernel/pkg/llm"
	"github.com/jllopis/crewkernel/pkg/orchestrator"
	"github.com/jllopis/crewkernel/pkg/planner"
	"github.com/jllopis/crewkernel/pkg/store"
	"github.com/jllopis/crewkernel/pkg/telemetry"
	"github.com/jllopis/crewkernel/pkg/tools"
	"github.com/jllopis/crewkernel/providers"
)

// app holds every long-lived component of one process.
type app struct {
	cfg          atomic.Pointer[config.Config]
	logger       *slog.Logger
	store        store.Store
	collector    telemetry.Collector
	tools        *tools.Factory
	registry     *kernel.Registry
	orchestrator *orchestrator.Orchestrator
	health       *core.HealthRegistry
	shutdown     telemetry.ShutdownFunc
}

// appOption customizes newApp, mostly for tests.
type appOption func(*appDeps)

type appDeps struct {
	provider kernel.ProviderFactory
	senders  tools.SenderFactory
}

func withProvider(p llm.Provider) appOption {
	return func(d *appDeps) {
		d.provider = func(context.Context) (llm.Provider, llm.Settings, error) {
			return p, llm.Settings{Model: "mock", Timeout: time.Minute}, nil
		}
	}
}

func withSenders(f tools.SenderFactory) appOption {
	return func(d *appDeps) { d.senders = f }
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...appOption) (*app, error) {
	a := &app{logger: logger}
	a.cfg.Store(cfg)

	shutdown, err := telemetry.InitWithConfig(cfg.Telemetry.ServiceName, version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "initialize telemetry", err)
	}
	a.shutdown = shutdown

	collector, err := telemetry.NewCollector()
	if err != nil {
		return nil, err
	}
	a.collector = collector

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	a.store = st

	if cfg.Store.Manifest != "" {
		manifest, err := store.LoadManifests(cfg.Store.Manifest)
		if err != nil {
			return nil, err
		}
		if err := manifest.Apply(ctx, st); err != nil {
			return nil, err
		}
		logger.Info("manifest applied", "pattern", cfg.Store.Manifest,
			"agents", len(manifest.Agents), "crews", len(manifest.Crews))
	}

	deps := appDeps{provider: a.currentProvider, senders: a.currentSenders}
	for _, opt := range opts {
		opt(&deps)
	}

	scope, err := tools.ParseScope(cfg.Orchestrator.ConversationScope)
	if err != nil {
		return nil, err
	}
	a.tools = tools.NewFactory(deps.senders,
		tools.WithScope(scope),
		tools.WithCollector(collector),
		tools.WithLogger(logger),
	)
	a.registry = kernel.NewRegistry(
		kernel.NewBuilder(st, deps.provider, a.tools, logger),
		kernel.WithRegistryLogger(logger),
	)
	a.orchestrator = orchestrator.New(st, a.registry,
		orchestrator.WithPlanner(planner.New(planner.WithCollector(collector), planner.WithLogger(logger))),
		orchestrator.WithCollector(collector),
		orchestrator.WithEventEmitter(core.LogEventEmitter{Logger: logger}),
		orchestrator.WithLogger(logger),
	)

	a.health = core.NewHealthRegistry(5 * time.Second)
	a.health.Register("kernel", core.HealthCheckFunc(a.registry.HealthCheck))
	a.health.Register("store", core.HealthCheckFunc(a.storeHealth))
	return a, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	if cfg.Driver == "sqlite" {
		return store.OpenSQLite(ctx, cfg.DSN)
	}
	return store.NewMemoryStore(), nil
}

func (a *app) config() *config.Config {
	return a.cfg.Load()
}

// currentProvider connects the model of the configuration in effect when a
// context is built, so a reloaded llm section applies to the next build.
func (a *app) currentProvider(ctx context.Context) (llm.Provider, llm.Settings, error) {
	cfg := a.config().LLM
	p, err := providers.New(ctx, cfg)
	if err != nil {
		return nil, llm.Settings{}, err
	}
	return p, kernel.SettingsFromConfig(cfg), nil
}

func (a *app) currentSenders(agent core.Agent) tools.Sender {
	return kernel.DirectLineSenders(a.config().DirectLine, a.logger)(agent)
}

// reload swaps the configuration and drops every cached context when the
// change affects how contexts are built.
func (a *app) reload(old, updated *config.Config) {
	a.cfg.Store(updated)
	sections := config.ChangedSections(old, updated)
	a.logger.Info("configuration reloaded", "sections", sections)
	if config.AffectsExecutionContexts(old, updated) {
		a.registry.InvalidateAll()
		a.logger.Info("execution contexts invalidated")
	}
}

func (a *app) storeHealth(ctx context.Context) core.HealthResult {
	result := core.HealthResult{Component: "store", Status: core.HealthHealthy}
	if sq, ok := a.store.(*store.SQLiteStore); ok {
		if err := sq.DB().PingContext(ctx); err != nil {
			result.Status = core.HealthUnhealthy
			result.Message = err.Error()
		}
		result.Details = map[string]any{"driver": "sqlite"}
		return result
	}
	result.Details = map[string]any{"driver": "memory"}
	return result
}

func (a *app) close(ctx context.Context) {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close store", "error", err)
		}
	}
	if a.shutdown != nil {
		if err := a.shutdown(ctx); err != nil {
			a.logger.Warn("shutdown telemetry", "error", err)
		}
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	return telemetry.ConfigureSlog(os.Stderr, cfg.Level, cfg.Format)
}
