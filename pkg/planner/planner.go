// SPDX-License-Identifier: Apache-2.0

// Package planner asks a chat model for a task plan, recovers a usable plan
// from whatever the model returns, and asks it to aggregate agent outcomes.
package planner

import (
	"context"
	"log/slog"

	"github.com/jllopis/crewkernel/pkg/core"
	"github.com/jllopis/crewkernel/pkg/errors"
	"github.com/jllopis/crewkernel/pkg/llm"
	"github.com/jllopis/crewkernel/pkg/resilience"
	"github.com/jllopis/crewkernel/pkg/telemetry"
)

// Function names reported to telemetry.
const (
	FunctionPlanner    = "planner"
	FunctionAggregator = "aggregator"
)

// Planner issues the planning and aggregation model calls.
type Planner struct {
	strategies []Strategy
	collector  telemetry.Collector
	logger     *slog.Logger
}

// Option configures a Planner.
type Option func(*Planner)

// WithStrategies replaces the recovery chain.
func WithStrategies(strategies ...Strategy) Option {
	return func(p *Planner) {
		if len(strategies) > 0 {
			p.strategies = strategies
		}
	}
}

// WithCollector sets the telemetry collector for model calls.
func WithCollector(c telemetry.Collector) Option {
	return func(p *Planner) {
		if c != nil {
			p.collector = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Planner) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates a planner with the default recovery chain.
func New(opts ...Option) *Planner {
	p := &Planner{
		strategies: DefaultStrategies(),
		collector:  telemetry.Noop,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Plan asks the model for a plan and recovers one from its reply. A failed
// model call is returned as is; PLAN_PARSE_ERROR is returned only when no
// strategy succeeds, which with the default chain means agents is empty.
func (p *Planner) Plan(ctx context.Context, provider llm.Provider, settings llm.Settings, task string, agents []AgentInfo) (Result, error) {
	prompt, err := PlanningPrompt(task, agents)
	if err != nil {
		return Result{}, err
	}
	raw, err := p.call(ctx, provider, settings, FunctionPlanner, task, prompt)
	if err != nil {
		return Result{}, err
	}

	ids := make([]string, len(agents))
	for i, a := range agents {
		ids[i] = a.AgentID
	}
	res, attempts := Recover(raw, Request{TaskDescription: task, AgentIDs: ids}, p.strategies...)
	for _, a := range attempts[:len(attempts)-1] {
		p.logger.DebugContext(ctx, "planner.strategy.failed", slog.String("strategy", a.Strategy), slog.String("error", a.Err.Error()))
	}
	if !res.OK() {
		return res, res.Err
	}
	level := slog.LevelDebug
	if res.Strategy == StrategyFallback {
		level = slog.LevelWarn
	}
	p.logger.Log(ctx, level, "planner.plan", slog.String("strategy", res.Strategy), slog.Int("subtasks", len(res.Plan.Subtasks)))
	return res, nil
}

// Aggregate asks the model to merge outcomes into the task's final summary.
func (p *Planner) Aggregate(ctx context.Context, provider llm.Provider, settings llm.Settings, task string, outcomes []core.SubtaskOutcome) (string, error) {
	prompt, err := AggregationPrompt(task, outcomes)
	if err != nil {
		return "", err
	}
	return p.call(ctx, provider, settings, FunctionAggregator, task, prompt)
}

func (p *Planner) call(ctx context.Context, provider llm.Provider, settings llm.Settings, function, input, prompt string) (content string, err error) {
	ctx, call := p.collector.StartModelCall(ctx, settings.Model, function, input)
	var usage telemetry.TokenUsage
	defer func() {
		if err != nil {
			call.End(err)
			return
		}
		call.EndWithResponse(content, usage)
	}()

	resp, err := resilience.WithTimeoutResult(ctx, settings.Timeout, func(ctx context.Context) (*llm.ChatResponse, error) {
		return provider.Chat(ctx, settings.Request(llm.UserMessage(prompt)))
	})
	if err != nil {
		if errors.CodeOf(err) == errors.CodeInternal {
			err = errors.New(errors.CodeLLMError, function+" model call failed", err).
				WithContext("model", settings.Model)
		}
		return "", err
	}
	usage = telemetry.TokenUsage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}
	return resp.Content, nil
}
