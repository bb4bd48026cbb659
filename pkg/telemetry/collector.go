// SPDX-License-Identifier: Apache-2.0
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/crewkernel/pkg/errors"
)

const instrumentationName = "github.com/jllopis/crewkernel"

// Collector starts scoped call trackers for model calls, agent calls and task
// executions. Every Start returns a Call that must be ended exactly once,
// usually with defer.
type Collector interface {
	StartModelCall(ctx context.Context, model, function, prompt string) (context.Context, *Call)
	StartAgentCall(ctx context.Context, agentID, agentName, input string) (context.Context, *Call)
	StartTaskExecution(ctx context.Context, taskID, crewID, description string) (context.Context, *Call)
}

// Call is a started tracker. A nil *Call or one from Noop is valid and does nothing.
type Call struct {
	span   trace.Span
	start  time.Time
	finish func(ctx context.Context, c *Call, err error, response string, usage TokenUsage)
	ctx    context.Context
	once   sync.Once
}

// End finishes the call, marking it failed when err is non-nil.
func (c *Call) End(err error) {
	c.end(err, "", TokenUsage{})
}

// EndWithResponse finishes a successful call with its response and token usage.
// Zero usage is estimated from the response and prompt lengths.
func (c *Call) EndWithResponse(response string, usage TokenUsage) {
	c.end(nil, response, usage)
}

func (c *Call) end(err error, response string, usage TokenUsage) {
	if c == nil {
		return
	}
	c.once.Do(func() {
		if c.finish != nil {
			c.finish(c.ctx, c, err, response, usage)
		}
		if c.span == nil {
			return
		}
		if err != nil {
			c.span.RecordError(err)
			c.span.SetStatus(codes.Error, err.Error())
			c.span.SetAttributes(attribute.String(AttrErrorCode, string(errors.CodeOf(err))))
		} else {
			c.span.SetStatus(codes.Ok, "")
		}
		c.span.End()
	})
}

// Duration reports the time elapsed since the call started.
func (c *Call) Duration() time.Duration {
	if c == nil {
		return 0
	}
	return time.Since(c.start)
}

type noopCollector struct{}

// Noop is a Collector that records nothing.
var Noop Collector = noopCollector{}

func (noopCollector) StartModelCall(ctx context.Context, _, _, _ string) (context.Context, *Call) {
	return ctx, &Call{start: time.Now()}
}

func (noopCollector) StartAgentCall(ctx context.Context, _, _, _ string) (context.Context, *Call) {
	return ctx, &Call{start: time.Now()}
}

func (noopCollector) StartTaskExecution(ctx context.Context, _, _, _ string) (context.Context, *Call) {
	return ctx, &Call{start: time.Now()}
}

// CollectorOption configures an OTel collector.
type CollectorOption func(*OTelCollector)

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) CollectorOption {
	return func(c *OTelCollector) { c.tracer = tp.Tracer(instrumentationName) }
}

// WithMeterProvider overrides the global meter provider.
func WithMeterProvider(mp metric.MeterProvider) CollectorOption {
	return func(c *OTelCollector) { c.meter = mp.Meter(instrumentationName) }
}

// OTelCollector records spans and metrics through OpenTelemetry.
type OTelCollector struct {
	tracer trace.Tracer
	meter  metric.Meter
	inst   *instruments
}

// NewCollector builds a Collector on the global OTel providers unless overridden.
func NewCollector(opts ...CollectorOption) (*OTelCollector, error) {
	c := &OTelCollector{
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}
	for _, opt := range opts {
		opt(c)
	}
	inst, err := newInstruments(c.meter)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "create metric instruments", err)
	}
	c.inst = inst
	return c, nil
}

func statusAttr(err error) attribute.KeyValue {
	if err != nil {
		return attribute.String(AttrStatus, "error")
	}
	return attribute.String(AttrStatus, "success")
}

func (c *OTelCollector) countError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	c.inst.errors.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrErrorCode, string(errors.CodeOf(err)))))
}

// StartModelCall tracks one planning or aggregation model call.
func (c *OTelCollector) StartModelCall(ctx context.Context, model, function, prompt string) (context.Context, *Call) {
	ctx, span := c.tracer.Start(ctx, "llm."+function, trace.WithAttributes(ModelAttributes(model, function, prompt)...))
	call := &Call{span: span, start: time.Now(), ctx: ctx}
	call.finish = func(ctx context.Context, call *Call, err error, response string, usage TokenUsage) {
		labels := []attribute.KeyValue{
			attribute.String("model", model),
			attribute.String("function", function),
		}
		c.inst.llmCalls.Add(ctx, 1, metric.WithAttributes(append(labels, statusAttr(err))...))
		c.inst.llmLatency.Record(ctx, call.Duration().Seconds(), metric.WithAttributes(labels...))
		c.countError(ctx, err)
		if err != nil {
			return
		}
		if usage.PromptTokens == 0 && usage.CompletionTokens == 0 {
			usage = TokenUsage{PromptTokens: EstimateTokens(prompt), CompletionTokens: EstimateTokens(response)}
		}
		cost := EstimateCost(model, usage).InexactFloat64()
		modelAttr := attribute.String("model", model)
		c.inst.llmTokens.Add(ctx, int64(usage.PromptTokens), metric.WithAttributes(modelAttr, attribute.String("type", "prompt")))
		c.inst.llmTokens.Add(ctx, int64(usage.CompletionTokens), metric.WithAttributes(modelAttr, attribute.String("type", "completion")))
		c.inst.llmCost.Add(ctx, cost, metric.WithAttributes(modelAttr))
		span.SetAttributes(UsageAttributes(usage, cost)...)
		span.SetAttributes(attribute.Int(AttrResponseChars, len(response)))
	}
	return ctx, call
}

// StartAgentCall tracks one remote agent invocation.
func (c *OTelCollector) StartAgentCall(ctx context.Context, agentID, agentName, input string) (context.Context, *Call) {
	ctx, span := c.tracer.Start(ctx, "agent.call", trace.WithAttributes(AgentAttributes(agentID, agentName, input)...))
	call := &Call{span: span, start: time.Now(), ctx: ctx}
	call.finish = func(ctx context.Context, call *Call, err error, response string, _ TokenUsage) {
		labels := []attribute.KeyValue{
			attribute.String("agent_id", agentID),
			attribute.String("agent_name", agentName),
		}
		c.inst.agentCalls.Add(ctx, 1, metric.WithAttributes(append(labels, statusAttr(err))...))
		c.inst.agentLatency.Record(ctx, call.Duration().Seconds(), metric.WithAttributes(labels...))
		c.countError(ctx, err)
		if err == nil {
			span.SetAttributes(attribute.Int(AttrResponseChars, len(response)))
		}
	}
	return ctx, call
}

// StartTaskExecution tracks a whole task run and the in-progress gauge.
func (c *OTelCollector) StartTaskExecution(ctx context.Context, taskID, crewID, description string) (context.Context, *Call) {
	ctx, span := c.tracer.Start(ctx, "task.execute", trace.WithAttributes(TaskAttributes(taskID, crewID, description)...))
	c.inst.tasksInProgress.Add(ctx, 1)
	call := &Call{span: span, start: time.Now(), ctx: ctx}
	call.finish = func(ctx context.Context, call *Call, err error, _ string, _ TokenUsage) {
		c.inst.tasksInProgress.Add(ctx, -1)
		c.inst.taskDuration.Record(ctx, call.Duration().Seconds(), metric.WithAttributes(statusAttr(err)))
		c.countError(ctx, err)
	}
	return ctx, call
}
