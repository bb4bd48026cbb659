// SPDX-License-Identifier: Apache-2.0
package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	cerrors "github.com/jllopis/crewkernel/pkg/errors"
)

func newTestCollector(t *testing.T) (*OTelCollector, *tracetest.SpanRecorder, *sdkmetric.ManualReader) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	c, err := NewCollector(WithTracerProvider(tp), WithMeterProvider(mp))
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	return c, recorder, reader
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumInt(m metricdata.Metrics) int64 {
	var total int64
	if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
		for _, dp := range sum.DataPoints {
			total += dp.Value
		}
	}
	return total
}

func TestAgentCallSpanAndMetrics(t *testing.T) {
	c, recorder, reader := newTestCollector(t)

	_, ok := c.StartAgentCall(context.Background(), "a1", "Researcher", "find papers")
	ok.EndWithResponse("three papers", TokenUsage{})
	_, failed := c.StartAgentCall(context.Background(), "a1", "Researcher", "again")
	failed.End(cerrors.NoResponse(5))
	failed.End(errors.New("second end is ignored"))

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 ended spans, got %d", len(spans))
	}
	if spans[0].Status().Code != codes.Ok {
		t.Errorf("expected first span ok, got %v", spans[0].Status())
	}
	if spans[1].Status().Code != codes.Error {
		t.Errorf("expected second span error, got %v", spans[1].Status())
	}

	metrics := collectMetrics(t, reader)
	if got := sumInt(metrics["agent_calls_total"]); got != 2 {
		t.Errorf("expected 2 agent calls, got %d", got)
	}
	if got := sumInt(metrics["errors_total"]); got != 1 {
		t.Errorf("expected 1 error, got %d", got)
	}
}

func TestTaskExecutionTracksInProgress(t *testing.T) {
	c, _, reader := newTestCollector(t)

	_, call := c.StartTaskExecution(context.Background(), "t1", "c1", "write a report")
	if got := sumInt(collectMetrics(t, reader)["tasks_in_progress"]); got != 1 {
		t.Fatalf("expected 1 task in progress, got %d", got)
	}
	call.End(nil)
	if got := sumInt(collectMetrics(t, reader)["tasks_in_progress"]); got != 0 {
		t.Fatalf("expected 0 tasks in progress, got %d", got)
	}
}

func TestModelCallEstimatesTokensWhenUsageMissing(t *testing.T) {
	c, recorder, reader := newTestCollector(t)

	prompt := "0123456789abcdef0123456789abcdef"
	_, call := c.StartModelCall(context.Background(), "gpt-4", "plan", prompt)
	call.EndWithResponse("0123456789abcdef", TokenUsage{})

	if got := sumInt(collectMetrics(t, reader)["llm_tokens_total"]); got != 12 {
		t.Errorf("expected 8+4 estimated tokens, got %d", got)
	}
	spans := recorder.Ended()
	if len(spans) != 1 || spans[0].Name() != "llm.plan" {
		t.Fatalf("expected one llm.plan span")
	}
}

func TestEstimateCost(t *testing.T) {
	tests := []struct {
		model string
		usage TokenUsage
		want  string
	}{
		{"gpt-4", TokenUsage{1000, 1000}, "0.09"},
		{"gpt-4-turbo-preview", TokenUsage{1000, 1000}, "0.04"},
		{"gpt-3.5-turbo", TokenUsage{2000, 0}, "0.003"},
		{"claude-3-5-sonnet", TokenUsage{500, 100}, "0.003"},
		{"unknown-model", TokenUsage{1000, 1000}, "0"},
	}
	for _, tt := range tests {
		got := EstimateCost(tt.model, tt.usage)
		if !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("EstimateCost(%s) = %s, want %s", tt.model, got, tt.want)
		}
	}
}

func TestNoopAndNilCallsAreSafe(t *testing.T) {
	ctx := context.Background()
	gotCtx, call := Noop.StartTaskExecution(ctx, "t", "c", "d")
	if gotCtx != ctx {
		t.Errorf("expected Noop to return the same context")
	}
	call.End(errors.New("ignored"))

	var nilCall *Call
	nilCall.End(nil)
	nilCall.EndWithResponse("x", TokenUsage{})
	if nilCall.Duration() != 0 {
		t.Errorf("expected zero duration for nil call")
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("abcdef", 3); got != "abc..." {
		t.Errorf("unexpected %q", got)
	}
	if got := Truncate("abc", 10); got != "abc" {
		t.Errorf("unexpected %q", got)
	}
}
