// SPDX-License-Identifier: Apache-2.0
package telemetry

import (
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"
)

// instruments holds the metric instruments recorded by the Collector.
type instruments struct {
	llmCalls        metric.Int64Counter
	llmTokens       metric.Int64Counter
	llmLatency      metric.Float64Histogram
	llmCost         metric.Float64Counter
	agentCalls      metric.Int64Counter
	agentLatency    metric.Float64Histogram
	tasksInProgress metric.Int64UpDownCounter
	taskDuration    metric.Float64Histogram
	errors          metric.Int64Counter
}

func newInstruments(meter metric.Meter) (*instruments, error) {
	var (
		in  instruments
		err error
	)
	if in.llmCalls, err = meter.Int64Counter("llm_calls_total",
		metric.WithDescription("Total number of model calls")); err != nil {
		return nil, err
	}
	if in.llmTokens, err = meter.Int64Counter("llm_tokens_total",
		metric.WithDescription("Total number of tokens used")); err != nil {
		return nil, err
	}
	if in.llmLatency, err = meter.Float64Histogram("llm_latency_seconds",
		metric.WithDescription("Model call latency"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if in.llmCost, err = meter.Float64Counter("llm_cost_usd_total",
		metric.WithDescription("Estimated model spend in USD")); err != nil {
		return nil, err
	}
	if in.agentCalls, err = meter.Int64Counter("agent_calls_total",
		metric.WithDescription("Total number of remote agent calls")); err != nil {
		return nil, err
	}
	if in.agentLatency, err = meter.Float64Histogram("agent_latency_seconds",
		metric.WithDescription("Remote agent call latency"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if in.tasksInProgress, err = meter.Int64UpDownCounter("tasks_in_progress",
		metric.WithDescription("Number of tasks currently executing")); err != nil {
		return nil, err
	}
	if in.taskDuration, err = meter.Float64Histogram("task_duration_seconds",
		metric.WithDescription("Task execution time"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if in.errors, err = meter.Int64Counter("errors_total",
		metric.WithDescription("Errors by code")); err != nil {
		return nil, err
	}
	return &in, nil
}

// TokenUsage is the token accounting of one model call.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
}

// price is USD per 1K tokens.
type price struct {
	input  decimal.Decimal
	output decimal.Decimal
}

func usd(input, output string) price {
	return price{decimal.RequireFromString(input), decimal.RequireFromString(output)}
}

// Ordered so that longer prefixes win over shorter ones.
var modelPrices = []struct {
	prefix string
	price  price
}{
	{"gpt-4-turbo", usd("0.01", "0.03")},
	{"gpt-4o-mini", usd("0.00015", "0.0006")},
	{"gpt-4o", usd("0.005", "0.015")},
	{"gpt-4", usd("0.03", "0.06")},
	{"gpt-3.5-turbo", usd("0.0015", "0.002")},
	{"gemini-2.0-flash", usd("0.0001", "0.0004")},
	{"gemini", usd("0.00125", "0.005")},
	{"claude", usd("0.003", "0.015")},
}

var thousand = decimal.NewFromInt(1000)

// EstimateCost returns the approximate USD cost of a call. Unknown models cost 0.
func EstimateCost(model string, usage TokenUsage) decimal.Decimal {
	model = strings.ToLower(model)
	for _, mp := range modelPrices {
		if strings.HasPrefix(model, mp.prefix) {
			in := decimal.NewFromInt(int64(usage.PromptTokens)).Mul(mp.price.input)
			out := decimal.NewFromInt(int64(usage.CompletionTokens)).Mul(mp.price.output)
			return in.Add(out).Div(thousand)
		}
	}
	return decimal.Zero
}

// EstimateTokens approximates a token count as one token per four bytes.
func EstimateTokens(text string) int {
	return len(text) / 4
}
