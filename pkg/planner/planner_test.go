// SPDX-License-Identifier: Apache-2.0
package planner

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/jllopis/crewkernel/pkg/core"
	cerrors "github.com/jllopis/crewkernel/pkg/errors"
	"github.com/jllopis/crewkernel/pkg/llm"
	"github.com/jllopis/crewkernel/pkg/telemetry"
)

var testAgents = []AgentInfo{
	{AgentID: "r1", Tool: "ask_researcher", Name: "Researcher", Role: "lead", Capabilities: map[string]any{"web": true}},
	{AgentID: "r2", Tool: "ask_coder", Name: "Coder", Role: "engineer"},
}

func TestPlanningPromptListsAgents(t *testing.T) {
	prompt, err := PlanningPrompt("Build a crawler", testAgents)
	if err != nil {
		t.Fatalf("PlanningPrompt: %v", err)
	}
	for _, want := range []string{"Build a crawler", `"agent_id": "r1"`, `"name": "Coder"`, `"web": true`, `"plan": [`, "3 to 7"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt is missing %q", want)
		}
	}
}

func TestAggregationPromptEmbedsOutcomes(t *testing.T) {
	prompt, err := AggregationPrompt("Build a crawler", []core.SubtaskOutcome{
		{AgentName: "Researcher", AgentRole: "lead", Subtask: "Find sources", Response: "three papers"},
	})
	if err != nil {
		t.Fatalf("AggregationPrompt: %v", err)
	}
	for _, want := range []string{"Build a crawler", `"agent_name": "Researcher"`, `"response": "three papers"`} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt is missing %q", want)
		}
	}
}

func TestPlanCallsModelAndRecovers(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	collector, err := telemetry.NewCollector(telemetry.WithTracerProvider(
		sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))))
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	provider := llm.NewScriptedMockProvider("```json\n" + twoStepPlan + "\n```")
	p := New(WithCollector(collector))

	res, err := p.Plan(context.Background(), provider, llm.Settings{Model: "gpt-4", Temperature: 0.7, MaxTokens: 1000}, "Build a crawler", testAgents)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if res.Strategy != StrategyFencedBlock || len(res.Plan.Subtasks) != 2 {
		t.Errorf("unexpected result %+v", res)
	}
	req := provider.LastRequest()
	if req.Model != "gpt-4" || req.MaxTokens != 1000 || len(req.Messages) != 1 {
		t.Errorf("unexpected request %+v", req)
	}
	spans := recorder.Ended()
	if len(spans) != 1 || spans[0].Name() != "llm.planner" {
		t.Errorf("expected one llm.planner span, got %d", len(spans))
	}
}

func TestPlanFailures(t *testing.T) {
	p := New()

	failing := &llm.MockProvider{Err: errors.New("quota exceeded")}
	if _, err := p.Plan(context.Background(), failing, llm.Settings{}, "x", testAgents); !cerrors.Is(err, cerrors.CodeLLMError) {
		t.Errorf("expected LLM_ERROR, got %v", err)
	}

	chatty := llm.NewScriptedMockProvider("no json here")
	if _, err := p.Plan(context.Background(), chatty, llm.Settings{}, "x", nil); !cerrors.Is(err, cerrors.CodePlanParse) {
		t.Errorf("expected PLAN_PARSE_ERROR, got %v", err)
	}

	slow := &llm.MockProvider{ChatFunc: func(ctx context.Context, _ llm.ChatRequest) (*llm.ChatResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	if _, err := p.Plan(context.Background(), slow, llm.Settings{Timeout: 10 * time.Millisecond}, "x", testAgents); !cerrors.Is(err, cerrors.CodeTimeout) {
		t.Errorf("expected TIMEOUT, got %v", err)
	}
}

func TestAggregate(t *testing.T) {
	provider := llm.NewScriptedMockProvider("All done.")
	summary, err := New().Aggregate(context.Background(), provider, llm.Settings{}, "x", []core.SubtaskOutcome{{AgentName: "A"}})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if summary != "All done." {
		t.Errorf("unexpected summary %q", summary)
	}
}
