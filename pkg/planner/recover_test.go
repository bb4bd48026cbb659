// SPDX-License-Identifier: Apache-2.0
package planner

import (
	"testing"

	cerrors "github.com/jllopis/crewkernel/pkg/errors"
)

const twoStepPlan = `{"plan":[{"subtask":"Find sources","agent_id":"r1","reasoning":"research"},{"subtask":"Write code","agent_id":"r2","reasoning":"coding"}]}`

func TestRecover(t *testing.T) {
	req := Request{TaskDescription: "Build a crawler", AgentIDs: []string{"r1", "r2"}}
	tests := []struct {
		name      string
		raw       string
		strategy  string
		subtasks  int
		firstID   string
		reasoning string
	}{
		{"direct json", twoStepPlan, StrategyDirectJSON, 2, "r1", "research"},
		{"direct json with whitespace", "\n  " + twoStepPlan + "\n", StrategyDirectJSON, 2, "r1", "research"},
		{"json fence", "Here you go:\n```json\n" + twoStepPlan + "\n```\nGood luck", StrategyFencedBlock, 2, "r1", "research"},
		{"bare fence", "```\n" + twoStepPlan + "\n```", StrategyFencedBlock, 2, "r1", "research"},
		{"second fence holds the plan", "```text\nnot json\n```\n```json\n" + twoStepPlan + "\n```", StrategyFencedBlock, 2, "r1", "research"},
		{"freeform text", "I would ask the researcher first.", StrategyFallback, 1, "r1", FallbackReasoning},
		{"empty plan", `{"plan":[]}`, StrategyFallback, 1, "r1", FallbackReasoning},
		{"broken fence", "```json\n{\"plan\": [\n```", StrategyFallback, 1, "r1", FallbackReasoning},
		{"empty output", "", StrategyFallback, 1, "r1", FallbackReasoning},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, attempts := Recover(tt.raw, req)
			if !res.OK() {
				t.Fatalf("expected a plan, got %v", res.Err)
			}
			if res.Strategy != tt.strategy {
				t.Errorf("expected strategy %s, got %s", tt.strategy, res.Strategy)
			}
			if len(res.Plan.Subtasks) != tt.subtasks {
				t.Fatalf("expected %d subtasks, got %d", tt.subtasks, len(res.Plan.Subtasks))
			}
			first := res.Plan.Subtasks[0]
			if first.AgentID != tt.firstID || first.Reasoning != tt.reasoning {
				t.Errorf("unexpected first subtask %+v", first)
			}
			if attempts[len(attempts)-1].Strategy != res.Strategy {
				t.Errorf("last attempt should be the winning strategy")
			}
		})
	}
}

func TestFencedPlanEqualsPayload(t *testing.T) {
	direct, _ := Recover(twoStepPlan, Request{})
	fenced, _ := Recover("```json\n"+twoStepPlan+"\n```", Request{})
	if len(direct.Plan.Subtasks) != len(fenced.Plan.Subtasks) {
		t.Fatalf("subtask count differs")
	}
	for i := range direct.Plan.Subtasks {
		if direct.Plan.Subtasks[i] != fenced.Plan.Subtasks[i] {
			t.Errorf("subtask %d differs: %+v vs %+v", i, direct.Plan.Subtasks[i], fenced.Plan.Subtasks[i])
		}
	}
}

func TestFallbackUsesTaskDescription(t *testing.T) {
	res, _ := Recover("nope", Request{TaskDescription: "Summarize Q3", AgentIDs: []string{"r9"}})
	if got := res.Plan.Subtasks[0].Description; got != "Summarize Q3" {
		t.Errorf("expected task description as subtask, got %q", got)
	}
}

func TestRecoverWithoutAgentsFails(t *testing.T) {
	res, attempts := Recover("nope", Request{TaskDescription: "x"})
	if res.OK() {
		t.Fatalf("expected failure")
	}
	if !cerrors.Is(res.Err, cerrors.CodePlanParse) {
		t.Errorf("expected PLAN_PARSE_ERROR, got %v", res.Err)
	}
	if len(attempts) != 3 {
		t.Errorf("expected 3 attempts, got %d", len(attempts))
	}
}

func TestRecoverWithCustomChain(t *testing.T) {
	res, _ := Recover("nope", Request{AgentIDs: []string{"r1"}}, DirectJSON{}, FencedBlock{})
	if res.OK() || res.Strategy != StrategyFencedBlock {
		t.Errorf("expected the fenced strategy failure, got %+v", res)
	}
}
