// SPDX-License-Identifier: Apache-2.0

package planner

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/jllopis/crewkernel/pkg/core"
	"github.com/jllopis/crewkernel/pkg/errors"
)

// FallbackReasoning annotates plans produced by the Fallback strategy.
const FallbackReasoning = "Fallback plan due to JSON parsing error"

// Strategy names.
const (
	StrategyDirectJSON  = "direct_json"
	StrategyFencedBlock = "fenced_block"
	StrategyFallback    = "fallback"
)

// Request carries what strategies may need besides the raw model output.
type Request struct {
	TaskDescription string
	// AgentIDs lists the crew's agents in membership order.
	AgentIDs []string
}

// Result is the tagged outcome of one strategy: Plan on success, Err otherwise.
type Result struct {
	Plan     *core.Plan
	Strategy string
	Err      error
}

// OK reports whether the strategy produced a plan.
func (r Result) OK() bool { return r.Err == nil && r.Plan != nil }

// Strategy turns raw model output into a plan.
type Strategy interface {
	Name() string
	Parse(raw string, req Request) Result
}

// DefaultStrategies is the recovery chain: the output as JSON, then the
// first fenced block that holds a plan, then the single-subtask fallback.
func DefaultStrategies() []Strategy {
	return []Strategy{DirectJSON{}, FencedBlock{}, Fallback{}}
}

// Recover tries strategies in order and returns the first success, along
// with every attempt made. Without any success the last failure is returned.
func Recover(raw string, req Request, strategies ...Strategy) (Result, []Result) {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	attempts := make([]Result, 0, len(strategies))
	for _, s := range strategies {
		res := s.Parse(raw, req)
		res.Strategy = s.Name()
		attempts = append(attempts, res)
		if res.OK() {
			return res, attempts
		}
	}
	last := attempts[len(attempts)-1]
	if last.Err == nil {
		last.Err = errors.PlanParse("no strategy produced a plan")
	}
	return last, attempts
}

// DirectJSON parses the whole output as a plan document.
type DirectJSON struct{}

// Name implements Strategy.
func (DirectJSON) Name() string { return StrategyDirectJSON }

// Parse implements Strategy.
func (DirectJSON) Parse(raw string, _ Request) Result {
	plan, err := decodePlan(raw)
	return Result{Plan: plan, Err: err}
}

var fencePattern = regexp.MustCompile("(?s)```[A-Za-z0-9_+-]*[ \\t]*\\r?\\n?(.*?)```")

// FencedBlock parses the content of markdown code fences, with or without a
// language tag.
type FencedBlock struct{}

// Name implements Strategy.
func (FencedBlock) Name() string { return StrategyFencedBlock }

// Parse implements Strategy.
func (FencedBlock) Parse(raw string, _ Request) Result {
	blocks := fencePattern.FindAllStringSubmatch(raw, -1)
	if len(blocks) == 0 {
		return Result{Err: errors.PlanParse("no fenced block found")}
	}
	var lastErr error
	for _, m := range blocks {
		plan, err := decodePlan(m[1])
		if err == nil {
			return Result{Plan: plan}
		}
		lastErr = err
	}
	return Result{Err: lastErr}
}

// Fallback assigns the whole task to the crew's first agent.
type Fallback struct{}

// Name implements Strategy.
func (Fallback) Name() string { return StrategyFallback }

// Parse implements Strategy.
func (Fallback) Parse(_ string, req Request) Result {
	if len(req.AgentIDs) == 0 {
		return Result{Err: errors.PlanParse("crew has no agents to assign the task to")}
	}
	return Result{Plan: &core.Plan{Subtasks: []core.Subtask{{
		Description: req.TaskDescription,
		AgentID:     req.AgentIDs[0],
		Reasoning:   FallbackReasoning,
	}}}}
}

func decodePlan(s string) (*core.Plan, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.PlanParse("empty planner output")
	}
	var plan core.Plan
	if err := json.Unmarshal([]byte(s), &plan); err != nil {
		return nil, errors.New(errors.CodePlanParse, "planner output is not a plan document", err)
	}
	if len(plan.Subtasks) == 0 {
		return nil, errors.PlanParse("plan has no subtasks")
	}
	for i, st := range plan.Subtasks {
		if strings.TrimSpace(st.Description) == "" {
			return nil, errors.PlanParse(fmt.Sprintf("subtask %d has no description", i+1))
		}
	}
	return &plan, nil
}
