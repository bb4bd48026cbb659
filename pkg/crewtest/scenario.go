// SPDX-License-Identifier: Apache-2.0

// Package crewtest runs declarative task scenarios against an in-memory crew.
//
// A scenario scripts the model (plan and summary replies) and the remote
// agents, executes one task through the orchestrator and checks the outcome:
//
//	crewtest.NewScenario("two agents").
//	    WithAgent("a1", "Researcher", "lead", "bot-1", "found it").
//	    WithModelReplies(plan, "summary").
//	    ExpectStatus(core.TaskStatusCompleted).
//	    ExpectMessage(crewtest.HasPrefix("Task Result:")).
//	    Run(t, "Research", "Find papers").
//	    Assert(t)
package crewtest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jllopis/crewkernel/pkg/core"
	"github.com/jllopis/crewkernel/pkg/errors"
	"github.com/jllopis/crewkernel/pkg/kernel"
	"github.com/jllopis/crewkernel/pkg/llm"
	"github.com/jllopis/crewkernel/pkg/orchestrator"
	"github.com/jllopis/crewkernel/pkg/store"
	"github.com/jllopis/crewkernel/pkg/tools"
)

// CrewID is the id of the crew every scenario runs with.
const CrewID = "scenario"

// Scenario is one scripted task execution.
type Scenario struct {
	name         string
	agents       []scriptedAgent
	replies      []string
	modelErr     error
	scope        tools.Scope
	timeout      time.Duration
	expectations []Expectation
}

type scriptedAgent struct {
	agent core.Agent
	role  string
	reply string
	err   error
}

// Expectation is checked against the result of a run.
type Expectation interface {
	Check(r *Result) error
	Description() string
}

// AgentCall records one message sent to a remote agent.
type AgentCall struct {
	RemoteAgentID   string
	Message         string
	ConversationKey string
}

// Result is the outcome of a run.
type Result struct {
	Task     *core.Task
	Err      error
	Messages []core.TaskMessage
	Events   []core.EventType
	Calls    []AgentCall
	Requests []llm.ChatRequest
	Duration time.Duration

	scenario *Scenario
}

// NewScenario creates an empty scenario with task scoped conversations.
func NewScenario(name string) *Scenario {
	return &Scenario{name: name, scope: tools.ScopeTask, timeout: 10 * time.Second}
}

// WithAgent adds an active crew member that answers every message with reply.
func (s *Scenario) WithAgent(id, name, role, remoteID, reply string) *Scenario {
	s.agents = append(s.agents, scriptedAgent{
		agent: core.Agent{ID: id, Name: name, RemoteAgentID: remoteID, Active: true},
		role:  role,
		reply: reply,
	})
	return s
}

// WithFailingAgent adds an active crew member whose calls fail with err.
func (s *Scenario) WithFailingAgent(id, name, role, remoteID string, err error) *Scenario {
	s.agents = append(s.agents, scriptedAgent{
		agent: core.Agent{ID: id, Name: name, RemoteAgentID: remoteID, Active: true},
		role:  role,
		err:   err,
	})
	return s
}

// WithModelReplies scripts the model, usually a plan and then a summary.
func (s *Scenario) WithModelReplies(replies ...string) *Scenario {
	s.replies = append(s.replies, replies...)
	return s
}

// WithModelError makes every model call fail.
func (s *Scenario) WithModelError(err error) *Scenario {
	s.modelErr = err
	return s
}

// WithScope sets the conversation scope.
func (s *Scenario) WithScope(scope tools.Scope) *Scenario {
	s.scope = scope
	return s
}

// WithTimeout bounds the run.
func (s *Scenario) WithTimeout(d time.Duration) *Scenario {
	s.timeout = d
	return s
}

// Expect adds a custom expectation.
func (s *Scenario) Expect(e Expectation) *Scenario {
	s.expectations = append(s.expectations, e)
	return s
}

// ExpectStatus expects the task to end in status.
func (s *Scenario) ExpectStatus(status core.TaskStatus) *Scenario {
	return s.Expect(&statusExpectation{status})
}

// ExpectNoError expects Execute to return a nil error.
func (s *Scenario) ExpectNoError() *Scenario {
	return s.Expect(&errorExpectation{})
}

// ExpectErrorCode expects Execute to fail with code.
func (s *Scenario) ExpectErrorCode(code errors.ErrorCode) *Scenario {
	return s.Expect(&errorExpectation{code: code})
}

// ExpectMessage expects at least one logged message to match m.
func (s *Scenario) ExpectMessage(m StringMatcher) *Scenario {
	return s.Expect(&messageExpectation{m})
}

// ExpectAgentCalls expects n messages sent to remote agents.
func (s *Scenario) ExpectAgentCalls(n int) *Scenario {
	return s.Expect(&callCountExpectation{n})
}

// ExpectEvent expects an event of type t to be emitted.
func (s *Scenario) ExpectEvent(t core.EventType) *Scenario {
	return s.Expect(&eventExpectation{t})
}

// Run seeds a memory store, executes one task and collects the result.
func (s *Scenario) Run(t *testing.T, title, description string) *Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	st := store.NewMemoryStore()
	if err := st.PutCrew(ctx, core.Crew{ID: CrewID, Name: s.name, Active: true}); err != nil {
		t.Fatalf("crewtest: seed crew: %v", err)
	}
	senders := &scriptedSenders{byRemote: make(map[string]scriptedAgent)}
	for _, a := range s.agents {
		if err := st.PutAgent(ctx, a.agent); err != nil {
			t.Fatalf("crewtest: seed agent %s: %v", a.agent.ID, err)
		}
		if err := st.AddMember(ctx, core.Membership{CrewID: CrewID, AgentID: a.agent.ID, Role: a.role}); err != nil {
			t.Fatalf("crewtest: seed member %s: %v", a.agent.ID, err)
		}
		senders.byRemote[a.agent.RemoteAgentID] = a
	}

	provider := llm.NewScriptedMockProvider(s.replies...)
	provider.Err = s.modelErr
	factory := tools.NewFactory(func(core.Agent) tools.Sender { return senders }, tools.WithScope(s.scope))
	registry := kernel.NewRegistry(kernel.NewBuilder(st,
		kernel.StaticProvider(provider, llm.Settings{Model: "mock", Timeout: s.timeout}), factory, nil))
	events := &core.RecordingEmitter{}
	orch := orchestrator.New(st, registry, orchestrator.WithEventEmitter(events))

	task := core.NewTask(title, description, CrewID, "crewtest")
	if err := st.CreateTask(ctx, task); err != nil {
		t.Fatalf("crewtest: create task: %v", err)
	}

	start := time.Now()
	final, err := orch.Execute(ctx, task.ID)
	r := &Result{Task: final, Err: err, Duration: time.Since(start), Events: events.Types(), scenario: s}
	r.Messages, _ = st.ListMessages(context.Background(), task.ID)
	r.Calls = senders.recorded()
	r.Requests = append(r.Requests, provider.Requests...)
	return r
}

// Assert checks every expectation of the scenario and reports failures on t.
func (r *Result) Assert(t *testing.T) {
	t.Helper()
	s := r.scenario
	for _, e := range s.expectations {
		if err := e.Check(r); err != nil {
			t.Errorf("%s: expected %s: %v", s.name, e.Description(), err)
		}
	}
}

// Contents returns the text of every logged message in order.
func (r *Result) Contents() []string {
	out := make([]string, len(r.Messages))
	for i, m := range r.Messages {
		out[i] = m.Content
	}
	return out
}

type scriptedSenders struct {
	mu       sync.Mutex
	byRemote map[string]scriptedAgent
	calls    []AgentCall
}

func (s *scriptedSenders) Send(_ context.Context, agentID, message, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, AgentCall{RemoteAgentID: agentID, Message: message, ConversationKey: key})
	a, ok := s.byRemote[agentID]
	if !ok {
		return "", errors.NoResponse(0)
	}
	if a.err != nil {
		return "", a.err
	}
	return a.reply, nil
}

func (s *scriptedSenders) recorded() []AgentCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AgentCall(nil), s.calls...)
}

type statusExpectation struct{ status core.TaskStatus }

func (e *statusExpectation) Check(r *Result) error {
	if r.Task == nil {
		return fmt.Errorf("no task returned (err: %v)", r.Err)
	}
	if r.Task.Status != e.status {
		return fmt.Errorf("got %s (%s)", r.Task.Status, r.Task.Error)
	}
	return nil
}

func (e *statusExpectation) Description() string { return "status " + string(e.status) }

type errorExpectation struct{ code errors.ErrorCode }

func (e *errorExpectation) Check(r *Result) error {
	if e.code == "" {
		if r.Err != nil {
			return fmt.Errorf("got %v", r.Err)
		}
		return nil
	}
	if !errors.Is(r.Err, e.code) {
		return fmt.Errorf("got %v", r.Err)
	}
	return nil
}

func (e *errorExpectation) Description() string {
	if e.code == "" {
		return "no error"
	}
	return "error " + string(e.code)
}

type messageExpectation struct{ m StringMatcher }

func (e *messageExpectation) Check(r *Result) error {
	for _, msg := range r.Messages {
		if e.m.Match(msg.Content) {
			return nil
		}
	}
	return fmt.Errorf("none of %d messages matched", len(r.Messages))
}

func (e *messageExpectation) Description() string { return "a message that " + e.m.Description() }

type callCountExpectation struct{ n int }

func (e *callCountExpectation) Check(r *Result) error {
	if len(r.Calls) != e.n {
		return fmt.Errorf("got %d", len(r.Calls))
	}
	return nil
}

func (e *callCountExpectation) Description() string { return fmt.Sprintf("%d agent calls", e.n) }

type eventExpectation struct{ t core.EventType }

func (e *eventExpectation) Check(r *Result) error {
	for _, t := range r.Events {
		if t == e.t {
			return nil
		}
	}
	return fmt.Errorf("not emitted, got %v", r.Events)
}

func (e *eventExpectation) Description() string { return "event " + string(e.t) }
