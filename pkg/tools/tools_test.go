// SPDX-License-Identifier: Apache-2.0
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/jllopis/crewkernel/pkg/core"
	cerrors "github.com/jllopis/crewkernel/pkg/errors"
	"github.com/jllopis/crewkernel/pkg/telemetry"
)

type sentMessage struct {
	agentID string
	message string
	key     string
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []sentMessage
	reply string
	err   error
}

func (f *fakeSender) Send(_ context.Context, agentID, message, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{agentID, message, key})
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func member(id, name, remote, role string) core.Member {
	return core.Member{
		Agent: core.Agent{
			ID:            id,
			Name:          name,
			RemoteAgentID: remote,
			Capabilities:  map[string]any{"skills": []string{"search"}},
			Active:        true,
		},
		Role: role,
	}
}

func senderFor(s Sender) SenderFactory {
	return func(core.Agent) Sender { return s }
}

func TestToolName(t *testing.T) {
	tests := []struct {
		in      string
		id      string
		want    string
		wantErr bool
	}{
		{"Researcher", "a1", "ask_researcher", false},
		{"Data Analyst", "a1", "ask_data_analyst", false},
		{"Q&A Bot!", "a1", "ask_qa_bot", false},
		{"3D Modeler", "a1", "ask__3d_modeler", false},
		{"  Écrivain  ", "a1", "ask_crivain", false},
		{"研究员", "Agent-7", "ask_agent_agent7", false},
		{"!!!", "9", "ask_agent_9", false},
		{"!!!", "", "", true},
		{"", "***", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in+"/"+tt.id, func(t *testing.T) {
			got, err := ToolName(tt.in, tt.id)
			if tt.wantErr {
				if !cerrors.Is(err, cerrors.CodeInvalidInput) {
					t.Fatalf("expected INVALID_INPUT, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestDescribe(t *testing.T) {
	got, err := Describe("Researcher", "lead", map[string]any{"lang": "en"})
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	want := `Ask the Researcher agent a question or give it a task. This agent has the role: lead. It has the following capabilities: {"lang":"en"}`
	if got != want {
		t.Errorf("unexpected description:\n%s", got)
	}
}

func TestArgsParameters(t *testing.T) {
	params := ArgsParameters()
	if len(params) != 2 {
		t.Fatalf("expected 2 parameters, got %d", len(params))
	}
	if params[0].Name != "message" || !params[0].Required || params[0].Type != "string" {
		t.Errorf("unexpected message parameter: %+v", params[0])
	}
	if params[0].Description != "The message to send to the agent" {
		t.Errorf("unexpected description %q", params[0].Description)
	}
	if params[1].Name != "conversation_id" || params[1].Required {
		t.Errorf("unexpected conversation_id parameter: %+v", params[1])
	}

	var schema map[string]any
	if err := json.Unmarshal(ArgsSchemaJSON(), &schema); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	if schema["type"] != "object" {
		t.Errorf("expected object schema, got %v", schema["type"])
	}
	if _, ok := schema["$schema"]; ok {
		t.Errorf("expected no $schema keyword")
	}
}

func TestBuildSkipsInactiveAndIndexesAgents(t *testing.T) {
	sender := &fakeSender{reply: "ok"}
	f := NewFactory(senderFor(sender))

	inactive := member("a3", "Sleeper", "r3", "idle")
	inactive.Agent.Active = false
	set, err := f.Build([]core.Member{
		member("a1", "Researcher", "r1", "lead"),
		member("a2", "Writer", "r2", "author"),
		inactive,
	}, "")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if set.Len() != 2 {
		t.Fatalf("expected 2 tools, got %d", set.Len())
	}
	if names := []string{set.All()[0].Name, set.All()[1].Name}; names[0] != "ask_researcher" || names[1] != "ask_writer" {
		t.Errorf("unexpected order %v", names)
	}
	if _, ok := set.Get("ask_sleeper"); ok {
		t.Errorf("inactive agent must not get a tool")
	}
	if b, ok := set.ForAgent("r2"); !ok || b.AgentID != "a2" {
		t.Errorf("expected lookup by remote id")
	}
	if b, ok := set.ForAgent("a1"); !ok || b.RemoteAgentID != "r1" {
		t.Errorf("expected lookup by internal id")
	}
	if _, ok := set.ForAgent("nobody"); ok {
		t.Errorf("unexpected tool for unknown agent")
	}
	defs := set.Definitions()
	if len(defs) != 2 || defs[0].Function.Name != "ask_researcher" {
		t.Errorf("unexpected definitions %+v", defs)
	}
}

func TestBuildRejectsCollisionsAndMissingRemoteID(t *testing.T) {
	f := NewFactory(senderFor(&fakeSender{}))

	_, err := f.Build([]core.Member{
		member("a1", "Data Analyst", "r1", "x"),
		member("a2", "data_analyst", "r2", "y"),
	}, "")
	if !cerrors.Is(err, cerrors.CodeInvalidInput) || !strings.Contains(err.Error(), "ask_data_analyst") {
		t.Fatalf("expected collision error, got %v", err)
	}

	_, err = f.Build([]core.Member{member("a1", "Researcher", "", "x")}, "")
	if !cerrors.Is(err, cerrors.CodeInvalidInput) {
		t.Fatalf("expected missing remote id error, got %v", err)
	}

	_, err = f.Build([]core.Member{
		member("a1", "Researcher", "bot-1", "x"),
		member("a2", "Writer", "bot-1", "y"),
	}, "")
	if !cerrors.Is(err, cerrors.CodeInvalidInput) ||
		!strings.Contains(err.Error(), `"Researcher"`) || !strings.Contains(err.Error(), `"Writer"`) {
		t.Fatalf("expected shared remote id error naming both agents, got %v", err)
	}
}

func TestBuildFallsBackToAgentIDForUnusableNames(t *testing.T) {
	f := NewFactory(senderFor(&fakeSender{}))
	set, err := f.Build([]core.Member{
		member("r1", "研究员", "bot-1", "lead"),
		member("w1", "Writer", "bot-2", "author"),
	}, "")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if b, ok := set.Get("ask_agent_r1"); !ok || b.RemoteAgentID != "bot-1" {
		t.Fatalf("expected ask_agent_r1 bound to bot-1, got %v", set.All())
	}
}

func TestConversationKeys(t *testing.T) {
	tests := []struct {
		name  string
		scope Scope
		task  string
		inv   Invocation
		want  string
	}{
		{"explicit id wins", ScopeTask, "t1", Invocation{ConversationID: "c9", Subtask: 2}, "c9"},
		{"task scope", ScopeTask, "t1", Invocation{Subtask: 2}, "task_t1"},
		{"subtask scope", ScopeSubtask, "t1", Invocation{Subtask: 2}, "task_t1_subtask_2"},
		{"invocation task overrides", ScopeTask, "t1", Invocation{TaskID: "t2"}, "task_t2"},
		{"no task", ScopeTask, "", Invocation{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFactory(senderFor(&fakeSender{}), WithScope(tt.scope))
			set, err := f.Build([]core.Member{member("a1", "Researcher", "r1", "lead")}, tt.task)
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			if got := set.All()[0].ConversationKey(tt.inv); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestInvokeRoutesToRemoteAgent(t *testing.T) {
	sender := &fakeSender{reply: "42"}
	set, err := NewFactory(senderFor(sender)).Build([]core.Member{member("a1", "Researcher", "r1", "lead")}, "t1")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	b, _ := set.Get("ask_researcher")

	reply, err := b.Invoke(context.Background(), Invocation{Message: "meaning of life?"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if reply != "42" {
		t.Errorf("unexpected reply %q", reply)
	}
	if len(sender.sent) != 1 || sender.sent[0] != (sentMessage{"r1", "meaning of life?", "task_t1"}) {
		t.Errorf("unexpected sends %+v", sender.sent)
	}

	if _, err := b.Invoke(context.Background(), Invocation{Message: "  "}); !cerrors.Is(err, cerrors.CodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT for empty message, got %v", err)
	}
}

func TestInvokeRecordsSpanOnlyForTasks(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	collector, err := telemetry.NewCollector(telemetry.WithTracerProvider(tp))
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	sender := &fakeSender{err: errors.New("down")}
	set, err := NewFactory(senderFor(sender), WithCollector(collector)).
		Build([]core.Member{member("a1", "Researcher", "r1", "lead")}, "")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	b := set.All()[0]

	if _, err := b.Invoke(context.Background(), Invocation{Message: "hi"}); err == nil {
		t.Fatalf("expected sender error")
	}
	if n := len(recorder.Ended()); n != 0 {
		t.Fatalf("expected no spans without a task, got %d", n)
	}

	if _, err := b.Invoke(context.Background(), Invocation{Message: "hi", TaskID: "t1"}); err == nil {
		t.Fatalf("expected sender error")
	}
	spans := recorder.Ended()
	if len(spans) != 1 || spans[0].Name() != "agent.call" {
		t.Fatalf("expected one agent.call span, got %d", len(spans))
	}
}

func TestParseScope(t *testing.T) {
	for in, want := range map[string]Scope{"": ScopeTask, "task": ScopeTask, "SUBTASK": ScopeSubtask} {
		got, err := ParseScope(in)
		if err != nil || got != want {
			t.Errorf("ParseScope(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseScope("crew"); err == nil {
		t.Errorf("expected error for unknown scope")
	}
}
