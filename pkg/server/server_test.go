// SPDX-License-Identifier: Apache-2.0
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jllopis/crewkernel/pkg/core"
	"github.com/jllopis/crewkernel/pkg/kernel"
	"github.com/jllopis/crewkernel/pkg/llm"
	"github.com/jllopis/crewkernel/pkg/orchestrator"
	"github.com/jllopis/crewkernel/pkg/store"
	"github.com/jllopis/crewkernel/pkg/tools"
)

type replySender struct{}

func (replySender) Send(_ context.Context, agentID, message, _ string) (string, error) {
	return agentID + " handled " + message, nil
}

type apiFixture struct {
	srv    *httptest.Server
	store  *store.MemoryStore
	runner *orchestrator.Runner
	reg    *kernel.Registry
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()
	if err := s.PutCrew(ctx, core.Crew{ID: "c1", Name: "Builders", Active: true}); err != nil {
		t.Fatalf("PutCrew: %v", err)
	}
	if err := s.PutAgent(ctx, core.Agent{ID: "a1", Name: "Researcher", RemoteAgentID: "r1", Active: true}); err != nil {
		t.Fatalf("PutAgent: %v", err)
	}
	if err := s.AddMember(ctx, core.Membership{CrewID: "c1", AgentID: "a1", Role: "lead"}); err != nil {
		t.Fatalf("AddMember: %v", err)
	}

	provider := llm.NewScriptedMockProvider(
		`{"plan":[{"subtask":"Look it up","agent_id":"r1","reasoning":"only agent"}]}`,
		"Final answer",
	)
	factory := tools.NewFactory(func(core.Agent) tools.Sender { return replySender{} })
	reg := kernel.NewRegistry(kernel.NewBuilder(s, kernel.StaticProvider(provider, llm.Settings{Model: "mock"}), factory, nil))
	runner := orchestrator.NewRunner(orchestrator.New(s, reg), nil)

	health := core.NewHealthRegistry(0)
	health.Register("kernel", core.HealthCheckFunc(reg.HealthCheck))

	srv := httptest.NewServer(New(s, reg, runner, health, nil))
	t.Cleanup(srv.Close)
	return &apiFixture{srv: srv, store: s, runner: runner, reg: reg}
}

func (f *apiFixture) do(t *testing.T, method, path, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestTaskLifecycle(t *testing.T) {
	f := newAPI(t)

	var task core.Task
	status := f.do(t, http.MethodPost, "/tasks", `{"title":"Lookup","description":"Find the answer","crew_id":"c1"}`, &task)
	if status != http.StatusCreated || task.ID == "" || task.Status != core.TaskStatusPending {
		t.Fatalf("unexpected create response %d %+v", status, task)
	}

	if status := f.do(t, http.MethodPost, "/tasks/"+task.ID+"/execute", "", nil); status != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", status)
	}
	f.runner.Wait()

	var done core.Task
	if status := f.do(t, http.MethodGet, "/tasks/"+task.ID, "", &done); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if done.Status != core.TaskStatusCompleted || done.Result == nil || done.Result.Summary != "Final answer" {
		t.Fatalf("unexpected task %+v", done)
	}

	var msgs []core.TaskMessage
	f.do(t, http.MethodGet, "/tasks/"+task.ID+"/messages", "", &msgs)
	if len(msgs) == 0 || msgs[0].Content != "Task started: Lookup" {
		t.Errorf("unexpected messages %+v", msgs)
	}

	if status := f.do(t, http.MethodPost, "/tasks/"+task.ID+"/execute", "", nil); status != http.StatusConflict {
		t.Errorf("expected 409 for a finished task, got %d", status)
	}
}

func TestErrors(t *testing.T) {
	f := newAPI(t)
	tests := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodGet, "/tasks/nope", "", http.StatusNotFound},
		{http.MethodPost, "/tasks", `{"title":"x"}`, http.StatusBadRequest},
		{http.MethodPost, "/tasks", `not json`, http.StatusBadRequest},
		{http.MethodPost, "/crews/missing/context/refresh", "", http.StatusNotFound},
		{http.MethodGet, "/crews/missing/context?build=true", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			var body map[string]map[string]any
			if status := f.do(t, tt.method, tt.path, tt.body, &body); status != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, status)
			}
			if body["error"]["code"] == nil {
				t.Errorf("expected an error code in %v", body)
			}
		})
	}
}

func TestCrewContextEndpoints(t *testing.T) {
	f := newAPI(t)

	var d kernel.Description
	f.do(t, http.MethodGet, "/crews/c1/context", "", &d)
	if d.PluginName != "crew_c1_agents" || len(d.Functions) != 0 {
		t.Fatalf("expected an empty description before any build, got %+v", d)
	}

	if status := f.do(t, http.MethodPost, "/crews/c1/context/refresh", "", &d); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if len(d.Functions) != 1 || d.Functions[0].Name != "ask_researcher" {
		t.Errorf("unexpected functions %+v", d.Functions)
	}
}

func TestHealthz(t *testing.T) {
	f := newAPI(t)
	var report core.HealthReport
	if status := f.do(t, http.MethodGet, "/healthz", "", &report); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if report.Status != core.HealthHealthy || len(report.Components) != 1 || report.Components[0].Component != "kernel" {
		t.Errorf("unexpected report %+v", report)
	}
}
