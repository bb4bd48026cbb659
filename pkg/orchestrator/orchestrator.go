// SPDX-License-Identifier: Apache-2.0

// Package orchestrator drives a task from PENDING to a terminal state:
// plan with the crew's model, dispatch each subtask to its agent and
// aggregate the replies.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jllopis/crewkernel/pkg/core"
	"github.com/jllopis/crewkernel/pkg/errors"
	"github.com/jllopis/crewkernel/pkg/kernel"
	"github.com/jllopis/crewkernel/pkg/planner"
	"github.com/jllopis/crewkernel/pkg/store"
	"github.com/jllopis/crewkernel/pkg/telemetry"
	"github.com/jllopis/crewkernel/pkg/tools"
)

// NoOutcomesError is the error text of a task where no agent replied.
const NoOutcomesError = "No agent responses were collected"

// ContextSource hands out crew execution contexts. *kernel.Registry
// implements it.
type ContextSource interface {
	Get(ctx context.Context, crewID string) (*kernel.ExecutionContext, error)
}

// Orchestrator executes tasks. It is safe for concurrent use on distinct tasks.
type Orchestrator struct {
	tasks     store.TaskStore
	contexts  ContextSource
	planner   *planner.Planner
	collector telemetry.Collector
	events    core.EventEmitter
	logger    *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPlanner replaces the default planner.
func WithPlanner(p *planner.Planner) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.planner = p
		}
	}
}

// WithCollector sets the telemetry collector for task executions.
func WithCollector(c telemetry.Collector) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.collector = c
		}
	}
}

// WithEventEmitter sets where execution events are published.
func WithEventEmitter(e core.EventEmitter) Option {
	return func(o *Orchestrator) {
		if e != nil {
			o.events = e
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// New creates an orchestrator.
func New(tasks store.TaskStore, contexts ContextSource, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		tasks:     tasks,
		contexts:  contexts,
		collector: telemetry.Noop,
		events:    core.NoopEventEmitter{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.planner == nil {
		o.planner = planner.New(planner.WithCollector(o.collector), planner.WithLogger(o.logger))
	}
	return o
}

// execution is the state of one Execute call.
type execution struct {
	*Orchestrator
	task   *core.Task
	logger *slog.Logger
}

// Execute runs the task to completion and returns its final state. Any
// stage error marks the task FAILED and is returned. A run where no agent
// replied also ends FAILED, with NoOutcomesError and a nil error.
func (o *Orchestrator) Execute(ctx context.Context, taskID string) (task *core.Task, err error) {
	task, err = o.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := task.Start(); err != nil {
		return task, err
	}

	ctx = core.WithCrewID(core.WithTaskID(ctx, task.ID), task.CrewID)
	ctx, call := o.collector.StartTaskExecution(ctx, task.ID, task.CrewID, task.Description)
	defer func() {
		if err == nil && task.Status == core.TaskStatusFailed {
			call.End(errors.New(errors.CodeToolFailure, task.Error, nil))
			return
		}
		call.End(err)
	}()

	ex := &execution{
		Orchestrator: o,
		task:         task,
		logger:       o.logger.With(slog.String("task_id", task.ID), slog.String("crew_id", task.CrewID)),
	}
	ex.logger.InfoContext(ctx, "orchestrator.task.start", slog.String("title", task.Title))

	if err = ex.begin(ctx); err == nil {
		err = ex.run(ctx)
	}
	if err != nil {
		ex.fail(ctx, err)
		return task, err
	}
	return task, nil
}

func (ex *execution) begin(ctx context.Context) error {
	if err := ex.tasks.UpdateTask(ctx, ex.task); err != nil {
		return err
	}
	ex.emit(ctx, core.EventTaskStarted, "", nil)
	return ex.system(ctx, "Task started: "+ex.task.Title)
}

func (ex *execution) run(ctx context.Context) error {
	ec, err := ex.contexts.Get(ctx, ex.task.CrewID)
	if err != nil {
		return err
	}

	res, err := ex.planner.Plan(ctx, ec.Provider, ec.Settings, ex.task.Description, planner.AgentsFromTools(ec.Tools))
	if err != nil {
		return err
	}
	planJSON, err := json.MarshalIndent(res.Plan, "", "  ")
	if err != nil {
		return errors.New(errors.CodeInternal, "encode plan", err)
	}
	if err := ex.system(ctx, "Task Plan Created:\n"+string(planJSON)); err != nil {
		return err
	}
	ex.emit(ctx, core.EventPlanCreated, "", map[string]any{
		"strategy": res.Strategy,
		"subtasks": len(res.Plan.Subtasks),
	})

	outcomes, err := ex.dispatch(ctx, ec.Tools, res.Plan)
	if err != nil {
		return err
	}

	if len(outcomes) == 0 {
		ex.logger.WarnContext(ctx, "orchestrator.task.no_outcomes")
		if err := ex.task.Fail(NoOutcomesError); err != nil {
			return err
		}
		if err := ex.tasks.UpdateTask(ctx, ex.task); err != nil {
			return err
		}
		return ex.finish(ctx)
	}

	summary, err := ex.planner.Aggregate(ctx, ec.Provider, ec.Settings, ex.task.Description, outcomes)
	if err != nil {
		return err
	}
	if err := ex.system(ctx, "Task Result:\n"+summary); err != nil {
		return err
	}
	if err := ex.task.Complete(core.TaskResult{Summary: summary, Details: outcomes}); err != nil {
		return err
	}
	if err := ex.tasks.UpdateTask(ctx, ex.task); err != nil {
		return err
	}
	return ex.finish(ctx)
}

// dispatch runs the subtasks in plan order. Agent failures are logged to the
// task and skipped; only a canceled context or a persistence error stops it.
func (ex *execution) dispatch(ctx context.Context, set *tools.Set, plan *core.Plan) ([]core.SubtaskOutcome, error) {
	var outcomes []core.SubtaskOutcome
	for i, st := range plan.Subtasks {
		if err := ctx.Err(); err != nil {
			return nil, errors.New(errors.CodeContextLost, "task execution canceled", err)
		}
		n := i + 1
		if err := ex.system(ctx, fmt.Sprintf("Executing subtask %d: %s", n, st.Description)); err != nil {
			return nil, err
		}
		ex.emit(ctx, core.EventSubtaskStarted, st.AgentID, map[string]any{"subtask": n})

		binding, ok := set.ForAgent(st.AgentID)
		if !ok {
			rerr := errors.ToolResolution(st.AgentID)
			ex.logger.WarnContext(ctx, "orchestrator.subtask.unresolved", slog.Int("subtask", n), slog.String("agent_id", st.AgentID))
			if err := ex.subtaskFailed(ctx, n, st.AgentID, rerr.Message); err != nil {
				return nil, err
			}
			continue
		}

		reply, err := binding.Invoke(ctx, tools.Invocation{Message: st.Description, TaskID: ex.task.ID, Subtask: n})
		if err != nil {
			ex.logger.WarnContext(ctx, "orchestrator.subtask.failed",
				slog.Int("subtask", n),
				slog.String("tool", binding.Name),
				slog.String("error", err.Error()),
			)
			msg := fmt.Sprintf("Error executing subtask with agent %s: %s", binding.AgentName, err)
			if err := ex.subtaskFailed(ctx, n, binding.RemoteAgentID, msg); err != nil {
				return nil, err
			}
			continue
		}

		if err := ex.tasks.AppendMessage(ctx, core.NewAgentMessage(ex.task.ID, binding.AgentID, reply)); err != nil {
			return nil, err
		}
		ex.emit(ctx, core.EventSubtaskCompleted, binding.RemoteAgentID, map[string]any{"subtask": n})
		ex.logger.DebugContext(ctx, "orchestrator.subtask.done", slog.Int("subtask", n), slog.String("tool", binding.Name))
		outcomes = append(outcomes, core.SubtaskOutcome{
			AgentName: binding.AgentName,
			AgentRole: binding.Role,
			Subtask:   st.Description,
			Response:  reply,
		})
	}
	return outcomes, nil
}

func (ex *execution) subtaskFailed(ctx context.Context, n int, agentID, msg string) error {
	ex.emit(ctx, core.EventSubtaskFailed, agentID, map[string]any{"subtask": n, "error": msg})
	return ex.system(ctx, "Error: "+msg)
}

// finish records the terminal status of a task that did not error.
func (ex *execution) finish(ctx context.Context) error {
	status := ex.task.Status
	eventType := core.EventTaskCompleted
	if status == core.TaskStatusFailed {
		eventType = core.EventTaskFailed
	}
	ex.emit(ctx, eventType, "", map[string]any{"status": string(status)})
	ex.logger.InfoContext(ctx, "orchestrator.task.done", slog.String("status", string(status)))
	return ex.system(ctx, fmt.Sprintf("Task %s: %s", strings.ToLower(string(status)), ex.task.Title))
}

// fail records err on the task. It keeps working after ctx is canceled so
// the failure is persisted. A task that already reached a terminal status
// keeps it: only the stored copy is brought up to date.
func (ex *execution) fail(ctx context.Context, err error) {
	ctx = context.WithoutCancel(ctx)
	reason := errors.Message(err)
	ex.logger.ErrorContext(ctx, "orchestrator.task.failed", slog.String("error", err.Error()))

	if ex.task.Status.Terminal() {
		if uerr := ex.tasks.UpdateTask(ctx, ex.task); uerr != nil {
			ex.logger.ErrorContext(ctx, "orchestrator.update.failed", slog.String("error", uerr.Error()))
		}
		return
	}
	if aerr := ex.system(ctx, "Error: "+reason); aerr != nil {
		ex.logger.ErrorContext(ctx, "orchestrator.message.failed", slog.String("error", aerr.Error()))
	}
	if ferr := ex.task.Fail(reason); ferr != nil {
		ex.logger.ErrorContext(ctx, "orchestrator.transition.failed", slog.String("error", ferr.Error()))
		return
	}
	if uerr := ex.tasks.UpdateTask(ctx, ex.task); uerr != nil {
		ex.logger.ErrorContext(ctx, "orchestrator.update.failed", slog.String("error", uerr.Error()))
	}
	ex.emit(ctx, core.EventTaskFailed, "", map[string]any{"error": reason})
}

func (ex *execution) system(ctx context.Context, content string) error {
	return ex.tasks.AppendMessage(ctx, core.NewSystemMessage(ex.task.ID, content))
}

func (ex *execution) emit(ctx context.Context, t core.EventType, agentID string, payload map[string]any) {
	ex.events.Emit(ctx, core.NewEvent(t, ex.task.ID, ex.task.CrewID, agentID, payload))
}
