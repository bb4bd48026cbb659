// SPDX-License-Identifier: Apache-2.0

package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jllopis/crewkernel/pkg/errors"
)

// TaskStatus describes the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "PENDING"
	TaskStatusInProgress TaskStatus = "IN_PROGRESS"
	TaskStatusCompleted  TaskStatus = "COMPLETED"
	TaskStatusFailed     TaskStatus = "FAILED"
)

// Terminal reports whether no further transition is allowed from s.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Task is a user-submitted unit of work executed by a crew.
type Task struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	CreatorID   string      `json:"creator_id,omitempty"`
	CrewID      string      `json:"crew_id"`
	Status      TaskStatus  `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Result      *TaskResult `json:"result,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// NewTask creates a pending task with a generated ID.
func NewTask(title, description, crewID, creatorID string) *Task {
	return &Task{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		CreatorID:   creatorID,
		CrewID:      crewID,
		Status:      TaskStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
}

func (t *Task) transition(to TaskStatus) error {
	allowed := (t.Status == TaskStatusPending && to == TaskStatusInProgress) ||
		(t.Status == TaskStatusInProgress && to.Terminal())
	if !allowed {
		return errors.New(errors.CodeInvalidTransition,
			fmt.Sprintf("task %s cannot move from %s to %s", t.ID, t.Status, to), nil).
			WithContext("task_id", t.ID)
	}
	t.Status = to
	return nil
}

// Start moves a pending task to IN_PROGRESS and records the start time.
func (t *Task) Start() error {
	if err := t.transition(TaskStatusInProgress); err != nil {
		return err
	}
	now := time.Now().UTC()
	t.StartedAt = &now
	return nil
}

// Complete stores the result and moves the task to COMPLETED.
func (t *Task) Complete(result TaskResult) error {
	if err := t.transition(TaskStatusCompleted); err != nil {
		return err
	}
	now := time.Now().UTC()
	t.CompletedAt = &now
	t.Result = &result
	return nil
}

// Fail records the error text and moves the task to FAILED.
func (t *Task) Fail(reason string) error {
	if err := t.transition(TaskStatusFailed); err != nil {
		return err
	}
	now := time.Now().UTC()
	t.CompletedAt = &now
	t.Error = reason
	return nil
}

// Clone returns a copy that shares no mutable state with t.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.StartedAt != nil {
		v := *t.StartedAt
		c.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		c.CompletedAt = &v
	}
	if t.Result != nil {
		r := *t.Result
		r.Details = append([]SubtaskOutcome(nil), t.Result.Details...)
		c.Result = &r
	}
	return &c
}

// TaskMessage is one entry of a task's append-only audit log.
type TaskMessage struct {
	ID        int64     `json:"id"`
	TaskID    string    `json:"task_id"`
	AgentID   string    `json:"agent_id,omitempty"`
	IsSystem  bool      `json:"is_system"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewSystemMessage builds a system notice for taskID.
func NewSystemMessage(taskID, content string) TaskMessage {
	return TaskMessage{TaskID: taskID, IsSystem: true, Content: content, Timestamp: time.Now().UTC()}
}

// NewAgentMessage builds an agent reply for taskID.
func NewAgentMessage(taskID, agentID, content string) TaskMessage {
	return TaskMessage{TaskID: taskID, AgentID: agentID, Content: content, Timestamp: time.Now().UTC()}
}

// TaskResult is the payload of a completed task.
type TaskResult struct {
	Summary string           `json:"summary"`
	Details []SubtaskOutcome `json:"details"`
}

// SubtaskOutcome is one agent reply collected during execution.
type SubtaskOutcome struct {
	AgentName string `json:"agent_name"`
	AgentRole string `json:"agent_role"`
	Subtask   string `json:"subtask"`
	Response  string `json:"response"`
}
