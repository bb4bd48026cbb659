// SPDX-License-Identifier: Apache-2.0

package core

import (
	"testing"

	"github.com/jllopis/crewkernel/pkg/errors"
)

func TestTaskLifecycle(t *testing.T) {
	task := NewTask("Report", "write a report", "crew-1", "user-1")
	if task.Status != TaskStatusPending {
		t.Fatalf("expected pending status")
	}
	if err := task.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if task.Status != TaskStatusInProgress || task.StartedAt == nil {
		t.Fatalf("expected in-progress status with start time")
	}
	result := TaskResult{Summary: "done", Details: []SubtaskOutcome{{AgentName: "Researcher"}}}
	if err := task.Complete(result); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if task.Status != TaskStatusCompleted || task.Result.Summary != "done" || task.CompletedAt == nil {
		t.Fatalf("expected completed status with result")
	}
}

func TestTaskTransitionsAreMonotonic(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*Task)
		apply func(*Task) error
	}{
		{"complete while pending", func(*Task) {}, func(t *Task) error { return t.Complete(TaskResult{}) }},
		{"fail while pending", func(*Task) {}, func(t *Task) error { return t.Fail("x") }},
		{"start twice", func(t *Task) { _ = t.Start() }, func(t *Task) error { return t.Start() }},
		{"fail after complete", func(t *Task) {
			_ = t.Start()
			_ = t.Complete(TaskResult{})
		}, func(t *Task) error { return t.Fail("late") }},
		{"complete after fail", func(t *Task) {
			_ = t.Start()
			_ = t.Fail("boom")
		}, func(t *Task) error { return t.Complete(TaskResult{}) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := NewTask("t", "d", "c", "")
			tt.setup(task)
			before := task.Status
			err := tt.apply(task)
			if !errors.Is(err, errors.CodeInvalidTransition) {
				t.Fatalf("expected INVALID_TRANSITION, got %v", err)
			}
			if task.Status != before {
				t.Fatalf("status changed from %s to %s", before, task.Status)
			}
		})
	}
}

func TestTaskFailRecordsError(t *testing.T) {
	task := NewTask("t", "d", "c", "")
	_ = task.Start()
	if err := task.Fail("No agent responses were collected"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if task.Error != "No agent responses were collected" || !task.Status.Terminal() {
		t.Fatalf("unexpected task %+v", task)
	}
}

func TestTaskClone(t *testing.T) {
	task := NewTask("t", "d", "c", "")
	_ = task.Start()
	_ = task.Complete(TaskResult{Summary: "s", Details: []SubtaskOutcome{{Response: "r"}}})

	clone := task.Clone()
	clone.Result.Details[0].Response = "changed"
	*clone.StartedAt = clone.StartedAt.Add(1)
	if task.Result.Details[0].Response != "r" {
		t.Errorf("clone shares result details")
	}
	if task.StartedAt.Equal(*clone.StartedAt) {
		t.Errorf("clone shares start time")
	}
}
