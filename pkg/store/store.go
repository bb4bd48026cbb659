// SPDX-License-Identifier: Apache-2.0

// Package store persists crews, agents, tasks and task messages.
//
// Two backends are provided: MemoryStore for tests and single-shot CLI runs,
// and SQLiteStore for the long-running server.
package store

import (
	"context"
	"fmt"

	"github.com/jllopis/crewkernel/pkg/core"
	"github.com/jllopis/crewkernel/pkg/errors"
)

// CrewStore gives access to crews, agents and memberships.
type CrewStore interface {
	GetCrew(ctx context.Context, crewID string) (*core.Crew, error)
	GetAgent(ctx context.Context, agentID string) (*core.Agent, error)
	// ListMembers returns the crew's memberships resolved to agents, in the
	// order they were added.
	ListMembers(ctx context.Context, crewID string) ([]core.Member, error)
	PutCrew(ctx context.Context, crew core.Crew) error
	PutAgent(ctx context.Context, agent core.Agent) error
	AddMember(ctx context.Context, m core.Membership) error
	RemoveMember(ctx context.Context, crewID, agentID string) error
}

// TaskStore gives access to tasks and their message log.
type TaskStore interface {
	CreateTask(ctx context.Context, task *core.Task) error
	GetTask(ctx context.Context, taskID string) (*core.Task, error)
	UpdateTask(ctx context.Context, task *core.Task) error
	AppendMessage(ctx context.Context, msg core.TaskMessage) error
	ListMessages(ctx context.Context, taskID string) ([]core.TaskMessage, error)
}

// Store is the full persistence surface.
type Store interface {
	CrewStore
	TaskStore
	Close() error
}

func agentNotFound(id string) error {
	return errors.New(errors.CodeNotFound, fmt.Sprintf("Agent with ID %s not found", id), nil).
		WithContext("agent_id", id)
}

func taskNotFound(id string) error {
	return errors.New(errors.CodeNotFound, fmt.Sprintf("Task with ID %s not found", id), nil).
		WithContext("task_id", id)
}

func invalid(msg string) error {
	return errors.New(errors.CodeInvalidInput, msg, nil)
}

func cloneAgent(a core.Agent) core.Agent {
	if a.Capabilities != nil {
		caps := make(map[string]any, len(a.Capabilities))
		for k, v := range a.Capabilities {
			caps[k] = v
		}
		a.Capabilities = caps
	}
	return a
}
