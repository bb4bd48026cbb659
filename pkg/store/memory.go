// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"sync"
	"time"

	"github.com/jllopis/crewkernel/pkg/core"
	"github.com/jllopis/crewkernel/pkg/errors"
)

// MemoryStore keeps every record in process memory. Reads return copies.
type MemoryStore struct {
	mu       sync.RWMutex
	crews    map[string]core.Crew
	agents   map[string]core.Agent
	members  map[string][]core.Membership
	tasks    map[string]*core.Task
	messages map[string][]core.TaskMessage
	nextMsg  int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		crews:    make(map[string]core.Crew),
		agents:   make(map[string]core.Agent),
		members:  make(map[string][]core.Membership),
		tasks:    make(map[string]*core.Task),
		messages: make(map[string][]core.TaskMessage),
	}
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

// GetCrew returns the crew or a CREW_NOT_FOUND error.
func (s *MemoryStore) GetCrew(_ context.Context, crewID string) (*core.Crew, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	crew, ok := s.crews[crewID]
	if !ok {
		return nil, errors.CrewNotFound(crewID)
	}
	return &crew, nil
}

// GetAgent returns the agent or a NOT_FOUND error.
func (s *MemoryStore) GetAgent(_ context.Context, agentID string) (*core.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[agentID]
	if !ok {
		return nil, agentNotFound(agentID)
	}
	agent = cloneAgent(agent)
	return &agent, nil
}

// ListMembers implements CrewStore. Memberships whose agent is gone are skipped.
func (s *MemoryStore) ListMembers(_ context.Context, crewID string) ([]core.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.crews[crewID]; !ok {
		return nil, errors.CrewNotFound(crewID)
	}
	members := make([]core.Member, 0, len(s.members[crewID]))
	for _, m := range s.members[crewID] {
		agent, ok := s.agents[m.AgentID]
		if !ok {
			continue
		}
		members = append(members, core.Member{Agent: cloneAgent(agent), Role: m.Role})
	}
	return members, nil
}

// PutCrew inserts or replaces a crew.
func (s *MemoryStore) PutCrew(_ context.Context, crew core.Crew) error {
	if crew.ID == "" {
		return invalid("crew id is required")
	}
	if crew.CreatedAt.IsZero() {
		crew.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.crews[crew.ID] = crew
	return nil
}

// PutAgent inserts or replaces an agent.
func (s *MemoryStore) PutAgent(_ context.Context, agent core.Agent) error {
	if agent.ID == "" {
		return invalid("agent id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[agent.ID] = cloneAgent(agent)
	return nil
}

// AddMember adds an agent to a crew, or updates its role when already present.
func (s *MemoryStore) AddMember(_ context.Context, m core.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.crews[m.CrewID]; !ok {
		return errors.CrewNotFound(m.CrewID)
	}
	if _, ok := s.agents[m.AgentID]; !ok {
		return agentNotFound(m.AgentID)
	}
	list := s.members[m.CrewID]
	for i := range list {
		if list[i].AgentID == m.AgentID {
			list[i].Role = m.Role
			return nil
		}
	}
	s.members[m.CrewID] = append(list, m)
	return nil
}

// RemoveMember drops an agent from a crew. Removing a non-member is a no-op.
func (s *MemoryStore) RemoveMember(_ context.Context, crewID, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.crews[crewID]; !ok {
		return errors.CrewNotFound(crewID)
	}
	list := s.members[crewID]
	for i := range list {
		if list[i].AgentID == agentID {
			s.members[crewID] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return nil
}

// CreateTask stores a new task.
func (s *MemoryStore) CreateTask(_ context.Context, task *core.Task) error {
	if task == nil || task.ID == "" {
		return invalid("task id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return invalid("task " + task.ID + " already exists")
	}
	s.tasks[task.ID] = task.Clone()
	return nil
}

// GetTask returns a copy of the task.
func (s *MemoryStore) GetTask(_ context.Context, taskID string) (*core.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil, taskNotFound(taskID)
	}
	return task.Clone(), nil
}

// UpdateTask replaces the stored task.
func (s *MemoryStore) UpdateTask(_ context.Context, task *core.Task) error {
	if task == nil {
		return invalid("task is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; !ok {
		return taskNotFound(task.ID)
	}
	s.tasks[task.ID] = task.Clone()
	return nil
}

// AppendMessage adds msg to its task's log and assigns it an id.
func (s *MemoryStore) AppendMessage(_ context.Context, msg core.TaskMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[msg.TaskID]; !ok {
		return taskNotFound(msg.TaskID)
	}
	s.nextMsg++
	msg.ID = s.nextMsg
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	s.messages[msg.TaskID] = append(s.messages[msg.TaskID], msg)
	return nil
}

// ListMessages returns the task's log in append order.
func (s *MemoryStore) ListMessages(_ context.Context, taskID string) ([]core.TaskMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.tasks[taskID]; !ok {
		return nil, taskNotFound(taskID)
	}
	return append([]core.TaskMessage(nil), s.messages[taskID]...), nil
}
