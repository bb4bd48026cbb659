// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EventType identifies a task execution event.
type EventType string

const (
	EventTaskStarted      EventType = "task.started"
	EventPlanCreated      EventType = "task.plan_created"
	EventSubtaskStarted   EventType = "subtask.started"
	EventSubtaskCompleted EventType = "subtask.completed"
	EventSubtaskFailed    EventType = "subtask.failed"
	EventTaskCompleted    EventType = "task.completed"
	EventTaskFailed       EventType = "task.failed"
)

// Event captures a step of a task execution.
type Event struct {
	Type      EventType
	TaskID    string
	CrewID    string
	AgentID   string
	Timestamp time.Time
	Payload   map[string]any
}

// EventEmitter receives task execution events.
type EventEmitter interface {
	Emit(ctx context.Context, event Event)
}

// NoopEventEmitter is a default no-op implementation.
type NoopEventEmitter struct{}

// Emit implements EventEmitter.
func (NoopEventEmitter) Emit(_ context.Context, _ Event) {}

// LogEventEmitter writes events to a slog logger at debug level.
type LogEventEmitter struct {
	Logger *slog.Logger
}

// Emit implements EventEmitter.
func (e LogEventEmitter) Emit(ctx context.Context, event Event) {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{slog.String("task_id", event.TaskID), slog.String("crew_id", event.CrewID)}
	if event.AgentID != "" {
		attrs = append(attrs, slog.String("agent_id", event.AgentID))
	}
	if len(event.Payload) > 0 {
		attrs = append(attrs, slog.Any("payload", event.Payload))
	}
	logger.DebugContext(ctx, string(event.Type), attrs...)
}

// RecordingEmitter keeps every event in memory.
type RecordingEmitter struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements EventEmitter.
func (r *RecordingEmitter) Emit(_ context.Context, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of the recorded events.
func (r *RecordingEmitter) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *RecordingEmitter) Types() []EventType {
	events := r.Events()
	types := make([]EventType, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}

// NewEvent builds an event stamped with the current time.
func NewEvent(eventType EventType, taskID, crewID, agentID string, payload map[string]any) Event {
	return Event{
		Type:      eventType,
		TaskID:    taskID,
		CrewID:    crewID,
		AgentID:   agentID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}
