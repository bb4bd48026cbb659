// SPDX-License-Identifier: Apache-2.0

package core

import "context"

type taskIDKey struct{}
type crewIDKey struct{}

// WithTaskID attaches a task id to the context.
func WithTaskID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, taskIDKey{}, id)
}

// TaskID returns the task id if present.
func TaskID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(taskIDKey{}).(string)
	return id, ok && id != ""
}

// WithCrewID attaches a crew id to the context.
func WithCrewID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, crewIDKey{}, id)
}

// CrewID returns the crew id if present.
func CrewID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(crewIDKey{}).(string)
	return id, ok && id != ""
}
