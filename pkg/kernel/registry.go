// SPDX-License-Identifier: Apache-2.0

// Package kernel caches one execution context per crew: the model handle
// plus the tools bound to the crew's current members.
package kernel

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jllopis/crewkernel/pkg/core"
	"github.com/jllopis/crewkernel/pkg/llm"
	"github.com/jllopis/crewkernel/pkg/tools"
)

// ExecutionContext is the immutable bundle a task runs against.
type ExecutionContext struct {
	CrewID   string
	Crew     core.Crew
	Members  []core.Member
	Provider llm.Provider
	Settings llm.Settings
	Tools    *tools.Set
	BuiltAt  time.Time
}

// Builder creates a fresh execution context for a crew.
type Builder interface {
	Build(ctx context.Context, crewID string) (*ExecutionContext, error)
}

// BuilderFunc adapts a function to Builder.
type BuilderFunc func(ctx context.Context, crewID string) (*ExecutionContext, error)

// Build calls f.
func (f BuilderFunc) Build(ctx context.Context, crewID string) (*ExecutionContext, error) {
	return f(ctx, crewID)
}

// Registry is a concurrency-safe, lazily filled cache of execution contexts.
type Registry struct {
	builder Builder
	logger  *slog.Logger

	mu       sync.RWMutex
	contexts map[string]*ExecutionContext
	gen      uint64
	locks    *keyedLocks
	builds   atomic.Int64
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry creates an empty registry backed by builder.
func NewRegistry(builder Builder, opts ...RegistryOption) *Registry {
	r := &Registry{
		builder:  builder,
		logger:   slog.Default(),
		contexts: make(map[string]*ExecutionContext),
		locks:    newKeyedLocks(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Registry) cached(crewID string) (*ExecutionContext, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ec, ok := r.contexts[crewID]
	return ec, ok
}

// Get returns the crew's context, building it on first use. Concurrent
// callers for the same crew share a single build; different crews never
// wait on each other.
func (r *Registry) Get(ctx context.Context, crewID string) (*ExecutionContext, error) {
	if ec, ok := r.cached(crewID); ok {
		return ec, nil
	}
	unlock, err := r.locks.lock(ctx, crewID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if ec, ok := r.cached(crewID); ok {
		return ec, nil
	}
	return r.build(ctx, crewID)
}

// Refresh discards any cached context for the crew and builds a new one.
// On build failure the crew is left without a cached context.
func (r *Registry) Refresh(ctx context.Context, crewID string) (*ExecutionContext, error) {
	unlock, err := r.locks.lock(ctx, crewID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	r.mu.Lock()
	delete(r.contexts, crewID)
	r.mu.Unlock()
	return r.build(ctx, crewID)
}

// build must run with the crew's lock held.
func (r *Registry) build(ctx context.Context, crewID string) (*ExecutionContext, error) {
	start := time.Now()
	r.builds.Add(1)
	r.mu.RLock()
	gen := r.gen
	r.mu.RUnlock()
	ec, err := r.builder.Build(ctx, crewID)
	if err != nil {
		r.logger.WarnContext(ctx, "kernel.build.failed", slog.String("crew_id", crewID), slog.String("error", err.Error()))
		return nil, err
	}
	r.mu.Lock()
	if r.gen == gen {
		r.contexts[crewID] = ec
	}
	r.mu.Unlock()
	r.logger.InfoContext(ctx, "kernel.build",
		slog.String("crew_id", crewID),
		slog.Int("tools", ec.Tools.Len()),
		slog.Duration("elapsed", time.Since(start)),
	)
	return ec, nil
}

// Invalidate drops the crew's cached context, waiting for any build in
// progress. The next Get rebuilds it.
func (r *Registry) Invalidate(ctx context.Context, crewID string) error {
	unlock, err := r.locks.lock(ctx, crewID)
	if err != nil {
		return err
	}
	defer unlock()
	r.mu.Lock()
	delete(r.contexts, crewID)
	r.mu.Unlock()
	r.logger.DebugContext(ctx, "kernel.invalidate", slog.String("crew_id", crewID))
	return nil
}

// InvalidateAll drops every cached context. Builds in progress return their
// context to their callers but do not cache it.
func (r *Registry) InvalidateAll() {
	r.mu.Lock()
	n := len(r.contexts)
	r.contexts = make(map[string]*ExecutionContext)
	r.gen++
	r.mu.Unlock()
	r.logger.Info("kernel.invalidate_all", slog.Int("contexts", n))
}

// Len returns the number of cached contexts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.contexts)
}

// Builds returns how many builds the registry has started.
func (r *Registry) Builds() int64 {
	return r.builds.Load()
}

// CrewIDs returns the ids of cached crews, sorted.
func (r *Registry) CrewIDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.contexts))
	for id := range r.contexts {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Function describes one bound tool.
type Function struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Parameters  []tools.Parameter `json:"parameters"`
}

// Description is the introspection view of a crew context.
type Description struct {
	PluginName string     `json:"plugin_name"`
	Functions  []Function `json:"functions"`
}

// PluginName is the name the crew's tool set is published under.
func PluginName(crewID string) string {
	return "crew_" + crewID + "_agents"
}

// Describe lists the tools of the crew's cached context. It never builds:
// with nothing cached the function list is empty.
func (r *Registry) Describe(crewID string) Description {
	d := Description{PluginName: PluginName(crewID), Functions: []Function{}}
	ec, ok := r.cached(crewID)
	if !ok {
		return d
	}
	for _, b := range ec.Tools.All() {
		d.Functions = append(d.Functions, Function{
			Name:        b.Name,
			Description: b.Description,
			Parameters:  b.Parameters(),
		})
	}
	return d
}

// HealthCheck reports the registry state for the health endpoint.
func (r *Registry) HealthCheck(_ context.Context) core.HealthResult {
	return core.HealthResult{
		Component: "kernel",
		Status:    core.HealthHealthy,
		Details: map[string]any{
			"contexts": r.Len(),
			"builds":   r.Builds(),
		},
		LastCheck: time.Now(),
	}
}
