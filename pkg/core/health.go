// SPDX-License-Identifier: Apache-2.0

// Package core holds the crew domain model: crews, agents, tasks, plans,
// execution events and component health checks.
package core

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jllopis/crewkernel/pkg/errors"
)

// HealthStatus represents the health state of a component.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "HEALTHY"
	HealthDegraded  HealthStatus = "DEGRADED"
	HealthUnhealthy HealthStatus = "UNHEALTHY"
)

// HealthResult is the outcome of one component check.
type HealthResult struct {
	Component string         `json:"component"`
	Status    HealthStatus   `json:"status"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	LastCheck time.Time      `json:"last_check"`
}

// HealthReport aggregates every registered check.
type HealthReport struct {
	Status     HealthStatus   `json:"status"`
	Components []HealthResult `json:"components"`
}

// HealthChecker checks the health of a component. Implementations should
// honor ctx deadlines.
type HealthChecker interface {
	Check(ctx context.Context) HealthResult
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) HealthResult

// Check implements HealthChecker.
func (f HealthCheckFunc) Check(ctx context.Context) HealthResult {
	result := f(ctx)
	if result.LastCheck.IsZero() {
		result.LastCheck = time.Now().UTC()
	}
	return result
}

// HealthRegistry runs named health checks.
type HealthRegistry struct {
	mu       sync.RWMutex
	checkers map[string]HealthChecker
	timeout  time.Duration
}

// NewHealthRegistry creates a registry that bounds each check by timeout.
// A zero timeout defaults to two seconds.
func NewHealthRegistry(timeout time.Duration) *HealthRegistry {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthRegistry{checkers: make(map[string]HealthChecker), timeout: timeout}
}

// Register adds or replaces the checker for name.
func (r *HealthRegistry) Register(name string, checker HealthChecker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[name] = checker
}

// Check runs the checker registered under name.
func (r *HealthRegistry) Check(ctx context.Context, name string) (HealthResult, error) {
	r.mu.RLock()
	checker, ok := r.checkers[name]
	r.mu.RUnlock()
	if !ok {
		return HealthResult{}, errors.New(errors.CodeNotFound, "health checker not registered: "+name, nil)
	}
	return r.run(ctx, name, checker), nil
}

// CheckAll runs every check, sorted by component name. The overall status
// is the worst individual status.
func (r *HealthRegistry) CheckAll(ctx context.Context) HealthReport {
	r.mu.RLock()
	names := make([]string, 0, len(r.checkers))
	for name := range r.checkers {
		names = append(names, name)
	}
	checkers := make(map[string]HealthChecker, len(r.checkers))
	for name, c := range r.checkers {
		checkers[name] = c
	}
	r.mu.RUnlock()
	sort.Strings(names)

	report := HealthReport{Status: HealthHealthy, Components: make([]HealthResult, 0, len(names))}
	for _, name := range names {
		result := r.run(ctx, name, checkers[name])
		report.Components = append(report.Components, result)
		switch result.Status {
		case HealthUnhealthy:
			report.Status = HealthUnhealthy
		case HealthDegraded:
			if report.Status == HealthHealthy {
				report.Status = HealthDegraded
			}
		}
	}
	return report
}

func (r *HealthRegistry) run(ctx context.Context, name string, checker HealthChecker) HealthResult {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	result := checker.Check(ctx)
	result.Component = name
	if result.Status == "" {
		result.Status = HealthUnhealthy
	}
	if result.LastCheck.IsZero() {
		result.LastCheck = time.Now().UTC()
	}
	return result
}
