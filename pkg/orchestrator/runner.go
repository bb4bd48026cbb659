// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/jllopis/crewkernel/pkg/core"
	"github.com/jllopis/crewkernel/pkg/errors"
)

// Executor runs one task. *Orchestrator implements it.
type Executor interface {
	Execute(ctx context.Context, taskID string) (*core.Task, error)
}

// Runner executes tasks in the background, one goroutine per task id.
type Runner struct {
	exec   Executor
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running map[string]struct{}
	closed  bool
	wg      sync.WaitGroup
}

// NewRunner creates a runner. logger may be nil.
func NewRunner(exec Executor, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		exec:    exec,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		running: make(map[string]struct{}),
	}
}

// Submit starts executing taskID and returns immediately. A task already
// running is rejected with INVALID_TRANSITION.
func (r *Runner) Submit(taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New(errors.CodeInternal, "runner is stopped", nil)
	}
	if _, busy := r.running[taskID]; busy {
		return errors.New(errors.CodeInvalidTransition, "task "+taskID+" is already running", nil).
			WithContext("task_id", taskID)
	}
	r.running[taskID] = struct{}{}
	r.wg.Add(1)
	go r.execute(taskID)
	return nil
}

func (r *Runner) execute(taskID string) {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		delete(r.running, taskID)
		r.mu.Unlock()
	}()

	task, err := r.exec.Execute(r.ctx, taskID)
	if err != nil {
		r.logger.Error("runner.task.error", slog.String("task_id", taskID), slog.String("error", err.Error()))
		return
	}
	r.logger.Info("runner.task.done", slog.String("task_id", taskID), slog.String("status", string(task.Status)))
}

// Running returns the ids of tasks in flight, sorted.
func (r *Runner) Running() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.running))
	for id := range r.running {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Wait blocks until every submitted task has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Stop rejects new submissions and waits for running tasks. When ctx ends
// first, the running tasks are canceled and ctx's error is returned once
// they have returned.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}
