// SPDX-License-Identifier: Apache-2.0

// Package server exposes task execution and crew context introspection over
// HTTP+JSON.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/jllopis/crewkernel/pkg/core"
	"github.com/jllopis/crewkernel/pkg/errors"
	"github.com/jllopis/crewkernel/pkg/kernel"
	"github.com/jllopis/crewkernel/pkg/store"
)

// Submitter starts background task executions. *orchestrator.Runner
// implements it.
type Submitter interface {
	Submit(taskID string) error
}

// Server routes the HTTP API.
type Server struct {
	tasks    store.TaskStore
	registry *kernel.Registry
	runner   Submitter
	health   *core.HealthRegistry
	logger   *slog.Logger
	mux      *http.ServeMux
}

// New creates the API handler. health may be nil.
func New(tasks store.TaskStore, registry *kernel.Registry, runner Submitter, health *core.HealthRegistry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if health == nil {
		health = core.NewHealthRegistry(0)
	}
	s := &Server{
		tasks:    tasks,
		registry: registry,
		runner:   runner,
		health:   health,
		logger:   logger,
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("POST /tasks", s.handleCreateTask)
	s.mux.HandleFunc("GET /tasks/{id}", s.handleGetTask)
	s.mux.HandleFunc("GET /tasks/{id}/messages", s.handleListMessages)
	s.mux.HandleFunc("POST /tasks/{id}/execute", s.handleExecuteTask)
	s.mux.HandleFunc("GET /crews/{id}/context", s.handleDescribeContext)
	s.mux.HandleFunc("POST /crews/{id}/context/refresh", s.handleRefreshContext)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	return s
}

// ServeHTTP extracts the caller's trace context and dispatches the request.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r.WithContext(ctx))
	s.logger.DebugContext(ctx, "server.request",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", rec.status),
		slog.Duration("elapsed", time.Since(start)),
	)
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("server.listen", slog.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type createTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	CrewID      string `json:"crew_id"`
	CreatorID   string `json:"creator_id"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, errors.New(errors.CodeInvalidInput, "invalid JSON body", err))
		return
	}
	if req.Title == "" || req.Description == "" || req.CrewID == "" {
		s.writeError(w, r, errors.New(errors.CodeInvalidInput, "title, description and crew_id are required", nil))
		return
	}
	task := core.NewTask(req.Title, req.Description, req.CrewID, req.CreatorID)
	if err := s.tasks.CreateTask(r.Context(), task); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.tasks.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.tasks.ListMessages(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []core.TaskMessage{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleExecuteTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	task, err := s.tasks.GetTask(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if task.Status != core.TaskStatusPending {
		s.writeError(w, r, errors.New(errors.CodeInvalidTransition, "task "+id+" is "+string(task.Status), nil))
		return
	}
	if err := s.runner.Submit(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": id, "status": "accepted"})
}

func (s *Server) handleDescribeContext(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if r.URL.Query().Get("build") == "true" {
		if _, err := s.registry.Get(r.Context(), id); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, s.registry.Describe(id))
}

func (s *Server) handleRefreshContext(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.registry.Refresh(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.registry.Describe(id))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.health.CheckAll(r.Context())
	status := http.StatusOK
	if report.Status == core.HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	ce := errors.AsCrewError(err)
	if ce.StatusCode >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "server.error", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
	}
	writeJSON(w, ce.StatusCode, map[string]any{"error": ce})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
