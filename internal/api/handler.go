// Package api exposes pipelines, executions and the scheduler over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"duckflow/internal/domain"
	"duckflow/internal/middleware"
	"duckflow/internal/service/pipeline"
)

// pipelineService defines the pipeline and execution operations used by the
// API handler.
type pipelineService interface {
	CreatePipeline(ctx context.Context, req domain.CreatePipelineRequest) (*domain.Pipeline, error)
	ValidatePipeline(req domain.CreatePipelineRequest) error
	GetPipeline(ctx context.Context, ref string) (*domain.Pipeline, error)
	ListPipelines(ctx context.Context, filter domain.PipelineFilter) ([]domain.Pipeline, int64, error)
	UpdatePipeline(ctx context.Context, ref string, req domain.UpdatePipelineRequest) (*domain.Pipeline, error)
	DeletePipeline(ctx context.Context, ref string) error
	ActivatePipeline(ctx context.Context, ref string) (*domain.Pipeline, error)
	DeactivatePipeline(ctx context.Context, ref string) (*domain.Pipeline, error)

	ExecutePipeline(ctx context.Context, ref string, params map[string]string) (*pipeline.Handle, error)
	GetExecution(ctx context.Context, id string) (*domain.Execution, error)
	ListExecutions(ctx context.Context, filter domain.ExecutionFilter) ([]domain.Execution, int64, error)
	CancelExecution(ctx context.Context, id string) error
	RunningExecutions() []string
	ExecutionProgress(ctx context.Context, id string) (*domain.Progress, error)
	Statistics(ctx context.Context, pipelineID *string) (*domain.ExecutionStatistics, error)
}

// jobRegistry is the part of the scheduler the API exposes.
type jobRegistry interface {
	GetJob(pipelineID string) (*domain.ScheduledJob, bool)
	ListJobs() []domain.ScheduledJob
	EnableJob(pipelineID string) error
	DisableJob(pipelineID string) error
}

// Presigner issues download URLs for s3:// outputs. Implemented by
// *storage.S3Store.
type Presigner interface {
	PresignGetObject(ctx context.Context, uri string, expiry time.Duration) (string, error)
}

var (
	_ pipelineService = (*pipeline.Service)(nil)
	_ jobRegistry     = (*pipeline.Scheduler)(nil)
)

// APIHandler serves the /v1 API.
type APIHandler struct {
	pipelines pipelineService
	jobs      jobRegistry
	presigner Presigner // nil when object storage is not configured
	logger    *slog.Logger
}

// NewHandler creates a new APIHandler. presign may be nil.
func NewHandler(pipelines pipelineService, jobs jobRegistry, presign Presigner, logger *slog.Logger) *APIHandler {
	return &APIHandler{
		pipelines: pipelines,
		jobs:      jobs,
		presigner: presign,
		logger:    logger.With("component", "api"),
	}
}

// RouterConfig holds the cross-cutting settings of the HTTP surface.
type RouterConfig struct {
	RateLimit middleware.RateLimitConfig
	// Auth enables bearer-token authentication on /v1 when set.
	Auth *middleware.HS256Validator
	// Ready backs GET /readyz; nil reports ready.
	Ready func(ctx context.Context) error
}

// NewRouter mounts the handler on a chi router. ctx bounds the lifetime of
// background middleware state.
func NewRouter(ctx context.Context, h *APIHandler, cfg RouterConfig, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog(logger))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Ready != nil {
			if err := cfg.Ready(r.Context()); err != nil {
				logger.WarnContext(r.Context(), "not ready", "error", err)
				writeJSON(w, http.StatusServiceUnavailable, Error{Code: http.StatusServiceUnavailable, Message: "not ready"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Route("/v1", func(r chi.Router) {
		if cfg.RateLimit.RequestsPerSecond > 0 {
			r.Use(middleware.RateLimiter(ctx, cfg.RateLimit))
		}
		r.Use(middleware.Auth(cfg.Auth))
		h.Mount(r)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, Error{Code: http.StatusNotFound, Message: "route not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, Error{Code: http.StatusMethodNotAllowed, Message: "method not allowed"})
	})
	return r
}

// Mount registers the /v1 routes on r.
func (h *APIHandler) Mount(r chi.Router) {
	r.Route("/pipelines", func(r chi.Router) {
		r.Get("/", h.ListPipelines)
		r.Post("/", h.CreatePipeline)
		r.Post("/validate", h.ValidatePipeline)
		r.Route("/{ref}", func(r chi.Router) {
			r.Get("/", h.GetPipeline)
			r.Patch("/", h.UpdatePipeline)
			r.Delete("/", h.DeletePipeline)
			r.Post("/activate", h.ActivatePipeline)
			r.Post("/deactivate", h.DeactivatePipeline)
			r.Post("/execute", h.ExecutePipeline)
			r.Get("/executions", h.ListPipelineExecutions)
			r.Get("/schedule", h.GetSchedule)
			r.Post("/schedule/enable", h.EnableSchedule)
			r.Post("/schedule/disable", h.DisableSchedule)
		})
	})

	r.Route("/executions", func(r chi.Router) {
		r.Get("/", h.ListExecutions)
		r.Get("/running", h.RunningExecutions)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetExecution)
			r.Post("/cancel", h.CancelExecution)
			r.Get("/steps", h.GetExecutionSteps)
			r.Get("/logs", h.GetExecutionLogs)
			r.Get("/outputs", h.GetExecutionOutputs)
			r.Get("/progress", h.GetExecutionProgress)
		})
	})

	r.Get("/scheduler/jobs", h.ListJobs)
	r.Get("/statistics", h.Statistics)
}
