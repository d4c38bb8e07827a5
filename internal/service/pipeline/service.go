package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"duckflow/internal/domain"
)

// JobSync keeps the scheduler registry in line with pipeline changes.
// Implemented by *Scheduler.
type JobSync interface {
	UpdateJob(p *domain.Pipeline) error
	RemoveJob(pipelineID string) bool
}

// Service manages pipeline definitions and their executions.
type Service struct {
	pipelines  domain.PipelineRepository
	executions domain.ExecutionRepository
	engine     *Engine
	jobs       JobSync
	clock      func() time.Time
	logger     *slog.Logger
}

// NewService creates a new Service.
func NewService(
	pipelines domain.PipelineRepository,
	executions domain.ExecutionRepository,
	engine *Engine,
	logger *slog.Logger,
) *Service {
	return &Service{
		pipelines:  pipelines,
		executions: executions,
		engine:     engine,
		clock:      time.Now,
		logger:     logger.With("component", "pipeline-service"),
	}
}

// SetJobSync attaches the scheduler after construction; the scheduler itself
// needs the engine and repository first.
func (s *Service) SetJobSync(j JobSync) {
	s.jobs = j
}

// === Pipeline CRUD ===

// CreatePipeline validates and stores a new draft pipeline.
func (s *Service) CreatePipeline(ctx context.Context, req domain.CreatePipelineRequest) (*domain.Pipeline, error) {
	now := s.now()
	p := &domain.Pipeline{
		ID:          domain.NewID(),
		Name:        req.Name,
		Description: req.Description,
		Status:      domain.PipelineStatusDraft,
		Steps:       withStepIDs(req.Steps),
		Schedule:    req.Schedule,
		Metadata:    req.Metadata,
		CreatedBy:   domain.PrincipalName(ctx, "system"),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	created, err := s.pipelines.Create(ctx, p)
	if err != nil {
		return nil, err
	}
	s.logger.Info("pipeline created", "pipeline_id", created.ID, "pipeline", created.Name)
	return created, nil
}

// ValidatePipeline checks a definition without storing it.
func (s *Service) ValidatePipeline(req domain.CreatePipelineRequest) error {
	p := &domain.Pipeline{Name: req.Name, Steps: req.Steps, Schedule: req.Schedule}
	return p.Validate()
}

// GetPipeline returns a live pipeline by id, falling back to its name.
func (s *Service) GetPipeline(ctx context.Context, ref string) (*domain.Pipeline, error) {
	p, err := s.pipelines.GetByID(ctx, ref)
	var notFound *domain.NotFoundError
	if errors.As(err, &notFound) {
		p, err = s.pipelines.GetByName(ctx, ref)
	}
	if err != nil {
		return nil, err
	}
	if p.Status == domain.PipelineStatusDeleted {
		return nil, domain.ErrNotFound("pipeline %q not found", ref)
	}
	return p, nil
}

// ListPipelines lists pipelines; deleted ones only when filtered for.
func (s *Service) ListPipelines(ctx context.Context, filter domain.PipelineFilter) ([]domain.Pipeline, int64, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, 0, domain.ErrValidation("unknown pipeline status %q", *filter.Status)
	}
	return s.pipelines.List(ctx, filter)
}

// UpdatePipeline applies a partial update and re-syncs the scheduler.
func (s *Service) UpdatePipeline(ctx context.Context, ref string, req domain.UpdatePipelineRequest) (*domain.Pipeline, error) {
	p, err := s.GetPipeline(ctx, ref)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		p.Name = *req.Name
	}
	if req.Description != nil {
		p.Description = *req.Description
	}
	if req.Steps != nil {
		p.Steps = withStepIDs(req.Steps)
	}
	if req.Schedule != nil {
		p.Schedule = req.Schedule
	}
	if req.Metadata != nil {
		p.Metadata = req.Metadata
	}
	if req.Status != nil {
		if !req.Status.Valid() {
			return nil, domain.ErrValidation("unknown pipeline status %q", *req.Status)
		}
		p.Status = *req.Status
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return s.save(ctx, p)
}

// DeletePipeline marks a pipeline deleted and drops its scheduled job.
func (s *Service) DeletePipeline(ctx context.Context, ref string) error {
	p, err := s.GetPipeline(ctx, ref)
	if err != nil {
		return err
	}
	p.Status = domain.PipelineStatusDeleted
	_, err = s.save(ctx, p)
	return err
}

// ActivatePipeline makes a pipeline schedulable.
func (s *Service) ActivatePipeline(ctx context.Context, ref string) (*domain.Pipeline, error) {
	return s.setStatus(ctx, ref, domain.PipelineStatusActive)
}

// DeactivatePipeline stops scheduled runs of a pipeline.
func (s *Service) DeactivatePipeline(ctx context.Context, ref string) (*domain.Pipeline, error) {
	return s.setStatus(ctx, ref, domain.PipelineStatusInactive)
}

func (s *Service) setStatus(ctx context.Context, ref string, status domain.PipelineStatus) (*domain.Pipeline, error) {
	p, err := s.GetPipeline(ctx, ref)
	if err != nil {
		return nil, err
	}
	p.Status = status
	return s.save(ctx, p)
}

// save persists p and brings the scheduler registry in line with it.
func (s *Service) save(ctx context.Context, p *domain.Pipeline) (*domain.Pipeline, error) {
	p.UpdatedAt = s.now()
	updated, err := s.pipelines.Update(ctx, p)
	if err != nil {
		return nil, err
	}
	s.syncJob(updated)
	s.logger.Info("pipeline updated", "pipeline_id", updated.ID, "status", updated.Status)
	return updated, nil
}

func (s *Service) syncJob(p *domain.Pipeline) {
	if s.jobs == nil {
		return
	}
	if !p.IsSchedulable() {
		s.jobs.RemoveJob(p.ID)
		return
	}
	if err := s.jobs.UpdateJob(p); err != nil {
		s.logger.Warn("schedule pipeline", "pipeline_id", p.ID, "error", err)
	}
}

// === Executions ===

// ExecutePipeline starts a run of the pipeline. triggeredBy defaults to api.
func (s *Service) ExecutePipeline(ctx context.Context, ref string, params map[string]string) (*Handle, error) {
	p, err := s.GetPipeline(ctx, ref)
	if err != nil {
		return nil, err
	}
	merged := make(map[string]string, len(params)+1)
	for k, v := range params {
		merged[k] = v
	}
	if merged[domain.ParamTriggeredBy] == "" {
		merged[domain.ParamTriggeredBy] = domain.TriggerAPI
	}
	h, err := s.engine.Execute(ctx, p, merged)
	if err != nil {
		return nil, err
	}
	s.logger.Info("execution started", "pipeline_id", p.ID, "execution_id", h.ExecutionID,
		"principal", domain.PrincipalName(ctx, "system"))
	return h, nil
}

// GetExecution returns one execution.
func (s *Service) GetExecution(ctx context.Context, id string) (*domain.Execution, error) {
	return s.executions.GetByID(ctx, id)
}

// ListExecutions lists executions, newest first.
func (s *Service) ListExecutions(ctx context.Context, filter domain.ExecutionFilter) ([]domain.Execution, int64, error) {
	return s.executions.List(ctx, filter)
}

// CancelExecution cancels a queued or running execution.
func (s *Service) CancelExecution(ctx context.Context, id string) error {
	if s.engine.Cancel(id) {
		s.logger.Info("execution cancel requested", "execution_id", id,
			"principal", domain.PrincipalName(ctx, "system"))
		return nil
	}
	e, err := s.executions.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return domain.ErrValidation("cannot cancel execution with status %s", e.Status)
}

// RunningExecutions lists the ids of in-flight executions.
func (s *Service) RunningExecutions() []string {
	return s.engine.RunningExecutions()
}

// ExecutionProgress reports how many of the pipeline's enabled steps have
// completed.
func (s *Service) ExecutionProgress(ctx context.Context, id string) (*domain.Progress, error) {
	e, err := s.executions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	total := len(e.Steps)
	if p, err := s.pipelines.GetByID(ctx, e.PipelineID); err == nil {
		total = max(total, len(p.EnabledSteps()))
	}

	prog := &domain.Progress{ExecutionID: e.ID, Status: e.Status, TotalSteps: total}
	for _, st := range e.Steps {
		switch st.Status {
		case domain.ExecutionCompleted:
			prog.CompletedSteps++
		case domain.ExecutionFailed:
			prog.FailedSteps++
		case domain.ExecutionRunning:
			prog.CurrentStep = st.StepName
		}
	}
	if total > 0 {
		prog.Percentage = float64(prog.CompletedSteps) / float64(total) * 100
	}
	return prog, nil
}

// Statistics counts executions per status, optionally for one pipeline.
func (s *Service) Statistics(ctx context.Context, pipelineID *string) (*domain.ExecutionStatistics, error) {
	counts, err := s.executions.CountByStatus(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	stats := &domain.ExecutionStatistics{ByStatus: counts, Running: len(s.engine.RunningExecutions())}
	for _, n := range counts {
		stats.Total += n
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(counts[domain.ExecutionCompleted]) / float64(stats.Total) * 100
	}
	return stats, nil
}

func (s *Service) now() time.Time { return s.clock().UTC() }

// withStepIDs assigns ids to steps that arrive without one.
func withStepIDs(steps []domain.Step) []domain.Step {
	out := make([]domain.Step, len(steps))
	copy(out, steps)
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = domain.NewID()
		}
	}
	return out
}
