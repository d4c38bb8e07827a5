package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"duckflow/internal/domain"
	"duckflow/internal/recurrence"
)

// DefaultCheckInterval is how often the scheduler looks for due jobs.
const DefaultCheckInterval = 60 * time.Second

const triggerBuffer = 64

// Executor starts pipeline executions. Implemented by *Engine.
type Executor interface {
	Execute(ctx context.Context, p *domain.Pipeline, params map[string]string) (*Handle, error)
}

// TriggerResult is the outcome of one scheduler trigger.
type TriggerResult struct {
	PipelineID  string
	ExecutionID string
	At          time.Time
	Err         error
}

// SchedulerOptions tunes the scheduler.
type SchedulerOptions struct {
	CheckInterval time.Duration
	Clock         func() time.Time
}

// Scheduler keeps one ScheduledJob per active, scheduled pipeline and
// triggers executions when jobs fall due.
type Scheduler struct {
	pipelines domain.PipelineRepository
	executor  Executor
	calc      *recurrence.Calculator
	interval  time.Duration
	clock     func() time.Time
	logger    *slog.Logger
	triggers  chan TriggerResult

	mu     sync.Mutex
	jobs   map[string]*domain.ScheduledJob // pipeline ID → job
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a scheduler. It does nothing until Start.
func NewScheduler(
	pipelines domain.PipelineRepository,
	executor Executor,
	calc *recurrence.Calculator,
	opts SchedulerOptions,
	logger *slog.Logger,
) *Scheduler {
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = DefaultCheckInterval
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Scheduler{
		pipelines: pipelines,
		executor:  executor,
		calc:      calc,
		interval:  opts.CheckInterval,
		clock:     opts.Clock,
		logger:    logger.With("component", "scheduler"),
		triggers:  make(chan TriggerResult, triggerBuffer),
		jobs:      make(map[string]*domain.ScheduledJob),
	}
}

// Triggers delivers the outcome of every trigger. Results are dropped when
// nobody drains the channel and its buffer is full.
func (s *Scheduler) Triggers() <-chan TriggerResult { return s.triggers }

// Start registers a job for every active pipeline with a schedule and starts
// the tick loop. The loop stops on Stop or when ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	started := s.cancel != nil
	s.mu.Unlock()
	if started {
		return errors.New("scheduler already started")
	}

	if err := s.loadJobs(ctx); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go s.loop(loopCtx, done)
	s.logger.Info("scheduler started", "jobs", len(s.ListJobs()), "interval", s.interval)
	return nil
}

// Stop halts the tick loop and waits for an in-progress tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loadJobs(ctx context.Context) error {
	active := domain.PipelineStatusActive
	page := domain.PageRequest{MaxResults: domain.MaxMaxResults}
	for {
		batch, total, err := s.pipelines.List(ctx, domain.PipelineFilter{Status: &active, Page: page})
		if err != nil {
			return err
		}
		for i := range batch {
			p := &batch[i]
			if !p.IsSchedulable() {
				continue
			}
			if _, err := s.AddJob(p); err != nil {
				s.logger.Warn("skip pipeline schedule", "pipeline_id", p.ID, "error", err)
			}
		}
		next := domain.NextPageToken(page.Offset(), page.Limit(), total)
		if next == "" {
			return nil
		}
		page.PageToken = next
	}
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// AddJob registers or replaces the job for p and computes its first run.
func (s *Scheduler) AddJob(p *domain.Pipeline) (*domain.ScheduledJob, error) {
	if !p.IsSchedulable() {
		return nil, domain.ErrValidation("pipeline %q is not active with a schedule", p.Name)
	}
	if err := p.Schedule.Validate(); err != nil {
		return nil, err
	}
	next, ok := s.calc.NextRun(p.Schedule, s.now())
	if !ok {
		return nil, &domain.SchedulingError{PipelineID: p.ID, Err: errors.New("schedule has no upcoming run")}
	}
	sched := *p.Schedule
	job := &domain.ScheduledJob{
		PipelineID:   p.ID,
		PipelineName: p.Name,
		Schedule:     &sched,
		NextRun:      &next,
		Enabled:      true,
	}

	s.mu.Lock()
	s.jobs[p.ID] = job
	s.mu.Unlock()
	s.logger.Info("job scheduled", "pipeline_id", p.ID, "pipeline", p.Name, "next_run", next)
	return copyJob(job), nil
}

// RemoveJob drops the job for pipelineID and reports whether it existed.
func (s *Scheduler) RemoveJob(pipelineID string) bool {
	s.mu.Lock()
	_, ok := s.jobs[pipelineID]
	delete(s.jobs, pipelineID)
	s.mu.Unlock()
	if ok {
		s.logger.Info("job removed", "pipeline_id", pipelineID)
	}
	return ok
}

// UpdateJob re-registers p, or removes its job when p is no longer
// schedulable.
func (s *Scheduler) UpdateJob(p *domain.Pipeline) error {
	s.RemoveJob(p.ID)
	if !p.IsSchedulable() {
		return nil
	}
	_, err := s.AddJob(p)
	return err
}

// EnableJob resumes triggering of a registered job.
func (s *Scheduler) EnableJob(pipelineID string) error {
	return s.setEnabled(pipelineID, true)
}

// DisableJob keeps the job registered but stops triggering it.
func (s *Scheduler) DisableJob(pipelineID string) error {
	return s.setEnabled(pipelineID, false)
}

func (s *Scheduler) setEnabled(pipelineID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[pipelineID]
	if !ok {
		return domain.ErrNotFound("no scheduled job for pipeline %q", pipelineID)
	}
	job.Enabled = enabled
	return nil
}

// GetJob returns the job registered for pipelineID.
func (s *Scheduler) GetJob(pipelineID string) (*domain.ScheduledJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[pipelineID]
	if !ok {
		return nil, false
	}
	return copyJob(job), true
}

// ListJobs returns all jobs ordered by next run, then pipeline name.
func (s *Scheduler) ListJobs() []domain.ScheduledJob {
	s.mu.Lock()
	out := make([]domain.ScheduledJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *copyJob(job))
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].NextRun, out[j].NextRun
		if a != nil && b != nil && !a.Equal(*b) {
			return a.Before(*b)
		}
		return out[i].PipelineName < out[j].PipelineName
	})
	return out
}

// tick triggers every enabled job whose next run is not in the future.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()
	var due []string
	s.mu.Lock()
	for id, job := range s.jobs {
		if job.Enabled && job.NextRun != nil && !job.NextRun.After(now) {
			due = append(due, id)
		}
	}
	s.mu.Unlock()
	sort.Strings(due)

	for _, id := range due {
		if ctx.Err() != nil {
			return
		}
		s.fire(ctx, id, now)
	}
}

// fire re-checks the pipeline, triggers it and advances the job. The job is
// advanced or removed by schedule type whatever the trigger outcome: once
// jobs are removed, recurring jobs move to their next run.
func (s *Scheduler) fire(ctx context.Context, pipelineID string, now time.Time) {
	logger := s.logger.With("pipeline_id", pipelineID)

	p, err := s.pipelines.GetByID(ctx, pipelineID)
	if err != nil {
		var notFound *domain.NotFoundError
		if errors.As(err, &notFound) {
			logger.Info("pipeline gone, removing job")
			s.RemoveJob(pipelineID)
			return
		}
		logger.Error("load pipeline for trigger", "error", err)
		return
	}
	if !p.IsSchedulable() {
		logger.Info("pipeline no longer active, removing job", "status", p.Status)
		s.RemoveJob(pipelineID)
		return
	}
	if p.Schedule.EndTime != nil && now.After(*p.Schedule.EndTime) {
		logger.Info("schedule ended, removing job", "end_time", *p.Schedule.EndTime)
		s.RemoveJob(pipelineID)
		return
	}

	result := TriggerResult{PipelineID: pipelineID, At: now}
	h, err := s.executor.Execute(ctx, p, map[string]string{domain.ParamTriggeredBy: domain.TriggerScheduler})
	if err != nil {
		result.Err = &domain.SchedulingError{PipelineID: pipelineID, Err: err}
		logger.Error("scheduled trigger failed", "error", err)
	} else {
		result.ExecutionID = h.ExecutionID
		logger.Info("scheduled trigger", "execution_id", h.ExecutionID)
	}
	s.publish(result)

	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[pipelineID]
	if !ok {
		return
	}
	job.LastRun = &now
	if p.Schedule.Type == domain.ScheduleOnce {
		delete(s.jobs, pipelineID)
		return
	}
	next, ok := s.calc.NextRun(p.Schedule, now)
	if !ok {
		delete(s.jobs, pipelineID)
		return
	}
	sched := *p.Schedule
	job.Schedule = &sched
	job.NextRun = &next
}

func (s *Scheduler) publish(r TriggerResult) {
	select {
	case s.triggers <- r:
	default:
		s.logger.Debug("trigger result dropped", "pipeline_id", r.PipelineID)
	}
}

func (s *Scheduler) now() time.Time { return s.clock().UTC() }

func copyJob(j *domain.ScheduledJob) *domain.ScheduledJob {
	out := *j
	if j.Schedule != nil {
		sched := *j.Schedule
		out.Schedule = &sched
	}
	if j.NextRun != nil {
		t := *j.NextRun
		out.NextRun = &t
	}
	if j.LastRun != nil {
		t := *j.LastRun
		out.LastRun = &t
	}
	return &out
}
