// Package pipeline runs pipelines: the execution engine, the recurring
// scheduler that feeds it, and the service that manages definitions.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"duckflow/internal/domain"
	"duckflow/internal/limiter"
)

// ErrEngineClosed is returned by Execute after Shutdown.
var ErrEngineClosed = errors.New("execution engine is shut down")

// EngineOptions tunes the execution engine.
type EngineOptions struct {
	// Timeout bounds one execution, queueing included. Zero disables it.
	Timeout time.Duration
	// RetryDelay is the fixed wait between attempts of a failing step.
	RetryDelay time.Duration
	// UploadDir and OutputDir anchor relative load and save paths.
	UploadDir string
	OutputDir string
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Engine runs executions in background goroutines, admitting at most
// limiter capacity of them at a time.
type Engine struct {
	executor   domain.StepExecutor
	executions domain.ExecutionRepository
	limiter    *limiter.Limiter
	handlers   map[domain.StepKind]stepHandler
	opts       EngineOptions
	logger     *slog.Logger

	mu      sync.Mutex
	running map[string]context.CancelCauseFunc
	closed  bool
	wg      sync.WaitGroup
}

// NewEngine creates an execution engine.
func NewEngine(
	executor domain.StepExecutor,
	executions domain.ExecutionRepository,
	lim *limiter.Limiter,
	opts EngineOptions,
	logger *slog.Logger,
) *Engine {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	e := &Engine{
		executor:   executor,
		executions: executions,
		limiter:    lim,
		opts:       opts,
		logger:     logger.With("component", "engine"),
		running:    make(map[string]context.CancelCauseFunc),
	}
	e.handlers = e.stepHandlers()
	return e
}

// Handle tracks one execution started by Execute.
type Handle struct {
	ExecutionID string

	pending *domain.Execution
	done    chan struct{}
	result  *domain.Execution
	err     error
}

// Done is closed once the execution reaches a terminal status and that
// status has been persisted.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the execution finishes or ctx is done. The error is a
// *domain.PipelineExecutionError when the run failed or was cancelled.
func (h *Handle) Wait(ctx context.Context) (*domain.Execution, error) {
	select {
	case <-h.done:
		return h.result.Clone(), h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Execution returns the final execution once done, else the pending record
// created by Execute.
func (h *Handle) Execution() *domain.Execution {
	select {
	case <-h.done:
		return h.result.Clone()
	default:
		return h.pending.Clone()
	}
}

// Execute records a pending execution of p and runs it in the background.
// It returns as soon as the pending record is persisted. The run does not
// inherit ctx's cancellation; use Cancel or Shutdown to stop it.
func (e *Engine) Execute(ctx context.Context, p *domain.Pipeline, params map[string]string) (*Handle, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, ErrEngineClosed
	}

	now := e.now()
	exec := &domain.Execution{
		ID:           domain.NewID(),
		PipelineID:   p.ID,
		PipelineName: p.Name,
		Status:       domain.ExecutionPending,
		Parameters:   copyParams(params),
		TriggeredBy:  params[domain.ParamTriggeredBy],
		Steps:        []domain.StepExecution{},
		OutputFiles:  []string{},
		Logs:         []string{},
		CreatedAt:    now,
	}
	if exec.TriggeredBy == "" {
		exec.TriggeredBy = domain.TriggerManual
	}
	if err := e.executions.Create(ctx, exec.Clone()); err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}

	runCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	h := &Handle{ExecutionID: exec.ID, pending: exec.Clone(), done: make(chan struct{})}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		cancel(ErrEngineClosed)
		exec.Finish(domain.ExecutionCancelled, e.now())
		exec.ErrorMessage = ErrEngineClosed.Error()
		e.persist(ctx, exec)
		return nil, ErrEngineClosed
	}
	e.running[exec.ID] = cancel
	e.wg.Add(1)
	e.mu.Unlock()

	steps := p.EnabledSteps()
	go e.run(runCtx, cancel, exec, steps, h)
	return h, nil
}

// Cancel requests cooperative cancellation of a queued or running
// execution. It reports false when no such execution is in flight.
func (e *Engine) Cancel(executionID string) bool {
	e.mu.Lock()
	cancel, ok := e.running[executionID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	cancel(domain.ErrExecutionCancelled)
	return true
}

// RunningExecutions lists the ids of executions whose task is alive, queued
// on the limiter or running steps.
func (e *Engine) RunningExecutions() []string {
	e.mu.Lock()
	ids := make([]string, 0, len(e.running))
	for id := range e.running {
		ids = append(ids, id)
	}
	e.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Shutdown rejects new executions, cancels every in-flight one and waits
// until they have persisted their final state or ctx is done.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	for _, cancel := range e.running {
		cancel(domain.ErrExecutionCancelled)
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for executions: %w", ctx.Err())
	}
}

func (e *Engine) run(ctx context.Context, cancel context.CancelCauseFunc, exec *domain.Execution, steps []domain.Step, h *Handle) {
	logger := e.logger.With("execution_id", exec.ID, "pipeline_id", exec.PipelineID)
	defer e.wg.Done()
	defer func() {
		e.mu.Lock()
		delete(e.running, exec.ID)
		e.mu.Unlock()
		cancel(nil)
		close(h.done)
	}()

	if e.opts.Timeout > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeoutCause(ctx, e.opts.Timeout, domain.ErrExecutionTimeout)
		defer stop()
	}

	if err := e.limiter.Acquire(ctx); err != nil {
		h.result, h.err = e.finish(ctx, exec, err, logger)
		return
	}
	defer e.limiter.Release()

	start := e.now()
	exec.Status = domain.ExecutionRunning
	exec.StartTime = &start
	e.logf(exec, "Started execution of pipeline %s", exec.PipelineName)
	e.persist(ctx, exec)
	logger.Info("execution started", "steps", len(steps))

	rc := newRunContext(exec.Parameters)
	releaser, _ := e.executor.(domain.DatasetReleaser)
	defer rc.release(context.WithoutCancel(ctx), releaser, logger)

	err := e.runSteps(ctx, exec, steps, rc, logger)
	h.result, h.err = e.finish(ctx, exec, err, logger)
}

// runSteps executes steps in order and stops at the first step that fails
// for good. Panics inside a step fail the run instead of the process.
func (e *Engine) runSteps(ctx context.Context, exec *domain.Execution, steps []domain.Step, rc *runContext, logger *slog.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("execution panicked", "panic", r)
			err = fmt.Errorf("panic: %v", r)
			if n := len(exec.Steps); n > 0 && exec.Steps[n-1].Status == domain.ExecutionRunning {
				e.failStep(ctx, exec, n-1, domain.ExecutionFailed, err)
			}
		}
	}()

	for _, step := range steps {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		now := e.now()
		exec.Steps = append(exec.Steps, domain.StepExecution{
			StepID:    step.ID,
			StepName:  step.Name,
			Status:    domain.ExecutionRunning,
			StartTime: &now,
		})
		e.logf(exec, "Starting step: %s", step.Name)
		e.persist(ctx, exec)

		if err := e.runStep(ctx, exec, len(exec.Steps)-1, step, rc, logger.With("step", step.Name)); err != nil {
			return err
		}
	}
	return nil
}

// finish moves exec to its terminal status and persists it. It returns the
// final snapshot and the error Handle.Wait reports.
func (e *Engine) finish(ctx context.Context, exec *domain.Execution, runErr error, logger *slog.Logger) (*domain.Execution, error) {
	now := e.now()
	switch {
	case runErr == nil:
		exec.Finish(domain.ExecutionCompleted, now)
		e.logf(exec, "Execution completed")
		logger.Info("execution completed", "duration", *exec.Duration)
	case ctx.Err() != nil && errors.Is(context.Cause(ctx), domain.ErrExecutionTimeout):
		exec.Finish(domain.ExecutionFailed, now)
		exec.ErrorMessage = domain.ErrExecutionTimeout.Error()
		e.logf(exec, "Execution failed: %s", exec.ErrorMessage)
		logger.Warn("execution timed out", "timeout", e.opts.Timeout)
		runErr = domain.ErrExecutionTimeout
	case ctx.Err() != nil:
		exec.Finish(domain.ExecutionCancelled, now)
		exec.ErrorMessage = domain.ErrExecutionCancelled.Error()
		e.logf(exec, "Execution cancelled")
		logger.Info("execution cancelled")
		runErr = domain.ErrExecutionCancelled
	default:
		exec.Finish(domain.ExecutionFailed, now)
		exec.ErrorMessage = runErr.Error()
		e.logf(exec, "Execution failed: %s", exec.ErrorMessage)
		logger.Error("execution failed", "error", runErr)
	}
	e.persist(ctx, exec)

	if runErr != nil {
		return exec.Clone(), &domain.PipelineExecutionError{ExecutionID: exec.ID, Err: runErr}
	}
	return exec.Clone(), nil
}

// persist stores a snapshot of exec. Failures are logged; the run goes on
// with its in-memory state.
func (e *Engine) persist(ctx context.Context, exec *domain.Execution) {
	if err := e.executions.Update(context.WithoutCancel(ctx), exec.Clone()); err != nil {
		e.logger.Error("persist execution", "execution_id", exec.ID, "status", exec.Status, "error", err)
	}
}

func (e *Engine) logf(exec *domain.Execution, format string, args ...any) {
	line := e.now().Format(time.RFC3339) + " " + fmt.Sprintf(format, args...)
	exec.Logs = append(exec.Logs, line)
}

func (e *Engine) now() time.Time { return e.opts.Clock().UTC() }

func copyParams(params map[string]string) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
