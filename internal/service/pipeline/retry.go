package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"duckflow/internal/domain"
)

// runStep runs one step with its retry policy. A step is attempted until it
// succeeds, retry_on_failure is off, or max_retries failures have been
// recorded. RetryCount counts failures and never exceeds max_retries.
// Cancellation observed during an attempt or a backoff ends the loop without
// counting a failure.
func (e *Engine) runStep(ctx context.Context, exec *domain.Execution, idx int, step domain.Step, rc *runContext, logger *slog.Logger) error {
	handler, ok := e.handlers[step.Kind]
	if !ok {
		err := fmt.Errorf("unsupported step type %q", step.Kind)
		e.failStep(ctx, exec, idx, domain.ExecutionFailed, err)
		return &domain.StepExecutionError{StepName: step.Name, Attempts: 1, Err: err}
	}

	failures := 0
	for {
		out, err := handler(ctx, step, rc)
		if err == nil {
			e.completeStep(ctx, exec, idx, out, rc)
			logger.Info("step completed", "retries", exec.Steps[idx].RetryCount)
			return nil
		}
		if ctx.Err() != nil {
			e.failStep(ctx, exec, idx, interruptedStatus(ctx), context.Cause(ctx))
			return context.Cause(ctx)
		}

		failures++
		se := &exec.Steps[idx]
		se.RetryCount = min(failures, step.MaxRetries)
		if !step.RetryOnFailure || failures >= step.MaxRetries {
			e.logf(exec, "Step %s failed after %d attempt(s): %v", step.Name, failures, err)
			e.failStep(ctx, exec, idx, domain.ExecutionFailed, err)
			logger.Error("step failed", "attempts", failures, "error", err)
			return &domain.StepExecutionError{StepName: step.Name, Attempts: failures, Err: err}
		}

		se.Status = domain.ExecutionFailed
		se.ErrorMessage = err.Error()
		e.logf(exec, "Step %s failed (attempt %d), retrying in %s: %v", step.Name, failures, e.opts.RetryDelay, err)
		e.persist(ctx, exec)
		logger.Warn("step failed, retrying", "attempt", failures, "delay", e.opts.RetryDelay, "error", err)

		if err := sleepCtx(ctx, e.opts.RetryDelay); err != nil {
			e.failStep(ctx, exec, idx, interruptedStatus(ctx), err)
			return err
		}

		now := e.now()
		se = &exec.Steps[idx]
		se.Status = domain.ExecutionRunning
		se.StartTime = &now
		se.EndTime = nil
		se.Duration = nil
		se.ErrorMessage = ""
		e.persist(ctx, exec)
	}
}

func (e *Engine) completeStep(ctx context.Context, exec *domain.Execution, idx int, out map[string]any, rc *runContext) {
	se := &exec.Steps[idx]
	e.stampEnd(se)
	se.Status = domain.ExecutionCompleted
	se.ErrorMessage = ""
	se.Output = out
	exec.OutputFiles = append(exec.OutputFiles[:0], rc.outputs...)
	e.logf(exec, "Step %s completed in %.2fs", se.StepName, *se.Duration)
	e.persist(ctx, exec)
}

func (e *Engine) failStep(ctx context.Context, exec *domain.Execution, idx int, status domain.ExecutionStatus, err error) {
	se := &exec.Steps[idx]
	e.stampEnd(se)
	se.Status = status
	se.ErrorMessage = err.Error()
	e.persist(ctx, exec)
}

func (e *Engine) stampEnd(se *domain.StepExecution) {
	end := e.now()
	se.EndTime = &end
	d := 0.0
	if se.StartTime != nil {
		d = end.Sub(*se.StartTime).Seconds()
	}
	se.Duration = &d
}

// interruptedStatus maps the cancellation cause of ctx to a step status.
// A timeout fails the step; anything else cancels it.
func interruptedStatus(ctx context.Context) domain.ExecutionStatus {
	if errors.Is(context.Cause(ctx), domain.ErrExecutionTimeout) {
		return domain.ExecutionFailed
	}
	return domain.ExecutionCancelled
}

// sleepCtx waits for d or until ctx is done, returning the cancellation cause.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-t.C:
		return nil
	}
}
