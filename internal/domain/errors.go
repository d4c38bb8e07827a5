// Package domain defines core types, interfaces, and errors for the pipeline platform.
package domain

import (
	"errors"
	"fmt"
)

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ValidationError indicates a malformed pipeline, schedule, or request. It is
// raised before scheduling or execution begins.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ConflictError indicates a conflict (e.g., duplicate resource).
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// StepExecutionError reports a single step that still failed after its retry
// policy was exhausted.
type StepExecutionError struct {
	StepName string
	Attempts int
	Err      error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.StepName, e.Err)
}

func (e *StepExecutionError) Unwrap() error { return e.Err }

// PipelineExecutionError reports that a whole run was aborted.
type PipelineExecutionError struct {
	ExecutionID string
	Err         error
}

func (e *PipelineExecutionError) Error() string {
	return fmt.Sprintf("execution %s aborted: %v", e.ExecutionID, e.Err)
}

func (e *PipelineExecutionError) Unwrap() error { return e.Err }

// SchedulingError reports a recurrence computation or trigger failure.
type SchedulingError struct {
	PipelineID string
	Err        error
}

func (e *SchedulingError) Error() string {
	return fmt.Sprintf("schedule for pipeline %s: %v", e.PipelineID, e.Err)
}

func (e *SchedulingError) Unwrap() error { return e.Err }

var (
	// ErrExecutionCancelled is the cancellation cause used by Engine.Cancel.
	ErrExecutionCancelled = errors.New("execution cancelled")
	// ErrExecutionTimeout is the cancellation cause used when the overall
	// execution timeout elapses.
	ErrExecutionTimeout = errors.New("execution timed out")
)

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrConflict creates a ConflictError with a formatted message.
func ErrConflict(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}
