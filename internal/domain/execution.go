package domain

import (
	"time"
)

// ExecutionStatus is the state of an execution or of one of its steps.
type ExecutionStatus string

// Execution status constants.
const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionCancelled
}

// Trigger sources recorded on Execution.TriggeredBy.
const (
	TriggerManual    = "manual"
	TriggerScheduler = "scheduler"
	TriggerAPI       = "api"
)

// ParamTriggeredBy is the parameter key carrying the trigger source.
const ParamTriggeredBy = "triggered_by"

// StepExecution records one step's progress inside an execution.
type StepExecution struct {
	StepID       string          `json:"step_id"`
	StepName     string          `json:"step_name"`
	Status       ExecutionStatus `json:"status"`
	StartTime    *time.Time      `json:"start_time,omitempty"`
	EndTime      *time.Time      `json:"end_time,omitempty"`
	Duration     *float64        `json:"duration,omitempty"` // seconds
	ErrorMessage string          `json:"error_message,omitempty"`
	RetryCount   int             `json:"retry_count"`
	Output       map[string]any  `json:"output_data,omitempty"`
}

// Execution is one run of a pipeline.
type Execution struct {
	ID           string            `json:"id"`
	PipelineID   string            `json:"pipeline_id"`
	PipelineName string            `json:"pipeline_name"`
	Status       ExecutionStatus   `json:"status"`
	StartTime    *time.Time        `json:"start_time,omitempty"`
	EndTime      *time.Time        `json:"end_time,omitempty"`
	Duration     *float64          `json:"duration,omitempty"` // seconds
	Parameters   map[string]string `json:"parameters,omitempty"`
	TriggeredBy  string            `json:"triggered_by,omitempty"`
	Steps        []StepExecution   `json:"steps"`
	ErrorMessage string            `json:"error_message,omitempty"`
	OutputFiles  []string          `json:"output_files"`
	Logs         []string          `json:"logs"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Clone returns a deep copy safe to hand to other goroutines.
func (e *Execution) Clone() *Execution {
	out := *e
	if e.Parameters != nil {
		out.Parameters = make(map[string]string, len(e.Parameters))
		for k, v := range e.Parameters {
			out.Parameters[k] = v
		}
	}
	out.Steps = make([]StepExecution, len(e.Steps))
	for i, s := range e.Steps {
		if s.Output != nil {
			m := make(map[string]any, len(s.Output))
			for k, v := range s.Output {
				m[k] = v
			}
			s.Output = m
		}
		out.Steps[i] = s
	}
	out.OutputFiles = append([]string{}, e.OutputFiles...)
	out.Logs = append([]string{}, e.Logs...)
	return &out
}

// Finish moves the execution into a terminal status and stamps end/duration.
func (e *Execution) Finish(status ExecutionStatus, now time.Time) {
	e.Status = status
	end := now.UTC()
	e.EndTime = &end
	if e.StartTime != nil {
		d := end.Sub(*e.StartTime).Seconds()
		e.Duration = &d
	} else {
		zero := 0.0
		e.Duration = &zero
	}
}

// Progress summarises how far an execution has advanced.
type Progress struct {
	ExecutionID    string          `json:"execution_id"`
	Status         ExecutionStatus `json:"status"`
	TotalSteps     int             `json:"total_steps"`
	CompletedSteps int             `json:"completed_steps"`
	FailedSteps    int             `json:"failed_steps"`
	CurrentStep    string          `json:"current_step,omitempty"`
	Percentage     float64         `json:"progress_percentage"`
}

// ExecutionStatistics counts executions per status.
type ExecutionStatistics struct {
	Total       int64                     `json:"total_executions"`
	ByStatus    map[ExecutionStatus]int64 `json:"by_status"`
	SuccessRate float64                   `json:"success_rate"`
	Running     int                       `json:"running_executions"`
}

// ExecutionFilter holds filter parameters for listing executions.
type ExecutionFilter struct {
	PipelineID *string
	Status     *ExecutionStatus
	Page       PageRequest
}
