package domain

import (
	"strings"
	"time"
)

// ScheduleType selects the recurrence rule.
type ScheduleType string

// Schedule types.
const (
	ScheduleOnce    ScheduleType = "once"
	ScheduleHourly  ScheduleType = "hourly"
	ScheduleDaily   ScheduleType = "daily"
	ScheduleWeekly  ScheduleType = "weekly"
	ScheduleMonthly ScheduleType = "monthly"
	ScheduleCron    ScheduleType = "cron"
)

// ScheduleConfig describes when a pipeline runs automatically. Timezone is
// informational; every calculation is done in UTC.
type ScheduleConfig struct {
	Type           ScheduleType `json:"type" yaml:"type"`
	StartTime      *time.Time   `json:"start_time,omitempty" yaml:"start_time,omitempty"`
	EndTime        *time.Time   `json:"end_time,omitempty" yaml:"end_time,omitempty"`
	Interval       *int         `json:"interval,omitempty" yaml:"interval,omitempty"`
	CronExpression string       `json:"cron_expression,omitempty" yaml:"cron_expression,omitempty"`
	Timezone       string       `json:"timezone,omitempty" yaml:"timezone,omitempty"`
}

// IntervalOrDefault returns the configured interval or 1.
func (c *ScheduleConfig) IntervalOrDefault() int {
	if c.Interval == nil || *c.Interval <= 0 {
		return 1
	}
	return *c.Interval
}

// Recurring reports whether the schedule fires more than once.
func (c *ScheduleConfig) Recurring() bool {
	return c.Type != ScheduleOnce
}

// Validate checks that the schedule is well-formed.
func (c *ScheduleConfig) Validate() error {
	switch c.Type {
	case ScheduleOnce, ScheduleHourly, ScheduleDaily, ScheduleWeekly, ScheduleMonthly:
		if c.CronExpression != "" {
			return ErrValidation("cron_expression is only allowed for cron schedules")
		}
	case ScheduleCron:
		if c.CronExpression == "" {
			return ErrValidation("cron_expression is required for cron schedules")
		}
		if n := len(strings.Fields(c.CronExpression)); n != 5 {
			return ErrValidation("cron_expression must have 5 fields, got %d", n)
		}
	default:
		return ErrValidation("unknown schedule type %q", c.Type)
	}
	if c.Interval != nil && *c.Interval <= 0 {
		return ErrValidation("interval must be positive")
	}
	if c.StartTime != nil && c.EndTime != nil && !c.EndTime.After(*c.StartTime) {
		return ErrValidation("end_time must be after start_time")
	}
	return nil
}

// ScheduledJob is the scheduler's bookkeeping for one pipeline's next run.
type ScheduledJob struct {
	PipelineID   string          `json:"pipeline_id"`
	PipelineName string          `json:"pipeline_name"`
	Schedule     *ScheduleConfig `json:"schedule"`
	NextRun      *time.Time      `json:"next_run,omitempty"`
	LastRun      *time.Time      `json:"last_run,omitempty"`
	Enabled      bool            `json:"enabled"`
}
