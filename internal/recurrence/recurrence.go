// Package recurrence computes when a scheduled pipeline should next run.
// All arithmetic is done in UTC regardless of the schedule's timezone.
package recurrence

import (
	"log/slog"
	"time"

	"duckflow/internal/domain"
)

// Calculator maps a schedule and the current time to the next trigger time.
type Calculator struct {
	cron   CronEvaluator
	logger *slog.Logger
}

// NewCalculator creates a Calculator. A nil evaluator selects SimpleCron.
func NewCalculator(cronEval CronEvaluator, logger *slog.Logger) *Calculator {
	if cronEval == nil {
		cronEval = NewSimpleCron(logger)
	}
	return &Calculator{cron: cronEval, logger: logger}
}

// NextRun returns the next time cfg should fire after now, or false when the
// schedule is exhausted or cannot be evaluated.
//
// Recurring results are always strictly after now. A once schedule returns
// its start time even when that is already past so that it fires at once.
func (c *Calculator) NextRun(cfg *domain.ScheduleConfig, now time.Time) (time.Time, bool) {
	if cfg == nil {
		return time.Time{}, false
	}
	now = now.UTC()

	start := now
	if cfg.StartTime != nil && cfg.StartTime.UTC().After(now) {
		start = cfg.StartTime.UTC()
	}
	if cfg.EndTime != nil && start.After(cfg.EndTime.UTC()) {
		return time.Time{}, false
	}

	interval := cfg.IntervalOrDefault()

	switch cfg.Type {
	case domain.ScheduleOnce:
		if cfg.StartTime != nil {
			return cfg.StartTime.UTC(), true
		}
		return now, true

	case domain.ScheduleHourly:
		next := start.Truncate(time.Hour)
		return advance(next, now, func(t time.Time) time.Time { return t.Add(time.Duration(interval) * time.Hour) }), true

	case domain.ScheduleDaily:
		next := midnight(start)
		return advance(next, now, func(t time.Time) time.Time { return t.AddDate(0, 0, interval) }), true

	case domain.ScheduleWeekly:
		daysSinceMonday := (int(start.Weekday()) + 6) % 7
		next := midnight(start).AddDate(0, 0, -daysSinceMonday)
		return advance(next, now, func(t time.Time) time.Time { return t.AddDate(0, 0, 7*interval) }), true

	case domain.ScheduleMonthly:
		next := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
		return advance(next, now, func(t time.Time) time.Time { return t.AddDate(0, interval, 0) }), true

	case domain.ScheduleCron:
		return c.cron.Next(cfg.CronExpression, now)
	}

	c.logger.Warn("unknown schedule type", "type", cfg.Type)
	return time.Time{}, false
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// advance steps next forward until it is strictly after now.
func advance(next, now time.Time, step func(time.Time) time.Time) time.Time {
	for !next.After(now) {
		next = step(next)
	}
	return next
}
