package recurrence

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Cron evaluation modes accepted by NewCronEvaluator.
const (
	CronModeSimple   = "simple"
	CronModeStandard = "standard"
)

// CronEvaluator computes the next occurrence of a cron expression strictly
// after from. It returns false when the expression is unsupported or has no
// further occurrence.
type CronEvaluator interface {
	Next(expr string, from time.Time) (time.Time, bool)
}

// NewCronEvaluator returns the evaluator for mode.
func NewCronEvaluator(mode string, logger *slog.Logger) (CronEvaluator, error) {
	switch mode {
	case "", CronModeSimple:
		return NewSimpleCron(logger), nil
	case CronModeStandard:
		return NewStandardCron(logger), nil
	default:
		return nil, fmt.Errorf("unknown cron mode %q", mode)
	}
}

// SimpleCron understands exactly two shapes of a 5-field expression:
// "* * * * *" (every minute) and a numeric minute and hour ("30 2 * * *"),
// where the day, month and weekday fields are ignored. Anything else is
// reported as unsupported.
type SimpleCron struct {
	logger *slog.Logger
}

// NewSimpleCron creates a SimpleCron.
func NewSimpleCron(logger *slog.Logger) *SimpleCron {
	return &SimpleCron{logger: logger}
}

// Next implements CronEvaluator.
func (c *SimpleCron) Next(expr string, from time.Time) (time.Time, bool) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		c.logger.Warn("invalid cron expression", "expression", expr)
		return time.Time{}, false
	}

	wildcard := true
	for _, p := range parts {
		if p != "*" {
			wildcard = false
			break
		}
	}
	if wildcard {
		return from.Add(time.Minute), true
	}

	minute, mErr := strconv.Atoi(parts[0])
	hour, hErr := strconv.Atoi(parts[1])
	if mErr == nil && hErr == nil && isDigits(parts[0]) && isDigits(parts[1]) {
		if minute > 59 || hour > 23 {
			c.logger.Warn("cron field out of range", "expression", expr)
			return time.Time{}, false
		}
		next := time.Date(from.Year(), from.Month(), from.Day(), hour, minute, 0, 0, from.Location())
		if !next.After(from) {
			next = next.AddDate(0, 0, 1)
		}
		return next, true
	}

	c.logger.Warn("complex cron expression not supported", "expression", expr)
	return time.Time{}, false
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// StandardCron evaluates full 5-field cron syntax (lists, ranges, steps and
// descriptors such as @daily).
type StandardCron struct {
	logger *slog.Logger
}

// NewStandardCron creates a StandardCron.
func NewStandardCron(logger *slog.Logger) *StandardCron {
	return &StandardCron{logger: logger}
}

// Next implements CronEvaluator.
func (c *StandardCron) Next(expr string, from time.Time) (time.Time, bool) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		c.logger.Warn("invalid cron expression", "expression", expr, "error", err)
		return time.Time{}, false
	}
	next := sched.Next(from)
	if next.IsZero() {
		return time.Time{}, false
	}
	return next, true
}

var (
	_ CronEvaluator = (*SimpleCron)(nil)
	_ CronEvaluator = (*StandardCron)(nil)
)
