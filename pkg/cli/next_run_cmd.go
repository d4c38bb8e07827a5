package cli

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"duckflow/internal/config"
	"duckflow/internal/domain"
	"duckflow/internal/recurrence"
	"duckflow/pkg/cli/client"
)

func newNextRunCmd() *cobra.Command {
	var (
		schedType string
		interval  int
		start     string
		end       string
		cronExpr  string
		cronMode  string
		now       string
		count     int
	)

	cmd := &cobra.Command{
		Use:   "next-run",
		Short: "Preview upcoming trigger times of a schedule",
		Example: `  duckflow next-run --type daily --count 3
  duckflow next-run --type cron --cron "30 2 * * *" --now 2026-03-11T10:00:00Z`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sched := &domain.ScheduleConfig{
				Type:           domain.ScheduleType(schedType),
				CronExpression: cronExpr,
			}
			if cmd.Flags().Changed("interval") {
				sched.Interval = &interval
			}
			var err error
			if sched.StartTime, err = parseTimeFlag("start", start); err != nil {
				return err
			}
			if sched.EndTime, err = parseTimeFlag("end", end); err != nil {
				return err
			}
			if err := sched.Validate(); err != nil {
				return err
			}

			from := time.Now().UTC()
			if now != "" {
				t, err := time.Parse(time.RFC3339, now)
				if err != nil {
					return fmt.Errorf("invalid --now: %w", err)
				}
				from = t.UTC()
			}

			logger := slog.New(slog.DiscardHandler)
			evaluator, err := recurrence.NewCronEvaluator(cronMode, logger)
			if err != nil {
				return err
			}
			runs := upcomingRuns(recurrence.NewCalculator(evaluator, logger), sched, from, count)
			if len(runs) == 0 {
				return fmt.Errorf("schedule %s has no upcoming run", sched.Type)
			}

			if getOutputFormat(cmd) == "json" {
				return client.PrintJSON(os.Stdout, map[string]any{"schedule": sched, "next_runs": runs})
			}
			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = []string{fmt.Sprint(i + 1), r.Format(time.RFC3339)}
			}
			client.PrintTable(os.Stdout, []string{"#", "next_run"}, rows)
			return nil
		},
	}

	cmd.Flags().StringVar(&schedType, "type", "", "Schedule type: once, hourly, daily, weekly, monthly, cron (required)")
	cmd.Flags().IntVar(&interval, "interval", 1, "Interval multiplier for hourly/daily/weekly/monthly")
	cmd.Flags().StringVar(&start, "start", "", "Start time (RFC 3339)")
	cmd.Flags().StringVar(&end, "end", "", "End time (RFC 3339)")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "Cron expression for --type cron")
	cmd.Flags().StringVar(&cronMode, "cron-mode", config.DefaultCronMode, "Cron evaluator: simple or standard")
	cmd.Flags().StringVar(&now, "now", "", "Evaluate relative to this time (RFC 3339) instead of the clock")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of upcoming runs to show")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

// upcomingRuns chains NextRun up to n times. A once schedule yields at most
// one time.
func upcomingRuns(calc *recurrence.Calculator, sched *domain.ScheduleConfig, from time.Time, n int) []time.Time {
	var runs []time.Time
	for len(runs) < n {
		next, ok := calc.NextRun(sched, from)
		if !ok {
			break
		}
		runs = append(runs, next)
		if sched.Type == domain.ScheduleOnce {
			break
		}
		from = next
	}
	return runs
}

func parseTimeFlag(name, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s: %w", name, err)
	}
	return &t, nil
}
