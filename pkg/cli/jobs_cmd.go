package cli

import (
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"duckflow/pkg/cli/client"
)

var jobColumns = []string{"pipeline_id", "pipeline_name", "enabled", "next_run", "last_run"}

func newJobsCmd(c *client.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "jobs",
		Aliases: []string{"job", "schedule"},
		Short:   "Inspect and toggle scheduled jobs",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs ordered by next run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out map[string]any
			if err := c.DoJSON(http.MethodGet, "/scheduler/jobs", nil, nil, &out); err != nil {
				return err
			}
			items, _ := out["data"].([]any)
			return printItems(cmd, items, jobColumns)
		},
	})
	cmd.AddCommand(newJobActionCmd(c, "get", "", "Show the scheduled job of a pipeline", http.MethodGet))
	cmd.AddCommand(newJobActionCmd(c, "enable", "/enable", "Resume a pipeline's scheduled job", http.MethodPost))
	cmd.AddCommand(newJobActionCmd(c, "disable", "/disable", "Pause a pipeline's scheduled job", http.MethodPost))

	return cmd
}

func newJobActionCmd(c *client.Client, name, suffix, short, method string) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <pipeline-id-or-name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var job map[string]any
			path := "/pipelines/" + url.PathEscape(args[0]) + "/schedule" + suffix
			if err := c.DoJSON(method, path, nil, nil, &job); err != nil {
				return err
			}
			return printObject(cmd, job)
		},
	}
}

func newStatsCmd(c *client.Client) *cobra.Command {
	var pipelineID string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show execution statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			if pipelineID != "" {
				q.Set("pipeline_id", pipelineID)
			}
			var stats map[string]any
			if err := c.DoJSON(http.MethodGet, "/statistics", q, nil, &stats); err != nil {
				return err
			}
			return printObject(cmd, stats)
		},
	}
	cmd.Flags().StringVar(&pipelineID, "pipeline-id", "", "Restrict to one pipeline")
	return cmd
}
