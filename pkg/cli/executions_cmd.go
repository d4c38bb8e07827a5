package cli

import (
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"duckflow/pkg/cli/client"
)

func newExecutionsCmd(c *client.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "executions",
		Aliases: []string{"execution", "exec"},
		Short:   "Inspect and cancel executions",
	}

	cmd.AddCommand(newExecutionsListCmd(c))
	cmd.AddCommand(newExecutionsGetCmd(c))
	cmd.AddCommand(newExecutionsCancelCmd(c))
	cmd.AddCommand(newExecutionsRunningCmd(c))
	cmd.AddCommand(newExecutionsDataCmd(c, "steps", "Show per-step results of an execution",
		[]string{"step_name", "status", "retry_count", "duration", "error_message"}))
	cmd.AddCommand(newExecutionsDataCmd(c, "outputs", "List output files of an execution",
		[]string{"path", "download_url"}))
	cmd.AddCommand(newExecutionsLogsCmd(c))
	cmd.AddCommand(newExecutionsProgressCmd(c))

	return cmd
}

func newExecutionsListCmd(c *client.Client) *cobra.Command {
	var pipelineID, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List executions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			if pipelineID != "" {
				q.Set("pipeline_id", pipelineID)
			}
			if status != "" {
				q.Set("status", status)
			}
			items, err := client.FetchAllPages(c, http.MethodGet, "/executions", q)
			if err != nil {
				return err
			}
			return printItems(cmd, items, executionColumns)
		},
	}
	cmd.Flags().StringVar(&pipelineID, "pipeline-id", "", "Only executions of this pipeline")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (pending, running, completed, failed, cancelled)")
	return cmd
}

func newExecutionsGetCmd(c *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "get <execution-id>",
		Short: "Show one execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var exec map[string]any
			if err := c.DoJSON(http.MethodGet, "/executions/"+url.PathEscape(args[0]), nil, nil, &exec); err != nil {
				return err
			}
			return printObject(cmd, exec)
		},
	}
}

func newExecutionsCancelCmd(c *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <execution-id>",
		Short: "Cancel a running execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			if err := c.DoJSON(http.MethodPost, "/executions/"+url.PathEscape(args[0])+"/cancel", nil, nil, &out); err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return client.PrintJSON(os.Stdout, out)
			}
			_, _ = fmt.Fprintf(os.Stdout, "Cancellation requested for %s\n", args[0])
			return nil
		},
	}
}

func newExecutionsRunningCmd(c *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "running",
		Short: "List ids of executions currently running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out struct {
				Data []string `json:"data"`
			}
			if err := c.DoJSON(http.MethodGet, "/executions/running", nil, nil, &out); err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				if out.Data == nil {
					out.Data = []string{}
				}
				return client.PrintJSON(os.Stdout, out.Data)
			}
			rows := make([][]string, len(out.Data))
			for i, id := range out.Data {
				rows[i] = []string{id}
			}
			client.PrintTable(os.Stdout, []string{"execution_id"}, rows)
			return nil
		},
	}
}

// newExecutionsDataCmd builds a command that prints the data array of
// /executions/{id}/<sub>.
func newExecutionsDataCmd(c *client.Client, sub, short string, columns []string) *cobra.Command {
	return &cobra.Command{
		Use:   sub + " <execution-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			if err := c.DoJSON(http.MethodGet, "/executions/"+url.PathEscape(args[0])+"/"+sub, nil, nil, &out); err != nil {
				return err
			}
			items, _ := out["data"].([]any)
			return printItems(cmd, items, columns)
		},
	}
}

func newExecutionsLogsCmd(c *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "logs <execution-id>",
		Short: "Print the log lines of an execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Data []string `json:"data"`
			}
			if err := c.DoJSON(http.MethodGet, "/executions/"+url.PathEscape(args[0])+"/logs", nil, nil, &out); err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return client.PrintJSON(os.Stdout, out.Data)
			}
			for _, line := range out.Data {
				_, _ = fmt.Fprintln(os.Stdout, line)
			}
			return nil
		},
	}
}

func newExecutionsProgressCmd(c *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "progress <execution-id>",
		Short: "Show step progress of an execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			if err := c.DoJSON(http.MethodGet, "/executions/"+url.PathEscape(args[0])+"/progress", nil, nil, &out); err != nil {
				return err
			}
			return printObject(cmd, out)
		},
	}
}
