package cli

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"duckflow/internal/declarative"
	"duckflow/internal/domain"
	"duckflow/pkg/cli/client"
)

var pipelineColumns = []string{"id", "name", "status", "created_by", "updated_at"}

func newPipelinesCmd(c *client.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "pipelines",
		Aliases: []string{"pipeline", "pl"},
		Short:   "Manage pipelines on a duckflow server",
	}

	cmd.AddCommand(newPipelinesListCmd(c))
	cmd.AddCommand(newPipelinesGetCmd(c))
	cmd.AddCommand(newPipelinesApplyCmd(c))
	cmd.AddCommand(newPipelinesExportCmd(c))
	cmd.AddCommand(newPipelinesDeleteCmd(c))
	cmd.AddCommand(newPipelinesStatusCmd(c, "activate", "Activate a pipeline and schedule it"))
	cmd.AddCommand(newPipelinesStatusCmd(c, "deactivate", "Deactivate a pipeline and unschedule it"))
	cmd.AddCommand(newPipelinesExecuteCmd(c))
	cmd.AddCommand(newPipelinesExecutionsCmd(c))

	return cmd
}

func newPipelinesListCmd(c *client.Client) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pipelines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			if status != "" {
				q.Set("status", status)
			}
			items, err := client.FetchAllPages(c, http.MethodGet, "/pipelines", q)
			if err != nil {
				return err
			}
			return printItems(cmd, items, pipelineColumns)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (draft, active, inactive)")
	return cmd
}

func newPipelinesGetCmd(c *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id-or-name>",
		Short: "Show one pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p map[string]any
			if err := c.DoJSON(http.MethodGet, "/pipelines/"+url.PathEscape(args[0]), nil, nil, &p); err != nil {
				return err
			}
			return printObject(cmd, p)
		},
	}
}

func newPipelinesApplyCmd(c *client.Client) *cobra.Command {
	var (
		path     string
		activate bool
	)
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Create or update pipelines from definition files",
		Long: `Reads pipeline documents and creates each one on the server, or updates it
in place when a pipeline with the same name already exists.`,
		Example: `  duckflow pipelines apply -f pipelines/ --activate`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			docs, err := declarative.LoadPath(path, declarative.LoadOptions{})
			if err != nil {
				return err
			}

			var applied []any
			for _, doc := range docs {
				p, action, err := applyDocument(c, doc)
				if err != nil {
					return fmt.Errorf("%s: %w", doc.Metadata.Name, err)
				}
				if activate {
					if err := c.DoJSON(http.MethodPost, "/pipelines/"+url.PathEscape(p.ID)+"/activate", nil, nil, p); err != nil {
						return fmt.Errorf("%s: activate: %w", doc.Metadata.Name, err)
					}
				}
				applied = append(applied, map[string]any{
					"id":     p.ID,
					"name":   p.Name,
					"status": string(p.Status),
					"action": action,
				})
			}
			return printItems(cmd, applied, []string{"name", "action", "status", "id"})
		},
	}
	cmd.Flags().StringVarP(&path, "file", "f", "", "Pipeline file or directory (required)")
	cmd.Flags().BoolVar(&activate, "activate", false, "Activate each pipeline after applying it")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// applyDocument creates doc's pipeline or updates the existing one with the
// same name.
func applyDocument(c *client.Client, doc *declarative.PipelineDoc) (*domain.Pipeline, string, error) {
	req := doc.CreateRequest()
	existing := &domain.Pipeline{}
	err := c.DoJSON(http.MethodGet, "/pipelines/"+url.PathEscape(req.Name), nil, nil, existing)

	var apiErr *client.APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.HTTPStatus == http.StatusNotFound:
		created := &domain.Pipeline{}
		if err := c.DoJSON(http.MethodPost, "/pipelines", nil, req, created); err != nil {
			return nil, "", err
		}
		return created, "created", nil
	case err != nil:
		return nil, "", err
	}

	update := domain.UpdatePipelineRequest{
		Description: &req.Description,
		Steps:       req.Steps,
		Schedule:    req.Schedule,
		Metadata:    req.Metadata,
	}
	updated := &domain.Pipeline{}
	if err := c.DoJSON(http.MethodPatch, "/pipelines/"+url.PathEscape(existing.ID), nil, update, updated); err != nil {
		return nil, "", err
	}
	return updated, "updated", nil
}

func newPipelinesExportCmd(c *client.Client) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "export [id-or-name...]",
		Short: "Export pipelines as definition YAML",
		Long:  "Writes the named pipelines, or every pipeline when none are named, as a multi-document YAML stream.",
		RunE: func(cmd *cobra.Command, args []string) error {
			var pipelines []*domain.Pipeline
			if len(args) == 0 {
				items, err := client.FetchAllPages(c, http.MethodGet, "/pipelines", nil)
				if err != nil {
					return err
				}
				for _, item := range items {
					m, ok := item.(map[string]any)
					if !ok {
						continue
					}
					args = append(args, client.ExtractField(m, "id"))
				}
			}
			for _, ref := range args {
				p := &domain.Pipeline{}
				if err := c.DoJSON(http.MethodGet, "/pipelines/"+url.PathEscape(ref), nil, nil, p); err != nil {
					return err
				}
				pipelines = append(pipelines, p)
			}

			data, err := declarative.Export(pipelines...)
			if err != nil {
				return err
			}
			if path == "" || path == "-" {
				_, err = os.Stdout.Write(data)
				return err
			}
			return os.WriteFile(path, data, 0o644) //nolint:gosec
		},
	}
	cmd.Flags().StringVarP(&path, "file", "f", "", "Write to this file instead of stdout")
	return cmd
}

func newPipelinesDeleteCmd(c *client.Client) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <id-or-name>",
		Short: "Delete a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete %q without --yes", args[0])
			}
			if err := c.DoJSON(http.MethodDelete, "/pipelines/"+url.PathEscape(args[0]), nil, nil, nil); err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return client.PrintJSON(os.Stdout, map[string]any{"deleted": args[0]})
			}
			_, _ = fmt.Fprintf(os.Stdout, "Pipeline %q deleted\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm deletion")
	return cmd
}

func newPipelinesStatusCmd(c *client.Client, action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <id-or-name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p map[string]any
			if err := c.DoJSON(http.MethodPost, "/pipelines/"+url.PathEscape(args[0])+"/"+action, nil, nil, &p); err != nil {
				return err
			}
			return printObject(cmd, p)
		},
	}
}

func newPipelinesExecuteCmd(c *client.Client) *cobra.Command {
	var (
		params paramsValue
		wait   bool
	)
	cmd := &cobra.Command{
		Use:   "execute <id-or-name>",
		Short: "Start an execution of a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if wait {
				q.Set("wait", "true")
			}
			body := map[string]any{"parameters": map[string]string(params)}
			var out map[string]any
			if err := c.DoJSON(http.MethodPost, "/pipelines/"+url.PathEscape(args[0])+"/execute", q, body, &out); err != nil {
				return err
			}
			return printObject(cmd, out)
		},
	}
	addParamsFlag(cmd.Flags(), &params)
	cmd.Flags().BoolVar(&wait, "wait", false, "Block until the execution finishes")
	return cmd
}

var executionColumns = []string{"id", "pipeline_name", "status", "triggered_by", "start_time", "duration"}

func newPipelinesExecutionsCmd(c *client.Client) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "executions <id-or-name>",
		Short: "List executions of one pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if status != "" {
				q.Set("status", status)
			}
			items, err := client.FetchAllPages(c, http.MethodGet, "/pipelines/"+url.PathEscape(args[0])+"/executions", q)
			if err != nil {
				return err
			}
			return printItems(cmd, items, executionColumns)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by execution status")
	return cmd
}
