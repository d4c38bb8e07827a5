package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"duckflow/internal/declarative"
	"duckflow/pkg/cli/client"
)

func newValidateCmd() *cobra.Command {
	var (
		path         string
		allowUnknown bool
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate pipeline definition files without running them",
		Long: `Parses every pipeline document in a YAML file or directory and checks
the step graph, payloads and schedule. No server is contacted.`,
		Example: `  duckflow validate -f pipelines/
  duckflow validate -f daily-sales.yaml --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			docs, err := declarative.LoadPath(path, declarative.LoadOptions{AllowUnknownFields: allowUnknown})
			if err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}

			if getOutputFormat(cmd) == "json" {
				out := make([]map[string]any, 0, len(docs))
				for _, d := range docs {
					out = append(out, map[string]any{
						"name":   d.Metadata.Name,
						"source": d.Source,
						"steps":  len(d.Spec.Steps),
						"valid":  true,
					})
				}
				return client.PrintJSON(os.Stdout, out)
			}

			rows := make([][]string, 0, len(docs))
			for _, d := range docs {
				schedule := ""
				if d.Spec.Schedule != nil {
					schedule = string(d.Spec.Schedule.Type)
				}
				rows = append(rows, []string{d.Metadata.Name, strconv.Itoa(len(d.Spec.Steps)), schedule, d.Source})
			}
			client.PrintTable(os.Stdout, []string{"name", "steps", "schedule", "source"}, rows)
			_, _ = fmt.Fprintf(os.Stdout, "\n%d pipeline(s) valid\n", len(docs))
			return nil
		},
	}

	cmd.Flags().StringVarP(&path, "file", "f", "", "Pipeline file or directory (required)")
	cmd.Flags().BoolVar(&allowUnknown, "allow-unknown-fields", false, "Ignore fields the loader does not recognise")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}
