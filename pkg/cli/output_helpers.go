package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"duckflow/internal/domain"
	"duckflow/pkg/cli/client"
)

// getOutputFormat returns the effective output format from the root command's persistent flags.
func getOutputFormat(cmd *cobra.Command) string {
	v, _ := cmd.Root().PersistentFlags().GetString("output")
	return v
}

func validateOutputFormat(output string) error {
	if output != "" && output != "table" && output != "json" {
		return fmt.Errorf("unsupported output format %q: use 'table' or 'json'", output)
	}
	return nil
}

// printItems renders list items as JSON or as a table of columns.
func printItems(cmd *cobra.Command, items []any, columns []string) error {
	if getOutputFormat(cmd) == "json" {
		if items == nil {
			items = []any{}
		}
		return client.PrintJSON(os.Stdout, items)
	}
	client.PrintTable(os.Stdout, columns, client.RowsFromItems(items, columns))
	return nil
}

// printObject renders one object as JSON or as aligned key/value lines.
func printObject(cmd *cobra.Command, obj map[string]any) error {
	if getOutputFormat(cmd) == "json" {
		return client.PrintJSON(os.Stdout, obj)
	}
	client.PrintDetail(os.Stdout, obj)
	return nil
}

func printExecutions(cmd *cobra.Command, execs []*domain.Execution) error {
	if getOutputFormat(cmd) == "json" {
		return client.PrintJSON(os.Stdout, execs)
	}
	rows := make([][]string, 0, len(execs))
	for _, e := range execs {
		duration := ""
		if e.Duration != nil {
			duration = fmt.Sprintf("%.2fs", *e.Duration)
		}
		rows = append(rows, []string{e.PipelineName, e.ID, string(e.Status), duration,
			strings.Join(e.OutputFiles, ","), e.ErrorMessage})
	}
	client.PrintTable(os.Stdout, []string{"pipeline", "execution", "status", "duration", "outputs", "error"}, rows)
	return nil
}
