package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"duckflow/pkg/cli/client"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if getOutputFormat(cmd) == "json" {
				return client.PrintJSON(os.Stdout, map[string]string{
					"version": version,
					"commit":  commit,
				})
			}
			_, _ = fmt.Fprintf(os.Stdout, "duckflow version %s (commit: %s)\n", version, commit)
			return nil
		},
	}
}
