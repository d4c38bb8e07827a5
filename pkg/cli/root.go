// Package cli implements the duckflow command-line interface: local
// validation and runs of pipeline files plus remote management of a
// duckflow server.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"duckflow/pkg/cli/client"
)

const defaultHost = "http://localhost:8080"

var (
	version = "dev"
	commit  = "none"
)

// Execute runs the CLI.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		output, _ := rootCmd.PersistentFlags().GetString("output")
		if output == "json" {
			errObj := map[string]any{
				"error": err.Error(),
			}
			var apiErr *client.APIError
			if errors.As(err, &apiErr) {
				errObj["http_status"] = apiErr.HTTPStatus
				errObj["code"] = apiErr.Code
			}
			_ = client.PrintJSON(os.Stdout, errObj)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var (
		host    string
		token   string
		output  string
		profile string
	)

	c := client.NewClient(defaultHost, "")

	rootCmd := &cobra.Command{
		Use:           "duckflow",
		Short:         "duckflow pipeline engine CLI",
		Long:          "Validate and run pipeline definitions locally, or manage pipelines, executions and schedules on a duckflow server.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Config file is optional
			cfg, err := LoadUserConfig()
			if err != nil {
				cfg = &UserConfig{
					CurrentProfile: "default",
					Profiles:       map[string]Profile{},
				}
			}
			p, err := cfg.ActiveProfile(profile)
			if err != nil {
				return err
			}

			// Apply precedence: flag > env > profile > default
			flags := cmd.Flags()
			host = resolveSetting(flags.Changed("host"), host, "DUCKFLOW_HOST", p.Host, defaultHost)
			token = resolveSetting(flags.Changed("token"), token, "DUCKFLOW_TOKEN", p.Token, "")
			output = resolveSetting(flags.Changed("output"), output, "DUCKFLOW_OUTPUT", p.Output, client.DefaultOutput(os.Stdout))

			if err := validateOutputFormat(output); err != nil {
				return err
			}
			baseURL, err := normalizeHost(host)
			if err != nil {
				return err
			}
			c.BaseURL = baseURL
			c.Token = token
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&host, "host", defaultHost, "API host URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "Bearer token for authentication")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "", "Output format (table, json); defaults to table on a terminal")
	rootCmd.PersistentFlags().StringVarP(&profile, "profile", "p", "", "Config profile to use")

	addScoped(rootCmd, ScopeLocal,
		newValidateCmd(), newRunCmd(), newNextRunCmd(),
		newVersionCmd(), newConfigCmd(), newCommandsCmd())
	addScoped(rootCmd, ScopeRemote,
		newPipelinesCmd(c), newExecutionsCmd(c), newJobsCmd(c), newStatsCmd(c))
	rootCmd.AddCommand(newCompletionCmd())

	return rootCmd
}

// resolveSetting picks the flag value when set, then the environment, then
// the profile, then def.
func resolveSetting(flagSet bool, flagVal, envKey, profileVal, def string) string {
	if flagSet {
		return flagVal
	}
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if profileVal != "" {
		return profileVal
	}
	if flagVal != "" {
		return flagVal
	}
	return def
}

func newCompletionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(os.Stdout)
			case "zsh":
				return cmd.Root().GenZshCompletion(os.Stdout)
			case "fish":
				return cmd.Root().GenFishCompletion(os.Stdout, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
	return cmd
}
