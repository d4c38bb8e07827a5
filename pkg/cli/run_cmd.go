package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"duckflow/internal/app"
	"duckflow/internal/config"
	"duckflow/internal/declarative"
	"duckflow/internal/domain"
	"duckflow/internal/stepexec"
)

// runOptions holds the flags of the run command.
type runOptions struct {
	path       string
	pipeline   string
	params     paramsValue
	uploadDir  string
	outputDir  string
	duckDBPath string
	timeout    time.Duration
	retryDelay time.Duration
	verbose    bool
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run pipeline definition files in-process",
		Long: `Loads pipeline documents and executes them one after another with an
embedded engine. State is kept in memory; outputs are written to the output
directory (or to s3:// targets when S3_* variables are set).`,
		Example: `  duckflow run -f daily-sales.yaml --param run_date=2026-03-11
  duckflow run -f pipelines/ --pipeline daily-sales --upload-dir data`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			results, err := runPipelines(ctx, opts)
			if len(results) > 0 {
				if perr := printExecutions(cmd, results); perr != nil {
					return perr
				}
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&opts.path, "file", "f", "", "Pipeline file or directory (required)")
	cmd.Flags().StringVar(&opts.pipeline, "pipeline", "", "Only run the pipeline with this name")
	addParamsFlag(cmd.Flags(), &opts.params)
	cmd.Flags().StringVar(&opts.uploadDir, "upload-dir", ".", "Base directory for relative load paths")
	cmd.Flags().StringVar(&opts.outputDir, "output-dir", config.DefaultOutputDirectory, "Base directory for relative save paths")
	cmd.Flags().StringVar(&opts.duckDBPath, "duckdb", "", "DuckDB database file (default in-memory)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", config.DefaultExecutionTimeout, "Per-execution timeout, 0 disables")
	cmd.Flags().DurationVar(&opts.retryDelay, "retry-delay", 5*time.Second, "Delay between step retries")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log engine activity to stderr")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

// runPipelines executes every selected document and returns the final
// executions. The error reports failed runs.
func runPipelines(ctx context.Context, opts *runOptions) ([]*domain.Execution, error) {
	docs, err := declarative.LoadPath(opts.path, declarative.LoadOptions{})
	if err != nil {
		return nil, err
	}
	if opts.pipeline != "" {
		var selected []*declarative.PipelineDoc
		for _, d := range docs {
			if d.Metadata.Name == opts.pipeline {
				selected = append(selected, d)
			}
		}
		if len(selected) == 0 {
			return nil, fmt.Errorf("pipeline %q not found in %s", opts.pipeline, opts.path)
		}
		docs = selected
	}

	_ = config.LoadDotEnv(".env")
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, err
	}
	cfg.UploadDirectory = opts.uploadDir
	cfg.OutputDirectory = opts.outputDir
	cfg.Engine.ExecutionTimeout = opts.timeout
	cfg.Engine.RetryDelay = opts.retryDelay

	level := slog.LevelError
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	duckDB, err := stepexec.OpenDuckDB(ctx, opts.duckDBPath)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	defer duckDB.Close() //nolint:errcheck

	a, err := app.New(ctx, app.Deps{Cfg: cfg, DuckDB: duckDB, Logger: logger})
	if err != nil {
		return nil, err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		_ = a.Shutdown(shutdownCtx)
	}()

	var (
		results []*domain.Execution
		failed  []string
	)
	for _, doc := range docs {
		p, err := a.Service.CreatePipeline(ctx, doc.CreateRequest())
		if err != nil {
			return results, fmt.Errorf("%s: %w", doc.Metadata.Name, err)
		}
		params := map[string]string(opts.params)
		if params == nil {
			params = map[string]string{}
		}
		params[domain.ParamTriggeredBy] = domain.TriggerManual

		h, err := a.Service.ExecutePipeline(ctx, p.ID, params)
		if err != nil {
			return results, fmt.Errorf("%s: %w", doc.Metadata.Name, err)
		}
		exec, err := h.Wait(ctx)
		if exec == nil {
			return results, fmt.Errorf("%s: %w", doc.Metadata.Name, err)
		}
		results = append(results, exec)
		if exec.Status != domain.ExecutionCompleted {
			failed = append(failed, doc.Metadata.Name)
		}
	}

	if len(failed) > 0 {
		return results, errors.New("failed pipelines: " + strings.Join(failed, ", "))
	}
	return results, nil
}
