package domain

import "context"

// Dataset is a handle to an intermediate result held by a StepExecutor.
// Name identifies the relation inside the executor's engine.
type Dataset struct {
	Name    string
	Rows    int64
	Columns []string
	// Types holds the engine type of each column, parallel to Columns.
	// It may be empty when the executor does not track types.
	Types []string
}

// StepExecutor performs the concrete data operation of each step kind.
// Implemented by stepexec.DuckDBExecutor. Every call may block on I/O and
// must honour ctx cancellation.
type StepExecutor interface {
	Load(ctx context.Context, path string, format DataFormat, options map[string]any) (*Dataset, error)
	Transform(ctx context.Context, in *Dataset, ops []TransformOperation) (*Dataset, error)
	Filter(ctx context.Context, in *Dataset, conds []FilterCondition) (*Dataset, error)
	Aggregate(ctx context.Context, in *Dataset, groupBy []string, aggs map[string]string) (*Dataset, error)
	Join(ctx context.Context, left, right *Dataset, leftOn, rightOn []string, joinType string) (*Dataset, error)
	Save(ctx context.Context, in *Dataset, path string, format DataFormat, options map[string]any) error
}

// DatasetReleaser is optionally implemented by a StepExecutor that holds
// resources per dataset. The engine releases every dataset of a run when
// the run exits.
type DatasetReleaser interface {
	Release(ctx context.Context, ds *Dataset) error
}

// ObjectStore publishes files to remote object storage.
// Implemented by storage.S3Store.
type ObjectStore interface {
	Upload(ctx context.Context, localPath, uri string) error
}
