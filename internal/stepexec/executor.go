// Package stepexec runs pipeline step operations against DuckDB. Each
// dataset is materialised as a uniquely named table that lives until the
// engine releases it.
package stepexec

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"duckflow/internal/ddl"
	"duckflow/internal/domain"
	"duckflow/internal/storage"
)

var (
	_ domain.StepExecutor    = (*DuckDBExecutor)(nil)
	_ domain.DatasetReleaser = (*DuckDBExecutor)(nil)
)

// DuckDBExecutor implements domain.StepExecutor on a DuckDB connection pool.
type DuckDBExecutor struct {
	db     *sql.DB
	store  domain.ObjectStore
	tmpDir string
	logger *slog.Logger
}

// New creates a DuckDBExecutor. store may be nil, in which case s3:// saves
// are written directly by DuckDB through httpfs.
func New(db *sql.DB, store domain.ObjectStore, logger *slog.Logger) *DuckDBExecutor {
	return &DuckDBExecutor{
		db:     db,
		store:  store,
		tmpDir: os.TempDir(),
		logger: logger.With("component", "stepexec"),
	}
}

// Load reads path into a new dataset.
func (e *DuckDBExecutor) Load(ctx context.Context, path string, format domain.DataFormat, options map[string]any) (*domain.Dataset, error) {
	readFn, err := ddl.ReadFunction(path, string(format), options)
	if err != nil {
		return nil, err
	}
	return e.materialise(ctx, "SELECT * FROM "+readFn)
}

// Transform applies ops in order, materialising after each one.
func (e *DuckDBExecutor) Transform(ctx context.Context, in *domain.Dataset, ops []domain.TransformOperation) (*domain.Dataset, error) {
	current := in
	// Intermediate tables are owned here until they are returned.
	discard := func() {
		if current != in {
			e.drop(ctx, current)
		}
	}
	for i, op := range ops {
		q, _, err := transformQuery(current.Name, current.Columns, current.Types, op)
		if err != nil {
			discard()
			return nil, fmt.Errorf("transformation %d: %w", i, err)
		}
		next, err := e.materialise(ctx, q)
		if err != nil {
			discard()
			return nil, fmt.Errorf("transformation %d (%s): %w", i, op.Type, err)
		}
		discard()
		current = next
	}
	if current == in {
		return e.materialise(ctx, "SELECT * FROM "+ddl.QuoteIdentifier(in.Name))
	}
	return current, nil
}

// Filter keeps rows matching every condition.
func (e *DuckDBExecutor) Filter(ctx context.Context, in *domain.Dataset, conds []domain.FilterCondition) (*domain.Dataset, error) {
	q, err := filterQuery(in.Name, conds)
	if err != nil {
		return nil, err
	}
	return e.materialise(ctx, q)
}

// Aggregate groups in by groupBy and applies aggs.
func (e *DuckDBExecutor) Aggregate(ctx context.Context, in *domain.Dataset, groupBy []string, aggs map[string]string) (*domain.Dataset, error) {
	q, err := aggregateQuery(in.Name, in.Columns, groupBy, aggs)
	if err != nil {
		return nil, err
	}
	return e.materialise(ctx, q)
}

// Join combines left and right on the given keys.
func (e *DuckDBExecutor) Join(ctx context.Context, left, right *domain.Dataset, leftOn, rightOn []string, joinType string) (*domain.Dataset, error) {
	q, err := joinQuery(left, right, leftOn, rightOn, joinType)
	if err != nil {
		return nil, err
	}
	return e.materialise(ctx, q)
}

// Save writes in to path. Local parent directories are created; s3:// paths
// are staged locally and uploaded through the object store when one is
// configured.
func (e *DuckDBExecutor) Save(ctx context.Context, in *domain.Dataset, path string, format domain.DataFormat, options map[string]any) error {
	if format == domain.FormatXLSX {
		return fmt.Errorf("unsupported file format: %q", format)
	}

	if storage.IsS3Path(path) && e.store != nil {
		staged, err := os.CreateTemp(e.tmpDir, "duckflow-*."+string(format))
		if err != nil {
			return fmt.Errorf("stage output: %w", err)
		}
		stagedPath := staged.Name()
		_ = staged.Close()
		defer os.Remove(stagedPath) //nolint:errcheck

		if err := e.copyTo(ctx, in, stagedPath, format, options); err != nil {
			return err
		}
		return e.store.Upload(ctx, stagedPath, path)
	}

	if !storage.IsS3Path(path) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	return e.copyTo(ctx, in, path, format, options)
}

// Release drops the table backing ds.
func (e *DuckDBExecutor) Release(ctx context.Context, ds *domain.Dataset) error {
	stmt, err := ddl.DropTable(ds.Name)
	if err != nil {
		return err
	}
	_, err = e.db.ExecContext(ctx, stmt)
	return err
}

func (e *DuckDBExecutor) copyTo(ctx context.Context, in *domain.Dataset, path string, format domain.DataFormat, options map[string]any) error {
	stmt, err := ddl.CopyTo(in.Name, path, string(format), options)
	if err != nil {
		return err
	}
	if _, err := e.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// materialise stores the result of query in a new table and describes it.
func (e *DuckDBExecutor) materialise(ctx context.Context, query string) (*domain.Dataset, error) {
	name := domain.NewRelationName()
	stmt, err := ddl.CreateTableAs(name, query)
	if err != nil {
		return nil, err
	}
	if _, err := e.db.ExecContext(ctx, stmt); err != nil {
		return nil, err
	}

	ds, err := e.describe(ctx, name)
	if err != nil {
		e.drop(ctx, &domain.Dataset{Name: name})
		return nil, err
	}
	e.logger.Debug("dataset materialised", "dataset", name, "rows", ds.Rows, "columns", len(ds.Columns))
	return ds, nil
}

func (e *DuckDBExecutor) describe(ctx context.Context, name string) (*domain.Dataset, error) {
	countSQL, err := ddl.CountRows(name)
	if err != nil {
		return nil, err
	}
	ds := &domain.Dataset{Name: name}
	if err := e.db.QueryRowContext(ctx, countSQL).Scan(&ds.Rows); err != nil {
		return nil, fmt.Errorf("count rows: %w", err)
	}

	describeSQL, err := ddl.DescribeTable(name)
	if err != nil {
		return nil, err
	}
	rows, err := e.db.QueryContext(ctx, describeSQL)
	if err != nil {
		return nil, fmt.Errorf("describe: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	for rows.Next() {
		var col, typ string
		if err := rows.Scan(&col, &typ); err != nil {
			return nil, err
		}
		ds.Columns = append(ds.Columns, col)
		ds.Types = append(ds.Types, typ)
	}
	return ds, rows.Err()
}

func (e *DuckDBExecutor) drop(ctx context.Context, ds *domain.Dataset) {
	if err := e.Release(context.WithoutCancel(ctx), ds); err != nil {
		e.logger.Warn("drop dataset failed", "dataset", ds.Name, "error", err)
	}
}
