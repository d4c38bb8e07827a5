package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"duckflow/internal/domain"
	"duckflow/internal/storage"
)

// stepHandler performs one step against the run context and returns the
// output summary recorded on the StepExecution.
type stepHandler func(ctx context.Context, step domain.Step, rc *runContext) (map[string]any, error)

func (e *Engine) stepHandlers() map[domain.StepKind]stepHandler {
	return map[domain.StepKind]stepHandler{
		domain.StepKindLoad:      e.load,
		domain.StepKindTransform: e.transform,
		domain.StepKindFilter:    e.filter,
		domain.StepKindAggregate: e.aggregate,
		domain.StepKindJoin:      e.join,
		domain.StepKindSave:      e.save,
	}
}

func (e *Engine) load(ctx context.Context, step domain.Step, rc *runContext) (map[string]any, error) {
	spec := step.Load
	if spec == nil {
		return nil, fmt.Errorf("load step %q has no load payload", step.Name)
	}
	path := resolvePath(e.opts.UploadDir, rc.expand(spec.Path))
	if !storage.IsS3Path(path) {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("source file not found: %s", path)
			}
			return nil, fmt.Errorf("stat source file: %w", err)
		}
	}

	ds, err := e.executor.Load(ctx, path, spec.Format, spec.Options)
	if err != nil {
		return nil, err
	}
	rc.put(step.Name, ds)
	return map[string]any{
		"rows":         ds.Rows,
		"columns":      len(ds.Columns),
		"column_names": ds.Columns,
	}, nil
}

func (e *Engine) transform(ctx context.Context, step domain.Step, rc *runContext) (map[string]any, error) {
	spec := step.Transform
	if spec == nil {
		return nil, fmt.Errorf("transform step %q has no transform payload", step.Name)
	}
	in, err := rc.input(spec.Input, rc.first)
	if err != nil {
		return nil, fmt.Errorf("transform step %q: %w", step.Name, err)
	}
	ds, err := e.executor.Transform(ctx, in, spec.Operations)
	if err != nil {
		return nil, err
	}
	rc.put(step.Name, ds)
	return map[string]any{
		"rows":               ds.Rows,
		"columns":            len(ds.Columns),
		"operations_applied": len(spec.Operations),
	}, nil
}

func (e *Engine) filter(ctx context.Context, step domain.Step, rc *runContext) (map[string]any, error) {
	spec := step.Filter
	if spec == nil {
		return nil, fmt.Errorf("filter step %q has no filter payload", step.Name)
	}
	in, err := rc.input(spec.Input, rc.first)
	if err != nil {
		return nil, fmt.Errorf("filter step %q: %w", step.Name, err)
	}
	ds, err := e.executor.Filter(ctx, in, spec.Conditions)
	if err != nil {
		return nil, err
	}
	rc.put(step.Name, ds)
	return map[string]any{
		"original_rows":      in.Rows,
		"filtered_rows":      ds.Rows,
		"rows_removed":       in.Rows - ds.Rows,
		"conditions_applied": len(spec.Conditions),
	}, nil
}

func (e *Engine) aggregate(ctx context.Context, step domain.Step, rc *runContext) (map[string]any, error) {
	spec := step.Aggregate
	if spec == nil {
		return nil, fmt.Errorf("aggregate step %q has no aggregate payload", step.Name)
	}
	in, err := rc.input(spec.Input, rc.first)
	if err != nil {
		return nil, fmt.Errorf("aggregate step %q: %w", step.Name, err)
	}
	ds, err := e.executor.Aggregate(ctx, in, spec.GroupBy, spec.Aggregations)
	if err != nil {
		return nil, err
	}
	rc.put(step.Name, ds)
	return map[string]any{
		"original_rows":   in.Rows,
		"aggregated_rows": ds.Rows,
		"group_columns":   spec.GroupBy,
		"aggregations":    spec.Aggregations,
	}, nil
}

func (e *Engine) join(ctx context.Context, step domain.Step, rc *runContext) (map[string]any, error) {
	spec := step.Join
	if spec == nil {
		return nil, fmt.Errorf("join step %q has no join payload", step.Name)
	}
	left, err := rc.input(spec.Left, rc.first)
	if err != nil {
		return nil, fmt.Errorf("join step %q: %w", step.Name, err)
	}
	right, err := rc.get(spec.Right)
	if err != nil {
		return nil, fmt.Errorf("join step %q: %w", step.Name, err)
	}
	joinType := spec.JoinType
	if joinType == "" {
		joinType = domain.DefaultJoinType
	}
	ds, err := e.executor.Join(ctx, left, right, spec.LeftOn, spec.RightOn, joinType)
	if err != nil {
		return nil, err
	}
	rc.put(step.Name, ds)
	return map[string]any{
		"left_rows":   left.Rows,
		"right_rows":  right.Rows,
		"result_rows": ds.Rows,
		"join_type":   joinType,
	}, nil
}

func (e *Engine) save(ctx context.Context, step domain.Step, rc *runContext) (map[string]any, error) {
	spec := step.Save
	if spec == nil {
		return nil, fmt.Errorf("save step %q has no save payload", step.Name)
	}
	in, err := rc.input(spec.Input, rc.last)
	if err != nil {
		return nil, fmt.Errorf("save step %q: %w", step.Name, err)
	}
	path := resolvePath(e.opts.OutputDir, rc.expand(spec.Path))
	if err := e.executor.Save(ctx, in, path, spec.Format, spec.Options); err != nil {
		return nil, err
	}
	rc.outputs = append(rc.outputs, path)
	return map[string]any{
		"output_path":   path,
		"rows_saved":    in.Rows,
		"columns_saved": len(in.Columns),
		"format":        string(spec.Format),
	}, nil
}

// resolvePath places relative local paths under base. Absolute paths, s3://
// URIs and paths already under base are returned unchanged.
func resolvePath(base, path string) string {
	if path == "" || base == "" || storage.IsS3Path(path) || filepath.IsAbs(path) {
		return path
	}
	clean := filepath.Clean(path)
	root := filepath.Clean(base)
	if clean == root || strings.HasPrefix(clean, root+string(filepath.Separator)) {
		return clean
	}
	return filepath.Join(root, clean)
}
