package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"duckflow/internal/domain"
)

var _ domain.ExecutionRepository = (*ExecutionRepo)(nil)

const executionColumns = `id, pipeline_id, pipeline_name, status, triggered_by, parameters_json,
	start_time, end_time, duration, error_message, output_files_json, logs_json, created_at`

// ExecutionRepo stores executions in the executions table and their step
// records, in order, in step_executions.
type ExecutionRepo struct {
	db   *sql.DB
	read *sql.DB
}

// NewExecutionRepo creates a new ExecutionRepo. Writes go to db and queries to read;
// a nil read pool falls back to db.
func NewExecutionRepo(db, read *sql.DB) *ExecutionRepo {
	if read == nil {
		read = db
	}
	return &ExecutionRepo{db: db, read: read}
}

// Create inserts e and its step records.
func (r *ExecutionRepo) Create(ctx context.Context, e *domain.Execution) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		args, err := executionArgs(e)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO executions (`+executionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, append([]any{e.ID}, args...)...); err != nil {
			if isUniqueViolation(err) {
				return domain.ErrConflict("execution %q already exists", e.ID)
			}
			return fmt.Errorf("insert execution: %w", err)
		}
		return insertSteps(ctx, tx, e)
	})
}

// Update overwrites the execution row and replaces its step records.
func (r *ExecutionRepo) Update(ctx context.Context, e *domain.Execution) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		args, err := executionArgs(e)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE executions SET pipeline_id = ?, pipeline_name = ?, status = ?, triggered_by = ?,
				parameters_json = ?, start_time = ?, end_time = ?, duration = ?, error_message = ?,
				output_files_json = ?, logs_json = ?, created_at = ?
			WHERE id = ?`, append(args, e.ID)...)
		if err != nil {
			return fmt.Errorf("update execution: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.ErrNotFound("execution %q not found", e.ID)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM step_executions WHERE execution_id = ?`, e.ID); err != nil {
			return fmt.Errorf("clear step executions: %w", err)
		}
		return insertSteps(ctx, tx, e)
	})
}

// GetByID returns the execution with its step records.
func (r *ExecutionRepo) GetByID(ctx context.Context, id string) (*domain.Execution, error) {
	e, err := scanExecution(r.read.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id))
	if err != nil {
		return nil, notFoundAs(err, "execution %q not found", id)
	}
	steps, err := r.loadSteps(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	e.Steps = stepsOrEmpty(steps[id])
	return e, nil
}

// List returns executions newest first, filtered by pipeline and status.
func (r *ExecutionRepo) List(ctx context.Context, filter domain.ExecutionFilter) ([]domain.Execution, int64, error) {
	conds, args := executionConds(filter.PipelineID, filter.Status)
	where := whereClause(conds)

	var total int64
	if err := r.read.QueryRowContext(ctx, `SELECT COUNT(*) FROM executions`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count executions: %w", err)
	}

	rows, err := r.read.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM executions`+where+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, filter.Page.Limit(), filter.Page.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	out := make([]domain.Execution, 0)
	ids := make([]string, 0)
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *e)
		ids = append(ids, e.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	steps, err := r.loadSteps(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range out {
		out[i].Steps = stepsOrEmpty(steps[out[i].ID])
	}
	return out, total, nil
}

// CountByStatus counts executions per status, optionally for one pipeline.
func (r *ExecutionRepo) CountByStatus(ctx context.Context, pipelineID *string) (map[domain.ExecutionStatus]int64, error) {
	conds, args := executionConds(pipelineID, nil)
	rows, err := r.read.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM executions`+whereClause(conds)+` GROUP BY status`, args...)
	if err != nil {
		return nil, fmt.Errorf("count executions by status: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	out := make(map[domain.ExecutionStatus]int64)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[domain.ExecutionStatus(status)] = n
	}
	return out, rows.Err()
}

func (r *ExecutionRepo) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (r *ExecutionRepo) loadSteps(ctx context.Context, ids []string) (map[string][]domain.StepExecution, error) {
	out := make(map[string][]domain.StepExecution, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := make([]byte, 0, 2*len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args[i] = id
	}
	rows, err := r.read.QueryContext(ctx, `
		SELECT execution_id, step_id, step_name, status, start_time, end_time, duration,
			error_message, retry_count, output_json
		FROM step_executions
		WHERE execution_id IN (`+string(placeholders)+`)
		ORDER BY execution_id, position`, args...)
	if err != nil {
		return nil, fmt.Errorf("load step executions: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var (
			execID, status string
			s              domain.StepExecution
			start, end     sql.NullString
			duration       sql.NullFloat64
			output         sql.NullString
		)
		if err := rows.Scan(&execID, &s.StepID, &s.StepName, &status, &start, &end, &duration,
			&s.ErrorMessage, &s.RetryCount, &output); err != nil {
			return nil, err
		}
		s.Status = domain.ExecutionStatus(status)
		if s.StartTime, err = parseTimePtr(start); err != nil {
			return nil, err
		}
		if s.EndTime, err = parseTimePtr(end); err != nil {
			return nil, err
		}
		s.Duration = floatPtr(duration)
		if err := unmarshalJSON(output, &s.Output, "step output"); err != nil {
			return nil, err
		}
		out[execID] = append(out[execID], s)
	}
	return out, rows.Err()
}

func insertSteps(ctx context.Context, tx *sql.Tx, e *domain.Execution) error {
	for i, s := range e.Steps {
		output, err := marshalJSON(s.Output)
		if err != nil {
			return fmt.Errorf("marshal step output: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO step_executions (execution_id, position, step_id, step_name, status,
				start_time, end_time, duration, error_message, retry_count, output_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, i, s.StepID, s.StepName, string(s.Status),
			formatTimePtr(s.StartTime), formatTimePtr(s.EndTime), nullFloat(s.Duration),
			s.ErrorMessage, s.RetryCount, output,
		); err != nil {
			return fmt.Errorf("insert step execution %q: %w", s.StepName, err)
		}
	}
	return nil
}

// executionArgs returns the column values after id, in executionColumns order.
func executionArgs(e *domain.Execution) ([]any, error) {
	params, err := marshalJSON(e.Parameters)
	if err != nil {
		return nil, fmt.Errorf("marshal parameters: %w", err)
	}
	files, err := jsonList(e.OutputFiles)
	if err != nil {
		return nil, fmt.Errorf("marshal output files: %w", err)
	}
	logs, err := jsonList(e.Logs)
	if err != nil {
		return nil, fmt.Errorf("marshal logs: %w", err)
	}
	return []any{
		e.PipelineID, e.PipelineName, string(e.Status), e.TriggeredBy, params,
		formatTimePtr(e.StartTime), formatTimePtr(e.EndTime), nullFloat(e.Duration),
		e.ErrorMessage, files, logs, formatTime(e.CreatedAt),
	}, nil
}

func scanExecution(row rowScanner) (*domain.Execution, error) {
	var (
		e                   domain.Execution
		status              string
		params              sql.NullString
		start, end          sql.NullString
		duration            sql.NullFloat64
		filesJSON, logsJSON string
		createdAt           string
	)
	err := row.Scan(&e.ID, &e.PipelineID, &e.PipelineName, &status, &e.TriggeredBy, &params,
		&start, &end, &duration, &e.ErrorMessage, &filesJSON, &logsJSON, &createdAt)
	if err != nil {
		return nil, mapDBError(err)
	}
	e.Status = domain.ExecutionStatus(status)
	if err := unmarshalJSON(params, &e.Parameters, "parameters"); err != nil {
		return nil, err
	}
	if e.StartTime, err = parseTimePtr(start); err != nil {
		return nil, err
	}
	if e.EndTime, err = parseTimePtr(end); err != nil {
		return nil, err
	}
	e.Duration = floatPtr(duration)
	if err := json.Unmarshal([]byte(filesJSON), &e.OutputFiles); err != nil {
		return nil, fmt.Errorf("unmarshal output files: %w", err)
	}
	if err := json.Unmarshal([]byte(logsJSON), &e.Logs); err != nil {
		return nil, fmt.Errorf("unmarshal logs: %w", err)
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func executionConds(pipelineID *string, status *domain.ExecutionStatus) ([]string, []any) {
	var (
		conds []string
		args  []any
	)
	if pipelineID != nil {
		conds = append(conds, "pipeline_id = ?")
		args = append(args, *pipelineID)
	}
	if status != nil {
		conds = append(conds, "status = ?")
		args = append(args, string(*status))
	}
	return conds, args
}

func jsonList(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	b, err := json.Marshal(items)
	return string(b), err
}

func stepsOrEmpty(s []domain.StepExecution) []domain.StepExecution {
	if s == nil {
		return []domain.StepExecution{}
	}
	return s
}
