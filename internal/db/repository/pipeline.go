package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"duckflow/internal/domain"
)

var _ domain.PipelineRepository = (*PipelineRepo)(nil)

const pipelineColumns = `id, name, description, status, steps_json, schedule_json, metadata_json,
	created_by, created_at, updated_at`

// PipelineRepo stores pipeline definitions. Steps, schedule and metadata are
// kept as JSON documents.
type PipelineRepo struct {
	db   *sql.DB
	read *sql.DB
}

// NewPipelineRepo creates a new PipelineRepo. Writes go to db and queries to read;
// a nil read pool falls back to db.
func NewPipelineRepo(db, read *sql.DB) *PipelineRepo {
	if read == nil {
		read = db
	}
	return &PipelineRepo{db: db, read: read}
}

// Create inserts p. A live pipeline with the same name is a ConflictError.
func (r *PipelineRepo) Create(ctx context.Context, p *domain.Pipeline) (*domain.Pipeline, error) {
	if p.ID == "" {
		p.ID = domain.NewID()
	}
	if p.Status == "" {
		p.Status = domain.PipelineStatusDraft
	}
	args, err := pipelineArgs(p)
	if err != nil {
		return nil, err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO pipelines (`+pipelineColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		append([]any{p.ID}, args...)...,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrConflict("pipeline %q already exists", p.Name)
		}
		return nil, fmt.Errorf("insert pipeline: %w", err)
	}
	return r.GetByID(ctx, p.ID)
}

// GetByID returns the pipeline with the given id, including deleted ones.
func (r *PipelineRepo) GetByID(ctx context.Context, id string) (*domain.Pipeline, error) {
	p, err := r.getOne(ctx, `SELECT `+pipelineColumns+` FROM pipelines WHERE id = ?`, id)
	if err != nil {
		return nil, notFoundAs(err, "pipeline %q not found", id)
	}
	return p, nil
}

// GetByName returns the live (not deleted) pipeline with the given name.
func (r *PipelineRepo) GetByName(ctx context.Context, name string) (*domain.Pipeline, error) {
	p, err := r.getOne(ctx, `SELECT `+pipelineColumns+` FROM pipelines
		WHERE name = ? AND status <> 'deleted'`, name)
	if err != nil {
		return nil, notFoundAs(err, "pipeline %q not found", name)
	}
	return p, nil
}

// List returns pipelines ordered by creation time. Without a status filter
// deleted pipelines are excluded.
func (r *PipelineRepo) List(ctx context.Context, filter domain.PipelineFilter) ([]domain.Pipeline, int64, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Status != nil {
		conds = append(conds, "status = ?")
		args = append(args, string(*filter.Status))
	} else {
		conds = append(conds, "status <> 'deleted'")
	}
	where := whereClause(conds)

	var total int64
	if err := r.read.QueryRowContext(ctx, `SELECT COUNT(*) FROM pipelines`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count pipelines: %w", err)
	}

	rows, err := r.read.QueryContext(ctx,
		`SELECT `+pipelineColumns+` FROM pipelines`+where+` ORDER BY created_at, name LIMIT ? OFFSET ?`,
		append(args, filter.Page.Limit(), filter.Page.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("list pipelines: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	out := make([]domain.Pipeline, 0)
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *p)
	}
	return out, total, rows.Err()
}

// Update replaces every mutable column of p and refreshes updated_at.
func (r *PipelineRepo) Update(ctx context.Context, p *domain.Pipeline) (*domain.Pipeline, error) {
	args, err := pipelineArgs(p)
	if err != nil {
		return nil, err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE pipelines SET name = ?, description = ?, status = ?, steps_json = ?,
			schedule_json = ?, metadata_json = ?, created_by = ?, created_at = ?, updated_at = ?
		WHERE id = ?`,
		append(args, p.ID)...,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrConflict("pipeline %q already exists", p.Name)
		}
		return nil, fmt.Errorf("update pipeline: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, domain.ErrNotFound("pipeline %q not found", p.ID)
	}
	return r.GetByID(ctx, p.ID)
}

// pipelineArgs returns the column values after id, in pipelineColumns order.
func pipelineArgs(p *domain.Pipeline) ([]any, error) {
	steps := p.Steps
	if steps == nil {
		steps = []domain.Step{}
	}
	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return nil, fmt.Errorf("marshal steps: %w", err)
	}
	schedule, err := marshalJSON(p.Schedule)
	if err != nil {
		return nil, fmt.Errorf("marshal schedule: %w", err)
	}
	metadata, err := marshalJSON(p.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return []any{
		p.Name, p.Description, string(p.Status), string(stepsJSON), schedule, metadata,
		p.CreatedBy, formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PipelineRepo) getOne(ctx context.Context, stmt string, args ...any) (*domain.Pipeline, error) {
	return scanPipeline(r.read.QueryRowContext(ctx, stmt, args...))
}

func scanPipeline(row rowScanner) (*domain.Pipeline, error) {
	var (
		p                    domain.Pipeline
		status               string
		stepsJSON            string
		scheduleJSON, meta   sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&p.ID, &p.Name, &p.Description, &status, &stepsJSON, &scheduleJSON, &meta,
		&p.CreatedBy, &createdAt, &updatedAt)
	if err != nil {
		return nil, mapDBError(err)
	}
	p.Status = domain.PipelineStatus(status)
	if err := json.Unmarshal([]byte(stepsJSON), &p.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}
	if scheduleJSON.Valid {
		p.Schedule = &domain.ScheduleConfig{}
		if err := unmarshalJSON(scheduleJSON, p.Schedule, "schedule"); err != nil {
			return nil, err
		}
	}
	if err := unmarshalJSON(meta, &p.Metadata, "metadata"); err != nil {
		return nil, err
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// notFoundAs replaces a generic NotFoundError with a specific message.
func notFoundAs(err error, format string, args ...any) error {
	if _, ok := err.(*domain.NotFoundError); ok {
		return domain.ErrNotFound(format, args...)
	}
	return err
}
