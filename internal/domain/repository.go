package domain

import "context"

// PipelineRepository persists pipeline definitions.
type PipelineRepository interface {
	Create(ctx context.Context, p *Pipeline) (*Pipeline, error)
	GetByID(ctx context.Context, id string) (*Pipeline, error)
	GetByName(ctx context.Context, name string) (*Pipeline, error)
	List(ctx context.Context, filter PipelineFilter) ([]Pipeline, int64, error)
	Update(ctx context.Context, p *Pipeline) (*Pipeline, error)
}

// ExecutionRepository persists executions with their step records. Updates
// replace the whole record; last write wins per execution id.
type ExecutionRepository interface {
	Create(ctx context.Context, e *Execution) error
	GetByID(ctx context.Context, id string) (*Execution, error)
	Update(ctx context.Context, e *Execution) error
	List(ctx context.Context, filter ExecutionFilter) ([]Execution, int64, error)
	CountByStatus(ctx context.Context, pipelineID *string) (map[ExecutionStatus]int64, error)
}
