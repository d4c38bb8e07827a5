// Package testutil provides shared mock implementations of domain interfaces
// for use in tests across the codebase.
package testutil

import (
	"context"
	"sync"

	"duckflow/internal/domain"
)

// === Pipeline Repository Mock ===

// MockPipelineRepo implements domain.PipelineRepository for testing.
type MockPipelineRepo struct {
	CreateFn    func(ctx context.Context, p *domain.Pipeline) (*domain.Pipeline, error)
	GetByIDFn   func(ctx context.Context, id string) (*domain.Pipeline, error)
	GetByNameFn func(ctx context.Context, name string) (*domain.Pipeline, error)
	ListFn      func(ctx context.Context, filter domain.PipelineFilter) ([]domain.Pipeline, int64, error)
	UpdateFn    func(ctx context.Context, p *domain.Pipeline) (*domain.Pipeline, error)
}

var _ domain.PipelineRepository = (*MockPipelineRepo)(nil)

// Create implements the interface method for testing.
func (m *MockPipelineRepo) Create(ctx context.Context, p *domain.Pipeline) (*domain.Pipeline, error) {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, p)
	}
	panic("unexpected call to MockPipelineRepo.Create")
}

// GetByID implements the interface method for testing.
func (m *MockPipelineRepo) GetByID(ctx context.Context, id string) (*domain.Pipeline, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, id)
	}
	panic("unexpected call to MockPipelineRepo.GetByID")
}

// GetByName implements the interface method for testing.
func (m *MockPipelineRepo) GetByName(ctx context.Context, name string) (*domain.Pipeline, error) {
	if m.GetByNameFn != nil {
		return m.GetByNameFn(ctx, name)
	}
	panic("unexpected call to MockPipelineRepo.GetByName")
}

// List implements the interface method for testing.
func (m *MockPipelineRepo) List(ctx context.Context, filter domain.PipelineFilter) ([]domain.Pipeline, int64, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, filter)
	}
	panic("unexpected call to MockPipelineRepo.List")
}

// Update implements the interface method for testing.
func (m *MockPipelineRepo) Update(ctx context.Context, p *domain.Pipeline) (*domain.Pipeline, error) {
	if m.UpdateFn != nil {
		return m.UpdateFn(ctx, p)
	}
	panic("unexpected call to MockPipelineRepo.Update")
}

// === Execution Repository Mock ===

// MockExecutionRepo implements domain.ExecutionRepository for testing.
type MockExecutionRepo struct {
	CreateFn        func(ctx context.Context, e *domain.Execution) error
	GetByIDFn       func(ctx context.Context, id string) (*domain.Execution, error)
	UpdateFn        func(ctx context.Context, e *domain.Execution) error
	ListFn          func(ctx context.Context, filter domain.ExecutionFilter) ([]domain.Execution, int64, error)
	CountByStatusFn func(ctx context.Context, pipelineID *string) (map[domain.ExecutionStatus]int64, error)
}

var _ domain.ExecutionRepository = (*MockExecutionRepo)(nil)

// Create implements the interface method for testing.
func (m *MockExecutionRepo) Create(ctx context.Context, e *domain.Execution) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, e)
	}
	panic("unexpected call to MockExecutionRepo.Create")
}

// GetByID implements the interface method for testing.
func (m *MockExecutionRepo) GetByID(ctx context.Context, id string) (*domain.Execution, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, id)
	}
	panic("unexpected call to MockExecutionRepo.GetByID")
}

// Update implements the interface method for testing.
func (m *MockExecutionRepo) Update(ctx context.Context, e *domain.Execution) error {
	if m.UpdateFn != nil {
		return m.UpdateFn(ctx, e)
	}
	panic("unexpected call to MockExecutionRepo.Update")
}

// List implements the interface method for testing.
func (m *MockExecutionRepo) List(ctx context.Context, filter domain.ExecutionFilter) ([]domain.Execution, int64, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, filter)
	}
	panic("unexpected call to MockExecutionRepo.List")
}

// CountByStatus implements the interface method for testing.
func (m *MockExecutionRepo) CountByStatus(ctx context.Context, pipelineID *string) (map[domain.ExecutionStatus]int64, error) {
	if m.CountByStatusFn != nil {
		return m.CountByStatusFn(ctx, pipelineID)
	}
	panic("unexpected call to MockExecutionRepo.CountByStatus")
}

// === Step Executor Mock ===

// MockStepExecutor implements domain.StepExecutor for testing. Calls are
// recorded by operation name and are safe from concurrent executions.
type MockStepExecutor struct {
	LoadFn      func(ctx context.Context, path string, format domain.DataFormat, options map[string]any) (*domain.Dataset, error)
	TransformFn func(ctx context.Context, in *domain.Dataset, ops []domain.TransformOperation) (*domain.Dataset, error)
	FilterFn    func(ctx context.Context, in *domain.Dataset, conds []domain.FilterCondition) (*domain.Dataset, error)
	AggregateFn func(ctx context.Context, in *domain.Dataset, groupBy []string, aggs map[string]string) (*domain.Dataset, error)
	JoinFn      func(ctx context.Context, left, right *domain.Dataset, leftOn, rightOn []string, joinType string) (*domain.Dataset, error)
	SaveFn      func(ctx context.Context, in *domain.Dataset, path string, format domain.DataFormat, options map[string]any) error

	mu    sync.Mutex
	calls []string
}

var _ domain.StepExecutor = (*MockStepExecutor)(nil)

// Calls returns the operations invoked so far, in order.
func (m *MockStepExecutor) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MockStepExecutor) record(op string) {
	m.mu.Lock()
	m.calls = append(m.calls, op)
	m.mu.Unlock()
}

// Load implements the interface method for testing.
func (m *MockStepExecutor) Load(ctx context.Context, path string, format domain.DataFormat, options map[string]any) (*domain.Dataset, error) {
	m.record("load")
	if m.LoadFn != nil {
		return m.LoadFn(ctx, path, format, options)
	}
	panic("unexpected call to MockStepExecutor.Load")
}

// Transform implements the interface method for testing.
func (m *MockStepExecutor) Transform(ctx context.Context, in *domain.Dataset, ops []domain.TransformOperation) (*domain.Dataset, error) {
	m.record("transform")
	if m.TransformFn != nil {
		return m.TransformFn(ctx, in, ops)
	}
	panic("unexpected call to MockStepExecutor.Transform")
}

// Filter implements the interface method for testing.
func (m *MockStepExecutor) Filter(ctx context.Context, in *domain.Dataset, conds []domain.FilterCondition) (*domain.Dataset, error) {
	m.record("filter")
	if m.FilterFn != nil {
		return m.FilterFn(ctx, in, conds)
	}
	panic("unexpected call to MockStepExecutor.Filter")
}

// Aggregate implements the interface method for testing.
func (m *MockStepExecutor) Aggregate(ctx context.Context, in *domain.Dataset, groupBy []string, aggs map[string]string) (*domain.Dataset, error) {
	m.record("aggregate")
	if m.AggregateFn != nil {
		return m.AggregateFn(ctx, in, groupBy, aggs)
	}
	panic("unexpected call to MockStepExecutor.Aggregate")
}

// Join implements the interface method for testing.
func (m *MockStepExecutor) Join(ctx context.Context, left, right *domain.Dataset, leftOn, rightOn []string, joinType string) (*domain.Dataset, error) {
	m.record("join")
	if m.JoinFn != nil {
		return m.JoinFn(ctx, left, right, leftOn, rightOn, joinType)
	}
	panic("unexpected call to MockStepExecutor.Join")
}

// Save implements the interface method for testing.
func (m *MockStepExecutor) Save(ctx context.Context, in *domain.Dataset, path string, format domain.DataFormat, options map[string]any) error {
	m.record("save")
	if m.SaveFn != nil {
		return m.SaveFn(ctx, in, path, format, options)
	}
	panic("unexpected call to MockStepExecutor.Save")
}

// === Object Store Mock ===

// MockObjectStore implements domain.ObjectStore for testing.
type MockObjectStore struct {
	UploadFn func(ctx context.Context, localPath, uri string) error
}

var _ domain.ObjectStore = (*MockObjectStore)(nil)

// Upload implements the interface method for testing.
func (m *MockObjectStore) Upload(ctx context.Context, localPath, uri string) error {
	if m.UploadFn != nil {
		return m.UploadFn(ctx, localPath, uri)
	}
	panic("unexpected call to MockObjectStore.Upload")
}
