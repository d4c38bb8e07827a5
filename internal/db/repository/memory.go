package repository

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"duckflow/internal/domain"
)

var _ domain.PipelineRepository = (*MemoryStore)(nil)

// MemoryStore keeps pipelines and executions in process memory. It backs the
// CLI's in-process runs and tests. Values are deep-copied on the way in and
// out, so callers never share state with the store.
type MemoryStore struct {
	mu         sync.RWMutex
	pipelines  map[string]*domain.Pipeline
	executions map[string]*domain.Execution
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pipelines:  make(map[string]*domain.Pipeline),
		executions: make(map[string]*domain.Execution),
	}
}

// Pipelines returns a repository view of the store's pipelines.
func (m *MemoryStore) Pipelines() domain.PipelineRepository { return m }

// Executions returns a repository view of the store's executions.
func (m *MemoryStore) Executions() domain.ExecutionRepository { return executionView{m} }

// Create inserts a pipeline.
func (m *MemoryStore) Create(_ context.Context, p *domain.Pipeline) (*domain.Pipeline, error) {
	cp, err := copyPipeline(p)
	if err != nil {
		return nil, err
	}
	if cp.ID == "" {
		cp.ID = domain.NewID()
	}
	if cp.Status == "" {
		cp.Status = domain.PipelineStatusDraft
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pipelines[cp.ID]; ok {
		return nil, domain.ErrConflict("pipeline %q already exists", cp.ID)
	}
	if m.liveNameTaken(cp.Name, cp.ID) {
		return nil, domain.ErrConflict("pipeline %q already exists", cp.Name)
	}
	m.pipelines[cp.ID] = cp
	return copyPipeline(cp)
}

// GetByID returns a pipeline by id, including deleted ones.
func (m *MemoryStore) GetByID(_ context.Context, id string) (*domain.Pipeline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pipelines[id]
	if !ok {
		return nil, domain.ErrNotFound("pipeline %q not found", id)
	}
	return copyPipeline(p)
}

// GetByName returns the live pipeline with the given name.
func (m *MemoryStore) GetByName(_ context.Context, name string) (*domain.Pipeline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.pipelines {
		if p.Name == name && p.Status != domain.PipelineStatusDeleted {
			return copyPipeline(p)
		}
	}
	return nil, domain.ErrNotFound("pipeline %q not found", name)
}

// List mirrors PipelineRepo.List.
func (m *MemoryStore) List(_ context.Context, filter domain.PipelineFilter) ([]domain.Pipeline, int64, error) {
	m.mu.RLock()
	matched := make([]*domain.Pipeline, 0, len(m.pipelines))
	for _, p := range m.pipelines {
		if filter.Status != nil && p.Status != *filter.Status {
			continue
		}
		if filter.Status == nil && p.Status == domain.PipelineStatusDeleted {
			continue
		}
		matched = append(matched, p)
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].Name < matched[j].Name
	})
	page, total := domain.Paginate(matched, filter.Page)
	out := make([]domain.Pipeline, 0, len(page))
	for _, p := range page {
		cp, err := copyPipeline(p)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *cp)
	}
	return out, total, nil
}

// Update replaces a pipeline.
func (m *MemoryStore) Update(_ context.Context, p *domain.Pipeline) (*domain.Pipeline, error) {
	cp, err := copyPipeline(p)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pipelines[cp.ID]; !ok {
		return nil, domain.ErrNotFound("pipeline %q not found", cp.ID)
	}
	if cp.Status != domain.PipelineStatusDeleted && m.liveNameTaken(cp.Name, cp.ID) {
		return nil, domain.ErrConflict("pipeline %q already exists", cp.Name)
	}
	m.pipelines[cp.ID] = cp
	return copyPipeline(cp)
}

func (m *MemoryStore) liveNameTaken(name, exceptID string) bool {
	for id, p := range m.pipelines {
		if id != exceptID && p.Name == name && p.Status != domain.PipelineStatusDeleted {
			return true
		}
	}
	return false
}

// executionView adapts MemoryStore to ExecutionRepository; the method names
// overlap with the pipeline side.
type executionView struct{ m *MemoryStore }

var _ domain.ExecutionRepository = executionView{}

func (v executionView) Create(_ context.Context, e *domain.Execution) error {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	if _, ok := v.m.executions[e.ID]; ok {
		return domain.ErrConflict("execution %q already exists", e.ID)
	}
	v.m.executions[e.ID] = e.Clone()
	return nil
}

func (v executionView) GetByID(_ context.Context, id string) (*domain.Execution, error) {
	v.m.mu.RLock()
	defer v.m.mu.RUnlock()
	e, ok := v.m.executions[id]
	if !ok {
		return nil, domain.ErrNotFound("execution %q not found", id)
	}
	return e.Clone(), nil
}

func (v executionView) Update(_ context.Context, e *domain.Execution) error {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	if _, ok := v.m.executions[e.ID]; !ok {
		return domain.ErrNotFound("execution %q not found", e.ID)
	}
	v.m.executions[e.ID] = e.Clone()
	return nil
}

func (v executionView) List(_ context.Context, filter domain.ExecutionFilter) ([]domain.Execution, int64, error) {
	v.m.mu.RLock()
	matched := make([]*domain.Execution, 0, len(v.m.executions))
	for _, e := range v.m.executions {
		if filter.PipelineID != nil && e.PipelineID != *filter.PipelineID {
			continue
		}
		if filter.Status != nil && e.Status != *filter.Status {
			continue
		}
		matched = append(matched, e.Clone())
	}
	v.m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	page, total := domain.Paginate(matched, filter.Page)
	out := make([]domain.Execution, 0, len(page))
	for _, e := range page {
		out = append(out, *e)
	}
	return out, total, nil
}

func (v executionView) CountByStatus(_ context.Context, pipelineID *string) (map[domain.ExecutionStatus]int64, error) {
	v.m.mu.RLock()
	defer v.m.mu.RUnlock()
	out := make(map[domain.ExecutionStatus]int64)
	for _, e := range v.m.executions {
		if pipelineID != nil && e.PipelineID != *pipelineID {
			continue
		}
		out[e.Status]++
	}
	return out, nil
}

// copyPipeline deep-copies through JSON, the same representation the SQLite
// repository stores.
func copyPipeline(p *domain.Pipeline) (*domain.Pipeline, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var out domain.Pipeline
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
