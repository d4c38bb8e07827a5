package pipeline

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"duckflow/internal/db/repository"
	"duckflow/internal/domain"
	"duckflow/internal/limiter"
	"duckflow/internal/testutil"
)

// discardLogger returns a logger that discards all output.
func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestEngine(t *testing.T, ex domain.StepExecutor, capacity int, opts EngineOptions) (*Engine, *repository.MemoryStore) {
	t.Helper()
	store := repository.NewMemoryStore()
	e := NewEngine(ex, store.Executions(), limiter.New(capacity), opts, discardLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Shutdown(ctx)
	})
	return e, store
}

// okExecutor succeeds at every operation with small synthetic datasets.
func okExecutor() *testutil.MockStepExecutor {
	return &testutil.MockStepExecutor{
		LoadFn: func(_ context.Context, path string, _ domain.DataFormat, _ map[string]any) (*domain.Dataset, error) {
			return &domain.Dataset{Name: path, Rows: 10, Columns: []string{"region", "amount"}}, nil
		},
		TransformFn: func(_ context.Context, in *domain.Dataset, _ []domain.TransformOperation) (*domain.Dataset, error) {
			return &domain.Dataset{Name: in.Name + "|transform", Rows: in.Rows, Columns: in.Columns}, nil
		},
		FilterFn: func(_ context.Context, in *domain.Dataset, _ []domain.FilterCondition) (*domain.Dataset, error) {
			return &domain.Dataset{Name: in.Name + "|filter", Rows: in.Rows - 4, Columns: in.Columns}, nil
		},
		AggregateFn: func(_ context.Context, in *domain.Dataset, _ []string, _ map[string]string) (*domain.Dataset, error) {
			return &domain.Dataset{Name: in.Name + "|aggregate", Rows: 2, Columns: in.Columns}, nil
		},
		JoinFn: func(_ context.Context, left, right *domain.Dataset, _, _ []string, _ string) (*domain.Dataset, error) {
			return &domain.Dataset{Name: left.Name + "+" + right.Name, Rows: left.Rows, Columns: []string{"region", "amount", "manager"}}, nil
		},
		SaveFn: func(context.Context, *domain.Dataset, string, domain.DataFormat, map[string]any) error {
			return nil
		},
	}
}

func loadStep(name, path string) domain.Step {
	s := domain.NewStep(name, domain.StepKindLoad)
	s.Load = &domain.LoadSpec{Path: path, Format: domain.FormatCSV}
	return s
}

func transformStep(name, input string) domain.Step {
	s := domain.NewStep(name, domain.StepKindTransform)
	s.Transform = &domain.TransformSpec{Input: input, Operations: []domain.TransformOperation{{Type: "reset_index"}}}
	return s
}

func filterStep(name string) domain.Step {
	s := domain.NewStep(name, domain.StepKindFilter)
	s.Filter = &domain.FilterSpec{Conditions: []domain.FilterCondition{{Type: "not_null", Column: "amount"}}}
	return s
}

func joinStep(name, right string) domain.Step {
	s := domain.NewStep(name, domain.StepKindJoin)
	s.Join = &domain.JoinSpec{Right: right, LeftOn: []string{"region"}, RightOn: []string{"region"}}
	return s
}

func saveStep(name, path string) domain.Step {
	s := domain.NewStep(name, domain.StepKindSave)
	s.Save = &domain.SaveSpec{Path: path, Format: domain.FormatParquet}
	return s
}

func testPipeline(steps ...domain.Step) *domain.Pipeline {
	return &domain.Pipeline{
		ID:     domain.NewID(),
		Name:   "daily-sales",
		Status: domain.PipelineStatusActive,
		Steps:  steps,
	}
}

// wait blocks until h finishes and returns the final execution.
func wait(t *testing.T, h *Handle) (*domain.Execution, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exec, err := h.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "execution did not finish")
	require.NotNil(t, exec)
	return exec, err
}

// waitSignal fails the test if ch is not closed within a few seconds.
func waitSignal(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for signal")
	}
}
