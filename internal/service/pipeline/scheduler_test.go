package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duckflow/internal/db/repository"
	"duckflow/internal/domain"
	"duckflow/internal/recurrence"
	"duckflow/internal/testutil"
)

// fakeExecutor records triggers and optionally fails them.
type fakeExecutor struct {
	mu     sync.Mutex
	calls  []map[string]string
	failed bool
}

func (f *fakeExecutor) Execute(_ context.Context, p *domain.Pipeline, params map[string]string) (*Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, params)
	if f.failed {
		return nil, errors.New("engine unavailable")
	}
	return &Handle{ExecutionID: "exec-" + p.ID, done: make(chan struct{})}, nil
}

func (f *fakeExecutor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeClock is advanced manually by tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Wednesday.
var schedNow = time.Date(2026, 3, 11, 10, 17, 42, 0, time.UTC)

func scheduledPipeline(id string, sched *domain.ScheduleConfig) *domain.Pipeline {
	p := testPipeline(loadStep("load", "s3://lake/a.csv"))
	p.ID = id
	p.Name = "pipeline-" + id
	p.Schedule = sched
	return p
}

func newTestScheduler(repo domain.PipelineRepository, ex Executor, clock *fakeClock) *Scheduler {
	calc := recurrence.NewCalculator(nil, discardLogger())
	return NewScheduler(repo, ex, calc, SchedulerOptions{Clock: clock.Now, CheckInterval: time.Hour}, discardLogger())
}

// repoOf serves pipelines from a map; missing ids are NotFound.
func repoOf(pipelines ...*domain.Pipeline) *testutil.MockPipelineRepo {
	byID := make(map[string]*domain.Pipeline, len(pipelines))
	for _, p := range pipelines {
		byID[p.ID] = p
	}
	return &testutil.MockPipelineRepo{
		GetByIDFn: func(_ context.Context, id string) (*domain.Pipeline, error) {
			p, ok := byID[id]
			if !ok {
				return nil, domain.ErrNotFound("pipeline %q not found", id)
			}
			cp := *p
			return &cp, nil
		},
		ListFn: func(_ context.Context, filter domain.PipelineFilter) ([]domain.Pipeline, int64, error) {
			var out []domain.Pipeline
			for _, p := range pipelines {
				if filter.Status == nil || p.Status == *filter.Status {
					out = append(out, *p)
				}
			}
			page, total := domain.Paginate(out, filter.Page)
			return page, total, nil
		},
	}
}

func TestScheduler_AddJob(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{now: schedNow}

	tests := []struct {
		name     string
		pipeline *domain.Pipeline
		wantNext time.Time
		wantErr  any
	}{
		{
			name:     "daily",
			pipeline: scheduledPipeline("p1", &domain.ScheduleConfig{Type: domain.ScheduleDaily}),
			wantNext: time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "cron wildcard",
			pipeline: scheduledPipeline("p2", &domain.ScheduleConfig{Type: domain.ScheduleCron, CronExpression: "* * * * *"}),
			wantNext: schedNow.Add(time.Minute),
		},
		{
			name:     "unsupported cron",
			pipeline: scheduledPipeline("p3", &domain.ScheduleConfig{Type: domain.ScheduleCron, CronExpression: "*/5 * * * *"}),
			wantErr:  &domain.SchedulingError{},
		},
		{
			name: "inactive pipeline",
			pipeline: func() *domain.Pipeline {
				p := scheduledPipeline("p4", &domain.ScheduleConfig{Type: domain.ScheduleHourly})
				p.Status = domain.PipelineStatusDraft
				return p
			}(),
			wantErr: &domain.ValidationError{},
		},
		{
			name:     "no schedule",
			pipeline: scheduledPipeline("p5", nil),
			wantErr:  &domain.ValidationError{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newTestScheduler(repoOf(), &fakeExecutor{}, clock)
			job, err := s.AddJob(tt.pipeline)
			if tt.wantErr != nil {
				require.Error(t, err)
				switch tt.wantErr.(type) {
				case *domain.SchedulingError:
					var target *domain.SchedulingError
					assert.ErrorAs(t, err, &target)
				case *domain.ValidationError:
					var target *domain.ValidationError
					assert.ErrorAs(t, err, &target)
				}
				assert.Empty(t, s.ListJobs())
				return
			}
			require.NoError(t, err)
			require.NotNil(t, job.NextRun)
			assert.Equal(t, tt.wantNext, *job.NextRun)
			assert.True(t, job.Enabled)
			assert.Len(t, s.ListJobs(), 1)
		})
	}
}

func TestScheduler_OnceJobRemovedAfterTrigger(t *testing.T) {
	t.Parallel()
	for _, fail := range []bool{false, true} {
		name := "trigger succeeds"
		if fail {
			name = "trigger fails"
		}
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			clock := &fakeClock{now: schedNow}
			p := scheduledPipeline("once", &domain.ScheduleConfig{Type: domain.ScheduleOnce})
			ex := &fakeExecutor{failed: fail}
			s := newTestScheduler(repoOf(p), ex, clock)

			_, err := s.AddJob(p)
			require.NoError(t, err)

			s.tick(context.Background())
			assert.Equal(t, 1, ex.count())
			_, ok := s.GetJob("once")
			assert.False(t, ok, "once job is removed after its trigger")

			clock.Set(schedNow.Add(time.Hour))
			s.tick(context.Background())
			assert.Equal(t, 1, ex.count(), "exactly one attempt")

			result := <-s.Triggers()
			assert.Equal(t, "once", result.PipelineID)
			if fail {
				var schedErr *domain.SchedulingError
				assert.ErrorAs(t, result.Err, &schedErr)
				assert.Empty(t, result.ExecutionID)
			} else {
				assert.NoError(t, result.Err)
				assert.Equal(t, "exec-once", result.ExecutionID)
			}
		})
	}
}

func TestScheduler_RecurringJobAdvances(t *testing.T) {
	t.Parallel()
	for _, fail := range []bool{false, true} {
		t.Run(map[bool]string{false: "trigger succeeds", true: "trigger fails"}[fail], func(t *testing.T) {
			t.Parallel()
			clock := &fakeClock{now: schedNow}
			p := scheduledPipeline("hourly", &domain.ScheduleConfig{Type: domain.ScheduleHourly})
			ex := &fakeExecutor{failed: fail}
			s := newTestScheduler(repoOf(p), ex, clock)

			_, err := s.AddJob(p)
			require.NoError(t, err)

			// Not due yet.
			s.tick(context.Background())
			assert.Equal(t, 0, ex.count())

			due := time.Date(2026, 3, 11, 11, 0, 0, 0, time.UTC)
			clock.Set(due)
			s.tick(context.Background())
			require.Equal(t, 1, ex.count())
			assert.Equal(t, domain.TriggerScheduler, ex.calls[0][domain.ParamTriggeredBy])

			job, ok := s.GetJob("hourly")
			require.True(t, ok, "recurring job stays registered")
			require.NotNil(t, job.LastRun)
			assert.Equal(t, due, *job.LastRun)
			require.NotNil(t, job.NextRun)
			assert.True(t, job.NextRun.After(due), "next run is strictly after the trigger time")
			assert.Equal(t, time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC), *job.NextRun)

			// Same instant again: nothing is due.
			s.tick(context.Background())
			assert.Equal(t, 1, ex.count())
		})
	}
}

func TestScheduler_RemovesStaleJobs(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{now: schedNow}
	end := schedNow.Add(30 * time.Minute)

	active := scheduledPipeline("active", &domain.ScheduleConfig{Type: domain.ScheduleHourly})
	inactive := scheduledPipeline("inactive", &domain.ScheduleConfig{Type: domain.ScheduleHourly})
	ending := scheduledPipeline("ending", &domain.ScheduleConfig{Type: domain.ScheduleHourly, EndTime: &end})
	gone := scheduledPipeline("gone", &domain.ScheduleConfig{Type: domain.ScheduleHourly})

	stored := *inactive
	stored.Status = domain.PipelineStatusInactive
	ex := &fakeExecutor{}
	s := newTestScheduler(repoOf(active, &stored, ending), ex, clock)
	for _, p := range []*domain.Pipeline{active, inactive, ending, gone} {
		_, err := s.AddJob(p)
		require.NoError(t, err)
	}

	clock.Set(time.Date(2026, 3, 11, 11, 0, 0, 0, time.UTC))
	s.tick(context.Background())

	assert.Equal(t, 1, ex.count(), "only the active pipeline triggers")
	jobs := s.ListJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "active", jobs[0].PipelineID)
}

func TestScheduler_EnableDisable(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{now: schedNow}
	p := scheduledPipeline("p", &domain.ScheduleConfig{Type: domain.ScheduleCron, CronExpression: "* * * * *"})
	ex := &fakeExecutor{}
	s := newTestScheduler(repoOf(p), ex, clock)
	_, err := s.AddJob(p)
	require.NoError(t, err)

	require.NoError(t, s.DisableJob("p"))
	clock.Set(schedNow.Add(2 * time.Minute))
	s.tick(context.Background())
	assert.Equal(t, 0, ex.count())

	require.NoError(t, s.EnableJob("p"))
	s.tick(context.Background())
	assert.Equal(t, 1, ex.count())

	var notFound *domain.NotFoundError
	require.ErrorAs(t, s.EnableJob("missing"), &notFound)
	require.ErrorAs(t, s.DisableJob("missing"), &notFound)
}

func TestScheduler_UpdateAndRemoveJob(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{now: schedNow}
	p := scheduledPipeline("p", &domain.ScheduleConfig{Type: domain.ScheduleDaily})
	s := newTestScheduler(repoOf(p), &fakeExecutor{}, clock)
	_, err := s.AddJob(p)
	require.NoError(t, err)

	p.Schedule = &domain.ScheduleConfig{Type: domain.ScheduleHourly}
	require.NoError(t, s.UpdateJob(p))
	job, ok := s.GetJob("p")
	require.True(t, ok)
	assert.Equal(t, domain.ScheduleHourly, job.Schedule.Type)
	assert.Equal(t, time.Date(2026, 3, 11, 11, 0, 0, 0, time.UTC), *job.NextRun)

	p.Status = domain.PipelineStatusInactive
	require.NoError(t, s.UpdateJob(p))
	_, ok = s.GetJob("p")
	assert.False(t, ok)

	assert.False(t, s.RemoveJob("p"))
}

func TestScheduler_ListJobsOrder(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{now: schedNow}
	s := newTestScheduler(repoOf(), &fakeExecutor{}, clock)
	for _, p := range []*domain.Pipeline{
		scheduledPipeline("daily", &domain.ScheduleConfig{Type: domain.ScheduleDaily}),
		scheduledPipeline("minute", &domain.ScheduleConfig{Type: domain.ScheduleCron, CronExpression: "* * * * *"}),
		scheduledPipeline("hourly", &domain.ScheduleConfig{Type: domain.ScheduleHourly}),
	} {
		_, err := s.AddJob(p)
		require.NoError(t, err)
	}

	jobs := s.ListJobs()
	require.Len(t, jobs, 3)
	assert.Equal(t, "minute", jobs[0].PipelineID)
	assert.Equal(t, "hourly", jobs[1].PipelineID)
	assert.Equal(t, "daily", jobs[2].PipelineID)
}

func TestScheduler_Start(t *testing.T) {
	t.Parallel()

	inactive := scheduledPipeline("inactive", &domain.ScheduleConfig{Type: domain.ScheduleDaily})
	inactive.Status = domain.PipelineStatusInactive

	tests := []struct {
		name      string
		repo      *testutil.MockPipelineRepo
		wantErr   bool
		wantCount int
	}{
		{
			name: "loads active scheduled pipelines",
			repo: repoOf(
				scheduledPipeline("a", &domain.ScheduleConfig{Type: domain.ScheduleDaily}),
				scheduledPipeline("b", nil),
				inactive,
			),
			wantCount: 1,
		},
		{
			name:      "empty repository",
			repo:      repoOf(),
			wantCount: 0,
		},
		{
			name: "repository error propagates",
			repo: &testutil.MockPipelineRepo{
				ListFn: func(context.Context, domain.PipelineFilter) ([]domain.Pipeline, int64, error) {
					return nil, 0, errors.New("connection refused")
				},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newTestScheduler(tt.repo, &fakeExecutor{}, &fakeClock{now: schedNow})
			t.Cleanup(s.Stop)

			err := s.Start(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, s.ListJobs(), tt.wantCount)
			require.Error(t, s.Start(context.Background()), "second start is rejected")
		})
	}
}

func TestScheduler_StartPagesThroughPipelines(t *testing.T) {
	t.Parallel()
	var pipelines []*domain.Pipeline
	for i := 0; i < domain.MaxMaxResults+5; i++ {
		pipelines = append(pipelines, scheduledPipeline(domain.NewID(), &domain.ScheduleConfig{Type: domain.ScheduleDaily}))
	}
	s := newTestScheduler(repoOf(pipelines...), &fakeExecutor{}, &fakeClock{now: schedNow})
	t.Cleanup(s.Stop)

	require.NoError(t, s.Start(context.Background()))
	assert.Len(t, s.ListJobs(), domain.MaxMaxResults+5)
}

func TestScheduler_TriggersEngine(t *testing.T) {
	t.Parallel()
	store := repository.NewMemoryStore()
	p := scheduledPipeline("", &domain.ScheduleConfig{Type: domain.ScheduleOnce})
	p.ID = ""
	created, err := store.Create(context.Background(), p)
	require.NoError(t, err)

	e, _ := newTestEngine(t, okExecutor(), 1, EngineOptions{})
	clock := &fakeClock{now: schedNow}
	s := NewScheduler(store, e, recurrence.NewCalculator(nil, discardLogger()),
		SchedulerOptions{Clock: clock.Now, CheckInterval: 10 * time.Millisecond}, discardLogger())

	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)

	var result TriggerResult
	select {
	case result = <-s.Triggers():
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not trigger")
	}
	require.NoError(t, result.Err)
	assert.Equal(t, created.ID, result.PipelineID)

	require.Eventually(t, func() bool {
		exec, err := e.executions.GetByID(context.Background(), result.ExecutionID)
		return err == nil && exec.Status == domain.ExecutionCompleted
	}, 5*time.Second, 10*time.Millisecond)

	exec, err := e.executions.GetByID(context.Background(), result.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, domain.TriggerScheduler, exec.TriggeredBy)
	assert.Eventually(t, func() bool { return len(s.ListJobs()) == 0 }, 5*time.Second, 10*time.Millisecond)
}
