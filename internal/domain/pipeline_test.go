package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadStep(name string) Step {
	s := NewStep(name, StepKindLoad)
	s.Load = &LoadSpec{Path: "in.csv", Format: FormatCSV}
	return s
}

func saveStep(name string) Step {
	s := NewStep(name, StepKindSave)
	s.Save = &SaveSpec{Path: "out.parquet", Format: FormatParquet}
	return s
}

func TestPipeline_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *Pipeline)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid load and save",
			mutate:  func(p *Pipeline) {},
			wantErr: false,
		},
		{
			name:    "empty name",
			mutate:  func(p *Pipeline) { p.Name = "" },
			wantErr: true,
			errMsg:  "name is required",
		},
		{
			name:    "no steps",
			mutate:  func(p *Pipeline) { p.Steps = nil },
			wantErr: true,
			errMsg:  "at least one step",
		},
		{
			name:    "duplicate step names",
			mutate:  func(p *Pipeline) { p.Steps[1].Name = "load" },
			wantErr: true,
			errMsg:  "duplicate step name",
		},
		{
			name:    "negative max retries",
			mutate:  func(p *Pipeline) { p.Steps[0].MaxRetries = -1 },
			wantErr: true,
			errMsg:  "max_retries must be non-negative",
		},
		{
			name: "kind does not match payload",
			mutate: func(p *Pipeline) {
				p.Steps[0].Kind = StepKindFilter
			},
			wantErr: true,
			errMsg:  "at least one condition",
		},
		{
			name: "two payloads",
			mutate: func(p *Pipeline) {
				p.Steps[0].Save = &SaveSpec{Path: "x.csv", Format: FormatCSV}
			},
			wantErr: true,
			errMsg:  "exactly one",
		},
		{
			name:    "unknown format",
			mutate:  func(p *Pipeline) { p.Steps[0].Load.Format = "xml" },
			wantErr: true,
			errMsg:  "unsupported format",
		},
		{
			name: "join with mismatched keys",
			mutate: func(p *Pipeline) {
				j := NewStep("join", StepKindJoin)
				j.Join = &JoinSpec{Right: "load", LeftOn: []string{"a", "b"}, RightOn: []string{"a"}}
				p.Steps = append(p.Steps, j)
			},
			wantErr: true,
			errMsg:  "equal length",
		},
		{
			name: "join with unknown type",
			mutate: func(p *Pipeline) {
				j := NewStep("join", StepKindJoin)
				j.Join = &JoinSpec{Right: "load", LeftOn: []string{"a"}, RightOn: []string{"a"}, JoinType: "cross"}
				p.Steps = append(p.Steps, j)
			},
			wantErr: true,
			errMsg:  "unknown join type",
		},
		{
			name: "fill_na with method",
			mutate: func(p *Pipeline) {
				tr := NewStep("fill", StepKindTransform)
				tr.Transform = &TransformSpec{Operations: []TransformOperation{{Type: "fill_na", Method: "forward"}}}
				p.Steps = append(p.Steps, tr)
			},
			wantErr: false,
		},
		{
			name: "fill_na without value or method",
			mutate: func(p *Pipeline) {
				tr := NewStep("fill", StepKindTransform)
				tr.Transform = &TransformSpec{Operations: []TransformOperation{{Type: "fill_na"}}}
				p.Steps = append(p.Steps, tr)
			},
			wantErr: true,
			errMsg:  "requires value or method",
		},
		{
			name: "fill_na with unknown method",
			mutate: func(p *Pipeline) {
				tr := NewStep("fill", StepKindTransform)
				tr.Transform = &TransformSpec{Operations: []TransformOperation{{Type: "fill_na", Method: "interpolate"}}}
				p.Steps = append(p.Steps, tr)
			},
			wantErr: true,
			errMsg:  "unknown fill_na method",
		},
		{
			name: "invalid schedule",
			mutate: func(p *Pipeline) {
				p.Schedule = &ScheduleConfig{Type: ScheduleCron, CronExpression: "* * *"}
			},
			wantErr: true,
			errMsg:  "5 fields",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Pipeline{Name: "etl", Steps: []Step{loadStep("load"), saveStep("save")}}
			tt.mutate(p)
			err := p.Validate()
			if tt.wantErr {
				require.Error(t, err)
				var valErr *ValidationError
				require.ErrorAs(t, err, &valErr)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestScheduleConfig_Validate(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	before := start.Add(-time.Hour)

	tests := []struct {
		name    string
		cfg     ScheduleConfig
		wantErr bool
		errMsg  string
	}{
		{name: "daily", cfg: ScheduleConfig{Type: ScheduleDaily, Interval: intPtr(2)}},
		{name: "cron five fields", cfg: ScheduleConfig{Type: ScheduleCron, CronExpression: "30 2 * * *"}},
		{name: "cron missing expression", cfg: ScheduleConfig{Type: ScheduleCron}, wantErr: true, errMsg: "cron_expression is required"},
		{name: "cron six fields", cfg: ScheduleConfig{Type: ScheduleCron, CronExpression: "0 30 2 * * *"}, wantErr: true, errMsg: "5 fields"},
		{name: "zero interval", cfg: ScheduleConfig{Type: ScheduleHourly, Interval: intPtr(0)}, wantErr: true, errMsg: "interval must be positive"},
		{name: "end before start", cfg: ScheduleConfig{Type: ScheduleOnce, StartTime: &start, EndTime: &before}, wantErr: true, errMsg: "end_time must be after"},
		{name: "unknown type", cfg: ScheduleConfig{Type: "yearly"}, wantErr: true, errMsg: "unknown schedule type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestStep_UnmarshalJSONDefaults(t *testing.T) {
	var s Step
	require.NoError(t, json.Unmarshal([]byte(`{"name":"l","type":"load","load":{"source_path":"a.csv","format":"csv"}}`), &s))
	assert.True(t, s.Enabled)
	assert.True(t, s.RetryOnFailure)
	assert.Equal(t, DefaultMaxRetries, s.MaxRetries)

	require.NoError(t, json.Unmarshal([]byte(`{"name":"l","type":"load","enabled":false,"max_retries":0}`), &s))
	assert.False(t, s.Enabled)
	assert.Equal(t, 0, s.MaxRetries)
}

func TestPipeline_EnabledSteps(t *testing.T) {
	disabled := saveStep("skip")
	disabled.Enabled = false
	p := Pipeline{Steps: []Step{loadStep("a"), disabled, saveStep("b")}}

	got := p.EnabledSteps()
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Name)
	assert.Equal(t, "b", got[1].Name)
}

func TestExecution_CloneIsDeep(t *testing.T) {
	e := &Execution{
		Parameters: map[string]string{"k": "v"},
		Steps:      []StepExecution{{StepName: "a", Output: map[string]any{"rows": 1}}},
		Logs:       []string{"started"},
	}
	c := e.Clone()
	c.Parameters["k"] = "changed"
	c.Steps[0].Output["rows"] = 2
	c.Logs[0] = "changed"

	assert.Equal(t, "v", e.Parameters["k"])
	assert.Equal(t, 1, e.Steps[0].Output["rows"])
	assert.Equal(t, "started", e.Logs[0])
}

func TestExecution_Finish(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	e := &Execution{StartTime: &start}
	e.Finish(ExecutionCompleted, start.Add(90*time.Second))

	assert.Equal(t, ExecutionCompleted, e.Status)
	require.NotNil(t, e.Duration)
	assert.InDelta(t, 90.0, *e.Duration, 0.001)
	assert.True(t, e.Status.Terminal())
}

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	page, total := Paginate(items, PageRequest{MaxResults: 2})
	assert.Equal(t, []int{1, 2}, page)
	assert.Equal(t, int64(5), total)

	token := NextPageToken(0, 2, total)
	page, _ = Paginate(items, PageRequest{MaxResults: 2, PageToken: token})
	assert.Equal(t, []int{3, 4}, page)

	page, _ = Paginate(items, PageRequest{PageToken: NextPageToken(8, 2, 100)})
	assert.Empty(t, page)
}

func intPtr(n int) *int { return &n }
