package domain

import (
	"encoding/json"
	"time"
)

// PipelineStatus is the lifecycle state of a pipeline definition.
type PipelineStatus string

// Pipeline status constants.
const (
	PipelineStatusDraft    PipelineStatus = "draft"
	PipelineStatusActive   PipelineStatus = "active"
	PipelineStatusInactive PipelineStatus = "inactive"
	PipelineStatusDeleted  PipelineStatus = "deleted"
)

// Valid reports whether s is a known pipeline status.
func (s PipelineStatus) Valid() bool {
	switch s {
	case PipelineStatusDraft, PipelineStatusActive, PipelineStatusInactive, PipelineStatusDeleted:
		return true
	}
	return false
}

// StepKind tags which operation a step performs.
type StepKind string

// Step kinds.
const (
	StepKindLoad      StepKind = "load"
	StepKindTransform StepKind = "transform"
	StepKindFilter    StepKind = "filter"
	StepKindAggregate StepKind = "aggregate"
	StepKindJoin      StepKind = "join"
	StepKindSave      StepKind = "save"
)

// DataFormat is a file format understood by Load and Save steps.
type DataFormat string

// Supported data formats.
const (
	FormatCSV     DataFormat = "csv"
	FormatJSON    DataFormat = "json"
	FormatParquet DataFormat = "parquet"
	FormatXLSX    DataFormat = "xlsx"
)

// Valid reports whether f is a known data format.
func (f DataFormat) Valid() bool {
	switch f {
	case FormatCSV, FormatJSON, FormatParquet, FormatXLSX:
		return true
	}
	return false
}

// Step defaults applied when a definition omits them.
const (
	DefaultMaxRetries = 3
	DefaultJoinType   = "inner"
)

// Step is one unit of work inside a pipeline. Kind selects which payload
// pointer is populated; exactly one of them must be non-nil.
type Step struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	Kind           StepKind `json:"type"`
	Enabled        bool     `json:"enabled"`
	RetryOnFailure bool     `json:"retry_on_failure"`
	MaxRetries     int      `json:"max_retries"`

	Load      *LoadSpec      `json:"load,omitempty"`
	Transform *TransformSpec `json:"transform,omitempty"`
	Filter    *FilterSpec    `json:"filter,omitempty"`
	Aggregate *AggregateSpec `json:"aggregate,omitempty"`
	Join      *JoinSpec      `json:"join,omitempty"`
	Save      *SaveSpec      `json:"save,omitempty"`
}

// NewStep returns a step of the given kind with the default retry policy.
func NewStep(name string, kind StepKind) Step {
	return Step{
		ID:             NewID(),
		Name:           name,
		Kind:           kind,
		Enabled:        true,
		RetryOnFailure: true,
		MaxRetries:     DefaultMaxRetries,
	}
}

// UnmarshalJSON decodes a step, defaulting enabled, retry_on_failure and
// max_retries when they are absent from the document.
func (s *Step) UnmarshalJSON(data []byte) error {
	type stepAlias Step
	aux := stepAlias{
		Enabled:        true,
		RetryOnFailure: true,
		MaxRetries:     DefaultMaxRetries,
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*s = Step(aux)
	return nil
}

// payloadCount returns how many variant payloads are set.
func (s *Step) payloadCount() int {
	n := 0
	for _, set := range []bool{s.Load != nil, s.Transform != nil, s.Filter != nil, s.Aggregate != nil, s.Join != nil, s.Save != nil} {
		if set {
			n++
		}
	}
	return n
}

// LoadSpec reads a file into a new dataset.
type LoadSpec struct {
	Path    string         `json:"source_path" yaml:"source_path"`
	Format  DataFormat     `json:"format" yaml:"format"`
	Options map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
}

// TransformSpec applies an ordered list of column operations. When Input is
// empty the first dataset in the run context is used.
type TransformSpec struct {
	Input      string               `json:"input,omitempty" yaml:"input,omitempty"`
	Operations []TransformOperation `json:"operations" yaml:"operations"`
}

// TransformOperation is one transformation. Which fields apply depends on Type:
//
//	rename_columns  Mapping (old -> new)
//	add_column      Name, Expression
//	drop_columns    Columns
//	convert_types   Mapping (column -> SQL type)
//	fill_na         Value or Method (forward, backward), Columns (optional)
//	sort            Columns, Ascending
//	reset_index     (none)
type TransformOperation struct {
	Type       string            `json:"type" yaml:"type"`
	Mapping    map[string]string `json:"mapping,omitempty" yaml:"mapping,omitempty"`
	Name       string            `json:"name,omitempty" yaml:"name,omitempty"`
	Expression string            `json:"expression,omitempty" yaml:"expression,omitempty"`
	Columns    []string          `json:"columns,omitempty" yaml:"columns,omitempty"`
	Value      any               `json:"value,omitempty" yaml:"value,omitempty"`
	Method     string            `json:"method,omitempty" yaml:"method,omitempty"`
	Ascending  *bool             `json:"ascending,omitempty" yaml:"ascending,omitempty"`
}

// FilterSpec keeps rows matching every condition.
type FilterSpec struct {
	Input      string            `json:"input,omitempty" yaml:"input,omitempty"`
	Conditions []FilterCondition `json:"conditions" yaml:"conditions"`
}

// FilterCondition is one row predicate.
type FilterCondition struct {
	Type       string `json:"type" yaml:"type"`
	Column     string `json:"column,omitempty" yaml:"column,omitempty"`
	Value      any    `json:"value,omitempty" yaml:"value,omitempty"`
	Values     []any  `json:"values,omitempty" yaml:"values,omitempty"`
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`
}

// AggregateSpec groups a dataset. Aggregations maps column name to function
// (count, sum, mean, min, max, std).
type AggregateSpec struct {
	Input        string            `json:"input,omitempty" yaml:"input,omitempty"`
	GroupBy      []string          `json:"group_by" yaml:"group_by"`
	Aggregations map[string]string `json:"aggregations" yaml:"aggregations"`
}

// JoinSpec joins the left dataset (first in context unless Left is set) with
// the named Right dataset.
type JoinSpec struct {
	Left     string   `json:"left_dataset,omitempty" yaml:"left_dataset,omitempty"`
	Right    string   `json:"right_dataset" yaml:"right_dataset"`
	LeftOn   []string `json:"left_on" yaml:"left_on"`
	RightOn  []string `json:"right_on" yaml:"right_on"`
	JoinType string   `json:"join_type,omitempty" yaml:"join_type,omitempty"`
}

// SaveSpec writes a dataset (most recent in context unless Input is set).
type SaveSpec struct {
	Input   string         `json:"input,omitempty" yaml:"input,omitempty"`
	Path    string         `json:"output_path" yaml:"output_path"`
	Format  DataFormat     `json:"format" yaml:"format"`
	Options map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
}

// Pipeline is a named, ordered list of steps plus optional recurrence.
type Pipeline struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Status      PipelineStatus  `json:"status"`
	Steps       []Step          `json:"steps"`
	Schedule    *ScheduleConfig `json:"schedule,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
	CreatedBy   string          `json:"created_by,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// IsSchedulable reports whether the pipeline belongs in the scheduler registry.
func (p *Pipeline) IsSchedulable() bool {
	return p.Status == PipelineStatusActive && p.Schedule != nil
}

// EnabledSteps returns the steps that will run, in declared order.
func (p *Pipeline) EnabledSteps() []Step {
	out := make([]Step, 0, len(p.Steps))
	for _, s := range p.Steps {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks that the pipeline definition is well-formed.
func (p *Pipeline) Validate() error {
	if p.Name == "" {
		return ErrValidation("name is required")
	}
	if len(p.Steps) == 0 {
		return ErrValidation("pipeline %q must have at least one step", p.Name)
	}
	seen := make(map[string]bool, len(p.Steps))
	for i := range p.Steps {
		s := &p.Steps[i]
		if err := s.Validate(); err != nil {
			return err
		}
		if seen[s.Name] {
			return ErrValidation("duplicate step name %q", s.Name)
		}
		seen[s.Name] = true
	}
	if p.Schedule != nil {
		if err := p.Schedule.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks a single step definition.
func (s *Step) Validate() error {
	if s.Name == "" {
		return ErrValidation("step name is required")
	}
	if s.MaxRetries < 0 {
		return ErrValidation("step %q: max_retries must be non-negative", s.Name)
	}
	if s.payloadCount() != 1 {
		return ErrValidation("step %q: exactly one %s payload is required", s.Name, s.Kind)
	}
	switch s.Kind {
	case StepKindLoad:
		if s.Load == nil {
			return ErrValidation("step %q: load payload is required", s.Name)
		}
		if s.Load.Path == "" {
			return ErrValidation("step %q: source_path is required", s.Name)
		}
		if !s.Load.Format.Valid() {
			return ErrValidation("step %q: unsupported format %q", s.Name, s.Load.Format)
		}
	case StepKindTransform:
		if s.Transform == nil || len(s.Transform.Operations) == 0 {
			return ErrValidation("step %q: at least one operation is required", s.Name)
		}
		for i, op := range s.Transform.Operations {
			if op.Type != "fill_na" || op.Value != nil {
				continue
			}
			switch op.Method {
			case "forward", "ffill", "pad", "backward", "bfill", "backfill":
			case "":
				return ErrValidation("step %q: operation %d: fill_na requires value or method", s.Name, i)
			default:
				return ErrValidation("step %q: operation %d: unknown fill_na method %q", s.Name, i, op.Method)
			}
		}
	case StepKindFilter:
		if s.Filter == nil || len(s.Filter.Conditions) == 0 {
			return ErrValidation("step %q: at least one condition is required", s.Name)
		}
	case StepKindAggregate:
		if s.Aggregate == nil || len(s.Aggregate.Aggregations) == 0 {
			return ErrValidation("step %q: at least one aggregation is required", s.Name)
		}
	case StepKindJoin:
		if s.Join == nil || s.Join.Right == "" {
			return ErrValidation("step %q: right_dataset is required", s.Name)
		}
		if len(s.Join.LeftOn) == 0 || len(s.Join.LeftOn) != len(s.Join.RightOn) {
			return ErrValidation("step %q: left_on and right_on must be non-empty and of equal length", s.Name)
		}
		switch s.Join.JoinType {
		case "", "inner", "left", "right", "outer":
		default:
			return ErrValidation("step %q: unknown join type %q", s.Name, s.Join.JoinType)
		}
	case StepKindSave:
		if s.Save == nil {
			return ErrValidation("step %q: save payload is required", s.Name)
		}
		if s.Save.Path == "" {
			return ErrValidation("step %q: output_path is required", s.Name)
		}
		if !s.Save.Format.Valid() {
			return ErrValidation("step %q: unsupported format %q", s.Name, s.Save.Format)
		}
	default:
		return ErrValidation("step %q: unknown step type %q", s.Name, s.Kind)
	}
	return nil
}

// CreatePipelineRequest holds parameters for creating a pipeline.
type CreatePipelineRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Steps       []Step          `json:"steps"`
	Schedule    *ScheduleConfig `json:"schedule,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
}

// UpdatePipelineRequest holds partial-update parameters for a pipeline.
// Nil fields are left unchanged.
type UpdatePipelineRequest struct {
	Name        *string         `json:"name,omitempty"`
	Description *string         `json:"description,omitempty"`
	Steps       []Step          `json:"steps,omitempty"`
	Schedule    *ScheduleConfig `json:"schedule,omitempty"`
	Status      *PipelineStatus `json:"status,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
}

// PipelineFilter holds filter parameters for listing pipelines.
type PipelineFilter struct {
	Status *PipelineStatus
	Page   PageRequest
}
