package declarative

import (
	"duckflow/internal/domain"
)

// SupportedAPIVersion is the current API version for pipeline documents.
const SupportedAPIVersion = "duckflow/v1"

// KindPipeline is the only document kind understood by the loader.
const KindPipeline = "Pipeline"

// PipelineDoc is one YAML pipeline definition.
//
//	apiVersion: duckflow/v1
//	kind: Pipeline
//	metadata:
//	  name: daily-sales
//	spec:
//	  schedule: {type: daily}
//	  steps:
//	    - name: load
//	      type: load
//	      load: {source_path: sales.csv, format: csv}
type PipelineDoc struct {
	APIVersion string       `yaml:"apiVersion"`
	Kind       string       `yaml:"kind"`
	Metadata   Metadata     `yaml:"metadata"`
	Spec       PipelineSpec `yaml:"spec"`

	// Source is the file the document was read from, if any.
	Source string `yaml:"-"`
}

// Metadata identifies a pipeline document.
type Metadata struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description,omitempty"`
	Labels      map[string]any `yaml:"labels,omitempty"`
}

// PipelineSpec holds the schedule and steps of a pipeline.
type PipelineSpec struct {
	Schedule *domain.ScheduleConfig `yaml:"schedule,omitempty"`
	Steps    []StepSpec             `yaml:"steps"`
}

// StepSpec is the YAML shape of a step. Omitted enabled, retry_on_failure
// and max_retries take the step defaults.
type StepSpec struct {
	Name           string          `yaml:"name"`
	Description    string          `yaml:"description,omitempty"`
	Type           domain.StepKind `yaml:"type"`
	Enabled        *bool           `yaml:"enabled,omitempty"`
	RetryOnFailure *bool           `yaml:"retry_on_failure,omitempty"`
	MaxRetries     *int            `yaml:"max_retries,omitempty"`

	Load      *domain.LoadSpec      `yaml:"load,omitempty"`
	Transform *domain.TransformSpec `yaml:"transform,omitempty"`
	Filter    *domain.FilterSpec    `yaml:"filter,omitempty"`
	Aggregate *domain.AggregateSpec `yaml:"aggregate,omitempty"`
	Join      *domain.JoinSpec      `yaml:"join,omitempty"`
	Save      *domain.SaveSpec      `yaml:"save,omitempty"`
}

// Step converts the spec into a domain step with a fresh id.
func (s StepSpec) Step() domain.Step {
	step := domain.NewStep(s.Name, s.Type)
	step.Description = s.Description
	if s.Enabled != nil {
		step.Enabled = *s.Enabled
	}
	if s.RetryOnFailure != nil {
		step.RetryOnFailure = *s.RetryOnFailure
	}
	if s.MaxRetries != nil {
		step.MaxRetries = *s.MaxRetries
	}
	step.Load = s.Load
	step.Transform = s.Transform
	step.Filter = s.Filter
	step.Aggregate = s.Aggregate
	step.Join = s.Join
	step.Save = s.Save
	return step
}

// CreateRequest converts the document into a create request.
func (d *PipelineDoc) CreateRequest() domain.CreatePipelineRequest {
	steps := make([]domain.Step, len(d.Spec.Steps))
	for i, s := range d.Spec.Steps {
		steps[i] = s.Step()
	}
	return domain.CreatePipelineRequest{
		Name:        d.Metadata.Name,
		Description: d.Metadata.Description,
		Steps:       steps,
		Schedule:    d.Spec.Schedule,
		Metadata:    d.Metadata.Labels,
	}
}

// Pipeline converts the document into an unsaved active pipeline, the form
// used by in-process runs.
func (d *PipelineDoc) Pipeline() *domain.Pipeline {
	req := d.CreateRequest()
	return &domain.Pipeline{
		ID:          domain.NewID(),
		Name:        req.Name,
		Description: req.Description,
		Status:      domain.PipelineStatusActive,
		Steps:       req.Steps,
		Schedule:    req.Schedule,
		Metadata:    req.Metadata,
	}
}
