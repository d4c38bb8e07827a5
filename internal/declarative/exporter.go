package declarative

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"duckflow/internal/domain"
)

// FromPipeline builds the document describing p.
func FromPipeline(p *domain.Pipeline) *PipelineDoc {
	steps := make([]StepSpec, len(p.Steps))
	for i, s := range p.Steps {
		enabled, retry, maxRetries := s.Enabled, s.RetryOnFailure, s.MaxRetries
		steps[i] = StepSpec{
			Name:           s.Name,
			Description:    s.Description,
			Type:           s.Kind,
			Enabled:        &enabled,
			RetryOnFailure: &retry,
			MaxRetries:     &maxRetries,
			Load:           s.Load,
			Transform:      s.Transform,
			Filter:         s.Filter,
			Aggregate:      s.Aggregate,
			Join:           s.Join,
			Save:           s.Save,
		}
	}
	return &PipelineDoc{
		APIVersion: SupportedAPIVersion,
		Kind:       KindPipeline,
		Metadata: Metadata{
			Name:        p.Name,
			Description: p.Description,
			Labels:      p.Metadata,
		},
		Spec: PipelineSpec{Schedule: p.Schedule, Steps: steps},
	}
}

// Export renders pipelines as a multi-document YAML stream.
func Export(pipelines ...*domain.Pipeline) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	for _, p := range pipelines {
		if err := enc.Encode(FromPipeline(p)); err != nil {
			return nil, fmt.Errorf("encode pipeline %q: %w", p.Name, err)
		}
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
