package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"duckflow/internal/domain"
)

// runContext is the mutable state of one run: datasets produced so far,
// keyed by step name in production order, plus the run parameters.
//
// Inputs left unnamed resolve positionally. Transform, Filter, Aggregate and
// the left side of Join take the first dataset; Save takes the most recent.
// Adding a load step in front of a pipeline therefore changes what every
// unnamed step reads.
type runContext struct {
	params   map[string]string
	order    []string
	datasets map[string]*domain.Dataset
	outputs  []string
}

func newRunContext(params map[string]string) *runContext {
	cp := make(map[string]string, len(params))
	for k, v := range params {
		cp[k] = v
	}
	return &runContext{
		params:   cp,
		datasets: make(map[string]*domain.Dataset),
	}
}

// put stores ds under name. Re-storing a name keeps its original position.
func (rc *runContext) put(name string, ds *domain.Dataset) {
	if _, ok := rc.datasets[name]; !ok {
		rc.order = append(rc.order, name)
	}
	rc.datasets[name] = ds
}

func (rc *runContext) get(name string) (*domain.Dataset, error) {
	ds, ok := rc.datasets[name]
	if !ok {
		return nil, fmt.Errorf("dataset %q is not available in this run", name)
	}
	return ds, nil
}

func (rc *runContext) first() (*domain.Dataset, error) {
	if len(rc.order) == 0 {
		return nil, fmt.Errorf("no input data available")
	}
	return rc.datasets[rc.order[0]], nil
}

func (rc *runContext) last() (*domain.Dataset, error) {
	if len(rc.order) == 0 {
		return nil, fmt.Errorf("no data available to save")
	}
	return rc.datasets[rc.order[len(rc.order)-1]], nil
}

// input returns the named dataset, or the positional fallback when name is empty.
func (rc *runContext) input(name string, fallback func() (*domain.Dataset, error)) (*domain.Dataset, error) {
	if name != "" {
		return rc.get(name)
	}
	return fallback()
}

// expand substitutes ${key} references with run parameters. Unknown keys are
// left untouched.
func (rc *runContext) expand(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			break
		}
		end := strings.IndexByte(s[start:], '}')
		if end < 0 {
			break
		}
		key := s[start+2 : start+end]
		b.WriteString(s[:start])
		if v, ok := rc.params[key]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[start : start+end+1])
		}
		s = s[start+end+1:]
	}
	b.WriteString(s)
	return b.String()
}

// release frees every dataset of the run.
func (rc *runContext) release(ctx context.Context, r domain.DatasetReleaser, logger *slog.Logger) {
	if r == nil {
		return
	}
	for _, name := range rc.order {
		ds := rc.datasets[name]
		if ds == nil {
			continue
		}
		if err := r.Release(ctx, ds); err != nil {
			logger.Warn("release dataset", "dataset", name, "error", err)
		}
	}
}
