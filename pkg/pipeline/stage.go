package pipeline

import (
	"context"
)

// Stage is a single step of a pipeline. Every stage implements Transformer or Aggregator.
type Stage interface {
	Name() string
}

// Transformer processes one resource at a time. Returning a nil resource without an error drops it.
type Transformer interface {
	Stage
	Transform(ctx context.Context, res *Resource) (*Resource, error)
}

// Aggregator needs the complete stream. The runner passes the input sorted by Resource.Index.
type Aggregator interface {
	Stage
	Aggregate(ctx context.Context, resources []*Resource) ([]*Resource, error)
}

type fatalMarker interface {
	fatal() bool
}

type fatalTransformer struct {
	Transformer
}

func (fatalTransformer) fatal() bool { return true }

type fatalAggregator struct {
	Aggregator
}

func (fatalAggregator) fatal() bool { return true }

// Fatal marks a stage as non-recoverable: an error aborts the whole pipeline run instead of only
// dropping the affected resource.
func Fatal(stage Stage) Stage {
	switch value := stage.(type) {
	case Transformer:
		return fatalTransformer{value}
	case Aggregator:
		return fatalAggregator{value}
	default:
		return stage
	}
}

// IsFatal reports whether stage was wrapped with Fatal
func IsFatal(stage Stage) bool {
	marker, ok := stage.(fatalMarker)
	return ok && marker.fatal()
}

type transformFunc struct {
	name string
	fn   func(context.Context, *Resource) (*Resource, error)
}

func (t transformFunc) Name() string { return t.name }

func (t transformFunc) Transform(ctx context.Context, res *Resource) (*Resource, error) {
	return t.fn(ctx, res)
}

// TransformFunc turns a function into a Transformer
func TransformFunc(name string, fn func(context.Context, *Resource) (*Resource, error)) Transformer {
	return transformFunc{name: name, fn: fn}
}
