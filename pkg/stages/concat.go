package stages

import (
	"bytes"
	"context"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/ngld/assetsys/pkg/pipeline"
)

type concatStage struct {
	name string
	sep  []byte
}

// Concat joins all resources into a single one named name. The input order is kept.
func Concat(name, sep string) (pipeline.Aggregator, error) {
	if name == "" {
		return nil, eris.New("concat needs an output name")
	}

	return concatStage{name: name, sep: []byte(sep)}, nil
}

func (s concatStage) Name() string { return "concat" }

func (s concatStage) Aggregate(ctx context.Context, resources []*pipeline.Resource) ([]*pipeline.Resource, error) {
	if len(resources) == 0 {
		return nil, nil
	}

	parts := make([][]byte, len(resources))
	for idx, res := range resources {
		parts[idx] = res.Contents
	}

	first := resources[0]
	return []*pipeline.Resource{{
		Path:     filepath.Join(first.Base, filepath.FromSlash(s.name)),
		Base:     first.Base,
		Name:     s.name,
		Contents: bytes.Join(parts, s.sep),
		Index:    first.Index,
	}}, nil
}
