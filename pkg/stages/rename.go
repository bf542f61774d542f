package stages

import (
	"context"
	"path"

	"github.com/rotisserie/eris"

	"github.com/ngld/assetsys/pkg/pipeline"
)

type renameStage struct {
	name string
}

// Rename replaces the output name of every resource. A name without a slash keeps the resource's directory.
func Rename(name string) (pipeline.Transformer, error) {
	if name == "" {
		return nil, eris.New("rename needs a non-empty name")
	}

	return renameStage{name: name}, nil
}

func (s renameStage) Name() string { return "rename" }

func (s renameStage) Transform(ctx context.Context, res *pipeline.Resource) (*pipeline.Resource, error) {
	out := res.Clone()
	out.Name = path.Join(path.Dir(res.Name), s.name)
	return out, nil
}
