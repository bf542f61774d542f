package pipeline

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// Sink receives the resources that made it through all stages
type Sink interface {
	// Write stores res and returns the location it was written to
	Write(ctx context.Context, res *Resource) (string, error)
}

// DirSink writes every resource to Dir/Name
type DirSink struct {
	Dir string
	// DryRun only computes the destination
	DryRun bool
}

// Write implements Sink
func (s DirSink) Write(ctx context.Context, res *Resource) (string, error) {
	dest := filepath.Join(s.Dir, filepath.FromSlash(res.Name))
	if s.DryRun {
		return dest, nil
	}

	err := os.MkdirAll(filepath.Dir(dest), 0755)
	if err != nil {
		return "", eris.Wrapf(err, "failed to create directory for %s", dest)
	}

	err = ioutil.WriteFile(dest, res.Contents, 0644)
	if err != nil {
		return "", eris.Wrapf(err, "failed to write %s", dest)
	}

	return dest, nil
}
