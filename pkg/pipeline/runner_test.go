package pipeline

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/require"
)

type joinStage struct{}

func (joinStage) Name() string { return "join" }

func (joinStage) Aggregate(ctx context.Context, resources []*Resource) ([]*Resource, error) {
	parts := make([][]byte, len(resources))
	for idx, res := range resources {
		parts[idx] = res.Contents
	}

	return []*Resource{{
		Path:     filepath.Join(resources[0].Base, "all.js"),
		Base:     resources[0].Base,
		Name:     "all.js",
		Contents: bytes.Join(parts, []byte(",")),
	}}, nil
}

func upper() Transformer {
	return TransformFunc("upper", func(ctx context.Context, res *Resource) (*Resource, error) {
		out := res.Clone()
		out.Contents = bytes.ToUpper(res.Contents)
		return out, nil
	})
}

func newRunnerFixture(t *testing.T) string {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"src/js/a.js":     "a",
		"src/js/b.js":     "b",
		"src/js/c.js":     "c",
		"src/js/d.js":     "d",
		"src/js/lib/e.js": "e",
	})

	return root
}

func TestRunnerPassThroughCopy(t *testing.T) {
	root := newRunnerFixture(t)
	out := filepath.Join(root, "app")

	result, err := NewRunner(root, 2, false).Run(testContext(), &Spec{
		Sources: []string{"src/js/**/*.js"},
		Dest:    out,
	})
	require.NoError(t, err)
	require.False(t, result.Failed())
	require.Equal(t, 5, result.Matched)

	want := []string{"a.js", "b.js", "c.js", "d.js", "lib/e.js"}
	if diff := cmp.Diff(want, result.Rel(out)); diff != "" {
		t.Errorf("unexpected outputs (-want +got):\n%s", diff)
	}

	require.Equal(t, "e", readFile(t, filepath.Join(out, "lib", "e.js")))
}

func TestRunnerTransformsEveryResource(t *testing.T) {
	root := newRunnerFixture(t)
	out := filepath.Join(root, "app")

	result, err := NewRunner(root, 4, false).Run(testContext(), &Spec{
		Sources: []string{"src/js/*.js"},
		Stages:  []Stage{upper()},
		Dest:    out,
	})
	require.NoError(t, err)
	require.Len(t, result.Outputs, 4)
	require.Equal(t, "C", readFile(t, filepath.Join(out, "c.js")))
}

func TestRunnerAggregateKeepsMatcherOrder(t *testing.T) {
	root := newRunnerFixture(t)
	out := filepath.Join(root, "app")

	// earlier resources finish later so completion order is the reverse of the matcher order
	slow := TransformFunc("slow", func(ctx context.Context, res *Resource) (*Resource, error) {
		time.Sleep(time.Duration(4-res.Index) * 15 * time.Millisecond)
		return res, nil
	})

	for i := 0; i < 3; i++ {
		result, err := NewRunner(root, 4, false).Run(testContext(), &Spec{
			Sources: []string{"src/js/*.js"},
			Stages:  []Stage{slow, upper(), joinStage{}},
			Dest:    out,
		})
		require.NoError(t, err)
		require.Equal(t, []string{filepath.Join(out, "all.js")}, result.Outputs)
		require.Equal(t, "A,B,C,D", readFile(t, filepath.Join(out, "all.js")))
	}
}

func TestRunnerRecoverableFailure(t *testing.T) {
	root := newRunnerFixture(t)
	out := filepath.Join(root, "app")

	failB := TransformFunc("compile", func(ctx context.Context, res *Resource) (*Resource, error) {
		if res.Name == "b.js" {
			return nil, eris.New("syntax error")
		}
		return res, nil
	})

	result, err := NewRunner(root, 2, false).Run(testContext(), &Spec{
		Sources: []string{"src/js/*.js"},
		Stages:  []Stage{failB},
		Dest:    out,
	})
	require.NoError(t, err)
	require.True(t, result.Failed())
	require.Len(t, result.Failures, 1)
	require.Equal(t, "compile", result.Failures[0].Stage)
	require.Equal(t, filepath.Join(root, "src", "js", "b.js"), result.Failures[0].Resource)
	require.False(t, result.Failures[0].Fatal)

	require.Equal(t, []string{"a.js", "c.js", "d.js"}, result.Rel(out))
	_, err = os.Stat(filepath.Join(out, "b.js"))
	require.True(t, os.IsNotExist(err))
}

func TestRunnerFatalFailureAbortsRun(t *testing.T) {
	root := newRunnerFixture(t)
	out := filepath.Join(root, "app")

	var calls int32
	failFirst := TransformFunc("lint", func(ctx context.Context, res *Resource) (*Resource, error) {
		atomic.AddInt32(&calls, 1)
		return nil, eris.Errorf("%s is broken", res.Name)
	})

	result, err := NewRunner(root, 1, false).Run(testContext(), &Spec{
		Sources: []string{"src/js/*.js"},
		Stages:  []Stage{Fatal(failFirst), joinStage{}},
		Dest:    out,
	})
	require.Error(t, err)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	require.True(t, stageErr.Fatal)
	require.Equal(t, "lint", stageErr.Stage)

	require.Empty(t, result.Outputs)
	require.Less(t, int(atomic.LoadInt32(&calls)), 4, "the run should stop after the fatal failure")

	_, err = os.Stat(out)
	require.True(t, os.IsNotExist(err))
}

func TestRunnerDropsNilResources(t *testing.T) {
	root := newRunnerFixture(t)
	out := filepath.Join(root, "app")

	onlyA := TransformFunc("filter", func(ctx context.Context, res *Resource) (*Resource, error) {
		if res.Name != "a.js" {
			return nil, nil
		}
		return res, nil
	})

	result, err := NewRunner(root, 2, false).Run(testContext(), &Spec{
		Sources: []string{"src/js/*.js"},
		Stages:  []Stage{onlyA},
		Dest:    out,
	})
	require.NoError(t, err)
	require.False(t, result.Failed())
	require.Equal(t, []string{"a.js"}, result.Rel(out))
}

func TestRunnerIsIdempotent(t *testing.T) {
	root := newRunnerFixture(t)
	out := filepath.Join(root, "app")
	spec := &Spec{
		Sources: []string{"src/js/*.js"},
		Stages:  []Stage{upper(), joinStage{}},
		Dest:    out,
	}

	runner := NewRunner(root, 3, false)
	first, err := runner.Run(testContext(), spec)
	require.NoError(t, err)
	firstContent := readFile(t, filepath.Join(out, "all.js"))

	second, err := runner.Run(testContext(), spec)
	require.NoError(t, err)

	require.Equal(t, first.Outputs, second.Outputs)
	require.Equal(t, firstContent, readFile(t, filepath.Join(out, "all.js")))
}

func TestRunnerDryRun(t *testing.T) {
	root := newRunnerFixture(t)
	out := filepath.Join(root, "app")

	result, err := NewRunner(root, 2, true).Run(testContext(), &Spec{
		Sources: []string{"src/js/*.js"},
		Stages:  []Stage{upper()},
		Dest:    out,
	})
	require.NoError(t, err)
	require.Len(t, result.Outputs, 4)

	_, err = os.Stat(out)
	require.True(t, os.IsNotExist(err), "dry runs must not write anything")
}

func TestRunnerNoInput(t *testing.T) {
	root := newRunnerFixture(t)

	result, err := NewRunner(root, 2, false).Run(testContext(), &Spec{
		Sources: []string{"src/**/*.scss"},
		Stages:  []Stage{joinStage{}},
		Dest:    filepath.Join(root, "app"),
	})
	require.NoError(t, err)
	require.Equal(t, 0, result.Matched)
	require.Empty(t, result.Outputs)
	require.False(t, result.Failed())
}

func TestRunnerWithoutDest(t *testing.T) {
	root := newRunnerFixture(t)

	var seen []string
	collect := TransformFunc("collect", func(ctx context.Context, res *Resource) (*Resource, error) {
		seen = append(seen, res.Name)
		return res, nil
	})

	result, err := NewRunner(root, 1, false).Run(testContext(), &Spec{
		Sources: []string{"src/js/*.js"},
		Stages:  []Stage{collect},
	})
	require.NoError(t, err)
	require.Empty(t, result.Outputs)

	sort.Strings(seen)
	require.Equal(t, "a.js b.js c.js d.js", strings.Join(seen, " "))
}

func TestRunnerCancelled(t *testing.T) {
	root := newRunnerFixture(t)

	ctx, cancel := context.WithCancel(testContext())
	cancel()

	_, err := NewRunner(root, 1, false).Run(ctx, &Spec{
		Sources: []string{"src/js/*.js"},
		Dest:    filepath.Join(root, "app"),
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunnerRejectsUnknownStageKinds(t *testing.T) {
	root := newRunnerFixture(t)

	_, err := NewRunner(root, 1, false).Run(testContext(), &Spec{
		Sources: []string{"src/js/*.js"},
		Stages:  []Stage{namedOnly{}},
	})
	require.Error(t, err)
}

type namedOnly struct{}

func (namedOnly) Name() string { return "nothing" }
