package pipeline

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/ngld/assetsys/pkg/logctx"
)

const sinkStageName = "dest"

// Spec describes a single pipeline invocation
type Spec struct {
	// Sources are the patterns passed to the Matcher
	Sources []string
	// Stages are applied in order. No stages means the sources are copied as they are.
	Stages []Stage
	// Dest is the output directory. If it's empty, the resources are discarded after the last stage.
	Dest string
}

// Result summarizes a pipeline run
type Result struct {
	Matched  int
	Outputs  []string
	Failures []*StageError
}

// Failed reports whether any resource failed a stage
func (r *Result) Failed() bool {
	return len(r.Failures) > 0
}

// Runner executes pipeline specs
type Runner struct {
	Matcher *Matcher
	// Workers is the number of goroutines each Transformer stage uses
	Workers int
	DryRun  bool
}

// NewRunner returns a runner which resolves relative patterns against root
func NewRunner(root string, workers int, dryRun bool) *Runner {
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}

	return &Runner{
		Matcher: NewMatcher(root),
		Workers: workers,
		DryRun:  dryRun,
	}
}

type pipelineRun struct {
	logger *zerolog.Logger
	cancel context.CancelFunc
	lock   sync.Mutex
	result *Result
	fatal  *StageError
}

func (p *pipelineRun) fail(stageName string, fatal bool, res *Resource, err error) {
	stageErr := &StageError{
		Stage: stageName,
		Fatal: fatal,
		Err:   err,
	}
	if res != nil {
		stageErr.Resource = res.Path
	}

	p.lock.Lock()
	p.result.Failures = append(p.result.Failures, stageErr)
	if fatal && p.fatal == nil {
		p.fatal = stageErr
		p.cancel()
	}
	p.lock.Unlock()

	p.logger.Error().
		Str("stage", stageName).
		Str("path", stageErr.Resource).
		Bool("fatal", fatal).
		Err(err).
		Msgf("%s failed", stageName)
}

func send(ctx context.Context, out chan<- *Resource, res *Resource) bool {
	select {
	case out <- res:
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *pipelineRun) source(ctx context.Context, matches []Match) <-chan *Resource {
	out := make(chan *Resource)

	go func() {
		defer close(out)

		for idx, match := range matches {
			if ctx.Err() != nil {
				return
			}

			res := NewResource(match.Path, match.Base, idx)
			contents, err := ioutil.ReadFile(match.Path)
			if err != nil {
				p.fail("src", false, res, eris.Wrapf(err, "failed to read %s", match.Path))
				continue
			}

			res.Contents = contents
			if !send(ctx, out, res) {
				return
			}
		}
	}()

	return out
}

func (p *pipelineRun) transform(ctx context.Context, stage Transformer, workers int, in <-chan *Resource) <-chan *Resource {
	out := make(chan *Resource)
	fatal := IsFatal(stage)
	wg := sync.WaitGroup{}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			// Keep draining after a cancellation so the upstream stage can always finish.
			for res := range in {
				if ctx.Err() != nil {
					continue
				}

				result, err := stage.Transform(ctx, res)
				if err != nil {
					p.fail(stage.Name(), fatal, res, err)
					continue
				}

				if result != nil {
					send(ctx, out, result)
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

func (p *pipelineRun) aggregate(ctx context.Context, stage Aggregator, in <-chan *Resource) <-chan *Resource {
	out := make(chan *Resource)

	go func() {
		defer close(out)

		buffer := make([]*Resource, 0)
		for res := range in {
			buffer = append(buffer, res)
		}

		if ctx.Err() != nil {
			return
		}

		// Completion order depends on the workers; the output has to follow the matcher order.
		sort.SliceStable(buffer, func(i, j int) bool {
			return buffer[i].Index < buffer[j].Index
		})

		results, err := stage.Aggregate(ctx, buffer)
		if err != nil {
			p.fail(stage.Name(), IsFatal(stage), nil, err)
			return
		}

		for _, res := range results {
			if !send(ctx, out, res) {
				return
			}
		}
	}()

	return out
}

// Run resolves spec.Sources and pushes every resource through spec.Stages into spec.Dest.
//
// Stage failures for single resources are collected in the result and don't stop the run. A non-nil error is
// only returned if the sources couldn't be resolved, a fatal stage failed or ctx was cancelled.
func (r *Runner) Run(ctx context.Context, spec *Spec) (*Result, error) {
	for _, stage := range spec.Stages {
		switch stage.(type) {
		case Transformer, Aggregator:
		default:
			return nil, eris.Errorf("stage %s is neither a transformer nor an aggregator", stage.Name())
		}
	}

	logger := logctx.Log(ctx)
	matches, err := r.Matcher.Match(ctx, spec.Sources)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Matched:  len(matches),
		Outputs:  []string{},
		Failures: []*StageError{},
	}
	if len(matches) == 0 {
		logger.Debug().Strs("sources", spec.Sources).Msg("no input files")
		return result, nil
	}

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	run := &pipelineRun{
		logger: logger,
		cancel: cancel,
		result: result,
	}

	workers := r.Workers
	if workers < 1 {
		workers = 1
	}

	stream := run.source(ctx, matches)
	for _, stage := range spec.Stages {
		switch value := stage.(type) {
		case Transformer:
			stream = run.transform(ctx, value, workers, stream)
		case Aggregator:
			stream = run.aggregate(ctx, value, stream)
		}
	}

	var sink Sink
	if spec.Dest != "" {
		sink = DirSink{Dir: spec.Dest, DryRun: r.DryRun}
	}

	for res := range stream {
		if ctx.Err() != nil || sink == nil {
			continue
		}

		dest, err := sink.Write(ctx, res)
		if err != nil {
			run.fail(sinkStageName, false, res, err)
			continue
		}

		logger.Debug().Str("path", res.Path).Msgf("wrote %s", dest)
		result.Outputs = append(result.Outputs, dest)
	}

	sort.Strings(result.Outputs)
	sort.SliceStable(result.Failures, func(i, j int) bool {
		return result.Failures[i].Resource < result.Failures[j].Resource
	})

	if run.fatal != nil {
		return result, run.fatal
	}

	if err := parent.Err(); err != nil {
		return result, err
	}

	return result, nil
}

// Rel returns the output paths relative to root if possible
func (r *Result) Rel(root string) []string {
	paths := make([]string, len(r.Outputs))
	for idx, item := range r.Outputs {
		rel, err := filepath.Rel(root, item)
		if err != nil {
			rel = item
		}
		paths[idx] = rel
	}

	return paths
}
