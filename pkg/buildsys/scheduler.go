package buildsys

import (
	"context"
	"sync"
	"time"

	"github.com/aidarkhanov/nanoid"
	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ngld/assetsys/pkg/logctx"
	"github.com/ngld/assetsys/pkg/pipeline"
)

// SchedulerOptions tune a Scheduler
type SchedulerOptions struct {
	// Jobs limits the number of concurrently running tasks. 0 means no limit.
	Jobs int
	// DryRun logs shell commands instead of executing them and skips custom actions. Pipelines still run
	// if the pipeline runner isn't in dry run mode as well.
	DryRun bool
	// OnTaskDone is called from the worker goroutines whenever a task reached its terminal state
	OnTaskDone func(*RunResult)
}

// Scheduler runs tasks in dependency order
type Scheduler struct {
	tasks    TaskList
	runner   *pipeline.Runner
	opts     SchedulerOptions
	inflight singleflight.Group

	lock    sync.Mutex
	flights map[string]*flight
}

// flight is the context of a running task execution shared by concurrent runs
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// NewScheduler returns a scheduler for the given tasks. runner executes the task pipelines.
//
// The contexts passed to Run should carry a logger (see WithLogger); runs without one are silent.
func NewScheduler(tasks TaskList, runner *pipeline.Runner, opts SchedulerOptions) *Scheduler {
	return &Scheduler{
		tasks:   tasks,
		runner:  runner,
		opts:    opts,
		flights: make(map[string]*flight),
	}
}

// Tasks returns the task list this scheduler works on
func (s *Scheduler) Tasks() TaskList {
	return s.tasks
}

// Run executes the named tasks and all of their prerequisites.
//
// Every task runs at most once per call. Tasks in the same layer run concurrently and the next layer only starts
// once the current one is done. If a task fails, all tasks depending on it are skipped but unrelated tasks still
// run. The returned error is only set if the run couldn't be planned (unknown task, cyclic dependency) or ctx was
// cancelled; task failures are reported in the Report.
//
// A task that is still running from a concurrent call is not started again; this call waits for the running
// execution and uses its result.
func (s *Scheduler) Run(ctx context.Context, names ...string) (*Report, error) {
	p, err := buildPlan(s.tasks, names)
	if err != nil {
		return nil, err
	}

	report := &Report{
		ID:      nanoid.New(),
		Results: make(map[string]*RunResult),
		Layers:  p.names(),
	}

	ctx = logctx.WithFields(ctx, map[string]string{"run": report.ID})
	log(ctx).Debug().Interface("layers", report.Layers).Msg("planned run")

	var lock sync.Mutex
	for _, layer := range p.layers {
		runnable := make([]*Task, 0, len(layer))
		for _, task := range layer {
			cause := s.blockedBy(ctx, report, task)
			if cause == nil {
				runnable = append(runnable, task)
				continue
			}

			now := time.Now()
			result := &RunResult{
				Task:       task.Short,
				Status:     StatusSkipped,
				Err:        cause,
				Reload:     task.Reload,
				StartedAt:  now,
				FinishedAt: now,
			}
			report.Results[task.Short] = result

			log(ctx).Warn().Str("task", task.Short).Msgf("skipped: %s", cause)
			s.taskDone(result)
		}

		group := errgroup.Group{}
		if s.opts.Jobs > 0 {
			group.SetLimit(s.opts.Jobs)
		}

		for _, task := range runnable {
			task := task
			group.Go(func() error {
				result := s.runShared(ctx, task)

				lock.Lock()
				report.Results[task.Short] = result
				lock.Unlock()

				s.taskDone(result)
				return nil
			})
		}

		// The goroutines never return errors; task failures end up in the results.
		_ = group.Wait()
	}

	return report, ctx.Err()
}

// blockedBy returns the reason why task can't start or nil if all prerequisites succeeded
func (s *Scheduler) blockedBy(ctx context.Context, report *Report, task *Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, dep := range task.Deps {
		result := report.Results[dep]
		if result == nil || result.Status != StatusSucceeded {
			return eris.Errorf("dependency %s did not succeed", dep)
		}
	}

	return nil
}

func (s *Scheduler) taskDone(result *RunResult) {
	if s.opts.OnTaskDone != nil {
		s.opts.OnTaskDone(result)
	}
}

// join registers the caller as a waiter for the named task's execution
func (s *Scheduler) join(ctx context.Context, name string) *flight {
	s.lock.Lock()
	defer s.lock.Unlock()

	f, ok := s.flights[name]
	if !ok {
		// The execution must not end with the context of whichever run started it; leave cancels it once
		// the last waiter is gone.
		execCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: execCtx, cancel: cancel}
		s.flights[name] = f
	}

	f.waiters++
	return f
}

func (s *Scheduler) leave(name string, f *flight) {
	s.lock.Lock()
	defer s.lock.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}

	f.cancel()
	if s.flights[name] == f {
		delete(s.flights, name)
	}
}

// runShared executes task unless it's already running in which case it waits for that execution.
// If ctx ends first, the caller gets a failed result while the execution continues for other waiters.
func (s *Scheduler) runShared(ctx context.Context, task *Task) *RunResult {
	f := s.join(ctx, task.Short)
	defer s.leave(task.Short, f)

	ch := s.inflight.DoChan(task.Short, func() (interface{}, error) {
		defer func() {
			s.lock.Lock()
			if s.flights[task.Short] == f {
				delete(s.flights, task.Short)
			}
			s.lock.Unlock()
		}()

		return s.execute(f.ctx, task), nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			log(ctx).Debug().Str("task", task.Short).Msg("shared result with a concurrent run")
		}

		// copy the result since concurrent runs receive the same pointer
		result := *res.Val.(*RunResult)
		return &result
	case <-ctx.Done():
		now := time.Now()
		return &RunResult{
			Task:       task.Short,
			Status:     StatusFailed,
			Err:        ctx.Err(),
			Reload:     task.Reload,
			StartedAt:  now,
			FinishedAt: now,
		}
	}
}
