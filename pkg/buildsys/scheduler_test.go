package buildsys

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/require"

	"github.com/ngld/assetsys/pkg/pipeline"
)

func newTestScheduler(t *testing.T, tasks TaskList, opts SchedulerOptions) *Scheduler {
	return NewScheduler(tasks, pipeline.NewRunner(t.TempDir(), 2, false), opts)
}

// packageTasks builds the default graph: package needs styles and scripts
func packageTasks(rec *recorder, stylesErr error) TaskList {
	tasks := TaskList{}
	for _, task := range []*Task{
		{Short: "styles", Action: rec.action("styles", stylesErr)},
		{Short: "scripts", Action: rec.action("scripts", nil)},
		{Short: "images", Action: rec.action("images", nil)},
		{Short: "package", Deps: []string{"styles", "scripts"}, Action: rec.action("package", nil)},
	} {
		if err := tasks.Register(task); err != nil {
			panic(err)
		}
	}

	return tasks
}

func TestSchedulerRunsPrerequisitesFirst(t *testing.T) {
	rec := newRecorder()
	s := newTestScheduler(t, packageTasks(rec, nil), SchedulerOptions{})

	report, err := s.Run(testContext(), "package")
	require.NoError(t, err)
	require.False(t, report.Failed())
	require.NotEmpty(t, report.ID)

	if diff := cmp.Diff([][]string{{"scripts", "styles"}, {"package"}}, report.Layers); diff != "" {
		t.Errorf("unexpected layers (-want +got):\n%s", diff)
	}

	require.Len(t, rec.executed(), 3, "images is not required and must not run")
	require.Less(t, rec.index("styles"), rec.index("package"))
	require.Less(t, rec.index("scripts"), rec.index("package"))

	for _, name := range []string{"styles", "scripts", "package"} {
		result := report.Get(name)
		require.NotNil(t, result, name)
		require.Equal(t, StatusSucceeded, result.Status, name)
		require.False(t, result.FinishedAt.Before(result.StartedAt))
	}
}

func TestSchedulerSkipsDependentsOfFailedTasks(t *testing.T) {
	rec := newRecorder()
	s := newTestScheduler(t, packageTasks(rec, eris.New("sass exploded")), SchedulerOptions{})

	report, err := s.Run(testContext(), "package", "images")
	require.NoError(t, err)
	require.True(t, report.Failed())

	require.Equal(t, StatusFailed, report.Get("styles").Status)
	require.Contains(t, report.Get("styles").Err.Error(), "sass exploded")
	require.Equal(t, StatusSucceeded, report.Get("scripts").Status)
	require.Equal(t, StatusSucceeded, report.Get("images").Status)
	require.Equal(t, StatusSkipped, report.Get("package").Status)

	require.Equal(t, []string{"styles"}, report.ByStatus(StatusFailed))
	require.Equal(t, []string{"package"}, report.ByStatus(StatusSkipped))
	require.Equal(t, 0, rec.times("package"))
}

func TestSchedulerRunsSharedDependencyOnce(t *testing.T) {
	rec := newRecorder()
	tasks := TaskList{}
	require.NoError(t, tasks.Register(&Task{Short: "clean", Action: rec.action("clean", nil)}))
	require.NoError(t, tasks.Register(&Task{Short: "css", Deps: []string{"clean"}, Action: rec.action("css", nil)}))
	require.NoError(t, tasks.Register(&Task{Short: "js", Deps: []string{"clean"}, Action: rec.action("js", nil)}))
	require.NoError(t, tasks.Register(&Task{Short: "build", Deps: []string{"css", "js", "clean"}, Action: rec.action("build", nil)}))

	s := newTestScheduler(t, tasks, SchedulerOptions{})
	report, err := s.Run(testContext(), "build", "css", "build")
	require.NoError(t, err)
	require.False(t, report.Failed())

	for _, name := range []string{"clean", "css", "js", "build"} {
		require.Equal(t, 1, rec.times(name), name)
	}

	if diff := cmp.Diff([][]string{{"clean"}, {"css", "js"}, {"build"}}, report.Layers); diff != "" {
		t.Errorf("unexpected layers (-want +got):\n%s", diff)
	}
}

func TestSchedulerRejectsCycles(t *testing.T) {
	rec := newRecorder()
	tasks := TaskList{}
	require.NoError(t, tasks.Register(&Task{Short: "a", Deps: []string{"b"}, Action: rec.action("a", nil)}))
	require.NoError(t, tasks.Register(&Task{Short: "b", Deps: []string{"c"}, Action: rec.action("b", nil)}))
	require.NoError(t, tasks.Register(&Task{Short: "c", Deps: []string{"a"}, Action: rec.action("c", nil)}))
	require.NoError(t, tasks.Register(&Task{Short: "d", Action: rec.action("d", nil)}))

	s := newTestScheduler(t, tasks, SchedulerOptions{})
	report, err := s.Run(testContext(), "d", "a")
	require.Nil(t, report)

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	require.Equal(t, []string{"a", "b", "c", "a"}, cycleErr.Path)
	require.Equal(t, "cyclic dependency: a -> b -> c -> a", err.Error())
	require.Empty(t, rec.executed())
}

func TestSchedulerRejectsUnknownTasks(t *testing.T) {
	rec := newRecorder()
	tasks := packageTasks(rec, nil)
	tasks["build"] = &Task{Short: "build", Deps: []string{"package", "sass:dist"}}

	s := newTestScheduler(t, tasks, SchedulerOptions{})

	_, err := s.Run(testContext(), "build")
	var unknown *UnknownTaskError
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, "sass:dist", unknown.Name)
	require.Equal(t, "build", unknown.RequiredBy)

	_, err = s.Run(testContext(), "deploy")
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, "deploy", unknown.Name)
	require.Empty(t, rec.executed())
}

func TestSchedulerRunsLayerConcurrently(t *testing.T) {
	var running, peak int32
	slow := func(ctx context.Context) error {
		now := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if now <= old || atomic.CompareAndSwapInt32(&peak, old, now) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil
	}

	tasks := TaskList{}
	for _, name := range []string{"a", "b", "c", "d"} {
		require.NoError(t, tasks.Register(&Task{Short: name, Action: slow}))
	}

	report, err := newTestScheduler(t, tasks, SchedulerOptions{}).Run(testContext(), "a", "b", "c", "d")
	require.NoError(t, err)
	require.False(t, report.Failed())
	require.Greater(t, int(atomic.LoadInt32(&peak)), 1)

	atomic.StoreInt32(&peak, 0)
	report, err = newTestScheduler(t, tasks, SchedulerOptions{Jobs: 1}).Run(testContext(), "a", "b", "c", "d")
	require.NoError(t, err)
	require.False(t, report.Failed())
	require.Equal(t, int32(1), atomic.LoadInt32(&peak))
}

func TestSchedulerSharesInflightTasks(t *testing.T) {
	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})

	tasks := TaskList{}
	require.NoError(t, tasks.Register(&Task{Short: "styles", Action: func(ctx context.Context) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
		}
		<-release
		return nil
	}}))

	s := newTestScheduler(t, tasks, SchedulerOptions{})

	var wg sync.WaitGroup
	reports := make([]*Report, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		reports[0], _ = s.Run(testContext(), "styles")
	}()

	<-started
	wg.Add(1)
	go func() {
		defer wg.Done()
		reports[1], _ = s.Run(testContext(), "styles")
	}()

	// give the second run time to join the running execution
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, report := range reports {
		require.NotNil(t, report)
		require.Equal(t, StatusSucceeded, report.Get("styles").Status)
	}
	require.NotSame(t, reports[0].Get("styles"), reports[1].Get("styles"))
}

func TestSchedulerSharedTaskOutlivesCancelledCaller(t *testing.T) {
	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})

	tasks := TaskList{}
	require.NoError(t, tasks.Register(&Task{Short: "styles", Action: func(ctx context.Context) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
		}
		<-release
		return ctx.Err()
	}}))

	s := newTestScheduler(t, tasks, SchedulerOptions{})

	first, cancel := context.WithCancel(testContext())
	defer cancel()

	var wg sync.WaitGroup
	reports := make([]*Report, 2)
	errs := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		reports[0], errs[0] = s.Run(first, "styles")
	}()

	<-started
	wg.Add(1)
	go func() {
		defer wg.Done()
		reports[1], errs[1] = s.Run(testContext(), "styles")
	}()

	// let the second run join before the first one goes away
	time.Sleep(100 * time.Millisecond)
	cancel()
	require.Eventually(t, func() bool {
		return s.waiters("styles") == 1
	}, 2*time.Second, 10*time.Millisecond)

	close(release)
	wg.Wait()

	require.Equal(t, int32(1), atomic.LoadInt32(&calls))

	require.ErrorIs(t, errs[0], context.Canceled)
	require.Equal(t, StatusFailed, reports[0].Get("styles").Status)
	require.ErrorIs(t, reports[0].Get("styles").Err, context.Canceled)

	require.NoError(t, errs[1])
	require.Equal(t, StatusSucceeded, reports[1].Get("styles").Status)
	require.Zero(t, s.waiters("styles"))
}

func TestSchedulerCancelsTaskWithoutWaiters(t *testing.T) {
	started := make(chan struct{})
	stopped := make(chan struct{})

	tasks := TaskList{}
	require.NoError(t, tasks.Register(&Task{Short: "styles", Action: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(stopped)
		return ctx.Err()
	}}))

	s := newTestScheduler(t, tasks, SchedulerOptions{})
	ctx, cancel := context.WithCancel(testContext())

	done := make(chan *Report)
	go func() {
		report, _ := s.Run(ctx, "styles")
		done <- report
	}()

	<-started
	cancel()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("the running task was not cancelled")
	}

	report := <-done
	require.Equal(t, StatusFailed, report.Get("styles").Status)
}

func TestSchedulerRetries(t *testing.T) {
	var calls int32
	tasks := TaskList{}
	require.NoError(t, tasks.Register(&Task{Short: "flaky", Retries: 2, Action: func(ctx context.Context) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return eris.New("temporary failure")
		}
		return nil
	}}))
	require.NoError(t, tasks.Register(&Task{Short: "broken", Action: func(ctx context.Context) error {
		atomic.AddInt32(&calls, 100)
		return eris.New("permanent failure")
	}}))

	s := newTestScheduler(t, tasks, SchedulerOptions{})

	report, err := s.Run(testContext(), "flaky")
	require.NoError(t, err)
	require.Equal(t, StatusSucceeded, report.Get("flaky").Status)
	require.Equal(t, int32(3), atomic.LoadInt32(&calls))

	report, err = s.Run(testContext(), "broken")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, report.Get("broken").Status)
	require.Equal(t, "permanent failure", report.Get("broken").Err.Error())
	require.Equal(t, int32(103), atomic.LoadInt32(&calls), "tasks without retries run once")
}

func TestSchedulerRunsPipelines(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src", "js"), 0755))
	for name, content := range map[string]string{"a.js": "a", "b.js": "b", "broken.js": "x"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, "src", "js", name), []byte(content), 0644))
	}

	failBroken := pipeline.TransformFunc("compile", func(ctx context.Context, res *pipeline.Resource) (*pipeline.Resource, error) {
		if res.Name == "broken.js" {
			return nil, eris.New("unexpected token")
		}
		return res, nil
	})

	out := filepath.Join(root, "app")
	tasks := TaskList{}
	require.NoError(t, tasks.Register(&Task{
		Short:    "scripts",
		Reload:   ReloadInject,
		Pipeline: &pipeline.Spec{Sources: []string{"src/js/*.js", "!src/js/broken.js"}, Dest: out},
	}))
	require.NoError(t, tasks.Register(&Task{
		Short:    "lint",
		Pipeline: &pipeline.Spec{Sources: []string{"src/js/*.js"}, Stages: []pipeline.Stage{failBroken}},
	}))

	s := NewScheduler(tasks, pipeline.NewRunner(root, 2, false), SchedulerOptions{})
	report, err := s.Run(testContext(), "scripts", "lint")
	require.NoError(t, err)

	scripts := report.Get("scripts")
	require.Equal(t, StatusSucceeded, scripts.Status)
	require.Equal(t, ReloadInject, scripts.Reload)
	require.Equal(t, []string{filepath.Join(out, "a.js"), filepath.Join(out, "b.js")}, scripts.Outputs)

	lint := report.Get("lint")
	require.Equal(t, StatusFailed, lint.Status)
	require.Len(t, lint.Failures, 1)
	require.Equal(t, "compile", lint.Failures[0].Stage)
	require.Contains(t, lint.Err.Error(), "1 of 3 resources failed")
}

func TestSchedulerRunsCommands(t *testing.T) {
	base := t.TempDir()
	tasks := TaskList{}
	require.NoError(t, tasks.Register(&Task{
		Short: "prepare",
		Base:  base,
		Env:   map[string]string{"TARGET": "assets"},
		Cmds:  []string{"mkdir -p app/$TARGET", "rm -rf tmp"},
	}))
	require.NoError(t, tasks.Register(&Task{
		Short: "fail",
		Base:  base,
		Cmds:  []string{"false", "mkdir never"},
	}))

	report, err := newTestScheduler(t, tasks, SchedulerOptions{DryRun: true}).Run(testContext(), "prepare")
	require.NoError(t, err)
	require.Equal(t, StatusSucceeded, report.Get("prepare").Status)
	_, err = os.Stat(filepath.Join(base, "app"))
	require.True(t, os.IsNotExist(err), "dry runs must not execute commands")

	report, err = newTestScheduler(t, tasks, SchedulerOptions{}).Run(testContext(), "prepare", "fail")
	require.NoError(t, err)
	require.Equal(t, StatusSucceeded, report.Get("prepare").Status)
	require.Equal(t, StatusFailed, report.Get("fail").Status)

	info, err := os.Stat(filepath.Join(base, "app", "assets"))
	require.NoError(t, err)
	require.True(t, info.IsDir())

	_, err = os.Stat(filepath.Join(base, "never"))
	require.True(t, os.IsNotExist(err))
}

func TestSchedulerCancelled(t *testing.T) {
	rec := newRecorder()
	s := newTestScheduler(t, packageTasks(rec, nil), SchedulerOptions{})

	ctx, cancel := context.WithCancel(testContext())
	cancel()

	report, err := s.Run(ctx, "package")
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	require.Equal(t, StatusSkipped, report.Get("package").Status)
	require.Empty(t, rec.executed())
}

func TestSchedulerReportsProgress(t *testing.T) {
	rec := newRecorder()
	var lock sync.Mutex
	done := make([]string, 0)

	s := newTestScheduler(t, packageTasks(rec, eris.New("broken")), SchedulerOptions{
		OnTaskDone: func(result *RunResult) {
			lock.Lock()
			done = append(done, result.Task+":"+result.Status.String())
			lock.Unlock()
		},
	})

	_, err := s.Run(testContext(), "package")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"styles:failed", "scripts:succeeded", "package:skipped"}, done)
}

func TestTaskListRegister(t *testing.T) {
	tasks := TaskList{}
	require.NoError(t, tasks.Register(&Task{Short: "styles"}))

	var dup *DuplicateTaskError
	require.ErrorAs(t, tasks.Register(&Task{Short: "styles"}), &dup)
	require.Error(t, tasks.Register(&Task{Short: "configure"}))
	require.Error(t, tasks.Register(&Task{}))

	_, err := tasks.Lookup("scripts")
	var unknown *UnknownTaskError
	require.ErrorAs(t, err, &unknown)

	task, err := tasks.Lookup("styles")
	require.NoError(t, err)
	require.Equal(t, "styles", task.Short)
	require.Equal(t, []string{"styles"}, tasks.Names())
}

// waiters returns the number of runs waiting for the named task's current execution
func (s *Scheduler) waiters(name string) int {
	s.lock.Lock()
	defer s.lock.Unlock()

	if f, ok := s.flights[name]; ok {
		return f.waiters
	}
	return 0
}
