package buildsys

import (
	"context"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/ngld/assetsys/pkg/devview"
	"github.com/ngld/assetsys/pkg/pipeline"
)

// TaskRunner executes a set of tasks. *Scheduler implements it.
type TaskRunner interface {
	Run(ctx context.Context, names ...string) (*Report, error)
}

type compiledRule struct {
	WatchRule
	re *regexp.Regexp
}

// Dispatcher maps file changes to the tasks that have to run again.
//
// Changes are collected until no new event arrived for the debounce period. The union of all affected tasks is
// then passed to the TaskRunner in a single call. After the run, the dev view is notified about tasks that
// succeeded and asked for a reload.
type Dispatcher struct {
	ctx      context.Context
	root     string
	runner   TaskRunner
	notifier devview.Notifier
	debounce time.Duration

	lock    sync.Mutex
	rules   []compiledRule
	pending map[string]bool
	reload  bool
	timer   *time.Timer
	// seq invalidates timers that were replaced by a newer event
	seq    uint64
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher returns a dispatcher. Relative rule patterns and change paths are resolved against root.
// ctx is used for all runs started by the dispatcher.
func NewDispatcher(ctx context.Context, root string, runner TaskRunner, notifier devview.Notifier, debounce time.Duration) *Dispatcher {
	if notifier == nil {
		notifier = devview.Nop{}
	}

	return &Dispatcher{
		ctx:      ctx,
		root:     root,
		runner:   runner,
		notifier: notifier,
		debounce: debounce,
		pending:  make(map[string]bool),
	}
}

func (d *Dispatcher) abs(file string) string {
	if !filepath.IsAbs(file) {
		file = filepath.Join(d.root, file)
	}

	return filepath.ToSlash(filepath.Clean(file))
}

// quotedRoot is the root as a pattern that only matches itself
func (d *Dispatcher) quotedRoot() string {
	return pipeline.QuoteMeta(filepath.ToSlash(filepath.Clean(d.root)))
}

func (d *Dispatcher) absPattern(pattern string) string {
	pattern = filepath.ToSlash(pattern)
	if filepath.IsAbs(filepath.FromSlash(pattern)) {
		return path.Clean(pattern)
	}

	return path.Join(d.quotedRoot(), pattern)
}

// AddRule registers a watch rule. Absolute patterns have to escape meta characters in their literal
// directories (see pipeline.QuoteMeta); relative patterns are resolved against the root.
func (d *Dispatcher) AddRule(rule WatchRule) error {
	if len(rule.Tasks) == 0 && !rule.Reload {
		return eris.Errorf("watch rule for %s neither runs tasks nor reloads", rule.Pattern)
	}

	re, err := pipeline.CompilePattern(d.absPattern(rule.Pattern))
	if err != nil {
		return err
	}

	d.lock.Lock()
	d.rules = append(d.rules, compiledRule{WatchRule: rule, re: re})
	d.lock.Unlock()
	return nil
}

// Patterns returns the rule patterns relative to the dispatcher's root. Patterns outside of the root are
// returned as absolute paths.
func (d *Dispatcher) Patterns() []string {
	d.lock.Lock()
	defer d.lock.Unlock()

	prefix := d.quotedRoot() + "/"
	result := make([]string, 0, len(d.rules))
	for _, rule := range d.rules {
		pattern := d.absPattern(rule.Pattern)
		if strings.HasPrefix(pattern, prefix) {
			pattern = pattern[len(prefix):]
		}
		result = append(result, pattern)
	}

	return result
}

// OnChange is called for every changed file
func (d *Dispatcher) OnChange(file string) {
	file = d.abs(file)

	d.lock.Lock()
	defer d.lock.Unlock()

	if d.closed {
		return
	}

	matched := false
	for _, rule := range d.rules {
		if !rule.re.MatchString(file) {
			continue
		}

		matched = true
		for _, name := range rule.Tasks {
			d.pending[name] = true
		}
		if rule.Reload {
			d.reload = true
		}
	}

	if !matched {
		log(d.ctx).Debug().Str("path", file).Msg("ignoring change")
		return
	}

	log(d.ctx).Debug().Str("path", file).Msg("change detected")

	d.seq++
	currentSeq := d.seq
	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = time.AfterFunc(d.debounce, func() {
		d.fire(currentSeq)
	})
}

// Flush dispatches pending changes immediately instead of waiting for the debounce period
func (d *Dispatcher) Flush() {
	d.lock.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.seq++
	currentSeq := d.seq
	d.lock.Unlock()

	d.fire(currentSeq)
}

// Close drops pending changes and waits for running dispatches to finish
func (d *Dispatcher) Close() {
	d.lock.Lock()
	d.closed = true
	d.seq++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = make(map[string]bool)
	d.reload = false
	d.lock.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) fire(seq uint64) {
	d.lock.Lock()
	// Only execute if this is still the current scheduled callback
	if d.closed || d.seq != seq || (len(d.pending) == 0 && !d.reload) {
		d.lock.Unlock()
		return
	}

	tasks := make([]string, 0, len(d.pending))
	for name := range d.pending {
		tasks = append(tasks, name)
	}
	sort.Strings(tasks)

	reload := d.reload
	d.pending = make(map[string]bool)
	d.reload = false
	d.timer = nil
	d.wg.Add(1)
	d.lock.Unlock()

	defer d.wg.Done()
	d.dispatch(tasks, reload)
}

func (d *Dispatcher) dispatch(tasks []string, reload bool) {
	ctx := d.ctx

	if len(tasks) > 0 {
		log(ctx).Info().Strs("tasks", tasks).Msg("running tasks for changed files")

		report, err := d.runner.Run(ctx, tasks...)
		if err != nil {
			log(ctx).Error().Err(err).Msg("watch build failed")
			return
		}

		names := make([]string, 0, len(report.Results))
		for name := range report.Results {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			result := report.Results[name]
			if result.Status != StatusSucceeded {
				continue
			}

			switch result.Reload {
			case ReloadPage:
				reload = true
			case ReloadInject:
				for _, output := range result.Outputs {
					d.notifier.NotifyAssetChanged(ctx, output)
				}
			}
		}

		if report.Failed() {
			log(ctx).Warn().
				Strs("failed", report.ByStatus(StatusFailed)).
				Strs("skipped", report.ByStatus(StatusSkipped)).
				Msg("watch build finished with errors")
		}
	}

	if reload {
		d.notifier.NotifyReload(ctx)
	}
}
