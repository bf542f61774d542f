package buildsys

import (
	"context"
	"fmt"
	"sort"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
	starsyntax "go.starlark.net/syntax"

	"github.com/ngld/assetsys/pkg/pipeline"
)

// ReloadMode decides how the dev view is notified after a task triggered by a file change succeeded
type ReloadMode string

const (
	// ReloadNone doesn't notify the dev view
	ReloadNone ReloadMode = ""
	// ReloadPage asks for a full reload
	ReloadPage ReloadMode = "page"
	// ReloadInject announces each written output so it can be swapped in place (i.e. stylesheets)
	ReloadInject ReloadMode = "inject"
)

// ParseReloadMode validates the value passed to task(reload=...)
func ParseReloadMode(value string) (ReloadMode, error) {
	switch ReloadMode(value) {
	case ReloadNone, ReloadPage, ReloadInject:
		return ReloadMode(value), nil
	default:
		return ReloadNone, eris.Errorf(`invalid reload mode %q (must be "", "page" or "inject")`, value)
	}
}

// Task contains the processed values passed to task() by the task script
type Task struct {
	Env   map[string]string
	Short string
	Desc  string
	Base  string
	Deps  []string
	// Cmds are shell scripts executed in Base before the pipeline runs
	Cmds []string
	// Pipeline is optional; tasks without one only run their commands and Action
	Pipeline *pipeline.Spec
	// Action is called after the pipeline. Tasks registered from Go code use this for custom work.
	Action  func(ctx context.Context) error
	Reload  ReloadMode
	Retries uint64
	Hidden  bool
}

// reservedTaskName is the function the task script has to define
const reservedTaskName = "configure"

// TaskList maps short names to each relevant task
type TaskList map[string]*Task

// Names returns the sorted list of task names
func (l TaskList) Names() []string {
	names := make([]string, 0, len(l))
	for name := range l {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Register adds a task to the list. Names have to be unique.
func (l TaskList) Register(task *Task) error {
	if task.Short == "" {
		return eris.New("task without a name")
	}

	if task.Short == reservedTaskName {
		return eris.Errorf(`the task name %q is reserved, please use a different name`, reservedTaskName)
	}

	if _, present := l[task.Short]; present {
		return &DuplicateTaskError{Name: task.Short}
	}

	l[task.Short] = task
	return nil
}

// Lookup returns the named task or an UnknownTaskError
func (l TaskList) Lookup(name string) (*Task, error) {
	task, ok := l[name]
	if !ok {
		return nil, &UnknownTaskError{Name: name}
	}

	return task, nil
}

// WatchRule maps a path pattern to the tasks that have to run when a matching file changes
type WatchRule struct {
	Pattern string
	Tasks   []string
	// Reload asks the dev view for a page reload whenever a matching file changes
	Reload bool
}

type ScriptOption struct {
	DefaultValue starlark.String
	Help         string
}

func (o ScriptOption) Default() string {
	return o.DefaultValue.GoString()
}

// Implement starlark.Value for *Task

// String returns a string representation of the task
func (t *Task) String() string {
	return fmt.Sprintf("<Task %s: %s>", t.Short, t.Desc)
}

// Type always returns "task" to indicate this type
func (t *Task) Type() string {
	return "task"
}

// Freeze doesn't do anything since tasks are immutable anyway
func (t *Task) Freeze() {}

// Truth always returns true since a task can't be nil or None
func (t *Task) Truth() starlark.Bool {
	return starlark.True
}

// Hash always returns an error since task is not hashable
// It could be but I don't think implementing a hash over all contained values
// is worth it considering that the hash is only used by Starlake's dict type.
func (t *Task) Hash() (uint32, error) {
	return 0, eris.New("task is not a hashable type")
}

// StarlarkStage wraps a pipeline stage so scripts can pass it around
type StarlarkStage struct {
	Stage pipeline.Stage
}

func (s StarlarkStage) String() string {
	if pipeline.IsFatal(s.Stage) {
		return fmt.Sprintf("<Stage %s (fatal)>", s.Stage.Name())
	}
	return fmt.Sprintf("<Stage %s>", s.Stage.Name())
}

func (s StarlarkStage) Type() string {
	return "stage"
}

func (s StarlarkStage) Freeze() {}

func (s StarlarkStage) Truth() starlark.Bool {
	return starlark.True
}

func (s StarlarkStage) Hash() (uint32, error) {
	return 0, eris.New("stage is not a hashable type")
}

type StarlarkPath string

func (p StarlarkPath) String() string {
	return starlark.String(p).String()
}

func (p StarlarkPath) Type() string {
	return "path"
}

func (p StarlarkPath) Freeze() {}

func (p StarlarkPath) Truth() starlark.Bool {
	return p != ""
}

func (p StarlarkPath) Hash() (uint32, error) {
	return starlark.String(p).Hash()
}

func (p StarlarkPath) CompareSameType(op starsyntax.Token, y_ starlark.Value, depth int) (bool, error) {
	y := y_.(StarlarkPath)

	switch op {
	case starsyntax.EQL:
		return p == y, nil
	case starsyntax.NEQ:
		return p != y, nil
	case starsyntax.LT:
		return p < y, nil
	case starsyntax.LE:
		return p <= y, nil
	case starsyntax.GT:
		return p > y, nil
	case starsyntax.GE:
		return p >= y, nil
	}

	return false, eris.Errorf("unknown operator %v", op)
}

func (p StarlarkPath) Index(i int) starlark.Value {
	return starlark.String(p[i])
}

func (p StarlarkPath) Len() int {
	return len(p)
}

func (p StarlarkPath) Slice(start, end, step int) starlark.Value {
	return starlark.String(p).Slice(start, end, step)
}
