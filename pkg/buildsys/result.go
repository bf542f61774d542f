package buildsys

import (
	"sort"
	"time"

	"github.com/ngld/assetsys/pkg/pipeline"
)

// Status is the terminal state of a task within one run
type Status int

const (
	StatusSucceeded Status = iota
	StatusFailed
	// StatusSkipped means at least one prerequisite didn't succeed so the task never started
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// RunResult describes the outcome of a single task execution
type RunResult struct {
	Task   string
	Status Status
	// Err is the cause for failed and skipped tasks
	Err error
	// Failures lists resources that failed a pipeline stage
	Failures []*pipeline.StageError
	// Outputs lists the files written by the task's pipeline
	Outputs    []string
	Reload     ReloadMode
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns how long the task ran
func (r *RunResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Report aggregates the results of a scheduler run
type Report struct {
	ID      string
	Results map[string]*RunResult
	// Layers lists the task names in the order they were scheduled
	Layers [][]string
}

// Failed reports whether any task failed or was skipped
func (r *Report) Failed() bool {
	for _, result := range r.Results {
		if result.Status != StatusSucceeded {
			return true
		}
	}

	return false
}

// Get returns the result for the named task or nil if the task wasn't part of the run
func (r *Report) Get(name string) *RunResult {
	return r.Results[name]
}

// ByStatus returns the sorted names of all tasks which ended with the given status
func (r *Report) ByStatus(status Status) []string {
	names := make([]string, 0)
	for name, result := range r.Results {
		if result.Status == status {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	return names
}
