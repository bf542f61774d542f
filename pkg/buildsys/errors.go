package buildsys

import (
	"fmt"
	"strings"
)

// CycleError is returned if the requested tasks depend on each other in a loop. No task is executed in that case.
type CycleError struct {
	Path []string
}

var _ error = (*CycleError)(nil)

func (e *CycleError) Error() string {
	return fmt.Sprintf("cyclic dependency: %s", strings.Join(e.Path, " -> "))
}

type UnknownTaskError struct {
	Name string
	// RequiredBy is empty if the task was requested directly
	RequiredBy string
}

var _ error = (*UnknownTaskError)(nil)

func (e *UnknownTaskError) Error() string {
	if e.RequiredBy != "" {
		return fmt.Sprintf("task %s (required by %s) not found", e.Name, e.RequiredBy)
	}
	return fmt.Sprintf("task %s not found", e.Name)
}

type DuplicateTaskError struct {
	Name string
}

var _ error = (*DuplicateTaskError)(nil)

func (e *DuplicateTaskError) Error() string {
	return fmt.Sprintf("task %s was declared more than once", e.Name)
}
