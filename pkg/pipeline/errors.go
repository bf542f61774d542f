package pipeline

import (
	"fmt"
)

// StageError is reported when a stage fails. Resource is empty if an Aggregator failed.
type StageError struct {
	Stage    string
	Resource string
	Fatal    bool
	Err      error
}

var _ error = (*StageError)(nil)

func (e *StageError) Error() string {
	if e.Resource == "" {
		return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
	}

	return fmt.Sprintf("stage %s failed for %s: %v", e.Stage, e.Resource, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// MatcherError is returned when the filesystem could not be read while resolving a pattern
type MatcherError struct {
	Pattern string
	Err     error
}

var _ error = (*MatcherError)(nil)

func (e *MatcherError) Error() string {
	return fmt.Sprintf("failed to resolve pattern %s: %v", e.Pattern, e.Err)
}

func (e *MatcherError) Unwrap() error {
	return e.Err
}
