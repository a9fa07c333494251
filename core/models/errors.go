package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrCancelled is returned by an executor that observed the
// cooperative cancellation flag at a stage boundary.
var ErrCancelled = errors.New("job cancelled")

// ValidationError rejects a malformed submission before any job
// record is created.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// NotFoundError reports an unknown job or model.
type NotFoundError struct {
	Kind string // "job", "model", "model version"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// SchemaError reports a row/feature mismatch during transform.
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error on field %q: %s", e.Field, e.Reason)
}

// InsufficientDataError means a drift check had too small a production
// sample to produce a meaningful verdict.
type InsufficientDataError struct {
	Got  int
	Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: %d rows, need at least %d", e.Got, e.Need)
}

// TimeoutError means a stage exceeded its time budget.
type TimeoutError struct {
	Stage Stage
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("stage %s timed out after %s", e.Stage, e.Limit)
}

// ResourceExhaustedError rejects a submission when the configured
// queue depth limit is reached.
type ResourceExhaustedError struct {
	Depth int
}

func (e *ResourceExhaustedError) Error() string {
	return fmt.Sprintf("queue depth limit %d reached", e.Depth)
}
