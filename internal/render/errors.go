package render

import (
	"errors"
	"fmt"
)

// EmptyProjectError rejects timelines with no clips. Retrying cannot help,
// so the worker fails such jobs permanently.
type EmptyProjectError struct {
	ProjectName string
}

func (e *EmptyProjectError) Error() string {
	if e.ProjectName != "" {
		return fmt.Sprintf("project %q has no clips to render", e.ProjectName)
	}
	return "project has no clips to render"
}

func (e *EmptyProjectError) Retryable() bool { return false }

// AssetNotFoundError names the missing asset so failure reports point the
// user at the exact reference.
type AssetNotFoundError struct {
	AssetID string
	ClipID  string
}

func (e *AssetNotFoundError) Error() string {
	if e.ClipID != "" {
		return fmt.Sprintf("asset %s referenced by clip %s not found", e.AssetID, e.ClipID)
	}
	return fmt.Sprintf("asset %s not found", e.AssetID)
}

func (e *AssetNotFoundError) Retryable() bool { return false }

// SourceRangeError reports a clip that asks for more media than its source
// holds. The project needs editing, so retrying cannot help.
type SourceRangeError struct {
	ClipID         string
	SourceDuration float64
	Needed         float64
}

func (e *SourceRangeError) Error() string {
	return fmt.Sprintf("clip %s needs %.2fs of source but it holds %.2fs",
		e.ClipID, e.Needed, e.SourceDuration)
}

func (e *SourceRangeError) Retryable() bool { return false }

// ExternalProcessError wraps an encoder failure with the pipeline stage and
// clip it happened on.
type ExternalProcessError struct {
	Stage  string
	ClipID string
	Err    error
}

func (e *ExternalProcessError) Error() string {
	if e.ClipID != "" {
		return fmt.Sprintf("%s stage failed on clip %s: %v", e.Stage, e.ClipID, e.Err)
	}
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *ExternalProcessError) Unwrap() error { return e.Err }

// TimeoutError marks a render that exceeded its processing deadline. A job
// that timed out once will time out again, so it is not retried.
type TimeoutError struct {
	Stage string
	Err   error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("render timed out during %s stage: %v", e.Stage, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

func (e *TimeoutError) Retryable() bool { return false }

// Retryable reports whether a failed render may succeed on a later attempt.
// Errors opt out by implementing Retryable() false; everything else, such
// as transient encoder or filesystem failures, is retried.
func Retryable(err error) bool {
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}
