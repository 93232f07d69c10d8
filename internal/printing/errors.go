package printing

import (
	"errors"
	"fmt"
)

// Stage names the step of a print job that failed.
type Stage string

const (
	StageValidate Stage = "validate"
	StageDecode   Stage = "decode"
	StageWrite    Stage = "write"
	StageExecute  Stage = "execute"
)

var (
	// ErrWrongKind is returned for items that are not print jobs.
	ErrWrongKind = errors.New("item is not a print job")
	// ErrEmptyDocument is returned when the job carries no document.
	ErrEmptyDocument = errors.New("print job has no document")
)

// JobError is a print job failure recorded on the item. It is never retried.
type JobError struct {
	JobID string
	Stage Stage
	Err   error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("print job %s failed at %s: %v", e.JobID, e.Stage, e.Err)
}

func (e *JobError) Unwrap() error { return e.Err }

// IsJobError reports whether err is a *JobError and returns it.
func IsJobError(err error) (*JobError, bool) {
	var je *JobError
	if errors.As(err, &je) {
		return je, true
	}
	return nil, false
}
