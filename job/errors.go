package job

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrJobNotFound is returned when no job exists for the given id.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobNotCancellable is returned when a cancel request arrives
	// after the job left the pending state.
	ErrJobNotCancellable = errors.New("job is not in a cancellable state")
	// ErrJobNotRetryable is returned when a manual retry is requested
	// for a job outside its retry budget or in the wrong state.
	ErrJobNotRetryable = errors.New("job cannot be retried")
	// ErrHandlerNotFound is returned when no handler is registered for
	// a job type.
	ErrHandlerNotFound = errors.New("no handler registered for job type")
	// ErrInvalidStatus is returned when a status filter does not match
	// any known job status.
	ErrInvalidStatus = errors.New("invalid job status")
)

// ValidationError carries per field validation messages for a rejected
// submission.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	msgs := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		msgs = append(msgs, fmt.Sprintf("%s: %s", field, msg))
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}
