package taskqueue

import "errors"

var (
	// ErrQueueNotRunning is returned when submitting to a stopped queue
	ErrQueueNotRunning = errors.New("task queue is not running")

	// ErrQueueFull is returned when the queue is at capacity
	ErrQueueFull = errors.New("task queue is full")

	// ErrTaskNotFound is returned for unknown task ids
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskExists is returned when a task with the same id is still pending or running
	ErrTaskExists = errors.New("task already queued")

	// ErrTaskNotCancellable is returned when the task has already started or finished
	ErrTaskNotCancellable = errors.New("task has already started")
)

// permanentError marks a failure that must not be retried
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the queue dead-letters the task without further attempts
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
