package queue

import (
	"errors"
	"fmt"

	"scrapeq/internal/models"
)

var (
	// ErrNotFound is returned by DequeueNext on an empty queue and by MarkDone for unknown ids.
	ErrNotFound = models.ErrTaskNotFound
	// ErrInvalidTransition is returned when marking a failed task done.
	ErrInvalidTransition = models.ErrInvalidTransition
	// ErrStoreUnavailable wraps any failure of the backing store.
	ErrStoreUnavailable = errors.New("task store unavailable")
	// ErrUnknownKind is returned for tasks whose kind is not registered.
	ErrUnknownKind = errors.New("unknown task kind")
	// ErrNoTaskDue is returned when every pending task waits for a retry time.
	ErrNoTaskDue = errors.New("no task due")
)

// DecodeError reports a stored payload that cannot be turned back into a task.
type DecodeError struct {
	ID   int64
	Kind string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("task %d (%s): %v", e.ID, e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
