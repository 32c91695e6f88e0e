package models

import "errors"

var (
	// ErrTaskNotFound is returned when no task record matches the lookup.
	ErrTaskNotFound = errors.New("task not found")
	// ErrInvalidTransition is returned when a status change would leave a terminal state.
	ErrInvalidTransition = errors.New("invalid task status transition")
)
