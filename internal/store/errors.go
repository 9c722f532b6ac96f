package store

import "errors"

var (
	// ErrNotFound is returned when a requested record is not found
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an operation conflicts with existing data
	ErrConflict = errors.New("conflict")

	// ErrTerminal is returned when a purge job update targets a job that has
	// already completed or failed
	ErrTerminal = errors.New("purge job already in terminal state")
)
