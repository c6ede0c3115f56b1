package concurrency

import "errors"

var (
	// ErrRejected is returned when a submission is refused because the
	// stage (or its pool) has shut down.
	ErrRejected = errors.New("stage executor has shut down")

	// ErrPoolShutdown is returned when creating a stage on a pool that has
	// shut down.
	ErrPoolShutdown = errors.New("shared pool has shut down")

	// ErrNilTask is returned when a nil task is submitted.
	ErrNilTask = errors.New("task cannot be nil")
)
