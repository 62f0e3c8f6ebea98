package task

import "errors"

var (
	// ErrCancelled is returned (or wrapped) by a launch/retry loop that observed
	// cancellation. It is never retried and never reported as a task failure.
	ErrCancelled = errors.New("task: cancelled")

	// ErrRetriesExhausted wraps the last launch error once the retry budget
	// is spent.
	ErrRetriesExhausted = errors.New("task: retries exhausted")

	// ErrTornDown names the state of a manager that has already started
	// graceful teardown. Manager.Update does not return it: an update after
	// teardown returns nil without starting anything.
	ErrTornDown = errors.New("task: manager torn down")

	// ErrInvalidTemplate is returned by NewTemplate when the requested flag
	// combination is not a valid configuration.
	ErrInvalidTemplate = errors.New("task: invalid template configuration")
)
