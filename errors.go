package herald

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("herald: no store configured")
	ErrStoreClosed = errors.New("herald: store closed")

	// Not found errors.
	ErrJobNotFound          = errors.New("herald: job not found")
	ErrNotificationNotFound = errors.New("herald: notification not found")
	ErrDLQNotFound          = errors.New("herald: dlq entry not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("herald: job already exists")

	// Queue errors.
	ErrQueueFull = errors.New("herald: queue is full")

	// Dispatch errors.
	ErrUnknownChannel = errors.New("herald: unknown channel")

	// State errors.
	ErrInvalidState       = errors.New("herald: invalid state transition")
	ErrNotCancellable     = errors.New("herald: job is not cancellable")
	ErrMaxRetriesExceeded = errors.New("herald: max retries exceeded")

	// Callback errors.
	ErrUnknownCallback = errors.New("herald: callback handler not registered")
)
