package worker

import "errors"

var (
	// ErrStartupFailed is returned when the worker process could not be spawned.
	ErrStartupFailed = errors.New("worker startup failed")
	// ErrMalformedFrame is returned when a line read from the worker is not a valid frame.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrDuplicateSequence means a sequence number was registered twice, which is a bug.
	ErrDuplicateSequence = errors.New("duplicate sequence number")
	// ErrChannelClosed is returned to callers that were waiting when the worker's output closed.
	ErrChannelClosed = errors.New("worker channel closed")
	// ErrTimeout is returned when a call got no response within the configured timeout.
	ErrTimeout = errors.New("worker timeout")
)
