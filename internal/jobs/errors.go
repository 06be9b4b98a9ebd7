package jobs

import "errors"

var (
	ErrUnknownJob      = errors.New("unknown job")
	ErrDuplicateJob    = errors.New("job id already in use")
	ErrNotTerminated   = errors.New("job has not terminated")
	ErrTerminated      = errors.New("job already terminated")
	ErrAlreadyCanceled = errors.New("job cancellation already requested")
	ErrCompile         = errors.New("pipeline cannot be compiled")
	ErrClosed          = errors.New("job manager is closed")
	ErrTransition      = errors.New("invalid job state transition")
)
