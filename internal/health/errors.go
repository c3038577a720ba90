package health

import "errors"

var (
	// ErrAlreadyRunning is returned by Start when the monitor loop is active.
	ErrAlreadyRunning = errors.New("health monitor already running")
	// ErrInvalidInterval is returned by Start for non-positive intervals.
	ErrInvalidInterval = errors.New("monitoring interval must be positive")
)
