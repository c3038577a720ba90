package executor

import "errors"

var (
	// ErrNotFound is returned when a failed action id is unknown.
	ErrNotFound = errors.New("failed action not found")
	// ErrNilOperation is returned when no ledger call is supplied.
	ErrNilOperation = errors.New("operation is nil")
	// ErrInvalidRetryConfig is returned for a retry configuration that cannot run.
	ErrInvalidRetryConfig = errors.New("invalid retry configuration")
)
