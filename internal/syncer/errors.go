package syncer

import "errors"

var (
	// ErrSyncInProgress is returned when SyncAll is called while a batch is running.
	ErrSyncInProgress = errors.New("sync already in progress")
	// ErrBatchStart is returned when the eligible subject set cannot be read.
	ErrBatchStart = errors.New("sync batch could not start")
	// ErrUnsupportedOperation is returned when a failed action cannot be rebuilt.
	ErrUnsupportedOperation = errors.New("failed action cannot be replayed")
	// ErrAlreadyLaunched is returned when replaying a launch for a subject
	// whose asset already exists on the ledger.
	ErrAlreadyLaunched = errors.New("asset already launched")
)
