// Package source defines the read side of the off-chain metrics store.
package source

import (
	"context"
	"errors"

	"github.com/okian/tally/internal/domain/model"
)

// Sentinel kinds for metrics source errors.
var (
	ErrSubjectNotFound = errors.New("subject not found")
	ErrUnavailable     = errors.New("metrics source unavailable")
)

// MetricsSource supplies creator snapshots and stores sync bookkeeping.
// Eligibility (wallet present, not synced within the last hour) is decided
// by the implementation's query.
type MetricsSource interface {
	EligibleSubjects(ctx context.Context) ([]model.SubjectRef, error)
	Metrics(ctx context.Context, subjectID string) (model.Snapshot, error)
	RecordSyncTimestamp(ctx context.Context, subjectID string) error
	RecordSyncError(ctx context.Context, subjectID, message string) error
}
