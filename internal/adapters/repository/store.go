// Package repository persists the oracle's local state: failed actions,
// milestone records, alerts and health samples.
package repository

import (
	"context"
	"time"

	"github.com/okian/tally/internal/domain/model"
)

// Retention windows.
const (
	DefaultFailedActionRetention = 24 * time.Hour
	DefaultSampleRetention       = 7 * 24 * time.Hour
)

// FailedActions is the registry of calls whose retries ran out.
type FailedActions interface {
	// UpsertFailedAction stores rec keyed by (SubjectID, Operation). An
	// existing record for the pair is overwritten but keeps its ID.
	UpsertFailedAction(ctx context.Context, rec model.FailedActionRecord) (model.FailedActionRecord, error)
	// FailedAction returns ErrNotFound if id is unknown.
	FailedAction(ctx context.Context, id string) (model.FailedActionRecord, error)
	FindFailedAction(ctx context.Context, subjectID, operation string) (model.FailedActionRecord, error)
	// DeleteFailedAction reports whether a record was removed.
	DeleteFailedAction(ctx context.Context, subjectID, operation string) (bool, error)
	ListFailedActions(ctx context.Context) ([]model.FailedActionRecord, error)
	// CleanupFailedActions drops records last attempted before cutoff.
	CleanupFailedActions(ctx context.Context, cutoff time.Time) (int, error)
}

// Milestones stores one record per (subject, kind, threshold).
type Milestones interface {
	// CreateMilestoneIfAbsent atomically inserts rec unless its key exists.
	CreateMilestoneIfAbsent(ctx context.Context, rec model.MilestoneRecord) (bool, error)
	ListMilestones(ctx context.Context, subjectID string) ([]model.MilestoneRecord, error)
}

// Alerts stores operator alerts.
type Alerts interface {
	// RaiseAlert inserts a unless an unresolved alert of the same kind was
	// raised within window before a.RaisedAt. The second return value
	// reports whether a was stored.
	RaiseAlert(ctx context.Context, a model.Alert, window time.Duration) (model.Alert, bool, error)
	ResolveAlert(ctx context.Context, id string, at time.Time) error
	ResolveAlertsOfKind(ctx context.Context, kind model.AlertKind, at time.Time) (int, error)
	ListAlerts(ctx context.Context, activeOnly bool) ([]model.Alert, error)
}

// Samples stores the rolling health history.
type Samples interface {
	AppendSample(ctx context.Context, s model.HealthSample) error
	SamplesSince(ctx context.Context, since time.Time) ([]model.HealthSample, error)
	PruneSamples(ctx context.Context, cutoff time.Time) (int, error)
}

// Store bundles every repository. Implementations are safe for concurrent use.
type Store interface {
	FailedActions
	Milestones
	Alerts
	Samples
	Close() error
}
