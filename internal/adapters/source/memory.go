// Package source provides MetricsSource adapters.
package source

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okian/tally/internal/domain/model"
	domain "github.com/okian/tally/internal/domain/source"
)

// DefaultEligibilityWindow is how long a synced subject stays ineligible.
const DefaultEligibilityWindow = time.Hour

type memoryEntry struct {
	snapshot  model.Snapshot
	syncedAt  time.Time
	lastError string
}

// Memory is an in-process MetricsSource used by tests and simulation runs.
type Memory struct {
	mu          sync.RWMutex
	entries     map[string]*memoryEntry
	window      time.Duration
	now         func() time.Time
	unavailable error
}

// MemoryOption configures a Memory source.
type MemoryOption func(*Memory)

// WithMemoryClock overrides the clock used for eligibility.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// WithMemoryEligibilityWindow sets how long a synced subject stays ineligible.
func WithMemoryEligibilityWindow(d time.Duration) MemoryOption {
	return func(m *Memory) {
		if d > 0 {
			m.window = d
		}
	}
}

// NewMemory creates an empty Memory source.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		entries: make(map[string]*memoryEntry),
		window:  DefaultEligibilityWindow,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Put inserts or replaces a subject's snapshot. Sync bookkeeping is kept.
func (m *Memory) Put(snap model.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[snap.SubjectID]; ok {
		e.snapshot = snap
		return
	}
	m.entries[snap.SubjectID] = &memoryEntry{snapshot: snap}
}

// SetUnavailable makes every call fail with err until called with nil.
func (m *Memory) SetUnavailable(err error) {
	m.mu.Lock()
	m.unavailable = err
	m.mu.Unlock()
}

// SyncState returns the last sync time and error recorded for a subject.
func (m *Memory) SyncState(subjectID string) (time.Time, string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[subjectID]
	if !ok {
		return time.Time{}, "", false
	}
	return e.syncedAt, e.lastError, true
}

func (m *Memory) check() error {
	if m.unavailable != nil {
		return fmt.Errorf("%w: %w", domain.ErrUnavailable, m.unavailable)
	}
	return nil
}

// EligibleSubjects implements source.MetricsSource.
func (m *Memory) EligibleSubjects(_ context.Context) ([]model.SubjectRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	cutoff := m.now().Add(-m.window)
	out := make([]model.SubjectRef, 0, len(m.entries))
	for id, e := range m.entries {
		if e.snapshot.WalletAddress == "" {
			continue
		}
		if !e.syncedAt.IsZero() && !e.syncedAt.Before(cutoff) {
			continue
		}
		out = append(out, model.SubjectRef{SubjectID: id, WalletAddress: e.snapshot.WalletAddress})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubjectID < out[j].SubjectID })
	return out, nil
}

// Metrics implements source.MetricsSource.
func (m *Memory) Metrics(_ context.Context, subjectID string) (model.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(); err != nil {
		return model.Snapshot{}, err
	}
	e, ok := m.entries[subjectID]
	if !ok {
		return model.Snapshot{}, fmt.Errorf("%w: %s", domain.ErrSubjectNotFound, subjectID)
	}
	snap := e.snapshot
	if snap.ObservedAt.IsZero() {
		snap.ObservedAt = m.now()
	}
	return snap, nil
}

// RecordSyncTimestamp implements source.MetricsSource.
func (m *Memory) RecordSyncTimestamp(_ context.Context, subjectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	e, ok := m.entries[subjectID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSubjectNotFound, subjectID)
	}
	e.syncedAt = m.now()
	e.lastError = ""
	return nil
}

// RecordSyncError implements source.MetricsSource.
func (m *Memory) RecordSyncError(_ context.Context, subjectID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	e, ok := m.entries[subjectID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSubjectNotFound, subjectID)
	}
	e.lastError = message
	return nil
}
