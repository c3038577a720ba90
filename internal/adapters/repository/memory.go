package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/okian/tally/internal/domain/model"
	"github.com/okian/tally/pkg/metrics"
)

const memoryStoreName = "memory"

// MemoryStore implements Store with mutex-guarded maps. State does not
// survive a restart. Expired failed actions are hidden on read and
// dropped by the cleanup calls.
type MemoryStore struct {
	mu sync.RWMutex

	opts storeOptions

	failed     map[string]model.FailedActionRecord // pairKey -> record
	failedByID map[string]string                   // id -> pairKey
	milestones map[string]model.MilestoneRecord
	alerts     map[string]model.Alert
	samples    []model.HealthSample // append order == timestamp order
	closed     bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := defaultStoreOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &MemoryStore{
		opts:       o,
		failed:     make(map[string]model.FailedActionRecord),
		failedByID: make(map[string]string),
		milestones: make(map[string]model.MilestoneRecord),
		alerts:     make(map[string]model.Alert),
	}
}

func pairKey(subjectID, operation string) string {
	return subjectID + "\x00" + operation
}

func observe(store, op string, start time.Time) {
	metrics.RecordStoreLatency(store, op, float64(time.Since(start).Microseconds())/1000)
}

// UpsertFailedAction implements FailedActions.
func (s *MemoryStore) UpsertFailedAction(_ context.Context, rec model.FailedActionRecord) (model.FailedActionRecord, error) {
	defer observe(memoryStoreName, "upsert_failed_action", time.Now())
	if rec.SubjectID == "" || rec.Operation == "" {
		return model.FailedActionRecord{}, ErrInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return model.FailedActionRecord{}, ErrClosed
	}

	key := pairKey(rec.SubjectID, rec.Operation)
	if prev, ok := s.failed[key]; ok {
		rec.ID = prev.ID
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Context = cloneMap(rec.Context)
	s.failed[key] = rec
	s.failedByID[rec.ID] = key
	return rec, nil
}

// FailedAction implements FailedActions.
func (s *MemoryStore) FailedAction(_ context.Context, id string) (model.FailedActionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.failedByID[id]
	if !ok || s.expired(s.failed[key]) {
		return model.FailedActionRecord{}, ErrNotFound
	}
	return s.failed[key], nil
}

// FindFailedAction implements FailedActions.
func (s *MemoryStore) FindFailedAction(_ context.Context, subjectID, operation string) (model.FailedActionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.failed[pairKey(subjectID, operation)]
	if !ok || s.expired(rec) {
		return model.FailedActionRecord{}, ErrNotFound
	}
	return rec, nil
}

// DeleteFailedAction implements FailedActions.
func (s *MemoryStore) DeleteFailedAction(_ context.Context, subjectID, operation string) (bool, error) {
	defer observe(memoryStoreName, "delete_failed_action", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(subjectID, operation)
	rec, ok := s.failed[key]
	if !ok {
		return false, nil
	}
	delete(s.failed, key)
	delete(s.failedByID, rec.ID)
	return true, nil
}

// ListFailedActions implements FailedActions, newest first.
func (s *MemoryStore) ListFailedActions(_ context.Context) ([]model.FailedActionRecord, error) {
	s.mu.RLock()
	out := make([]model.FailedActionRecord, 0, len(s.failed))
	for _, rec := range s.failed {
		if !s.expired(rec) {
			out = append(out, rec)
		}
	}
	s.mu.RUnlock()
	sortFailedActions(out)
	return out, nil
}

// expired mirrors the TTL the durable store puts on failed actions.
func (s *MemoryStore) expired(rec model.FailedActionRecord) bool {
	return s.opts.now().Sub(rec.LastAttemptAt) > s.opts.failedActionRetention
}

// CleanupFailedActions implements FailedActions.
func (s *MemoryStore) CleanupFailedActions(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, rec := range s.failed {
		if rec.LastAttemptAt.Before(cutoff) {
			delete(s.failed, key)
			delete(s.failedByID, rec.ID)
			n++
		}
	}
	return n, nil
}

// CreateMilestoneIfAbsent implements Milestones.
func (s *MemoryStore) CreateMilestoneIfAbsent(_ context.Context, rec model.MilestoneRecord) (bool, error) {
	defer observe(memoryStoreName, "create_milestone", time.Now())
	if rec.SubjectID == "" || !rec.Kind.Valid() {
		return false, ErrInvalid
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	key := rec.Key()
	if _, ok := s.milestones[key]; ok {
		return false, nil
	}
	s.milestones[key] = rec
	return true, nil
}

// ListMilestones implements Milestones. An empty subjectID lists all records.
func (s *MemoryStore) ListMilestones(_ context.Context, subjectID string) ([]model.MilestoneRecord, error) {
	s.mu.RLock()
	out := make([]model.MilestoneRecord, 0)
	for _, rec := range s.milestones {
		if subjectID == "" || rec.SubjectID == subjectID {
			out = append(out, rec)
		}
	}
	s.mu.RUnlock()
	sortMilestones(out)
	return out, nil
}

// RaiseAlert implements Alerts.
func (s *MemoryStore) RaiseAlert(_ context.Context, a model.Alert, window time.Duration) (model.Alert, bool, error) {
	defer observe(memoryStoreName, "raise_alert", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return model.Alert{}, false, ErrClosed
	}
	for _, existing := range s.alerts {
		if suppresses(existing, a, window) {
			return existing, false, nil
		}
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.Metadata = cloneMap(a.Metadata)
	s.alerts[a.ID] = a
	return a, true, nil
}

// ResolveAlert implements Alerts.
func (s *MemoryStore) ResolveAlert(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return ErrNotFound
	}
	if !a.Resolved {
		a.Resolved = true
		a.ResolvedAt = &at
		s.alerts[id] = a
	}
	return nil
}

// ResolveAlertsOfKind implements Alerts.
func (s *MemoryStore) ResolveAlertsOfKind(_ context.Context, kind model.AlertKind, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, a := range s.alerts {
		if a.Kind == kind && !a.Resolved {
			a.Resolved = true
			resolvedAt := at
			a.ResolvedAt = &resolvedAt
			s.alerts[id] = a
			n++
		}
	}
	return n, nil
}

// ListAlerts implements Alerts, newest first.
func (s *MemoryStore) ListAlerts(_ context.Context, activeOnly bool) ([]model.Alert, error) {
	s.mu.RLock()
	out := make([]model.Alert, 0, len(s.alerts))
	for _, a := range s.alerts {
		if activeOnly && a.Resolved {
			continue
		}
		out = append(out, a)
	}
	s.mu.RUnlock()
	sortAlerts(out)
	return out, nil
}

// AppendSample implements Samples.
func (s *MemoryStore) AppendSample(_ context.Context, sample model.HealthSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	// keep timestamp order even if a caller appends out of order
	i := sort.Search(len(s.samples), func(i int) bool { return s.samples[i].Timestamp.After(sample.Timestamp) })
	s.samples = append(s.samples, model.HealthSample{})
	copy(s.samples[i+1:], s.samples[i:])
	s.samples[i] = sample
	return nil
}

// SamplesSince implements Samples.
func (s *MemoryStore) SamplesSince(_ context.Context, since time.Time) ([]model.HealthSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := sort.Search(len(s.samples), func(i int) bool { return !s.samples[i].Timestamp.Before(since) })
	out := make([]model.HealthSample, len(s.samples)-i)
	copy(out, s.samples[i:])
	return out, nil
}

// PruneSamples implements Samples.
func (s *MemoryStore) PruneSamples(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := sort.Search(len(s.samples), func(i int) bool { return !s.samples[i].Timestamp.Before(cutoff) })
	s.samples = append([]model.HealthSample(nil), s.samples[i:]...)
	return i, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// suppresses reports whether existing blocks a new alert a.
func suppresses(existing, a model.Alert, window time.Duration) bool {
	if existing.Kind != a.Kind || existing.Resolved {
		return false
	}
	return a.RaisedAt.Sub(existing.RaisedAt) < window
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sortFailedActions(recs []model.FailedActionRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].LastAttemptAt.Equal(recs[j].LastAttemptAt) {
			return recs[i].LastAttemptAt.After(recs[j].LastAttemptAt)
		}
		return recs[i].ID < recs[j].ID
	})
}

func sortMilestones(recs []model.MilestoneRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].RecordedAt.Equal(recs[j].RecordedAt) {
			return recs[i].RecordedAt.Before(recs[j].RecordedAt)
		}
		return recs[i].Key() < recs[j].Key()
	})
}

func sortAlerts(alerts []model.Alert) {
	sort.Slice(alerts, func(i, j int) bool {
		if !alerts[i].RaisedAt.Equal(alerts[j].RaisedAt) {
			return alerts[i].RaisedAt.After(alerts[j].RaisedAt)
		}
		return alerts[i].ID < alerts[j].ID
	})
}
