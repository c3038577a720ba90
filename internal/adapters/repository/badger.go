package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/okian/tally/internal/domain/model"
	"github.com/okian/tally/pkg/logger"
	"github.com/okian/tally/pkg/metrics"
)

const badgerStoreName = "badger"

// Key prefixes. Failed actions are indexed twice: by (subject, operation)
// and by id.
var (
	prefixFailed     = []byte("fa/")
	prefixFailedByID = []byte("fa-id/")
	prefixMilestone  = []byte("ms/")
	prefixAlert      = []byte("al/")
	prefixSample     = []byte("hs/")
)

// maxConflictRetries bounds optimistic transaction retries.
const maxConflictRetries = 5

// BadgerConfig holds configuration for a BadgerDB-backed store.
type BadgerConfig struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string
	// InMemory enables in-memory mode (no disk persistence). Useful for testing.
	InMemory bool
	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool
}

// BadgerStore implements Store on BadgerDB. Failed actions and health
// samples carry TTLs matching their retention windows.
type BadgerStore struct {
	db   *badger.DB
	opts storeOptions

	// alertMu serializes RaiseAlert: the dedup check reads a key range that
	// optimistic transactions cannot protect against phantom inserts.
	alertMu sync.Mutex
}

// badgerLogger adapts logger.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	l logger.Logger
}

func (b *badgerLogger) Errorf(format string, args ...interface{}) {
	b.l.Error(context.Background(), fmt.Sprintf(format, args...))
}

func (b *badgerLogger) Warningf(format string, args ...interface{}) {
	b.l.Warn(context.Background(), fmt.Sprintf(format, args...))
}

func (b *badgerLogger) Infof(format string, args ...interface{}) {
	b.l.Debug(context.Background(), fmt.Sprintf(format, args...))
}

func (b *badgerLogger) Debugf(format string, args ...interface{}) {
	b.l.Debug(context.Background(), fmt.Sprintf(format, args...))
}

// OpenBadger opens (creating if needed) a BadgerDB-backed store.
func OpenBadger(cfg BadgerConfig, opts ...Option) (*BadgerStore, error) {
	o := defaultStoreOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}

	var bopts badger.Options
	if cfg.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		bopts = badger.DefaultOptions(cfg.Path)
	}
	bopts = bopts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{l: o.logger.Named("badger")})

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	return &BadgerStore{db: db, opts: o}, nil
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// RunGC runs one value-log garbage collection pass. ErrNoRewrite is not an error.
func (s *BadgerStore) RunGC(discardRatio float64) error {
	if err := s.db.RunValueLogGC(discardRatio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return err
	}
	return nil
}

func failedKey(subjectID, operation string) []byte {
	return append(append([]byte{}, prefixFailed...), pairKey(subjectID, operation)...)
}

func failedIDKey(id string) []byte {
	return append(append([]byte{}, prefixFailedByID...), id...)
}

func milestoneKey(key string) []byte {
	return append(append([]byte{}, prefixMilestone...), key...)
}

func alertKey(id string) []byte {
	return append(append([]byte{}, prefixAlert...), id...)
}

// sampleKey orders samples by time: fixed-width nanoseconds plus a
// random suffix so equal timestamps do not collide.
func sampleKey(ts time.Time) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", prefixSample, ts.UnixNano(), uuid.NewString()[:8]))
}

func sampleSeekKey(ts time.Time) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixSample, ts.UnixNano()))
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	e := badger.NewEntry(key, raw)
	if ttl > 0 {
		e = e.WithTTL(ttl)
	}
	return txn.SetEntry(e)
}

// scan visits every value under prefix.
func scan(txn *badger.Txn, prefix []byte, fn func(key, val []byte) error) error {
	it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 100, Prefix: prefix})
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		if err := item.Value(func(val []byte) error { return fn(key, val) }); err != nil {
			return err
		}
	}
	return nil
}

// update runs fn in a read-write transaction, retrying on conflicts.
func (s *BadgerStore) update(op string, fn func(txn *badger.Txn) error) error {
	defer observe(badgerStoreName, op, time.Now())
	var err error
	for i := 0; i < maxConflictRetries; i++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		metrics.RecordStoreError(badgerStoreName, op)
	}
	return err
}

func (s *BadgerStore) view(op string, fn func(txn *badger.Txn) error) error {
	defer observe(badgerStoreName, op, time.Now())
	err := s.db.View(fn)
	if err != nil && !errors.Is(err, ErrNotFound) {
		metrics.RecordStoreError(badgerStoreName, op)
	}
	return err
}

func (s *BadgerStore) failedTTL(rec model.FailedActionRecord) time.Duration {
	ttl := s.opts.failedActionRetention - s.opts.now().Sub(rec.LastAttemptAt)
	if ttl <= 0 {
		// already past retention; keep it just long enough to be read back
		ttl = time.Second
	}
	return ttl
}

// UpsertFailedAction implements FailedActions.
func (s *BadgerStore) UpsertFailedAction(_ context.Context, rec model.FailedActionRecord) (model.FailedActionRecord, error) {
	if rec.SubjectID == "" || rec.Operation == "" {
		return model.FailedActionRecord{}, ErrInvalid
	}
	out := rec
	err := s.update("upsert_failed_action", func(txn *badger.Txn) error {
		out = rec
		var prev model.FailedActionRecord
		switch err := getJSON(txn, failedKey(rec.SubjectID, rec.Operation), &prev); {
		case err == nil:
			out.ID = prev.ID
		case !errors.Is(err, ErrNotFound):
			return err
		}
		if out.ID == "" {
			out.ID = uuid.NewString()
		}
		ttl := s.failedTTL(out)
		if err := setJSON(txn, failedKey(out.SubjectID, out.Operation), out, ttl); err != nil {
			return err
		}
		return txn.SetEntry(badger.NewEntry(failedIDKey(out.ID), failedKey(out.SubjectID, out.Operation)).WithTTL(ttl))
	})
	if err != nil {
		return model.FailedActionRecord{}, fmt.Errorf("upsert failed action: %w", err)
	}
	return out, nil
}

// FailedAction implements FailedActions.
func (s *BadgerStore) FailedAction(_ context.Context, id string) (model.FailedActionRecord, error) {
	var rec model.FailedActionRecord
	err := s.view("get_failed_action", func(txn *badger.Txn) error {
		item, err := txn.Get(failedIDKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return getJSON(txn, key, &rec)
	})
	return rec, err
}

// FindFailedAction implements FailedActions.
func (s *BadgerStore) FindFailedAction(_ context.Context, subjectID, operation string) (model.FailedActionRecord, error) {
	var rec model.FailedActionRecord
	err := s.view("find_failed_action", func(txn *badger.Txn) error {
		return getJSON(txn, failedKey(subjectID, operation), &rec)
	})
	return rec, err
}

// DeleteFailedAction implements FailedActions.
func (s *BadgerStore) DeleteFailedAction(_ context.Context, subjectID, operation string) (bool, error) {
	var deleted bool
	err := s.update("delete_failed_action", func(txn *badger.Txn) error {
		deleted = false
		var rec model.FailedActionRecord
		err := getJSON(txn, failedKey(subjectID, operation), &rec)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := txn.Delete(failedKey(subjectID, operation)); err != nil {
			return err
		}
		deleted = true
		return txn.Delete(failedIDKey(rec.ID))
	})
	return deleted, err
}

// ListFailedActions implements FailedActions, newest first.
func (s *BadgerStore) ListFailedActions(_ context.Context) ([]model.FailedActionRecord, error) {
	out := make([]model.FailedActionRecord, 0)
	err := s.view("list_failed_actions", func(txn *badger.Txn) error {
		return scan(txn, prefixFailed, func(_, val []byte) error {
			var rec model.FailedActionRecord
			if err := json.Unmarshal(val, &rec); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortFailedActions(out)
	return out, nil
}

// CleanupFailedActions implements FailedActions. TTLs already expire
// records; this handles records written with a longer retention.
func (s *BadgerStore) CleanupFailedActions(_ context.Context, cutoff time.Time) (int, error) {
	n := 0
	err := s.update("cleanup_failed_actions", func(txn *badger.Txn) error {
		n = 0
		var stale []model.FailedActionRecord
		err := scan(txn, prefixFailed, func(_, val []byte) error {
			var rec model.FailedActionRecord
			if err := json.Unmarshal(val, &rec); err != nil {
				return err
			}
			if rec.LastAttemptAt.Before(cutoff) {
				stale = append(stale, rec)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, rec := range stale {
			if err := txn.Delete(failedKey(rec.SubjectID, rec.Operation)); err != nil {
				return err
			}
			if err := txn.Delete(failedIDKey(rec.ID)); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

// CreateMilestoneIfAbsent implements Milestones. Two concurrent inserts of
// the same key conflict at commit; the retry then observes the winner.
func (s *BadgerStore) CreateMilestoneIfAbsent(_ context.Context, rec model.MilestoneRecord) (bool, error) {
	if rec.SubjectID == "" || !rec.Kind.Valid() {
		return false, ErrInvalid
	}
	var created bool
	err := s.update("create_milestone", func(txn *badger.Txn) error {
		created = false
		key := milestoneKey(rec.Key())
		_, err := txn.Get(key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := setJSON(txn, key, rec, 0); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("create milestone: %w", err)
	}
	return created, nil
}

// ListMilestones implements Milestones. An empty subjectID lists all records.
func (s *BadgerStore) ListMilestones(_ context.Context, subjectID string) ([]model.MilestoneRecord, error) {
	prefix := prefixMilestone
	if subjectID != "" {
		prefix = milestoneKey(model.MilestoneKeyPrefix(subjectID))
	}
	out := make([]model.MilestoneRecord, 0)
	err := s.view("list_milestones", func(txn *badger.Txn) error {
		return scan(txn, prefix, func(_, val []byte) error {
			var rec model.MilestoneRecord
			if err := json.Unmarshal(val, &rec); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortMilestones(out)
	return out, nil
}

// RaiseAlert implements Alerts.
func (s *BadgerStore) RaiseAlert(_ context.Context, a model.Alert, window time.Duration) (model.Alert, bool, error) {
	s.alertMu.Lock()
	defer s.alertMu.Unlock()

	var (
		stored  = a
		created bool
	)
	err := s.update("raise_alert", func(txn *badger.Txn) error {
		stored, created = a, false
		var blocker *model.Alert
		err := scan(txn, prefixAlert, func(_, val []byte) error {
			if blocker != nil {
				return nil
			}
			var existing model.Alert
			if err := json.Unmarshal(val, &existing); err != nil {
				return err
			}
			if suppresses(existing, a, window) {
				blocker = &existing
			}
			return nil
		})
		if err != nil {
			return err
		}
		if blocker != nil {
			stored = *blocker
			return nil
		}
		if stored.ID == "" {
			stored.ID = uuid.NewString()
		}
		created = true
		return setJSON(txn, alertKey(stored.ID), stored, 0)
	})
	if err != nil {
		return model.Alert{}, false, fmt.Errorf("raise alert: %w", err)
	}
	return stored, created, nil
}

// ResolveAlert implements Alerts.
func (s *BadgerStore) ResolveAlert(_ context.Context, id string, at time.Time) error {
	return s.update("resolve_alert", func(txn *badger.Txn) error {
		var a model.Alert
		if err := getJSON(txn, alertKey(id), &a); err != nil {
			return err
		}
		if a.Resolved {
			return nil
		}
		a.Resolved = true
		a.ResolvedAt = &at
		return setJSON(txn, alertKey(id), a, 0)
	})
}

// ResolveAlertsOfKind implements Alerts.
func (s *BadgerStore) ResolveAlertsOfKind(_ context.Context, kind model.AlertKind, at time.Time) (int, error) {
	n := 0
	err := s.update("resolve_alerts_of_kind", func(txn *badger.Txn) error {
		n = 0
		var open []model.Alert
		err := scan(txn, prefixAlert, func(_, val []byte) error {
			var a model.Alert
			if err := json.Unmarshal(val, &a); err != nil {
				return err
			}
			if a.Kind == kind && !a.Resolved {
				open = append(open, a)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, a := range open {
			a.Resolved = true
			resolvedAt := at
			a.ResolvedAt = &resolvedAt
			if err := setJSON(txn, alertKey(a.ID), a, 0); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

// ListAlerts implements Alerts, newest first.
func (s *BadgerStore) ListAlerts(_ context.Context, activeOnly bool) ([]model.Alert, error) {
	out := make([]model.Alert, 0)
	err := s.view("list_alerts", func(txn *badger.Txn) error {
		return scan(txn, prefixAlert, func(_, val []byte) error {
			var a model.Alert
			if err := json.Unmarshal(val, &a); err != nil {
				return err
			}
			if !activeOnly || !a.Resolved {
				out = append(out, a)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortAlerts(out)
	return out, nil
}

// AppendSample implements Samples.
func (s *BadgerStore) AppendSample(_ context.Context, sample model.HealthSample) error {
	return s.update("append_sample", func(txn *badger.Txn) error {
		return setJSON(txn, sampleKey(sample.Timestamp), sample, s.opts.sampleRetention)
	})
}

// SamplesSince implements Samples, oldest first.
func (s *BadgerStore) SamplesSince(_ context.Context, since time.Time) ([]model.HealthSample, error) {
	out := make([]model.HealthSample, 0)
	err := s.view("samples_since", func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 100, Prefix: prefixSample})
		defer it.Close()
		for it.Seek(sampleSeekKey(since)); it.ValidForPrefix(prefixSample); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var hs model.HealthSample
				if err := json.Unmarshal(val, &hs); err != nil {
					return err
				}
				out = append(out, hs)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

// PruneSamples implements Samples.
func (s *BadgerStore) PruneSamples(_ context.Context, cutoff time.Time) (int, error) {
	n := 0
	err := s.update("prune_samples", func(txn *badger.Txn) error {
		n = 0
		var stale [][]byte
		limit := string(sampleSeekKey(cutoff))
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefixSample})
		for it.Seek(prefixSample); it.ValidForPrefix(prefixSample); it.Next() {
			key := it.Item().KeyCopy(nil)
			if string(key) >= limit {
				break
			}
			stale = append(stale, key)
		}
		it.Close()
		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}
