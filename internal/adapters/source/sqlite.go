package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/okian/tally/internal/domain/model"
	domain "github.com/okian/tally/internal/domain/source"
	"github.com/okian/tally/pkg/metrics"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const sqliteStoreName = "sqlite"

// ErrCounterRange is returned by Upsert for a counter SQLite cannot store.
var ErrCounterRange = errors.New("counter exceeds sqlite integer range")

// Schema is the creator_metrics table the SQLite source reads. The table is
// owned by the metrics pipeline; EnsureSchema exists for local runs and tests.
const Schema = `
CREATE TABLE IF NOT EXISTS creator_metrics (
	subject_id       TEXT PRIMARY KEY,
	wallet_address   TEXT,
	display_name     TEXT    NOT NULL DEFAULT '',
	total_plays      INTEGER NOT NULL DEFAULT 0,
	monthly_plays    INTEGER NOT NULL DEFAULT 0,
	followers        INTEGER NOT NULL DEFAULT 0,
	monthly_revenue  REAL    NOT NULL DEFAULT 0,
	engagement_score INTEGER NOT NULL DEFAULT 0,
	observed_at      INTEGER NOT NULL DEFAULT 0,
	last_synced_at   INTEGER,
	last_sync_error  TEXT
);
CREATE INDEX IF NOT EXISTS creator_metrics_last_synced_at ON creator_metrics (last_synced_at);
`

const (
	eligibleQuery = `
SELECT subject_id, wallet_address
FROM creator_metrics
WHERE wallet_address IS NOT NULL AND wallet_address != ''
  AND (last_synced_at IS NULL OR last_synced_at < ?)
ORDER BY subject_id`

	metricsQuery = `
SELECT subject_id, COALESCE(wallet_address, ''), display_name, total_plays, monthly_plays,
       followers, monthly_revenue, engagement_score, observed_at
FROM creator_metrics
WHERE subject_id = ?`

	markSyncedStmt = `UPDATE creator_metrics SET last_synced_at = ?, last_sync_error = NULL WHERE subject_id = ?`
	markErrorStmt  = `UPDATE creator_metrics SET last_sync_error = ? WHERE subject_id = ?`

	upsertStmt = `
INSERT INTO creator_metrics (subject_id, wallet_address, display_name, total_plays, monthly_plays,
                             followers, monthly_revenue, engagement_score, observed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (subject_id) DO UPDATE SET
	wallet_address = excluded.wallet_address,
	display_name = excluded.display_name,
	total_plays = excluded.total_plays,
	monthly_plays = excluded.monthly_plays,
	followers = excluded.followers,
	monthly_revenue = excluded.monthly_revenue,
	engagement_score = excluded.engagement_score,
	observed_at = excluded.observed_at`
)

// SQLite reads creator metrics from a SQLite database.
type SQLite struct {
	db     *sql.DB
	window time.Duration
	now    func() time.Time
}

// SQLiteOption configures a SQLite source.
type SQLiteOption func(*SQLite)

// WithSQLiteClock overrides the clock used for eligibility and sync stamps.
func WithSQLiteClock(now func() time.Time) SQLiteOption {
	return func(s *SQLite) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSQLiteEligibilityWindow sets how long a synced subject stays ineligible.
func WithSQLiteEligibilityWindow(d time.Duration) SQLiteOption {
	return func(s *SQLite) {
		if d > 0 {
			s.window = d
		}
	}
}

// OpenSQLite opens the database at dsn. ":memory:" keeps a private
// in-memory database on a single connection.
func OpenSQLite(ctx context.Context, dsn string, opts ...SQLiteOption) (*SQLite, error) {
	if dsn == "" {
		return nil, errors.New("sqlite dsn is required")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	// SQLite serializes writers; one connection also keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping sqlite: %w", domain.ErrUnavailable, err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}

	s := &SQLite{db: db, window: DefaultEligibilityWindow, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the creator_metrics table if missing.
func (s *SQLite) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Upsert writes a snapshot row. Sync bookkeeping columns are kept.
func (s *SQLite) Upsert(ctx context.Context, snap model.Snapshot) error {
	defer observe("upsert", time.Now())
	for name, v := range map[string]uint64{
		"total_plays":   snap.TotalPlays,
		"monthly_plays": snap.MonthlyPlays,
		"followers":     snap.Followers,
	} {
		if v > math.MaxInt64 {
			return fmt.Errorf("upsert %s: %s=%d: %w", snap.SubjectID, name, v, ErrCounterRange)
		}
	}
	observed := snap.ObservedAt
	if observed.IsZero() {
		observed = s.now()
	}
	var wallet any
	if snap.WalletAddress != "" {
		wallet = snap.WalletAddress
	}
	_, err := s.db.ExecContext(ctx, upsertStmt,
		snap.SubjectID, wallet, snap.DisplayName,
		int64(snap.TotalPlays), int64(snap.MonthlyPlays), int64(snap.Followers),
		snap.MonthlyRevenue, int64(snap.EngagementScore), observed.Unix(),
	)
	if err != nil {
		metrics.RecordStoreError(sqliteStoreName, "upsert")
		return fmt.Errorf("upsert %s: %w", snap.SubjectID, err)
	}
	return nil
}

// EligibleSubjects implements source.MetricsSource.
func (s *SQLite) EligibleSubjects(ctx context.Context) ([]model.SubjectRef, error) {
	defer observe("eligible_subjects", time.Now())
	rows, err := s.db.QueryContext(ctx, eligibleQuery, s.now().Add(-s.window).Unix())
	if err != nil {
		metrics.RecordStoreError(sqliteStoreName, "eligible_subjects")
		return nil, fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
	}
	defer rows.Close()

	out := make([]model.SubjectRef, 0)
	for rows.Next() {
		var ref model.SubjectRef
		if err := rows.Scan(&ref.SubjectID, &ref.WalletAddress); err != nil {
			return nil, fmt.Errorf("scan eligible subject: %w", err)
		}
		out = append(out, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
	}
	return out, nil
}

// Metrics implements source.MetricsSource.
func (s *SQLite) Metrics(ctx context.Context, subjectID string) (model.Snapshot, error) {
	defer observe("metrics", time.Now())
	var (
		snap                                     model.Snapshot
		totalPlays, monthlyPlays, followers, eng int64
		observed                                 int64
	)
	err := s.db.QueryRowContext(ctx, metricsQuery, subjectID).Scan(
		&snap.SubjectID, &snap.WalletAddress, &snap.DisplayName,
		&totalPlays, &monthlyPlays, &followers, &snap.MonthlyRevenue, &eng, &observed,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Snapshot{}, fmt.Errorf("%w: %s", domain.ErrSubjectNotFound, subjectID)
	}
	if err != nil {
		metrics.RecordStoreError(sqliteStoreName, "metrics")
		return model.Snapshot{}, fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
	}
	if totalPlays < 0 || monthlyPlays < 0 || followers < 0 || eng < 0 || eng > 100 {
		return model.Snapshot{}, fmt.Errorf("%w: %s has out-of-range counters", model.ErrInvalidSnapshot, subjectID)
	}
	snap.TotalPlays = uint64(totalPlays)
	snap.MonthlyPlays = uint64(monthlyPlays)
	snap.Followers = uint64(followers)
	snap.EngagementScore = uint8(eng)
	snap.ObservedAt = time.Unix(observed, 0)
	return snap, nil
}

// RecordSyncTimestamp implements source.MetricsSource.
func (s *SQLite) RecordSyncTimestamp(ctx context.Context, subjectID string) error {
	defer observe("record_sync", time.Now())
	return s.exec(ctx, "record_sync", markSyncedStmt, subjectID, s.now().Unix(), subjectID)
}

// RecordSyncError implements source.MetricsSource.
func (s *SQLite) RecordSyncError(ctx context.Context, subjectID, message string) error {
	defer observe("record_error", time.Now())
	return s.exec(ctx, "record_error", markErrorStmt, subjectID, message, subjectID)
}

func (s *SQLite) exec(ctx context.Context, op, stmt, subjectID string, args ...any) error {
	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		metrics.RecordStoreError(sqliteStoreName, op)
		return fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrSubjectNotFound, subjectID)
	}
	return nil
}

func observe(op string, start time.Time) {
	metrics.RecordStoreLatency(sqliteStoreName, op, float64(time.Since(start).Microseconds())/1000)
}
