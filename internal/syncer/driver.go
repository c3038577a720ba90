// Package syncer drives the sync cycle: for every eligible creator it pushes
// fresh metrics to the ledger and then evaluates milestones.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/okian/tally/internal/domain/ledger"
	"github.com/okian/tally/internal/domain/model"
	"github.com/okian/tally/internal/domain/source"
	"github.com/okian/tally/internal/executor"
	"github.com/okian/tally/internal/milestone"
	"github.com/okian/tally/pkg/logger"
	"github.com/okian/tally/pkg/metrics"
)

// OperationUpdateCreatorMetrics names the metrics write in the failed-action registry.
const OperationUpdateCreatorMetrics = "updateCreatorMetrics"

// Subject results.
const (
	ResultSynced  = "synced"
	ResultFailed  = "failed"
	ResultSkipped = "skipped"
)

// TxExecutor runs ledger writes with retries.
type TxExecutor interface {
	ExecuteWithRetry(ctx context.Context, op executor.Operation, operationName, subjectID string, opts ...executor.RetryOption) model.TransactionResult
}

// MilestoneEvaluator checks a synced snapshot for milestones.
type MilestoneEvaluator interface {
	Evaluate(ctx context.Context, snap model.Snapshot) milestone.Outcome
}

// SubjectError describes why one subject did not sync.
type SubjectError struct {
	SubjectID string `json:"subject_id"`
	Stage     string `json:"stage"`
	Message   string `json:"message"`
}

// Summary reports one SyncAll batch.
type Summary struct {
	StartedAt         time.Time      `json:"started_at"`
	FinishedAt        time.Time      `json:"finished_at"`
	Subjects          int            `json:"subjects"`
	Synced            int            `json:"synced"`
	Failed            int            `json:"failed"`
	Skipped           int            `json:"skipped"`
	MilestonesLogged  int            `json:"milestones_logged"`
	LaunchesTriggered int            `json:"launches_triggered"`
	Errors            []SubjectError `json:"errors,omitempty"`
}

// Duration is the wall time of the batch.
func (s Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// Driver runs sync batches. Subjects are processed one at a time because
// every write goes out from the same sender identity.
type Driver struct {
	source    source.MetricsSource
	client    ledger.Client
	exec      TxExecutor
	evaluator MilestoneEvaluator

	delay     time.Duration
	sleep     executor.Sleeper
	now       func() time.Time
	retryOpts []executor.RetryOption
	logger    logger.Logger

	running sync.Mutex

	mu          sync.RWMutex
	lastSuccess time.Time
	lastSummary *Summary
}

// NewDriver creates a Driver.
func NewDriver(src source.MetricsSource, client ledger.Client, exec TxExecutor, evaluator MilestoneEvaluator, opts ...Option) *Driver {
	d := &Driver{
		source:    src,
		client:    client,
		exec:      exec,
		evaluator: evaluator,
		delay:     DefaultInterSubjectDelay,
		sleep:     executor.SleepContext,
		now:       time.Now,
		logger:    logger.Get().Named("syncer"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SyncAll syncs every eligible subject. It returns an error only when the
// batch could not start or was interrupted; per-subject failures are
// reported in the Summary.
func (d *Driver) SyncAll(ctx context.Context) (Summary, error) {
	if !d.running.TryLock() {
		return Summary{}, ErrSyncInProgress
	}
	defer d.running.Unlock()

	sum := Summary{StartedAt: d.now()}
	subjects, err := d.source.EligibleSubjects(ctx)
	if err != nil {
		sum.FinishedAt = d.now()
		metrics.RecordSyncRun(false, sum.Duration().Seconds())
		d.logger.Error(ctx, "failed to list eligible subjects", logger.Error(err))
		return sum, fmt.Errorf("%w: %w", ErrBatchStart, err)
	}
	sum.Subjects = len(subjects)
	d.logger.Info(ctx, "sync batch started", logger.Int("subjects", len(subjects)))

	var runErr error
	for i, ref := range subjects {
		if i > 0 && d.delay > 0 {
			if err := d.sleep(ctx, d.delay); err != nil {
				runErr = fmt.Errorf("sync interrupted after %d of %d subjects: %w", i, len(subjects), err)
				break
			}
		}
		d.syncSubject(ctx, ref, &sum)
	}

	sum.FinishedAt = d.now()
	if runErr == nil && (sum.Synced > 0 || sum.Subjects == 0) {
		d.markSuccess(sum.FinishedAt)
	}
	d.mu.Lock()
	last := sum
	d.lastSummary = &last
	d.mu.Unlock()

	metrics.RecordSyncRun(runErr == nil, sum.Duration().Seconds())
	d.logger.Info(ctx, "sync batch finished",
		logger.Int("subjects", sum.Subjects),
		logger.Int("synced", sum.Synced),
		logger.Int("failed", sum.Failed),
		logger.Int("skipped", sum.Skipped),
		logger.Int("milestones", sum.MilestonesLogged),
		logger.Int("launches", sum.LaunchesTriggered),
		logger.Duration("duration", sum.Duration()),
	)
	return sum, runErr
}

func (d *Driver) syncSubject(ctx context.Context, ref model.SubjectRef, sum *Summary) {
	log := d.logger.With(logger.SubjectID(ref.SubjectID))

	snap, err := d.source.Metrics(ctx, ref.SubjectID)
	if err == nil {
		if snap.WalletAddress == "" {
			snap.WalletAddress = ref.WalletAddress
		}
		err = snap.Validate()
	}
	if err != nil {
		log.Warn(ctx, "skipping subject", logger.Error(err))
		d.fail(ctx, sum, ref.SubjectID, "metrics", err.Error(), ResultSkipped)
		return
	}

	op := func(ctx context.Context, opts ledger.CallOptions) (ledger.Handle, error) {
		return d.client.UpdateMetrics(ctx, snap.WalletAddress,
			snap.MonthlyPlays, snap.Followers, snap.MonthlyRevenue, snap.EngagementScore, opts)
	}
	retryOpts := append([]executor.RetryOption{
		executor.WithActionContext(map[string]string{
			"wallet":     snap.WalletAddress,
			"streams":    strconv.FormatUint(snap.MonthlyPlays, 10),
			"followers":  strconv.FormatUint(snap.Followers, 10),
			"revenue":    strconv.FormatFloat(snap.MonthlyRevenue, 'f', -1, 64),
			"engagement": strconv.Itoa(int(snap.EngagementScore)),
		}),
	}, d.retryOpts...)

	res := d.exec.ExecuteWithRetry(ctx, op, OperationUpdateCreatorMetrics, ref.SubjectID, retryOpts...)
	if !res.Success {
		d.fail(ctx, sum, ref.SubjectID, "update", fmt.Sprintf("%s: %s", res.ErrorClass, res.ErrorMessage), ResultFailed)
		return
	}

	outcome := d.evaluator.Evaluate(ctx, snap)
	sum.MilestonesLogged += outcome.Count(milestone.EventMilestoneLogged)
	sum.LaunchesTriggered += outcome.Count(milestone.EventLaunchTriggered)
	for _, ev := range outcome.Events {
		if ev.Kind == milestone.EventMilestoneError {
			sum.Errors = append(sum.Errors, SubjectError{SubjectID: ref.SubjectID, Stage: "milestone", Message: ev.Detail})
		}
	}

	if err := d.source.RecordSyncTimestamp(ctx, ref.SubjectID); err != nil {
		log.Warn(ctx, "failed to record sync timestamp", logger.Error(err))
	}
	sum.Synced++
	d.markSuccess(d.now())
	metrics.RecordSyncSubject(ResultSynced)
	log.Debug(ctx, "subject synced", logger.String("tx", res.TxHandle), logger.Int("attempts", res.Attempts))
}

func (d *Driver) fail(ctx context.Context, sum *Summary, subjectID, stage, msg, result string) {
	if result == ResultSkipped {
		sum.Skipped++
	} else {
		sum.Failed++
	}
	sum.Errors = append(sum.Errors, SubjectError{SubjectID: subjectID, Stage: stage, Message: msg})
	metrics.RecordSyncSubject(result)
	if err := d.source.RecordSyncError(ctx, subjectID, msg); err != nil && !errors.Is(err, source.ErrSubjectNotFound) {
		d.logger.Warn(ctx, "failed to record sync error", logger.SubjectID(subjectID), logger.Error(err))
	}
}

func (d *Driver) markSuccess(at time.Time) {
	d.mu.Lock()
	if at.After(d.lastSuccess) {
		d.lastSuccess = at
	}
	d.mu.Unlock()
	metrics.UpdateLastSuccessfulSync(float64(at.Unix()))
}

// LastSuccessfulSync returns when a subject last synced, or the zero time.
func (d *Driver) LastSuccessfulSync() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastSuccess
}

// LastSummary returns the most recent batch summary, if any.
func (d *Driver) LastSummary() (Summary, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.lastSummary == nil {
		return Summary{}, false
	}
	return *d.lastSummary, true
}

// Schedule runs SyncAll every interval until ctx is done. A batch still
// running when the next tick fires is not overlapped.
func (d *Driver) Schedule(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.SyncAll(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) {
				d.logger.Error(ctx, "scheduled sync failed", logger.Error(err))
			}
		}
	}
}
