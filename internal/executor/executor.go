// Package executor runs state-mutating ledger calls with bounded retries,
// classifies their faults and keeps the registry of calls that ran out of
// attempts.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/okian/tally/internal/adapters/repository"
	"github.com/okian/tally/internal/domain/ledger"
	"github.com/okian/tally/internal/domain/model"
	"github.com/okian/tally/pkg/logger"
	"github.com/okian/tally/pkg/metrics"
)

// recentFailureWindow is the age under which a failed action counts as recent.
const recentFailureWindow = time.Hour

// Operation submits one ledger call. It is invoked once per attempt and must
// be safe to re-invoke with the adjusted options.
type Operation func(ctx context.Context, opts ledger.CallOptions) (ledger.Handle, error)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// HealthMetrics summarizes the failed-action registry.
type HealthMetrics struct {
	TotalFailedActions int                       `json:"total_failed_actions"`
	RecentFailures     int                       `json:"recent_failures"`
	ErrorKindCounts    map[ledger.FaultClass]int `json:"error_kind_counts"`
}

// Stats are attempt counters accumulated since the last drain.
type Stats struct {
	Attempts     int     `json:"attempts"`
	Successes    int     `json:"successes"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	// LatencySamples is the number of confirmations averaged into AvgLatencyMs.
	LatencySamples int `json:"latency_samples"`
}

// Executor runs ledger calls. A single Executor is bound to one sender
// identity; callers serialize writes through it.
type Executor struct {
	client   ledger.Client
	registry repository.FailedActions
	defaults RetryConfig
	sleep    Sleeper
	now      func() time.Time
	logger   logger.Logger

	mu           sync.Mutex
	attempts     int
	successes    int
	latencySumMs float64
	latencyCount int
}

// New creates an Executor. client is used for nonce resyncs only; the calls
// themselves arrive as Operations.
func New(client ledger.Client, registry repository.FailedActions, opts ...Option) *Executor {
	e := &Executor{
		client:   client,
		registry: registry,
		defaults: DefaultRetryConfig(),
		sleep:    SleepContext,
		now:      time.Now,
		logger:   logger.Get().Named("executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Defaults returns the retry configuration applied when no overrides are given.
func (e *Executor) Defaults() RetryConfig {
	return e.defaults
}

// ExecuteWithRetry runs op until it is confirmed, a non-retryable fault
// occurs or the attempt limit is spent. Exhaustion is recorded in the
// failed-action registry; a success clears any record for the same
// (subjectID, operationName) pair. Faults never escape as errors.
func (e *Executor) ExecuteWithRetry(ctx context.Context, op Operation, operationName, subjectID string, opts ...RetryOption) model.TransactionResult {
	p := retryParams{RetryConfig: e.defaults}
	for _, opt := range opts {
		opt(&p)
	}

	start := e.now()
	if op == nil {
		return e.result(start, model.TransactionResult{ErrorClass: string(ledger.Unknown), ErrorMessage: ErrNilOperation.Error()})
	}
	if err := p.validate(); err != nil {
		return e.result(start, model.TransactionResult{ErrorClass: string(ledger.Unknown), ErrorMessage: err.Error()})
	}

	log := e.logger.With(logger.String("operation", operationName), logger.SubjectID(subjectID))

	schedule := backoff.NewExponentialBackOff()
	schedule.InitialInterval = p.BaseDelay
	schedule.MaxInterval = p.MaxDelay
	schedule.Multiplier = p.Multiplier
	schedule.RandomizationFactor = 0
	schedule.Reset()

	var (
		callOpts  ledger.CallOptions
		lastClass ledger.FaultClass
		lastErr   error
		attempts  int
	)
retry:
	for attempts < p.MaxRetries {
		attempts++
		callOpts.Attempt = attempts
		// advance every attempt so the delay after attempt n is base*mult^(n-1)
		delay := schedule.NextBackOff()
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}

		receipt, latency, err := e.attempt(ctx, op, callOpts, p.ConfirmTimeout)
		e.countAttempt(err == nil, latency)
		metrics.RecordTxAttempt(operationName, err == nil)
		if err == nil {
			metrics.RecordTxConfirmationLatency(operationName, float64(latency.Microseconds())/1000)
			if _, derr := e.registry.DeleteFailedAction(context.WithoutCancel(ctx), subjectID, operationName); derr != nil {
				log.Warn(ctx, "failed to clear failed action", logger.Error(derr))
			}
			e.refreshFailedGauge(ctx)
			metrics.RecordTxResult(operationName, true)
			log.Debug(ctx, "ledger call confirmed",
				logger.Int("attempt", attempts),
				logger.String("tx", receipt.TxHandle),
				logger.Duration("latency", latency),
			)
			return e.result(start, model.TransactionResult{
				Success:  true,
				TxHandle: receipt.TxHandle,
				BlockRef: receipt.BlockRef,
				GasUsed:  receipt.GasUsed,
				Attempts: attempts,
			})
		}

		lastErr = err
		lastClass = ledger.Classify(err)
		metrics.RecordTxFault(operationName, string(lastClass))
		fields := []logger.Field{
			logger.Int("attempt", attempts),
			logger.Int("max_retries", p.MaxRetries),
			logger.String("class", string(lastClass)),
			logger.Error(err),
		}
		if lastClass == ledger.Unknown {
			log.Error(ctx, "ledger call failed with unclassified fault", fields...)
		} else {
			log.Warn(ctx, "ledger call failed", fields...)
		}

		policy := ledger.PolicyFor(lastClass)
		if ctx.Err() != nil || !policy.Retryable || attempts == p.MaxRetries {
			break
		}

		switch {
		case policy.ResyncNonce:
			if rerr := e.client.ResyncNonce(ctx); rerr != nil {
				log.Warn(ctx, "nonce resync failed", logger.Error(rerr))
			}
		case policy.BumpGas:
			callOpts.GasPriceBumpPercent = p.GasIncreasePercent * attempts
		case policy.Backoff:
			metrics.RecordTxBackoff(delay.Seconds())
			if serr := e.sleep(ctx, delay); serr != nil {
				lastErr = fmt.Errorf("%w (backoff interrupted: %v)", lastErr, serr)
				break retry
			}
		}
	}

	res := model.TransactionResult{
		ErrorClass:   string(lastClass),
		ErrorMessage: lastErr.Error(),
		Attempts:     attempts,
	}
	e.recordFailure(ctx, subjectID, operationName, res, p.context)
	metrics.RecordTxResult(operationName, false)
	return e.result(start, res)
}

// attempt submits op once and waits for its receipt.
func (e *Executor) attempt(ctx context.Context, op Operation, opts ledger.CallOptions, confirmTimeout time.Duration) (ledger.Receipt, time.Duration, error) {
	submitted := e.now()
	handle, err := op(ctx, opts)
	if err != nil {
		return ledger.Receipt{}, 0, err
	}
	if handle == nil {
		return ledger.Receipt{}, 0, ledger.NewFault(ledger.Unknown, "", errors.New("nil call handle"))
	}

	wctx, cancel := context.WithTimeout(ctx, confirmTimeout)
	defer cancel()
	receipt, err := handle.Wait(wctx)
	latency := e.now().Sub(submitted)
	if err != nil {
		if errors.Is(wctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return ledger.Receipt{}, latency, ledger.NewFault(ledger.Timeout, "", fmt.Errorf("confirmation of %s: %w", handle.ID(), err))
		}
		return ledger.Receipt{}, latency, err
	}
	if !receipt.Success {
		return receipt, latency, ledger.NewFault(ledger.ExecutionReverted, "", fmt.Errorf("receipt %s reports failure", receipt.TxHandle))
	}
	return receipt, latency, nil
}

func (e *Executor) result(start time.Time, r model.TransactionResult) model.TransactionResult {
	r.Elapsed = e.now().Sub(start)
	return r
}

func (e *Executor) recordFailure(ctx context.Context, subjectID, operationName string, res model.TransactionResult, kv map[string]string) {
	ctx = context.WithoutCancel(ctx)
	rec, err := e.registry.UpsertFailedAction(ctx, model.FailedActionRecord{
		SubjectID:     subjectID,
		Operation:     operationName,
		Attempts:      res.Attempts,
		LastAttemptAt: e.now(),
		ErrorClass:    res.ErrorClass,
		ErrorMessage:  res.ErrorMessage,
		Context:       kv,
	})
	if err != nil {
		e.logger.Error(ctx, "failed to record failed action",
			logger.SubjectID(subjectID),
			logger.String("operation", operationName),
			logger.Error(err),
		)
		metrics.RecordErrorByComponent("executor", "registry_write")
		return
	}
	e.logger.Warn(ctx, "ledger call exhausted retries",
		logger.SubjectID(subjectID),
		logger.String("operation", operationName),
		logger.String("failed_action_id", rec.ID),
		logger.Int("attempts", res.Attempts),
		logger.String("class", res.ErrorClass),
	)
	e.refreshFailedGauge(ctx)
}

func (e *Executor) refreshFailedGauge(ctx context.Context) {
	recs, err := e.registry.ListFailedActions(context.WithoutCancel(ctx))
	if err != nil {
		return
	}
	metrics.UpdateFailedActions(len(recs))
}

// RetryFailedAction replays a recorded failure once with op.
func (e *Executor) RetryFailedAction(ctx context.Context, id string, op Operation) (model.TransactionResult, error) {
	rec, err := e.registry.FailedAction(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.TransactionResult{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return model.TransactionResult{}, fmt.Errorf("load failed action %s: %w", id, err)
	}

	e.logger.Info(ctx, "replaying failed action",
		logger.String("failed_action_id", id),
		logger.SubjectID(rec.SubjectID),
		logger.String("operation", rec.Operation),
	)
	res := e.ExecuteWithRetry(ctx, op, rec.Operation, rec.SubjectID,
		WithMaxRetries(1),
		WithActionContext(rec.Context),
	)
	metrics.RecordFailedActionReplay(res.Success)
	return res, nil
}

// HealthMetrics summarizes the registry. It does not modify state.
func (e *Executor) HealthMetrics(ctx context.Context) (HealthMetrics, error) {
	recs, err := e.registry.ListFailedActions(ctx)
	if err != nil {
		return HealthMetrics{}, fmt.Errorf("list failed actions: %w", err)
	}
	hm := HealthMetrics{
		TotalFailedActions: len(recs),
		ErrorKindCounts:    make(map[ledger.FaultClass]int),
	}
	cutoff := e.now().Add(-recentFailureWindow)
	for _, rec := range recs {
		if rec.LastAttemptAt.After(cutoff) {
			hm.RecentFailures++
		}
		class := ledger.FaultClass(rec.ErrorClass)
		if class == "" {
			class = ledger.Unknown
		}
		hm.ErrorKindCounts[class]++
	}
	return hm, nil
}

// FailedActions lists the registry, newest first.
func (e *Executor) FailedActions(ctx context.Context) ([]model.FailedActionRecord, error) {
	return e.registry.ListFailedActions(ctx)
}

func (e *Executor) countAttempt(success bool, latency time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attempts++
	if success {
		e.successes++
	}
	if latency > 0 {
		e.latencySumMs += float64(latency.Microseconds()) / 1000
		e.latencyCount++
	}
}

// Stats returns counters accumulated since the last DrainStats.
func (e *Executor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statsLocked()
}

// DrainStats returns the counters and resets them.
func (e *Executor) DrainStats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.statsLocked()
	e.attempts, e.successes = 0, 0
	e.latencySumMs, e.latencyCount = 0, 0
	return s
}

// RestoreStats adds drained counters back, for a consumer that could not
// persist them.
func (e *Executor) RestoreStats(s Stats) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attempts += s.Attempts
	e.successes += s.Successes
	e.latencySumMs += s.AvgLatencyMs * float64(s.LatencySamples)
	e.latencyCount += s.LatencySamples
}

func (e *Executor) statsLocked() Stats {
	s := Stats{Attempts: e.attempts, Successes: e.successes, LatencySamples: e.latencyCount}
	if e.latencyCount > 0 {
		s.AvgLatencyMs = e.latencySumMs / float64(e.latencyCount)
	}
	return s
}
