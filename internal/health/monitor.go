// Package health samples executor outcomes on a timer, classifies overall
// system status and raises or resolves operator alerts.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/okian/tally/internal/adapters/repository"
	"github.com/okian/tally/internal/domain/model"
	"github.com/okian/tally/internal/executor"
	"github.com/okian/tally/pkg/logger"
	"github.com/okian/tally/pkg/metrics"
)

// FailureSource exposes the executor's shared failure state.
type FailureSource interface {
	HealthMetrics(ctx context.Context) (executor.HealthMetrics, error)
	Stats() executor.Stats
	DrainStats() executor.Stats
	RestoreStats(executor.Stats)
}

// SyncTracker reports when a sync last succeeded.
type SyncTracker interface {
	LastSuccessfulSync() time.Time
}

// Store is the persistence the monitor owns.
type Store interface {
	repository.Alerts
	repository.Samples
}

// SystemStatus is the operator-facing summary.
type SystemStatus struct {
	Status          model.Status  `json:"status"`
	SuccessRate     float64       `json:"success_rate"`
	OpenFailures    int           `json:"open_failures"`
	AvgLatencyMs    float64       `json:"avg_latency_ms"`
	LastSync        *time.Time    `json:"last_successful_sync,omitempty"`
	ActiveAlerts    []model.Alert `json:"active_alerts"`
	Recommendations []string      `json:"recommendations"`
}

// Report is the exportable health document.
type Report struct {
	GeneratedAt    time.Time            `json:"generated_at"`
	SystemStatus   SystemStatus         `json:"system_status"`
	RecentMetrics  []model.HealthSample `json:"recent_metrics"`
	ActiveAlerts   []model.Alert        `json:"active_alerts"`
	ErrorBreakdown map[string]int       `json:"error_breakdown"`
}

// signals are the inputs of classification, alerting and recommendations.
type signals struct {
	successRate  float64
	openFailures int
	avgLatencyMs float64
	lastSync     time.Time
	stale        bool
}

// Monitor watches executor health. Its reads of shared state go through
// the executor and the store, both safe for concurrent use.
type Monitor struct {
	exec       FailureSource
	store      Store
	syncs      SyncTracker
	thresholds Thresholds
	now        func() time.Time
	logger     logger.Logger
	startedAt  time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a Monitor.
func NewMonitor(exec FailureSource, store Store, opts ...Option) *Monitor {
	m := &Monitor{
		exec:       exec,
		store:      store,
		thresholds: DefaultThresholds(),
		now:        time.Now,
		logger:     logger.Get().Named("health"),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.startedAt = m.now()
	return m
}

// Thresholds returns the active thresholds.
func (m *Monitor) Thresholds() Thresholds {
	return m.thresholds
}

// Start collects a sample immediately and then every interval until Stop
// is called or ctx ends.
func (m *Monitor) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return ErrAlreadyRunning
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(loopCtx, interval, m.done)
	m.logger.Info(ctx, "health monitoring started", logger.Duration("interval", interval))
	return nil
}

func (m *Monitor) run(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := m.Collect(ctx); err != nil && ctx.Err() == nil {
			metrics.RecordErrorByComponent("health", "collect")
			m.logger.Error(ctx, "health collection failed", logger.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop ends the monitoring loop and waits for it to exit. It is a no-op if
// the monitor is not running.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.logger.Info(context.Background(), "health monitoring stopped")
}

// Collect takes one sample: it drains the executor's attempt counters,
// stores the sample with its classified status and evaluates alert rules.
// Counters drained for a sample that could not be stored are handed back.
func (m *Monitor) Collect(ctx context.Context) (model.HealthSample, error) {
	hm, err := m.exec.HealthMetrics(ctx)
	if err != nil {
		return model.HealthSample{}, fmt.Errorf("read failure state: %w", err)
	}
	stats := m.exec.DrainStats()
	now := m.now()
	sample := model.HealthSample{
		Timestamp:          now,
		TotalAttempts:      stats.Attempts,
		SuccessfulAttempts: stats.Successes,
		AvgLatencyMs:       stats.AvgLatencyMs,
		OpenFailures:       hm.TotalFailedActions,
	}

	history, err := m.store.SamplesSince(ctx, now.Add(-m.thresholds.RateWindow))
	if err != nil {
		m.exec.RestoreStats(stats)
		return model.HealthSample{}, fmt.Errorf("read samples: %w", err)
	}
	sig := m.signals(now, append(history, sample), hm.TotalFailedActions)
	sample.Status = m.thresholds.Classify(sig.successRate, sig.openFailures, sig.avgLatencyMs)

	if err := m.store.AppendSample(ctx, sample); err != nil {
		m.exec.RestoreStats(stats)
		return model.HealthSample{}, fmt.Errorf("append sample: %w", err)
	}
	metrics.UpdateHealth(statusCode(sample.Status), sig.successRate)

	m.evaluateAlerts(ctx, now, sig)

	m.logger.Debug(ctx, "health sample collected",
		logger.String("status", string(sample.Status)),
		logger.Float64("success_rate", sig.successRate),
		logger.Int("open_failures", sig.openFailures),
		logger.Int("attempts", sample.TotalAttempts),
	)
	return sample, nil
}

// SystemStatus classifies the system from stored samples and pending
// executor counters without recording anything.
func (m *Monitor) SystemStatus(ctx context.Context) (SystemStatus, error) {
	hm, err := m.exec.HealthMetrics(ctx)
	if err != nil {
		return SystemStatus{}, fmt.Errorf("read failure state: %w", err)
	}
	now := m.now()
	history, err := m.store.SamplesSince(ctx, now.Add(-m.thresholds.RateWindow))
	if err != nil {
		return SystemStatus{}, fmt.Errorf("read samples: %w", err)
	}
	pending := m.exec.Stats()
	if pending.Attempts > 0 {
		history = append(history, model.HealthSample{
			TotalAttempts:      pending.Attempts,
			SuccessfulAttempts: pending.Successes,
			AvgLatencyMs:       pending.AvgLatencyMs,
		})
	}
	sig := m.signals(now, history, hm.TotalFailedActions)

	active, err := m.store.ListAlerts(ctx, true)
	if err != nil {
		return SystemStatus{}, fmt.Errorf("list alerts: %w", err)
	}
	st := SystemStatus{
		Status:          m.thresholds.Classify(sig.successRate, sig.openFailures, sig.avgLatencyMs),
		SuccessRate:     sig.successRate,
		OpenFailures:    sig.openFailures,
		AvgLatencyMs:    sig.avgLatencyMs,
		ActiveAlerts:    active,
		Recommendations: m.recommendations(sig),
	}
	if !sig.lastSync.IsZero() {
		at := sig.lastSync
		st.LastSync = &at
	}
	return st, nil
}

// Report builds the exportable health document.
func (m *Monitor) Report(ctx context.Context) (Report, error) {
	st, err := m.SystemStatus(ctx)
	if err != nil {
		return Report{}, err
	}
	now := m.now()
	recent, err := m.store.SamplesSince(ctx, now.Add(-m.thresholds.RateWindow))
	if err != nil {
		return Report{}, fmt.Errorf("read samples: %w", err)
	}
	hm, err := m.exec.HealthMetrics(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("read failure state: %w", err)
	}
	breakdown := make(map[string]int, len(hm.ErrorKindCounts))
	for class, n := range hm.ErrorKindCounts {
		breakdown[string(class)] = n
	}
	return Report{
		GeneratedAt:    now,
		SystemStatus:   st,
		RecentMetrics:  recent,
		ActiveAlerts:   st.ActiveAlerts,
		ErrorBreakdown: breakdown,
	}, nil
}

// Alerts lists stored alerts, optionally only unresolved ones.
func (m *Monitor) Alerts(ctx context.Context, activeOnly bool) ([]model.Alert, error) {
	return m.store.ListAlerts(ctx, activeOnly)
}

// ResolveAlert marks an alert resolved. Unknown ids wrap repository.ErrNotFound.
func (m *Monitor) ResolveAlert(ctx context.Context, id string) error {
	if err := m.store.ResolveAlert(ctx, id, m.now()); err != nil {
		return fmt.Errorf("resolve alert %s: %w", id, err)
	}
	m.logger.Info(ctx, "alert resolved", logger.String("alert_id", id))
	m.refreshActiveGauge(ctx)
	return nil
}

func (m *Monitor) signals(now time.Time, samples []model.HealthSample, openFailures int) signals {
	var total, ok int
	var latencySum float64
	var latencyWeight int
	for _, s := range samples {
		total += s.TotalAttempts
		ok += s.SuccessfulAttempts
		if s.TotalAttempts > 0 && s.AvgLatencyMs > 0 {
			latencySum += s.AvgLatencyMs * float64(s.TotalAttempts)
			latencyWeight += s.TotalAttempts
		}
	}
	sig := signals{successRate: 1.0, openFailures: openFailures}
	if total > 0 {
		sig.successRate = float64(ok) / float64(total)
	}
	if latencyWeight > 0 {
		sig.avgLatencyMs = latencySum / float64(latencyWeight)
	}

	ref := m.startedAt
	if m.syncs != nil {
		sig.lastSync = m.syncs.LastSuccessfulSync()
		if !sig.lastSync.IsZero() {
			ref = sig.lastSync
		}
	}
	sig.stale = now.Sub(ref) > m.thresholds.StaleAfter
	return sig
}

// Classify maps the three signals to a status. Critical wins over degraded.
func (t Thresholds) Classify(successRate float64, openFailures int, avgLatencyMs float64) model.Status {
	switch {
	case successRate < t.SuccessRateCritical,
		openFailures > t.FailuresCritical,
		avgLatencyMs > t.LatencyCriticalMs:
		return model.StatusCritical
	case successRate < t.SuccessRateWarning,
		openFailures > t.FailuresWarning,
		avgLatencyMs > t.LatencyWarningMs:
		return model.StatusDegraded
	default:
		return model.StatusHealthy
	}
}

func (m *Monitor) evaluateAlerts(ctx context.Context, now time.Time, sig signals) {
	t := m.thresholds

	switch {
	case sig.successRate < t.SuccessRateCritical:
		m.raise(ctx, now, model.AlertLowSuccessRate, model.SeverityCritical,
			fmt.Sprintf("success rate %.1f%% is below %.0f%%", sig.successRate*100, t.SuccessRateCritical*100),
			map[string]string{"success_rate": fmt.Sprintf("%.4f", sig.successRate)})
	case sig.successRate < t.SuccessRateWarning:
		m.raise(ctx, now, model.AlertLowSuccessRate, model.SeverityHigh,
			fmt.Sprintf("success rate %.1f%% is below %.0f%%", sig.successRate*100, t.SuccessRateWarning*100),
			map[string]string{"success_rate": fmt.Sprintf("%.4f", sig.successRate)})
	default:
		m.resolveKind(ctx, now, model.AlertLowSuccessRate)
	}

	if sig.stale {
		meta := map[string]string{}
		msg := fmt.Sprintf("no successful sync for more than %s", t.StaleAfter)
		if !sig.lastSync.IsZero() {
			meta["last_successful_sync"] = sig.lastSync.UTC().Format(time.RFC3339)
		}
		m.raise(ctx, now, model.AlertStaleData, model.SeverityCritical, msg, meta)
	} else {
		m.resolveKind(ctx, now, model.AlertStaleData)
	}

	if sig.openFailures > t.FailuresWarning {
		m.raise(ctx, now, model.AlertHighFailureCount, model.SeverityHigh,
			fmt.Sprintf("%d failed actions are open", sig.openFailures),
			map[string]string{"open_failures": fmt.Sprint(sig.openFailures)})
	} else {
		m.resolveKind(ctx, now, model.AlertHighFailureCount)
	}

	if sig.avgLatencyMs > t.LatencyWarningMs {
		m.raise(ctx, now, model.AlertHighLatency, model.SeverityMedium,
			fmt.Sprintf("average confirmation latency %.0fms exceeds %.0fms", sig.avgLatencyMs, t.LatencyWarningMs),
			map[string]string{"avg_latency_ms": fmt.Sprintf("%.0f", sig.avgLatencyMs)})
	} else {
		m.resolveKind(ctx, now, model.AlertHighLatency)
	}

	m.refreshActiveGauge(ctx)
}

func (m *Monitor) raise(ctx context.Context, now time.Time, kind model.AlertKind, severity model.Severity, msg string, meta map[string]string) {
	alert := model.Alert{
		ID:       uuid.NewString(),
		Severity: severity,
		Kind:     kind,
		Message:  msg,
		RaisedAt: now,
		Metadata: meta,
	}
	stored, created, err := m.store.RaiseAlert(ctx, alert, m.thresholds.DedupWindow)
	if err != nil {
		metrics.RecordErrorByComponent("health", "raise_alert")
		m.logger.Error(ctx, "raise alert failed", logger.String("kind", string(kind)), logger.Error(err))
		return
	}
	if !created {
		return
	}
	metrics.RecordAlertRaised(string(kind), string(severity))
	m.logger.Warn(ctx, "alert raised",
		logger.String("alert_id", stored.ID),
		logger.String("kind", string(kind)),
		logger.String("severity", string(severity)),
		logger.String("message", msg),
	)
}

func (m *Monitor) resolveKind(ctx context.Context, now time.Time, kind model.AlertKind) {
	n, err := m.store.ResolveAlertsOfKind(ctx, kind, now)
	if err != nil {
		m.logger.Error(ctx, "auto-resolve failed", logger.String("kind", string(kind)), logger.Error(err))
		return
	}
	if n > 0 {
		m.logger.Info(ctx, "alerts auto-resolved", logger.String("kind", string(kind)), logger.Int("count", n))
	}
}

func (m *Monitor) refreshActiveGauge(ctx context.Context) {
	active, err := m.store.ListAlerts(ctx, true)
	if err != nil {
		return
	}
	metrics.UpdateActiveAlerts(len(active))
}

func (m *Monitor) recommendations(sig signals) []string {
	t := m.thresholds
	var out []string
	switch {
	case sig.successRate < t.SuccessRateCritical:
		out = append(out, "Success rate is critically low: check ledger connectivity and fee settings")
	case sig.successRate < t.SuccessRateWarning:
		out = append(out, "Success rate is below target: review recent failed actions")
	}
	if sig.openFailures > t.FailuresWarning {
		out = append(out, "Many failed actions are open: replay or clear them after investigation")
	}
	if sig.avgLatencyMs > t.LatencyWarningMs {
		out = append(out, "Confirmation latency is high: consider raising the fee bump")
	}
	if sig.stale {
		out = append(out, "No recent successful sync: check the metrics source and the scheduler")
	}
	if len(out) == 0 {
		out = append(out, "System is operating normally")
	}
	return out
}

func statusCode(s model.Status) int {
	switch s {
	case model.StatusDegraded:
		return 1
	case model.StatusCritical:
		return 2
	default:
		return 0
	}
}
