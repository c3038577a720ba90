package health

import (
	"time"

	"github.com/okian/tally/pkg/logger"
)

// Default windows.
const (
	DefaultRateWindow  = 24 * time.Hour
	DefaultDedupWindow = time.Hour
	DefaultStaleAfter  = 2 * time.Hour
)

// Thresholds drive status classification and alert rules.
type Thresholds struct {
	SuccessRateCritical float64       `koanf:"success_rate_critical" validate:"gt=0,lte=1"`
	SuccessRateWarning  float64       `koanf:"success_rate_warning" validate:"gtefield=SuccessRateCritical,lte=1"`
	FailuresWarning     int           `koanf:"failures_warning" validate:"gte=0"`
	FailuresCritical    int           `koanf:"failures_critical" validate:"gtefield=FailuresWarning"`
	LatencyWarningMs    float64       `koanf:"latency_warning_ms" validate:"gt=0"`
	LatencyCriticalMs   float64       `koanf:"latency_critical_ms" validate:"gtefield=LatencyWarningMs"`
	StaleAfter          time.Duration `koanf:"stale_after" validate:"gt=0"`
	DedupWindow         time.Duration `koanf:"dedup_window" validate:"gte=0"`
	RateWindow          time.Duration `koanf:"rate_window" validate:"gt=0"`
}

// DefaultThresholds returns the production thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SuccessRateCritical: 0.70,
		SuccessRateWarning:  0.90,
		FailuresWarning:     10,
		FailuresCritical:    25,
		LatencyWarningMs:    30_000,
		LatencyCriticalMs:   60_000,
		StaleAfter:          DefaultStaleAfter,
		DedupWindow:         DefaultDedupWindow,
		RateWindow:          DefaultRateWindow,
	}
}

// Option applies a configuration option to the Monitor.
type Option func(*Monitor)

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock overrides the monitor's time source.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// WithThresholds replaces the default thresholds.
func WithThresholds(t Thresholds) Option {
	return func(m *Monitor) {
		m.thresholds = t
	}
}

// WithSyncTracker sets where the last successful sync time is read from.
func WithSyncTracker(s SyncTracker) Option {
	return func(m *Monitor) {
		m.syncs = s
	}
}
