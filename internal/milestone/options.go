package milestone

import (
	"time"

	"github.com/okian/tally/internal/domain/model"
	"github.com/okian/tally/pkg/logger"
)

// Launch defaults.
const (
	DefaultLaunchSupply             = 1_000_000
	DefaultLaunchMaxRetries         = 5
	DefaultLaunchGasIncreasePercent = 20
)

// Option applies a configuration option to the Evaluator.
type Option func(*Evaluator)

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Evaluator) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides the time stamped on milestone records.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLaunchSupply sets the initial supply of launched assets.
func WithLaunchSupply(supply float64) Option {
	return func(e *Evaluator) {
		if supply > 0 {
			e.launchSupply = supply
		}
	}
}

// WithLaunchRetry sets the attempt limit and fee bump used for launches.
func WithLaunchRetry(maxRetries, gasIncreasePercent int) Option {
	return func(e *Evaluator) {
		if maxRetries > 0 {
			e.launchMaxRetries = maxRetries
		}
		if gasIncreasePercent >= 0 {
			e.launchGasPercent = gasIncreasePercent
		}
	}
}

// WithThresholds replaces the default threshold table.
func WithThresholds(thresholds []model.MilestoneThreshold) Option {
	return func(e *Evaluator) {
		if len(thresholds) > 0 {
			e.thresholds = append([]model.MilestoneThreshold(nil), thresholds...)
		}
	}
}
