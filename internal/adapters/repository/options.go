package repository

import (
	"time"

	"github.com/okian/tally/pkg/logger"
)

type storeOptions struct {
	failedActionRetention time.Duration
	sampleRetention       time.Duration
	now                   func() time.Time
	logger                logger.Logger
}

func defaultStoreOptions() storeOptions {
	return storeOptions{
		failedActionRetention: DefaultFailedActionRetention,
		sampleRetention:       DefaultSampleRetention,
		now:                   time.Now,
		logger:                logger.Nop(),
	}
}

// Option applies a configuration option to a store.
type Option func(*storeOptions)

// WithFailedActionRetention sets how long failed actions live.
func WithFailedActionRetention(d time.Duration) Option {
	return func(o *storeOptions) {
		if d > 0 {
			o.failedActionRetention = d
		}
	}
}

// WithSampleRetention sets how long health samples live.
func WithSampleRetention(d time.Duration) Option {
	return func(o *storeOptions) {
		if d > 0 {
			o.sampleRetention = d
		}
	}
}

// WithClock overrides the time source used for TTL bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(o *storeOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(o *storeOptions) {
		if l != nil {
			o.logger = l
		}
	}
}
