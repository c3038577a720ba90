package syncer

import (
	"time"

	"github.com/okian/tally/internal/executor"
	"github.com/okian/tally/pkg/logger"
)

// DefaultInterSubjectDelay spaces ledger writes for consecutive subjects.
const DefaultInterSubjectDelay = time.Second

// Option applies a configuration option to the Driver.
type Option func(*Driver)

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(d *Driver) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithInterSubjectDelay sets the pause between subjects. Zero disables it.
func WithInterSubjectDelay(delay time.Duration) Option {
	return func(d *Driver) {
		if delay >= 0 {
			d.delay = delay
		}
	}
}

// WithSleeper overrides how the driver waits between subjects.
func WithSleeper(s executor.Sleeper) Option {
	return func(d *Driver) {
		if s != nil {
			d.sleep = s
		}
	}
}

// WithClock overrides the driver's time source.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) {
		if now != nil {
			d.now = now
		}
	}
}

// WithRetryOptions applies extra retry options to every metrics update.
func WithRetryOptions(opts ...executor.RetryOption) Option {
	return func(d *Driver) {
		d.retryOpts = append(d.retryOpts, opts...)
	}
}
