package executor

import (
	"fmt"
	"time"

	"github.com/okian/tally/pkg/logger"
)

// Retry defaults.
const (
	DefaultMaxRetries         = 3
	DefaultBaseDelay          = 2 * time.Second
	DefaultMaxDelay           = 30 * time.Second
	DefaultMultiplier         = 2.0
	DefaultGasIncreasePercent = 10
	DefaultConfirmTimeout     = 300 * time.Second
)

// RetryConfig bounds one ExecuteWithRetry call.
type RetryConfig struct {
	MaxRetries         int           `koanf:"max_retries" validate:"gte=1"`
	BaseDelay          time.Duration `koanf:"base_delay" validate:"gte=0"`
	MaxDelay           time.Duration `koanf:"max_delay" validate:"gte=0"`
	Multiplier         float64       `koanf:"multiplier" validate:"gte=1"`
	GasIncreasePercent int           `koanf:"gas_increase_percent" validate:"gte=0"`
	ConfirmTimeout     time.Duration `koanf:"confirm_timeout" validate:"gt=0"`
}

// DefaultRetryConfig returns the stock retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:         DefaultMaxRetries,
		BaseDelay:          DefaultBaseDelay,
		MaxDelay:           DefaultMaxDelay,
		Multiplier:         DefaultMultiplier,
		GasIncreasePercent: DefaultGasIncreasePercent,
		ConfirmTimeout:     DefaultConfirmTimeout,
	}
}

func (c RetryConfig) validate() error {
	switch {
	case c.MaxRetries < 1:
		return fmt.Errorf("%w: max retries %d", ErrInvalidRetryConfig, c.MaxRetries)
	case c.Multiplier < 1:
		return fmt.Errorf("%w: multiplier %g", ErrInvalidRetryConfig, c.Multiplier)
	case c.ConfirmTimeout <= 0:
		return fmt.Errorf("%w: confirm timeout %s", ErrInvalidRetryConfig, c.ConfirmTimeout)
	case c.BaseDelay < 0 || c.MaxDelay < 0:
		return fmt.Errorf("%w: negative delay", ErrInvalidRetryConfig)
	}
	return nil
}

// retryParams is the per-call view built from RetryOptions.
type retryParams struct {
	RetryConfig
	context map[string]string
}

// RetryOption adjusts a single ExecuteWithRetry call.
type RetryOption func(*retryParams)

// WithMaxRetries sets the attempt limit.
func WithMaxRetries(n int) RetryOption {
	return func(p *retryParams) { p.MaxRetries = n }
}

// WithBaseDelay sets the first backoff delay.
func WithBaseDelay(d time.Duration) RetryOption {
	return func(p *retryParams) { p.BaseDelay = d }
}

// WithMaxDelay caps the backoff delay.
func WithMaxDelay(d time.Duration) RetryOption {
	return func(p *retryParams) { p.MaxDelay = d }
}

// WithMultiplier sets the backoff growth factor.
func WithMultiplier(m float64) RetryOption {
	return func(p *retryParams) { p.Multiplier = m }
}

// WithGasIncreasePercent sets the per-attempt fee bump after an underpriced rejection.
func WithGasIncreasePercent(pct int) RetryOption {
	return func(p *retryParams) { p.GasIncreasePercent = pct }
}

// WithConfirmTimeout bounds the wait for each receipt.
func WithConfirmTimeout(d time.Duration) RetryOption {
	return func(p *retryParams) { p.ConfirmTimeout = d }
}

// WithActionContext attaches key/value details stored on a failed action.
func WithActionContext(kv map[string]string) RetryOption {
	return func(p *retryParams) {
		if p.context == nil {
			p.context = make(map[string]string, len(kv))
		}
		for k, v := range kv {
			p.context[k] = v
		}
	}
}

// Option applies a configuration option to the Executor.
type Option func(*Executor)

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithDefaults replaces the retry configuration used when a call passes no overrides.
func WithDefaults(cfg RetryConfig) Option {
	return func(e *Executor) {
		e.defaults = cfg
	}
}

// WithSleeper overrides how the executor waits between attempts.
func WithSleeper(s Sleeper) Option {
	return func(e *Executor) {
		if s != nil {
			e.sleep = s
		}
	}
}

// WithClock overrides the executor's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}
