// Package config defines the oracle's configuration and how it is loaded.
package config

import (
	"time"

	"github.com/okian/tally/internal/domain/model"
	"github.com/okian/tally/internal/executor"
	"github.com/okian/tally/internal/health"
	"github.com/okian/tally/internal/milestone"
)

// Store and source kinds.
const (
	StoreMemory  = "memory"
	StoreBadger  = "badger"
	SourceMemory = "memory"
	SourceSQLite = "sqlite"
)

// Config contains process configuration. Keys are flat so every field can be
// set from the environment.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level" validate:"oneof=debug info warn error"`
	// LogFormat selects json or text output.
	LogFormat string `koanf:"log_format" validate:"oneof=json text"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr" validate:"required"`

	// Store selects the local state backend.
	Store            string `koanf:"store" validate:"oneof=memory badger"`
	StorePath        string `koanf:"store_path" validate:"required_if=Store badger"`
	BadgerSyncWrites bool   `koanf:"badger_sync_writes"`

	// Source selects where creator metrics are read from.
	Source            string        `koanf:"source" validate:"oneof=memory sqlite"`
	SQLiteDSN         string        `koanf:"sqlite_dsn" validate:"required_if=Source sqlite"`
	EligibilityWindow time.Duration `koanf:"eligibility_window" validate:"gt=0"`

	// SyncInterval schedules SyncAll from serve. Zero leaves scheduling to an
	// external trigger (POST /sync or the sync command).
	SyncInterval      time.Duration `koanf:"sync_interval" validate:"gte=0"`
	InterSubjectDelay time.Duration `koanf:"inter_subject_delay" validate:"gte=0"`
	MonitorInterval   time.Duration `koanf:"monitor_interval" validate:"gt=0"`
	CleanupInterval   time.Duration `koanf:"cleanup_interval" validate:"gt=0"`

	FailedActionRetention time.Duration `koanf:"failed_action_retention" validate:"gt=0"`
	SampleRetention       time.Duration `koanf:"sample_retention" validate:"gt=0"`

	// Retry defaults for ledger writes.
	MaxRetries         int           `koanf:"max_retries" validate:"gte=1"`
	BaseDelay          time.Duration `koanf:"base_delay" validate:"gte=0"`
	MaxDelay           time.Duration `koanf:"max_delay" validate:"gtefield=BaseDelay"`
	BackoffMultiplier  float64       `koanf:"backoff_multiplier" validate:"gte=1"`
	GasIncreasePercent int           `koanf:"gas_increase_percent" validate:"gte=0,lte=100"`
	ConfirmTimeout     time.Duration `koanf:"confirm_timeout" validate:"gt=0"`

	// Asset launch parameters.
	LaunchSupply             float64 `koanf:"launch_supply" validate:"gt=0"`
	LaunchMaxRetries         int     `koanf:"launch_max_retries" validate:"gte=1"`
	LaunchGasIncreasePercent int     `koanf:"launch_gas_increase_percent" validate:"gte=0,lte=100"`

	// Milestones overrides the default threshold table. YAML only.
	Milestones []model.MilestoneThreshold `koanf:"milestones" validate:"dive"`

	// StaleAfter raises STALE_DATA when no sync succeeded for this long.
	StaleAfter time.Duration `koanf:"stale_after" validate:"gt=0"`

	// Simulate swaps the ledger for the in-memory simulation.
	Simulate           bool          `koanf:"simulate"`
	SimLatencyMin      time.Duration `koanf:"sim_latency_min" validate:"gte=0"`
	SimLatencyMax      time.Duration `koanf:"sim_latency_max" validate:"gtefield=SimLatencyMin"`
	SimFaultRate       float64       `koanf:"sim_fault_rate" validate:"gte=0,lte=1"`
	SimLaunchStreams   uint64        `koanf:"sim_launch_streams"`
	SimLaunchFollowers uint64        `koanf:"sim_launch_followers"`
}

// New creates a Config populated with defaults.
func New() *Config {
	retry := executor.DefaultRetryConfig()
	return &Config{
		LogLevel:                 "info",
		LogFormat:                "json",
		Addr:                     ":9080",
		Store:                    StoreMemory,
		Source:                   SourceMemory,
		EligibilityWindow:        time.Hour,
		InterSubjectDelay:        time.Second,
		MonitorInterval:          5 * time.Minute,
		CleanupInterval:          time.Hour,
		FailedActionRetention:    24 * time.Hour,
		SampleRetention:          7 * 24 * time.Hour,
		MaxRetries:               retry.MaxRetries,
		BaseDelay:                retry.BaseDelay,
		MaxDelay:                 retry.MaxDelay,
		BackoffMultiplier:        retry.Multiplier,
		GasIncreasePercent:       retry.GasIncreasePercent,
		ConfirmTimeout:           retry.ConfirmTimeout,
		LaunchSupply:             milestone.DefaultLaunchSupply,
		LaunchMaxRetries:         milestone.DefaultLaunchMaxRetries,
		LaunchGasIncreasePercent: milestone.DefaultLaunchGasIncreasePercent,
		StaleAfter:               health.DefaultStaleAfter,
		SimLatencyMin:            50 * time.Millisecond,
		SimLatencyMax:            250 * time.Millisecond,
		SimLaunchStreams:         10_000,
		SimLaunchFollowers:       1_000,
	}
}

// Retry returns the executor defaults described by c.
func (c *Config) Retry() executor.RetryConfig {
	return executor.RetryConfig{
		MaxRetries:         c.MaxRetries,
		BaseDelay:          c.BaseDelay,
		MaxDelay:           c.MaxDelay,
		Multiplier:         c.BackoffMultiplier,
		GasIncreasePercent: c.GasIncreasePercent,
		ConfirmTimeout:     c.ConfirmTimeout,
	}
}

// Thresholds returns the configured milestone table, or the default one.
func (c *Config) Thresholds() []model.MilestoneThreshold {
	if len(c.Milestones) == 0 {
		return milestone.DefaultThresholds()
	}
	return append([]model.MilestoneThreshold(nil), c.Milestones...)
}

// HealthThresholds returns the monitor thresholds described by c.
func (c *Config) HealthThresholds() health.Thresholds {
	t := health.DefaultThresholds()
	t.StaleAfter = c.StaleAfter
	return t
}
