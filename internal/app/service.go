// Package service assembles the oracle from configuration and runs its
// background loops.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/okian/tally/internal/adapters/ledger/simulated"
	"github.com/okian/tally/internal/adapters/repository"
	"github.com/okian/tally/internal/adapters/source"
	"github.com/okian/tally/internal/config"
	"github.com/okian/tally/internal/domain/ledger"
	"github.com/okian/tally/internal/domain/model"
	domain "github.com/okian/tally/internal/domain/source"
	"github.com/okian/tally/internal/executor"
	"github.com/okian/tally/internal/health"
	"github.com/okian/tally/internal/milestone"
	"github.com/okian/tally/internal/syncer"
	"github.com/okian/tally/pkg/logger"
	"github.com/okian/tally/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

const (
	systemMetricsInterval = 10 * time.Second
	gcDiscardRatio        = 0.5
)

// ErrNoLedger is returned when no ledger client is configured.
var ErrNoLedger = errors.New("no ledger client configured; set simulate or provide one")

// Service owns every component of the oracle.
type Service struct {
	cfg *config.Config

	store     repository.Store
	source    domain.MetricsSource
	client    ledger.Client
	exec      *executor.Executor
	evaluator *milestone.Evaluator
	driver    *syncer.Driver
	monitor   *health.Monitor

	syncOpts []syncer.Option
	now      func() time.Time
	closers  []func() error
	logger   logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithLedger supplies the ledger client instead of building one from config.
func WithLedger(c ledger.Client) Option {
	return func(s *Service) {
		s.client = c
	}
}

// WithSource supplies the metrics source instead of building one from config.
func WithSource(src domain.MetricsSource) Option {
	return func(s *Service) {
		s.source = src
	}
}

// WithStore supplies the local store instead of opening one from config.
func WithStore(st repository.Store) Option {
	return func(s *Service) {
		s.store = st
	}
}

// WithClock overrides the time source of every component.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSyncOptions passes extra options to the sync driver.
func WithSyncOptions(opts ...syncer.Option) Option {
	return func(s *Service) {
		s.syncOpts = append(s.syncOpts, opts...)
	}
}

// New builds the service. Resources opened here are released by Close.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Service, error) {
	s := &Service{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	if err := s.openStore(); err != nil {
		return nil, err
	}
	if err := s.openSource(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	if s.client == nil {
		if !cfg.Simulate {
			_ = s.Close()
			return nil, ErrNoLedger
		}
		s.client = simulated.New(
			simulated.WithLatencyRange(cfg.SimLatencyMin, cfg.SimLatencyMax),
			simulated.WithSeed(s.now().UnixNano()),
			simulated.WithFaultRate(cfg.SimFaultRate, ledger.NetworkError, ledger.Underpriced, ledger.NonceTooLow, ledger.Timeout),
			simulated.WithLaunchRequirements(cfg.SimLaunchStreams, cfg.SimLaunchFollowers),
		)
		s.logger.Info(ctx, "using simulated ledger")
	}

	s.exec = executor.New(s.client, s.store,
		executor.WithDefaults(cfg.Retry()),
		executor.WithClock(s.now),
		executor.WithLogger(s.logger.Named("executor")),
	)
	s.evaluator = milestone.NewEvaluator(s.client, s.exec, s.store,
		milestone.WithThresholds(cfg.Thresholds()),
		milestone.WithLaunchSupply(cfg.LaunchSupply),
		milestone.WithLaunchRetry(cfg.LaunchMaxRetries, cfg.LaunchGasIncreasePercent),
		milestone.WithClock(s.now),
		milestone.WithLogger(s.logger.Named("milestone")),
	)
	s.driver = syncer.NewDriver(s.source, s.client, s.exec, s.evaluator,
		append([]syncer.Option{
			syncer.WithInterSubjectDelay(cfg.InterSubjectDelay),
			syncer.WithClock(s.now),
			syncer.WithLogger(s.logger.Named("syncer")),
		}, s.syncOpts...)...,
	)
	s.monitor = health.NewMonitor(s.exec, s.store,
		health.WithThresholds(cfg.HealthThresholds()),
		health.WithSyncTracker(s.driver),
		health.WithClock(s.now),
		health.WithLogger(s.logger.Named("health")),
	)
	return s, nil
}

func (s *Service) openStore() error {
	if s.store != nil {
		return nil
	}
	opts := []repository.Option{
		repository.WithFailedActionRetention(s.cfg.FailedActionRetention),
		repository.WithSampleRetention(s.cfg.SampleRetention),
		repository.WithClock(s.now),
		repository.WithLogger(s.logger.Named("store")),
	}
	switch s.cfg.Store {
	case config.StoreBadger:
		st, err := repository.OpenBadger(repository.BadgerConfig{
			Path:       s.cfg.StorePath,
			SyncWrites: s.cfg.BadgerSyncWrites,
		}, opts...)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		s.store = st
	default:
		s.store = repository.NewMemoryStore(opts...)
	}
	s.closers = append(s.closers, s.store.Close)
	return nil
}

func (s *Service) openSource(ctx context.Context) error {
	if s.source != nil {
		return nil
	}
	switch s.cfg.Source {
	case config.SourceSQLite:
		src, err := source.OpenSQLite(ctx, s.cfg.SQLiteDSN,
			source.WithSQLiteClock(s.now),
			source.WithSQLiteEligibilityWindow(s.cfg.EligibilityWindow),
		)
		if err != nil {
			return fmt.Errorf("open metrics source: %w", err)
		}
		s.closers = append(s.closers, src.Close)
		if err := src.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("open metrics source: %w", err)
		}
		s.source = src
	default:
		s.source = source.NewMemory(
			source.WithMemoryClock(s.now),
			source.WithMemoryEligibilityWindow(s.cfg.EligibilityWindow),
		)
	}
	return nil
}

// Run starts the health monitor, the optional sync scheduler and the
// housekeeping loops, and blocks until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if err := s.monitor.Start(ctx, s.cfg.MonitorInterval); err != nil {
		return fmt.Errorf("start monitor: %w", err)
	}
	g.Go(func() error {
		<-ctx.Done()
		s.monitor.Stop()
		return nil
	})

	if s.cfg.SyncInterval > 0 {
		g.Go(func() error {
			s.logger.Info(ctx, "sync scheduler started", logger.Duration("interval", s.cfg.SyncInterval))
			s.driver.Schedule(ctx, s.cfg.SyncInterval)
			return nil
		})
	}

	g.Go(func() error {
		every(ctx, s.cfg.CleanupInterval, func() { s.Cleanup(ctx) })
		return nil
	})
	g.Go(func() error {
		every(ctx, systemMetricsInterval, updateSystemMetrics)
		return nil
	})

	return g.Wait()
}

func every(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
}

// Cleanup drops expired failed actions and health samples and compacts the
// badger value log.
func (s *Service) Cleanup(ctx context.Context) {
	now := s.now()
	if n, err := s.store.CleanupFailedActions(ctx, now.Add(-s.cfg.FailedActionRetention)); err != nil {
		s.logger.Error(ctx, "failed action cleanup failed", logger.Error(err))
	} else if n > 0 {
		s.logger.Info(ctx, "expired failed actions removed", logger.Int("count", n))
	}
	if n, err := s.store.PruneSamples(ctx, now.Add(-s.cfg.SampleRetention)); err != nil {
		s.logger.Error(ctx, "sample pruning failed", logger.Error(err))
	} else if n > 0 {
		s.logger.Debug(ctx, "old health samples removed", logger.Int("count", n))
	}
	if b, ok := s.store.(*repository.BadgerStore); ok {
		if err := b.RunGC(gcDiscardRatio); err != nil {
			s.logger.Warn(ctx, "badger value log GC failed", logger.Error(err))
		}
	}
}

// Close releases the store and source.
func (s *Service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Source returns the metrics source.
func (s *Service) Source() domain.MetricsSource { return s.source }

// Ledger returns the ledger client.
func (s *Service) Ledger() ledger.Client { return s.client }

// Driver returns the sync driver.
func (s *Service) Driver() *syncer.Driver { return s.driver }

// Monitor returns the health monitor.
func (s *Service) Monitor() *health.Monitor { return s.monitor }

// SyncAll runs one sync batch.
func (s *Service) SyncAll(ctx context.Context) (syncer.Summary, error) {
	return s.driver.SyncAll(ctx)
}

// LastSummary returns the summary of the most recent completed batch.
func (s *Service) LastSummary() (syncer.Summary, bool) {
	return s.driver.LastSummary()
}

// SystemStatus implements the API dependency.
func (s *Service) SystemStatus(ctx context.Context) (health.SystemStatus, error) {
	return s.monitor.SystemStatus(ctx)
}

// Report implements the API dependency.
func (s *Service) Report(ctx context.Context) (health.Report, error) {
	return s.monitor.Report(ctx)
}

// Alerts implements the API dependency.
func (s *Service) Alerts(ctx context.Context, activeOnly bool) ([]model.Alert, error) {
	return s.monitor.Alerts(ctx, activeOnly)
}

// ResolveAlert implements the API dependency.
func (s *Service) ResolveAlert(ctx context.Context, id string) error {
	return s.monitor.ResolveAlert(ctx, id)
}

// FailedActions implements the API dependency.
func (s *Service) FailedActions(ctx context.Context) ([]model.FailedActionRecord, error) {
	return s.exec.FailedActions(ctx)
}

// FindFailedAction returns the open failed action for a subject and operation.
func (s *Service) FindFailedAction(ctx context.Context, subjectID, operation string) (model.FailedActionRecord, error) {
	return s.store.FindFailedAction(ctx, subjectID, operation)
}

// RetryFailedAction replays a stored failed action once.
func (s *Service) RetryFailedAction(ctx context.Context, id string) (model.TransactionResult, error) {
	rec, err := s.store.FailedAction(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.TransactionResult{}, fmt.Errorf("%w: %s", executor.ErrNotFound, id)
	}
	if err != nil {
		return model.TransactionResult{}, fmt.Errorf("load failed action %s: %w", id, err)
	}
	op, err := s.driver.ReplayOperation(ctx, rec)
	if err != nil {
		return model.TransactionResult{}, err
	}
	return s.exec.RetryFailedAction(ctx, id, op)
}
