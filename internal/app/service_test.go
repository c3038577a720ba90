package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/tally/internal/adapters/ledger/simulated"
	"github.com/okian/tally/internal/adapters/repository"
	"github.com/okian/tally/internal/adapters/source"
	service "github.com/okian/tally/internal/app"
	"github.com/okian/tally/internal/config"
	"github.com/okian/tally/internal/domain/ledger"
	"github.com/okian/tally/internal/domain/model"
	"github.com/okian/tally/internal/executor"
	"github.com/okian/tally/internal/syncer"
	"github.com/okian/tally/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func testConfig() *config.Config {
	cfg := config.New()
	cfg.InterSubjectDelay = 0
	cfg.BaseDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond
	cfg.MonitorInterval = 10 * time.Millisecond
	return cfg
}

func fastLedger() *simulated.Ledger {
	return simulated.New(simulated.WithLatencyRange(0, time.Millisecond))
}

func creator(id string, plays, followers uint64) model.Snapshot {
	return model.Snapshot{
		SubjectID:       id,
		WalletAddress:   "0x" + id,
		DisplayName:     "Creator " + id,
		TotalPlays:      plays,
		MonthlyPlays:    plays,
		Followers:       followers,
		MonthlyRevenue:  120,
		EngagementScore: 80,
	}
}

func TestService_New(t *testing.T) {
	Convey("Given a config without a ledger", t, func() {
		cfg := testConfig()

		Convey("Then the service refuses to start", func() {
			_, err := service.New(context.Background(), cfg, service.WithLogger(logger.Nop()))
			So(errors.Is(err, service.ErrNoLedger), ShouldBeTrue)
		})

		Convey("Then simulate builds an in-memory ledger", func() {
			cfg.Simulate = true
			svc, err := service.New(context.Background(), cfg, service.WithLogger(logger.Nop()))
			So(err, ShouldBeNil)
			defer func() { _ = svc.Close() }()
			So(svc.Ledger(), ShouldHaveSameTypeAs, &simulated.Ledger{})
		})
	})

	Convey("Given durable backends", t, func() {
		cfg := testConfig()
		cfg.Simulate = true
		cfg.Store = config.StoreBadger
		cfg.StorePath = t.TempDir()
		cfg.Source = config.SourceSQLite
		cfg.SQLiteDSN = ":memory:"

		Convey("Then badger and sqlite are opened and closed", func() {
			svc, err := service.New(context.Background(), cfg, service.WithLogger(logger.Nop()))
			So(err, ShouldBeNil)
			So(svc.Source(), ShouldHaveSameTypeAs, &source.SQLite{})
			svc.Cleanup(context.Background())
			So(svc.Close(), ShouldBeNil)
		})
	})
}

func TestService_Sync(t *testing.T) {
	Convey("Given a service over a memory source and a simulated ledger", t, func() {
		ctx := context.Background()
		src := source.NewMemory()
		l := fastLedger()
		svc, err := service.New(ctx, testConfig(),
			service.WithSource(src),
			service.WithLedger(l),
			service.WithLogger(logger.Nop()),
		)
		So(err, ShouldBeNil)
		defer func() { _ = svc.Close() }()

		Convey("Then no summary is reported before the first batch", func() {
			_, ok := svc.LastSummary()
			So(ok, ShouldBeFalse)
		})

		Convey("When a popular creator and a newcomer are synced", func() {
			src.Put(creator("nova", 52_000, 5_200))
			src.Put(creator("newbie", 10, 1))
			sum, err := svc.SyncAll(ctx)
			So(err, ShouldBeNil)

			Convey("Then both are written and the popular one launches", func() {
				So(sum.Synced, ShouldEqual, 2)
				So(sum.LaunchesTriggered, ShouldEqual, 1)
				So(sum.MilestonesLogged, ShouldEqual, 6)

				info, err := l.GetAssetInfo(ctx, "0xnova")
				So(err, ShouldBeNil)
				So(info.Exists(), ShouldBeTrue)
			})

			Convey("Then the batch is kept as the last summary", func() {
				last, ok := svc.LastSummary()
				So(ok, ShouldBeTrue)
				So(last.Synced, ShouldEqual, 2)
				So(last.LaunchesTriggered, ShouldEqual, 1)
			})

			Convey("Then the status is healthy", func() {
				st, err := svc.SystemStatus(ctx)
				So(err, ShouldBeNil)
				So(st.Status, ShouldEqual, model.StatusHealthy)
				So(st.LastSync, ShouldNotBeNil)
			})
		})

		Convey("When an update runs out of funds", func() {
			src.Put(creator("broke", 10, 1))
			l.InjectFaults(ledger.InsufficientFunds)
			sum, err := svc.SyncAll(ctx)
			So(err, ShouldBeNil)
			So(sum.Failed, ShouldEqual, 1)

			recs, err := svc.FailedActions(ctx)
			So(err, ShouldBeNil)
			So(len(recs), ShouldEqual, 1)
			So(recs[0].Operation, ShouldEqual, syncer.OperationUpdateCreatorMetrics)

			Convey("Then it can be looked up by subject and operation", func() {
				rec, err := svc.FindFailedAction(ctx, "broke", syncer.OperationUpdateCreatorMetrics)
				So(err, ShouldBeNil)
				So(rec.ID, ShouldEqual, recs[0].ID)

				_, err = svc.FindFailedAction(ctx, "nova", syncer.OperationUpdateCreatorMetrics)
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			})

			Convey("Then replaying it clears the record", func() {
				res, err := svc.RetryFailedAction(ctx, recs[0].ID)
				So(err, ShouldBeNil)
				So(res.Success, ShouldBeTrue)
				So(res.Attempts, ShouldEqual, 1)

				recs, err := svc.FailedActions(ctx)
				So(err, ShouldBeNil)
				So(recs, ShouldBeEmpty)
				m, ok := l.Metrics("0xbroke")
				So(ok, ShouldBeTrue)
				So(m.Updates, ShouldEqual, 1)
			})

			Convey("Then replaying an unknown id fails", func() {
				_, err := svc.RetryFailedAction(ctx, "missing")
				So(errors.Is(err, executor.ErrNotFound), ShouldBeTrue)
			})
		})
	})
}

func TestService_Cleanup(t *testing.T) {
	Convey("Given expired state in the store", t, func() {
		ctx := context.Background()
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		store := repository.NewMemoryStore(repository.WithClock(func() time.Time { return now }))
		svc, err := service.New(ctx, testConfig(),
			service.WithStore(store),
			service.WithLedger(fastLedger()),
			service.WithClock(func() time.Time { return now }),
			service.WithLogger(logger.Nop()),
		)
		So(err, ShouldBeNil)

		_, err = store.UpsertFailedAction(ctx, model.FailedActionRecord{
			SubjectID: "old", Operation: syncer.OperationUpdateCreatorMetrics, LastAttemptAt: now.Add(-25 * time.Hour),
		})
		So(err, ShouldBeNil)
		_, err = store.UpsertFailedAction(ctx, model.FailedActionRecord{
			SubjectID: "fresh", Operation: syncer.OperationUpdateCreatorMetrics, LastAttemptAt: now.Add(-time.Hour),
		})
		So(err, ShouldBeNil)
		So(store.AppendSample(ctx, model.HealthSample{Timestamp: now.Add(-8 * 24 * time.Hour)}), ShouldBeNil)
		So(store.AppendSample(ctx, model.HealthSample{Timestamp: now.Add(-time.Hour)}), ShouldBeNil)

		Convey("When cleanup runs", func() {
			svc.Cleanup(ctx)

			Convey("Then only expired entries are removed", func() {
				_, err := store.FindFailedAction(ctx, "old", syncer.OperationUpdateCreatorMetrics)
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
				_, err = store.FindFailedAction(ctx, "fresh", syncer.OperationUpdateCreatorMetrics)
				So(err, ShouldBeNil)

				samples, err := store.SamplesSince(ctx, time.Time{})
				So(err, ShouldBeNil)
				So(len(samples), ShouldEqual, 1)
			})
		})
	})
}

func TestService_Run(t *testing.T) {
	Convey("Given a running service", t, func() {
		store := repository.NewMemoryStore()
		svc, err := service.New(context.Background(), testConfig(),
			service.WithStore(store),
			service.WithLedger(fastLedger()),
			service.WithLogger(logger.Nop()),
		)
		So(err, ShouldBeNil)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- svc.Run(ctx) }()

		Convey("Then the monitor samples until the context ends", func() {
			deadline := time.Now().Add(2 * time.Second)
			for time.Now().Before(deadline) {
				samples, _ := store.SamplesSince(context.Background(), time.Time{})
				if len(samples) > 0 {
					break
				}
				time.Sleep(5 * time.Millisecond)
			}
			samples, err := store.SamplesSince(context.Background(), time.Time{})
			So(err, ShouldBeNil)
			So(samples, ShouldNotBeEmpty)

			cancel()
			So(<-done, ShouldBeNil)
		})
	})
}
