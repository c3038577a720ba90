package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/tally/internal/adapters/source"
	service "github.com/okian/tally/internal/app"
	"github.com/okian/tally/internal/config"
	"github.com/okian/tally/internal/domain/model"
	"github.com/okian/tally/internal/health"
	"github.com/okian/tally/internal/syncer"
	"github.com/smartystreets/goconvey/convey"
)

func run(args ...string) (string, error) {
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func fastSimulation(t *testing.T) {
	t.Setenv("TALLY_SIM_LATENCY_MIN", "0s")
	t.Setenv("TALLY_SIM_LATENCY_MAX", "1ms")
	t.Setenv("TALLY_SIM_FAULT_RATE", "0")
	t.Setenv("TALLY_INTER_SUBJECT_DELAY", "0s")
	t.Setenv("TALLY_LOG_LEVEL", "error")
}

func seedSQLite(t *testing.T, dsn string, snaps ...model.Snapshot) {
	ctx := context.Background()
	src, err := source.OpenSQLite(ctx, dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer src.Close()
	if err := src.EnsureSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}
	for _, s := range snaps {
		if err := src.Upsert(ctx, s); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
}

func TestRootCommand(t *testing.T) {
	convey.Convey("Given the tally command", t, func() {
		convey.Convey("Then every subcommand is registered", func() {
			root := newRootCmd()
			for _, name := range []string{"serve", "sync", "report", "failed", "alerts", "seed"} {
				sub, _, err := root.Find([]string{name})
				convey.So(err, convey.ShouldBeNil)
				convey.So(sub.Name(), convey.ShouldEqual, name)
			}
		})

		convey.Convey("When syncing without a ledger", func() {
			fastSimulation(t)
			_, err := run("sync")

			convey.Convey("Then it fails with ErrNoLedger", func() {
				convey.So(errors.Is(err, service.ErrNoLedger), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the config file does not exist", func() {
			t.Setenv(config.EnvFile, "")
			_, err := run("--config", filepath.Join(t.TempDir(), "missing.yaml"), "report")

			convey.Convey("Then loading fails", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When seeding the in-memory source", func() {
			_, err := run("seed")

			convey.Convey("Then it is refused", func() {
				convey.So(errors.Is(err, errSeedSource), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When retry is called without an id", func() {
			fastSimulation(t)
			_, err := run("--simulate", "failed", "retry")

			convey.Convey("Then argument validation rejects it", func() {
				convey.So(err, convey.ShouldNotBeNil)
			})
		})
	})
}

func TestSyncCommand(t *testing.T) {
	convey.Convey("Given a SQLite metrics table and a badger store", t, func() {
		dir := t.TempDir()
		dsn := filepath.Join(dir, "metrics.db")
		seedSQLite(t, dsn, model.Snapshot{
			SubjectID:       "nova",
			WalletAddress:   "0xnova",
			TotalPlays:      52_000,
			MonthlyPlays:    52_000,
			Followers:       5_200,
			MonthlyRevenue:  120,
			EngagementScore: 80,
			ObservedAt:      time.Now(),
		})

		fastSimulation(t)
		t.Setenv("TALLY_SOURCE", "sqlite")
		t.Setenv("TALLY_SQLITE_DSN", dsn)
		t.Setenv("TALLY_STORE", "badger")
		t.Setenv("TALLY_STORE_PATH", filepath.Join(dir, "badger"))

		convey.Convey("When a sync runs", func() {
			out, err := run("--simulate", "sync")
			convey.So(err, convey.ShouldBeNil)

			var sum syncer.Summary
			convey.So(json.Unmarshal([]byte(out), &sum), convey.ShouldBeNil)

			convey.Convey("Then the subject is synced and its milestones logged", func() {
				convey.So(sum.Subjects, convey.ShouldEqual, 1)
				convey.So(sum.Synced, convey.ShouldEqual, 1)
				convey.So(sum.MilestonesLogged, convey.ShouldBeGreaterThan, 0)
			})

			convey.Convey("And a second run finds nothing eligible", func() {
				out, err := run("--simulate", "sync")
				convey.So(err, convey.ShouldBeNil)

				var again syncer.Summary
				convey.So(json.Unmarshal([]byte(out), &again), convey.ShouldBeNil)
				convey.So(again.Subjects, convey.ShouldEqual, 0)
			})

			convey.Convey("And no failed actions are recorded", func() {
				out, err := run("--simulate", "failed", "list")
				convey.So(err, convey.ShouldBeNil)

				var recs []model.FailedActionRecord
				convey.So(json.Unmarshal([]byte(out), &recs), convey.ShouldBeNil)
				convey.So(recs, convey.ShouldBeEmpty)
			})

			convey.Convey("And the report is printed as JSON", func() {
				out, err := run("--simulate", "report")
				convey.So(err, convey.ShouldBeNil)

				var rep health.Report
				convey.So(json.Unmarshal([]byte(out), &rep), convey.ShouldBeNil)
				convey.So(rep.SystemStatus.Status, convey.ShouldNotBeEmpty)
			})
		})

		convey.Convey("When more creators are seeded", func() {
			out, err := run("seed", "--count", "4", "--seed", "1")
			convey.So(err, convey.ShouldBeNil)

			var byTier map[string]int
			convey.So(json.Unmarshal([]byte(out), &byTier), convey.ShouldBeNil)
			convey.So(byTier, convey.ShouldResemble, map[string]int{"emerging": 1, "rising": 1, "established": 1, "star": 1})

			convey.Convey("Then the next sync picks them up", func() {
				out, err := run("--simulate", "sync")
				convey.So(err, convey.ShouldBeNil)

				var sum syncer.Summary
				convey.So(json.Unmarshal([]byte(out), &sum), convey.ShouldBeNil)
				convey.So(sum.Subjects, convey.ShouldEqual, 5)
			})
		})

		convey.Convey("When retrying an unknown failed action", func() {
			_, err := run("--simulate", "failed", "retry", "nope")

			convey.Convey("Then the command fails", func() {
				convey.So(err, convey.ShouldNotBeNil)
			})
		})
	})
}
