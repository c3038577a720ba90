package seed_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/tally/internal/adapters/source"
	"github.com/okian/tally/internal/domain/model"
	"github.com/okian/tally/internal/seed"
	. "github.com/smartystreets/goconvey/convey"
)

type recordingSink struct {
	snaps []model.Snapshot
	err   error
}

func (s *recordingSink) Upsert(_ context.Context, snap model.Snapshot) error {
	if s.err != nil {
		return s.err
	}
	s.snaps = append(s.snaps, snap)
	return nil
}

func TestGenerator(t *testing.T) {
	Convey("Given a seeded generator", t, func() {
		at := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
		g := seed.New(seed.WithSeed(42), seed.WithClock(func() time.Time { return at }))

		Convey("Snapshots stay within their tier and pass validation bounds", func() {
			star := g.Snapshot(seed.TierStar)
			So(star.TotalPlays, ShouldBeGreaterThanOrEqualTo, uint64(1_000_000))
			So(star.Followers, ShouldBeGreaterThanOrEqualTo, uint64(100_000))
			So(star.MonthlyPlays, ShouldBeLessThanOrEqualTo, star.TotalPlays)
			So(star.EngagementScore, ShouldBeLessThanOrEqualTo, uint8(100))
			So(star.ObservedAt, ShouldEqual, at)
			So(star.WalletAddress, ShouldStartWith, "0x")

			emerging := g.Snapshot(seed.TierEmerging)
			So(emerging.TotalPlays, ShouldBeLessThan, uint64(10_000))
			So(emerging.MonthlyRevenue, ShouldBeLessThan, 100.0)
		})

		Convey("Generate cycles through every tier with unique ids", func() {
			snaps, err := g.Generate(8)
			So(err, ShouldBeNil)
			So(snaps, ShouldHaveLength, 8)
			seen := map[string]bool{}
			for _, s := range snaps {
				So(seen[s.SubjectID], ShouldBeFalse)
				seen[s.SubjectID] = true
			}
			So(snaps[3].TotalPlays, ShouldBeGreaterThanOrEqualTo, uint64(1_000_000))
		})

		Convey("A non-positive count is rejected", func() {
			_, err := g.Generate(0)
			So(errors.Is(err, seed.ErrInvalidCount), ShouldBeTrue)
		})

		Convey("Populate writes every snapshot to the sink", func() {
			sink := &recordingSink{}
			byTier, err := g.Populate(context.Background(), sink, 6)
			So(err, ShouldBeNil)
			So(sink.snaps, ShouldHaveLength, 6)
			So(byTier[seed.TierEmerging], ShouldEqual, 2)
			So(byTier[seed.TierStar], ShouldEqual, 1)
		})

		Convey("Populate stops on a sink failure", func() {
			_, err := g.Populate(context.Background(), &recordingSink{err: errors.New("disk full")}, 3)
			So(err, ShouldNotBeNil)
		})
	})

	Convey("Given a generator without wallets", t, func() {
		g := seed.New(seed.WithSeed(7), seed.WithWalletRatio(0))

		Convey("No creator is eligible for sync", func() {
			ctx := context.Background()
			src, err := source.OpenSQLite(ctx, ":memory:")
			So(err, ShouldBeNil)
			defer src.Close()
			So(src.EnsureSchema(ctx), ShouldBeNil)

			_, err = g.Populate(ctx, src, 4)
			So(err, ShouldBeNil)

			refs, err := src.EligibleSubjects(ctx)
			So(err, ShouldBeNil)
			So(refs, ShouldBeEmpty)
		})
	})
}
