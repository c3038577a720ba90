package simulated_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/tally/internal/adapters/ledger/simulated"
	"github.com/okian/tally/internal/adapters/repository"
	"github.com/okian/tally/internal/domain/ledger"
	"github.com/okian/tally/internal/executor"
	"github.com/okian/tally/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func fastLedger(opts ...simulated.Option) *simulated.Ledger {
	return simulated.New(append([]simulated.Option{simulated.WithLatencyRange(0, time.Millisecond)}, opts...)...)
}

func TestSimulatedLedger(t *testing.T) {
	Convey("Given a simulated ledger", t, func() {
		ctx := context.Background()
		l := fastLedger()

		Convey("A metrics update lands when its receipt is awaited", func() {
			h, err := l.UpdateMetrics(ctx, "0xC1", 52_000, 5_200, 120, 80, ledger.CallOptions{Attempt: 1})
			So(err, ShouldBeNil)
			So(h.ID(), ShouldStartWith, "0x")

			_, ok := l.Metrics("0xc1")
			So(ok, ShouldBeFalse)

			receipt, err := h.Wait(ctx)
			So(err, ShouldBeNil)
			So(receipt.Success, ShouldBeTrue)
			So(receipt.BlockRef, ShouldEqual, uint64(1))

			m, ok := l.Metrics("0xc1")
			So(ok, ShouldBeTrue)
			So(m.MonthlyStreams, ShouldEqual, uint64(52_000))
			So(m.Updates, ShouldEqual, 1)

			Convey("And waiting again does not apply it twice", func() {
				_, err := h.Wait(ctx)
				So(err, ShouldBeNil)
				m, _ := l.Metrics("0xc1")
				So(m.Updates, ShouldEqual, 1)
			})
		})

		Convey("Injected faults are returned in order", func() {
			l.InjectFaults(ledger.Underpriced, ledger.InsufficientFunds)
			_, err := l.UpdateMetrics(ctx, "0xc1", 1, 1, 1, 1, ledger.CallOptions{})
			So(ledger.Classify(err), ShouldEqual, ledger.Underpriced)
			_, err = l.UpdateMetrics(ctx, "0xc1", 1, 1, 1, 1, ledger.CallOptions{})
			So(ledger.Classify(err), ShouldEqual, ledger.InsufficientFunds)
			_, err = l.UpdateMetrics(ctx, "0xc1", 1, 1, 1, 1, ledger.CallOptions{})
			So(err, ShouldBeNil)
			So(l.Submissions(), ShouldEqual, 3)
		})

		Convey("A stale nonce persists until resynced", func() {
			l.InjectFaults(ledger.NonceTooLow)
			for i := 0; i < 2; i++ {
				_, err := l.UpdateMetrics(ctx, "0xc1", 1, 1, 1, 1, ledger.CallOptions{})
				So(ledger.Classify(err), ShouldEqual, ledger.NonceTooLow)
			}
			So(l.ResyncNonce(ctx), ShouldBeNil)
			_, err := l.UpdateMetrics(ctx, "0xc1", 1, 1, 1, 1, ledger.CallOptions{})
			So(err, ShouldBeNil)
		})

		Convey("Launch requirements follow the on-ledger metrics", func() {
			meets, err := l.MeetsLaunchRequirements(ctx, "0xc1")
			So(err, ShouldBeNil)
			So(meets, ShouldBeFalse)

			h, err := l.UpdateMetrics(ctx, "0xc1", 52_000, 5_200, 120, 80, ledger.CallOptions{})
			So(err, ShouldBeNil)
			_, err = h.Wait(ctx)
			So(err, ShouldBeNil)

			meets, err = l.MeetsLaunchRequirements(ctx, "0xc1")
			So(err, ShouldBeNil)
			So(meets, ShouldBeTrue)

			Convey("And an asset launches exactly once", func() {
				h, err := l.LaunchAsset(ctx, "0xc1", "c1 Token", "C1", 1_000_000, ledger.CallOptions{})
				So(err, ShouldBeNil)
				receipt, err := h.Wait(ctx)
				So(err, ShouldBeNil)
				So(receipt.GasUsed, ShouldBeGreaterThan, uint64(0))

				info, err := l.GetAssetInfo(ctx, "0xc1")
				So(err, ShouldBeNil)
				So(info.Exists(), ShouldBeTrue)
				So(info.CirculatingSupply, ShouldEqual, 1_000_000.0)
				So(info.HasRevenueBacking, ShouldBeTrue)

				_, err = l.LaunchAsset(ctx, "0xc1", "c1 Token", "C1", 1_000_000, ledger.CallOptions{})
				So(ledger.Classify(err), ShouldEqual, ledger.ExecutionReverted)
			})
		})

		Convey("Read failures surface as network faults", func() {
			l.FailReads(errors.New("rpc unavailable"))
			_, err := l.MeetsLaunchRequirements(ctx, "0xc1")
			So(ledger.Classify(err), ShouldEqual, ledger.NetworkError)
			_, err = l.GetAssetInfo(ctx, "0xc1")
			So(ledger.Classify(err), ShouldEqual, ledger.NetworkError)
		})

		Convey("Out-of-range engagement reverts", func() {
			_, err := l.UpdateMetrics(ctx, "0xc1", 1, 1, 1, 101, ledger.CallOptions{})
			So(ledger.Classify(err), ShouldEqual, ledger.ExecutionReverted)
		})
	})

	Convey("Given a slow simulated ledger", t, func() {
		l := simulated.New(simulated.WithLatencyRange(time.Second, 2*time.Second))

		Convey("Waiting honours the context", func() {
			h, err := l.UpdateMetrics(context.Background(), "0xc1", 1, 1, 1, 1, ledger.CallOptions{})
			So(err, ShouldBeNil)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
			defer cancel()
			_, err = h.Wait(ctx)
			So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
		})
	})

	Convey("Given a ledger that always fails", t, func() {
		l := fastLedger(simulated.WithFaultRate(1, ledger.OutOfGas))

		Convey("Every submission is rejected with the configured class", func() {
			_, err := l.UpdateMetrics(context.Background(), "0xc1", 1, 1, 1, 1, ledger.CallOptions{})
			So(ledger.Classify(err), ShouldEqual, ledger.OutOfGas)
		})
	})
}

func TestSimulatedLedgerWithExecutor(t *testing.T) {
	Convey("Given the executor driving a simulated ledger", t, func() {
		ctx := context.Background()
		l := fastLedger()
		exec := executor.New(l, repository.NewMemoryStore(),
			executor.WithLogger(logger.Nop()),
			executor.WithSleeper(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
		)
		op := func(ctx context.Context, opts ledger.CallOptions) (ledger.Handle, error) {
			return l.UpdateMetrics(ctx, "0xc1", 10, 10, 1, 50, opts)
		}

		Convey("A stale nonce is resynced and the update lands", func() {
			l.InjectFaults(ledger.NonceTooLow)
			res := exec.ExecuteWithRetry(ctx, op, "updateCreatorMetrics", "c1")
			So(res.Success, ShouldBeTrue)
			So(res.Attempts, ShouldEqual, 2)
			So(l.Resyncs(), ShouldEqual, 1)

			m, ok := l.Metrics("0xc1")
			So(ok, ShouldBeTrue)
			So(m.Updates, ShouldEqual, 1)
		})
	})
}
