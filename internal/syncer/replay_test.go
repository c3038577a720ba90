package syncer_test

import (
	"context"
	"errors"
	"testing"

	"github.com/okian/tally/internal/domain/ledger"
	"github.com/okian/tally/internal/domain/model"
	"github.com/okian/tally/internal/syncer"
	. "github.com/smartystreets/goconvey/convey"
)

type launchedLedger struct {
	stubLedger
}

func (l *launchedLedger) GetAssetInfo(context.Context, string) (ledger.AssetInfo, error) {
	return ledger.AssetInfo{AssetAddress: "0xasset"}, nil
}

func TestReplayOperation(t *testing.T) {
	Convey("Given a failed metrics update", t, func() {
		ctx := context.Background()
		f := newFixture()
		f.src.Put(creator("b", 100))
		f.client.failWallets["0xb"] = ledger.NetworkError
		_, err := f.driver.SyncAll(ctx)
		So(err, ShouldBeNil)

		rec, err := f.store.FindFailedAction(ctx, "b", syncer.OperationUpdateCreatorMetrics)
		So(err, ShouldBeNil)

		Convey("The stored context rebuilds the same call", func() {
			delete(f.client.failWallets, "0xb")
			op, err := f.driver.ReplayOperation(ctx, rec)
			So(err, ShouldBeNil)

			h, err := op(ctx, ledger.CallOptions{Attempt: 1})
			So(err, ShouldBeNil)
			So(h.ID(), ShouldEqual, "0xtx-0xb")
		})

		Convey("A record without a wallet cannot be replayed", func() {
			rec.Context = nil
			_, err := f.driver.ReplayOperation(ctx, rec)
			So(errors.Is(err, syncer.ErrUnsupportedOperation), ShouldBeTrue)
		})

		Convey("Unknown operations are rejected", func() {
			rec.Operation = "burn"
			_, err := f.driver.ReplayOperation(ctx, rec)
			So(errors.Is(err, syncer.ErrUnsupportedOperation), ShouldBeTrue)
		})
	})

	Convey("Given a failed launch for a subject that now has an asset", t, func() {
		client := &launchedLedger{}
		f := newFixture()
		d := syncer.NewDriver(f.src, client, nil, nil)
		rec := model.FailedActionRecord{
			ID:        "id-1",
			SubjectID: "c1",
			Operation: ledger.OpLaunchAsset,
			Context:   map[string]string{"wallet": "0xc1", "name": "c1 Token", "symbol": "C1", "supply": "1000000"},
		}

		Convey("The replay is refused", func() {
			_, err := d.ReplayOperation(context.Background(), rec)
			So(errors.Is(err, syncer.ErrAlreadyLaunched), ShouldBeTrue)
		})
	})
}
