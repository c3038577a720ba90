package syncer

import (
	"context"
	"fmt"
	"strconv"

	"github.com/okian/tally/internal/domain/ledger"
	"github.com/okian/tally/internal/domain/model"
	"github.com/okian/tally/internal/executor"
)

// ReplayOperation rebuilds the ledger call of a failed action from the
// context recorded with it. Launches are refused once the asset exists.
func (d *Driver) ReplayOperation(ctx context.Context, rec model.FailedActionRecord) (executor.Operation, error) {
	wallet := rec.Context["wallet"]
	if wallet == "" {
		return nil, fmt.Errorf("%w: %s has no wallet", ErrUnsupportedOperation, rec.ID)
	}

	switch rec.Operation {
	case OperationUpdateCreatorMetrics:
		streams, err1 := strconv.ParseUint(rec.Context["streams"], 10, 64)
		followers, err2 := strconv.ParseUint(rec.Context["followers"], 10, 64)
		revenue, err3 := strconv.ParseFloat(rec.Context["revenue"], 64)
		engagement, err4 := strconv.ParseUint(rec.Context["engagement"], 10, 8)
		for _, err := range []error{err1, err2, err3, err4} {
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrUnsupportedOperation, rec.ID, err)
			}
		}
		return func(ctx context.Context, opts ledger.CallOptions) (ledger.Handle, error) {
			return d.client.UpdateMetrics(ctx, wallet, streams, followers, revenue, uint8(engagement), opts)
		}, nil

	case ledger.OpLaunchAsset:
		name, symbol := rec.Context["name"], rec.Context["symbol"]
		supply, err := strconv.ParseFloat(rec.Context["supply"], 64)
		if err != nil || name == "" || symbol == "" {
			return nil, fmt.Errorf("%w: %s has incomplete launch parameters", ErrUnsupportedOperation, rec.ID)
		}
		info, err := d.client.GetAssetInfo(ctx, wallet)
		if err != nil {
			return nil, fmt.Errorf("check asset for %s: %w", rec.SubjectID, err)
		}
		if info.Exists() {
			return nil, fmt.Errorf("%w: %s at %s", ErrAlreadyLaunched, rec.SubjectID, info.AssetAddress)
		}
		return func(ctx context.Context, opts ledger.CallOptions) (ledger.Handle, error) {
			return d.client.LaunchAsset(ctx, wallet, name, symbol, supply, opts)
		}, nil
	}
	return nil, fmt.Errorf("%w: unknown operation %q", ErrUnsupportedOperation, rec.Operation)
}
