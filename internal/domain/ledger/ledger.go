// Package ledger defines the contract of the remote, fee-metered ledger the
// oracle writes to, together with the structured fault taxonomy its adapters
// return.
package ledger

import (
	"context"
	"strings"
)

// Ledger call names, used for logging, metrics and fault tagging.
const (
	OpUpdateMetrics           = "updateMetrics"
	OpLaunchAsset             = "launchAsset"
	OpMeetsLaunchRequirements = "meetsLaunchRequirements"
	OpGetAssetInfo            = "getAssetInfo"
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

// CallOptions carries per-attempt parameters into a state-mutating call so
// the adapter can raise the fee after an underpriced rejection.
type CallOptions struct {
	Attempt             int
	GasPriceBumpPercent int
}

// Receipt is the confirmed outcome of a submitted call.
type Receipt struct {
	TxHandle string
	BlockRef uint64
	GasUsed  uint64
	Success  bool
}

// Handle is returned by a submitted call and resolves to a receipt.
type Handle interface {
	ID() string
	// Wait blocks until the call is confirmed or ctx is done.
	Wait(ctx context.Context) (Receipt, error)
}

// AssetInfo describes a creator's launched asset, if any.
type AssetInfo struct {
	AssetAddress      string  `json:"asset_address"`
	IntrinsicValue    float64 `json:"intrinsic_value"`
	CirculatingSupply float64 `json:"circulating_supply"`
	HasRevenueBacking bool    `json:"has_revenue_backing"`
}

// Exists reports whether an asset has been launched.
func (a AssetInfo) Exists() bool {
	addr := strings.TrimSpace(a.AssetAddress)
	return addr != "" && !strings.EqualFold(addr, zeroAddress)
}

// Client is the ledger call surface. Every method may fail with a *Fault.
type Client interface {
	UpdateMetrics(ctx context.Context, address string, monthlyStreams, followers uint64, monthlyRevenue float64, engagement uint8, opts CallOptions) (Handle, error)
	LaunchAsset(ctx context.Context, address, name, symbol string, initialSupply float64, opts CallOptions) (Handle, error)
	MeetsLaunchRequirements(ctx context.Context, address string) (bool, error)
	GetAssetInfo(ctx context.Context, address string) (AssetInfo, error)
	// ResyncNonce refreshes the sender's pending call counter.
	ResyncNonce(ctx context.Context) error
}
