// Package simulated provides an in-memory ledger with configurable
// confirmation latency and fault injection.
package simulated

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/okian/tally/internal/domain/ledger"
)

// Default simulation parameters.
const (
	defaultMinLatency         = 5 * time.Millisecond
	defaultMaxLatency         = 20 * time.Millisecond
	defaultRandomSeed         = 42
	defaultMinLaunchStreams   = 10_000
	defaultMinLaunchFollowers = 1_000
	defaultGasUsed            = 52_000
	launchGasUsed             = 1_200_000
)

// faultMessages mirror what a real endpoint would return for each class.
var faultMessages = map[ledger.FaultClass]string{
	ledger.NonceTooLow:            "nonce too low",
	ledger.Underpriced:            "transaction underpriced",
	ledger.GasPriceTooLow:         "gas price too low",
	ledger.InsufficientFunds:      "insufficient funds for gas * price + value",
	ledger.NetworkError:           "connection refused",
	ledger.Timeout:                "request timed out",
	ledger.ExecutionReverted:      "execution reverted",
	ledger.OutOfGas:               "out of gas",
	ledger.ReplacementUnderpriced: "replacement transaction underpriced",
	ledger.Unknown:                "unexpected response",
}

// Metrics is the on-ledger copy of a creator's metrics.
type Metrics struct {
	MonthlyStreams uint64
	Followers      uint64
	MonthlyRevenue float64
	Engagement     uint8
	UpdatedAt      time.Time
	Updates        int
}

// Option applies a configuration option to the Ledger.
type Option func(*Ledger)

// WithLatencyRange sets the simulated confirmation latency range.
func WithLatencyRange(minLatency, maxLatency time.Duration) Option {
	return func(l *Ledger) {
		if minLatency >= 0 && maxLatency > minLatency {
			l.minLatency = minLatency
			l.maxLatency = maxLatency
		}
	}
}

// WithSeed seeds the random source used for latency and random faults.
func WithSeed(seed int64) Option {
	return func(l *Ledger) {
		l.rng = rand.New(rand.NewSource(seed)) //nolint:gosec // deterministic simulation
	}
}

// WithFaultRate makes each submission fail with probability rate, using a
// class drawn uniformly from classes.
func WithFaultRate(rate float64, classes ...ledger.FaultClass) Option {
	return func(l *Ledger) {
		if rate >= 0 && rate <= 1 && len(classes) > 0 {
			l.faultRate = rate
			l.randomClasses = append([]ledger.FaultClass(nil), classes...)
		}
	}
}

// WithLaunchRequirements sets the on-ledger metrics a creator needs before
// an asset may be launched.
func WithLaunchRequirements(minStreams, minFollowers uint64) Option {
	return func(l *Ledger) {
		l.minLaunchStreams = minStreams
		l.minLaunchFollowers = minFollowers
	}
}

// Ledger is an in-memory ledger.Client.
type Ledger struct {
	mu sync.Mutex

	minLatency time.Duration
	maxLatency time.Duration
	rng        *rand.Rand

	faultRate     float64
	randomClasses []ledger.FaultClass
	scripted      []ledger.FaultClass
	readErr       error
	nonceStale    bool

	minLaunchStreams   uint64
	minLaunchFollowers uint64

	nonce       uint64
	block       uint64
	metrics     map[string]Metrics
	assets      map[string]ledger.AssetInfo
	submissions int
	resyncs     int
}

// New creates a simulated ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		minLatency:         defaultMinLatency,
		maxLatency:         defaultMaxLatency,
		rng:                rand.New(rand.NewSource(defaultRandomSeed)), //nolint:gosec // deterministic simulation
		minLaunchStreams:   defaultMinLaunchStreams,
		minLaunchFollowers: defaultMinLaunchFollowers,
		metrics:            make(map[string]Metrics),
		assets:             make(map[string]ledger.AssetInfo),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// InjectFaults queues faults returned by the next submissions, in order.
// Injecting NonceTooLow also marks the sender's nonce stale until resynced.
func (l *Ledger) InjectFaults(classes ...ledger.FaultClass) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.scripted = append(l.scripted, classes...)
}

// FailReads makes read calls fail with err until called with nil.
func (l *Ledger) FailReads(err error) {
	l.mu.Lock()
	l.readErr = err
	l.mu.Unlock()
}

// SetAsset seeds a launched asset for address.
func (l *Ledger) SetAsset(address string, info ledger.AssetInfo) {
	l.mu.Lock()
	l.assets[key(address)] = info
	l.mu.Unlock()
}

// Metrics returns the on-ledger metrics of address.
func (l *Ledger) Metrics(address string) (Metrics, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.metrics[key(address)]
	return m, ok
}

// Submissions returns how many state-mutating calls were submitted.
func (l *Ledger) Submissions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.submissions
}

// Resyncs returns how many nonce resyncs were requested.
func (l *Ledger) Resyncs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.resyncs
}

func key(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// submit decides the fate of one submission and, on acceptance, applies
// the state change when the handle confirms.
func (l *Ledger) submit(op string, apply func(), gas uint64) (ledger.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.submissions++

	if l.nonceStale {
		return nil, fault(ledger.NonceTooLow, op)
	}
	if len(l.scripted) > 0 {
		class := l.scripted[0]
		l.scripted = l.scripted[1:]
		if class == ledger.NonceTooLow {
			l.nonceStale = true
		}
		return nil, fault(class, op)
	}
	if l.faultRate > 0 && l.rng.Float64() < l.faultRate {
		return nil, fault(l.randomClasses[l.rng.Intn(len(l.randomClasses))], op)
	}

	l.nonce++
	latency := l.minLatency
	if span := l.maxLatency - l.minLatency; span > 0 {
		latency += time.Duration(l.rng.Int63n(int64(span)))
	}
	return &handle{
		id:      "0x" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		latency: latency,
		ledger:  l,
		apply:   apply,
		gas:     gas,
	}, nil
}

func fault(class ledger.FaultClass, op string) error {
	return ledger.NewFault(class, op, errors.New(faultMessages[class]))
}

// UpdateMetrics implements ledger.Client.
func (l *Ledger) UpdateMetrics(_ context.Context, address string, monthlyStreams, followers uint64, monthlyRevenue float64, engagement uint8, _ ledger.CallOptions) (ledger.Handle, error) {
	if engagement > 100 {
		return nil, ledger.NewFault(ledger.ExecutionReverted, ledger.OpUpdateMetrics, errors.New("engagement score out of range"))
	}
	k := key(address)
	return l.submit(ledger.OpUpdateMetrics, func() {
		m := l.metrics[k]
		m.MonthlyStreams = monthlyStreams
		m.Followers = followers
		m.MonthlyRevenue = monthlyRevenue
		m.Engagement = engagement
		m.UpdatedAt = time.Now()
		m.Updates++
		l.metrics[k] = m
	}, defaultGasUsed)
}

// LaunchAsset implements ledger.Client. A second launch for the same
// address reverts.
func (l *Ledger) LaunchAsset(_ context.Context, address, name, symbol string, initialSupply float64, _ ledger.CallOptions) (ledger.Handle, error) {
	if name == "" || symbol == "" || initialSupply <= 0 {
		return nil, ledger.NewFault(ledger.ExecutionReverted, ledger.OpLaunchAsset, errors.New("invalid asset parameters"))
	}
	k := key(address)
	l.mu.Lock()
	_, exists := l.assets[k]
	l.mu.Unlock()
	if exists {
		return nil, ledger.NewFault(ledger.ExecutionReverted, ledger.OpLaunchAsset, errors.New("asset already launched"))
	}
	return l.submit(ledger.OpLaunchAsset, func() {
		m := l.metrics[k]
		l.assets[k] = ledger.AssetInfo{
			AssetAddress:      fmt.Sprintf("0x%040x", len(l.assets)+1),
			IntrinsicValue:    m.MonthlyRevenue / initialSupply,
			CirculatingSupply: initialSupply,
			HasRevenueBacking: m.MonthlyRevenue > 0,
		}
	}, launchGasUsed)
}

// MeetsLaunchRequirements implements ledger.Client.
func (l *Ledger) MeetsLaunchRequirements(_ context.Context, address string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.readErr != nil {
		return false, ledger.NewFault(ledger.NetworkError, ledger.OpMeetsLaunchRequirements, l.readErr)
	}
	m, ok := l.metrics[key(address)]
	if !ok {
		return false, nil
	}
	return m.MonthlyStreams >= l.minLaunchStreams && m.Followers >= l.minLaunchFollowers, nil
}

// GetAssetInfo implements ledger.Client.
func (l *Ledger) GetAssetInfo(_ context.Context, address string) (ledger.AssetInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.readErr != nil {
		return ledger.AssetInfo{}, ledger.NewFault(ledger.NetworkError, ledger.OpGetAssetInfo, l.readErr)
	}
	return l.assets[key(address)], nil
}

// ResyncNonce implements ledger.Client.
func (l *Ledger) ResyncNonce(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resyncs++
	l.nonceStale = false
	return nil
}

type handle struct {
	id      string
	latency time.Duration
	ledger  *Ledger
	apply   func()
	gas     uint64

	once    sync.Once
	receipt ledger.Receipt
}

func (h *handle) ID() string { return h.id }

// Wait simulates confirmation latency. The state change lands once, on the
// first completed wait.
func (h *handle) Wait(ctx context.Context) (ledger.Receipt, error) {
	select {
	case <-ctx.Done():
		return ledger.Receipt{}, fmt.Errorf("waiting for %s: %w", h.id, ctx.Err())
	case <-time.After(h.latency):
	}
	h.once.Do(func() {
		h.ledger.mu.Lock()
		h.apply()
		h.ledger.block++
		block := h.ledger.block
		h.ledger.mu.Unlock()
		h.receipt = ledger.Receipt{TxHandle: h.id, BlockRef: block, GasUsed: h.gas, Success: true}
	})
	return h.receipt, nil
}
