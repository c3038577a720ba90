// Package seed generates synthetic creator metrics for local runs and load
// tests.
package seed

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/okian/tally/internal/domain/model"
	"github.com/okian/tally/pkg/logger"
)

// ErrInvalidCount is returned when fewer than one snapshot is requested.
var ErrInvalidCount = errors.New("count must be positive")

// Tier buckets a synthetic creator by audience size.
type Tier int

// Tiers, smallest audience first.
const (
	TierEmerging Tier = iota
	TierRising
	TierEstablished
	TierStar
	tierCount
)

func (t Tier) String() string {
	switch t {
	case TierEmerging:
		return "emerging"
	case TierRising:
		return "rising"
	case TierEstablished:
		return "established"
	case TierStar:
		return "star"
	default:
		return "unknown"
	}
}

// tierRange bounds the generated values of one tier.
type tierRange struct {
	playsMin, playsMax         uint64
	followersMin, followersMax uint64
	revenueMin, revenueMax     float64
}

var tierRanges = [tierCount]tierRange{
	TierEmerging:    {0, 9_999, 0, 999, 0, 99},
	TierRising:      {10_000, 99_999, 1_000, 9_999, 100, 999},
	TierEstablished: {100_000, 999_999, 10_000, 99_999, 1_000, 9_999},
	TierStar:        {1_000_000, 20_000_000, 100_000, 2_000_000, 10_000, 250_000},
}

// Sink receives generated snapshots.
type Sink interface {
	Upsert(ctx context.Context, snap model.Snapshot) error
}

// Generator produces snapshots with a reproducible spread across tiers.
type Generator struct {
	rng         *rand.Rand
	now         func() time.Time
	walletRatio float64
	logger      logger.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithSeed makes the output reproducible.
func WithSeed(seed uint64) Option {
	return func(g *Generator) {
		g.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithClock sets the observation time stamped on snapshots.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}

// WithWalletRatio sets the share of creators that have a wallet address.
// Creators without one are never eligible for sync.
func WithWalletRatio(r float64) Option {
	return func(g *Generator) {
		if r >= 0 && r <= 1 {
			g.walletRatio = r
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(g *Generator) {
		if l != nil {
			g.logger = l
		}
	}
}

// New creates a Generator.
func New(opts ...Option) *Generator {
	g := &Generator{
		now:         time.Now,
		walletRatio: 1,
		logger:      logger.Get().Named("seed"),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.rng == nil {
		seed := uint64(g.now().UnixNano())
		g.rng = rand.New(rand.NewPCG(seed, seed>>1))
	}
	return g
}

// Snapshot creates one creator of the given tier.
func (g *Generator) Snapshot(tier Tier) model.Snapshot {
	r := tierRanges[tier]
	id := uuid.NewString()
	total := g.between(r.playsMin, r.playsMax)
	snap := model.Snapshot{
		SubjectID:       id,
		DisplayName:     fmt.Sprintf("%s-%s", tier, id[:8]),
		TotalPlays:      total,
		MonthlyPlays:    total / uint64(1+g.rng.IntN(12)),
		Followers:       g.between(r.followersMin, r.followersMax),
		MonthlyRevenue:  r.revenueMin + g.rng.Float64()*(r.revenueMax-r.revenueMin),
		EngagementScore: uint8(g.rng.IntN(101)),
		ObservedAt:      g.now(),
	}
	if g.rng.Float64() < g.walletRatio {
		snap.WalletAddress = "0x" + strings.ReplaceAll(uuid.NewString(), "-", "")[:40]
	}
	return snap
}

// Generate creates count snapshots, cycling through every tier.
func (g *Generator) Generate(count int) ([]model.Snapshot, error) {
	if count < 1 {
		return nil, ErrInvalidCount
	}
	out := make([]model.Snapshot, count)
	for i := range out {
		out[i] = g.Snapshot(Tier(i % int(tierCount)))
	}
	return out, nil
}

// Populate generates count snapshots and writes them to sink.
func (g *Generator) Populate(ctx context.Context, sink Sink, count int) (map[Tier]int, error) {
	snaps, err := g.Generate(count)
	if err != nil {
		return nil, err
	}
	byTier := make(map[Tier]int, tierCount)
	for i, s := range snaps {
		if err := ctx.Err(); err != nil {
			return byTier, err
		}
		if err := sink.Upsert(ctx, s); err != nil {
			return byTier, fmt.Errorf("seed %s: %w", s.SubjectID, err)
		}
		byTier[Tier(i%int(tierCount))]++
	}
	g.logger.Info(ctx, "seeded creator metrics", logger.Int("count", len(snaps)))
	return byTier, nil
}

func (g *Generator) between(lo, hi uint64) uint64 {
	if hi <= lo {
		return lo
	}
	return lo + g.rng.Uint64N(hi-lo+1)
}
