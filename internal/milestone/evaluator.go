// Package milestone turns metric snapshots into one-shot milestone records
// and asset launches.
package milestone

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/okian/tally/internal/adapters/repository"
	"github.com/okian/tally/internal/domain/ledger"
	"github.com/okian/tally/internal/domain/model"
	"github.com/okian/tally/internal/executor"
	"github.com/okian/tally/pkg/logger"
	"github.com/okian/tally/pkg/metrics"
)

const (
	maxSymbolLen   = 5
	fallbackSymbol = "ASSET"
)

// EventKind names an evaluation event.
type EventKind string

// Event kinds.
const (
	EventMilestoneLogged EventKind = "milestone_logged"
	EventLaunchTriggered EventKind = "launch_triggered"
	EventLaunchSkipped   EventKind = "launch_skipped"
	EventMilestoneError  EventKind = "milestone_error"
)

// Event is one thing that happened while evaluating a snapshot.
type Event struct {
	Kind   EventKind              `json:"kind"`
	Detail string                 `json:"detail"`
	Record *model.MilestoneRecord `json:"record,omitempty"`
}

// Outcome collects the events of one evaluation. Launch is set when a
// launch call was executed, successful or not.
type Outcome struct {
	Events []Event                  `json:"events"`
	Launch *model.TransactionResult `json:"launch,omitempty"`
}

// Count returns the number of events of kind k.
func (o Outcome) Count(k EventKind) int {
	n := 0
	for _, ev := range o.Events {
		if ev.Kind == k {
			n++
		}
	}
	return n
}

// TxExecutor runs ledger writes with retries.
type TxExecutor interface {
	ExecuteWithRetry(ctx context.Context, op executor.Operation, operationName, subjectID string, opts ...executor.RetryOption) model.TransactionResult
}

// Evaluator compares snapshots against the threshold table.
type Evaluator struct {
	client     ledger.Client
	exec       TxExecutor
	records    repository.Milestones
	thresholds []model.MilestoneThreshold

	launchSupply     float64
	launchMaxRetries int
	launchGasPercent int

	now    func() time.Time
	logger logger.Logger

	mu        sync.Mutex
	launching map[string]struct{}
}

// NewEvaluator creates an Evaluator with the default threshold table.
func NewEvaluator(client ledger.Client, exec TxExecutor, records repository.Milestones, opts ...Option) *Evaluator {
	e := &Evaluator{
		client:           client,
		exec:             exec,
		records:          records,
		thresholds:       DefaultThresholds(),
		launchSupply:     DefaultLaunchSupply,
		launchMaxRetries: DefaultLaunchMaxRetries,
		launchGasPercent: DefaultLaunchGasIncreasePercent,
		now:              time.Now,
		logger:           logger.Get().Named("milestone"),
		launching:        make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Thresholds returns a copy of the threshold table.
func (e *Evaluator) Thresholds() []model.MilestoneThreshold {
	return append([]model.MilestoneThreshold(nil), e.thresholds...)
}

// Evaluate runs the launch check and then records every crossed threshold.
// The two parts fail independently and every threshold is its own failure
// domain.
func (e *Evaluator) Evaluate(ctx context.Context, snap model.Snapshot) Outcome {
	var out Outcome
	e.checkLaunch(ctx, snap, &out)
	e.recordThresholds(ctx, snap, &out)
	return out
}

func (e *Evaluator) checkLaunch(ctx context.Context, snap model.Snapshot, out *Outcome) {
	log := e.logger.With(logger.SubjectID(snap.SubjectID))

	meets, err := e.client.MeetsLaunchRequirements(ctx, snap.WalletAddress)
	if err != nil {
		log.Warn(ctx, "launch requirement check failed", logger.Error(err))
		metrics.RecordLaunchCheckSkipped()
		out.Events = append(out.Events, Event{Kind: EventLaunchSkipped, Detail: "requirement check failed: " + err.Error()})
		return
	}
	if !meets {
		return
	}

	info, err := e.client.GetAssetInfo(ctx, snap.WalletAddress)
	if err != nil {
		log.Warn(ctx, "asset lookup failed", logger.Error(err))
		metrics.RecordLaunchCheckSkipped()
		out.Events = append(out.Events, Event{Kind: EventLaunchSkipped, Detail: "asset lookup failed: " + err.Error()})
		return
	}
	if info.Exists() {
		return
	}

	if !e.claimLaunch(snap.SubjectID) {
		out.Events = append(out.Events, Event{Kind: EventLaunchSkipped, Detail: "launch already in progress"})
		return
	}
	defer e.releaseLaunch(snap.SubjectID)

	name, symbol := AssetName(snap), AssetSymbol(snap)
	supply := e.launchSupply
	op := func(ctx context.Context, opts ledger.CallOptions) (ledger.Handle, error) {
		return e.client.LaunchAsset(ctx, snap.WalletAddress, name, symbol, supply, opts)
	}

	log.Info(ctx, "launching asset", logger.String("name", name), logger.String("symbol", symbol))
	res := e.exec.ExecuteWithRetry(ctx, op, ledger.OpLaunchAsset, snap.SubjectID,
		executor.WithMaxRetries(e.launchMaxRetries),
		executor.WithGasIncreasePercent(e.launchGasPercent),
		executor.WithActionContext(map[string]string{
			"wallet": snap.WalletAddress,
			"name":   name,
			"symbol": symbol,
			"supply": strconv.FormatFloat(supply, 'f', -1, 64),
		}),
	)
	out.Launch = &res
	metrics.RecordAssetLaunch(res.Success)
	if !res.Success {
		log.Warn(ctx, "asset launch failed",
			logger.Int("attempts", res.Attempts),
			logger.String("class", res.ErrorClass),
		)
		return
	}
	log.Info(ctx, "asset launched", logger.String("tx", res.TxHandle))
	out.Events = append(out.Events, Event{
		Kind:   EventLaunchTriggered,
		Detail: fmt.Sprintf("%s (%s) launched in %s", name, symbol, res.TxHandle),
	})
}

// claimLaunch keeps two evaluations of one subject from launching concurrently.
func (e *Evaluator) claimLaunch(subjectID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.launching[subjectID]; busy {
		return false
	}
	e.launching[subjectID] = struct{}{}
	return true
}

func (e *Evaluator) releaseLaunch(subjectID string) {
	e.mu.Lock()
	delete(e.launching, subjectID)
	e.mu.Unlock()
}

func (e *Evaluator) recordThresholds(ctx context.Context, snap model.Snapshot, out *Outcome) {
	for _, th := range e.thresholds {
		value := snap.Value(th.Kind)
		if value < th.Threshold {
			continue
		}
		rec := model.MilestoneRecord{
			SubjectID:     snap.SubjectID,
			Kind:          th.Kind,
			Threshold:     th.Threshold,
			AchievedValue: value,
			RecordedAt:    e.now(),
		}
		created, err := e.records.CreateMilestoneIfAbsent(ctx, rec)
		if err != nil {
			e.logger.Error(ctx, "failed to record milestone",
				logger.SubjectID(snap.SubjectID),
				logger.String("kind", string(th.Kind)),
				logger.Float64("threshold", th.Threshold),
				logger.Error(err),
			)
			metrics.RecordErrorByComponent("milestone", "record")
			out.Events = append(out.Events, Event{
				Kind:   EventMilestoneError,
				Detail: fmt.Sprintf("%s %g: %v", th.Kind, th.Threshold, err),
			})
			continue
		}
		if !created {
			continue
		}
		metrics.RecordMilestoneLogged(string(th.Kind))
		e.logger.Info(ctx, "milestone achieved",
			logger.SubjectID(snap.SubjectID),
			logger.String("kind", string(th.Kind)),
			logger.Float64("threshold", th.Threshold),
			logger.Float64("value", value),
		)
		detail := th.Description
		if detail == "" {
			detail = fmt.Sprintf("%s reached %g", th.Kind, th.Threshold)
		}
		out.Events = append(out.Events, Event{Kind: EventMilestoneLogged, Detail: detail, Record: &rec})
	}
}

// AssetName derives the launched asset's name from the subject.
func AssetName(snap model.Snapshot) string {
	base := strings.TrimSpace(snap.DisplayName)
	if base == "" {
		base = snap.SubjectID
	}
	return base + " Token"
}

// AssetSymbol is the upper-cased alphanumeric prefix of the subject's name,
// at most five characters.
func AssetSymbol(snap model.Snapshot) string {
	base := strings.TrimSpace(snap.DisplayName)
	if base == "" {
		base = snap.SubjectID
	}
	var b strings.Builder
	for _, r := range base {
		if b.Len() >= maxSymbolLen {
			break
		}
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	if b.Len() == 0 {
		return fallbackSymbol
	}
	return b.String()
}
