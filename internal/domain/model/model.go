// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"net/url"
	"time"
)

// Snapshot is the authoritative off-chain view of one creator's metrics.
// It is read once per sync cycle and never modified.
type Snapshot struct {
	SubjectID       string    `json:"subject_id" validate:"required"`
	WalletAddress   string    `json:"wallet_address" validate:"required"`
	DisplayName     string    `json:"display_name,omitempty"`
	TotalPlays      uint64    `json:"total_plays"`
	MonthlyPlays    uint64    `json:"monthly_plays"`
	Followers       uint64    `json:"followers"`
	MonthlyRevenue  float64   `json:"monthly_revenue" validate:"gte=0"`
	EngagementScore uint8     `json:"engagement_score" validate:"lte=100"`
	ObservedAt      time.Time `json:"observed_at"`
}

// Value returns the metric compared against thresholds of the given kind.
// Plays milestones track monthly plays, the figure sent to the ledger as streams.
func (s Snapshot) Value(kind MilestoneKind) float64 {
	switch kind {
	case KindPlays:
		return float64(s.MonthlyPlays)
	case KindFollowers:
		return float64(s.Followers)
	case KindRevenue:
		return s.MonthlyRevenue
	default:
		return 0
	}
}

// SubjectRef identifies a creator eligible for a sync.
type SubjectRef struct {
	SubjectID     string `json:"subject_id"`
	WalletAddress string `json:"wallet_address"`
}

// MilestoneKind names the metric a threshold applies to.
type MilestoneKind string

// Milestone kinds.
const (
	KindPlays     MilestoneKind = "plays"
	KindFollowers MilestoneKind = "followers"
	KindRevenue   MilestoneKind = "revenue"
)

// Valid reports whether k is a known kind.
func (k MilestoneKind) Valid() bool {
	switch k {
	case KindPlays, KindFollowers, KindRevenue:
		return true
	}
	return false
}

// MilestoneThreshold is static configuration loaded at startup.
type MilestoneThreshold struct {
	Kind        MilestoneKind `json:"kind" koanf:"kind" validate:"required,oneof=plays followers revenue"`
	Threshold   float64       `json:"threshold" koanf:"threshold" validate:"gt=0"`
	Description string        `json:"description" koanf:"description"`
}

// MilestoneRecord is created at most once per (SubjectID, Kind, Threshold).
type MilestoneRecord struct {
	SubjectID     string        `json:"subject_id"`
	Kind          MilestoneKind `json:"kind"`
	Threshold     float64       `json:"threshold"`
	AchievedValue float64       `json:"achieved_value"`
	RecordedAt    time.Time     `json:"recorded_at"`
}

// Key returns the uniqueness key of the record.
func (r MilestoneRecord) Key() string {
	return MilestoneKey(r.SubjectID, r.Kind, r.Threshold)
}

// MilestoneKey formats the (subject, kind, threshold) tuple. The subject is
// path-escaped so a "/" inside it cannot collide with the separator.
func MilestoneKey(subjectID string, kind MilestoneKind, threshold float64) string {
	return fmt.Sprintf("%s%s/%g", MilestoneKeyPrefix(subjectID), kind, threshold)
}

// MilestoneKeyPrefix is the key prefix shared by every milestone of one subject.
func MilestoneKeyPrefix(subjectID string) string {
	return url.PathEscape(subjectID) + "/"
}

// TransactionResult is the outcome of one executed ledger call, retries included.
type TransactionResult struct {
	Success      bool          `json:"success"`
	TxHandle     string        `json:"tx_handle,omitempty"`
	BlockRef     uint64        `json:"block_ref,omitempty"`
	GasUsed      uint64        `json:"gas_used,omitempty"`
	ErrorClass   string        `json:"error_class,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	Attempts     int           `json:"attempts"`
	Elapsed      time.Duration `json:"elapsed"`
}

// FailedActionRecord is kept for a (SubjectID, Operation) pair whose retries ran out.
type FailedActionRecord struct {
	ID            string            `json:"id"`
	SubjectID     string            `json:"subject_id"`
	Operation     string            `json:"operation"`
	Attempts      int               `json:"attempts"`
	LastAttemptAt time.Time         `json:"last_attempt_at"`
	ErrorClass    string            `json:"error_class"`
	ErrorMessage  string            `json:"error_message"`
	Context       map[string]string `json:"context,omitempty"`
}

// Status is the coarse health classification.
type Status string

// Health statuses.
const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusCritical Status = "critical"
)

// HealthSample is appended on every monitoring tick.
type HealthSample struct {
	Timestamp          time.Time `json:"timestamp"`
	TotalAttempts      int       `json:"total_attempts"`
	SuccessfulAttempts int       `json:"successful_attempts"`
	AvgLatencyMs       float64   `json:"avg_latency_ms"`
	OpenFailures       int       `json:"open_failures"`
	Status             Status    `json:"status"`
}

// Severity ranks alerts.
type Severity string

// Alert severities.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AlertKind groups alerts for deduplication.
type AlertKind string

// Alert kinds raised by the health monitor.
const (
	AlertLowSuccessRate   AlertKind = "LOW_SUCCESS_RATE"
	AlertStaleData        AlertKind = "STALE_DATA"
	AlertHighFailureCount AlertKind = "HIGH_FAILURE_COUNT"
	AlertHighLatency      AlertKind = "HIGH_LATENCY"
)

// Alert is an operator-facing notification.
type Alert struct {
	ID         string            `json:"id"`
	Severity   Severity          `json:"severity"`
	Kind       AlertKind         `json:"kind"`
	Message    string            `json:"message"`
	RaisedAt   time.Time         `json:"raised_at"`
	Resolved   bool              `json:"resolved"`
	ResolvedAt *time.Time        `json:"resolved_at,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}
