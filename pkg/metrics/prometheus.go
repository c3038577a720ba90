// Package metrics provides Prometheus metrics for the tally sync oracle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label values shared by callers.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Manager manages all Prometheus metrics for the oracle.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	latencyBuckets   []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Ledger transaction metrics
	txAttempts          *prometheus.CounterVec
	txFaults            *prometheus.CounterVec
	txResults           *prometheus.CounterVec
	txConfirmLatency    *prometheus.HistogramVec
	txBackoffSeconds    prometheus.Counter
	failedActions       prometheus.Gauge
	failedActionReplays *prometheus.CounterVec

	// Sync cycle metrics
	syncRuns            *prometheus.CounterVec
	syncSubjects        *prometheus.CounterVec
	syncDuration        prometheus.Histogram
	lastSuccessfulSync  prometheus.Gauge
	milestonesLogged    *prometheus.CounterVec
	assetLaunches       *prometheus.CounterVec
	launchChecksSkipped prometheus.Counter

	// Health metrics
	healthStatus      prometheus.Gauge
	healthSuccessRate prometheus.Gauge
	alertsRaised      *prometheus.CounterVec
	activeAlerts      prometheus.Gauge

	// Store metrics
	storeLatency *prometheus.HistogramVec
	storeErrors  *prometheus.CounterVec

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors by component
	errorsByComponent *prometheus.CounterVec

	// System metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "tally",
		subsystem:        "oracle",
		histogramBuckets: prometheus.DefBuckets,
		// confirmation latency spans seconds to minutes
		latencyBuckets: []float64{50, 100, 250, 500, 1_000, 2_500, 5_000, 10_000, 30_000, 60_000, 120_000, 300_000},
		constLabels:    prometheus.Labels{},
		registry:       prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	})
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	m.txAttempts = m.counterVec("tx_attempts_total", "Ledger call attempts by operation and outcome", "operation", "outcome")
	m.txFaults = m.counterVec("tx_faults_total", "Ledger call faults by operation and fault class", "operation", "class")
	m.txResults = m.counterVec("tx_results_total", "Executed ledger calls by final result, retries included", "operation", "outcome")
	m.txConfirmLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "tx_confirmation_latency_milliseconds",
		Help:        "Time from submission to confirmed receipt in milliseconds",
		Buckets:     m.latencyBuckets,
		ConstLabels: m.constLabels,
	}, []string{"operation"})
	m.txBackoffSeconds = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "tx_backoff_seconds_total",
		Help:        "Total time spent sleeping between retry attempts",
		ConstLabels: m.constLabels,
	})
	m.failedActions = m.gauge("failed_actions", "Stored failed actions awaiting replay or cleanup")
	m.failedActionReplays = m.counterVec("failed_action_replays_total", "Manual replays of failed actions by outcome", "outcome")

	m.syncRuns = m.counterVec("sync_runs_total", "Sync cycles by result", "outcome")
	m.syncSubjects = m.counterVec("sync_subjects_total", "Subjects processed by sync cycles by result", "outcome")
	m.syncDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "sync_duration_seconds",
		Help:        "Wall time of a full sync cycle",
		Buckets:     prometheus.ExponentialBuckets(1, 2, 12),
		ConstLabels: m.constLabels,
	})
	m.lastSuccessfulSync = m.gauge("last_successful_sync_timestamp_seconds", "Unix time of the last successful metrics update")
	m.milestonesLogged = m.counterVec("milestones_logged_total", "Milestone records created by kind", "kind")
	m.assetLaunches = m.counterVec("asset_launches_total", "Asset launch attempts by outcome", "outcome")
	m.launchChecksSkipped = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "launch_checks_skipped_total",
		Help:        "Launch eligibility checks that could not complete",
		ConstLabels: m.constLabels,
	})

	m.healthStatus = m.gauge("health_status", "Overall status: 0 healthy, 1 degraded, 2 critical")
	m.healthSuccessRate = m.gauge("health_success_rate", "Trailing 24h success ratio of ledger attempts")
	m.alertsRaised = m.counterVec("alerts_raised_total", "Alerts raised by kind and severity", "kind", "severity")
	m.activeAlerts = m.gauge("active_alerts", "Unresolved alerts")

	m.storeLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "store_operation_latency_milliseconds",
		Help:        "Latency of state store operations",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	}, []string{"store", "operation"})
	m.storeErrors = m.counterVec("store_errors_total", "State store errors by operation", "store", "operation")

	m.httpRequests = m.counterVec("http_requests_total", "Operator HTTP requests by endpoint, method and status", "endpoint", "method", "status_code")
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "http_request_duration_milliseconds",
		Help:        "Operator HTTP request duration in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	}, []string{"endpoint", "method", "status_code"})

	m.errorsByComponent = m.counterVec("errors_total", "Errors by component and type", "component", "type")

	m.systemMemoryUsage = m.gauge("system_memory_bytes", "Heap bytes allocated")
	m.systemGoroutineCount = m.gauge("system_goroutines", "Number of goroutines")
}

// RecordTxAttempt counts a single ledger call attempt.
func RecordTxAttempt(operation string, success bool) {
	globalManager.txAttempts.WithLabelValues(operation, outcome(success)).Inc()
}

// RecordTxFault counts a classified fault.
func RecordTxFault(operation, class string) {
	globalManager.txFaults.WithLabelValues(operation, class).Inc()
}

// RecordTxResult counts the final result of an executed call.
func RecordTxResult(operation string, success bool) {
	globalManager.txResults.WithLabelValues(operation, outcome(success)).Inc()
}

// RecordTxConfirmationLatency observes submission-to-receipt time.
func RecordTxConfirmationLatency(operation string, latencyMs float64) {
	globalManager.txConfirmLatency.WithLabelValues(operation).Observe(latencyMs)
}

// RecordTxBackoff adds time spent sleeping between attempts.
func RecordTxBackoff(seconds float64) {
	globalManager.txBackoffSeconds.Add(seconds)
}

// UpdateFailedActions sets the stored failed action count.
func UpdateFailedActions(count int) {
	globalManager.failedActions.Set(float64(count))
}

// RecordFailedActionReplay counts a manual replay.
func RecordFailedActionReplay(success bool) {
	globalManager.failedActionReplays.WithLabelValues(outcome(success)).Inc()
}

// RecordSyncRun counts a sync cycle and observes its duration.
func RecordSyncRun(success bool, seconds float64) {
	globalManager.syncRuns.WithLabelValues(outcome(success)).Inc()
	globalManager.syncDuration.Observe(seconds)
}

// RecordSyncSubject counts one subject processed by a cycle.
func RecordSyncSubject(result string) {
	globalManager.syncSubjects.WithLabelValues(result).Inc()
}

// UpdateLastSuccessfulSync sets the last successful sync time.
func UpdateLastSuccessfulSync(unixSeconds float64) {
	globalManager.lastSuccessfulSync.Set(unixSeconds)
}

// RecordMilestoneLogged counts a created milestone record.
func RecordMilestoneLogged(kind string) {
	globalManager.milestonesLogged.WithLabelValues(kind).Inc()
}

// RecordAssetLaunch counts an asset launch attempt.
func RecordAssetLaunch(success bool) {
	globalManager.assetLaunches.WithLabelValues(outcome(success)).Inc()
}

// RecordLaunchCheckSkipped counts an eligibility check that failed to read the ledger.
func RecordLaunchCheckSkipped() {
	globalManager.launchChecksSkipped.Inc()
}

// UpdateHealth sets the status gauge and trailing success rate.
func UpdateHealth(statusCode int, successRate float64) {
	globalManager.healthStatus.Set(float64(statusCode))
	globalManager.healthSuccessRate.Set(successRate)
}

// RecordAlertRaised counts a raised alert.
func RecordAlertRaised(kind, severity string) {
	globalManager.alertsRaised.WithLabelValues(kind, severity).Inc()
}

// UpdateActiveAlerts sets the unresolved alert count.
func UpdateActiveAlerts(count int) {
	globalManager.activeAlerts.Set(float64(count))
}

// RecordStoreLatency observes a store operation.
func RecordStoreLatency(store, operation string, latencyMs float64) {
	globalManager.storeLatency.WithLabelValues(store, operation).Observe(latencyMs)
}

// RecordStoreError counts a failed store operation.
func RecordStoreError(store, operation string) {
	globalManager.storeErrors.WithLabelValues(store, operation).Inc()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// RecordErrorByComponent records errors by component.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// UpdateSystemMemoryUsage updates memory usage metric.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount updates goroutine count metric.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// GetRegistry returns the custom registry used by the global manager.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

func outcome(success bool) string {
	if success {
		return OutcomeSuccess
	}
	return OutcomeFailure
}
