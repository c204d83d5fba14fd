package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for the notifier
type Metrics struct {
	// Notification counters
	EmailsSentTotal          *prometheus.CounterVec
	EmailsFailedTotal        *prometheus.CounterVec
	TournamentsSkippedTotal  *prometheus.CounterVec
	RecipientsFilteredTotal  *prometheus.CounterVec
	TournamentsMalformedTotal prometheus.Counter

	// Jobs
	JobRunsTotal       *prometheus.CounterVec
	JobDurationSeconds *prometheus.HistogramVec
	JobRunning         *prometheus.GaugeVec

	// Upstream backend
	UpstreamRequestsTotal *prometheus.CounterVec

	// Ledger
	LedgerEntries prometheus.Gauge

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec
	APIJobRequestsTotal       *prometheus.CounterVec

	// System metrics
	UptimeSeconds    prometheus.Gauge
	Goroutines       prometheus.Gauge
	StorageUsedBytes prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		EmailsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifier_emails_sent_total",
				Help: "Total number of notification emails handed to the provider",
			},
			[]string{"kind"},
		),
		EmailsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifier_emails_failed_total",
				Help: "Total number of notification emails the provider rejected",
			},
			[]string{"kind"},
		),
		TournamentsSkippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifier_tournaments_skipped_total",
				Help: "Total number of tournaments skipped because they were already notified today",
			},
			[]string{"kind"},
		),
		RecipientsFilteredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifier_recipients_filtered_total",
				Help: "Total number of recipients dropped by the allow-list or active flag",
			},
			[]string{"kind"},
		),
		TournamentsMalformedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "notifier_tournaments_malformed_total",
				Help: "Total number of tournaments excluded for an unparsable start time",
			},
		),

		JobRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifier_job_runs_total",
				Help: "Total number of job runs",
			},
			[]string{"job", "result"},
		),
		JobDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "notifier_job_duration_seconds",
				Help:    "Job run duration in seconds",
				Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"job"},
		),
		JobRunning: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "notifier_job_running",
				Help: "Whether a job is currently running (1) or idle (0)",
			},
			[]string{"job"},
		),

		UpstreamRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifier_upstream_requests_total",
				Help: "Total number of requests to the tournament backend",
			},
			[]string{"endpoint", "result"},
		),

		LedgerEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "notifier_ledger_entries",
				Help: "Number of entries in the notification ledger",
			},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifier_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "notifier_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifier_api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"error_type"},
		),
		APIJobRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifier_api_job_requests_total",
				Help: "Job control requests received through the API",
			},
			[]string{"job", "action", "outcome"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "notifier_uptime_seconds",
				Help: "Process uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "notifier_goroutines",
				Help: "Number of active goroutines",
			},
		),
		StorageUsedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "notifier_storage_used_bytes",
				Help: "Ledger database file size in bytes",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.EmailsSentTotal,
		m.EmailsFailedTotal,
		m.TournamentsSkippedTotal,
		m.RecipientsFilteredTotal,
		m.TournamentsMalformedTotal,
		m.JobRunsTotal,
		m.JobDurationSeconds,
		m.JobRunning,
		m.UpstreamRequestsTotal,
		m.LedgerEntries,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.APIJobRequestsTotal,
		m.UptimeSeconds,
		m.Goroutines,
		m.StorageUsedBytes,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// AddEmailsSent adds n to the sent counter for kind
func AddEmailsSent(kind string, n int) {
	if m := Global(); m != nil && n > 0 {
		m.EmailsSentTotal.WithLabelValues(kind).Add(float64(n))
	}
}

// AddEmailsFailed adds n to the failed counter for kind
func AddEmailsFailed(kind string, n int) {
	if m := Global(); m != nil && n > 0 {
		m.EmailsFailedTotal.WithLabelValues(kind).Add(float64(n))
	}
}

// AddTournamentsSkipped adds n to the already-notified counter for kind
func AddTournamentsSkipped(kind string, n int) {
	if m := Global(); m != nil && n > 0 {
		m.TournamentsSkippedTotal.WithLabelValues(kind).Add(float64(n))
	}
}

// AddRecipientsFiltered adds n to the filtered counter for kind
func AddRecipientsFiltered(kind string, n int) {
	if m := Global(); m != nil && n > 0 {
		m.RecipientsFilteredTotal.WithLabelValues(kind).Add(float64(n))
	}
}

// AddTournamentsMalformed adds n to the malformed counter
func AddTournamentsMalformed(n int) {
	if m := Global(); m != nil && n > 0 {
		m.TournamentsMalformedTotal.Add(float64(n))
	}
}

// ObserveJobRun records a finished job run
func ObserveJobRun(job, result string, seconds float64) {
	m := Global()
	if m != nil {
		m.JobRunsTotal.WithLabelValues(job, result).Inc()
		m.JobDurationSeconds.WithLabelValues(job).Observe(seconds)
	}
}

// SetJobRunning flags a job as running or idle
func SetJobRunning(job string, running bool) {
	m := Global()
	if m == nil {
		return
	}
	v := 0.0
	if running {
		v = 1
	}
	m.JobRunning.WithLabelValues(job).Set(v)
}

// IncUpstreamRequest counts one backend request
func IncUpstreamRequest(endpoint, result string) {
	m := Global()
	if m != nil {
		m.UpstreamRequestsTotal.WithLabelValues(endpoint, result).Inc()
	}
}

// SetLedgerEntries sets the ledger size gauge
func SetLedgerEntries(n int) {
	m := Global()
	if m != nil {
		m.LedgerEntries.Set(float64(n))
	}
}
