package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "solarwatch_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	pollCycles  *prometheus.CounterVec
	pollLatency *prometheus.HistogramVec

	fetchErrors *prometheus.CounterVec

	issueEvents *prometheus.CounterVec

	notifySends *prometheus.CounterVec

	ledgerSize prometheus.Gauge
)

// Init registers observability metrics.
func Init() {
	registerOnce.Do(func() {
		pollCycles = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "poll_cycles_total",
				Help: "Total poll cycles by result",
			},
			[]string{"result"},
		)
		pollLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "poll_cycle_latency_seconds",
				Help:    "Poll cycle latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		fetchErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "fetch_errors_total",
				Help: "Total vendor fetch errors by plant",
			},
			[]string{"plant"},
		)

		issueEvents = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "issue_events_total",
				Help: "Total issue dispatch outcomes by kind and action",
			},
			[]string{"kind", "action"},
		)

		notifySends = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notification_sends_total",
				Help: "Total notification delivery attempts by result",
			},
			[]string{"result"},
		)

		ledgerSize = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "ledger_entries",
				Help: "Active issue ledger entries",
			},
		)

		prometheus.MustRegister(
			pollCycles,
			pollLatency,
			fetchErrors,
			issueEvents,
			notifySends,
			ledgerSize,
		)
	})
}

// ObservePollCycle records one poll cycle.
func ObservePollCycle(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if pollCycles != nil {
		pollCycles.WithLabelValues(result).Inc()
	}
	if pollLatency != nil {
		pollLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncFetchError increments the fetch error counter.
func IncFetchError(plant string) {
	if plant == "" {
		plant = "unknown"
	}
	if fetchErrors != nil {
		fetchErrors.WithLabelValues(plant).Inc()
	}
}

// IncIssueEvent increments the dispatch outcome counter.
func IncIssueEvent(kind, action string) {
	if kind == "" {
		kind = "unknown"
	}
	if action == "" {
		action = "unknown"
	}
	if issueEvents != nil {
		issueEvents.WithLabelValues(kind, action).Inc()
	}
}

// IncNotifySend records a delivery attempt result.
func IncNotifySend(result string) {
	if result == "" {
		result = resultSuccess
	}
	if notifySends != nil {
		notifySends.WithLabelValues(result).Inc()
	}
}

// SetLedgerSize sets the active ledger entry gauge.
func SetLedgerSize(size int) {
	if ledgerSize != nil {
		ledgerSize.Set(float64(size))
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
