package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchesTotal tracks fetch attempts per tier and outcome
	FetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cataloger_fetches_total",
			Help: "Total number of fetch attempts",
		},
		[]string{"tier", "outcome"},
	)

	// FetchLatency tracks fetch latency per tier
	FetchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cataloger_fetch_latency_seconds",
			Help:    "Fetch latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tier"},
	)

	// BreakerPauses tracks circuit breaker trips
	BreakerPauses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cataloger_breaker_pauses_total",
			Help: "Total number of circuit breaker pauses",
		},
	)

	// SnapshotTotals tracks the aggregate counts of the latest snapshot
	SnapshotTotals = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cataloger_snapshot_totals",
			Help: "Aggregate counts recorded in the latest snapshot",
		},
		[]string{"tier", "field"},
	)

	// SnapshotVersion tracks the latest snapshot version per tier
	SnapshotVersion = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cataloger_snapshot_version",
			Help: "Latest snapshot version per tier",
		},
		[]string{"tier"},
	)

	// LedgerRecords tracks live failure records
	LedgerRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cataloger_ledger_records",
			Help: "Number of live failure records",
		},
	)

	// RunsTotal tracks orchestrator runs by result
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cataloger_runs_total",
			Help: "Total number of orchestrator runs",
		},
		[]string{"result"},
	)

	// ProbesTotal tracks quick-probe outcomes
	ProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cataloger_probes_total",
			Help: "Total number of change-detection quick probes",
		},
		[]string{"outcome"},
	)
)
