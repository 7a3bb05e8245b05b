package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Define global variables for metrics.
// We use 'promauto' which automatically registers metrics without complex initialization.

var (
	// 1. HTTP Requests Total (Counter)
	// Counts how many requests arrive, labeled by method, route pattern and status code.
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kektorgraph_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "route", "status"}, // Labels
	)

	// 2. HTTP Request Duration (Histogram)
	HttpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kektorgraph_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"method", "route"},
	)

	// 3. Storage operations (Counter)
	// Outcome is "ok" or the sentinel error kind ("not_exist", "exists", ...).
	StorageOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kektorgraph_storage_operations_total",
			Help: "Storage operations by backend, operation and outcome",
		},
		[]string{"backend", "op", "outcome"},
	)

	// 4. Storage operation duration (Histogram)
	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kektorgraph_storage_operation_duration_seconds",
			Help:    "Duration of storage operations in seconds",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 1},
		},
		[]string{"backend", "op"},
	)

	// 5. Entity count (Gauge)
	// Updated after each write that goes through an instrumented storage.
	Entities = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kektorgraph_entities",
			Help: "Number of stored entities",
		},
		[]string{"backend", "kind"},
	)

	// 6. Delta tombstones (Gauge)
	DeltaTombstones = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kektorgraph_delta_tombstones",
			Help: "Base entities hidden by a delta overlay",
		},
		[]string{"kind"},
	)

	// 7. Lattice comparison cache (Counter)
	LatticeCompareCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kektorgraph_lattice_compare_cache_total",
			Help: "Lattice comparison cache lookups by result (hit or miss)",
		},
		[]string{"result"},
	)

	// 8. Journal compactions (Counter)
	Compactions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kektorgraph_journal_compactions_total",
			Help: "Journal rewrites by trigger and outcome",
		},
		[]string{"trigger", "outcome"},
	)

	// 9. Import records (Counter)
	ImportRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kektorgraph_import_records_total",
			Help: "Records read by exchange importers",
		},
		[]string{"format", "kind", "outcome"},
	)
)
