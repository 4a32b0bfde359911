package vectorstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WritesTotal counts record writes.
	// Labels: outcome (embedded, fallback, collision)
	WritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lorekeeper",
			Subsystem: "vectorstore",
			Name:      "writes_total",
			Help:      "Total number of record vector writes by outcome",
		},
		[]string{"outcome"},
	)

	// SearchesTotal counts threshold searches.
	// Labels: result (hit, empty, error)
	SearchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lorekeeper",
			Subsystem: "vectorstore",
			Name:      "searches_total",
			Help:      "Total number of threshold searches by result",
		},
		[]string{"result"},
	)

	// SearchDuration tracks index search latency.
	SearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "lorekeeper",
			Subsystem: "vectorstore",
			Name:      "search_duration_seconds",
			Help:      "Duration of index searches in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// CollectionOperations counts collection lifecycle calls.
	// Labels: operation (ensure, verify, prepare, drop), result (success, error, recreated, missing, mismatch)
	CollectionOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lorekeeper",
			Subsystem: "vectorstore",
			Name:      "collection_operations_total",
			Help:      "Total number of collection lifecycle operations",
		},
		[]string{"operation", "result"},
	)
)
