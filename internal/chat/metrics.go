package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Turns counts chat turns by outcome: ok, violation, not_found,
	// generation_failure, fetch_error, invalid.
	Turns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lorekeeper",
			Subsystem: "chat",
			Name:      "turns_total",
			Help:      "Chat turns by outcome",
		},
		[]string{"outcome"},
	)

	// StageDuration observes per-stage latency.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lorekeeper",
			Subsystem: "chat",
			Name:      "stage_duration_seconds",
			Help:      "Chat turn stage latency",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)
)
