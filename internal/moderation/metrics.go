package moderation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcomes counts moderation calls.
// Labels: outcome (pass, violation, fail_open, disabled)
var Outcomes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "lorekeeper",
		Subsystem: "moderation",
		Name:      "outcomes_total",
		Help:      "Total number of moderation calls by outcome",
	},
	[]string{"outcome"},
)
