package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Source metrics
	FetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerchat_fetches_total",
			Help: "Total remote fetches by kind and outcome",
		},
		[]string{"kind", "outcome"}, // kind: count, info, page, send
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledgerchat_fetch_duration_seconds",
			Help:    "Remote fetch latency",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"kind"},
	)

	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerchat_fetch_retries_total",
			Help: "Fetch retries scheduled after a transient failure",
		},
		[]string{"kind"},
	)

	// Sync metrics
	MessagesMerged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledgerchat_messages_merged_total",
			Help: "Messages inserted into the log",
		},
	)

	MessagesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledgerchat_messages_dropped_total",
			Help: "Malformed or foreign messages dropped before merge",
		},
	)

	StaleCounts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledgerchat_stale_counts_total",
			Help: "Polled message counts lower than one already observed",
		},
	)

	LateResponses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledgerchat_late_responses_total",
			Help: "Responses discarded because their channel is no longer mounted",
		},
	)

	StaleState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledgerchat_stale",
			Help: "1 while the mounted channel failed to sync after retry",
		},
	)

	// Turn metrics
	TurnTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerchat_turn_transitions_total",
			Help: "AI turn state transitions",
		},
		[]string{"from", "to"},
	)
)
