package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Investigator metrics for production monitoring
var (
	// Investigation metrics
	InvestigationsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "investigator_investigations_created_total",
			Help: "Total number of investigations opened",
		},
	)

	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "investigator_turns_total",
			Help: "Total number of turns by outcome",
		},
		[]string{"outcome"}, // applied, replayed, rejected, unavailable, conflict, terminal
	)

	TurnDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "investigator_turn_duration_seconds",
			Help:    "Turn latency including external calls and persistence",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
	)

	PhaseTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "investigator_phase_transitions_total",
			Help: "Phase transitions applied",
		},
		[]string{"from", "to"},
	)

	DegradedEntered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "investigator_degraded_entered_total",
			Help: "Degraded mode entries by type",
		},
		[]string{"type"},
	)

	EscalationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "investigator_escalations_total",
			Help: "Escalations raised by source",
		},
		[]string{"source"},
	)

	HypothesesRetired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "investigator_hypotheses_retired_total",
			Help: "Hypotheses retired by decay or by the user",
		},
	)

	RootCausesConcluded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "investigator_root_causes_total",
			Help: "Root-cause conclusions by basis",
		},
		[]string{"basis"},
	)

	// External service metrics
	ClassifyRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "investigator_classify_requests_total",
			Help: "Reasoning service classification calls",
		},
		[]string{"status"},
	)

	StoreDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "investigator_store_duration_seconds",
			Help:    "State store operation latency",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "investigator_cache_lookups_total",
			Help: "Snapshot cache lookups",
		},
		[]string{"result"}, // hit, miss
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "investigator_websocket_connections",
			Help: "Active WebSocket connections",
		},
	)

	WebSocketMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "investigator_websocket_messages_total",
			Help: "WebSocket messages sent",
		},
		[]string{"type"},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "investigator_events_dropped_total",
			Help: "Turn events dropped because a subscriber was slow",
		},
	)

	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "investigator_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
	)
)
