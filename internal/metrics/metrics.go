// Package metrics provides Prometheus instrumentation for the matching
// service. It exposes gauges for connection and queue depth, counters for
// matchmaking outcomes, and a histogram for time-to-match.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsActive tracks the current number of active WebSocket sessions.
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "matching_connections_active",
		Help: "Current number of active WebSocket sessions",
	})

	// QueueDepth tracks the number of waiting requests, labeled by language.
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "matching_queue_depth",
		Help: "Current number of waiting requests per language queue",
	}, []string{"language"})

	// MatchesCreated counts successfully persisted matches.
	MatchesCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matching_matches_created_total",
		Help: "Total number of matches created",
	}, []string{"language", "difficulty"})

	// WaitOutcomes counts how waiting periods ended: matched, cancelled,
	// expired, or disconnected.
	WaitOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matching_wait_outcomes_total",
		Help: "Terminal outcomes of waiting periods",
	}, []string{"outcome"})

	// TimeToMatch records the time from enqueue to match found.
	TimeToMatch = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "matching_time_to_match_seconds",
		Help:    "Time from enqueue to match found",
		Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60},
	})

	// MessagesRelayed counts chat messages relayed between matched peers.
	MessagesRelayed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "matching_messages_relayed_total",
		Help: "Total number of messages relayed between matched participants",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsActive,
		QueueDepth,
		MatchesCreated,
		WaitOutcomes,
		TimeToMatch,
		MessagesRelayed,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
