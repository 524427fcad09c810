// Package metrics exposes Prometheus instrumentation for the engine.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Feed metrics
	FeedMessagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookfeed_feed_messages_received_total",
			Help: "Raw messages received from venue feeds",
		},
		[]string{"venue"},
	)
	FeedParseErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookfeed_feed_parse_errors_total",
			Help: "Malformed feed messages dropped at the boundary",
		},
		[]string{"venue"},
	)

	// Ingest metrics
	DeltasApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookfeed_deltas_applied_total",
			Help: "Order book deltas applied in sequence",
		},
		[]string{"venue"},
	)
	SnapshotsApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookfeed_snapshots_applied_total",
			Help: "Order book snapshots applied",
		},
		[]string{"venue"},
	)
	SequenceGaps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookfeed_sequence_gaps_total",
			Help: "Sequence gaps that forced resynchronization",
		},
		[]string{"venue"},
	)
	CrossedBooks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookfeed_crossed_books_total",
			Help: "Crossed books detected after delta application",
		},
		[]string{"venue"},
	)
	Resyncs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookfeed_resyncs_total",
			Help: "Snapshot resynchronization requests issued",
		},
		[]string{"venue"},
	)
	StaleBooks = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bookfeed_stale_books",
			Help: "Books currently marked stale",
		},
		[]string{"venue"},
	)

	// Fast path metrics
	FeatureEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookfeed_feature_events_total",
			Help: "Trade/quote events recorded into feature windows",
		},
		[]string{"venue", "event_type"},
	)

	// Registry metrics
	ActiveSubscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bookfeed_active_subscriptions",
			Help: "Currently subscribed (venue, symbol) keys",
		},
	)
)

var registerOnce sync.Once

// Init registers all collectors with the default registry. Safe to call
// more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			FeedMessagesReceived,
			FeedParseErrors,
			DeltasApplied,
			SnapshotsApplied,
			SequenceGaps,
			CrossedBooks,
			Resyncs,
			StaleBooks,
			FeatureEvents,
			ActiveSubscriptions,
		)
	})
}
