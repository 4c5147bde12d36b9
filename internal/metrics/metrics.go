// Package metrics exposes Prometheus counters for the notification pipeline
// and the HTTP router that serves them.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CyclesTotal counts notification cycles by outcome (complete, partial, skipped).
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "release_bot_cycles_total",
			Help: "Total number of notification cycles by outcome",
		},
		[]string{"outcome"},
	)

	// CycleDuration tracks how long a notification cycle takes.
	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "release_bot_cycle_duration_seconds",
			Help:    "Duration of notification cycles in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	// CandidatesSkippedTotal counts provider candidates dropped before merge.
	CandidatesSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "release_bot_candidates_skipped_total",
			Help: "Provider candidates dropped by reason",
		},
		[]string{"reason"},
	)

	// SecondaryLookupsTotal counts secondary provider lookups by result.
	SecondaryLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "release_bot_secondary_lookups_total",
			Help: "Secondary provider lookups by result",
		},
		[]string{"result"},
	)

	// ReleasesUpsertedTotal counts releases written to the store.
	ReleasesUpsertedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "release_bot_releases_upserted_total",
			Help: "Releases written to the store",
		},
	)

	// NotificationsTotal counts notification sends by result (sent, failed).
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "release_bot_notifications_total",
			Help: "Notification sends by result",
		},
		[]string{"result"},
	)

	// NewsItemsTotal counts headlines stored by the news refresher.
	NewsItemsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "release_bot_news_items_total",
			Help: "Headlines stored by the news refresher",
		},
	)
)

// RecordCycle records the outcome and duration of one cycle.
func RecordCycle(outcome string, d time.Duration) {
	CyclesTotal.WithLabelValues(outcome).Inc()
	if outcome != "skipped" {
		CycleDuration.Observe(d.Seconds())
	}
}

// RecordSkipped records a candidate dropped for reason.
func RecordSkipped(reason string) {
	CandidatesSkippedTotal.WithLabelValues(reason).Inc()
}

// RecordLookup records a secondary lookup result.
func RecordLookup(result string) {
	SecondaryLookupsTotal.WithLabelValues(result).Inc()
}

// RecordNotification records a single send attempt.
func RecordNotification(ok bool) {
	if ok {
		NotificationsTotal.WithLabelValues("sent").Inc()
		return
	}
	NotificationsTotal.WithLabelValues("failed").Inc()
}
