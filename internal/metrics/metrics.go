// Package metrics exposes Prometheus counters for the scan loop.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CyclesTotal counts completed scan cycles.
	CyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pollbot_cycles_total",
		Help: "Completed scan cycles",
	})

	// CycleDuration tracks how long one scan cycle takes.
	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pollbot_cycle_duration_seconds",
		Help:    "Scan cycle duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~50s
	})

	// CommentsMatched counts comments that matched the marker and were eligible.
	CommentsMatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pollbot_comments_matched_total",
		Help: "Comments matching the marker that the bot may reply to",
	}, []string{"feed"})

	// Replies counts replies by target kind and result.
	Replies = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pollbot_replies_total",
		Help: "Replies sent by kind (comment, message) and result (ok, error)",
	}, []string{"kind", "result"})

	// FeedFailures counts feed fetches that failed.
	FeedFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pollbot_feed_failures_total",
		Help: "Feed fetch failures",
	}, []string{"feed"})

	// MessagesDrained counts inbox messages by disposition (opt_out, unrecognized)
	// and whether the delete succeeded.
	MessagesDrained = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pollbot_messages_drained_total",
		Help: "Inbox messages processed by disposition and delete result",
	}, []string{"disposition", "result"})

	// OptOuts counts authors newly added to the opt-out set.
	OptOuts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pollbot_opt_outs_total",
		Help: "Authors added to the opt-out set",
	})

	// StoreWriteFailures counts failed document persists.
	StoreWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pollbot_store_write_failures_total",
		Help: "Failed writes of the state document",
	})
)

// Result maps an error to the "result" label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
