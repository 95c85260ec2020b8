// Package metrics holds the prometheus collectors for the sync core and serves them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BackendRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taklif",
		Subsystem: "backend",
		Name:      "requests_total",
		Help:      "Outbound backend requests by operation and result.",
	}, []string{"op", "result"})

	BackendLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "taklif",
		Subsystem: "backend",
		Name:      "request_duration_seconds",
		Help:      "Outbound backend request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})

	TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taklif",
		Subsystem: "backend",
		Name:      "token_renewals_total",
		Help:      "Token renewals by method (refresh, login) and result.",
	}, []string{"method", "result"})

	BackendOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "taklif",
		Subsystem: "backend",
		Name:      "online",
		Help:      "1 when the last backend call reached the server.",
	})

	SyncPasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taklif",
		Subsystem: "sync",
		Name:      "passes_total",
		Help:      "Reconciliation passes by outcome (completed, skipped_offline).",
	}, []string{"outcome"})

	SyncRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taklif",
		Subsystem: "sync",
		Name:      "records_total",
		Help:      "Replayed records by kind (user, message) and result (synced, failed, terminal).",
	}, []string{"kind", "result"})

	PendingRecords = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "taklif",
		Subsystem: "sync",
		Name:      "pending_records",
		Help:      "Records still waiting to sync after the last pass.",
	}, []string{"kind"})

	LastSyncTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "taklif",
		Subsystem: "sync",
		Name:      "last_pass_timestamp_seconds",
		Help:      "Unix time of the last completed reconciliation pass.",
	})

	OutboxReplies = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taklif",
		Subsystem: "outbox",
		Name:      "replies_total",
		Help:      "Bot reply deliveries by result (sent, retry, failed).",
	}, []string{"result"})

	OutboxQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "taklif",
		Subsystem: "outbox",
		Name:      "queued_replies",
		Help:      "Bot replies waiting for the chat link.",
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "taklif",
		Subsystem: "bot",
		Name:      "sessions_active",
		Help:      "Dialog sessions held in memory.",
	})
)

// BoolGauge converts a flag to a gauge value.
func BoolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
