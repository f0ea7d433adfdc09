// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mr1hm/go-cap-alerts/internal/models"
)

var (
	OutboxTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capalerts_outbox_transitions_total",
			Help: "Outbox entries moved to a final status, by channel and status",
		},
		[]string{"channel", "status"},
	)

	SendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "capalerts_send_duration_seconds",
			Help:    "Duration of channel send calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel"},
	)

	RateLimitDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capalerts_ratelimit_decisions_total",
			Help: "Send admission decisions",
		},
		[]string{"decision"},
	)

	AlertsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capalerts_alerts_ingested_total",
			Help: "CAP alerts accepted, by direction",
		},
		[]string{"direction"},
	)

	AlertsRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "capalerts_alerts_rejected_total",
			Help: "CAP alerts rejected by validation",
		},
	)
)

func RecordTransition(channel models.Channel, status models.OutboxStatus) {
	OutboxTransitionsTotal.WithLabelValues(string(channel), string(status)).Inc()
}

func RecordSend(channel models.Channel, d time.Duration) {
	SendDuration.WithLabelValues(string(channel)).Observe(d.Seconds())
}

func RecordAdmission(admitted bool) {
	decision := "deny"
	if admitted {
		decision = "admit"
	}
	RateLimitDecisionsTotal.WithLabelValues(decision).Inc()
}

func RecordAlert(direction models.Direction) {
	AlertsIngestedTotal.WithLabelValues(string(direction)).Inc()
}

func RecordRejected() {
	AlertsRejectedTotal.Inc()
}
