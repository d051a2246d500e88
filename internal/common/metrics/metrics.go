// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DeliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_attempts_total",
			Help: "Total number of provider send attempts",
		},
		[]string{"provider", "outcome"},
	)

	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "delivery_duration_seconds",
			Help: "Duration of provider send calls in seconds",
		},
		[]string{"provider"},
	)

	JobsDead = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_jobs_dead_total",
			Help: "Jobs moved to dead after exhausting their attempt cap",
		},
		[]string{"queue"},
	)

	JobsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_jobs_in_flight",
			Help: "Leased jobs currently being processed",
		},
		[]string{"queue"},
	)

	WebhookPosts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_posts_total",
			Help: "Total webhook delivery attempts",
		},
		[]string{"outcome"},
	)

	WebhooksDeactivated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webhooks_deactivated_total",
			Help: "Webhooks auto-deactivated after sustained failure",
		},
	)

	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "message_status_transitions_total",
			Help: "Accepted message status transitions",
		},
		[]string{"to"},
	)
)
