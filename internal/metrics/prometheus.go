// internal/metrics/prometheus.go
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EventsAppended = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_appended_total",
			Help: "Total number of domain events appended to the log",
		},
		[]string{"tenant", "event_type"},
	)

	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Total number of events published to the broker",
		},
		[]string{"tenant", "event_type"},
	)

	PublishFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_publish_failures_total",
			Help: "Appends whose broker publish failed (reconciled via outbox)",
		},
		[]string{"tenant"},
	)

	HandlerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "handler_failures_total",
			Help: "Subscriber handler errors per queue",
		},
		[]string{"queue"},
	)

	DeadLettered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_dead_lettered_total",
			Help: "Messages routed to the dead-letter exchange per queue",
		},
		[]string{"queue"},
	)

	ViewRefreshDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "view_refresh_duration_seconds",
			Help:    "Duration of materialized view refreshes",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tenant", "view"},
	)

	ActivePools = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tenant_pools_active",
			Help: "Number of open per-tenant connection pools",
		},
	)

	OutboxBacklog = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "outbox_backlog",
			Help: "Unrelayed outbox rows per tenant",
		},
		[]string{"tenant"},
	)
)

// Init registers metrics with Prometheus
func Init() {
	prometheus.MustRegister(EventsAppended)
	prometheus.MustRegister(EventsPublished)
	prometheus.MustRegister(PublishFailures)
	prometheus.MustRegister(HandlerFailures)
	prometheus.MustRegister(DeadLettered)
	prometheus.MustRegister(ViewRefreshDuration)
	prometheus.MustRegister(ActivePools)
	prometheus.MustRegister(OutboxBacklog)
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
