package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsBroadcastTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wharfhook_events_broadcast_total",
			Help: "Total number of events broadcast, by event type.",
		},
		[]string{"event_type"},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wharfhook_deliveries_total",
			Help: "Total number of delivery outcomes by state.",
		},
		[]string{"state"}, // delivered, retrying, failed
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wharfhook_retries_total",
			Help: "Total number of delivery retries by reason.",
		},
		[]string{"reason"}, // e.g. http_5xx, http_429, timeout, network
	)

	DeadLettersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wharfhook_dead_letters_total",
			Help: "Total number of deliveries terminally failed, by reason.",
		},
		[]string{"reason"},
	)

	AttemptLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wharfhook_attempt_latency_seconds",
			Help:    "HTTP delivery attempt latency by status code.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	PendingBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "wharfhook_pending_backlog",
			Help: "Number of deliveries currently in pending state.",
		},
	)
)

// MustRegister registers all wharfhook collectors with the given registry.
func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		EventsBroadcastTotal,
		DeliveriesTotal,
		RetriesTotal,
		DeadLettersTotal,
		AttemptLatency,
		PendingBacklog,
	)
}

// RecordBroadcast increments the broadcast counter for an event type.
func RecordBroadcast(eventType string) {
	EventsBroadcastTotal.WithLabelValues(eventType).Inc()
}

// RecordDelivery records a delivery outcome.
func RecordDelivery(state string) {
	DeliveriesTotal.WithLabelValues(state).Inc()
}

// RecordRetry records a scheduled retry with its classification reason.
func RecordRetry(reason string) {
	RetriesTotal.WithLabelValues(reason).Inc()
}

// RecordDeadLetter records a terminal delivery failure.
func RecordDeadLetter(reason string) {
	DeadLettersTotal.WithLabelValues(reason).Inc()
}

// RecordAttempt records the latency of one HTTP attempt.
func RecordAttempt(status string, latency time.Duration) {
	AttemptLatency.WithLabelValues(status).Observe(latency.Seconds())
}

// UpdatePendingBacklog sets the pending backlog gauge.
func UpdatePendingBacklog(n float64) {
	PendingBacklog.Set(n)
}
