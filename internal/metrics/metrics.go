package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for dispatch runs and the trigger API
var (
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_messages_total",
			Help: "Outbox messages processed, by channel and final status",
		},
		[]string{"channel", "status"},
	)

	DeliveryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_delivery_attempts_total",
			Help: "Provider calls, by channel and outcome class",
		},
		[]string{"channel", "outcome"},
	)

	DevicesPrunedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_devices_pruned_total",
			Help: "Push devices removed after the provider reported them gone",
		},
	)

	LedgerRecoveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_ledger_recoveries_total",
			Help: "Reclaimed messages marked sent from the delivery ledger without a new provider call",
		},
		[]string{"channel"},
	)

	RunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_run_duration_seconds",
			Help:    "Duration of dispatch runs",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"path", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)
)

// Register registers all metrics with reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		MessagesTotal,
		DeliveryAttemptsTotal,
		DevicesPrunedTotal,
		LedgerRecoveriesTotal,
		RunDuration,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}
