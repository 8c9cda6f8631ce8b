package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "dispatch_relay", Name: "connections_active", Help: "Currently registered connections by role"},
		[]string{"role"},
	)
	EnvelopesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "dispatch_relay", Name: "envelopes_received_total", Help: "Inbound envelopes by type"},
		[]string{"type"},
	)
	EnvelopesRejected = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch_relay", Name: "envelopes_rejected_total", Help: "Inbound envelopes rejected before handling"})
	RideEventsRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "dispatch_relay", Name: "ride_events_relayed_total", Help: "Ride lifecycle events relayed to counterparties"},
		[]string{"kind"},
	)
	DriversTracked = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "dispatch_relay", Name: "drivers_tracked", Help: "Driver locations currently held"})
	StaleEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "dispatch_relay", Name: "stale_evictions_total", Help: "Records removed by staleness eviction"},
		[]string{"kind"},
	)
	BreakerState = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "dispatch_relay", Name: "breaker_state", Help: "Backend circuit breaker state (0=closed 1=half-open 2=open)"})
	BackendCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "dispatch_relay", Name: "backend_calls_total", Help: "Backend bridge calls by operation and outcome"},
		[]string{"op", "outcome"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "dispatch_relay", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dispatch_relay",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
