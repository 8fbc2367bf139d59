package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geminichat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geminichat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Relay metrics
	RelayRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geminichat_relay_requests_total",
			Help: "Relay requests by result",
		},
		[]string{"result"}, // success, bad_request, method_not_allowed, upstream_error, invalid_response, transport_error
	)

	UpstreamLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "geminichat_upstream_latency_seconds",
			Help:    "Provider call latency",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	// Chat client metrics
	ChatTurns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geminichat_chat_turns_total",
			Help: "Completed chat turns by result",
		},
		[]string{"result"}, // success, failure
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geminichat_active_sessions",
			Help: "Live chat sessions",
		},
	)
)
