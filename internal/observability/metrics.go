package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DriversConnected   = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "emergency_dispatch", Name: "drivers_connected", Help: "Number of connected drivers"})
	HospitalsConnected = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "emergency_dispatch", Name: "hospitals_connected", Help: "Number of connected hospitals"})

	SOSSubmitted     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "emergency_dispatch", Name: "sos_submitted_total", Help: "Total SOS requests submitted"})
	SOSAccepted      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "emergency_dispatch", Name: "sos_accepted_total", Help: "Total SOS acceptances"})
	SOSAcceptFailed  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "emergency_dispatch", Name: "sos_accept_failed_total", Help: "Total rejected acceptance attempts"})
	SOSCompleted     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "emergency_dispatch", Name: "sos_completed_total", Help: "Total patient arrivals"})
	SOSReopened      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "emergency_dispatch", Name: "sos_reopened_total", Help: "Total acceptances reverted by driver disconnect"})
	SOSEvicted       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "emergency_dispatch", Name: "sos_evicted_total", Help: "Total ledger records evicted by the reaper"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "emergency_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "emergency_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
