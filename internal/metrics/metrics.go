// Package metrics registers the SDK's Prometheus instruments on the default
// registry. Embedders expose them however they serve /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Payments counts completed payment attempts by method and outcome.
	Payments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentpay",
		Name:      "payments_total",
		Help:      "Payment attempts by method and final status.",
	}, []string{"method", "status"})

	// GuardBlocks counts payments rejected by a spending guard.
	GuardBlocks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentpay",
		Name:      "guard_blocks_total",
		Help:      "Payments blocked, by guard name.",
	}, []string{"guard"})

	// CircuitTrips counts circuit breaker trips by downstream service.
	CircuitTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentpay",
		Name:      "circuit_trips_total",
		Help:      "Circuit breaker trips by service.",
	}, []string{"service"})

	// PaymentDuration observes end-to-end payment latency by method.
	PaymentDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "agentpay",
		Name:      "payment_duration_seconds",
		Help:      "End-to-end payment execution latency.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"method"})
)
