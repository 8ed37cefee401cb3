// Package metrics holds the Prometheus metrics exported by qos-gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the admission scheduler.
var (
	SlotsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qos_scheduler_slots_in_use",
			Help: "Current number of occupied service slots.",
		},
	)
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qos_scheduler_queue_depth",
			Help: "Current number of requests queued, by priority.",
		},
		[]string{"priority"},
	)
	Requests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qos_scheduler_requests_total",
			Help: "Total requests handled by the scheduler, by outcome.",
		},
		[]string{"outcome"}, // bypassed, dispatched, queued, promoted, rejected
	)
	RequestRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qos_scheduler_request_rate",
			Help: "Rolling requests-per-second over the most recent completed requests.",
		},
	)
	ResponseTimeMs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qos_scheduler_response_time_ms",
			Help: "Rolling mean service time in milliseconds over the most recent completed requests.",
		},
	)
)
