package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ItemsProcessed tracks items reaching a terminal state per session.
	ItemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratchet_items_processed_total",
			Help: "Total number of items reaching a terminal state",
		},
		[]string{"session", "status"},
	)

	// RetriesTotal tracks retried attempts per session.
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratchet_retries_total",
			Help: "Total number of retried attempts",
		},
		[]string{"session"},
	)

	// RecoveriesTotal tracks resource recovery attempts per session and
	// outcome (recovered, failed, exhausted).
	RecoveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratchet_recoveries_total",
			Help: "Total number of resource recovery attempts",
		},
		[]string{"session", "result"},
	)

	// OperationLatency tracks per-attempt operation duration.
	OperationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ratchet_operation_latency_seconds",
			Help:    "Operation attempt latency in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"session", "result"},
	)

	// AdaptiveTimeout tracks the timeout currently applied to operations.
	AdaptiveTimeout = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ratchet_adaptive_timeout_seconds",
			Help: "Current adaptive operation timeout in seconds",
		},
		[]string{"session"},
	)
)
