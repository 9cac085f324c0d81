// SPDX-License-Identifier: MIT

// Package metrics declares the Prometheus instruments shared across
// components. Registration is via promauto on the default registry; the
// API server exposes them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsRequested counts session requests by outcome
	// (created, reader_unavailable, insufficient_balance).
	SessionsRequested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seer",
			Name:      "sessions_requested_total",
			Help:      "Session requests by outcome",
		},
		[]string{"outcome"},
	)

	// SessionsCompleted counts ended sessions by settlement kind
	// (full, partial).
	SessionsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seer",
			Name:      "sessions_completed_total",
			Help:      "Completed sessions by settlement kind",
		},
		[]string{"settlement"},
	)

	// SessionsSwept counts pending sessions cancelled by the age sweep.
	SessionsSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "seer",
			Name:      "sessions_swept_total",
			Help:      "Pending sessions auto-cancelled by the sweeper",
		},
	)

	// PublishAttempts counts pub/sub publish attempts by result
	// (ok, retry, failed).
	PublishAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seer",
			Name:      "bus_publish_attempts_total",
			Help:      "Event bus publish attempts by result",
		},
		[]string{"result"},
	)

	// Payouts counts payout runs by result (completed, failed, skipped).
	Payouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seer",
			Name:      "payouts_total",
			Help:      "Payout attempts by result",
		},
		[]string{"result"},
	)

	// RateLimited counts rate-limit rejections by category.
	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seer",
			Name:      "ratelimit_exceeded_total",
			Help:      "Rate limit rejections by category",
		},
		[]string{"category"},
	)
)
