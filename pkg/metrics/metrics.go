package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PermissionChecks counts permission evaluations and their outcome (allowed|denied|fallback|error).
	PermissionChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accesscore_permission_checks_total",
			Help: "Total number of permission checks",
		},
		[]string{"permission", "result"},
	)

	// CacheLookups counts permission cache reads by result (hit|miss|stale).
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accesscore_permission_cache_lookups_total",
			Help: "Permission cache lookups by result",
		},
		[]string{"result"},
	)

	// ThrottleWait measures how long callers waited for an evaluation slot.
	ThrottleWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "accesscore_throttle_wait_seconds",
			Help:    "Time spent waiting for a remote evaluation slot",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Invalidations counts cache invalidations by source (event|bus|manual) and result.
	Invalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accesscore_invalidations_total",
			Help: "Cache invalidations by source and result",
		},
		[]string{"source", "result"},
	)

	// PreloadDuration measures how long session warm-up took.
	PreloadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "accesscore_preload_duration_seconds",
			Help:    "Duration of session permission preloading",
			Buckets: prometheus.DefBuckets,
		},
	)

	// APILatency measures request latency per route.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "accesscore_api_latency_seconds",
			Help:    "API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// ActiveSessions tracks live permission sessions.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "accesscore_active_sessions",
			Help: "Number of active permission sessions",
		},
	)
)
