package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "commute_pool"

var (
	AssignmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "assignments_total", Help: "Ride mutations by operation and outcome"},
		[]string{"op", "outcome"},
	)
	DeclinesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "declines_total", Help: "Declined operations by kind"},
		[]string{"kind"},
	)
	RidersAssigned = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "riders_assigned", Help: "Riders currently assigned to a ride"})
	DriversActive  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "drivers_active", Help: "Registered drivers"})
	MatchScore     = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "match_score",
		Help:      "Distribution of computed matching scores",
		Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
	})

	OracleRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "oracle_requests_total", Help: "Routing oracle calls by operation and outcome"},
		[]string{"op", "outcome"},
	)
	OracleRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "oracle_request_duration_seconds",
			Help:      "Routing oracle latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)
	OracleCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "oracle_cache_hits_total", Help: "Routing oracle cache hits"},
		[]string{"op"},
	)

	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "events_published_total", Help: "Ride events handed to a sink"},
		[]string{"sink", "outcome"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
