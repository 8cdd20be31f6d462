package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// namespace defines the global prefix for all metrics (e.g., verdandi_...).
const namespace = "verdandi"

// lowLatencyBuckets defines custom buckets for the decision hot path.
// Standard buckets are too coarse (starting at 5ms), so we add 1ms and 2ms resolution.
// Range: 1ms to 500ms.
var lowLatencyBuckets = []float64{.001, .002, .005, .010, .015, .020, .025, .030, .050, .100, .500}

var (
	// -------------------------------------------------------------------------
	// DECIDE API (HTTP)
	// -------------------------------------------------------------------------

	// DecideReqDuration measures the latency of HTTP decide requests.
	// Metric: verdandi_decide_http_handling_seconds
	DecideReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "decide",
		Name:      "http_handling_seconds",
		Help:      "Time taken to handle HTTP decide requests",
		Buckets:   lowLatencyBuckets, // Custom buckets for < 20ms SLO
	}, []string{"method", "path"})

	// DecideReqTotal counts the total number of HTTP decide requests.
	// Metric: verdandi_decide_http_requests_total
	DecideReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "decide",
		Name:      "http_requests_total",
		Help:      "Total HTTP decide requests",
	}, []string{"method", "path", "code"})

	// DecisionsTotal counts experiment decisions by how the variation was found.
	// source: whitelist, sticky, bucketing, cmab, none
	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "decide",
		Name:      "decisions_total",
		Help:      "Total experiment decisions by source",
	}, []string{"source"})

	// ImpressionsTotal counts impression events emitted for decisions.
	ImpressionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "decide",
		Name:      "impressions_total",
		Help:      "Total impression events emitted",
	})

	// -------------------------------------------------------------------------
	// CMAB (Prediction Service)
	// -------------------------------------------------------------------------

	// CmabFetchDuration measures the latency of prediction service calls,
	// including retries.
	CmabFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "cmab",
		Name:      "fetch_duration_seconds",
		Help:      "Time taken to fetch a CMAB decision, retries included",
		Buckets:   prometheus.DefBuckets,
	})

	// CmabFetchTotal counts prediction fetches by outcome.
	// status: success, fetch_error, invalid_response
	CmabFetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cmab",
		Name:      "fetch_total",
		Help:      "Total CMAB prediction fetches by outcome",
	}, []string{"status"})

	CmabCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cmab",
		Name:      "cache_hits_total",
		Help:      "Total CMAB decision cache hits",
	})

	CmabCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cmab",
		Name:      "cache_misses_total",
		Help:      "Total CMAB decision cache misses",
	})

	// -------------------------------------------------------------------------
	// DATAFILE (Config Snapshots)
	// -------------------------------------------------------------------------

	DatafileCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "datafile",
		Name:      "l1_cache_hits_total",
		Help:      "Total parsed-snapshot cache hits (in-memory)",
	})

	DatafileCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "datafile",
		Name:      "l1_cache_misses_total",
		Help:      "Total parsed-snapshot cache misses",
	})
)
