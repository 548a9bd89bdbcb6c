package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "delivery_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Decision Metrics
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_decisions_total",
			Help: "Total number of quality decisions",
		},
		[]string{"reason", "applied"},
	)

	QualitySwitchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_quality_switches_total",
			Help: "Total number of applied quality switches",
		},
		[]string{"direction"},
	)

	DecisionNetworkScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "delivery_decision_network_score",
			Help:    "Network score at decision time",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "delivery_active_sessions",
			Help: "Number of sessions with recent network samples",
		},
	)

	// Provider Metrics
	ProviderHealthScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "delivery_provider_health_score",
			Help: "Rolling health score per provider (0-100)",
		},
		[]string{"provider"},
	)

	ProviderProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_provider_probes_total",
			Help: "Total number of provider health probes",
		},
		[]string{"provider", "status"},
	)

	ProviderProbeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "delivery_provider_probe_latency_ms",
			Help:    "Provider probe latency in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 200, 300, 500, 1000, 2500, 5000},
		},
		[]string{"provider"},
	)

	ProviderSelectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_provider_selections_total",
			Help: "Total number of provider selections",
		},
		[]string{"provider", "role"},
	)

	ProviderStatusTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_provider_status_transitions_total",
			Help: "Total number of provider status transitions",
		},
		[]string{"provider", "to_status"},
	)

	// Distribution Metrics
	DistributionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_distributions_total",
			Help: "Total number of content distributions",
		},
		[]string{"provider", "status"},
	)

	DistributionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "delivery_distribution_duration_seconds",
			Help:    "Content push duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"provider"},
	)

	DistributionBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_distribution_bytes_total",
			Help: "Total bytes pushed to providers",
		},
		[]string{"provider"},
	)

	InvalidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_invalidations_total",
			Help: "Total number of cache invalidation fan-outs",
		},
		[]string{"status"},
	)

	// Database Metrics
	DatabaseOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_database_operations_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "status"},
	)

	DatabaseOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "delivery_database_operation_duration_seconds",
			Help:    "Database operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Cache Metrics
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// Error Metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordDecision records a quality decision outcome
func RecordDecision(reason string, applied bool, networkScore float64) {
	appliedLabel := "false"
	if applied {
		appliedLabel = "true"
	}
	DecisionsTotal.WithLabelValues(reason, appliedLabel).Inc()
	DecisionNetworkScore.Observe(networkScore)
}

// RecordQualitySwitch records an applied quality switch
func RecordQualitySwitch(direction string) {
	QualitySwitchesTotal.WithLabelValues(direction).Inc()
}

// RecordProbe records a provider health probe
func RecordProbe(provider, status string, latencyMs, score float64) {
	ProviderProbesTotal.WithLabelValues(provider, status).Inc()
	ProviderProbeLatency.WithLabelValues(provider).Observe(latencyMs)
	ProviderHealthScore.WithLabelValues(provider).Set(score)
}

// RecordProviderSelection records which provider won a selection
func RecordProviderSelection(provider, role string) {
	ProviderSelectionsTotal.WithLabelValues(provider, role).Inc()
}

// RecordStatusTransition records a provider status transition
func RecordStatusTransition(provider, toStatus string) {
	ProviderStatusTransitionsTotal.WithLabelValues(provider, toStatus).Inc()
}

// RecordDistribution records one provider push within a distribution
func RecordDistribution(provider, status string, duration float64, bytes int64) {
	DistributionsTotal.WithLabelValues(provider, status).Inc()
	DistributionDuration.WithLabelValues(provider).Observe(duration)
	DistributionBytesTotal.WithLabelValues(provider).Add(float64(bytes))
}

// RecordInvalidation records an invalidation fan-out outcome
func RecordInvalidation(status string) {
	InvalidationsTotal.WithLabelValues(status).Inc()
}

// RecordDatabaseOperation records a database operation
func RecordDatabaseOperation(operation, status string, duration float64) {
	DatabaseOperationsTotal.WithLabelValues(operation, status).Inc()
	DatabaseOperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordCacheAccess records cache hit or miss
func RecordCacheAccess(cacheType string, hit bool) {
	if hit {
		CacheHitsTotal.WithLabelValues(cacheType).Inc()
	} else {
		CacheMissesTotal.WithLabelValues(cacheType).Inc()
	}
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
