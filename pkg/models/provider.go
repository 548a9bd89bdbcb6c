package models

import "time"

// Provider status constants
const (
	ProviderStatusHealthy   = "healthy"
	ProviderStatusDegraded  = "degraded"
	ProviderStatusUnhealthy = "unhealthy"
	ProviderStatusUnknown   = "unknown"
)

// Provider capability constants
const (
	CapabilityStreaming    = "streaming"
	CapabilityStatic       = "static"
	CapabilityInvalidation = "invalidation"
)

// RegionGlobal matches every location hint
const RegionGlobal = "global"

// CDNProvider represents a registered distribution provider and its
// current health state. The provider list is configuration; health fields
// are mutated only by the health monitor.
type CDNProvider struct {
	Name         string    `json:"name" db:"name"`
	Priority     int       `json:"priority" db:"priority"` // lower = preferred
	Regions      []string  `json:"regions" db:"regions"`
	Capabilities []string  `json:"capabilities,omitempty" db:"capabilities"`
	PricePerGB   float64   `json:"price_per_gb,omitempty" db:"price_per_gb"`
	Status       string    `json:"status" db:"status"`
	HealthScore  float64   `json:"health_score" db:"health_score"`
	LastProbeAt  time.Time `json:"last_probe_at,omitempty" db:"last_probe_at"`
}

// ServesRegion reports whether the provider can serve a location hint.
// A provider listing the global region serves everything, and an empty
// hint matches every provider.
func (p CDNProvider) ServesRegion(location string) bool {
	if location == "" {
		return true
	}
	for _, r := range p.Regions {
		if r == location || r == RegionGlobal {
			return true
		}
	}
	return false
}

// ProbeResult represents one raw health probe measurement. Throughput and
// cache hit rate are optional: some provider APIs do not report them, and
// the scorer treats missing values as neutral rather than inventing them.
type ProbeResult struct {
	LatencyMs      float64  `json:"latency_ms"`
	ErrorRate      float64  `json:"error_rate"`
	ThroughputMbps *float64 `json:"throughput_mbps,omitempty"`
	CacheHitRate   *float64 `json:"cache_hit_rate,omitempty"`
}

// HealthSnapshot represents one scored probe cycle for a provider
type HealthSnapshot struct {
	ID             string    `json:"id" db:"id"`
	Provider       string    `json:"provider" db:"provider"`
	LatencyMs      float64   `json:"latency_ms" db:"latency_ms"`
	ErrorRate      float64   `json:"error_rate" db:"error_rate"`
	ThroughputMbps *float64  `json:"throughput_mbps,omitempty" db:"throughput_mbps"`
	CacheHitRate   *float64  `json:"cache_hit_rate,omitempty" db:"cache_hit_rate"`
	Score          float64   `json:"score" db:"score"`
	ProbedAt       time.Time `json:"probed_at" db:"probed_at"`
}

// StatusForScore maps a rolling health score to a provider status
func StatusForScore(score float64) string {
	switch {
	case score > 80:
		return ProviderStatusHealthy
	case score >= 60:
		return ProviderStatusDegraded
	default:
		return ProviderStatusUnhealthy
	}
}
