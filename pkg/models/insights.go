package models

import "time"

// Trend direction constants
const (
	TrendImproving = "improving"
	TrendDeclining = "declining"
	TrendStable    = "stable"
)

// MetricsBucket represents one fixed-granularity rollup window
type MetricsBucket struct {
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	SampleCount     int       `json:"sample_count"`
	AvgBitrate      float64   `json:"avg_bitrate"`
	AvgLatencyMs    float64   `json:"avg_latency_ms"`
	AvgBandwidth    float64   `json:"avg_bandwidth"`
	BufferingEvents int       `json:"buffering_events"`
	AvgQualityScore float64   `json:"avg_quality_score"`
}

// Recommendation represents a threshold-based operator recommendation
type Recommendation struct {
	Code     string `json:"code"`
	Severity string `json:"severity"` // info, warning
	Message  string `json:"message"`
}

// QualityReport represents aggregated quality metrics for a session window
type QualityReport struct {
	SessionID       string           `json:"session_id"`
	Window          time.Duration    `json:"window"`
	Buckets         []MetricsBucket  `json:"buckets"`
	Trend           string           `json:"trend"`
	Recommendations []Recommendation `json:"recommendations,omitempty"`
	GeneratedAt     time.Time        `json:"generated_at"`
}

// ProviderReport represents aggregated health metrics for one provider
type ProviderReport struct {
	Provider        string           `json:"provider"`
	Window          time.Duration    `json:"window"`
	AvgScore        float64          `json:"avg_score"`
	AvgLatencyMs    float64          `json:"avg_latency_ms"`
	AvgErrorRate    float64          `json:"avg_error_rate"`
	Trend           string           `json:"trend"`
	Recommendations []Recommendation `json:"recommendations,omitempty"`
	GeneratedAt     time.Time        `json:"generated_at"`
}
