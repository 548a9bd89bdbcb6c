package models

import "time"

// QualityLevel represents one rung of the delivery quality ladder
type QualityLevel struct {
	ID              string   `json:"id" db:"id"`
	Label           string   `json:"label" db:"label"`
	Width           int      `json:"width" db:"width"`
	Height          int      `json:"height" db:"height"`
	Bitrate         int64    `json:"bitrate" db:"bitrate"` // bits per second
	FrameRate       float64  `json:"frame_rate" db:"frame_rate"`
	Codec           string   `json:"codec" db:"codec"`
	Profile         string   `json:"profile,omitempty" db:"profile"`
	IsDefault       bool     `json:"is_default" db:"is_default"`
	MinNetworkClass string   `json:"min_network_class,omitempty" db:"min_network_class"`
	DeviceClasses   []string `json:"device_classes,omitempty" db:"device_classes"`
}

// SupportsDevice reports whether the level is compatible with a device class.
// An empty compatibility list means the level works everywhere.
func (q QualityLevel) SupportsDevice(deviceClass string) bool {
	if len(q.DeviceClasses) == 0 {
		return true
	}
	for _, dc := range q.DeviceClasses {
		if dc == deviceClass {
			return true
		}
	}
	return false
}

// Device class constants
const (
	DeviceClassMobile  = "mobile"
	DeviceClassTablet  = "tablet"
	DeviceClassDesktop = "desktop"
	DeviceClassTV      = "tv"
)

// Quality preference constants
const (
	PreferenceAuto        = "auto"
	PreferenceQuality     = "quality"
	PreferencePerformance = "performance"
)

// Switching mode constants
const (
	SwitchSeamless        = "seamless"
	SwitchKeyframeAligned = "keyframe_aligned"
	SwitchSegmentAligned  = "segment_aligned"
)

// AdaptiveConfig represents per-session adaptive delivery configuration
type AdaptiveConfig struct {
	SessionID          string  `json:"session_id" db:"session_id"`
	ScopeID            string  `json:"scope_id,omitempty" db:"scope_id"`
	AdaptiveEnabled    bool    `json:"adaptive_enabled" db:"adaptive_enabled"`
	BitrateThresholds  []int64 `json:"bitrate_thresholds,omitempty" db:"bitrate_thresholds"`
	NetworkAdaptation  bool    `json:"network_adaptation" db:"network_adaptation"`
	DeviceOptimization bool    `json:"device_optimization" db:"device_optimization"`
	QualityPreference  string  `json:"quality_preference" db:"quality_preference"`
	MinQualityID       string  `json:"min_quality_id,omitempty" db:"min_quality_id"`
	MaxQualityID       string  `json:"max_quality_id,omitempty" db:"max_quality_id"`
	SwitchMode         string  `json:"switch_mode" db:"switch_mode"`
	DeviceClass        string  `json:"device_class,omitempty" db:"device_class"`

	// Operator override. While ForcedQualityID is set the decision engine
	// keeps returning that level and skips adaptation.
	ForcedQualityID string `json:"forced_quality_id,omitempty" db:"forced_quality_id"`
	ForcedReason    string `json:"forced_reason,omitempty" db:"forced_reason"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// DefaultAdaptiveConfig returns the configuration a session starts with
func DefaultAdaptiveConfig(sessionID string) *AdaptiveConfig {
	now := time.Now()
	return &AdaptiveConfig{
		SessionID:         sessionID,
		AdaptiveEnabled:   true,
		NetworkAdaptation: true,
		QualityPreference: PreferenceAuto,
		SwitchMode:        SwitchSeamless,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// QualitySample represents one point of the per-session quality time series
type QualitySample struct {
	ID               string    `json:"id" db:"id"`
	SessionID        string    `json:"session_id" db:"session_id"`
	Timestamp        time.Time `json:"timestamp" db:"timestamp"`
	CurrentQualityID string    `json:"current_quality_id" db:"current_quality_id"`
	TargetQualityID  string    `json:"target_quality_id" db:"target_quality_id"`
	Bitrate          int64     `json:"bitrate" db:"bitrate"`
	FrameRate        float64   `json:"frame_rate" db:"frame_rate"`
	Resolution       string    `json:"resolution" db:"resolution"`
	DroppedFrames    int       `json:"dropped_frames" db:"dropped_frames"`
	BufferingEvents  int       `json:"buffering_events" db:"buffering_events"`
	LatencyMs        float64   `json:"latency_ms" db:"latency_ms"`
	JitterMs         float64   `json:"jitter_ms" db:"jitter_ms"`
	Bandwidth        int64     `json:"bandwidth" db:"bandwidth"`
	QualityScore     float64   `json:"quality_score" db:"quality_score"`
}
