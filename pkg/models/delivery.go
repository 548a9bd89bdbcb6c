package models

import "time"

// Decision reason codes
const (
	ReasonNetworkDegraded = "network_degraded"
	ReasonNetworkImproved = "network_improved"
	ReasonManualOverride  = "manual_override"
	ReasonConfigLimit     = "config_limit"
	ReasonColdStart       = "cold_start"
	ReasonNoChange        = "no_change"
	ReasonAllUnhealthy    = "all_unhealthy"
)

// Latency preference constants
const (
	LatencyPreferenceLow      = "low"
	LatencyPreferenceBalanced = "balanced"
)

// DeliveryDecision represents the outcome of one quality/provider decision.
// It is ephemeral: recorded for audit and metrics, not used as state beyond
// hysteresis tracking.
type DeliveryDecision struct {
	SessionID         string    `json:"session_id" db:"session_id"`
	QualityID         string    `json:"quality_id" db:"quality_id"`
	PreviousQualityID string    `json:"previous_quality_id,omitempty" db:"previous_quality_id"`
	TargetQualityID   string    `json:"target_quality_id" db:"target_quality_id"`
	PrimaryProvider   string    `json:"primary_provider,omitempty" db:"primary_provider"`
	FallbackProviders []string  `json:"fallback_providers,omitempty" db:"fallback_providers"`
	Reasons           []string  `json:"reasons" db:"reasons"`
	NetworkScore      float64   `json:"network_score" db:"network_score"`
	Applied           bool      `json:"applied" db:"applied"`
	DecidedAt         time.Time `json:"decided_at" db:"decided_at"`
}

// HasReason reports whether the decision carries a reason code
func (d DeliveryDecision) HasReason(reason string) bool {
	for _, r := range d.Reasons {
		if r == reason {
			return true
		}
	}
	return false
}

// RequestContext represents the per-request inputs supplied by the
// session layer. These are trusted as given.
type RequestContext struct {
	SessionID         string `json:"session_id"`
	Location          string `json:"location,omitempty"`
	ExpectedViewers   int    `json:"expected_viewers,omitempty"`
	LatencyPreference string `json:"latency_preference,omitempty"`
}

// ProviderSelection represents a primary provider plus ordered fallbacks
type ProviderSelection struct {
	Primary    CDNProvider   `json:"primary"`
	Fallbacks  []CDNProvider `json:"fallbacks"`
	Reason     string        `json:"reason,omitempty"`
	SelectedAt time.Time     `json:"selected_at"`
}
