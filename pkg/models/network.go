package models

import "time"

// Connection type constants
const (
	ConnectionCellular = "cellular"
	ConnectionWifi     = "wifi"
	ConnectionEthernet = "ethernet"
	ConnectionUnknown  = "unknown"
)

// NetworkSample represents one per-session network measurement.
// Sessions keep only the most recent sample plus a short rolling history
// used for stability scoring.
type NetworkSample struct {
	SessionID      string    `json:"session_id" db:"session_id"`
	Bandwidth      int64     `json:"bandwidth" db:"bandwidth"` // bits per second
	LatencyMs      float64   `json:"latency_ms" db:"latency_ms"`
	PacketLoss     float64   `json:"packet_loss" db:"packet_loss"` // fraction, 0-1
	JitterMs       float64   `json:"jitter_ms" db:"jitter_ms"`
	ConnectionType string    `json:"connection_type,omitempty" db:"connection_type"`
	Stability      float64   `json:"stability" db:"stability"` // 0-1, computed by the monitor
	MeasuredAt     time.Time `json:"measured_at" db:"measured_at"`
}
