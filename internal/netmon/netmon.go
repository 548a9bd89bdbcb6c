package netmon

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/delivery/pkg/models"
)

// ErrInvalidSample is returned for malformed network measurements.
// The prior session state is left untouched.
var ErrInvalidSample = errors.New("invalid network sample")

// Monitor buffers the latest network sample per session plus a short
// rolling bandwidth history used for stability scoring. Session state is
// exclusively owned by its session; the monitor only serializes map access.
type Monitor struct {
	mu          sync.RWMutex
	sessions    map[string]*sessionState
	historySize int
	idleTTL     time.Duration
}

type sessionState struct {
	latest   models.NetworkSample
	history  []int64 // recent bandwidth samples, oldest first
	lastSeen time.Time
}

// NewMonitor creates a network condition monitor. historySize is the
// number of bandwidth samples kept per session (K in the stability
// formula); idleTTL controls when Sweep garbage-collects a session.
func NewMonitor(historySize int, idleTTL time.Duration) *Monitor {
	if historySize < 2 {
		historySize = 2
	}
	return &Monitor{
		sessions:    make(map[string]*sessionState),
		historySize: historySize,
		idleTTL:     idleTTL,
	}
}

// Record validates and stores a network sample for a session. It computes
// the stability score (1 - normalized variance of the rolling bandwidth
// history) and overwrites the session's latest sample.
func (m *Monitor) Record(sessionID string, sample models.NetworkSample) error {
	if sessionID == "" {
		return fmt.Errorf("%w: empty session id", ErrInvalidSample)
	}
	if sample.Bandwidth <= 0 {
		return fmt.Errorf("%w: bandwidth must be positive, got %d", ErrInvalidSample, sample.Bandwidth)
	}
	if sample.LatencyMs < 0 {
		return fmt.Errorf("%w: latency must be non-negative, got %v", ErrInvalidSample, sample.LatencyMs)
	}
	if sample.PacketLoss < 0 || sample.PacketLoss > 1 {
		return fmt.Errorf("%w: packet loss must be in [0,1], got %v", ErrInvalidSample, sample.PacketLoss)
	}
	if sample.JitterMs < 0 {
		return fmt.Errorf("%w: jitter must be non-negative, got %v", ErrInvalidSample, sample.JitterMs)
	}

	sample.SessionID = sessionID
	if sample.MeasuredAt.IsZero() {
		sample.MeasuredAt = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.sessions[sessionID]
	if !ok {
		st = &sessionState{}
		m.sessions[sessionID] = st
	}

	st.history = append(st.history, sample.Bandwidth)
	if len(st.history) > m.historySize {
		st.history = st.history[len(st.history)-m.historySize:]
	}

	sample.Stability = stability(st.history)
	st.latest = sample
	st.lastSeen = sample.MeasuredAt

	return nil
}

// Latest returns the most recent sample for a session. The second return
// value is false before any sample was recorded (cold start).
func (m *Monitor) Latest(sessionID string) (models.NetworkSample, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.sessions[sessionID]
	if !ok {
		return models.NetworkSample{}, false
	}
	return st.latest, true
}

// History returns a copy of the rolling bandwidth history for a session
func (m *Monitor) History(sessionID string) []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]int64, len(st.history))
	copy(out, st.history)
	return out
}

// Forget drops all state for a session
func (m *Monitor) Forget(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// Sweep garbage-collects sessions idle longer than the configured TTL and
// returns the IDs removed, so callers can drop their own per-session
// state too. A session ending simply stops producing samples; this is
// the cleanup path.
func (m *Monitor) Sweep(now time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed []string
	for id, st := range m.sessions {
		if now.Sub(st.lastSeen) > m.idleTTL {
			delete(m.sessions, id)
			removed = append(removed, id)
		}
	}
	return removed
}

// ActiveSessions returns the number of sessions with recorded samples
func (m *Monitor) ActiveSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// stability computes 1 - normalized variance of the bandwidth history,
// clamped to [0,1]. A single observation is treated as perfectly stable.
func stability(history []int64) float64 {
	if len(history) < 2 {
		return 1.0
	}

	var sum float64
	for _, bw := range history {
		sum += float64(bw)
	}
	mean := sum / float64(len(history))
	if mean == 0 {
		return 0
	}

	var variance float64
	for _, bw := range history {
		d := float64(bw) - mean
		variance += d * d
	}
	variance /= float64(len(history))

	normalized := variance / (mean * mean)
	s := 1.0 - normalized
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
