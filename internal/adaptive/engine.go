package adaptive

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/delivery/internal/catalog"
	"github.com/therealutkarshpriyadarshi/delivery/internal/logging"
	"github.com/therealutkarshpriyadarshi/delivery/pkg/models"
)

// Config holds the tuning constants of the decision algorithm
type Config struct {
	ReferenceBandwidth   int64         // bps that earns the full bandwidth score
	BandwidthHeadroom    float64       // usable fraction of measured bandwidth
	SwitchCooldown       time.Duration // minimum gap between one-rung changes
	UpgradeConfirmations int           // extra qualifying observations before an upgrade applies
}

// DefaultConfig returns the algorithm defaults
func DefaultConfig() Config {
	return Config{
		ReferenceBandwidth:   10000000,
		BandwidthHeadroom:    0.8,
		SwitchCooldown:       10 * time.Second,
		UpgradeConfirmations: 1,
	}
}

// Engine computes per-session quality decisions. Decisions are pure
// computation over in-memory state: no I/O happens inside Decide, and
// decisions for the same session are serialized by a per-session lock.
type Engine struct {
	cfg      Config
	catalogs *catalog.Store
	logger   *logging.Logger

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// sessionState tracks what hysteresis needs between decisions
type sessionState struct {
	mu sync.Mutex

	current    string // applied quality id, empty before the first decision
	lastChange time.Time

	// upgrade confirmation tracking
	pendingUpgradeID    string
	pendingUpgradeCount int
}

// NewEngine creates a quality decision engine
func NewEngine(cfg Config, catalogs *catalog.Store, logger *logging.Logger) *Engine {
	if cfg.BandwidthHeadroom <= 0 || cfg.BandwidthHeadroom > 1 {
		cfg.BandwidthHeadroom = 0.8
	}
	if cfg.ReferenceBandwidth <= 0 {
		cfg.ReferenceBandwidth = DefaultConfig().ReferenceBandwidth
	}
	return &Engine{
		cfg:      cfg,
		catalogs: catalogs,
		logger:   logger,
		sessions: make(map[string]*sessionState),
	}
}

// NetworkScore computes the composite network condition score in [0,100]:
// bandwidth contributes up to 40 points, latency up to 30, stability up
// to 30.
func (e *Engine) NetworkScore(sample models.NetworkSample) float64 {
	bandwidthScore := math.Min(float64(sample.Bandwidth)/float64(e.cfg.ReferenceBandwidth), 1) * 40
	latencyScore := math.Max(30-sample.LatencyMs/100, 0)
	stabilityScore := sample.Stability * 30
	return bandwidthScore + latencyScore + stabilityScore
}

// Decide computes the quality decision for a session given its latest
// network sample. A nil sample is the defined cold-start behavior, not an
// error: the catalog default level is selected.
func (e *Engine) Decide(sessionID string, sample *models.NetworkSample, acfg *models.AdaptiveConfig, now time.Time) models.DeliveryDecision {
	if acfg == nil {
		acfg = models.DefaultAdaptiveConfig(sessionID)
	}

	cat := e.catalogs.ForScope(acfg.ScopeID)
	st := e.state(sessionID)

	st.mu.Lock()
	defer st.mu.Unlock()

	decision := models.DeliveryDecision{
		SessionID:         sessionID,
		PreviousQualityID: st.current,
		DecidedAt:         now,
	}

	// Operator override pins the level until adaptation is resumed.
	if acfg.ForcedQualityID != "" {
		lvl, ok := cat.ByID(acfg.ForcedQualityID)
		if !ok {
			lvl = cat.Default()
		}
		decision.TargetQualityID = lvl.ID
		decision.QualityID = lvl.ID
		decision.Reasons = []string{models.ReasonManualOverride}
		decision.Applied = st.current != lvl.ID
		st.apply(lvl.ID, now)
		e.logDecision(decision)
		return decision
	}

	// Cold start: no sample observed yet.
	if sample == nil {
		lvl := cat.Default()
		decision.TargetQualityID = lvl.ID
		decision.QualityID = lvl.ID
		decision.Reasons = []string{models.ReasonColdStart}
		decision.Applied = st.current != lvl.ID
		st.init(lvl.ID)
		e.logDecision(decision)
		return decision
	}

	decision.NetworkScore = e.NetworkScore(*sample)

	var target models.QualityLevel
	var clampedByConfig bool
	if !acfg.AdaptiveEnabled || !acfg.NetworkAdaptation {
		target = cat.Default()
	} else {
		target = e.selectLevel(cat, *sample, acfg)
	}
	target, clampedByConfig = clampToConfig(cat, target, acfg)

	decision.TargetQualityID = target.ID

	// Hysteresis baseline: before the first sample-driven decision the
	// session is effectively playing the default level.
	current := st.current
	if current == "" {
		current = cat.Default().ID
	}
	currentLvl, _ := cat.ByID(current)

	switch {
	case target.ID == current:
		decision.QualityID = current
		decision.Reasons = appendReason([]string{models.ReasonNoChange}, clampedByConfig)
		decision.Applied = st.current == ""
		st.applyKeep(current, now)
		st.clearPending()

	case cat.RungDistance(current, target.ID) > 1:
		// Large swings bypass cooldown and upgrade confirmation: a network
		// collapse must not wait out the cooldown window.
		decision.QualityID = target.ID
		decision.Reasons = appendReason([]string{directionReason(currentLvl, target)}, clampedByConfig)
		decision.Applied = true
		st.apply(target.ID, now)
		st.clearPending()

	case now.Sub(st.lastChange) < e.cfg.SwitchCooldown && !st.lastChange.IsZero():
		// One-rung change inside the cooldown window: hold the line.
		decision.QualityID = current
		decision.Reasons = appendReason([]string{directionReason(currentLvl, target), models.ReasonNoChange}, clampedByConfig)
		decision.Applied = false
		st.applyKeep(current, now)

	case target.Bitrate < currentLvl.Bitrate:
		// Downgrades apply on a single qualifying sample: playback
		// stability beats visual quality.
		decision.QualityID = target.ID
		decision.Reasons = appendReason([]string{models.ReasonNetworkDegraded}, clampedByConfig)
		decision.Applied = true
		st.apply(target.ID, now)
		st.clearPending()

	default:
		// Upgrade: the improved condition must persist for extra
		// observations to avoid single-sample flapping.
		if st.pendingUpgradeID == target.ID {
			st.pendingUpgradeCount++
		} else {
			st.pendingUpgradeID = target.ID
			st.pendingUpgradeCount = 1
		}

		if st.pendingUpgradeCount > e.cfg.UpgradeConfirmations {
			decision.QualityID = target.ID
			decision.Reasons = appendReason([]string{models.ReasonNetworkImproved}, clampedByConfig)
			decision.Applied = true
			st.apply(target.ID, now)
			st.clearPending()
		} else {
			decision.QualityID = current
			decision.Reasons = appendReason([]string{models.ReasonNetworkImproved, models.ReasonNoChange}, clampedByConfig)
			decision.Applied = false
			st.applyKeep(current, now)
		}
	}

	e.logDecision(decision)
	return decision
}

// ForceQuality validates a forced level against the session's catalog and
// records it in the adaptive configuration. Adaptation stays disabled
// until ResumeAdaptive is called.
func (e *Engine) ForceQuality(acfg *models.AdaptiveConfig, levelID, reason string) error {
	cat := e.catalogs.ForScope(acfg.ScopeID)
	if _, ok := cat.ByID(levelID); !ok {
		return fmt.Errorf("quality level %q not in catalog", levelID)
	}
	acfg.ForcedQualityID = levelID
	acfg.ForcedReason = reason
	acfg.UpdatedAt = time.Now()
	return nil
}

// ResumeAdaptive clears a forced quality level and re-enables adaptation
func (e *Engine) ResumeAdaptive(acfg *models.AdaptiveConfig) {
	acfg.ForcedQualityID = ""
	acfg.ForcedReason = ""
	acfg.UpdatedAt = time.Now()
}

// Current returns the session's applied quality level id, if any
func (e *Engine) Current(sessionID string) (string, bool) {
	st := e.state(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.current, st.current != ""
}

// Forget drops decision state for an ended session
func (e *Engine) Forget(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sessions, sessionID)
}

// selectLevel walks the catalog highest bitrate first and picks the first
// level fitting inside the bandwidth headroom; if none fits, the lowest
// rung is selected.
func (e *Engine) selectLevel(cat *catalog.Catalog, sample models.NetworkSample, acfg *models.AdaptiveConfig) models.QualityLevel {
	opts := catalog.ListOptions{}
	if acfg.DeviceOptimization && acfg.DeviceClass != "" {
		opts.DeviceClass = acfg.DeviceClass
	}

	levels := cat.List(opts)
	if len(levels) == 0 {
		levels = cat.Levels()
	}

	budget := float64(sample.Bandwidth) * e.cfg.BandwidthHeadroom
	for _, lvl := range levels {
		if float64(lvl.Bitrate) <= budget {
			return lvl
		}
	}
	return levels[len(levels)-1]
}

// clampToConfig applies the session's min/max quality bounds. It returns
// the clamped level and whether clamping changed the selection.
func clampToConfig(cat *catalog.Catalog, target models.QualityLevel, acfg *models.AdaptiveConfig) (models.QualityLevel, bool) {
	clamped := false

	if acfg.MaxQualityID != "" {
		if maxLvl, ok := cat.ByID(acfg.MaxQualityID); ok && target.Bitrate > maxLvl.Bitrate {
			target = maxLvl
			clamped = true
		}
	}
	if acfg.MinQualityID != "" {
		if minLvl, ok := cat.ByID(acfg.MinQualityID); ok && target.Bitrate < minLvl.Bitrate {
			target = minLvl
			clamped = true
		}
	}
	return target, clamped
}

func directionReason(current, target models.QualityLevel) string {
	if target.Bitrate < current.Bitrate {
		return models.ReasonNetworkDegraded
	}
	return models.ReasonNetworkImproved
}

func appendReason(reasons []string, clamped bool) []string {
	if clamped {
		return append(reasons, models.ReasonConfigLimit)
	}
	return reasons
}

func (e *Engine) state(sessionID string) *sessionState {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.sessions[sessionID]
	if !ok {
		st = &sessionState{}
		e.sessions[sessionID] = st
	}
	return st
}

func (e *Engine) logDecision(d models.DeliveryDecision) {
	if e.logger != nil {
		e.logger.LogDecision(d.SessionID, d.QualityID, d.PreviousQualityID, d.Reasons, d.NetworkScore, d.Applied)
	}
}

// apply records a quality change and restarts the cooldown window
func (st *sessionState) apply(levelID string, now time.Time) {
	if st.current != levelID {
		st.lastChange = now
	}
	st.current = levelID
}

// init seeds the session's current level without counting it as a
// change: the cooldown window only starts on real switches.
func (st *sessionState) init(levelID string) {
	st.current = levelID
}

// applyKeep keeps the current level without restarting the cooldown window
func (st *sessionState) applyKeep(levelID string, now time.Time) {
	if st.current == "" {
		st.current = levelID
	}
}

func (st *sessionState) clearPending() {
	st.pendingUpgradeID = ""
	st.pendingUpgradeCount = 0
}
