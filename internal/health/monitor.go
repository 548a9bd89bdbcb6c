package health

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/delivery/internal/logging"
	"github.com/therealutkarshpriyadarshi/delivery/internal/provider"
	"github.com/therealutkarshpriyadarshi/delivery/pkg/models"
)

// Config holds health monitor tuning
type Config struct {
	ProbeInterval      time.Duration
	ProbeTimeout       time.Duration
	ScoreWindow        int     // probes averaged into the rolling score
	MinThroughputMbps  float64 // below this the throughput penalty applies
	HighThroughputMbps float64 // above this a small bonus applies
}

// DefaultConfig returns the monitor defaults
func DefaultConfig() Config {
	return Config{
		ProbeInterval:      5 * time.Minute,
		ProbeTimeout:       5 * time.Second,
		ScoreWindow:        3,
		MinThroughputMbps:  100,
		HighThroughputMbps: 1000,
	}
}

// StatusListener is notified when a provider's status changes. Listeners
// run on their own goroutine, fire-and-forget.
type StatusListener func(providerName, oldStatus, newStatus string, score float64)

// SnapshotSink receives every scored probe, e.g. for persistence
type SnapshotSink func(models.HealthSnapshot)

// Monitor probes every registered provider on a fixed interval and owns
// the registry's health state. Probes within a cycle run in parallel,
// each with an independent timeout; cycles are independent of each other,
// so a slow cycle never delays the next one.
type Monitor struct {
	cfg      Config
	registry *provider.Registry
	logger   *logging.Logger
	clock    Clock

	mu        sync.Mutex
	history   map[string][]models.HealthSnapshot
	listeners []StatusListener
	sink      SnapshotSink

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a provider health monitor
func NewMonitor(cfg Config, registry *provider.Registry, logger *logging.Logger, clock Clock) *Monitor {
	if cfg.ScoreWindow < 1 {
		cfg.ScoreWindow = 1
	}
	if clock == nil {
		clock = NewRealClock()
	}
	return &Monitor{
		cfg:      cfg,
		registry: registry,
		logger:   logger,
		clock:    clock,
		history:  make(map[string][]models.HealthSnapshot),
	}
}

// OnStatusChange registers a status transition listener. Must be called
// before Start.
func (m *Monitor) OnStatusChange(fn StatusListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// SetSnapshotSink registers a sink receiving every scored probe
func (m *Monitor) SetSnapshotSink(fn SnapshotSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sink = fn
}

// Start begins periodic probing until Stop is called
func (m *Monitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)

		ticker := m.clock.Ticker(m.cfg.ProbeInterval)
		defer ticker.Stop()

		// Probe immediately so selectors have health data at startup.
		m.RunCycle(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				// Each cycle runs detached: a late-finishing cycle must
				// not block the next scheduled one.
				go m.RunCycle(ctx)
			}
		}
	}()

	if m.logger != nil {
		m.logger.Infof("Provider health monitor started (interval: %v)", m.cfg.ProbeInterval)
	}
}

// Stop halts periodic probing
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
	if m.logger != nil {
		m.logger.Info("Provider health monitor stopped")
	}
}

// RunCycle probes every provider once, in parallel, and updates registry
// health state. Exported so callers with their own scheduling (and tests)
// can drive cycles directly.
func (m *Monitor) RunCycle(ctx context.Context) {
	providers := m.registry.Providers()

	var wg sync.WaitGroup
	for _, p := range providers {
		wg.Add(1)
		go func(p provider.Provider) {
			defer wg.Done()
			m.probeOne(ctx, p)
		}(p)
	}
	wg.Wait()
}

func (m *Monitor) probeOne(ctx context.Context, p provider.Provider) {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	result, err := p.Probe(probeCtx)
	if err != nil {
		// A timed-out or failed probe is scored as worst case.
		result = models.ProbeResult{
			LatencyMs: float64(m.cfg.ProbeTimeout.Milliseconds()),
			ErrorRate: 1.0,
		}
	}

	score := Score(result, m.cfg)
	now := m.clock.Now()

	snapshot := models.HealthSnapshot{
		ID:             uuid.New().String(),
		Provider:       p.Name(),
		LatencyMs:      result.LatencyMs,
		ErrorRate:      result.ErrorRate,
		ThroughputMbps: result.ThroughputMbps,
		CacheHitRate:   result.CacheHitRate,
		Score:          score,
		ProbedAt:       now,
	}

	rolling, sink, listeners := m.record(snapshot)
	newStatus := models.StatusForScore(rolling)

	old, _ := m.registry.Get(p.Name())
	m.registry.SetHealth(p.Name(), rolling, newStatus, now)

	if m.logger != nil {
		m.logger.LogProbe(p.Name(), result.LatencyMs, result.ErrorRate, rolling, newStatus, err)
	}

	if sink != nil {
		sink(snapshot)
	}

	if old.Status != newStatus && old.Status != "" {
		for _, fn := range listeners {
			// Fire-and-forget: a slow listener must never stall probing.
			go fn(p.Name(), old.Status, newStatus, rolling)
		}
	}
}

// record appends the snapshot to the rolling window and returns the new
// rolling score plus the callbacks to invoke outside the lock.
func (m *Monitor) record(snapshot models.HealthSnapshot) (float64, SnapshotSink, []StatusListener) {
	m.mu.Lock()
	defer m.mu.Unlock()

	hist := append(m.history[snapshot.Provider], snapshot)
	if len(hist) > m.cfg.ScoreWindow {
		hist = hist[len(hist)-m.cfg.ScoreWindow:]
	}
	m.history[snapshot.Provider] = hist

	var sum float64
	for _, s := range hist {
		sum += s.Score
	}

	listeners := make([]StatusListener, len(m.listeners))
	copy(listeners, m.listeners)

	return sum / float64(len(hist)), m.sink, listeners
}

// History returns a copy of the rolling snapshot window for a provider
func (m *Monitor) History(providerName string) []models.HealthSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	hist := m.history[providerName]
	out := make([]models.HealthSnapshot, len(hist))
	copy(out, hist)
	return out
}

// Score computes the composite health score for one probe, clamped to
// [0,100]. Unknown optional measurements contribute nothing; they are
// never substituted with invented values.
func Score(result models.ProbeResult, cfg Config) float64 {
	score := 100.0

	switch {
	case result.LatencyMs > 500:
		score -= 30
	case result.LatencyMs > 300:
		score -= 15
	case result.LatencyMs > 200:
		score -= 5
	}

	switch {
	case result.ErrorRate > 0.05:
		score -= 25
	case result.ErrorRate > 0.02:
		score -= 10
	}

	if result.ThroughputMbps != nil {
		if *result.ThroughputMbps < cfg.MinThroughputMbps {
			score -= 20
		} else if *result.ThroughputMbps > cfg.HighThroughputMbps {
			score += 5
		}
	}

	if result.CacheHitRate != nil {
		if *result.CacheHitRate > 0.95 {
			score += 10
		} else if *result.CacheHitRate < 0.7 {
			score -= 15
		}
	}

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
