package selector

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/delivery/internal/logging"
	"github.com/therealutkarshpriyadarshi/delivery/internal/provider"
	"github.com/therealutkarshpriyadarshi/delivery/pkg/models"
)

// maxFallbacks caps the fallback chain handed to clients
const maxFallbacks = 2

// cacheTTL bounds how stale a memoized selection can get when scores
// drift without a status transition. Roughly one probe interval.
const cacheTTL = 5 * time.Minute

type cachedSelection struct {
	selection models.ProviderSelection
	storedAt  time.Time
}

// Selector picks a primary CDN provider plus an ordered fallback chain for
// each request. Selections are memoized per region, invalidated whenever
// the health monitor reports a status transition, and expired after one
// probe interval so score-only drift is also bounded.
type Selector struct {
	registry *provider.Registry
	logger   *logging.Logger
	ttl      time.Duration
	now      func() time.Time

	mu    sync.RWMutex
	cache map[string]cachedSelection
}

func NewSelector(registry *provider.Registry, logger *logging.Logger) *Selector {
	return &Selector{
		registry: registry,
		logger:   logger,
		ttl:      cacheTTL,
		now:      time.Now,
		cache:    make(map[string]cachedSelection),
	}
}

// Select returns the primary provider and up to two fallbacks for the
// request. Providers not serving the request's location are excluded unless
// none serve it, in which case the whole registry is considered. Unhealthy
// providers are always ordered after serviceable ones; when every candidate
// is unhealthy the least-bad provider is still returned, flagged with the
// all_unhealthy reason, rather than failing the request.
func (s *Selector) Select(ctx context.Context, req models.RequestContext) (models.ProviderSelection, error) {
	key := cacheKey(req)

	s.mu.RLock()
	cached, ok := s.cache[key]
	s.mu.RUnlock()
	if ok && s.now().Sub(cached.storedAt) < s.ttl {
		return cached.selection, nil
	}

	candidates := s.registry.Snapshot()
	if len(candidates) == 0 {
		return models.ProviderSelection{}, provider.ErrNoProviderAvailable
	}

	regional := filterRegion(candidates, req.Location)
	if len(regional) == 0 {
		// No provider claims the region: serve it from the full registry
		// rather than failing the request.
		regional = candidates
	}

	serviceable, unhealthy := partition(regional)
	sortCandidates(serviceable, req.LatencyPreference)
	// When every candidate is down, operator priority stops mattering:
	// the least-bad provider goes first.
	sort.SliceStable(unhealthy, func(i, j int) bool {
		if unhealthy[i].HealthScore != unhealthy[j].HealthScore {
			return unhealthy[i].HealthScore > unhealthy[j].HealthScore
		}
		return unhealthy[i].Priority < unhealthy[j].Priority
	})

	selection := models.ProviderSelection{SelectedAt: time.Now()}

	ordered := append(serviceable, unhealthy...)
	selection.Primary = ordered[0]
	for _, p := range ordered[1:] {
		if len(selection.Fallbacks) == maxFallbacks {
			break
		}
		selection.Fallbacks = append(selection.Fallbacks, p)
	}

	if len(serviceable) == 0 {
		selection.Reason = models.ReasonAllUnhealthy
		if s.logger != nil {
			s.logger.Warnf("All providers unhealthy, degrading to %s (score: %.1f)",
				selection.Primary.Name, selection.Primary.HealthScore)
		}
	}

	s.mu.Lock()
	s.cache[key] = cachedSelection{selection: selection, storedAt: s.now()}
	s.mu.Unlock()

	return selection, nil
}

// Invalidate drops every memoized selection. Wired as the health monitor's
// status-change listener: any transition can reorder any region's chain.
func (s *Selector) Invalidate() {
	s.mu.Lock()
	s.cache = make(map[string]cachedSelection)
	s.mu.Unlock()
}

// OnStatusChange adapts Invalidate to the health monitor's listener shape
func (s *Selector) OnStatusChange(providerName, oldStatus, newStatus string, score float64) {
	s.Invalidate()
}

func cacheKey(req models.RequestContext) string {
	return req.Location + "|" + req.LatencyPreference
}

func filterRegion(providers []models.CDNProvider, location string) []models.CDNProvider {
	out := make([]models.CDNProvider, 0, len(providers))
	for _, p := range providers {
		if p.ServesRegion(location) {
			out = append(out, p)
		}
	}
	return out
}

// partition splits candidates into serviceable (healthy, degraded, or not
// yet probed) and unhealthy sets.
func partition(providers []models.CDNProvider) (serviceable, unhealthy []models.CDNProvider) {
	for _, p := range providers {
		if p.Status == models.ProviderStatusUnhealthy {
			unhealthy = append(unhealthy, p)
		} else {
			serviceable = append(serviceable, p)
		}
	}
	return serviceable, unhealthy
}

// sortCandidates orders providers by operator priority, breaking ties on
// health score. A low latency preference inverts that: healthiest first,
// priority as the tie-break.
func sortCandidates(providers []models.CDNProvider, latencyPreference string) {
	sort.SliceStable(providers, func(i, j int) bool {
		a, b := providers[i], providers[j]
		if latencyPreference == models.LatencyPreferenceLow {
			if a.HealthScore != b.HealthScore {
				return a.HealthScore > b.HealthScore
			}
			return a.Priority < b.Priority
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.HealthScore > b.HealthScore
	})
}
