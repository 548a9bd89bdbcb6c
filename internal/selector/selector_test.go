package selector

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/delivery/internal/provider"
	"github.com/therealutkarshpriyadarshi/delivery/pkg/models"
)

type stubProvider struct{ name string }

func (p stubProvider) Name() string { return p.name }

func (p stubProvider) Probe(ctx context.Context) (models.ProbeResult, error) {
	return models.ProbeResult{}, nil
}

func (p stubProvider) Push(ctx context.Context, path string, r io.Reader, size int64) (string, error) {
	return "http://" + p.name + "/" + path, nil
}

func (p stubProvider) Purge(ctx context.Context, path string) error { return nil }

func buildRegistry(t *testing.T, metas ...models.CDNProvider) *provider.Registry {
	t.Helper()

	entries := make(map[provider.Provider]models.CDNProvider, len(metas))
	for _, m := range metas {
		entries[stubProvider{name: m.Name}] = m
	}
	r, err := provider.NewRegistryFromProviders(entries)
	require.NoError(t, err)

	// Seed health state the way the monitor would.
	for _, m := range metas {
		if m.Status != "" && m.Status != models.ProviderStatusUnknown {
			r.SetHealth(m.Name, m.HealthScore, m.Status, time.Now())
		}
	}
	return r
}

func cdn(name string, priority int, score float64, regions ...string) models.CDNProvider {
	return models.CDNProvider{
		Name:        name,
		Priority:    priority,
		Regions:     regions,
		HealthScore: score,
		Status:      models.StatusForScore(score),
	}
}

func TestSelectDemotesUnhealthyPrimary(t *testing.T) {
	registry := buildRegistry(t,
		cdn("p1", 1, 40),
		cdn("p2", 2, 90),
		cdn("p3", 3, 85),
	)
	s := NewSelector(registry, nil)

	sel, err := s.Select(context.Background(), models.RequestContext{SessionID: "sess-1"})
	require.NoError(t, err)

	assert.Equal(t, "p2", sel.Primary.Name)
	require.Len(t, sel.Fallbacks, 2)
	assert.Equal(t, "p3", sel.Fallbacks[0].Name)
	assert.Equal(t, "p1", sel.Fallbacks[1].Name)
	assert.Empty(t, sel.Reason)
}

func TestSelectPrefersPriorityAmongHealthy(t *testing.T) {
	registry := buildRegistry(t,
		cdn("budget", 1, 85),
		cdn("premium", 2, 99),
	)
	s := NewSelector(registry, nil)

	sel, err := s.Select(context.Background(), models.RequestContext{})
	require.NoError(t, err)
	assert.Equal(t, "budget", sel.Primary.Name)
}

func TestSelectLowLatencyPreferenceFavorsHealth(t *testing.T) {
	registry := buildRegistry(t,
		cdn("budget", 1, 85),
		cdn("premium", 2, 99),
	)
	s := NewSelector(registry, nil)

	sel, err := s.Select(context.Background(), models.RequestContext{
		LatencyPreference: models.LatencyPreferenceLow,
	})
	require.NoError(t, err)
	assert.Equal(t, "premium", sel.Primary.Name)
}

func TestSelectRegionFilter(t *testing.T) {
	registry := buildRegistry(t,
		cdn("us-only", 1, 95, "us-east"),
		cdn("eu-only", 2, 95, "eu-west"),
		cdn("anywhere", 3, 95, models.RegionGlobal),
	)
	s := NewSelector(registry, nil)

	sel, err := s.Select(context.Background(), models.RequestContext{Location: "eu-west"})
	require.NoError(t, err)

	assert.Equal(t, "eu-only", sel.Primary.Name)
	require.Len(t, sel.Fallbacks, 1)
	assert.Equal(t, "anywhere", sel.Fallbacks[0].Name)
}

func TestSelectUnknownRegionFallsBackToAll(t *testing.T) {
	registry := buildRegistry(t,
		cdn("us-only", 1, 95, "us-east"),
	)
	s := NewSelector(registry, nil)

	sel, err := s.Select(context.Background(), models.RequestContext{Location: "ap-south"})
	require.NoError(t, err)
	assert.Equal(t, "us-only", sel.Primary.Name)
}

func TestSelectAllUnhealthyDegradesGracefully(t *testing.T) {
	registry := buildRegistry(t,
		cdn("p1", 1, 30),
		cdn("p2", 2, 55),
	)
	s := NewSelector(registry, nil)

	sel, err := s.Select(context.Background(), models.RequestContext{})
	require.NoError(t, err)

	// Least-bad provider still wins the primary slot.
	assert.Equal(t, "p2", sel.Primary.Name)
	assert.Equal(t, models.ReasonAllUnhealthy, sel.Reason)
}

func TestSelectCapsFallbacks(t *testing.T) {
	registry := buildRegistry(t,
		cdn("p1", 1, 95),
		cdn("p2", 2, 95),
		cdn("p3", 3, 95),
		cdn("p4", 4, 95),
	)
	s := NewSelector(registry, nil)

	sel, err := s.Select(context.Background(), models.RequestContext{})
	require.NoError(t, err)
	assert.Len(t, sel.Fallbacks, 2)
}

func TestSelectMemoizationAndInvalidation(t *testing.T) {
	registry := buildRegistry(t,
		cdn("p1", 1, 95),
		cdn("p2", 2, 90),
	)
	s := NewSelector(registry, nil)
	req := models.RequestContext{Location: "us-east"}

	first, err := s.Select(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "p1", first.Primary.Name)

	// Health collapses, but the memoized chain is served until a status
	// transition invalidates it.
	registry.SetHealth("p1", 30, models.ProviderStatusUnhealthy, time.Now())
	cached, err := s.Select(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "p1", cached.Primary.Name)

	s.OnStatusChange("p1", models.ProviderStatusHealthy, models.ProviderStatusUnhealthy, 30)

	fresh, err := s.Select(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "p2", fresh.Primary.Name)
}

func TestSelectMemoizationExpires(t *testing.T) {
	registry := buildRegistry(t,
		cdn("p1", 1, 95),
		cdn("p2", 2, 90),
	)
	s := NewSelector(registry, nil)

	now := time.Now()
	s.now = func() time.Time { return now }
	req := models.RequestContext{Location: "us-east"}

	first, err := s.Select(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "p1", first.Primary.Name)

	// Scores drift without a status transition: p1 stays healthy but
	// falls behind p2 on the latency-preference ordering.
	registry.SetHealth("p1", 82, models.ProviderStatusHealthy, now)
	lowLatency := models.RequestContext{Location: "us-east", LatencyPreference: models.LatencyPreferenceLow}
	stale, err := s.Select(context.Background(), lowLatency)
	require.NoError(t, err)
	assert.Equal(t, "p2", stale.Primary.Name)

	// Within the TTL the memoized chain is served as-is.
	registry.SetHealth("p2", 81, models.ProviderStatusHealthy, now)
	cached, err := s.Select(context.Background(), lowLatency)
	require.NoError(t, err)
	assert.Equal(t, "p2", cached.Primary.Name)

	// Past the TTL the entry expires and the chain is recomputed.
	registry.SetHealth("p1", 99, models.ProviderStatusHealthy, now)
	now = now.Add(cacheTTL + time.Second)
	fresh, err := s.Select(context.Background(), lowLatency)
	require.NoError(t, err)
	assert.Equal(t, "p1", fresh.Primary.Name)
}
