package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/delivery/internal/adaptive"
	"github.com/therealutkarshpriyadarshi/delivery/internal/cache"
	"github.com/therealutkarshpriyadarshi/delivery/internal/catalog"
	"github.com/therealutkarshpriyadarshi/delivery/internal/insights"
	"github.com/therealutkarshpriyadarshi/delivery/internal/logging"
	"github.com/therealutkarshpriyadarshi/delivery/internal/middleware"
	"github.com/therealutkarshpriyadarshi/delivery/internal/netmon"
	"github.com/therealutkarshpriyadarshi/delivery/internal/provider"
	"github.com/therealutkarshpriyadarshi/delivery/internal/selector"
	"github.com/therealutkarshpriyadarshi/delivery/pkg/models"
)

type staticProvider struct {
	name string
}

func (p *staticProvider) Name() string { return p.name }

func (p *staticProvider) Probe(ctx context.Context) (models.ProbeResult, error) {
	return models.ProbeResult{LatencyMs: 50}, nil
}

func (p *staticProvider) Push(ctx context.Context, path string, r io.Reader, size int64) (string, error) {
	return "https://" + p.name + "/" + path, nil
}

func (p *staticProvider) Purge(ctx context.Context, path string) error { return nil }

// fakeStore is an in-memory store for handler tests
type fakeStore struct {
	mu        sync.Mutex
	configs   map[string]*models.AdaptiveConfig
	decisions []models.DeliveryDecision
	samples   []models.QualitySample
}

func newFakeStore() *fakeStore {
	return &fakeStore{configs: make(map[string]*models.AdaptiveConfig)}
}

func (s *fakeStore) Health(ctx context.Context) error { return nil }

func (s *fakeStore) UpsertAdaptiveConfig(ctx context.Context, cfg *models.AdaptiveConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *cfg
	s.configs[cfg.SessionID] = &copied
	return nil
}

func (s *fakeStore) GetAdaptiveConfig(ctx context.Context, sessionID string) (*models.AdaptiveConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[sessionID]
	if !ok {
		return nil, fmt.Errorf("adaptive config not found")
	}
	copied := *cfg
	return &copied, nil
}

func (s *fakeStore) DeleteAdaptiveConfig(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.configs, sessionID)
	return nil
}

func (s *fakeStore) InsertQualitySample(ctx context.Context, sample *models.QualitySample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, *sample)
	return nil
}

func (s *fakeStore) ListQualitySamples(ctx context.Context, sessionID string, since time.Time) ([]models.QualitySample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.QualitySample
	for _, qs := range s.samples {
		if qs.SessionID == sessionID {
			out = append(out, qs)
		}
	}
	return out, nil
}

func (s *fakeStore) ListHealthSnapshots(ctx context.Context, provider string, since time.Time) ([]models.HealthSnapshot, error) {
	return nil, nil
}

func (s *fakeStore) InsertDecision(ctx context.Context, decision *models.DeliveryDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, *decision)
	return nil
}

func (s *fakeStore) ListDecisions(ctx context.Context, sessionID string, limit int) ([]models.DeliveryDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.DeliveryDecision
	for i := len(s.decisions) - 1; i >= 0 && len(out) < limit; i-- {
		if s.decisions[i].SessionID == sessionID {
			out = append(out, s.decisions[i])
		}
	}
	return out, nil
}

func (s *fakeStore) decisionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.decisions)
}

func (s *fakeStore) sampleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

// fakeBus records published decisions
type fakeBus struct {
	mu        sync.Mutex
	published []models.DeliveryDecision
}

func (b *fakeBus) PublishDecision(ctx context.Context, decision *models.DeliveryDecision) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, *decision)
	return nil
}

func (b *fakeBus) Consume(ctx context.Context, pattern string, handler func([]byte) error) error {
	return nil
}

func (b *fakeBus) publishedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

func newTestAPI(t *testing.T) (*API, *miniredis.Miniredis) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger, err := logging.NewLogger(logging.Config{Level: "error", Format: "json", Output: "stdout"})
	require.NoError(t, err)

	registry, err := provider.NewRegistryFromProviders(map[provider.Provider]models.CDNProvider{
		&staticProvider{name: "edge-a"}: {Name: "edge-a", Priority: 1},
		&staticProvider{name: "edge-b"}: {Name: "edge-b", Priority: 2},
	})
	require.NoError(t, err)
	registry.SetHealth("edge-a", 95, models.ProviderStatusHealthy, time.Now())
	registry.SetHealth("edge-b", 90, models.ProviderStatusHealthy, time.Now())

	cat, err := catalog.New(catalog.DefaultLevels())
	require.NoError(t, err)
	catalogs := catalog.NewStore(cat)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cch, err := cache.NewCache(mr.Host(), mr.Server().Addr().Port, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { cch.Close() })

	return &API{
		logger:   logger,
		repo:     newFakeStore(),
		cache:    cch,
		queue:    &fakeBus{},
		registry: registry,
		catalogs: catalogs,
		netmon:   netmon.NewMonitor(8, time.Hour),
		engine:   adaptive.NewEngine(adaptive.DefaultConfig(), catalogs, logger),
		selector: selector.NewSelector(registry, logger),
		analyzer: insights.NewAnalyzer(insights.DefaultConfig()),
	}, mr
}

func performJSON(router *gin.Engine, method, target string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestIngestSampleColdSessionReturnsDecision(t *testing.T) {
	api, _ := newTestAPI(t)
	router := gin.New()
	router.POST("/sessions/:id/samples", api.ingestSample)

	// Nothing cached and nothing stored for this session: the handler
	// must still answer with a full decision built from defaults.
	w := performJSON(router, http.MethodPost, "/sessions/fresh/samples", gin.H{
		"bandwidth":  8_000_000,
		"latency_ms": 30.0,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var decision models.DeliveryDecision
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decision))
	assert.Equal(t, "fresh", decision.SessionID)
	assert.NotEmpty(t, decision.QualityID)
	assert.Equal(t, "edge-a", decision.PrimaryProvider)
	assert.NotEmpty(t, decision.Reasons)

	store := api.repo.(*fakeStore)
	assert.Equal(t, 1, store.decisionCount())
	assert.Equal(t, 1, store.sampleCount())
	assert.Equal(t, 1, api.queue.(*fakeBus).publishedCount())

	cached, err := api.cache.GetDecision(context.Background(), "fresh")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, decision.QualityID, cached.QualityID)
}

func TestLoadAdaptiveConfigNeverReturnsNil(t *testing.T) {
	api, _ := newTestAPI(t)
	ctx := context.Background()

	// Cold cache and empty store fall back to defaults.
	acfg := api.loadAdaptiveConfig(ctx, "unseen")
	require.NotNil(t, acfg)
	assert.Equal(t, "unseen", acfg.SessionID)
	assert.True(t, acfg.AdaptiveEnabled)

	// A stored config is served and re-cached on a cache miss.
	stored := models.DefaultAdaptiveConfig("configured")
	stored.MaxQualityID = "480p"
	require.NoError(t, api.repo.UpsertAdaptiveConfig(ctx, stored))

	acfg = api.loadAdaptiveConfig(ctx, "configured")
	require.NotNil(t, acfg)
	assert.Equal(t, "480p", acfg.MaxQualityID)

	cached, err := api.cache.GetAdaptiveConfig(ctx, "configured")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "480p", cached.MaxQualityID)
}

func TestIngestSampleRejectsMissingBandwidth(t *testing.T) {
	api, _ := newTestAPI(t)
	router := gin.New()
	router.POST("/sessions/:id/samples", api.ingestSample)

	w := performJSON(router, http.MethodPost, "/sessions/s1/samples", gin.H{"latency_ms": 40})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIngestSampleRejectsOutOfRangePacketLoss(t *testing.T) {
	api, _ := newTestAPI(t)
	router := gin.New()
	router.POST("/sessions/:id/samples", api.ingestSample)

	w := performJSON(router, http.MethodPost, "/sessions/s1/samples", gin.H{
		"bandwidth":   8_000_000,
		"packet_loss": 2.0,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "packet loss")
}

func TestGetDecisionUnknownSessionIs404(t *testing.T) {
	api, _ := newTestAPI(t)
	router := gin.New()
	router.GET("/sessions/:id/decision", api.getDecision)

	w := performJSON(router, http.MethodGet, "/sessions/nobody/decision", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetDecisionFallsBackToStoreAfterCacheExpiry(t *testing.T) {
	api, mr := newTestAPI(t)
	router := gin.New()
	router.GET("/sessions/:id/decision", api.getDecision)

	ctx := context.Background()
	decision := &models.DeliveryDecision{
		SessionID: "s1",
		QualityID: "720p",
		Reasons:   []string{models.ReasonNoChange},
		DecidedAt: time.Now().UTC(),
	}
	require.NoError(t, api.repo.InsertDecision(ctx, decision))
	require.NoError(t, api.cache.SetDecision(ctx, decision, decisionCacheTTL))

	// Served from cache while the entry is live.
	w := performJSON(router, http.MethodGet, "/sessions/s1/decision", nil)
	require.Equal(t, http.StatusOK, w.Code)

	// After the TTL the read falls through to the store, not to a null body.
	mr.FastForward(decisionCacheTTL + time.Second)

	w = performJSON(router, http.MethodGet, "/sessions/s1/decision", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got models.DeliveryDecision
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "720p", got.QualityID)
}

func TestListQualityLevels(t *testing.T) {
	api, _ := newTestAPI(t)
	router := gin.New()
	router.GET("/quality-levels", api.listQualityLevels)

	w := performJSON(router, http.MethodGet, "/quality-levels", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Levels  []models.QualityLevel `json:"levels"`
		Default string                `json:"default"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Levels)
	assert.NotEmpty(t, resp.Default)
}

func TestListQualityLevelsBandwidthCeiling(t *testing.T) {
	api, _ := newTestAPI(t)
	router := gin.New()
	router.GET("/quality-levels", api.listQualityLevels)

	w := performJSON(router, http.MethodGet, "/quality-levels?max_bandwidth=3000000", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Levels []models.QualityLevel `json:"levels"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	for _, lvl := range resp.Levels {
		assert.LessOrEqual(t, lvl.Bitrate, int64(3000000))
	}
}

func TestListQualityLevelsRejectsBadBandwidth(t *testing.T) {
	api, _ := newTestAPI(t)
	router := gin.New()
	router.GET("/quality-levels", api.listQualityLevels)

	w := performJSON(router, http.MethodGet, "/quality-levels?max_bandwidth=lots", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetProviderHealth(t *testing.T) {
	api, _ := newTestAPI(t)
	router := gin.New()
	router.GET("/providers/health", api.getProviderHealth)

	w := performJSON(router, http.MethodGet, "/providers/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Providers []models.CDNProvider `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Providers, 2)
	for _, p := range resp.Providers {
		assert.Equal(t, models.ProviderStatusHealthy, p.Status)
	}
}

func TestGetProviderHealthBackfillsFromCache(t *testing.T) {
	api, _ := newTestAPI(t)
	router := gin.New()
	router.GET("/providers/health", api.getProviderHealth)

	// A freshly started API has no probe results of its own; the monitor
	// daemon's shared state fills the gap.
	api.registry.SetHealth("edge-a", 0, models.ProviderStatusUnknown, time.Time{})
	probed := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, api.cache.SetProviderHealth(context.Background(), &models.CDNProvider{
		Name:        "edge-a",
		Status:      models.ProviderStatusDegraded,
		HealthScore: 55,
		LastProbeAt: probed,
	}, time.Minute))

	w := performJSON(router, http.MethodGet, "/providers/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Providers []models.CDNProvider `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	byName := make(map[string]models.CDNProvider)
	for _, p := range resp.Providers {
		byName[p.Name] = p
	}
	assert.Equal(t, models.ProviderStatusDegraded, byName["edge-a"].Status)
	assert.Equal(t, float64(55), byName["edge-a"].HealthScore)
	assert.Equal(t, models.ProviderStatusHealthy, byName["edge-b"].Status)
}

func TestGetProviderReportUnknownProvider(t *testing.T) {
	api, _ := newTestAPI(t)
	router := gin.New()
	router.GET("/insights/providers/:name", api.getProviderReport)

	w := performJSON(router, http.MethodGet, "/insights/providers/nobody", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionMetricsRejectsBadWindow(t *testing.T) {
	api, _ := newTestAPI(t)
	router := gin.New()
	router.GET("/sessions/:id/metrics", api.getSessionMetrics)

	w := performJSON(router, http.MethodGet, "/sessions/s1/metrics?window=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateConfigRejectsUnknownQualityLevel(t *testing.T) {
	api, _ := newTestAPI(t)
	router := gin.New()
	router.PUT("/sessions/:id/config", api.updateSessionConfig)

	w := performJSON(router, http.MethodPut, "/sessions/s1/config", gin.H{
		"adaptive_enabled": true,
		"min_quality_id":   "16k",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "16k")
}

func TestForceQualityPinsSession(t *testing.T) {
	api, _ := newTestAPI(t)
	router := gin.New()
	router.POST("/sessions/:id/force-quality", api.forceQuality)
	router.POST("/sessions/:id/samples", api.ingestSample)

	w := performJSON(router, http.MethodPost, "/sessions/s1/force-quality", gin.H{
		"quality_id": "480p",
		"reason":     "incident",
	})
	require.Equal(t, http.StatusOK, w.Code)

	stored, err := api.repo.GetAdaptiveConfig(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "480p", stored.ForcedQualityID)

	// Samples keep flowing but the forced level wins.
	w = performJSON(router, http.MethodPost, "/sessions/s1/samples", gin.H{
		"bandwidth":  50_000_000,
		"latency_ms": 10.0,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var decision models.DeliveryDecision
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decision))
	assert.Equal(t, "480p", decision.QualityID)
	assert.Contains(t, decision.Reasons, models.ReasonManualOverride)
}

func TestForceQualityRequiresQualityID(t *testing.T) {
	api, _ := newTestAPI(t)
	router := gin.New()
	router.POST("/sessions/:id/force-quality", api.forceQuality)

	w := performJSON(router, http.MethodPost, "/sessions/s1/force-quality", gin.H{"reason": "incident"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDistributeRequiresPathAndData(t *testing.T) {
	api, _ := newTestAPI(t)
	router := gin.New()
	router.POST("/distribute", api.distribute)

	w := performJSON(router, http.MethodPost, "/distribute", gin.H{"path": "assets/manifest.m3u8"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInvalidateRequiresPath(t *testing.T) {
	api, _ := newTestAPI(t)
	router := gin.New()
	router.POST("/invalidate", api.invalidate)

	w := performJSON(router, http.MethodPost, "/invalidate", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOperatorRoutesRequireAuth(t *testing.T) {
	middleware.SetJWTSecret("handlers-test-secret")
	api, _ := newTestAPI(t)
	router := setupRouter(api)

	for _, target := range []string{
		"/api/v1/sessions/s1/force-quality",
		"/api/v1/sessions/s1/resume",
		"/api/v1/distribute",
		"/api/v1/invalidate",
	} {
		w := performJSON(router, http.MethodPost, target, gin.H{})
		assert.Equal(t, http.StatusUnauthorized, w.Code, target)
	}
}

func TestParseWindow(t *testing.T) {
	window, err := parseWindow("")
	require.NoError(t, err)
	assert.Equal(t, defaultWindow, window)

	window, err = parseWindow("30m")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, window)

	_, err = parseWindow("-5m")
	assert.Error(t, err)

	_, err = parseWindow("soon")
	assert.Error(t, err)
}
