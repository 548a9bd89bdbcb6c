package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/therealutkarshpriyadarshi/delivery/internal/catalog"
	"github.com/therealutkarshpriyadarshi/delivery/internal/metrics"
	"github.com/therealutkarshpriyadarshi/delivery/internal/netmon"
	"github.com/therealutkarshpriyadarshi/delivery/internal/orchestrator"
	"github.com/therealutkarshpriyadarshi/delivery/pkg/models"
)

const (
	configCacheTTL   = 30 * time.Minute
	decisionCacheTTL = time.Minute
	defaultWindow    = 15 * time.Minute
)

type ingestSampleRequest struct {
	Bandwidth         int64   `json:"bandwidth" binding:"required"`
	LatencyMs         float64 `json:"latency_ms"`
	PacketLoss        float64 `json:"packet_loss"`
	JitterMs          float64 `json:"jitter_ms"`
	ConnectionType    string  `json:"connection_type"`
	Location          string  `json:"location"`
	LatencyPreference string  `json:"latency_preference"`
	BufferingEvents   int     `json:"buffering_events"`
	DroppedFrames     int     `json:"dropped_frames"`
}

// Ingest a network sample and return the resulting delivery decision
func (api *API) ingestSample(c *gin.Context) {
	sessionID := c.Param("id")

	var req ingestSampleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sample := models.NetworkSample{
		SessionID:      sessionID,
		Bandwidth:      req.Bandwidth,
		LatencyMs:      req.LatencyMs,
		PacketLoss:     req.PacketLoss,
		JitterMs:       req.JitterMs,
		ConnectionType: req.ConnectionType,
		MeasuredAt:     time.Now(),
	}
	if err := api.netmon.Record(sessionID, sample); err != nil {
		if errors.Is(err, netmon.ErrInvalidSample) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// The monitor enriches the sample with the stability score computed
	// over the session's bandwidth history.
	enriched, _ := api.netmon.Latest(sessionID)

	ctx := c.Request.Context()
	acfg := api.loadAdaptiveConfig(ctx, sessionID)

	now := time.Now()
	decision := api.engine.Decide(sessionID, &enriched, acfg, now)

	selection, err := api.selector.Select(ctx, models.RequestContext{
		SessionID:         sessionID,
		Location:          req.Location,
		LatencyPreference: req.LatencyPreference,
	})
	if err == nil {
		decision.PrimaryProvider = selection.Primary.Name
		for _, fb := range selection.Fallbacks {
			decision.FallbackProviders = append(decision.FallbackProviders, fb.Name)
		}
		if selection.Reason != "" && !decision.HasReason(selection.Reason) {
			decision.Reasons = append(decision.Reasons, selection.Reason)
		}
		metrics.RecordProviderSelection(selection.Primary.Name, "primary")
		for _, fb := range selection.Fallbacks {
			metrics.RecordProviderSelection(fb.Name, "fallback")
		}
	} else {
		api.logger.WithSessionID(sessionID).Errorf("Provider selection failed: %v", err)
	}

	api.recordDecision(c, decision, acfg, enriched, req)

	c.JSON(http.StatusOK, decision)
}

// recordDecision persists and publishes a decision. Persistence failures
// are logged, not surfaced: the client already has its answer.
func (api *API) recordDecision(c *gin.Context, decision models.DeliveryDecision, acfg *models.AdaptiveConfig, sample models.NetworkSample, req ingestSampleRequest) {
	ctx := c.Request.Context()
	log := api.logger.WithSessionID(decision.SessionID)

	if len(decision.Reasons) > 0 {
		metrics.RecordDecision(decision.Reasons[0], decision.Applied, decision.NetworkScore)
	}

	cat := api.catalogs.ForScope(acfg.ScopeID)
	level, ok := cat.ByID(decision.QualityID)
	if decision.Applied && ok && decision.PreviousQualityID != "" && decision.QualityID != decision.PreviousQualityID {
		direction := "downgrade"
		if prev, found := cat.ByID(decision.PreviousQualityID); found && level.Bitrate > prev.Bitrate {
			direction = "upgrade"
		}
		metrics.RecordQualitySwitch(direction)
	}

	if err := api.repo.InsertDecision(ctx, &decision); err != nil {
		log.Errorf("Failed to persist decision: %v", err)
	}
	if ok {
		qs := &models.QualitySample{
			SessionID:        decision.SessionID,
			Timestamp:        decision.DecidedAt,
			CurrentQualityID: decision.QualityID,
			TargetQualityID:  decision.TargetQualityID,
			Bitrate:          level.Bitrate,
			FrameRate:        level.FrameRate,
			Resolution:       fmt.Sprintf("%dx%d", level.Width, level.Height),
			DroppedFrames:    req.DroppedFrames,
			BufferingEvents:  req.BufferingEvents,
			LatencyMs:        sample.LatencyMs,
			JitterMs:         sample.JitterMs,
			Bandwidth:        sample.Bandwidth,
			QualityScore:     decision.NetworkScore,
		}
		if err := api.repo.InsertQualitySample(ctx, qs); err != nil {
			log.Errorf("Failed to persist quality sample: %v", err)
		}
	}
	if err := api.cache.SetDecision(ctx, &decision, decisionCacheTTL); err != nil {
		log.Errorf("Failed to cache decision: %v", err)
	}
	if err := api.queue.PublishDecision(ctx, &decision); err != nil {
		log.Errorf("Failed to publish decision: %v", err)
	}
}

// Get the most recent decision for a session
func (api *API) getDecision(c *gin.Context) {
	sessionID := c.Param("id")
	ctx := c.Request.Context()

	// A cache miss is (nil, nil), not an error.
	if decision, err := api.cache.GetDecision(ctx, sessionID); err == nil && decision != nil {
		metrics.RecordCacheAccess("decision", true)
		c.JSON(http.StatusOK, decision)
		return
	}
	metrics.RecordCacheAccess("decision", false)

	decisions, err := api.repo.ListDecisions(ctx, sessionID, 1)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(decisions) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "No decision recorded for session"})
		return
	}

	c.JSON(http.StatusOK, decisions[0])
}

// Update a session's adaptive configuration
func (api *API) updateSessionConfig(c *gin.Context) {
	sessionID := c.Param("id")

	var acfg models.AdaptiveConfig
	if err := c.ShouldBindJSON(&acfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	acfg.SessionID = sessionID

	cat := api.catalogs.ForScope(acfg.ScopeID)
	for _, id := range []string{acfg.MinQualityID, acfg.MaxQualityID} {
		if id == "" {
			continue
		}
		if _, ok := cat.ByID(id); !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Unknown quality level %q", id)})
			return
		}
	}

	ctx := c.Request.Context()
	if err := api.repo.UpsertAdaptiveConfig(ctx, &acfg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to save config: %v", err)})
		return
	}
	if err := api.cache.SetAdaptiveConfig(ctx, &acfg, configCacheTTL); err != nil {
		api.logger.WithSessionID(sessionID).Errorf("Failed to cache config: %v", err)
	}

	c.JSON(http.StatusOK, acfg)
}

// Pin a session to a fixed quality level
func (api *API) forceQuality(c *gin.Context) {
	sessionID := c.Param("id")

	var req struct {
		QualityID string `json:"quality_id" binding:"required"`
		Reason    string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	acfg := api.loadAdaptiveConfig(ctx, sessionID)

	if err := api.engine.ForceQuality(acfg, req.QualityID, req.Reason); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	api.saveAdaptiveConfig(c, acfg)
}

// Return a pinned session to adaptive quality selection
func (api *API) resumeAdaptive(c *gin.Context) {
	sessionID := c.Param("id")
	ctx := c.Request.Context()

	acfg := api.loadAdaptiveConfig(ctx, sessionID)
	api.engine.ResumeAdaptive(acfg)

	api.saveAdaptiveConfig(c, acfg)
}

func (api *API) saveAdaptiveConfig(c *gin.Context, acfg *models.AdaptiveConfig) {
	ctx := c.Request.Context()
	if err := api.repo.UpsertAdaptiveConfig(ctx, acfg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to save config: %v", err)})
		return
	}
	if err := api.cache.SetAdaptiveConfig(ctx, acfg, configCacheTTL); err != nil {
		api.logger.WithSessionID(acfg.SessionID).Errorf("Failed to cache config: %v", err)
	}
	c.JSON(http.StatusOK, acfg)
}

// End a session and drop its state everywhere
func (api *API) endSession(c *gin.Context) {
	sessionID := c.Param("id")
	ctx := c.Request.Context()

	api.engine.Forget(sessionID)
	api.netmon.Forget(sessionID)

	if err := api.cache.DeleteDecision(ctx, sessionID); err != nil {
		api.logger.WithSessionID(sessionID).Errorf("Failed to drop cached decision: %v", err)
	}
	if err := api.cache.DeleteAdaptiveConfig(ctx, sessionID); err != nil {
		api.logger.WithSessionID(sessionID).Errorf("Failed to drop cached config: %v", err)
	}
	if err := api.repo.DeleteAdaptiveConfig(ctx, sessionID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to delete config: %v", err)})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Session ended", "session_id": sessionID})
}

// Aggregated quality metrics for a session window
func (api *API) getSessionMetrics(c *gin.Context) {
	sessionID := c.Param("id")

	window, err := parseWindow(c.Query("window"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	samples, err := api.repo.ListQualitySamples(c.Request.Context(), sessionID, time.Now().Add(-window))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	report := api.analyzer.QualityReport(sessionID, samples, window)
	c.JSON(http.StatusOK, report)
}

// List the quality ladder, optionally filtered by device and bandwidth
func (api *API) listQualityLevels(c *gin.Context) {
	opts := catalog.ListOptions{
		DeviceClass: c.Query("device_class"),
	}
	if raw := c.Query("max_bandwidth"); raw != "" {
		maxBW, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid max_bandwidth"})
			return
		}
		opts.MaxBandwidth = maxBW
	}

	cat := api.catalogs.ForScope(c.Query("scope_id"))
	c.JSON(http.StatusOK, gin.H{
		"levels":  cat.List(opts),
		"default": cat.Default().ID,
	})
}

// Current health of every registered provider. A fresh instance holds
// unknown health until the monitor's next transition event, so unknown
// entries are backfilled from the state the monitor mirrors into Redis.
func (api *API) getProviderHealth(c *gin.Context) {
	ctx := c.Request.Context()
	providers := api.registry.Snapshot()
	for i, p := range providers {
		if p.Status != models.ProviderStatusUnknown {
			continue
		}
		cached, err := api.cache.GetProviderHealth(ctx, p.Name)
		if err != nil || cached == nil {
			continue
		}
		providers[i].Status = cached.Status
		providers[i].HealthScore = cached.HealthScore
		providers[i].LastProbeAt = cached.LastProbeAt
		api.registry.SetHealth(p.Name, cached.HealthScore, cached.Status, cached.LastProbeAt)
	}
	c.JSON(http.StatusOK, gin.H{"providers": providers})
}

// Aggregated health report for one provider
func (api *API) getProviderReport(c *gin.Context) {
	name := c.Param("name")
	if _, ok := api.registry.Get(name); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Provider not found"})
		return
	}

	window, err := parseWindow(c.Query("window"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snapshots, err := api.repo.ListHealthSnapshots(c.Request.Context(), name, time.Now().Add(-window))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	report := api.analyzer.ProviderReport(name, snapshots, window)
	c.JSON(http.StatusOK, report)
}

type distributeRequest struct {
	Path              string `json:"path" binding:"required"`
	Data              []byte `json:"data" binding:"required"`
	SessionID         string `json:"session_id"`
	Location          string `json:"location"`
	LatencyPreference string `json:"latency_preference"`
}

// Push content to the selected primary provider plus redundant replicas
func (api *API) distribute(c *gin.Context) {
	var req distributeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	start := time.Now()
	result, err := api.orch.Distribute(c.Request.Context(), req.Path, req.Data, models.RequestContext{
		SessionID:         req.SessionID,
		Location:          req.Location,
		LatencyPreference: req.LatencyPreference,
	})
	if err != nil {
		metrics.RecordDistribution(result.Primary.Provider, "error", time.Since(start).Seconds(), 0)
		api.notifier.NotifyDistributionFailed(result.Primary.Provider, req.Path, err.Error())
		c.JSON(http.StatusBadGateway, gin.H{"error": fmt.Sprintf("Distribution failed: %v", err)})
		return
	}

	metrics.RecordDistribution(result.Primary.Provider, "success", time.Since(start).Seconds(), int64(len(req.Data)))
	c.JSON(http.StatusOK, result)
}

// Purge a path from every reachable provider
func (api *API) invalidate(c *gin.Context) {
	var req struct {
		Path string `json:"path" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := api.orch.Invalidate(c.Request.Context(), req.Path)
	if err != nil {
		metrics.RecordInvalidation("error")
		if errors.Is(err, orchestrator.ErrPartialFailure) {
			c.JSON(http.StatusBadGateway, gin.H{
				"error":  "Invalidation failed on every provider",
				"result": result,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	metrics.RecordInvalidation("success")
	c.JSON(http.StatusOK, result)
}

func parseWindow(raw string) (time.Duration, error) {
	if raw == "" {
		return defaultWindow, nil
	}
	window, err := time.ParseDuration(raw)
	if err != nil || window <= 0 {
		return 0, fmt.Errorf("invalid window %q", raw)
	}
	return window, nil
}
