package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/therealutkarshpriyadarshi/delivery/internal/adaptive"
	"github.com/therealutkarshpriyadarshi/delivery/internal/cache"
	"github.com/therealutkarshpriyadarshi/delivery/internal/catalog"
	"github.com/therealutkarshpriyadarshi/delivery/internal/config"
	"github.com/therealutkarshpriyadarshi/delivery/internal/database"
	"github.com/therealutkarshpriyadarshi/delivery/internal/insights"
	"github.com/therealutkarshpriyadarshi/delivery/internal/logging"
	"github.com/therealutkarshpriyadarshi/delivery/internal/metrics"
	"github.com/therealutkarshpriyadarshi/delivery/internal/middleware"
	"github.com/therealutkarshpriyadarshi/delivery/internal/netmon"
	"github.com/therealutkarshpriyadarshi/delivery/internal/notify"
	"github.com/therealutkarshpriyadarshi/delivery/internal/orchestrator"
	"github.com/therealutkarshpriyadarshi/delivery/internal/provider"
	"github.com/therealutkarshpriyadarshi/delivery/internal/queue"
	"github.com/therealutkarshpriyadarshi/delivery/internal/selector"
	"github.com/therealutkarshpriyadarshi/delivery/internal/tracing"
	"github.com/therealutkarshpriyadarshi/delivery/pkg/models"
)

// store is the slice of database.Repository the handlers depend on
type store interface {
	Health(ctx context.Context) error
	UpsertAdaptiveConfig(ctx context.Context, cfg *models.AdaptiveConfig) error
	GetAdaptiveConfig(ctx context.Context, sessionID string) (*models.AdaptiveConfig, error)
	DeleteAdaptiveConfig(ctx context.Context, sessionID string) error
	InsertQualitySample(ctx context.Context, sample *models.QualitySample) error
	ListQualitySamples(ctx context.Context, sessionID string, since time.Time) ([]models.QualitySample, error)
	ListHealthSnapshots(ctx context.Context, provider string, since time.Time) ([]models.HealthSnapshot, error)
	InsertDecision(ctx context.Context, decision *models.DeliveryDecision) error
	ListDecisions(ctx context.Context, sessionID string, limit int) ([]models.DeliveryDecision, error)
}

// eventBus is the slice of queue.Queue the API uses
type eventBus interface {
	PublishDecision(ctx context.Context, decision *models.DeliveryDecision) error
	Consume(ctx context.Context, pattern string, handler func([]byte) error) error
}

type API struct {
	cfg      *config.Config
	logger   *logging.Logger
	repo     store
	cache    *cache.Cache
	queue    eventBus
	registry *provider.Registry
	catalogs *catalog.Store
	netmon   *netmon.Monitor
	engine   *adaptive.Engine
	selector *selector.Selector
	orch     *orchestrator.Orchestrator
	analyzer *insights.Analyzer
	notifier *notify.Service
}

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	// Initialize JWT secret from config
	middleware.SetJWTSecret(cfg.Auth.JWTSecret)

	// Initialize tracing
	if cfg.Tracing.Enabled {
		_, closer, err := tracing.InitTracer(cfg.Tracing.ServiceName, cfg.Tracing.JaegerEndpoint)
		if err != nil {
			log.Fatalf("Failed to initialize tracer: %v", err)
		}
		defer closer.Close()
	}

	// Initialize database
	db, err := database.New(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	repo := database.NewRepository(db)

	// Initialize cache
	rc, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer rc.Close()

	// Initialize queue
	q, err := queue.New(cfg.Queue)
	if err != nil {
		log.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()

	// Initialize provider registry
	registry, err := provider.NewRegistry(cfg.Providers)
	if err != nil {
		log.Fatalf("Failed to build provider registry: %v", err)
	}

	// Load the quality ladder
	var cat *catalog.Catalog
	if cfg.Delivery.CatalogPath != "" {
		cat, err = catalog.LoadFile(cfg.Delivery.CatalogPath)
		if err != nil {
			log.Fatalf("Failed to load quality catalog: %v", err)
		}
	} else {
		cat, err = catalog.New(catalog.DefaultLevels())
		if err != nil {
			log.Fatalf("Failed to build default quality catalog: %v", err)
		}
	}
	catalogs := catalog.NewStore(cat)

	nm := netmon.NewMonitor(cfg.Delivery.HistorySize, cfg.Delivery.SessionIdleTTL)

	engine := adaptive.NewEngine(adaptive.Config{
		ReferenceBandwidth:   cfg.Delivery.ReferenceBandwidth,
		BandwidthHeadroom:    cfg.Delivery.BandwidthHeadroom,
		SwitchCooldown:       cfg.Delivery.SwitchCooldown,
		UpgradeConfirmations: cfg.Delivery.UpgradeConfirmations,
	}, catalogs, logger)

	sel := selector.NewSelector(registry, logger)

	orch := orchestrator.NewOrchestrator(orchestrator.Config{
		RedundantPushes: cfg.Health.RedundantPushes,
	}, registry, sel, logger)

	analyzer := insights.NewAnalyzer(insights.DefaultConfig())
	notifier := notify.NewService(cfg.Notify, logger)

	api := &API{
		cfg:      cfg,
		logger:   logger,
		repo:     repo,
		cache:    rc,
		queue:    q,
		registry: registry,
		catalogs: catalogs,
		netmon:   nm,
		engine:   engine,
		selector: sel,
		orch:     orch,
		analyzer: analyzer,
		notifier: notifier,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The monitor daemon owns probing; this process follows its status
	// events so the in-memory registry and selection cache stay current.
	go api.consumeProviderStatus(ctx)
	go api.sweepIdleSessions(ctx)

	// Metrics server
	metricsServer := metrics.NewServer(cfg.Metrics.Port)
	go func() {
		logger.Infof("Starting metrics server on :%d", cfg.Metrics.Port)
		if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("Metrics server error: %v", err)
		}
	}()

	// Setup router
	router := setupRouter(api)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Starting API server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Metrics server shutdown: %v", err)
	}

	logger.Info("Server stopped")
}

func setupRouter(api *API) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(api.logger))

	// Health check
	router.GET("/health", api.healthCheck)

	limiter := middleware.NewRateLimiter(50, 100)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.RateLimit(limiter))
	{
		// Sessions
		v1.POST("/sessions/:id/samples", api.ingestSample)
		v1.GET("/sessions/:id/decision", api.getDecision)
		v1.GET("/sessions/:id/metrics", api.getSessionMetrics)
		v1.DELETE("/sessions/:id", api.endSession)

		// Quality ladder
		v1.GET("/quality-levels", api.listQualityLevels)

		// Providers
		v1.GET("/providers/health", api.getProviderHealth)
		v1.GET("/insights/providers/:name", api.getProviderReport)
	}

	// Operator endpoints require authentication
	ops := v1.Group("")
	ops.Use(middleware.JWTAuth())
	{
		ops.PUT("/sessions/:id/config", api.updateSessionConfig)
		ops.POST("/sessions/:id/force-quality", api.forceQuality)
		ops.POST("/sessions/:id/resume", api.resumeAdaptive)
	}

	// Distribution fan-out is expensive, so it gets a cluster-wide
	// window limit on top of auth.
	dist := ops.Group("")
	dist.Use(middleware.SharedRateLimit(api.cache, 30, time.Minute))
	{
		dist.POST("/distribute", api.distribute)
		dist.POST("/invalidate", api.invalidate)
	}

	return router
}

// Health check endpoint
func (api *API) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := api.repo.Health(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"providers": api.registry.Len(),
		"sessions":  api.netmon.ActiveSessions(),
	})
}

// consumeProviderStatus applies health transitions published by the
// monitor daemon to the local registry and drops stale selections.
func (api *API) consumeProviderStatus(ctx context.Context) {
	err := api.queue.Consume(ctx, queue.RoutingKeyProviderStatus, func(body []byte) error {
		var event queue.ProviderStatusEvent
		if err := json.Unmarshal(body, &event); err != nil {
			return fmt.Errorf("failed to decode provider status event: %w", err)
		}
		api.registry.SetHealth(event.Provider, event.Score, event.NewStatus, event.ChangedAt)
		api.selector.OnStatusChange(event.Provider, event.OldStatus, event.NewStatus, event.Score)
		metrics.ProviderHealthScore.WithLabelValues(event.Provider).Set(event.Score)
		metrics.RecordStatusTransition(event.Provider, event.NewStatus)
		return nil
	})
	if err != nil && ctx.Err() == nil {
		api.logger.Errorf("Provider status consumer stopped: %v", err)
	}
}

// sweepIdleSessions drops session state that has gone quiet past the idle
// TTL so memory stays bounded under session churn.
func (api *API) sweepIdleSessions(ctx context.Context) {
	interval := api.cfg.Delivery.SessionIdleTTL
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed := api.netmon.Sweep(now)
			for _, id := range removed {
				api.engine.Forget(id)
			}
			if len(removed) > 0 {
				api.logger.Infof("Swept %d idle sessions", len(removed))
			}
			metrics.ActiveSessions.Set(float64(api.netmon.ActiveSessions()))
		}
	}
}

// loadAdaptiveConfig resolves a session's configuration, cache first,
// then database, falling back to defaults for unseen sessions.
func (api *API) loadAdaptiveConfig(ctx context.Context, sessionID string) *models.AdaptiveConfig {
	// A cache miss is (nil, nil), not an error.
	if acfg, err := api.cache.GetAdaptiveConfig(ctx, sessionID); err == nil && acfg != nil {
		metrics.RecordCacheAccess("adaptive_config", true)
		return acfg
	}
	metrics.RecordCacheAccess("adaptive_config", false)

	if acfg, err := api.repo.GetAdaptiveConfig(ctx, sessionID); err == nil {
		_ = api.cache.SetAdaptiveConfig(ctx, acfg, configCacheTTL)
		return acfg
	}
	return models.DefaultAdaptiveConfig(sessionID)
}
