package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/therealutkarshpriyadarshi/delivery/internal/cache"
	"github.com/therealutkarshpriyadarshi/delivery/internal/config"
	"github.com/therealutkarshpriyadarshi/delivery/internal/database"
	"github.com/therealutkarshpriyadarshi/delivery/internal/health"
	"github.com/therealutkarshpriyadarshi/delivery/internal/logging"
	"github.com/therealutkarshpriyadarshi/delivery/internal/metrics"
	"github.com/therealutkarshpriyadarshi/delivery/internal/notify"
	"github.com/therealutkarshpriyadarshi/delivery/internal/provider"
	"github.com/therealutkarshpriyadarshi/delivery/internal/queue"
	"github.com/therealutkarshpriyadarshi/delivery/pkg/models"
)

const (
	proberLock     = "health-monitor"
	lockRetryDelay = 30 * time.Second
)

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

	notifier := notify.NewService(cfg.Notify, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown gracefully
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutting down monitor gracefully...")
		cancel()
	}()

	// Metrics server
	metricsServer := metrics.NewServer(cfg.Metrics.Port)
	go func() {
		logger.Infof("Starting metrics server on :%d", cfg.Metrics.Port)
		if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("Metrics server error: %v", err)
		}
	}()

	monitor := health.NewMonitor(health.Config{
		ProbeInterval:      cfg.Health.ProbeInterval,
		ProbeTimeout:       cfg.Health.ProbeTimeout,
		ScoreWindow:        cfg.Health.ScoreWindow,
		MinThroughputMbps:  cfg.Health.MinThroughputMbps,
		HighThroughputMbps: cfg.Health.HighThroughputMbps,
	}, registry, logger, nil)

	// Every scored probe is persisted for insight reports, and the latest
	// provider state is mirrored into the cache for cheap reads.
	monitor.SetSnapshotSink(func(snapshot models.HealthSnapshot) {
		sinkCtx, sinkCancel := context.WithTimeout(ctx, 5*time.Second)
		defer sinkCancel()

		if err := repo.InsertHealthSnapshot(sinkCtx, &snapshot); err != nil {
			logger.WithProvider(snapshot.Provider).Errorf("Failed to persist health snapshot: %v", err)
		}
		if meta, ok := registry.Get(snapshot.Provider); ok {
			if err := rc.SetProviderHealth(sinkCtx, &meta, 2*cfg.Health.ProbeInterval); err != nil {
				logger.WithProvider(snapshot.Provider).Errorf("Failed to cache provider health: %v", err)
			}
		}
		metrics.RecordProbe(snapshot.Provider, models.StatusForScore(snapshot.Score), snapshot.LatencyMs, snapshot.Score)
	})

	// Status transitions fan out to the queue for other instances and to
	// operator webhooks.
	monitor.OnStatusChange(func(providerName, oldStatus, newStatus string, score float64) {
		eventCtx, eventCancel := context.WithTimeout(ctx, 5*time.Second)
		defer eventCancel()

		event := &queue.ProviderStatusEvent{
			Provider:  providerName,
			OldStatus: oldStatus,
			NewStatus: newStatus,
			Score:     score,
			ChangedAt: time.Now(),
		}
		if err := q.PublishProviderStatus(eventCtx, event); err != nil {
			logger.WithProvider(providerName).Errorf("Failed to publish status event: %v", err)
		}
		metrics.RecordStatusTransition(providerName, newStatus)

		notifier.NotifyProviderStatusChanged(providerName, oldStatus, newStatus, score)
		if newStatus == models.ProviderStatusUnhealthy && allUnhealthy(registry) {
			notifier.NotifyAllProvidersUnhealthy()
		}
	})

	// Only one instance probes at a time. The lock TTL outlives a probe
	// interval so a crashed holder is replaced within one cycle.
	go runProber(ctx, monitor, rc, cfg.Health.ProbeInterval, logger)
	go runRetention(ctx, repo, cfg.Delivery.SampleRetention, logger)

	logger.Info("Health monitor started")
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Metrics server shutdown: %v", err)
	}

	logger.Info("Monitor stopped")
}

// runProber acquires the cluster-wide prober lock, runs the monitor while
// holding it, and keeps extending it until shutdown.
func runProber(ctx context.Context, monitor *health.Monitor, rc *cache.Cache, probeInterval time.Duration, logger *logging.Logger) {
	lockTTL := 2 * probeInterval

	for {
		acquired, err := rc.AcquireLock(ctx, proberLock, lockTTL)
		if err != nil {
			logger.Errorf("Failed to acquire prober lock: %v", err)
		}
		if acquired {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(lockRetryDelay):
		}
	}

	logger.Info("Acquired prober lock, starting probes")
	monitor.Start()
	defer monitor.Stop()

	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer releaseCancel()
			if err := rc.ReleaseLock(releaseCtx, proberLock); err != nil {
				logger.Errorf("Failed to release prober lock: %v", err)
			}
			return
		case <-ticker.C:
			held, err := rc.ExtendLock(ctx, proberLock, lockTTL)
			if err != nil {
				logger.Errorf("Failed to extend prober lock: %v", err)
			} else if !held {
				// Lost the lock: another instance may have taken over.
				logger.Warn("Prober lock expired, stopping probes")
				return
			}
		}
	}
}

// runRetention prunes aged quality samples and health snapshots so the
// time-series tables stay bounded.
func runRetention(ctx context.Context, repo *database.Repository, retention time.Duration, logger *logging.Logger) {
	if retention <= 0 {
		return
	}

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruneCtx, pruneCancel := context.WithTimeout(ctx, time.Minute)
			cutoff := time.Now().Add(-retention)

			if n, err := repo.PruneQualitySamples(pruneCtx, cutoff); err != nil {
				logger.Errorf("Failed to prune quality samples: %v", err)
			} else if n > 0 {
				logger.Infof("Pruned %d quality samples", n)
			}
			if n, err := repo.PruneHealthSnapshots(pruneCtx, cutoff); err != nil {
				logger.Errorf("Failed to prune health snapshots: %v", err)
			} else if n > 0 {
				logger.Infof("Pruned %d health snapshots", n)
			}
			pruneCancel()
		}
	}
}

func allUnhealthy(registry *provider.Registry) bool {
	for _, p := range registry.Snapshot() {
		if p.Status != models.ProviderStatusUnhealthy {
			return false
		}
	}
	return true
}
