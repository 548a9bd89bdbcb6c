package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/therealutkarshpriyadarshi/delivery/pkg/models"
)

// Repository provides database operations
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Health reports whether the underlying database is reachable
func (r *Repository) Health(ctx context.Context) error {
	return r.db.Health(ctx)
}

// Adaptive configs

// UpsertAdaptiveConfig creates or replaces a session's adaptive configuration
func (r *Repository) UpsertAdaptiveConfig(ctx context.Context, cfg *models.AdaptiveConfig) error {
	query := `
		INSERT INTO adaptive_configs (session_id, scope_id, adaptive_enabled, bitrate_thresholds,
		       network_adaptation, device_optimization, quality_preference, min_quality_id,
		       max_quality_id, switch_mode, device_class, forced_quality_id, forced_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (session_id) DO UPDATE SET
		       scope_id = EXCLUDED.scope_id,
		       adaptive_enabled = EXCLUDED.adaptive_enabled,
		       bitrate_thresholds = EXCLUDED.bitrate_thresholds,
		       network_adaptation = EXCLUDED.network_adaptation,
		       device_optimization = EXCLUDED.device_optimization,
		       quality_preference = EXCLUDED.quality_preference,
		       min_quality_id = EXCLUDED.min_quality_id,
		       max_quality_id = EXCLUDED.max_quality_id,
		       switch_mode = EXCLUDED.switch_mode,
		       device_class = EXCLUDED.device_class,
		       forced_quality_id = EXCLUDED.forced_quality_id,
		       forced_reason = EXCLUDED.forced_reason,
		       updated_at = NOW()
		RETURNING created_at, updated_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		cfg.SessionID, cfg.ScopeID, cfg.AdaptiveEnabled, cfg.BitrateThresholds,
		cfg.NetworkAdaptation, cfg.DeviceOptimization, cfg.QualityPreference, cfg.MinQualityID,
		cfg.MaxQualityID, cfg.SwitchMode, cfg.DeviceClass, cfg.ForcedQualityID, cfg.ForcedReason,
	).Scan(&cfg.CreatedAt, &cfg.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to upsert adaptive config: %w", err)
	}

	return nil
}

// GetAdaptiveConfig retrieves a session's adaptive configuration
func (r *Repository) GetAdaptiveConfig(ctx context.Context, sessionID string) (*models.AdaptiveConfig, error) {
	var cfg models.AdaptiveConfig

	query := `
		SELECT session_id, scope_id, adaptive_enabled, bitrate_thresholds, network_adaptation,
		       device_optimization, quality_preference, min_quality_id, max_quality_id,
		       switch_mode, device_class, forced_quality_id, forced_reason, created_at, updated_at
		FROM adaptive_configs
		WHERE session_id = $1
	`

	err := r.db.Pool.QueryRow(ctx, query, sessionID).Scan(
		&cfg.SessionID, &cfg.ScopeID, &cfg.AdaptiveEnabled, &cfg.BitrateThresholds,
		&cfg.NetworkAdaptation, &cfg.DeviceOptimization, &cfg.QualityPreference,
		&cfg.MinQualityID, &cfg.MaxQualityID, &cfg.SwitchMode, &cfg.DeviceClass,
		&cfg.ForcedQualityID, &cfg.ForcedReason, &cfg.CreatedAt, &cfg.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("adaptive config not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get adaptive config: %w", err)
	}

	return &cfg, nil
}

// DeleteAdaptiveConfig removes a session's adaptive configuration
func (r *Repository) DeleteAdaptiveConfig(ctx context.Context, sessionID string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM adaptive_configs WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete adaptive config: %w", err)
	}
	return nil
}

// Quality samples

// InsertQualitySample appends one point to a session's quality time series
func (r *Repository) InsertQualitySample(ctx context.Context, sample *models.QualitySample) error {
	if sample.ID == "" {
		sample.ID = uuid.New().String()
	}

	query := `
		INSERT INTO quality_samples (id, session_id, timestamp, current_quality_id, target_quality_id,
		       bitrate, frame_rate, resolution, dropped_frames, buffering_events, latency_ms,
		       jitter_ms, bandwidth, quality_score)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		sample.ID, sample.SessionID, sample.Timestamp, sample.CurrentQualityID, sample.TargetQualityID,
		sample.Bitrate, sample.FrameRate, sample.Resolution, sample.DroppedFrames, sample.BufferingEvents,
		sample.LatencyMs, sample.JitterMs, sample.Bandwidth, sample.QualityScore,
	)

	if err != nil {
		return fmt.Errorf("failed to insert quality sample: %w", err)
	}

	return nil
}

// ListQualitySamples retrieves a session's samples since a cutoff, oldest first
func (r *Repository) ListQualitySamples(ctx context.Context, sessionID string, since time.Time) ([]models.QualitySample, error) {
	query := `
		SELECT id, session_id, timestamp, current_quality_id, target_quality_id, bitrate,
		       frame_rate, resolution, dropped_frames, buffering_events, latency_ms,
		       jitter_ms, bandwidth, quality_score
		FROM quality_samples
		WHERE session_id = $1 AND timestamp >= $2
		ORDER BY timestamp ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, sessionID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list quality samples: %w", err)
	}
	defer rows.Close()

	var samples []models.QualitySample
	for rows.Next() {
		var s models.QualitySample
		err := rows.Scan(
			&s.ID, &s.SessionID, &s.Timestamp, &s.CurrentQualityID, &s.TargetQualityID,
			&s.Bitrate, &s.FrameRate, &s.Resolution, &s.DroppedFrames, &s.BufferingEvents,
			&s.LatencyMs, &s.JitterMs, &s.Bandwidth, &s.QualityScore,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan quality sample: %w", err)
		}
		samples = append(samples, s)
	}

	return samples, rows.Err()
}

// PruneQualitySamples deletes samples older than the cutoff and reports how many
func (r *Repository) PruneQualitySamples(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM quality_samples WHERE timestamp < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to prune quality samples: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Health snapshots

// InsertHealthSnapshot persists one scored probe cycle
func (r *Repository) InsertHealthSnapshot(ctx context.Context, snapshot *models.HealthSnapshot) error {
	if snapshot.ID == "" {
		snapshot.ID = uuid.New().String()
	}

	query := `
		INSERT INTO health_snapshots (id, provider, latency_ms, error_rate, throughput_mbps,
		       cache_hit_rate, score, probed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		snapshot.ID, snapshot.Provider, snapshot.LatencyMs, snapshot.ErrorRate,
		snapshot.ThroughputMbps, snapshot.CacheHitRate, snapshot.Score, snapshot.ProbedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to insert health snapshot: %w", err)
	}

	return nil
}

// ListHealthSnapshots retrieves a provider's probe history since a cutoff, oldest first
func (r *Repository) ListHealthSnapshots(ctx context.Context, provider string, since time.Time) ([]models.HealthSnapshot, error) {
	query := `
		SELECT id, provider, latency_ms, error_rate, throughput_mbps, cache_hit_rate, score, probed_at
		FROM health_snapshots
		WHERE provider = $1 AND probed_at >= $2
		ORDER BY probed_at ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, provider, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list health snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []models.HealthSnapshot
	for rows.Next() {
		var s models.HealthSnapshot
		err := rows.Scan(
			&s.ID, &s.Provider, &s.LatencyMs, &s.ErrorRate,
			&s.ThroughputMbps, &s.CacheHitRate, &s.Score, &s.ProbedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan health snapshot: %w", err)
		}
		snapshots = append(snapshots, s)
	}

	return snapshots, rows.Err()
}

// PruneHealthSnapshots deletes snapshots older than the cutoff and reports how many
func (r *Repository) PruneHealthSnapshots(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM health_snapshots WHERE probed_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to prune health snapshots: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Delivery decisions

// InsertDecision records a delivery decision for audit
func (r *Repository) InsertDecision(ctx context.Context, decision *models.DeliveryDecision) error {
	query := `
		INSERT INTO delivery_decisions (session_id, quality_id, previous_quality_id, target_quality_id,
		       primary_provider, fallback_providers, reasons, network_score, applied, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		decision.SessionID, decision.QualityID, decision.PreviousQualityID, decision.TargetQualityID,
		decision.PrimaryProvider, decision.FallbackProviders, decision.Reasons,
		decision.NetworkScore, decision.Applied, decision.DecidedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to insert delivery decision: %w", err)
	}

	return nil
}

// ListDecisions retrieves a session's most recent decisions, newest first
func (r *Repository) ListDecisions(ctx context.Context, sessionID string, limit int) ([]models.DeliveryDecision, error) {
	query := `
		SELECT session_id, quality_id, previous_quality_id, target_quality_id, primary_provider,
		       fallback_providers, reasons, network_score, applied, decided_at
		FROM delivery_decisions
		WHERE session_id = $1
		ORDER BY decided_at DESC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery decisions: %w", err)
	}
	defer rows.Close()

	var decisions []models.DeliveryDecision
	for rows.Next() {
		var d models.DeliveryDecision
		err := rows.Scan(
			&d.SessionID, &d.QualityID, &d.PreviousQualityID, &d.TargetQualityID,
			&d.PrimaryProvider, &d.FallbackProviders, &d.Reasons,
			&d.NetworkScore, &d.Applied, &d.DecidedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery decision: %w", err)
		}
		decisions = append(decisions, d)
	}

	return decisions, rows.Err()
}
