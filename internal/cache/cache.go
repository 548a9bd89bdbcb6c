package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/therealutkarshpriyadarshi/delivery/pkg/models"
)

// Cache provides caching functionality using Redis
type Cache struct {
	client *redis.Client
}

// NewCache creates a new cache instance
func NewCache(host string, port int, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Adaptive Config Cache Operations

// SetAdaptiveConfig caches a session's adaptive configuration
func (c *Cache) SetAdaptiveConfig(ctx context.Context, cfg *models.AdaptiveConfig, ttl time.Duration) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal adaptive config: %w", err)
	}

	key := fmt.Sprintf("config:%s", cfg.SessionID)
	return c.client.Set(ctx, key, data, ttl).Err()
}

// GetAdaptiveConfig retrieves a session's adaptive configuration from cache
func (c *Cache) GetAdaptiveConfig(ctx context.Context, sessionID string) (*models.AdaptiveConfig, error) {
	key := fmt.Sprintf("config:%s", sessionID)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("failed to get adaptive config from cache: %w", err)
	}

	var cfg models.AdaptiveConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal adaptive config: %w", err)
	}

	return &cfg, nil
}

// DeleteAdaptiveConfig removes a session's adaptive configuration from cache
func (c *Cache) DeleteAdaptiveConfig(ctx context.Context, sessionID string) error {
	key := fmt.Sprintf("config:%s", sessionID)
	return c.client.Del(ctx, key).Err()
}

// Decision Cache Operations

// SetDecision caches a session's most recent delivery decision
func (c *Cache) SetDecision(ctx context.Context, decision *models.DeliveryDecision, ttl time.Duration) error {
	data, err := json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("failed to marshal decision: %w", err)
	}

	key := fmt.Sprintf("decision:%s", decision.SessionID)
	return c.client.Set(ctx, key, data, ttl).Err()
}

// GetDecision retrieves a session's most recent delivery decision from cache
func (c *Cache) GetDecision(ctx context.Context, sessionID string) (*models.DeliveryDecision, error) {
	key := fmt.Sprintf("decision:%s", sessionID)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("failed to get decision from cache: %w", err)
	}

	var decision models.DeliveryDecision
	if err := json.Unmarshal(data, &decision); err != nil {
		return nil, fmt.Errorf("failed to unmarshal decision: %w", err)
	}

	return &decision, nil
}

// DeleteDecision removes a session's cached decision
func (c *Cache) DeleteDecision(ctx context.Context, sessionID string) error {
	key := fmt.Sprintf("decision:%s", sessionID)
	return c.client.Del(ctx, key).Err()
}

// Provider Health Cache Operations

// SetProviderHealth caches a provider's current health state
func (c *Cache) SetProviderHealth(ctx context.Context, provider *models.CDNProvider, ttl time.Duration) error {
	data, err := json.Marshal(provider)
	if err != nil {
		return fmt.Errorf("failed to marshal provider health: %w", err)
	}

	key := fmt.Sprintf("provider:health:%s", provider.Name)
	return c.client.Set(ctx, key, data, ttl).Err()
}

// GetProviderHealth retrieves a provider's health state from cache
func (c *Cache) GetProviderHealth(ctx context.Context, name string) (*models.CDNProvider, error) {
	key := fmt.Sprintf("provider:health:%s", name)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("failed to get provider health from cache: %w", err)
	}

	var provider models.CDNProvider
	if err := json.Unmarshal(data, &provider); err != nil {
		return nil, fmt.Errorf("failed to unmarshal provider health: %w", err)
	}

	return &provider, nil
}

// Rate Limiting Operations

// CheckRateLimit checks if a rate limit has been exceeded
func (c *Cache) CheckRateLimit(ctx context.Context, key string, limit int64, window time.Duration) (bool, error) {
	rateLimitKey := fmt.Sprintf("ratelimit:%s", key)

	// Increment counter
	count, err := c.client.Incr(ctx, rateLimitKey).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit: %w", err)
	}

	// Set expiry on first request
	if count == 1 {
		if err := c.client.Expire(ctx, rateLimitKey, window).Err(); err != nil {
			return false, fmt.Errorf("failed to set expiry: %w", err)
		}
	}

	// Check if limit exceeded
	return count <= limit, nil
}

// Locking Operations for Distributed Systems

// AcquireLock attempts to acquire a distributed lock. Used to keep a single
// monitor instance probing when several are deployed.
func (c *Cache) AcquireLock(ctx context.Context, resource string, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("lock:%s", resource)
	return c.client.SetNX(ctx, key, "locked", ttl).Result()
}

// ExtendLock refreshes the TTL of a held lock. Returns false when the
// lock no longer exists, i.e. it expired before the extension.
func (c *Cache) ExtendLock(ctx context.Context, resource string, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("lock:%s", resource)
	return c.client.Expire(ctx, key, ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Cache) ReleaseLock(ctx context.Context, resource string) error {
	key := fmt.Sprintf("lock:%s", resource)
	return c.client.Del(ctx, key).Err()
}

// Health check
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
