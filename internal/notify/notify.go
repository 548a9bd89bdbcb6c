package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/delivery/internal/config"
	"github.com/therealutkarshpriyadarshi/delivery/internal/logging"
)

// Event names pushed to configured endpoints
const (
	EventProviderStatusChanged = "provider.status_changed"
	EventAllProvidersUnhealthy = "provider.all_unhealthy"
	EventDistributionFailed    = "distribution.failed"
)

// Event is the envelope delivered to every endpoint
type Event struct {
	ID        string      `json:"id"`
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Service pushes operational events to the configured webhook endpoints.
// Delivery is fire-and-forget: a dead endpoint must never block probing or
// request handling, so failures are logged and dropped.
type Service struct {
	cfg    config.NotifyConfig
	client *http.Client
	logger *logging.Logger
}

// NewService creates a new notification service
func NewService(cfg config.NotifyConfig, logger *logging.Logger) *Service {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Service{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Notify fans an event out to every configured endpoint in the background
func (s *Service) Notify(event string, data interface{}) {
	if len(s.cfg.Endpoints) == 0 {
		return
	}

	payload := Event{
		ID:        uuid.New().String(),
		Event:     event,
		Timestamp: time.Now(),
		Data:      data,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		if s.logger != nil {
			s.logger.ErrorWithErr("Failed to marshal notification payload", err)
		}
		return
	}

	for _, endpoint := range s.cfg.Endpoints {
		go s.deliver(endpoint, payload.ID, event, body)
	}
}

// NotifyProviderStatusChanged reports a health status transition
func (s *Service) NotifyProviderStatusChanged(provider, oldStatus, newStatus string, score float64) {
	s.Notify(EventProviderStatusChanged, map[string]interface{}{
		"provider":   provider,
		"old_status": oldStatus,
		"new_status": newStatus,
		"score":      score,
	})
}

// NotifyAllProvidersUnhealthy reports total provider degradation
func (s *Service) NotifyAllProvidersUnhealthy() {
	s.Notify(EventAllProvidersUnhealthy, map[string]interface{}{
		"degraded": true,
	})
}

// NotifyDistributionFailed reports a failed primary content push
func (s *Service) NotifyDistributionFailed(provider, path, reason string) {
	s.Notify(EventDistributionFailed, map[string]interface{}{
		"provider": provider,
		"path":     path,
		"reason":   reason,
	})
}

func (s *Service) deliver(endpoint, deliveryID, event string, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), s.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(payload))
	if err != nil {
		s.logFailure(endpoint, event, err)
		return
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Delivery-Notify/1.0")
	req.Header.Set("X-Delivery-Event", event)
	req.Header.Set("X-Delivery-ID", deliveryID)

	// Add HMAC signature if secret is configured
	if s.cfg.Secret != "" {
		req.Header.Set("X-Delivery-Signature", generateSignature(payload, s.cfg.Secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logFailure(endpoint, event, err)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.logFailure(endpoint, event, fmt.Errorf("endpoint returned %d", resp.StatusCode))
	}
}

func (s *Service) logFailure(endpoint, event string, err error) {
	if s.logger != nil {
		s.logger.WithFields(map[string]interface{}{
			"endpoint": endpoint,
			"event":    event,
		}).Warnf("Notification delivery failed: %v", err)
	}
}

// generateSignature generates HMAC-SHA256 signature for notification payload
func generateSignature(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}
