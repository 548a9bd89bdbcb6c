package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/delivery/internal/config"
	"github.com/therealutkarshpriyadarshi/delivery/pkg/models"
)

// httpProvider talks to a CDN edge API over HTTP: GET /health for probes,
// PUT /content/<path> for pushes, DELETE /content/<path> for purges.
type httpProvider struct {
	name    string
	baseURL string
	token   string
	client  *http.Client
}

// healthPayload is the body the edge health endpoint returns. Throughput
// and cache hit rate are optional; absent fields stay nil and the scorer
// treats them as unknown.
type healthPayload struct {
	ErrorRate      float64  `json:"error_rate"`
	ThroughputMbps *float64 `json:"throughput_mbps"`
	CacheHitRate   *float64 `json:"cache_hit_rate"`
}

func newHTTPProvider(cfg config.ProviderConfig) (*httpProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("http provider requires a baseURL")
	}
	return &httpProvider{
		name:    cfg.Name,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.AuthToken,
		client:  &http.Client{},
	}, nil
}

func (p *httpProvider) Name() string {
	return p.name
}

// Probe measures a round-trip against the edge health endpoint. The
// caller supplies the timeout through ctx; a timed-out probe surfaces as
// an error and is scored worst-case by the health monitor.
func (p *httpProvider) Probe(ctx context.Context) (models.ProbeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/health", nil)
	if err != nil {
		return models.ProbeResult{}, fmt.Errorf("failed to create probe request: %w", err)
	}
	p.authorize(req)

	start := time.Now()
	resp, err := p.client.Do(req)
	latency := float64(time.Since(start).Milliseconds())
	if err != nil {
		return models.ProbeResult{}, fmt.Errorf("probe failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.ProbeResult{LatencyMs: latency, ErrorRate: 1.0},
			fmt.Errorf("probe returned status %d", resp.StatusCode)
	}

	var payload healthPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		// A healthy endpoint with an unreadable body still proves
		// reachability; only the optional fields are lost.
		return models.ProbeResult{LatencyMs: latency}, nil
	}

	return models.ProbeResult{
		LatencyMs:      latency,
		ErrorRate:      payload.ErrorRate,
		ThroughputMbps: payload.ThroughputMbps,
		CacheHitRate:   payload.CacheHitRate,
	}, nil
}

// Push uploads content to the edge and returns the public URL
func (p *httpProvider) Push(ctx context.Context, path string, r io.Reader, size int64) (string, error) {
	url := p.contentURL(path)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, r)
	if err != nil {
		return "", fmt.Errorf("failed to create push request: %w", err)
	}
	req.ContentLength = size
	p.authorize(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("push failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("push returned status %d", resp.StatusCode)
	}

	return url, nil
}

// Purge removes cached content from the edge. Purging a path that was
// already purged is not an error.
func (p *httpProvider) Purge(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, p.contentURL(path), nil)
	if err != nil {
		return fmt.Errorf("failed to create purge request: %w", err)
	}
	p.authorize(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("purge failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return fmt.Errorf("purge returned status %d", resp.StatusCode)
	}
}

func (p *httpProvider) contentURL(path string) string {
	return p.baseURL + "/content/" + strings.TrimLeft(path, "/")
}

func (p *httpProvider) authorize(req *http.Request) {
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
}
