package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/delivery/internal/config"
	"github.com/therealutkarshpriyadarshi/delivery/pkg/models"
)

// ErrNoProviderAvailable is returned when the registry has zero entries.
// This is a configuration error and fatal at startup.
var ErrNoProviderAvailable = errors.New("no distribution provider available")

// Provider is the uniform capability contract every distribution provider
// implements. The orchestrator never branches on provider identity beyond
// selecting the implementation.
type Provider interface {
	Name() string
	Probe(ctx context.Context) (models.ProbeResult, error)
	Push(ctx context.Context, path string, r io.Reader, size int64) (string, error)
	Purge(ctx context.Context, path string) error
}

// Registry holds the configured providers and their health state. The
// provider list is immutable after startup; health fields are mutated
// only by the health monitor through SetHealth, and all reads hand out
// copies so readers never observe a partial mutation.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	meta      map[string]*models.CDNProvider
	order     []string
}

// NewRegistry builds the provider registry from configuration. An empty
// registry is rejected with ErrNoProviderAvailable.
func NewRegistry(cfgs []config.ProviderConfig) (*Registry, error) {
	if len(cfgs) == 0 {
		return nil, ErrNoProviderAvailable
	}

	r := &Registry{
		providers: make(map[string]Provider, len(cfgs)),
		meta:      make(map[string]*models.CDNProvider, len(cfgs)),
	}

	for _, cfg := range cfgs {
		if _, exists := r.providers[cfg.Name]; exists {
			return nil, fmt.Errorf("duplicate provider name %q", cfg.Name)
		}

		var p Provider
		var err error
		switch cfg.Type {
		case "http":
			p, err = newHTTPProvider(cfg)
		case "s3":
			p, err = newS3Provider(cfg)
		default:
			err = fmt.Errorf("unknown provider type %q", cfg.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to build provider %q: %w", cfg.Name, err)
		}

		regions := cfg.Regions
		if len(regions) == 0 {
			regions = []string{models.RegionGlobal}
		}

		r.providers[cfg.Name] = p
		r.meta[cfg.Name] = &models.CDNProvider{
			Name:         cfg.Name,
			Priority:     cfg.Priority,
			Regions:      regions,
			Capabilities: cfg.Capabilities,
			PricePerGB:   cfg.PricePerGB,
			Status:       models.ProviderStatusUnknown,
		}
		r.order = append(r.order, cfg.Name)
	}

	return r, nil
}

// NewRegistryFromProviders builds a registry directly from provider
// implementations; used by tests and embedded setups.
func NewRegistryFromProviders(entries map[Provider]models.CDNProvider) (*Registry, error) {
	if len(entries) == 0 {
		return nil, ErrNoProviderAvailable
	}

	r := &Registry{
		providers: make(map[string]Provider, len(entries)),
		meta:      make(map[string]*models.CDNProvider, len(entries)),
	}
	for p, meta := range entries {
		m := meta
		if m.Name == "" {
			m.Name = p.Name()
		}
		if m.Status == "" {
			m.Status = models.ProviderStatusUnknown
		}
		if len(m.Regions) == 0 {
			m.Regions = []string{models.RegionGlobal}
		}
		r.providers[m.Name] = p
		r.meta[m.Name] = &m
		r.order = append(r.order, m.Name)
	}
	return r, nil
}

// Provider returns the implementation registered under a name
func (r *Registry) Provider(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Providers returns all registered implementations in registration order
func (r *Registry) Providers() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Provider, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.providers[name])
	}
	return out
}

// Snapshot returns a copy of every provider's registry entry including
// current health state. Mutating the result does not affect the registry.
func (r *Registry) Snapshot() []models.CDNProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.CDNProvider, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.meta[name])
	}
	return out
}

// Get returns a copy of one provider's registry entry
func (r *Registry) Get(name string) (models.CDNProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.meta[name]
	if !ok {
		return models.CDNProvider{}, false
	}
	return *m, true
}

// SetHealth updates a provider's health state. Owned by the health
// monitor; other components must only read.
func (r *Registry) SetHealth(name string, score float64, status string, probedAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.meta[name]; ok {
		m.HealthScore = score
		m.Status = status
		m.LastProbeAt = probedAt
	}
}

// Len returns the number of registered providers
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
