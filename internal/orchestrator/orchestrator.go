package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/delivery/internal/logging"
	"github.com/therealutkarshpriyadarshi/delivery/internal/provider"
	"github.com/therealutkarshpriyadarshi/delivery/internal/selector"
	"github.com/therealutkarshpriyadarshi/delivery/pkg/models"
)

// ErrPartialFailure is returned when an invalidation fan-out gets no
// acknowledgement from any provider.
var ErrPartialFailure = errors.New("no provider acknowledged the operation")

// Config holds distribution tuning
type Config struct {
	// RedundantPushes is the number of additional providers content is
	// replicated to after the primary push succeeds.
	RedundantPushes int
}

// PushOutcome records one provider's result within a distribution
type PushOutcome struct {
	Provider string        `json:"provider"`
	URL      string        `json:"url,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ms"`
}

// DistributionResult summarizes a Distribute call. The primary outcome is
// always first; redundant outcomes follow and may carry errors without
// failing the distribution.
type DistributionResult struct {
	Path     string        `json:"path"`
	Primary  PushOutcome   `json:"primary"`
	Replicas []PushOutcome `json:"replicas,omitempty"`
}

// InvalidationResult summarizes a purge fan-out
type InvalidationResult struct {
	Path      string   `json:"path"`
	Succeeded []string `json:"succeeded"`
	Failed    []string `json:"failed,omitempty"`
}

// Orchestrator coordinates content pushes and cache purges across the
// provider registry, using the selector to decide who gets the content.
type Orchestrator struct {
	cfg      Config
	registry *provider.Registry
	selector *selector.Selector
	logger   *logging.Logger
}

func NewOrchestrator(cfg Config, registry *provider.Registry, sel *selector.Selector, logger *logging.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		registry: registry,
		selector: sel,
		logger:   logger,
	}
}

// Distribute pushes content to the primary provider synchronously, then
// replicates it to up to RedundantPushes fallback providers concurrently.
// A failed primary push fails the distribution; failed replicas are
// recorded in the result but tolerated.
func (o *Orchestrator) Distribute(ctx context.Context, path string, data []byte, req models.RequestContext) (DistributionResult, error) {
	sel, err := o.selector.Select(ctx, req)
	if err != nil {
		return DistributionResult{}, fmt.Errorf("selecting distribution targets: %w", err)
	}

	result := DistributionResult{Path: path}

	result.Primary = o.push(ctx, sel.Primary.Name, path, data)
	if result.Primary.Error != "" {
		return result, fmt.Errorf("primary push to %s failed: %s", sel.Primary.Name, result.Primary.Error)
	}

	replicas := sel.Fallbacks
	if len(replicas) > o.cfg.RedundantPushes {
		replicas = replicas[:o.cfg.RedundantPushes]
	}
	if len(replicas) == 0 {
		return result, nil
	}

	outcomes := make([]PushOutcome, len(replicas))
	var wg sync.WaitGroup
	for i, target := range replicas {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			outcomes[i] = o.push(ctx, name, path, data)
		}(i, target.Name)
	}
	wg.Wait()

	result.Replicas = outcomes
	return result, nil
}

// Invalidate purges a path from every provider that is currently
// serviceable. All purges run concurrently and every outcome is collected;
// the call succeeds as long as at least one provider acknowledges. Purging
// a path that was never distributed is a no-op success on well-behaved
// providers.
func (o *Orchestrator) Invalidate(ctx context.Context, path string) (InvalidationResult, error) {
	start := time.Now()

	targets := make([]string, 0)
	for _, meta := range o.registry.Snapshot() {
		if meta.Status == models.ProviderStatusUnhealthy {
			continue
		}
		targets = append(targets, meta.Name)
	}
	if len(targets) == 0 {
		return InvalidationResult{Path: path}, provider.ErrNoProviderAvailable
	}

	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, name := range targets {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			p, ok := o.registry.Provider(name)
			if !ok {
				errs[i] = fmt.Errorf("provider %s not registered", name)
				return
			}
			errs[i] = p.Purge(ctx, path)
		}(i, name)
	}
	wg.Wait()

	result := InvalidationResult{Path: path}
	var failures []error
	for i, name := range targets {
		if errs[i] != nil {
			result.Failed = append(result.Failed, name)
			failures = append(failures, fmt.Errorf("%s: %w", name, errs[i]))
		} else {
			result.Succeeded = append(result.Succeeded, name)
		}
	}

	if o.logger != nil {
		o.logger.LogInvalidation(path, len(result.Succeeded), len(result.Failed), time.Since(start))
	}

	if len(result.Succeeded) == 0 {
		return result, fmt.Errorf("%w: %s", ErrPartialFailure, errors.Join(failures...))
	}
	return result, nil
}

func (o *Orchestrator) push(ctx context.Context, providerName, path string, data []byte) PushOutcome {
	outcome := PushOutcome{Provider: providerName}

	p, ok := o.registry.Provider(providerName)
	if !ok {
		outcome.Error = "provider not registered"
		return outcome
	}

	start := time.Now()
	url, err := p.Push(ctx, path, bytes.NewReader(data), int64(len(data)))
	outcome.Duration = time.Since(start)

	if err != nil {
		outcome.Error = err.Error()
	} else {
		outcome.URL = url
	}

	if o.logger != nil {
		o.logger.LogDistribution(providerName, path, int64(len(data)), outcome.Duration, err)
	}
	return outcome
}
