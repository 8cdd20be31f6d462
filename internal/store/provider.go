package store

import (
	"context"
	"fmt"
	"time"

	"github.com/maypok86/otter"

	"github.com/rafaeljc/verdandi/internal/datafile"
	"github.com/rafaeljc/verdandi/internal/observability"
)

// ConfigProvider resolves an SDK key to a parsed project snapshot.
//
// It layers an in-memory cache (otter, S3-FIFO eviction) over the datafile
// repository so the hot path never parses JSON or touches the database.
// Snapshots are immutable, so cache entries can be shared across requests
// without copying; the TTL bounds staleness after a datafile update.
type ConfigProvider struct {
	repo  DatafileRepository
	cache otter.Cache[string, *datafile.Config]
}

// NewConfigProvider builds a provider over the given repository.
// capacity is the max number of cached snapshots; ttl is their lifetime.
func NewConfigProvider(repo DatafileRepository, capacity int, ttl time.Duration) (*ConfigProvider, error) {
	if repo == nil {
		panic("store: datafile repository cannot be nil")
	}

	cache, err := otter.MustBuilder[string, *datafile.Config](capacity).
		WithTTL(ttl).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build config cache: %w", err)
	}

	return &ConfigProvider{repo: repo, cache: cache}, nil
}

// GetConfig returns the parsed snapshot for the SDK key, loading and parsing
// the stored datafile on a cache miss.
func (p *ConfigProvider) GetConfig(ctx context.Context, sdkKey string) (*datafile.Config, error) {
	if cfg, ok := p.cache.Get(sdkKey); ok {
		observability.DatafileCacheHits.Inc()
		return cfg, nil
	}
	observability.DatafileCacheMisses.Inc()

	df, err := p.repo.GetDatafile(ctx, sdkKey)
	if err != nil {
		return nil, err
	}

	cfg, err := datafile.Parse(df.Content)
	if err != nil {
		return nil, fmt.Errorf("stored datafile for %q is invalid: %w", sdkKey, err)
	}

	p.cache.Set(sdkKey, cfg)
	return cfg, nil
}

// Invalidate drops the cached snapshot for an SDK key, forcing the next
// request to reload from the repository.
func (p *ConfigProvider) Invalidate(sdkKey string) {
	p.cache.Delete(sdkKey)
}

// Close shuts down the cache and its background cleanup goroutines.
func (p *ConfigProvider) Close() {
	p.cache.Close()
}
