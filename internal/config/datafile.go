package config

import (
	"fmt"
	"time"
)

// DatafileConfig controls the in-memory cache of parsed project snapshots.
// Snapshots are immutable, so a short TTL only bounds how long a stale
// revision can be served after the stored datafile changes.
type DatafileConfig struct {
	CacheCapacity int           `envconfig:"CACHE_CAPACITY" default:"128" validate:"min=1"`
	CacheTTL      time.Duration `envconfig:"CACHE_TTL" default:"1m"`
}

// Validate checks if the datafile configuration is valid.
func (c *DatafileConfig) Validate() error {
	if c.CacheTTL <= 0 {
		return fmt.Errorf("datafile cache TTL must be positive, got %s", c.CacheTTL)
	}
	return nil
}
