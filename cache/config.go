package cache

import (
	"time"

	"github.com/goliatone/go-facetcache/internal/cacheinfra"
)

// Config sizes the process cache and decides how long entity values stay in
// it. One entity reachable under several facets occupies one key per facet.
type Config struct {
	// Capacity is the number of store keys kept across all shards.
	Capacity int
	// NumShards splits the keys so writes to unrelated entities rarely
	// contend.
	NumShards int
	// LockStripes is the number of mutexes serializing merge on put for
	// entities that hash to the same stripe.
	LockStripes int

	Expiry Expiry

	// Refresh, when set, reloads values read through GetOrFetch before they
	// expire.
	Refresh *Refresh

	// RememberMisses makes GetOrFetch remember that a key had no entity
	// until its TTL elapses.
	RememberMisses bool
}

// Expiry controls when keys leave the cache. Expiry is measured from the last
// write of a key; reads never extend it. A full shard also evicts the
// Percent of its keys that are closest to expiry, which with a single TTL
// are the least recently written.
type Expiry struct {
	TTL      time.Duration
	Percent  int
	Interval time.Duration
}

// Refresh configures early reloads of fetched values.
type Refresh struct {
	MinAsync   time.Duration
	MaxAsync   time.Duration
	Sync       time.Duration
	RetryDelay time.Duration
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	d := cacheinfra.DefaultConfig()
	return Config{
		Capacity:    d.Capacity,
		NumShards:   d.NumShards,
		LockStripes: d.LockStripes,
		Expiry: Expiry{
			TTL:      d.TTL,
			Percent:  d.EvictionPercentage,
			Interval: d.EvictionInterval,
		},
	}
}

// Validate checks the settings the sturdyc client needs.
func (c Config) Validate() error {
	return c.store().Validate()
}

// NewProcessCache constructs the sturdyc backed process cache with the
// default key serializer.
func NewProcessCache(cfg Config) (ProcessCache, error) {
	return NewProcessCacheWithSerializer(cfg, NewDefaultKeySerializer())
}

// NewProcessCacheWithSerializer is NewProcessCache with a custom key serializer.
func NewProcessCacheWithSerializer(cfg Config, keys KeySerializer) (ProcessCache, error) {
	pc, err := cacheinfra.NewProcessCache(cfg.store(), keys)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (c Config) store() cacheinfra.Config {
	cfg := cacheinfra.Config{
		Capacity:             c.Capacity,
		NumShards:            c.NumShards,
		TTL:                  c.Expiry.TTL,
		EvictionPercentage:   c.Expiry.Percent,
		EvictionInterval:     c.Expiry.Interval,
		MissingRecordStorage: c.RememberMisses,
		LockStripes:          c.LockStripes,
	}
	if r := c.Refresh; r != nil {
		cfg.EarlyRefresh = &cacheinfra.EarlyRefreshConfig{
			MinAsyncRefreshTime: r.MinAsync,
			MaxAsyncRefreshTime: r.MaxAsync,
			SyncRefreshTime:     r.Sync,
			RetryBaseDelay:      r.RetryDelay,
		}
	}
	return cfg
}
