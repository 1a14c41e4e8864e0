package cacheinfra

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/goliatone/go-errors"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/viccon/sturdyc"

	"github.com/goliatone/go-facetcache/entity"
	"github.com/goliatone/go-facetcache/facet"
	"github.com/goliatone/go-facetcache/internal/errcode"
)

// Config holds the configuration for the sturdyc backed process cache.
type Config struct {
	// Capacity defines the maximum number of keys that the cache can store.
	// One entity reachable under several facets uses one key per facet.
	// Must be greater than 0.
	Capacity int

	// NumShards determines the number of cache shards for concurrent access.
	// Must be greater than 0. Default: 256
	NumShards int

	// TTL is the time since the last write of a key after which it expires.
	// Reads do not extend it. Expiry is independent of eviction: a full shard
	// also drops EvictionPercentage of its least recently written keys before
	// their TTL. Must be greater than 0.
	TTL time.Duration

	// EvictionPercentage specifies what percentage of entries to evict
	// when a shard reaches its capacity. Must be between 1-100.
	EvictionPercentage int

	// EarlyRefresh configures background refreshes of entries loaded through
	// GetOrFetch. If nil, early refresh is disabled.
	EarlyRefresh *EarlyRefreshConfig

	// MissingRecordStorage makes GetOrFetch remember keys whose fetch reported
	// not found until the TTL elapses.
	MissingRecordStorage bool

	// EvictionInterval sets how often the cache checks for expired entries.
	// Zero value uses the default interval.
	EvictionInterval time.Duration

	// LockStripes is the number of mutexes serializing merges on put.
	// Must be greater than 0. Default: 64
	LockStripes int
}

// EarlyRefreshConfig configures early refresh behavior.
type EarlyRefreshConfig struct {
	MinAsyncRefreshTime time.Duration
	MaxAsyncRefreshTime time.Duration
	SyncRefreshTime     time.Duration
	RetryBaseDelay      time.Duration
}

// DefaultConfig returns a Config with sensible defaults for most use cases.
func DefaultConfig() Config {
	return Config{
		Capacity:           10000,
		NumShards:          256,
		TTL:                5 * time.Minute,
		EvictionPercentage: 10,
		LockStripes:        64,
	}
}

// ToSturdycOptions converts the Config to sturdyc.Option slice.
// Capacity, NumShards, TTL, and EvictionPercentage are passed directly
// to sturdyc.New() and are not included in the options.
func (c Config) ToSturdycOptions() []sturdyc.Option {
	var options []sturdyc.Option

	if c.EarlyRefresh != nil {
		options = append(options, sturdyc.WithEarlyRefreshes(
			c.EarlyRefresh.MinAsyncRefreshTime,
			c.EarlyRefresh.MaxAsyncRefreshTime,
			c.EarlyRefresh.SyncRefreshTime,
			c.EarlyRefresh.RetryBaseDelay,
		))
	}

	if c.MissingRecordStorage {
		options = append(options, sturdyc.WithMissingRecordStorage())
	}

	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}

	return options
}

// Validate checks if the configuration values are valid.
func (c Config) Validate() error {
	if c.Capacity <= 0 {
		return &ConfigError{Field: "Capacity", Message: "must be greater than 0"}
	}

	if c.NumShards <= 0 {
		return &ConfigError{Field: "NumShards", Message: "must be greater than 0"}
	}

	if c.TTL <= 0 {
		return &ConfigError{Field: "TTL", Message: "must be greater than 0"}
	}

	if c.EvictionPercentage < 1 || c.EvictionPercentage > 100 {
		return &ConfigError{Field: "EvictionPercentage", Message: "must be between 1 and 100"}
	}

	if c.LockStripes <= 0 {
		return &ConfigError{Field: "LockStripes", Message: "must be greater than 0"}
	}

	if c.EarlyRefresh != nil {
		if c.EarlyRefresh.MinAsyncRefreshTime < 0 {
			return &ConfigError{Field: "EarlyRefresh.MinAsyncRefreshTime", Message: "must be non-negative"}
		}
		if c.EarlyRefresh.MaxAsyncRefreshTime < c.EarlyRefresh.MinAsyncRefreshTime {
			return &ConfigError{Field: "EarlyRefresh.MaxAsyncRefreshTime", Message: "must not be less than MinAsyncRefreshTime"}
		}
		if c.EarlyRefresh.SyncRefreshTime < 0 {
			return &ConfigError{Field: "EarlyRefresh.SyncRefreshTime", Message: "must be non-negative"}
		}
		if c.EarlyRefresh.RetryBaseDelay < 0 {
			return &ConfigError{Field: "EarlyRefresh.RetryBaseDelay", Message: "must be non-negative"}
		}
	}

	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}

// KeySerializer builds the store key of a flattened facet key.
type KeySerializer interface {
	SerializeKey(schema string, parts ...any) string
}

// FetchFn loads a value that missed the cache.
type FetchFn func(ctx context.Context) (any, error)

// ProcessCache is the process wide cache shared by every unit of work.
// Values are merged field by field on put and stored under every identity
// key of the entity. Tombstones are never stored: invalidation deletes.
//
// Values stored under non identity keys, such as wildcard lookups, are
// recorded as aliases of the identity keys of the entity, so deleting or
// changing the entity drops them too.
type ProcessCache struct {
	client  *sturdyc.Client[any]
	keys    KeySerializer
	stripes []sync.Mutex
	// aliases maps an identity store key to the other store keys holding
	// the same entity.
	aliases *xsync.MapOf[string, []string]
}

// NewProcessCache validates cfg and initializes the sturdyc client.
//
// Capacity, NumShards, TTL, EvictionPercentage are passed to sturdyc.New(),
// the remaining options through ToSturdycOptions().
func NewProcessCache(cfg Config, keys KeySerializer) (*ProcessCache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if keys == nil {
		return nil, &ConfigError{Field: "KeySerializer", Message: "cannot be nil"}
	}

	client := sturdyc.New[any](
		cfg.Capacity,
		cfg.NumShards,
		cfg.TTL,
		cfg.EvictionPercentage,
		cfg.ToSturdycOptions()...,
	)

	return &ProcessCache{
		client:  client,
		keys:    keys,
		stripes: make([]sync.Mutex, cfg.LockStripes),
		aliases: xsync.NewMapOf[string, []string](),
	}, nil
}

// Get returns the value stored under the first flattened key that hits.
func (p *ProcessCache) Get(ctx context.Context, schema *entity.Schema, facets []facet.Facet) (any, bool) {
	for _, key := range p.storeKeys(schema.Name, facet.Flatten(facets...)) {
		if v, ok := p.client.Get(key); ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// Put merges value with whatever is cached under its keys and stores the
// result under the given facets and every identity facet of the merged value.
// Keys that addressed a previous version of the entity and no longer address
// the merged one are deleted.
func (p *ProcessCache) Put(ctx context.Context, schema *entity.Schema, facets []facet.Facet, value any) error {
	if value == nil {
		return nil
	}

	own, err := schema.Facets(value)
	if err != nil {
		return err
	}
	keys := p.storeKeys(schema.Name, facet.Flatten(append(append([]facet.Facet(nil), facets...), own...)...))
	if len(keys) == 0 {
		return nil
	}

	unlock := p.lock(keys)
	defer unlock()

	merged := value
	var olds []any
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		old, ok := p.client.Get(key)
		if !ok || old == nil {
			continue
		}
		id := facet.FormatValue(old)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		olds = append(olds, old)

		if merged, err = schema.Merge(old, merged); err != nil {
			return err
		}
	}

	// merged values can carry identity fields the new value lacked
	if own, err = schema.Facets(merged); err != nil {
		return err
	}
	identity := p.storeKeys(schema.Name, facet.Flatten(own...))
	for _, key := range identity {
		if !containsKey(keys, key) {
			keys = append(keys, key)
		}
	}

	var aliases []string
	for _, key := range keys {
		if !containsKey(identity, key) {
			aliases = append(aliases, key)
		}
	}

	changed := len(olds) == 0
	var stale []string
	for _, old := range olds {
		if facet.FormatValue(old) != facet.FormatValue(merged) {
			changed = true
		}
		oldOwn, err := schema.Facets(old)
		if err != nil {
			continue
		}
		for _, key := range p.storeKeys(schema.Name, facet.Flatten(oldOwn...)) {
			if !containsKey(identity, key) {
				stale = append(stale, key)
				stale = append(stale, p.dropAliases(key)...)
			}
		}
	}

	for _, key := range identity {
		if changed {
			stale = append(stale, p.dropAliases(key)...)
		}
		if len(aliases) > 0 {
			p.addAliases(key, aliases)
		}
	}

	for _, key := range stale {
		if !containsKey(keys, key) {
			p.client.Delete(key)
		}
	}
	for _, key := range keys {
		p.client.Set(key, merged)
	}
	return nil
}

// Invalidate removes the flattened keys of facets together with every other
// identity key of the values they pointed at and the aliases of those keys.
func (p *ProcessCache) Invalidate(ctx context.Context, schema *entity.Schema, facets []facet.Facet) error {
	keys := p.storeKeys(schema.Name, facet.Flatten(facets...))
	if len(keys) == 0 {
		return nil
	}

	unlock := p.lock(keys)
	defer unlock()

	extra := make([]string, 0)
	for _, key := range keys {
		old, ok := p.client.Get(key)
		if !ok || old == nil {
			continue
		}
		own, err := schema.Facets(old)
		if err != nil {
			continue
		}
		extra = append(extra, p.storeKeys(schema.Name, facet.Flatten(own...))...)
	}

	all := append(keys, extra...)
	for _, key := range all {
		all = append(all, p.dropAliases(key)...)
	}
	for _, key := range all {
		p.client.Delete(key)
	}
	return nil
}

// InvalidateKeys removes flattened keys of one schema and their aliases.
func (p *ProcessCache) InvalidateKeys(ctx context.Context, schemaName string, keys []string) error {
	for _, key := range keys {
		store := p.keys.SerializeKey(schemaName, key)
		for _, alias := range p.dropAliases(store) {
			p.client.Delete(alias)
		}
		p.client.Delete(store)
	}
	return nil
}

// InvalidateSchema removes every entry of schemaName.
func (p *ProcessCache) InvalidateSchema(ctx context.Context, schemaName string) error {
	prefix := p.keys.SerializeKey(schemaName, "")
	for _, key := range p.client.ScanKeys() {
		if strings.HasPrefix(key, prefix) {
			p.client.Delete(key)
		}
	}
	p.aliases.Range(func(key string, _ []string) bool {
		if strings.HasPrefix(key, prefix) {
			p.aliases.Delete(key)
		}
		return true
	})
	return nil
}

// GetOrFetch returns the cached value or loads it with fetch. Concurrent
// misses on the same key share one fetch. The fetched value is stored under
// all of its identity keys. A fetch reporting NOT_FOUND is returned as a
// not found error.
func (p *ProcessCache) GetOrFetch(ctx context.Context, schema *entity.Schema, facets []facet.Facet, fetch FetchFn) (any, error) {
	if v, ok := p.Get(ctx, schema, facets); ok {
		return v, nil
	}

	keys := p.storeKeys(schema.Name, facet.Flatten(facets...))
	if len(keys) == 0 {
		return fetch(ctx)
	}

	v, err := p.client.GetOrFetch(ctx, keys[0], func(ctx context.Context) (any, error) {
		v, err := fetch(ctx)
		if err != nil && errcode.Has(err, errcode.NotFound) {
			return nil, sturdyc.ErrNotFound
		}
		return v, err
	})
	if err != nil {
		if errors.Is(err, sturdyc.ErrNotFound) || errors.Is(err, sturdyc.ErrMissingRecord) {
			return nil, errors.New("no "+schema.Name+" entity under "+strings.Join(keys, ", "), errors.CategoryNotFound).
				WithTextCode(errcode.NotFound)
		}
		return nil, err
	}

	if err := p.Put(ctx, schema, facets, v); err != nil {
		return nil, err
	}
	return v, nil
}

// Size returns the number of stored keys.
func (p *ProcessCache) Size() int {
	return p.client.Size()
}

func (p *ProcessCache) storeKeys(schemaName string, keys []facet.Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = p.keys.SerializeKey(schemaName, k.Value)
	}
	return out
}

// addAliases records keys as holding the entity of the identity key.
func (p *ProcessCache) addAliases(identity string, keys []string) {
	p.aliases.Compute(identity, func(old []string, loaded bool) ([]string, bool) {
		out := append([]string(nil), old...)
		for _, k := range keys {
			if !containsKey(out, k) {
				out = append(out, k)
			}
		}
		return out, false
	})
}

// dropAliases forgets and returns the aliases of the identity key.
func (p *ProcessCache) dropAliases(identity string) []string {
	aliases, _ := p.aliases.LoadAndDelete(identity)
	return aliases
}

// lock acquires the stripes of keys in index order.
func (p *ProcessCache) lock(keys []string) func() {
	n := uint64(len(p.stripes))
	idx := make([]int, 0, len(keys))
	for _, key := range keys {
		i := int(xxhash.Sum64String(key) % n)
		if !containsInt(idx, i) {
			idx = append(idx, i)
		}
	}
	sort.Ints(idx)

	for _, i := range idx {
		p.stripes[i].Lock()
	}
	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			p.stripes[idx[j]].Unlock()
		}
	}
}

func containsKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

func containsInt(values []int, v int) bool {
	for _, existing := range values {
		if existing == v {
			return true
		}
	}
	return false
}
