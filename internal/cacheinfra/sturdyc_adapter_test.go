package cacheinfra

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-facetcache/entity"
	"github.com/goliatone/go-facetcache/facet"
	"github.com/goliatone/go-facetcache/internal/errcode"
)

type testUser struct {
	ID    int64  `msgpack:"id"`
	Email string `msgpack:"email,omitempty"`
	Name  string `msgpack:"name,omitempty"`
}

type joinSerializer struct{}

func (joinSerializer) SerializeKey(schema string, parts ...any) string {
	segments := []string{schema}
	for _, p := range parts {
		segments = append(segments, fmt.Sprint(p))
	}
	return strings.Join(segments, "::")
}

func usersSchema() *entity.Schema {
	return entity.NewSchema("users", entity.NewMsgpackCodec[testUser](), "id", "email", "name").
		WithPrimaryKey("id").
		WithUnique("email", "email")
}

func testConfig() Config {
	return Config{
		Capacity:           100,
		NumShards:          2,
		TTL:                time.Minute,
		EvictionPercentage: 10,
		LockStripes:        8,
	}
}

func newTestCache(t *testing.T) *ProcessCache {
	t.Helper()
	pc, err := NewProcessCache(testConfig(), joinSerializer{})
	if err != nil {
		t.Fatalf("failed to create process cache: %v", err)
	}
	return pc
}

func byID(s *entity.Schema, id int64) []facet.Facet {
	return s.IdentityFacets(entity.Where("id", id))
}

func byEmail(s *entity.Schema, email string) []facet.Facet {
	return s.IdentityFacets(entity.Where("email", email))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Capacity != 10000 {
		t.Errorf("expected Capacity to be 10000, got %d", cfg.Capacity)
	}
	if cfg.NumShards != 256 {
		t.Errorf("expected NumShards to be 256, got %d", cfg.NumShards)
	}
	if cfg.TTL != 5*time.Minute {
		t.Errorf("expected TTL to be 5 minutes, got %v", cfg.TTL)
	}
	if cfg.EvictionPercentage != 10 {
		t.Errorf("expected EvictionPercentage to be 10, got %d", cfg.EvictionPercentage)
	}
	if cfg.LockStripes != 64 {
		t.Errorf("expected LockStripes to be 64, got %d", cfg.LockStripes)
	}
	if cfg.MissingRecordStorage {
		t.Error("expected MissingRecordStorage to be disabled")
	}
	if cfg.EarlyRefresh != nil {
		t.Error("expected EarlyRefresh to be disabled")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := testConfig()

	tests := []struct {
		name     string
		mutate   func(*Config)
		errorMsg string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "zero capacity", mutate: func(c *Config) { c.Capacity = 0 }, errorMsg: "config error in field Capacity: must be greater than 0"},
		{name: "zero shards", mutate: func(c *Config) { c.NumShards = 0 }, errorMsg: "config error in field NumShards: must be greater than 0"},
		{name: "zero ttl", mutate: func(c *Config) { c.TTL = 0 }, errorMsg: "config error in field TTL: must be greater than 0"},
		{name: "eviction too low", mutate: func(c *Config) { c.EvictionPercentage = 0 }, errorMsg: "config error in field EvictionPercentage: must be between 1 and 100"},
		{name: "eviction too high", mutate: func(c *Config) { c.EvictionPercentage = 101 }, errorMsg: "config error in field EvictionPercentage: must be between 1 and 100"},
		{name: "zero stripes", mutate: func(c *Config) { c.LockStripes = 0 }, errorMsg: "config error in field LockStripes: must be greater than 0"},
		{
			name: "negative early refresh",
			mutate: func(c *Config) {
				c.EarlyRefresh = &EarlyRefreshConfig{MinAsyncRefreshTime: -time.Second}
			},
			errorMsg: "config error in field EarlyRefresh.MinAsyncRefreshTime: must be non-negative",
		},
		{
			name: "inverted early refresh window",
			mutate: func(c *Config) {
				c.EarlyRefresh = &EarlyRefreshConfig{MinAsyncRefreshTime: 2 * time.Second, MaxAsyncRefreshTime: time.Second}
			},
			errorMsg: "config error in field EarlyRefresh.MaxAsyncRefreshTime: must not be less than MinAsyncRefreshTime",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()

			if tt.errorMsg == "" {
				if err != nil {
					t.Errorf("expected no error but got: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error but got none")
			}
			if err.Error() != tt.errorMsg {
				t.Errorf("expected error message %q, got %q", tt.errorMsg, err.Error())
			}
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Errorf("expected *ConfigError, got %T", err)
			}
		})
	}
}

func TestConfig_ToSturdycOptions(t *testing.T) {
	cfg := testConfig()
	if got := len(cfg.ToSturdycOptions()); got != 0 {
		t.Errorf("expected no sturdyc options for minimal config, got %d", got)
	}

	cfg.MissingRecordStorage = true
	cfg.EvictionInterval = time.Second
	cfg.EarlyRefresh = &EarlyRefreshConfig{
		MinAsyncRefreshTime: time.Second,
		MaxAsyncRefreshTime: 2 * time.Second,
		SyncRefreshTime:     3 * time.Second,
		RetryBaseDelay:      10 * time.Millisecond,
	}
	if got := len(cfg.ToSturdycOptions()); got != 3 {
		t.Errorf("expected 3 sturdyc options, got %d", got)
	}
}

func TestNewProcessCache_Errors(t *testing.T) {
	cfg := testConfig()
	cfg.Capacity = 0
	if pc, err := NewProcessCache(cfg, joinSerializer{}); err == nil || pc != nil {
		t.Errorf("expected config error, got %v", err)
	}

	if _, err := NewProcessCache(testConfig(), nil); err == nil {
		t.Error("expected error for nil serializer")
	}
}

func TestProcessCache_PutStoresUnderEveryIdentityKey(t *testing.T) {
	ctx := context.Background()
	pc := newTestCache(t)
	s := usersSchema()

	if err := pc.Put(ctx, s, byID(s, 1), &testUser{ID: 1, Email: "a@x"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, ok := pc.Get(ctx, s, byEmail(s, "a@x"))
	if !ok {
		t.Fatal("expected hit under the email facet")
	}
	if u := got.(*testUser); u.ID != 1 {
		t.Errorf("Get() = %+v", u)
	}
	if pc.Size() != 2 {
		t.Errorf("Size() = %d, want 2", pc.Size())
	}
}

func TestProcessCache_PutMergesPartialWrites(t *testing.T) {
	ctx := context.Background()
	pc := newTestCache(t)
	s := usersSchema()

	if err := pc.Put(ctx, s, byID(s, 1), &testUser{ID: 1, Email: "a@x", Name: "Ada"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := pc.Put(ctx, s, byID(s, 1), &testUser{ID: 1, Name: "Bob"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, ok := pc.Get(ctx, s, byEmail(s, "a@x"))
	if !ok {
		t.Fatal("expected hit")
	}
	want := testUser{ID: 1, Email: "a@x", Name: "Bob"}
	if u := *got.(*testUser); u != want {
		t.Errorf("merged = %+v, want %+v", u, want)
	}
}

func TestProcessCache_InvalidateRemovesSiblingKeys(t *testing.T) {
	ctx := context.Background()
	pc := newTestCache(t)
	s := usersSchema()

	_ = pc.Put(ctx, s, byID(s, 1), &testUser{ID: 1, Email: "a@x"})
	_ = pc.Put(ctx, s, byID(s, 2), &testUser{ID: 2, Email: "b@x"})

	if err := pc.Invalidate(ctx, s, byID(s, 1)); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}

	if _, ok := pc.Get(ctx, s, byEmail(s, "a@x")); ok {
		t.Error("email key should be invalidated with the primary key")
	}
	if _, ok := pc.Get(ctx, s, byID(s, 2)); !ok {
		t.Error("unrelated entity should stay cached")
	}
}

func byName(s *entity.Schema, name string) []facet.Facet {
	return s.PredicateFacets(entity.Where("name", name))
}

func TestProcessCache_WildcardAliases(t *testing.T) {
	ctx := context.Background()
	s := usersSchema()
	ada := &testUser{ID: 1, Email: "a@x", Name: "Ada"}

	tests := []struct {
		name      string
		change    func(pc *ProcessCache) error
		wantAlias bool
	}{
		{
			name:   "delete by primary key",
			change: func(pc *ProcessCache) error { return pc.Invalidate(ctx, s, byID(s, 1)) },
		},
		{
			name:   "delete by email",
			change: func(pc *ProcessCache) error { return pc.Invalidate(ctx, s, byEmail(s, "a@x")) },
		},
		{
			name:   "rename",
			change: func(pc *ProcessCache) error { return pc.Put(ctx, s, nil, &testUser{ID: 1, Name: "Bob"}) },
		},
		{
			name:      "same value again",
			change:    func(pc *ProcessCache) error { return pc.Put(ctx, s, nil, &testUser{ID: 1, Email: "a@x", Name: "Ada"}) },
			wantAlias: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pc := newTestCache(t)
			if err := pc.Put(ctx, s, byName(s, "Ada"), ada); err != nil {
				t.Fatalf("Put() error = %v", err)
			}
			if _, ok := pc.Get(ctx, s, byName(s, "Ada")); !ok {
				t.Fatal("expected hit under the wildcard facet")
			}

			if err := tt.change(pc); err != nil {
				t.Fatalf("change error = %v", err)
			}

			_, ok := pc.Get(ctx, s, byName(s, "Ada"))
			if ok != tt.wantAlias {
				t.Errorf("wildcard hit = %v, want %v", ok, tt.wantAlias)
			}
		})
	}
}

func TestProcessCache_PutDropsStaleIdentityKeys(t *testing.T) {
	ctx := context.Background()
	pc := newTestCache(t)
	s := usersSchema()

	_ = pc.Put(ctx, s, nil, &testUser{ID: 1, Email: "a@x", Name: "Ada"})
	if err := pc.Put(ctx, s, nil, &testUser{ID: 1, Email: "b@x"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	if _, ok := pc.Get(ctx, s, byEmail(s, "a@x")); ok {
		t.Error("old email should no longer address the entity")
	}
	got, ok := pc.Get(ctx, s, byEmail(s, "b@x"))
	if !ok {
		t.Fatal("expected hit under the new email")
	}
	want := testUser{ID: 1, Email: "b@x", Name: "Ada"}
	if u := *got.(*testUser); u != want {
		t.Errorf("merged = %+v, want %+v", u, want)
	}
}

func TestProcessCache_InvalidateSchemaForgetsAliases(t *testing.T) {
	ctx := context.Background()
	pc := newTestCache(t)
	s := usersSchema()

	_ = pc.Put(ctx, s, byName(s, "Ada"), &testUser{ID: 1, Email: "a@x", Name: "Ada"})
	if pc.aliases.Size() == 0 {
		t.Fatal("expected recorded aliases")
	}
	if err := pc.InvalidateSchema(ctx, s.Name); err != nil {
		t.Fatalf("InvalidateSchema() error = %v", err)
	}
	if n := pc.aliases.Size(); n != 0 {
		t.Errorf("aliases left = %d", n)
	}
}

func TestProcessCache_InvalidateKeysAndSchema(t *testing.T) {
	ctx := context.Background()
	pc := newTestCache(t)
	s := usersSchema()
	other := entity.NewSchema("orders", entity.FieldsCodec{}, "id").WithPrimaryKey("id")

	_ = pc.Put(ctx, s, byID(s, 1), &testUser{ID: 1})
	_ = pc.Put(ctx, s, byID(s, 2), &testUser{ID: 2})
	_ = pc.Put(ctx, other, other.IdentityFacets(entity.Where("id", 9)), entity.Fields{"id": 9})

	if err := pc.InvalidateKeys(ctx, "users", []string{"id==1"}); err != nil {
		t.Fatalf("InvalidateKeys() error = %v", err)
	}
	if _, ok := pc.Get(ctx, s, byID(s, 1)); ok {
		t.Error("id==1 should be gone")
	}

	if err := pc.InvalidateSchema(ctx, "users"); err != nil {
		t.Fatalf("InvalidateSchema() error = %v", err)
	}
	if _, ok := pc.Get(ctx, s, byID(s, 2)); ok {
		t.Error("users schema should be empty")
	}
	if _, ok := pc.Get(ctx, other, other.IdentityFacets(entity.Where("id", 9))); !ok {
		t.Error("orders should survive a users invalidation")
	}
}

func TestProcessCache_GetOrFetch(t *testing.T) {
	ctx := context.Background()
	s := usersSchema()

	t.Run("fetches once and caches under all identity keys", func(t *testing.T) {
		pc := newTestCache(t)
		var calls int32

		fetch := func(ctx context.Context) (any, error) {
			atomic.AddInt32(&calls, 1)
			return &testUser{ID: 5, Email: "e@x"}, nil
		}

		for i := 0; i < 3; i++ {
			v, err := pc.GetOrFetch(ctx, s, byID(s, 5), fetch)
			if err != nil {
				t.Fatalf("GetOrFetch() error = %v", err)
			}
			if v.(*testUser).Email != "e@x" {
				t.Errorf("GetOrFetch() = %+v", v)
			}
		}
		if calls != 1 {
			t.Errorf("fetch called %d times, want 1", calls)
		}
		if _, ok := pc.Get(ctx, s, byEmail(s, "e@x")); !ok {
			t.Error("fetched value should be reachable by email")
		}
	})

	t.Run("not found fetch returns not found", func(t *testing.T) {
		pc := newTestCache(t)
		notFound := func(ctx context.Context) (any, error) {
			return nil, testNotFound()
		}

		_, err := pc.GetOrFetch(ctx, s, byID(s, 404), notFound)
		if !errcode.Has(err, errcode.NotFound) {
			t.Errorf("expected NOT_FOUND, got %v", err)
		}
		if pc.Size() != 0 {
			t.Errorf("Size() = %d, want 0", pc.Size())
		}
	})

	t.Run("fetch errors propagate", func(t *testing.T) {
		pc := newTestCache(t)
		boom := errors.New("boom")

		_, err := pc.GetOrFetch(ctx, s, byID(s, 7), func(ctx context.Context) (any, error) {
			return nil, boom
		})
		if !errors.Is(err, boom) {
			t.Errorf("expected boom, got %v", err)
		}
	})
}

func TestProcessCache_ConcurrentPuts(t *testing.T) {
	ctx := context.Background()
	pc := newTestCache(t)
	s := usersSchema()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u := &testUser{ID: 1}
			if i%2 == 0 {
				u.Email = "a@x"
			} else {
				u.Name = fmt.Sprintf("n%d", i)
			}
			if err := pc.Put(ctx, s, byID(s, 1), u); err != nil {
				t.Errorf("Put() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	got, ok := pc.Get(ctx, s, byID(s, 1))
	if !ok {
		t.Fatal("expected hit")
	}
	u := got.(*testUser)
	if u.Email != "a@x" || u.Name == "" {
		t.Errorf("concurrent merges lost fields: %+v", u)
	}
}

func testNotFound() error {
	return goerrors.New("no row", goerrors.CategoryNotFound).WithTextCode(errcode.NotFound)
}
