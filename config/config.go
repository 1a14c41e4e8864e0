// Package config loads facetcache settings from YAML or JSON files and
// FACETCACHE_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goccy/go-json"
	"github.com/goliatone/go-errors"
	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-facetcache/cache"
	"github.com/goliatone/go-facetcache/logger"
	"github.com/goliatone/go-facetcache/session"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FACETCACHE_"

// Duration accepts Go duration strings ("5m", "250ms") in YAML and JSON.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config is the full facetcache configuration.
type Config struct {
	Cache    CacheConfig    `yaml:"cache" json:"cache"`
	Database DatabaseConfig `yaml:"database" json:"database"`
	Batch    BatchConfig    `yaml:"batch" json:"batch"`
	Log      LogConfig      `yaml:"log" json:"log"`
	Metrics  MetricsConfig  `yaml:"metrics" json:"metrics"`
}

type CacheConfig struct {
	Capacity           int      `yaml:"capacity" json:"capacity"`
	NumShards          int      `yaml:"num_shards" json:"num_shards"`
	TTL                Duration `yaml:"ttl" json:"ttl"`
	EvictionPercentage int      `yaml:"eviction_percentage" json:"eviction_percentage"`
	EvictionInterval   Duration `yaml:"eviction_interval,omitempty" json:"eviction_interval,omitempty"`
	LockStripes        int      `yaml:"lock_stripes" json:"lock_stripes"`
}

type DatabaseConfig struct {
	Driver          string   `yaml:"driver" json:"driver"`
	DSN             string   `yaml:"dsn" json:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime,omitempty" json:"conn_max_lifetime,omitempty"`
	ConnMaxIdleTime Duration `yaml:"conn_max_idle_time,omitempty" json:"conn_max_idle_time,omitempty"`
	LogQueries      bool     `yaml:"log_queries" json:"log_queries"`
}

type BatchConfig struct {
	// MaxStatements bounds one root batch. Zero means unbounded.
	MaxStatements int `yaml:"max_statements" json:"max_statements"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Prefix string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Namespace string `yaml:"namespace" json:"namespace"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	cc := cache.DefaultConfig()
	dc := session.DefaultConfig()

	return Config{
		Cache: CacheConfig{
			Capacity:           cc.Capacity,
			NumShards:          cc.NumShards,
			TTL:                Duration(cc.Expiry.TTL),
			EvictionPercentage: cc.Expiry.Percent,
			EvictionInterval:   Duration(cc.Expiry.Interval),
			LockStripes:        cc.LockStripes,
		},
		Database: DatabaseConfig{
			Driver:          dc.Driver,
			DSN:             dc.DSN,
			MaxOpenConns:    dc.MaxOpenConns,
			MaxIdleConns:    dc.MaxIdleConns,
			ConnMaxLifetime: Duration(dc.ConnMaxLifetime),
			ConnMaxIdleTime: Duration(dc.ConnMaxIdleTime),
			LogQueries:      dc.LogQueries,
		},
		Log:     LogConfig{Level: "info"},
		Metrics: MetricsConfig{Namespace: "facetcache"},
	}
}

// Load reads path, when non-empty, then applies environment overrides and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrap(err, errors.CategoryBadInput, "read config file "+path)
		}
		if err := decode(&cfg, data, filepath.Ext(path)); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes data in the given format ("yaml", "yml" or "json") on top
// of the defaults and validates it. Environment variables are not read.
func Parse(data []byte, format string) (Config, error) {
	cfg := Default()
	if err := decode(&cfg, data, format); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(cfg *Config, data []byte, format string) error {
	if len(data) == 0 {
		return nil
	}

	switch strings.TrimPrefix(strings.ToLower(format), ".") {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return errors.Wrap(err, errors.CategoryBadInput, "parse YAML config")
		}
	case "json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return errors.Wrap(err, errors.CategoryBadInput, "parse JSON config")
		}
	default:
		return errors.New(
			fmt.Sprintf("unsupported config format %q (supported: yaml, yml, json)", format),
			errors.CategoryBadInput,
		)
	}
	return nil
}

// ApplyEnv overrides fields from FACETCACHE_<SECTION>_<KEY> variables, for
// example FACETCACHE_CACHE_TTL=30s or FACETCACHE_DATABASE_DRIVER=postgres.
// Unparseable values are reported, not skipped.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}

	e.setInt("CACHE_CAPACITY", &c.Cache.Capacity)
	e.setInt("CACHE_NUM_SHARDS", &c.Cache.NumShards)
	e.setDuration("CACHE_TTL", &c.Cache.TTL)
	e.setInt("CACHE_EVICTION_PERCENTAGE", &c.Cache.EvictionPercentage)
	e.setDuration("CACHE_EVICTION_INTERVAL", &c.Cache.EvictionInterval)
	e.setInt("CACHE_LOCK_STRIPES", &c.Cache.LockStripes)

	e.setString("DATABASE_DRIVER", &c.Database.Driver)
	e.setString("DATABASE_DSN", &c.Database.DSN)
	e.setInt("DATABASE_MAX_OPEN_CONNS", &c.Database.MaxOpenConns)
	e.setInt("DATABASE_MAX_IDLE_CONNS", &c.Database.MaxIdleConns)
	e.setDuration("DATABASE_CONN_MAX_LIFETIME", &c.Database.ConnMaxLifetime)
	e.setDuration("DATABASE_CONN_MAX_IDLE_TIME", &c.Database.ConnMaxIdleTime)
	e.setBool("DATABASE_LOG_QUERIES", &c.Database.LogQueries)

	e.setInt("BATCH_MAX_STATEMENTS", &c.Batch.MaxStatements)

	e.setString("LOG_LEVEL", &c.Log.Level)
	e.setString("LOG_PREFIX", &c.Log.Prefix)

	e.setBool("METRICS_ENABLED", &c.Metrics.Enabled)
	e.setString("METRICS_NAMESPACE", &c.Metrics.Namespace)

	return e.err
}

// Validate checks every section.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Batch),
		validation.Field(&c.Log),
		validation.Field(&c.Metrics),
	)
	if err != nil {
		return errors.Wrap(err, errors.CategoryValidation, "invalid configuration")
	}
	if err := c.CacheConfig().Validate(); err != nil {
		return errors.Wrap(err, errors.CategoryValidation, "invalid cache configuration")
	}
	if err := c.SessionConfig().Validate(); err != nil {
		return errors.Wrap(err, errors.CategoryValidation, "invalid database configuration")
	}
	return nil
}

func (b BatchConfig) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.MaxStatements, validation.Min(0)),
	)
}

func (l LogConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.By(func(v any) error {
			if _, ok := logger.ParseLevel(v.(string)); !ok {
				return validation.NewError("validation_log_level", "must be one of error, warn, info, debug")
			}
			return nil
		})),
	)
}

func (m MetricsConfig) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Namespace, validation.When(m.Enabled, validation.Required)),
	)
}

// CacheConfig converts the cache section.
func (c Config) CacheConfig() cache.Config {
	cc := cache.DefaultConfig()
	cc.Capacity = c.Cache.Capacity
	cc.NumShards = c.Cache.NumShards
	cc.Expiry = cache.Expiry{
		TTL:      time.Duration(c.Cache.TTL),
		Percent:  c.Cache.EvictionPercentage,
		Interval: time.Duration(c.Cache.EvictionInterval),
	}
	cc.LockStripes = c.Cache.LockStripes
	return cc
}

// SessionConfig converts the database section.
func (c Config) SessionConfig() session.Config {
	return session.Config{
		Driver:          c.Database.Driver,
		DSN:             c.Database.DSN,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(c.Database.ConnMaxLifetime),
		ConnMaxIdleTime: time.Duration(c.Database.ConnMaxIdleTime),
		LogQueries:      c.Database.LogQueries,
	}
}

// LogLevel returns the verbosity of the log section.
func (c Config) LogLevel() int {
	level, _ := logger.ParseLevel(c.Log.Level)
	return level
}

type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) get(key string) (string, bool) {
	if e.err != nil || e.lookup == nil {
		return "", false
	}
	v, ok := e.lookup(EnvPrefix + key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (e *envReader) fail(key, value string, err error) {
	e.err = errors.Wrap(err, errors.CategoryBadInput,
		fmt.Sprintf("invalid %s%s value %q", EnvPrefix, key, value))
}

func (e *envReader) setString(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) setInt(key string, dst *int) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = n
}

func (e *envReader) setBool(key string, dst *bool) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = b
}

func (e *envReader) setDuration(key string, dst *Duration) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	if err := dst.UnmarshalText([]byte(v)); err != nil {
		e.fail(key, v, err)
	}
}
