package di

import (
	"context"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/goliatone/go-facetcache/batch"
	"github.com/goliatone/go-facetcache/cache"
	"github.com/goliatone/go-facetcache/config"
	"github.com/goliatone/go-facetcache/entity"
	"github.com/goliatone/go-facetcache/logger"
	"github.com/goliatone/go-facetcache/metrics"
	"github.com/goliatone/go-facetcache/session"
	"github.com/goliatone/go-facetcache/uow"
)

// Container wires the facetcache components from a config.Config.
// It owns the process cache, the database session and the unit of work
// engine, and provides factory methods for typed repositories.
type Container struct {
	config  config.Config
	log     logger.Logger
	cache   cache.ProcessCache
	session session.Session
	db      session.DB
	builder session.StatementBuilder
	metrics *metrics.Collector
	engine  *uow.Engine

	registerer prometheus.Registerer
}

// Option customizes how a Container is built.
type Option func(*Container)

// WithLogger replaces the logger built from the log section.
func WithLogger(l logger.Logger) Option {
	return func(c *Container) {
		if l != nil {
			c.log = l
		}
	}
}

// WithSession injects a session instead of opening the configured database.
// The container does not close an injected session.
func WithSession(s session.Session) Option {
	return func(c *Container) {
		c.session = s
	}
}

// WithStatementBuilder replaces the builder derived from the database driver.
// It is required to inject a session for a driver that cannot build
// statements offline, such as mysql.
func WithStatementBuilder(b session.StatementBuilder) Option {
	return func(c *Container) {
		c.builder = b
	}
}

// WithRegisterer registers the metrics with reg instead of a private registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Container) {
		c.registerer = reg
	}
}

// NewContainer validates cfg and builds every component. When metrics are
// enabled and no registerer is given, a fresh prometheus.Registry is used.
func NewContainer(cfg config.Config, opts ...Option) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Container{config: cfg}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.NewLeveledLogger(os.Stderr, cfg.LogLevel(), cfg.Log.Prefix)
	}

	pc, err := cache.NewProcessCache(cfg.CacheConfig())
	if err != nil {
		return nil, err
	}
	c.cache = pc

	if c.session == nil {
		db, err := session.Open(cfg.SessionConfig(), c.log)
		if err != nil {
			return nil, err
		}
		c.db = db
		c.session = db
	}

	if c.builder == nil {
		if c.db != nil {
			c.builder = c.db.StatementBuilder()
		} else {
			b, err := session.NewDialectBuilder(cfg.Database.Driver)
			if err != nil {
				return nil, err
			}
			c.builder = b
		}
	}

	if cfg.Metrics.Enabled {
		if c.registerer == nil {
			c.registerer = prometheus.NewRegistry()
		}
		c.metrics = metrics.New(cfg.Metrics.Namespace)
		if err := c.metrics.Register(c.registerer); err != nil {
			c.closeDB()
			return nil, err
		}
	}

	c.engine = uow.NewEngine(c.cache, c.session,
		uow.WithLogger(c.log),
		uow.WithMetrics(c.metrics),
		uow.WithClock(batch.NewClock()),
		uow.WithMaxStatements(cfg.Batch.MaxStatements),
	)

	c.log.Debugf("container ready: driver=%s metrics=%t max_statements=%d",
		cfg.Database.Driver, cfg.Metrics.Enabled, cfg.Batch.MaxStatements)
	return c, nil
}

// NewContainerWithDefaults builds a container from config.Default.
func NewContainerWithDefaults(opts ...Option) (*Container, error) {
	return NewContainer(config.Default(), opts...)
}

// Config returns the configuration the container was built from.
func (c *Container) Config() config.Config {
	return c.config
}

func (c *Container) Logger() logger.Logger {
	return c.log
}

// Cache returns the shared process cache.
func (c *Container) Cache() cache.ProcessCache {
	return c.cache
}

// Session returns the database session, injected or opened.
func (c *Container) Session() session.Session {
	return c.session
}

// DB returns the opened database, or nil when the session was injected.
func (c *Container) DB() session.DB {
	return c.db
}

// Metrics returns the collector, or nil when metrics are disabled.
func (c *Container) Metrics() *metrics.Collector {
	return c.metrics
}

// Registerer returns where the metrics were registered, or nil.
func (c *Container) Registerer() prometheus.Registerer {
	return c.registerer
}

func (c *Container) Engine() *uow.Engine {
	return c.engine
}

// StatementBuilder returns the builder for the configured driver, bound to
// the opened database when there is one.
func (c *Container) StatementBuilder() session.StatementBuilder {
	return c.builder
}

// Close aborts every open unit of work and closes the opened database.
func (c *Container) Close(ctx context.Context) error {
	if err := c.engine.Close(ctx); err != nil {
		return err
	}
	return c.closeDB()
}

func (c *Container) closeDB() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// NewRepository creates a typed repository for schema using the statement
// builder of the configured driver.
//
// Since Go methods cannot have type parameters, this is provided as a package-level function.
// Example: NewRepository[User](container, entity.SchemaFor[User]("id"))
func NewRepository[T any](c *Container, schema *entity.Schema) *uow.Repository[T] {
	return uow.NewRepository[T](schema, c.StatementBuilder())
}
