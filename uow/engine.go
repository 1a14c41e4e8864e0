package uow

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/goliatone/go-facetcache/batch"
	"github.com/goliatone/go-facetcache/cache"
	"github.com/goliatone/go-facetcache/logger"
	"github.com/goliatone/go-facetcache/metrics"
	"github.com/goliatone/go-facetcache/session"
)

// Engine opens units of work over one process cache and one database
// session.
type Engine struct {
	cache         cache.ProcessCache
	session       session.Session
	log           logger.Logger
	metrics       *metrics.Collector
	clock         *batch.Clock
	maxStatements int

	roots *xsync.MapOf[uuid.UUID, *UnitOfWork]
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMetrics records engine metrics in c.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

// WithClock sets the clock stamping batches.
func WithClock(c *batch.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithMaxStatements limits the number of statements a root may commit.
func WithMaxStatements(n int) Option {
	return func(e *Engine) { e.maxStatements = n }
}

// NewEngine returns an engine reading through pc and sess.
func NewEngine(pc cache.ProcessCache, sess session.Session, opts ...Option) *Engine {
	e := &Engine{
		cache:   pc,
		session: sess,
		log:     logger.NopLogger,
		clock:   batch.NewClock(),
		roots:   xsync.NewMapOf[uuid.UUID, *UnitOfWork](),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.WithPrefix("[uow] ")
	return e
}

// Begin opens a root unit of work.
func (e *Engine) Begin() *UnitOfWork {
	u := e.newUnit(nil)
	e.roots.Store(u.id, u)
	e.metrics.UnitOpened()
	e.log.Debugf("begin root %s", u.id)
	return u
}

// OpenUnits returns the number of root units of work not yet resolved.
func (e *Engine) OpenUnits() int {
	return e.roots.Size()
}

// Close aborts every open root unit of work.
func (e *Engine) Close(ctx context.Context) error {
	var open []*UnitOfWork
	e.roots.Range(func(_ uuid.UUID, u *UnitOfWork) bool {
		open = append(open, u)
		return true
	})
	for _, u := range open {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.log.Warnf("closing engine with open unit of work %s", u.id)
		u.Abort()
	}
	return nil
}

// Cache returns the process cache.
func (e *Engine) Cache() cache.ProcessCache {
	return e.cache
}

func (e *Engine) newUnit(parent *UnitOfWork) *UnitOfWork {
	u := &UnitOfWork{
		id:     uuid.New(),
		engine: e,
		parent: parent,
		scope:  newScopeCache(),
		batch: batch.New(
			batch.WithClock(e.clock),
			batch.WithMaxStatements(e.maxStatements),
			batch.WithLogger(e.log),
		),
	}
	if parent == nil {
		u.root = u
		u.mu = &sync.Mutex{}
	} else {
		u.root = parent.root
		u.mu = parent.mu
	}
	u.log = e.log.WithPrefix("[" + u.id.String()[:8] + "] ")
	return u
}

// release forgets a resolved root.
func (e *Engine) release(u *UnitOfWork) {
	if u.parent != nil {
		return
	}
	if _, ok := e.roots.LoadAndDelete(u.id); ok {
		e.metrics.UnitClosed()
	}
}
