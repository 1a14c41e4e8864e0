package uow

import (
	"context"
	"fmt"

	"github.com/goliatone/go-errors"

	"github.com/goliatone/go-facetcache/cache"
	"github.com/goliatone/go-facetcache/entity"
	"github.com/goliatone/go-facetcache/facet"
	"github.com/goliatone/go-facetcache/metrics"
	"github.com/goliatone/go-facetcache/session"
)

// Get returns the entity addressed by facets, reading the local scope, the
// ancestors, the process cache and finally the database through stmt.
// A tombstone or an empty result is reported as a not found error.
func (u *UnitOfWork) Get(ctx context.Context, schema *entity.Schema, facets []facet.Facet, stmt session.Statement) (any, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.openLocked("get"); err != nil {
		return nil, err
	}
	return u.getLocked(ctx, schema, facets, stmt)
}

func (u *UnitOfWork) getLocked(ctx context.Context, schema *entity.Schema, facets []facet.Facet, stmt session.Statement) (any, error) {
	u.stats.Reads++

	if entry, ok := u.lookupLocked(schema, facets); ok {
		if entry.IsTombstone() {
			return nil, cache.NewNotFound(schema.Name, facets)
		}
		return entry.Value, nil
	}

	fetched := false
	v, err := u.engine.cache.GetOrFetch(ctx, schema, facets, func(ctx context.Context) (any, error) {
		fetched = true
		if stmt.Query == "" {
			return nil, cache.NewNotFound(schema.Name, facets)
		}
		rows, err := u.readLocked(ctx, stmt)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, cache.NewNotFound(schema.Name, facets)
		}
		return schema.Decode(rows[0])
	})
	if err != nil {
		if cache.IsNotFound(err) {
			u.engine.metrics.Lookup(metrics.LayerDatabase, metrics.ResultMiss)
		}
		return nil, err
	}
	if fetched {
		u.engine.metrics.Lookup(metrics.LayerDatabase, metrics.ResultHit)
	} else {
		u.stats.ProcessHits++
		u.engine.metrics.Lookup(metrics.LayerProcess, metrics.ResultHit)
	}

	entry, err := u.adoptLocked(schema, facets, v)
	if err != nil {
		return nil, err
	}
	if entry.IsTombstone() {
		return nil, cache.NewNotFound(schema.Name, facets)
	}
	return entry.Value, nil
}

func (u *UnitOfWork) readLocked(ctx context.Context, stmt session.Statement) ([]session.Row, error) {
	u.stats.DatabaseReads++
	u.engine.metrics.DatabaseRead()
	u.log.Debugf("read %s: %s", stmt.Schema, stmt.Query)

	rows, err := u.engine.session.Execute(ctx, stmt)
	if err != nil && !session.IsTransport(err) {
		err = session.TransportError(err, "read "+stmt.Schema)
	}
	return rows, err
}

// Query returns every entity read by stmt. Results are memoized per
// statement until u writes to the schema. Rows whose identity the unit has
// written or deleted are replaced by the local state.
func (u *UnitOfWork) Query(ctx context.Context, schema *entity.Schema, stmt session.Statement) ([]any, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.openLocked("query"); err != nil {
		return nil, err
	}
	return u.queryLocked(ctx, schema, stmt)
}

func (u *UnitOfWork) queryLocked(ctx context.Context, schema *entity.Schema, stmt session.Statement) ([]any, error) {
	u.stats.Reads++

	key := stmt.Key()
	if values, ok := u.scope.memoized(schema.Name, key); ok {
		u.stats.LocalHits++
		u.engine.metrics.Lookup(metrics.LayerMemo, metrics.ResultHit)
		return append([]any(nil), values...), nil
	}
	u.engine.metrics.Lookup(metrics.LayerMemo, metrics.ResultMiss)

	rows, err := u.readLocked(ctx, stmt)
	if err != nil {
		return nil, err
	}

	values := make([]any, 0, len(rows))
	for _, row := range rows {
		v, err := schema.Decode(row)
		if err != nil {
			return nil, err
		}
		if err := u.engine.cache.Put(ctx, schema, nil, v); err != nil {
			u.log.Warnf("populate process cache for %s: %v", schema.Name, err)
		}
		entry, err := u.adoptLocked(schema, nil, v)
		if err != nil {
			return nil, err
		}
		if entry.IsTombstone() {
			continue
		}
		values = append(values, entry.Value)
	}

	u.scope.memoize(schema.Name, key, values)
	return append([]any(nil), values...), nil
}

// Put queues stmt and writes value into the local scope under every identity
// key. The value is merged with what the unit already sees for the entity,
// or else with the process cache copy; keys that pointed at the previous
// value and no longer address it are tombstoned.
func (u *UnitOfWork) Put(ctx context.Context, schema *entity.Schema, value any, stmt session.Statement) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.openLocked("put"); err != nil {
		return err
	}
	return u.putLocked(ctx, schema, value, stmt)
}

func (u *UnitOfWork) putLocked(ctx context.Context, schema *entity.Schema, value any, stmt session.Statement) error {
	if value == nil {
		return errors.New(fmt.Sprintf("put nil %s entity", schema.Name), errors.CategoryBadInput)
	}

	facets, err := schema.Facets(value)
	if err != nil {
		return err
	}
	if len(facets) == 0 {
		return unaddressableError(schema.Name)
	}

	next, err := schema.Clone(value)
	if err != nil {
		return err
	}

	var prev any
	if entry, ok := u.lookupLocked(schema, facets); ok {
		prev = entry.Value
	} else if cached, ok := u.engine.cache.Get(ctx, schema, facets); ok {
		prev = cached
	}
	if prev != nil {
		if next, err = schema.Merge(prev, next); err != nil {
			return err
		}
		if facets, err = schema.Facets(next); err != nil {
			return err
		}
	}

	if stmt.Query != "" {
		u.batch.Add(stmt)
	}
	u.scope.row(schema).set(keyRefs(facets), &cell{value: next}, true)
	u.scope.forget(schema.Name)
	u.stats.Writes++
	return nil
}

// Delete queues stmt and tombstones the entity addressed by facets under
// every key the unit knows for it.
func (u *UnitOfWork) Delete(ctx context.Context, schema *entity.Schema, facets []facet.Facet, stmt session.Statement) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.openLocked("delete"); err != nil {
		return err
	}
	return u.deleteLocked(ctx, schema, facets, stmt)
}

func (u *UnitOfWork) deleteLocked(ctx context.Context, schema *entity.Schema, facets []facet.Facet, stmt session.Statement) error {
	if len(facets) == 0 {
		return unaddressableError(schema.Name)
	}
	if stmt.Query != "" {
		u.batch.Add(stmt)
	}
	u.evictLocked(schema, facets)
	u.stats.Writes++
	return nil
}

// Execute runs op in u.
func (u *UnitOfWork) Execute(ctx context.Context, op Op) (any, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.openLocked(opName(op)); err != nil {
		return nil, err
	}
	return u.executeLocked(ctx, op)
}

func (u *UnitOfWork) executeLocked(ctx context.Context, op Op) (any, error) {
	switch o := op.(type) {
	case GetOp:
		return u.getLocked(ctx, o.Schema, o.Facets, o.Statement)
	case *GetOp:
		return u.getLocked(ctx, o.Schema, o.Facets, o.Statement)
	case QueryOp:
		return u.queryLocked(ctx, o.Schema, o.Statement)
	case *QueryOp:
		return u.queryLocked(ctx, o.Schema, o.Statement)
	case PutOp:
		return nil, u.putLocked(ctx, o.Schema, o.Entity, o.Statement)
	case *PutOp:
		return nil, u.putLocked(ctx, o.Schema, o.Entity, o.Statement)
	case DeleteOp:
		return nil, u.deleteLocked(ctx, o.Schema, o.Facets, o.Statement)
	case *DeleteOp:
		return nil, u.deleteLocked(ctx, o.Schema, o.Facets, o.Statement)
	default:
		return nil, errors.New(fmt.Sprintf("unsupported operation %T", op), errors.CategoryBadInput)
	}
}

// ExecuteAsync runs op on a new goroutine. The returned future fails with
// ErrResolved when u commits or aborts before op completes.
func (u *UnitOfWork) ExecuteAsync(ctx context.Context, op Op) (*Future, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.openLocked("async " + opName(op)); err != nil {
		return nil, err
	}

	f := newFuture()
	u.futures = append(u.futures, f)

	go func() {
		u.mu.Lock()
		defer u.mu.Unlock()

		if u.doneLocked() {
			f.resolve(nil, resolvedError(u))
			return
		}
		v, err := u.executeLocked(ctx, op)
		f.resolve(v, err)
		u.dropFutureLocked(f)
	}()
	return f, nil
}

func (u *UnitOfWork) dropFutureLocked(f *Future) {
	for i, existing := range u.futures {
		if existing == f {
			u.futures = append(u.futures[:i], u.futures[i+1:]...)
			return
		}
	}
}

func opName(op Op) string {
	switch op.(type) {
	case GetOp, *GetOp:
		return "get"
	case QueryOp, *QueryOp:
		return "query"
	case PutOp, *PutOp:
		return "put"
	case DeleteOp, *DeleteOp:
		return "delete"
	default:
		return fmt.Sprintf("%T", op)
	}
}
