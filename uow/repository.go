package uow

import (
	"context"
	"fmt"

	"github.com/goliatone/go-errors"

	"github.com/goliatone/go-facetcache/cache"
	"github.com/goliatone/go-facetcache/entity"
	"github.com/goliatone/go-facetcache/internal/errcode"
	"github.com/goliatone/go-facetcache/session"
)

// Repository is a typed facade running reads and writes of one schema
// through a unit of work.
type Repository[T any] struct {
	schema  *entity.Schema
	builder session.StatementBuilder
}

// NewRepository creates a repository over schema. A nil builder uses
// a builder for the sqlite3 dialect.
func NewRepository[T any](schema *entity.Schema, builder session.StatementBuilder) *Repository[T] {
	if builder == nil {
		builder = session.MustDialectBuilder("sqlite3")
	}
	return &Repository[T]{schema: schema, builder: builder}
}

// Schema returns the schema of the repository.
func (r *Repository[T]) Schema() *entity.Schema {
	return r.schema
}

// Get returns a copy of the entity matching preds. An entity the unit changed
// so it no longer matches is reported as not found. Changes to the copy take
// effect through Save.
func (r *Repository[T]) Get(ctx context.Context, u *UnitOfWork, preds entity.Predicates) (*T, error) {
	facets := r.schema.PredicateFacets(preds)
	v, err := u.Get(ctx, r.schema, facets, r.builder.Select(r.schema, preds))
	if err != nil {
		return nil, err
	}

	fields, err := r.schema.Fields(v)
	if err != nil {
		return nil, err
	}
	if !preds.Matches(fields) {
		return nil, cache.NewNotFound(r.schema.Name, facets)
	}
	return r.clone(v)
}

// List returns copies of every entity matching preds. Entities the unit changed so
// they no longer match are left out.
func (r *Repository[T]) List(ctx context.Context, u *UnitOfWork, preds entity.Predicates) ([]*T, error) {
	values, err := u.Query(ctx, r.schema, r.builder.Select(r.schema, preds))
	if err != nil {
		return nil, err
	}

	out := make([]*T, 0, len(values))
	for _, v := range values {
		fields, err := r.schema.Fields(v)
		if err != nil {
			return nil, err
		}
		if !preds.Matches(fields) {
			continue
		}
		t, err := r.clone(v)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Save upserts record.
func (r *Repository[T]) Save(ctx context.Context, u *UnitOfWork, record *T) error {
	fields, err := r.schema.Fields(record)
	if err != nil {
		return err
	}
	return u.Put(ctx, r.schema, record, r.builder.Upsert(r.schema, fields))
}

// Delete removes record by its primary key.
func (r *Repository[T]) Delete(ctx context.Context, u *UnitOfWork, record *T) error {
	fields, err := r.schema.Fields(record)
	if err != nil {
		return err
	}

	pk := r.schema.Primary()
	if pk == nil {
		return unaddressableError(r.schema.Name)
	}
	var preds entity.Predicates
	for _, m := range pk.Members() {
		v, ok := fields[m]
		if !ok {
			return unaddressableError(r.schema.Name)
		}
		preds = preds.And(m, v)
	}

	return u.Delete(ctx, r.schema, r.schema.FacetsOf(fields), r.builder.Delete(r.schema, preds))
}

func (r *Repository[T]) clone(v any) (*T, error) {
	cp, err := r.schema.Clone(v)
	if err != nil {
		return nil, err
	}
	return r.typed(cp)
}

func (r *Repository[T]) typed(v any) (*T, error) {
	switch t := v.(type) {
	case *T:
		return t, nil
	case T:
		return &t, nil
	default:
		var zero T
		return nil, errors.New(
			fmt.Sprintf("%s entity has type %T, want %T", r.schema.Name, v, zero),
			errors.CategoryInternal,
		).WithTextCode(errcode.Codec)
	}
}
