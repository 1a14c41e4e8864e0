package cache

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-errors"

	"github.com/goliatone/go-facetcache/entity"
	"github.com/goliatone/go-facetcache/facet"
	"github.com/goliatone/go-facetcache/internal/cacheinfra"
	"github.com/goliatone/go-facetcache/internal/errcode"
)

// TextCodeNotFound is carried by errors reporting a missing entity.
const TextCodeNotFound = errcode.NotFound

// ErrNotFound can be returned by fetch functions to report a missing entity.
var ErrNotFound = errors.New("entity not found", errors.CategoryNotFound).WithTextCode(TextCodeNotFound)

// KeySerializer builds a store key from a schema name and key parts.
type KeySerializer interface {
	SerializeKey(schema string, parts ...any) string
}

// FetchFn loads a value that missed the cache.
type FetchFn = cacheinfra.FetchFn

// ProcessCache is the process wide cache shared by all units of work.
// Implementations are safe for concurrent use.
type ProcessCache interface {
	Get(ctx context.Context, schema *entity.Schema, facets []facet.Facet) (any, bool)
	Put(ctx context.Context, schema *entity.Schema, facets []facet.Facet, value any) error
	Invalidate(ctx context.Context, schema *entity.Schema, facets []facet.Facet) error
	InvalidateKeys(ctx context.Context, schemaName string, keys []string) error
	InvalidateSchema(ctx context.Context, schemaName string) error
	GetOrFetch(ctx context.Context, schema *entity.Schema, facets []facet.Facet, fetch FetchFn) (any, error)
	Size() int
}

var _ ProcessCache = (*cacheinfra.ProcessCache)(nil)

// Tombstone marks keys whose entity was deleted in a unit of work.
type Tombstone struct {
	Facets []facet.Facet
}

func (t *Tombstone) String() string {
	return "tombstone" + fmt.Sprint(facet.KeyValues(t.Facets...))
}

// Entry is either a live value or a tombstone.
type Entry struct {
	Value     any
	Tombstone *Tombstone
}

// IsTombstone reports whether the entry marks a deletion.
func (e Entry) IsTombstone() bool {
	return e.Tombstone != nil
}

// NewNotFound returns a not found error naming the schema and keys searched.
func NewNotFound(schema string, facets []facet.Facet) error {
	return errors.New(
		fmt.Sprintf("no %s entity under %s", schema, strings.Join(facet.KeyValues(facets...), ", ")),
		errors.CategoryNotFound,
	).WithTextCode(TextCodeNotFound)
}

// IsNotFound reports whether err reports a missing entity.
func IsNotFound(err error) bool {
	return errcode.Has(err, TextCodeNotFound)
}

// GetOrFetch is a type-safe wrapper around ProcessCache.GetOrFetch.
func GetOrFetch[T any](ctx context.Context, pc ProcessCache, schema *entity.Schema, facets []facet.Facet, fetch func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	result, err := pc.GetOrFetch(ctx, schema, facets, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	})
	if err != nil {
		return zero, err
	}
	if result == nil {
		return zero, nil
	}

	typed, ok := result.(T)
	if !ok {
		return zero, errors.New(
			fmt.Sprintf("cached %s value has type %T, want %T", schema.Name, result, zero),
			errors.CategoryInternal,
		).WithTextCode(errcode.Codec)
	}
	return typed, nil
}
