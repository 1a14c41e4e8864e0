package uow

import (
	"github.com/goliatone/go-facetcache/cache"
	"github.com/goliatone/go-facetcache/entity"
	"github.com/goliatone/go-facetcache/facet"
)

// cell is one cached value. Every key the value is reachable under points at
// the same cell, which is how sibling keys are found on eviction.
type cell struct {
	value any
}

// slot is the state of one column key in a row scope.
type slot struct {
	cell      *cell
	tombstone *cache.Tombstone
	// identity slots come from unique groups; the others (wildcard keys)
	// are dropped instead of tombstoned when their cell goes away.
	identity bool
	dirty    bool
}

// rowScope holds the column keys of one schema.
type rowScope struct {
	schema *entity.Schema
	slots  map[string]*slot
}

// scopeCache is the private cache of one unit of work.
type scopeCache struct {
	rows map[string]*rowScope
	// memo maps schema name to statement key to decoded rows.
	memo map[string]map[string][]any
}

func newScopeCache() *scopeCache {
	return &scopeCache{
		rows: make(map[string]*rowScope),
		memo: make(map[string]map[string][]any),
	}
}

func (s *scopeCache) row(schema *entity.Schema) *rowScope {
	rs, ok := s.rows[schema.Name]
	if !ok {
		rs = &rowScope{schema: schema, slots: make(map[string]*slot)}
		s.rows[schema.Name] = rs
	}
	return rs
}

// lookup returns the first slot hit by keys.
func (s *scopeCache) lookup(schemaName string, keys []string) (*slot, bool) {
	rs, ok := s.rows[schemaName]
	if !ok {
		return nil, false
	}
	for _, k := range keys {
		if sl, ok := rs.slots[k]; ok {
			return sl, true
		}
	}
	return nil, false
}

func (s *scopeCache) memoized(schemaName, key string) ([]any, bool) {
	rows, ok := s.memo[schemaName][key]
	return rows, ok
}

func (s *scopeCache) memoize(schemaName, key string, values []any) {
	m, ok := s.memo[schemaName]
	if !ok {
		m = make(map[string][]any)
		s.memo[schemaName] = m
	}
	m[key] = values
}

func (s *scopeCache) forget(schemaName string) {
	delete(s.memo, schemaName)
}

// set points keys at c. Cells that lose a key are retired from the keys
// that still point at them.
func (rs *rowScope) set(keys []keyRef, c *cell, dirty bool) {
	replaced := make(map[*cell]struct{})
	for _, k := range keys {
		if old, ok := rs.slots[k.key]; ok && old.cell != nil && old.cell != c {
			replaced[old.cell] = struct{}{}
		}
		rs.slots[k.key] = &slot{cell: c, identity: k.identity, dirty: dirty}
	}
	for old := range replaced {
		rs.retire(old, &cache.Tombstone{})
	}
}

// tombstone marks keys deleted, then does the same for every other key
// pointing at the cells those keys held.
func (rs *rowScope) tombstone(keys []keyRef, t *cache.Tombstone) {
	cells := make(map[*cell]struct{})
	for _, k := range keys {
		if old, ok := rs.slots[k.key]; ok && old.cell != nil {
			cells[old.cell] = struct{}{}
		}
		rs.slots[k.key] = &slot{tombstone: t, identity: k.identity, dirty: true}
	}
	for c := range cells {
		rs.retire(c, t)
	}
}

// retire removes c from every key still pointing at it: identity keys become
// tombstones, other keys are dropped.
func (rs *rowScope) retire(c *cell, t *cache.Tombstone) {
	for key, sl := range rs.slots {
		if sl.cell != c {
			continue
		}
		if !sl.identity {
			delete(rs.slots, key)
			continue
		}
		rs.slots[key] = &slot{tombstone: t, identity: true, dirty: true}
	}
}

// keyRef is a flattened key and whether it addresses a unique group.
type keyRef struct {
	key      string
	identity bool
}

func keyRefs(facets []facet.Facet) []keyRef {
	seen := make(map[string]struct{})
	var out []keyRef
	for _, f := range facets {
		identity := f.Group() != nil && f.Group().IsUnique()
		for _, k := range f.Keys() {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, keyRef{key: k, identity: identity})
		}
	}
	return out
}

func keyStrings(refs []keyRef) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.key
	}
	return out
}
