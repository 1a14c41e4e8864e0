package uow

import (
	"sync"

	"github.com/google/uuid"

	"github.com/goliatone/go-facetcache/batch"
	"github.com/goliatone/go-facetcache/cache"
	"github.com/goliatone/go-facetcache/entity"
	"github.com/goliatone/go-facetcache/facet"
	"github.com/goliatone/go-facetcache/logger"
	"github.com/goliatone/go-facetcache/metrics"
)

// Stats counts the work done by a unit of work and its committed children.
type Stats struct {
	Reads         int
	Writes        int
	LocalHits     int
	ParentHits    int
	ProcessHits   int
	DatabaseReads int
}

func (s *Stats) add(o Stats) {
	s.Reads += o.Reads
	s.Writes += o.Writes
	s.LocalHits += o.LocalHits
	s.ParentHits += o.ParentHits
	s.ProcessHits += o.ProcessHits
	s.DatabaseReads += o.DatabaseReads
}

// Result is the outcome of Commit.
type Result struct {
	Committed bool
	// Reason explains a commit that did not happen.
	Reason error
	// Batch describes the submitted batch of a committed root.
	Batch batch.Result
}

// UnitOfWork is a nested transactional scope with its own cache and its own
// queue of pending mutations. All units of one tree share a mutex; the
// parent pointer never changes after construction.
type UnitOfWork struct {
	id     uuid.UUID
	engine *Engine
	parent *UnitOfWork
	root   *UnitOfWork
	mu     *sync.Mutex
	log    logger.Logger

	scope        *scopeCache
	batch        *batch.Coordinator
	children     []*UnitOfWork
	commitThunks []func()
	abortThunks  []func()
	futures      []*Future

	committed bool
	aborted   bool
	stats     Stats
}

// ID returns the unit identifier.
func (u *UnitOfWork) ID() uuid.UUID { return u.id }

// Parent returns the enclosing unit of work, or nil for a root.
func (u *UnitOfWork) Parent() *UnitOfWork { return u.parent }

// IsRoot reports whether u has no parent.
func (u *UnitOfWork) IsRoot() bool { return u.parent == nil }

// IsDone reports whether u committed or aborted.
func (u *UnitOfWork) IsDone() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.doneLocked()
}

// IsCommitted reports whether u committed.
func (u *UnitOfWork) IsCommitted() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.committed
}

// IsAborted reports whether u aborted.
func (u *UnitOfWork) IsAborted() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.aborted
}

// Stats returns a snapshot of the counters.
func (u *UnitOfWork) Stats() Stats {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.stats
}

// Pending returns the number of queued mutations.
func (u *UnitOfWork) Pending() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.batch.Len()
}

func (u *UnitOfWork) doneLocked() bool {
	return u.committed || u.aborted
}

func (u *UnitOfWork) stateLocked() string {
	switch {
	case u.committed:
		return "committed"
	case u.aborted:
		return "aborted"
	default:
		return "open"
	}
}

// openLocked returns a done error, logged at error level, when u is done.
func (u *UnitOfWork) openLocked(op string) error {
	if !u.doneLocked() {
		return nil
	}
	err := doneError(u, op)
	u.log.Errorf("%v", err)
	return err
}

// Begin opens a unit of work nested in u.
func (u *UnitOfWork) Begin() (*UnitOfWork, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.openLocked("begin"); err != nil {
		return nil, err
	}
	child := u.engine.newUnit(u)
	u.children = append(u.children, child)
	u.log.Debugf("begin child %s", child.id)
	return child, nil
}

// OnCommit schedules fn to run after the root of u commits.
func (u *UnitOfWork) OnCommit(fn func()) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.openLocked("on commit"); err != nil {
		return err
	}
	u.commitThunks = append(u.commitThunks, fn)
	return nil
}

// OnAbort schedules fn to run when u, or an ancestor, aborts.
func (u *UnitOfWork) OnAbort(fn func()) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.openLocked("on abort"); err != nil {
		return err
	}
	u.abortThunks = append(u.abortThunks, fn)
	return nil
}

// Lookup searches the local scope, then each ancestor. An ancestor value is
// copied into the local scope.
func (u *UnitOfWork) Lookup(schema *entity.Schema, facets []facet.Facet) (cache.Entry, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.openLocked("lookup"); err != nil {
		return cache.Entry{}, false
	}
	return u.lookupLocked(schema, facets)
}

func (u *UnitOfWork) lookupLocked(schema *entity.Schema, facets []facet.Facet) (cache.Entry, bool) {
	refs := keyRefs(facets)
	if len(refs) == 0 {
		return cache.Entry{}, false
	}
	keys := keyStrings(refs)

	if sl, ok := u.scope.lookup(schema.Name, keys); ok {
		u.stats.LocalHits++
		u.observe(metrics.LayerLocal, sl)
		return entryOf(sl), true
	}

	for p := u.parent; p != nil; p = p.parent {
		sl, ok := p.scope.lookup(schema.Name, keys)
		if !ok {
			continue
		}
		u.stats.ParentHits++
		u.observe(metrics.LayerParent, sl)

		rs := u.scope.row(schema)
		if sl.tombstone != nil {
			rs.tombstone(refs, sl.tombstone)
			// copied tombstones are already known upward
			for _, r := range refs {
				rs.slots[r.key].dirty = false
			}
			return entryOf(sl), true
		}
		entry, err := u.adoptLocked(schema, facets, sl.cell.value)
		if err != nil {
			u.log.Warnf("copy %s from parent scope: %v", schema.Name, err)
			return cache.Entry{}, false
		}
		return entry, true
	}

	u.engine.metrics.Lookup(metrics.LayerLocal, metrics.ResultMiss)
	return cache.Entry{}, false
}

// adoptLocked stores a copy of value read from an outer layer under the keys
// of facets and the identity keys of the value. The state held by the unit
// or its nearest ancestor wins: a tombstone hides value, and a live value is
// merged over it. A merged value no longer addressed by facets is reported
// as a tombstone.
func (u *UnitOfWork) adoptLocked(schema *entity.Schema, facets []facet.Facet, value any) (cache.Entry, error) {
	own, err := schema.Facets(value)
	if err != nil {
		return cache.Entry{}, err
	}

	known, at := u.resolveLocked(schema, own)
	switch {
	case known == nil:
	case known.tombstone != nil:
		return entryOf(known), nil
	case at == u:
		value = known.cell.value
	default:
		if value, err = schema.Merge(value, known.cell.value); err != nil {
			return cache.Entry{}, err
		}
		if own, err = schema.Facets(value); err != nil {
			return cache.Entry{}, err
		}
	}

	if known != nil {
		ok, err := carries(schema, value, facets)
		if err != nil {
			return cache.Entry{}, err
		}
		if !ok {
			return cache.Entry{Tombstone: &cache.Tombstone{Facets: facets}}, nil
		}
		if at == u {
			return cache.Entry{Value: value}, nil
		}
	}

	cp, err := schema.Clone(value)
	if err != nil {
		return cache.Entry{}, err
	}

	var install []keyRef
	for _, r := range keyRefs(append(append([]facet.Facet(nil), facets...), own...)) {
		sl, _ := u.nearestLocked(schema.Name, r.key)
		if sl == nil || (known != nil && sl.cell == known.cell) {
			install = append(install, r)
		}
	}
	u.scope.row(schema).set(install, &cell{value: cp}, false)
	return cache.Entry{Value: cp}, nil
}

// resolveLocked returns the slot deciding the state of the entity addressed
// by own and the unit holding it, nearest first. In each scope the primary
// key decides. Without it a tombstone under another identity key decides, as
// does a live value under one when it belongs to the same entity.
func (u *UnitOfWork) resolveLocked(schema *entity.Schema, own []facet.Facet) (*slot, *UnitOfWork) {
	var primary, other []string
	for _, f := range own {
		switch {
		case f.Group() == schema.Primary():
			primary = append(primary, f.Keys()...)
		case f.Group().IsUnique():
			other = append(other, f.Keys()...)
		}
	}
	if len(primary)+len(other) == 0 {
		return nil, nil
	}

	for w := u; w != nil; w = w.parent {
		if sl, ok := w.scope.lookup(schema.Name, primary); ok {
			return sl, w
		}
		for _, k := range other {
			sl, ok := w.scope.lookup(schema.Name, []string{k})
			if !ok {
				continue
			}
			if sl.tombstone != nil || len(primary) == 0 || sameEntity(schema, sl.cell.value, primary) {
				return sl, w
			}
		}
	}
	return nil, nil
}

// nearestLocked returns the slot of key in u or its nearest ancestor.
func (u *UnitOfWork) nearestLocked(schemaName, key string) (*slot, *UnitOfWork) {
	for w := u; w != nil; w = w.parent {
		if rs, ok := w.scope.rows[schemaName]; ok {
			if sl, ok := rs.slots[key]; ok {
				return sl, w
			}
		}
	}
	return nil, nil
}

// sameEntity reports whether v is reachable under one of the primary keys.
func sameEntity(schema *entity.Schema, v any, primary []string) bool {
	facets, err := schema.Facets(v)
	if err != nil {
		return false
	}
	for _, f := range facets {
		if f.Group() != schema.Primary() {
			continue
		}
		for _, k := range f.Keys() {
			for _, p := range primary {
				if k == p {
					return true
				}
			}
		}
	}
	return false
}

// carries reports whether every facet still addresses v.
func carries(schema *entity.Schema, v any, facets []facet.Facet) (bool, error) {
	if len(facets) == 0 {
		return true, nil
	}
	fields, err := schema.Fields(v)
	if err != nil {
		return false, err
	}
	formatted := facet.FormatFields(fields)
	for _, f := range facets {
		if !f.Matches(formatted) {
			return false, nil
		}
	}
	return true, nil
}

// Evict tombstones the keys of facets and every sibling key of the entity
// they address.
func (u *UnitOfWork) Evict(schema *entity.Schema, facets []facet.Facet) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.openLocked("evict"); err != nil {
		return err
	}
	u.evictLocked(schema, facets)
	return nil
}

func (u *UnitOfWork) evictLocked(schema *entity.Schema, facets []facet.Facet) {
	refs := keyRefs(facets)
	if len(refs) == 0 {
		return
	}
	// pulls an ancestor copy in so its sibling keys are tombstoned too
	u.lookupLocked(schema, facets)

	u.scope.row(schema).tombstone(refs, &cache.Tombstone{Facets: facets})
	u.scope.forget(schema.Name)
}

func (u *UnitOfWork) observe(layer string, sl *slot) {
	if sl.tombstone != nil {
		u.engine.metrics.Lookup(layer, metrics.ResultTombstone)
		return
	}
	u.engine.metrics.Lookup(layer, metrics.ResultHit)
}

func entryOf(sl *slot) cache.Entry {
	if sl.tombstone != nil {
		return cache.Entry{Tombstone: sl.tombstone}
	}
	return cache.Entry{Value: sl.cell.value}
}
