package uow

import (
	"context"

	"github.com/goliatone/go-facetcache/cache"
	"github.com/goliatone/go-facetcache/metrics"
)

// Commit resolves u. A done unit reports ErrDone as the reason. A unit with
// a descendant that is open or aborted aborts instead and reports a
// conflict; neither case returns an error. A root then submits its batch;
// a transport failure or a batch the database did not apply aborts the unit
// and is returned. A committed root merges its scope into the process cache
// and runs the commit callbacks of its whole tree; a committed child merges
// its scope, batch and counters into its parent.
func (u *UnitOfWork) Commit(ctx context.Context) (Result, error) {
	u.mu.Lock()

	if u.doneLocked() {
		err := doneError(u, "commit")
		u.mu.Unlock()
		u.log.Errorf("%v", err)
		u.engine.metrics.Resolved(metrics.OutcomeDone)
		return Result{Reason: err}, nil
	}

	if offender := u.unresolvedDescendantLocked(); offender != nil {
		reason := conflictError(u, offender)
		thunks := u.abortLocked()
		u.mu.Unlock()

		u.log.Warnf("%v", reason)
		u.engine.metrics.Resolved(metrics.OutcomeConflict)
		u.finish(thunks)
		return Result{Reason: reason}, nil
	}

	if u.parent != nil {
		u.committed = true
		u.failFuturesLocked()
		u.mergeIntoParentLocked()
		u.mu.Unlock()

		u.log.Debugf("committed into parent %s", u.parent.id)
		u.engine.metrics.Resolved(metrics.OutcomeCommitted)
		return Result{Committed: true}, nil
	}

	res, err := u.batch.Execute(ctx, u.engine.session)
	if err != nil {
		thunks := u.abortLocked()
		u.mu.Unlock()

		u.log.Warnf("commit failed: %v", err)
		u.engine.metrics.Resolved(metrics.OutcomeFailed)
		u.finish(thunks)
		return Result{Reason: err, Batch: res}, err
	}
	u.engine.metrics.Batch(res.Statements)

	u.committed = true
	u.failFuturesLocked()
	u.flushLocked(ctx)
	thunks := u.commitThunksLocked()
	u.mu.Unlock()

	u.log.Debugf("committed %d statements", res.Statements)
	u.engine.metrics.Resolved(metrics.OutcomeCommitted)
	u.finish(thunks)
	return Result{Committed: true, Batch: res}, nil
}

// Abort discards u and every open descendant. It is idempotent and does
// nothing on a committed unit.
func (u *UnitOfWork) Abort() {
	u.mu.Lock()
	if u.doneLocked() {
		u.mu.Unlock()
		return
	}
	thunks := u.abortLocked()
	u.mu.Unlock()

	u.log.Debugf("aborted")
	u.engine.metrics.Resolved(metrics.OutcomeAborted)
	u.finish(thunks)
}

// Close aborts u unless it is already done. Use it with defer.
func (u *UnitOfWork) Close() {
	u.Abort()
}

func (u *UnitOfWork) finish(thunks []func()) {
	for _, fn := range thunks {
		fn()
	}
	u.engine.release(u)
}

// unresolvedDescendantLocked returns the first descendant, in post-order,
// that is not committed.
func (u *UnitOfWork) unresolvedDescendantLocked() *UnitOfWork {
	for _, c := range u.children {
		if offender := c.unresolvedDescendantLocked(); offender != nil {
			return offender
		}
		if !c.committed || c.aborted {
			return c
		}
	}
	return nil
}

// abortLocked marks u aborted together with its open descendants, fails
// their futures and returns the abort callbacks of the subtree in
// post-order. Every callback of the subtree is cleared.
func (u *UnitOfWork) abortLocked() []func() {
	var thunks []func()
	u.walkLocked(func(n *UnitOfWork) {
		if !n.doneLocked() {
			n.aborted = true
		}
		n.failFuturesLocked()
		thunks = append(thunks, n.abortThunks...)
		n.abortThunks = nil
		n.commitThunks = nil
	})
	return thunks
}

// commitThunksLocked returns the commit callbacks of the subtree in
// post-order and clears every callback.
func (u *UnitOfWork) commitThunksLocked() []func() {
	var thunks []func()
	u.walkLocked(func(n *UnitOfWork) {
		thunks = append(thunks, n.commitThunks...)
		n.commitThunks = nil
		n.abortThunks = nil
	})
	return thunks
}

// walkLocked visits the subtree rooted at u in post-order.
func (u *UnitOfWork) walkLocked(fn func(*UnitOfWork)) {
	for _, c := range u.children {
		c.walkLocked(fn)
	}
	fn(u)
}

func (u *UnitOfWork) failFuturesLocked() {
	for _, f := range u.futures {
		if f.resolve(nil, resolvedError(u)) {
			u.log.Debugf("failed outstanding future")
		}
	}
	u.futures = nil
}

// mergeIntoParentLocked hands the written state of u to its parent. Parent
// keys pointing at replaced values are retired.
func (u *UnitOfWork) mergeIntoParentLocked() {
	p := u.parent
	for name, rs := range u.scope.rows {
		prs := p.scope.row(rs.schema)

		tombs := make(map[*cache.Tombstone][]keyRef)
		lives := make(map[*cell][]keyRef)
		var tombOrder []*cache.Tombstone
		var liveOrder []*cell
		for key, sl := range rs.slots {
			if !sl.dirty {
				continue
			}
			ref := keyRef{key: key, identity: sl.identity}
			if sl.tombstone != nil {
				if _, ok := tombs[sl.tombstone]; !ok {
					tombOrder = append(tombOrder, sl.tombstone)
				}
				tombs[sl.tombstone] = append(tombs[sl.tombstone], ref)
				continue
			}
			if _, ok := lives[sl.cell]; !ok {
				liveOrder = append(liveOrder, sl.cell)
			}
			lives[sl.cell] = append(lives[sl.cell], ref)
		}
		if len(tombOrder) == 0 && len(liveOrder) == 0 {
			continue
		}

		for _, t := range tombOrder {
			prs.tombstone(tombs[t], t)
		}
		for _, c := range liveOrder {
			prs.set(lives[c], c, true)
		}
		p.scope.forget(name)
	}

	p.batch.AddAll(u.batch)
	p.stats.add(u.stats)
}

// flushLocked merges the written state of a committed root into the process
// cache: tombstones invalidate, live values are merged in.
func (u *UnitOfWork) flushLocked(ctx context.Context) {
	pc := u.engine.cache
	invalidated := 0

	for _, rs := range u.scope.rows {
		schema := rs.schema

		var stale []string
		seenTombs := make(map[*cache.Tombstone]struct{})
		seenCells := make(map[*cell]struct{})
		var live []*cell

		for key, sl := range rs.slots {
			if !sl.dirty {
				continue
			}
			if sl.tombstone != nil {
				stale = append(stale, key)
				if _, ok := seenTombs[sl.tombstone]; ok || len(sl.tombstone.Facets) == 0 {
					continue
				}
				seenTombs[sl.tombstone] = struct{}{}
				if err := pc.Invalidate(ctx, schema, sl.tombstone.Facets); err != nil {
					u.log.Warnf("invalidate %s: %v", schema.Name, err)
				}
				continue
			}
			if _, ok := seenCells[sl.cell]; !ok {
				seenCells[sl.cell] = struct{}{}
				live = append(live, sl.cell)
			}
		}

		if len(stale) > 0 {
			if err := pc.InvalidateKeys(ctx, schema.Name, stale); err != nil {
				u.log.Warnf("invalidate %s keys: %v", schema.Name, err)
			}
			invalidated += len(stale)
		}

		for _, c := range live {
			v, err := schema.Clone(c.value)
			if err != nil {
				u.log.Warnf("copy %s for process cache: %v", schema.Name, err)
				continue
			}
			if err := pc.Put(ctx, schema, nil, v); err != nil {
				u.log.Warnf("merge %s into process cache: %v", schema.Name, err)
			}
		}
	}

	u.engine.metrics.Invalidation(invalidated)
}
