// Package uow implements nested units of work over a process cache and a
// database session.
//
// # Overview
//
// An Engine opens root units of work. Each unit owns a private scope cache,
// a queue of pending mutations and a list of nested children. Reads walk
// the layers in order:
//
//  1. the local scope of the unit
//  2. the scopes of its ancestors, nearest first
//  3. the process cache shared by every unit
//  4. the database, through the statement of the read
//
// A value found in an ancestor or in the process cache is copied into the
// local scope, so changing it never affects the layer it came from.
//
// # Writes
//
// Put and Delete queue their statement and update the local scope only.
// Nothing reaches the database until the root commits:
//
//	u := engine.Begin()
//	defer u.Close()
//
//	if err := u.Put(ctx, users, user, builder.Upsert(users, fields)); err != nil {
//		return err
//	}
//	res, err := u.Commit(ctx)
//
// An entity is reachable under every bound identity group of its schema,
// for example the primary key and a unique email. Deleting it under one key
// tombstones all of them.
//
// # Commit and abort
//
// Committing a child merges its scope, batch and counters into its parent.
// Committing a root submits one batch stamped with a single timestamp, then
// merges the scope into the process cache and runs the commit callbacks of
// the whole tree in post-order. A unit with an open or aborted descendant
// does not commit: it aborts and reports a conflict in Result.Reason.
//
// Abort is idempotent and discards the unit and its open descendants.
// Close aborts a unit that is not done, which makes it suitable for defer.
//
// Operations on a done unit fail with an error matched by IsDone. Futures
// from ExecuteAsync still outstanding when their unit resolves fail with an
// error matched by IsResolved.
//
// # Concurrency
//
// All units of one tree share a mutex, so the operations of a tree are
// serialized, including those started with ExecuteAsync. Separate roots run
// independently and only share the process cache. Concurrent writers to the
// same entity in different roots are not detected.
package uow
