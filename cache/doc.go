// Package cache defines the process wide cache shared by every unit of work
// and the entries both cache tiers hold.
//
// # Overview
//
// The package exports:
//
//   - ProcessCache: the bounded, expiring store of live entity values
//   - Entry and Tombstone: the union held by unit of work scopes
//   - KeySerializer: builds store keys from a schema name and a flattened facet key
//   - Config: the process cache settings, backed by sturdyc
//
// # Basic Usage
//
//	pc, err := cache.NewProcessCache(cache.DefaultConfig())
//	if err != nil {
//		return err
//	}
//
//	facets, _ := users.Facets(&User{ID: 1, Email: "a@x"})
//	_ = pc.Put(ctx, users, facets, &User{ID: 1, Email: "a@x"})
//
//	byEmail := users.IdentityFacets(entity.Where("email", "a@x"))
//	v, ok := pc.Get(ctx, users, byEmail)
//
// # Merge on Put
//
// Put never overwrites blindly. When any flattened key of the value already
// holds an entity, the two are merged field by field through the schema, so a
// partial write does not erase the columns it did not carry. The merged value
// is stored under every identity key of the entity.
//
// # Invalidation
//
// The process cache never remembers deletions. Invalidate deletes the given
// keys and every other identity key of the values they pointed at; the next
// read falls through to the database. Tombstones only live in unit of work
// scopes until their root commits.
//
// # Key Format
//
// Store keys are "<schema>::<member==value&&...>", see KeySeparator.
//
// # Expiry
//
// Keys expire Expiry.TTL after their last write; reads never extend it. A full
// shard evicts Expiry.Percent of its keys, those closest to expiry first, so
// the least recently written go before their TTL.
//
// Values stored under a wildcard or other non identity key are tracked as
// aliases of the identity keys of the entity. Invalidating the entity, or
// storing a changed version of it, deletes the aliases too.
package cache
