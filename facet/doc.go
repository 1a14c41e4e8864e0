// Package facet models the lookup identity of an entity as groups of partial keys.
//
// # Overview
//
// An entity can be reached through several independent lookup paths: its primary
// key, each unique secondary column, or an arbitrary set of filter predicates seen
// at query time. Each path is a Group. A Group lists its members in declaration
// order and may carry fixed members whose value is known when the group is built
// (for example a partition derived from the table name).
//
// A Binder collects values for the variable members of a group:
//
//	byEmail := facet.NewGroup("users", "email", "email").AsUnique()
//	b := byEmail.Binder()
//	_ = b.Bind("email", "a@x")
//	f, ok := b.Build() // ok is false while any member is unbound
//
// Building an under-specified binder is expected for predicates that do not
// cover a lookup path; Build reports it through its boolean result.
//
// # Flattening
//
// A bound Facet flattens into one or more key strings. Each key is the
// concatenation of "member==value" pairs in declaration order joined by "&&".
// Binding several values to one member (an IN predicate) yields the Cartesian
// product of keys. The same logical key always flattens to the same string, no
// matter which code path produced the facet.
//
//	facet.Flatten(f) // [{Schema: users, Value: email==a@x}]
//
// # Wildcard groups
//
// NewWildcard builds a group that accepts any member. It represents the set of
// predicates of a query; its members are ordered by the declared column order of
// the schema so that the same predicates always produce the same key.
//
// # Value formatting
//
// FormatValue turns entity field values into the strings used in keys. It handles
// basic kinds, pointers, slices, arrays, maps with sorted keys, structs, byte
// slices and text marshalers, and falls back to JSON for anything else.
package facet
