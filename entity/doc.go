// Package entity describes the tables the cache fronts.
//
// A Schema names a table, lists its columns in declaration order and
// registers the identity groups under which one entity is addressed: the
// primary key first, then every unique secondary lookup. The Codec converts
// entities to a Fields map and back; NewMsgpackCodec does it through msgpack
// struct tags so that zero fields tagged omitempty read as "not present".
//
// Merge and Clone are the two value operations the caches need. Merge keeps
// the fields of the previous value that the next value does not carry, which
// lets partial writes coexist with fully loaded rows. Clone copies a value so
// one scope cannot mutate what another scope cached.
package entity
