package uow

import (
	"context"
	"testing"

	"github.com/goliatone/go-facetcache/cache"
	"github.com/goliatone/go-facetcache/entity"
	"github.com/goliatone/go-facetcache/facet"
	"github.com/goliatone/go-facetcache/pkg/testsupport"
	"github.com/goliatone/go-facetcache/session"
)

type User struct {
	ID    int64  `msgpack:"id"`
	Email string `msgpack:"email,omitempty"`
	Name  string `msgpack:"name,omitempty"`
}

type harness struct {
	engine  *Engine
	sess    *testsupport.MemorySession
	pc      cache.ProcessCache
	users   *entity.Schema
	builder session.TableBuilder
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	pc, err := cache.NewProcessCache(cache.DefaultConfig())
	if err != nil {
		t.Fatalf("NewProcessCache() error = %v", err)
	}
	sess := testsupport.NewMemorySession()
	return &harness{
		engine:  NewEngine(pc, sess, opts...),
		sess:    sess,
		pc:      pc,
		users:   entity.SchemaFor[User]("id").WithUnique("email", "email"),
		builder: session.MustDialectBuilder("sqlite3"),
	}
}

func (h *harness) byID(id int64) []facet.Facet {
	return h.users.IdentityFacets(entity.Where("id", id))
}

func (h *harness) byEmail(email string) []facet.Facet {
	return h.users.IdentityFacets(entity.Where("email", email))
}

func (h *harness) selectBy(column string, value any) session.Statement {
	return h.builder.Select(h.users, entity.Where(column, value))
}

func (h *harness) put(t *testing.T, u *UnitOfWork, user *User) {
	t.Helper()

	fields, err := h.users.Fields(user)
	if err != nil {
		t.Fatalf("Fields() error = %v", err)
	}
	if err := u.Put(context.Background(), h.users, user, h.builder.Upsert(h.users, fields)); err != nil {
		t.Fatalf("Put(%+v) error = %v", user, err)
	}
}

func (h *harness) remove(t *testing.T, u *UnitOfWork, id int64) {
	t.Helper()

	stmt := h.builder.Delete(h.users, entity.Where("id", id))
	if err := u.Delete(context.Background(), h.users, h.byID(id), stmt); err != nil {
		t.Fatalf("Delete(%d) error = %v", id, err)
	}
}

// lookupUser returns the live user found by Lookup, or nil.
func lookupUser(t *testing.T, u *UnitOfWork, schema *entity.Schema, facets []facet.Facet) (*User, bool) {
	t.Helper()

	entry, ok := u.Lookup(schema, facets)
	if !ok {
		return nil, false
	}
	if entry.IsTombstone() {
		return nil, true
	}
	user, isUser := entry.Value.(*User)
	if !isUser {
		t.Fatalf("cached value has type %T", entry.Value)
	}
	return user, true
}

func mustCommit(t *testing.T, u *UnitOfWork) Result {
	t.Helper()

	res, err := u.Commit(context.Background())
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if !res.Committed {
		t.Fatalf("Commit() not committed: %v", res.Reason)
	}
	return res
}

func mustBegin(t *testing.T, u *UnitOfWork) *UnitOfWork {
	t.Helper()

	child, err := u.Begin()
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	return child
}
