package uow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-facetcache/cache"
	"github.com/goliatone/go-facetcache/entity"
	"github.com/goliatone/go-facetcache/pkg/testsupport"
	"github.com/goliatone/go-facetcache/session"
)

func TestGet_ReadsThroughLayers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	stmt := h.selectBy("email", "a@x")
	h.sess.SetRows(stmt, session.Row{"id": 1, "email": "a@x", "name": "Ada"})

	u := h.engine.Begin()
	defer u.Close()

	v, err := u.Get(ctx, h.users, h.byEmail("a@x"), stmt)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if user := v.(*User); user.ID != 1 || user.Name != "Ada" {
		t.Errorf("Get() = %+v", user)
	}
	if h.sess.Reads() != 1 {
		t.Fatalf("Reads() = %d, want 1", h.sess.Reads())
	}

	// stored locally under the identity keys of the row
	if got, ok := lookupUser(t, u, h.users, h.byID(1)); !ok || got == nil {
		t.Error("row not reachable by primary key in the unit")
	}
	// and in the process cache
	if _, ok := h.pc.Get(ctx, h.users, h.byID(1)); !ok {
		t.Error("row not stored in the process cache")
	}

	other := h.engine.Begin()
	defer other.Close()
	if _, err := other.Get(ctx, h.users, h.byID(1), h.selectBy("id", 1)); err != nil {
		t.Fatalf("second unit Get() error = %v", err)
	}
	if h.sess.Reads() != 1 {
		t.Errorf("second unit reached the database")
	}
}

func TestGet_MissingEntity(t *testing.T) {
	h := newHarness(t)
	u := h.engine.Begin()
	defer u.Close()

	_, err := u.Get(context.Background(), h.users, h.byID(42), h.selectBy("id", 42))
	if !cache.IsNotFound(err) {
		t.Fatalf("Get() error = %v, want not found", err)
	}
	if _, ok := u.Lookup(h.users, h.byID(42)); ok {
		t.Error("a miss must not be cached in the unit")
	}
}

func TestGet_TransportError(t *testing.T) {
	h := newHarness(t)
	h.sess.ExecuteErr = errors.New("timeout")

	u := h.engine.Begin()
	defer u.Close()

	_, err := u.Get(context.Background(), h.users, h.byID(1), h.selectBy("id", 1))
	if !session.IsTransport(err) {
		t.Errorf("Get() error = %v, want transport", err)
	}
}

func TestGet_PredicateReadPrefersLocalWrite(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	preds := entity.Where("name", "Ada")
	stmt := h.builder.Select(h.users, preds)
	h.sess.SetRows(stmt, session.Row{"id": 1, "email": "a@x", "name": "Ada"})

	u := h.engine.Begin()
	defer u.Close()

	h.put(t, u, &User{ID: 1, Email: "a@x", Name: "Ada"})
	h.remove(t, u, 1)

	_, err := u.Get(ctx, h.users, h.users.PredicateFacets(preds), stmt)
	if !cache.IsNotFound(err) {
		t.Errorf("Get() of a locally deleted row error = %v, want not found", err)
	}
}

func TestQuery_MemoizesPerStatement(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	stmt := h.builder.Select(h.users, nil)
	h.sess.SetRows(stmt,
		session.Row{"id": 1, "email": "a@x"},
		session.Row{"id": 2, "email": "b@x"},
	)

	u := h.engine.Begin()
	defer u.Close()

	for i := 0; i < 2; i++ {
		values, err := u.Query(ctx, h.users, stmt)
		if err != nil {
			t.Fatalf("Query() error = %v", err)
		}
		if len(values) != 2 {
			t.Fatalf("Query() returned %d values", len(values))
		}
	}
	if h.sess.Reads() != 1 {
		t.Errorf("Reads() = %d, want 1", h.sess.Reads())
	}

	h.put(t, u, &User{ID: 1, Name: "Ada"})
	h.remove(t, u, 2)

	values, err := u.Query(ctx, h.users, stmt)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if h.sess.Reads() != 2 {
		t.Errorf("write did not clear the memo, Reads() = %d", h.sess.Reads())
	}
	if len(values) != 1 {
		t.Fatalf("deleted row still listed: %v", values)
	}
	if user := values[0].(*User); user.Name != "Ada" || user.Email != "a@x" {
		t.Errorf("listed row = %+v, want the local write", user)
	}
}

func TestQuery_MemoNotVisibleToParent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	stmt := h.builder.Select(h.users, nil)
	h.sess.SetRows(stmt, session.Row{"id": 1})

	root := h.engine.Begin()
	defer root.Close()
	child := mustBegin(t, root)

	if _, err := child.Query(ctx, h.users, stmt); err != nil {
		t.Fatal(err)
	}
	mustCommit(t, child)

	if _, err := root.Query(ctx, h.users, stmt); err != nil {
		t.Fatal(err)
	}
	if h.sess.Reads() != 2 {
		t.Errorf("Reads() = %d, want 2", h.sess.Reads())
	}
}

func TestExecute_Dispatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	u := h.engine.Begin()
	defer u.Close()

	user := &User{ID: 3, Email: "c@x"}
	fields, _ := h.users.Fields(user)

	if _, err := u.Execute(ctx, PutOp{Schema: h.users, Entity: user, Statement: h.builder.Upsert(h.users, fields)}); err != nil {
		t.Fatalf("PutOp error = %v", err)
	}
	v, err := u.Execute(ctx, &GetOp{Schema: h.users, Facets: h.byEmail("c@x")})
	if err != nil || v.(*User).ID != 3 {
		t.Fatalf("GetOp = %v, %v", v, err)
	}
	if _, err := u.Execute(ctx, DeleteOp{Schema: h.users, Facets: h.byID(3), Statement: h.builder.Delete(h.users, entity.Where("id", 3))}); err != nil {
		t.Fatalf("DeleteOp error = %v", err)
	}
	values, err := u.Execute(ctx, QueryOp{Schema: h.users, Statement: h.builder.Select(h.users, nil)})
	if err != nil || len(values.([]any)) != 0 {
		t.Fatalf("QueryOp = %v, %v", values, err)
	}
	if u.Pending() != 2 {
		t.Errorf("Pending() = %d, want 2", u.Pending())
	}
}

func TestExecuteAsync_Resolves(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	u := h.engine.Begin()
	defer u.Close()

	h.put(t, u, &User{ID: 1, Email: "a@x"})

	f, err := u.ExecuteAsync(ctx, GetOp{Schema: h.users, Facets: h.byID(1)})
	if err != nil {
		t.Fatalf("ExecuteAsync() error = %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	v, err := f.Wait(waitCtx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if v.(*User).Email != "a@x" {
		t.Errorf("Wait() = %+v", v)
	}
	select {
	case <-f.Done():
	default:
		t.Error("Done() not closed after Wait")
	}
}

func TestExecuteAsync_OutstandingFutureFailsOnResolve(t *testing.T) {
	tests := []struct {
		name    string
		resolve func(u *UnitOfWork)
	}{
		{"abort", func(u *UnitOfWork) { u.Abort() }},
		{"commit", func(u *UnitOfWork) { u.Commit(context.Background()) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			u := h.engine.Begin()

			f := newFuture()
			u.mu.Lock()
			u.futures = append(u.futures, f)
			u.mu.Unlock()

			tt.resolve(u)

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_, err := f.Wait(ctx)
			if !IsResolved(err) {
				t.Errorf("Wait() error = %v, want resolved", err)
			}
			if session.IsTransport(err) {
				t.Error("resolved failure must be distinguishable from transport errors")
			}
		})
	}
}

func TestExecuteAsync_AfterDone(t *testing.T) {
	h := newHarness(t)
	u := h.engine.Begin()
	u.Abort()

	if _, err := u.ExecuteAsync(context.Background(), GetOp{Schema: h.users, Facets: h.byID(1)}); !IsDone(err) {
		t.Errorf("ExecuteAsync() error = %v, want done", err)
	}
}

func TestFuture_WaitHonorsContext(t *testing.T) {
	f := newFuture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() error = %v", err)
	}
	if !f.resolve(1, nil) || f.resolve(2, nil) {
		t.Error("only the first resolve should settle the future")
	}
	v, _ := f.Wait(context.Background())
	if v != 1 {
		t.Errorf("Wait() = %v, want 1", v)
	}
}

func TestQuery_RowsReachableByEveryIdentity(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	stmt := h.builder.Select(h.users, nil)
	h.sess.SetRows(stmt, testsupport.LoadRows(t, testsupport.FixturePath("users.json"))...)

	u := h.engine.Begin()
	defer u.Close()

	values, err := u.Query(ctx, h.users, stmt)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(values) != 3 {
		t.Fatalf("Query() returned %d values", len(values))
	}

	for _, email := range []string{"ada@example.com", "grace@example.com", "alan@example.com"} {
		v, err := u.Get(ctx, h.users, h.byEmail(email), h.selectBy("email", email))
		if err != nil {
			t.Errorf("Get(%s) error = %v", email, err)
			continue
		}
		if v.(*User).Email != email {
			t.Errorf("Get(%s) = %+v", email, v)
		}
	}
	if h.sess.Reads() != 1 {
		t.Errorf("Reads() = %d, want 1", h.sess.Reads())
	}
}

func TestChildReads_ParentDeleteHidesRows(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	all := h.builder.Select(h.users, nil)
	h.sess.SetRows(all,
		session.Row{"id": 1, "email": "a@x", "name": "Ada"},
		session.Row{"id": 2, "email": "b@x", "name": "Bob"},
	)
	h.sess.SetRows(h.selectBy("id", 2), session.Row{"id": 2, "email": "b@x", "name": "Bob"})
	h.sess.SetRows(h.selectBy("email", "b@x"), session.Row{"id": 2, "email": "b@x", "name": "Bob"})

	root := h.engine.Begin()
	defer root.Close()
	h.remove(t, root, 2)

	child := mustBegin(t, root)
	values, err := child.Query(ctx, h.users, all)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(values) != 1 || values[0].(*User).ID != 1 {
		t.Fatalf("Query() = %+v, want only the row the parent kept", values)
	}

	if v, err := child.Get(ctx, h.users, h.byID(2), h.selectBy("id", 2)); !cache.IsNotFound(err) {
		t.Errorf("Get(id=2) = %+v, %v, want not found", v, err)
	}
	// the parent never saw the email, the primary key tombstone still wins
	if v, err := child.Get(ctx, h.users, h.byEmail("b@x"), h.selectBy("email", "b@x")); !cache.IsNotFound(err) {
		t.Errorf("Get(email=b@x) = %+v, %v, want not found", v, err)
	}
}

func TestChildReads_ParentUpdateWins(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	row := session.Row{"id": 1, "email": "a@x", "name": "Old"}
	all := h.builder.Select(h.users, nil)
	byOldName := h.builder.Select(h.users, entity.Where("name", "Old"))
	h.sess.SetRows(all, row)
	h.sess.SetRows(byOldName, row)
	h.sess.SetRows(h.selectBy("email", "a@x"), row)

	root := h.engine.Begin()
	defer root.Close()
	h.put(t, root, &User{ID: 1, Name: "New"})

	child := mustBegin(t, root)

	oldName := h.users.PredicateFacets(entity.Where("name", "Old"))
	if v, err := child.Get(ctx, h.users, oldName, byOldName); !cache.IsNotFound(err) {
		t.Errorf("Get(name=Old) = %+v, %v, want not found", v, err)
	}

	values, err := child.Query(ctx, h.users, all)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(values) != 1 {
		t.Fatalf("Query() returned %d values", len(values))
	}
	if u := values[0].(*User); u.Name != "New" || u.Email != "a@x" {
		t.Errorf("Query() = %+v, want the parent write over the stored row", u)
	}

	v, err := child.Get(ctx, h.users, h.byEmail("a@x"), h.selectBy("email", "a@x"))
	if err != nil {
		t.Fatalf("Get(email=a@x) error = %v", err)
	}
	if u := v.(*User); u.Name != "New" {
		t.Errorf("Get(email=a@x) = %+v, want the parent write", u)
	}

	if got, ok := lookupUser(t, root, h.users, h.byID(1)); !ok || got.Email != "" {
		t.Errorf("child read leaked into the parent: %+v", got)
	}
}
