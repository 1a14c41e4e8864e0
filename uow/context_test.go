package uow

import (
	"context"
	"testing"
)

func TestContext_RoundTrip(t *testing.T) {
	h := newHarness(t)
	u := h.engine.Begin()
	defer u.Close()

	if _, ok := FromContext(context.Background()); ok {
		t.Error("empty context should carry no unit")
	}
	if got := WithUnitOfWork(context.Background(), nil); got != context.Background() {
		t.Error("nil unit should leave the context untouched")
	}

	ctx := WithUnitOfWork(context.Background(), u)
	got, ok := FromContext(ctx)
	if !ok || got != u {
		t.Errorf("FromContext() = %v, %v", got, ok)
	}
}

func TestEngine_BeginFromNests(t *testing.T) {
	h := newHarness(t)

	ctx, root, err := h.engine.BeginFrom(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer root.Close()
	if !root.IsRoot() {
		t.Fatal("expected a root unit")
	}

	_, child, err := h.engine.BeginFrom(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if child.Parent() != root {
		t.Error("BeginFrom should nest under the unit in the context")
	}
	if h.engine.OpenUnits() != 1 {
		t.Errorf("OpenUnits() = %d, want 1", h.engine.OpenUnits())
	}

	root.Abort()
	if _, _, err := h.engine.BeginFrom(ctx); !IsDone(err) {
		t.Errorf("BeginFrom() under an aborted unit error = %v", err)
	}
}
