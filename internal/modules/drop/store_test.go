package drop

import (
	"context"
	"testing"

	"multidrop/internal/testutil"
	"multidrop/internal/types"
)

func TestStore_PendingAndOptimisticUpdate(t *testing.T) {
	store := NewStore(testutil.OpenDB(t))
	ctx := context.Background()

	withWindow := validDrop()
	withWindow.ID = types.NewID()
	if err := store.Create(ctx, &withWindow); err != nil {
		t.Fatalf("create: %v", err)
	}
	noWindow := validDrop()
	noWindow.ID = types.NewID()
	noWindow.PickupWindow = TimeWindow{}
	if err := store.Create(ctx, &noWindow); err != nil {
		t.Fatalf("create: %v", err)
	}

	pending, err := store.ListPending(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != withWindow.ID {
		t.Fatalf("expected only the windowed drop, got %+v", pending)
	}
	if pending[0].Volume != withWindow.Volume || !pending[0].Pickup.Valid() {
		t.Errorf("round-trip lost fields: %+v", pending[0])
	}

	ok, err := store.UpdateStatus(ctx, withWindow.ID, StatusPending, StatusClustered, 0)
	if err != nil || !ok {
		t.Fatalf("first update: ok=%v err=%v", ok, err)
	}
	ok, err = store.UpdateStatus(ctx, withWindow.ID, StatusPending, StatusClustered, 0)
	if err != nil {
		t.Fatalf("second update: %v", err)
	}
	if ok {
		t.Fatal("stale version must not update")
	}

	got, err := store.Get(ctx, withWindow.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusClustered || got.StatusVersion != 1 {
		t.Errorf("unexpected state %s v%d", got.Status, got.StatusVersion)
	}
}
