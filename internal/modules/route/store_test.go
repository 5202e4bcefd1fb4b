package route

import (
	"context"
	"errors"
	"testing"
	"time"

	"multidrop/internal/modules/capacity"
	"multidrop/internal/modules/drop"
	"multidrop/internal/testutil"
	"multidrop/internal/types"
)

func seedDrop(t *testing.T, ds *drop.Store, id types.ID) drop.Drop {
	t.Helper()
	base := time.Now().UTC().Truncate(time.Second)
	d := drop.Drop{
		ID:             id,
		Pickup:         types.Point{Lat: 51.50, Lng: -0.12},
		Delivery:       types.Point{Lat: 51.52, Lng: -0.10},
		PickupWindow:   drop.TimeWindow{Earliest: base, Latest: base.Add(2 * time.Hour)},
		DeliveryWindow: drop.TimeWindow{Earliest: base, Latest: base.Add(5 * time.Hour)},
		Volume:         1,
		Weight:         50,
	}
	if err := ds.Create(context.Background(), &d); err != nil {
		t.Fatalf("seed drop: %v", err)
	}
	return d
}

func routeFor(drops ...drop.Drop) *Route {
	r := &Route{ID: types.NewID(), RunID: types.NewID(), Status: StatusPlanned}
	seq := 1
	var load capacity.Load
	for _, d := range drops {
		p, del := StopsFor(d)
		load = load.Add(p.Delta())
		p.Sequence, p.ArriveAt, p.LoadAfter = seq, d.PickupWindow.Earliest, load
		seq++
		load = load.Add(del.Delta())
		del.Sequence, del.ArriveAt, del.LoadAfter = seq, d.DeliveryWindow.Earliest, load
		seq++
		r.Stops = append(r.Stops, p, del)
	}
	return r
}

func TestStore_CreateClaimsDropsAtomically(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	drops := drop.NewStore(db)
	routes := NewStore(db)

	a := seedDrop(t, drops, types.NewID())
	b := seedDrop(t, drops, types.NewID())

	first := routeFor(a, b)
	if err := routes.Create(ctx, first); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := routes.Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Stops) != 4 || got.Stops[0].Sequence != 1 {
		t.Fatalf("unexpected stops: %+v", got.Stops)
	}

	// b is already clustered, so a second route holding it must roll back entirely.
	c := seedDrop(t, drops, types.NewID())
	second := routeFor(c, b)
	if err := routes.Create(ctx, second); !errors.Is(err, ErrDropConflict) {
		t.Fatalf("expected ErrDropConflict, got %v", err)
	}
	if _, err := routes.Get(ctx, second.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("rolled-back route must not exist, got %v", err)
	}
	stillPending, err := drops.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("get drop: %v", err)
	}
	if stillPending.Status != drop.StatusPending {
		t.Errorf("drop c should remain pending, got %s", stillPending.Status)
	}

	active, err := routes.ActiveDropAssignments(ctx)
	if err != nil {
		t.Fatalf("active assignments: %v", err)
	}
	if active[a.ID] != first.ID || active[b.ID] != first.ID || len(active) != 2 {
		t.Errorf("unexpected assignments %v", active)
	}

	released, err := routes.Cancel(ctx, first.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(released) != 2 {
		t.Errorf("expected 2 drops back to pending, got %v", released)
	}
	if _, err := routes.Cancel(ctx, first.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second cancel should be invalid, got %v", err)
	}
}

func TestStore_CompletionMovesDropsAndFreesClaims(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	drops := drop.NewStore(db)
	routes := NewStore(db)

	if _, err := db.Exec(ctx, `INSERT INTO drivers (id, max_volume_m3, max_weight_kg) VALUES ('drv-1', 15, 1000)`); err != nil {
		t.Fatalf("seed driver: %v", err)
	}
	a := seedDrop(t, drops, types.NewID())
	r := routeFor(a)
	if err := routes.Create(ctx, r); err != nil {
		t.Fatalf("create: %v", err)
	}
	if ok, err := routes.AssignDriver(ctx, r.ID, "drv-1", 0); err != nil || !ok {
		t.Fatalf("assign: ok=%v err=%v", ok, err)
	}
	if _, err := routes.UpdateStatus(ctx, r.ID, StatusAssigned, StatusCompleted, 1); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("assigned route cannot complete directly, got %v", err)
	}
	if ok, err := routes.UpdateStatus(ctx, r.ID, StatusAssigned, StatusActive, 1); err != nil || !ok {
		t.Fatalf("start: ok=%v err=%v", ok, err)
	}
	if ok, _ := routes.UpdateStatus(ctx, r.ID, StatusAssigned, StatusActive, 1); ok {
		t.Fatal("a stale version must not apply twice")
	}
	if ok, err := routes.UpdateStatus(ctx, r.ID, StatusActive, StatusCompleted, 2); err != nil || !ok {
		t.Fatalf("complete: ok=%v err=%v", ok, err)
	}

	got, err := drops.Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("get drop: %v", err)
	}
	if got.Status != drop.StatusCompleted {
		t.Errorf("drop should be completed, got %s", got.Status)
	}
	active, err := routes.ActiveDropAssignments(ctx)
	if err != nil {
		t.Fatalf("active assignments: %v", err)
	}
	if _, held := active[a.ID]; held {
		t.Error("a completed route must not hold its drops")
	}
}
