package driver

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"multidrop/internal/types"
)

func TestPositionStore_RoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	ps := NewPositionStore(rdb)
	ctx := context.Background()

	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	if err := ps.Update(ctx, "d1", types.Point{Lat: 51.5074, Lng: -0.1278}, at); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := ps.Positions(ctx, []types.ID{"d1", "ghost"})
	if err != nil {
		t.Fatalf("positions: %v", err)
	}
	if _, ok := got["ghost"]; ok {
		t.Error("unknown driver should be absent")
	}
	p, ok := got["d1"]
	if !ok {
		t.Fatal("d1 missing")
	}
	if math.Abs(p.Point.Lat-51.5074) > 1e-4 || math.Abs(p.Point.Lng+0.1278) > 1e-4 {
		t.Errorf("position drifted: %+v", p.Point)
	}
	if !p.LastSeenAt.Equal(at) {
		t.Errorf("last seen %v, want %v", p.LastSeenAt, at)
	}

	if err := ps.Remove(ctx, "d1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	got, _ = ps.Positions(ctx, []types.ID{"d1"})
	if len(got) != 0 {
		t.Errorf("expected no positions after remove, got %+v", got)
	}
}
