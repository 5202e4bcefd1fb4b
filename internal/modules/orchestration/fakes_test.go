package orchestration

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"multidrop/internal/modules/drop"
	"multidrop/internal/modules/route"
	"multidrop/internal/types"
)

// memStore stands in for both the drop and route stores.
type memStore struct {
	mu       sync.Mutex
	drops    map[types.ID]drop.Drop
	routes   map[types.ID]route.Route
	failOn   map[types.ID]bool
	onCreate func(r *route.Route)
	coords   map[types.ID]bool
}

func newMemStore(drops ...drop.Drop) *memStore {
	m := &memStore{
		drops:  make(map[types.ID]drop.Drop),
		routes: make(map[types.ID]route.Route),
		failOn: make(map[types.ID]bool),
		coords: make(map[types.ID]bool),
	}
	for _, d := range drops {
		m.drops[d.ID] = d
	}
	return m
}

func (m *memStore) ListPending(context.Context) ([]drop.Drop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []drop.Drop
	for _, d := range m.drops {
		if d.Status == drop.StatusPending {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) Create(_ context.Context, r *route.Route) error {
	if m.onCreate != nil {
		m.onCreate(r)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range r.DropIDs() {
		if m.failOn[id] {
			return fmt.Errorf("insert route: connection reset")
		}
		if m.drops[id].Status != drop.StatusPending {
			return route.ErrDropConflict
		}
	}
	for _, id := range r.DropIDs() {
		d := m.drops[id]
		d.Status = drop.StatusClustered
		m.drops[id] = d
	}
	m.routes[r.ID] = *r
	return nil
}

func (m *memStore) SetCoordinates(_ context.Context, id types.ID, pickup, delivery types.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.drops[id]
	d.Pickup, d.Delivery = pickup, delivery
	m.drops[id] = d
	m.coords[id] = true
	return nil
}

func (m *memStore) status(id types.ID) drop.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drops[id].Status
}

// staticSource returns the same drops every time, ignoring status changes.
type staticSource []drop.Drop

func (s staticSource) ListPending(context.Context) ([]drop.Drop, error) {
	return append([]drop.Drop(nil), s...), nil
}

type nopWriter struct{}

func (nopWriter) Create(context.Context, *route.Route) error { return nil }

type fakeGeocoder map[string]types.Point

func (g fakeGeocoder) Resolve(_ context.Context, postcode string) (types.Point, error) {
	p, ok := g[postcode]
	if !ok {
		return types.Point{}, fmt.Errorf("postcode %q not found", postcode)
	}
	return p, nil
}

var base = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

// mkDrop places a drop near (lat, lng) with a wide morning pickup window.
func mkDrop(id string, lat, lng, volume, weight float64) drop.Drop {
	return drop.Drop{
		ID:             types.ID(id),
		Pickup:         types.Point{Lat: lat, Lng: lng},
		Delivery:       types.Point{Lat: lat + 0.005, Lng: lng + 0.005},
		PickupWindow:   drop.TimeWindow{Earliest: base, Latest: base.Add(6 * time.Hour)},
		DeliveryWindow: drop.TimeWindow{Earliest: base, Latest: base.Add(10 * time.Hour)},
		Volume:         volume,
		Weight:         weight,
		Status:         drop.StatusPending,
	}
}
