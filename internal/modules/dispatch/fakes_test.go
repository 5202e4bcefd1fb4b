package dispatch

import (
	"context"
	"sync"
	"sync/atomic"

	"multidrop/internal/modules/broadcast"
	"multidrop/internal/modules/driver"
	"multidrop/internal/modules/orchestration"
	"multidrop/internal/modules/route"
	"multidrop/internal/types"
)

type fakeEngine struct {
	calls   atomic.Int32
	started chan types.ID
	release chan struct{}
	result  func(t orchestration.Trigger) orchestration.RunResult
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{started: make(chan types.ID, 8)}
}

func (e *fakeEngine) RunOnce(ctx context.Context, t orchestration.Trigger) (orchestration.RunResult, error) {
	e.calls.Add(1)
	select {
	case e.started <- t.RunID:
	default:
	}
	if e.release != nil {
		select {
		case <-e.release:
		case <-ctx.Done():
			return orchestration.RunResult{RunID: t.RunID, Source: t.Source, Cancelled: true}, nil
		}
	}
	if e.result != nil {
		return e.result(t), nil
	}
	return orchestration.RunResult{RunID: t.RunID, Source: t.Source, ActorID: t.ActorID}, nil
}

type fakeRoutes struct {
	mu       sync.Mutex
	routes   map[types.ID]*route.Route
	flagged  map[types.ID]string
	assigned map[types.ID]types.ID
}

func newFakeRoutes(rs ...route.Route) *fakeRoutes {
	f := &fakeRoutes{
		routes:   make(map[types.ID]*route.Route),
		flagged:  make(map[types.ID]string),
		assigned: make(map[types.ID]types.ID),
	}
	for i := range rs {
		r := rs[i]
		f.routes[r.ID] = &r
	}
	return f
}

func (f *fakeRoutes) Get(_ context.Context, id types.ID) (*route.Route, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.routes[id]
	if !ok {
		return nil, route.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRoutes) List(_ context.Context, flt route.ListFilter) ([]route.Route, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []route.Route
	for _, r := range f.routes {
		for _, st := range flt.Statuses {
			if r.Status == st {
				out = append(out, *r)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeRoutes) AssignDriver(_ context.Context, id, driverID types.ID, version int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.routes[id]
	if !ok || r.Status != route.StatusPlanned || r.StatusVersion != version {
		return false, nil
	}
	d := driverID
	r.DriverID = &d
	r.Status = route.StatusAssigned
	r.StatusVersion++
	f.assigned[id] = driverID
	return true, nil
}

func (f *fakeRoutes) Cancel(_ context.Context, id types.ID) ([]types.ID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.routes[id]
	if !ok || (r.Status != route.StatusPlanned && r.Status != route.StatusAssigned) {
		return nil, route.ErrInvalidState
	}
	r.Status = route.StatusCancelled
	return r.DropIDs(), nil
}

func (f *fakeRoutes) UpdateStatus(_ context.Context, id types.ID, from, to route.Status, version int) (bool, error) {
	if !route.CanTransition(from, to) {
		return false, route.ErrInvalidState
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.routes[id]
	if !ok || r.Status != from || r.StatusVersion != version {
		return false, nil
	}
	r.Status = to
	r.StatusVersion++
	return true, nil
}

func (f *fakeRoutes) FlagForReview(_ context.Context, id types.ID, note string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flagged[id] = note
	if r, ok := f.routes[id]; ok {
		r.NeedsReview = true
		r.ReviewNote = note
	}
	return nil
}

// put stores a route the way a committed run would.
func (f *fakeRoutes) put(r route.Route) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[r.ID] = &r
}

type fakeDrivers struct {
	mu      sync.Mutex
	drivers []driver.Driver
	status  map[types.ID]driver.Status
}

func (f *fakeDrivers) ListAvailable(context.Context) ([]driver.Driver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]driver.Driver(nil), f.drivers...), nil
}

func (f *fakeDrivers) Get(_ context.Context, id types.ID) (*driver.Driver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.drivers {
		if d.ID == id {
			cp := d
			return &cp, nil
		}
	}
	return nil, driver.ErrNotFound
}

func (f *fakeDrivers) SetStatus(_ context.Context, id types.ID, st driver.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status == nil {
		f.status = make(map[types.ID]driver.Status)
	}
	f.status[id] = st
	return nil
}

type memRuns struct {
	mu   sync.Mutex
	recs []RunRecord
}

func (m *memRuns) Append(_ context.Context, rec RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memRuns) List(_ context.Context, f RunFilter) ([]RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RunRecord
	for i := len(m.recs) - 1; i >= 0; i-- {
		if m.recs[i].Skipped && !f.WithSkipped {
			continue
		}
		out = append(out, m.recs[i])
	}
	return out, nil
}

func (m *memRuns) Get(_ context.Context, id types.ID) (*RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.recs {
		if r.ID == id {
			cp := r
			return &cp, nil
		}
	}
	return nil, ErrRunNotFound
}

func (m *memRuns) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recs)
}

type capturePublisher struct {
	mu     sync.Mutex
	events []broadcast.Event
}

func (c *capturePublisher) Publish(_ context.Context, ev broadcast.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

// last returns the most recent event of type t.
func (c *capturePublisher) last(t broadcast.EventType) (broadcast.Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.events) - 1; i >= 0; i-- {
		if c.events[i].Type == t {
			return c.events[i], true
		}
	}
	return broadcast.Event{}, false
}

func (c *capturePublisher) count(t broadcast.EventType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ev := range c.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}
