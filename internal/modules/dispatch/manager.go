// README: Route manager: the single run lock shared by scheduled and operator runs, plus assignment and route approval.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"multidrop/internal/modules/broadcast"
	"multidrop/internal/modules/driver"
	"multidrop/internal/modules/orchestration"
	"multidrop/internal/modules/route"
	"multidrop/internal/types"
)

type Engine interface {
	RunOnce(ctx context.Context, t orchestration.Trigger) (orchestration.RunResult, error)
}

type RouteStore interface {
	Get(ctx context.Context, id types.ID) (*route.Route, error)
	List(ctx context.Context, f route.ListFilter) ([]route.Route, error)
	AssignDriver(ctx context.Context, id, driverID types.ID, version int) (bool, error)
	Cancel(ctx context.Context, id types.ID) ([]types.ID, error)
	UpdateStatus(ctx context.Context, id types.ID, from, to route.Status, version int) (bool, error)
	FlagForReview(ctx context.Context, id types.ID, note string) error
}

type DriverStore interface {
	ListAvailable(ctx context.Context) ([]driver.Driver, error)
	Get(ctx context.Context, id types.ID) (*driver.Driver, error)
	SetStatus(ctx context.Context, id types.ID, status driver.Status) error
}

type RunRecorder interface {
	Append(ctx context.Context, rec RunRecord) error
	List(ctx context.Context, f RunFilter) ([]RunRecord, error)
	Get(ctx context.Context, id types.ID) (*RunRecord, error)
}

type Config struct {
	Mode              Mode
	ManualLockTimeout time.Duration
	AutoAssignDrivers bool
}

type Manager struct {
	cfg       Config
	engine    Engine
	routes    RouteStore
	drivers   DriverStore
	runs      RunRecorder
	index     *route.DropIndex
	publisher broadcast.Publisher
	lease     *Lease

	lock chan struct{}

	mu       sync.Mutex
	mode     Mode
	inflight map[types.ID]context.CancelFunc
}

type ManagerOption func(*Manager)

func WithLease(l *Lease) ManagerOption {
	return func(m *Manager) { m.lease = l }
}

func WithPublisher(p broadcast.Publisher) ManagerOption {
	return func(m *Manager) { m.publisher = p }
}

func NewManager(cfg Config, engine Engine, routes RouteStore, drivers DriverStore, runs RunRecorder, index *route.DropIndex, opts ...ManagerOption) *Manager {
	if cfg.Mode == "" {
		cfg.Mode = ModeAuto
	}
	if cfg.ManualLockTimeout <= 0 {
		cfg.ManualLockTimeout = 5 * time.Second
	}
	m := &Manager{
		cfg:       cfg,
		engine:    engine,
		routes:    routes,
		drivers:   drivers,
		runs:      runs,
		index:     index,
		publisher: broadcast.Nop{},
		lock:      make(chan struct{}, 1),
		mode:      cfg.Mode,
		inflight:  make(map[types.ID]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

func (m *Manager) SetMode(ctx context.Context, mode Mode, actorID string) error {
	if _, err := ParseMode(string(mode)); err != nil {
		return err
	}
	m.mu.Lock()
	prev := m.mode
	m.mode = mode
	m.mu.Unlock()
	if prev != mode {
		log.Printf("[dispatch] routing mode %s -> %s by %s", prev, mode, actorID)
	}
	return nil
}

// InFlight lists runs that can still be cancelled.
func (m *Manager) InFlight() []types.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.ID, 0, len(m.inflight))
	for id := range m.inflight {
		out = append(out, id)
	}
	return out
}

// RunAuto never waits: a busy lock skips the run and returns ErrBusy. In manual mode the run
// is recorded as skipped without touching the engine.
func (m *Manager) RunAuto(ctx context.Context, actorID string) (orchestration.RunResult, error) {
	if m.Mode() == ModeManual {
		res := m.skipped(orchestration.SourceAuto, actorID, SkipDisabled)
		m.record(ctx, res)
		return res, nil
	}
	select {
	case m.lock <- struct{}{}:
	default:
		return m.skipped(orchestration.SourceAuto, actorID, SkipBusy), ErrBusy
	}
	defer func() { <-m.lock }()
	return m.runLocked(ctx, orchestration.Trigger{Source: orchestration.SourceAuto, ActorID: actorID})
}

type ManualRun struct {
	RunID     types.ID
	ActorID   string
	Overrides orchestration.Overrides
}

// RunManual waits up to ManualLockTimeout for the run lock, then gives up with ErrBusy.
func (m *Manager) RunManual(ctx context.Context, req ManualRun) (orchestration.RunResult, error) {
	timer := time.NewTimer(m.cfg.ManualLockTimeout)
	defer timer.Stop()
	select {
	case m.lock <- struct{}{}:
	case <-timer.C:
		return m.skipped(orchestration.SourceManual, req.ActorID, SkipBusy), ErrBusy
	case <-ctx.Done():
		return orchestration.RunResult{}, ctx.Err()
	}
	defer func() { <-m.lock }()
	return m.runLocked(ctx, orchestration.Trigger{
		RunID:     req.RunID,
		Source:    orchestration.SourceManual,
		ActorID:   req.ActorID,
		Overrides: req.Overrides,
	})
}

// CancelRun stops a run in flight. Clusters already committing still complete.
func (m *Manager) CancelRun(runID types.ID) error {
	m.mu.Lock()
	cancel, ok := m.inflight[runID]
	m.mu.Unlock()
	if !ok {
		return ErrRunNotFound
	}
	cancel()
	return nil
}

func (m *Manager) runLocked(ctx context.Context, t orchestration.Trigger) (orchestration.RunResult, error) {
	if m.lease != nil {
		token, ok, err := m.lease.Acquire(ctx)
		if err != nil {
			err = fmt.Errorf("acquire run lease: %w", err)
			log.Printf("[dispatch] %v", err)
			res := m.failed(t, err)
			m.record(ctx, res)
			return res, err
		}
		if !ok {
			return m.skipped(t.Source, t.ActorID, SkipBusy), ErrBusy
		}
		defer func() {
			if err := m.lease.Release(context.WithoutCancel(ctx), token); err != nil {
				log.Printf("[dispatch] release run lease: %v", err)
			}
		}()
	}

	if t.RunID == "" {
		t.RunID = types.NewID()
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.inflight[t.RunID] = cancel
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.inflight, t.RunID)
		m.mu.Unlock()
		cancel()
	}()

	res, err := m.engine.RunOnce(runCtx, t)
	if err != nil {
		log.Printf("[dispatch] run %s failed: %v", t.RunID, err)
		res.Errors = append(res.Errors, orchestration.RunError{Kind: orchestration.ErrorPersistence, Cluster: -1, Message: err.Error()})
		res.FinishedAt = time.Now().UTC()
		m.record(ctx, res)
		return res, err
	}

	// Committed routes are past the cancellation point.
	post := context.WithoutCancel(ctx)
	for _, p := range res.Routes {
		ev := broadcast.RouteEvent(broadcast.EventRouteCreated, p.Route)
		ev.RunID = res.RunID
		m.publish(post, ev)
	}
	for _, a := range res.Alerts {
		if a.Raised {
			m.publish(post, broadcast.Event{Type: broadcast.EventOverflowAlert, RunID: res.RunID, DropIDs: []types.ID{a.DropID}, Note: a.Reason})
		}
	}
	if len(res.Routes) > 0 && (m.cfg.AutoAssignDrivers || hasPins(res.Routes)) {
		m.assign(post, &res)
		res.Flagged = m.flagDoubleAssignments(post)
	}
	res.FinishedAt = time.Now().UTC()
	m.record(post, res)
	log.Printf("[dispatch] run %s (%s): %d drops, %d routes, %d overflow, %d errors",
		res.RunID, res.Source, res.DropsProcessed, res.RoutesCreated, len(res.Overflow), len(res.Errors))
	return res, nil
}

func hasPins(routes []orchestration.PlannedRoute) bool {
	for _, p := range routes {
		if p.PinnedDriver != nil {
			return true
		}
	}
	return false
}

// assign reads availability once; it is advisory, so a stale read can double-book a driver.
// flagDoubleAssignments catches that afterwards.
func (m *Manager) assign(ctx context.Context, res *orchestration.RunResult) {
	drivers, err := m.drivers.ListAvailable(ctx)
	if err != nil {
		res.Errors = append(res.Errors, orchestration.RunError{Kind: orchestration.ErrorAssignment, Cluster: -1, Message: fmt.Sprintf("list drivers: %v", err)})
		return
	}

	planned := make(map[types.ID]route.Route, len(res.Routes))
	needs := make([]driver.RouteNeed, 0, len(res.Routes))
	for _, p := range res.Routes {
		if p.PinnedDriver == nil && !m.cfg.AutoAssignDrivers {
			continue
		}
		n := driver.NeedFor(p.Route)
		n.PinnedDriver = p.PinnedDriver
		needs = append(needs, n)
		planned[p.Route.ID] = p.Route
	}

	assignments, unassigned := driver.Assign(needs, drivers)
	res.Unassigned = append(res.Unassigned, unassigned...)
	for _, a := range assignments {
		r := planned[a.RouteID]
		ok, err := m.routes.AssignDriver(ctx, a.RouteID, a.DriverID, r.StatusVersion)
		if err != nil || !ok {
			msg := "route changed before assignment"
			if err != nil {
				msg = err.Error()
			}
			res.Errors = append(res.Errors, orchestration.RunError{Kind: orchestration.ErrorAssignment, Cluster: -1, Message: fmt.Sprintf("assign %s to %s: %s", a.DriverID, a.RouteID, msg)})
			res.Unassigned = append(res.Unassigned, a.RouteID)
			continue
		}
		if err := m.drivers.SetStatus(ctx, a.DriverID, driver.StatusBusy); err != nil {
			log.Printf("[dispatch] mark driver %s busy: %v", a.DriverID, err)
		}
		res.Assignments = append(res.Assignments, a)
		driverID := a.DriverID
		r.DriverID = &driverID
		r.Status = route.StatusAssigned
		r.StatusVersion++
		ev := broadcast.RouteEvent(broadcast.EventRouteAssigned, r)
		ev.RunID = res.RunID
		m.publish(ctx, ev)
	}
}

// flagDoubleAssignments marks every live route that shares a driver with another one. The
// routes stay assigned; an operator resolves them. Routes already under review are left alone.
func (m *Manager) flagDoubleAssignments(ctx context.Context) []types.ID {
	live, err := m.routes.List(ctx, route.ListFilter{Statuses: []route.Status{route.StatusAssigned, route.StatusActive}})
	if err != nil {
		log.Printf("[dispatch] list live routes: %v", err)
		return nil
	}
	byID := make(map[types.ID]route.Route, len(live))
	for _, r := range live {
		byID[r.ID] = r
	}
	var flagged []types.ID
	for driverID, routeIDs := range driver.DetectDoubleAssignments(live) {
		note := fmt.Sprintf("driver %s holds %d live routes", driverID, len(routeIDs))
		for _, id := range routeIDs {
			r := byID[id]
			if r.NeedsReview {
				continue
			}
			if err := m.routes.FlagForReview(ctx, id, note); err != nil {
				log.Printf("[dispatch] flag route %s: %v", id, err)
				continue
			}
			log.Printf("[dispatch] double assignment: %s: route %s", note, id)
			flagged = append(flagged, id)
			r.NeedsReview = true
			r.ReviewNote = note
			ev := broadcast.RouteEvent(broadcast.EventRouteFlagged, r)
			ev.Note = note
			m.publish(ctx, ev)
		}
	}
	return flagged
}

// AssignRoute pins a driver to a planned route on operator request.
func (m *Manager) AssignRoute(ctx context.Context, routeID, driverID types.ID, actorID string) (*route.Route, error) {
	r, err := m.routes.Get(ctx, routeID)
	if err != nil {
		return nil, err
	}
	if r.Status != route.StatusPlanned {
		return nil, route.ErrInvalidState
	}
	d, err := m.drivers.Get(ctx, driverID)
	if err != nil {
		return nil, err
	}
	need := driver.NeedFor(*r)
	if !d.Headroom().CanCarry(need.Peak, need.Drops) {
		return nil, fmt.Errorf("%w: %s", ErrInsufficientHeadroom, d.Headroom())
	}
	ok, err := m.routes.AssignDriver(ctx, routeID, driverID, r.StatusVersion)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, route.ErrConflict
	}
	if err := m.drivers.SetStatus(ctx, driverID, driver.StatusBusy); err != nil {
		log.Printf("[dispatch] mark driver %s busy: %v", driverID, err)
	}
	log.Printf("[dispatch] route %s assigned to %s by %s", routeID, driverID, actorID)
	r.DriverID = &driverID
	r.Status = route.StatusAssigned
	r.StatusVersion++
	m.publish(ctx, broadcast.RouteEvent(broadcast.EventRouteAssigned, *r))
	m.flagDoubleAssignments(ctx)
	return m.routes.Get(ctx, routeID)
}

// CancelRoute returns the route's drops to pending and frees them for the next run.
func (m *Manager) CancelRoute(ctx context.Context, routeID types.ID, actorID string) ([]types.ID, error) {
	r, err := m.routes.Get(ctx, routeID)
	if err != nil {
		return nil, err
	}
	released, err := m.routes.Cancel(ctx, routeID)
	if err != nil {
		return nil, err
	}
	m.index.Release(routeID)
	log.Printf("[dispatch] route %s cancelled by %s, %d drops released", routeID, actorID, len(released))
	r.Status = route.StatusCancelled
	ev := broadcast.RouteEvent(broadcast.EventRouteCancelled, *r)
	ev.DropIDs = released
	m.publish(ctx, ev)
	return released, nil
}

// AdvanceRoute moves an assigned route to active, or an active one to completed. Reaching a
// terminal status frees the route's drops in the index and puts the driver back on the board.
func (m *Manager) AdvanceRoute(ctx context.Context, routeID types.ID, to route.Status, actorID string) (*route.Route, error) {
	var evType broadcast.EventType
	switch to {
	case route.StatusActive:
		evType = broadcast.EventRouteStarted
	case route.StatusCompleted:
		evType = broadcast.EventRouteCompleted
	default:
		return nil, fmt.Errorf("%w: cannot advance to %q", route.ErrInvalidState, to)
	}
	r, err := m.routes.Get(ctx, routeID)
	if err != nil {
		return nil, err
	}
	if !route.CanTransition(r.Status, to) {
		return nil, route.ErrInvalidState
	}
	ok, err := m.routes.UpdateStatus(ctx, routeID, r.Status, to, r.StatusVersion)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, route.ErrConflict
	}
	log.Printf("[dispatch] route %s %s -> %s by %s", routeID, r.Status, to, actorID)
	r.Status = to
	r.StatusVersion++
	if to.Terminal() {
		m.index.Release(routeID)
		if r.DriverID != nil {
			if err := m.drivers.SetStatus(ctx, *r.DriverID, driver.StatusAvailable); err != nil {
				log.Printf("[dispatch] free driver %s: %v", *r.DriverID, err)
			}
		}
	}
	m.publish(ctx, broadcast.RouteEvent(evType, *r))
	return r, nil
}

func (m *Manager) History(ctx context.Context, f RunFilter) ([]RunRecord, error) {
	return m.runs.List(ctx, f)
}

func (m *Manager) Run(ctx context.Context, id types.ID) (*RunRecord, error) {
	return m.runs.Get(ctx, id)
}

func (m *Manager) skipped(src orchestration.Source, actorID, reason string) orchestration.RunResult {
	now := time.Now().UTC()
	return orchestration.RunResult{
		RunID:      types.NewID(),
		Source:     src,
		ActorID:    actorID,
		Skipped:    true,
		SkipReason: reason,
		StartedAt:  now,
		FinishedAt: now,
	}
}

// failed is the result of a run that could not start.
func (m *Manager) failed(t orchestration.Trigger, err error) orchestration.RunResult {
	now := time.Now().UTC()
	runID := t.RunID
	if runID == "" {
		runID = types.NewID()
	}
	return orchestration.RunResult{
		RunID:      runID,
		Source:     t.Source,
		ActorID:    t.ActorID,
		StartedAt:  now,
		FinishedAt: now,
		Errors:     []orchestration.RunError{{Kind: orchestration.ErrorPersistence, Cluster: -1, Message: err.Error()}},
	}
}

func (m *Manager) record(ctx context.Context, res orchestration.RunResult) {
	if m.runs == nil {
		return
	}
	if err := m.runs.Append(context.WithoutCancel(ctx), RecordOf(res)); err != nil {
		log.Printf("[dispatch] record run %s: %v", res.RunID, err)
	}
}

func (m *Manager) publish(ctx context.Context, ev broadcast.Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	if err := m.publisher.Publish(ctx, ev); err != nil {
		log.Printf("[dispatch] publish %s: %v", ev.Type, err)
	}
}

// IsBusy reports whether err is a lock contention rejection.
func IsBusy(err error) bool {
	return errors.Is(err, ErrBusy)
}
