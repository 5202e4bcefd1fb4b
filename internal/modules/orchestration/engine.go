// README: One orchestration run: fetch pending drops, cluster, plan and validate per cluster, then commit per cluster.
package orchestration

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"multidrop/internal/geo"
	"multidrop/internal/modules/capacity"
	"multidrop/internal/modules/cluster"
	"multidrop/internal/modules/drop"
	"multidrop/internal/modules/overflow"
	"multidrop/internal/modules/planner"
	"multidrop/internal/modules/route"
	"multidrop/internal/modules/validator"
	"multidrop/internal/types"
)

const ReasonBelowMinimum = "below_minimum"

type DropSource interface {
	ListPending(ctx context.Context) ([]drop.Drop, error)
}

// RouteWriter commits a planned route and marks its drops clustered, atomically.
type RouteWriter interface {
	Create(ctx context.Context, r *route.Route) error
}

type Geocoder interface {
	Resolve(ctx context.Context, postcode string) (types.Point, error)
}

// CoordinateWriter stores coordinates resolved for a drop so later runs skip the lookup.
type CoordinateWriter interface {
	SetCoordinates(ctx context.Context, id types.ID, pickup, delivery types.Point) error
}

// RouteChecker is the final feasibility authority over a planned route.
type RouteChecker interface {
	ValidateRoute(r route.Route, c capacity.Capacity) validator.Report
}

type OverflowTracker interface {
	Record(ctx context.Context, entries []overflow.Entry) ([]overflow.Alert, error)
	Clear(ctx context.Context, ids []types.ID) error
}

type Config struct {
	MaxPerCluster       int
	MinDropsPerRoute    int
	MaxIterations       int
	MaxImprovePasses    int
	ConsolidateRadiusKm float64
	Capacity            capacity.Capacity
	Tier                capacity.Tier
	Travel              geo.TravelModel
	Workers             int
}

type Engine struct {
	cfg       Config
	drops     DropSource
	routes    RouteWriter
	index     *route.DropIndex
	clusterer *cluster.Clusterer
	planner   *planner.Planner
	validator RouteChecker

	geocoder    Geocoder
	coordinates CoordinateWriter
	overflow    OverflowTracker
}

type Option func(*Engine)

func WithGeocoder(g Geocoder, w CoordinateWriter) Option {
	return func(e *Engine) {
		e.geocoder = g
		e.coordinates = w
	}
}

func WithRouteChecker(c RouteChecker) Option {
	return func(e *Engine) { e.validator = c }
}

func WithOverflowTracker(t OverflowTracker) Option {
	return func(e *Engine) { e.overflow = t }
}

func NewEngine(cfg Config, drops DropSource, routes RouteWriter, index *route.DropIndex, opts ...Option) *Engine {
	if cfg.MaxPerCluster <= 0 {
		cfg.MaxPerCluster = 5
	}
	if cfg.MinDropsPerRoute <= 0 {
		cfg.MinDropsPerRoute = 1
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Travel.SpeedKmh <= 0 {
		cfg.Travel = geo.DefaultTravelModel()
	}
	if cfg.Capacity == (capacity.Capacity{}) {
		cfg.Capacity = capacity.LutonVan()
	}
	e := &Engine{
		cfg:    cfg,
		drops:  drops,
		routes: routes,
		index:  index,
		clusterer: cluster.New(cluster.Config{
			MaxIterations:       cfg.MaxIterations,
			Travel:              cfg.Travel,
			ConsolidateRadiusKm: cfg.ConsolidateRadiusKm,
		}),
		planner:   planner.New(planner.Config{Travel: cfg.Travel, MaxImprovePasses: cfg.MaxImprovePasses}),
		validator: validator.New(validator.Config{Travel: cfg.Travel, Tier: cfg.Tier}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Index() *route.DropIndex {
	return e.index
}

type group struct {
	drops  []drop.Drop
	pinned *types.ID
	forced bool
}

type outcome struct {
	route      *route.Route
	excluded   []planner.Exclusion
	deferred   bool
	infeasible string
	report     *validator.Report
}

// RunOnce performs one run. Only a failure to read the pending pool is returned as an error; every
// other problem is collected in the result. Cancelling ctx abandons clusters not yet committed;
// a commit that has started always completes.
func (e *Engine) RunOnce(ctx context.Context, t Trigger) (res RunResult, err error) {
	if t.RunID == "" {
		t.RunID = types.NewID()
	}
	res = RunResult{RunID: t.RunID, Source: t.Source, ActorID: t.ActorID, StartedAt: time.Now().UTC()}
	defer func() { res.FinishedAt = time.Now().UTC() }()

	pending, err := e.drops.ListPending(ctx)
	if err != nil {
		return res, fmt.Errorf("list pending drops: %w", err)
	}

	pool := make([]drop.Drop, 0, len(pending))
	for _, d := range pending {
		if _, held := e.index.RouteFor(d.ID); held {
			continue
		}
		pool = append(pool, d)
	}
	res.DropsProcessed = len(pool)

	pool = e.screen(ctx, pool, &res)
	groups := e.partition(pool, t.Overrides, &res)

	outcomes := make([]outcome, len(groups))
	plannable := e.cfg.Capacity.WithBuffer(e.cfg.Tier)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i := range groups {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = e.planGroup(groups[i], plannable, t.RunID)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		res.Cancelled = true
		res.Errors = append(res.Errors, RunError{Kind: ErrorCancelled, Cluster: -1, Message: "run cancelled before persistence"})
		e.recordOverflow(ctx, &res)
		return res, nil
	}

	for i, o := range outcomes {
		grp := groups[i]
		for _, x := range o.excluded {
			res.Overflow = append(res.Overflow, overflow.Entry{DropID: x.DropID, Reason: x.Reason})
		}
		switch {
		case o.infeasible != "":
			res.Errors = append(res.Errors, RunError{Kind: ErrorInfeasible, Cluster: i, DropIDs: drop.IDs(grp.drops), Message: o.infeasible})
			continue
		case o.deferred:
			for _, id := range o.route.DropIDs() {
				res.Overflow = append(res.Overflow, overflow.Entry{DropID: id, Reason: ReasonBelowMinimum})
			}
			continue
		case o.report != nil && !o.report.OK:
			res.Errors = append(res.Errors, RunError{
				Kind:       ErrorValidation,
				Cluster:    i,
				DropIDs:    o.route.DropIDs(),
				Message:    fmt.Sprintf("candidate rejected with %d violation(s)", len(o.report.Violations)),
				Violations: o.report.Violations,
			})
			continue
		}

		if ctx.Err() != nil {
			res.Cancelled = true
			res.Errors = append(res.Errors, RunError{Kind: ErrorCancelled, Cluster: i, DropIDs: o.route.DropIDs(), Message: "run cancelled before this cluster was committed"})
			continue
		}
		if err := e.commit(context.WithoutCancel(ctx), o.route); err != nil {
			log.Printf("[orchestration] run %s cluster %d: commit failed: %v", t.RunID, i, err)
			res.Errors = append(res.Errors, RunError{Kind: ErrorPersistence, Cluster: i, DropIDs: o.route.DropIDs(), Message: err.Error()})
			continue
		}
		res.Routes = append(res.Routes, PlannedRoute{Route: *o.route, PinnedDriver: grp.pinned})
	}
	res.RoutesCreated = len(res.Routes)

	e.recordOverflow(ctx, &res)
	return res, nil
}

// screen drops unroutable input, resolving missing coordinates from postcodes when a geocoder is set.
func (e *Engine) screen(ctx context.Context, pool []drop.Drop, res *RunResult) []drop.Drop {
	out := pool[:0:0]
	for _, d := range pool {
		if !d.HasCoordinates() && d.HasWindows() && e.geocoder != nil {
			d = e.geocode(ctx, d)
		}
		if err := d.Validate(); err != nil {
			log.Printf("[orchestration] drop %s skipped: %v", d.ID, err)
			res.Invalid = append(res.Invalid, cluster.Skipped{DropID: d.ID, Reason: err.Error()})
			continue
		}
		out = append(out, d)
	}
	return out
}

func (e *Engine) geocode(ctx context.Context, d drop.Drop) drop.Drop {
	resolve := func(p types.Point, postcode string) types.Point {
		if p.Valid() || postcode == "" {
			return p
		}
		got, err := e.geocoder.Resolve(ctx, postcode)
		if err != nil {
			log.Printf("[orchestration] geocode %q for drop %s: %v", postcode, d.ID, err)
			return p
		}
		return got
	}
	d.Pickup = resolve(d.Pickup, d.PickupPostcode)
	d.Delivery = resolve(d.Delivery, d.DeliveryPostcode)
	if d.HasCoordinates() && e.coordinates != nil {
		if err := e.coordinates.SetCoordinates(ctx, d.ID, d.Pickup, d.Delivery); err != nil {
			log.Printf("[orchestration] store coordinates for drop %s: %v", d.ID, err)
		}
	}
	return d
}

// partition turns the pool into plannable groups. Forced groups come first, in the order given.
func (e *Engine) partition(pool []drop.Drop, ov Overrides, res *RunResult) []group {
	byID := make(map[types.ID]drop.Drop, len(pool))
	for _, d := range pool {
		byID[d.ID] = d
	}

	var groups []group
	taken := make(map[types.ID]bool)
	for gi, fg := range ov.Groups {
		var members []drop.Drop
		var missing []types.ID
		for _, id := range fg.DropIDs {
			d, ok := byID[id]
			if !ok || taken[id] {
				missing = append(missing, id)
				continue
			}
			taken[id] = true
			members = append(members, d)
		}
		if len(missing) > 0 {
			res.Errors = append(res.Errors, RunError{
				Kind:    ErrorInput,
				Cluster: -1,
				DropIDs: missing,
				Message: fmt.Sprintf("group %d: drops not pending, invalid or listed twice", gi),
			})
		}
		if len(members) > 0 {
			groups = append(groups, group{drops: members, pinned: fg.DriverID, forced: true})
		}
	}
	if ov.OnlyGroups {
		return groups
	}

	rest := make([]drop.Drop, 0, len(pool))
	for _, d := range pool {
		if !taken[d.ID] {
			rest = append(rest, d)
		}
	}
	maxPer := e.cfg.MaxPerCluster
	if ov.MaxPerCluster > 0 {
		maxPer = ov.MaxPerCluster
	}
	clustered := e.clusterer.Cluster(rest, maxPer)
	res.Invalid = append(res.Invalid, clustered.Skipped...)
	for _, c := range clustered.Clusters {
		groups = append(groups, group{drops: c})
	}
	return groups
}

// planGroup runs the planner and then the validator, which has the final say.
func (e *Engine) planGroup(g group, plannable capacity.Capacity, runID types.ID) outcome {
	cand, feasible, reason := e.planner.Plan(g.drops, plannable)
	o := outcome{excluded: cand.Excluded}
	if !feasible {
		o.infeasible = reason
		return o
	}
	r := cand.Route(types.NewID(), runID)
	o.route = &r
	if !g.forced && len(cand.Placed) < e.cfg.MinDropsPerRoute {
		o.deferred = true
		return o
	}
	rep := e.validator.ValidateRoute(r, e.cfg.Capacity)
	o.report = &rep
	return o
}

// commit claims the drops in the index, then writes the route. A failed write releases the claim.
func (e *Engine) commit(ctx context.Context, r *route.Route) error {
	if err := e.index.Claim(r.ID, r.DropIDs()); err != nil {
		return err
	}
	if err := e.routes.Create(ctx, r); err != nil {
		e.index.Release(r.ID)
		return fmt.Errorf("create route %s: %w", r.ID, err)
	}
	return nil
}

func (e *Engine) recordOverflow(ctx context.Context, res *RunResult) {
	if e.overflow == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if routed := res.RoutedDropIDs(); len(routed) > 0 {
		if err := e.overflow.Clear(ctx, routed); err != nil {
			log.Printf("[orchestration] clear overflow counters: %v", err)
		}
	}
	if len(res.Overflow) == 0 {
		return
	}
	alerts, err := e.overflow.Record(ctx, res.Overflow)
	if err != nil {
		log.Printf("[orchestration] record overflow: %v", err)
		return
	}
	for _, a := range alerts {
		if a.Raised {
			log.Printf("[orchestration] overflow alert: drop %s excluded %d runs: %s", a.DropID, a.Count, a.Reason)
		}
	}
	res.Alerts = alerts
}
