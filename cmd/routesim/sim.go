// README: In-memory collaborators and the single planning pass behind the simulator.
package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"multidrop/internal/geo"
	"multidrop/internal/modules/capacity"
	"multidrop/internal/modules/drop"
	"multidrop/internal/modules/orchestration"
	"multidrop/internal/modules/overflow"
	"multidrop/internal/modules/route"
	"multidrop/internal/modules/validator"
)

type staticDrops []drop.Drop

func (s staticDrops) ListPending(context.Context) ([]drop.Drop, error) {
	return s, nil
}

type memRoutes struct {
	mu     sync.Mutex
	routes []route.Route
}

func (m *memRoutes) Create(_ context.Context, r *route.Route) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes = append(m.routes, *r)
	return nil
}

type simulation struct {
	capacity capacity.Capacity
	tier     capacity.Tier
	travel   geo.TravelModel
	maxPer   int
	minDrops int
}

type outcome struct {
	result  orchestration.RunResult
	routes  []route.Route
	reports []validator.Report
}

func (s simulation) run(ctx context.Context, drops []drop.Drop) (outcome, error) {
	routes := &memRoutes{}
	engine := orchestration.NewEngine(orchestration.Config{
		MaxPerCluster:    s.maxPer,
		MinDropsPerRoute: s.minDrops,
		Capacity:         s.capacity,
		Tier:             s.tier,
		Travel:           s.travel,
	}, staticDrops(drops), routes, route.NewDropIndex(),
		orchestration.WithOverflowTracker(overflow.NewMemoryTracker(overflow.DefaultThreshold)))

	res, err := engine.RunOnce(ctx, orchestration.Trigger{Source: orchestration.SourceManual, ActorID: "routesim"})
	if err != nil {
		return outcome{}, err
	}
	out := outcome{result: res, routes: routes.routes}
	v := validator.New(validator.Config{Travel: s.travel, Tier: s.tier})
	for _, r := range out.routes {
		out.reports = append(out.reports, v.ValidateRoute(r, s.capacity))
	}
	return out, nil
}

func (o outcome) report() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s: %d drops, %d routes, %d overflow, %d invalid\n\n",
		o.result.RunID, o.result.DropsProcessed, o.result.RoutesCreated, len(o.result.Overflow), len(o.result.Invalid))
	for i, r := range o.routes {
		fmt.Fprintf(&b, "Route %s  score %.1f  %.2fkm  %s\n", r.ID, r.Score, r.DistanceKm, r.Duration.Round(time.Second))
		b.WriteString(validator.FormatTable(o.reports[i]))
		b.WriteString("\n")
	}
	if len(o.result.Overflow) > 0 {
		entries := append([]overflow.Entry(nil), o.result.Overflow...)
		sort.Slice(entries, func(i, j int) bool { return entries[i].DropID < entries[j].DropID })
		b.WriteString("Overflow:\n")
		for _, e := range entries {
			fmt.Fprintf(&b, "  %s  %s\n", e.DropID, e.Reason)
		}
	}
	if len(o.result.Invalid) > 0 {
		b.WriteString("Invalid:\n")
		for _, s := range o.result.Invalid {
			fmt.Fprintf(&b, "  %s  %s\n", s.DropID, s.Reason)
		}
	}
	if len(o.result.Errors) > 0 {
		b.WriteString("Errors:\n")
		for _, e := range o.result.Errors {
			fmt.Fprintf(&b, "  [%s] cluster %d: %s\n", e.Kind, e.Cluster, e.Message)
		}
	}
	return b.String()
}
