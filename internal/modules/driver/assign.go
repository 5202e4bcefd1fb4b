// README: Route-to-driver assignment. Closest driver with enough headroom wins; each driver takes one route per run.
package driver

import (
	"sort"

	"multidrop/internal/geo"
	"multidrop/internal/modules/capacity"
	"multidrop/internal/modules/route"
	"multidrop/internal/types"
)

// tieKm is the distance below which two drivers count as equally close.
const tieKm = 1e-6

// RouteNeed is what a planned route asks of a vehicle.
type RouteNeed struct {
	RouteID      types.ID
	First        types.Point
	Peak         capacity.Load
	Drops        int
	PinnedDriver *types.ID
}

type Assignment struct {
	RouteID    types.ID `json:"route_id"`
	DriverID   types.ID `json:"driver_id"`
	DistanceKm float64  `json:"distance_km"`
}

// NeedFor derives the assignment request from a planned route.
func NeedFor(r route.Route) RouteNeed {
	n := RouteNeed{RouteID: r.ID, Peak: r.PeakLoad(), Drops: len(r.DropIDs())}
	if first, ok := r.FirstStop(); ok {
		n.First = first.Location
	}
	return n
}

// Assign pairs routes with drivers. Pinned needs are served first so free choice cannot steal
// their driver. Ties on distance go to the driver seen longest ago, then to the lower ID.
func Assign(needs []RouteNeed, drivers []Driver) ([]Assignment, []types.ID) {
	ordered := make([]RouteNeed, len(needs))
	copy(ordered, needs)
	sort.SliceStable(ordered, func(i, j int) bool {
		pi, pj := ordered[i].PinnedDriver != nil, ordered[j].PinnedDriver != nil
		if pi != pj {
			return pi
		}
		return ordered[i].RouteID < ordered[j].RouteID
	})

	byID := make(map[types.ID]int, len(drivers))
	for i, d := range drivers {
		byID[d.ID] = i
	}
	consumed := make([]bool, len(drivers))

	var out []Assignment
	var unassigned []types.ID
	for _, n := range ordered {
		if n.PinnedDriver != nil {
			i, ok := byID[*n.PinnedDriver]
			if !ok || consumed[i] || !drivers[i].Headroom().CanCarry(n.Peak, n.Drops) {
				unassigned = append(unassigned, n.RouteID)
				continue
			}
			consumed[i] = true
			out = append(out, Assignment{
				RouteID:    n.RouteID,
				DriverID:   drivers[i].ID,
				DistanceKm: geo.HaversineKm(drivers[i].Location, n.First),
			})
			continue
		}

		best, bestKm := -1, 0.0
		for i, d := range drivers {
			if consumed[i] || d.Status != StatusAvailable || !d.Headroom().CanCarry(n.Peak, n.Drops) {
				continue
			}
			km := geo.HaversineKm(d.Location, n.First)
			if best < 0 || km < bestKm-tieKm || (km <= bestKm+tieKm && preferred(d, drivers[best])) {
				best, bestKm = i, km
			}
		}
		if best < 0 {
			unassigned = append(unassigned, n.RouteID)
			continue
		}
		consumed[best] = true
		out = append(out, Assignment{RouteID: n.RouteID, DriverID: drivers[best].ID, DistanceKm: bestKm})
	}
	return out, unassigned
}

func preferred(a, b Driver) bool {
	if !a.LastSeenAt.Equal(b.LastSeenAt) {
		return a.LastSeenAt.Before(b.LastSeenAt)
	}
	return a.ID < b.ID
}

// DetectDoubleAssignments returns drivers holding more than one live route, with the routes sorted.
func DetectDoubleAssignments(routes []route.Route) map[types.ID][]types.ID {
	held := make(map[types.ID][]types.ID)
	for _, r := range routes {
		if r.DriverID == nil {
			continue
		}
		if r.Status != route.StatusAssigned && r.Status != route.StatusActive {
			continue
		}
		held[*r.DriverID] = append(held[*r.DriverID], r.ID)
	}
	out := make(map[types.ID][]types.ID)
	for d, ids := range held {
		if len(ids) < 2 {
			continue
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		out[d] = ids
	}
	return out
}
