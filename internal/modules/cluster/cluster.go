// README: Groups pending drops into candidate routes by pickup proximity and time-window compatibility.
package cluster

import (
	"math"
	"sort"

	"multidrop/internal/geo"
	"multidrop/internal/modules/drop"
	"multidrop/internal/types"
)

const DefaultMaxIterations = 25

type Config struct {
	MaxIterations int
	Travel        geo.TravelModel
	// ConsolidateRadiusKm bounds how far a drop may move to top up a fuller cluster. 0 disables it.
	ConsolidateRadiusKm float64
}

type Skipped struct {
	DropID types.ID `json:"drop_id"`
	Reason string   `json:"reason"`
}

type Result struct {
	Clusters [][]drop.Drop
	Skipped  []Skipped
}

type Clusterer struct {
	cfg Config
}

func New(cfg Config) *Clusterer {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.Travel.SpeedKmh <= 0 {
		cfg.Travel = geo.DefaultTravelModel()
	}
	return &Clusterer{cfg: cfg}
}

// Cluster partitions drops into groups of at most maxPerCluster. Drops without pickup coordinates
// are reported in Skipped. Output depends only on the drops themselves, never on wall-clock or randomness.
func (c *Clusterer) Cluster(drops []drop.Drop, maxPerCluster int) Result {
	if maxPerCluster < 1 {
		maxPerCluster = 1
	}
	var res Result
	valid := make([]drop.Drop, 0, len(drops))
	for _, d := range drops {
		if !d.Pickup.Valid() {
			res.Skipped = append(res.Skipped, Skipped{DropID: d.ID, Reason: "missing pickup coordinates"})
			continue
		}
		valid = append(valid, d)
	}
	if len(valid) == 0 {
		return res
	}
	sort.SliceStable(valid, func(i, j int) bool { return valid[i].ID < valid[j].ID })

	groups := kmeans(valid, maxPerCluster, c.cfg.MaxIterations)

	var sized [][]drop.Drop
	for _, g := range groups {
		sized = append(sized, splitOversize(g, maxPerCluster)...)
	}

	var windowed [][]drop.Drop
	for _, g := range sized {
		windowed = append(windowed, c.splitByWindows(g)...)
	}

	if c.cfg.ConsolidateRadiusKm > 0 {
		windowed = c.consolidate(windowed, maxPerCluster)
	}

	for _, g := range windowed {
		if len(g) == 0 {
			continue
		}
		sort.SliceStable(g, func(i, j int) bool { return g[i].ID < g[j].ID })
		res.Clusters = append(res.Clusters, g)
	}
	sort.SliceStable(res.Clusters, func(i, j int) bool { return res.Clusters[i][0].ID < res.Clusters[j][0].ID })
	return res
}

// kmeans expects drops sorted by id; the first K pickups seed the centroids.
func kmeans(drops []drop.Drop, maxPerCluster, maxIterations int) [][]drop.Drop {
	k := int(math.Ceil(float64(len(drops)) / float64(maxPerCluster)))
	if k < 1 {
		k = 1
	}
	centroids := make([]types.Point, k)
	for i := 0; i < k; i++ {
		centroids[i] = drops[i].Pickup
	}

	assign := make([]int, len(drops))
	for i := range assign {
		assign[i] = -1
	}
	for iter := 0; iter < maxIterations; iter++ {
		changed := false
		for i, d := range drops {
			best := nearestCentroid(d.Pickup, centroids)
			if best != assign[i] {
				assign[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}
		for ci := range centroids {
			var members []types.Point
			for i, a := range assign {
				if a == ci {
					members = append(members, drops[i].Pickup)
				}
			}
			if len(members) > 0 {
				centroids[ci] = geo.Centroid(members)
			}
		}
	}

	groups := make([][]drop.Drop, k)
	for i, a := range assign {
		groups[a] = append(groups[a], drops[i])
	}
	return groups
}

func nearestCentroid(p types.Point, centroids []types.Point) int {
	best, bestDist := 0, math.Inf(1)
	for i, c := range centroids {
		if d := geo.HaversineKm(p, c); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// splitOversize keeps the maxPerCluster drops closest to the centroid and peels the rest off,
// farthest first, into further groups until every group is within the limit.
func splitOversize(group []drop.Drop, maxPerCluster int) [][]drop.Drop {
	var out [][]drop.Drop
	pending := [][]drop.Drop{group}
	for len(pending) > 0 {
		g := pending[0]
		pending = pending[1:]
		if len(g) <= maxPerCluster {
			out = append(out, g)
			continue
		}
		center := geo.Centroid(pickups(g))
		sorted := append([]drop.Drop(nil), g...)
		sort.SliceStable(sorted, func(i, j int) bool {
			di := geo.HaversineKm(sorted[i].Pickup, center)
			dj := geo.HaversineKm(sorted[j].Pickup, center)
			if di != dj {
				return di > dj
			}
			return sorted[i].ID < sorted[j].ID
		})
		cut := len(sorted) - maxPerCluster
		out = append(out, append([]drop.Drop(nil), sorted[cut:]...))
		pending = append(pending, append([]drop.Drop(nil), sorted[:cut]...))
	}
	return out
}

// Compatible reports whether both pickups can be served back to back in at least one order.
func Compatible(a, b drop.Drop, travel geo.TravelModel) bool {
	leg := travel.Between(a.Pickup, b.Pickup) + travel.ServiceTime
	aThenB := !a.PickupWindow.Earliest.Add(leg).After(b.PickupWindow.Latest)
	bThenA := !b.PickupWindow.Earliest.Add(leg).After(a.PickupWindow.Latest)
	return aThenB || bThenA
}

// splitByWindows separates pickups that cannot share a vehicle. Each drop, earliest window first,
// joins the compatible sub-group whose centroid is nearest, or opens a new one.
func (c *Clusterer) splitByWindows(group []drop.Drop) [][]drop.Drop {
	ordered := append([]drop.Drop(nil), group...)
	sort.SliceStable(ordered, func(i, j int) bool {
		ei, ej := ordered[i].PickupWindow.Earliest, ordered[j].PickupWindow.Earliest
		if !ei.Equal(ej) {
			return ei.Before(ej)
		}
		return ordered[i].ID < ordered[j].ID
	})

	var subs [][]drop.Drop
	for _, d := range ordered {
		best, bestCost := -1, math.Inf(1)
		for i, s := range subs {
			if !c.compatibleWithAll(d, s) {
				continue
			}
			if cost := geo.HaversineKm(d.Pickup, geo.Centroid(pickups(s))); cost < bestCost {
				best, bestCost = i, cost
			}
		}
		if best < 0 {
			subs = append(subs, []drop.Drop{d})
			continue
		}
		subs[best] = append(subs[best], d)
	}
	return subs
}

func (c *Clusterer) compatibleWithAll(d drop.Drop, group []drop.Drop) bool {
	for _, m := range group {
		if !Compatible(d, m, c.cfg.Travel) {
			return false
		}
	}
	return true
}

// consolidate moves drops out of smaller groups into larger groups that still have room,
// when the drop is near the receiver's centroid and window-compatible with its members.
// Every move widens the size gap between two groups, so the loop terminates.
func (c *Clusterer) consolidate(groups [][]drop.Drop, maxPerCluster int) [][]drop.Drop {
	for {
		sort.SliceStable(groups, func(i, j int) bool {
			if len(groups[i]) != len(groups[j]) {
				return len(groups[i]) > len(groups[j])
			}
			return minID(groups[i]) < minID(groups[j])
		})
		moved := false
		for ri := range groups {
			receiver := groups[ri]
			if len(receiver) == 0 || len(receiver) >= maxPerCluster {
				continue
			}
			center := geo.Centroid(pickups(receiver))
			donor, member := -1, -1
			bestDist := math.Inf(1)
			var bestID types.ID
			for di := range groups {
				if len(groups[di]) == 0 || len(groups[di]) >= len(receiver) {
					continue
				}
				for mi, d := range groups[di] {
					dist := geo.HaversineKm(d.Pickup, center)
					if dist > c.cfg.ConsolidateRadiusKm || !c.compatibleWithAll(d, receiver) {
						continue
					}
					if dist < bestDist || (dist == bestDist && d.ID < bestID) {
						donor, member, bestDist, bestID = di, mi, dist, d.ID
					}
				}
			}
			if donor < 0 {
				continue
			}
			d := groups[donor][member]
			groups[ri] = append(append([]drop.Drop(nil), receiver...), d)
			groups[donor] = append(append([]drop.Drop(nil), groups[donor][:member]...), groups[donor][member+1:]...)
			moved = true
			break
		}
		if !moved {
			break
		}
	}
	out := groups[:0]
	for _, g := range groups {
		if len(g) > 0 {
			out = append(out, g)
		}
	}
	return out
}

func pickups(ds []drop.Drop) []types.Point {
	out := make([]types.Point, len(ds))
	for i, d := range ds {
		out[i] = d.Pickup
	}
	return out
}

func minID(ds []drop.Drop) types.ID {
	if len(ds) == 0 {
		return ""
	}
	m := ds[0].ID
	for _, d := range ds[1:] {
		if d.ID < m {
			m = d.ID
		}
	}
	return m
}
