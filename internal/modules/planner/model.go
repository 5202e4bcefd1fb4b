// README: Route candidate produced by the planner, with overflow exclusions and the route score.
package planner

import (
	"math"
	"time"

	"multidrop/internal/geo"
	"multidrop/internal/modules/capacity"
	"multidrop/internal/modules/drop"
	"multidrop/internal/modules/route"
	"multidrop/internal/types"
)

// Exclusion is a drop the planner could not place; it goes back to pending as overflow.
type Exclusion struct {
	DropID types.ID `json:"drop_id"`
	Reason string   `json:"reason"`
}

// Candidate is an in-memory, not yet persisted route proposal.
type Candidate struct {
	Stops      []route.Stop
	DistanceKm float64
	Duration   time.Duration
	Score      float64
	Peak       capacity.Load
	Placed     []types.ID
	Excluded   []Exclusion
}

// Route materialises the candidate as a planned route.
func (c Candidate) Route(id, runID types.ID) route.Route {
	stops := make([]route.Stop, len(c.Stops))
	copy(stops, c.Stops)
	return route.Route{
		ID:         id,
		RunID:      runID,
		Status:     route.StatusPlanned,
		Stops:      stops,
		DistanceKm: c.DistanceKm,
		Duration:   c.Duration,
		Score:      c.Score,
	}
}

const (
	utilizationWeight = 0.6
	directnessWeight  = 0.4
)

// Score rates a route in [0, 100]. Utilization is the peak share of the tighter of volume and
// weight. Directness is the summed pickup→delivery distance over the driven distance, so a route
// with few detours scores close to 1.
func Score(stops []route.Stop, drops map[types.ID]drop.Drop, c capacity.Capacity) float64 {
	if len(stops) == 0 {
		return 0
	}
	var peak capacity.Load
	for _, s := range stops {
		peak = peak.Max(s.LoadAfter)
	}
	volPct, wtPct := c.Utilization(peak)
	util := math.Min(math.Max(volPct, wtPct)/100, 1)

	driven := geo.PathKm(locations(stops))
	direct := 0.0
	for _, s := range stops {
		if s.Action != route.ActionPickup {
			continue
		}
		if d, ok := drops[s.DropID]; ok {
			direct += geo.HaversineKm(d.Pickup, d.Delivery)
		}
	}
	directness := 1.0
	if driven > 0 {
		directness = math.Min(direct/driven, 1)
	}
	return math.Round((utilizationWeight*util+directnessWeight*directness)*10000) / 100
}

func locations(stops []route.Stop) []types.Point {
	out := make([]types.Point, len(stops))
	for i, s := range stops {
		out[i] = s.Location
	}
	return out
}
