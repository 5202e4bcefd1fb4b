// README: Builds a feasible stop sequence for one cluster: cheapest insertion of pickup/delivery pairs
// followed by a capped adjacent-swap improvement pass.
package planner

import (
	"fmt"
	"math"
	"sort"
	"time"

	"multidrop/internal/geo"
	"multidrop/internal/modules/capacity"
	"multidrop/internal/modules/drop"
	"multidrop/internal/modules/route"
	"multidrop/internal/types"
)

const DefaultMaxImprovePasses = 10

type Config struct {
	Travel           geo.TravelModel
	MaxImprovePasses int
}

type Planner struct {
	cfg Config
}

func New(cfg Config) *Planner {
	if cfg.Travel.SpeedKmh <= 0 {
		cfg.Travel = geo.DefaultTravelModel()
	}
	if cfg.MaxImprovePasses <= 0 {
		cfg.MaxImprovePasses = DefaultMaxImprovePasses
	}
	return &Planner{cfg: cfg}
}

// Plan sequences drops under c. Drops that fit nowhere are listed in Candidate.Excluded;
// feasible is false only when nothing could be placed.
func (p *Planner) Plan(drops []drop.Drop, c capacity.Capacity) (Candidate, bool, string) {
	byID := make(map[types.ID]drop.Drop, len(drops))
	remaining := make([]drop.Drop, 0, len(drops))
	for _, d := range drops {
		byID[d.ID] = d
		remaining = append(remaining, d)
	}
	sort.SliceStable(remaining, func(i, j int) bool {
		ei, ej := remaining[i].PickupWindow.Earliest, remaining[j].PickupWindow.Earliest
		if !ei.Equal(ej) {
			return ei.Before(ej)
		}
		return remaining[i].ID < remaining[j].ID
	})

	var cand Candidate
	var seq []route.Stop
	for len(remaining) > 0 {
		idx := 0
		if len(seq) > 0 {
			idx = nearestToSequence(remaining, seq)
		}
		d := remaining[idx]
		remaining = append(remaining[:idx:idx], remaining[idx+1:]...)

		next, ok := p.bestInsertion(seq, d, c)
		if !ok {
			cand.Excluded = append(cand.Excluded, Exclusion{DropID: d.ID, Reason: exclusionReason(d, c, len(cand.Placed))})
			continue
		}
		seq = next
		cand.Placed = append(cand.Placed, d.ID)
	}

	if len(cand.Placed) == 0 {
		reason := "no drops to plan"
		if len(cand.Excluded) > 0 {
			reason = "no drop could be placed: " + cand.Excluded[0].Reason
		}
		return cand, false, reason
	}

	seq = p.improve(seq, c)
	cand.Stops = seq
	cand.DistanceKm = geo.PathKm(locations(seq))
	last := seq[len(seq)-1]
	cand.Duration = last.ArriveAt.Add(p.cfg.Travel.ServiceTime).Sub(seq[0].ArriveAt)
	for _, s := range seq {
		cand.Peak = cand.Peak.Max(s.LoadAfter)
	}
	cand.Score = Score(seq, byID, c)
	return cand, true, ""
}

// nearestToSequence picks the unplaced drop whose pickup is closest to any stop already placed.
// remaining is ordered by pickup window, so ties favour the earlier window.
func nearestToSequence(remaining []drop.Drop, seq []route.Stop) int {
	best, bestDist := 0, math.Inf(1)
	for i, d := range remaining {
		for _, s := range seq {
			if dist := geo.HaversineKm(d.Pickup, s.Location); dist < bestDist {
				best, bestDist = i, dist
			}
		}
	}
	return best
}

// bestInsertion tries every pickup position i and delivery position j > i and keeps the feasible
// sequence with the least added distance.
func (p *Planner) bestInsertion(seq []route.Stop, d drop.Drop, c capacity.Capacity) ([]route.Stop, bool) {
	pickup, delivery := route.StopsFor(d)
	baseKm := geo.PathKm(locations(seq))

	var best []route.Stop
	bestAdded := math.Inf(1)
	for i := 0; i <= len(seq); i++ {
		for j := i; j <= len(seq); j++ {
			trial := make([]route.Stop, 0, len(seq)+2)
			trial = append(trial, seq[:i]...)
			trial = append(trial, pickup)
			trial = append(trial, seq[i:j]...)
			trial = append(trial, delivery)
			trial = append(trial, seq[j:]...)

			simulated, ok, _ := p.simulate(trial, c)
			if !ok {
				continue
			}
			if added := geo.PathKm(locations(simulated)) - baseKm; added < bestAdded-1e-9 {
				best, bestAdded = simulated, added
			}
		}
	}
	return best, best != nil
}

// improve swaps adjacent stops while the swap shortens the route and stays feasible.
func (p *Planner) improve(seq []route.Stop, c capacity.Capacity) []route.Stop {
	current := geo.PathKm(locations(seq))
	for pass := 0; pass < p.cfg.MaxImprovePasses; pass++ {
		improved := false
		for i := 0; i+1 < len(seq); i++ {
			trial := make([]route.Stop, len(seq))
			copy(trial, seq)
			trial[i], trial[i+1] = trial[i+1], trial[i]
			simulated, ok, _ := p.simulate(trial, c)
			if !ok {
				continue
			}
			if km := geo.PathKm(locations(simulated)); km < current-1e-9 {
				seq, current, improved = simulated, km, true
			}
		}
		if !improved {
			break
		}
	}
	return seq
}

// simulate walks the sequence assigning 1-based sequence numbers, arrival times and running load.
// The vehicle reaches the first stop when its window opens and waits at early arrivals.
func (p *Planner) simulate(stops []route.Stop, c capacity.Capacity) ([]route.Stop, bool, string) {
	out := make([]route.Stop, len(stops))
	picked := make(map[types.ID]bool, len(stops)/2)
	var load capacity.Load
	var depart time.Time
	for i, s := range stops {
		s.Sequence = i + 1
		switch s.Action {
		case route.ActionPickup:
			picked[s.DropID] = true
			if c.MaxDrops > 0 && len(picked) > c.MaxDrops {
				return nil, false, "drop limit"
			}
			if len(picked) > 1 && !c.MultiDrop {
				return nil, false, "single drop vehicle"
			}
		case route.ActionDelivery:
			if !picked[s.DropID] {
				return nil, false, "delivery before pickup"
			}
		}

		arrive := s.Window.Earliest
		if i > 0 {
			arrive = depart.Add(p.cfg.Travel.Between(out[i-1].Location, s.Location))
		}
		if arrive.After(s.Window.Latest) {
			return nil, false, "time window"
		}
		s.ArriveAt = arrive
		start := arrive
		if start.Before(s.Window.Earliest) {
			start = s.Window.Earliest
		}
		depart = start.Add(p.cfg.Travel.ServiceTime)

		load = load.Add(s.Delta())
		if !c.Fits(load) {
			return nil, false, "capacity"
		}
		s.LoadAfter = load
		out[i] = s
	}
	return out, true, ""
}

func exclusionReason(d drop.Drop, c capacity.Capacity, placed int) string {
	l := d.Load()
	switch {
	case l.Volume > c.MaxVolume:
		return fmt.Sprintf("volume %.1fm³ exceeds vehicle capacity %.1fm³", l.Volume, c.MaxVolume)
	case l.Weight > c.MaxWeight:
		return fmt.Sprintf("weight %.0fkg exceeds vehicle capacity %.0fkg", l.Weight, c.MaxWeight)
	case c.MaxDrops > 0 && placed >= c.MaxDrops:
		return fmt.Sprintf("route already holds the maximum of %d drops", c.MaxDrops)
	case placed > 0 && !c.MultiDrop:
		return "vehicle is not multi-drop capable"
	default:
		return "no position satisfies time windows and running capacity"
	}
}
