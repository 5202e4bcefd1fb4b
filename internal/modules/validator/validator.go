// README: Independent stop-by-stop re-simulation of a route; the final authority on feasibility.
package validator

import (
	"fmt"
	"sort"
	"time"

	"multidrop/internal/geo"
	"multidrop/internal/modules/capacity"
	"multidrop/internal/modules/route"
	"multidrop/internal/types"
)

// RecommendedMaxDrops applies when the capacity itself sets no drop limit.
const RecommendedMaxDrops = 5

type Config struct {
	Travel geo.TravelModel
	// Tier marks legs that eat into the tier's safety buffer. Empty disables the check.
	Tier capacity.Tier
}

type Validator struct {
	cfg Config
}

func New(cfg Config) *Validator {
	if cfg.Travel.SpeedKmh <= 0 {
		cfg.Travel = geo.DefaultTravelModel()
	}
	return &Validator{cfg: cfg}
}

func (v *Validator) ValidateRoute(r route.Route, c capacity.Capacity) Report {
	return v.Validate(r.Stops, c)
}

// Validate walks the stops from an empty vehicle and records every failing point instead of
// stopping at the first. Arrival times are recomputed from the travel model, starting when the
// first stop's window opens. Stops without a window are not time-checked.
func (v *Validator) Validate(stops []route.Stop, c capacity.Capacity) Report {
	rep := Report{Capacity: c, Legs: make([]Leg, 0, len(stops))}
	buffered := c.WithBuffer(v.cfg.Tier)

	picked := make(map[types.ID]bool)
	delivered := make(map[types.ID]bool)
	var load capacity.Load
	var clock time.Time
	var prev types.Point

	for i, s := range stops {
		seq := i + 1
		arrive := v.arrival(i, s, clock, prev)

		switch s.Action {
		case route.ActionPickup:
			if picked[s.DropID] {
				rep.Warnings = append(rep.Warnings, fmt.Sprintf("stop %d: drop %s picked up twice", seq, s.DropID))
			}
			if delivered[s.DropID] {
				rep.Violations = append(rep.Violations, Violation{
					Sequence: seq, DropID: s.DropID, Kind: KindPickupAfterDelivery,
					Message: fmt.Sprintf("drop %s is picked up after its delivery", s.DropID),
				})
			}
			picked[s.DropID] = true
			if c.MaxDrops > 0 && len(picked) > c.MaxDrops {
				rep.Violations = append(rep.Violations, Violation{
					Sequence: seq, DropID: s.DropID, Kind: KindDropCountExceeded,
					Message: fmt.Sprintf("%d drops exceed the vehicle limit of %d", len(picked), c.MaxDrops),
					Value:   float64(len(picked)), Limit: float64(c.MaxDrops),
				})
			}
		case route.ActionDelivery:
			if !picked[s.DropID] {
				rep.Violations = append(rep.Violations, Violation{
					Sequence: seq, DropID: s.DropID, Kind: KindPickupAfterDelivery,
					Message: fmt.Sprintf("drop %s is delivered before it is picked up", s.DropID),
				})
			}
			delivered[s.DropID] = true
		}

		load = load.Add(s.Delta())
		if load.Negative() {
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("stop %d: load went negative (%.2fm³, %.1fkg), clamped to zero", seq, load.Volume, load.Weight))
			load = clampZero(load)
		}

		status := LegOK
		if !c.FitsVolume(load) {
			status = LegOver
			rep.Violations = append(rep.Violations, Violation{
				Sequence: seq, DropID: s.DropID, Kind: KindVolumeExceeded,
				Message: fmt.Sprintf("volume %.2fm³ exceeds %.2fm³", load.Volume, c.MaxVolume),
				Value:   load.Volume, Limit: c.MaxVolume,
			})
		}
		if !c.FitsWeight(load) {
			status = LegOver
			rep.Violations = append(rep.Violations, Violation{
				Sequence: seq, DropID: s.DropID, Kind: KindWeightExceeded,
				Message: fmt.Sprintf("weight %.1fkg exceeds %.1fkg", load.Weight, c.MaxWeight),
				Value:   load.Weight, Limit: c.MaxWeight,
			})
		}
		if status == LegOK && v.cfg.Tier != "" && !buffered.Fits(load) {
			status = LegBuffer
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("stop %d: load enters the %s safety buffer", seq, v.cfg.Tier))
		}

		if s.Window.Valid() && !arrive.IsZero() && arrive.After(s.Window.Latest) {
			rep.Violations = append(rep.Violations, Violation{
				Sequence: seq, DropID: s.DropID, Kind: KindTimeWindowMissed,
				Message: fmt.Sprintf("arrives %s, window closes %s", arrive.Format(time.RFC3339), s.Window.Latest.Format(time.RFC3339)),
				Value:   arrive.Sub(s.Window.Latest).Minutes(),
			})
		}

		volPct, wtPct := c.Utilization(load)
		rep.Legs = append(rep.Legs, Leg{
			Sequence: seq, DropID: s.DropID, Action: s.Action, ArriveAt: arrive,
			Load: load, VolumePct: volPct, WeightPct: wtPct, Status: status,
		})
		if load.Volume > rep.Peak.Volume {
			rep.Peak.Volume, rep.PeakVolumeAt = load.Volume, seq
		}
		if load.Weight > rep.Peak.Weight {
			rep.Peak.Weight, rep.PeakWeightAt = load.Weight, seq
		}

		if i > 0 && prev.Valid() && s.Location.Valid() {
			rep.DistanceKm += geo.HaversineKm(prev, s.Location)
		}
		prev = s.Location
		clock = v.departure(arrive, s)
	}

	var unpaired []string
	for id := range picked {
		if !delivered[id] {
			unpaired = append(unpaired, string(id))
		}
	}
	sort.Strings(unpaired)
	for _, id := range unpaired {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("drop %s is picked up but never delivered", id))
	}
	if c.MaxDrops == 0 && len(picked) > RecommendedMaxDrops {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("%d drops exceed the recommended maximum of %d", len(picked), RecommendedMaxDrops))
	}
	rep.VolumeUtilization, rep.WeightUtilization = c.Utilization(rep.Peak)
	rep.OK = len(rep.Violations) == 0
	return rep
}

func (v *Validator) arrival(i int, s route.Stop, clock time.Time, prev types.Point) time.Time {
	if i == 0 || clock.IsZero() {
		if s.Window.Valid() {
			return s.Window.Earliest
		}
		return s.ArriveAt
	}
	if !prev.Valid() || !s.Location.Valid() {
		return clock
	}
	return clock.Add(v.cfg.Travel.Between(prev, s.Location))
}

func (v *Validator) departure(arrive time.Time, s route.Stop) time.Time {
	if arrive.IsZero() {
		return time.Time{}
	}
	start := arrive
	if s.Window.Valid() && start.Before(s.Window.Earliest) {
		start = s.Window.Earliest
	}
	return start.Add(v.cfg.Travel.ServiceTime)
}

func clampZero(l capacity.Load) capacity.Load {
	if l.Volume < 0 {
		l.Volume = 0
	}
	if l.Weight < 0 {
		l.Weight = 0
	}
	return l
}
