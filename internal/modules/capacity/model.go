// README: Vehicle capacity limits, load deltas and tier safety buffers.
package capacity

import (
	"errors"
	"fmt"
)

var ErrUnknownTier = errors.New("unknown vehicle tier")

// epsilon absorbs float drift from adding and removing the same loads along a route.
const epsilon = 1e-9

// Capacity describes what one vehicle can carry. Volume is in m³, weight in kg.
type Capacity struct {
	MaxVolume float64 `json:"max_volume" yaml:"max_volume"`
	MaxWeight float64 `json:"max_weight" yaml:"max_weight"`
	MaxDrops  int     `json:"max_drops" yaml:"max_drops"`
	MultiDrop bool    `json:"multi_drop" yaml:"multi_drop"`
}

// Load is the volume/weight aboard, or the delta a stop contributes.
type Load struct {
	Volume float64 `json:"volume"`
	Weight float64 `json:"weight"`
}

func (l Load) Add(d Load) Load {
	return Load{Volume: l.Volume + d.Volume, Weight: l.Weight + d.Weight}
}

func (l Load) Sub(d Load) Load {
	return Load{Volume: l.Volume - d.Volume, Weight: l.Weight - d.Weight}
}

// Max is the component-wise maximum.
func (l Load) Max(o Load) Load {
	if o.Volume > l.Volume {
		l.Volume = o.Volume
	}
	if o.Weight > l.Weight {
		l.Weight = o.Weight
	}
	return l
}

func (l Load) Negative() bool {
	return l.Volume < -epsilon || l.Weight < -epsilon
}

// LutonVan is the standard multi-drop vehicle.
func LutonVan() Capacity {
	return Capacity{MaxVolume: 15, MaxWeight: 1000, MaxDrops: 5, MultiDrop: true}
}

// Fits reports whether 0 <= load <= capacity for volume and weight independently.
func (c Capacity) Fits(l Load) bool {
	return c.FitsVolume(l) && c.FitsWeight(l)
}

func (c Capacity) FitsVolume(l Load) bool {
	return l.Volume >= -epsilon && l.Volume <= c.MaxVolume+epsilon
}

func (c Capacity) FitsWeight(l Load) bool {
	return l.Weight >= -epsilon && l.Weight <= c.MaxWeight+epsilon
}

// Utilization returns the load as a percentage of volume and weight limits.
func (c Capacity) Utilization(l Load) (volumePct, weightPct float64) {
	if c.MaxVolume > 0 {
		volumePct = l.Volume / c.MaxVolume * 100
	}
	if c.MaxWeight > 0 {
		weightPct = l.Weight / c.MaxWeight * 100
	}
	return volumePct, weightPct
}

// Headroom is the capacity left once l is aboard. Drop count is untouched.
func (c Capacity) Headroom(l Load) Capacity {
	out := c
	out.MaxVolume -= l.Volume
	out.MaxWeight -= l.Weight
	if out.MaxVolume < 0 {
		out.MaxVolume = 0
	}
	if out.MaxWeight < 0 {
		out.MaxWeight = 0
	}
	return out
}

// CanCarry reports whether a vehicle with this capacity can run a route whose peak load is peak
// and which visits drops distinct drops.
func (c Capacity) CanCarry(peak Load, drops int) bool {
	if !c.Fits(peak) {
		return false
	}
	if c.MaxDrops > 0 && drops > c.MaxDrops {
		return false
	}
	return drops <= 1 || c.MultiDrop
}

func (c Capacity) String() string {
	return fmt.Sprintf("%.1fm³/%.0fkg/%d drops", c.MaxVolume, c.MaxWeight, c.MaxDrops)
}

type Tier string

const (
	TierEconomy  Tier = "economy"
	TierStandard Tier = "standard"
	TierExpress  Tier = "express"
)

// SafetyBuffer is the fraction of volume and weight held back from planning.
type SafetyBuffer struct {
	Volume float64
	Weight float64
}

var TierBuffers = map[Tier]SafetyBuffer{
	TierEconomy:  {Volume: 0.05, Weight: 0.10},
	TierStandard: {Volume: 0.10, Weight: 0.10},
	TierExpress:  {Volume: 0.15, Weight: 0.15},
}

func ParseTier(v string) (Tier, error) {
	t := Tier(v)
	if _, ok := TierBuffers[t]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, v)
	}
	return t, nil
}

// WithBuffer returns the plannable capacity for a tier. An empty tier means no buffer.
func (c Capacity) WithBuffer(t Tier) Capacity {
	b, ok := TierBuffers[t]
	if !ok {
		return c
	}
	out := c
	out.MaxVolume = c.MaxVolume * (1 - b.Volume)
	out.MaxWeight = c.MaxWeight * (1 - b.Weight)
	return out
}
