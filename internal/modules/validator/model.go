// README: Leg-by-leg validation report types.
package validator

import (
	"time"

	"multidrop/internal/modules/capacity"
	"multidrop/internal/modules/route"
	"multidrop/internal/types"
)

type Kind string

const (
	KindVolumeExceeded      Kind = "volume_exceeded"
	KindWeightExceeded      Kind = "weight_exceeded"
	KindTimeWindowMissed    Kind = "time_window_missed"
	KindPickupAfterDelivery Kind = "pickup_after_delivery"
	KindDropCountExceeded   Kind = "drop_count_exceeded"
)

// Violation pins a failed constraint to the 1-based stop sequence where it fails.
type Violation struct {
	Sequence int      `json:"sequence"`
	DropID   types.ID `json:"drop_id"`
	Kind     Kind     `json:"kind"`
	Message  string   `json:"message"`
	Value    float64  `json:"value"`
	Limit    float64  `json:"limit"`
}

type LegStatus string

const (
	LegOK     LegStatus = "ok"
	LegBuffer LegStatus = "buffer"
	LegOver   LegStatus = "over"
)

// Leg is the state of the vehicle right after a stop is served.
type Leg struct {
	Sequence  int           `json:"sequence"`
	DropID    types.ID      `json:"drop_id"`
	Action    route.Action  `json:"action"`
	ArriveAt  time.Time     `json:"arrive_at,omitempty"`
	Load      capacity.Load `json:"load"`
	VolumePct float64       `json:"volume_pct"`
	WeightPct float64       `json:"weight_pct"`
	Status    LegStatus     `json:"status"`
}

type Report struct {
	OK                bool              `json:"ok"`
	Capacity          capacity.Capacity `json:"capacity"`
	Violations        []Violation       `json:"violations"`
	Legs              []Leg             `json:"legs"`
	Peak              capacity.Load     `json:"peak"`
	PeakVolumeAt      int               `json:"peak_volume_at"`
	PeakWeightAt      int               `json:"peak_weight_at"`
	VolumeUtilization float64           `json:"volume_utilization"`
	WeightUtilization float64           `json:"weight_utilization"`
	DistanceKm        float64           `json:"distance_km"`
	Warnings          []string          `json:"warnings"`
}

// ViolationsOf filters by kind.
func (r Report) ViolationsOf(kind Kind) []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Kind == kind {
			out = append(out, v)
		}
	}
	return out
}
