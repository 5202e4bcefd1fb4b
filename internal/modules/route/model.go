// README: Route aggregate, stops with running load snapshots, and status definitions.
package route

import (
	"errors"
	"time"

	"multidrop/internal/modules/capacity"
	"multidrop/internal/modules/drop"
	"multidrop/internal/types"
)

var (
	ErrNotFound     = errors.New("route not found")
	ErrConflict     = errors.New("route status conflict")
	ErrInvalidState = errors.New("invalid route state transition")
	// ErrDropConflict means a drop is already held by another non-terminal route.
	ErrDropConflict = errors.New("drop already assigned to a route")
)

type Status string

const (
	StatusPlanned   Status = "planned"
	StatusAssigned  Status = "assigned"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var AllowedTransitions = map[Status][]Status{
	StatusPlanned:  {StatusAssigned, StatusCancelled},
	StatusAssigned: {StatusActive, StatusPlanned, StatusCancelled},
	StatusActive:   {StatusCompleted},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a route no longer holds its drops.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Action string

const (
	ActionPickup   Action = "pickup"
	ActionDelivery Action = "delivery"
)

// Stop is one leg endpoint. Sequence is 1-based; LoadAfter is what is aboard once the stop is served.
type Stop struct {
	Sequence  int             `json:"sequence"`
	DropID    types.ID        `json:"drop_id"`
	Action    Action          `json:"action"`
	Location  types.Point     `json:"location"`
	Postcode  string          `json:"postcode,omitempty"`
	Window    drop.TimeWindow `json:"window"`
	Volume    float64         `json:"volume_m3"`
	Weight    float64         `json:"weight_kg"`
	ArriveAt  time.Time       `json:"arrive_at"`
	LoadAfter capacity.Load   `json:"load_after"`
}

// Delta is the signed load change this stop applies.
func (s Stop) Delta() capacity.Load {
	l := capacity.Load{Volume: s.Volume, Weight: s.Weight}
	if s.Action == ActionDelivery {
		return capacity.Load{}.Sub(l)
	}
	return l
}

// StopsFor expands a drop into its pickup and delivery stops.
func StopsFor(d drop.Drop) (pickup, delivery Stop) {
	pickup = Stop{
		DropID:   d.ID,
		Action:   ActionPickup,
		Location: d.Pickup,
		Postcode: d.PickupPostcode,
		Window:   d.PickupWindow,
		Volume:   d.Volume,
		Weight:   d.Weight,
	}
	delivery = Stop{
		DropID:   d.ID,
		Action:   ActionDelivery,
		Location: d.Delivery,
		Postcode: d.DeliveryPostcode,
		Window:   d.DeliveryWindow,
		Volume:   d.Volume,
		Weight:   d.Weight,
	}
	return pickup, delivery
}

type Route struct {
	ID            types.ID      `json:"id"`
	RunID         types.ID      `json:"run_id"`
	DriverID      *types.ID     `json:"driver_id,omitempty"`
	Status        Status        `json:"status"`
	StatusVersion int           `json:"status_version"`
	Stops         []Stop        `json:"stops"`
	DistanceKm    float64       `json:"distance_km"`
	Duration      time.Duration `json:"duration"`
	Score         float64       `json:"score"`
	NeedsReview   bool          `json:"needs_review"`
	ReviewNote    string        `json:"review_note,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// DropIDs lists each drop once, in order of first appearance.
func (r Route) DropIDs() []types.ID {
	seen := make(map[types.ID]bool, len(r.Stops)/2)
	out := make([]types.ID, 0, len(r.Stops)/2)
	for _, s := range r.Stops {
		if !seen[s.DropID] {
			seen[s.DropID] = true
			out = append(out, s.DropID)
		}
	}
	return out
}

// PeakLoad is the component-wise maximum of the recorded running loads.
func (r Route) PeakLoad() capacity.Load {
	var peak capacity.Load
	for _, s := range r.Stops {
		peak = peak.Max(s.LoadAfter)
	}
	return peak
}

func (r Route) FirstStop() (Stop, bool) {
	if len(r.Stops) == 0 {
		return Stop{}, false
	}
	return r.Stops[0], true
}
