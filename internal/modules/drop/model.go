// README: Drop aggregate (one pickup+delivery demand unit), time windows and status definitions.
package drop

import (
	"errors"
	"time"

	"multidrop/internal/modules/capacity"
	"multidrop/internal/types"
)

var (
	ErrNotFound           = errors.New("drop not found")
	ErrConflict           = errors.New("drop status conflict")
	ErrInvalidState       = errors.New("invalid drop state transition")
	ErrMissingCoordinates = errors.New("drop missing pickup or delivery coordinates")
	ErrMissingWindow      = errors.New("drop missing pickup or delivery time window")
	ErrInvalidLoad        = errors.New("drop volume and weight must be non-negative")
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusClustered  Status = "clustered"
	StatusRouted     Status = "routed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// AllowedTransitions is the drop lifecycle. clustered and routed fall back to pending when
// their route is cancelled; in_progress onward is owned by execution tracking.
var AllowedTransitions = map[Status][]Status{
	StatusPending:    {StatusClustered},
	StatusClustered:  {StatusRouted, StatusPending},
	StatusRouted:     {StatusInProgress, StatusPending},
	StatusInProgress: {StatusCompleted, StatusFailed},
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

// TimeWindow is an inclusive [Earliest, Latest] service interval.
type TimeWindow struct {
	Earliest time.Time `json:"earliest"`
	Latest   time.Time `json:"latest"`
}

func (w TimeWindow) Valid() bool {
	if w.Earliest.IsZero() || w.Latest.IsZero() {
		return false
	}
	return !w.Latest.Before(w.Earliest)
}

func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.Earliest) && !t.After(w.Latest)
}

type Drop struct {
	ID               types.ID    `json:"id"`
	Pickup           types.Point `json:"pickup"`
	Delivery         types.Point `json:"delivery"`
	PickupPostcode   string      `json:"pickup_postcode,omitempty"`
	DeliveryPostcode string      `json:"delivery_postcode,omitempty"`
	PickupWindow     TimeWindow  `json:"pickup_window"`
	DeliveryWindow   TimeWindow  `json:"delivery_window"`
	Volume           float64     `json:"volume_m3"`
	Weight           float64     `json:"weight_kg"`
	Flags            []string    `json:"flags,omitempty"`
	Status           Status      `json:"status"`
	StatusVersion    int         `json:"status_version"`
	CreatedAt        time.Time   `json:"created_at"`
}

// Load is what the drop adds to the vehicle at pickup and removes at delivery.
func (d Drop) Load() capacity.Load {
	return capacity.Load{Volume: d.Volume, Weight: d.Weight}
}

func (d Drop) HasWindows() bool {
	return d.PickupWindow.Valid() && d.DeliveryWindow.Valid()
}

func (d Drop) HasCoordinates() bool {
	return d.Pickup.Valid() && d.Delivery.Valid()
}

// Validate checks a drop is routable. Windows are checked before coordinates because a missing
// coordinate can still be resolved from a postcode.
func (d Drop) Validate() error {
	if !d.HasWindows() {
		return ErrMissingWindow
	}
	if !d.HasCoordinates() {
		return ErrMissingCoordinates
	}
	if d.Volume < 0 || d.Weight < 0 {
		return ErrInvalidLoad
	}
	return nil
}

func IDs(drops []Drop) []types.ID {
	out := make([]types.ID, len(drops))
	for i, d := range drops {
		out[i] = d.ID
	}
	return out
}
