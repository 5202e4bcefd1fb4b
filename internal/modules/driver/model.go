// README: Driver availability record with vehicle capacity, current load and last known position.
package driver

import (
	"errors"
	"time"

	"multidrop/internal/modules/capacity"
	"multidrop/internal/types"
)

var ErrNotFound = errors.New("driver not found")

type Status string

const (
	StatusAvailable Status = "available"
	StatusBusy      Status = "busy"
	StatusOffline   Status = "offline"
)

type Driver struct {
	ID         types.ID          `json:"id"`
	Name       string            `json:"name"`
	Status     Status            `json:"status"`
	Capacity   capacity.Capacity `json:"capacity"`
	Load       capacity.Load     `json:"load"`
	Location   types.Point       `json:"location"`
	LastSeenAt time.Time         `json:"last_seen_at"`
}

// Headroom is what the vehicle can still take on top of its current load.
func (d Driver) Headroom() capacity.Capacity {
	return d.Capacity.Headroom(d.Load)
}
