// README: Route lifecycle events pushed to dashboards and drivers.
package broadcast

import (
	"context"
	"errors"
	"time"

	"multidrop/internal/modules/route"
	"multidrop/internal/types"
)

type EventType string

const (
	EventRouteCreated   EventType = "route.created"
	EventRouteAssigned  EventType = "route.assigned"
	EventRouteCancelled EventType = "route.cancelled"
	EventRouteStarted   EventType = "route.started"
	EventRouteCompleted EventType = "route.completed"
	EventRouteFlagged   EventType = "route.flagged"
	EventOverflowAlert  EventType = "overflow.alert"
)

// StopSummary is the slice of a Stop that dashboards and driver apps render.
type StopSummary struct {
	Sequence int          `json:"sequence"`
	DropID   types.ID     `json:"drop_id"`
	Action   route.Action `json:"action"`
	Postcode string       `json:"postcode,omitempty"`
}

type Event struct {
	Type     EventType     `json:"type"`
	RouteID  types.ID      `json:"route_id,omitempty"`
	RunID    types.ID      `json:"run_id,omitempty"`
	Status   route.Status  `json:"status,omitempty"`
	DriverID *types.ID     `json:"driver_id,omitempty"`
	Stops    []StopSummary `json:"stops,omitempty"`
	DropIDs  []types.ID    `json:"drop_ids,omitempty"`
	Note     string        `json:"note,omitempty"`
	At       time.Time     `json:"at"`
}

// RouteEvent snapshots r: its status, driver and stop order at publish time.
func RouteEvent(t EventType, r route.Route) Event {
	return Event{
		Type:     t,
		RouteID:  r.ID,
		RunID:    r.RunID,
		Status:   r.Status,
		DriverID: r.DriverID,
		Stops:    SummarizeStops(r.Stops),
		DropIDs:  r.DropIDs(),
	}
}

func SummarizeStops(stops []route.Stop) []StopSummary {
	if len(stops) == 0 {
		return nil
	}
	out := make([]StopSummary, len(stops))
	for i, s := range stops {
		seq := s.Sequence
		if seq == 0 {
			seq = i + 1
		}
		out[i] = StopSummary{Sequence: seq, DropID: s.DropID, Action: s.Action, Postcode: s.Postcode}
	}
	return out
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Fanout delivers to every publisher and joins their errors; one failing sink does not stop the rest.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
