// README: CSV codecs for the simulator: drops in, planned stops out.
package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jszwec/csvutil"

	"multidrop/internal/modules/drop"
	"multidrop/internal/modules/route"
	"multidrop/internal/types"
)

// dropRow mirrors one line of the drops CSV. Windows are RFC3339.
type dropRow struct {
	ID               string  `csv:"id"`
	PickupLat        float64 `csv:"pickup_lat,omitempty"`
	PickupLng        float64 `csv:"pickup_lng,omitempty"`
	DeliveryLat      float64 `csv:"delivery_lat,omitempty"`
	DeliveryLng      float64 `csv:"delivery_lng,omitempty"`
	PickupPostcode   string  `csv:"pickup_postcode,omitempty"`
	DeliveryPostcode string  `csv:"delivery_postcode,omitempty"`
	PickupFrom       string  `csv:"pickup_from"`
	PickupTo         string  `csv:"pickup_to"`
	DeliveryFrom     string  `csv:"delivery_from"`
	DeliveryTo       string  `csv:"delivery_to"`
	Volume           float64 `csv:"volume_m3"`
	Weight           float64 `csv:"weight_kg"`
	Flags            string  `csv:"flags,omitempty"`
}

func readDrops(r io.Reader) ([]drop.Drop, error) {
	var rows []dropRow
	dec, err := csvutil.NewDecoder(csv.NewReader(r))
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("drops csv: %w", err)
	}
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode drops csv: %w", err)
	}

	drops := make([]drop.Drop, 0, len(rows))
	for i, row := range rows {
		d, err := row.toDrop()
		if err != nil {
			return nil, fmt.Errorf("drops csv line %d: %w", i+2, err)
		}
		drops = append(drops, d)
	}
	return drops, nil
}

func (r dropRow) toDrop() (drop.Drop, error) {
	if strings.TrimSpace(r.ID) == "" {
		return drop.Drop{}, fmt.Errorf("missing id")
	}
	var windows [4]time.Time
	for i, raw := range []string{r.PickupFrom, r.PickupTo, r.DeliveryFrom, r.DeliveryTo} {
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return drop.Drop{}, fmt.Errorf("window %q: %w", raw, err)
		}
		windows[i] = t
	}
	d := drop.Drop{
		ID:               types.ID(r.ID),
		Pickup:           types.Point{Lat: r.PickupLat, Lng: r.PickupLng},
		Delivery:         types.Point{Lat: r.DeliveryLat, Lng: r.DeliveryLng},
		PickupPostcode:   r.PickupPostcode,
		DeliveryPostcode: r.DeliveryPostcode,
		PickupWindow:     drop.TimeWindow{Earliest: windows[0], Latest: windows[1]},
		DeliveryWindow:   drop.TimeWindow{Earliest: windows[2], Latest: windows[3]},
		Volume:           r.Volume,
		Weight:           r.Weight,
		Status:           drop.StatusPending,
	}
	if r.Flags != "" {
		for _, f := range strings.Split(r.Flags, "|") {
			if f = strings.TrimSpace(f); f != "" {
				d.Flags = append(d.Flags, f)
			}
		}
	}
	return d, nil
}

type stopRow struct {
	RouteID  string  `csv:"route_id"`
	Sequence int     `csv:"sequence"`
	DropID   string  `csv:"drop_id"`
	Action   string  `csv:"action"`
	Lat      float64 `csv:"lat"`
	Lng      float64 `csv:"lng"`
	ArriveAt string  `csv:"arrive_at"`
	Volume   float64 `csv:"load_volume_m3"`
	Weight   float64 `csv:"load_weight_kg"`
}

func writeStops(w io.Writer, routes []route.Route) error {
	var rows []stopRow
	for _, r := range routes {
		for _, s := range r.Stops {
			arrive := ""
			if !s.ArriveAt.IsZero() {
				arrive = s.ArriveAt.Format(time.RFC3339)
			}
			rows = append(rows, stopRow{
				RouteID:  string(r.ID),
				Sequence: s.Sequence,
				DropID:   string(s.DropID),
				Action:   string(s.Action),
				Lat:      s.Location.Lat,
				Lng:      s.Location.Lng,
				ArriveAt: arrive,
				Volume:   s.LoadAfter.Volume,
				Weight:   s.LoadAfter.Weight,
			})
		}
	}
	if len(rows) == 0 {
		return nil
	}
	out, err := csvutil.Marshal(rows)
	if err != nil {
		return fmt.Errorf("encode stops csv: %w", err)
	}
	_, err = w.Write(out)
	return err
}
