// README: LegValidator tests (per-stop violations, diagnostics, agreement with the planner).
package validator

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"multidrop/internal/geo"
	"multidrop/internal/modules/capacity"
	"multidrop/internal/modules/drop"
	"multidrop/internal/modules/planner"
	"multidrop/internal/modules/route"
	"multidrop/internal/types"
)

var base = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

var wideWindow = drop.TimeWindow{Earliest: base, Latest: base.Add(10 * time.Hour)}

func stop(dropID string, action route.Action, lat float64, volume, weight float64) route.Stop {
	return route.Stop{
		DropID:   types.ID(dropID),
		Action:   action,
		Location: types.Point{Lat: lat, Lng: -0.12},
		Window:   wideWindow,
		Volume:   volume,
		Weight:   weight,
	}
}

func newValidator() *Validator {
	return New(Config{Travel: geo.TravelModel{SpeedKmh: 30, ServiceTime: 10 * time.Minute}})
}

func TestValidate_WeightOverAtSecondStop(t *testing.T) {
	c := capacity.LutonVan() // 1000kg
	stops := []route.Stop{
		stop("A", route.ActionPickup, 51.500, 2, 600),
		stop("B", route.ActionPickup, 51.501, 2, 450), // 1050kg aboard: 105%
		stop("A", route.ActionDelivery, 51.502, 2, 600),
	}
	rep := newValidator().Validate(stops, c)
	if rep.OK {
		t.Fatal("expected ok=false")
	}
	if len(rep.Violations) != 1 {
		t.Fatalf("expected exactly one violation, got %+v", rep.Violations)
	}
	v := rep.Violations[0]
	if v.Kind != KindWeightExceeded || v.Sequence != 2 {
		t.Errorf("expected weight_exceeded at stop 2, got %s at %d", v.Kind, v.Sequence)
	}
	if rep.PeakWeightAt != 2 || rep.WeightUtilization < 104.9 {
		t.Errorf("unexpected peak %v at %d (%.1f%%)", rep.Peak, rep.PeakWeightAt, rep.WeightUtilization)
	}
	if rep.Legs[1].Status != LegOver || rep.Legs[2].Status != LegOK {
		t.Errorf("unexpected leg statuses %s/%s", rep.Legs[1].Status, rep.Legs[2].Status)
	}
	if len(rep.Warnings) != 1 || !strings.Contains(rep.Warnings[0], "never delivered") {
		t.Errorf("expected unpaired pickup warning, got %v", rep.Warnings)
	}
}

func TestValidate_ReportsEveryFailingStop(t *testing.T) {
	c := capacity.LutonVan()
	stops := []route.Stop{
		stop("A", route.ActionPickup, 51.500, 10, 100),
		stop("B", route.ActionPickup, 51.501, 8, 100), // 18m³
		stop("C", route.ActionPickup, 51.502, 1, 100), // 19m³
		stop("A", route.ActionDelivery, 51.503, 10, 100),
		stop("B", route.ActionDelivery, 51.504, 8, 100),
		stop("C", route.ActionDelivery, 51.505, 1, 100),
	}
	rep := newValidator().Validate(stops, c)
	got := rep.ViolationsOf(KindVolumeExceeded)
	if len(got) != 2 || got[0].Sequence != 2 || got[1].Sequence != 3 {
		t.Fatalf("expected volume violations at stops 2 and 3, got %+v", got)
	}
}

func TestValidate_DeliveryBeforePickup(t *testing.T) {
	stops := []route.Stop{
		stop("A", route.ActionDelivery, 51.500, 1, 10),
		stop("A", route.ActionPickup, 51.501, 1, 10),
	}
	rep := newValidator().Validate(stops, capacity.LutonVan())
	pv := rep.ViolationsOf(KindPickupAfterDelivery)
	if len(pv) != 2 || pv[0].Sequence != 1 || pv[1].Sequence != 2 {
		t.Fatalf("expected precedence violations at both stops, got %+v", rep.Violations)
	}
	clamped := false
	for _, w := range rep.Warnings {
		if strings.Contains(w, "clamped") {
			clamped = true
		}
	}
	if !clamped {
		t.Errorf("expected negative load warning, got %v", rep.Warnings)
	}
}

func TestValidate_TimeWindowMissed(t *testing.T) {
	first := stop("A", route.ActionPickup, 51.500, 1, 10)
	first.Window = drop.TimeWindow{Earliest: base, Latest: base.Add(5 * time.Minute)}
	far := stop("B", route.ActionPickup, 51.635, 1, 10) // ~15km: 30 minutes away
	far.Window = drop.TimeWindow{Earliest: base, Latest: base.Add(20 * time.Minute)}
	stops := []route.Stop{first, far, stop("A", route.ActionDelivery, 51.636, 1, 10), stop("B", route.ActionDelivery, 51.637, 1, 10)}

	rep := newValidator().Validate(stops, capacity.LutonVan())
	tw := rep.ViolationsOf(KindTimeWindowMissed)
	if len(tw) != 1 || tw[0].Sequence != 2 {
		t.Fatalf("expected a missed window at stop 2, got %+v", rep.Violations)
	}
}

func TestValidate_DropCountExceeded(t *testing.T) {
	c := capacity.Capacity{MaxVolume: 15, MaxWeight: 1000, MaxDrops: 2, MultiDrop: true}
	stops := []route.Stop{
		stop("A", route.ActionPickup, 51.500, 1, 10),
		stop("B", route.ActionPickup, 51.501, 1, 10),
		stop("C", route.ActionPickup, 51.502, 1, 10),
		stop("D", route.ActionPickup, 51.503, 1, 10),
	}
	rep := newValidator().Validate(stops, c)
	dc := rep.ViolationsOf(KindDropCountExceeded)
	if len(dc) != 2 || dc[0].Sequence != 3 || dc[1].Sequence != 4 {
		t.Fatalf("expected drop count violations at stops 3 and 4, got %+v", dc)
	}
	if dc[1].Value != 4 || dc[1].Limit != 2 {
		t.Errorf("expected 4 of 2 drops at stop 4, got %v of %v", dc[1].Value, dc[1].Limit)
	}
}

func TestValidate_SafetyBufferWarning(t *testing.T) {
	v := New(Config{Tier: capacity.TierExpress})
	stops := []route.Stop{
		stop("A", route.ActionPickup, 51.500, 14, 100), // inside 15m³, above 12.75m³ buffered
		stop("A", route.ActionDelivery, 51.501, 14, 100),
	}
	rep := v.Validate(stops, capacity.LutonVan())
	if !rep.OK {
		t.Fatalf("buffer use is a warning, not a violation: %+v", rep.Violations)
	}
	if rep.Legs[0].Status != LegBuffer {
		t.Errorf("expected buffer status, got %s", rep.Legs[0].Status)
	}
}

func TestValidate_AgreesWithPlanner(t *testing.T) {
	travel := geo.TravelModel{SpeedKmh: 30, ServiceTime: 10 * time.Minute}
	var drops []drop.Drop
	for i := 0; i < 5; i++ {
		off := float64(i) * 0.003
		drops = append(drops, drop.Drop{
			ID:             types.ID(fmt.Sprintf("d%d", i)),
			Pickup:         types.Point{Lat: 51.50 + off, Lng: -0.12},
			Delivery:       types.Point{Lat: 51.52 - off, Lng: -0.10},
			PickupWindow:   drop.TimeWindow{Earliest: base, Latest: base.Add(3 * time.Hour)},
			DeliveryWindow: wideWindow,
			Volume:         2.5,
			Weight:         180,
		})
	}
	c := capacity.LutonVan()
	cand, ok, reason := planner.New(planner.Config{Travel: travel}).Plan(drops, c)
	if !ok {
		t.Fatalf("plan failed: %s", reason)
	}
	rep := New(Config{Travel: travel}).Validate(cand.Stops, c)
	if !rep.OK {
		t.Fatalf("planner output failed validation: %+v", rep.Violations)
	}
	for i, l := range rep.Legs {
		if !l.ArriveAt.Equal(cand.Stops[i].ArriveAt) {
			t.Errorf("stop %d: validator arrival %s, planner %s", l.Sequence, l.ArriveAt, cand.Stops[i].ArriveAt)
		}
	}
}

func TestFormatTable(t *testing.T) {
	stops := []route.Stop{
		stop("A", route.ActionPickup, 51.500, 2, 600),
		stop("B", route.ActionPickup, 51.501, 2, 450),
		stop("A", route.ActionDelivery, 51.502, 2, 600),
	}
	out := FormatTable(newValidator().Validate(stops, capacity.LutonVan()))
	for _, want := range []string{"Seq", "pickup", "weight_exceeded", "105.0%", "Result: 1 violation(s)"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}
