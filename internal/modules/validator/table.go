package validator

import (
	"fmt"
	"strings"
)

// FormatTable renders the report as a fixed-width leg table for operators.
func FormatTable(r Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Vehicle: %s\n", r.Capacity)
	fmt.Fprintf(&b, "%-4s %-9s %-34s %9s %7s %9s %7s  %-6s %s\n",
		"Seq", "Action", "Drop", "Vol m³", "Vol %", "Wt kg", "Wt %", "Arrive", "Status")
	b.WriteString(strings.Repeat("-", 104))
	b.WriteString("\n")
	for _, l := range r.Legs {
		arrive := "-"
		if !l.ArriveAt.IsZero() {
			arrive = l.ArriveAt.Format("15:04")
		}
		fmt.Fprintf(&b, "%-4d %-9s %-34s %9.2f %6.1f%% %9.1f %6.1f%%  %-6s %s\n",
			l.Sequence, l.Action, l.DropID, l.Load.Volume, l.VolumePct, l.Load.Weight, l.WeightPct, arrive, l.Status)
	}
	b.WriteString(strings.Repeat("-", 104))
	b.WriteString("\n")
	fmt.Fprintf(&b, "Peak volume %.2fm³ (%.1f%%) at stop %d, peak weight %.1fkg (%.1f%%) at stop %d, distance %.2fkm\n",
		r.Peak.Volume, r.VolumeUtilization, r.PeakVolumeAt, r.Peak.Weight, r.WeightUtilization, r.PeakWeightAt, r.DistanceKm)
	if r.OK {
		b.WriteString("Result: OK\n")
	} else {
		fmt.Fprintf(&b, "Result: %d violation(s)\n", len(r.Violations))
		for _, v := range r.Violations {
			fmt.Fprintf(&b, "  stop %d %s: %s\n", v.Sequence, v.Kind, v.Message)
		}
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "  warning: %s\n", w)
	}
	return b.String()
}
