// README: Overflow escalation model; drops excluded run after run become standing alerts.
package overflow

import (
	"sort"
	"time"

	"multidrop/internal/types"
)

const (
	DefaultThreshold = 3
	DefaultTTL       = 72 * time.Hour
)

// Entry is one drop left unplaced by a run.
type Entry struct {
	DropID types.ID `json:"drop_id"`
	Reason string   `json:"reason"`
}

type Alert struct {
	DropID    types.ID  `json:"drop_id"`
	Count     int       `json:"count"`
	Reason    string    `json:"reason"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	// Raised is true only on the run whose exclusion crossed the threshold.
	Raised bool `json:"raised"`
}

func sortAlerts(alerts []Alert) {
	sort.Slice(alerts, func(i, j int) bool {
		if alerts[i].Count != alerts[j].Count {
			return alerts[i].Count > alerts[j].Count
		}
		return alerts[i].DropID < alerts[j].DropID
	})
}
