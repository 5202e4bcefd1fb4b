package overflow

import (
	"context"
	"sync"
	"time"

	"multidrop/internal/types"
)

// MemoryTracker keeps the same counters in process, for the simulator and single-node use.
type MemoryTracker struct {
	mu        sync.Mutex
	threshold int
	byDrop    map[types.ID]*Alert
}

func NewMemoryTracker(threshold int) *MemoryTracker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &MemoryTracker{threshold: threshold, byDrop: make(map[types.ID]*Alert)}
}

func (m *MemoryTracker) Record(_ context.Context, entries []Entry) ([]Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	var alerts []Alert
	for _, e := range entries {
		a, ok := m.byDrop[e.DropID]
		if !ok {
			a = &Alert{DropID: e.DropID, FirstSeen: now}
			m.byDrop[e.DropID] = a
		}
		a.Count++
		a.Reason = e.Reason
		a.LastSeen = now
		if a.Count >= m.threshold {
			out := *a
			out.Raised = a.Count == m.threshold
			alerts = append(alerts, out)
		}
	}
	sortAlerts(alerts)
	return alerts, nil
}

func (m *MemoryTracker) Clear(_ context.Context, ids []types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.byDrop, id)
	}
	return nil
}

func (m *MemoryTracker) Alerts(context.Context) ([]Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var alerts []Alert
	for _, a := range m.byDrop {
		if a.Count >= m.threshold {
			alerts = append(alerts, *a)
		}
	}
	sortAlerts(alerts)
	return alerts, nil
}
