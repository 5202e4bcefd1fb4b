// README: In-memory drop→route index; the uniqueness guard for drops held by non-terminal routes.
package route

import (
	"context"
	"fmt"
	"sync"

	"multidrop/internal/types"
)

// AssignmentLoader reads the persisted drop→route pairs of every non-terminal route.
type AssignmentLoader interface {
	ActiveDropAssignments(ctx context.Context) (map[types.ID]types.ID, error)
}

type DropIndex struct {
	mu      sync.RWMutex
	byDrop  map[types.ID]types.ID
	byRoute map[types.ID][]types.ID
}

func NewDropIndex() *DropIndex {
	return &DropIndex{
		byDrop:  make(map[types.ID]types.ID),
		byRoute: make(map[types.ID][]types.ID),
	}
}

// Rebuild replaces the index contents with the persisted state.
func (x *DropIndex) Rebuild(ctx context.Context, loader AssignmentLoader) error {
	pairs, err := loader.ActiveDropAssignments(ctx)
	if err != nil {
		return fmt.Errorf("rebuild drop index: %w", err)
	}
	byRoute := make(map[types.ID][]types.ID)
	for dropID, routeID := range pairs {
		byRoute[routeID] = append(byRoute[routeID], dropID)
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.byDrop = pairs
	x.byRoute = byRoute
	return nil
}

// Claim records every drop under routeID, or none of them if any is held by a different route.
func (x *DropIndex) Claim(routeID types.ID, dropIDs []types.ID) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, id := range dropIDs {
		if owner, ok := x.byDrop[id]; ok && owner != routeID {
			return fmt.Errorf("%w: drop %s held by route %s", ErrDropConflict, id, owner)
		}
	}
	for _, id := range dropIDs {
		if _, ok := x.byDrop[id]; ok {
			continue
		}
		x.byDrop[id] = routeID
		x.byRoute[routeID] = append(x.byRoute[routeID], id)
	}
	return nil
}

// Release drops every claim held by routeID and returns the released drop ids.
func (x *DropIndex) Release(routeID types.ID) []types.ID {
	x.mu.Lock()
	defer x.mu.Unlock()
	ids := x.byRoute[routeID]
	for _, id := range ids {
		delete(x.byDrop, id)
	}
	delete(x.byRoute, routeID)
	return ids
}

func (x *DropIndex) RouteFor(dropID types.ID) (types.ID, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	id, ok := x.byDrop[dropID]
	return id, ok
}

func (x *DropIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.byDrop)
}
