// README: Run trigger, overrides and the aggregated result of one orchestration run.
package orchestration

import (
	"time"

	"multidrop/internal/modules/cluster"
	"multidrop/internal/modules/driver"
	"multidrop/internal/modules/overflow"
	"multidrop/internal/modules/route"
	"multidrop/internal/modules/validator"
	"multidrop/internal/types"
)

type Source string

const (
	SourceAuto   Source = "auto"
	SourceManual Source = "manual"
)

// ForcedGroup is an operator-chosen set of drops planned as one route without clustering.
type ForcedGroup struct {
	DropIDs  []types.ID `json:"drop_ids"`
	DriverID *types.ID  `json:"driver_id,omitempty"`
}

type Overrides struct {
	Groups []ForcedGroup `json:"groups,omitempty"`
	// OnlyGroups skips clustering of the remaining pending pool.
	OnlyGroups    bool `json:"only_groups,omitempty"`
	MaxPerCluster int  `json:"max_per_cluster,omitempty"`
}

type Trigger struct {
	RunID     types.ID
	Source    Source
	ActorID   string
	Overrides Overrides
}

type ErrorKind string

const (
	ErrorInput       ErrorKind = "input"
	ErrorInfeasible  ErrorKind = "infeasible"
	ErrorValidation  ErrorKind = "validation"
	ErrorPersistence ErrorKind = "persistence"
	ErrorCancelled   ErrorKind = "cancelled"
	ErrorAssignment  ErrorKind = "assignment"
)

// RunError is one problem surfaced to the operator. Cluster is -1 when not tied to a cluster.
type RunError struct {
	Kind       ErrorKind             `json:"kind"`
	Cluster    int                   `json:"cluster"`
	DropIDs    []types.ID            `json:"drop_ids,omitempty"`
	Message    string                `json:"message"`
	Violations []validator.Violation `json:"violations,omitempty"`
}

// PlannedRoute is a committed route plus the driver the operator pinned to it, if any.
type PlannedRoute struct {
	Route        route.Route `json:"route"`
	PinnedDriver *types.ID   `json:"pinned_driver,omitempty"`
}

type RunResult struct {
	RunID          types.ID            `json:"run_id"`
	Source         Source              `json:"source"`
	ActorID        string              `json:"actor_id,omitempty"`
	Skipped        bool                `json:"skipped"`
	SkipReason     string              `json:"skip_reason,omitempty"`
	Cancelled      bool                `json:"cancelled"`
	DropsProcessed int                 `json:"drops_processed"`
	RoutesCreated  int                 `json:"routes_created"`
	Routes         []PlannedRoute      `json:"routes"`
	Overflow       []overflow.Entry    `json:"overflow"`
	Invalid        []cluster.Skipped   `json:"invalid"`
	Errors         []RunError          `json:"errors"`
	Alerts         []overflow.Alert    `json:"alerts,omitempty"`
	Assignments    []driver.Assignment `json:"assignments,omitempty"`
	Unassigned     []types.ID          `json:"unassigned,omitempty"`
	Flagged        []types.ID          `json:"flagged,omitempty"`
	StartedAt      time.Time           `json:"started_at"`
	FinishedAt     time.Time           `json:"finished_at"`
}

// RoutedDropIDs lists every drop placed on a committed route in this run.
func (r RunResult) RoutedDropIDs() []types.ID {
	var out []types.ID
	for _, p := range r.Routes {
		out = append(out, p.Route.DropIDs()...)
	}
	return out
}
