// README: Routing modes, run records and dispatch errors.
package dispatch

import (
	"errors"
	"time"

	"multidrop/internal/modules/orchestration"
	"multidrop/internal/types"
)

var (
	ErrBusy                 = errors.New("routing run already in progress")
	ErrRunNotFound          = errors.New("run not found")
	ErrInvalidMode          = errors.New("invalid routing mode")
	ErrInsufficientHeadroom = errors.New("driver cannot carry route")
)

type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeManual Mode = "manual"
)

func ParseMode(v string) (Mode, error) {
	switch Mode(v) {
	case ModeAuto, ModeManual:
		return Mode(v), nil
	}
	return "", ErrInvalidMode
}

const (
	SkipBusy     = "run in progress"
	SkipDisabled = "auto routing disabled"
)

// RunRecord is the persisted summary of one run, kept append-only.
type RunRecord struct {
	ID             types.ID                 `json:"id"`
	Trigger        orchestration.Source     `json:"trigger"`
	ActorID        string                   `json:"actor_id,omitempty"`
	Skipped        bool                     `json:"skipped"`
	SkipReason     string                   `json:"skip_reason,omitempty"`
	DropsProcessed int                      `json:"drops_processed"`
	RoutesCreated  int                      `json:"routes_created"`
	OverflowCount  int                      `json:"overflow_count"`
	Errors         []orchestration.RunError `json:"errors"`
	StartedAt      time.Time                `json:"started_at"`
	FinishedAt     time.Time                `json:"finished_at"`
}

func RecordOf(res orchestration.RunResult) RunRecord {
	errs := res.Errors
	if errs == nil {
		errs = []orchestration.RunError{}
	}
	return RunRecord{
		ID:             res.RunID,
		Trigger:        res.Source,
		ActorID:        res.ActorID,
		Skipped:        res.Skipped,
		SkipReason:     res.SkipReason,
		DropsProcessed: res.DropsProcessed,
		RoutesCreated:  res.RoutesCreated,
		OverflowCount:  len(res.Overflow),
		Errors:         errs,
		StartedAt:      res.StartedAt,
		FinishedAt:     res.FinishedAt,
	}
}
