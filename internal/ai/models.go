package ai

import "time"

// RunDigest is the compact view of one routing run handed to the model.
type RunDigest struct {
	RunID          string    `json:"run_id"`
	Trigger        string    `json:"trigger"`
	Skipped        bool      `json:"skipped"`
	SkipReason     string    `json:"skip_reason,omitempty"`
	DropsProcessed int       `json:"drops_processed"`
	RoutesCreated  int       `json:"routes_created"`
	OverflowCount  int       `json:"overflow_count"`
	Errors         []string  `json:"errors,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

// RunSummary captures the structured output from the AI model.
type RunSummary struct {
	// Summary is two or three plain sentences on what the run achieved.
	Summary string `json:"summary"`

	// Actions lists concrete follow-ups for the operator, most urgent first.
	Actions []string `json:"actions"`
}
