package ai

import (
	"context"
)

// Narrator turns a run record into a short operator-facing summary.
// This interface allows for swapping the model provider without touching the HTTP layer.
type Narrator interface {
	Summarize(ctx context.Context, digest RunDigest) (*RunSummary, error)
}
