// README: Fixed-interval trigger for automatic routing runs; a busy tick is skipped, never queued.
package dispatch

import (
	"context"
	"log"
	"sync"
	"time"

	"multidrop/internal/modules/orchestration"
)

const SystemActor = "scheduler"

type AutoRunner interface {
	RunAuto(ctx context.Context, actorID string) (orchestration.RunResult, error)
}

type Scheduler struct {
	runner   AutoRunner
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(runner AutoRunner, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Scheduler{runner: runner, interval: interval}
}

// RunScheduler blocks until ctx is done.
func (s *Scheduler) RunScheduler(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick performs one scheduled attempt.
func (s *Scheduler) Tick(ctx context.Context) {
	res, err := s.runner.RunAuto(ctx, SystemActor)
	switch {
	case IsBusy(err):
		log.Printf("[scheduler] tick skipped: %s", SkipBusy)
	case err != nil:
		log.Printf("[scheduler] run failed: %v", err)
	case res.Skipped:
		log.Printf("[scheduler] tick skipped: %s", res.SkipReason)
	}
}

// Start runs the loop in the background until Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		s.RunScheduler(ctx)
	}(s.done)
	return nil
}

// Stop cancels the loop and waits for an in-flight tick to return, or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
