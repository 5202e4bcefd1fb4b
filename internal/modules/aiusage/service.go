package aiusage

import (
	"context"
	"errors"
)

type Service struct {
	store *Store
}

func NewService(store *Store) *Service {
	return &Service{store: store}
}

// Consume takes one summary from the operator's monthly allowance, creating the row on first use.
// Returns ErrQuotaExhausted when the month's allowance is spent.
func (s *Service) Consume(ctx context.Context, uid string) error {
	err := s.store.Consume(ctx, uid)
	if !errors.Is(err, ErrQuotaExhausted) {
		return err
	}
	if err := s.store.EnsureOperator(ctx, uid); err != nil {
		return err
	}
	return s.store.Consume(ctx, uid)
}

// Remaining reports the unused allowance; an operator never seen has the full allowance.
func (s *Service) Remaining(ctx context.Context, uid string) (int, error) {
	return s.store.Remaining(ctx, uid)
}
