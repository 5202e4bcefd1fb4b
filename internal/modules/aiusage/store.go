package aiusage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func currentMonth() string {
	return time.Now().UTC().Format("2006-01")
}

// Consume checks the monthly allowance and deducts one in a single statement.
// A row from an earlier month is reset to the full allowance first.
func (s *Store) Consume(ctx context.Context, uid string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE summary_quota SET
			remaining = CASE WHEN reset_month != $1 THEN $2 - 1 ELSE remaining - 1 END,
			reset_month = $1
		WHERE operator_id = $3 AND (reset_month < $1 OR remaining > 0)
	`, currentMonth(), DefaultMonthlySummaries, uid)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrQuotaExhausted
	}
	return nil
}

func (s *Store) EnsureOperator(ctx context.Context, uid string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO summary_quota (operator_id, remaining, reset_month)
		VALUES ($1, $2, $3)
		ON CONFLICT (operator_id) DO NOTHING
	`, uid, DefaultMonthlySummaries, currentMonth())
	return err
}

func (s *Store) Remaining(ctx context.Context, uid string) (int, error) {
	var remaining int
	var month string
	err := s.db.QueryRow(ctx, `SELECT remaining, reset_month FROM summary_quota WHERE operator_id = $1`, uid).Scan(&remaining, &month)
	if errors.Is(err, pgx.ErrNoRows) {
		return DefaultMonthlySummaries, nil
	}
	if err != nil {
		return 0, err
	}
	if month < currentMonth() {
		return DefaultMonthlySummaries, nil
	}
	return remaining, nil
}
