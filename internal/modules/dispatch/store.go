// README: Append-only run history in PostgreSQL.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"multidrop/internal/modules/orchestration"
	"multidrop/internal/types"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var runColumns = []string{
	"id", "trigger", "actor_id", "skipped", "skip_reason",
	"drops_processed", "routes_created", "overflow_count", "errors",
	"started_at", "finished_at",
}

type RunStore struct {
	db *pgxpool.Pool
}

func NewRunStore(db *pgxpool.Pool) *RunStore {
	return &RunStore{db: db}
}

func (s *RunStore) Append(ctx context.Context, rec RunRecord) error {
	errs, err := json.Marshal(rec.Errors)
	if err != nil {
		return err
	}
	query, args, err := psql.Insert("scheduler_runs").Columns(runColumns...).Values(
		string(rec.ID), string(rec.Trigger), rec.ActorID, rec.Skipped, rec.SkipReason,
		rec.DropsProcessed, rec.RoutesCreated, rec.OverflowCount, errs,
		rec.StartedAt, rec.FinishedAt,
	).ToSql()
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, query, args...)
	return err
}

type RunFilter struct {
	Trigger     orchestration.Source
	WithSkipped bool
	Limit       uint64
}

// List returns the most recent runs first.
func (s *RunStore) List(ctx context.Context, f RunFilter) ([]RunRecord, error) {
	q := psql.Select(runColumns...).From("scheduler_runs").OrderBy("started_at DESC", "id")
	if f.Trigger != "" {
		q = q.Where(sq.Eq{"trigger": string(f.Trigger)})
	}
	if !f.WithSkipped {
		q = q.Where(sq.Eq{"skipped": false})
	}
	limit := f.Limit
	if limit == 0 || limit > 200 {
		limit = 50
	}
	query, args, err := q.Limit(limit).ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *RunStore) Get(ctx context.Context, id types.ID) (*RunRecord, error) {
	query, args, err := psql.Select(runColumns...).From("scheduler_runs").Where(sq.Eq{"id": string(id)}).ToSql()
	if err != nil {
		return nil, err
	}
	rec, err := scanRun(s.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func scanRun(row pgx.Row) (RunRecord, error) {
	var rec RunRecord
	var id, trigger string
	var errs []byte
	err := row.Scan(
		&id, &trigger, &rec.ActorID, &rec.Skipped, &rec.SkipReason,
		&rec.DropsProcessed, &rec.RoutesCreated, &rec.OverflowCount, &errs,
		&rec.StartedAt, &rec.FinishedAt,
	)
	if err != nil {
		return RunRecord{}, err
	}
	rec.ID = types.ID(id)
	rec.Trigger = orchestration.Source(trigger)
	if len(errs) > 0 {
		if err := json.Unmarshal(errs, &rec.Errors); err != nil {
			return RunRecord{}, err
		}
	}
	return rec, nil
}
