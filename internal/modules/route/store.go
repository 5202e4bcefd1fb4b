// README: Route store backed by PostgreSQL; a route, its stops and its drop claims commit in one transaction.
package route

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"multidrop/internal/types"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var routeColumns = []string{
	"id", "run_id", "driver_id", "status", "status_version",
	"distance_km", "duration_seconds", "score", "needs_review", "review_note",
	"created_at", "updated_at",
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Create inserts the route and its stops and moves every referenced drop from pending to clustered.
// If any drop is no longer pending the whole cluster rolls back with ErrDropConflict.
func (s *Store) Create(ctx context.Context, r *Route) error {
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	if r.Status == "" {
		r.Status = StatusPlanned
	}
	ids := toStrings(r.DropIDs())

	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO routes (
				id, run_id, driver_id, status, status_version,
				distance_km, duration_seconds, score, needs_review, review_note,
				created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			string(r.ID), string(r.RunID), toStringPtr(r.DriverID), string(r.Status), r.StatusVersion,
			r.DistanceKm, int64(r.Duration/time.Second), r.Score, r.NeedsReview, r.ReviewNote,
			r.CreatedAt, r.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert route: %w", err)
		}

		batch := &pgx.Batch{}
		for _, st := range r.Stops {
			batch.Queue(`
				INSERT INTO route_stops (
					route_id, sequence, drop_id, action, lat, lng, postcode,
					window_earliest, window_latest, volume_m3, weight_kg,
					arrive_at, load_volume_m3, load_weight_kg
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
				string(r.ID), st.Sequence, string(st.DropID), string(st.Action),
				st.Location.Lat, st.Location.Lng, st.Postcode,
				st.Window.Earliest, st.Window.Latest, st.Volume, st.Weight,
				st.ArriveAt, st.LoadAfter.Volume, st.LoadAfter.Weight,
			)
		}
		br := tx.SendBatch(ctx, batch)
		for range r.Stops {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("insert stops: %w", err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("insert stops: %w", err)
		}

		tag, err := tx.Exec(ctx, `
			UPDATE drops
			SET status = 'clustered',
				status_version = status_version + 1,
				updated_at = NOW()
			WHERE id = ANY($1) AND status = 'pending'`, ids)
		if err != nil {
			return fmt.Errorf("claim drops: %w", err)
		}
		if tag.RowsAffected() != int64(len(ids)) {
			return ErrDropConflict
		}
		return nil
	})
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Route, error) {
	query, args, err := psql.Select(routeColumns...).From("routes").Where(sq.Eq{"id": string(id)}).ToSql()
	if err != nil {
		return nil, err
	}
	r, err := scanRoute(s.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	stops, err := s.stops(ctx, id)
	if err != nil {
		return nil, err
	}
	r.Stops = stops
	return &r, nil
}

type ListFilter struct {
	Statuses []Status
	DriverID *types.ID
	Limit    uint64
}

// List returns route headers (no stops), newest first.
func (s *Store) List(ctx context.Context, f ListFilter) ([]Route, error) {
	q := psql.Select(routeColumns...).From("routes").OrderBy("created_at DESC", "id")
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		q = q.Where(sq.Eq{"status": statuses})
	}
	if f.DriverID != nil {
		q = q.Where(sq.Eq{"driver_id": string(*f.DriverID)})
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Route
	for rows.Next() {
		r, err := scanRoute(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateStatus applies a guarded transition and moves the route's drops along with it.
func (s *Store) UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int) (bool, error) {
	if !CanTransition(from, to) {
		return false, ErrInvalidState
	}
	var ok bool
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE routes
			SET status = $1,
				driver_id = CASE WHEN $1::text = 'planned' THEN NULL ELSE driver_id END,
				status_version = status_version + 1,
				updated_at = NOW()
			WHERE id = $2 AND status = $3 AND status_version = $4`,
			string(to), string(id), string(from), version,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return nil
		}
		ok = true

		dropFrom, dropTo, moves := dropTransition(to)
		if !moves {
			return nil
		}
		_, err = tx.Exec(ctx, `
			UPDATE drops
			SET status = $1, status_version = status_version + 1, updated_at = NOW()
			WHERE status = $2 AND id IN (SELECT drop_id FROM route_stops WHERE route_id = $3)`,
			dropTo, dropFrom, string(id),
		)
		return err
	})
	return ok, err
}

// dropTransition is the drop status change that follows a route reaching to.
func dropTransition(to Status) (from, next string, ok bool) {
	switch to {
	case StatusPlanned:
		return "routed", "clustered", true
	case StatusActive:
		return "routed", "in_progress", true
	case StatusCompleted:
		return "in_progress", "completed", true
	}
	return "", "", false
}

// AssignDriver moves a planned route to assigned and its drops from clustered to routed.
func (s *Store) AssignDriver(ctx context.Context, id, driverID types.ID, version int) (bool, error) {
	var ok bool
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE routes
			SET driver_id = $1,
				status = 'assigned',
				status_version = status_version + 1,
				updated_at = NOW()
			WHERE id = $2 AND status = 'planned' AND status_version = $3`,
			string(driverID), string(id), version,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return nil
		}
		ok = true
		_, err = tx.Exec(ctx, `
			UPDATE drops
			SET status = 'routed', status_version = status_version + 1, updated_at = NOW()
			WHERE status = 'clustered' AND id IN (SELECT drop_id FROM route_stops WHERE route_id = $1)`,
			string(id),
		)
		return err
	})
	return ok, err
}

// Cancel marks a planned or assigned route cancelled and returns its drops to pending.
func (s *Store) Cancel(ctx context.Context, id types.ID) ([]types.ID, error) {
	var dropIDs []types.ID
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE routes
			SET status = 'cancelled', status_version = status_version + 1, updated_at = NOW()
			WHERE id = $1 AND status IN ('planned', 'assigned')`,
			string(id),
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return ErrInvalidState
		}
		rows, err := tx.Query(ctx, `
			UPDATE drops
			SET status = 'pending', status_version = status_version + 1, updated_at = NOW()
			WHERE status IN ('clustered', 'routed') AND id IN (SELECT drop_id FROM route_stops WHERE route_id = $1)
			RETURNING id`,
			string(id),
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var d string
			if err := rows.Scan(&d); err != nil {
				return err
			}
			dropIDs = append(dropIDs, types.ID(d))
		}
		return rows.Err()
	})
	return dropIDs, err
}

func (s *Store) FlagForReview(ctx context.Context, id types.ID, note string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE routes SET needs_review = TRUE, review_note = $1, updated_at = NOW() WHERE id = $2`,
		note, string(id),
	)
	return err
}

func (s *Store) ActiveDropAssignments(ctx context.Context) (map[types.ID]types.ID, error) {
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT rs.drop_id, rs.route_id
		FROM route_stops rs
		JOIN routes r ON r.id = rs.route_id
		WHERE r.status NOT IN ('completed', 'cancelled')`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[types.ID]types.ID)
	for rows.Next() {
		var dropID, routeID string
		if err := rows.Scan(&dropID, &routeID); err != nil {
			return nil, err
		}
		out[types.ID(dropID)] = types.ID(routeID)
	}
	return out, rows.Err()
}

func (s *Store) stops(ctx context.Context, routeID types.ID) ([]Stop, error) {
	rows, err := s.db.Query(ctx, `
		SELECT sequence, drop_id, action, lat, lng, postcode,
			window_earliest, window_latest, volume_m3, weight_kg,
			arrive_at, load_volume_m3, load_weight_kg
		FROM route_stops
		WHERE route_id = $1
		ORDER BY sequence`, string(routeID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Stop
	for rows.Next() {
		var st Stop
		var dropID, action string
		if err := rows.Scan(
			&st.Sequence, &dropID, &action, &st.Location.Lat, &st.Location.Lng, &st.Postcode,
			&st.Window.Earliest, &st.Window.Latest, &st.Volume, &st.Weight,
			&st.ArriveAt, &st.LoadAfter.Volume, &st.LoadAfter.Weight,
		); err != nil {
			return nil, err
		}
		st.DropID = types.ID(dropID)
		st.Action = Action(action)
		out = append(out, st)
	}
	return out, rows.Err()
}

func scanRoute(row pgx.Row) (Route, error) {
	var r Route
	var id, runID, status string
	var driverID *string
	var durationSeconds int64
	err := row.Scan(
		&id, &runID, &driverID, &status, &r.StatusVersion,
		&r.DistanceKm, &durationSeconds, &r.Score, &r.NeedsReview, &r.ReviewNote,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return Route{}, err
	}
	r.ID = types.ID(id)
	r.RunID = types.ID(runID)
	r.Status = Status(status)
	r.Duration = time.Duration(durationSeconds) * time.Second
	if driverID != nil {
		d := types.ID(*driverID)
		r.DriverID = &d
	}
	return r, nil
}

func toStringPtr(id *types.ID) *string {
	if id == nil {
		return nil
	}
	v := string(*id)
	return &v
}

func toStrings(ids []types.ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
