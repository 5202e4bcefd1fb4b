// README: Driver store backed by PostgreSQL; live positions are overlaid from Redis.
package driver

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"multidrop/internal/types"
)

const driverSelect = `
	SELECT id, name, status, max_volume_m3, max_weight_kg, max_drops, multi_drop,
		load_volume_m3, load_weight_kg, COALESCE(last_lat, 0), COALESCE(last_lng, 0), last_seen_at
	FROM drivers`

type Store struct {
	db        *pgxpool.Pool
	positions *PositionStore
}

func NewStore(db *pgxpool.Pool, positions *PositionStore) *Store {
	return &Store{db: db, positions: positions}
}

// ListAvailable returns available drivers. A fresher Redis position wins over the stored one.
func (s *Store) ListAvailable(ctx context.Context) ([]Driver, error) {
	rows, err := s.db.Query(ctx, driverSelect+` WHERE status = 'available' ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Driver
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if s.positions == nil || len(out) == 0 {
		return out, nil
	}

	ids := make([]types.ID, len(out))
	for i, d := range out {
		ids[i] = d.ID
	}
	live, err := s.positions.Positions(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		pos, ok := live[out[i].ID]
		if !ok || pos.LastSeenAt.Before(out[i].LastSeenAt) {
			continue
		}
		out[i].Location = pos.Point
		out[i].LastSeenAt = pos.LastSeenAt
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Driver, error) {
	d, err := scanDriver(s.db.QueryRow(ctx, driverSelect+` WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) Upsert(ctx context.Context, d *Driver) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO drivers (
			id, name, status, max_volume_m3, max_weight_kg, max_drops, multi_drop,
			load_volume_m3, load_weight_kg, last_lat, last_lng, last_seen_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			max_volume_m3 = EXCLUDED.max_volume_m3,
			max_weight_kg = EXCLUDED.max_weight_kg,
			max_drops = EXCLUDED.max_drops,
			multi_drop = EXCLUDED.multi_drop,
			load_volume_m3 = EXCLUDED.load_volume_m3,
			load_weight_kg = EXCLUDED.load_weight_kg,
			last_lat = EXCLUDED.last_lat,
			last_lng = EXCLUDED.last_lng,
			last_seen_at = EXCLUDED.last_seen_at`,
		string(d.ID), d.Name, string(d.Status),
		d.Capacity.MaxVolume, d.Capacity.MaxWeight, d.Capacity.MaxDrops, d.Capacity.MultiDrop,
		d.Load.Volume, d.Load.Weight, d.Location.Lat, d.Location.Lng, d.LastSeenAt,
	)
	return err
}

// UpdatePosition records a location report in Redis and keeps the row's last known position.
func (s *Store) UpdatePosition(ctx context.Context, id types.ID, p types.Point) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE drivers SET last_lat = $1, last_lng = $2, last_seen_at = NOW() WHERE id = $3`,
		p.Lat, p.Lng, string(id),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	if s.positions == nil {
		return nil
	}
	return s.positions.Update(ctx, id, p, time.Now())
}

func scanDriver(row pgx.Row) (Driver, error) {
	var d Driver
	var id, status string
	err := row.Scan(
		&id, &d.Name, &status, &d.Capacity.MaxVolume, &d.Capacity.MaxWeight, &d.Capacity.MaxDrops, &d.Capacity.MultiDrop,
		&d.Load.Volume, &d.Load.Weight, &d.Location.Lat, &d.Location.Lng, &d.LastSeenAt,
	)
	if err != nil {
		return Driver{}, err
	}
	d.ID = types.ID(id)
	d.Status = Status(status)
	return d, nil
}

func (s *Store) SetStatus(ctx context.Context, id types.ID, status Status) error {
	tag, err := s.db.Exec(ctx, `UPDATE drivers SET status = $1 WHERE id = $2`, string(status), string(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
