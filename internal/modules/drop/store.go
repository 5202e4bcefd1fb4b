// README: Drop store backed by PostgreSQL; list queries are built with squirrel.
package drop

import (
	"context"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"multidrop/internal/types"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var dropColumns = []string{
	"id", "status", "status_version",
	"COALESCE(pickup_lat, 0)", "COALESCE(pickup_lng, 0)",
	"COALESCE(delivery_lat, 0)", "COALESCE(delivery_lng, 0)",
	"pickup_postcode", "delivery_postcode",
	"pickup_earliest", "pickup_latest", "delivery_earliest", "delivery_latest",
	"volume_m3", "weight_kg", "flags", "created_at",
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

type ListFilter struct {
	Statuses      []Status
	IDs           []types.ID
	RequireWindow bool
	Limit         uint64
}

func (s *Store) List(ctx context.Context, f ListFilter) ([]Drop, error) {
	q := psql.Select(dropColumns...).From("drops").OrderBy("created_at", "id")
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		q = q.Where(sq.Eq{"status": statuses})
	}
	if len(f.IDs) > 0 {
		ids := make([]string, len(f.IDs))
		for i, id := range f.IDs {
			ids[i] = string(id)
		}
		q = q.Where(sq.Eq{"id": ids})
	}
	if f.RequireWindow {
		q = q.Where(sq.NotEq{
			"pickup_earliest":   nil,
			"pickup_latest":     nil,
			"delivery_earliest": nil,
			"delivery_latest":   nil,
		})
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

	var out []Drop
	for rows.Next() {
		d, err := scanDrop(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListPending returns pending drops that carry a committed time window.
func (s *Store) ListPending(ctx context.Context) ([]Drop, error) {
	return s.List(ctx, ListFilter{Statuses: []Status{StatusPending}, RequireWindow: true})
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Drop, error) {
	query, args, err := psql.Select(dropColumns...).From("drops").Where(sq.Eq{"id": string(id)}).ToSql()
	if err != nil {
		return nil, err
	}
	d, err := scanDrop(s.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) Create(ctx context.Context, d *Drop) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	if d.Status == "" {
		d.Status = StatusPending
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO drops (
			id, status, status_version,
			pickup_lat, pickup_lng, delivery_lat, delivery_lng,
			pickup_postcode, delivery_postcode,
			pickup_earliest, pickup_latest, delivery_earliest, delivery_latest,
			volume_m3, weight_kg, flags, created_at, updated_at
		) VALUES (
			$1, $2, $3,
			$4, $5, $6, $7,
			$8, $9,
			$10, $11, $12, $13,
			$14, $15, $16, $17, $17
		)`,
		string(d.ID), string(d.Status), d.StatusVersion,
		nullFloat(d.Pickup.Lat, d.Pickup.IsZero()), nullFloat(d.Pickup.Lng, d.Pickup.IsZero()),
		nullFloat(d.Delivery.Lat, d.Delivery.IsZero()), nullFloat(d.Delivery.Lng, d.Delivery.IsZero()),
		d.PickupPostcode, d.DeliveryPostcode,
		nullTime(d.PickupWindow.Earliest), nullTime(d.PickupWindow.Latest),
		nullTime(d.DeliveryWindow.Earliest), nullTime(d.DeliveryWindow.Latest),
		d.Volume, d.Weight, d.Flags, d.CreatedAt,
	)
	return err
}

// UpdateStatus is an optimistic compare-and-set on (status, status_version).
func (s *Store) UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int) (bool, error) {
	if !CanTransition(from, to) {
		return false, ErrInvalidState
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE drops
		SET status = $1,
			status_version = status_version + 1,
			updated_at = NOW()
		WHERE id = $2 AND status = $3 AND status_version = $4`,
		string(to), string(id), string(from), version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SetCoordinates persists geocoded coordinates so later runs skip the lookup.
func (s *Store) SetCoordinates(ctx context.Context, id types.ID, pickup, delivery types.Point) error {
	_, err := s.db.Exec(ctx, `
		UPDATE drops
		SET pickup_lat = $1, pickup_lng = $2, delivery_lat = $3, delivery_lng = $4, updated_at = NOW()
		WHERE id = $5`,
		pickup.Lat, pickup.Lng, delivery.Lat, delivery.Lng, string(id),
	)
	return err
}

func scanDrop(row pgx.Row) (Drop, error) {
	var d Drop
	var id, status string
	var pickupPostcode, deliveryPostcode *string
	var pe, pl, de, dl *time.Time
	err := row.Scan(
		&id, &status, &d.StatusVersion,
		&d.Pickup.Lat, &d.Pickup.Lng, &d.Delivery.Lat, &d.Delivery.Lng,
		&pickupPostcode, &deliveryPostcode,
		&pe, &pl, &de, &dl,
		&d.Volume, &d.Weight, &d.Flags, &d.CreatedAt,
	)
	if err != nil {
		return Drop{}, err
	}
	d.ID = types.ID(id)
	d.Status = Status(status)
	if pickupPostcode != nil {
		d.PickupPostcode = *pickupPostcode
	}
	if deliveryPostcode != nil {
		d.DeliveryPostcode = *deliveryPostcode
	}
	d.PickupWindow = TimeWindow{Earliest: derefTime(pe), Latest: derefTime(pl)}
	d.DeliveryWindow = TimeWindow{Earliest: derefTime(de), Latest: derefTime(dl)}
	return d, nil
}

func nullFloat(v float64, null bool) *float64 {
	if null {
		return nil
	}
	return &v
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}
