// README: Live driver positions in a Redis GEO set, with last-seen timestamps in a sorted set.
package driver

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"multidrop/internal/types"
)

const (
	positionKey = "multidrop:drivers:geo"
	lastSeenKey = "multidrop:drivers:last_seen"
)

type Position struct {
	Point      types.Point
	LastSeenAt time.Time
}

type PositionStore struct {
	redis *redis.Client
}

func NewPositionStore(rdb *redis.Client) *PositionStore {
	return &PositionStore{redis: rdb}
}

func (p *PositionStore) Update(ctx context.Context, id types.ID, pt types.Point, at time.Time) error {
	pipe := p.redis.Pipeline()
	pipe.GeoAdd(ctx, positionKey, &redis.GeoLocation{
		Name:      string(id),
		Longitude: pt.Lng,
		Latitude:  pt.Lat,
	})
	pipe.ZAdd(ctx, lastSeenKey, redis.Z{Score: float64(at.UnixMilli()), Member: string(id)})
	_, err := pipe.Exec(ctx)
	return err
}

func (p *PositionStore) Remove(ctx context.Context, id types.ID) error {
	pipe := p.redis.Pipeline()
	pipe.ZRem(ctx, positionKey, string(id))
	pipe.ZRem(ctx, lastSeenKey, string(id))
	_, err := pipe.Exec(ctx)
	return err
}

// Positions returns the known positions of ids; drivers never reported are absent from the map.
func (p *PositionStore) Positions(ctx context.Context, ids []types.ID) (map[types.ID]Position, error) {
	out := make(map[types.ID]Position, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = string(id)
	}
	pipe := p.redis.Pipeline()
	geo := pipe.GeoPos(ctx, positionKey, names...)
	seen := make([]*redis.FloatCmd, len(ids))
	for i, n := range names {
		seen[i] = pipe.ZScore(ctx, lastSeenKey, n)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}
	coords := geo.Val()
	for i, id := range ids {
		if i >= len(coords) || coords[i] == nil {
			continue
		}
		pos := Position{Point: types.Point{Lat: coords[i].Latitude, Lng: coords[i].Longitude}}
		if ms, err := seen[i].Result(); err == nil {
			pos.LastSeenAt = time.UnixMilli(int64(ms)).UTC()
		}
		out[id] = pos
	}
	return out, nil
}
