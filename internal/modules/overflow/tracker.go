// README: Redis-backed overflow counters and the standing alert set.
package overflow

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"multidrop/internal/types"
)

const (
	counterKeyPrefix = "multidrop:overflow:%s"
	alertSetKey      = "multidrop:overflow:alerts"
)

type Tracker struct {
	redis     *redis.Client
	threshold int
	ttl       time.Duration
	now       func() time.Time
}

func NewTracker(rdb *redis.Client, threshold int, ttl time.Duration) *Tracker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{redis: rdb, threshold: threshold, ttl: ttl, now: time.Now}
}

// Record bumps the exclusion count of every entry and returns the alerts standing for them.
func (t *Tracker) Record(ctx context.Context, entries []Entry) ([]Alert, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	now := t.now().UTC()
	stamp := now.Format(time.RFC3339)

	counts := make([]*redis.IntCmd, len(entries))
	firsts := make([]*redis.StringCmd, len(entries))
	_, err := t.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, e := range entries {
			key := counterKey(e.DropID)
			counts[i] = pipe.HIncrBy(ctx, key, "count", 1)
			pipe.HSetNX(ctx, key, "first_seen", stamp)
			pipe.HSet(ctx, key, "reason", e.Reason, "last_seen", stamp)
			pipe.Expire(ctx, key, t.ttl)
			firsts[i] = pipe.HGet(ctx, key, "first_seen")
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record overflow: %w", err)
	}

	var alerts []Alert
	var raised []interface{}
	for i, e := range entries {
		n := int(counts[i].Val())
		if n < t.threshold {
			continue
		}
		first, _ := time.Parse(time.RFC3339, firsts[i].Val())
		alerts = append(alerts, Alert{
			DropID: e.DropID, Count: n, Reason: e.Reason,
			FirstSeen: first, LastSeen: now, Raised: n == t.threshold,
		})
		raised = append(raised, string(e.DropID))
	}
	if len(raised) > 0 {
		if err := t.redis.SAdd(ctx, alertSetKey, raised...).Err(); err != nil {
			return nil, fmt.Errorf("record overflow alert: %w", err)
		}
	}
	sortAlerts(alerts)
	return alerts, nil
}

// Clear forgets the history of drops that were placed on a route.
func (t *Tracker) Clear(ctx context.Context, ids []types.ID) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		keys[i] = counterKey(id)
		members[i] = string(id)
	}
	pipe := t.redis.Pipeline()
	pipe.Del(ctx, keys...)
	pipe.SRem(ctx, alertSetKey, members...)
	_, err := pipe.Exec(ctx)
	return err
}

// Alerts lists every standing alert. Members whose counter expired are pruned.
func (t *Tracker) Alerts(ctx context.Context) ([]Alert, error) {
	ids, err := t.redis.SMembers(ctx, alertSetKey).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := t.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, counterKey(types.ID(id)))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	var alerts []Alert
	var stale []interface{}
	for i, id := range ids {
		fields := cmds[i].Val()
		if len(fields) == 0 {
			stale = append(stale, id)
			continue
		}
		n, _ := strconv.Atoi(fields["count"])
		first, _ := time.Parse(time.RFC3339, fields["first_seen"])
		last, _ := time.Parse(time.RFC3339, fields["last_seen"])
		alerts = append(alerts, Alert{
			DropID: types.ID(id), Count: n, Reason: fields["reason"],
			FirstSeen: first, LastSeen: last,
		})
	}
	if len(stale) > 0 {
		_ = t.redis.SRem(ctx, alertSetKey, stale...).Err()
	}
	sortAlerts(alerts)
	return alerts, nil
}

func counterKey(id types.ID) string {
	return fmt.Sprintf(counterKeyPrefix, string(id))
}
