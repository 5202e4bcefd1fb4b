// README: Cross-replica run lease on Redis; only the holder's token can release it.
package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	leaseKey        = "multidrop:routing:lock"
	DefaultLeaseTTL = 10 * time.Minute
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Lease struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewLease(rdb *redis.Client, ttl time.Duration) *Lease {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	return &Lease{redis: rdb, ttl: ttl}
}

// Acquire returns the owner token, or ok=false when another holder has the lease.
func (l *Lease) Acquire(ctx context.Context) (token string, ok bool, err error) {
	token = uuid.NewString()
	ok, err = l.redis.SetNX(ctx, leaseKey, token, l.ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

func (l *Lease) Release(ctx context.Context, token string) error {
	return releaseScript.Run(ctx, l.redis, []string{leaseKey}, token).Err()
}
