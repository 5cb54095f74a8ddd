package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// Redis is a lease-based lock shared by every replica. A lease that outlives
// its TTL is lost, so TTL must exceed the longest ledger transaction.
type Redis struct {
	rdb          redis.UniversalClient
	ttl          time.Duration
	pollInterval time.Duration
	release      *redis.Script
}

func NewRedis(rdb redis.UniversalClient, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Redis{
		rdb:          rdb,
		ttl:          ttl,
		pollInterval: 10 * time.Millisecond,
		release:      redis.NewScript(releaseScript),
	}
}

func redisKey(key string) string { return fmt.Sprintf("ledger:lock:{%s}", key) }

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	rk := redisKey(key)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		ok, err := r.rdb.SetNX(ctx, rk, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrLockTimeout, key, ctx.Err())
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := r.release.Run(releaseCtx, r.rdb, []string{rk}, token).Err(); err != nil {
				zap.L().Warn("release redis lock failed", zap.String("key", key), zap.Error(err))
			}
		})
	}, nil
}
