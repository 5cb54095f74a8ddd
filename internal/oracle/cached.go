package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/crypto-ledger/internal/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisKeyPrefix = "rate"

// Cached enforces a freshness bound on an upstream oracle and shares quotes
// across replicas through Redis. A quote older than maxAge is never served.
type Cached struct {
	upstream Oracle
	redis    redis.Cmdable
	maxAge   time.Duration
	now      func() time.Time
}

func NewCached(upstream Oracle, rdb redis.Cmdable, maxAge time.Duration) *Cached {
	return &Cached{upstream: upstream, redis: rdb, maxAge: maxAge, now: time.Now}
}

// WithClock replaces the clock used for freshness checks.
func (c *Cached) WithClock(now func() time.Time) *Cached {
	c.now = now
	return c
}

func (c *Cached) Rate(ctx context.Context, network string) (Quote, error) {
	if q, ok := c.lookup(ctx, network); ok {
		return q, nil
	}

	q, err := c.upstream.Rate(ctx, network)
	if err != nil {
		if errors.Is(err, domain.ErrRateUnavailable) {
			return Quote{}, err
		}
		return Quote{}, fmt.Errorf("%w: %s: %v", domain.ErrRateUnavailable, network, err)
	}
	if !c.fresh(q) {
		return Quote{}, fmt.Errorf("%w: quote for %s is stale (as of %s)", domain.ErrRateUnavailable, network, q.AsOf.Format(time.RFC3339))
	}
	c.store(ctx, q)
	return q, nil
}

func (c *Cached) fresh(q Quote) bool {
	if c.maxAge <= 0 {
		return true
	}
	return c.now().Sub(q.AsOf) <= c.maxAge
}

func (c *Cached) lookup(ctx context.Context, network string) (Quote, bool) {
	if c.redis == nil {
		return Quote{}, false
	}
	val, err := c.redis.Get(ctx, redisKey(network)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zap.L().Warn("redis rate lookup failed", zap.String("network", network), zap.Error(err))
		}
		return Quote{}, false
	}
	var q Quote
	if err := json.Unmarshal([]byte(val), &q); err != nil || !c.fresh(q) {
		return Quote{}, false
	}
	return q, true
}

func (c *Cached) store(ctx context.Context, q Quote) {
	if c.redis == nil {
		return
	}
	payload, err := json.Marshal(q)
	if err != nil {
		zap.L().Warn("marshal rate quote", zap.Error(err))
		return
	}
	ttl := c.maxAge
	if ttl <= 0 {
		ttl = time.Minute
	}
	if err := c.redis.Set(ctx, redisKey(q.Network), payload, ttl).Err(); err != nil {
		zap.L().Warn("redis rate cache set failed", zap.Error(err))
	}
}

func redisKey(network string) string {
	return fmt.Sprintf("%s:%s", redisKeyPrefix, network)
}
