// Package cache keeps short-lived webhook bookkeeping in Redis.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "beautybot:"

// Guard drops redelivered updates and throttles chatty users. A Guard without a
// Redis client lets everything through.
type Guard struct {
	rdb       *redis.Client
	updateTTL time.Duration
	perMinute int
	now       func() time.Time
}

func NewGuard(rdb *redis.Client, updateTTL time.Duration, perMinute int) *Guard {
	if updateTTL <= 0 {
		updateTTL = 10 * time.Minute
	}
	return &Guard{rdb: rdb, updateTTL: updateTTL, perMinute: perMinute, now: time.Now}
}

// SeenUpdate records updateID and reports whether it had been recorded before.
// Telegram redelivers updates when the webhook answers slowly.
func (g *Guard) SeenUpdate(ctx context.Context, updateID int) (bool, error) {
	if g == nil || g.rdb == nil {
		return false, nil
	}
	fresh, err := g.rdb.SetNX(ctx, fmt.Sprintf("%supdate:%d", keyPrefix, updateID), 1, g.updateTTL).Result()
	if err != nil {
		return false, fmt.Errorf("record update %d: %w", updateID, err)
	}
	return !fresh, nil
}

// Allow counts one message from userID against the per-minute budget.
func (g *Guard) Allow(ctx context.Context, userID int64) (bool, error) {
	if g == nil || g.rdb == nil || g.perMinute <= 0 {
		return true, nil
	}
	key := fmt.Sprintf("%srate:%d:%d", keyPrefix, userID, g.now().Unix()/60)

	pipe := g.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, fmt.Errorf("rate counter: %w", err)
	}
	return incr.Val() <= int64(g.perMinute), nil
}

// Ping checks Redis for the readiness check.
func (g *Guard) Ping(ctx context.Context) error {
	if g == nil || g.rdb == nil {
		return nil
	}
	return g.rdb.Ping(ctx).Err()
}
