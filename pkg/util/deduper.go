package util

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deduper is a best-effort cross-process guard: the first worker to claim
// a key within the TTL wins. Delivery stays at-least-once; the database
// row is still the source of truth for sent/failed state.
type Deduper struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewDeduper(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Deduper {
	return &Deduper{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

// AcquireOnce tries to claim a reminder for sending.
// returns true if this process is the first to claim it within the TTL
// returns false if another worker already holds the claim
func (d *Deduper) AcquireOnce(ctx context.Context, reminderID string) bool {
	key := fmt.Sprintf("dedup:reminder:%s", reminderID)

	ok, err := d.rdb.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		// Redis 挂了？为了安全：当 redis 不可用时，不阻止处理，返回 true
		if d.logger != nil {
			d.logger.Warn("Redis dedup check failed, allowing send",
				zap.String("reminder_id", reminderID),
				zap.Error(err),
			)
		}
		return true
	}

	if !ok && d.logger != nil {
		d.logger.Info("Skipped reminder claimed by another worker",
			zap.String("reminder_id", reminderID),
			zap.String("dedup_key", key),
		)
	}

	return ok
}
