// internal/queue/limiter.go
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"mailcourier/internal/common/logger"
)

// slotTTL caps how long a crashed worker can hold a concurrency slot.
const slotTTL = 5 * time.Minute

// Limiter enforces per-team and per-adapter concurrency caps with atomic
// Redis counters shared across all worker processes. A job that cannot get
// a slot is released back to the queue, never rejected.
type Limiter struct {
	client *redis.Client
	logger logger.Logger
}

func NewLimiter(client *redis.Client, log logger.Logger) *Limiter {
	return &Limiter{client: client, logger: log}
}

func teamKey(teamID string) string       { return fmt.Sprintf("concurrency:team:%s", teamID) }
func adapterKey(adapterID string) string { return fmt.Sprintf("concurrency:adapter:%s", adapterID) }

// Slot is one concurrency counter and its cap. Team and adapter slots carry
// independent caps; an adapter cap exists to respect the provider's rate
// limit regardless of which teams share it.
type Slot struct {
	Key   string
	Limit int
}

// Acquire claims one slot on each counter, up to that counter's own limit.
// Either all slots are claimed or none are.
func (l *Limiter) Acquire(ctx context.Context, slots ...Slot) (bool, error) {
	claimed := make([]string, 0, len(slots))
	for _, slot := range slots {
		n, err := l.client.Incr(ctx, slot.Key).Result()
		if err != nil {
			l.release(ctx, claimed)
			return false, fmt.Errorf("failed to acquire concurrency slot %s: %w", slot.Key, err)
		}
		l.client.Expire(ctx, slot.Key, slotTTL)

		if n > int64(slot.Limit) {
			l.client.Decr(ctx, slot.Key)
			l.release(ctx, claimed)
			return false, nil
		}
		claimed = append(claimed, slot.Key)
	}
	return true, nil
}

// Release frees previously acquired slots.
func (l *Limiter) Release(ctx context.Context, keys ...string) {
	l.release(ctx, keys)
}

func (l *Limiter) release(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := l.client.Decr(ctx, key).Err(); err != nil {
			l.logger.WithError(err).Warn("Failed to release concurrency slot", map[string]interface{}{
				"key": key,
			})
		}
	}
}
