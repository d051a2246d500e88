// internal/send/idempotency.go
package send

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Idempotency maps team+key pairs to the Message they first produced, for a
// bounded window. SET NX makes the reservation atomic across processes.
type Idempotency struct {
	client *redis.Client
	window time.Duration
}

func NewIdempotency(client *redis.Client, window time.Duration) *Idempotency {
	return &Idempotency{client: client, window: window}
}

func idempotencyKey(teamID, key string) string {
	return fmt.Sprintf("idempotency:%s:%s", teamID, key)
}

// Reserve claims the key for messageID. When the key is already held, it
// returns the original message id and reserved=false.
func (i *Idempotency) Reserve(ctx context.Context, teamID, key, messageID string) (existingID string, reserved bool, err error) {
	k := idempotencyKey(teamID, key)
	ok, err := i.client.SetNX(ctx, k, messageID, i.window).Result()
	if err != nil {
		return "", false, fmt.Errorf("idempotency reserve failed: %w", err)
	}
	if ok {
		return "", true, nil
	}

	existing, err := i.client.Get(ctx, k).Result()
	if err == redis.Nil {
		// the holder expired between SetNX and Get; treat as fresh
		return i.Reserve(ctx, teamID, key, messageID)
	}
	if err != nil {
		return "", false, fmt.Errorf("idempotency lookup failed: %w", err)
	}
	return existing, false, nil
}

// Release frees a reservation whose Message was never created.
func (i *Idempotency) Release(ctx context.Context, teamID, key string) {
	i.client.Del(ctx, idempotencyKey(teamID, key))
}
