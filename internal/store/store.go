// Package store holds the Postgres persistence layer: the message log,
// adapter configurations, webhook subscriptions and the durable job queue.
// Consumers depend on the small interfaces defined here so workers can be
// tested against in-memory fakes.
package store

import (
	"context"
	"time"

	"mailcourier/internal/models"
)

// MessageStore persists the email log.
type MessageStore interface {
	Create(ctx context.Context, msg *models.Message) error
	Get(ctx context.Context, id string) (*models.Message, error)
	// CompareAndSetStatus transitions the message from expected to next,
	// stamping the milestone timestamp for next at most once. It returns
	// false without error when the row is no longer in the expected status.
	CompareAndSetStatus(ctx context.Context, id string, expected, next models.Status, at time.Time, errCode, errMsg string) (bool, error)
	SetProviderMessageID(ctx context.Context, id, providerMessageID string) error
}

// AdapterStore reads team delivery adapter configurations.
type AdapterStore interface {
	Get(ctx context.Context, id string) (*models.AdapterConfig, error)
	DefaultForTeam(ctx context.Context, teamID string) (*models.AdapterConfig, error)
}

// WebhookStore persists webhook subscriptions and their delivery audit log.
type WebhookStore interface {
	Get(ctx context.Context, id string) (*models.Webhook, error)
	ActiveForTeam(ctx context.Context, teamID string) ([]*models.Webhook, error)
	// MarkSuccess resets the consecutive failure counter.
	MarkSuccess(ctx context.Context, id string) error
	// MarkTerminalFailure increments the consecutive failure counter and
	// deactivates the webhook once it reaches threshold. It reports whether
	// this call deactivated the webhook.
	MarkTerminalFailure(ctx context.Context, id string, threshold int) (bool, error)
	RecordDelivery(ctx context.Context, d *models.WebhookDelivery) error
}

// JobStore is the durable queue. Leased rows are invisible to other workers
// until their lease expires.
type JobStore interface {
	Enqueue(ctx context.Context, queue string, payload []byte, maxAttempts int, runAt time.Time) (*models.Job, error)
	Lease(ctx context.Context, queue string, limit int, visibility time.Duration) ([]*models.Job, error)
	Complete(ctx context.Context, id string) error
	// Retry returns the job to pending with a future run time.
	Retry(ctx context.Context, id string, runAt time.Time, lastErr string) error
	// Release returns the job to pending without consuming an attempt.
	Release(ctx context.Context, id string, runAt time.Time) error
	Kill(ctx context.Context, id string, lastErr string) error
}
