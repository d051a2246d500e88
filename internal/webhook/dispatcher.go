// internal/webhook/dispatcher.go
package webhook

import (
	"context"
	"encoding/json"
	"time"

	"mailcourier/internal/common/logger"
	"mailcourier/internal/models"
	"mailcourier/internal/store"
)

// Dispatcher enqueues one delivery job per subscribed active webhook for
// every accepted status transition. It implements status.Listener.
type Dispatcher struct {
	webhooks    store.WebhookStore
	jobs        store.JobStore
	maxAttempts int
	logger      logger.Logger
}

func NewDispatcher(webhooks store.WebhookStore, jobs store.JobStore, maxAttempts int, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		webhooks:    webhooks,
		jobs:        jobs,
		maxAttempts: maxAttempts,
		logger:      log,
	}
}

// TransitionAccepted fans the event out. Enqueue failures are logged, not
// propagated: webhook notification is best-effort relative to the
// transition itself, which has already been recorded.
func (d *Dispatcher) TransitionAccepted(ctx context.Context, msg *models.Message, to models.Status, at time.Time) {
	event := string(to)

	subscribers, err := d.webhooks.ActiveForTeam(ctx, msg.TeamID)
	if err != nil {
		d.logger.WithError(err).Error("Failed to load webhooks for fan-out", map[string]interface{}{
			"teamId": msg.TeamID,
			"event":  event,
		})
		return
	}

	for _, wh := range subscribers {
		if !wh.Subscribed(event) {
			continue
		}
		if err := d.enqueue(ctx, wh, msg, to, at); err != nil {
			d.logger.WithError(err).Error("Failed to enqueue webhook delivery", map[string]interface{}{
				"webhookId": wh.ID,
				"event":     event,
			})
		}
	}
}

func (d *Dispatcher) enqueue(ctx context.Context, wh *models.Webhook, msg *models.Message, to models.Status, at time.Time) error {
	body, err := json.Marshal(models.WebhookEventPayload{
		Event:     string(to),
		Timestamp: at.UTC(),
		Data: models.WebhookEventData{
			EmailID:    msg.ID,
			TemplateID: msg.TemplateID,
			To:         msg.To,
			Subject:    msg.Subject,
			Status:     to,
			Error:      msg.ErrorMessage,
		},
	})
	if err != nil {
		return err
	}

	payload, err := json.Marshal(models.WebhookJob{
		WebhookID: wh.ID,
		TeamID:    wh.TeamID,
		Event:     string(to),
		Body:      body,
		Signature: Sign(wh.Secret, body),
	})
	if err != nil {
		return err
	}

	_, err = d.jobs.Enqueue(ctx, models.QueueWebhooks, payload, d.maxAttempts, time.Now().UTC())
	return err
}
