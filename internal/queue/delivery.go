// internal/queue/delivery.go
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"mailcourier/internal/common/config"
	"mailcourier/internal/common/errors"
	"mailcourier/internal/common/logger"
	"mailcourier/internal/common/metrics"
	"mailcourier/internal/models"
	"mailcourier/internal/provider"
	"mailcourier/internal/status"
	"mailcourier/internal/store"
)

// releaseDelay is how soon a cap-blocked job becomes leasable again.
const releaseDelay = 5 * time.Second

// AdapterBuilder constructs a provider adapter from a team configuration.
// Satisfied by provider.Registry.
type AdapterBuilder interface {
	Build(cfg *models.AdapterConfig) (provider.Adapter, error)
}

// DeliveryHandler processes one send job: resolve the adapter, perform the
// provider call and fold the outcome into the message lifecycle. Retry
// policy lives entirely here; adapters only classify.
type DeliveryHandler struct {
	cfg      config.DeliveryConfig
	messages store.MessageStore
	adapters store.AdapterStore
	registry AdapterBuilder
	tracker  *status.Tracker
	limiter  *Limiter
	backoff  Backoff
	logger   logger.Logger
}

func NewDeliveryHandler(
	cfg config.DeliveryConfig,
	messages store.MessageStore,
	adapters store.AdapterStore,
	registry AdapterBuilder,
	tracker *status.Tracker,
	limiter *Limiter,
	log logger.Logger,
) *DeliveryHandler {
	return &DeliveryHandler{
		cfg:      cfg,
		messages: messages,
		adapters: adapters,
		registry: registry,
		tracker:  tracker,
		limiter:  limiter,
		backoff:  Backoff{Base: cfg.BackoffBase, Cap: cfg.BackoffCap},
		logger:   log,
	}
}

func (h *DeliveryHandler) Handle(ctx context.Context, job *models.Job) Disposition {
	var send models.SendJob
	if err := json.Unmarshal(job.Payload, &send); err != nil {
		// unparseable payloads can never succeed
		h.failMessage(ctx, send.MessageID, errors.NewValidationError(err.Error()))
		return Disposition{Action: ActionDead, Err: err}
	}

	log := h.logger.WithFields(map[string]interface{}{
		"messageId": send.MessageID,
		"teamId":    send.TeamID,
		"attempt":   job.Attempts,
	})

	cfg, err := h.resolveAdapter(ctx, &send)
	if err != nil {
		// no eligible adapter is terminal; a lookup that merely could not
		// reach storage must leave the job to run again
		if errors.Classify(err) == errors.ClassPermanent {
			h.failMessage(ctx, send.MessageID, err)
			return Disposition{Action: ActionDead, Err: err}
		}
		log.WithError(err).Warn("Adapter lookup unavailable, releasing job", nil)
		return Disposition{Action: ActionRelease, Delay: releaseDelay, Err: err}
	}

	keys := []string{teamKey(send.TeamID), adapterKey(cfg.ID)}
	ok, err := h.limiter.Acquire(ctx,
		Slot{Key: teamKey(send.TeamID), Limit: h.cfg.TeamConcurrency},
		Slot{Key: adapterKey(cfg.ID), Limit: h.cfg.AdapterConcurrency},
	)
	if err != nil {
		log.WithError(err).Warn("Concurrency check unavailable, releasing job", nil)
		return Disposition{Action: ActionRelease, Delay: releaseDelay}
	}
	if !ok {
		return Disposition{Action: ActionRelease, Delay: releaseDelay}
	}
	defer h.limiter.Release(ctx, keys...)

	adapter, err := h.registry.Build(cfg)
	if err != nil {
		h.failMessage(ctx, send.MessageID, err)
		return Disposition{Action: ActionDead, Err: err}
	}

	result, err := h.send(ctx, adapter, &send)
	if err != nil {
		return h.dispose(ctx, job, &send, adapter.Kind(), err)
	}

	metrics.DeliveryAttempts.WithLabelValues(string(adapter.Kind()), "success").Inc()
	log.Info("Message sent", map[string]interface{}{
		"provider":          string(adapter.Kind()),
		"providerMessageId": result.ProviderMessageID,
	})

	if result.ProviderMessageID != "" {
		if err := h.messages.SetProviderMessageID(ctx, send.MessageID, result.ProviderMessageID); err != nil {
			// the send happened; do not ack, the retry will hit the
			// provider's idempotency handling
			return Disposition{Action: ActionRetry, Delay: h.backoff.Delay(job.Attempts), Err: err}
		}
	}

	if _, err := h.tracker.Apply(ctx, send.MessageID, models.StatusSent, time.Now().UTC(), "", ""); err != nil {
		return Disposition{Action: ActionRetry, Delay: h.backoff.Delay(job.Attempts), Err: err}
	}
	return Disposition{Action: ActionDone}
}

func (h *DeliveryHandler) resolveAdapter(ctx context.Context, send *models.SendJob) (*models.AdapterConfig, error) {
	if send.AdapterID != "" {
		cfg, err := h.adapters.Get(ctx, send.AdapterID)
		if err != nil {
			return nil, err
		}
		if !cfg.IsActive {
			return nil, errors.NewAdapterNotFoundError(send.TeamID)
		}
		return cfg, nil
	}
	return h.adapters.DefaultForTeam(ctx, send.TeamID)
}

func (h *DeliveryHandler) send(ctx context.Context, adapter provider.Adapter, send *models.SendJob) (*provider.SendResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, h.cfg.ProviderTimeout)
	defer cancel()

	start := time.Now()
	result, err := adapter.Send(callCtx, &provider.Message{
		To:             send.To,
		From:           send.From,
		ReplyTo:        send.ReplyTo,
		Subject:        send.Subject,
		HTML:           send.HTML,
		Text:           send.Text,
		Headers:        send.Headers,
		Attachments:    send.Attachments,
		IdempotencyKey: send.IdempotencyKey,
	})
	metrics.DeliveryDuration.WithLabelValues(string(adapter.Kind())).Observe(time.Since(start).Seconds())
	return result, err
}

// dispose turns a classified send failure into a queue disposition, marking
// the message failed whenever the job will not run again.
func (h *DeliveryHandler) dispose(ctx context.Context, job *models.Job, send *models.SendJob, kind models.ProviderKind, sendErr error) Disposition {
	metrics.DeliveryAttempts.WithLabelValues(string(kind), "failure").Inc()

	budget := h.cfg.MaxAttempts
	switch errors.Classify(sendErr) {
	case errors.ClassPermanent:
		h.failMessage(ctx, send.MessageID, sendErr)
		return Disposition{Action: ActionDead, Err: sendErr}
	case errors.ClassUnknown:
		budget = h.cfg.UnknownMaxAttempts
	}

	if job.Attempts >= budget {
		exhausted := errors.NewAttemptsExhaustedError(job.Attempts, sendErr)
		h.failMessage(ctx, send.MessageID, exhausted)
		return Disposition{Action: ActionDead, Err: exhausted}
	}
	return Disposition{Action: ActionRetry, Delay: h.backoff.Delay(job.Attempts), Err: sendErr}
}

func (h *DeliveryHandler) failMessage(ctx context.Context, messageID string, cause error) {
	if messageID == "" {
		return
	}
	code := string(errors.CodeOf(cause))
	detail := cause.Error()
	if se, ok := cause.(*errors.StandardError); ok && se.Details != "" {
		detail = fmt.Sprintf("%s: %s", se.Message, se.Details)
	}
	if _, err := h.tracker.Apply(ctx, messageID, models.StatusFailed, time.Now().UTC(), code, detail); err != nil {
		h.logger.WithError(err).Error("Failed to mark message failed", map[string]interface{}{
			"messageId": messageID,
		})
	}
}
