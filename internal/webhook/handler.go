// internal/webhook/handler.go
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"mailcourier/internal/common/config"
	"mailcourier/internal/common/errors"
	commonhttp "mailcourier/internal/common/http"
	"mailcourier/internal/common/logger"
	"mailcourier/internal/common/metrics"
	"mailcourier/internal/models"
	"mailcourier/internal/queue"
	"mailcourier/internal/store"
)

// Handler POSTs one webhook delivery job to its subscriber endpoint. Every
// attempt appends an audit record; terminal failures feed the consecutive
// failure counter that auto-deactivates flaky endpoints.
type Handler struct {
	cfg        config.WebhookConfig
	webhooks   store.WebhookStore
	httpClient *commonhttp.Client
	backoff    queue.Backoff
	logger     logger.Logger
}

func NewHandler(cfg config.WebhookConfig, webhooks store.WebhookStore, log logger.Logger) *Handler {
	return &Handler{
		cfg:        cfg,
		webhooks:   webhooks,
		httpClient: commonhttp.NewClient(cfg.RequestTimeout),
		backoff:    queue.Backoff{Base: cfg.BackoffBase, Cap: cfg.BackoffCap},
		logger:     log,
	}
}

func (h *Handler) Handle(ctx context.Context, job *models.Job) queue.Disposition {
	var delivery models.WebhookJob
	if err := json.Unmarshal(job.Payload, &delivery); err != nil {
		return queue.Disposition{Action: queue.ActionDead, Err: err}
	}

	wh, err := h.webhooks.Get(ctx, delivery.WebhookID)
	if err != nil {
		return queue.Disposition{Action: queue.ActionRetry, Delay: h.backoff.Delay(job.Attempts), Err: err}
	}
	if wh == nil {
		// subscriber was deleted; nothing to deliver to
		return queue.Disposition{Action: queue.ActionDead,
			Err: fmt.Errorf("webhook %s no longer exists", delivery.WebhookID)}
	}

	status, body, postErr := h.post(ctx, wh.URL, &delivery)
	h.record(ctx, &delivery, job.Attempts, status, body, postErr)

	if postErr == nil {
		metrics.WebhookPosts.WithLabelValues("success").Inc()
		if err := h.webhooks.MarkSuccess(ctx, wh.ID); err != nil {
			h.logger.WithError(err).Warn("Failed to reset webhook failure counter", map[string]interface{}{
				"webhookId": wh.ID,
			})
		}
		return queue.Disposition{Action: queue.ActionDone}
	}

	metrics.WebhookPosts.WithLabelValues("failure").Inc()

	if job.Attempts >= job.MaxAttempts {
		h.terminalFailure(ctx, wh.ID)
		return queue.Disposition{Action: queue.ActionDead,
			Err: errors.NewAttemptsExhaustedError(job.Attempts, postErr)}
	}
	return queue.Disposition{Action: queue.ActionRetry, Delay: h.backoff.Delay(job.Attempts), Err: postErr}
}

// post performs the delivery attempt. Any non-2xx response or transport
// failure counts as a failed attempt.
func (h *Handler) post(ctx context.Context, url string, delivery *models.WebhookJob) (int, string, error) {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(delivery.Body))
	if err != nil {
		return 0, "", errors.NewWebhookDeliveryError(url, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, delivery.Signature)

	resp, err := h.httpClient.DoWithContext(ctx, req)
	if err != nil {
		if ctx.Err() != nil || isTimeout(err) {
			return 0, "", errors.NewWebhookTimeoutError(url)
		}
		return 0, "", errors.NewWebhookDeliveryError(url, err)
	}
	defer resp.Body.Close()

	captured, _ := io.ReadAll(io.LimitReader(resp.Body, int64(h.cfg.MaxBodyCapture)))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.StatusCode, string(captured), nil
	}
	return resp.StatusCode, string(captured), errors.NewWebhookStatusError(url, resp.StatusCode)
}

func (h *Handler) record(ctx context.Context, delivery *models.WebhookJob, attempt, status int, body string, postErr error) {
	rec := &models.WebhookDelivery{
		WebhookID:      delivery.WebhookID,
		Event:          delivery.Event,
		AttemptNumber:  attempt,
		ResponseStatus: status,
		ResponseBody:   body,
		Success:        postErr == nil,
	}
	if postErr != nil {
		rec.Error = postErr.Error()
	}
	if err := h.webhooks.RecordDelivery(ctx, rec); err != nil {
		h.logger.WithError(err).Warn("Failed to record webhook delivery", map[string]interface{}{
			"webhookId": delivery.WebhookID,
		})
	}
}

// terminalFailure counts one terminally failed delivery against the
// webhook. Per-job retry attempts do not count; only exhaustion does.
func (h *Handler) terminalFailure(ctx context.Context, webhookID string) {
	deactivated, err := h.webhooks.MarkTerminalFailure(ctx, webhookID, h.cfg.FailureThreshold)
	if err != nil {
		h.logger.WithError(err).Error("Failed to count webhook failure", map[string]interface{}{
			"webhookId": webhookID,
		})
		return
	}
	if deactivated {
		metrics.WebhooksDeactivated.Inc()
		h.logger.Warn("Webhook deactivated after sustained failures", map[string]interface{}{
			"webhookId": webhookID,
			"threshold": h.cfg.FailureThreshold,
		})
	}
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	if te, ok := err.(timeout); ok {
		return te.Timeout()
	}
	return false
}
