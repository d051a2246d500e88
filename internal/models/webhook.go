// internal/models/webhook.go
package models

import "time"

// Webhook is a team-scoped subscriber endpoint. Events holds the status
// names the subscriber wants; the event vocabulary mirrors Status
// one-to-one, including "queued". ConsecutiveFailures counts terminally
// failed deliveries (not individual attempts) and resets on any success;
// crossing the configured threshold deactivates the webhook.
type Webhook struct {
	ID                  string    `json:"id"`
	TeamID              string    `json:"teamId"`
	URL                 string    `json:"url"`
	Secret              string    `json:"secret"`
	Events              []string  `json:"events"`
	IsActive            bool      `json:"isActive"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// Subscribed reports whether the webhook wants the given event.
func (w *Webhook) Subscribed(event string) bool {
	for _, e := range w.Events {
		if e == event {
			return true
		}
	}
	return false
}

// WebhookJob is the queue-resident payload for one webhook delivery. The
// body is signed once at enqueue time so retries POST byte-identical
// content.
type WebhookJob struct {
	WebhookID string `json:"webhookId"`
	TeamID    string `json:"teamId"`
	Event     string `json:"event"`
	Body      []byte `json:"body"`
	Signature string `json:"signature"`
}

// WebhookDelivery is the persisted audit record of one delivery attempt.
type WebhookDelivery struct {
	ID             string    `json:"id"`
	WebhookID      string    `json:"webhookId"`
	Event          string    `json:"event"`
	AttemptNumber  int       `json:"attemptNumber"`
	ResponseStatus int       `json:"responseStatus,omitempty"`
	ResponseBody   string    `json:"responseBody,omitempty"`
	Success        bool      `json:"success"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// WebhookEventPayload is the JSON body POSTed to subscribers.
type WebhookEventPayload struct {
	Event     string           `json:"event"`
	Timestamp time.Time        `json:"timestamp"`
	Data      WebhookEventData `json:"data"`
}

// WebhookEventData carries the message snapshot inside a webhook payload.
// Field names are part of the external contract.
type WebhookEventData struct {
	EmailID    string   `json:"emailId"`
	TemplateID string   `json:"templateId,omitempty"`
	To         []string `json:"to"`
	Subject    string   `json:"subject"`
	Status     Status   `json:"status"`
	Error      string   `json:"error,omitempty"`
}
