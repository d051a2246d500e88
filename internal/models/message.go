// internal/models/message.go
package models

import "time"

// Status is the lifecycle state of an outbound message. The values are
// persisted and carried verbatim in webhook payloads, so they must not be
// renamed.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusOpened    Status = "opened"
	StatusClicked   Status = "clicked"
	StatusBounced   Status = "bounced"
	StatusFailed    Status = "failed"
	StatusSpam      Status = "spam"
)

// Statuses lists every valid status value.
var Statuses = []Status{
	StatusQueued, StatusSent, StatusDelivered, StatusOpened,
	StatusClicked, StatusBounced, StatusFailed, StatusSpam,
}

// Valid reports whether s is one of the fixed status values.
func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	switch s {
	case StatusBounced, StatusFailed, StatusSpam, StatusClicked:
		return true
	}
	return false
}

// Message is the persisted email log row: one outbound email and its tracked
// lifecycle. Milestone timestamps are set at most once.
type Message struct {
	ID                string     `json:"id"`
	TeamID            string     `json:"teamId"`
	TemplateID        string     `json:"templateId,omitempty"`
	TemplateVersion   int        `json:"templateVersion,omitempty"`
	AdapterID         string     `json:"adapterId,omitempty"`
	APIKeyID          string     `json:"apiKeyId,omitempty"`
	To                []string   `json:"to"`
	From              string     `json:"from,omitempty"`
	ReplyTo           string     `json:"replyTo,omitempty"`
	Subject           string     `json:"subject"`
	Status            Status     `json:"status"`
	ProviderMessageID string     `json:"providerMessageId,omitempty"`
	ErrorCode         string     `json:"errorCode,omitempty"`
	ErrorMessage      string     `json:"errorMessage,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
	SentAt            *time.Time `json:"sentAt,omitempty"`
	DeliveredAt       *time.Time `json:"deliveredAt,omitempty"`
	OpenedAt          *time.Time `json:"openedAt,omitempty"`
	ClickedAt         *time.Time `json:"clickedAt,omitempty"`
	BouncedAt         *time.Time `json:"bouncedAt,omitempty"`
}

// SendJob is the queue-resident payload for one pending send. It references
// the Message by id and carries the rendered content so workers never
// re-render.
type SendJob struct {
	MessageID      string            `json:"messageId"`
	TeamID         string            `json:"teamId"`
	AdapterID      string            `json:"adapterId,omitempty"`
	To             []string          `json:"to"`
	From           string            `json:"from,omitempty"`
	ReplyTo        string            `json:"replyTo,omitempty"`
	Subject        string            `json:"subject"`
	HTML           string            `json:"html"`
	Text           string            `json:"text"`
	Headers        map[string]string `json:"headers,omitempty"`
	Attachments    []Attachment      `json:"attachments,omitempty"`
	IdempotencyKey string            `json:"idempotencyKey,omitempty"`
}

// Attachment is one file carried with a send. Content travels base64 inside
// the job payload; delivery is at-least-once, so payloads should stay small.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType,omitempty"`
	Content     []byte `json:"content"`
}
