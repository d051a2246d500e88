// Package provider implements the delivery-provider abstraction: one
// capability interface with a concrete adapter per provider kind. Adapters
// classify failures as transient, permanent or unknown; they never retry,
// retry policy belongs to the delivery queue.
package provider

import (
	"context"

	"mailcourier/internal/models"
)

// Message is the rendered content handed to an adapter for one send.
type Message struct {
	To             []string
	From           string
	ReplyTo        string
	Subject        string
	HTML           string
	Text           string
	Headers        map[string]string
	Attachments    []models.Attachment
	IdempotencyKey string
}

// SendResult reports a successful provider send.
type SendResult struct {
	ProviderMessageID string
	Raw               string
}

// VerifyResult reports the outcome of a configuration probe.
type VerifyResult struct {
	OK     bool
	Detail string
}

// Adapter is implemented once per provider kind. Send and Verify must bound
// their own network calls by the supplied context; classification of
// failures happens inside the adapter via the errors package.
type Adapter interface {
	Kind() models.ProviderKind
	Send(ctx context.Context, msg *Message) (*SendResult, error)
	Verify(ctx context.Context) (*VerifyResult, error)
}
