// Package send is the inbound boundary of the delivery engine. It validates
// a send request synchronously, renders the template, creates the message
// log row in queued and enqueues exactly one send job. All downstream
// outcomes are observable only through the message or webhook events; the
// caller is never blocked on provider latency.
package send

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"mailcourier/internal/common/errors"
	"mailcourier/internal/common/logger"
	"mailcourier/internal/models"
	"mailcourier/internal/status"
	"mailcourier/internal/store"
	"mailcourier/internal/template"
)

// Request is one inbound send, as handed over by the API layer with the
// template already resolved to its document.
type Request struct {
	TeamID          string
	TemplateID      string
	TemplateVersion int
	Document        *template.Document
	Variables       map[string]string
	To              []string
	AdapterID       string
	APIKeyID        string
	Subject         string
	From            string
	ReplyTo         string
	Headers         map[string]string
	Attachments     []models.Attachment
	IdempotencyKey  string
}

// Service accepts send requests.
type Service struct {
	messages    store.MessageStore
	jobs        store.JobStore
	idempotency *Idempotency
	maxAttempts int
	listeners   []status.Listener
	logger      logger.Logger
}

func NewService(messages store.MessageStore, jobs store.JobStore, idem *Idempotency, maxAttempts int, log logger.Logger) *Service {
	return &Service{
		messages:    messages,
		jobs:        jobs,
		idempotency: idem,
		maxAttempts: maxAttempts,
		logger:      log,
	}
}

// AddListener registers an observer of message creation, so the queued
// event fans out like any other lifecycle event.
func (s *Service) AddListener(l status.Listener) {
	s.listeners = append(s.listeners, l)
}

// Accept validates, renders and enqueues. On success the returned message is
// in queued. A repeat of an earlier team+idempotency-key pair within the
// window returns that original message instead of creating a new one.
func (s *Service) Accept(ctx context.Context, req *Request) (*models.Message, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	messageID := uuid.New().String()

	if req.IdempotencyKey != "" {
		existingID, reserved, err := s.idempotency.Reserve(ctx, req.TeamID, req.IdempotencyKey, messageID)
		if err != nil {
			return nil, errors.NewQueueUnavailableError(err)
		}
		if !reserved {
			s.logger.Info("Duplicate send request deduplicated", map[string]interface{}{
				"teamId":    req.TeamID,
				"messageId": existingID,
			})
			return s.messages.Get(ctx, existingID)
		}
	}

	msg, err := s.create(ctx, messageID, req)
	if err != nil {
		if req.IdempotencyKey != "" {
			s.idempotency.Release(ctx, req.TeamID, req.IdempotencyKey)
		}
		return nil, err
	}
	return msg, nil
}

func (s *Service) create(ctx context.Context, messageID string, req *Request) (*models.Message, error) {
	rendered, err := template.Render(*req.Document, req.Variables)
	if err != nil {
		return nil, err
	}

	missing := missingVariables(rendered.Variables, req.Variables)
	if len(missing) > 0 {
		s.logger.Warn("Template variables missing from request", map[string]interface{}{
			"teamId":    req.TeamID,
			"variables": strings.Join(missing, ","),
		})
	}

	subject := rendered.Subject
	if req.Subject != "" {
		subject = req.Subject
	}

	msg := &models.Message{
		ID:              messageID,
		TeamID:          req.TeamID,
		TemplateID:      req.TemplateID,
		TemplateVersion: req.TemplateVersion,
		AdapterID:       req.AdapterID,
		APIKeyID:        req.APIKeyID,
		To:              req.To,
		From:            req.From,
		ReplyTo:         req.ReplyTo,
		Subject:         subject,
		Status:          models.StatusQueued,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(models.SendJob{
		MessageID:      msg.ID,
		TeamID:         msg.TeamID,
		AdapterID:      msg.AdapterID,
		To:             msg.To,
		From:           msg.From,
		ReplyTo:        msg.ReplyTo,
		Subject:        subject,
		HTML:           rendered.HTML,
		Text:           rendered.Text,
		Headers:        req.Headers,
		Attachments:    req.Attachments,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, errors.NewValidationError(err.Error())
	}

	if _, err := s.jobs.Enqueue(ctx, models.QueueDelivery, payload, s.maxAttempts, time.Now().UTC()); err != nil {
		return nil, err
	}

	s.logger.Info("Send request accepted", map[string]interface{}{
		"messageId": msg.ID,
		"teamId":    msg.TeamID,
	})

	now := time.Now().UTC()
	for _, l := range s.listeners {
		l.TransitionAccepted(ctx, msg, models.StatusQueued, now)
	}
	return msg, nil
}

func validate(req *Request) error {
	if req.TeamID == "" {
		return errors.NewValidationError("teamId is required")
	}
	if req.Document == nil {
		return errors.NewTemplateNotFoundError(req.TemplateID)
	}
	if len(req.To) == 0 {
		return errors.NewValidationError("at least one recipient is required")
	}
	for _, addr := range req.To {
		if !validEmail(addr) {
			return errors.NewInvalidRecipientError(addr)
		}
	}
	for _, att := range req.Attachments {
		if att.Filename == "" {
			return errors.NewValidationError("attachment filename is required")
		}
	}
	return nil
}

func validEmail(addr string) bool {
	at := strings.Index(addr, "@")
	if at < 1 || at == len(addr)-1 {
		return false
	}
	domain := addr[at+1:]
	return strings.Contains(domain, ".") && !strings.ContainsAny(addr, " \t\r\n")
}

func missingVariables(referenced []string, provided map[string]string) []string {
	var missing []string
	for _, name := range referenced {
		if _, ok := provided[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// CallbackEvent is an inbound provider callback mapped onto the lifecycle
// vocabulary.
type CallbackEvent struct {
	ProviderMessageID string
	MessageID         string
	Event             models.Status
	At                time.Time
	Detail            string
}

// MessageResolver finds the message a provider callback refers to.
// Satisfied by store.PostgresMessageStore.
type MessageResolver interface {
	FindByProviderMessageID(ctx context.Context, providerMessageID string) (*models.Message, error)
}

// Callbacks feeds provider events into the status tracker. It resolves the
// message by provider message id when the provider does not echo ours back.
type Callbacks struct {
	messages MessageResolver
	tracker  *status.Tracker
	logger   logger.Logger
}

func NewCallbacks(messages MessageResolver, tracker *status.Tracker, log logger.Logger) *Callbacks {
	return &Callbacks{messages: messages, tracker: tracker, logger: log}
}

// HandleEvent applies one provider callback. Unknown messages and stale
// events are absorbed, not errors.
func (c *Callbacks) HandleEvent(ctx context.Context, ev *CallbackEvent) error {
	switch ev.Event {
	case models.StatusDelivered, models.StatusOpened, models.StatusClicked,
		models.StatusBounced, models.StatusSpam:
	default:
		return errors.NewValidationError(fmt.Sprintf("unsupported callback event %q", ev.Event))
	}

	messageID := ev.MessageID
	if messageID == "" {
		msg, err := c.messages.FindByProviderMessageID(ctx, ev.ProviderMessageID)
		if err != nil {
			return err
		}
		if msg == nil {
			c.logger.Warn("Callback for unknown provider message ignored", map[string]interface{}{
				"providerMessageId": ev.ProviderMessageID,
			})
			return nil
		}
		messageID = msg.ID
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	errCode := ""
	if ev.Event == models.StatusBounced || ev.Event == models.StatusSpam {
		errCode = string(errors.ErrCodeProviderRejected)
	}

	_, err := c.tracker.Apply(ctx, messageID, ev.Event, at, errCode, ev.Detail)
	return err
}
