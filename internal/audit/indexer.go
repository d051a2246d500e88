// internal/audit/indexer.go

// Package audit records every accepted lifecycle transition in
// Elasticsearch for searchable delivery history. Indexing is best effort:
// the message row remains the source of truth and an unreachable cluster
// never blocks or fails a transition.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/elastic/go-elasticsearch/v8"

	"mailcourier/internal/common/logger"
	"mailcourier/internal/models"
)

const indexTimeout = 5 * time.Second

// Entry is one indexed transition document.
type Entry struct {
	MessageID         string        `json:"messageId"`
	TeamID            string        `json:"teamId"`
	TemplateID        string        `json:"templateId,omitempty"`
	AdapterID         string        `json:"adapterId,omitempty"`
	ProviderMessageID string        `json:"providerMessageId,omitempty"`
	To                []string      `json:"to"`
	Subject           string        `json:"subject,omitempty"`
	Status            models.Status `json:"status"`
	ErrorCode         string        `json:"errorCode,omitempty"`
	OccurredAt        time.Time     `json:"occurredAt"`
	IndexedAt         time.Time     `json:"indexedAt"`
}

// Indexer writes transition entries. It satisfies status.Listener so it can
// hang off the tracker like any other observer.
type Indexer struct {
	client *elasticsearch.Client
	index  string
	logger logger.Logger
}

func NewIndexer(client *elasticsearch.Client, index string, log logger.Logger) *Indexer {
	return &Indexer{
		client: client,
		index:  index,
		logger: log.WithFields(map[string]interface{}{"component": "audit"}),
	}
}

// TransitionAccepted indexes the transition. Failures are logged and
// swallowed.
func (x *Indexer) TransitionAccepted(ctx context.Context, msg *models.Message, to models.Status, at time.Time) {
	entry := Entry{
		MessageID:         msg.ID,
		TeamID:            msg.TeamID,
		TemplateID:        msg.TemplateID,
		AdapterID:         msg.AdapterID,
		ProviderMessageID: msg.ProviderMessageID,
		To:                msg.To,
		Subject:           msg.Subject,
		Status:            to,
		ErrorCode:         msg.ErrorCode,
		OccurredAt:        at.UTC(),
		IndexedAt:         time.Now().UTC(),
	}

	body, err := json.Marshal(entry)
	if err != nil {
		x.logger.Error("Failed to marshal audit entry", map[string]interface{}{
			"messageId": msg.ID,
			"error":     err.Error(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, indexTimeout)
	defer cancel()

	res, err := x.client.Index(
		x.index,
		bytes.NewReader(body),
		x.client.Index.WithContext(ctx),
		x.client.Index.WithDocumentID(docID(msg.ID, to)),
	)
	if err != nil {
		x.logger.Warn("Audit indexing failed", map[string]interface{}{
			"messageId": msg.ID,
			"status":    string(to),
			"error":     err.Error(),
		})
		return
	}
	defer res.Body.Close()

	if res.IsError() {
		x.logger.Warn("Audit indexing rejected", map[string]interface{}{
			"messageId": msg.ID,
			"status":    string(to),
			"response":  res.Status(),
		})
	}
}

// docID makes reindexing a replayed transition overwrite rather than
// duplicate.
func docID(messageID string, to models.Status) string {
	return fmt.Sprintf("%s-%s", messageID, to)
}
