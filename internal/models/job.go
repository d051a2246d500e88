// internal/models/job.go
package models

import (
	"encoding/json"
	"time"
)

// Queue names. Each name is an independent job stream with its own workers
// and retry policy.
const (
	QueueDelivery = "delivery"
	QueueWebhooks = "webhooks"
)

// JobStatus is the persisted state of a queue row.
type JobStatus string

const (
	// JobPending rows are eligible for lease once run_at has passed.
	JobPending JobStatus = "pending"
	// JobDone rows completed successfully and are kept for audit.
	JobDone JobStatus = "done"
	// JobDead rows exhausted their attempts or failed permanently.
	JobDead JobStatus = "dead"
)

// Job is one durable queue row. A row is invisible to other workers while
// leased_until lies in the future; a worker crash simply lets the lease
// expire and the row becomes leasable again.
type Job struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Payload     json.RawMessage `json:"payload"`
	Status      JobStatus       `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	RunAt       time.Time       `json:"runAt"`
	LeasedUntil *time.Time      `json:"leasedUntil,omitempty"`
	LastError   string          `json:"lastError,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}
