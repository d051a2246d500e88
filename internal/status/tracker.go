// Package status owns the per-message lifecycle state machine. Both the
// delivery workers and inbound provider callbacks funnel through the same
// Apply entry point; optimistic concurrency on the current status serializes
// racing writers without locks.
package status

import (
	"context"
	"fmt"
	"time"

	"mailcourier/internal/common/errors"
	"mailcourier/internal/common/logger"
	"mailcourier/internal/common/metrics"
	"mailcourier/internal/models"
	"mailcourier/internal/store"
)

// forwardEdges is the allowed transition table. Absent keys are terminal.
var forwardEdges = map[models.Status][]models.Status{
	models.StatusQueued:    {models.StatusSent, models.StatusFailed},
	models.StatusSent:      {models.StatusDelivered, models.StatusBounced, models.StatusFailed},
	models.StatusDelivered: {models.StatusOpened, models.StatusBounced, models.StatusSpam},
	models.StatusOpened:    {models.StatusClicked},
}

// impliedIntermediates are the milestones a late callback may backfill.
// Provider callback ordering is not guaranteed, so an opened event may
// arrive before delivered was recorded; sent is never implied because only
// the delivery worker owns it.
var impliedIntermediates = map[models.Status]bool{
	models.StatusDelivered: true,
	models.StatusOpened:    true,
}

// Listener observes accepted transitions. The webhook dispatcher and the
// audit indexer register here.
type Listener interface {
	TransitionAccepted(ctx context.Context, msg *models.Message, to models.Status, at time.Time)
}

// Tracker applies transition requests against the message store.
type Tracker struct {
	messages  store.MessageStore
	logger    logger.Logger
	listeners []Listener

	// conflictRetries bounds the read-modify-write loop when two writers
	// race on the same message.
	conflictRetries int
}

func NewTracker(messages store.MessageStore, log logger.Logger) *Tracker {
	return &Tracker{
		messages:        messages,
		logger:          log,
		conflictRetries: 5,
	}
}

// AddListener registers a transition observer. Not safe to call after
// workers start.
func (t *Tracker) AddListener(l Listener) {
	t.listeners = append(t.listeners, l)
}

// Apply requests that the message move to target. It returns true when at
// least one transition was recorded. Duplicate or unreachable requests are
// absorbed as logged no-ops, never errors.
func (t *Tracker) Apply(ctx context.Context, messageID string, target models.Status, at time.Time, errCode, errMsg string) (bool, error) {
	if !target.Valid() {
		return false, errors.NewValidationError(fmt.Sprintf("unknown status %q", target))
	}

	for attempt := 0; attempt < t.conflictRetries; attempt++ {
		msg, err := t.messages.Get(ctx, messageID)
		if err != nil {
			return false, err
		}

		if msg.Status == target {
			t.logger.Debug("Duplicate status transition ignored", map[string]interface{}{
				"messageId": messageID,
				"status":    string(target),
			})
			return false, nil
		}

		path := transitionPath(msg.Status, target)
		if path == nil {
			t.logger.Info("Stale status transition ignored", map[string]interface{}{
				"messageId": messageID,
				"from":      string(msg.Status),
				"to":        string(target),
			})
			return false, nil
		}

		applied, conflict, err := t.applyPath(ctx, msg, path, at, errCode, errMsg)
		if err != nil {
			return false, err
		}
		if conflict {
			continue
		}
		return applied, nil
	}

	return false, errors.NewStorageUnavailableError(
		fmt.Errorf("status transition for message %s lost %d consecutive races", messageID, t.conflictRetries))
}

// applyPath walks the message through each step of the path, re-checking
// ownership at every hop. All steps carry the same timestamp so a backfilled
// delivered equals the callback time of the event that implied it.
func (t *Tracker) applyPath(ctx context.Context, msg *models.Message, path []models.Status, at time.Time, errCode, errMsg string) (applied, conflict bool, err error) {
	current := msg.Status
	for _, next := range path {
		ok, err := t.messages.CompareAndSetStatus(ctx, msg.ID, current, next, at, errCode, errMsg)
		if err != nil {
			return applied, false, err
		}
		if !ok {
			// another writer moved the message; re-read and re-plan
			return applied, true, nil
		}

		metrics.StatusTransitions.WithLabelValues(string(next)).Inc()
		t.logger.Info("Status transition applied", map[string]interface{}{
			"messageId": msg.ID,
			"from":      string(current),
			"to":        string(next),
		})

		snapshot := *msg
		snapshot.Status = next
		snapshot.ErrorCode = errCode
		snapshot.ErrorMessage = errMsg
		t.notify(ctx, &snapshot, next, at)

		current = next
		applied = true
	}
	return applied, false, nil
}

func (t *Tracker) notify(ctx context.Context, msg *models.Message, to models.Status, at time.Time) {
	for _, l := range t.listeners {
		l.TransitionAccepted(ctx, msg, to, at)
	}
}

// transitionPath returns the steps from `from` to `target`, or nil when
// target is unreachable. Unreachable includes everything downstream of a
// terminal state and any hop that would require implying a non-milestone
// intermediate.
func transitionPath(from, target models.Status) []models.Status {
	for _, next := range forwardEdges[from] {
		if next == target {
			return []models.Status{target}
		}
	}

	// out-of-order callback: search through implied milestones only
	for _, next := range forwardEdges[from] {
		if !impliedIntermediates[next] {
			continue
		}
		if rest := transitionPath(next, target); rest != nil {
			return append([]models.Status{next}, rest...)
		}
	}
	return nil
}
