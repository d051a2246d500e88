// internal/store/webhooks.go
package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"mailcourier/internal/common/errors"
	"mailcourier/internal/models"
)

// PostgresWebhookStore implements WebhookStore on the webhooks and
// webhook_deliveries tables.
type PostgresWebhookStore struct {
	db *sql.DB
}

func NewPostgresWebhookStore(db *sql.DB) *PostgresWebhookStore {
	return &PostgresWebhookStore{db: db}
}

const webhookColumns = `id, team_id, url, secret, events, is_active, consecutive_failures, created_at, updated_at`

func (s *PostgresWebhookStore) Get(ctx context.Context, id string) (*models.Webhook, error) {
	const query = `SELECT ` + webhookColumns + ` FROM webhooks WHERE id = $1`
	row := s.db.QueryRowContext(ctx, query, id)
	wh, err := scanWebhook(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewStorageUnavailableError(err)
	}
	return wh, nil
}

func (s *PostgresWebhookStore) ActiveForTeam(ctx context.Context, teamID string) ([]*models.Webhook, error) {
	const query = `
		SELECT ` + webhookColumns + ` FROM webhooks
		WHERE team_id = $1 AND is_active = TRUE
		ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, query, teamID)
	if err != nil {
		return nil, errors.NewStorageUnavailableError(err)
	}
	defer rows.Close()

	var webhooks []*models.Webhook
	for rows.Next() {
		wh, err := scanWebhook(rows)
		if err != nil {
			return nil, errors.NewStorageUnavailableError(err)
		}
		webhooks = append(webhooks, wh)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageUnavailableError(err)
	}
	return webhooks, nil
}

func (s *PostgresWebhookStore) MarkSuccess(ctx context.Context, id string) error {
	const query = `
		UPDATE webhooks SET consecutive_failures = 0, updated_at = NOW()
		WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return errors.NewStorageUnavailableError(err)
	}
	return nil
}

// MarkTerminalFailure bumps the counter and deactivates in one statement so
// concurrent webhook workers cannot push the counter past the threshold
// while leaving the webhook active.
func (s *PostgresWebhookStore) MarkTerminalFailure(ctx context.Context, id string, threshold int) (bool, error) {
	const query = `
		UPDATE webhooks SET
			consecutive_failures = consecutive_failures + 1,
			is_active = is_active AND (consecutive_failures + 1 < $2),
			updated_at = NOW()
		WHERE id = $1
		RETURNING is_active`
	var stillActive bool
	err := s.db.QueryRowContext(ctx, query, id, threshold).Scan(&stillActive)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.NewStorageUnavailableError(err)
	}
	return !stillActive, nil
}

func (s *PostgresWebhookStore) RecordDelivery(ctx context.Context, d *models.WebhookDelivery) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	const query = `
		INSERT INTO webhook_deliveries (id, webhook_id, event, attempt_number, response_status, response_body, success, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NOW())
		RETURNING created_at`
	err := s.db.QueryRowContext(ctx, query,
		d.ID, d.WebhookID, d.Event, d.AttemptNumber, d.ResponseStatus, d.ResponseBody, d.Success, d.Error,
	).Scan(&d.CreatedAt)
	if err != nil {
		return errors.NewStorageUnavailableError(err)
	}
	return nil
}

func scanWebhook(row rowScanner) (*models.Webhook, error) {
	var wh models.Webhook
	err := row.Scan(
		&wh.ID, &wh.TeamID, &wh.URL, &wh.Secret, pq.Array(&wh.Events),
		&wh.IsActive, &wh.ConsecutiveFailures, &wh.CreatedAt, &wh.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &wh, nil
}
