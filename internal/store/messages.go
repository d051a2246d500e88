// internal/store/messages.go
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"mailcourier/internal/common/errors"
	"mailcourier/internal/models"
)

// PostgresMessageStore implements MessageStore on the messages table.
type PostgresMessageStore struct {
	db *sql.DB
}

func NewPostgresMessageStore(db *sql.DB) *PostgresMessageStore {
	return &PostgresMessageStore{db: db}
}

const messageColumns = `id, team_id, template_id, template_version, adapter_id, api_key_id,
	recipients, from_address, reply_to, subject, status, provider_message_id,
	error_code, error_message, created_at, updated_at,
	sent_at, delivered_at, opened_at, clicked_at, bounced_at`

func (s *PostgresMessageStore) Create(ctx context.Context, msg *models.Message) error {
	const query = `
		INSERT INTO messages (id, team_id, template_id, template_version, adapter_id, api_key_id,
			recipients, from_address, reply_to, subject, status, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9, $10, $11, NOW(), NOW())
		RETURNING created_at, updated_at`

	err := s.db.QueryRowContext(ctx, query,
		msg.ID, msg.TeamID, msg.TemplateID, msg.TemplateVersion, msg.AdapterID, msg.APIKeyID,
		pq.Array(msg.To), msg.From, msg.ReplyTo, msg.Subject, msg.Status,
	).Scan(&msg.CreatedAt, &msg.UpdatedAt)
	if err != nil {
		return errors.NewStorageUnavailableError(err)
	}
	return nil
}

func (s *PostgresMessageStore) Get(ctx context.Context, id string) (*models.Message, error) {
	query := fmt.Sprintf(`SELECT %s FROM messages WHERE id = $1`, messageColumns)
	row := s.db.QueryRowContext(ctx, query, id)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewStorageUnavailableError(fmt.Errorf("message %s not found", id))
	}
	if err != nil {
		return nil, errors.NewStorageUnavailableError(err)
	}
	return msg, nil
}

// milestoneColumn maps a status to its set-once timestamp column. Opened and
// clicked share delivered_at backfill handling in the tracker, so only their
// own columns are stamped here.
func milestoneColumn(status models.Status) string {
	switch status {
	case models.StatusSent:
		return "sent_at"
	case models.StatusDelivered:
		return "delivered_at"
	case models.StatusOpened:
		return "opened_at"
	case models.StatusClicked:
		return "clicked_at"
	case models.StatusBounced, models.StatusSpam:
		return "bounced_at"
	}
	return ""
}

// CompareAndSetStatus performs the optimistic concurrency transition: the
// UPDATE only matches when the row still holds the expected status, so two
// racing writers cannot both win. COALESCE keeps a milestone timestamp at
// its first value.
func (s *PostgresMessageStore) CompareAndSetStatus(ctx context.Context, id string, expected, next models.Status, at time.Time, errCode, errMsg string) (bool, error) {
	query := `
		UPDATE messages SET
			status = $3,
			error_code = NULLIF($4, ''),
			error_message = NULLIF($5, ''),
			updated_at = NOW()`
	args := []interface{}{id, expected, next, errCode, errMsg}

	if col := milestoneColumn(next); col != "" {
		query += fmt.Sprintf(", %s = COALESCE(%s, $6)", col, col)
		args = append(args, at.UTC())
	}
	query += ` WHERE id = $1 AND status = $2`

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, errors.NewStorageUnavailableError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, errors.NewStorageUnavailableError(err)
	}
	return affected == 1, nil
}

func (s *PostgresMessageStore) SetProviderMessageID(ctx context.Context, id, providerMessageID string) error {
	const query = `
		UPDATE messages SET provider_message_id = $2, updated_at = NOW()
		WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, query, id, providerMessageID); err != nil {
		return errors.NewStorageUnavailableError(err)
	}
	return nil
}

// FindByProviderMessageID resolves a provider event back to the message it
// concerns.
func (s *PostgresMessageStore) FindByProviderMessageID(ctx context.Context, providerMessageID string) (*models.Message, error) {
	query := fmt.Sprintf(`SELECT %s FROM messages WHERE provider_message_id = $1`, messageColumns)
	row := s.db.QueryRowContext(ctx, query, providerMessageID)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewStorageUnavailableError(err)
	}
	return msg, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var msg models.Message
	var templateID, adapterID, apiKeyID, from, replyTo sql.NullString
	var templateVersion sql.NullInt64
	var providerMessageID, errorCode, errorMessage sql.NullString
	var sentAt, deliveredAt, openedAt, clickedAt, bouncedAt sql.NullTime

	err := row.Scan(
		&msg.ID, &msg.TeamID, &templateID, &templateVersion, &adapterID, &apiKeyID,
		pq.Array(&msg.To), &from, &replyTo, &msg.Subject, &msg.Status, &providerMessageID,
		&errorCode, &errorMessage, &msg.CreatedAt, &msg.UpdatedAt,
		&sentAt, &deliveredAt, &openedAt, &clickedAt, &bouncedAt,
	)
	if err != nil {
		return nil, err
	}

	msg.TemplateID = templateID.String
	msg.TemplateVersion = int(templateVersion.Int64)
	msg.AdapterID = adapterID.String
	msg.APIKeyID = apiKeyID.String
	msg.From = from.String
	msg.ReplyTo = replyTo.String
	msg.ProviderMessageID = providerMessageID.String
	msg.ErrorCode = errorCode.String
	msg.ErrorMessage = errorMessage.String
	msg.SentAt = timePtr(sentAt)
	msg.DeliveredAt = timePtr(deliveredAt)
	msg.OpenedAt = timePtr(openedAt)
	msg.ClickedAt = timePtr(clickedAt)
	msg.BouncedAt = timePtr(bouncedAt)
	return &msg, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
