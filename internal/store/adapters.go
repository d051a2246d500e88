// internal/store/adapters.go
package store

import (
	"context"
	"database/sql"

	"mailcourier/internal/common/errors"
	"mailcourier/internal/models"
)

// PostgresAdapterStore implements AdapterStore on the adapter_configs table.
type PostgresAdapterStore struct {
	db *sql.DB
}

func NewPostgresAdapterStore(db *sql.DB) *PostgresAdapterStore {
	return &PostgresAdapterStore{db: db}
}

const adapterColumns = `id, team_id, kind, name, config, is_default, is_active, created_at, updated_at`

func (s *PostgresAdapterStore) Get(ctx context.Context, id string) (*models.AdapterConfig, error) {
	const query = `SELECT ` + adapterColumns + ` FROM adapter_configs WHERE id = $1`
	row := s.db.QueryRowContext(ctx, query, id)
	cfg, err := scanAdapter(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewAdapterNotFoundError(id)
	}
	if err != nil {
		return nil, errors.NewStorageUnavailableError(err)
	}
	return cfg, nil
}

// DefaultForTeam returns the team's default active adapter, falling back to
// any active adapter when no default is marked.
func (s *PostgresAdapterStore) DefaultForTeam(ctx context.Context, teamID string) (*models.AdapterConfig, error) {
	const query = `
		SELECT ` + adapterColumns + ` FROM adapter_configs
		WHERE team_id = $1 AND is_active = TRUE
		ORDER BY is_default DESC, created_at
		LIMIT 1`
	row := s.db.QueryRowContext(ctx, query, teamID)
	cfg, err := scanAdapter(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewAdapterNotFoundError(teamID)
	}
	if err != nil {
		return nil, errors.NewStorageUnavailableError(err)
	}
	return cfg, nil
}

func scanAdapter(row rowScanner) (*models.AdapterConfig, error) {
	var cfg models.AdapterConfig
	err := row.Scan(
		&cfg.ID, &cfg.TeamID, &cfg.Kind, &cfg.Name, &cfg.Config,
		&cfg.IsDefault, &cfg.IsActive, &cfg.CreatedAt, &cfg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}
