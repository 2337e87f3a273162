package devices

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/selfvault/syncengine/internal/common"
	"github.com/selfvault/syncengine/internal/dbx"
	"github.com/selfvault/syncengine/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, device *models.Device) (*models.Device, error) {
	query :=
		`INSERT INTO devices (id, principal_id, name, last_cursor, registered_at, last_seen_at, active)
		 VALUES ($1, $2, $3, $4, $5, $5, TRUE)
		 RETURNING id
		 `

	err := r.db.QueryRowContext(ctx, query,
		device.ID, device.PrincipalID, device.Name, device.LastCursor, device.RegisteredAt).Scan(&device.ID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	device.LastSeenAt = device.RegisteredAt
	device.Active = true
	return device, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Device, error) {
	query :=
		`SELECT id, principal_id, name, last_cursor, registered_at, last_seen_at, active
		 FROM devices
		 WHERE id = $1
		 `

	device := &models.Device{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&device.ID, &device.PrincipalID, &device.Name, &device.LastCursor,
		&device.RegisteredAt, &device.LastSeenAt, &device.Active)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return device, nil
}

func (r *PostgresRepository) UpdateCursor(ctx context.Context, id string, cursor int64, seenAt time.Time) error {
	query :=
		`UPDATE devices SET last_cursor = $2, last_seen_at = $3
		 WHERE id = $1
		 `

	result, err := r.db.ExecContext(ctx, query, id, cursor, seenAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) Deactivate(ctx context.Context, id string) error {
	query := `UPDATE devices SET active = FALSE WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
