package principals

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/selfvault/syncengine/internal/dbx"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) IncrementCursor(ctx context.Context, principalID string) (int64, error) {
	query :=
		`INSERT INTO principal_cursors (principal_id, current_cursor)
		 VALUES ($1, 1)
		 ON CONFLICT (principal_id)
		 DO UPDATE SET current_cursor = principal_cursors.current_cursor + 1
		 RETURNING current_cursor
		 `

	var cursor int64
	if err := r.db.QueryRowContext(ctx, query, principalID).Scan(&cursor); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return cursor, nil
}

func (r *PostgresRepository) CurrentCursor(ctx context.Context, principalID string) (int64, error) {
	query := `SELECT current_cursor FROM principal_cursors WHERE principal_id = $1`

	var cursor int64
	err := r.db.QueryRowContext(ctx, query, principalID).Scan(&cursor)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("db error: %w", err)
	}
	return cursor, nil
}
