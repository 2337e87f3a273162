package quotas

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

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

func (r *PostgresRepository) Get(ctx context.Context, principalID string) (*models.QuotaRecord, error) {
	query :=
		`SELECT principal_id, max_bytes, max_versions_per_file, min_retained_depth, headroom_bytes
		 FROM quotas
		 WHERE principal_id = $1
		 `

	record := &models.QuotaRecord{}
	err := r.db.QueryRowContext(ctx, query, principalID).Scan(
		&record.PrincipalID, &record.MaxBytes, &record.MaxVersionsPerFile,
		&record.MinRetainedDepth, &record.HeadroomBytes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return record, nil
}

func (r *PostgresRepository) Set(ctx context.Context, record *models.QuotaRecord) error {
	query :=
		`INSERT INTO quotas (principal_id, max_bytes, max_versions_per_file, min_retained_depth, headroom_bytes)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (principal_id)
		 DO UPDATE SET
		     max_bytes = EXCLUDED.max_bytes,
		     max_versions_per_file = EXCLUDED.max_versions_per_file,
		     min_retained_depth = EXCLUDED.min_retained_depth,
		     headroom_bytes = EXCLUDED.headroom_bytes
		 `

	_, err := r.db.ExecContext(ctx, query,
		record.PrincipalID, record.MaxBytes, record.MaxVersionsPerFile,
		record.MinRetainedDepth, record.HeadroomBytes)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListPrincipals(ctx context.Context) ([]string, error) {
	query := `SELECT principal_id FROM quotas ORDER BY principal_id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result = append(result, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
