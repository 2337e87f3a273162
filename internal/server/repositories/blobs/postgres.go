package blobs

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

func (r *PostgresRepository) Create(ctx context.Context, blob *models.Blob) error {
	query :=
		`INSERT INTO blobs (checksum, original_size, compressed_size, ref_count, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 `

	_, err := r.db.ExecContext(ctx, query,
		blob.Checksum, blob.OriginalSize, blob.CompressedSize, blob.RefCount, blob.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, checksum string) (*models.Blob, error) {
	query :=
		`SELECT checksum, original_size, compressed_size, ref_count, created_at
		 FROM blobs
		 WHERE checksum = $1
		 `

	blob := &models.Blob{}
	err := r.db.QueryRowContext(ctx, query, checksum).Scan(
		&blob.Checksum, &blob.OriginalSize, &blob.CompressedSize, &blob.RefCount, &blob.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return blob, nil
}

func (r *PostgresRepository) IncrementRef(ctx context.Context, checksum string) (bool, error) {
	query := `UPDATE blobs SET ref_count = ref_count + 1 WHERE checksum = $1`

	result, err := r.db.ExecContext(ctx, query, checksum)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) DecrementRef(ctx context.Context, checksum string) error {
	query := `UPDATE blobs SET ref_count = ref_count - 1 WHERE checksum = $1 AND ref_count > 0`

	result, err := r.db.ExecContext(ctx, query, checksum)
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

func (r *PostgresRepository) ListUnreferenced(ctx context.Context, limit int64) ([]string, error) {
	query := `SELECT checksum FROM blobs WHERE ref_count = 0 LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var checksum string
		if err := rows.Scan(&checksum); err != nil {
			return nil, err
		}
		result = append(result, checksum)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) DeleteIfUnreferenced(ctx context.Context, checksum string) (bool, error) {
	query := `DELETE FROM blobs WHERE checksum = $1 AND ref_count = 0`

	result, err := r.db.ExecContext(ctx, query, checksum)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) UsedBytes(ctx context.Context, principalID string) (int64, error) {
	query :=
		`SELECT COALESCE(SUM(b.compressed_size), 0)
		 FROM blobs b
		 WHERE b.checksum IN (
		     SELECT DISTINCT v.checksum
		     FROM file_versions v
		     JOIN tracked_files f ON f.id = v.file_id
		     WHERE f.principal_id = $1
		 )
		 `

	var used int64
	if err := r.db.QueryRowContext(ctx, query, principalID).Scan(&used); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return used, nil
}

func (r *PostgresRepository) RecountRefs(ctx context.Context) (int64, error) {
	query :=
		`UPDATE blobs b
		 SET ref_count = live.cnt
		 FROM (
		     SELECT b2.checksum, COUNT(v.id) AS cnt
		     FROM blobs b2
		     LEFT JOIN file_versions v ON v.checksum = b2.checksum
		     GROUP BY b2.checksum
		 ) live
		 WHERE live.checksum = b.checksum AND b.ref_count <> live.cnt
		 `

	result, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) Stats(ctx context.Context) (*models.DedupStats, error) {
	query :=
		`SELECT COUNT(*),
		        COALESCE(SUM(compressed_size), 0),
		        COALESCE(SUM(original_size), 0),
		        COUNT(*) FILTER (WHERE ref_count > 1),
		        COALESCE(SUM(original_size * (ref_count - 1)) FILTER (WHERE ref_count > 1), 0),
		        COUNT(*) FILTER (WHERE ref_count = 0)
		 FROM blobs
		 `

	stats := &models.DedupStats{}
	err := r.db.QueryRowContext(ctx, query).Scan(
		&stats.TotalBlobs, &stats.TotalCompressed, &stats.TotalOriginal,
		&stats.SharedBlobs, &stats.SavedBytes, &stats.UnreferencedSeen)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return stats, nil
}
