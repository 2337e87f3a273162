package files

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

func (r *PostgresRepository) GetByPath(ctx context.Context, principalID, path string) (*models.TrackedFile, error) {
	query :=
		`SELECT id, principal_id, path, current_version, deleted, created_at, updated_at
		 FROM tracked_files
		 WHERE principal_id = $1 AND path = $2
		 `
	return r.scanFile(r.db.QueryRowContext(ctx, query, principalID, path))
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.TrackedFile, error) {
	query :=
		`SELECT id, principal_id, path, current_version, deleted, created_at, updated_at
		 FROM tracked_files
		 WHERE id = $1
		 `
	return r.scanFile(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) scanFile(row *sql.Row) (*models.TrackedFile, error) {
	file := &models.TrackedFile{}
	err := row.Scan(&file.ID, &file.PrincipalID, &file.Path, &file.CurrentVersion,
		&file.Deleted, &file.CreatedAt, &file.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return file, nil
}

func (r *PostgresRepository) Create(ctx context.Context, file *models.TrackedFile) error {
	query :=
		`INSERT INTO tracked_files (id, principal_id, path, current_version, deleted, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, FALSE, $5, $5)
		 `

	_, err := r.db.ExecContext(ctx, query,
		file.ID, file.PrincipalID, file.Path, file.CurrentVersion, file.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListStates(ctx context.Context, principalID string) ([]*FileState, error) {
	// LEFT JOIN so a tombstoned file whose versions are all gone still
	// surfaces; the detector needs the row to propagate the deletion.
	query :=
		`SELECT f.id, f.path, COALESCE(v.checksum, ''), COALESCE(v.cursor, 0), COALESCE(v.created_at, f.updated_at), f.deleted
		 FROM tracked_files f
		 LEFT JOIN file_versions v ON v.file_id = f.id AND v.version_no = f.current_version
		 WHERE f.principal_id = $1
		 `

	rows, err := r.db.QueryContext(ctx, query, principalID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*FileState
	for rows.Next() {
		var item FileState
		if err := rows.Scan(&item.FileID, &item.Path, &item.Checksum,
			&item.Cursor, &item.ModifiedAt, &item.Deleted); err != nil {
			return nil, err
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) MarkDeleted(ctx context.Context, fileID string, deleted bool) error {
	query := `UPDATE tracked_files SET deleted = $2, updated_at = now() WHERE id = $1`
	return r.execOne(ctx, query, fileID, deleted)
}

func (r *PostgresRepository) CreateVersion(ctx context.Context, version *models.FileVersion) error {
	query :=
		`INSERT INTO file_versions
		 (id, file_id, version_no, cursor, checksum, original_size, compressed_size, created_at, device_id, high_priority, change_type)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 `

	_, err := r.db.ExecContext(ctx, query,
		version.ID, version.FileID, version.VersionNo, version.Cursor, version.Checksum,
		version.OriginalSize, version.CompressedSize, version.CreatedAt,
		version.DeviceID, version.HighPriority, version.ChangeType)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SetCurrentVersion(ctx context.Context, fileID string, versionNo int64) error {
	query := `UPDATE tracked_files SET current_version = $2, updated_at = now() WHERE id = $1`
	return r.execOne(ctx, query, fileID, versionNo)
}

func (r *PostgresRepository) ListVersions(ctx context.Context, fileID string) ([]*models.FileVersion, error) {
	query :=
		`SELECT id, file_id, version_no, cursor, checksum, original_size, compressed_size, created_at, device_id, high_priority, change_type
		 FROM file_versions
		 WHERE file_id = $1
		 ORDER BY version_no DESC
		 `

	rows, err := r.db.QueryContext(ctx, query, fileID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.FileVersion
	for rows.Next() {
		item, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) GetVersion(ctx context.Context, fileID string, versionNo int64) (*models.FileVersion, error) {
	query :=
		`SELECT id, file_id, version_no, cursor, checksum, original_size, compressed_size, created_at, device_id, high_priority, change_type
		 FROM file_versions
		 WHERE file_id = $1 AND version_no = $2
		 `

	rows, err := r.db.QueryContext(ctx, query, fileID, versionNo)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, common.ErrorNotFound
	}
	return scanVersion(rows)
}

func scanVersion(rows *sql.Rows) (*models.FileVersion, error) {
	item := &models.FileVersion{}
	if err := rows.Scan(&item.ID, &item.FileID, &item.VersionNo, &item.Cursor,
		&item.Checksum, &item.OriginalSize, &item.CompressedSize, &item.CreatedAt,
		&item.DeviceID, &item.HighPriority, &item.ChangeType); err != nil {
		return nil, err
	}
	return item, nil
}

func (r *PostgresRepository) DeleteVersion(ctx context.Context, versionID string) error {
	query := `DELETE FROM file_versions WHERE id = $1`
	return r.execOne(ctx, query, versionID)
}

func (r *PostgresRepository) CountVersions(ctx context.Context, fileID string) (int64, error) {
	query := `SELECT COUNT(*) FROM file_versions WHERE file_id = $1`

	var count int64
	if err := r.db.QueryRowContext(ctx, query, fileID).Scan(&count); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return count, nil
}

func (r *PostgresRepository) SetHighPriority(ctx context.Context, fileID string, versionNo int64, high bool) error {
	query := `UPDATE file_versions SET high_priority = $3 WHERE file_id = $1 AND version_no = $2`
	return r.execOne(ctx, query, fileID, versionNo, high)
}

func (r *PostgresRepository) DepthCandidates(ctx context.Context, fileID string, keep int64) ([]*EvictionCandidate, error) {
	// Rank every version newest-first so the current version counts toward
	// the retained window even when conflict copies sit above it; it is
	// excluded from candidacy afterwards, never from the ranking.
	query :=
		`SELECT ranked.id, ranked.file_id, ranked.version_no, ranked.checksum, ranked.compressed_size, ranked.created_at FROM (
		     SELECT v.id, v.file_id, v.version_no, v.checksum, v.compressed_size, v.created_at,
		            v.high_priority,
		            row_number() OVER (ORDER BY v.version_no DESC) AS rn
		     FROM file_versions v
		     WHERE v.file_id = $1
		 ) ranked
		 JOIN tracked_files f ON f.id = ranked.file_id
		 WHERE rn > $2
		   AND NOT ranked.high_priority
		   AND ranked.version_no <> f.current_version
		 ORDER BY ranked.version_no ASC
		 `

	return r.queryCandidates(ctx, query, fileID, keep)
}

func (r *PostgresRepository) EvictionCandidates(ctx context.Context, principalID string, minDepth, limit int64) ([]*EvictionCandidate, error) {
	// Rank versions newest-first within each file; anything inside the
	// retained depth, flagged high priority, or serving as the current
	// version is never a candidate.
	query :=
		`SELECT id, file_id, version_no, checksum, compressed_size, created_at FROM (
		     SELECT v.id, v.file_id, v.version_no, v.checksum, v.compressed_size, v.created_at,
		            row_number() OVER (PARTITION BY v.file_id ORDER BY v.version_no DESC) AS rn
		     FROM file_versions v
		     JOIN tracked_files f ON f.id = v.file_id
		     WHERE f.principal_id = $1
		       AND NOT v.high_priority
		       AND v.version_no <> f.current_version
		 ) ranked
		 WHERE rn > $2
		 ORDER BY created_at ASC
		 LIMIT $3
		 `

	return r.queryCandidates(ctx, query, principalID, minDepth, limit)
}

func (r *PostgresRepository) queryCandidates(ctx context.Context, query string, args ...any) ([]*EvictionCandidate, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*EvictionCandidate
	for rows.Next() {
		var item EvictionCandidate
		if err := rows.Scan(&item.VersionID, &item.FileID, &item.VersionNo,
			&item.Checksum, &item.CompressedSize, &item.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
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
