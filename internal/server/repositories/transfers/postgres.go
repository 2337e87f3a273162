package transfers

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

func (r *PostgresRepository) Create(ctx context.Context, transfer *models.PendingTransfer) error {
	query :=
		`INSERT INTO transfers
		 (id, principal_id, device_id, file_path, total_size, chunk_size, chunk_count, target_checksum, resume_token, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		 `

	_, err := r.db.ExecContext(ctx, query,
		transfer.ID, transfer.PrincipalID, transfer.DeviceID, transfer.FilePath,
		transfer.TotalSize, transfer.ChunkSize, transfer.ChunkCount,
		transfer.TargetChecksum, transfer.ResumeToken, transfer.Status, transfer.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.PendingTransfer, error) {
	query :=
		`SELECT id, principal_id, device_id, file_path, total_size, chunk_size, chunk_count, target_checksum, resume_token, status, created_at, updated_at
		 FROM transfers
		 WHERE id = $1
		 `

	transfer := &models.PendingTransfer{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&transfer.ID, &transfer.PrincipalID, &transfer.DeviceID, &transfer.FilePath,
		&transfer.TotalSize, &transfer.ChunkSize, &transfer.ChunkCount,
		&transfer.TargetChecksum, &transfer.ResumeToken, &transfer.Status,
		&transfer.CreatedAt, &transfer.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return transfer, nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, from, to models.TransferStatus) (bool, error) {
	query := `UPDATE transfers SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`

	result, err := r.db.ExecContext(ctx, query, id, from, to)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) AddChunk(ctx context.Context, chunk *models.TransferChunk) (bool, error) {
	query :=
		`INSERT INTO transfer_chunks (transfer_id, idx, checksum, size)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (transfer_id, idx) DO NOTHING
		 `

	result, err := r.db.ExecContext(ctx, query,
		chunk.TransferID, chunk.Index, chunk.Checksum, chunk.Size)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) CountChunks(ctx context.Context, transferID string) (int64, error) {
	query := `SELECT COUNT(*) FROM transfer_chunks WHERE transfer_id = $1`

	var count int64
	if err := r.db.QueryRowContext(ctx, query, transferID).Scan(&count); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return count, nil
}

func (r *PostgresRepository) ListChunkIndices(ctx context.Context, transferID string) ([]int64, error) {
	query := `SELECT idx FROM transfer_chunks WHERE transfer_id = $1 ORDER BY idx`

	rows, err := r.db.QueryContext(ctx, query, transferID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []int64
	for rows.Next() {
		var idx int64
		if err := rows.Scan(&idx); err != nil {
			return nil, err
		}
		result = append(result, idx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) ListStale(ctx context.Context, cutoff time.Time) ([]*models.PendingTransfer, error) {
	query :=
		`SELECT id, principal_id, device_id, file_path, total_size, chunk_size, chunk_count, target_checksum, resume_token, status, created_at, updated_at
		 FROM transfers
		 WHERE status IN ('initiated', 'receiving') AND updated_at < $1
		 `

	rows, err := r.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.PendingTransfer
	for rows.Next() {
		item := &models.PendingTransfer{}
		if err := rows.Scan(
			&item.ID, &item.PrincipalID, &item.DeviceID, &item.FilePath,
			&item.TotalSize, &item.ChunkSize, &item.ChunkCount,
			&item.TargetChecksum, &item.ResumeToken, &item.Status,
			&item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM transfers WHERE id = $1`

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
