// Package transfers persists chunked-upload state: the transfer row plus one
// row per completed chunk.
package transfers

import (
	"context"
	"time"

	"github.com/selfvault/syncengine/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, transfer *models.PendingTransfer) error
	GetByID(ctx context.Context, id string) (*models.PendingTransfer, error)
	// UpdateStatus moves the state machine, guarded by the expected current
	// status so concurrent finalize/cancel cannot both win.
	UpdateStatus(ctx context.Context, id string, from, to models.TransferStatus) (bool, error)
	// AddChunk records a completed chunk. Re-adding an existing index is a
	// no-op; the bool reports whether the row was new.
	AddChunk(ctx context.Context, chunk *models.TransferChunk) (bool, error)
	CountChunks(ctx context.Context, transferID string) (int64, error)
	ListChunkIndices(ctx context.Context, transferID string) ([]int64, error)
	// ListStale returns non-terminal transfers untouched since the cutoff.
	ListStale(ctx context.Context, cutoff time.Time) ([]*models.PendingTransfer, error)
	Delete(ctx context.Context, id string) error
}
