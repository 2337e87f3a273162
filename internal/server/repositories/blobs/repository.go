// Package blobs persists content-addressed blob metadata and reference
// counts. Compressed payload bytes live in the blobstore backend; rows here
// are the source of truth for liveness.
package blobs

import (
	"context"

	"github.com/selfvault/syncengine/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, blob *models.Blob) error
	Get(ctx context.Context, checksum string) (*models.Blob, error)
	// IncrementRef atomically bumps the reference count. Returns false when
	// no blob with that checksum exists (caller must Create instead).
	IncrementRef(ctx context.Context, checksum string) (bool, error)
	// DecrementRef atomically drops the reference count, never below zero.
	DecrementRef(ctx context.Context, checksum string) error
	// ListUnreferenced returns checksums at ref count zero, GC's work list.
	ListUnreferenced(ctx context.Context, limit int64) ([]string, error)
	// DeleteIfUnreferenced removes the row only if it is still at zero,
	// guarding against a concurrent re-reference between scan and delete.
	DeleteIfUnreferenced(ctx context.Context, checksum string) (bool, error)
	// UsedBytes sums compressed sizes of blobs reachable from a principal's
	// live versions, counting each shared blob once.
	UsedBytes(ctx context.Context, principalID string) (int64, error)
	// RecountRefs recomputes every ref count from live versions and repairs
	// drift, returning the number of corrected rows.
	RecountRefs(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (*models.DedupStats, error)
}
