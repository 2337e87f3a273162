// Package staging holds the partial chunk payloads of in-progress transfers
// until they are assembled or purged. Chunk writes are independent files
// keyed by index, so out-of-order and parallel submission need no locking.
package staging

import "context"

type Staging interface {
	// WriteChunk stores one chunk's bytes. Rewriting an existing index with
	// identical content is harmless (idempotent resume).
	WriteChunk(ctx context.Context, transferID string, index int64, data []byte) error
	// Assemble concatenates chunks 0..count-1 in index order. Fails if any
	// chunk is missing.
	Assemble(ctx context.Context, transferID string, count int64) ([]byte, error)
	// Purge removes all staged chunks for a transfer. Purging an unknown
	// transfer is a no-op.
	Purge(ctx context.Context, transferID string) error
}
