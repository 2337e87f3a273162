package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/selfvault/syncengine/internal/common"
	"github.com/selfvault/syncengine/internal/logging"
	"github.com/selfvault/syncengine/internal/server/models"
	"github.com/selfvault/syncengine/internal/server/repositories/blobs"
)

// Sum returns the hex SHA-256 of the payload. The same digest serves as the
// change-detection fingerprint and the blob storage key.
func Sum(raw []byte) string {
	digest := sha256.Sum256(raw)
	return hex.EncodeToString(digest[:])
}

// BlobRef is what Put hands back: enough to build a FileVersion record.
type BlobRef struct {
	Checksum       string
	OriginalSize   int64
	CompressedSize int64
	// Deduplicated is true when no new bytes were written.
	Deduplicated bool
}

// Store is the content-addressable blob pipeline: dedup by checksum,
// zstd compression, reference counting, deferred garbage collection.
type Store struct {
	repo    blobs.Repository
	backend Backend
	logger  logging.Logger

	// readers tracks checksums with an in-flight Get so a concurrent sweep
	// does not pull the payload out from under them.
	mu      sync.Mutex
	readers map[string]int
}

func NewStore(repo blobs.Repository, backend Backend, logger logging.Logger) *Store {
	return &Store{
		repo:    repo,
		backend: backend,
		logger:  logger.With("module", "blobstore"),
		readers: make(map[string]int),
	}
}

// Put stores the payload, deduplicating by checksum. An existing blob gets
// its reference count bumped and no bytes are written.
func (s *Store) Put(ctx context.Context, raw []byte) (*BlobRef, error) {
	checksum := Sum(raw)

	found, err := s.repo.IncrementRef(ctx, checksum)
	if err != nil {
		return nil, err
	}
	if found {
		blob, err := s.repo.Get(ctx, checksum)
		if err != nil {
			return nil, err
		}
		return &BlobRef{
			Checksum:       checksum,
			OriginalSize:   blob.OriginalSize,
			CompressedSize: blob.CompressedSize,
			Deduplicated:   true,
		}, nil
	}

	compressed, err := compress(raw)
	if err != nil {
		return nil, err
	}

	if err := s.backend.Put(ctx, checksum, bytes.NewReader(compressed)); err != nil {
		return nil, err
	}

	blob := &models.Blob{
		Checksum:       checksum,
		OriginalSize:   int64(len(raw)),
		CompressedSize: int64(len(compressed)),
		RefCount:       1,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, blob); err != nil {
		return nil, err
	}

	return &BlobRef{
		Checksum:       checksum,
		OriginalSize:   blob.OriginalSize,
		CompressedSize: blob.CompressedSize,
	}, nil
}

// Get returns the original decompressed bytes and verifies them against the
// checksum key. A mismatch means the backing storage is corrupt and is
// reported as ErrIntegrityFailure, never papered over.
func (s *Store) Get(ctx context.Context, checksum string) ([]byte, error) {
	if _, err := s.repo.Get(ctx, checksum); err != nil {
		return nil, err
	}

	s.acquireReader(checksum)
	defer s.releaseReader(checksum)

	body, err := s.backend.Get(ctx, checksum)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	raw, err := decompress(body)
	if err != nil {
		return nil, err
	}

	if Sum(raw) != checksum {
		return nil, fmt.Errorf("blob %s: %w", checksum, common.ErrIntegrityFailure)
	}
	return raw, nil
}

// Release drops one reference. The payload stays on disk until the next
// garbage-collection sweep even if the count reaches zero.
func (s *Store) Release(ctx context.Context, checksum string) error {
	return s.repo.DecrementRef(ctx, checksum)
}

// SweepGarbage deletes payloads for zero-reference blobs. Deletion is
// conditional on the count still being zero, so a blob re-referenced between
// the scan and the delete survives. Safe to run concurrently with Put/Get.
func (s *Store) SweepGarbage(ctx context.Context) (int64, error) {
	const batch = 256

	var reclaimed int64
	for {
		checksums, err := s.repo.ListUnreferenced(ctx, batch)
		if err != nil {
			return reclaimed, err
		}
		if len(checksums) == 0 {
			return reclaimed, nil
		}

		progress := false
		for _, checksum := range checksums {
			if err := ctx.Err(); err != nil {
				return reclaimed, err
			}
			if s.hasReaders(checksum) {
				continue
			}

			deleted, err := s.repo.DeleteIfUnreferenced(ctx, checksum)
			if err != nil {
				s.logger.Warn(ctx, "gc: failed to delete blob row, will retry next sweep",
					"checksum", checksum, "error", err)
				continue
			}
			if !deleted {
				// Re-referenced since the scan.
				continue
			}

			if err := s.backend.Delete(ctx, checksum); err != nil {
				s.logger.Warn(ctx, "gc: orphaned payload, backend delete failed",
					"checksum", checksum, "error", err)
			}
			reclaimed++
			progress = true
		}

		if !progress {
			// Everything left is pinned by readers or freshly re-referenced.
			return reclaimed, nil
		}
	}
}

func (s *Store) acquireReader(checksum string) {
	s.mu.Lock()
	s.readers[checksum]++
	s.mu.Unlock()
}

func (s *Store) releaseReader(checksum string) {
	s.mu.Lock()
	if s.readers[checksum] <= 1 {
		delete(s.readers, checksum)
	} else {
		s.readers[checksum]--
	}
	s.mu.Unlock()
}

func (s *Store) hasReaders(checksum string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readers[checksum] > 0
}
