// Package files persists tracked files and their immutable version history.
package files

import (
	"context"
	"time"

	"github.com/selfvault/syncengine/internal/server/models"
)

// FileState is the joined view the change detector consumes: one row per
// tracked file with its current-version checksum and cursor.
type FileState struct {
	FileID     string
	Path       string
	Checksum   string
	Cursor     int64
	ModifiedAt time.Time
	Deleted    bool
}

// EvictionCandidate is a version eligible for removal under quota pressure,
// together with what releasing it would free.
type EvictionCandidate struct {
	VersionID      string
	FileID         string
	VersionNo      int64
	Checksum       string
	CompressedSize int64
	CreatedAt      time.Time
}

type Repository interface {
	GetByPath(ctx context.Context, principalID, path string) (*models.TrackedFile, error)
	GetByID(ctx context.Context, id string) (*models.TrackedFile, error)
	Create(ctx context.Context, file *models.TrackedFile) error
	// ListStates returns the current state of every live tracked file for a
	// principal, for manifest comparison.
	ListStates(ctx context.Context, principalID string) ([]*FileState, error)
	// MarkDeleted tombstones the logical path; versions stay until evicted.
	// The tombstone outlives the last version so devices that still hold
	// the path learn about the deletion instead of re-uploading it.
	MarkDeleted(ctx context.Context, fileID string, deleted bool) error

	CreateVersion(ctx context.Context, version *models.FileVersion) error
	SetCurrentVersion(ctx context.Context, fileID string, versionNo int64) error
	ListVersions(ctx context.Context, fileID string) ([]*models.FileVersion, error)
	GetVersion(ctx context.Context, fileID string, versionNo int64) (*models.FileVersion, error)
	DeleteVersion(ctx context.Context, versionID string) error
	CountVersions(ctx context.Context, fileID string) (int64, error)
	SetHighPriority(ctx context.Context, fileID string, versionNo int64, high bool) error

	// DepthCandidates lists versions of one file past the configured depth:
	// oldest first, never high-priority, never the current version.
	DepthCandidates(ctx context.Context, fileID string, keep int64) ([]*EvictionCandidate, error)
	// EvictionCandidates lists the least-important versions across a
	// principal: oldest non-high-priority versions that are neither a
	// file's current version nor within its minimum retained depth.
	EvictionCandidates(ctx context.Context, principalID string, minDepth, limit int64) ([]*EvictionCandidate, error)
}
