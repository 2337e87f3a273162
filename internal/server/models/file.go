package models

import "time"

// ChangeType tags how a FileVersion came to exist.
type ChangeType string

const (
	ChangeTypeCreate       ChangeType = "create"
	ChangeTypeUpdate       ChangeType = "update"
	ChangeTypeConflictCopy ChangeType = "conflict-copy"
	ChangeTypeBatched      ChangeType = "batched"
)

// TrackedFile is a logical file identity: path scoped to a principal.
// Its current version pointer always references the highest version number
// unless the file is deleted.
type TrackedFile struct {
	ID             string
	PrincipalID    string
	Path           string
	CurrentVersion int64
	Deleted        bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// FileVersion is an immutable history record. Rows are never mutated after
// creation; they disappear only through explicit deletion or eviction.
type FileVersion struct {
	ID     string
	FileID string
	// VersionNo is strictly increasing within a TrackedFile, no gaps.
	VersionNo int64
	// Cursor is the principal-wide sync cursor assigned when the version
	// was accepted. Change detection compares against it.
	Cursor int64
	// Checksum is the SHA-256 of the original (uncompressed) content and
	// doubles as the blob reference.
	Checksum       string
	OriginalSize   int64
	CompressedSize int64
	CreatedAt      time.Time
	// DeviceID is the origin device; used as the deterministic tie-break.
	DeviceID     string
	HighPriority bool
	ChangeType   ChangeType
}
