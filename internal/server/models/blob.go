package models

import "time"

// Blob is a content-addressed compressed payload record. The checksum is the
// storage key; RefCount is the exact number of live FileVersions pointing at
// it. A blob at RefCount zero is reclaimable garbage for the next GC sweep,
// it is never deleted inline.
type Blob struct {
	Checksum       string
	OriginalSize   int64
	CompressedSize int64
	RefCount       int64
	CreatedAt      time.Time
}

// DedupStats summarizes the blob table for the deduplication scan report.
type DedupStats struct {
	TotalBlobs       int64 `json:"total_blobs"`
	TotalCompressed  int64 `json:"total_compressed_bytes"`
	TotalOriginal    int64 `json:"total_original_bytes"`
	SharedBlobs      int64 `json:"shared_blobs"`
	SavedBytes       int64 `json:"saved_bytes"`
	RepairedRefs     int64 `json:"repaired_ref_counts"`
	UnreferencedSeen int64 `json:"unreferenced_blobs"`
}
