package models

// QuotaRecord holds per-principal storage limits. Used bytes is derived from
// the blob table, not stored, so shared-blob discounting stays exact.
type QuotaRecord struct {
	PrincipalID string `json:"principal_id"`
	// MaxBytes is the compressed-storage ceiling. Zero means unlimited.
	MaxBytes int64 `json:"max_bytes"`
	// MaxVersionsPerFile caps history depth per tracked file.
	MaxVersionsPerFile int64 `json:"max_versions_per_file"`
	// MinRetainedDepth is the number of newest versions eviction must keep.
	MinRetainedDepth int64 `json:"min_retained_depth"`
	// HeadroomBytes is how far below MaxBytes eviction drives usage.
	HeadroomBytes int64 `json:"headroom_bytes"`
}

// QuotaUsage is the report returned alongside quota errors so callers can act.
type QuotaUsage struct {
	PrincipalID string `json:"principal_id"`
	UsedBytes   int64  `json:"used_bytes"`
	MaxBytes    int64  `json:"max_bytes"`
}

// EvictionReport describes one eviction run.
type EvictionReport struct {
	PrincipalID    string `json:"principal_id"`
	DryRun         bool   `json:"dry_run"`
	VersionsEvicted int64 `json:"versions_evicted"`
	BytesFreed     int64  `json:"bytes_freed"`
	UsedBytesAfter int64  `json:"used_bytes_after"`
}
