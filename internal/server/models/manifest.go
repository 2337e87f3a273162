package models

import "time"

// ManifestEntry is one file state reported by a device during a sync cycle.
type ManifestEntry struct {
	Path       string    `json:"path"`
	Checksum   string    `json:"checksum"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// ManifestIssue reports a malformed manifest entry that was skipped. The rest
// of the batch still processes.
type ManifestIssue struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// ConflictInfo surfaces a divergence the caller must settle, with both
// candidates so a strategy can be chosen.
type ConflictInfo struct {
	Path           string    `json:"path"`
	ServerChecksum string    `json:"server_checksum"`
	ServerModified time.Time `json:"server_modified"`
	DeviceChecksum string    `json:"device_checksum"`
	DeviceModified time.Time `json:"device_modified"`
}

// ChangeSet is the result of comparing a device manifest against server state.
type ChangeSet struct {
	ToDownload []string        `json:"to_download"`
	ToDelete   []string        `json:"to_delete"`
	ToUpload   []string        `json:"to_upload"`
	Conflicts  []ConflictInfo  `json:"conflicts"`
	Skipped    []ManifestIssue `json:"skipped"`
	ChangeToken string         `json:"change_token"`
}
