package delta

import (
	"github.com/selfvault/syncengine/internal/server/models"
	"github.com/selfvault/syncengine/internal/server/repositories/files"
)

// Detect compares a device-reported manifest against the server's tracked
// state and produces the change set for this sync cycle. Pure function: the
// caller supplies the state rows and the cursor parsed from the device's
// change token.
//
// Decision table per path (conservative base: a device write is only a
// fast-forward when the device has provably seen the server's current
// version, i.e. the current version's cursor is within the token):
//
//	device == server checksum            -> no action
//	device differs, server cursor <= tok -> device is ahead, upload
//	device differs, server advanced      -> conflict (both sides moved)
//	server-only path                     -> to_download
//	device path tombstoned server-side   -> to_delete
//	device path never tracked            -> upload (new file)
func Detect(states []*files.FileState, manifest []models.ManifestEntry, tokenCursor int64) models.ChangeSet {
	byPath := make(map[string]*files.FileState, len(states))
	for _, state := range states {
		byPath[state.Path] = state
	}

	var set models.ChangeSet
	seen := make(map[string]bool, len(manifest))

	for _, entry := range manifest {
		if reason := validateEntry(entry); reason != "" {
			set.Skipped = append(set.Skipped, models.ManifestIssue{Path: entry.Path, Reason: reason})
			continue
		}
		if seen[entry.Path] {
			set.Skipped = append(set.Skipped, models.ManifestIssue{Path: entry.Path, Reason: "duplicate manifest entry"})
			continue
		}
		seen[entry.Path] = true

		state, tracked := byPath[entry.Path]
		switch {
		case !tracked:
			set.ToUpload = append(set.ToUpload, entry.Path)

		case state.Deleted:
			set.ToDelete = append(set.ToDelete, entry.Path)

		case state.Checksum == entry.Checksum:
			// In sync.

		case state.Cursor <= tokenCursor:
			// The device has seen the current server version and changed
			// the file since: a plain fast-forward update.
			set.ToUpload = append(set.ToUpload, entry.Path)

		default:
			set.Conflicts = append(set.Conflicts, models.ConflictInfo{
				Path:           entry.Path,
				ServerChecksum: state.Checksum,
				ServerModified: state.ModifiedAt,
				DeviceChecksum: entry.Checksum,
				DeviceModified: entry.ModifiedAt,
			})
		}
	}

	for _, state := range states {
		if seen[state.Path] || state.Deleted {
			continue
		}
		set.ToDownload = append(set.ToDownload, state.Path)
	}

	return set
}

func validateEntry(entry models.ManifestEntry) string {
	if entry.Path == "" {
		return "empty path"
	}
	if entry.Checksum == "" {
		return "empty checksum"
	}
	if entry.Size < 0 {
		return "negative size"
	}
	return ""
}
