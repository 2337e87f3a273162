package services

import (
	"archive/tar"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/selfvault/syncengine/internal/common"
	"github.com/selfvault/syncengine/internal/dbx"
	"github.com/selfvault/syncengine/internal/logging"
	"github.com/selfvault/syncengine/internal/server/blobstore"
	"github.com/selfvault/syncengine/internal/server/models"
	"github.com/selfvault/syncengine/internal/server/repositories/repomanager"
)

// VersionService reads and manipulates per-file version history.
type VersionService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	store       *blobstore.Store
	sync        *SyncService
	logger      logging.Logger
}

func NewVersionService(db *sql.DB, m repomanager.RepositoryManager, store *blobstore.Store,
	syncSvc *SyncService, logger logging.Logger) *VersionService {
	return &VersionService{
		db:          db,
		repomanager: m,
		store:       store,
		sync:        syncSvc,
		logger:      logger.With("module", "version"),
	}
}

// History returns all versions of a file, newest first, plus the file record
// so the caller can see which version is current.
func (s *VersionService) History(ctx context.Context, principalID, path string) (*models.TrackedFile, []*models.FileVersion, error) {
	fileRepo := s.repomanager.Files(s.db)

	file, err := fileRepo.GetByPath(ctx, principalID, path)
	if err != nil {
		return nil, nil, err
	}
	versions, err := fileRepo.ListVersions(ctx, file.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("error listing versions: %w", err)
	}
	return file, versions, nil
}

// Download returns the decompressed content of one version. Version number
// zero selects the current version.
func (s *VersionService) Download(ctx context.Context, principalID, path string, versionNo int64) ([]byte, *models.FileVersion, error) {
	version, err := s.getVersion(ctx, principalID, path, versionNo)
	if err != nil {
		return nil, nil, err
	}

	content, err := s.store.Get(ctx, version.Checksum)
	if err != nil {
		return nil, nil, err
	}
	return content, version, nil
}

// Restore makes an old version's content current again by appending it as a
// new version. Appending, rather than moving the pointer back, gives the
// restore its own cursor so every device picks it up as a fresh change.
func (s *VersionService) Restore(ctx context.Context, principalID, deviceID, path string, versionNo int64) (*models.FileVersion, error) {
	version, err := s.getVersion(ctx, principalID, path, versionNo)
	if err != nil {
		return nil, err
	}

	content, err := s.store.Get(ctx, version.Checksum)
	if err != nil {
		return nil, err
	}

	return s.sync.AcceptWrite(ctx, principalID, deviceID, path, content, version.Checksum,
		time.Now().UTC(), models.ChangeTypeUpdate)
}

// SetPriority flags or unflags a version as high priority, exempting it from
// eviction and depth trimming.
func (s *VersionService) SetPriority(ctx context.Context, principalID, path string, versionNo int64, high bool) error {
	file, err := s.repomanager.Files(s.db).GetByPath(ctx, principalID, path)
	if err != nil {
		return err
	}
	if err := s.repomanager.Files(s.db).SetHighPriority(ctx, file.ID, versionNo, high); err != nil {
		return err
	}
	return nil
}

// Delete removes one version and releases its blob reference. The current
// version can only be deleted when it is the last one left, in which case
// the tracked file is tombstoned so every device converges on the deletion.
func (s *VersionService) Delete(ctx context.Context, principalID, path string, versionNo int64) error {
	fileRepo := s.repomanager.Files(s.db)

	file, err := fileRepo.GetByPath(ctx, principalID, path)
	if err != nil {
		return err
	}
	version, err := fileRepo.GetVersion(ctx, file.ID, versionNo)
	if err != nil {
		return err
	}

	count, err := fileRepo.CountVersions(ctx, file.ID)
	if err != nil {
		return fmt.Errorf("error counting versions: %w", err)
	}
	if versionNo == file.CurrentVersion && count > 1 {
		return fmt.Errorf("version %d is current: %w", versionNo, common.ErrConflict)
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		txFiles := s.repomanager.Files(tx)
		if err := txFiles.DeleteVersion(ctx, version.ID); err != nil {
			return err
		}
		if err := s.repomanager.Blobs(tx).DecrementRef(ctx, version.Checksum); err != nil {
			return err
		}
		if count == 1 {
			// Tombstone rather than drop the row: devices still holding the
			// path must see a deletion on their next cycle, not an untracked
			// file they would re-upload.
			if _, err := s.repomanager.Principals(tx).IncrementCursor(ctx, principalID); err != nil {
				return err
			}
			if err := txFiles.SetCurrentVersion(ctx, file.ID, 0); err != nil {
				return err
			}
			return txFiles.MarkDeleted(ctx, file.ID, true)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("error deleting version: %w", err)
	}
	return nil
}

// exportIndexEntry describes one archived version in the export index.
type exportIndexEntry struct {
	VersionNo    int64             `json:"version_no"`
	Checksum     string            `json:"checksum"`
	OriginalSize int64             `json:"original_size"`
	CreatedAt    time.Time         `json:"created_at"`
	DeviceID     string            `json:"device_id"`
	ChangeType   models.ChangeType `json:"change_type"`
	Current      bool              `json:"current"`
}

// Export streams the full history of a file as a gzipped tarball: one entry
// per version named <path>.v<N>, plus an index.json describing them.
func (s *VersionService) Export(ctx context.Context, principalID, path string, w io.Writer) error {
	file, versions, err := s.History(ctx, principalID, path)
	if err != nil {
		return err
	}

	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	index := make([]exportIndexEntry, 0, len(versions))
	for _, version := range versions {
		index = append(index, exportIndexEntry{
			VersionNo:    version.VersionNo,
			Checksum:     version.Checksum,
			OriginalSize: version.OriginalSize,
			CreatedAt:    version.CreatedAt,
			DeviceID:     version.DeviceID,
			ChangeType:   version.ChangeType,
			Current:      version.VersionNo == file.CurrentVersion,
		})
	}
	indexData, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("error encoding index: %w", err)
	}
	if err := tw.WriteHeader(&tar.Header{
		Name: "index.json",
		Mode: 0o644,
		Size: int64(len(indexData)),
	}); err != nil {
		return fmt.Errorf("error writing archive header: %w", err)
	}
	if _, err := tw.Write(indexData); err != nil {
		return fmt.Errorf("error writing archive entry: %w", err)
	}

	for _, version := range versions {
		content, err := s.store.Get(ctx, version.Checksum)
		if err != nil {
			return err
		}
		header := &tar.Header{
			Name:    fmt.Sprintf("%s.v%d", file.Path, version.VersionNo),
			Mode:    0o644,
			Size:    int64(len(content)),
			ModTime: version.CreatedAt,
		}
		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("error writing archive header: %w", err)
		}
		if _, err := tw.Write(content); err != nil {
			return fmt.Errorf("error writing archive entry: %w", err)
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("error closing archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("error closing archive: %w", err)
	}
	return nil
}

func (s *VersionService) getVersion(ctx context.Context, principalID, path string, versionNo int64) (*models.FileVersion, error) {
	fileRepo := s.repomanager.Files(s.db)

	file, err := fileRepo.GetByPath(ctx, principalID, path)
	if err != nil {
		return nil, err
	}
	if versionNo == 0 {
		versionNo = file.CurrentVersion
	}
	return fileRepo.GetVersion(ctx, file.ID, versionNo)
}
