package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/selfvault/syncengine/internal/common"
	"github.com/selfvault/syncengine/internal/dbx"
	"github.com/selfvault/syncengine/internal/logging"
	"github.com/selfvault/syncengine/internal/server/blobstore"
	"github.com/selfvault/syncengine/internal/server/config"
	"github.com/selfvault/syncengine/internal/server/debounce"
	"github.com/selfvault/syncengine/internal/server/delta"
	"github.com/selfvault/syncengine/internal/server/models"
	"github.com/selfvault/syncengine/internal/server/repositories/files"
	"github.com/selfvault/syncengine/internal/server/repositories/repomanager"
)

// SyncService runs the sync cycle: manifest comparison, write acceptance,
// conflict resolution and edit coalescing.
type SyncService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	store       *blobstore.Store
	devices     *DeviceService
	quotas      *QuotaService
	tokens      *delta.TokenIssuer
	config      *config.Config
	logger      logging.Logger
	locks       *pathLocks

	// debounce is attached after construction because the cache's flush
	// callback points back at this service.
	debounce *debounce.Cache
}

func NewSyncService(db *sql.DB, m repomanager.RepositoryManager, store *blobstore.Store,
	devices *DeviceService, quotas *QuotaService, cfg *config.Config, logger logging.Logger) *SyncService {
	return &SyncService{
		db:          db,
		repomanager: m,
		store:       store,
		devices:     devices,
		quotas:      quotas,
		tokens:      delta.NewTokenIssuer([]byte(cfg.SecretKey)),
		config:      cfg,
		logger:      logger.With("module", "sync"),
		locks:       newPathLocks(),
	}
}

// AttachDebounce wires the edit-coalescing cache. Must be called before
// QueueEdit is used.
func (s *SyncService) AttachDebounce(cache *debounce.Cache) {
	s.debounce = cache
}

// FlushEdit materializes one coalesced edit as a batched version. It is the
// debounce cache's flush callback.
func (s *SyncService) FlushEdit(ctx context.Context, edit *debounce.Edit) error {
	_, err := s.AcceptWrite(ctx, edit.PrincipalID, edit.DeviceID, edit.Path,
		edit.Content, edit.Checksum, edit.LastSeen, models.ChangeTypeBatched)
	return err
}

// InitialToken issues a change token pinned to cursor zero for a freshly
// registered device, so its first sync cycle sees the full server state.
func (s *SyncService) InitialToken(principalID, deviceID string) (string, error) {
	return s.tokens.Issue(principalID, deviceID, 0)
}

// ComputeChanges compares a device manifest against server state and returns
// the change set plus a fresh change token pinned to the current cursor.
// An empty token means a fresh device: everything server-side is new to it.
func (s *SyncService) ComputeChanges(ctx context.Context, principalID, deviceID string,
	manifest []models.ManifestEntry, changeToken string) (*models.ChangeSet, error) {

	if _, err := s.devices.authorizeActive(ctx, principalID, deviceID); err != nil {
		return nil, err
	}

	var tokenCursor int64
	if changeToken != "" {
		cursor, err := s.tokens.Parse(changeToken, principalID, deviceID)
		if err != nil {
			return nil, err
		}
		tokenCursor = cursor
	}

	// Materialize any pending coalesced edits for the reported paths first,
	// so the comparison never runs against content the cache is still
	// holding back.
	if s.debounce != nil {
		for _, entry := range manifest {
			if err := s.debounce.ForceFlush(ctx, principalID, entry.Path); err != nil {
				s.logger.Warn(ctx, "pre-sync flush failed", "path", entry.Path, "error", err)
			}
		}
	}

	states, err := s.repomanager.Files(s.db).ListStates(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("error loading file states: %w", err)
	}

	set := delta.Detect(states, manifest, tokenCursor)

	cursor, err := s.repomanager.Principals(s.db).CurrentCursor(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("error reading cursor: %w", err)
	}

	token, err := s.tokens.Issue(principalID, deviceID, cursor)
	if err != nil {
		return nil, err
	}
	set.ChangeToken = token

	if err := s.repomanager.Devices(s.db).UpdateCursor(ctx, deviceID, cursor, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("error updating device cursor: %w", err)
	}

	return &set, nil
}

// AcceptWrite stores content as the next version of a file, creating the
// tracked file on first write. The write is serialized per (principal, path)
// so version numbers stay gapless. A non-empty declared checksum must match
// the content or the write is rejected before anything is stored.
func (s *SyncService) AcceptWrite(ctx context.Context, principalID, deviceID, path string,
	content []byte, declaredChecksum string, modifiedAt time.Time, changeType models.ChangeType) (*models.FileVersion, error) {

	checksum := blobstore.Sum(content)
	if declaredChecksum != "" && declaredChecksum != checksum {
		return nil, fmt.Errorf("declared %s, content is %s: %w",
			declaredChecksum, checksum, common.ErrChecksumMismatch)
	}

	if err := s.quotas.EnsureCapacity(ctx, principalID, int64(len(content))); err != nil {
		return nil, err
	}

	key := principalID + "\x00" + path
	s.locks.lock(key)
	defer s.locks.unlock(key)

	ref, err := s.store.Put(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("error storing blob: %w", err)
	}

	version, err := s.appendVersion(ctx, principalID, deviceID, path, ref, modifiedAt, changeType)
	if err != nil {
		// The version row never landed; give the reference back so GC can
		// reclaim the payload if nothing else holds it.
		if relErr := s.store.Release(ctx, ref.Checksum); relErr != nil {
			s.logger.Error(ctx, "failed to release blob after write error",
				"checksum", ref.Checksum, "error", relErr)
		}
		return nil, err
	}

	return version, nil
}

// QueueEdit records a rapid edit for coalescing instead of versioning it
// immediately. Content validity is checked up front so a bad checksum fails
// the request, not the deferred flush.
func (s *SyncService) QueueEdit(ctx context.Context, principalID, deviceID, path string,
	content []byte, declaredChecksum string) error {

	if s.debounce == nil {
		return common.ErrorInternal
	}
	if _, err := s.devices.authorizeActive(ctx, principalID, deviceID); err != nil {
		return err
	}

	checksum := blobstore.Sum(content)
	if declaredChecksum != "" && declaredChecksum != checksum {
		return fmt.Errorf("declared %s, content is %s: %w",
			declaredChecksum, checksum, common.ErrChecksumMismatch)
	}
	if err := s.quotas.EnsureCapacity(ctx, principalID, int64(len(content))); err != nil {
		return err
	}

	return s.debounce.QueueEdit(ctx, principalID, deviceID, path, content, checksum)
}

// DeleteFile tombstones a logical path. History stays until evicted or
// explicitly deleted; other devices see the deletion on their next cycle.
func (s *SyncService) DeleteFile(ctx context.Context, principalID, deviceID, path string) error {
	if _, err := s.devices.authorizeActive(ctx, principalID, deviceID); err != nil {
		return err
	}

	file, err := s.repomanager.Files(s.db).GetByPath(ctx, principalID, path)
	if err != nil {
		return err
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := s.repomanager.Principals(tx).IncrementCursor(ctx, principalID); err != nil {
			return err
		}
		return s.repomanager.Files(tx).MarkDeleted(ctx, file.ID, true)
	})
	if err != nil {
		return fmt.Errorf("error deleting file: %w", err)
	}
	return nil
}

// ResolveConflict settles a divergence reported by ComputeChanges.
//
// With StrategyCreateVersion both contents survive: last-write-wins picks
// the winner (modification time, then device id), the winner becomes the
// current version and the loser is kept in history. When the device loses,
// its content is appended as a conflict-copy version behind the unchanged
// current pointer.
func (s *SyncService) ResolveConflict(ctx context.Context, principalID, deviceID, path string,
	strategyName string, content []byte, modifiedAt time.Time) (*models.FileVersion, error) {

	strategy, err := delta.ParseStrategy(strategyName)
	if err != nil {
		return nil, err
	}

	device, err := s.devices.authorizeActive(ctx, principalID, deviceID)
	if err != nil {
		return nil, err
	}

	fileRepo := s.repomanager.Files(s.db)
	file, err := fileRepo.GetByPath(ctx, principalID, path)
	if err != nil {
		return nil, err
	}
	current, err := fileRepo.GetVersion(ctx, file.ID, file.CurrentVersion)
	if err != nil {
		return nil, err
	}

	switch strategy {
	case delta.StrategyKeepServer:
		return current, nil

	case delta.StrategyKeepLocal:
		return s.AcceptWrite(ctx, principalID, deviceID, path, content, "", modifiedAt, models.ChangeTypeUpdate)
	}

	server := delta.Candidate{Checksum: current.Checksum, ModifiedAt: current.CreatedAt, DeviceID: current.DeviceID}
	incoming := delta.Candidate{Checksum: blobstore.Sum(content), ModifiedAt: modifiedAt, DeviceID: device.ID}

	winner, _ := delta.Merge(server, incoming)

	if winner.Checksum == incoming.Checksum && winner.DeviceID == incoming.DeviceID {
		// Device wins: its content becomes current, the superseded server
		// version is already preserved in history.
		return s.AcceptWrite(ctx, principalID, deviceID, path, content, "", modifiedAt, models.ChangeTypeUpdate)
	}

	// Server wins: append the device content as a conflict copy without
	// moving the current pointer.
	return s.appendConflictCopy(ctx, principalID, deviceID, path, content)
}

func (s *SyncService) appendVersion(ctx context.Context, principalID, deviceID, path string,
	ref *blobstore.BlobRef, modifiedAt time.Time, changeType models.ChangeType) (*models.FileVersion, error) {

	var version *models.FileVersion

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		fileRepo := s.repomanager.Files(tx)

		cursor, err := s.repomanager.Principals(tx).IncrementCursor(ctx, principalID)
		if err != nil {
			return err
		}

		file, err := fileRepo.GetByPath(ctx, principalID, path)
		if errors.Is(err, common.ErrorNotFound) {
			now := time.Now().UTC()
			file = &models.TrackedFile{
				ID:          uuid.NewString(),
				PrincipalID: principalID,
				Path:        path,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := fileRepo.Create(ctx, file); err != nil {
				return err
			}
			if changeType == models.ChangeTypeUpdate {
				changeType = models.ChangeTypeCreate
			}
		} else if err != nil {
			return err
		} else if file.Deleted {
			// A write resurrects a tombstoned path.
			if err := fileRepo.MarkDeleted(ctx, file.ID, false); err != nil {
				return err
			}
		}

		// Conflict copies can sit above the current pointer, so the next
		// number comes from the full history, not the pointer.
		versionNo, err := nextVersionNo(ctx, fileRepo, file.ID)
		if err != nil {
			return err
		}
		version = &models.FileVersion{
			ID:             uuid.NewString(),
			FileID:         file.ID,
			VersionNo:      versionNo,
			Cursor:         cursor,
			Checksum:       ref.Checksum,
			OriginalSize:   ref.OriginalSize,
			CompressedSize: ref.CompressedSize,
			CreatedAt:      modifiedAt.UTC(),
			DeviceID:       deviceID,
			ChangeType:     changeType,
		}
		if err := fileRepo.CreateVersion(ctx, version); err != nil {
			return err
		}
		if err := fileRepo.SetCurrentVersion(ctx, file.ID, versionNo); err != nil {
			return err
		}

		return s.trimDepth(ctx, tx, file.ID, principalID)
	})
	if err != nil {
		return nil, fmt.Errorf("error appending version: %w", err)
	}
	return version, nil
}

// appendConflictCopy records content as a history-only version: it gets the
// next version number but the current pointer stays where it is.
func (s *SyncService) appendConflictCopy(ctx context.Context, principalID, deviceID, path string,
	content []byte) (*models.FileVersion, error) {

	key := principalID + "\x00" + path
	s.locks.lock(key)
	defer s.locks.unlock(key)

	ref, err := s.store.Put(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("error storing blob: %w", err)
	}

	var version *models.FileVersion
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		fileRepo := s.repomanager.Files(tx)

		cursor, err := s.repomanager.Principals(tx).IncrementCursor(ctx, principalID)
		if err != nil {
			return err
		}
		file, err := fileRepo.GetByPath(ctx, principalID, path)
		if err != nil {
			return err
		}

		versionNo, err := nextVersionNo(ctx, fileRepo, file.ID)
		if err != nil {
			return err
		}

		version = &models.FileVersion{
			ID:             uuid.NewString(),
			FileID:         file.ID,
			VersionNo:      versionNo,
			Cursor:         cursor,
			Checksum:       ref.Checksum,
			OriginalSize:   ref.OriginalSize,
			CompressedSize: ref.CompressedSize,
			CreatedAt:      time.Now().UTC(),
			DeviceID:       deviceID,
			ChangeType:     models.ChangeTypeConflictCopy,
		}
		return fileRepo.CreateVersion(ctx, version)
	})
	if err != nil {
		if relErr := s.store.Release(ctx, ref.Checksum); relErr != nil {
			s.logger.Error(ctx, "failed to release blob after conflict-copy error",
				"checksum", ref.Checksum, "error", relErr)
		}
		return nil, fmt.Errorf("error appending conflict copy: %w", err)
	}
	return version, nil
}

func nextVersionNo(ctx context.Context, repo files.Repository, fileID string) (int64, error) {
	versions, err := repo.ListVersions(ctx, fileID)
	if err != nil {
		return 0, err
	}
	var maxNo int64
	for _, v := range versions {
		if v.VersionNo > maxNo {
			maxNo = v.VersionNo
		}
	}
	return maxNo + 1, nil
}

// trimDepth drops the oldest versions of one file past its per-file history
// cap, skipping high-priority versions and the current version.
func (s *SyncService) trimDepth(ctx context.Context, tx dbx.DBTX, fileID, principalID string) error {
	settings, err := s.quotas.Settings(ctx, principalID)
	if err != nil {
		return err
	}
	if settings.MaxVersionsPerFile == 0 {
		return nil
	}

	fileRepo := s.repomanager.Files(tx)
	candidates, err := fileRepo.DepthCandidates(ctx, fileID, settings.MaxVersionsPerFile)
	if err != nil {
		return err
	}

	blobRepo := s.repomanager.Blobs(tx)
	for _, candidate := range candidates {
		if err := fileRepo.DeleteVersion(ctx, candidate.VersionID); err != nil {
			return err
		}
		if err := blobRepo.DecrementRef(ctx, candidate.Checksum); err != nil {
			return err
		}
	}
	return nil
}
