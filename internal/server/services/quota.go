package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/selfvault/syncengine/internal/common"
	"github.com/selfvault/syncengine/internal/dbx"
	"github.com/selfvault/syncengine/internal/logging"
	"github.com/selfvault/syncengine/internal/server/blobstore"
	"github.com/selfvault/syncengine/internal/server/config"
	"github.com/selfvault/syncengine/internal/server/models"
	"github.com/selfvault/syncengine/internal/server/repositories/repomanager"
)

// QuotaService enforces per-principal storage limits and runs eviction when
// usage crosses them. Principals without an explicit quota row fall back to
// the configured defaults.
type QuotaService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	store       *blobstore.Store
	config      *config.Config
	logger      logging.Logger
}

func NewQuotaService(db *sql.DB, m repomanager.RepositoryManager, store *blobstore.Store,
	cfg *config.Config, logger logging.Logger) *QuotaService {
	return &QuotaService{
		db:          db,
		repomanager: m,
		store:       store,
		config:      cfg,
		logger:      logger.With("module", "quota"),
	}
}

// Settings returns the effective quota for a principal: the stored record,
// or the configured defaults when none has been set.
func (s *QuotaService) Settings(ctx context.Context, principalID string) (*models.QuotaRecord, error) {
	repo := s.repomanager.Quotas(s.db)

	record, err := repo.Get(ctx, principalID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return &models.QuotaRecord{
				PrincipalID:        principalID,
				MaxBytes:           s.config.DefaultMaxBytes,
				MaxVersionsPerFile: s.config.DefaultMaxVersionsPerFile,
				MinRetainedDepth:   s.config.DefaultMinRetainedDepth,
				HeadroomBytes:      s.config.DefaultHeadroomBytes,
			}, nil
		}
		return nil, fmt.Errorf("error loading quota: %w", err)
	}
	return record, nil
}

// SetSettings upserts the principal's quota record.
func (s *QuotaService) SetSettings(ctx context.Context, record *models.QuotaRecord) error {
	if record.MinRetainedDepth < 1 {
		record.MinRetainedDepth = 1
	}
	repo := s.repomanager.Quotas(s.db)
	if err := repo.Set(ctx, record); err != nil {
		return fmt.Errorf("error saving quota: %w", err)
	}
	return nil
}

// Usage reports current consumption against the effective limit. Shared
// blobs count once.
func (s *QuotaService) Usage(ctx context.Context, principalID string) (*models.QuotaUsage, error) {
	settings, err := s.Settings(ctx, principalID)
	if err != nil {
		return nil, err
	}

	used, err := s.repomanager.Blobs(s.db).UsedBytes(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("error computing usage: %w", err)
	}

	return &models.QuotaUsage{
		PrincipalID: principalID,
		UsedBytes:   used,
		MaxBytes:    settings.MaxBytes,
	}, nil
}

// CheckCapacity rejects a write that would push the principal over its
// limit. The addition is measured in uncompressed bytes, a conservative
// upper bound on what storage will actually grow by.
func (s *QuotaService) CheckCapacity(ctx context.Context, principalID string, addBytes int64) error {
	settings, err := s.Settings(ctx, principalID)
	if err != nil {
		return err
	}
	if settings.MaxBytes == 0 {
		return nil
	}

	used, err := s.repomanager.Blobs(s.db).UsedBytes(ctx, principalID)
	if err != nil {
		return fmt.Errorf("error computing usage: %w", err)
	}

	if used+addBytes > settings.MaxBytes {
		return fmt.Errorf("used %d of %d bytes, write of %d rejected: %w",
			used, settings.MaxBytes, addBytes, common.ErrQuotaExceeded)
	}
	return nil
}

// EnsureCapacity makes room for an incoming write. When the write would push
// usage over the limit, old versions are evicted toward limit minus headroom
// minus the incoming size before the final capacity check runs; the write
// fails with ErrQuotaExceeded only when the retention floors leave too little
// reclaimable space.
func (s *QuotaService) EnsureCapacity(ctx context.Context, principalID string, addBytes int64) error {
	settings, err := s.Settings(ctx, principalID)
	if err != nil {
		return err
	}
	if settings.MaxBytes == 0 {
		return nil
	}

	used, err := s.repomanager.Blobs(s.db).UsedBytes(ctx, principalID)
	if err != nil {
		return fmt.Errorf("error computing usage: %w", err)
	}
	if used+addBytes <= settings.MaxBytes {
		return nil
	}

	target := settings.MaxBytes - settings.HeadroomBytes - addBytes
	if target < 0 {
		target = 0
	}
	report, err := s.evictToTarget(ctx, principalID, settings, used, target, false)
	if err != nil {
		return err
	}
	if report.VersionsEvicted > 0 {
		s.logger.Info(ctx, "evicted versions to admit write", "principal", principalID,
			"versions", report.VersionsEvicted, "freed", report.BytesFreed)
	}
	return s.CheckCapacity(ctx, principalID, addBytes)
}

// RunEviction removes the least-important versions of one principal until
// usage drops below the limit minus headroom. Eviction never touches a
// file's current version, high-priority versions, or the minimum retained
// depth; if those floors prevent reaching the target, it stops there. In
// dry-run mode nothing is removed and the report estimates the effect.
func (s *QuotaService) RunEviction(ctx context.Context, principalID string, dryRun bool) (*models.EvictionReport, error) {
	settings, err := s.Settings(ctx, principalID)
	if err != nil {
		return nil, err
	}

	usedBefore, err := s.repomanager.Blobs(s.db).UsedBytes(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("error computing usage: %w", err)
	}

	if settings.MaxBytes == 0 || usedBefore <= settings.MaxBytes {
		return &models.EvictionReport{
			PrincipalID:    principalID,
			DryRun:         dryRun,
			UsedBytesAfter: usedBefore,
		}, nil
	}

	return s.evictToTarget(ctx, principalID, settings, usedBefore,
		settings.MaxBytes-settings.HeadroomBytes, dryRun)
}

// evictToTarget drives usage down to the target, oldest candidates first,
// and reports what it removed.
func (s *QuotaService) evictToTarget(ctx context.Context, principalID string,
	settings *models.QuotaRecord, usedBefore, target int64, dryRun bool) (*models.EvictionReport, error) {

	const batch = 64

	blobRepo := s.repomanager.Blobs(s.db)

	report := &models.EvictionReport{
		PrincipalID:    principalID,
		DryRun:         dryRun,
		UsedBytesAfter: usedBefore,
	}

	used := usedBefore
	evicted := make(map[string]bool)

	for used > target {
		candidates, err := s.repomanager.Files(s.db).EvictionCandidates(ctx, principalID, settings.MinRetainedDepth, batch)
		if err != nil {
			return nil, fmt.Errorf("error listing eviction candidates: %w", err)
		}

		progress := false
		for _, candidate := range candidates {
			if used <= target {
				break
			}
			if evicted[candidate.VersionID] {
				continue
			}
			evicted[candidate.VersionID] = true
			progress = true

			if dryRun {
				report.VersionsEvicted++
				// Optimistic estimate: treats the blob as exclusively owned.
				used -= candidate.CompressedSize
				continue
			}

			if err := s.evictVersion(ctx, candidate.VersionID, candidate.Checksum); err != nil {
				return nil, err
			}
			report.VersionsEvicted++

			used, err = blobRepo.UsedBytes(ctx, principalID)
			if err != nil {
				return nil, fmt.Errorf("error computing usage: %w", err)
			}
		}

		if !progress {
			// Retention floors block further eviction.
			s.logger.Warn(ctx, "eviction stopped above target, retention floors reached",
				"principal", principalID, "used", used, "target", target)
			break
		}
		if dryRun {
			break
		}
	}

	report.BytesFreed = usedBefore - used
	report.UsedBytesAfter = used
	return report, nil
}

// RunEvictionAll sweeps every principal that has an explicit quota row.
func (s *QuotaService) RunEvictionAll(ctx context.Context) error {
	principals, err := s.repomanager.Quotas(s.db).ListPrincipals(ctx)
	if err != nil {
		return fmt.Errorf("error listing principals: %w", err)
	}

	for _, principalID := range principals {
		report, err := s.RunEviction(ctx, principalID, false)
		if err != nil {
			s.logger.Error(ctx, "eviction failed", "principal", principalID, "error", err)
			continue
		}
		if report.VersionsEvicted > 0 {
			s.logger.Info(ctx, "eviction completed", "principal", principalID,
				"versions", report.VersionsEvicted, "freed", report.BytesFreed)
		}
	}
	return nil
}

func (s *QuotaService) evictVersion(ctx context.Context, versionID, checksum string) error {
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Files(tx).DeleteVersion(ctx, versionID); err != nil {
			return err
		}
		return s.repomanager.Blobs(tx).DecrementRef(ctx, checksum)
	})
	if err != nil {
		return fmt.Errorf("error evicting version: %w", err)
	}
	return nil
}
