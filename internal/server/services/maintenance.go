package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/selfvault/syncengine/internal/logging"
	"github.com/selfvault/syncengine/internal/server/blobstore"
	"github.com/selfvault/syncengine/internal/server/models"
	"github.com/selfvault/syncengine/internal/server/repositories/repomanager"
)

// MaintenanceService runs storage housekeeping: blob garbage collection and
// the deduplication integrity scan. Both are safe to run while the server
// serves traffic.
type MaintenanceService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	store       *blobstore.Store
	logger      logging.Logger
}

func NewMaintenanceService(db *sql.DB, m repomanager.RepositoryManager,
	store *blobstore.Store, logger logging.Logger) *MaintenanceService {
	return &MaintenanceService{
		db:          db,
		repomanager: m,
		store:       store,
		logger:      logger.With("module", "maintenance"),
	}
}

// RunGarbageCollection reclaims payloads of zero-reference blobs and
// returns how many were removed.
func (s *MaintenanceService) RunGarbageCollection(ctx context.Context) (int64, error) {
	reclaimed, err := s.store.SweepGarbage(ctx)
	if err != nil {
		return reclaimed, fmt.Errorf("garbage collection error: %w", err)
	}
	if reclaimed > 0 {
		s.logger.Info(ctx, "garbage collection completed", "reclaimed", reclaimed)
	}
	return reclaimed, nil
}

// RunDeduplicationScan recomputes every blob's reference count from the live
// version rows, repairs any drift, and reports table-wide dedup statistics.
func (s *MaintenanceService) RunDeduplicationScan(ctx context.Context) (*models.DedupStats, error) {
	blobRepo := s.repomanager.Blobs(s.db)

	repaired, err := blobRepo.RecountRefs(ctx)
	if err != nil {
		return nil, fmt.Errorf("error recounting references: %w", err)
	}
	if repaired > 0 {
		s.logger.Warn(ctx, "reference counts repaired", "rows", repaired)
	}

	stats, err := blobRepo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("error collecting dedup stats: %w", err)
	}
	stats.RepairedRefs = repaired
	return stats, nil
}
