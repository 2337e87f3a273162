package services

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/selfvault/syncengine/internal/common"
	"github.com/selfvault/syncengine/internal/logging"
	"github.com/selfvault/syncengine/internal/server/blobstore"
	"github.com/selfvault/syncengine/internal/server/config"
	"github.com/selfvault/syncengine/internal/server/models"
	"github.com/selfvault/syncengine/internal/server/repositories/repomanager"
	"github.com/selfvault/syncengine/internal/server/staging"
)

// TransferService manages chunked uploads for payloads too large for a
// single request. Chunks arrive in any order, survive reconnects via the
// resume token, and become a normal file version on finalize.
type TransferService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	staging     staging.Staging
	sync        *SyncService
	devices     *DeviceService
	quotas      *QuotaService
	config      *config.Config
	logger      logging.Logger
}

func NewTransferService(db *sql.DB, m repomanager.RepositoryManager, st staging.Staging,
	syncSvc *SyncService, devices *DeviceService, quotas *QuotaService,
	cfg *config.Config, logger logging.Logger) *TransferService {
	return &TransferService{
		db:          db,
		repomanager: m,
		staging:     st,
		sync:        syncSvc,
		devices:     devices,
		quotas:      quotas,
		config:      cfg,
		logger:      logger.With("module", "transfer"),
	}
}

// Initiate opens a chunked transfer. The declared total size is checked
// against the transfer ceiling and the principal's quota up front, so a
// doomed upload fails before any bytes move.
func (s *TransferService) Initiate(ctx context.Context, principalID, deviceID, filePath string,
	totalSize, chunkSize int64, targetChecksum string) (*models.PendingTransfer, error) {

	if _, err := s.devices.authorizeActive(ctx, principalID, deviceID); err != nil {
		return nil, err
	}
	if totalSize <= 0 || chunkSize <= 0 {
		return nil, fmt.Errorf("total size %d, chunk size %d: %w", totalSize, chunkSize, common.ErrorInternal)
	}
	if totalSize > s.config.MaxTransferSize {
		return nil, fmt.Errorf("declared %d bytes, limit %d: %w",
			totalSize, s.config.MaxTransferSize, common.ErrTooLarge)
	}
	if err := s.quotas.EnsureCapacity(ctx, principalID, totalSize); err != nil {
		return nil, err
	}

	resumeToken, err := common.MakeRandHexString(32)
	if err != nil {
		return nil, fmt.Errorf("error generating resume token: %w", err)
	}

	now := time.Now().UTC()
	transfer := &models.PendingTransfer{
		ID:             uuid.NewString(),
		PrincipalID:    principalID,
		DeviceID:       deviceID,
		FilePath:       filePath,
		TotalSize:      totalSize,
		ChunkSize:      chunkSize,
		ChunkCount:     (totalSize + chunkSize - 1) / chunkSize,
		TargetChecksum: targetChecksum,
		ResumeToken:    resumeToken,
		Status:         models.TransferInitiated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.repomanager.Transfers(s.db).Create(ctx, transfer); err != nil {
		return nil, fmt.Errorf("error creating transfer: %w", err)
	}
	return transfer, nil
}

// SubmitChunk stores one chunk. Every chunk must arrive with its declared
// checksum and is verified before it counts; a corrupt chunk is caught here,
// not at finalize where the damage can no longer be attributed. Resubmitting
// an already-stored index is a harmless no-op, which is what makes
// resume-by-retry safe.
func (s *TransferService) SubmitChunk(ctx context.Context, transferID, resumeToken string,
	index int64, data []byte, chunkChecksum string) error {

	transfer, err := s.authorizeTransfer(ctx, transferID, resumeToken)
	if err != nil {
		return err
	}
	if err := rejectTerminal(transfer.Status); err != nil {
		return err
	}
	if index < 0 || index >= transfer.ChunkCount {
		return fmt.Errorf("chunk index %d out of range [0, %d): %w",
			index, transfer.ChunkCount, common.ErrorNotFound)
	}

	if chunkChecksum == "" {
		return fmt.Errorf("chunk %d has no declared checksum: %w", index, common.ErrChecksumMismatch)
	}
	checksum := blobstore.Sum(data)
	if chunkChecksum != checksum {
		return fmt.Errorf("chunk %d declared %s, content is %s: %w",
			index, chunkChecksum, checksum, common.ErrChecksumMismatch)
	}

	if err := s.staging.WriteChunk(ctx, transferID, index, data); err != nil {
		return fmt.Errorf("error staging chunk: %w", err)
	}

	if _, err := s.repomanager.Transfers(s.db).AddChunk(ctx, &models.TransferChunk{
		TransferID: transferID,
		Index:      index,
		Checksum:   checksum,
		Size:       int64(len(data)),
	}); err != nil {
		return fmt.Errorf("error recording chunk: %w", err)
	}

	if transfer.Status == models.TransferInitiated {
		// Lost race with another chunk is fine, the state is already there.
		if _, err := s.repomanager.Transfers(s.db).UpdateStatus(ctx, transferID,
			models.TransferInitiated, models.TransferReceiving); err != nil {
			return fmt.Errorf("error updating transfer status: %w", err)
		}
	}
	return nil
}

// Progress reports completed and missing chunk indices so an interrupted
// client can resume by submitting only what is absent.
func (s *TransferService) Progress(ctx context.Context, transferID, resumeToken string) (*models.TransferProgress, error) {
	transfer, err := s.authorizeTransfer(ctx, transferID, resumeToken)
	if err != nil {
		return nil, err
	}

	indices, err := s.repomanager.Transfers(s.db).ListChunkIndices(ctx, transferID)
	if err != nil {
		return nil, fmt.Errorf("error listing chunks: %w", err)
	}

	have := make(map[int64]bool, len(indices))
	for _, index := range indices {
		have[index] = true
	}
	missing := make([]int64, 0)
	for index := int64(0); index < transfer.ChunkCount; index++ {
		if !have[index] {
			missing = append(missing, index)
		}
	}
	slices.Sort(missing)

	return &models.TransferProgress{
		TransferID: transferID,
		Completed:  int64(len(indices)),
		Total:      transfer.ChunkCount,
		Missing:    missing,
		Status:     string(transfer.Status),
	}, nil
}

// Finalize assembles the chunks, verifies the whole payload against the
// declared checksum and hands it to the write path as one new version.
// On an integrity failure the transfer drops back to receiving so the
// client can re-submit corrupted chunks instead of starting over.
func (s *TransferService) Finalize(ctx context.Context, transferID, resumeToken string) (*models.FileVersion, error) {
	transfer, err := s.authorizeTransfer(ctx, transferID, resumeToken)
	if err != nil {
		return nil, err
	}
	if err := rejectTerminal(transfer.Status); err != nil {
		return nil, err
	}

	count, err := s.repomanager.Transfers(s.db).CountChunks(ctx, transferID)
	if err != nil {
		return nil, fmt.Errorf("error counting chunks: %w", err)
	}
	if count != transfer.ChunkCount {
		return nil, fmt.Errorf("have %d of %d chunks: %w", count, transfer.ChunkCount, common.ErrConflict)
	}

	// Only one finalizer can move receiving -> assembling.
	moved, err := s.repomanager.Transfers(s.db).UpdateStatus(ctx, transferID,
		models.TransferReceiving, models.TransferAssembling)
	if err != nil {
		return nil, fmt.Errorf("error updating transfer status: %w", err)
	}
	if !moved {
		return nil, fmt.Errorf("transfer %s is not receiving: %w", transferID, common.ErrConflict)
	}

	payload, err := s.staging.Assemble(ctx, transferID, transfer.ChunkCount)
	if err != nil {
		s.revertToReceiving(ctx, transferID)
		return nil, fmt.Errorf("error assembling transfer: %w", err)
	}

	if transfer.TargetChecksum != "" && blobstore.Sum(payload) != transfer.TargetChecksum {
		s.revertToReceiving(ctx, transferID)
		return nil, fmt.Errorf("transfer %s: %w", transferID, common.ErrIntegrityFailure)
	}
	if int64(len(payload)) != transfer.TotalSize {
		s.revertToReceiving(ctx, transferID)
		return nil, fmt.Errorf("assembled %d bytes, declared %d: %w",
			len(payload), transfer.TotalSize, common.ErrIntegrityFailure)
	}

	version, err := s.sync.AcceptWrite(ctx, transfer.PrincipalID, transfer.DeviceID,
		transfer.FilePath, payload, transfer.TargetChecksum, time.Now().UTC(), models.ChangeTypeUpdate)
	if err != nil {
		s.revertToReceiving(ctx, transferID)
		return nil, err
	}

	if _, err := s.repomanager.Transfers(s.db).UpdateStatus(ctx, transferID,
		models.TransferAssembling, models.TransferFinalized); err != nil {
		s.logger.Error(ctx, "transfer finalized but status update failed",
			"transfer", transferID, "error", err)
	}
	if err := s.staging.Purge(ctx, transferID); err != nil {
		s.logger.Warn(ctx, "failed to purge staged chunks", "transfer", transferID, "error", err)
	}

	return version, nil
}

// Cancel aborts a non-terminal transfer and releases its staged chunks.
func (s *TransferService) Cancel(ctx context.Context, transferID, resumeToken string) error {
	transfer, err := s.authorizeTransfer(ctx, transferID, resumeToken)
	if err != nil {
		return err
	}
	if transfer.Status.Terminal() {
		return rejectTerminal(transfer.Status)
	}

	moved, err := s.repomanager.Transfers(s.db).UpdateStatus(ctx, transferID,
		transfer.Status, models.TransferCancelled)
	if err != nil {
		return fmt.Errorf("error updating transfer status: %w", err)
	}
	if !moved {
		return fmt.Errorf("transfer %s changed state: %w", transferID, common.ErrConflict)
	}

	if err := s.staging.Purge(ctx, transferID); err != nil {
		s.logger.Warn(ctx, "failed to purge staged chunks", "transfer", transferID, "error", err)
	}
	return nil
}

// SweepExpired marks transfers untouched past the expiry window as expired
// and releases their staged chunks. Runs from the background maintenance
// loop.
func (s *TransferService) SweepExpired(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.config.TransferExpiry)

	stale, err := s.repomanager.Transfers(s.db).ListStale(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("error listing stale transfers: %w", err)
	}

	var expired int64
	for _, transfer := range stale {
		moved, err := s.repomanager.Transfers(s.db).UpdateStatus(ctx, transfer.ID,
			transfer.Status, models.TransferExpired)
		if err != nil {
			s.logger.Warn(ctx, "failed to expire transfer", "transfer", transfer.ID, "error", err)
			continue
		}
		if !moved {
			continue
		}
		if err := s.staging.Purge(ctx, transfer.ID); err != nil {
			s.logger.Warn(ctx, "failed to purge staged chunks", "transfer", transfer.ID, "error", err)
		}
		expired++
	}
	return expired, nil
}

func (s *TransferService) authorizeTransfer(ctx context.Context, transferID, resumeToken string) (*models.PendingTransfer, error) {
	transfer, err := s.repomanager.Transfers(s.db).GetByID(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(transfer.ResumeToken), []byte(resumeToken)) != 1 {
		return nil, common.ErrorUnauthorized
	}
	return transfer, nil
}

func (s *TransferService) revertToReceiving(ctx context.Context, transferID string) {
	if _, err := s.repomanager.Transfers(s.db).UpdateStatus(ctx, transferID,
		models.TransferAssembling, models.TransferReceiving); err != nil {
		s.logger.Error(ctx, "failed to revert transfer to receiving", "transfer", transferID, "error", err)
	}
}

func rejectTerminal(status models.TransferStatus) error {
	switch status {
	case models.TransferCancelled:
		return common.ErrTransferCancelled
	case models.TransferExpired:
		return common.ErrTransferExpired
	case models.TransferFinalized:
		return fmt.Errorf("transfer already finalized: %w", common.ErrConflict)
	}
	return nil
}
