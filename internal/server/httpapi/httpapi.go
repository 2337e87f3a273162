// Package httpapi exposes the sync engine over HTTP/JSON. Handlers are thin:
// decode, call the service, map the error, encode. Identity arrives in the
// X-Principal-ID and X-Device-ID headers; authentication proper sits in
// front of this service.
package httpapi

import (
	"context"
	"io"
	"time"

	"github.com/selfvault/syncengine/internal/server/models"
)

// SyncAPI is the sync-cycle surface the handlers call.
type SyncAPI interface {
	InitialToken(principalID, deviceID string) (string, error)
	ComputeChanges(ctx context.Context, principalID, deviceID string, manifest []models.ManifestEntry, changeToken string) (*models.ChangeSet, error)
	AcceptWrite(ctx context.Context, principalID, deviceID, path string, content []byte, declaredChecksum string, modifiedAt time.Time, changeType models.ChangeType) (*models.FileVersion, error)
	QueueEdit(ctx context.Context, principalID, deviceID, path string, content []byte, declaredChecksum string) error
	DeleteFile(ctx context.Context, principalID, deviceID, path string) error
	ResolveConflict(ctx context.Context, principalID, deviceID, path, strategyName string, content []byte, modifiedAt time.Time) (*models.FileVersion, error)
}

// DeviceAPI manages device registration.
type DeviceAPI interface {
	Register(ctx context.Context, principalID, name string) (*models.Device, error)
	Revoke(ctx context.Context, principalID, deviceID string) error
}

// VersionAPI reads and manipulates version history.
type VersionAPI interface {
	History(ctx context.Context, principalID, path string) (*models.TrackedFile, []*models.FileVersion, error)
	Download(ctx context.Context, principalID, path string, versionNo int64) ([]byte, *models.FileVersion, error)
	Restore(ctx context.Context, principalID, deviceID, path string, versionNo int64) (*models.FileVersion, error)
	SetPriority(ctx context.Context, principalID, path string, versionNo int64, high bool) error
	Delete(ctx context.Context, principalID, path string, versionNo int64) error
	Export(ctx context.Context, principalID, path string, w io.Writer) error
}

// TransferAPI manages chunked uploads.
type TransferAPI interface {
	Initiate(ctx context.Context, principalID, deviceID, filePath string, totalSize, chunkSize int64, targetChecksum string) (*models.PendingTransfer, error)
	SubmitChunk(ctx context.Context, transferID, resumeToken string, index int64, data []byte, chunkChecksum string) error
	Progress(ctx context.Context, transferID, resumeToken string) (*models.TransferProgress, error)
	Finalize(ctx context.Context, transferID, resumeToken string) (*models.FileVersion, error)
	Cancel(ctx context.Context, transferID, resumeToken string) error
}

// AdminAPI covers quota administration and storage maintenance.
type AdminAPI interface {
	Settings(ctx context.Context, principalID string) (*models.QuotaRecord, error)
	SetSettings(ctx context.Context, record *models.QuotaRecord) error
	Usage(ctx context.Context, principalID string) (*models.QuotaUsage, error)
	RunEviction(ctx context.Context, principalID string, dryRun bool) (*models.EvictionReport, error)
}

// MaintenanceAPI runs storage housekeeping on demand.
type MaintenanceAPI interface {
	RunGarbageCollection(ctx context.Context) (int64, error)
	RunDeduplicationScan(ctx context.Context) (*models.DedupStats, error)
}
