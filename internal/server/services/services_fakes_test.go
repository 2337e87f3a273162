package services

// In-memory repository fakes shared by the service tests. They implement the
// same contracts as the Postgres repositories, including the guarded status
// transitions and conditional deletes the services rely on.

import (
	"context"
	"database/sql"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/selfvault/syncengine/internal/common"
	"github.com/selfvault/syncengine/internal/dbx"
	"github.com/selfvault/syncengine/internal/logging"
	"github.com/selfvault/syncengine/internal/server/blobstore"
	"github.com/selfvault/syncengine/internal/server/config"
	"github.com/selfvault/syncengine/internal/server/models"
	"github.com/selfvault/syncengine/internal/server/repositories/blobs"
	"github.com/selfvault/syncengine/internal/server/repositories/devices"
	"github.com/selfvault/syncengine/internal/server/repositories/files"
	"github.com/selfvault/syncengine/internal/server/repositories/principals"
	"github.com/selfvault/syncengine/internal/server/repositories/quotas"
	"github.com/selfvault/syncengine/internal/server/repositories/transfers"
	"github.com/selfvault/syncengine/internal/server/staging"
)

type fakeDeviceRepo struct {
	mu      sync.Mutex
	devices map[string]*models.Device
}

func (r *fakeDeviceRepo) Create(ctx context.Context, device *models.Device) (*models.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *device
	r.devices[device.ID] = &clone
	return device, nil
}

func (r *fakeDeviceRepo) GetByID(ctx context.Context, id string) (*models.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	device, ok := r.devices[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	clone := *device
	return &clone, nil
}

func (r *fakeDeviceRepo) UpdateCursor(ctx context.Context, id string, cursor int64, seenAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	device, ok := r.devices[id]
	if !ok {
		return common.ErrorNotFound
	}
	device.LastCursor = cursor
	device.LastSeenAt = seenAt
	return nil
}

func (r *fakeDeviceRepo) Deactivate(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	device, ok := r.devices[id]
	if !ok {
		return common.ErrorNotFound
	}
	device.Active = false
	return nil
}

type fakePrincipalRepo struct {
	mu      sync.Mutex
	cursors map[string]int64
}

func (r *fakePrincipalRepo) IncrementCursor(ctx context.Context, principalID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursors[principalID]++
	return r.cursors[principalID], nil
}

func (r *fakePrincipalRepo) CurrentCursor(ctx context.Context, principalID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursors[principalID], nil
}

type fakeFileRepo struct {
	mu       sync.Mutex
	files    map[string]*models.TrackedFile
	versions map[string][]*models.FileVersion
}

func (r *fakeFileRepo) GetByPath(ctx context.Context, principalID, path string) (*models.TrackedFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, file := range r.files {
		if file.PrincipalID == principalID && file.Path == path {
			clone := *file
			return &clone, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *fakeFileRepo) GetByID(ctx context.Context, id string) (*models.TrackedFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	file, ok := r.files[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	clone := *file
	return &clone, nil
}

func (r *fakeFileRepo) Create(ctx context.Context, file *models.TrackedFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *file
	r.files[file.ID] = &clone
	return nil
}

func (r *fakeFileRepo) ListStates(ctx context.Context, principalID string) ([]*files.FileState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var states []*files.FileState
	for _, file := range r.files {
		if file.PrincipalID != principalID {
			continue
		}
		state := &files.FileState{FileID: file.ID, Path: file.Path, Deleted: file.Deleted}
		for _, version := range r.versions[file.ID] {
			if version.VersionNo == file.CurrentVersion {
				state.Checksum = version.Checksum
				state.Cursor = version.Cursor
				state.ModifiedAt = version.CreatedAt
			}
		}
		states = append(states, state)
	}
	return states, nil
}

func (r *fakeFileRepo) MarkDeleted(ctx context.Context, fileID string, deleted bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	file, ok := r.files[fileID]
	if !ok {
		return common.ErrorNotFound
	}
	file.Deleted = deleted
	return nil
}

func (r *fakeFileRepo) CreateVersion(ctx context.Context, version *models.FileVersion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *version
	r.versions[version.FileID] = append(r.versions[version.FileID], &clone)
	return nil
}

func (r *fakeFileRepo) SetCurrentVersion(ctx context.Context, fileID string, versionNo int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	file, ok := r.files[fileID]
	if !ok {
		return common.ErrorNotFound
	}
	file.CurrentVersion = versionNo
	return nil
}

func (r *fakeFileRepo) ListVersions(ctx context.Context, fileID string) ([]*models.FileVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	versions := make([]*models.FileVersion, 0, len(r.versions[fileID]))
	for _, version := range r.versions[fileID] {
		clone := *version
		versions = append(versions, &clone)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].VersionNo > versions[j].VersionNo })
	return versions, nil
}

func (r *fakeFileRepo) GetVersion(ctx context.Context, fileID string, versionNo int64) (*models.FileVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, version := range r.versions[fileID] {
		if version.VersionNo == versionNo {
			clone := *version
			return &clone, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *fakeFileRepo) DeleteVersion(ctx context.Context, versionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for fileID, versions := range r.versions {
		for i, version := range versions {
			if version.ID == versionID {
				r.versions[fileID] = append(versions[:i], versions[i+1:]...)
				return nil
			}
		}
	}
	return common.ErrorNotFound
}

func (r *fakeFileRepo) CountVersions(ctx context.Context, fileID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.versions[fileID])), nil
}

func (r *fakeFileRepo) SetHighPriority(ctx context.Context, fileID string, versionNo int64, high bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, version := range r.versions[fileID] {
		if version.VersionNo == versionNo {
			version.HighPriority = high
			return nil
		}
	}
	return common.ErrorNotFound
}

func (r *fakeFileRepo) DepthCandidates(ctx context.Context, fileID string, keep int64) ([]*files.EvictionCandidate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	file := r.files[fileID]
	versions := append([]*models.FileVersion(nil), r.versions[fileID]...)
	sort.Slice(versions, func(i, j int) bool { return versions[i].VersionNo > versions[j].VersionNo })

	var candidates []*files.EvictionCandidate
	for rank, version := range versions {
		if int64(rank) < keep || version.HighPriority || version.VersionNo == file.CurrentVersion {
			continue
		}
		candidates = append(candidates, &files.EvictionCandidate{
			VersionID:      version.ID,
			FileID:         fileID,
			VersionNo:      version.VersionNo,
			Checksum:       version.Checksum,
			CompressedSize: version.CompressedSize,
			CreatedAt:      version.CreatedAt,
		})
	}
	return candidates, nil
}

func (r *fakeFileRepo) EvictionCandidates(ctx context.Context, principalID string, minDepth, limit int64) ([]*files.EvictionCandidate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var candidates []*files.EvictionCandidate
	for fileID, file := range r.files {
		if file.PrincipalID != principalID {
			continue
		}
		versions := append([]*models.FileVersion(nil), r.versions[fileID]...)
		sort.Slice(versions, func(i, j int) bool { return versions[i].VersionNo > versions[j].VersionNo })
		for rank, version := range versions {
			if int64(rank) < minDepth || version.HighPriority || version.VersionNo == file.CurrentVersion {
				continue
			}
			candidates = append(candidates, &files.EvictionCandidate{
				VersionID:      version.ID,
				FileID:         fileID,
				VersionNo:      version.VersionNo,
				Checksum:       version.Checksum,
				CompressedSize: version.CompressedSize,
				CreatedAt:      version.CreatedAt,
			})
		}
	}
	// Oldest first.
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].CreatedAt.Before(candidates[j].CreatedAt) })
	if limit > 0 && int64(len(candidates)) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

type fakeBlobRepo struct {
	mu    sync.Mutex
	blobs map[string]*models.Blob
	// filesRepo lets UsedBytes see which checksums a principal references.
	filesRepo *fakeFileRepo
}

func (r *fakeBlobRepo) Create(ctx context.Context, blob *models.Blob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *blob
	r.blobs[blob.Checksum] = &clone
	return nil
}

func (r *fakeBlobRepo) Get(ctx context.Context, checksum string) (*models.Blob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	blob, ok := r.blobs[checksum]
	if !ok {
		return nil, common.ErrorNotFound
	}
	clone := *blob
	return &clone, nil
}

func (r *fakeBlobRepo) IncrementRef(ctx context.Context, checksum string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	blob, ok := r.blobs[checksum]
	if !ok {
		return false, nil
	}
	blob.RefCount++
	return true, nil
}

func (r *fakeBlobRepo) DecrementRef(ctx context.Context, checksum string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if blob, ok := r.blobs[checksum]; ok && blob.RefCount > 0 {
		blob.RefCount--
	}
	return nil
}

func (r *fakeBlobRepo) ListUnreferenced(ctx context.Context, limit int64) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var checksums []string
	for checksum, blob := range r.blobs {
		if blob.RefCount == 0 {
			checksums = append(checksums, checksum)
		}
		if limit > 0 && int64(len(checksums)) == limit {
			break
		}
	}
	return checksums, nil
}

func (r *fakeBlobRepo) DeleteIfUnreferenced(ctx context.Context, checksum string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	blob, ok := r.blobs[checksum]
	if !ok || blob.RefCount != 0 {
		return false, nil
	}
	delete(r.blobs, checksum)
	return true, nil
}

func (r *fakeBlobRepo) UsedBytes(ctx context.Context, principalID string) (int64, error) {
	r.filesRepo.mu.Lock()
	seen := make(map[string]bool)
	for fileID, file := range r.filesRepo.files {
		if file.PrincipalID != principalID {
			continue
		}
		for _, version := range r.filesRepo.versions[fileID] {
			seen[version.Checksum] = true
		}
	}
	r.filesRepo.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	var used int64
	for checksum := range seen {
		if blob, ok := r.blobs[checksum]; ok {
			used += blob.CompressedSize
		}
	}
	return used, nil
}

func (r *fakeBlobRepo) RecountRefs(ctx context.Context) (int64, error) {
	counts := make(map[string]int64)
	r.filesRepo.mu.Lock()
	for fileID := range r.filesRepo.files {
		for _, version := range r.filesRepo.versions[fileID] {
			counts[version.Checksum]++
		}
	}
	r.filesRepo.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	var repaired int64
	for checksum, blob := range r.blobs {
		if blob.RefCount != counts[checksum] {
			blob.RefCount = counts[checksum]
			repaired++
		}
	}
	return repaired, nil
}

func (r *fakeBlobRepo) Stats(ctx context.Context) (*models.DedupStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &models.DedupStats{}
	for _, blob := range r.blobs {
		stats.TotalBlobs++
		stats.TotalCompressed += blob.CompressedSize
		stats.TotalOriginal += blob.OriginalSize
		if blob.RefCount > 1 {
			stats.SharedBlobs++
			stats.SavedBytes += blob.CompressedSize * (blob.RefCount - 1)
		}
		if blob.RefCount == 0 {
			stats.UnreferencedSeen++
		}
	}
	return stats, nil
}

type fakeTransferRepo struct {
	mu        sync.Mutex
	transfers map[string]*models.PendingTransfer
	chunks    map[string]map[int64]*models.TransferChunk
}

func (r *fakeTransferRepo) Create(ctx context.Context, transfer *models.PendingTransfer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *transfer
	r.transfers[transfer.ID] = &clone
	return nil
}

func (r *fakeTransferRepo) GetByID(ctx context.Context, id string) (*models.PendingTransfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	transfer, ok := r.transfers[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	clone := *transfer
	return &clone, nil
}

func (r *fakeTransferRepo) UpdateStatus(ctx context.Context, id string, from, to models.TransferStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	transfer, ok := r.transfers[id]
	if !ok || transfer.Status != from {
		return false, nil
	}
	transfer.Status = to
	transfer.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *fakeTransferRepo) AddChunk(ctx context.Context, chunk *models.TransferChunk) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.chunks[chunk.TransferID] == nil {
		r.chunks[chunk.TransferID] = make(map[int64]*models.TransferChunk)
	}
	if _, ok := r.chunks[chunk.TransferID][chunk.Index]; ok {
		return false, nil
	}
	clone := *chunk
	r.chunks[chunk.TransferID][chunk.Index] = &clone
	return true, nil
}

func (r *fakeTransferRepo) CountChunks(ctx context.Context, transferID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.chunks[transferID])), nil
}

func (r *fakeTransferRepo) ListChunkIndices(ctx context.Context, transferID string) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	indices := make([]int64, 0, len(r.chunks[transferID]))
	for index := range r.chunks[transferID] {
		indices = append(indices, index)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	return indices, nil
}

func (r *fakeTransferRepo) ListStale(ctx context.Context, cutoff time.Time) ([]*models.PendingTransfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var stale []*models.PendingTransfer
	for _, transfer := range r.transfers {
		if transfer.Status.Terminal() || !transfer.UpdatedAt.Before(cutoff) {
			continue
		}
		clone := *transfer
		stale = append(stale, &clone)
	}
	return stale, nil
}

func (r *fakeTransferRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.transfers, id)
	delete(r.chunks, id)
	return nil
}

type fakeQuotaRepo struct {
	mu      sync.Mutex
	records map[string]*models.QuotaRecord
}

func (r *fakeQuotaRepo) Get(ctx context.Context, principalID string) (*models.QuotaRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[principalID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	clone := *record
	return &clone, nil
}

func (r *fakeQuotaRepo) Set(ctx context.Context, record *models.QuotaRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *record
	r.records[record.PrincipalID] = &clone
	return nil
}

func (r *fakeQuotaRepo) ListPrincipals(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	principalIDs := make([]string, 0, len(r.records))
	for principalID := range r.records {
		principalIDs = append(principalIDs, principalID)
	}
	sort.Strings(principalIDs)
	return principalIDs, nil
}

// fakeRepoManager hands out the same in-memory repositories regardless of
// the DBTX, which is what makes transaction-wrapped service code testable
// against them.
type fakeRepoManager struct {
	deviceRepo    *fakeDeviceRepo
	principalRepo *fakePrincipalRepo
	fileRepo      *fakeFileRepo
	blobRepo      *fakeBlobRepo
	transferRepo  *fakeTransferRepo
	quotaRepo     *fakeQuotaRepo
}

func newFakeRepoManager() *fakeRepoManager {
	fileRepo := &fakeFileRepo{
		files:    make(map[string]*models.TrackedFile),
		versions: make(map[string][]*models.FileVersion),
	}
	return &fakeRepoManager{
		deviceRepo:    &fakeDeviceRepo{devices: make(map[string]*models.Device)},
		principalRepo: &fakePrincipalRepo{cursors: make(map[string]int64)},
		fileRepo:      fileRepo,
		blobRepo:      &fakeBlobRepo{blobs: make(map[string]*models.Blob), filesRepo: fileRepo},
		transferRepo: &fakeTransferRepo{
			transfers: make(map[string]*models.PendingTransfer),
			chunks:    make(map[string]map[int64]*models.TransferChunk),
		},
		quotaRepo: &fakeQuotaRepo{records: make(map[string]*models.QuotaRecord)},
	}
}

func (m *fakeRepoManager) Devices(db dbx.DBTX) devices.Repository         { return m.deviceRepo }
func (m *fakeRepoManager) Principals(db dbx.DBTX) principals.Repository   { return m.principalRepo }
func (m *fakeRepoManager) Files(db dbx.DBTX) files.Repository             { return m.fileRepo }
func (m *fakeRepoManager) Blobs(db dbx.DBTX) blobs.Repository             { return m.blobRepo }
func (m *fakeRepoManager) Transfers(db dbx.DBTX) transfers.Repository     { return m.transferRepo }
func (m *fakeRepoManager) Quotas(db dbx.DBTX) quotas.Repository           { return m.quotaRepo }
func (m *fakeRepoManager) RunMigrations(ctx context.Context, db *sql.DB) error { return nil }

func testLogger() logging.Logger {
	return logging.NewText(os.Stderr)
}

// newTxDB returns a sqlmock-backed *sql.DB that tolerates any number of
// interleaved transactions so WithTx-wrapped service code can run.
func newTxDB(t *testing.T) *sql.DB {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	for i := 0; i < 512; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
	}
	return db
}

// testEnv wires all services over the fakes, the way app startup does over
// the real implementations.
type testEnv struct {
	manager  *fakeRepoManager
	cfg      *config.Config
	store    *blobstore.Store
	devices  *DeviceService
	quotas   *QuotaService
	sync     *SyncService
	versions *VersionService
	transfer *TransferService
	maint    *MaintenanceService
	staging  *staging.MemoryStaging
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := newTxDB(t)
	manager := newFakeRepoManager()
	logger := testLogger()

	cfg := &config.Config{}
	cfg.LoadDefaults()

	store := blobstore.NewStore(manager.blobRepo, blobstore.NewMemoryBackend(), logger)
	deviceSvc := NewDeviceService(db, manager)
	quotaSvc := NewQuotaService(db, manager, store, cfg, logger)
	syncSvc := NewSyncService(db, manager, store, deviceSvc, quotaSvc, cfg, logger)
	versionSvc := NewVersionService(db, manager, store, syncSvc, logger)
	st := staging.NewMemoryStaging()
	transferSvc := NewTransferService(db, manager, st, syncSvc, deviceSvc, quotaSvc, cfg, logger)
	maintSvc := NewMaintenanceService(db, manager, store, logger)

	return &testEnv{
		manager:  manager,
		cfg:      cfg,
		store:    store,
		devices:  deviceSvc,
		quotas:   quotaSvc,
		sync:     syncSvc,
		versions: versionSvc,
		transfer: transferSvc,
		maint:    maintSvc,
		staging:  st,
	}
}

func (e *testEnv) registerDevice(t *testing.T, principalID, name string) *models.Device {
	t.Helper()
	device, err := e.devices.Register(context.Background(), principalID, name)
	require.NoError(t, err)
	return device
}
