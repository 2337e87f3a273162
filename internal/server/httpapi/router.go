package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/selfvault/syncengine/internal/logging"
)

// Server bundles the service dependencies behind the HTTP surface.
type Server struct {
	sync        SyncAPI
	devices     DeviceAPI
	versions    VersionAPI
	transfers   TransferAPI
	admin       AdminAPI
	maintenance MaintenanceAPI
	logger      logging.Logger
}

func NewServer(syncAPI SyncAPI, devices DeviceAPI, versions VersionAPI,
	transfers TransferAPI, admin AdminAPI, maintenance MaintenanceAPI,
	logger logging.Logger) *Server {
	return &Server{
		sync:        syncAPI,
		devices:     devices,
		versions:    versions,
		transfers:   transfers,
		admin:       admin,
		maintenance: maintenance,
		logger:      logger.With("module", "httpapi"),
	}
}

// Router builds the full route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(identity)

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/devices", s.handleRegisterDevice).Methods(http.MethodPost)
	api.HandleFunc("/devices/{id}", s.handleRevokeDevice).Methods(http.MethodDelete)

	api.HandleFunc("/sync/changes", s.handleComputeChanges).Methods(http.MethodPost)
	api.HandleFunc("/sync/write", s.handleWrite).Methods(http.MethodPost)
	api.HandleFunc("/sync/delete", s.handleDeleteFile).Methods(http.MethodPost)
	api.HandleFunc("/sync/resolve", s.handleResolve).Methods(http.MethodPost)

	api.HandleFunc("/files/{path:.+}/versions/{ver:[0-9]+}/restore", s.handleRestore).Methods(http.MethodPost)
	api.HandleFunc("/files/{path:.+}/versions/{ver:[0-9]+}/download", s.handleDownload).Methods(http.MethodGet)
	api.HandleFunc("/files/{path:.+}/versions/{ver:[0-9]+}", s.handleDeleteVersion).Methods(http.MethodDelete)
	api.HandleFunc("/files/{path:.+}/versions", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/files/{path:.+}/priority", s.handleSetPriority).Methods(http.MethodPut)
	api.HandleFunc("/files/{path:.+}/export", s.handleExport).Methods(http.MethodGet)

	api.HandleFunc("/transfers", s.handleInitiateTransfer).Methods(http.MethodPost)
	api.HandleFunc("/transfers/{id}/chunks/{idx:[0-9]+}", s.handleSubmitChunk).Methods(http.MethodPut)
	api.HandleFunc("/transfers/{id}/progress", s.handleTransferProgress).Methods(http.MethodGet)
	api.HandleFunc("/transfers/{id}/finalize", s.handleFinalizeTransfer).Methods(http.MethodPost)
	api.HandleFunc("/transfers/{id}", s.handleCancelTransfer).Methods(http.MethodDelete)

	api.HandleFunc("/admin/quota/{principal}", s.handleGetQuota).Methods(http.MethodGet)
	api.HandleFunc("/admin/quota/{principal}", s.handleSetQuota).Methods(http.MethodPut)
	api.HandleFunc("/admin/eviction", s.handleRunEviction).Methods(http.MethodPost)
	api.HandleFunc("/admin/gc", s.handleRunGC).Methods(http.MethodPost)
	api.HandleFunc("/admin/dedup-scan", s.handleDedupScan).Methods(http.MethodPost)

	return r
}
