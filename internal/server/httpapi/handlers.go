package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/selfvault/syncengine/internal/common"
	"github.com/selfvault/syncengine/internal/server/models"
)

// Request bodies are capped; large payloads go through the transfer API.
const maxBodyBytes = 32 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func requireDevice(r *http.Request) (string, error) {
	deviceID := deviceFrom(r.Context())
	if deviceID == "" {
		return "", fmt.Errorf("missing X-Device-ID: %w", common.ErrorUnauthorized)
	}
	return deviceID, nil
}

type registerDeviceRequest struct {
	Name string `json:"name"`
}

type deviceResponse struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	RegisteredAt time.Time `json:"registered_at"`
	Active       bool      `json:"active"`
	ChangeToken  string    `json:"change_token"`
}

func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerDeviceRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	device, err := s.devices.Register(r.Context(), principalFrom(r.Context()), req.Name)
	if err != nil {
		respondError(r.Context(), w, s.logger, err)
		return
	}
	token, err := s.sync.InitialToken(device.PrincipalID, device.ID)
	if err != nil {
		respondError(r.Context(), w, s.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, deviceResponse{
		ID:           device.ID,
		Name:         device.Name,
		RegisteredAt: device.RegisteredAt,
		Active:       device.Active,
		ChangeToken:  token,
	})
}

func (s *Server) handleRevokeDevice(w http.ResponseWriter, r *http.Request) {
	err := s.devices.Revoke(r.Context(), principalFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		respondError(r.Context(), w, s.logger, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

type changesRequest struct {
	Manifest    []models.ManifestEntry `json:"manifest"`
	ChangeToken string                 `json:"change_token"`
}

func (s *Server) handleComputeChanges(w http.ResponseWriter, r *http.Request) {
	deviceID, err := requireDevice(r)
	if err != nil {
		respondError(r.Context(), w, s.logger, err)
		return
	}

	var req changesRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	set, err := s.sync.ComputeChanges(r.Context(), principalFrom(r.Context()), deviceID,
		req.Manifest, req.ChangeToken)
	if err != nil {
		respondError(r.Context(), w, s.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, set)
}

type writeRequest struct {
	Path     string `json:"path"`
	Content  []byte `json:"content"` // base64 over the wire
	Checksum string `json:"checksum"`
	// ModifiedAt is the device-side modification time used for
	// last-write-wins ordering.
	ModifiedAt time.Time `json:"modified_at"`
	// Debounce asks the server to coalesce this write with other rapid
	// edits instead of versioning it immediately.
	Debounce bool `json:"debounce"`
}

type versionResponse struct {
	Path           string            `json:"path,omitempty"`
	VersionNo      int64             `json:"version_no"`
	Checksum       string            `json:"checksum"`
	OriginalSize   int64             `json:"original_size"`
	CompressedSize int64             `json:"compressed_size"`
	CreatedAt      time.Time         `json:"created_at"`
	DeviceID       string            `json:"device_id"`
	HighPriority   bool              `json:"high_priority"`
	ChangeType     models.ChangeType `json:"change_type"`
}

func toVersionResponse(path string, v *models.FileVersion) versionResponse {
	return versionResponse{
		Path:           path,
		VersionNo:      v.VersionNo,
		Checksum:       v.Checksum,
		OriginalSize:   v.OriginalSize,
		CompressedSize: v.CompressedSize,
		CreatedAt:      v.CreatedAt,
		DeviceID:       v.DeviceID,
		HighPriority:   v.HighPriority,
		ChangeType:     v.ChangeType,
	}
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	deviceID, err := requireDevice(r)
	if err != nil {
		respondError(r.Context(), w, s.logger, err)
		return
	}

	var req writeRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	principalID := principalFrom(r.Context())

	if req.Debounce {
		if err := s.sync.QueueEdit(r.Context(), principalID, deviceID, req.Path,
			req.Content, req.Checksum); err != nil {
			respondError(r.Context(), w, s.logger, err)
			return
		}
		respondJSON(w, http.StatusAccepted, nil)
		return
	}

	modifiedAt := req.ModifiedAt
	if modifiedAt.IsZero() {
		modifiedAt = time.Now().UTC()
	}

	version, err := s.sync.AcceptWrite(r.Context(), principalID, deviceID, req.Path,
		req.Content, req.Checksum, modifiedAt, models.ChangeTypeUpdate)
	if err != nil {
		respondError(r.Context(), w, s.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, toVersionResponse(req.Path, version))
}

type deleteFileRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	deviceID, err := requireDevice(r)
	if err != nil {
		respondError(r.Context(), w, s.logger, err)
		return
	}

	var req deleteFileRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	if err := s.sync.DeleteFile(r.Context(), principalFrom(r.Context()), deviceID, req.Path); err != nil {
		respondError(r.Context(), w, s.logger, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

type resolveRequest struct {
	Path       string    `json:"path"`
	Strategy   string    `json:"strategy"`
	Content    []byte    `json:"content"`
	ModifiedAt time.Time `json:"modified_at"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	deviceID, err := requireDevice(r)
	if err != nil {
		respondError(r.Context(), w, s.logger, err)
		return
	}

	var req resolveRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	version, err := s.sync.ResolveConflict(r.Context(), principalFrom(r.Context()), deviceID,
		req.Path, req.Strategy, req.Content, req.ModifiedAt)
	if err != nil {
		respondError(r.Context(), w, s.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, toVersionResponse(req.Path, version))
}

type historyResponse struct {
	Path           string            `json:"path"`
	CurrentVersion int64             `json:"current_version"`
	Deleted        bool              `json:"deleted"`
	Versions       []versionResponse `json:"versions"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	path := mux.Vars(r)["path"]

	file, versions, err := s.versions.History(r.Context(), principalFrom(r.Context()), path)
	if err != nil {
		respondError(r.Context(), w, s.logger, err)
		return
	}

	resp := historyResponse{
		Path:           file.Path,
		CurrentVersion: file.CurrentVersion,
		Deleted:        file.Deleted,
		Versions:       make([]versionResponse, 0, len(versions)),
	}
	for _, version := range versions {
		resp.Versions = append(resp.Versions, toVersionResponse("", version))
	}
	respondJSON(w, http.StatusOK, resp)
}

func versionNoFrom(r *http.Request) int64 {
	ver, _ := strconv.ParseInt(mux.Vars(r)["ver"], 10, 64)
	return ver
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	deviceID, err := requireDevice(r)
	if err != nil {
		respondError(r.Context(), w, s.logger, err)
		return
	}
	path := mux.Vars(r)["path"]

	version, err := s.versions.Restore(r.Context(), principalFrom(r.Context()), deviceID,
		path, versionNoFrom(r))
	if err != nil {
		respondError(r.Context(), w, s.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, toVersionResponse(path, version))
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	content, version, err := s.versions.Download(r.Context(), principalFrom(r.Context()),
		mux.Vars(r)["path"], versionNoFrom(r))
	if err != nil {
		respondError(r.Context(), w, s.logger, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Checksum", version.Checksum)
	w.Header().Set("X-Version-No", strconv.FormatInt(version.VersionNo, 10))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}

func (s *Server) handleDeleteVersion(w http.ResponseWriter, r *http.Request) {
	err := s.versions.Delete(r.Context(), principalFrom(r.Context()),
		mux.Vars(r)["path"], versionNoFrom(r))
	if err != nil {
		respondError(r.Context(), w, s.logger, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

type priorityRequest struct {
	VersionNo    int64 `json:"version_no"`
	HighPriority bool  `json:"high_priority"`
}

func (s *Server) handleSetPriority(w http.ResponseWriter, r *http.Request) {
	var req priorityRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	err := s.versions.SetPriority(r.Context(), principalFrom(r.Context()),
		mux.Vars(r)["path"], req.VersionNo, req.HighPriority)
	if err != nil {
		respondError(r.Context(), w, s.logger, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/gzip")
	if err := s.versions.Export(r.Context(), principalFrom(r.Context()),
		mux.Vars(r)["path"], w); err != nil {
		// Headers may already be out; log and abort the stream.
		s.logger.Error(r.Context(), "export failed", "error", err)
	}
}
