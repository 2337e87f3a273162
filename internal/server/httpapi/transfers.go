package httpapi

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

type initiateTransferRequest struct {
	Path           string `json:"path"`
	TotalSize      int64  `json:"total_size"`
	ChunkSize      int64  `json:"chunk_size"`
	TargetChecksum string `json:"target_checksum"`
}

type transferResponse struct {
	ID          string    `json:"id"`
	Path        string    `json:"path"`
	TotalSize   int64     `json:"total_size"`
	ChunkSize   int64     `json:"chunk_size"`
	ChunkCount  int64     `json:"chunk_count"`
	ResumeToken string    `json:"resume_token"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

func (s *Server) handleInitiateTransfer(w http.ResponseWriter, r *http.Request) {
	deviceID, err := requireDevice(r)
	if err != nil {
		respondError(r.Context(), w, s.logger, err)
		return
	}

	var req initiateTransferRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	transfer, err := s.transfers.Initiate(r.Context(), principalFrom(r.Context()), deviceID,
		req.Path, req.TotalSize, req.ChunkSize, req.TargetChecksum)
	if err != nil {
		respondError(r.Context(), w, s.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, transferResponse{
		ID:          transfer.ID,
		Path:        transfer.FilePath,
		TotalSize:   transfer.TotalSize,
		ChunkSize:   transfer.ChunkSize,
		ChunkCount:  transfer.ChunkCount,
		ResumeToken: transfer.ResumeToken,
		Status:      string(transfer.Status),
		CreatedAt:   transfer.CreatedAt,
	})
}

// handleSubmitChunk takes the chunk as the raw request body; the mandatory
// X-Chunk-Checksum header is verified server-side before the chunk counts.
func (s *Server) handleSubmitChunk(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	index, _ := strconv.ParseInt(vars["idx"], 10, 64)

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "chunk too large"})
		return
	}

	err = s.transfers.SubmitChunk(r.Context(), vars["id"], r.Header.Get("X-Resume-Token"),
		index, data, r.Header.Get("X-Chunk-Checksum"))
	if err != nil {
		respondError(r.Context(), w, s.logger, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleTransferProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := s.transfers.Progress(r.Context(), mux.Vars(r)["id"],
		r.Header.Get("X-Resume-Token"))
	if err != nil {
		respondError(r.Context(), w, s.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, progress)
}

func (s *Server) handleFinalizeTransfer(w http.ResponseWriter, r *http.Request) {
	version, err := s.transfers.Finalize(r.Context(), mux.Vars(r)["id"],
		r.Header.Get("X-Resume-Token"))
	if err != nil {
		respondError(r.Context(), w, s.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, toVersionResponse("", version))
}

func (s *Server) handleCancelTransfer(w http.ResponseWriter, r *http.Request) {
	err := s.transfers.Cancel(r.Context(), mux.Vars(r)["id"], r.Header.Get("X-Resume-Token"))
	if err != nil {
		respondError(r.Context(), w, s.logger, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}
