package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/selfvault/syncengine/internal/server/models"
)

type quotaResponse struct {
	Settings *models.QuotaRecord `json:"settings"`
	Usage    *models.QuotaUsage  `json:"usage"`
}

func (s *Server) handleGetQuota(w http.ResponseWriter, r *http.Request) {
	principalID := mux.Vars(r)["principal"]

	settings, err := s.admin.Settings(r.Context(), principalID)
	if err != nil {
		respondError(r.Context(), w, s.logger, err)
		return
	}
	usage, err := s.admin.Usage(r.Context(), principalID)
	if err != nil {
		respondError(r.Context(), w, s.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, quotaResponse{Settings: settings, Usage: usage})
}

func (s *Server) handleSetQuota(w http.ResponseWriter, r *http.Request) {
	var record models.QuotaRecord
	if err := decodeBody(w, r, &record); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	record.PrincipalID = mux.Vars(r)["principal"]

	if err := s.admin.SetSettings(r.Context(), &record); err != nil {
		respondError(r.Context(), w, s.logger, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

type evictionRequest struct {
	PrincipalID string `json:"principal_id"`
	DryRun      bool   `json:"dry_run"`
}

func (s *Server) handleRunEviction(w http.ResponseWriter, r *http.Request) {
	var req evictionRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	report, err := s.admin.RunEviction(r.Context(), req.PrincipalID, req.DryRun)
	if err != nil {
		respondError(r.Context(), w, s.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

type gcResponse struct {
	BlobsReclaimed int64 `json:"blobs_reclaimed"`
}

func (s *Server) handleRunGC(w http.ResponseWriter, r *http.Request) {
	reclaimed, err := s.maintenance.RunGarbageCollection(r.Context())
	if err != nil {
		respondError(r.Context(), w, s.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, gcResponse{BlobsReclaimed: reclaimed})
}

func (s *Server) handleDedupScan(w http.ResponseWriter, r *http.Request) {
	stats, err := s.maintenance.RunDeduplicationScan(r.Context())
	if err != nil {
		respondError(r.Context(), w, s.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}
