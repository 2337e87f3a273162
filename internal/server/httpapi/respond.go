package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/selfvault/syncengine/internal/common"
	"github.com/selfvault/syncengine/internal/logging"
)

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

// respondError maps sentinel errors onto HTTP statuses. Anything unmatched
// is a 500 with a generic body so internals do not leak.
func respondError(ctx context.Context, w http.ResponseWriter, logger logging.Logger, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	switch {
	case errors.Is(err, common.ErrorUnauthorized), errors.Is(err, common.ErrInvalidToken):
		status, message = http.StatusUnauthorized, err.Error()
	case errors.Is(err, common.ErrorNotFound):
		status, message = http.StatusNotFound, "not found"
	case errors.Is(err, common.ErrChecksumMismatch), errors.Is(err, common.ErrIntegrityFailure):
		status, message = http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, common.ErrQuotaExceeded):
		status, message = http.StatusInsufficientStorage, err.Error()
	case errors.Is(err, common.ErrTooLarge):
		status, message = http.StatusRequestEntityTooLarge, err.Error()
	case errors.Is(err, common.ErrConflict):
		status, message = http.StatusConflict, err.Error()
	case errors.Is(err, common.ErrTransferExpired), errors.Is(err, common.ErrTransferCancelled):
		status, message = http.StatusGone, err.Error()
	default:
		logger.Error(ctx, "request failed", "error", err)
	}

	respondJSON(w, status, errorResponse{Error: message})
}
