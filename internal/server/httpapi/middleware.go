package httpapi

import (
	"context"
	"net/http"
)

type contextKey int

const (
	principalKey contextKey = iota
	deviceKey
)

// identity extracts the caller identity headers. Requests without a
// principal are rejected; the device id is optional for read-only and admin
// routes.
func identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principalID := r.Header.Get("X-Principal-ID")
		if principalID == "" {
			respondJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing X-Principal-ID"})
			return
		}
		ctx := context.WithValue(r.Context(), principalKey, principalID)
		if deviceID := r.Header.Get("X-Device-ID"); deviceID != "" {
			ctx = context.WithValue(ctx, deviceKey, deviceID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalFrom(ctx context.Context) string {
	principalID, _ := ctx.Value(principalKey).(string)
	return principalID
}

func deviceFrom(ctx context.Context) string {
	deviceID, _ := ctx.Value(deviceKey).(string)
	return deviceID
}
