// Package quotas persists per-principal storage limits.
package quotas

import (
	"context"

	"github.com/selfvault/syncengine/internal/server/models"
)

type Repository interface {
	// Get returns the principal's quota settings, or common.ErrorNotFound
	// when none have been set (callers fall back to configured defaults).
	Get(ctx context.Context, principalID string) (*models.QuotaRecord, error)
	// Set upserts the principal's quota settings.
	Set(ctx context.Context, record *models.QuotaRecord) error
	// ListPrincipals returns every principal with an explicit quota row,
	// used by run-all eviction.
	ListPrincipals(ctx context.Context) ([]string, error)
}
