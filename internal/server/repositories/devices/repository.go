// Package devices persists registered client devices and their sync cursors.
package devices

import (
	"context"
	"time"

	"github.com/selfvault/syncengine/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, device *models.Device) (*models.Device, error)
	GetByID(ctx context.Context, id string) (*models.Device, error)
	// UpdateCursor records a successful sync cycle: the acknowledged cursor
	// and the last-seen timestamp.
	UpdateCursor(ctx context.Context, id string, cursor int64, seenAt time.Time) error
	// Deactivate soft-revokes the device. Rows are never deleted.
	Deactivate(ctx context.Context, id string) error
}
