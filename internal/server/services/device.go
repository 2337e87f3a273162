// Package services contains server-side business logic for the sync engine:
// device lifecycle, sync cycles, version history, chunked transfers, quotas
// and storage maintenance.
package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/selfvault/syncengine/internal/common"
	"github.com/selfvault/syncengine/internal/server/models"
	"github.com/selfvault/syncengine/internal/server/repositories/repomanager"
)

// DeviceService registers and revokes client devices.
type DeviceService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
}

func NewDeviceService(db *sql.DB, m repomanager.RepositoryManager) *DeviceService {
	return &DeviceService{db: db, repomanager: m}
}

// Register creates a device for the principal and returns it with its
// server-assigned id. A fresh device starts at cursor zero, so its first
// sync cycle sees the full server state.
func (s *DeviceService) Register(ctx context.Context, principalID, name string) (*models.Device, error) {
	now := time.Now().UTC()
	device := &models.Device{
		ID:           uuid.NewString(),
		PrincipalID:  principalID,
		Name:         name,
		RegisteredAt: now,
		LastSeenAt:   now,
		Active:       true,
	}

	created, err := s.repomanager.Devices(s.db).Create(ctx, device)
	if err != nil {
		return nil, fmt.Errorf("error registering device: %w", err)
	}
	return created, nil
}

// Revoke deactivates a device. Subsequent sync calls from it fail with
// ErrorUnauthorized; the row and its cursor history stay.
func (s *DeviceService) Revoke(ctx context.Context, principalID, deviceID string) error {
	if _, err := s.authorize(ctx, principalID, deviceID); err != nil {
		return err
	}
	if err := s.repomanager.Devices(s.db).Deactivate(ctx, deviceID); err != nil {
		return fmt.Errorf("error revoking device: %w", err)
	}
	return nil
}

// Get returns a device after verifying it belongs to the principal.
func (s *DeviceService) Get(ctx context.Context, principalID, deviceID string) (*models.Device, error) {
	return s.authorize(ctx, principalID, deviceID)
}

func (s *DeviceService) authorize(ctx context.Context, principalID, deviceID string) (*models.Device, error) {
	device, err := s.repomanager.Devices(s.db).GetByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if device.PrincipalID != principalID {
		return nil, common.ErrorUnauthorized
	}
	return device, nil
}

// authorizeActive additionally rejects revoked devices.
func (s *DeviceService) authorizeActive(ctx context.Context, principalID, deviceID string) (*models.Device, error) {
	device, err := s.authorize(ctx, principalID, deviceID)
	if err != nil {
		return nil, err
	}
	if !device.Active {
		return nil, fmt.Errorf("device %s is revoked: %w", deviceID, common.ErrorUnauthorized)
	}
	return device, nil
}
