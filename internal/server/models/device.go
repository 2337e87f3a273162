// Package models defines server-side data models persisted in the database.
package models

import "time"

// Device is a registered client identity for one principal. Devices are
// soft-deactivated on revocation, never deleted, so their cursor history
// stays auditable.
type Device struct {
	// ID is the server-assigned device identifier (UUID).
	ID string
	// PrincipalID is the owning user.
	PrincipalID string
	// Name is a caller-supplied label ("laptop", "phone").
	Name string
	// LastCursor is the principal-wide sync cursor the device last
	// acknowledged. Zero for a fresh device.
	LastCursor int64

	RegisteredAt time.Time
	LastSeenAt   time.Time

	// Active is false once the device has been revoked.
	Active bool
}
