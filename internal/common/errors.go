// Package common defines shared constants and sentinel errors used across
// the sync engine. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Sync errors.
	ErrConflict     = errors.New("unresolved conflict")
	ErrInvalidToken = errors.New("invalid change token")

	// Integrity errors. Never downgraded to warnings: the operation that
	// produced the mismatch fails and the corrupt bytes are discarded.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrIntegrityFailure = errors.New("assembled payload integrity failure")

	// Storage-pressure errors.
	ErrQuotaExceeded = errors.New("quota exceeded")
	ErrTooLarge      = errors.New("payload exceeds size limit")

	// Transfer lifecycle errors.
	ErrTransferExpired   = errors.New("transfer expired")
	ErrTransferCancelled = errors.New("transfer cancelled")
)
