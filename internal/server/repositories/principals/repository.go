// Package principals persists the per-principal monotonic sync cursor that
// orders all accepted writes for change detection.
package principals

import "context"

type Repository interface {
	// IncrementCursor bumps the principal's cursor and returns the new
	// value, creating the row on first use.
	IncrementCursor(ctx context.Context, principalID string) (int64, error)
	// CurrentCursor returns the latest cursor, zero for an unknown principal.
	CurrentCursor(ctx context.Context, principalID string) (int64, error)
}
