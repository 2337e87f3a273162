// Package logging defines the structured-logging interface the engine's
// components depend on, decoupled from the concrete backend.
package logging

import "context"

// Logger is a leveled, context-aware structured logger. Variadic args are
// alternating key-value pairs:
//
//	log.Info(ctx, "http server starting", "addr", addr)
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger carrying the given key-value pairs on
	// every record; services use it to tag their subsystem.
	With(args ...any) Logger
}
