// Package blobstore implements content-addressable storage of compressed
// payloads: a metadata repository for reference counts plus a pluggable
// byte backend (filesystem, S3-compatible, or in-memory).
package blobstore

import (
	"context"
	"io"
)

// Backend stores opaque compressed payloads keyed by checksum. Put is
// idempotent: writing a key that already exists is a no-op success, which is
// what makes deduplicated writes safe to retry.
type Backend interface {
	Put(ctx context.Context, key string, r io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}
