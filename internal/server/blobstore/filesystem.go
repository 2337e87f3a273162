package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/selfvault/syncengine/internal/common"
)

// FilesystemBackend stores payloads under <root>/content/<aa>/<checksum>,
// sharded by the first two checksum characters to keep directories small.
// Writes go through a temp file and an atomic rename.
type FilesystemBackend struct {
	root       string
	contentDir string
}

func NewFilesystemBackend(root string) (*FilesystemBackend, error) {
	contentDir := filepath.Join(root, "content")
	if err := os.MkdirAll(contentDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create content directory: %w", err)
	}
	return &FilesystemBackend{root: root, contentDir: contentDir}, nil
}

func (b *FilesystemBackend) path(key string) string {
	shard := "00"
	if len(key) >= 2 {
		shard = key[:2]
	}
	return filepath.Join(b.contentDir, shard, key)
}

func (b *FilesystemBackend) Put(ctx context.Context, key string, r io.Reader) error {
	destPath := b.path(key)

	// Content-addressed: an existing file already holds these exact bytes.
	if _, err := os.Stat(destPath); err == nil {
		_, err := io.Copy(io.Discard, r)
		return err
	}

	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create shard directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmpFile, r); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write payload: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

func (b *FilesystemBackend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(b.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("failed to open payload: %w", err)
	}
	return f, nil
}

func (b *FilesystemBackend) Delete(ctx context.Context, key string) error {
	err := os.Remove(b.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete payload: %w", err)
	}
	return nil
}

var _ Backend = (*FilesystemBackend)(nil)
