package staging

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/selfvault/syncengine/internal/common"
)

// FilesystemStaging stores chunks under <root>/<transferID>/<index>, written
// via temp file + atomic rename.
type FilesystemStaging struct {
	root string
}

func NewFilesystemStaging(root string) (*FilesystemStaging, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	return &FilesystemStaging{root: root}, nil
}

func (s *FilesystemStaging) chunkPath(transferID string, index int64) string {
	return filepath.Join(s.root, transferID, strconv.FormatInt(index, 10))
}

func (s *FilesystemStaging) WriteChunk(ctx context.Context, transferID string, index int64, data []byte) error {
	dir := filepath.Join(s.root, transferID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create transfer directory: %w", err)
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

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write chunk: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.chunkPath(transferID, index)); err != nil {
		return fmt.Errorf("failed to rename chunk: %w", err)
	}

	success = true
	return nil
}

func (s *FilesystemStaging) Assemble(ctx context.Context, transferID string, count int64) ([]byte, error) {
	var buf bytes.Buffer
	for index := int64(0); index < count; index++ {
		data, err := os.ReadFile(s.chunkPath(transferID, index))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("chunk %d: %w", index, common.ErrorNotFound)
			}
			return nil, fmt.Errorf("failed to read chunk %d: %w", index, err)
		}
		buf.Write(data)
	}
	return buf.Bytes(), nil
}

func (s *FilesystemStaging) Purge(ctx context.Context, transferID string) error {
	if err := os.RemoveAll(filepath.Join(s.root, transferID)); err != nil {
		return fmt.Errorf("failed to purge transfer staging: %w", err)
	}
	return nil
}

var _ Staging = (*FilesystemStaging)(nil)
