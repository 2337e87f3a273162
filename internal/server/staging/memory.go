package staging

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/selfvault/syncengine/internal/common"
)

// MemoryStaging keeps chunks in maps. Used in tests.
type MemoryStaging struct {
	mu     sync.RWMutex
	chunks map[string]map[int64][]byte
}

func NewMemoryStaging() *MemoryStaging {
	return &MemoryStaging{chunks: make(map[string]map[int64][]byte)}
}

func (s *MemoryStaging) WriteChunk(ctx context.Context, transferID string, index int64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chunks[transferID] == nil {
		s.chunks[transferID] = make(map[int64][]byte)
	}
	clone := make([]byte, len(data))
	copy(clone, data)
	s.chunks[transferID][index] = clone
	return nil
}

func (s *MemoryStaging) Assemble(ctx context.Context, transferID string, count int64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var buf bytes.Buffer
	for index := int64(0); index < count; index++ {
		data, ok := s.chunks[transferID][index]
		if !ok {
			return nil, fmt.Errorf("chunk %d: %w", index, common.ErrorNotFound)
		}
		buf.Write(data)
	}
	return buf.Bytes(), nil
}

func (s *MemoryStaging) Purge(ctx context.Context, transferID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chunks, transferID)
	return nil
}

// Staged reports how many chunks a transfer currently holds, for tests.
func (s *MemoryStaging) Staged(transferID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks[transferID])
}

var _ Staging = (*MemoryStaging)(nil)
