package blobstore

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/selfvault/syncengine/internal/common"
)

// MemoryBackend keeps payloads in a map. Used in tests.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string][]byte)}
}

func (b *MemoryBackend) Put(ctx context.Context, key string, r io.Reader) error {
	payload, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.data[key]; !ok {
		b.data[key] = payload
	}
	return nil
}

func (b *MemoryBackend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	b.mu.RLock()
	payload, ok := b.data[key]
	b.mu.RUnlock()
	if !ok {
		return nil, common.ErrorNotFound
	}
	return io.NopCloser(bytes.NewReader(payload)), nil
}

func (b *MemoryBackend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
	return nil
}

// Len reports the number of stored payloads, for test assertions.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}

var _ Backend = (*MemoryBackend)(nil)
