package staging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selfvault/syncengine/internal/common"
)

func implementations(t *testing.T) map[string]Staging {
	t.Helper()
	fs, err := NewFilesystemStaging(t.TempDir())
	require.NoError(t, err)
	return map[string]Staging{
		"filesystem": fs,
		"memory":     NewMemoryStaging(),
	}
}

func TestStaging_AssembleInIndexOrder(t *testing.T) {
	for name, s := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			// Submit out of order; assembly must follow indices.
			require.NoError(t, s.WriteChunk(ctx, "tr-1", 2, []byte("cc")))
			require.NoError(t, s.WriteChunk(ctx, "tr-1", 0, []byte("aa")))
			require.NoError(t, s.WriteChunk(ctx, "tr-1", 1, []byte("bb")))

			payload, err := s.Assemble(ctx, "tr-1", 3)
			require.NoError(t, err)
			assert.Equal(t, []byte("aabbcc"), payload)
		})
	}
}

func TestStaging_MissingChunkFailsAssembly(t *testing.T) {
	for name, s := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, s.WriteChunk(ctx, "tr-2", 0, []byte("aa")))
			require.NoError(t, s.WriteChunk(ctx, "tr-2", 2, []byte("cc")))

			_, err := s.Assemble(ctx, "tr-2", 3)
			assert.ErrorIs(t, err, common.ErrorNotFound)
		})
	}
}

func TestStaging_RewriteIsIdempotent(t *testing.T) {
	for name, s := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, s.WriteChunk(ctx, "tr-3", 0, []byte("aa")))
			require.NoError(t, s.WriteChunk(ctx, "tr-3", 0, []byte("aa")))

			payload, err := s.Assemble(ctx, "tr-3", 1)
			require.NoError(t, err)
			assert.Equal(t, []byte("aa"), payload)
		})
	}
}

func TestStaging_PurgeReleasesChunks(t *testing.T) {
	for name, s := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, s.WriteChunk(ctx, "tr-4", 0, []byte("aa")))
			require.NoError(t, s.Purge(ctx, "tr-4"))

			_, err := s.Assemble(ctx, "tr-4", 1)
			assert.ErrorIs(t, err, common.ErrorNotFound)

			// Purging again is a no-op.
			require.NoError(t, s.Purge(ctx, "tr-4"))
		})
	}
}
