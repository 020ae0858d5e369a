package embed

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semstore/internal/core"
)

// countingEmbedder is a deterministic provider that counts how many
// texts it was asked to embed.
type countingEmbedder struct {
	dim      int
	calls    atomic.Int64
	embedded atomic.Int64
}

func (e *countingEmbedder) Dimension() int { return e.dim }

func (e *countingEmbedder) Embed(ctx context.Context, texts []string, role core.EmbedRole) ([][]float32, error) {
	e.calls.Add(1)
	e.embedded.Add(int64(len(texts)))
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec := make([]float32, e.dim)
		vec[0] = float32(len(t))
		out[i] = vec
	}
	return out, nil
}

func TestCacheServesRepeatQueryWithoutRecomputing(t *testing.T) {
	inner := &countingEmbedder{dim: 4}
	cached, err := NewCachedEmbedder(inner, 10)
	require.NoError(t, err)

	first, err := cached.Embed(context.Background(), []string{"what is rust"}, core.RoleQuery)
	require.NoError(t, err)
	second, err := cached.Embed(context.Background(), []string{"what is rust"}, core.RoleQuery)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), inner.calls.Load())
	assert.Equal(t, int64(1), inner.embedded.Load())
	assert.Equal(t, 1, cached.Len())
}

func TestCacheKeyIsTrimmed(t *testing.T) {
	inner := &countingEmbedder{dim: 4}
	cached, err := NewCachedEmbedder(inner, 10)
	require.NoError(t, err)

	_, err = cached.Embed(context.Background(), []string{"hello world"}, core.RoleQuery)
	require.NoError(t, err)
	_, err = cached.Embed(context.Background(), []string{"  hello world\n"}, core.RoleQuery)
	require.NoError(t, err)

	assert.Equal(t, int64(1), inner.calls.Load())
	assert.Equal(t, 1, cached.Len())
}

func TestCacheOnlyEmbedsMisses(t *testing.T) {
	inner := &countingEmbedder{dim: 4}
	cached, err := NewCachedEmbedder(inner, 10)
	require.NoError(t, err)

	_, err = cached.Embed(context.Background(), []string{"a", "b"}, core.RoleQuery)
	require.NoError(t, err)
	vectors, err := cached.Embed(context.Background(), []string{"a", "c", "b"}, core.RoleQuery)
	require.NoError(t, err)

	require.Len(t, vectors, 3)
	for _, v := range vectors {
		assert.Len(t, v, 4)
	}
	// Second call only embedded "c".
	assert.Equal(t, int64(3), inner.embedded.Load())
}

func TestCacheIgnoresDocumentRole(t *testing.T) {
	inner := &countingEmbedder{dim: 4}
	cached, err := NewCachedEmbedder(inner, 10)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = cached.Embed(context.Background(), []string{"same chunk"}, core.RoleDocument)
		require.NoError(t, err)
	}

	assert.Equal(t, int64(3), inner.calls.Load())
	assert.Equal(t, 0, cached.Len())
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	inner := &countingEmbedder{dim: 4}
	cached, err := NewCachedEmbedder(inner, 2)
	require.NoError(t, err)

	ctx := context.Background()
	for _, q := range []string{"q1", "q2", "q3"} {
		_, err = cached.Embed(ctx, []string{q}, core.RoleQuery)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, cached.Len())

	// q1 was evicted and must be recomputed; q3 is still resident.
	_, err = cached.Embed(ctx, []string{"q3"}, core.RoleQuery)
	require.NoError(t, err)
	assert.Equal(t, int64(3), inner.calls.Load())

	_, err = cached.Embed(ctx, []string{"q1"}, core.RoleQuery)
	require.NoError(t, err)
	assert.Equal(t, int64(4), inner.calls.Load())
}

func TestCacheConcurrentAccess(t *testing.T) {
	inner := &countingEmbedder{dim: 4}
	cached, err := NewCachedEmbedder(inner, 100)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				q := fmt.Sprintf("query %d", j%5)
				vectors, err := cached.Embed(context.Background(), []string{q}, core.RoleQuery)
				assert.NoError(t, err)
				assert.Len(t, vectors, 1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 5, cached.Len())
}
