package embed

import (
	"context"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"semstore/internal/core"
)

// DefaultCacheSize bounds the query-embedding cache.
const DefaultCacheSize = 2000

// CachedEmbedder wraps an Embedder with a strict LRU cache over query
// embeddings. Keys are trimmed, case-preserving query texts. Document
// embeddings pass straight through: documents are embedded once at
// ingestion and would only pollute the cache.
//
// The cache is process-local and never persisted. Lookups and inserts are
// individually atomic; two goroutines racing on the same uncached query
// may both compute it, which is acceptable, but a stored vector is always
// a complete one.
type CachedEmbedder struct {
	inner core.Embedder
	cache *lru.Cache[string, []float32]
}

// NewCachedEmbedder wraps inner with a query cache of the given size.
func NewCachedEmbedder(inner core.Embedder, size int) (*CachedEmbedder, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &CachedEmbedder{inner: inner, cache: cache}, nil
}

// Dimension returns the wrapped provider's vector length.
func (c *CachedEmbedder) Dimension() int { return c.inner.Dimension() }

// Embed serves query-role texts from the cache where possible and fills
// misses through the wrapped provider. A cache hit never invokes the
// provider for that text.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string, role core.EmbedRole) ([][]float32, error) {
	if role != core.RoleQuery {
		return c.inner.Embed(ctx, texts, role)
	}

	out := make([][]float32, len(texts))
	var missing []string
	var missingAt []int
	for i, t := range texts {
		key := strings.TrimSpace(t)
		if vec, ok := c.cache.Get(key); ok {
			out[i] = vec
			continue
		}
		missing = append(missing, t)
		missingAt = append(missingAt, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vectors, err := c.inner.Embed(ctx, missing, role)
	if err != nil {
		return nil, err
	}
	for j, vec := range vectors {
		i := missingAt[j]
		out[i] = vec
		c.cache.Add(strings.TrimSpace(texts[i]), vec)
	}
	return out, nil
}

// Len reports the number of cached query embeddings.
func (c *CachedEmbedder) Len() int { return c.cache.Len() }
