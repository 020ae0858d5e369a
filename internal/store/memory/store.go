// Package memory is a brute-force in-memory Backend with the same
// contract as the Milvus adapter. It backs the store tests and local
// development without a running vector database.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"semstore/internal/core"
)

// Store keeps chunks in insertion order; ties in similarity keep that
// order, which doubles as the stable tie-break the contract requires.
type Store struct {
	mu     sync.RWMutex
	dim    int
	chunks []core.DocumentChunk
}

// New creates an empty store expecting vectors of the given dimension.
func New(dim int) (*Store, error) {
	if dim <= 0 {
		return nil, core.Validationf("memory store: dimension must be positive")
	}
	return &Store{dim: dim}, nil
}

// InsertChunks appends the batch, replacing any chunk with the same ID.
func (s *Store) InsertChunks(ctx context.Context, chunks []core.DocumentChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		if len(c.Embedding) != s.dim {
			return &core.StoreError{
				Op:  "insert",
				Err: fmt.Errorf("chunk %s has dimension %d, store expects %d", c.ID, len(c.Embedding), s.dim),
			}
		}
	}
	for _, c := range chunks {
		replaced := false
		for i := range s.chunks {
			if s.chunks[i].ID == c.ID {
				s.chunks[i] = c
				replaced = true
				break
			}
		}
		if !replaced {
			s.chunks = append(s.chunks, c)
		}
	}
	return nil
}

// SearchChunks scores every matching chunk by cosine similarity.
func (s *Store) SearchChunks(ctx context.Context, vector []float32, filter *core.MetadataFilter, topK int) ([]core.ChunkWithScore, error) {
	if len(vector) != s.dim {
		return nil, &core.StoreError{
			Op:  "search",
			Err: fmt.Errorf("query vector has dimension %d, store expects %d", len(vector), s.dim),
		}
	}
	if topK <= 0 {
		topK = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var scored []core.ChunkWithScore
	for _, c := range s.chunks {
		if !matches(filter, &c.Metadata) {
			continue
		}
		scored = append(scored, core.ChunkWithScore{
			DocumentChunk: withoutEmbedding(c),
			Score:         cosine(vector, c.Embedding),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if topK < len(scored) {
		scored = scored[:topK]
	}
	return scored, nil
}

// DeleteChunks removes chunks by the winning selector. Unknown IDs are
// simply not matched, so re-deleting is idempotent.
func (s *Store) DeleteChunks(ctx context.Context, ids []string, filter *core.MetadataFilter, deleteAll bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if deleteAll {
		s.chunks = nil
		return nil
	}

	keep := s.chunks[:0]
	if len(ids) > 0 {
		idSet := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			idSet[id] = struct{}{}
		}
		for _, c := range s.chunks {
			if _, hit := idSet[c.Metadata.DocumentID]; !hit {
				keep = append(keep, c)
			}
		}
	} else {
		for _, c := range s.chunks {
			if !matches(filter, &c.Metadata) {
				keep = append(keep, c)
			}
		}
	}
	s.chunks = keep
	return nil
}

// ScanChunks returns the (offset, limit) window over matching chunks in
// insertion order.
func (s *Store) ScanChunks(ctx context.Context, filter *core.MetadataFilter, limit, offset int) ([]core.DocumentChunk, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []core.DocumentChunk
	for _, c := range s.chunks {
		if matches(filter, &c.Metadata) {
			matched = append(matched, withoutEmbedding(c))
		}
	}
	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// Len reports the number of stored chunks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

func withoutEmbedding(c core.DocumentChunk) core.DocumentChunk {
	c.Embedding = nil
	return c
}

func matches(f *core.MetadataFilter, m *core.ChunkMetadata) bool {
	if f.IsZero() {
		return true
	}
	if f.DocumentID != "" && f.DocumentID != m.DocumentID {
		return false
	}
	if f.Source != "" && f.Source != m.Source {
		return false
	}
	if f.SourceID != "" && f.SourceID != m.SourceID {
		return false
	}
	if f.Author != "" && f.Author != m.Author {
		return false
	}
	if f.URL != "" && f.URL != m.URL {
		return false
	}
	if f.StartDate != "" || f.EndDate != "" {
		created, err := core.ParseTime(m.CreatedAt)
		if err != nil {
			return false
		}
		if f.StartDate != "" {
			start, err := core.ParseTime(f.StartDate)
			if err != nil || created.Before(start) {
				return false
			}
		}
		if f.EndDate != "" {
			end, err := core.ParseTime(f.EndDate)
			if err != nil || created.After(end) {
				return false
			}
		}
	}
	return true
}

func cosine(a, b []float32) float32 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
