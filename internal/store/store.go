// Package store implements the uniform datastore contract over a vector
// backend that natively holds flat, individually filterable chunks. The
// backend only moves chunks; everything document-shaped (chunking,
// embedding, replace-on-upsert, grouping for listings) lives here and is
// shared by every backend implementation.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"semstore/internal/chunker"
	"semstore/internal/core"
	"semstore/internal/logger"
)

// Defaults for the listing scan and query sizes.
const (
	DefaultTopK      = 3
	DefaultListLimit = 100
	DefaultScanPage  = 1000
	PreviewLength    = 200
)

// Backend is the minimal surface a concrete vector store must provide.
// Implementations store chunks exactly as given and must apply filters
// identically in search, delete and scan.
type Backend interface {
	// InsertChunks writes a batch of embedded chunks.
	InsertChunks(ctx context.Context, chunks []core.DocumentChunk) error

	// SearchChunks returns the topK chunks nearest to vector among those
	// matching filter, descending by similarity. Chunks are returned
	// without embeddings.
	SearchChunks(ctx context.Context, vector []float32, filter *core.MetadataFilter, topK int) ([]core.ChunkWithScore, error)

	// DeleteChunks removes chunks selected by exactly one of: deleteAll,
	// document ids, or filter.
	DeleteChunks(ctx context.Context, ids []string, filter *core.MetadataFilter, deleteAll bool) error

	// ScanChunks pages through chunks matching filter in a stable order.
	// Chunks are returned without embeddings.
	ScanChunks(ctx context.Context, filter *core.MetadataFilter, limit, offset int) ([]core.DocumentChunk, error)

	Close() error
}

// Option tunes a Store.
type Option func(*Store)

// WithChunkSize sets the per-chunk token budget used at ingestion.
func WithChunkSize(tokens int) Option {
	return func(s *Store) {
		if tokens > 0 {
			s.chunkSize = tokens
		}
	}
}

// WithScanPageSize sets the page size used by the List scan.
func WithScanPageSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.scanPage = n
		}
	}
}

// Store implements core.DataStore on top of a Backend.
type Store struct {
	backend   Backend
	embedder  core.Embedder
	chunkSize int
	scanPage  int
}

var _ core.DataStore = (*Store)(nil)

// New builds a Store. The embedder is used with the document role during
// ingestion; queries arrive already wrapped by the query cache when one
// is configured.
func New(backend Backend, embedder core.Embedder, opts ...Option) *Store {
	s := &Store{
		backend:   backend,
		embedder:  embedder,
		chunkSize: chunker.DefaultChunkSize,
		scanPage:  DefaultScanPage,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upsert ingests each document independently: assign an ID when absent,
// chunk, embed, drop any chunks previously stored under that ID, write
// the new chunks as one batch. A failing document never aborts its
// siblings; the returned IDs are the fully written documents and the
// error joins the per-document failures.
//
// Concurrent upserts or deletes for the same document ID must be
// serialized by the caller; different IDs are independent.
func (s *Store) Upsert(ctx context.Context, docs []core.Document) ([]string, error) {
	ids := make([]string, 0, len(docs))
	var errs []error
	for _, doc := range docs {
		id, err := s.upsertOne(ctx, doc)
		if err != nil {
			errs = append(errs, fmt.Errorf("document %q: %w", id, err))
			continue
		}
		ids = append(ids, id)
	}
	return ids, errors.Join(errs...)
}

func (s *Store) upsertOne(ctx context.Context, doc core.Document) (string, error) {
	id := doc.ID
	if id == "" {
		id = uuid.NewString()
	}
	if err := validateMetadata(doc.Metadata); err != nil {
		return id, err
	}

	texts := chunker.Split(doc.Text, s.chunkSize)
	if len(texts) == 0 {
		return id, core.Validationf("empty document text")
	}

	vectors, err := s.embedder.Embed(ctx, texts, core.RoleDocument)
	if err != nil {
		return id, err
	}
	if len(vectors) != len(texts) {
		return id, &core.EmbeddingError{Msg: fmt.Sprintf("got %d vectors for %d chunks", len(vectors), len(texts))}
	}

	chunks := make([]core.DocumentChunk, len(texts))
	for i, text := range texts {
		chunks[i] = core.DocumentChunk{
			ID:   fmt.Sprintf("%s_%d", id, i),
			Text: text,
			Metadata: core.ChunkMetadata{
				DocumentMetadata: doc.Metadata,
				DocumentID:       id,
				ChunkIndex:       i,
			},
			Embedding: vectors[i],
		}
	}

	// Replace, never merge: stale chunks from a previous version of this
	// document must not survive the update.
	if err := s.backend.DeleteChunks(ctx, []string{id}, nil, false); err != nil {
		return id, err
	}
	if err := s.backend.InsertChunks(ctx, chunks); err != nil {
		return id, err
	}
	logger.Debug("upserted document %s with %d chunks", id, len(chunks))
	return id, nil
}

// Query embeds each query and runs a filtered nearest-neighbor search.
// Results are descending by score; ties keep the backend's rank order.
func (s *Store) Query(ctx context.Context, queries []core.Query) ([]core.QueryResult, error) {
	results := make([]core.QueryResult, 0, len(queries))
	for _, q := range queries {
		r, err := s.queryOne(ctx, q)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}

func (s *Store) queryOne(ctx context.Context, q core.Query) (core.QueryResult, error) {
	if q.Query == "" {
		return core.QueryResult{}, core.Validationf("empty query text")
	}
	if err := validateFilter(q.Filter); err != nil {
		return core.QueryResult{}, err
	}
	topK := q.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	vectors, err := s.embedder.Embed(ctx, []string{q.Query}, core.RoleQuery)
	if err != nil {
		return core.QueryResult{}, err
	}
	matches, err := s.backend.SearchChunks(ctx, vectors[0], q.Filter, topK)
	if err != nil {
		return core.QueryResult{}, err
	}
	return core.QueryResult{Query: q.Query, Results: matches}, nil
}

// Delete honors exactly one selector, in priority order: deleteAll, then
// ids, then filter. Supplying none is a ValidationError; deleting an
// unknown ID succeeds.
func (s *Store) Delete(ctx context.Context, ids []string, filter *core.MetadataFilter, deleteAll bool) (bool, error) {
	switch {
	case deleteAll:
		ids, filter = nil, nil
	case len(ids) > 0:
		filter = nil
	case !filter.IsZero():
		if err := validateFilter(filter); err != nil {
			return false, err
		}
	default:
		return false, core.Validationf("one of ids, filter, or delete_all is required")
	}
	if err := s.backend.DeleteChunks(ctx, ids, filter, deleteAll); err != nil {
		return false, err
	}
	return true, nil
}

// docGroup accumulates one document's chunks during the List scan.
type docGroup struct {
	count     int
	metadata  core.DocumentMetadata
	firstIdx  int
	firstText string
}

// List scans every chunk matching filter in pages and groups them by
// document. This is a full scan over the filtered set, O(matching
// chunks) regardless of the requested page size: large collections mean
// proportionally slower listings. The window is applied over documents
// sorted by ID so that backend scan order never leaks into the API.
func (s *Store) List(ctx context.Context, limit, offset int, filter *core.MetadataFilter) ([]core.DocumentInfo, int, error) {
	if err := validateFilter(filter); err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	groups := make(map[string]*docGroup)
	for scanned := 0; ; scanned += s.scanPage {
		page, err := s.backend.ScanChunks(ctx, filter, s.scanPage, scanned)
		if err != nil {
			return nil, 0, err
		}
		for _, c := range page {
			docID := c.Metadata.DocumentID
			if docID == "" {
				continue
			}
			g, ok := groups[docID]
			if !ok {
				g = &docGroup{metadata: c.Metadata.DocumentMetadata, firstIdx: c.Metadata.ChunkIndex, firstText: c.Text}
				groups[docID] = g
			}
			g.count++
			if c.Metadata.ChunkIndex < g.firstIdx {
				g.firstIdx = c.Metadata.ChunkIndex
				g.firstText = c.Text
			}
		}
		if len(page) < s.scanPage {
			break
		}
	}

	docIDs := make([]string, 0, len(groups))
	for id := range groups {
		docIDs = append(docIDs, id)
	}
	sort.Strings(docIDs)

	total := len(docIDs)
	if offset >= total {
		return []core.DocumentInfo{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}

	infos := make([]core.DocumentInfo, 0, end-offset)
	for _, id := range docIDs[offset:end] {
		g := groups[id]
		infos = append(infos, core.DocumentInfo{
			DocumentID: id,
			ChunkCount: g.count,
			Metadata:   g.metadata,
			Preview:    preview(g.firstText),
		})
	}
	return infos, total, nil
}

// Close releases the backend connection.
func (s *Store) Close() error { return s.backend.Close() }

func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= PreviewLength {
		return text
	}
	return string(runes[:PreviewLength])
}

func validateMetadata(m core.DocumentMetadata) error {
	if m.CreatedAt != "" {
		if _, err := core.ParseTime(m.CreatedAt); err != nil {
			return core.Validationf("invalid created_at %q: %v", m.CreatedAt, err)
		}
	}
	return nil
}

// validateFilter fails fast on malformed date bounds so no backend call
// happens with a filter that cannot be compiled.
func validateFilter(f *core.MetadataFilter) error {
	if f.IsZero() {
		return nil
	}
	if f.StartDate != "" {
		if _, err := core.ParseTime(f.StartDate); err != nil {
			return core.Validationf("invalid start_date %q: %v", f.StartDate, err)
		}
	}
	if f.EndDate != "" {
		if _, err := core.ParseTime(f.EndDate); err != nil {
			return core.Validationf("invalid end_date %q: %v", f.EndDate, err)
		}
	}
	return nil
}
