// Package milvus is the reference Backend adapter. Chunks are stored as
// flat rows in one collection; the document grouping logic stays in the
// generic store layer.
package milvus

import (
	"context"
	"fmt"
	"strconv"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"

	"semstore/internal/core"
	"semstore/internal/logger"
)

// Field names for the chunk collection.
const (
	FieldID         = "id"
	FieldDocumentID = "document_id"
	FieldChunkIndex = "chunk_index"
	FieldText       = "text"
	FieldSource     = "source"
	FieldSourceID   = "source_id"
	FieldAuthor     = "author"
	FieldURL        = "url"
	FieldFilename   = "filename"
	FieldFilesize   = "filesize"
	FieldCreatedAt  = "created_at"
	FieldVector     = "vector"
)

// DefaultCollection is the collection name used when none is configured.
const DefaultCollection = "documents"

// VarChar length limits for the collection schema.
const (
	maxIDLength      = "255"
	maxVarCharLength = "65535"
)

var outputFields = []string{
	FieldID, FieldDocumentID, FieldChunkIndex, FieldText,
	FieldSource, FieldSourceID, FieldAuthor, FieldURL,
	FieldFilename, FieldFilesize, FieldCreatedAt,
}

// Store is a Milvus-backed chunk store.
type Store struct {
	client     *milvusclient.Client
	collection string
	dim        int
}

// New connects to Milvus and ensures the chunk collection exists with the
// configured embedding dimension, creating the schema, HNSW index and
// loading the collection when missing. A dimension mismatch with an
// existing collection is a StoreError.
func New(ctx context.Context, addr, collection string, dim int) (*Store, error) {
	if collection == "" {
		collection = DefaultCollection
	}
	if dim <= 0 {
		return nil, core.Validationf("milvus: embedding dimension must be positive")
	}
	logger.Info("Connecting to Milvus at %s (collection %s, dim %d)", addr, collection, dim)

	c, err := milvusclient.New(ctx, &milvusclient.ClientConfig{Address: addr})
	if err != nil {
		return nil, &core.StoreError{Op: "connect", Err: err}
	}

	s := &Store{client: c, collection: collection, dim: dim}
	if err := s.ensureCollection(ctx); err != nil {
		c.Close(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureCollection(ctx context.Context) error {
	hasOpt := milvusclient.NewHasCollectionOption(s.collection)
	exists, err := s.client.HasCollection(ctx, hasOpt)
	if err != nil {
		return &core.StoreError{Op: "has collection", Err: err}
	}

	if exists {
		descOpt := milvusclient.NewDescribeCollectionOption(s.collection)
		desc, err := s.client.DescribeCollection(ctx, descOpt)
		if err != nil {
			return &core.StoreError{Op: "describe collection", Err: err}
		}
		for _, field := range desc.Schema.Fields {
			if field.Name != FieldVector {
				continue
			}
			if dimStr, ok := field.TypeParams["dim"]; ok {
				existing, _ := strconv.Atoi(dimStr)
				if existing != s.dim {
					return &core.StoreError{
						Op:  "ensure collection",
						Err: fmt.Errorf("collection %s has dimension %d, configured %d", s.collection, existing, s.dim),
					}
				}
			}
		}
	} else {
		schema := &entity.Schema{
			CollectionName: s.collection,
			Description:    "Flat document chunks for semantic retrieval",
			Fields: []*entity.Field{
				{
					Name:       FieldID,
					DataType:   entity.FieldTypeVarChar,
					PrimaryKey: true,
					AutoID:     false,
					TypeParams: map[string]string{"max_length": maxIDLength},
				},
				{
					Name:       FieldDocumentID,
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": maxIDLength},
				},
				{
					Name:     FieldChunkIndex,
					DataType: entity.FieldTypeInt64,
				},
				{
					Name:       FieldText,
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": maxVarCharLength},
				},
				{
					Name:       FieldSource,
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": maxIDLength},
				},
				{
					Name:       FieldSourceID,
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": maxIDLength},
				},
				{
					Name:       FieldAuthor,
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": maxIDLength},
				},
				{
					Name:       FieldURL,
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": maxVarCharLength},
				},
				{
					Name:       FieldFilename,
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": maxVarCharLength},
				},
				{
					Name:     FieldFilesize,
					DataType: entity.FieldTypeInt64,
				},
				{
					Name:     FieldCreatedAt,
					DataType: entity.FieldTypeInt64,
				},
				{
					Name:       FieldVector,
					DataType:   entity.FieldTypeFloatVector,
					TypeParams: map[string]string{"dim": fmt.Sprintf("%d", s.dim)},
				},
			},
		}

		createOpt := milvusclient.NewCreateCollectionOption(s.collection, schema)
		createOpt.WithShardNum(2)
		if err := s.client.CreateCollection(ctx, createOpt); err != nil {
			return &core.StoreError{Op: "create collection", Err: err}
		}

		idx := index.NewHNSWIndex(entity.IP, 16, 200)
		indexOpt := milvusclient.NewCreateIndexOption(s.collection, FieldVector, idx)
		if _, err := s.client.CreateIndex(ctx, indexOpt); err != nil {
			return &core.StoreError{Op: "create index", Err: err}
		}
		logger.Info("Created collection %s with HNSW index", s.collection)
	}

	loadOpt := milvusclient.NewLoadCollectionOption(s.collection)
	if _, err := s.client.LoadCollection(ctx, loadOpt); err != nil {
		return &core.StoreError{Op: "load collection", Err: err}
	}
	return nil
}

// InsertChunks writes a batch of embedded chunks as flat rows.
func (s *Store) InsertChunks(ctx context.Context, chunks []core.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	ids := make([]string, len(chunks))
	docIDs := make([]string, len(chunks))
	chunkIdxs := make([]int64, len(chunks))
	texts := make([]string, len(chunks))
	sources := make([]string, len(chunks))
	sourceIDs := make([]string, len(chunks))
	authors := make([]string, len(chunks))
	urls := make([]string, len(chunks))
	filenames := make([]string, len(chunks))
	filesizes := make([]int64, len(chunks))
	createdAts := make([]int64, len(chunks))
	vectors := make([][]float32, len(chunks))

	for i, c := range chunks {
		if len(c.Embedding) != s.dim {
			return &core.StoreError{
				Op:  "insert",
				Err: fmt.Errorf("chunk %s has dimension %d, index expects %d", c.ID, len(c.Embedding), s.dim),
			}
		}
		ids[i] = c.ID
		docIDs[i] = c.Metadata.DocumentID
		chunkIdxs[i] = int64(c.Metadata.ChunkIndex)
		texts[i] = c.Text
		sources[i] = string(c.Metadata.Source)
		sourceIDs[i] = c.Metadata.SourceID
		authors[i] = c.Metadata.Author
		urls[i] = c.Metadata.URL
		filenames[i] = c.Metadata.Filename
		filesizes[i] = c.Metadata.Filesize
		createdAts[i] = unixOrZero(c.Metadata.CreatedAt)
		vectors[i] = c.Embedding
	}

	cols := []column.Column{
		column.NewColumnVarChar(FieldID, ids),
		column.NewColumnVarChar(FieldDocumentID, docIDs),
		column.NewColumnInt64(FieldChunkIndex, chunkIdxs),
		column.NewColumnVarChar(FieldText, texts),
		column.NewColumnVarChar(FieldSource, sources),
		column.NewColumnVarChar(FieldSourceID, sourceIDs),
		column.NewColumnVarChar(FieldAuthor, authors),
		column.NewColumnVarChar(FieldURL, urls),
		column.NewColumnVarChar(FieldFilename, filenames),
		column.NewColumnInt64(FieldFilesize, filesizes),
		column.NewColumnInt64(FieldCreatedAt, createdAts),
		column.NewColumnFloatVector(FieldVector, s.dim, vectors),
	}

	insertOpt := milvusclient.NewColumnBasedInsertOption(s.collection, cols...)
	if _, err := s.client.Insert(ctx, insertOpt); err != nil {
		return &core.StoreError{Op: "insert", Err: err}
	}
	return nil
}

// SearchChunks performs filtered nearest-neighbor search.
func (s *Store) SearchChunks(ctx context.Context, vector []float32, filter *core.MetadataFilter, topK int) ([]core.ChunkWithScore, error) {
	if topK <= 0 {
		topK = 10
	}
	expr, err := buildFilterExpr(filter)
	if err != nil {
		return nil, err
	}

	searchOpt := milvusclient.NewSearchOption(s.collection, topK, []entity.Vector{entity.FloatVector(vector)}).
		WithANNSField(FieldVector).
		WithOutputFields(outputFields...)
	if expr != "" {
		searchOpt = searchOpt.WithFilter(expr)
	}

	resultSets, err := s.client.Search(ctx, searchOpt)
	if err != nil {
		return nil, &core.StoreError{Op: "search", Err: err}
	}
	if len(resultSets) == 0 {
		return []core.ChunkWithScore{}, nil
	}

	rs := resultSets[0]
	matches := make([]core.ChunkWithScore, 0, rs.ResultCount)
	for i := 0; i < rs.ResultCount; i++ {
		chunk, err := chunkFromColumns(rs.GetColumn, i)
		if err != nil {
			logger.Warn("Skipping malformed search row %d: %v", i, err)
			continue
		}
		score := float32(0)
		if i < len(rs.Scores) {
			score = rs.Scores[i]
		}
		matches = append(matches, core.ChunkWithScore{DocumentChunk: chunk, Score: score})
	}
	return matches, nil
}

// DeleteChunks removes chunks by the winning selector.
func (s *Store) DeleteChunks(ctx context.Context, ids []string, filter *core.MetadataFilter, deleteAll bool) error {
	var expr string
	switch {
	case deleteAll:
		// Milvus delete needs an expression; a non-empty PK matches
		// every row.
		expr = fmt.Sprintf(`%s != ""`, FieldID)
	case len(ids) > 0:
		expr = inExpr(FieldDocumentID, ids)
	default:
		var err error
		expr, err = buildFilterExpr(filter)
		if err != nil {
			return err
		}
		if expr == "" {
			return core.Validationf("delete filter matches nothing")
		}
	}

	deleteOpt := milvusclient.NewDeleteOption(s.collection).WithExpr(expr)
	if _, err := s.client.Delete(ctx, deleteOpt); err != nil {
		return &core.StoreError{Op: "delete", Err: err}
	}
	return nil
}

// ScanChunks pages through filter-matching chunks. Milvus guarantees no
// particular scan order; the store layer sorts before anything becomes
// API-visible.
func (s *Store) ScanChunks(ctx context.Context, filter *core.MetadataFilter, limit, offset int) ([]core.DocumentChunk, error) {
	expr, err := buildFilterExpr(filter)
	if err != nil {
		return nil, err
	}

	queryOpt := milvusclient.NewQueryOption(s.collection).
		WithOutputFields(outputFields...).
		WithLimit(limit).
		WithOffset(offset)
	if expr != "" {
		queryOpt = queryOpt.WithFilter(expr)
	}

	rs, err := s.client.Query(ctx, queryOpt)
	if err != nil {
		return nil, &core.StoreError{Op: "scan", Err: err}
	}

	chunks := make([]core.DocumentChunk, 0, rs.ResultCount)
	for i := 0; i < rs.ResultCount; i++ {
		chunk, err := chunkFromColumns(rs.GetColumn, i)
		if err != nil {
			logger.Warn("Skipping malformed scan row %d: %v", i, err)
			continue
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// Close closes the Milvus connection.
func (s *Store) Close() error {
	return s.client.Close(context.Background())
}

// chunkFromColumns rebuilds a chunk from an output-field row.
func chunkFromColumns(col func(string) column.Column, i int) (core.DocumentChunk, error) {
	getString := func(name string) (string, error) {
		c := col(name)
		if c == nil {
			return "", fmt.Errorf("column %s missing", name)
		}
		return c.GetAsString(i)
	}
	getInt64 := func(name string) (int64, error) {
		c := col(name)
		if c == nil {
			return 0, fmt.Errorf("column %s missing", name)
		}
		return c.GetAsInt64(i)
	}

	id, err := getString(FieldID)
	if err != nil {
		return core.DocumentChunk{}, err
	}
	docID, err := getString(FieldDocumentID)
	if err != nil {
		return core.DocumentChunk{}, err
	}
	chunkIdx, err := getInt64(FieldChunkIndex)
	if err != nil {
		return core.DocumentChunk{}, err
	}
	text, err := getString(FieldText)
	if err != nil {
		return core.DocumentChunk{}, err
	}

	// Remaining metadata fields are optional.
	source, _ := getString(FieldSource)
	sourceID, _ := getString(FieldSourceID)
	author, _ := getString(FieldAuthor)
	url, _ := getString(FieldURL)
	filename, _ := getString(FieldFilename)
	filesize, _ := getInt64(FieldFilesize)
	createdAt, _ := getInt64(FieldCreatedAt)

	return core.DocumentChunk{
		ID:   id,
		Text: text,
		Metadata: core.ChunkMetadata{
			DocumentMetadata: core.DocumentMetadata{
				Source:    core.Source(source),
				SourceID:  sourceID,
				Author:    author,
				URL:       url,
				Filename:  filename,
				Filesize:  filesize,
				CreatedAt: rfc3339OrEmpty(createdAt),
			},
			DocumentID: docID,
			ChunkIndex: int(chunkIdx),
		},
	}, nil
}
