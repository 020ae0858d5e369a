package core

import "time"

// Source identifies where a document originally came from.
type Source string

const (
	SourceEmail Source = "email"
	SourceFile  Source = "file"
	SourceChat  Source = "chat"
)

// DocumentMetadata carries the caller-supplied attributes of a document.
// CreatedAt is an RFC 3339 timestamp; it is converted to a unix epoch at
// storage time so that created-at range filters compare integers.
type DocumentMetadata struct {
	Source    Source `json:"source,omitempty"`
	SourceID  string `json:"source_id,omitempty"`
	URL       string `json:"url,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
	Author    string `json:"author,omitempty"`
	Filename  string `json:"filename,omitempty"`
	Filesize  int64  `json:"filesize,omitempty"`
}

// Document is the logical unit submitted by a caller. It is immutable once
// chunked; re-submitting the same ID replaces all of its chunks.
type Document struct {
	ID       string           `json:"id,omitempty"`
	Text     string           `json:"text"`
	Metadata DocumentMetadata `json:"metadata,omitempty"`
}

// ChunkMetadata is the document metadata copied onto each chunk at
// ingestion time, plus the chunk's position within its document.
type ChunkMetadata struct {
	DocumentMetadata
	DocumentID string `json:"document_id"`
	ChunkIndex int    `json:"chunk_index"`
}

// DocumentChunk is the physical indexed unit. A document's chunks are
// contiguous in ChunkIndex starting at 0.
type DocumentChunk struct {
	ID        string        `json:"id"`
	Text      string        `json:"text"`
	Metadata  ChunkMetadata `json:"metadata"`
	Embedding []float32     `json:"-"`
}

// MetadataFilter is a conjunctive predicate over chunk metadata. Fields
// that are set are ANDed; a zero filter matches everything. StartDate and
// EndDate are inclusive RFC 3339 bounds on CreatedAt.
type MetadataFilter struct {
	DocumentID string `json:"document_id,omitempty"`
	Source     Source `json:"source,omitempty"`
	SourceID   string `json:"source_id,omitempty"`
	Author     string `json:"author,omitempty"`
	URL        string `json:"url,omitempty"`
	StartDate  string `json:"start_date,omitempty"`
	EndDate    string `json:"end_date,omitempty"`
}

// IsZero reports whether no filter field is set.
func (f *MetadataFilter) IsZero() bool {
	if f == nil {
		return true
	}
	return *f == MetadataFilter{}
}

// Query is a single retrieval request.
type Query struct {
	Query  string          `json:"query"`
	Filter *MetadataFilter `json:"filter,omitempty"`
	TopK   int             `json:"top_k,omitempty"`
}

// ChunkWithScore pairs a chunk with its similarity (or rerank) score.
// Higher is more similar.
type ChunkWithScore struct {
	DocumentChunk
	Score float32 `json:"score"`
}

// QueryResult holds the ranked chunks for one query, descending by score.
type QueryResult struct {
	Query   string           `json:"query"`
	Results []ChunkWithScore `json:"results"`
}

// DocumentInfo is a listing entry derived by grouping a document's chunks:
// its chunk count, first-chunk metadata and a bounded text preview.
type DocumentInfo struct {
	DocumentID string           `json:"document_id"`
	ChunkCount int              `json:"chunk_count"`
	Metadata   DocumentMetadata `json:"metadata"`
	Preview    string           `json:"preview,omitempty"`
}

// ParseTime parses an RFC 3339 timestamp as used in metadata and filters.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
