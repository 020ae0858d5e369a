package core

import "context"

// EmbedRole tells a provider whether the texts are documents being indexed
// or a query being searched. Some models encode the two differently.
type EmbedRole string

const (
	RoleDocument EmbedRole = "document"
	RoleQuery    EmbedRole = "query"
)

// Embedder maps texts to fixed-dimension dense vectors, one per input.
// Implementations batch internally; batch boundaries must not affect the
// vector produced for a given text.
type Embedder interface {
	Embed(ctx context.Context, texts []string, role EmbedRole) ([][]float32, error)
	// Dimension returns the vector length, constant for a configuration
	// and equal to the dimension of the backing index.
	Dimension() int
}

// Reranker scores a small candidate set against a query with a model that
// examines both texts jointly. Scores are aligned with the input order.
type Reranker interface {
	Rerank(ctx context.Context, query string, texts []string) ([]float64, error)
}

// DataStore is the uniform contract over a vector backend. It owns the
// mapping between logical documents and physical chunks; callers must not
// assume anything about how the backend lays chunks out.
type DataStore interface {
	// Upsert chunks, embeds and writes each document, replacing any prior
	// chunks stored under the same ID. Per-document atomic-or-failed: the
	// returned IDs are the documents fully written, and the error (if any)
	// aggregates the per-document failures.
	Upsert(ctx context.Context, docs []Document) ([]string, error)

	// Query runs a filtered nearest-neighbor search per query and returns
	// the top-k chunks by descending similarity.
	Query(ctx context.Context, queries []Query) ([]QueryResult, error)

	// Delete honors exactly one selector: deleteAll if true, else ids
	// (document IDs) if non-empty, else filter. Deleting an unknown ID is
	// not an error.
	Delete(ctx context.Context, ids []string, filter *MetadataFilter, deleteAll bool) (bool, error)

	// List scans every chunk matching filter, groups by document and
	// returns the (offset, limit) window over documents ordered by ID,
	// plus the total distinct document count. Cost is proportional to the
	// number of matching chunks, not the requested page size.
	List(ctx context.Context, limit, offset int, filter *MetadataFilter) ([]DocumentInfo, int, error)

	Close() error
}
