package store_test

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semstore/internal/core"
	"semstore/internal/store"
	"semstore/internal/store/memory"
)

const testDim = 32

// hashEmbedder maps text to a normalized bag-of-words vector, so equal
// texts embed identically and unrelated texts score near zero.
type hashEmbedder struct{}

func (hashEmbedder) Dimension() int { return testDim }

func (hashEmbedder) Embed(ctx context.Context, texts []string, role core.EmbedRole) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec := make([]float32, testDim)
		for _, w := range strings.Fields(strings.ToLower(t)) {
			h := fnv.New32a()
			h.Write([]byte(w))
			vec[h.Sum32()%testDim]++
		}
		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		if norm > 0 {
			scale := float32(1 / math.Sqrt(norm))
			for j := range vec {
				vec[j] *= scale
			}
		}
		out[i] = vec
	}
	return out, nil
}

func newTestStore(t *testing.T, opts ...store.Option) (*store.Store, *memory.Store) {
	t.Helper()
	backend, err := memory.New(testDim)
	require.NoError(t, err)
	return store.New(backend, hashEmbedder{}, opts...), backend
}

func ingest(t *testing.T, s *store.Store, id, author string, source core.Source, text string) {
	t.Helper()
	_, err := s.Upsert(context.Background(), []core.Document{{
		ID:       id,
		Text:     text,
		Metadata: core.DocumentMetadata{Author: author, Source: source},
	}})
	require.NoError(t, err)
}

func TestUpsertAssignsIDWhenMissing(t *testing.T) {
	s, backend := newTestStore(t)

	ids, err := s.Upsert(context.Background(), []core.Document{
		{Text: "first document body"},
		{Text: "second document body"},
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.NotEmpty(t, ids[0])
	assert.NotEqual(t, ids[0], ids[1])
	assert.Equal(t, 2, backend.Len())
}

func TestUpsertReplacesAllPriorChunks(t *testing.T) {
	s, backend := newTestStore(t, store.WithChunkSize(3))
	ctx := context.Background()

	ingest(t, s, "doc", "", core.SourceFile, "alpha beta gamma. delta epsilon zeta. eta theta iota.")
	require.Equal(t, 3, backend.Len())

	ingest(t, s, "doc", "", core.SourceFile, "kappa lambda.")
	assert.Equal(t, 1, backend.Len(), "stale chunks must not survive a re-upsert")

	docs, total, err := s.List(ctx, 10, 0, nil)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, 1, docs[0].ChunkCount)

	results, err := s.Query(ctx, []core.Query{{Query: "alpha beta gamma", TopK: 10}})
	require.NoError(t, err)
	for _, r := range results[0].Results {
		assert.NotContains(t, r.Text, "alpha")
	}
}

func TestUpsertFailingDocumentDoesNotAbortSiblings(t *testing.T) {
	s, backend := newTestStore(t)

	ids, err := s.Upsert(context.Background(), []core.Document{
		{ID: "good", Text: "a perfectly fine document"},
		{ID: "bad", Text: "   "},
	})
	var valErr *core.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, []string{"good"}, ids)
	assert.Equal(t, 1, backend.Len())
}

func TestUpsertRejectsBadCreatedAt(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Upsert(context.Background(), []core.Document{{
		Text:     "some text",
		Metadata: core.DocumentMetadata{CreatedAt: "yesterday"},
	}})
	var valErr *core.ValidationError
	require.ErrorAs(t, err, &valErr)
}

func TestQueryRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	ingest(t, s, "rust", "", core.SourceFile, "rust is a systems programming language")
	ingest(t, s, "go", "", core.SourceFile, "go makes concurrent servers simple")
	ingest(t, s, "cooking", "", core.SourceFile, "simmer the onions until translucent")

	results, err := s.Query(ctx, []core.Query{{Query: "rust is a systems programming language", TopK: 3}})
	require.NoError(t, err)

	matches := results[0].Results
	require.NotEmpty(t, matches)
	assert.Equal(t, "rust", matches[0].Metadata.DocumentID)
	assert.InDelta(t, 1.0, float64(matches[0].Score), 1e-5)
	assert.Nil(t, matches[0].Embedding)
}

func TestQueryEmptyTextRejected(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Query(context.Background(), []core.Query{{Query: ""}})
	var valErr *core.ValidationError
	require.ErrorAs(t, err, &valErr)
}

func TestQueryDefaultTopK(t *testing.T) {
	s, _ := newTestStore(t)
	for i := 0; i < 5; i++ {
		ingest(t, s, fmt.Sprintf("d%d", i), "", core.SourceFile, fmt.Sprintf("shared topic variant number %d", i))
	}

	results, err := s.Query(context.Background(), []core.Query{{Query: "shared topic"}})
	require.NoError(t, err)
	assert.Len(t, results[0].Results, store.DefaultTopK)
}

func TestQueryMetadataFilters(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	ingest(t, s, "d1", "Alice", core.SourceFile, "report about the quarterly numbers")
	ingest(t, s, "d2", "Bob", core.SourceFile, "report about the hiring plan")
	ingest(t, s, "d3", "Alice", core.SourceEmail, "report about the offsite")
	ingest(t, s, "d4", "Charlie", core.SourceFile, "report about the roadmap")

	count := func(f *core.MetadataFilter) int {
		results, err := s.Query(ctx, []core.Query{{Query: "report", Filter: f, TopK: 10}})
		require.NoError(t, err)
		return len(results[0].Results)
	}

	assert.Equal(t, 2, count(&core.MetadataFilter{Author: "Alice"}))
	assert.Equal(t, 3, count(&core.MetadataFilter{Source: core.SourceFile}))
	assert.Equal(t, 1, count(&core.MetadataFilter{Author: "Alice", Source: core.SourceFile}))
	assert.Equal(t, 4, count(nil))
}

func TestQueryDateRangeFilter(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for i, created := range []string{"2024-01-10T00:00:00Z", "2024-03-10T00:00:00Z", "2024-06-10T00:00:00Z"} {
		_, err := s.Upsert(ctx, []core.Document{{
			ID:       fmt.Sprintf("d%d", i),
			Text:     "dated report entry",
			Metadata: core.DocumentMetadata{CreatedAt: created},
		}})
		require.NoError(t, err)
	}

	results, err := s.Query(ctx, []core.Query{{
		Query:  "dated report",
		Filter: &core.MetadataFilter{StartDate: "2024-02-01T00:00:00Z", EndDate: "2024-04-01T00:00:00Z"},
		TopK:   10,
	}})
	require.NoError(t, err)
	require.Len(t, results[0].Results, 1)
	assert.Equal(t, "d1", results[0].Results[0].Metadata.DocumentID)

	_, err = s.Query(ctx, []core.Query{{
		Query:  "dated report",
		Filter: &core.MetadataFilter{StartDate: "not a date"},
	}})
	var valErr *core.ValidationError
	require.ErrorAs(t, err, &valErr)
}

func TestListGroupsChunksAndSortsByID(t *testing.T) {
	s, _ := newTestStore(t, store.WithChunkSize(3))
	ctx := context.Background()

	ingest(t, s, "c", "", core.SourceFile, "one two three. four five six.")
	ingest(t, s, "a", "", core.SourceFile, "seven eight nine.")
	ingest(t, s, "b", "", core.SourceFile, "ten eleven twelve. thirteen fourteen fifteen. sixteen seventeen eighteen.")

	docs, total, err := s.List(ctx, 10, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, docs, 3)

	assert.Equal(t, "a", docs[0].DocumentID)
	assert.Equal(t, "b", docs[1].DocumentID)
	assert.Equal(t, "c", docs[2].DocumentID)
	assert.Equal(t, 1, docs[0].ChunkCount)
	assert.Equal(t, 3, docs[1].ChunkCount)
	assert.Equal(t, 2, docs[2].ChunkCount)
	assert.Equal(t, "ten eleven twelve.", docs[1].Preview)
}

func TestListPagination(t *testing.T) {
	s, _ := newTestStore(t, store.WithScanPageSize(2))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ingest(t, s, fmt.Sprintf("doc-%d", i), "", core.SourceFile, fmt.Sprintf("body of document %d", i))
	}

	baseline, total, err := s.List(ctx, 100, 0, nil)
	require.NoError(t, err)
	require.Equal(t, 5, total)
	require.Len(t, baseline, 5)

	page, pageTotal, err := s.List(ctx, 2, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, pageTotal, "total reflects the whole filtered set, not the page")
	require.Len(t, page, 2)
	assert.Equal(t, baseline[1].DocumentID, page[0].DocumentID)
	assert.Equal(t, baseline[2].DocumentID, page[1].DocumentID)

	empty, emptyTotal, err := s.List(ctx, 10, 50, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, emptyTotal)
	assert.Empty(t, empty)
}

func TestListFilter(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	ingest(t, s, "d1", "Alice", core.SourceFile, "first body")
	ingest(t, s, "d2", "Bob", core.SourceFile, "second body")
	ingest(t, s, "d3", "Alice", core.SourceEmail, "third body")

	docs, total, err := s.List(ctx, 10, 0, &core.MetadataFilter{Author: "Alice"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, docs, 2)
	for _, d := range docs {
		assert.Equal(t, "Alice", d.Metadata.Author)
	}
}

func TestListPreservesPassthroughMetadata(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	meta := core.DocumentMetadata{
		Source:    core.SourceFile,
		SourceID:  "src-1",
		Author:    "Alice",
		URL:       "https://example.com/report",
		Filename:  "report.txt",
		Filesize:  4096,
		CreatedAt: "2024-01-02T15:04:05Z",
	}
	_, err := s.Upsert(ctx, []core.Document{{ID: "doc", Text: "report body", Metadata: meta}})
	require.NoError(t, err)

	docs, _, err := s.List(ctx, 10, 0, nil)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, meta, docs[0].Metadata)
}

func TestListPreviewIsBounded(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	words := make([]string, 60)
	for i := range words {
		words[i] = fmt.Sprintf("word%03d", i)
	}
	text := strings.Join(words, " ")
	ingest(t, s, "long", "", core.SourceFile, text)

	docs, _, err := s.List(ctx, 10, 0, nil)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Len(t, []rune(docs[0].Preview), store.PreviewLength)
	assert.True(t, strings.HasPrefix(text, docs[0].Preview))
}

func TestDeleteByIDIsIdempotent(t *testing.T) {
	s, backend := newTestStore(t)
	ctx := context.Background()

	ingest(t, s, "keep", "", core.SourceFile, "kept document")
	ingest(t, s, "drop", "", core.SourceFile, "dropped document")

	for i := 0; i < 2; i++ {
		ok, err := s.Delete(ctx, []string{"drop"}, nil, false)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, 1, backend.Len())

	_, total, err := s.List(ctx, 10, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestDeleteByFilter(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	ingest(t, s, "d1", "Alice", core.SourceFile, "first body")
	ingest(t, s, "d2", "Bob", core.SourceFile, "second body")

	ok, err := s.Delete(ctx, nil, &core.MetadataFilter{Author: "Alice"}, false)
	require.NoError(t, err)
	assert.True(t, ok)

	docs, total, err := s.List(ctx, 10, 0, nil)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, "d2", docs[0].DocumentID)
}

func TestDeleteSelectorPriority(t *testing.T) {
	t.Run("delete_all_wins_over_ids", func(t *testing.T) {
		s, backend := newTestStore(t)
		ingest(t, s, "d1", "", core.SourceFile, "first body")
		ingest(t, s, "d2", "", core.SourceFile, "second body")

		ok, err := s.Delete(context.Background(), []string{"d1"}, nil, true)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 0, backend.Len())
	})

	t.Run("ids_win_over_filter", func(t *testing.T) {
		s, _ := newTestStore(t)
		ctx := context.Background()
		ingest(t, s, "d1", "Alice", core.SourceFile, "first body")
		ingest(t, s, "d2", "Bob", core.SourceFile, "second body")

		// The filter names Bob but the ids selector takes priority.
		ok, err := s.Delete(ctx, []string{"d1"}, &core.MetadataFilter{Author: "Bob"}, false)
		require.NoError(t, err)
		assert.True(t, ok)

		docs, total, err := s.List(ctx, 10, 0, nil)
		require.NoError(t, err)
		require.Equal(t, 1, total)
		assert.Equal(t, "d2", docs[0].DocumentID)
	})
}

func TestDeleteWithoutSelectorRejected(t *testing.T) {
	s, backend := newTestStore(t)
	ingest(t, s, "d1", "", core.SourceFile, "a body")

	ok, err := s.Delete(context.Background(), nil, nil, false)
	var valErr *core.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.False(t, ok)
	assert.Equal(t, 1, backend.Len())
}
