package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semstore/internal/core"
)

// fakeOpenAI serves /embeddings with vectors derived from the input
// text length, returning entries in reverse order to exercise index
// realignment.
func fakeOpenAI(t *testing.T, dim int, requests *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embeddings", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		requests.Add(1)

		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		type item struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		data := make([]item, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			vec := make([]float32, dim)
			vec[0] = float32(len(req.Input[i]))
			data = append(data, item{Index: i, Embedding: vec})
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
}

func TestOpenAIEmbedBatchesAndKeepsOrder(t *testing.T) {
	var requests atomic.Int64
	srv := fakeOpenAI(t, 3, &requests)
	defer srv.Close()

	e, err := NewOpenAIEmbedder(OpenAIConfig{
		BaseURL:   srv.URL,
		APIKey:    "test-key",
		Dimension: 3,
		BatchSize: 2,
	})
	require.NoError(t, err)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vectors, err := e.Embed(context.Background(), texts, core.RoleDocument)
	require.NoError(t, err)

	require.Len(t, vectors, len(texts))
	for i, v := range vectors {
		assert.Equal(t, float32(len(texts[i])), v[0], "vector %d out of order", i)
	}
	// Five texts at batch size two means three requests.
	assert.Equal(t, int64(3), requests.Load())
}

func TestOpenAIEmbedRejectsOverlongInput(t *testing.T) {
	var requests atomic.Int64
	srv := fakeOpenAI(t, 3, &requests)
	defer srv.Close()

	e, err := NewOpenAIEmbedder(OpenAIConfig{
		BaseURL:   srv.URL,
		APIKey:    "test-key",
		Dimension: 3,
		MaxTokens: 4,
	})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), []string{"ok", "one two three four five"}, core.RoleDocument)
	var embErr *core.EmbeddingError
	require.ErrorAs(t, err, &embErr)
	assert.Contains(t, embErr.Error(), "exceeds limit")
	// Rejected up front, before any request went out.
	assert.Equal(t, int64(0), requests.Load())
}

func TestOpenAIEmbedServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder(OpenAIConfig{BaseURL: srv.URL, APIKey: "test-key", Dimension: 3})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), []string{"text"}, core.RoleQuery)
	var embErr *core.EmbeddingError
	require.ErrorAs(t, err, &embErr)
	assert.Contains(t, embErr.Error(), "quota exceeded")
}

func TestOpenAIEmbedDimensionMismatch(t *testing.T) {
	var requests atomic.Int64
	srv := fakeOpenAI(t, 3, &requests)
	defer srv.Close()

	e, err := NewOpenAIEmbedder(OpenAIConfig{BaseURL: srv.URL, APIKey: "test-key", Dimension: 8})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), []string{"text"}, core.RoleQuery)
	var embErr *core.EmbeddingError
	require.ErrorAs(t, err, &embErr)
	assert.Contains(t, embErr.Error(), "dimension")
}

func TestOpenAIEmbedderRequiresAPIKey(t *testing.T) {
	_, err := NewOpenAIEmbedder(OpenAIConfig{Dimension: 3})
	var valErr *core.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.True(t, strings.Contains(valErr.Error(), "API key"))
}
