package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"semstore/internal/core"
)

// DefaultBGEDimension is the vector size of BGE-M3 dense embeddings.
const DefaultBGEDimension = 1024

// BGEConfig configures the local BGE-M3 provider. The model runs in a
// text-embeddings-inference style sidecar reached over HTTP; the process
// loads it once and every request shares it.
type BGEConfig struct {
	URL       string
	Dimension int
	BatchSize int
	MaxTokens int
	Timeout   time.Duration
}

// BGEEmbedder embeds texts with a local BGE-M3 encoder service.
type BGEEmbedder struct {
	url       string
	dim       int
	batchSize int
	maxTokens int
	client    *http.Client
}

// NewBGEEmbedder creates a local embedding provider.
func NewBGEEmbedder(cfg BGEConfig) (*BGEEmbedder, error) {
	if cfg.URL == "" {
		return nil, core.Validationf("bge embedder: missing service URL")
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultBGEDimension
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	return &BGEEmbedder{
		url:       cfg.URL,
		dim:       cfg.Dimension,
		batchSize: cfg.BatchSize,
		maxTokens: cfg.MaxTokens,
		client:    &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Dimension returns the configured vector length.
func (e *BGEEmbedder) Dimension() int { return e.dim }

// Embed returns one L2-normalized vector per input text.
func (e *BGEEmbedder) Embed(ctx context.Context, texts []string, role core.EmbedRole) ([][]float32, error) {
	if err := checkLengths(texts, e.maxTokens); err != nil {
		return nil, err
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (e *BGEEmbedder) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	// Truncation stays off: overlong input was already rejected by the
	// shared token check, and the service must never clip silently.
	payload := struct {
		Inputs    []string `json:"inputs"`
		Normalize bool     `json:"normalize"`
		Truncate  bool     `json:"truncate"`
	}{Inputs: batch, Normalize: true, Truncate: false}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, &core.EmbeddingError{Msg: "encode request", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url+"/embed", bytes.NewReader(data))
	if err != nil {
		return nil, &core.EmbeddingError{Msg: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, &core.EmbeddingError{Msg: "embedding service unreachable", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &core.EmbeddingError{Msg: fmt.Sprintf("embed request failed: %s: %s", resp.Status, body)}
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, &core.EmbeddingError{Msg: "decode response", Err: err}
	}
	if len(vectors) != len(batch) {
		return nil, &core.EmbeddingError{Msg: fmt.Sprintf("got %d embeddings for %d inputs", len(vectors), len(batch))}
	}
	for i, v := range vectors {
		if len(v) != e.dim {
			return nil, &core.EmbeddingError{Msg: fmt.Sprintf("embedding %d has dimension %d, expected %d", i, len(v), e.dim)}
		}
	}
	return vectors, nil
}
