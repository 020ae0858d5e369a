package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"semstore/internal/chunker"
	"semstore/internal/core"
)

// Default configuration for the OpenAI-compatible embeddings client.
const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "text-embedding-3-large"
	DefaultBatchSize     = 64
	DefaultMaxTokens     = 8192
	defaultHTTPTimeout   = 60 * time.Second
)

// OpenAIConfig configures the remote embedding provider.
type OpenAIConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	Dimension int
	BatchSize int
	// MaxTokens is the per-input token limit. Inputs over the limit are
	// rejected with an EmbeddingError; nothing is silently truncated.
	MaxTokens int
	Timeout   time.Duration
}

// OpenAIEmbedder embeds texts through an OpenAI-compatible /embeddings
// endpoint.
type OpenAIEmbedder struct {
	baseURL   string
	apiKey    string
	model     string
	dim       int
	batchSize int
	maxTokens int
	client    *http.Client
}

// NewOpenAIEmbedder creates a remote embedding provider.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, core.Validationf("openai embedder: missing API key")
	}
	if cfg.Dimension <= 0 {
		return nil, core.Validationf("openai embedder: dimension must be positive")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
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
	return &OpenAIEmbedder{
		baseURL:   cfg.BaseURL,
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		dim:       cfg.Dimension,
		batchSize: cfg.BatchSize,
		maxTokens: cfg.MaxTokens,
		client:    &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Dimension returns the configured vector length.
func (e *OpenAIEmbedder) Dimension() int { return e.dim }

// Embed returns one vector per input text. Inputs are sent in batches of
// the configured size; a text's vector does not depend on its batch-mates.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string, role core.EmbedRole) ([][]float32, error) {
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

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	payload := struct {
		Model string   `json:"model"`
		Input []string `json:"input"`
	}{Model: e.model, Input: batch}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, &core.EmbeddingError{Msg: "encode request", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(data))
	if err != nil {
		return nil, &core.EmbeddingError{Msg: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, &core.EmbeddingError{Msg: "embedding service unreachable", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &core.EmbeddingError{Msg: fmt.Sprintf("embeddings request failed: %s: %s", resp.Status, body)}
	}

	var parsed struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &core.EmbeddingError{Msg: "decode response", Err: err}
	}
	if len(parsed.Data) != len(batch) {
		return nil, &core.EmbeddingError{Msg: fmt.Sprintf("got %d embeddings for %d inputs", len(parsed.Data), len(batch))}
	}

	vectors := make([][]float32, len(batch))
	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= len(batch) {
			return nil, &core.EmbeddingError{Msg: fmt.Sprintf("embedding index %d out of range", item.Index)}
		}
		if len(item.Embedding) != e.dim {
			return nil, &core.EmbeddingError{Msg: fmt.Sprintf("embedding dimension %d, expected %d", len(item.Embedding), e.dim)}
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}

// checkLengths rejects any input over the token limit before a request is
// made, so no partial batch is ever sent.
func checkLengths(texts []string, maxTokens int) error {
	for i, t := range texts {
		if n := chunker.TokenCount(t); n > maxTokens {
			return &core.EmbeddingError{Msg: fmt.Sprintf("input %d has %d tokens, exceeds limit %d", i, n, maxTokens)}
		}
	}
	return nil
}
