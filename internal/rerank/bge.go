// Package rerank scores query/passage pairs with a cross-encoder model.
// The model is served by a text-embeddings-inference style sidecar and
// shared read-only by every request; when reranking is disabled the
// orchestrator simply carries no Reranker.
package rerank

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

const defaultTimeout = 30 * time.Second

// BGEConfig configures the BGE reranker client.
type BGEConfig struct {
	URL     string
	Timeout time.Duration
}

// BGEReranker calls a /rerank endpoint serving a BGE cross-encoder
// (bge-reranker-v2-m3 by default on the service side).
type BGEReranker struct {
	url    string
	client *http.Client
}

// NewBGEReranker creates a reranker client.
func NewBGEReranker(cfg BGEConfig) (*BGEReranker, error) {
	if cfg.URL == "" {
		return nil, core.Validationf("reranker: missing service URL")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &BGEReranker{
		url:    cfg.URL,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Rerank returns one normalized relevance score per text, aligned with
// the input order. Any failure is a RerankError; callers degrade to the
// unreranked candidate set rather than failing the request.
func (r *BGEReranker) Rerank(ctx context.Context, query string, texts []string) ([]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	payload := struct {
		Query string   `json:"query"`
		Texts []string `json:"texts"`
	}{Query: query, Texts: texts}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, &core.RerankError{Msg: "encode request", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url+"/rerank", bytes.NewReader(data))
	if err != nil {
		return nil, &core.RerankError{Msg: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &core.RerankError{Msg: "rerank service unreachable", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &core.RerankError{Msg: fmt.Sprintf("rerank request failed: %s: %s", resp.Status, body)}
	}

	// The service returns entries ordered by score; Index maps each one
	// back to its input position.
	var parsed []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &core.RerankError{Msg: "decode response", Err: err}
	}
	if len(parsed) != len(texts) {
		return nil, &core.RerankError{Msg: fmt.Sprintf("got %d scores for %d texts", len(parsed), len(texts))}
	}

	scores := make([]float64, len(texts))
	seen := make([]bool, len(texts))
	for _, item := range parsed {
		if item.Index < 0 || item.Index >= len(texts) || seen[item.Index] {
			return nil, &core.RerankError{Msg: fmt.Sprintf("bad result index %d", item.Index)}
		}
		scores[item.Index] = item.Score
		seen[item.Index] = true
	}
	return scores, nil
}
