// Package retrieval composes the two-stage pipeline: approximate search
// over the datastore followed by an optional cross-encoder rerank pass.
package retrieval

import (
	"context"
	"sort"
	"sync"

	"semstore/internal/core"
	"semstore/internal/logger"
)

// Defaults for the rerank stage, overridable via configuration.
const (
	DefaultRerankK = 5
	DefaultFinalN  = 3
)

// Config tunes the orchestrator.
type Config struct {
	// RerankEnabled turns the second stage on. With it off (or with no
	// reranker wired), the search stage's own top results pass through.
	RerankEnabled bool
	// RerankK is how many candidates are fetched and fed to the
	// reranker; it should leave the reranker room above the final count.
	RerankK int
	// FinalN is the result count used when a query does not ask for one.
	FinalN int
}

// Outcome is the per-query result of a Retrieve call. Queries in one
// request fail independently; Err is set only for this query.
type Outcome struct {
	Query   string                `json:"query"`
	Results []core.ChunkWithScore `json:"results"`
	// Degraded reports that the reranker failed and the results are the
	// unreranked candidate set.
	Degraded bool  `json:"degraded,omitempty"`
	Err      error `json:"-"`
}

// Service is the retrieval entry point the transport layer calls. All
// collaborators are constructed once at startup and shared read-only.
type Service struct {
	store    core.DataStore
	reranker core.Reranker
	cfg      Config
}

// New builds a Service. reranker may be nil, which disables the second
// stage regardless of cfg.RerankEnabled.
func New(store core.DataStore, reranker core.Reranker, cfg Config) *Service {
	if cfg.RerankK <= 0 {
		cfg.RerankK = DefaultRerankK
	}
	if cfg.FinalN <= 0 {
		cfg.FinalN = DefaultFinalN
	}
	return &Service{store: store, reranker: reranker, cfg: cfg}
}

// Retrieve answers each query independently and concurrently. One
// query's failure never aborts its siblings; outcomes line up with the
// input order.
func (s *Service) Retrieve(ctx context.Context, queries []core.Query) []Outcome {
	outcomes := make([]Outcome, len(queries))
	var wg sync.WaitGroup
	for i, q := range queries {
		wg.Add(1)
		go func(i int, q core.Query) {
			defer wg.Done()
			outcomes[i] = s.retrieveOne(ctx, q)
		}(i, q)
	}
	wg.Wait()
	return outcomes
}

func (s *Service) retrieveOne(ctx context.Context, q core.Query) Outcome {
	finalN := q.TopK
	if finalN <= 0 {
		finalN = s.cfg.FinalN
	}
	rerankOn := s.cfg.RerankEnabled && s.reranker != nil

	candidateK := finalN
	if rerankOn && s.cfg.RerankK > candidateK {
		candidateK = s.cfg.RerankK
	}

	results, err := s.store.Query(ctx, []core.Query{{Query: q.Query, Filter: q.Filter, TopK: candidateK}})
	if err != nil {
		return Outcome{Query: q.Query, Err: err}
	}
	candidates := results[0].Results

	if !rerankOn {
		return Outcome{Query: q.Query, Results: head(candidates, finalN)}
	}

	reranked, err := s.rerank(ctx, q.Query, candidates, finalN)
	if err != nil {
		// Recoverable: fall back to the similarity ordering and tell the
		// caller the response is degraded.
		logger.Warn("Rerank failed for query %q, returning unreranked results: %v", q.Query, err)
		return Outcome{Query: q.Query, Results: head(candidates, finalN), Degraded: true}
	}
	return Outcome{Query: q.Query, Results: reranked}
}

// rerank scores the candidate pool against the query and returns the
// best finalN with the reranker's scores replacing the similarity
// scores. The pool covers at least finalN candidates, so a query asking
// for more results than RerankK still gets the count it asked for.
// Ordering is stable: equal rerank scores keep the original
// nearest-neighbor rank.
func (s *Service) rerank(ctx context.Context, query string, candidates []core.ChunkWithScore, finalN int) ([]core.ChunkWithScore, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}
	k := s.cfg.RerankK
	if finalN > k {
		k = finalN
	}
	if k > len(candidates) {
		k = len(candidates)
	}
	pool := candidates[:k]

	texts := make([]string, k)
	for i, c := range pool {
		texts[i] = c.Text
	}
	scores, err := s.reranker.Rerank(ctx, query, texts)
	if err != nil {
		return nil, err
	}
	if len(scores) != k {
		return nil, &core.RerankError{Msg: "score count mismatch"}
	}

	order := make([]int, k)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })

	n := finalN
	if n > k {
		n = k
	}
	out := make([]core.ChunkWithScore, 0, n)
	for _, idx := range order[:n] {
		c := pool[idx]
		c.Score = float32(scores[idx])
		out = append(out, c)
	}
	return out, nil
}

func head(results []core.ChunkWithScore, n int) []core.ChunkWithScore {
	if n > len(results) {
		n = len(results)
	}
	return results[:n]
}
