package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"semstore/internal/config"
	"semstore/internal/core"
	"semstore/internal/embed"
	"semstore/internal/logger"
	"semstore/internal/rerank"
	"semstore/internal/retrieval"
	"semstore/internal/store"
	"semstore/internal/store/memory"
	"semstore/internal/store/milvus"
)

func main() {
	debug := flag.Bool("debug", false, "Enable debug logging")
	ingest := flag.String("ingest", "", "Path of a text file to ingest")
	docID := flag.String("id", "", "Document ID for -ingest (generated when empty)")
	author := flag.String("author", "", "Author metadata for -ingest")
	source := flag.String("source", string(core.SourceFile), "Source metadata for -ingest (file|email|chat)")
	query := flag.String("query", "", "Query text to search for")
	topK := flag.Int("topk", 0, "Result count for -query (default from RERANK_FINAL_N)")
	filterAuthor := flag.String("filter-author", "", "Restrict -query/-list to an author")
	list := flag.Bool("list", false, "List stored documents")
	limit := flag.Int("limit", 100, "Page size for -list")
	offset := flag.Int("offset", 0, "Page offset for -list")
	deleteID := flag.String("delete", "", "Delete a document by ID")
	deleteAll := flag.Bool("delete-all", false, "Delete every stored document")
	flag.Parse()

	envErr := godotenv.Load()
	cfg := config.Load()
	logger.Init(*debug || cfg.LogLevel == "debug")
	if envErr != nil {
		logger.Debug("No .env file found, using environment as-is")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, runArgs{
		ingest:       *ingest,
		docID:        *docID,
		author:       *author,
		source:       *source,
		query:        *query,
		topK:         *topK,
		filterAuthor: *filterAuthor,
		list:         *list,
		limit:        *limit,
		offset:       *offset,
		deleteID:     *deleteID,
		deleteAll:    *deleteAll,
	}); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

type runArgs struct {
	ingest       string
	docID        string
	author       string
	source       string
	query        string
	topK         int
	filterAuthor string
	list         bool
	limit        int
	offset       int
	deleteID     string
	deleteAll    bool
}

func run(ctx context.Context, cfg *config.Config, args runArgs) error {
	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return err
	}
	cached, err := embed.NewCachedEmbedder(embedder, cfg.QueryCacheSize)
	if err != nil {
		return err
	}

	backend, err := buildBackend(ctx, cfg)
	if err != nil {
		return err
	}
	dataStore := store.New(backend, cached, store.WithChunkSize(cfg.ChunkSize))
	defer dataStore.Close()

	var reranker core.Reranker
	if cfg.RerankEnable {
		reranker, err = rerank.NewBGEReranker(rerank.BGEConfig{URL: cfg.RerankURL})
		if err != nil {
			return err
		}
	}
	service := retrieval.New(dataStore, reranker, retrieval.Config{
		RerankEnabled: cfg.RerankEnable,
		RerankK:       cfg.RerankK,
		FinalN:        cfg.RerankFinalN,
	})

	switch {
	case args.ingest != "":
		data, err := os.ReadFile(args.ingest)
		if err != nil {
			return fmt.Errorf("read %s: %w", args.ingest, err)
		}
		ids, err := dataStore.Upsert(ctx, []core.Document{{
			ID:   args.docID,
			Text: string(data),
			Metadata: core.DocumentMetadata{
				Source:   core.Source(args.source),
				Author:   args.author,
				Filename: args.ingest,
			},
		}})
		if err != nil {
			return err
		}
		logger.Info("Ingested %s as document %s", args.ingest, strings.Join(ids, ", "))
		return nil

	case args.query != "":
		outcomes := service.Retrieve(ctx, []core.Query{{
			Query:  args.query,
			Filter: authorFilter(args.filterAuthor),
			TopK:   args.topK,
		}})
		for _, o := range outcomes {
			if o.Err != nil {
				return o.Err
			}
			if o.Degraded {
				logger.Warn("Reranker unavailable, results are unreranked")
			}
		}
		return printJSON(outcomes)

	case args.list:
		docs, total, err := dataStore.List(ctx, args.limit, args.offset, authorFilter(args.filterAuthor))
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"documents": docs, "total": total})

	case args.deleteID != "":
		if _, err := dataStore.Delete(ctx, []string{args.deleteID}, nil, false); err != nil {
			return err
		}
		logger.Info("Deleted document %s", args.deleteID)
		return nil

	case args.deleteAll:
		if _, err := dataStore.Delete(ctx, nil, nil, true); err != nil {
			return err
		}
		logger.Info("Deleted all documents")
		return nil
	}

	flag.Usage()
	return nil
}

func buildEmbedder(cfg *config.Config) (core.Embedder, error) {
	switch cfg.EmbeddingProvider {
	case "openai":
		return embed.NewOpenAIEmbedder(embed.OpenAIConfig{
			BaseURL:   cfg.OpenAIURL,
			APIKey:    cfg.OpenAIAPIKey,
			Model:     cfg.EmbeddingModel,
			Dimension: cfg.EmbeddingDim,
			BatchSize: cfg.EmbeddingBatch,
			MaxTokens: cfg.EmbeddingMaxLen,
		})
	case "bge":
		return embed.NewBGEEmbedder(embed.BGEConfig{
			URL:       cfg.EmbeddingURL,
			Dimension: cfg.EmbeddingDim,
			BatchSize: cfg.EmbeddingBatch,
			MaxTokens: cfg.EmbeddingMaxLen,
		})
	default:
		return nil, core.Validationf("unknown embedding provider %q", cfg.EmbeddingProvider)
	}
}

func buildBackend(ctx context.Context, cfg *config.Config) (store.Backend, error) {
	switch cfg.Datastore {
	case "milvus":
		return milvus.New(ctx, cfg.MilvusAddr(), cfg.MilvusCollection, cfg.EmbeddingDim)
	case "memory":
		return memory.New(cfg.EmbeddingDim)
	default:
		return nil, core.Validationf("unknown datastore %q", cfg.Datastore)
	}
}

func authorFilter(author string) *core.MetadataFilter {
	if author == "" {
		return nil
	}
	return &core.MetadataFilter{Author: author}
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
