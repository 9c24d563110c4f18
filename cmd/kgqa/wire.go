package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dblp-kgqa/kgqa/internal/cache/redis"
	"github.com/dblp-kgqa/kgqa/internal/ingestion"
	"github.com/dblp-kgqa/kgqa/internal/kg/neo4j"
	"github.com/dblp-kgqa/kgqa/internal/linker"
	"github.com/dblp-kgqa/kgqa/internal/llm"
	"github.com/dblp-kgqa/kgqa/internal/prompt"
	"github.com/dblp-kgqa/kgqa/internal/qa"
	"github.com/dblp-kgqa/kgqa/internal/query"
	"github.com/dblp-kgqa/kgqa/internal/similarity"
	"github.com/dblp-kgqa/kgqa/internal/sparql"
	"github.com/dblp-kgqa/kgqa/internal/storage/sqlite"
	"github.com/dblp-kgqa/kgqa/internal/vector/zilliz"
	"github.com/dblp-kgqa/kgqa/pkg/config"
	"github.com/dblp-kgqa/kgqa/pkg/logger"
)

// components holds everything a command needs to answer questions. Close
// releases them in reverse order of creation.
type components struct {
	engine *query.Engine
	sparql *sparql.Client
	llm    *llm.Client
	cache  *redis.Client
	graph  *neo4j.Client
	audit  *sqlite.Client

	closers []func()
}

func (c *components) onClose(fn func()) {
	c.closers = append(c.closers, fn)
}

func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

func (c *components) cacheTTL(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Redis.TTLHours) * time.Hour
}

// buildComponents wires the answer pipeline from cfg. On error everything
// opened so far is closed.
func buildComponents(ctx context.Context, cfg *config.Config) (_ *components, err error) {
	c := &components{}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	if err := c.openShared(ctx, cfg); err != nil {
		return nil, err
	}

	var retriever query.SimilarityRetriever
	if cfg.Similarity.Backend != "none" {
		pool, err := ingestion.LoadPool(cfg.Similarity.PoolPath)
		if err != nil {
			return nil, err
		}
		index, err := c.openIndex(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := ensureIndexed(ctx, index, pool); err != nil {
			return nil, err
		}

		r := similarity.NewRetriever(index, pool, cfg.Similarity.Limit)
		if c.cache != nil {
			r = r.WithCache(c.cache, c.cacheTTL(cfg))
		}
		retriever = r
	}

	entityLinker, err := c.newLinker(ctx, cfg)
	if err != nil {
		return nil, err
	}

	composer, err := prompt.New(cfg.Prompt.ExamplesPath)
	if err != nil {
		return nil, fmt.Errorf("loading prompt examples: %w", err)
	}

	c.sparql = sparql.NewClient(cfg.SPARQL.Endpoint, time.Duration(cfg.SPARQL.TimeoutSec)*time.Second)

	c.engine = query.NewEngine(retriever, entityLinker, composer, c.llm, c.sparql, query.Options{
		Model: cfg.LLM.Model,
		TopK:  cfg.Similarity.TopK,
	})

	if cfg.SQLite.Enabled {
		c.audit = openAudit(cfg.SQLite.Path)
		if c.audit != nil {
			audit := c.audit
			c.onClose(func() { audit.Close() })
		}
	}

	logger.Info("Pipeline ready",
		zap.String("similarity", cfg.Similarity.Backend),
		zap.String("linker", cfg.Linker.Backend),
		zap.String("sparql", c.sparql.Endpoint()),
		zap.String("model", cfg.LLM.Model),
		zap.Bool("cache", c.cache != nil),
		zap.Bool("audit", c.audit != nil),
	)

	return c, nil
}

// openAudit opens the run audit log. The log is optional: when it cannot be
// opened the pipeline runs without it.
func openAudit(path string) *sqlite.Client {
	audit, err := sqlite.NewClient(path)
	if err != nil {
		logger.Warn("Audit log unavailable; continuing without it", zap.String("path", path), zap.Error(err))
		return nil
	}
	if err := audit.InitSchema(); err != nil {
		audit.Close()
		logger.Warn("Audit log unavailable; continuing without it", zap.String("path", path), zap.Error(err))
		return nil
	}
	return audit
}

// openShared opens the LLM client and, when enabled, the Redis cache.
func (c *components) openShared(ctx context.Context, cfg *config.Config) error {
	c.llm = llm.NewClient(llm.Options{
		BaseURL:        cfg.LLM.BaseURL,
		APIKey:         cfg.LLM.APIKey,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		Temperature:    cfg.LLM.Temperature,
		MaxTokens:      cfg.LLM.MaxTokens,
		Timeout:        time.Duration(cfg.LLM.TimeoutSec) * time.Second,
	})

	if !cfg.Redis.Enabled {
		return nil
	}
	cache, err := redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return err
	}
	c.onClose(func() { cache.Close() })
	c.cache = cache
	return nil
}

// openIndex opens the configured similarity index. The Milvus index embeds
// questions through the LLM client, memoized in Redis when enabled.
func (c *components) openIndex(ctx context.Context, cfg *config.Config) (similarity.Index, error) {
	switch cfg.Similarity.Backend {
	case "bleve":
		index, err := similarity.NewBleveIndex(cfg.Similarity.IndexPath)
		if err != nil {
			return nil, err
		}
		c.onClose(func() { index.Close() })
		return index, nil

	case "milvus":
		store, err := zilliz.NewClient(cfg.Zilliz.Endpoint, cfg.Zilliz.APIKey, cfg.Zilliz.CollectionName, cfg.Zilliz.VectorDim)
		if err != nil {
			return nil, err
		}
		if err := store.CreateCollection(ctx); err != nil {
			store.Close()
			return nil, err
		}

		var embedder similarity.Embedder = c.llm
		if c.cache != nil {
			embedder = similarity.NewCachedEmbedder(c.llm, c.cache, c.cacheTTL(cfg))
		}
		index := similarity.NewVectorIndex(store, embedder)
		c.onClose(func() { index.Close() })
		return index, nil

	default:
		return nil, fmt.Errorf("unknown similarity backend %q", cfg.Similarity.Backend)
	}
}

// ensureIndexed fills an empty bleve index from the pool. A Milvus collection
// is filled by the index command, so its zero count is left alone.
func ensureIndexed(ctx context.Context, index similarity.Index, pool []qa.SimilarExample) error {
	if _, ok := index.(*similarity.BleveIndex); !ok {
		return nil
	}
	count, err := index.Count()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	logger.Info("Similarity index is empty; indexing pool", zap.Int("examples", len(pool)))
	return index.Add(ctx, pool)
}

func (c *components) newLinker(ctx context.Context, cfg *config.Config) (query.EntityLinker, error) {
	selection := linker.Selection{
		MinScore:   cfg.Linker.MinScore,
		MaxPerSpan: cfg.Linker.MaxPerSpan,
	}

	var l linker.Linker
	switch cfg.Linker.Backend {
	case "none":
		return linker.Nop{}, nil
	case "http":
		l = linker.NewHTTPLinker(cfg.Linker.URL, time.Duration(cfg.Linker.TimeoutSec)*time.Second, selection)
	case "graph":
		graph, err := c.openGraph(ctx, cfg)
		if err != nil {
			return nil, err
		}
		l = linker.NewGraphLinker(graph, selection)
	default:
		return nil, fmt.Errorf("unknown linker backend %q", cfg.Linker.Backend)
	}

	if c.cache != nil {
		l = linker.NewCached(l, c.cache, c.cacheTTL(cfg))
	}
	return l, nil
}

func (c *components) openGraph(ctx context.Context, cfg *config.Config) (*neo4j.Client, error) {
	if c.graph != nil {
		return c.graph, nil
	}
	graph, err := neo4j.NewClient(cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.Password, cfg.Neo4j.Database, cfg.Neo4j.Index)
	if err != nil {
		return nil, err
	}
	c.onClose(func() { graph.Close(context.Background()) })
	c.graph = graph
	return graph, nil
}
