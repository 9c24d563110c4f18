// Package similarity finds previously solved questions that resemble a new
// one, for use as in-context examples.
package similarity

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dblp-kgqa/kgqa/internal/metrics"
	"github.com/dblp-kgqa/kgqa/internal/qa"
	"github.com/dblp-kgqa/kgqa/pkg/logger"
	"github.com/dblp-kgqa/kgqa/pkg/utils"
)

// Hit is one index match, identified by the pool example's id.
type Hit struct {
	ID    string
	Score float64
}

// Index ranks pool questions against a query text.
type Index interface {
	Search(ctx context.Context, text string, limit int) ([]Hit, error)
	Add(ctx context.Context, examples []qa.SimilarExample) error
	Count() (uint64, error)
	Close() error
}

type Cache interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// Retriever resolves index hits against the in-memory pool. The pool and the
// index are read-only once the retriever is built.
type Retriever struct {
	index    Index
	pool     map[string]qa.SimilarExample
	limit    int
	cache    Cache
	cacheTTL time.Duration
}

func NewRetriever(index Index, pool []qa.SimilarExample, limit int) *Retriever {
	byID := make(map[string]qa.SimilarExample, len(pool))
	for _, ex := range pool {
		byID[ex.ID] = ex
	}
	if limit <= 0 {
		limit = 20
	}

	logger.Info("Similarity retriever initialized",
		zap.Int("pool_size", len(byID)),
		zap.Int("limit", limit),
	)

	return &Retriever{index: index, pool: byID, limit: limit}
}

// WithCache memoizes ranked results per question text.
func (r *Retriever) WithCache(cache Cache, ttl time.Duration) *Retriever {
	r.cache = cache
	r.cacheTTL = ttl
	return r
}

func (r *Retriever) PoolSize() int {
	return len(r.pool)
}

// IdentifySimilar returns pool examples ranked by descending similarity.
func (r *Retriever) IdentifySimilar(ctx context.Context, question string) ([]qa.SimilarExample, error) {
	key := utils.CacheKey("similar", question)
	if r.cache != nil {
		var cached []qa.SimilarExample
		found, err := r.cache.GetJSON(ctx, key, &cached)
		if err != nil {
			logger.Warn("Similarity cache read failed", zap.Error(err))
		}
		if found {
			metrics.CacheHits.WithLabelValues("similar").Inc()
			return cached, nil
		}
		metrics.CacheMisses.WithLabelValues("similar").Inc()
	}

	hits, err := r.index.Search(ctx, question, r.limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search similarity index: %w", err)
	}

	similar := make([]qa.SimilarExample, 0, len(hits))
	for _, hit := range hits {
		ex, ok := r.pool[hit.ID]
		if !ok {
			logger.Warn("Index hit missing from pool", zap.String("id", hit.ID))
			continue
		}
		ex.Score = hit.Score
		similar = append(similar, ex)
	}

	if r.cache != nil {
		if err := r.cache.SetJSON(ctx, key, similar, r.cacheTTL); err != nil {
			logger.Warn("Similarity cache write failed", zap.Error(err))
		}
	}

	return similar, nil
}
