package similarity

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dblp-kgqa/kgqa/internal/qa"
	"github.com/dblp-kgqa/kgqa/internal/vector/zilliz"
	"github.com/dblp-kgqa/kgqa/pkg/logger"
	"github.com/dblp-kgqa/kgqa/pkg/utils"
)

type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStore is the subset of the Milvus client the vector index needs.
type VectorStore interface {
	Insert(ctx context.Context, vectors []zilliz.QuestionVector) error
	Search(ctx context.Context, queryEmbedding []float32, topK int) ([]zilliz.SearchResult, error)
}

// VectorIndex ranks pool questions by embedding similarity in Milvus.
type VectorIndex struct {
	store    VectorStore
	embedder Embedder
	count    uint64
	closer   func() error
}

func NewVectorIndex(store VectorStore, embedder Embedder) *VectorIndex {
	v := &VectorIndex{store: store, embedder: embedder}
	if c, ok := store.(interface{ Close() error }); ok {
		v.closer = c.Close
	}
	return v
}

func (v *VectorIndex) Add(ctx context.Context, examples []qa.SimilarExample) error {
	if len(examples) == 0 {
		return nil
	}

	texts := make([]string, len(examples))
	for i, ex := range examples {
		texts[i] = ex.Question
	}

	embeddings, err := v.embedder.GenerateBatchEmbeddings(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed pool questions: %w", err)
	}
	if len(embeddings) != len(examples) {
		return fmt.Errorf("got %d embeddings for %d questions", len(embeddings), len(examples))
	}

	vectors := make([]zilliz.QuestionVector, len(examples))
	for i, ex := range examples {
		vectors[i] = zilliz.QuestionVector{ID: ex.ID, Question: ex.Question, Embedding: embeddings[i]}
	}

	if err := v.store.Insert(ctx, vectors); err != nil {
		return err
	}
	v.count += uint64(len(vectors))
	return nil
}

func (v *VectorIndex) Search(ctx context.Context, text string, limit int) ([]Hit, error) {
	embedding, err := v.embedder.GenerateEmbedding(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}

	results, err := v.store.Search(ctx, embedding, limit)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, len(results))
	for i, r := range results {
		hits[i] = Hit{ID: r.ID, Score: float64(r.Score)}
	}
	return hits, nil
}

// Count reports how many vectors this process inserted.
func (v *VectorIndex) Count() (uint64, error) {
	return v.count, nil
}

func (v *VectorIndex) Close() error {
	if v.closer != nil {
		return v.closer()
	}
	return nil
}

type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error
}

// CachedEmbedder stores single-question embeddings so repeated runs over the
// same test set skip the embedding call.
type CachedEmbedder struct {
	Embedder
	cache EmbeddingCache
	ttl   time.Duration
}

func NewCachedEmbedder(next Embedder, cache EmbeddingCache, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{Embedder: next, cache: cache, ttl: ttl}
}

func (c *CachedEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	hash := utils.HashString(text)
	if emb, found, err := c.cache.GetEmbedding(ctx, hash); err == nil && found {
		return emb, nil
	} else if err != nil {
		logger.Warn("Embedding cache read failed", zap.Error(err))
	}

	emb, err := c.Embedder.GenerateEmbedding(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := c.cache.SetEmbedding(ctx, hash, emb, c.ttl); err != nil {
		logger.Warn("Embedding cache write failed", zap.Error(err))
	}
	return emb, nil
}
