// Package builder loads a solved-question pool into the similarity index and
// seeds the entity label graph from the entities the pool mentions.
package builder

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dblp-kgqa/kgqa/internal/kg/neo4j"
	"github.com/dblp-kgqa/kgqa/internal/metrics"
	"github.com/dblp-kgqa/kgqa/internal/qa"
	"github.com/dblp-kgqa/kgqa/internal/similarity"
	"github.com/dblp-kgqa/kgqa/pkg/logger"
)

// EntityStore is satisfied by *neo4j.Client.
type EntityStore interface {
	EnsureIndex(ctx context.Context) error
	UpsertEntities(ctx context.Context, entities []neo4j.Entity) error
	CountEntities(ctx context.Context) (int64, error)
}

// CacheInvalidator is satisfied by *redis.Client.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, namespace string) error
}

// Namespaces cached results are stored under; cleared after a rebuild.
var CacheNamespaces = []string{"similar", "linking"}

type Builder struct {
	index similarity.Index
	graph EntityStore
	cache CacheInvalidator
}

type Report struct {
	Examples      int
	IndexSize     uint64
	Entities      int
	GraphEntities int64
}

// NewBuilder takes the index to fill. graph and cache may be nil.
func NewBuilder(index similarity.Index, graph EntityStore, cache CacheInvalidator) *Builder {
	return &Builder{
		index: index,
		graph: graph,
		cache: cache,
	}
}

func (b *Builder) BuildFromPool(ctx context.Context, pool []qa.SimilarExample) (*Report, error) {
	logger.Info("Building indexes from pool", zap.Int("examples", len(pool)))

	report := &Report{Examples: len(pool)}

	if err := b.index.Add(ctx, pool); err != nil {
		return nil, fmt.Errorf("failed to index pool: %w", err)
	}
	count, err := b.index.Count()
	if err != nil {
		logger.Warn("Failed to count indexed examples", zap.Error(err))
	} else {
		report.IndexSize = count
		metrics.PoolExamplesIndexed.Set(float64(count))
	}

	if b.graph != nil {
		entities := EntitiesFromPool(pool)
		report.Entities = len(entities)

		if err := b.graph.EnsureIndex(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure label index: %w", err)
		}
		if err := b.graph.UpsertEntities(ctx, entities); err != nil {
			return nil, fmt.Errorf("failed to seed entities: %w", err)
		}

		total, err := b.graph.CountEntities(ctx)
		if err != nil {
			logger.Warn("Failed to count graph entities", zap.Error(err))
		} else {
			report.GraphEntities = total
			metrics.KGEntitiesTotal.Set(float64(total))
		}
	}

	if b.cache != nil {
		for _, ns := range CacheNamespaces {
			if err := b.cache.Invalidate(ctx, ns); err != nil {
				logger.Warn("Failed to invalidate cache", zap.String("namespace", ns), zap.Error(err))
			}
		}
	}

	logger.Info("Indexes built",
		zap.Int("examples", report.Examples),
		zap.Uint64("index_size", report.IndexSize),
		zap.Int("entities", report.Entities),
		zap.Int64("graph_entities", report.GraphEntities),
	)

	return report, nil
}

// EntitiesFromPool collects the distinct entity URIs mentioned by the pool.
// The first mention seen for a URI becomes its label.
func EntitiesFromPool(pool []qa.SimilarExample) []neo4j.Entity {
	seen := make(map[string]bool)
	entities := []neo4j.Entity{}

	for _, ex := range pool {
		for _, e := range ex.Entities {
			uri := strings.TrimSpace(e.URI)
			label := strings.TrimSpace(e.Mention)
			if uri == "" || label == "" || seen[uri] {
				continue
			}
			seen[uri] = true
			entities = append(entities, neo4j.Entity{
				URI:   uri,
				Label: label,
				Type:  EntityType(uri),
			})
		}
	}

	return entities
}

// EntityType infers the DBLP node type from its URI.
func EntityType(uri string) string {
	switch {
	case strings.Contains(uri, "dblp.org/pid/"):
		return "Person"
	case strings.Contains(uri, "dblp.org/streams/"):
		return "Stream"
	case strings.Contains(uri, "dblp.org/rec/"):
		return "Publication"
	default:
		return "Entity"
	}
}
