package linker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dblp-kgqa/kgqa/internal/metrics"
	"github.com/dblp-kgqa/kgqa/internal/qa"
	"github.com/dblp-kgqa/kgqa/pkg/logger"
	"github.com/dblp-kgqa/kgqa/pkg/utils"
)

const cacheNamespace = "linking"

type Cache interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// Cached memoizes another linker's results. Cache failures are logged and
// never fail a lookup.
type Cached struct {
	next  Linker
	cache Cache
	ttl   time.Duration
}

func NewCached(next Linker, cache Cache, ttl time.Duration) *Cached {
	return &Cached{next: next, cache: cache, ttl: ttl}
}

func (c *Cached) Link(ctx context.Context, question string) (qa.Linking, error) {
	key := utils.CacheKey(cacheNamespace, question)

	var cached qa.Linking
	found, err := c.cache.GetJSON(ctx, key, &cached)
	if err != nil {
		logger.Warn("Linking cache read failed", zap.Error(err))
	}
	if found {
		metrics.CacheHits.WithLabelValues(cacheNamespace).Inc()
		return cached, nil
	}
	metrics.CacheMisses.WithLabelValues(cacheNamespace).Inc()

	linking, err := c.next.Link(ctx, question)
	if err != nil {
		return linking, err
	}

	if err := c.cache.SetJSON(ctx, key, linking, c.ttl); err != nil {
		logger.Warn("Linking cache write failed", zap.Error(err))
	}
	return linking, nil
}
