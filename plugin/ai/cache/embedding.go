package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hrygo/tablesense/plugin/ai"
)

// embeddingTTL keeps vectors around for a working session; they never change for a given model.
const embeddingTTL = 24 * time.Hour

// EmbeddingCache wraps an EmbeddingService with an LRU cache.
// Concurrent requests for the same text share one upstream call.
type EmbeddingCache struct {
	inner     ai.EmbeddingService
	namespace string
	lru       *LRUCache[[]float32]
	group     singleflight.Group
}

var _ ai.EmbeddingService = (*EmbeddingCache)(nil)

// NewEmbeddingCache creates a caching decorator. namespace separates models sharing one process.
func NewEmbeddingCache(inner ai.EmbeddingService, namespace string, capacity int) *EmbeddingCache {
	return &EmbeddingCache{
		inner:     inner,
		namespace: namespace,
		lru:       NewLRUCache[[]float32](capacity, embeddingTTL),
	}
}

func (c *EmbeddingCache) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "emb:" + c.namespace + ":" + hex.EncodeToString(sum[:])
}

func (c *EmbeddingCache) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)
	if v, ok := c.lru.Get(key); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		vec, err := c.inner.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		c.lru.Set(key, vec, 0)
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

// EmbedBatch serves cached texts locally and sends only the misses upstream.
func (c *EmbeddingCache) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, text := range texts {
		if v, ok := c.lru.Get(c.key(text)); ok {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		c.lru.Set(c.key(texts[i]), vecs[j], 0)
	}
	return out, nil
}

func (c *EmbeddingCache) Dimensions() int {
	return c.inner.Dimensions()
}

// Stats exposes the underlying cache counters.
func (c *EmbeddingCache) Stats() Stats {
	return c.lru.Stats()
}
