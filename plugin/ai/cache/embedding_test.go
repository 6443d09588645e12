package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	calls atomic.Int32
	delay time.Duration
}

func (e *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	time.Sleep(e.delay)
	return []float32{float32(len(text))}, nil
}

func (e *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, _ := e.Embed(ctx, t)
		out[i] = v
	}
	return out, nil
}

func (e *countingEmbedder) Dimensions() int { return 1 }

func TestEmbeddingCache(t *testing.T) {
	ctx := context.Background()

	t.Run("caches repeated texts", func(t *testing.T) {
		inner := &countingEmbedder{}
		c := NewEmbeddingCache(inner, "test", 16)

		for i := 0; i < 3; i++ {
			v, err := c.Embed(ctx, "hello")
			require.NoError(t, err)
			assert.Equal(t, []float32{5}, v)
		}
		assert.Equal(t, int32(1), inner.calls.Load())
		assert.Equal(t, int64(2), c.Stats().Hits)
		assert.Equal(t, 1, c.Dimensions())
	})

	t.Run("deduplicates concurrent misses", func(t *testing.T) {
		inner := &countingEmbedder{delay: 20 * time.Millisecond}
		c := NewEmbeddingCache(inner, "test", 16)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = c.Embed(ctx, "same text")
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), inner.calls.Load())
	})

	t.Run("batch only embeds misses", func(t *testing.T) {
		inner := &countingEmbedder{}
		c := NewEmbeddingCache(inner, "test", 16)
		_, err := c.Embed(ctx, "a")
		require.NoError(t, err)

		vs, err := c.EmbedBatch(ctx, []string{"a", "bb", "ccc"})
		require.NoError(t, err)
		assert.Equal(t, [][]float32{{1}, {2}, {3}}, vs)
		assert.Equal(t, int32(3), inner.calls.Load())
	})
}
