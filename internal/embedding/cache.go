package embedding

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// Cached memoizes another embedder's results in a bounded ristretto cache,
// keyed by provider, model size and text. Failures are not cached.
type Cached struct {
	inner Embedder
	cache *ristretto.Cache
}

// NewCached wraps inner with a cache holding up to maxEntries results.
func NewCached(inner Embedder, maxEntries int64) (*Cached, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &Cached{inner: inner, cache: cache}, nil
}

func (c *Cached) Embed(ctx context.Context, text string) (Result, error) {
	key := fmt.Sprintf("%s/%d\x00%s", c.inner.Name(), c.inner.Dims(), text)
	if v, ok := c.cache.Get(key); ok {
		return v.(Result), nil
	}
	r, err := c.inner.Embed(ctx, text)
	if err != nil {
		return Result{}, err
	}
	c.cache.Set(key, r, 1)
	c.cache.Wait()
	return r, nil
}

func (c *Cached) Name() string { return c.inner.Name() }

func (c *Cached) Dims() int { return c.inner.Dims() }

// Close releases the cache's background goroutines.
func (c *Cached) Close() {
	c.cache.Close()
}
