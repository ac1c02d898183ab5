package embedding

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

type Embedder interface {
	EmbedDocument(ctx context.Context, text string) ([]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Cached remembers recent vectors. The pipeline embeds the same screen text for
// both duplicate checks of a sample, and the panels re-embed unchanged tasks on
// edit, so hits are common.
type Cached struct {
	next  Embedder
	cache *lru.Cache[string, []float32]
}

func NewCached(next Embedder, size int) (*Cached, error) {
	if size <= 0 {
		size = 512
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &Cached{next: next, cache: cache}, nil
}

func (c *Cached) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return c.lookup(ctx, "d\x00"+text, func() ([]float32, error) {
		return c.next.EmbedDocument(ctx, text)
	})
}

func (c *Cached) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return c.lookup(ctx, "q\x00"+text, func() ([]float32, error) {
		return c.next.EmbedQuery(ctx, text)
	})
}

func (c *Cached) Len() int {
	return c.cache.Len()
}

func (c *Cached) lookup(ctx context.Context, key string, load func() ([]float32, error)) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if v, ok := c.cache.Get(key); ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, v)
	return v, nil
}
