package ollama

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kirillkom/chat-archive-insights/internal/core/ports"
)

// CachedEmbedder memoizes query embeddings by normalized text.
type CachedEmbedder struct {
	next  ports.Embedder
	cache *lru.Cache[string, []float32]
}

func NewCachedEmbedder(next ports.Embedder, size int) (*CachedEmbedder, error) {
	if size <= 0 {
		size = 512
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &CachedEmbedder{next: next, cache: cache}, nil
}

func (e *CachedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	if vector, ok := e.cache.Get(key); ok {
		return vector, nil
	}
	vector, err := e.next.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Add(key, vector)
	return vector, nil
}

func (e *CachedEmbedder) Len() int {
	return e.cache.Len()
}
