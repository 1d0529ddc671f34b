package retrieval

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
)

// Embedder turns text into a vector. Implementations call an embedding
// service; the model behind them loads lazily on first use.
type Embedder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
}

// DefaultQueryCacheSize bounds the per-process query embedding cache.
const DefaultQueryCacheSize = 1000

// CachedEmbedder wraps an Embedder with an LRU cache keyed by a hash of the
// normalized query text. Repeated retrievals for the same query skip the
// embedding call entirely.
type CachedEmbedder struct {
	inner Embedder
	size  int

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
}

type cacheEntry struct {
	key    string
	vector []float32
}

func NewCachedEmbedder(inner Embedder, size int) *CachedEmbedder {
	if size <= 0 {
		size = DefaultQueryCacheSize
	}
	return &CachedEmbedder{
		inner:   inner,
		size:    size,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

func (c *CachedEmbedder) Encode(ctx context.Context, text string) ([]float32, error) {
	key := queryHash(text)

	c.mu.Lock()
	if el, ok := c.entries[key]; ok {
		c.order.MoveToFront(el)
		vector := el.Value.(*cacheEntry).vector
		c.mu.Unlock()
		return vector, nil
	}
	c.mu.Unlock()

	vector, err := c.inner.Encode(ctx, text)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		// Another request raced the encode; keep the existing entry.
		c.order.MoveToFront(el)
		return el.Value.(*cacheEntry).vector, nil
	}
	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, vector: vector})
	if c.order.Len() > c.size {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
	return vector, nil
}

// Len reports how many query vectors are cached.
func (c *CachedEmbedder) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func queryHash(text string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(text), " "))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
