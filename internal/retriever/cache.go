package retriever

import (
	"sync"

	"github.com/docuchat/docuchat-core/internal/platform/logger"
	"github.com/docuchat/docuchat-core/internal/platform/pinecone"
)

// Cache memoizes one Retriever per namespace. Entries are keyed by the
// embedder and index identities as well, so swapping the embedding model
// never serves a retriever built against the old vector space.
type Cache struct {
	log      *logger.Logger
	embedder Embedder
	vectors  pinecone.VectorStore
	topK     int

	mu      sync.Mutex
	entries map[string]Retriever
}

func NewCache(log *logger.Logger, embedder Embedder, vectors pinecone.VectorStore, topK int) *Cache {
	return &Cache{
		log:      log.With("service", "RetrieverCache"),
		embedder: embedder,
		vectors:  vectors,
		topK:     topK,
		entries:  make(map[string]Retriever),
	}
}

func (c *Cache) key(namespace string) string {
	return c.embedder.EmbeddingIdentity() + "|" + c.vectors.Identity() + "|" + namespace
}

// Get returns the cached retriever for the namespace, building one on the
// first request after construction or invalidation.
func (c *Cache) Get(namespace string) (Retriever, error) {
	key := c.key(namespace)

	c.mu.Lock()
	defer c.mu.Unlock()

	if r, ok := c.entries[key]; ok {
		return r, nil
	}
	r, err := New(c.log, c.embedder, c.vectors, namespace, c.topK)
	if err != nil {
		return nil, err
	}
	c.entries[key] = r
	return r, nil
}

// Invalidate drops the cached retriever for the namespace. The next Get
// rebuilds one, observing whatever the index now holds.
func (c *Cache) Invalidate(namespace string) {
	key := c.key(namespace)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		delete(c.entries, key)
		c.log.Debug("Retriever invalidated", "namespace", namespace)
	}
}
