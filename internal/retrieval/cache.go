package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/SamanBarahoie/RAINA/internal/rag"
)

// querySource marks cache entries so they can never be mistaken for
// document chunks, even if both collections end up behind one backend.
const querySource = "user_query"

// QueryCache remembers past user queries in a dedicated vector collection.
// It is append-only: entries are never evicted or updated, and duplicate
// adds of the same query overwrite the same entry, which is harmless.
type QueryCache struct {
	store    rag.VectorStore
	embedder rag.Embedder
	log      *slog.Logger
}

// NewQueryCache builds a cache over its own vector collection. The store
// must not be shared with the document collection.
func NewQueryCache(store rag.VectorStore, embedder rag.Embedder, log *slog.Logger) (*QueryCache, error) {
	if store == nil {
		return nil, fmt.Errorf("retrieval: query cache requires a vector store")
	}
	if embedder == nil {
		return nil, fmt.Errorf("retrieval: query cache requires an embedder")
	}
	if log == nil {
		log = slog.Default()
	}
	return &QueryCache{store: store, embedder: embedder, log: log}, nil
}

// Add records a query that produced results. Failures are logged and
// swallowed: a cold cache only costs future retrievals a fallback stage.
func (c *QueryCache) Add(ctx context.Context, query string) {
	query = strings.TrimSpace(query)
	if query == "" {
		return
	}
	vectors, err := c.embedder.Embed(ctx, []string{query})
	if err != nil {
		c.log.Warn("query cache: embed failed", "error", err)
		return
	}
	metadata := map[string]string{"source": querySource}
	if err := c.store.Upsert(ctx, query, vectors[0], query, metadata); err != nil {
		c.log.Warn("query cache: upsert failed", "error", err)
	}
}

// FindSimilar returns the cached query nearest to the given one, or
// ok=false when the cache is empty or lookup fails.
func (c *QueryCache) FindSimilar(ctx context.Context, query string) (string, bool) {
	vectors, err := c.embedder.Embed(ctx, []string{query})
	if err != nil {
		c.log.Warn("query cache: embed failed", "error", err)
		return "", false
	}
	docs, err := c.store.Query(ctx, vectors[0], 1, nil)
	if err != nil {
		c.log.Warn("query cache: lookup failed", "error", err)
		return "", false
	}
	if len(docs) == 0 || docs[0].Text == "" {
		return "", false
	}
	return docs[0].Text, true
}
