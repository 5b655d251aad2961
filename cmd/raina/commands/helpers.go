package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/SamanBarahoie/RAINA/internal/embedder"
	"github.com/SamanBarahoie/RAINA/internal/metrics"
	"github.com/SamanBarahoie/RAINA/internal/rag"
)

// Dataset and corpus defaults, overridable via RAINA_* env vars or flags.
const (
	defaultTxtDir  = "data/txt"
	defaultLinks   = "data/downloaded_files.json"
	defaultDataset = "data/dataset.json"
	defaultReport  = "data/failed_docs.json"
)

var (
	metricsOnce sync.Once
	pipelineMet *metrics.Metrics
)

// pipelineMetrics returns the process-wide metrics set, registering it on
// first use. Commands share one instance so the METRICS_ADDR listener sees
// everything.
func pipelineMetrics() *metrics.Metrics {
	metricsOnce.Do(func() {
		pipelineMet = metrics.New(prometheus.DefaultRegisterer)
	})
	return pipelineMet
}

// openChunkStore connects to the document chunk collection in Qdrant.
func openChunkStore(ctx context.Context) (*rag.QdrantStore, error) {
	return openQdrant(ctx, getEnvOrDefault("QDRANT_COLLECTION", "raina-chunks"))
}

// openQueryStore connects to the query cache collection in Qdrant.
func openQueryStore(ctx context.Context) (*rag.QdrantStore, error) {
	return openQdrant(ctx, getEnvOrDefault("QDRANT_QUERY_COLLECTION", "raina-queries"))
}

func openQdrant(ctx context.Context, collection string) (*rag.QdrantStore, error) {
	backend := getEnvOrDefault("EMBEDDING_PROVIDER", "ollama")
	vectorSize := uint64(getEnvInt("EMBEDDING_DIMENSIONS", embedder.DefaultDimensions(backend))) //nolint:gosec // dimensions are bounded

	host := getEnvOrDefault("QDRANT_HOST", "localhost")
	port := getEnvInt("QDRANT_PORT", 6334)
	store, err := rag.NewQdrantStore(ctx, &rag.QdrantConfig{
		Host:       host,
		Port:       port,
		Collection: collection,
		VectorSize: vectorSize,
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     os.Getenv("QDRANT_TLS") == "true",
	})
	if err != nil {
		return nil, fmt.Errorf("connect to Qdrant at %s:%d: %w", host, port, err)
	}
	return store, nil
}

// openLexicalStore connects to Elasticsearch when ELASTIC_URL is set.
// Returns (nil, nil) when unset: the lexical leg is optional.
func openLexicalStore(ctx context.Context, log *slog.Logger) (rag.LexicalStore, error) {
	url := os.Getenv("ELASTIC_URL")
	if url == "" {
		log.Debug("ELASTIC_URL not set, lexical store disabled")
		return nil, nil
	}
	store, err := rag.NewElasticStore(ctx, &rag.ElasticConfig{
		Host:   url,
		Index:  getEnvOrDefault("ELASTIC_INDEX", "raina-chunks"),
		APIKey: os.Getenv("ELASTIC_API_KEY"),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to Elasticsearch at %s: %w", url, err)
	}
	return store, nil
}

// getEnvOrDefault returns the env var value or a fallback when unset.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the env var parsed as int, or a fallback when unset
// or unparseable.
func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
