// Package ingest implements the deduplicating ingest writer: it persists
// chunk records into the vector store (embedding the summary) and, when
// configured, into the lexical store, skipping identifiers that are already
// present. Repeated runs over the same corpus are therefore a no-op for
// previously stored chunks.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/SamanBarahoie/RAINA/internal/metrics"
	"github.com/SamanBarahoie/RAINA/internal/rag"
)

// Report aggregates the outcome of one Store call. The writer never aborts
// a batch on a single failed chunk; callers decide whether a non-zero
// Errors count is fatal.
type Report struct {
	// Stored is the number of chunks newly persisted.
	Stored int
	// Skipped is the number of chunks whose identifier was already present.
	Skipped int
	// Errors is the number of chunks that failed and were skipped.
	Errors int
}

// Writer persists chunks into the configured stores. It owns the write path
// exclusively — no other component writes chunk data.
type Writer struct {
	embedder rag.Embedder
	vectors  rag.VectorStore
	lexical  rag.LexicalStore // optional; nil disables the lexical path
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// NewWriter constructs a Writer. lexical and m may be nil.
func NewWriter(embedder rag.Embedder, vectors rag.VectorStore, lexical rag.LexicalStore, log *slog.Logger, m *metrics.Metrics) (*Writer, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingest: embedder must not be nil")
	}
	if vectors == nil {
		return nil, fmt.Errorf("ingest: vector store must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Writer{
		embedder: embedder,
		vectors:  vectors,
		lexical:  lexical,
		log:      log,
		metrics:  m,
	}, nil
}

// Store idempotently persists the given chunks. The set of identifiers
// already present is snapshotted once per batch; per-chunk failures are
// counted and skipped, never raised. The only returned error is context
// cancellation.
func (w *Writer) Store(ctx context.Context, chunks []rag.Chunk) (Report, error) {
	var report Report

	existing, err := w.vectors.ListIDs(ctx)
	if err != nil {
		// Degrade to an empty snapshot: the store's idempotent upsert makes
		// re-writing an already-present chunk an overwrite, not corruption.
		w.log.Warn("ingest: could not list existing identifiers, assuming empty store",
			slog.String("error", err.Error()))
		existing = make(map[string]struct{})
	}

	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		key := chunk.Key()
		if _, ok := existing[key]; ok {
			report.Skipped++
			continue
		}

		if err := w.storeOne(ctx, key, chunk); err != nil {
			report.Errors++
			w.log.Warn("ingest: failed to store chunk",
				slog.String("chunk", key),
				slog.String("error", err.Error()))
			continue
		}

		// Track within-batch so duplicate keys in one batch stay idempotent.
		existing[key] = struct{}{}
		report.Stored++
	}

	w.metrics.ObserveIngest("stored", report.Stored)
	w.metrics.ObserveIngest("skipped", report.Skipped)
	w.metrics.ObserveIngest("error", report.Errors)

	w.log.Info("ingest: batch complete",
		slog.Int("stored", report.Stored),
		slog.Int("skipped", report.Skipped),
		slog.Int("errors", report.Errors))

	return report, nil
}

// storeOne persists a single chunk into both stores.
func (w *Writer) storeOne(ctx context.Context, key string, chunk rag.Chunk) error {
	// The summary carries the semantic weight; fall back to the chunk text
	// when extraction produced no summary.
	text := chunk.Metadata.Summary
	if text == "" {
		text = chunk.ChunkText
	}

	embeddings, err := w.embedder.Embed(ctx, []string{text})
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	if len(embeddings) == 0 {
		return fmt.Errorf("embed: empty result")
	}

	meta := FlattenMetadata(chunk)
	if err := w.vectors.Upsert(ctx, key, embeddings[0], text, meta); err != nil {
		return fmt.Errorf("vector upsert: %w", err)
	}

	if w.lexical == nil {
		return nil
	}

	present, err := w.lexical.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("lexical exists: %w", err)
	}
	if present {
		return nil
	}
	err = w.lexical.Upsert(ctx, key, rag.LexicalDoc{
		DocID:    chunk.DocID,
		ChunkID:  chunk.ChunkID,
		FullText: chunk.ChunkText,
		Metadata: meta,
	})
	if err != nil {
		return fmt.Errorf("lexical upsert: %w", err)
	}
	return nil
}

// FlattenMetadata converts a chunk's metadata into the flat scalar form the
// stores accept: lists are serialised to JSON strings and absent values
// become empty strings.
func FlattenMetadata(chunk rag.Chunk) map[string]string {
	m := chunk.Metadata
	return map[string]string{
		"doc_id":     chunk.DocID,
		"chunk_id":   fmt.Sprintf("%d", chunk.ChunkID),
		"title":      m.Title,
		"url_file":   m.URLFile,
		"page_range": flattenList(m.PageRange),
		"summary":    m.Summary,
		"topics":     flattenList(m.Topics),
	}
}

// flattenList serialises a slice to its JSON form, or "" when nil.
func flattenList[T any](v []T) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
