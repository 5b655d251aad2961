// Package rag defines the data model and store interfaces for the RAINA
// retrieval pipeline: chunked documents, vector storage, lexical (full-text)
// storage, and embedding. Concrete implementations (Qdrant, Elasticsearch)
// satisfy these interfaces so the retrieval and ingestion layers never depend
// on a specific backend.
package rag

import (
	"context"
	"fmt"
)

// ChunkMetadata is the extracted metadata attached to every chunk.
// PageRange and Topics stay nil when the extraction model did not supply them.
type ChunkMetadata struct {
	// Title is the document title the chunk was extracted from.
	Title string `json:"title"`

	// URLFile is the source URL of the original document.
	URLFile string `json:"url_file"`

	// PageRange is the [start, end] page span, or nil when unknown.
	PageRange []int `json:"page_range"`

	// Summary is a one-to-two sentence summary of the chunk.
	Summary string `json:"summary"`

	// Topics is the list of topic labels assigned by the extraction model.
	Topics []string `json:"topics"`
}

// Chunk is the atomic retrieval unit: a bounded span of a document's text
// plus its extracted metadata. Chunks are immutable once produced —
// reprocessing appends new chunk records, it never patches existing ones.
type Chunk struct {
	// DocID is the stable, title-derived document key.
	DocID string `json:"doc_id"`

	// ChunkID is the ordinal of this chunk within its document.
	// DocID and ChunkID together are globally unique.
	ChunkID int `json:"chunk_id"`

	// ChunkText is the raw chunk text. A chunk is only valid when non-empty.
	ChunkText string `json:"chunk_text"`

	// Metadata holds the extracted title, summary and topics.
	Metadata ChunkMetadata `json:"metadata"`

	// Error marks a synthetic record produced when extraction failed for a
	// segment. Empty on healthy chunks.
	Error string `json:"error,omitempty"`

	// Raw carries the unparseable model response for failed segments.
	Raw string `json:"raw,omitempty"`
}

// Key returns the store identifier for this chunk: "<doc_id>_<chunk_id>".
func (c Chunk) Key() string {
	return fmt.Sprintf("%s_%d", c.DocID, c.ChunkID)
}

// Document is a unit of retrieved knowledge as returned by the stores.
type Document struct {
	// DocID identifies the source document. Retrieval results are
	// deduplicated on this field, first occurrence wins.
	DocID string

	// Text is the text the store indexed for this entry (summary for the
	// vector store, full chunk text for the lexical store).
	Text string

	// FullText is the complete chunk text when available.
	FullText string

	// Metadata holds the flattened chunk metadata (scalar string values).
	Metadata map[string]string

	// Score is the store-reported relevance score. Zero when not computed.
	Score float32
}

// LexicalDoc is the record shape persisted into the lexical store.
type LexicalDoc struct {
	// DocID is the source document key.
	DocID string `json:"doc_id"`

	// ChunkID is the chunk ordinal within the document.
	ChunkID int `json:"chunk_id"`

	// FullText is the complete chunk text indexed for fuzzy search.
	FullText string `json:"full_text"`

	// Metadata holds the flattened chunk metadata.
	Metadata map[string]string `json:"metadata"`
}

// VectorStore persists embeddings and answers nearest-neighbour queries.
// Upsert must be idempotent: concurrent writers may race on the same
// identifier and the later write must be an overwrite, not an error.
// Implementations must be safe to call from multiple goroutines.
type VectorStore interface {
	// Upsert stores or overwrites one entry under the given identifier.
	// Metadata values must already be flattened to scalars.
	Upsert(ctx context.Context, id string, vector []float32, text string, metadata map[string]string) error

	// Query returns the k nearest entries for the query vector, most
	// similar first. A non-nil filter restricts results to entries whose
	// metadata matches every key/value pair.
	Query(ctx context.Context, vector []float32, k int, filter map[string]string) ([]Document, error)

	// Exists reports whether an entry is stored under the identifier.
	Exists(ctx context.Context, id string) (bool, error)

	// ListIDs returns the identifiers of all stored entries.
	ListIDs(ctx context.Context) (map[string]struct{}, error)

	// Close releases any resources held by the store.
	Close() error
}

// LexicalStore persists full chunk texts and answers fuzzy full-text queries.
// It is optional: a nil LexicalStore disables the lexical leg of both the
// write path and retrieval. Implementations must be safe for concurrent use.
type LexicalStore interface {
	// Upsert stores or overwrites one document under the given identifier.
	Upsert(ctx context.Context, id string, doc LexicalDoc) error

	// Exists reports whether a document is stored under the identifier.
	Exists(ctx context.Context, id string) (bool, error)

	// FuzzySearch returns up to k documents matching the text with
	// fuzzy/keyword semantics, best match first.
	FuzzySearch(ctx context.Context, text string, k int) ([]Document, error)

	// Close releases any resources held by the store.
	Close() error
}

// Embedder converts text into dense vector embeddings.
// The returned slice is parallel to the input slice.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// DedupeByDocID removes documents whose DocID was already seen, keeping the
// first occurrence. Survivors keep their relative order.
func DedupeByDocID(docs []Document) []Document {
	seen := make(map[string]struct{}, len(docs))
	unique := make([]Document, 0, len(docs))
	for _, d := range docs {
		if _, ok := seen[d.DocID]; ok {
			continue
		}
		seen[d.DocID] = struct{}{}
		unique = append(unique, d)
	}
	return unique
}
