package rag

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// Payload keys reserved by the store. Everything else in a point payload is
// caller-supplied metadata.
const (
	payloadText       = "text"
	payloadExternalID = "external_id"
)

// QdrantConfig holds connection parameters for a Qdrant-backed VectorStore.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// VectorSize is the dimensionality of the stored embeddings.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore implements VectorStore backed by a Qdrant collection.
//
// Qdrant point identifiers must be UUIDs or integers, so external chunk keys
// ("<doc_id>_<chunk_id>") are mapped to deterministic SHA-1 UUIDs. The
// original key is kept in the payload and recovered on reads — the same key
// always maps to the same point, which makes Upsert an idempotent overwrite.
type QdrantStore struct {
	client *qdrant.Client
	cfg    *QdrantConfig
}

// NewQdrantStore connects to Qdrant, ensures the target collection exists
// (creating it if necessary), and returns a ready-to-use store.
func NewQdrantStore(ctx context.Context, cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	s := &QdrantStore{client: client, cfg: cfg}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// ensureCollection creates the collection if it does not already exist.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", s.cfg.Collection, err)
	}
	return nil
}

// pointUUID maps an external identifier to its deterministic Qdrant point UUID.
func pointUUID(id string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(id)).String()
}

// Upsert stores or overwrites one entry under the given identifier.
func (s *QdrantStore) Upsert(ctx context.Context, id string, vector []float32, text string, metadata map[string]string) error {
	payload := map[string]any{
		payloadText:       text,
		payloadExternalID: id,
	}
	for k, v := range metadata {
		payload[k] = v
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(pointUUID(id)),
			Vectors: qdrant.NewVectors(vector...),
			Payload: qdrant.NewValueMap(payload),
		}},
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert %q: %w", id, err)
	}
	return nil
}

// Query performs a cosine similarity search and returns the top-k results.
func (s *QdrantStore) Query(ctx context.Context, vector []float32, k int, filter map[string]string) ([]Document, error) {
	limit := uint64(k)

	var qf *qdrant.Filter
	if len(filter) > 0 {
		conditions := make([]*qdrant.Condition, 0, len(filter))
		for field, value := range filter {
			conditions = append(conditions, qdrant.NewMatch(field, value))
		}
		qf = &qdrant.Filter{Must: conditions}
	}

	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		Filter:         qf,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: query failed: %w", err)
	}

	docs := make([]Document, 0, len(results))
	for _, r := range results {
		docs = append(docs, documentFromPayload(r.Payload, r.Score))
	}
	return docs, nil
}

// documentFromPayload rebuilds a Document from a Qdrant point payload.
func documentFromPayload(payload map[string]*qdrant.Value, score float32) Document {
	doc := Document{
		Score:    score,
		Metadata: make(map[string]string),
	}
	for k, v := range payload {
		switch k {
		case payloadText:
			doc.Text = v.GetStringValue()
		case payloadExternalID:
			// Fallback identity for entries stored without a doc_id
			// (query-cache entries, for example).
			if doc.DocID == "" {
				doc.DocID = v.GetStringValue()
			}
		case "doc_id":
			doc.DocID = v.GetStringValue()
			doc.Metadata[k] = v.GetStringValue()
		default:
			doc.Metadata[k] = v.GetStringValue()
		}
	}
	return doc
}

// Exists reports whether an entry is stored under the identifier.
func (s *QdrantStore) Exists(ctx context.Context, id string) (bool, error) {
	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.cfg.Collection,
		Ids:            []*qdrant.PointId{qdrant.NewIDUUID(pointUUID(id))},
		WithPayload:    qdrant.NewWithPayload(false),
	})
	if err != nil {
		return false, fmt.Errorf("qdrant: exists %q: %w", id, err)
	}
	return len(points) > 0, nil
}

// listPageSize is the scroll batch size used by ListIDs.
const listPageSize = 1024

// ListIDs scrolls the whole collection and returns the external identifiers
// of all stored entries.
func (s *QdrantStore) ListIDs(ctx context.Context) (map[string]struct{}, error) {
	ids := make(map[string]struct{})

	limit := uint32(listPageSize)
	selector := qdrant.NewWithPayloadInclude(payloadExternalID)

	var offset *qdrant.PointId
	for {
		// The raw points client is used here because the high-level Scroll
		// wrapper does not expose the next-page offset.
		resp, err := s.client.GetPointsClient().Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: s.cfg.Collection,
			Limit:          &limit,
			Offset:         offset,
			WithPayload:    selector,
		})
		if err != nil {
			return nil, fmt.Errorf("qdrant: scroll failed: %w", err)
		}

		for _, p := range resp.GetResult() {
			if v, ok := p.GetPayload()[payloadExternalID]; ok {
				ids[v.GetStringValue()] = struct{}{}
			}
		}

		offset = resp.GetNextPageOffset()
		if offset == nil {
			return ids, nil
		}
	}
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}
