package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ElasticConfig holds connection parameters for an Elasticsearch-backed
// LexicalStore.
type ElasticConfig struct {
	// Host is the Elasticsearch base URL (e.g. "http://localhost:9200").
	Host string

	// Index is the index name to use.
	Index string

	// APIKey is the optional base64 API key for authenticated clusters.
	APIKey string

	// Timeout is the per-request HTTP timeout. Defaults to 30s if zero.
	Timeout time.Duration
}

// ElasticStore implements LexicalStore against the Elasticsearch REST API
// via plain HTTP — no SDK dependency is required. It is safe for
// concurrent use.
type ElasticStore struct {
	host   string
	index  string
	apiKey string
	client *http.Client
}

// NewElasticStore creates the store, ensuring the target index exists.
func NewElasticStore(ctx context.Context, cfg *ElasticConfig) (*ElasticStore, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("elastic: host must not be empty")
	}
	if cfg.Index == "" {
		return nil, fmt.Errorf("elastic: index must not be empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	s := &ElasticStore{
		host:   strings.TrimRight(cfg.Host, "/"),
		index:  cfg.Index,
		apiKey: cfg.APIKey,
		client: &http.Client{Timeout: timeout},
	}
	if err := s.ensureIndex(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// ensureIndex creates the index if it does not already exist.
func (s *ElasticStore) ensureIndex(ctx context.Context) error {
	status, _, err := s.do(ctx, http.MethodHead, "/"+url.PathEscape(s.index), nil)
	if err != nil {
		return fmt.Errorf("elastic: check index %q: %w", s.index, err)
	}
	if status == http.StatusOK {
		return nil
	}
	if status != http.StatusNotFound {
		return fmt.Errorf("elastic: check index %q: HTTP %d", s.index, status)
	}

	status, body, err := s.do(ctx, http.MethodPut, "/"+url.PathEscape(s.index), nil)
	if err != nil {
		return fmt.Errorf("elastic: create index %q: %w", s.index, err)
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("elastic: create index %q: HTTP %d: %s", s.index, status, body)
	}
	return nil
}

// Upsert stores or overwrites one document under the given identifier.
func (s *ElasticStore) Upsert(ctx context.Context, id string, doc LexicalDoc) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("elastic: marshal document %q: %w", id, err)
	}

	path := s.docPath(id)
	status, body, err := s.do(ctx, http.MethodPut, path, payload)
	if err != nil {
		return fmt.Errorf("elastic: upsert %q: %w", id, err)
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("elastic: upsert %q: HTTP %d: %s", id, status, body)
	}
	return nil
}

// Exists reports whether a document is stored under the identifier.
func (s *ElasticStore) Exists(ctx context.Context, id string) (bool, error) {
	status, _, err := s.do(ctx, http.MethodHead, s.docPath(id), nil)
	if err != nil {
		return false, fmt.Errorf("elastic: exists %q: %w", id, err)
	}
	switch status {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("elastic: exists %q: HTTP %d", id, status)
	}
}

// esSearchRequest is the JSON body sent to the _search endpoint.
type esSearchRequest struct {
	Size   int             `json:"size"`
	Source []string        `json:"_source"`
	Query  json.RawMessage `json:"query"`
}

// esSearchResponse is the subset of the _search response consumed here.
type esSearchResponse struct {
	Hits struct {
		Hits []struct {
			Score  float32    `json:"_score"`
			Source LexicalDoc `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// FuzzySearch runs a fuzzy match query over the indexed full texts and
// returns up to k documents, best match first.
func (s *ElasticStore) FuzzySearch(ctx context.Context, text string, k int) ([]Document, error) {
	match, err := json.Marshal(map[string]any{
		"match": map[string]any{
			"full_text": map[string]any{
				"query":     text,
				"fuzziness": "AUTO",
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("elastic: marshal query: %w", err)
	}

	payload, err := json.Marshal(esSearchRequest{
		Size:   k,
		Source: []string{"doc_id", "chunk_id", "full_text", "metadata"},
		Query:  match,
	})
	if err != nil {
		return nil, fmt.Errorf("elastic: marshal search request: %w", err)
	}

	path := "/" + url.PathEscape(s.index) + "/_search"
	status, body, err := s.do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return nil, fmt.Errorf("elastic: search: %w", err)
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("elastic: search: HTTP %d: %s", status, body)
	}

	var result esSearchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("elastic: decode search response: %w", err)
	}

	docs := make([]Document, 0, len(result.Hits.Hits))
	for _, h := range result.Hits.Hits {
		meta := h.Source.Metadata
		if meta == nil {
			meta = make(map[string]string)
		}
		docs = append(docs, Document{
			DocID:    h.Source.DocID,
			Text:     h.Source.FullText,
			FullText: h.Source.FullText,
			Metadata: meta,
			Score:    h.Score,
		})
	}
	return docs, nil
}

// Close releases no resources; the HTTP client is stateless.
func (s *ElasticStore) Close() error {
	return nil
}

// docPath returns the REST path for a document identifier.
func (s *ElasticStore) docPath(id string) string {
	return "/" + url.PathEscape(s.index) + "/_doc/" + url.PathEscape(id)
}

// do performs one HTTP request against the cluster and returns the status
// code and response body.
func (s *ElasticStore) do(ctx context.Context, method, path string, payload []byte) (int, []byte, error) {
	var reader *bytes.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.host+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "ApiKey "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, buf.Bytes(), nil
}
