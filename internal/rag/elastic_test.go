package rag

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeElastic is a minimal in-memory Elasticsearch lookalike covering the
// endpoints the store uses: index HEAD/PUT, doc HEAD/PUT, and _search.
type fakeElastic struct {
	mu       sync.Mutex
	index    string
	hasIndex bool
	docs     map[string]json.RawMessage
	searches []string
}

func newFakeElastic(index string) (*fakeElastic, *httptest.Server) {
	f := &fakeElastic{index: index, docs: make(map[string]json.RawMessage)}
	return f, httptest.NewServer(f)
}

func (f *fakeElastic) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.URL.Path == "/"+f.index:
		switch r.Method {
		case http.MethodHead:
			if !f.hasIndex {
				w.WriteHeader(http.StatusNotFound)
			}
		case http.MethodPut:
			f.hasIndex = true
			w.Write([]byte(`{"acknowledged":true}`))
		}

	case r.URL.Path == "/"+f.index+"/_search":
		var body struct {
			Size int `json:"size"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		f.searches = append(f.searches, r.URL.Path)
		hits := make([]map[string]any, 0, len(f.docs))
		for _, raw := range f.docs {
			var doc LexicalDoc
			json.Unmarshal(raw, &doc)
			hits = append(hits, map[string]any{"_score": 1.5, "_source": doc})
			if len(hits) == body.Size {
				break
			}
		}
		json.NewEncoder(w).Encode(map[string]any{
			"hits": map[string]any{"hits": hits},
		})

	case strings.HasPrefix(r.URL.Path, "/"+f.index+"/_doc/"):
		id := strings.TrimPrefix(r.URL.Path, "/"+f.index+"/_doc/")
		switch r.Method {
		case http.MethodHead:
			if _, ok := f.docs[id]; !ok {
				w.WriteHeader(http.StatusNotFound)
			}
		case http.MethodPut:
			var raw json.RawMessage
			if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			f.docs[id] = raw
			w.WriteHeader(http.StatusCreated)
		}

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func Test_NewElasticStore_CreatesMissingIndex(t *testing.T) {
	t.Parallel()
	fake, srv := newFakeElastic("chunks")
	defer srv.Close()

	_, err := NewElasticStore(context.Background(), &ElasticConfig{Host: srv.URL, Index: "chunks"})
	if err != nil {
		t.Fatal(err)
	}
	if !fake.hasIndex {
		t.Error("missing index was not created")
	}
}

func Test_ElasticStore_UpsertAndExists(t *testing.T) {
	t.Parallel()
	fake, srv := newFakeElastic("chunks")
	defer srv.Close()

	s, err := NewElasticStore(context.Background(), &ElasticConfig{Host: srv.URL, Index: "chunks"})
	if err != nil {
		t.Fatal(err)
	}

	ok, err := s.Exists(context.Background(), "d1_0")
	if err != nil || ok {
		t.Fatalf("Exists before upsert = %v, %v", ok, err)
	}

	doc := LexicalDoc{DocID: "d1", ChunkID: 0, FullText: "متن کامل", Metadata: map[string]string{"title": "t"}}
	if err := s.Upsert(context.Background(), "d1_0", doc); err != nil {
		t.Fatal(err)
	}

	ok, err = s.Exists(context.Background(), "d1_0")
	if err != nil || !ok {
		t.Fatalf("Exists after upsert = %v, %v", ok, err)
	}
	if _, stored := fake.docs["d1_0"]; !stored {
		t.Error("document not stored under its identifier")
	}
}

func Test_ElasticStore_FuzzySearch(t *testing.T) {
	t.Parallel()
	_, srv := newFakeElastic("chunks")
	defer srv.Close()

	s, err := NewElasticStore(context.Background(), &ElasticConfig{Host: srv.URL, Index: "chunks"})
	if err != nil {
		t.Fatal(err)
	}
	doc := LexicalDoc{DocID: "d1", ChunkID: 0, FullText: "متن کامل سند"}
	if err := s.Upsert(context.Background(), "d1_0", doc); err != nil {
		t.Fatal(err)
	}

	docs, err := s.FuzzySearch(context.Background(), "متن", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Fatalf("got %d docs, want 1", len(docs))
	}
	got := docs[0]
	if got.DocID != "d1" || got.FullText != "متن کامل سند" || got.Score != 1.5 {
		t.Errorf("doc = %+v", got)
	}
	if got.Metadata == nil {
		t.Error("missing metadata must come back as an empty map, not nil")
	}
}

func Test_ElasticStore_APIKeyHeader(t *testing.T) {
	t.Parallel()
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := NewElasticStore(context.Background(), &ElasticConfig{
		Host: srv.URL, Index: "chunks", APIKey: "c2VjcmV0",
	})
	if err != nil {
		t.Fatal(err)
	}
	if gotAuth != "ApiKey c2VjcmV0" {
		t.Errorf("Authorization = %q, want ApiKey header", gotAuth)
	}
}
