package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/SamanBarahoie/RAINA/internal/llm"
	"github.com/SamanBarahoie/RAINA/internal/rag"
)

// fakeBackend doubles as embedder and vector store: each query text gets a
// one-element vector encoding its registration index, and Query resolves
// the vector back to the scripted result set for that text.
type fakeBackend struct {
	mu      sync.Mutex
	ids     map[string]int
	byID    map[int]string
	results map[string][]rag.Document
	queried []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		ids:     make(map[string]int),
		byID:    make(map[int]string),
		results: make(map[string][]rag.Document),
	}
}

func (b *fakeBackend) respond(query string, docs ...rag.Document) {
	b.results[query] = docs
}

func (b *fakeBackend) Embed(_ context.Context, texts []string) ([][]float32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, text := range texts {
		id, ok := b.ids[text]
		if !ok {
			id = len(b.ids) + 1
			b.ids[text] = id
			b.byID[id] = text
		}
		out[i] = []float32{float32(id)}
	}
	return out, nil
}

func (b *fakeBackend) Query(_ context.Context, vector []float32, _ int, _ map[string]string) ([]rag.Document, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	text := b.byID[int(vector[0])]
	b.queried = append(b.queried, text)
	return b.results[text], nil
}

func (b *fakeBackend) Upsert(context.Context, string, []float32, string, map[string]string) error {
	return nil
}
func (b *fakeBackend) Exists(context.Context, string) (bool, error) { return false, nil }

func (b *fakeBackend) ListIDs(context.Context) (map[string]struct{}, error) { return nil, nil }

func (b *fakeBackend) Close() error { return nil }

// fakeCacheStore is the vector store behind the query cache: it keeps the
// stored query texts and always returns the first one as "nearest".
type fakeCacheStore struct {
	mu      sync.Mutex
	entries []string
}

func (c *fakeCacheStore) Upsert(_ context.Context, _ string, _ []float32, text string, _ map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, text)
	return nil
}

func (c *fakeCacheStore) Query(context.Context, []float32, int, map[string]string) ([]rag.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) == 0 {
		return nil, nil
	}
	return []rag.Document{{Text: c.entries[0]}}, nil
}

func (c *fakeCacheStore) Exists(context.Context, string) (bool, error) { return false, nil }

func (c *fakeCacheStore) ListIDs(context.Context) (map[string]struct{}, error) { return nil, nil }

func (c *fakeCacheStore) Close() error { return nil }

func (c *fakeCacheStore) cached() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.entries...)
}

// fakeCompleter replays a scripted queue of responses.
type fakeCompleter struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     int
}

func (f *fakeCompleter) Complete(context.Context, llm.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "", fmt.Errorf("no scripted response")
	}
	r := f.responses[0]
	f.responses = f.responses[1:]
	return r, nil
}

func newTestOrchestrator(t *testing.T, backend *fakeBackend, cacheStore *fakeCacheStore, completer Completer) (*Orchestrator, *QueryCache) {
	t.Helper()
	var cache *QueryCache
	if cacheStore != nil {
		var err error
		cache, err = NewQueryCache(cacheStore, backend, nil)
		if err != nil {
			t.Fatal(err)
		}
	}
	o, err := NewOrchestrator(backend, nil, backend, cache, completer, nil, nil, Config{})
	if err != nil {
		t.Fatal(err)
	}
	return o, cache
}

func doc(id string) rag.Document { return rag.Document{DocID: id} }

func Test_Retrieve_DirectHit(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend()
	backend.respond("q", doc("d1"), doc("d2"))
	cacheStore := &fakeCacheStore{}
	completer := &fakeCompleter{}
	o, _ := newTestOrchestrator(t, backend, cacheStore, completer)

	result, err := o.Retrieve(context.Background(), "q")
	if err != nil {
		t.Fatal(err)
	}
	if result.Stage != StageDirect || len(result.Documents) != 2 {
		t.Errorf("result = %+v, want direct hit with 2 docs", result)
	}
	if completer.calls != 0 {
		t.Errorf("LLM called %d times on a direct hit, want 0", completer.calls)
	}
	if got := cacheStore.cached(); len(got) != 1 || got[0] != "q" {
		t.Errorf("cached queries = %v, want [q]", got)
	}
}

func Test_Retrieve_FallsBackToCachedQuery(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend()
	backend.respond("old phrasing", doc("d9"))
	cacheStore := &fakeCacheStore{entries: []string{"old phrasing"}}
	completer := &fakeCompleter{}
	o, _ := newTestOrchestrator(t, backend, cacheStore, completer)

	result, err := o.Retrieve(context.Background(), "new phrasing")
	if err != nil {
		t.Fatal(err)
	}
	if result.Stage != StageCachedQuery {
		t.Fatalf("stage = %s, want cached_query", result.Stage)
	}
	if result.Query != "old phrasing" {
		t.Errorf("winning query = %q, want the cached phrasing", result.Query)
	}
	// The user's own phrasing joins the cache, not just the old one.
	got := cacheStore.cached()
	if len(got) != 2 || got[1] != "new phrasing" {
		t.Errorf("cached queries = %v, want the original appended", got)
	}
}

func Test_Retrieve_FallsBackToRewrite(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend()
	backend.respond("rewritten", doc("d3"))
	cacheStore := &fakeCacheStore{}
	completer := &fakeCompleter{responses: []string{"rewritten"}}
	o, _ := newTestOrchestrator(t, backend, cacheStore, completer)

	result, err := o.Retrieve(context.Background(), "obscure")
	if err != nil {
		t.Fatal(err)
	}
	if result.Stage != StageRewrite || result.Query != "rewritten" {
		t.Errorf("result = %+v, want rewrite stage", result)
	}
	got := cacheStore.cached()
	if len(got) != 2 || got[0] != "obscure" || got[1] != "rewritten" {
		t.Errorf("cached queries = %v, want original and rewritten", got)
	}
}

func Test_Retrieve_EmptyEverywhereIsNotAnError(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend()
	cacheStore := &fakeCacheStore{}
	completer := &fakeCompleter{responses: []string{"still nothing"}}
	o, _ := newTestOrchestrator(t, backend, cacheStore, completer)

	result, err := o.Retrieve(context.Background(), "q")
	if err != nil {
		t.Fatalf("empty retrieval must not error: %v", err)
	}
	if result.Stage != StageNone || len(result.Documents) != 0 {
		t.Errorf("result = %+v, want StageNone with no documents", result)
	}
	if got := cacheStore.cached(); len(got) != 0 {
		t.Errorf("nothing should be cached on a miss, got %v", got)
	}
}

func Test_Retrieve_UnauthorizedAborts(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend()
	completer := &fakeCompleter{err: fmt.Errorf("auth: %w", llm.ErrUnauthorized)}
	o, _ := newTestOrchestrator(t, backend, &fakeCacheStore{}, completer)

	_, err := o.Retrieve(context.Background(), "q")
	if !errors.Is(err, llm.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized to propagate", err)
	}
}

func Test_Retrieve_RewriteFailureDegradesToSentinel(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend()
	completer := &fakeCompleter{err: fmt.Errorf("model overloaded")}
	o, _ := newTestOrchestrator(t, backend, &fakeCacheStore{}, completer)

	result, err := o.Retrieve(context.Background(), "q")
	if err != nil {
		t.Fatalf("transient rewrite failure must not error: %v", err)
	}
	if result.Stage != StageNone {
		t.Errorf("stage = %s, want none", result.Stage)
	}
}

func Test_RetrieveSubqueries_UnionsAndDedupes(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend()
	backend.respond("sub one", doc("d1"), doc("d2"))
	backend.respond("sub two", doc("d2"), doc("d3"))
	cacheStore := &fakeCacheStore{}
	completer := &fakeCompleter{responses: []string{`["sub one", "sub two"]`}}
	o, _ := newTestOrchestrator(t, backend, cacheStore, completer)

	result, err := o.RetrieveSubqueries(context.Background(), "compound question")
	if err != nil {
		t.Fatal(err)
	}
	if result.Stage != StageDirect {
		t.Fatalf("stage = %s, want direct", result.Stage)
	}
	want := []string{"d1", "d2", "d3"}
	if len(result.Documents) != len(want) {
		t.Fatalf("got %d documents, want %d", len(result.Documents), len(want))
	}
	for i, id := range want {
		if result.Documents[i].DocID != id {
			t.Errorf("documents[%d] = %s, want %s (first occurrence order)", i, result.Documents[i].DocID, id)
		}
	}
	if got := cacheStore.cached(); len(got) != 1 || got[0] != "compound question" {
		t.Errorf("cached queries = %v, want the original question", got)
	}
}

func Test_RetrieveSubqueries_EmptyUnionFallsBackWithOriginal(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend()
	backend.respond("old phrasing", doc("d7"))
	cacheStore := &fakeCacheStore{entries: []string{"old phrasing"}}
	completer := &fakeCompleter{responses: []string{`["sub one", "sub two"]`}}
	o, _ := newTestOrchestrator(t, backend, cacheStore, completer)

	result, err := o.RetrieveSubqueries(context.Background(), "compound question")
	if err != nil {
		t.Fatal(err)
	}
	if result.Stage != StageCachedQuery || result.Query != "old phrasing" {
		t.Errorf("result = %+v, want fallback via the cached query", result)
	}
}

func Test_RetrieveSubqueries_UnparseableDecompositionUsesOriginal(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend()
	backend.respond("compound question", doc("d1"))
	completer := &fakeCompleter{responses: []string{"I cannot split this."}}
	o, _ := newTestOrchestrator(t, backend, &fakeCacheStore{}, completer)

	result, err := o.RetrieveSubqueries(context.Background(), "compound question")
	if err != nil {
		t.Fatal(err)
	}
	if result.Stage != StageDirect || len(result.Documents) != 1 {
		t.Errorf("result = %+v, want direct hit with the original query", result)
	}
}

func Test_ParseSubqueries(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		input string
		want  int
	}{
		{"plain list", `["a", "b"]`, 2},
		{"fenced list", "```json\n[\"a\", \"b\", \"c\"]\n```", 3},
		{"prose wrapped", `Here you go: ["one"] hope that helps`, 1},
		{"blank entries dropped", `["a", "  ", ""]`, 1},
		{"not json", "no list here", 0},
		{"non-string entries", `[1, 2]`, 0},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := parseSubqueries(tc.input); len(got) != tc.want {
				t.Errorf("parseSubqueries(%q) = %v, want %d entries", tc.input, got, tc.want)
			}
		})
	}
}
