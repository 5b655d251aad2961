package transform

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/SamanBarahoie/RAINA/internal/llm"
	"github.com/SamanBarahoie/RAINA/internal/rag"
)

// scriptedCompleter replays responses in order and records how often it was
// called.
type scriptedCompleter struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     int
}

func (s *scriptedCompleter) Complete(context.Context, llm.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	if len(s.responses) == 0 {
		return "", fmt.Errorf("no scripted response")
	}
	r := s.responses[0]
	s.responses = s.responses[1:]
	return r, nil
}

func oneChunkResponse(summary string) string {
	return `[{"chunk_text":"متن قطعه","metadata":{"title":"","page_range":[1,2],"summary":"` + summary + `","topics":["موضوع"]}}]`
}

// fixture creates a corpus dir with the named docs and a links index.
func fixture(t *testing.T, docs ...string) (txtDir, linksPath, datasetPath string) {
	t.Helper()
	root := t.TempDir()
	txtDir = filepath.Join(root, "txt")
	if err := os.MkdirAll(txtDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, doc := range docs {
		path := filepath.Join(txtDir, doc+".txt")
		if err := os.WriteFile(path, []byte("محتوای سند "+doc), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	linksPath = filepath.Join(root, "links.json")
	links := `[{"title":"d1","url":"https://example.ir/d1.pdf"}]`
	if err := os.WriteFile(linksPath, []byte(links), 0o644); err != nil {
		t.Fatal(err)
	}

	datasetPath = filepath.Join(root, "out", "dataset.json")
	return txtDir, linksPath, datasetPath
}

func newTestTransformer(t *testing.T, completer Completer, txtDir, linksPath, datasetPath string) *Transformer {
	t.Helper()
	tr, err := New(completer, &Config{
		TxtDir:      txtDir,
		LinksPath:   linksPath,
		DatasetPath: datasetPath,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return tr
}

func Test_ProcessAll_FreshRun(t *testing.T) {
	t.Parallel()
	txtDir, linksPath, datasetPath := fixture(t, "d1", "d2")
	completer := &scriptedCompleter{responses: []string{
		oneChunkResponse("s1"), oneChunkResponse("s2"),
	}}
	tr := newTestTransformer(t, completer, txtDir, linksPath, datasetPath)

	if err := tr.ProcessAll(context.Background()); err != nil {
		t.Fatal(err)
	}

	chunks, err := LoadDataset(datasetPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 2 {
		t.Fatalf("dataset has %d chunks, want 2", len(chunks))
	}
	for _, c := range chunks {
		if c.ChunkID != 0 {
			t.Errorf("chunk %s ordinal = %d, want 0 (first chunk per doc)", c.DocID, c.ChunkID)
		}
		if c.Metadata.Title != c.DocID {
			t.Errorf("empty model title should default to the doc stem, got %q", c.Metadata.Title)
		}
	}
	// Only d1 appears in the links index.
	byDoc := map[string]rag.Chunk{}
	for _, c := range chunks {
		byDoc[c.DocID] = c
	}
	if byDoc["d1"].Metadata.URLFile != "https://example.ir/d1.pdf" {
		t.Errorf("d1 url = %q", byDoc["d1"].Metadata.URLFile)
	}
	if byDoc["d2"].Metadata.URLFile != "" {
		t.Errorf("d2 url = %q, want empty (no link entry)", byDoc["d2"].Metadata.URLFile)
	}
}

func Test_ProcessAll_ResumesWithoutReprocessing(t *testing.T) {
	t.Parallel()
	txtDir, linksPath, datasetPath := fixture(t, "d1", "d2")
	first := &scriptedCompleter{responses: []string{
		oneChunkResponse("s1"), oneChunkResponse("s2"),
	}}
	tr := newTestTransformer(t, first, txtDir, linksPath, datasetPath)
	if err := tr.ProcessAll(context.Background()); err != nil {
		t.Fatal(err)
	}

	// A third document arrives; the resumed run must touch only it.
	if err := os.WriteFile(filepath.Join(txtDir, "d3.txt"), []byte("سند سوم"), 0o644); err != nil {
		t.Fatal(err)
	}
	second := &scriptedCompleter{responses: []string{oneChunkResponse("s3")}}
	tr2 := newTestTransformer(t, second, txtDir, linksPath, datasetPath)
	if err := tr2.ProcessAll(context.Background()); err != nil {
		t.Fatal(err)
	}

	if second.calls != 1 {
		t.Errorf("resumed run made %d extraction calls, want 1 (d1/d2 skipped)", second.calls)
	}
	chunks, err := LoadDataset(datasetPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 3 {
		t.Errorf("dataset has %d chunks, want 3", len(chunks))
	}
}

func Test_ProcessOnly_AppendsWithFreshOrdinals(t *testing.T) {
	t.Parallel()
	txtDir, linksPath, datasetPath := fixture(t, "d1", "d2")
	first := &scriptedCompleter{responses: []string{
		oneChunkResponse("s1"), oneChunkResponse("s2"),
	}}
	tr := newTestTransformer(t, first, txtDir, linksPath, datasetPath)
	if err := tr.ProcessAll(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Reprocess d1 despite its title already being in the dataset.
	second := &scriptedCompleter{responses: []string{oneChunkResponse("retry")}}
	tr2 := newTestTransformer(t, second, txtDir, linksPath, datasetPath)
	if err := tr2.ProcessOnly(context.Background(), []string{"d1"}); err != nil {
		t.Fatal(err)
	}

	chunks, err := LoadDataset(datasetPath)
	if err != nil {
		t.Fatal(err)
	}
	var d1IDs []int
	for _, c := range chunks {
		if c.DocID == "d1" {
			d1IDs = append(d1IDs, c.ChunkID)
		}
	}
	// Append-only: the old chunk stays, the new one gets the next ordinal.
	if !reflect.DeepEqual(d1IDs, []int{0, 1}) {
		t.Errorf("d1 ordinals = %v, want [0 1]", d1IDs)
	}
}

func Test_ProcessAll_ParseFailureBecomesErrorChunk(t *testing.T) {
	t.Parallel()
	txtDir, linksPath, datasetPath := fixture(t, "d1")
	completer := &scriptedCompleter{responses: []string{"این JSON نیست"}}
	tr := newTestTransformer(t, completer, txtDir, linksPath, datasetPath)

	if err := tr.ProcessAll(context.Background()); err != nil {
		t.Fatalf("parse failure must not abort the run: %v", err)
	}

	chunks, err := LoadDataset(datasetPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 {
		t.Fatalf("dataset has %d chunks, want 1 error record", len(chunks))
	}
	c := chunks[0]
	if c.Error == "" {
		t.Error("want the error marker set")
	}
	if c.Raw != "این JSON نیست" {
		t.Errorf("Raw = %q, want the unparseable response preserved", c.Raw)
	}
	if c.DocID != "d1" || c.ChunkID != 0 {
		t.Errorf("error chunk key = %s_%d, want d1_0", c.DocID, c.ChunkID)
	}
}

func Test_ProcessAll_UnauthorizedAborts(t *testing.T) {
	t.Parallel()
	txtDir, linksPath, datasetPath := fixture(t, "d1")
	completer := &scriptedCompleter{err: fmt.Errorf("auth: %w", llm.ErrUnauthorized)}
	tr := newTestTransformer(t, completer, txtDir, linksPath, datasetPath)

	err := tr.ProcessAll(context.Background())
	if !errors.Is(err, llm.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized to abort the run", err)
	}
	if _, statErr := os.Stat(datasetPath); !os.IsNotExist(statErr) {
		t.Error("aborted run must not write a dataset")
	}
}

func Test_ProcessAll_TransientFailureBecomesErrorChunk(t *testing.T) {
	t.Parallel()
	txtDir, linksPath, datasetPath := fixture(t, "d1")
	completer := &scriptedCompleter{err: fmt.Errorf("model overloaded")}
	tr := newTestTransformer(t, completer, txtDir, linksPath, datasetPath)

	if err := tr.ProcessAll(context.Background()); err != nil {
		t.Fatalf("transient failure must not abort the run: %v", err)
	}
	chunks, err := LoadDataset(datasetPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 || chunks[0].Error == "" {
		t.Errorf("chunks = %+v, want one error record", chunks)
	}
}

func Test_SplitWords(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		text string
		size int
		want []string
	}{
		{"empty", "   ", 3, nil},
		{"single segment", "یک دو سه", 5, []string{"یک دو سه"}},
		{"exact boundary", "a b c d", 2, []string{"a b", "c d"}},
		{"remainder", "a b c d e", 2, []string{"a b", "c d", "e"}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := splitWords(tc.text, tc.size)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("splitWords = %v, want %v", got, tc.want)
			}
		})
	}
}

func Test_ResolveURL(t *testing.T) {
	t.Parallel()
	links := map[string]string{
		"راهنمای ثبت‌نام": "https://example.ir/a.pdf",
	}
	if got := resolveURL("راهنمای ثبت‌نام", links); got != "https://example.ir/a.pdf" {
		t.Errorf("exact match failed: %q", got)
	}
	if got := resolveURL("ثبت‌نام", links); got != "https://example.ir/a.pdf" {
		t.Errorf("partial match failed: %q", got)
	}
	if got := resolveURL("نامربوط", links); got != "" {
		t.Errorf("want empty for unknown doc, got %q", got)
	}
}

func Test_NextOrdinals(t *testing.T) {
	t.Parallel()
	chunks := []rag.Chunk{
		{DocID: "d1", ChunkID: 0},
		{DocID: "d1", ChunkID: 4},
		{DocID: "d2", ChunkID: 1},
	}
	got := NextOrdinals(chunks)
	want := map[string]int{"d1": 5, "d2": 2}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("NextOrdinals = %v, want %v", got, want)
	}
}
