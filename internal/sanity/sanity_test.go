package sanity

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func record(docID string, overrides map[string]any) Record {
	r := Record{
		"doc_id":     docID,
		"chunk_id":   float64(0),
		"chunk_text": "some text",
		"metadata": map[string]any{
			"title":      "t",
			"page_range": []any{float64(1), float64(2)},
			"summary":    "s",
			"topics":     []any{"a"},
		},
	}
	for k, v := range overrides {
		if v == nil {
			delete(r, k)
		} else {
			r[k] = v
		}
	}
	return r
}

func Test_Analyze_CleanDocsOmitted(t *testing.T) {
	t.Parallel()
	failures := Analyze([]Record{record("d1", nil), record("d2", nil)})
	if len(failures) != 0 {
		t.Errorf("want no failures for clean records, got %v", failures)
	}
}

func Test_Analyze_ReasonTaxonomy(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		rec  Record
		want []Reason
	}{
		{
			name: "explicit error marker",
			rec:  record("d", map[string]any{"error": "boom"}),
			want: []Reason{ReasonError},
		},
		{
			name: "missing chunk_text is both missing and empty",
			rec:  record("d", map[string]any{"chunk_text": nil}),
			want: []Reason{ReasonEmptyChunkText, ReasonMissingTopLevel},
		},
		{
			name: "whitespace chunk_text",
			rec:  record("d", map[string]any{"chunk_text": "   "}),
			want: []Reason{ReasonEmptyChunkText},
		},
		{
			name: "metadata not an object",
			rec:  record("d", map[string]any{"metadata": "oops"}),
			want: []Reason{ReasonMissingMetadata},
		},
		{
			name: "metadata missing summary",
			rec: record("d", map[string]any{"metadata": map[string]any{
				"title": "t", "page_range": []any{}, "topics": []any{},
			}}),
			want: []Reason{ReasonMissingMetadata},
		},
		{
			name: "topics is a string",
			rec: record("d", map[string]any{"metadata": map[string]any{
				"title": "t", "page_range": []any{}, "summary": "s", "topics": "a, b",
			}}),
			want: []Reason{ReasonInvalidTopics},
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			failures := Analyze([]Record{tc.rec})
			got := failures["d"]
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("reasons = %v, want %v", got, tc.want)
			}
		})
	}
}

func Test_Analyze_ReasonsAccumulatePerDocument(t *testing.T) {
	t.Parallel()
	records := []Record{
		record("d", map[string]any{"error": "boom"}),
		record("d", map[string]any{"chunk_text": ""}),
		record("d", nil), // one healthy chunk does not clear the document
	}
	failures := Analyze(records)
	want := []Reason{ReasonEmptyChunkText, ReasonError}
	if !reflect.DeepEqual(failures["d"], want) {
		t.Errorf("reasons = %v, want %v", failures["d"], want)
	}
}

func Test_Analyze_MissingDocID(t *testing.T) {
	t.Parallel()
	records := []Record{
		record("d0", nil),
		record("", map[string]any{"doc_id": nil, "chunk_text": ""}),
	}
	failures := Analyze(records)
	got, ok := failures["__missing_docid_chunk_1"]
	if !ok {
		t.Fatalf("want placeholder doc key, got %v", failures)
	}
	want := []Reason{ReasonEmptyChunkText, ReasonMissingTopLevel}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("reasons = %v, want %v", got, want)
	}
}

func Test_BuildReport_Deterministic(t *testing.T) {
	t.Parallel()
	failures := map[string][]Reason{
		"zebra": {ReasonMissingMetadata, ReasonError},
		"alpha": {ReasonEmptyChunkText},
	}
	report := BuildReport(failures)
	if len(report) != 2 {
		t.Fatalf("want 2 entries, got %d", len(report))
	}
	if report[0].DocID != "alpha" || report[1].DocID != "zebra" {
		t.Errorf("entries not sorted by doc_id: %v", report)
	}
	if !reflect.DeepEqual(report[1].Reasons, []string{"error", "missing_metadata"}) {
		t.Errorf("reasons not sorted: %v", report[1].Reasons)
	}
}

func Test_SaveAndLoadReport(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "out", "failed.json")
	failures := map[string][]Reason{"d1": {ReasonError}}

	if err := SaveReport(path, failures); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}
	report, err := LoadReport(path)
	if err != nil {
		t.Fatalf("LoadReport: %v", err)
	}
	if len(report) != 1 || report[0].DocID != "d1" {
		t.Errorf("round-trip mismatch: %v", report)
	}
}

func Test_RetryList(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "known.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	failures := map[string][]Reason{
		"known":   {ReasonError},
		"unknown": {ReasonEmptyChunkText},
	}
	paths, err := RetryList(failures, dir)
	if err != nil {
		t.Fatalf("RetryList: %v", err)
	}
	want := []string{filepath.Join(dir, "known.txt"), "unknown"}
	if !reflect.DeepEqual(paths, want) {
		t.Errorf("paths = %v, want %v", paths, want)
	}
}
