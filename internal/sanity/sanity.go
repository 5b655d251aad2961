// Package sanity audits a persisted chunk dataset and labels each document
// with the reasons its chunks are unusable. The output is derived, not
// authoritative: it is regenerated on every audit run and feeds the
// transformer's reprocess pass.
//
// Records are inspected as raw JSON objects rather than typed chunks on
// purpose — half the taxonomy is about records that do not fit the type.
package sanity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Reason labels one way a chunk can be unusable.
type Reason string

// The fixed reason taxonomy. Every reason is checked independently per
// chunk; the union is recorded per document.
const (
	// ReasonError marks a chunk carrying an explicit transformer error.
	ReasonError Reason = "error"
	// ReasonMissingTopLevel marks a chunk lacking a required top-level field.
	ReasonMissingTopLevel Reason = "missing_toplevel"
	// ReasonEmptyChunkText marks a chunk whose text is absent or blank.
	ReasonEmptyChunkText Reason = "empty_chunk_text"
	// ReasonMissingMetadata marks a chunk whose metadata is absent or
	// lacks a required field.
	ReasonMissingMetadata Reason = "missing_metadata"
	// ReasonInvalidTopics marks a chunk whose topics field is not a list.
	ReasonInvalidTopics Reason = "invalid_topics"
)

// requiredTopLevel are the four fields every chunk record must carry.
var requiredTopLevel = []string{"doc_id", "chunk_id", "chunk_text", "metadata"}

// requiredMetadata are the four fields every metadata object must carry.
var requiredMetadata = []string{"title", "page_range", "summary", "topics"}

// Record is one chunk record in raw JSON form.
type Record = map[string]any

// LoadRecords reads a chunk dataset as raw records for auditing.
func LoadRecords(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sanity: read dataset %s: %w", path, err)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("sanity: parse dataset %s: %w", path, err)
	}
	return records, nil
}

// Analyze scans the records and returns, per document, the sorted set of
// reasons its chunks are unusable. Documents with no findings are omitted.
func Analyze(records []Record) map[string][]Reason {
	failures := make(map[string]map[Reason]struct{})

	for i, record := range records {
		docID := docIDOf(record, i)
		reasons := failures[docID]
		if reasons == nil {
			reasons = make(map[Reason]struct{})
			failures[docID] = reasons
		}

		if v, ok := record["error"]; ok && truthy(v) {
			reasons[ReasonError] = struct{}{}
		}

		for _, key := range requiredTopLevel {
			if _, ok := record[key]; !ok {
				reasons[ReasonMissingTopLevel] = struct{}{}
				break
			}
		}

		text, ok := record["chunk_text"].(string)
		if !ok || strings.TrimSpace(text) == "" {
			reasons[ReasonEmptyChunkText] = struct{}{}
		}

		metadata, ok := record["metadata"].(map[string]any)
		if !ok {
			reasons[ReasonMissingMetadata] = struct{}{}
		} else {
			for _, key := range requiredMetadata {
				if _, ok := metadata[key]; !ok {
					reasons[ReasonMissingMetadata] = struct{}{}
					break
				}
			}
			if topics, ok := metadata["topics"]; ok && topics != nil {
				if _, isList := topics.([]any); !isList {
					reasons[ReasonInvalidTopics] = struct{}{}
				}
			}
		}
	}

	// Clean documents are not reported.
	result := make(map[string][]Reason)
	for docID, set := range failures {
		if len(set) == 0 {
			continue
		}
		sorted := make([]Reason, 0, len(set))
		for r := range set {
			sorted = append(sorted, r)
		}
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		result[docID] = sorted
	}
	return result
}

// docIDOf extracts the document key from a record, synthesising a stable
// placeholder when it is absent so the failure still has an address.
func docIDOf(record Record, index int) string {
	if v, ok := record["doc_id"]; ok && v != nil {
		if s := fmt.Sprintf("%v", v); s != "" {
			return s
		}
	}
	return fmt.Sprintf("__missing_docid_chunk_%d", index)
}

// truthy reports whether an error marker is set: non-empty strings and any
// non-nil, non-false, non-zero value count.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case float64:
		return t != 0
	default:
		return true
	}
}

// Failure is one entry of the persisted failure report.
type Failure struct {
	DocID   string   `json:"doc_id"`
	Reasons []string `json:"reasons"`
}

// BuildReport converts an analysis result into its persisted form: entries
// sorted by doc_id, reasons sorted lexically. Determinism here makes audit
// runs diffable.
func BuildReport(failures map[string][]Reason) []Failure {
	report := make([]Failure, 0, len(failures))
	for docID, reasons := range failures {
		rs := make([]string, len(reasons))
		for i, r := range reasons {
			rs[i] = string(r)
		}
		sort.Strings(rs)
		report = append(report, Failure{DocID: docID, Reasons: rs})
	}
	sort.Slice(report, func(i, j int) bool { return report[i].DocID < report[j].DocID })
	return report
}

// SaveReport writes the failure report as indented JSON.
func SaveReport(path string, failures map[string][]Reason) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("sanity: create report dir: %w", err)
	}
	data, err := json.MarshalIndent(BuildReport(failures), "", "  ")
	if err != nil {
		return fmt.Errorf("sanity: marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("sanity: write report %s: %w", path, err)
	}
	return nil
}

// LoadReport reads a previously saved failure report.
func LoadReport(path string) ([]Failure, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sanity: read report %s: %w", path, err)
	}
	var report []Failure
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("sanity: parse report %s: %w", path, err)
	}
	return report, nil
}

// FailedDocIDs returns the sorted document keys named by a failure report.
func FailedDocIDs(report []Failure) []string {
	ids := make([]string, 0, len(report))
	for _, f := range report {
		ids = append(ids, f.DocID)
	}
	sort.Strings(ids)
	return ids
}

// RetryList maps failed documents to their .txt source paths under txtDir.
// Documents without a matching file are returned by bare doc_id so the
// caller can still see them.
func RetryList(failures map[string][]Reason, txtDir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(txtDir, "*.txt"))
	if err != nil {
		return nil, fmt.Errorf("sanity: list %s: %w", txtDir, err)
	}

	byStem := make(map[string]string, len(files))
	for _, f := range files {
		stem := strings.TrimSuffix(filepath.Base(f), filepath.Ext(f))
		byStem[stem] = f
	}

	docIDs := make([]string, 0, len(failures))
	for docID := range failures {
		docIDs = append(docIDs, docID)
	}
	sort.Strings(docIDs)

	paths := make([]string, 0, len(docIDs))
	for _, docID := range docIDs {
		if path, ok := byStem[docID]; ok {
			paths = append(paths, path)
		} else {
			paths = append(paths, docID)
		}
	}
	return paths, nil
}
