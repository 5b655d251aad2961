package transform

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/SamanBarahoie/RAINA/internal/rag"
)

// LoadDataset reads a chunk dataset from disk. A missing file yields an
// empty dataset — a fresh run and a resumed run share the same code path.
func LoadDataset(path string) ([]rag.Chunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("transform: read dataset %s: %w", path, err)
	}

	var chunks []rag.Chunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return nil, fmt.Errorf("transform: parse dataset %s: %w", path, err)
	}
	return chunks, nil
}

// SaveDataset writes the chunk dataset as indented UTF-8 JSON, creating the
// parent directory if needed.
func SaveDataset(path string, chunks []rag.Chunk) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("transform: create dataset dir: %w", err)
	}

	data, err := json.MarshalIndent(chunks, "", "  ")
	if err != nil {
		return fmt.Errorf("transform: marshal dataset: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("transform: write dataset %s: %w", path, err)
	}
	return nil
}

// ExistingTitles returns the set of document titles already present in the
// dataset. Documents whose stem matches an existing title are skipped on
// resumed runs.
func ExistingTitles(chunks []rag.Chunk) map[string]struct{} {
	titles := make(map[string]struct{}, len(chunks))
	for _, c := range chunks {
		if c.Metadata.Title != "" {
			titles[c.Metadata.Title] = struct{}{}
		}
	}
	return titles
}

// NextOrdinals returns, per document, the next free chunk ordinal: one past
// the highest chunk_id already recorded for that document. Sequencing per
// document keeps "<doc_id>_<chunk_id>" unique across resumed and partial
// runs regardless of processing order.
func NextOrdinals(chunks []rag.Chunk) map[string]int {
	next := make(map[string]int)
	for _, c := range chunks {
		if c.ChunkID >= next[c.DocID] {
			next[c.DocID] = c.ChunkID + 1
		}
	}
	return next
}

// linkEntry is one record of the downloaded-files index.
type linkEntry struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// LoadLinks reads the title→URL index produced by the document downloader.
// A missing file yields an empty index.
func LoadLinks(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("transform: read links %s: %w", path, err)
	}

	var entries []linkEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("transform: parse links %s: %w", path, err)
	}

	index := make(map[string]string, len(entries))
	for _, e := range entries {
		index[e.Title] = e.URL
	}
	return index, nil
}
