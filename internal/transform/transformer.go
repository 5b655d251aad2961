// Package transform implements the resumable document transformer: it turns
// raw .txt documents into chunk records via the completion gateway's
// structured-extraction prompt. Documents whose title already appears in the
// output dataset are skipped, so an interrupted run can be restarted without
// recomputing finished work, and a failed subset can be reprocessed alone.
package transform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/SamanBarahoie/RAINA/internal/llm"
	"github.com/SamanBarahoie/RAINA/internal/rag"
)

// systemPrompt instructs the model to act as a Persian RAG data extractor.
const systemPrompt = "شما یک مدل زبانی هستید که برای استخراج داده‌های متنی فارسی برای سیستم‌های بازیابی و پاسخ‌گویی (RAG) طراحی شده‌اید. " +
	"خروجی شما باید شامل چانک‌های متنی معنی‌دار، خلاصه، و متادیتا باشد."

// userPromptTemplate asks for a JSON array of {chunk_text, metadata} objects
// for one text segment. Placeholders: document name, segment text, document
// name (again), maximum words per chunk.
const userPromptTemplate = `عنوان سند: %s
متن سند:
%s

لطفاً متن بالا را به چند چانک منطقی تقسیم کنید (حداکثر %d کلمه) و خروجی را به‌صورت JSON با ساختار زیر تولید کنید:
[
  {
    "chunk_text": "<بخش از متن>",
    "metadata": {
      "title": "%s",
      "page_range": [start_page, end_page] یا null,
      "summary": "<خلاصه ۱ تا ۲ جمله‌ای>",
      "topics": ["موضوع۱", "موضوع۲"]
    }
  }
]

پاسخ باید فقط شامل JSON معتبر باشد و متن اضافی ننویسید.`

// Completer is the completion-gateway capability the transformer needs.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

// Config holds the transformer's input and output locations.
type Config struct {
	// TxtDir is the directory of extracted .txt documents.
	TxtDir string

	// LinksPath is the downloaded-files index mapping titles to source URLs.
	LinksPath string

	// DatasetPath is the output chunk dataset (JSON array).
	DatasetPath string

	// ChunkSize is the maximum words per text segment. Defaults to 400.
	ChunkSize int
}

// Transformer produces chunk records from raw documents. The per-document
// chunk ordinal sequence assumes a single writer per output dataset;
// concurrent runs against the same dataset must be serialised by the caller.
type Transformer struct {
	llm Completer
	cfg *Config
	log *slog.Logger
}

// New constructs a Transformer.
func New(completer Completer, cfg *Config, log *slog.Logger) (*Transformer, error) {
	if completer == nil {
		return nil, fmt.Errorf("transform: completer must not be nil")
	}
	if cfg == nil || cfg.TxtDir == "" || cfg.DatasetPath == "" {
		return nil, fmt.Errorf("transform: TxtDir and DatasetPath must be set")
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 400
	}
	if log == nil {
		log = slog.Default()
	}
	return &Transformer{llm: completer, cfg: cfg, log: log}, nil
}

// ProcessAll processes every .txt document not already present in the
// dataset and appends the resulting chunks.
func (t *Transformer) ProcessAll(ctx context.Context) error {
	return t.run(ctx, nil)
}

// ProcessOnly runs the same pipeline restricted to the named documents,
// regardless of whether they already appear in the dataset. Used to
// reprocess what the failure classifier flagged without a full re-run.
func (t *Transformer) ProcessOnly(ctx context.Context, docIDs []string) error {
	if len(docIDs) == 0 {
		return nil
	}
	only := make(map[string]struct{}, len(docIDs))
	for _, id := range docIDs {
		only[id] = struct{}{}
	}
	return t.run(ctx, only)
}

// run is the shared pipeline. When only is nil, all unprocessed documents
// are handled; otherwise processing is restricted to the named set.
func (t *Transformer) run(ctx context.Context, only map[string]struct{}) error {
	existing, err := LoadDataset(t.cfg.DatasetPath)
	if err != nil {
		// A corrupt dataset must not block reprocessing; start fresh and
		// let the save below replace it.
		t.log.Warn("transform: could not load existing dataset, starting empty",
			slog.String("error", err.Error()))
		existing = nil
	}
	titles := ExistingTitles(existing)
	ordinals := NextOrdinals(existing)

	links, err := LoadLinks(t.cfg.LinksPath)
	if err != nil {
		return err
	}

	files, err := filepath.Glob(filepath.Join(t.cfg.TxtDir, "*.txt"))
	if err != nil {
		return fmt.Errorf("transform: list %s: %w", t.cfg.TxtDir, err)
	}

	var newChunks []rag.Chunk
	skipped := 0

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return err
		}

		doc := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))

		if only != nil {
			if _, ok := only[doc]; !ok {
				continue
			}
		} else if _, ok := titles[doc]; ok {
			t.log.Info("transform: skipping already processed document", slog.String("doc", doc))
			skipped++
			continue
		}

		chunks, err := t.processFile(ctx, file, doc, links, ordinals)
		if err != nil {
			return err
		}
		newChunks = append(newChunks, chunks...)
	}

	if err := SaveDataset(t.cfg.DatasetPath, append(existing, newChunks...)); err != nil {
		return err
	}

	failed := 0
	for _, c := range newChunks {
		if c.Error != "" {
			failed++
		}
	}
	t.log.Info("transform: run complete",
		slog.Int("new_chunks", len(newChunks)),
		slog.Int("skipped_docs", skipped),
		slog.Int("failed_chunks", failed),
		slog.String("dataset", t.cfg.DatasetPath))

	return nil
}

// processFile extracts chunk records from one document. Per-segment
// failures produce a synthetic error-tagged record instead of aborting, so
// every unit of work leaves a trace the failure classifier can find later.
// Only an unauthorized gateway or a cancelled context stops the run.
func (t *Transformer) processFile(ctx context.Context, file, doc string, links map[string]string, ordinals map[string]int) ([]rag.Chunk, error) {
	url := resolveURL(doc, links)

	raw, err := os.ReadFile(file)
	if err != nil {
		t.log.Warn("transform: could not read document",
			slog.String("doc", doc), slog.String("error", err.Error()))
		return []rag.Chunk{t.errorChunk(doc, url, ordinals, err.Error(), "")}, nil
	}

	t.log.Info("transform: processing document", slog.String("doc", doc))

	var chunks []rag.Chunk
	for _, segment := range splitWords(string(raw), t.cfg.ChunkSize) {
		prompt := fmt.Sprintf(userPromptTemplate, doc, segment, t.cfg.ChunkSize, doc)

		response, err := t.llm.Complete(ctx, llm.Request{
			System:      systemPrompt,
			Prompt:      prompt,
			Temperature: 0.3,
			MaxTokens:   2048,
		})
		if err != nil {
			if errors.Is(err, llm.ErrUnauthorized) || ctx.Err() != nil {
				return nil, err
			}
			t.log.Warn("transform: extraction call failed",
				slog.String("doc", doc), slog.String("error", err.Error()))
			chunks = append(chunks, t.errorChunk(doc, url, ordinals, err.Error(), ""))
			continue
		}

		result := ParseChunks(response)
		if result.Err != nil {
			t.log.Warn("transform: extraction response is not valid JSON",
				slog.String("doc", doc), slog.String("error", result.Err.Error()))
			chunks = append(chunks, t.errorChunk(doc, url, ordinals, "JSON parse failed", result.Raw))
			continue
		}

		for _, rc := range result.Chunks {
			chunks = append(chunks, normalizeChunk(rc, doc, url, nextOrdinal(doc, ordinals)))
		}
	}

	return chunks, nil
}

// errorChunk builds the synthetic record emitted for a failed segment.
func (t *Transformer) errorChunk(doc, url string, ordinals map[string]int, cause, raw string) rag.Chunk {
	return rag.Chunk{
		DocID:   doc,
		ChunkID: nextOrdinal(doc, ordinals),
		Metadata: rag.ChunkMetadata{
			Title:   doc,
			URLFile: url,
		},
		Error: cause,
		Raw:   raw,
	}
}

// nextOrdinal hands out the next chunk ordinal for a document.
func nextOrdinal(doc string, ordinals map[string]int) int {
	n := ordinals[doc]
	ordinals[doc] = n + 1
	return n
}

// normalizeChunk converts a model-emitted chunk into the dataset record.
func normalizeChunk(rc RawChunk, doc, url string, ordinal int) rag.Chunk {
	title := rc.Metadata.Title
	if title == "" {
		title = doc
	}
	topics := rc.Metadata.Topics
	if topics == nil {
		topics = []string{}
	}
	return rag.Chunk{
		DocID:     doc,
		ChunkID:   ordinal,
		ChunkText: rc.ChunkText,
		Metadata: rag.ChunkMetadata{
			Title:     title,
			URLFile:   url,
			PageRange: rc.Metadata.PageRange,
			Summary:   rc.Metadata.Summary,
			Topics:    topics,
		},
	}
}

// resolveURL matches a document stem against the link index, tolerating
// partial title matches in either direction.
func resolveURL(doc string, links map[string]string) string {
	if url, ok := links[doc]; ok {
		return url
	}
	for title, url := range links {
		if strings.Contains(title, doc) || strings.Contains(doc, title) {
			return url
		}
	}
	return ""
}

// splitWords splits text into segments of at most size words, no overlap.
func splitWords(text string, size int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var segments []string
	for start := 0; start < len(words); start += size {
		end := start + size
		if end > len(words) {
			end = len(words)
		}
		segments = append(segments, strings.Join(words[start:end], " "))
	}
	return segments
}
