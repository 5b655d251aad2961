// Package retrieval implements the staged retrieval pipeline: direct
// vector+lexical lookup, fallback through previously successful queries,
// an LLM rewrite of the query, and finally an explicit empty result.
package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/SamanBarahoie/RAINA/internal/llm"
	"github.com/SamanBarahoie/RAINA/internal/metrics"
	"github.com/SamanBarahoie/RAINA/internal/rag"
)

// Stage identifies which retrieval stage produced a result.
type Stage string

const (
	// StageDirect means the query itself matched documents.
	StageDirect Stage = "direct"
	// StageCachedQuery means a similar past query matched documents.
	StageCachedQuery Stage = "cached_query"
	// StageRewrite means an LLM-rewritten query matched documents.
	StageRewrite Stage = "rewrite"
	// StageNone means every stage came back empty.
	StageNone Stage = "none"
)

const rewritePrompt = `پرسش زیر برای جستجو در اسناد نتیجه‌ای نداشت. آن را طوری بازنویسی کن که برای جستجوی معنایی در اسناد فارسی مناسب‌تر باشد. فقط پرسش بازنویسی‌شده را برگردان، بدون هیچ توضیح اضافه.

پرسش: %s`

const decomposePrompt = `پرسش زیر را به چند زیرپرسش مستقل و قابل جستجو تجزیه کن. نتیجه را فقط به صورت یک لیست JSON از رشته‌ها برگردان، بدون هیچ متن اضافه.

پرسش: %s`

// Completer is the slice of the LLM client the orchestrator needs.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

// Result is the outcome of one retrieval run.
type Result struct {
	// Documents are the deduplicated retrieved documents, vector hits
	// before lexical hits, first occurrence per doc_id kept.
	Documents []rag.Document

	// Stage names the stage that produced the documents, or StageNone.
	Stage Stage

	// Query is the query the winning stage actually searched with.
	Query string
}

// Config carries the orchestrator knobs.
type Config struct {
	// TopK is the per-store result count. Defaults to 5.
	TopK int
}

// Orchestrator runs the staged retrieval pipeline over the configured
// stores. The lexical store, query cache, LLM client and metrics are all
// optional; missing pieces disable their stage rather than failing.
type Orchestrator struct {
	vectors  rag.VectorStore
	lexical  rag.LexicalStore
	embedder rag.Embedder
	cache    *QueryCache
	llm      Completer
	metrics  *metrics.Metrics
	log      *slog.Logger
	topK     int
}

// NewOrchestrator wires the pipeline. Vector store and embedder are
// mandatory, everything else degrades gracefully when nil.
func NewOrchestrator(vectors rag.VectorStore, lexical rag.LexicalStore, embedder rag.Embedder, cache *QueryCache, completer Completer, m *metrics.Metrics, log *slog.Logger, cfg Config) (*Orchestrator, error) {
	if vectors == nil {
		return nil, fmt.Errorf("retrieval: vector store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("retrieval: embedder is required")
	}
	if log == nil {
		log = slog.Default()
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = 5
	}
	return &Orchestrator{
		vectors:  vectors,
		lexical:  lexical,
		embedder: embedder,
		cache:    cache,
		llm:      completer,
		metrics:  m,
		log:      log,
		topK:     topK,
	}, nil
}

// Retrieve runs the full fallback chain for one query. An empty result is
// not an error: callers receive StageNone and decide what to tell the user.
// Only authentication failures and context cancellation abort the chain.
func (o *Orchestrator) Retrieve(ctx context.Context, query string) (Result, error) {
	docs, err := o.retrieveAll(ctx, query)
	if err != nil {
		return Result{}, err
	}
	if len(docs) > 0 {
		o.observe(StageDirect)
		o.cacheAdd(ctx, query)
		return Result{Documents: docs, Stage: StageDirect, Query: query}, nil
	}
	return o.fallback(ctx, query)
}

// fallback runs stages two and three for a query whose direct lookup came
// back empty. The original query is what gets cached on success: it is the
// phrasing a future user is likely to repeat.
func (o *Orchestrator) fallback(ctx context.Context, original string) (Result, error) {
	if o.cache != nil {
		if cached, ok := o.cache.FindSimilar(ctx, original); ok && cached != original {
			docs, err := o.retrieveAll(ctx, cached)
			if err != nil {
				return Result{}, err
			}
			if len(docs) > 0 {
				o.observe(StageCachedQuery)
				o.cache.Add(ctx, original)
				return Result{Documents: docs, Stage: StageCachedQuery, Query: cached}, nil
			}
		}
	}

	if o.llm != nil {
		rewritten, err := o.rewrite(ctx, original)
		switch {
		case errors.Is(err, llm.ErrUnauthorized) || ctx.Err() != nil:
			return Result{}, err
		case err != nil:
			o.log.Warn("query rewrite failed", "error", err)
		case rewritten != "" && rewritten != original:
			docs, err := o.retrieveAll(ctx, rewritten)
			if err != nil {
				return Result{}, err
			}
			if len(docs) > 0 {
				o.observe(StageRewrite)
				o.cacheAdd(ctx, original)
				o.cacheAdd(ctx, rewritten)
				return Result{Documents: docs, Stage: StageRewrite, Query: rewritten}, nil
			}
		}
	}

	o.observe(StageNone)
	return Result{Stage: StageNone, Query: original}, nil
}

// RetrieveSubqueries decomposes the query into sub-queries, runs a direct
// lookup per sub-query and unions the results. When the union is empty the
// chain falls through to the cached-query and rewrite stages using the
// original query, not the sub-queries.
func (o *Orchestrator) RetrieveSubqueries(ctx context.Context, query string) (Result, error) {
	subqueries, err := o.decompose(ctx, query)
	if err != nil {
		return Result{}, err
	}

	var union []rag.Document
	for _, sub := range subqueries {
		docs, err := o.retrieveAll(ctx, sub)
		if err != nil {
			return Result{}, err
		}
		union = append(union, docs...)
	}
	union = rag.DedupeByDocID(union)

	if len(union) > 0 {
		o.observe(StageDirect)
		o.cacheAdd(ctx, query)
		return Result{Documents: union, Stage: StageDirect, Query: query}, nil
	}
	return o.fallback(ctx, query)
}

// retrieveAll runs one query against both stores and merges the hits,
// vector results first. A lexical failure degrades to vector-only.
func (o *Orchestrator) retrieveAll(ctx context.Context, query string) ([]rag.Document, error) {
	vectors, err := o.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}
	docs, err := o.vectors.Query(ctx, vectors[0], o.topK, nil)
	if err != nil {
		return nil, fmt.Errorf("retrieval: vector query: %w", err)
	}

	if o.lexical != nil {
		lexDocs, err := o.lexical.FuzzySearch(ctx, query, o.topK)
		if err != nil {
			o.log.Warn("lexical search failed, using vector results only", "error", err)
		} else {
			docs = append(docs, lexDocs...)
		}
	}
	return rag.DedupeByDocID(docs), nil
}

// rewrite asks the LLM for a search-friendlier phrasing of the query.
func (o *Orchestrator) rewrite(ctx context.Context, query string) (string, error) {
	answer, err := o.llm.Complete(ctx, llm.Request{
		Prompt:      fmt.Sprintf(rewritePrompt, query),
		Temperature: 0.3,
		MaxTokens:   256,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(answer), nil
}

// decompose asks the LLM to split the query into independent sub-queries.
// Anything that does not come back as a JSON list of strings falls back to
// the query itself, so decomposition can never lose the original question.
func (o *Orchestrator) decompose(ctx context.Context, query string) ([]string, error) {
	if o.llm == nil {
		return []string{query}, nil
	}
	answer, err := o.llm.Complete(ctx, llm.Request{
		Prompt:      fmt.Sprintf(decomposePrompt, query),
		Temperature: 0.3,
		MaxTokens:   512,
	})
	if errors.Is(err, llm.ErrUnauthorized) || (err != nil && ctx.Err() != nil) {
		return nil, err
	}
	if err != nil {
		o.log.Warn("query decomposition failed, using original query", "error", err)
		return []string{query}, nil
	}

	subqueries := parseSubqueries(answer)
	if len(subqueries) == 0 {
		o.log.Warn("query decomposition returned no usable list, using original query")
		return []string{query}, nil
	}
	return subqueries, nil
}

var jsonListPattern = regexp.MustCompile(`(?s)\[.*\]`)

// parseSubqueries extracts a JSON list of strings from a model answer that
// may wrap it in prose or a code fence.
func parseSubqueries(answer string) []string {
	match := jsonListPattern.FindString(answer)
	if match == "" {
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(match), &list); err != nil {
		return nil
	}
	cleaned := make([]string, 0, len(list))
	for _, q := range list {
		if q = strings.TrimSpace(q); q != "" {
			cleaned = append(cleaned, q)
		}
	}
	return cleaned
}

func (o *Orchestrator) cacheAdd(ctx context.Context, query string) {
	if o.cache != nil {
		o.cache.Add(ctx, query)
	}
}

func (o *Orchestrator) observe(stage Stage) {
	o.metrics.ObserveStage(string(stage))
}
