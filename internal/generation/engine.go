// Package generation turns retrieved context into an answer: it trims the
// retrieved blocks to the model's budget, builds the grounded prompt and
// calls the chat model, falling back to fixed Persian messages when
// retrieval comes back empty or generation fails.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/SamanBarahoie/RAINA/internal/budget"
	"github.com/SamanBarahoie/RAINA/internal/llm"
	"github.com/SamanBarahoie/RAINA/internal/rag"
	"github.com/SamanBarahoie/RAINA/internal/retrieval"
	"github.com/SamanBarahoie/RAINA/internal/store"
)

const (
	// NoRelevantDocuments is the answer when every retrieval stage is empty.
	NoRelevantDocuments = "هیچ سند مرتبطی یافت نشد."

	// generationFailed is the answer when the model call itself fails.
	generationFailed = "خطا در تولید پاسخ توسط مدل رخ داد."
)

const systemPrompt = `تو یک دستیار پاسخگوی فارسی‌زبان هستی. فقط بر اساس متن‌های زمینه داده‌شده پاسخ بده. اگر پاسخ در متن‌ها نبود، صادقانه بگو که اطلاعات کافی در اسناد موجود نیست. در پایان پاسخ، به اسناد استفاده‌شده ارجاع بده.`

// Answerer is the retrieval surface the engine drives.
type Answerer interface {
	Retrieve(ctx context.Context, query string) (retrieval.Result, error)
	RetrieveSubqueries(ctx context.Context, query string) (retrieval.Result, error)
}

// Config carries the prompt budget knobs.
type Config struct {
	// MaxContextBlocks caps how many retrieved blocks enter the prompt.
	// Defaults to 5.
	MaxContextBlocks int

	// MaxContextChars caps the total context size in characters.
	// Defaults to 8000.
	MaxContextChars int

	// HistoryTurns is how many past messages of the session are replayed.
	// Defaults to 6.
	HistoryTurns int
}

// Answer is one generated response.
type Answer struct {
	// Text is the answer shown to the user.
	Text string

	// Stage names the retrieval stage that supplied the context.
	Stage retrieval.Stage

	// Sources lists the doc_ids of the context blocks, in prompt order.
	Sources []string
}

// Engine runs the retrieve–trim–generate loop.
type Engine struct {
	retriever Answerer
	llm       retrieval.Completer
	history   *store.History
	log       *slog.Logger
	cfg       Config
}

// NewEngine wires an engine. History is optional; nil disables session
// replay and persistence.
func NewEngine(retriever Answerer, completer retrieval.Completer, history *store.History, log *slog.Logger, cfg Config) (*Engine, error) {
	if retriever == nil {
		return nil, fmt.Errorf("generation: retriever is required")
	}
	if completer == nil {
		return nil, fmt.Errorf("generation: llm client is required")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxContextBlocks <= 0 {
		cfg.MaxContextBlocks = 5
	}
	if cfg.MaxContextChars <= 0 {
		cfg.MaxContextChars = 8000
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = 6
	}
	return &Engine{retriever: retriever, llm: completer, history: history, log: log, cfg: cfg}, nil
}

// Ask answers one question. With subqueries enabled the question is
// decomposed before retrieval. The session name keys conversation history;
// empty disables it for this call.
func (e *Engine) Ask(ctx context.Context, session, question string, subqueries bool) (Answer, error) {
	retrieve := e.retriever.Retrieve
	if subqueries {
		retrieve = e.retriever.RetrieveSubqueries
	}
	result, err := retrieve(ctx, question)
	if err != nil {
		return Answer{}, err
	}

	if result.Stage == retrieval.StageNone || len(result.Documents) == 0 {
		answer := Answer{Text: NoRelevantDocuments, Stage: retrieval.StageNone}
		e.record(ctx, session, question, answer.Text)
		return answer, nil
	}

	docs := budget.TrimContexts(result.Documents, e.cfg.MaxContextBlocks, e.cfg.MaxContextChars)
	prompt := BuildPrompt(question, docs)

	history, err := e.sessionMessages(ctx, session)
	if err != nil {
		e.log.Warn("loading session history failed, answering without it", "error", err)
		history = nil
	}

	req := llm.Request{
		System:      systemPrompt,
		Prompt:      prompt,
		Temperature: 0.2,
		MaxTokens:   1024,
	}
	if len(history) > 0 {
		// Messages overrides System/Prompt, so replay the whole turn list.
		messages := make([]llm.Message, 0, len(history)+2)
		messages = append(messages, llm.Message{Role: "system", Content: systemPrompt})
		messages = append(messages, history...)
		messages = append(messages, llm.Message{Role: "user", Content: prompt})
		req.Messages = messages
	}

	text, err := e.llm.Complete(ctx, req)
	if err != nil {
		if errors.Is(err, llm.ErrUnauthorized) || ctx.Err() != nil {
			return Answer{}, err
		}
		e.log.Error("answer generation failed", "error", err, "stage", result.Stage)
		text = generationFailed
	}

	answer := Answer{Text: strings.TrimSpace(text), Stage: result.Stage, Sources: docIDs(docs)}
	e.record(ctx, session, question, answer.Text)
	return answer, nil
}

// BuildPrompt lays out the numbered context blocks and the question. Each
// block is headed by its title and, when known, a markdown link to the
// source file so the model can cite it.
func BuildPrompt(question string, docs []rag.Document) string {
	var b strings.Builder
	b.WriteString("متن‌های زمینه:\n\n")
	for i, d := range docs {
		title := d.Metadata["title"]
		if title == "" {
			title = d.DocID
		}
		fmt.Fprintf(&b, "[%d] ", i+1)
		if url := d.Metadata["url_file"]; url != "" {
			fmt.Fprintf(&b, "[%s](%s)\n", title, url)
		} else {
			fmt.Fprintf(&b, "%s\n", title)
		}
		text := d.FullText
		if text == "" {
			text = d.Text
		}
		b.WriteString(text)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "پرسش: %s", question)
	return b.String()
}

// sessionMessages replays the session's recent turns in chat order.
func (e *Engine) sessionMessages(ctx context.Context, session string) ([]llm.Message, error) {
	if e.history == nil || session == "" {
		return nil, nil
	}
	recent, err := e.history.Recent(ctx, session, e.cfg.HistoryTurns)
	if err != nil {
		return nil, err
	}
	messages := make([]llm.Message, 0, len(recent))
	for _, m := range recent {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	return messages, nil
}

// record persists the turn; history failures never fail the answer.
func (e *Engine) record(ctx context.Context, session, question, answer string) {
	if e.history == nil || session == "" {
		return
	}
	if err := e.history.Append(ctx, session, "user", question); err != nil {
		e.log.Warn("recording question failed", "error", err)
		return
	}
	if err := e.history.Append(ctx, session, "assistant", answer); err != nil {
		e.log.Warn("recording answer failed", "error", err)
	}
}

func docIDs(docs []rag.Document) []string {
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.DocID
	}
	return ids
}
