package commands

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/SamanBarahoie/RAINA/internal/embedder"
	"github.com/SamanBarahoie/RAINA/internal/generation"
	"github.com/SamanBarahoie/RAINA/internal/llm"
	"github.com/SamanBarahoie/RAINA/internal/logging"
	"github.com/SamanBarahoie/RAINA/internal/retrieval"
	"github.com/SamanBarahoie/RAINA/internal/store"
)

// NewAskCmd constructs the `raina ask` command, the interactive question
// answering entry point over the ingested corpus.
func NewAskCmd() *cobra.Command {
	var session string
	var subqueries bool
	var topK int
	var maxBlocks int
	var maxChars int
	var noHistory bool
	var showSources bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a question over the ingested corpus",
		Long: `Answer a question using staged retrieval: the query itself, then a similar
previously successful query, then an LLM rewrite. By default the question
is first decomposed into sub-queries that are searched independently.

Answers are generated in Persian, grounded in the retrieved chunks and
cited by document. Conversation history is kept per --session in a local
SQLite database unless --no-history is given.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.WithComponent(slog.Default(), "ask")
			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" {
				return fmt.Errorf("ask: question must not be empty")
			}

			m := pipelineMetrics()
			client, err := llm.NewFromEnv(m.ObserveGatewayRetry)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			emb, err := embedder.NewFromEnv()
			if err != nil {
				return fmt.Errorf("ask: initialise embedder: %w", err)
			}

			vectors, err := openChunkStore(ctx)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer vectors.Close()

			queryStore, err := openQueryStore(ctx)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer queryStore.Close()

			lexical, err := openLexicalStore(ctx, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			if lexical != nil {
				defer lexical.Close()
			}

			cache, err := retrieval.NewQueryCache(queryStore, emb, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			orchestrator, err := retrieval.NewOrchestrator(vectors, lexical, emb, cache, client, m, log, retrieval.Config{
				TopK: topK,
			})
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			var history *store.History
			if !noHistory {
				dbPath := getEnvOrDefault("RAINA_HISTORY_DB", store.DefaultDBPath())
				if dbPath != "disabled" {
					history, err = store.Open(dbPath)
					if err != nil {
						log.Warn("history disabled, could not open database", "error", err)
					} else {
						defer history.Close()
					}
				}
			}

			engine, err := generation.NewEngine(orchestrator, client, history, log, generation.Config{
				MaxContextBlocks: maxBlocks,
				MaxContextChars:  maxChars,
			})
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			answer, err := engine.Ask(ctx, session, question, subqueries)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			fmt.Println(answer.Text)
			if showSources && len(answer.Sources) > 0 {
				fmt.Printf("\n[stage: %s, sources: %s]\n",
					answer.Stage, strings.Join(answer.Sources, ", "))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&session, "session", "s", "default", "Conversation session name")
	cmd.Flags().BoolVar(&subqueries, "subqueries", true, "Decompose the question into sub-queries before retrieval")
	cmd.Flags().IntVarP(&topK, "top-k", "k", getEnvInt("RAINA_TOP_K", 5), "Results per store per query")
	cmd.Flags().IntVar(&maxBlocks, "max-context", getEnvInt("RAINA_MAX_CONTEXT_BLOCKS", 5), "Maximum context blocks in the prompt")
	cmd.Flags().IntVar(&maxChars, "max-chars", getEnvInt("RAINA_MAX_CONTEXT_CHARS", 8000), "Maximum total context characters in the prompt")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "Do not read or write conversation history")
	cmd.Flags().BoolVar(&showSources, "sources", false, "Print the retrieval stage and source documents")

	return cmd
}
