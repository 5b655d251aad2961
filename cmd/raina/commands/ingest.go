package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/SamanBarahoie/RAINA/internal/embedder"
	"github.com/SamanBarahoie/RAINA/internal/ingest"
	"github.com/SamanBarahoie/RAINA/internal/logging"
	"github.com/SamanBarahoie/RAINA/internal/rag"
	"github.com/SamanBarahoie/RAINA/internal/transform"
)

// NewIngestCmd constructs the `raina ingest` command, which embeds the
// chunk dataset into the vector store and indexes it lexically.
func NewIngestCmd() *cobra.Command {
	var datasetPath string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Embed the chunk dataset into the vector and lexical stores",
		Long: `Load the chunk dataset, embed each chunk's summary, and store it in the
Qdrant collection. When ELASTIC_URL is set the full chunk text is also
indexed into Elasticsearch for fuzzy lexical search.

Ingest is idempotent: chunks whose identifier is already stored are
skipped, so re-running after adding documents only writes the new chunks.
Error chunks produced by a failed extraction are never ingested.

Required environment variables:
  QDRANT_HOST         Qdrant server hostname (default: localhost)
  QDRANT_PORT         Qdrant gRPC port (default: 6334)
  QDRANT_COLLECTION   Chunk collection name (default: raina-chunks)
  EMBEDDING_PROVIDER  Embedding backend: ollama, openai (default: ollama)
  ELASTIC_URL         Optional Elasticsearch base URL`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.WithComponent(slog.Default(), "ingest")

			chunks, err := transform.LoadDataset(datasetPath)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			if len(chunks) == 0 {
				return fmt.Errorf("ingest: dataset %s is empty, run 'raina transform' first", datasetPath)
			}

			// Error chunks exist for the auditor, not the index.
			healthy := make([]rag.Chunk, 0, len(chunks))
			for _, c := range chunks {
				if c.Error == "" && c.ChunkText != "" {
					healthy = append(healthy, c)
				}
			}
			log.Info("dataset loaded",
				slog.Int("chunks", len(chunks)),
				slog.Int("ingestable", len(healthy)))

			emb, err := embedder.NewFromEnv()
			if err != nil {
				return fmt.Errorf("ingest: initialise embedder: %w", err)
			}

			vectors, err := openChunkStore(ctx)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer vectors.Close()

			lexical, err := openLexicalStore(ctx, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			if lexical != nil {
				defer lexical.Close()
			}

			writer, err := ingest.NewWriter(emb, vectors, lexical, log, pipelineMetrics())
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			report, err := writer.Store(ctx, healthy)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			fmt.Printf("stored %d, skipped %d, errors %d\n",
				report.Stored, report.Skipped, report.Errors)
			return nil
		},
	}

	cmd.Flags().StringVar(&datasetPath, "dataset", getEnvOrDefault("RAINA_DATASET", defaultDataset), "Chunk dataset JSON file")

	return cmd
}
