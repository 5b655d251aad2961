package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/SamanBarahoie/RAINA/internal/llm"
	"github.com/SamanBarahoie/RAINA/internal/logging"
	"github.com/SamanBarahoie/RAINA/internal/transform"
)

// NewTransformCmd constructs the `raina transform` command, which chunks
// the .txt corpus into the JSON dataset using the extraction model.
func NewTransformCmd() *cobra.Command {
	var txtDir string
	var linksPath string
	var datasetPath string
	var chunkSize int

	cmd := &cobra.Command{
		Use:   "transform",
		Short: "Chunk .txt documents into the JSON dataset with an LLM",
		Long: `Read every .txt document under the corpus directory, segment it, and ask
the extraction model to produce chunk records with summaries and topics.

The run is resumable: documents whose title already appears in the dataset
are skipped, and chunk ordinals continue from the highest one stored per
document. Failed segments are recorded as error chunks so 'raina check'
can flag them for reprocessing.

Required environment variables:
  OPENAI_API_KEY or OPENROUTER_API_KEY   chat model credentials
  MODEL_NAME                             chat model (default: gpt-4o-mini)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.WithComponent(slog.Default(), "transform")
			m := pipelineMetrics()

			client, err := llm.NewFromEnv(m.ObserveGatewayRetry)
			if err != nil {
				return fmt.Errorf("transform: %w", err)
			}

			transformer, err := transform.New(client, &transform.Config{
				TxtDir:      txtDir,
				LinksPath:   linksPath,
				DatasetPath: datasetPath,
				ChunkSize:   chunkSize,
			}, log)
			if err != nil {
				return fmt.Errorf("transform: %w", err)
			}

			if err := transformer.ProcessAll(ctx); err != nil {
				return fmt.Errorf("transform: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&txtDir, "txt-dir", getEnvOrDefault("RAINA_TXT_DIR", defaultTxtDir), "Directory of .txt source documents")
	cmd.Flags().StringVar(&linksPath, "links", getEnvOrDefault("RAINA_LINKS", defaultLinks), "JSON index mapping document titles to source URLs")
	cmd.Flags().StringVar(&datasetPath, "dataset", getEnvOrDefault("RAINA_DATASET", defaultDataset), "Chunk dataset JSON file")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 400, "Maximum words per text segment")

	return cmd
}
