package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/SamanBarahoie/RAINA/internal/llm"
	"github.com/SamanBarahoie/RAINA/internal/logging"
	"github.com/SamanBarahoie/RAINA/internal/sanity"
	"github.com/SamanBarahoie/RAINA/internal/transform"
)

// NewCheckCmd constructs the `raina check` command, which audits the chunk
// dataset and optionally reprocesses the documents that failed.
func NewCheckCmd() *cobra.Command {
	var datasetPath string
	var reportPath string
	var txtDir string
	var linksPath string
	var retry bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Audit the chunk dataset and report failed documents",
		Long: `Scan every record of the chunk dataset for structural problems: explicit
extraction errors, missing required fields, empty chunk texts, broken
metadata, and malformed topic lists. Failures are grouped per document and
written to a JSON report.

With --retry the failed documents are immediately reprocessed through the
extraction model, appending fresh chunks to the dataset. Run 'raina check'
again afterwards to confirm the failures cleared.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.WithComponent(slog.Default(), "check")

			records, err := sanity.LoadRecords(datasetPath)
			if err != nil {
				return fmt.Errorf("check: %w", err)
			}

			failures := sanity.Analyze(records)
			if err := sanity.SaveReport(reportPath, failures); err != nil {
				return fmt.Errorf("check: %w", err)
			}

			log.Info("dataset audited",
				slog.Int("records", len(records)),
				slog.Int("failed_docs", len(failures)),
				slog.String("report", reportPath))

			for _, f := range sanity.BuildReport(failures) {
				fmt.Printf("%s: %v\n", f.DocID, f.Reasons)
			}
			if len(failures) == 0 {
				fmt.Println("no failures found")
				return nil
			}
			if !retry {
				return nil
			}

			m := pipelineMetrics()
			client, err := llm.NewFromEnv(m.ObserveGatewayRetry)
			if err != nil {
				return fmt.Errorf("check: %w", err)
			}

			transformer, err := transform.New(client, &transform.Config{
				TxtDir:      txtDir,
				LinksPath:   linksPath,
				DatasetPath: datasetPath,
			}, log)
			if err != nil {
				return fmt.Errorf("check: %w", err)
			}

			docIDs := sanity.FailedDocIDs(sanity.BuildReport(failures))
			log.Info("reprocessing failed documents", slog.Int("count", len(docIDs)))
			if err := transformer.ProcessOnly(ctx, docIDs); err != nil {
				return fmt.Errorf("check: reprocess: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&datasetPath, "dataset", getEnvOrDefault("RAINA_DATASET", defaultDataset), "Chunk dataset JSON file")
	cmd.Flags().StringVar(&reportPath, "report", getEnvOrDefault("RAINA_REPORT", defaultReport), "Failure report output file")
	cmd.Flags().StringVar(&txtDir, "txt-dir", getEnvOrDefault("RAINA_TXT_DIR", defaultTxtDir), "Directory of .txt source documents (for --retry)")
	cmd.Flags().StringVar(&linksPath, "links", getEnvOrDefault("RAINA_LINKS", defaultLinks), "JSON index mapping document titles to source URLs (for --retry)")
	cmd.Flags().BoolVar(&retry, "retry", false, "Reprocess failed documents through the extraction model")

	return cmd
}
