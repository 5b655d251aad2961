// Package commands defines all Cobra CLI commands for the raina binary.
package commands

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/SamanBarahoie/RAINA/internal/audit"
	"github.com/SamanBarahoie/RAINA/internal/config"
	"github.com/SamanBarahoie/RAINA/internal/logging"
	"github.com/SamanBarahoie/RAINA/internal/metrics"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "raina",
		Short: "RAINA — retrieval-augmented assistant for a Persian document corpus",
		Long: `RAINA turns a directory of extracted .txt documents into a searchable
knowledge base and answers questions over it.

The pipeline runs in stages, each a subcommand:

  transform   chunk documents with an LLM into a JSON dataset
  check       audit the dataset and reprocess failed documents
  ingest      embed chunk summaries into the vector and lexical stores
  ask         answer a question with staged retrieval fallback

Configuration is layered: defaults, then a YAML file (~/.raina/config.yaml),
then environment variables. See 'raina --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// .env is a convenience for local runs; absence is not an error.
			_ = godotenv.Load()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, logging.New())
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Rebuild after config load so LOG_LEVEL/LOG_FORMAT from the
			// YAML file apply, and install as the process default — every
			// subcommand and library fallback logs through slog.Default.
			log := logging.New()
			slog.SetDefault(log)

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			if addr := os.Getenv("METRICS_ADDR"); addr != "" {
				go metrics.ListenAndServe(addr, log)
			}

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.raina/config.yaml)")

	root.AddCommand(
		NewTransformCmd(),
		NewCheckCmd(),
		NewIngestCmd(),
		NewAskCmd(),
		NewVersionCmd(),
	)

	return root
}
