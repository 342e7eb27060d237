// Package commands defines all Cobra CLI commands for the asksudo binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/asksudo-go/internal/audit"
	"github.com/54b3r/asksudo-go/internal/config"
	"github.com/54b3r/asksudo-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// envFile holds the --env-file flag value.
var envFile string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "asksudo",
		Short: "asksudo - document ingestion and retrieval for grounded answers",
		Long: `asksudo turns documents (PDFs and text) into an owner-scoped vector index
and retrieves the passages most relevant to a question.

Each document is fetched, extracted, chunked, embedded, and upserted under
its owner. Retrieval only ever returns passages belonging to the requesting
owner.

The embedding provider is selected via EMBEDDING_PROVIDER, a .env file, or a
YAML config file (~/.asksudo/config.yaml). Real environment variables always
win over .env, which wins over YAML.
See 'asksudo --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			if err := config.LoadDotEnv(envFile, log); err != nil {
				return err
			}

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}

			audit.LogCommandStart(log, cmd.Name(), path)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.asksudo/config.yaml)")
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "Path to a .env file (default: ./.env)")

	root.AddCommand(
		NewIngestCmd(),
		NewRetrieveCmd(),
		NewDocumentsCmd(),
		NewServeCmd(),
		NewVersionCmd(),
	)

	return root
}
