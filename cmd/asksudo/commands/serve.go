package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/54b3r/asksudo-go/internal/logging"
	"github.com/54b3r/asksudo-go/internal/server"
)

// NewServeCmd constructs the `asksudo serve` command, which starts the HTTP
// API for document registration, ingestion, and retrieval.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the asksudo HTTP API",
		Long: `Start the asksudo HTTP API.

Endpoints:
  GET  /api/health                  liveness
  GET  /api/ready                   readiness (ledger, index, redis, embedder)
  GET  /metrics                     Prometheus metrics
  GET  /api/documents?ownerId=      list an owner's documents
  GET  /api/documents/{id}?ownerId= one document
  POST /api/documents               register and ingest a document
  POST /api/documents/{id}/ingest   re-ingest a document
  POST /api/retrieve                owner-scoped passage retrieval

Set ASKSUDO_API_KEY to require "Authorization: Bearer <key>" on /api/documents
and /api/retrieve. Only http and https source URLs are accepted over HTTP.

Examples:
  asksudo serve
  asksudo serve --port 9090
  INDEX_BACKEND=memory asksudo serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			a, err := newApp(ctx, log, appOptions{})
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer a.Close()

			if !cmd.Flags().Changed("host") {
				host = getEnvOrDefault("SERVER_HOST", host)
			}
			if !cmd.Flags().Changed("port") {
				port = getEnvInt("SERVER_PORT", port)
			}

			pingers := a.pingers()
			srv, err := server.New(server.Deps{
				Documents: a.ledger,
				Ingester:  a.orchestrator,
				Searcher:  a.retriever,
			}, &server.Config{
				Host:             host,
				Port:             port,
				Logger:           log,
				Pingers:          pingers,
				APIKey:           os.Getenv("ASKSUDO_API_KEY"),
				ContextMaxTokens: getEnvInt("CONTEXT_MAX_TOKENS", 0),
				MetricsRegistry:  a.registry,
				MetricsGatherer:  a.registry,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			log.Info("serve starting", slog.Int("readiness_probes", len(pingers)))
			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (env: SERVER_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on (env: SERVER_PORT)")

	return cmd
}
