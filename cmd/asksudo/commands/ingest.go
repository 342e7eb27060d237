package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/asksudo-go/internal/ingestion"
	"github.com/54b3r/asksudo-go/internal/ledger"
	"github.com/54b3r/asksudo-go/internal/logging"
	"github.com/54b3r/asksudo-go/internal/rag"
)

// NewIngestCmd constructs the `asksudo ingest` command, which registers a
// document (when new) and runs one ingestion attempt for it.
func NewIngestCmd() *cobra.Command {
	var (
		owner    string
		url      string
		id       string
		fileName string
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch, chunk, embed, and index one document",
		Long: `Run one ingestion attempt for a document.

The document is fetched from --url (http, https, file:// or a local path),
its text is extracted (pdftotext for PDFs), split into overlapping chunks,
embedded, and upserted into the vector index under --owner. The ledger
tracks the status: pending, processing, ready, or failed.

When --id names a document that is not yet registered, or --id is omitted,
the document is registered first. Re-running ingest for an existing id
replaces its chunks.

The result is printed as JSON. The command exits non-zero when the attempt
fails.

Relevant environment variables:
  EMBEDDING_PROVIDER   Embedding backend: gemini, ollama, openai, azure (default: gemini)
  INDEX_BACKEND        Vector index: qdrant or memory (default: qdrant)
  LEDGER_DSN           SQLite path or postgres:// DSN (default: ~/.asksudo/ledger.db)
  REDIS_URL            Optional; enables cross-process document locks
  CHUNK_SIZE           Characters per chunk (default: 1000)
  CHUNK_OVERLAP        Characters shared by adjacent chunks (default: 200)

Examples:
  asksudo ingest --owner alice --url https://example.com/sudo-guide.pdf
  asksudo ingest --owner alice --id doc-42 --url ./notes/sudoers.txt`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			owner = strings.TrimSpace(owner)
			url = strings.TrimSpace(url)
			if owner == "" {
				return fmt.Errorf("ingest: --owner is required")
			}
			if url == "" {
				return fmt.Errorf("ingest: --url is required")
			}

			a, err := newApp(ctx, log, appOptions{allowLocalFiles: true})
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer a.Close()

			doc, err := registerDocument(ctx, a.ledger, id, owner, url, fileName)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			res := a.orchestrator.Ingest(ctx, doc.ID, url, owner)
			if err := printJSON(cmd, struct {
				DocumentID string `json:"documentId"`
				ingestion.Result
			}{doc.ID, res}); err != nil {
				return err
			}

			if !res.Success {
				log.Error("ingestion failed", slog.String("document_id", doc.ID), slog.String("error", res.Error))
				return errFailed
			}
			log.Info("ingestion complete",
				slog.String("document_id", doc.ID),
				slog.Int("chunks", res.ChunksProcessed),
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Owner the document's chunks are indexed under (required)")
	cmd.Flags().StringVar(&url, "url", "", "Source URL or local path of the document (required)")
	cmd.Flags().StringVar(&id, "id", "", "Document id; generated when omitted")
	cmd.Flags().StringVar(&fileName, "name", "", "File name to record; inferred from the URL when omitted")

	return cmd
}

// registerDocument returns the ledger row for id, creating it when id is
// empty or unknown.
func registerDocument(ctx context.Context, store *ledger.SQLStore, id, owner, url, fileName string) (*ledger.Document, error) {
	if id != "" {
		doc, err := store.Get(ctx, id)
		switch {
		case err == nil:
			return doc, nil
		case !errors.Is(err, rag.ErrDocumentNotFound):
			return nil, err
		}
	}

	meta := ingestion.InferMetadata(url)
	if fileName == "" {
		fileName = meta.FileName
	}
	return store.Create(ctx, &ledger.Document{
		ID:        id,
		OwnerID:   owner,
		SourceURL: url,
		FileName:  fileName,
		MimeType:  meta.MimeType,
	})
}

// printJSON writes v to the command's stdout as indented JSON.
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
