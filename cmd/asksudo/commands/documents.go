package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/asksudo-go/internal/ledger"
	"github.com/54b3r/asksudo-go/internal/logging"
)

// NewDocumentsCmd constructs the `asksudo documents` command, which lists
// the ledger rows for one owner. Only the ledger is opened.
func NewDocumentsCmd() *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "documents",
		Short: "List an owner's documents and their ingestion status",
		Example: `  asksudo documents --owner alice
  LEDGER_DSN=postgres://asksudo@db/asksudo asksudo documents --owner alice`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.New()

			owner = strings.TrimSpace(owner)
			if owner == "" {
				return fmt.Errorf("documents: --owner is required")
			}

			store, err := openLedger(ctx, log)
			if err != nil {
				return fmt.Errorf("documents: %w", err)
			}
			defer func() { _ = store.Close() }()

			docs, err := store.ListByOwner(ctx, owner)
			if err != nil {
				return fmt.Errorf("documents: %w", err)
			}
			if docs == nil {
				docs = []*ledger.Document{}
			}
			return printJSON(cmd, docs)
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Owner whose documents are listed (required)")

	return cmd
}
