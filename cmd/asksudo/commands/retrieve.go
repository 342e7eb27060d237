package commands

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/retriever"
	"github.com/spf13/cobra"

	"github.com/54b3r/asksudo-go/internal/logging"
	"github.com/54b3r/asksudo-go/internal/prompt"
	"github.com/54b3r/asksudo-go/internal/rag"
)

// cliPassage is one retrieved chunk as printed by `asksudo retrieve`.
type cliPassage struct {
	ID         string  `json:"id"`
	DocumentID any     `json:"documentId,omitempty"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

// NewRetrieveCmd constructs the `asksudo retrieve` command, which prints the
// passages most relevant to a query for one owner.
func NewRetrieveCmd() *cobra.Command {
	var (
		owner       string
		query       string
		topK        int
		withContext bool
	)

	cmd := &cobra.Command{
		Use:   "retrieve",
		Short: "Retrieve the passages most relevant to a query",
		Long: `Embed --query and return the closest chunks indexed under --owner,
best match first. Passages belonging to other owners are never returned.

With --context the passages are also rendered as the grounding message a
chat model would receive, trimmed to CONTEXT_MAX_TOKENS.

Examples:
  asksudo retrieve --owner alice --query "how do I edit sudoers safely?"
  asksudo retrieve --owner alice --query "visudo" --top-k 3 --context`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			owner = strings.TrimSpace(owner)
			if owner == "" {
				return fmt.Errorf("retrieve: --owner is required")
			}
			if topK < 0 {
				return fmt.Errorf("retrieve: --top-k must not be negative")
			}

			a, err := newApp(ctx, log, appOptions{})
			if err != nil {
				return fmt.Errorf("retrieve: %w", err)
			}
			defer a.Close()

			var opts []retriever.Option
			if topK > 0 {
				opts = append(opts, retriever.WithTopK(topK))
			}
			docs, err := a.retriever.ForOwner(owner).Retrieve(ctx, query, opts...)
			if err != nil {
				return fmt.Errorf("retrieve: %w", err)
			}

			out := struct {
				Passages []cliPassage `json:"passages"`
				Context  string       `json:"context,omitempty"`
			}{Passages: make([]cliPassage, 0, len(docs))}

			texts := make([]string, 0, len(docs))
			for _, d := range docs {
				out.Passages = append(out.Passages, cliPassage{
					ID:         d.ID,
					DocumentID: d.MetaData[rag.MetadataDocumentID],
					Text:       d.Content,
					Score:      d.Score(),
				})
				texts = append(texts, d.Content)
			}
			if withContext {
				if msg := prompt.ContextMessage(texts, getEnvInt("CONTEXT_MAX_TOKENS", 0)); msg != nil {
					out.Context = msg.Content
				}
			}
			return printJSON(cmd, out)
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Owner whose documents are searched (required)")
	cmd.Flags().StringVarP(&query, "query", "q", "", "Question or search text")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Maximum passages to return (default: RETRIEVE_TOP_K or 5)")
	cmd.Flags().BoolVar(&withContext, "context", false, "Also print the rendered grounding context")

	return cmd
}
