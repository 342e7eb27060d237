package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// DefaultTopK is the number of passages returned when the caller passes 0.
const DefaultTopK = 5

// Retriever answers owner-scoped semantic queries. It embeds the query with
// the same embedder used for ingestion and delegates the filtered search to
// the index. It is safe for concurrent use.
type Retriever struct {
	embedder    Embedder
	index       VectorIndex
	defaultTopK int
}

// NewRetriever constructs a Retriever. defaultTopK <= 0 selects DefaultTopK.
func NewRetriever(embedder Embedder, index VectorIndex, defaultTopK int) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if index == nil {
		return nil, fmt.Errorf("rag: index must not be nil")
	}
	if defaultTopK <= 0 {
		defaultTopK = DefaultTopK
	}
	return &Retriever{
		embedder:    embedder,
		index:       index,
		defaultTopK: defaultTopK,
	}, nil
}

// Retrieve returns the text of the owner's topK closest chunks, best first.
// Matches without text are dropped. No matches is an empty result, not an
// error. Query failures wrap ErrIndexQuery; embedding failures wrap
// ErrEmbedding.
func (r *Retriever) Retrieve(ctx context.Context, query, ownerID string, topK int) ([]string, error) {
	matches, err := r.Search(ctx, query, ownerID, topK)
	if err != nil {
		return nil, err
	}

	passages := make([]string, 0, len(matches))
	for _, m := range matches {
		if m.Text == "" {
			continue
		}
		passages = append(passages, m.Text)
	}
	return passages, nil
}

// Search is Retrieve with the full match records (ids, ordinals, scores).
func (r *Retriever) Search(ctx context.Context, query, ownerID string, topK int) ([]Match, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("rag: %w", ErrOwnerRequired)
	}
	if strings.TrimSpace(query) == "" {
		return []Match{}, nil
	}
	if topK <= 0 {
		topK = r.defaultTopK
	}

	embeddings, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query: %w", wrapIfMissing(err, ErrEmbedding))
	}
	if len(embeddings) != 1 || len(embeddings[0]) == 0 {
		return nil, fmt.Errorf("rag: %w: embedder returned no vector for the query", ErrEmbedding)
	}

	matches, err := r.index.Query(ctx, embeddings[0], ownerID, topK)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search: %w", wrapIfMissing(err, ErrIndexQuery))
	}

	// Drop anything the index returned for a different owner.
	kept := matches[:0]
	for _, m := range matches {
		if m.OwnerID == ownerID {
			kept = append(kept, m)
		}
	}
	return kept, nil
}

// wrapIfMissing returns err tagged with sentinel unless it already is.
func wrapIfMissing(err, sentinel error) error {
	if errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}
