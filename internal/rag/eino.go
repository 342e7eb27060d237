package rag

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"
)

var _ retriever.Retriever = (*EinoRetriever)(nil)

// Metadata keys set on every schema.Document returned by EinoRetriever.
const (
	MetadataDocumentID = payloadDocumentID
	MetadataOrdinal    = payloadOrdinal
)

// EinoRetriever exposes a Retriever bound to one owner as an eino
// retriever.Retriever, so it can be dropped into eino chains and graphs.
type EinoRetriever struct {
	r       *Retriever
	ownerID string
}

// ForOwner returns an eino retriever scoped to ownerID.
func (r *Retriever) ForOwner(ownerID string) *EinoRetriever {
	return &EinoRetriever{r: r, ownerID: ownerID}
}

// Retrieve implements retriever.Retriever. WithTopK and WithScoreThreshold
// are honoured; other common options are ignored.
func (e *EinoRetriever) Retrieve(ctx context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	topK := e.r.defaultTopK
	options := retriever.GetCommonOptions(&retriever.Options{TopK: &topK}, opts...)

	k := e.r.defaultTopK
	if options.TopK != nil && *options.TopK > 0 {
		k = *options.TopK
	}

	matches, err := e.r.Search(ctx, query, e.ownerID, k)
	if err != nil {
		return nil, fmt.Errorf("rag: eino retrieve: %w", err)
	}

	docs := make([]*schema.Document, 0, len(matches))
	for _, m := range matches {
		if m.Text == "" {
			continue
		}
		if options.ScoreThreshold != nil && float64(m.Score) < *options.ScoreThreshold {
			continue
		}
		doc := &schema.Document{
			ID:      m.ID,
			Content: m.Text,
			MetaData: map[string]any{
				MetadataDocumentID: m.DocumentID,
				MetadataOrdinal:    m.Ordinal,
			},
		}
		docs = append(docs, doc.WithScore(float64(m.Score)))
	}
	return docs, nil
}
