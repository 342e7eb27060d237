package rag

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
)

// MemoryIndex is an in-process VectorIndex using brute-force cosine
// similarity. It keys records by chunk id exactly like the remote index, so
// it is a faithful stand-in for local runs and tests. It is safe for
// concurrent use.
type MemoryIndex struct {
	mu         sync.RWMutex
	dimensions int
	records    map[string]EmbeddedChunk
}

// NewMemoryIndex returns an empty MemoryIndex. dimensions of 0 accepts the
// first upserted vector's length.
func NewMemoryIndex(dimensions int) *MemoryIndex {
	return &MemoryIndex{
		dimensions: dimensions,
		records:    make(map[string]EmbeddedChunk),
	}
}

// Upsert stores or overwrites one record per chunk id.
func (m *MemoryIndex) Upsert(ctx context.Context, chunks []EmbeddedChunk) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memory index: upsert: %w: %w", ErrIndexWrite, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range chunks {
		if m.dimensions == 0 {
			m.dimensions = len(c.Vector)
		}
		if len(c.Vector) != m.dimensions {
			return fmt.Errorf("memory index: upsert %s: %w: %w: got %d, want %d",
				c.ID(), ErrIndexWrite, ErrDimensionMismatch, len(c.Vector), m.dimensions)
		}
		c.Vector = slices.Clone(c.Vector)
		m.records[c.ID()] = c
	}
	return nil
}

// Query scores the owner's records only and returns the best topK, highest
// score first. Ties are ordered by chunk id.
func (m *MemoryIndex) Query(ctx context.Context, vector []float32, ownerID string, topK int) ([]Match, error) {
	if ownerID == "" {
		return nil, ErrOwnerRequired
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("memory index: query: %w: %w", ErrIndexQuery, err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	matches := make([]Match, 0)
	for id, rec := range m.records {
		if rec.OwnerID != ownerID {
			continue
		}
		matches = append(matches, Match{
			ID:         id,
			DocumentID: rec.DocumentID,
			OwnerID:    rec.OwnerID,
			Ordinal:    rec.Ordinal,
			Text:       rec.Text,
			Score:      cosine(vector, rec.Vector),
		})
	}

	slices.SortFunc(matches, func(a, b Match) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// DeleteDocument removes every record of the document.
func (m *MemoryIndex) DeleteDocument(_ context.Context, documentID string) error {
	m.deleteIf(func(rec EmbeddedChunk) bool { return rec.DocumentID == documentID })
	return nil
}

// DeleteFrom removes the document's records with ordinal >= fromOrdinal.
func (m *MemoryIndex) DeleteFrom(_ context.Context, documentID string, fromOrdinal int) error {
	m.deleteIf(func(rec EmbeddedChunk) bool {
		return rec.DocumentID == documentID && rec.Ordinal >= fromOrdinal
	})
	return nil
}

func (m *MemoryIndex) deleteIf(pred func(EmbeddedChunk) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, rec := range m.records {
		if pred(rec) {
			delete(m.records, id)
		}
	}
}

// Count returns the number of records stored for the document.
func (m *MemoryIndex) Count(_ context.Context, documentID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, rec := range m.records {
		if rec.DocumentID == documentID {
			n++
		}
	}
	return n, nil
}

// IDs returns the sorted chunk ids stored for the document.
func (m *MemoryIndex) IDs(documentID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, rec := range m.records {
		if rec.DocumentID == documentID {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Close is a no-op.
func (m *MemoryIndex) Close() error { return nil }

func cosine(a, b []float32) float32 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := range n {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
