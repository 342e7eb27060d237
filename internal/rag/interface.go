// Package rag defines the contracts shared by the ingestion and retrieval
// halves of the pipeline: the embedding backend, the vector index, and the
// value types that flow between them. Concrete backends (Qdrant, the
// in-process MemoryIndex) satisfy these interfaces so the orchestrator and
// the retrieval service never depend on a specific index.
package rag

import (
	"context"
	"fmt"

	"github.com/54b3r/asksudo-go/internal/chunker"
)

// EmbeddedChunk is a chunk paired with its embedding vector and the identity
// of the document it belongs to. It lives only between the embed and upsert
// steps of a single ingestion attempt.
type EmbeddedChunk struct {
	// Chunk is the source window and its ordinal.
	chunker.Chunk

	// Vector is the embedding. Every vector in one attempt has the same length.
	Vector []float32

	// DocumentID is the ledger id of the source document.
	DocumentID string

	// OwnerID is the owner the record is filtered by at query time.
	OwnerID string
}

// ID returns the stable external identifier of the record.
func (e EmbeddedChunk) ID() string {
	return ChunkID(e.DocumentID, e.Ordinal)
}

// Match is a single nearest-neighbour result returned by a VectorIndex query.
type Match struct {
	// ID is the external chunk id ("{documentId}-chunk-{ordinal}").
	ID string

	// DocumentID is the document the chunk was cut from.
	DocumentID string

	// OwnerID is the owner stored alongside the vector.
	OwnerID string

	// Ordinal is the chunk position within its document.
	Ordinal int

	// Text is the chunk text. Empty when the payload carried no text.
	Text string

	// Score is the similarity score assigned by the index. Higher is closer.
	Score float32
}

// ChunkID builds the external id for a chunk. Re-ingesting a document
// produces the same ids, so upserts overwrite instead of duplicating.
func ChunkID(documentID string, ordinal int) string {
	return fmt.Sprintf("%s-chunk-%d", documentID, ordinal)
}

// VectorIndex persists embedded chunks and answers owner-filtered
// nearest-neighbour queries. Implementations must be safe to call from
// multiple goroutines.
type VectorIndex interface {
	// Upsert writes or overwrites one record per chunk. Writes are batched;
	// a failing batch aborts the call and earlier batches stay written.
	Upsert(ctx context.Context, chunks []EmbeddedChunk) error

	// Query returns up to topK records closest to vector whose owner equals
	// ownerID. The owner filter is applied by the index itself.
	Query(ctx context.Context, vector []float32, ownerID string, topK int) ([]Match, error)

	// DeleteDocument removes every record of the document.
	DeleteDocument(ctx context.Context, documentID string) error

	// DeleteFrom removes the document's records whose ordinal is >= fromOrdinal.
	DeleteFrom(ctx context.Context, documentID string, fromOrdinal int) error

	// Count returns the number of records stored for the document.
	Count(ctx context.Context, documentID string) (int, error)

	// Close releases any resources held by the index.
	Close() error
}

// Embedder converts text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
