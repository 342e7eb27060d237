package rag

import "errors"

// Pipeline error taxonomy. Callers wrap these with context using %w and
// match them with errors.Is.
var (
	// ErrFetch means the source document was unreachable or answered with a
	// non-success status.
	ErrFetch = errors.New("fetch failed")

	// ErrExtract means the text extractor rejected the source bytes
	// (malformed, encrypted, or unsupported content).
	ErrExtract = errors.New("text extraction failed")

	// ErrEmptyContent means extraction produced no usable text or chunking
	// produced zero chunks.
	ErrEmptyContent = errors.New("no text content found")

	// ErrEmbedding means at least one embedding call failed.
	ErrEmbedding = errors.New("embedding failed")

	// ErrDimensionMismatch means a vector did not have the expected length.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrIndexWrite means an upsert or delete against the vector index failed.
	ErrIndexWrite = errors.New("index write failed")

	// ErrIndexQuery means a nearest-neighbour query against the index failed.
	ErrIndexQuery = errors.New("index query failed")

	// ErrOwnerRequired means a retrieval was attempted without an owner id.
	ErrOwnerRequired = errors.New("owner id is required")

	// ErrDocumentNotFound means the ledger has no record for the document.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrOwnerMismatch means the ledger owner differs from the owner passed
	// to an ingestion call.
	ErrOwnerMismatch = errors.New("document owner mismatch")
)
