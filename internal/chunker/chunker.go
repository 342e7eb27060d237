// Package chunker splits extracted document text into overlapping,
// fixed-size windows. Split is a pure function: the same input always yields
// the same chunks and ordinals, which the vector index relies on for stable
// record ids across re-ingestion.
package chunker

import "strings"

const (
	// DefaultSize is the window length in characters.
	DefaultSize = 1000

	// DefaultOverlap is the number of characters shared by consecutive windows.
	DefaultOverlap = 200
)

// Chunk is one window of normalized document text.
type Chunk struct {
	// Text is the trimmed window content. Never empty.
	Text string

	// Ordinal is the dense position of the chunk among emitted chunks,
	// starting at 0.
	Ordinal int
}

// Split normalizes whitespace in text and cuts it into windows of size runes
// advancing by size-overlap. size <= 0 selects DefaultSize, a negative
// overlap is treated as 0, and an overlap >= size is clamped to size-1 so
// the window always moves forward. Empty or whitespace-only text yields nil.
func Split(text string, size, overlap int) []Chunk {
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}

	runes := []rune(Normalize(text))
	if len(runes) == 0 {
		return nil
	}

	stride := size - overlap
	chunks := make([]Chunk, 0, len(runes)/stride+1)

	for start := 0; start < len(runes); start += stride {
		end := min(start+size, len(runes))

		if window := strings.TrimSpace(string(runes[start:end])); window != "" {
			chunks = append(chunks, Chunk{Text: window, Ordinal: len(chunks)})
		}

		if end >= len(runes) {
			break
		}
	}

	return chunks
}

// Normalize collapses every run of whitespace into a single space and trims
// both ends.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
