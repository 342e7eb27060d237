// Package budget provides token budget estimation and passage trimming for
// prompt context. Embedding and chat backends use different tokenizers, so
// this package uses a conservative character heuristic: 1 token ≈ 4
// characters of English prose.
package budget

import (
	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default budget for retrieved context.
	// Five default-sized chunks fit with room to spare.
	DefaultMaxContextTokens = 3000
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for a slice of
// schema.Message values, summing role + content for each message.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		// Each message has a small per-message overhead (~4 tokens in most APIs).
		total += 4
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// TrimPassages drops passages from the end of a best-first list until
// overhead plus the estimated passage tokens fit within maxTokens. perPassage
// is the fixed cost of each passage's framing (numbering, separators).
//
// The highest-ranked passage is never dropped, even if it alone exceeds the
// budget; callers decide whether to truncate it. A maxTokens <= 0 disables
// trimming.
func TrimPassages(passages []string, overhead, perPassage, maxTokens int) []string {
	if maxTokens <= 0 || len(passages) <= 1 {
		return passages
	}

	total := overhead
	for i, p := range passages {
		total += perPassage + Estimate(p)
		if total > maxTokens && i > 0 {
			return passages[:i]
		}
	}
	return passages
}
