// Package prompt assembles retrieved passages into the system message that
// grounds an answer in the owner's documents.
package prompt

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/asksudo-go/internal/budget"
)

// Instructions precede the numbered passages in the context message.
const Instructions = `You are AskSudo, a teaching assistant. Answer using ONLY the excerpts below, taken from the user's uploaded documents. Do not use outside knowledge. If the excerpts do not contain the answer, say that the information is not in their documents.`

// passageOverhead approximates the tokens spent on "[n] " and separators.
const passageOverhead = 3

// ContextMessage builds a system message carrying instructions and the
// passages numbered best first. Lower-ranked passages are dropped to fit
// maxTokens (budget.DefaultMaxContextTokens when <= 0). It returns nil when
// there are no passages, which callers treat as the ungrounded path.
func ContextMessage(passages []string, maxTokens int) *schema.Message {
	kept := make([]string, 0, len(passages))
	for _, p := range passages {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	if maxTokens <= 0 {
		maxTokens = budget.DefaultMaxContextTokens
	}
	kept = budget.TrimPassages(kept, budget.Estimate(Instructions), passageOverhead, maxTokens)

	var b strings.Builder
	b.WriteString(Instructions)
	b.WriteString("\n\nExcerpts:")
	for i, p := range kept {
		fmt.Fprintf(&b, "\n\n[%d] %s", i+1, p)
	}
	return schema.SystemMessage(b.String())
}
