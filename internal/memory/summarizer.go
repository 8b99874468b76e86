package memory

import (
	"strings"

	"github.com/agentarena/agentarena/internal/protocol"
)

// snippetMaxChars is how much of each message the digest keeps.
const snippetMaxChars = 100

// Summarizer compacts a span of dialogue into a short digest. It is a
// plain extractive pass; swapping in a model-backed implementation only
// needs to keep the same signature.
type Summarizer struct{}

// SummarizeMessages renders one `- author: snippet` line per message
// under a digest heading. Empty input yields "".
func (Summarizer) SummarizeMessages(messages []protocol.Message) string {
	if len(messages) == 0 {
		return ""
	}

	lines := make([]string, 0, len(messages)+1)
	lines = append(lines, "## 历史摘要")
	for _, msg := range messages {
		author := msg.AuthorName
		if author == "" {
			author = string(msg.Role)
		}
		snippet := msg.Content
		if runes := []rune(snippet); len(runes) > snippetMaxChars {
			snippet = string(runes[:snippetMaxChars]) + "..."
		}
		lines = append(lines, "- "+author+": "+snippet)
	}
	return strings.Join(lines, "\n")
}
