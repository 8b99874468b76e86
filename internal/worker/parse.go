package worker

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/agentarena/agentarena/internal/protocol"
)

// nextMentionsRe matches the collaboration marker; (?s) lets it span
// newlines inside the bracketed array.
var nextMentionsRe = regexp.MustCompile(`(?s)<!--NEXT_MENTIONS:(\[.*?\])-->`)

// parseReply extracts the reply text from raw CLI stdout and handles the
// SKIP convention and collaboration markers. The steps are shared across
// adapters:
//
//  1. JSON object: prefer "result", then "content", else the raw text.
//     JSON array: concatenate "text" of type=text blocks.
//     Anything else: raw stdout.
//  2. Content beginning with SKIP declines the reply.
//  3. The last NEXT_MENTIONS marker wins; all of them are stripped.
func parseReply(raw string) (content string, nextMentions []string, shouldRespond bool) {
	content = raw

	var decoded interface{}
	if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
		switch v := decoded.(type) {
		case map[string]interface{}:
			if s, ok := v["result"].(string); ok {
				content = s
			} else if s, ok := v["content"].(string); ok {
				content = s
			}
		case []interface{}:
			var texts []string
			for _, item := range v {
				block, ok := item.(map[string]interface{})
				if !ok {
					continue
				}
				if blockType, _ := block["type"].(string); blockType == "text" {
					text, _ := block["text"].(string)
					texts = append(texts, text)
				}
			}
			if len(texts) > 0 {
				content = strings.Join(texts, "\n")
			}
		}
	}

	if strings.HasPrefix(strings.TrimSpace(content), "SKIP") {
		return "", nil, false
	}

	if matches := nextMentionsRe.FindAllStringSubmatch(content, -1); len(matches) > 0 {
		var ids []string
		if err := json.Unmarshal([]byte(matches[len(matches)-1][1]), &ids); err == nil {
			nextMentions = ids
		}
		content = nextMentionsRe.ReplaceAllString(content, "")
	}

	return strings.TrimSpace(content), nextMentions, true
}

// parseClaudeMeta reads the accounting fields claude's JSON envelope
// carries alongside the result. Fields that are absent stay zero.
func parseClaudeMeta(raw string, duration time.Duration) *protocol.ExecutionMeta {
	meta := &protocol.ExecutionMeta{DurationMs: duration.Milliseconds()}

	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return meta
	}
	if v, ok := decoded["total_cost_usd"].(float64); ok {
		meta.CostUSD = v
	} else if v, ok := decoded["cost_usd"].(float64); ok {
		meta.CostUSD = v
	}
	if v, ok := decoded["num_turns"].(float64); ok {
		meta.NumTurns = int(v)
	}
	if usage, ok := decoded["usage"].(map[string]interface{}); ok {
		if v, ok := usage["input_tokens"].(float64); ok {
			meta.InputTokens = int(v)
		}
		if v, ok := usage["output_tokens"].(float64); ok {
			meta.OutputTokens = int(v)
		}
	}
	if v, ok := decoded["is_error"].(bool); ok && v {
		meta.IsError = true
	}
	return meta
}
