package orchestrator

import (
	"regexp"

	groupmodels "github.com/agentarena/agentarena/internal/group/models"
)

// mentionRe matches @token only after line start or whitespace, so email
// addresses, file paths and code snippets do not register as mentions.
var mentionRe = regexp.MustCompile(`(?:^|\s)@(\S+)`)

// broadcastTokens address every agent member of the group.
var broadcastTokens = map[string]struct{}{
	"all": {},
	"所有人": {},
}

// parseMentions returns the mention tokens in content, in order of
// appearance, without the leading @.
func parseMentions(content string) []string {
	matches := mentionRe.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	tokens := make([]string, 0, len(matches))
	for _, m := range matches {
		tokens = append(tokens, m[1])
	}
	return tokens
}

// resolveMentions maps mention tokens onto the group's agent members.
// A broadcast token selects every agent. Other tokens resolve by exact
// agent ID first, then exact display name; unknown tokens are dropped.
// The result is deduplicated and follows stable member order.
func resolveMentions(tokens []string, members []*groupmodels.GroupMember) (resolved []string, broadcast bool) {
	agentIDs := agentMemberIDs(members)

	byID := make(map[string]struct{}, len(agentIDs))
	for _, id := range agentIDs {
		byID[id] = struct{}{}
	}
	byName := make(map[string]string, len(members))
	for _, m := range members {
		if m.Type == groupmodels.MemberAgent && m.AgentID != "" && m.DisplayName != "" {
			byName[m.DisplayName] = m.AgentID
		}
	}

	selected := make(map[string]struct{})
	for _, token := range tokens {
		if _, ok := broadcastTokens[token]; ok {
			broadcast = true
			continue
		}
		if _, ok := byID[token]; ok {
			selected[token] = struct{}{}
			continue
		}
		if id, ok := byName[token]; ok {
			selected[id] = struct{}{}
		}
	}

	if broadcast {
		return agentIDs, true
	}
	for _, id := range agentIDs {
		if _, ok := selected[id]; ok {
			resolved = append(resolved, id)
		}
	}
	return resolved, false
}

// agentMemberIDs returns the group's agent IDs in stable member order,
// deduplicated.
func agentMemberIDs(members []*groupmodels.GroupMember) []string {
	ids := make([]string, 0, len(members))
	seen := make(map[string]struct{}, len(members))
	for _, m := range members {
		if m.Type != groupmodels.MemberAgent || m.AgentID == "" {
			continue
		}
		if _, dup := seen[m.AgentID]; dup {
			continue
		}
		seen[m.AgentID] = struct{}{}
		ids = append(ids, m.AgentID)
	}
	return ids
}
