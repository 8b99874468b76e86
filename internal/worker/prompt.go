package worker

import (
	"fmt"
	"strings"

	"github.com/agentarena/agentarena/internal/protocol"
)

// BuildChatPrompt renders the per-call prompt every adapter sends: roster,
// read-only history, merged memory, the current message, reply rules and
// the collaboration hint. The role prompt is normally delivered through
// the workspace role file; includeRolePrompt is for CLIs that have no
// such convention.
func BuildChatPrompt(input *protocol.AgentInput, includeRolePrompt bool) string {
	var parts []string

	if includeRolePrompt && input.RolePrompt != "" {
		parts = append(parts, "## 你的角色\n"+input.RolePrompt, "")
	}

	label := fmt.Sprintf("(%s)", input.AgentID)
	if input.AgentName != "" {
		label = fmt.Sprintf("「%s」(%s)", input.AgentName, input.AgentID)
	}
	parts = append(parts, fmt.Sprintf("## 当前会话成员\n你是%s。", label))
	if len(input.Peers) > 0 {
		parts = append(parts, "以下是本群的其他成员：")
		for _, peer := range input.Peers {
			skills := "无"
			if len(peer.Skills) > 0 {
				skills = strings.Join(peer.Skills, ", ")
			}
			parts = append(parts, fmt.Sprintf("- %s (%s) — 技能: %s", peer.Name, peer.AgentID, skills))
		}
	}
	parts = append(parts, "")

	if len(input.Messages) > 1 {
		parts = append(parts, "## 对话记录（只读上下文，不要回复这些历史消息）")
		for _, msg := range input.Messages[:len(input.Messages)-1] {
			parts = append(parts, fmt.Sprintf("[%s]: %s", authorLabel(msg), msg.Content))
		}
		parts = append(parts, "")
	}

	if input.MemoryContext != "" {
		parts = append(parts, fmt.Sprintf("## 相关记忆\n%s\n", input.MemoryContext))
	}

	parts = append(parts, "---\n")
	if len(input.Messages) > 0 {
		current := input.Messages[len(input.Messages)-1]
		parts = append(parts,
			"## 当前待回复消息",
			fmt.Sprintf("发送者: %s", authorLabel(current)),
			fmt.Sprintf("内容:\n%s", current.Content))
	}
	parts = append(parts, "\n---\n")

	rules := []string{
		"## 回复规则",
		"1. 只针对「当前待回复消息」回复，「对话记录」仅作为上下文参考，无需特别回复",
	}
	if input.PreferConcise {
		rules = append(rules, "2. 简洁回复，突出关键信息")
	}
	if input.Invocation == protocol.MayReply {
		rules = append(rules, "3. 如果你认为这条消息与你的职责无关，仅回复：SKIP")
	}
	parts = append(parts, strings.Join(rules, "\n"))

	parts = append(parts, "\n## 协作\n"+
		"如果你需要其他同事参与，在回复末尾用这个格式（agent_id 必须来自「当前会话成员」列表）：\n"+
		`<!--NEXT_MENTIONS:["agent_id_1","agent_id_2"]-->`)

	return strings.Join(parts, "\n")
}

func authorLabel(msg protocol.Message) string {
	if msg.AuthorName != "" {
		return msg.AuthorName
	}
	return string(msg.Role)
}
