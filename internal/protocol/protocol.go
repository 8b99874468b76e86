// Package protocol defines the contract between the orchestrator and the
// agent worker runtime: the input handed to an agent for one invocation
// and the structured output it returns. These types are storage-agnostic;
// persistence formats live with their owning services.
package protocol

import "time"

// Role identifies who authored a context message from the agent's point
// of view.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// InvocationMode says whether the agent is required to answer or may
// decline after judging relevance.
type InvocationMode string

const (
	// MustReply is used for direct mentions and broadcasts.
	MustReply InvocationMode = "must_reply"
	// MayReply lets the agent decide whether the message concerns it.
	MayReply InvocationMode = "may_reply"
)

// Message is a single conversation message as presented to an agent.
type Message struct {
	ID         string    `json:"id,omitempty"`
	Role       Role      `json:"role"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}

// Peer describes another agent in the same group, shown to the agent so
// it can @-mention collaborators.
type Peer struct {
	AgentID string   `json:"agent_id"`
	Name    string   `json:"name"`
	Skills  []string `json:"skills,omitempty"`
}

// AgentInput is the complete input for one agent invocation: identity,
// role, history window, peers, merged memory and output limits.
type AgentInput struct {
	SessionID string `json:"session_id"`
	TurnID    string `json:"turn_id"`
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name,omitempty"`

	RolePrompt string `json:"role_prompt,omitempty"`

	Invocation  InvocationMode `json:"invocation"`
	MentionedBy string         `json:"mentioned_by,omitempty"`

	Messages      []Message `json:"messages,omitempty"`
	Peers         []Peer    `json:"peers,omitempty"`
	MemoryContext string    `json:"memory_context,omitempty"`

	MaxOutputTokens int  `json:"max_output_tokens"`
	PreferConcise   bool `json:"prefer_concise"`
}

// ToolCall records one tool use reported by the CLI during a call.
type ToolCall struct {
	Name   string `json:"name"`
	Input  string `json:"input,omitempty"`
	Output string `json:"output,omitempty"`
}

// ExecutionMeta carries cost and accounting data for one CLI call.
type ExecutionMeta struct {
	DurationMs   int64      `json:"duration_ms"`
	CostUSD      float64    `json:"cost_usd,omitempty"`
	NumTurns     int        `json:"num_turns,omitempty"`
	InputTokens  int        `json:"input_tokens,omitempty"`
	OutputTokens int        `json:"output_tokens,omitempty"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	IsError      bool       `json:"is_error,omitempty"`
}

// AgentOutput is what one invocation produced. Content still contains
// embedded memory markers; the orchestrator strips them before persisting.
type AgentOutput struct {
	Content      string   `json:"content"`
	NextMentions []string `json:"next_mentions,omitempty"`

	// ShouldRespond is false when a may_reply agent declined.
	ShouldRespond bool `json:"should_respond"`

	ExecutionMeta *ExecutionMeta `json:"execution_meta,omitempty"`

	// PromptSent preserves the exact prompt for the call log.
	PromptSent string `json:"prompt_sent,omitempty"`
}
