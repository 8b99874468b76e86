// Package models defines the group chat data model.
package models

import "time"

// AuthorType represents who authored a group message.
type AuthorType string

const (
	// AuthorHuman indicates a message from a human user
	AuthorHuman AuthorType = "human"
	// AuthorAgent indicates a message from an AI agent
	AuthorAgent AuthorType = "agent"
	// AuthorSystem indicates a platform-generated notice
	AuthorSystem AuthorType = "system"
)

// MemberType represents the kind of group member.
type MemberType string

const (
	// MemberAgent is a CLI-backed agent member
	MemberAgent MemberType = "agent"
	// MemberHuman is a human participant
	MemberHuman MemberType = "human"
)

// GroupConfig holds per-group orchestration settings. Zero values are
// replaced with defaults when the group is created.
type GroupConfig struct {
	MaxResponders          int    `json:"max_responders"`
	TurnTimeoutSeconds     int    `json:"turn_timeout_seconds"`
	ChainDepthLimit        int    `json:"chain_depth_limit"`
	ReInvokeAlreadyReplied bool   `json:"re_invoke_already_replied"`
	AutoSummaryInterval    int    `json:"auto_summary_interval"`
	SupervisorEnabled      bool   `json:"supervisor_enabled"`
	SupervisorAgentID      string `json:"supervisor_agent_id"`
}

// DefaultGroupConfig returns the config applied to new groups.
func DefaultGroupConfig() GroupConfig {
	return GroupConfig{
		MaxResponders:          5,
		TurnTimeoutSeconds:     120,
		ChainDepthLimit:        5,
		ReInvokeAlreadyReplied: false,
		AutoSummaryInterval:    20,
		SupervisorEnabled:      false,
		SupervisorAgentID:      "supervisor",
	}
}

// ApplyDefaults fills zero-valued fields from the default config.
// Booleans keep their explicit values.
func (c *GroupConfig) ApplyDefaults() {
	def := DefaultGroupConfig()
	if c.MaxResponders <= 0 {
		c.MaxResponders = def.MaxResponders
	}
	if c.TurnTimeoutSeconds <= 0 {
		c.TurnTimeoutSeconds = def.TurnTimeoutSeconds
	}
	if c.ChainDepthLimit <= 0 {
		c.ChainDepthLimit = def.ChainDepthLimit
	}
	if c.AutoSummaryInterval < 0 {
		c.AutoSummaryInterval = def.AutoSummaryInterval
	}
	if c.SupervisorAgentID == "" {
		c.SupervisorAgentID = def.SupervisorAgentID
	}
}

// TurnTimeout returns the per-invocation timeout as a time.Duration.
func (c *GroupConfig) TurnTimeout() time.Duration {
	return time.Duration(c.TurnTimeoutSeconds) * time.Second
}

// Group represents a chat group
type Group struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Config      GroupConfig `json:"config"`
	CreatedAt   time.Time   `json:"created_at"`
}

// GroupMember represents one member of a group. Agent members carry the
// registry agent_id; human members leave it empty.
type GroupMember struct {
	ID          string     `json:"id"`
	GroupID     string     `json:"group_id"`
	Type        MemberType `json:"type"`
	AgentID     string     `json:"agent_id,omitempty"`
	DisplayName string     `json:"display_name"`
	RoleInGroup string     `json:"role_in_group,omitempty"`
	JoinedAt    time.Time  `json:"joined_at"`
}

// Message represents a persisted group message
type Message struct {
	ID          string                   `json:"id"`
	GroupID     string                   `json:"group_id"`
	TurnID      string                   `json:"turn_id,omitempty"`
	AuthorID    string                   `json:"author_id"`
	AuthorType  AuthorType               `json:"author_type"`
	AuthorName  string                   `json:"author_name"`
	Content     string                   `json:"content"`
	Mentions    []string                 `json:"mentions,omitempty"`
	Attachments []map[string]interface{} `json:"attachments,omitempty"`
	Timestamp   time.Time                `json:"timestamp"`
	Metadata    map[string]interface{}   `json:"metadata,omitempty"`
}
