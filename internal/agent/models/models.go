// Package models defines the agent profile loaded from agents/*.yaml.
package models

import "time"

// CLIType selects the adapter used to drive the agent's command-line tool.
type CLIType string

const (
	// CLIClaude drives the Claude Code CLI. The role prompt lives in the
	// workspace as CLAUDE.md and is picked up by the CLI itself.
	CLIClaude CLIType = "claude"
	// CLICursor drives the Cursor headless CLI. The role prompt lives in
	// .cursor/rules/role.mdc inside the workspace.
	CLICursor CLIType = "cursor"
	// CLIGeneric drives an arbitrary command. The role prompt is injected
	// into the prompt because no workspace convention can be assumed.
	CLIGeneric CLIType = "generic"
)

// ResponseConfig controls when an agent volunteers a reply.
type ResponseConfig struct {
	AutoRespond       bool     `yaml:"auto_respond" json:"auto_respond"`
	ResponseThreshold float64  `yaml:"response_threshold" json:"response_threshold"` // relevance 0.0 - 1.0
	PriorityKeywords  []string `yaml:"priority_keywords" json:"priority_keywords,omitempty"`
}

// DefaultResponseConfig returns the response policy applied to new profiles.
func DefaultResponseConfig() ResponseConfig {
	return ResponseConfig{
		AutoRespond:       true,
		ResponseThreshold: 0.6,
	}
}

// CLIConfig describes how to invoke the agent's external CLI.
type CLIConfig struct {
	Type           CLIType           `yaml:"cli_type" json:"cli_type"`
	Command        string            `yaml:"command" json:"command,omitempty"` // override; generic requires it
	TimeoutSeconds int               `yaml:"timeout" json:"timeout"`
	ExtraArgs      []string          `yaml:"extra_args" json:"extra_args,omitempty"`
	Env            map[string]string `yaml:"env" json:"env,omitempty"` // merged over the parent env
}

// DefaultCLIConfig returns the CLI settings applied to new profiles.
func DefaultCLIConfig() CLIConfig {
	return CLIConfig{
		Type:           CLIClaude,
		TimeoutSeconds: 300,
	}
}

// Timeout returns the per-invocation timeout as a time.Duration.
func (c *CLIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// AgentProfile is one agent's full configuration. The workspace directory
// is the agent's sandbox: the CLI runs there, the role file lives there,
// and the personal memory files live under it.
type AgentProfile struct {
	AgentID string `yaml:"agent_id" json:"agent_id"`
	Name    string `yaml:"name" json:"name"`
	Avatar  string `yaml:"avatar" json:"avatar,omitempty"`

	WorkspaceDir string `yaml:"workspace_dir" json:"workspace_dir"`
	RepoURL      string `yaml:"repo_url" json:"repo_url,omitempty"`

	// RolePrompt is written into the workspace role file on onboarding;
	// only the generic adapter injects it into the per-call prompt.
	RolePrompt string `yaml:"role_prompt" json:"role_prompt,omitempty"`

	Skills []string `yaml:"skills" json:"skills,omitempty"`

	ResponseConfig ResponseConfig `yaml:"response_config" json:"response_config"`
	CLIConfig      CLIConfig      `yaml:"cli_config" json:"cli_config"`

	MaxOutputTokens int `yaml:"max_output_tokens" json:"max_output_tokens"`
}

// ApplyDefaults fills zero-valued fields so profiles loaded from partial
// YAML behave like freshly onboarded ones.
func (p *AgentProfile) ApplyDefaults() {
	if p.Name == "" {
		p.Name = p.AgentID
	}
	if p.CLIConfig.Type == "" {
		p.CLIConfig.Type = CLIClaude
	}
	if p.CLIConfig.TimeoutSeconds <= 0 {
		p.CLIConfig.TimeoutSeconds = DefaultCLIConfig().TimeoutSeconds
	}
	if p.ResponseConfig.ResponseThreshold <= 0 {
		p.ResponseConfig.ResponseThreshold = DefaultResponseConfig().ResponseThreshold
	}
	if p.MaxOutputTokens <= 0 {
		p.MaxOutputTokens = 2000
	}
}
