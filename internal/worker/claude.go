package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/agentarena/agentarena/internal/agent/models"
	"github.com/agentarena/agentarena/internal/common/logger"
	"github.com/agentarena/agentarena/internal/protocol"
)

const (
	defaultClaudeCommand = "claude"
	// Prompts longer than this go through a temp file; extremely long argv
	// values have been seen truncated or rejected by the OS.
	claudeInlinePromptLimit = 8000

	claudeHealthTimeout = 10 * time.Second
)

// ClaudeAdapter drives the Claude Code CLI in headless mode. The agent's
// role prompt is not part of the chat prompt; the CLI reads it from the
// workspace CLAUDE.md on its own.
type ClaudeAdapter struct {
	command string
	cfg     models.CLIConfig
	logger  *logger.Logger
}

func NewClaudeAdapter(cfg models.CLIConfig, log *logger.Logger) *ClaudeAdapter {
	command := cfg.Command
	if command == "" {
		command = defaultClaudeCommand
	}
	return &ClaudeAdapter{command: command, cfg: cfg, logger: log}
}

func (a *ClaudeAdapter) BuildPrompt(input *protocol.AgentInput) string {
	return BuildChatPrompt(input, false)
}

func (a *ClaudeAdapter) Invoke(ctx context.Context, input *protocol.AgentInput, workspaceDir string) (*protocol.AgentOutput, error) {
	prompt := a.BuildPrompt(input)
	raw, sentinel, duration, err := runJSONPromptCLI(ctx, promptRun{
		command:      a.command,
		prompt:       prompt,
		extraArgs:    a.cfg.ExtraArgs,
		env:          a.cfg.Env,
		timeout:      a.cfg.Timeout(),
		inlineLimit:  claudeInlinePromptLimit,
		workspaceDir: workspaceDir,
	})
	if err != nil {
		return nil, err
	}
	if sentinel != nil {
		a.logger.Warn("claude CLI call failed",
			zap.String("agent_id", input.AgentID),
			zap.String("detail", sentinel.Content))
		sentinel.PromptSent = prompt
		return sentinel, nil
	}
	out := a.ParseOutput(raw, input, prompt, duration)
	return out, nil
}

func (a *ClaudeAdapter) ParseOutput(raw string, input *protocol.AgentInput, prompt string, duration time.Duration) *protocol.AgentOutput {
	content, mentions, shouldRespond := parseReply(raw)
	return &protocol.AgentOutput{
		Content:       content,
		NextMentions:  mentions,
		ShouldRespond: shouldRespond,
		ExecutionMeta: parseClaudeMeta(raw, duration),
		PromptSent:    prompt,
	}
}

// HealthCheck verifies the CLI binary responds to --version.
func (a *ClaudeAdapter) HealthCheck(ctx context.Context, workspaceDir string) bool {
	res, err := runCommand(ctx, []string{a.command, "--version"}, workspaceDir, a.cfg.Env, claudeHealthTimeout)
	if err != nil {
		return false
	}
	return !res.timedOut && res.exitCode == 0
}
