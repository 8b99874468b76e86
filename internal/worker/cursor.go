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
	defaultCursorCommand    = "cursor-agent"
	cursorInlinePromptLimit = 6000

	cursorHealthTimeout = 15 * time.Second
)

// CursorAdapter drives the Cursor headless CLI. The role prompt lives in
// the workspace under .cursor/rules/role.mdc, so the chat prompt carries
// only the conversation itself.
type CursorAdapter struct {
	command string
	cfg     models.CLIConfig
	logger  *logger.Logger
}

func NewCursorAdapter(cfg models.CLIConfig, log *logger.Logger) *CursorAdapter {
	command := cfg.Command
	if command == "" {
		command = defaultCursorCommand
	}
	return &CursorAdapter{command: command, cfg: cfg, logger: log}
}

func (a *CursorAdapter) BuildPrompt(input *protocol.AgentInput) string {
	return BuildChatPrompt(input, false)
}

func (a *CursorAdapter) Invoke(ctx context.Context, input *protocol.AgentInput, workspaceDir string) (*protocol.AgentOutput, error) {
	prompt := a.BuildPrompt(input)
	raw, sentinel, duration, err := runJSONPromptCLI(ctx, promptRun{
		command:      a.command,
		prompt:       prompt,
		extraArgs:    a.cfg.ExtraArgs,
		env:          a.cfg.Env,
		timeout:      a.cfg.Timeout(),
		inlineLimit:  cursorInlinePromptLimit,
		workspaceDir: workspaceDir,
	})
	if err != nil {
		return nil, err
	}
	if sentinel != nil {
		a.logger.Warn("cursor CLI call failed",
			zap.String("agent_id", input.AgentID),
			zap.String("detail", sentinel.Content))
		sentinel.PromptSent = prompt
		return sentinel, nil
	}
	out := a.ParseOutput(raw, input, prompt, duration)
	return out, nil
}

func (a *CursorAdapter) ParseOutput(raw string, input *protocol.AgentInput, prompt string, duration time.Duration) *protocol.AgentOutput {
	content, mentions, shouldRespond := parseReply(raw)
	return &protocol.AgentOutput{
		Content:       content,
		NextMentions:  mentions,
		ShouldRespond: shouldRespond,
		ExecutionMeta: &protocol.ExecutionMeta{DurationMs: duration.Milliseconds()},
		PromptSent:    prompt,
	}
}

// HealthCheck verifies the binary answers --version and can complete a
// trivial prompt inside the workspace. The prompt check catches broken
// auth, which --version alone does not.
func (a *CursorAdapter) HealthCheck(ctx context.Context, workspaceDir string) bool {
	res, err := runCommand(ctx, []string{a.command, "--version"}, workspaceDir, a.cfg.Env, cursorHealthTimeout)
	if err != nil || res.timedOut || res.exitCode != 0 {
		return false
	}
	res, err = runCommand(ctx, []string{a.command, "-p", "ok", "--output-format", "text"}, workspaceDir, a.cfg.Env, cursorHealthTimeout)
	if err != nil {
		return false
	}
	return !res.timedOut && res.exitCode == 0
}
