package worker

import (
	"context"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/agentarena/agentarena/internal/agent/models"
	"github.com/agentarena/agentarena/internal/common/logger"
	"github.com/agentarena/agentarena/internal/protocol"
)

// GenericAdapter drives any command that takes the prompt as its last
// argument and prints the reply to stdout. No workspace role-file
// convention can be assumed, so the role prompt rides in the chat
// prompt itself. There is no temp-file fallback; the prompt is always
// passed as a single argv element.
type GenericAdapter struct {
	cfg    models.CLIConfig
	logger *logger.Logger
}

func NewGenericAdapter(cfg models.CLIConfig, log *logger.Logger) *GenericAdapter {
	return &GenericAdapter{cfg: cfg, logger: log}
}

func (a *GenericAdapter) BuildPrompt(input *protocol.AgentInput) string {
	return BuildChatPrompt(input, true)
}

func (a *GenericAdapter) Invoke(ctx context.Context, input *protocol.AgentInput, workspaceDir string) (*protocol.AgentOutput, error) {
	prompt := a.BuildPrompt(input)
	if _, err := exec.LookPath(a.cfg.Command); err != nil {
		out := missingCommandSentinel(a.cfg.Command)
		out.PromptSent = prompt
		return out, nil
	}

	argv := append([]string{a.cfg.Command}, a.cfg.ExtraArgs...)
	argv = append(argv, prompt)
	res, err := runCommand(ctx, argv, workspaceDir, a.cfg.Env, a.cfg.Timeout())
	if err != nil {
		return nil, err
	}

	var sentinel *protocol.AgentOutput
	switch {
	case res.timedOut:
		sentinel = timeoutSentinel(a.cfg.Timeout(), res.duration)
	case res.exitCode != 0:
		sentinel = cliErrorSentinel(res)
	}
	if sentinel != nil {
		a.logger.Warn("generic CLI call failed",
			zap.String("agent_id", input.AgentID),
			zap.String("command", a.cfg.Command),
			zap.String("detail", sentinel.Content))
		sentinel.PromptSent = prompt
		return sentinel, nil
	}
	return a.ParseOutput(res.stdout, input, prompt, res.duration), nil
}

func (a *GenericAdapter) ParseOutput(raw string, input *protocol.AgentInput, prompt string, duration time.Duration) *protocol.AgentOutput {
	content, mentions, shouldRespond := parseReply(raw)
	return &protocol.AgentOutput{
		Content:       content,
		NextMentions:  mentions,
		ShouldRespond: shouldRespond,
		ExecutionMeta: &protocol.ExecutionMeta{DurationMs: duration.Milliseconds()},
		PromptSent:    prompt,
	}
}

// HealthCheck only confirms a command is configured. Generic commands
// have no common version flag to probe.
func (a *GenericAdapter) HealthCheck(ctx context.Context, workspaceDir string) bool {
	return a.cfg.Command != ""
}
