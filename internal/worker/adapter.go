// Package worker executes agent CLI invocations: it selects an adapter
// for the agent's CLI type, runs the external command inside the agent's
// workspace and parses the reply into a structured output.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/agentarena/agentarena/internal/agent/models"
	"github.com/agentarena/agentarena/internal/common/logger"
	"github.com/agentarena/agentarena/internal/protocol"
)

// Adapter bridges one CLI flavor. Ordinary failures (timeout, missing
// binary, non-zero exit) never surface as errors; they come back as
// sentinel outputs with execution metadata flagged as errored. The error
// return is reserved for faults outside the CLI call itself.
type Adapter interface {
	BuildPrompt(input *protocol.AgentInput) string
	Invoke(ctx context.Context, input *protocol.AgentInput, workspaceDir string) (*protocol.AgentOutput, error)
	ParseOutput(raw string, input *protocol.AgentInput, prompt string, duration time.Duration) *protocol.AgentOutput
	HealthCheck(ctx context.Context, workspaceDir string) bool
}

// NewAdapter constructs the adapter for a CLI descriptor. Unknown types
// and a generic descriptor without a command are configuration errors.
func NewAdapter(cfg models.CLIConfig, log *logger.Logger) (Adapter, error) {
	switch cfg.Type {
	case models.CLIClaude:
		return NewClaudeAdapter(cfg, log), nil
	case models.CLICursor:
		return NewCursorAdapter(cfg, log), nil
	case models.CLIGeneric:
		if cfg.Command == "" {
			return nil, fmt.Errorf("generic CLI requires a command")
		}
		return NewGenericAdapter(cfg, log), nil
	default:
		return nil, fmt.Errorf("unknown CLI type: %q", cfg.Type)
	}
}

// sentinelOutput wraps an error condition as a visible chat reply.
func sentinelOutput(content string, duration time.Duration) *protocol.AgentOutput {
	return &protocol.AgentOutput{
		Content:       content,
		ShouldRespond: true,
		ExecutionMeta: &protocol.ExecutionMeta{
			DurationMs: duration.Milliseconds(),
			IsError:    true,
		},
	}
}

func timeoutSentinel(timeout, duration time.Duration) *protocol.AgentOutput {
	return sentinelOutput(fmt.Sprintf("[Timeout] 响应超时（%ds 内未完成）", int(timeout.Seconds())), duration)
}

func missingCommandSentinel(command string) *protocol.AgentOutput {
	return sentinelOutput(fmt.Sprintf("[Error] 未找到命令 %s，请确认已安装并在 PATH 中", command), 0)
}

func cliErrorSentinel(res *runResult) *protocol.AgentOutput {
	detail := res.stderr
	if detail == "" {
		detail = res.stdout
	}
	if detail == "" {
		detail = fmt.Sprintf("exit code %d", res.exitCode)
	}
	return sentinelOutput(fmt.Sprintf("[CLI Error] %s", detail), res.duration)
}

// runResult is the outcome of one subprocess run.
type runResult struct {
	stdout   string
	stderr   string
	exitCode int
	duration time.Duration
	timedOut bool
}

// runCommand executes argv in dir under a hard timeout, merging the
// agent's env over the parent environment. The context deadline kills
// the subprocess.
func runCommand(ctx context.Context, argv []string, dir string, env map[string]string, timeout time.Duration) (*runResult, error) {
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = dir
	if len(env) > 0 {
		merged := os.Environ()
		for k, v := range env {
			merged = append(merged, k+"="+v)
		}
		cmd.Env = merged
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := &runResult{
		stdout:   strings.TrimSpace(stdout.String()),
		stderr:   strings.TrimSpace(stderr.String()),
		duration: time.Since(start),
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		res.timedOut = true
		return res, nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.exitCode = exitErr.ExitCode()
			return res, nil
		}
		return nil, fmt.Errorf("failed to run %s: %w", argv[0], err)
	}
	return res, nil
}

// promptRun describes one `command -p <prompt> --output-format json`
// style invocation with temp-file fallback for oversized prompts.
type promptRun struct {
	command      string
	prompt       string
	extraArgs    []string
	env          map[string]string
	timeout      time.Duration
	inlineLimit  int
	workspaceDir string
}

// runJSONPromptCLI performs the invocation. When the prompt exceeds the
// inline limit it is written to a temp file and the shell substitutes it
// back, so long multi-line prompts cannot be truncated by argv handling.
// The temp file is removed whatever the outcome. A nil sentinel in the
// result means stdout holds a parseable reply.
func runJSONPromptCLI(ctx context.Context, run promptRun) (raw string, sentinel *protocol.AgentOutput, duration time.Duration, err error) {
	if _, lookErr := exec.LookPath(run.command); lookErr != nil {
		return "", missingCommandSentinel(run.command), 0, nil
	}

	var argv []string
	if run.inlineLimit > 0 && len([]rune(run.prompt)) > run.inlineLimit {
		promptFile, writeErr := os.CreateTemp("", "arena-prompt-*.txt")
		if writeErr != nil {
			return "", nil, 0, fmt.Errorf("failed to create prompt file: %w", writeErr)
		}
		promptPath := promptFile.Name()
		defer os.Remove(promptPath)
		if _, writeErr = promptFile.WriteString(run.prompt); writeErr != nil {
			promptFile.Close()
			return "", nil, 0, fmt.Errorf("failed to write prompt file: %w", writeErr)
		}
		if writeErr = promptFile.Close(); writeErr != nil {
			return "", nil, 0, fmt.Errorf("failed to write prompt file: %w", writeErr)
		}

		base := run.command
		if strings.Contains(base, " ") {
			base = fmt.Sprintf("%q", base)
		}
		shellCmd := fmt.Sprintf(`%s -p "$(cat '%s')" --output-format json`, base, promptPath)
		if len(run.extraArgs) > 0 {
			shellCmd += " " + strings.Join(run.extraArgs, " ")
		}
		argv = []string{"/bin/sh", "-c", shellCmd}
	} else {
		argv = append([]string{run.command, "-p", run.prompt, "--output-format", "json"}, run.extraArgs...)
	}

	res, runErr := runCommand(ctx, argv, run.workspaceDir, run.env, run.timeout)
	if runErr != nil {
		return "", nil, 0, runErr
	}
	if res.timedOut {
		return "", timeoutSentinel(run.timeout, res.duration), res.duration, nil
	}
	if res.exitCode != 0 {
		return "", cliErrorSentinel(res), res.duration, nil
	}
	return res.stdout, nil, res.duration, nil
}
