package worker

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/agentarena/agentarena/internal/agent/models"
	"github.com/agentarena/agentarena/internal/common/logger"
	"github.com/agentarena/agentarena/internal/common/tracing"
	"github.com/agentarena/agentarena/internal/events"
	"github.com/agentarena/agentarena/internal/events/bus"
	"github.com/agentarena/agentarena/internal/protocol"
)

const defaultMaxConcurrent = 8

// ProfileResolver returns the profile for an agent ID.
type ProfileResolver interface {
	Get(agentID string) (*models.AgentProfile, error)
}

// Runtime turns AgentInput into AgentOutput by running the agent's CLI.
// A weighted semaphore caps how many CLI processes run at once across
// all groups. Status transitions (analyzing, done, error) are published
// to the group's event subject so clients can show activity indicators.
type Runtime struct {
	profiles   ProfileResolver
	bus        bus.EventBus
	sem        *semaphore.Weighted
	logger     *logger.Logger
	newAdapter func(models.CLIConfig, *logger.Logger) (Adapter, error)
}

func NewRuntime(profiles ProfileResolver, eventBus bus.EventBus, maxConcurrent int, log *logger.Logger) *Runtime {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	return &Runtime{
		profiles:   profiles,
		bus:        eventBus,
		sem:        semaphore.NewWeighted(int64(maxConcurrent)),
		logger:     log.WithFields(zap.String("component", "worker-runtime")),
		newAdapter: NewAdapter,
	}
}

// InvokeAgent executes one agent call. Adapter-level failures come back
// as sentinel outputs, not errors; the error return means the call never
// produced a reply at all (unknown agent, bad CLI config, canceled
// context, subprocess could not start).
func (r *Runtime) InvokeAgent(ctx context.Context, input *protocol.AgentInput) (*protocol.AgentOutput, error) {
	ctx, span := tracing.TraceAgentInvoke(ctx, input.AgentID, input.TurnID, string(input.Invocation))
	defer span.End()

	profile, err := r.profiles.Get(input.AgentID)
	if err != nil {
		tracing.TraceInvokeResult(span, "error", err)
		return nil, fmt.Errorf("failed to resolve agent %s: %w", input.AgentID, err)
	}

	if info, statErr := os.Stat(profile.WorkspaceDir); statErr != nil || !info.IsDir() {
		r.logger.Warn("agent workspace missing",
			zap.String("agent_id", input.AgentID),
			zap.String("workspace", profile.WorkspaceDir))
		tracing.TraceInvokeResult(span, "workspace_missing", nil)
		return sentinelOutput(fmt.Sprintf("[Error] 工作目录不存在: %s", profile.WorkspaceDir), 0), nil
	}

	adapter, err := r.newAdapter(profile.CLIConfig, r.logger)
	if err != nil {
		tracing.TraceInvokeResult(span, "error", err)
		return nil, fmt.Errorf("failed to create adapter for %s: %w", input.AgentID, err)
	}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		tracing.TraceInvokeResult(span, "canceled", err)
		return nil, err
	}
	defer r.sem.Release(1)

	r.publishStatus(ctx, input, "analyzing", "正在分析消息...")

	out, err := adapter.Invoke(ctx, input, profile.WorkspaceDir)
	if err != nil {
		r.publishStatus(ctx, input, "error", err.Error())
		tracing.TraceInvokeResult(span, "error", err)
		return nil, err
	}

	r.publishStatus(ctx, input, "done", "")
	tracing.TraceInvokeResult(span, "ok", nil)
	return out, nil
}

// HealthCheck probes the agent's CLI inside its workspace.
func (r *Runtime) HealthCheck(ctx context.Context, agentID string) (bool, error) {
	profile, err := r.profiles.Get(agentID)
	if err != nil {
		return false, err
	}
	adapter, err := r.newAdapter(profile.CLIConfig, r.logger)
	if err != nil {
		return false, err
	}
	return adapter.HealthCheck(ctx, profile.WorkspaceDir), nil
}

func (r *Runtime) publishStatus(ctx context.Context, input *protocol.AgentInput, status, detail string) {
	event := bus.NewEvent(events.GroupAgentStatus, "worker-runtime", map[string]interface{}{
		"type":     "agent_status",
		"group_id": input.SessionID,
		"agent_id": input.AgentID,
		"status":   status,
		"detail":   detail,
	})
	subject := events.BuildGroupSubject(events.GroupAgentStatus, input.SessionID)
	if err := r.bus.Publish(ctx, subject, event); err != nil {
		r.logger.Warn("failed to publish agent status",
			zap.String("agent_id", input.AgentID),
			zap.String("status", status),
			zap.Error(err))
	}
}
