package main

import (
	"go.uber.org/zap"

	"github.com/agentarena/agentarena/internal/agent/registry"
	"github.com/agentarena/agentarena/internal/agent/workspace"
	"github.com/agentarena/agentarena/internal/common/config"
	"github.com/agentarena/agentarena/internal/common/logger"
	"github.com/agentarena/agentarena/internal/memory"
)

// provideAgentPlane loads the agent roster and the pieces hanging off it:
// per-agent personal memory and the workspace manager.
func provideAgentPlane(cfg *config.Config, log *logger.Logger) (*registry.Registry, *memory.PersonalMemory, *workspace.Manager, error) {
	agentRegistry, _, err := registry.Provide(cfg, log)
	if err != nil {
		return nil, nil, nil, err
	}
	log.Info("Agent registry loaded",
		zap.String("config_dir", cfg.Agents.ConfigDir),
		zap.Int("agents", agentRegistry.Count()))

	personal := memory.NewPersonalMemory(log)

	workspaceMgr, err := workspace.NewManager(agentRegistry, personal, cfg.Workspaces.Dir, cfg.Agents.ConfigDir, log)
	if err != nil {
		return nil, nil, nil, err
	}
	return agentRegistry, personal, workspaceMgr, nil
}
