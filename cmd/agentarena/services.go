package main

import (
	"path/filepath"

	"github.com/agentarena/agentarena/internal/agent/registry"
	"github.com/agentarena/agentarena/internal/calllog"
	"github.com/agentarena/agentarena/internal/common/config"
	"github.com/agentarena/agentarena/internal/common/logger"
	"github.com/agentarena/agentarena/internal/contextbuilder"
	"github.com/agentarena/agentarena/internal/events/bus"
	groupstore "github.com/agentarena/agentarena/internal/group/store"
	"github.com/agentarena/agentarena/internal/memory"
	"github.com/agentarena/agentarena/internal/orchestrator"
	"github.com/agentarena/agentarena/internal/worker"
)

// provideOrchestration builds the turn pipeline: memory plane, call log,
// context builder, worker runtime, and the orchestrator on top.
func provideOrchestration(
	cfg *config.Config,
	log *logger.Logger,
	eventBus bus.EventBus,
	arenaStore groupstore.Store,
	agentRegistry *registry.Registry,
	personal *memory.PersonalMemory,
) (*orchestrator.Service, *calllog.Logger, error) {
	memoryDir := filepath.Join(cfg.Data.Dir, "memory")
	memoryStore, err := memory.NewStore(memoryDir, log)
	if err != nil {
		return nil, nil, err
	}
	summaries, err := memory.NewSummaryManager(memoryDir, log)
	if err != nil {
		return nil, nil, err
	}
	callLog, err := calllog.NewLogger(filepath.Join(cfg.Data.Dir, "logs"), log)
	if err != nil {
		return nil, nil, err
	}

	builder := contextbuilder.NewBuilder(arenaStore, agentRegistry, memoryStore, personal, summaries, log)
	builder.SetHistoryLimit(cfg.Orchestrator.HistoryLimit)

	runtime := worker.NewRuntime(agentRegistry, eventBus, cfg.Worker.MaxConcurrent, log)

	orchestratorSvc := orchestrator.NewService(
		orchestrator.DefaultServiceConfig(),
		eventBus,
		arenaStore,
		agentRegistry,
		builder,
		runtime,
		memoryStore,
		summaries,
		personal,
		callLog,
		memory.Summarizer{},
		log,
	)
	return orchestratorSvc, callLog, nil
}
