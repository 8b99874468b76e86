package main

import (
	"github.com/agentarena/agentarena/internal/common/config"
	"github.com/agentarena/agentarena/internal/common/logger"
	"github.com/agentarena/agentarena/internal/events"
	"github.com/agentarena/agentarena/internal/events/bus"
)

func provideEventBus(cfg *config.Config, log *logger.Logger) (bus.EventBus, func() error, error) {
	provider, cleanup, err := events.Provide(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return provider.Bus, cleanup, nil
}
