package main

import (
	"context"

	"github.com/agentarena/agentarena/internal/common/logger"
	"github.com/agentarena/agentarena/internal/events/bus"
	gateways "github.com/agentarena/agentarena/internal/gateway/websocket"
)

// provideGateway starts the WebSocket hub and bridges group events from
// the bus into it.
func provideGateway(ctx context.Context, log *logger.Logger, eventBus bus.EventBus) (*gateways.Gateway, error) {
	gateway, err := gateways.Provide(log)
	if err != nil {
		return nil, err
	}
	go gateway.Hub.Run(ctx)
	gateways.RegisterGroupStreamNotifications(ctx, eventBus, gateway.Hub, log)
	return gateway, nil
}
