package websocket

import (
	"context"

	"go.uber.org/zap"

	"github.com/agentarena/agentarena/internal/common/logger"
	"github.com/agentarena/agentarena/internal/events"
	"github.com/agentarena/agentarena/internal/events/bus"
	ws "github.com/agentarena/agentarena/pkg/websocket"
)

// GroupStreamBroadcaster bridges the event bus onto the hub: chat traffic
// reaches the clients subscribed to the group, agent working status
// reaches every client.
type GroupStreamBroadcaster struct {
	hub           *Hub
	subscriptions []bus.Subscription
	logger        *logger.Logger
}

// RegisterGroupStreamNotifications wires the group event subjects to
// WebSocket notification actions. The broadcaster unsubscribes itself
// when ctx is cancelled.
func RegisterGroupStreamNotifications(ctx context.Context, eventBus bus.EventBus, hub *Hub, log *logger.Logger) *GroupStreamBroadcaster {
	b := &GroupStreamBroadcaster{
		hub:    hub,
		logger: log.WithFields(zap.String("component", "ws-group-stream-broadcaster")),
	}
	if eventBus == nil {
		return b
	}

	b.subscribeGroup(eventBus, events.BuildGroupWildcardSubject(events.GroupUserMessage), ws.ActionMessageUser)
	b.subscribeGroup(eventBus, events.BuildGroupWildcardSubject(events.GroupAgentMessage), ws.ActionMessageAgent)
	b.subscribeGroup(eventBus, events.BuildGroupWildcardSubject(events.GroupTurnLog), ws.ActionTurnLog)
	b.subscribeGroup(eventBus, events.BuildGroupWildcardSubject(events.GroupSystemMessage), ws.ActionMessageSystem)
	// Status changes are not group-scoped on the client side: a roster
	// sidebar shows agents working across groups.
	b.subscribeAll(eventBus, events.BuildGroupWildcardSubject(events.GroupAgentStatus), ws.ActionAgentStatus)

	go func() {
		<-ctx.Done()
		b.Close()
	}()

	return b
}

// Close drops all bus subscriptions.
func (b *GroupStreamBroadcaster) Close() {
	for _, sub := range b.subscriptions {
		if sub != nil && sub.IsValid() {
			_ = sub.Unsubscribe()
		}
	}
	b.subscriptions = nil
}

func (b *GroupStreamBroadcaster) subscribeGroup(eventBus bus.EventBus, subject, action string) {
	sub, err := eventBus.Subscribe(subject, func(ctx context.Context, event *bus.Event) error {
		groupID := extractGroupID(event.Data)
		if groupID == "" {
			return nil
		}
		msg, err := ws.NewNotification(action, event.Data)
		if err != nil {
			b.logger.Error("failed to build websocket notification", zap.String("action", action), zap.Error(err))
			return nil
		}
		b.hub.BroadcastToGroup(groupID, msg)
		return nil
	})
	if err != nil {
		b.logger.Error("failed to subscribe to events", zap.String("subject", subject), zap.Error(err))
		return
	}
	b.subscriptions = append(b.subscriptions, sub)
}

func (b *GroupStreamBroadcaster) subscribeAll(eventBus bus.EventBus, subject, action string) {
	sub, err := eventBus.Subscribe(subject, func(ctx context.Context, event *bus.Event) error {
		msg, err := ws.NewNotification(action, event.Data)
		if err != nil {
			b.logger.Error("failed to build websocket notification", zap.String("action", action), zap.Error(err))
			return nil
		}
		b.hub.Broadcast(msg)
		return nil
	})
	if err != nil {
		b.logger.Error("failed to subscribe to events", zap.String("subject", subject), zap.Error(err))
		return
	}
	b.subscriptions = append(b.subscriptions, sub)
}

func extractGroupID(data any) string {
	if data == nil {
		return ""
	}
	if m, ok := data.(map[string]any); ok {
		if groupID, ok := m["group_id"].(string); ok {
			return groupID
		}
	}
	return ""
}
