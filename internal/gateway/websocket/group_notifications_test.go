package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentarena/agentarena/internal/events"
	"github.com/agentarena/agentarena/internal/events/bus"
	ws "github.com/agentarena/agentarena/pkg/websocket"
)

func TestExtractGroupID(t *testing.T) {
	tests := []struct {
		name     string
		data     any
		expected string
	}{
		{"nil data", nil, ""},
		{"map with group_id", map[string]any{"group_id": "g-7", "type": "agent_message"}, "g-7"},
		{"map without group_id", map[string]any{"type": "agent_message"}, ""},
		{"group_id wrong type", map[string]any{"group_id": 42}, ""},
		{"non-map data", "g-7", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, extractGroupID(tt.data))
		})
	}
}

func TestGroupStreamBroadcasterRoutesToSubscribers(t *testing.T) {
	hub := startHub(t)
	eventBus := bus.NewMemoryEventBus(newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	RegisterGroupStreamNotifications(ctx, eventBus, hub, newTestLogger())

	subscriber := registerClient(t, hub, "inside")
	outsider := registerClient(t, hub, "outside")
	hub.SubscribeToGroup(subscriber, "g1")

	event := bus.NewEvent(events.GroupAgentMessage, "orchestrator", map[string]interface{}{
		"group_id": "g1",
		"type":     "agent_message",
		"message":  map[string]interface{}{"id": "m1", "content": "hi"},
	})
	require.NoError(t, eventBus.Publish(context.Background(),
		events.BuildGroupSubject(events.GroupAgentMessage, "g1"), event))

	select {
	case data := <-subscriber.send:
		var msg ws.Message
		require.NoError(t, json.Unmarshal(data, &msg))
		assert.Equal(t, ws.ActionMessageAgent, msg.Action)
		assert.Equal(t, ws.MessageTypeNotification, msg.Type)

		var payload map[string]interface{}
		require.NoError(t, msg.ParsePayload(&payload))
		assert.Equal(t, "g1", payload["group_id"])
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive the notification")
	}

	select {
	case <-outsider.send:
		t.Fatal("client outside the group received a group notification")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestGroupStreamBroadcasterStatusReachesEveryone(t *testing.T) {
	hub := startHub(t)
	eventBus := bus.NewMemoryEventBus(newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	RegisterGroupStreamNotifications(ctx, eventBus, hub, newTestLogger())

	c1 := registerClient(t, hub, "c1")
	c2 := registerClient(t, hub, "c2")

	event := bus.NewEvent(events.GroupAgentStatus, "worker-runtime", map[string]interface{}{
		"group_id": "g1",
		"agent_id": "alice",
		"status":   "analyzing",
	})
	require.NoError(t, eventBus.Publish(context.Background(),
		events.BuildGroupSubject(events.GroupAgentStatus, "g1"), event))

	for _, client := range []*Client{c1, c2} {
		select {
		case data := <-client.send:
			var msg ws.Message
			require.NoError(t, json.Unmarshal(data, &msg))
			assert.Equal(t, ws.ActionAgentStatus, msg.Action)
		case <-time.After(time.Second):
			t.Fatalf("client %s did not receive the status notification", client.ID)
		}
	}
}

func TestGroupStreamBroadcasterSkipsEventsWithoutGroup(t *testing.T) {
	hub := startHub(t)
	eventBus := bus.NewMemoryEventBus(newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	RegisterGroupStreamNotifications(ctx, eventBus, hub, newTestLogger())

	client := registerClient(t, hub, "c1")
	hub.SubscribeToGroup(client, "g1")

	event := bus.NewEvent(events.GroupUserMessage, "group-service", map[string]interface{}{
		"type": "user_message",
	})
	require.NoError(t, eventBus.Publish(context.Background(),
		events.BuildGroupSubject(events.GroupUserMessage, "g1"), event))

	select {
	case <-client.send:
		t.Fatal("notification without group_id should be dropped")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestGroupStreamBroadcasterClose(t *testing.T) {
	hub := NewHub(ws.NewDispatcher(), newTestLogger())
	eventBus := bus.NewMemoryEventBus(newTestLogger())

	b := RegisterGroupStreamNotifications(context.Background(), eventBus, hub, newTestLogger())
	require.NotEmpty(t, b.subscriptions)

	b.Close()
	assert.Nil(t, b.subscriptions)
}

func TestGroupStreamBroadcasterNilBus(t *testing.T) {
	hub := NewHub(ws.NewDispatcher(), newTestLogger())
	b := RegisterGroupStreamNotifications(context.Background(), nil, hub, newTestLogger())
	assert.Empty(t, b.subscriptions)
}
