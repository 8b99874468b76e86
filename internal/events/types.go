// Package events provides event types and utilities for the arena event system.
package events

// Event types for group chat traffic. Subjects are group-scoped:
// the full subject is "<type>.<group_id>".
const (
	GroupUserMessage   = "group.user_message"   // a human message was persisted
	GroupAgentMessage  = "group.agent_message"  // an agent reply was persisted
	GroupTurnLog       = "group.turn_log"       // orchestration trace entry
	GroupAgentStatus   = "group.agent_status"   // agent working status changed
	GroupSystemMessage = "group.system_message" // platform-generated notice
)

// Event types for orchestrator triggering
const (
	MessageCreated = "message.created" // new human message, starts a turn
)

// Event types for agent lifecycle
const (
	AgentRegistered   = "agent.registered"
	AgentUnregistered = "agent.unregistered"
)

// BuildGroupSubject creates a group-scoped subject for the given event type.
func BuildGroupSubject(eventType, groupID string) string {
	return eventType + "." + groupID
}

// BuildGroupWildcardSubject creates a wildcard subscription for all groups
// of the given event type.
func BuildGroupWildcardSubject(eventType string) string {
	return eventType + ".*"
}

// BuildMessageCreatedSubject creates a message trigger subject for a specific group.
func BuildMessageCreatedSubject(groupID string) string {
	return MessageCreated + "." + groupID
}

// BuildMessageCreatedWildcardSubject creates a wildcard subscription for all
// message trigger events.
func BuildMessageCreatedWildcardSubject() string {
	return MessageCreated + ".*"
}
