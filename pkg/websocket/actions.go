package websocket

// Action constants for WebSocket messages
const (
	// Health
	ActionHealthCheck = "health.check"

	// Group actions
	ActionGroupList        = "group.list"
	ActionGroupGet         = "group.get"
	ActionGroupSubscribe   = "group.subscribe"
	ActionGroupUnsubscribe = "group.unsubscribe"

	// Message actions
	ActionMessageSend    = "message.send"
	ActionMessageHistory = "message.history"

	// Agent actions
	ActionAgentList = "agent.list"
	ActionAgentGet  = "agent.get"

	// Notification actions (server -> client)
	ActionMessageUser   = "message.user"
	ActionMessageAgent  = "message.agent"
	ActionMessageSystem = "message.system"
	ActionTurnLog       = "turn.log"
	ActionAgentStatus   = "agent.status"
)

// Error codes
const (
	ErrorCodeBadRequest    = "BAD_REQUEST"
	ErrorCodeNotFound      = "NOT_FOUND"
	ErrorCodeInternalError = "INTERNAL_ERROR"
	ErrorCodeUnauthorized  = "UNAUTHORIZED"
	ErrorCodeForbidden     = "FORBIDDEN"
	ErrorCodeValidation    = "VALIDATION_ERROR"
	ErrorCodeUnknownAction = "UNKNOWN_ACTION"
)
