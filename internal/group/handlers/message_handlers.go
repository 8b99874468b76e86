package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentarena/agentarena/internal/common/logger"
	"github.com/agentarena/agentarena/internal/events"
	"github.com/agentarena/agentarena/internal/events/bus"
	"github.com/agentarena/agentarena/internal/group/models"
	"github.com/agentarena/agentarena/internal/group/store"
	ws "github.com/agentarena/agentarena/pkg/websocket"
)

// defaultHistoryLimit bounds history reads when the client does not ask
// for a window.
const defaultHistoryLimit = 50

// MessageNotifier hands a freshly persisted message to the orchestrator.
type MessageNotifier interface {
	OnNewMessage(ctx context.Context, message *models.Message) error
}

// MessageHandlers ingests human messages and serves message history.
type MessageHandlers struct {
	store        store.Store
	orchestrator MessageNotifier
	eventBus     bus.EventBus
	logger       *logger.Logger
}

// NewMessageHandlers creates a new MessageHandlers instance.
func NewMessageHandlers(st store.Store, orchestrator MessageNotifier, eventBus bus.EventBus, log *logger.Logger) *MessageHandlers {
	return &MessageHandlers{
		store:        st,
		orchestrator: orchestrator,
		eventBus:     eventBus,
		logger:       log.WithFields(zap.String("component", "group-message-handlers")),
	}
}

// RegisterMessageRoutes registers message HTTP + WebSocket handlers.
func RegisterMessageRoutes(router *gin.Engine, dispatcher *ws.Dispatcher, st store.Store, orchestrator MessageNotifier, eventBus bus.EventBus, log *logger.Logger) {
	handlers := NewMessageHandlers(st, orchestrator, eventBus, log)
	handlers.registerHTTP(router)
	handlers.registerWS(dispatcher)
}

func (h *MessageHandlers) registerHTTP(router *gin.Engine) {
	api := router.Group("/api/v1")
	api.POST("/messages", h.httpSendMessage)
	api.GET("/groups/:id/messages", h.httpListMessages)
	api.GET("/groups/:id/messages/search", h.httpSearchMessages)
}

func (h *MessageHandlers) registerWS(dispatcher *ws.Dispatcher) {
	dispatcher.RegisterFunc(ws.ActionMessageSend, h.wsSendMessage)
	dispatcher.RegisterFunc(ws.ActionMessageHistory, h.wsListMessages)
}

type sendMessageRequest struct {
	GroupID    string   `json:"group_id"`
	Content    string   `json:"content"`
	AuthorID   string   `json:"author_id,omitempty"`
	AuthorName string   `json:"author_name,omitempty"`
	Mentions   []string `json:"mentions,omitempty"`
}

func (r *sendMessageRequest) validate() string {
	if r.GroupID == "" {
		return "group_id is required"
	}
	if r.Content == "" {
		return "content is required"
	}
	return ""
}

// ingest persists a human message, broadcasts it to the group's stream,
// and hands it to the orchestrator. The orchestrator trigger rides the
// event bus, so the caller's response does not wait for the turn.
func (h *MessageHandlers) ingest(ctx context.Context, req sendMessageRequest) (*models.Message, error) {
	if _, err := h.store.GetGroup(ctx, req.GroupID); err != nil {
		return nil, err
	}

	message := &models.Message{
		GroupID:    req.GroupID,
		AuthorID:   req.AuthorID,
		AuthorType: models.AuthorHuman,
		AuthorName: req.AuthorName,
		Content:    req.Content,
		Mentions:   req.Mentions,
	}
	if message.AuthorID == "" {
		message.AuthorID = "human"
	}
	if message.AuthorName == "" {
		message.AuthorName = "用户"
	}
	if err := h.store.SaveMessage(ctx, message); err != nil {
		return nil, err
	}

	if h.eventBus != nil {
		event := bus.NewEvent(events.GroupUserMessage, "group-handlers", map[string]interface{}{
			"group_id": message.GroupID,
			"type":     "user_message",
			"message":  message,
		})
		if err := h.eventBus.Publish(ctx, events.BuildGroupSubject(events.GroupUserMessage, message.GroupID), event); err != nil {
			h.logger.Warn("failed to broadcast user message",
				zap.String("group_id", message.GroupID),
				zap.Error(err))
		}
	}

	if h.orchestrator != nil {
		if err := h.orchestrator.OnNewMessage(ctx, message); err != nil {
			h.logger.Warn("failed to trigger orchestration",
				zap.String("group_id", message.GroupID),
				zap.Error(err))
		}
	}
	return message, nil
}

// HTTP handlers

func (h *MessageHandlers) httpSendMessage(c *gin.Context) {
	var body sendMessageRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if problem := body.validate(); problem != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": problem})
		return
	}

	message, err := h.ingest(c.Request.Context(), body)
	if err != nil {
		handleStoreError(c, h.logger, err, "group not found")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": message, "status": "processing"})
}

func (h *MessageHandlers) httpListMessages(c *gin.Context) {
	groupID := c.Param("id")
	opts := store.ListMessagesOptions{Limit: defaultHistoryLimit}
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		opts.Limit = parsed
	}
	if raw := c.Query("before"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "before must be an RFC3339 timestamp"})
			return
		}
		opts.Before = &parsed
	}

	ctx := c.Request.Context()
	if _, err := h.store.GetGroup(ctx, groupID); err != nil {
		handleStoreError(c, h.logger, err, "group not found")
		return
	}
	messages, err := h.store.GetMessages(ctx, groupID, opts)
	if err != nil {
		handleStoreError(c, h.logger, err, "failed to list messages")
		return
	}
	if messages == nil {
		messages = []*models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (h *MessageHandlers) httpSearchMessages(c *gin.Context) {
	groupID := c.Param("id")
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q is required"})
		return
	}
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = parsed
	}

	ctx := c.Request.Context()
	if _, err := h.store.GetGroup(ctx, groupID); err != nil {
		handleStoreError(c, h.logger, err, "group not found")
		return
	}
	messages, err := h.store.SearchMessages(ctx, groupID, query, limit)
	if err != nil {
		handleStoreError(c, h.logger, err, "failed to search messages")
		return
	}
	if messages == nil {
		messages = []*models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages, "query": query})
}

// WS handlers

func (h *MessageHandlers) wsSendMessage(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req sendMessageRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if problem := req.validate(); problem != "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, problem, nil)
	}

	message, err := h.ingest(ctx, req)
	if err != nil {
		if isGroupNotFound(err) {
			return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeNotFound, "Group not found", nil)
		}
		h.logger.Error("failed to send message", zap.Error(err))
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeInternalError, "Failed to send message", nil)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
		"message": message,
		"status":  "processing",
	})
}

type wsListMessagesRequest struct {
	GroupID string `json:"group_id"`
	Limit   int    `json:"limit,omitempty"`
	Before  string `json:"before,omitempty"`
}

func (h *MessageHandlers) wsListMessages(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsListMessagesRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if req.GroupID == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "group_id is required", nil)
	}
	if req.Limit < 0 {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "limit must be non-negative", nil)
	}

	opts := store.ListMessagesOptions{Limit: req.Limit}
	if req.Limit == 0 {
		opts.Limit = defaultHistoryLimit
	}
	if req.Before != "" {
		parsed, err := time.Parse(time.RFC3339, req.Before)
		if err != nil {
			return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "before must be an RFC3339 timestamp", nil)
		}
		opts.Before = &parsed
	}

	if _, err := h.store.GetGroup(ctx, req.GroupID); err != nil {
		if isGroupNotFound(err) {
			return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeNotFound, "Group not found", nil)
		}
		h.logger.Error("failed to get group", zap.Error(err))
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeInternalError, "Failed to get group", nil)
	}
	messages, err := h.store.GetMessages(ctx, req.GroupID, opts)
	if err != nil {
		h.logger.Error("failed to list messages", zap.Error(err))
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeInternalError, "Failed to list messages", nil)
	}
	if messages == nil {
		messages = []*models.Message{}
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{"messages": messages})
}
