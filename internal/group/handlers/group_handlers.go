// Package handlers exposes the group chat plane over HTTP and WebSocket.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentarena/agentarena/internal/calllog"
	"github.com/agentarena/agentarena/internal/common/logger"
	"github.com/agentarena/agentarena/internal/group/models"
	"github.com/agentarena/agentarena/internal/group/store"
	ws "github.com/agentarena/agentarena/pkg/websocket"
)

// CallLogReader reads the invocation trace of a group session.
type CallLogReader interface {
	GetSessionLogs(sessionID string) ([]*calllog.Entry, error)
}

// GroupHandlers serves group and member CRUD plus the call-log trace.
type GroupHandlers struct {
	store  store.Store
	calls  CallLogReader
	logger *logger.Logger
}

// NewGroupHandlers creates a new GroupHandlers instance.
func NewGroupHandlers(st store.Store, calls CallLogReader, log *logger.Logger) *GroupHandlers {
	return &GroupHandlers{
		store:  st,
		calls:  calls,
		logger: log.WithFields(zap.String("component", "group-handlers")),
	}
}

// RegisterGroupRoutes registers group HTTP + WebSocket handlers.
func RegisterGroupRoutes(router *gin.Engine, dispatcher *ws.Dispatcher, st store.Store, calls CallLogReader, log *logger.Logger) {
	handlers := NewGroupHandlers(st, calls, log)
	handlers.registerHTTP(router)
	handlers.registerWS(dispatcher)
}

func (h *GroupHandlers) registerHTTP(router *gin.Engine) {
	api := router.Group("/api/v1")
	api.GET("/groups", h.httpListGroups)
	api.POST("/groups", h.httpCreateGroup)
	api.GET("/groups/:id", h.httpGetGroup)
	api.DELETE("/groups/:id", h.httpDeleteGroup)
	api.POST("/groups/:id/members", h.httpAddMember)
	api.DELETE("/groups/:id/members/:memberID", h.httpRemoveMember)
	api.GET("/groups/:id/calls", h.httpListCalls)
}

func (h *GroupHandlers) registerWS(dispatcher *ws.Dispatcher) {
	dispatcher.RegisterFunc(ws.ActionGroupList, h.wsListGroups)
	dispatcher.RegisterFunc(ws.ActionGroupGet, h.wsGetGroup)
}

// HTTP handlers

func (h *GroupHandlers) httpListGroups(c *gin.Context) {
	groups, err := h.store.ListGroups(c.Request.Context())
	if err != nil {
		handleStoreError(c, h.logger, err, "failed to list groups")
		return
	}
	if groups == nil {
		groups = []*models.Group{}
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

type httpCreateGroupRequest struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Config      models.GroupConfig `json:"config,omitempty"`
}

func (h *GroupHandlers) httpCreateGroup(c *gin.Context) {
	var body httpCreateGroupRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if body.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	group := &models.Group{
		Name:        body.Name,
		Description: body.Description,
		Config:      body.Config,
	}
	if err := h.store.CreateGroup(c.Request.Context(), group); err != nil {
		handleStoreError(c, h.logger, err, "failed to create group")
		return
	}
	c.JSON(http.StatusOK, gin.H{"group": group})
}

func (h *GroupHandlers) httpGetGroup(c *gin.Context) {
	ctx := c.Request.Context()
	group, err := h.store.GetGroup(ctx, c.Param("id"))
	if err != nil {
		handleStoreError(c, h.logger, err, "group not found")
		return
	}
	members, err := h.store.ListMembers(ctx, group.ID)
	if err != nil {
		handleStoreError(c, h.logger, err, "failed to list group members")
		return
	}
	if members == nil {
		members = []*models.GroupMember{}
	}
	c.JSON(http.StatusOK, gin.H{"group": group, "members": members})
}

func (h *GroupHandlers) httpDeleteGroup(c *gin.Context) {
	if err := h.store.DeleteGroup(c.Request.Context(), c.Param("id")); err != nil {
		handleStoreError(c, h.logger, err, "group not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type httpAddMemberRequest struct {
	Type        string `json:"type,omitempty"`
	AgentID     string `json:"agent_id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	RoleInGroup string `json:"role_in_group,omitempty"`
}

func (h *GroupHandlers) httpAddMember(c *gin.Context) {
	var body httpAddMemberRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	memberType := models.MemberType(body.Type)
	if memberType == "" {
		memberType = models.MemberAgent
	}
	if memberType != models.MemberAgent && memberType != models.MemberHuman {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be agent or human"})
		return
	}
	if memberType == models.MemberAgent && body.AgentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "agent_id is required"})
		return
	}

	ctx := c.Request.Context()
	group, err := h.store.GetGroup(ctx, c.Param("id"))
	if err != nil {
		handleStoreError(c, h.logger, err, "group not found")
		return
	}

	member := &models.GroupMember{
		GroupID:     group.ID,
		Type:        memberType,
		AgentID:     body.AgentID,
		DisplayName: body.DisplayName,
		RoleInGroup: body.RoleInGroup,
	}
	// An empty display name would never match a mention, fall back to
	// the agent ID.
	if member.DisplayName == "" {
		member.DisplayName = body.AgentID
	}
	if err := h.store.AddMember(ctx, member); err != nil {
		handleStoreError(c, h.logger, err, "failed to add group member")
		return
	}
	c.JSON(http.StatusOK, gin.H{"member": member})
}

func (h *GroupHandlers) httpRemoveMember(c *gin.Context) {
	if err := h.store.RemoveMember(c.Request.Context(), c.Param("id"), c.Param("memberID")); err != nil {
		handleStoreError(c, h.logger, err, "group member not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *GroupHandlers) httpListCalls(c *gin.Context) {
	groupID := c.Param("id")
	if _, err := h.store.GetGroup(c.Request.Context(), groupID); err != nil {
		handleStoreError(c, h.logger, err, "group not found")
		return
	}

	entries, err := h.calls.GetSessionLogs(groupID)
	if err != nil {
		h.logger.Error("failed to read call logs", zap.String("group_id", groupID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read call logs"})
		return
	}
	if entries == nil {
		entries = []*calllog.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"calls": entries})
}

// WS handlers

func (h *GroupHandlers) wsListGroups(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	groups, err := h.store.ListGroups(ctx)
	if err != nil {
		h.logger.Error("failed to list groups", zap.Error(err))
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeInternalError, "Failed to list groups", nil)
	}
	if groups == nil {
		groups = []*models.Group{}
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{"groups": groups})
}

type wsGetGroupRequest struct {
	GroupID string `json:"group_id"`
}

func (h *GroupHandlers) wsGetGroup(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsGetGroupRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if req.GroupID == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "group_id is required", nil)
	}

	group, err := h.store.GetGroup(ctx, req.GroupID)
	if err != nil {
		if isGroupNotFound(err) {
			return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeNotFound, "Group not found", nil)
		}
		h.logger.Error("failed to get group", zap.Error(err))
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeInternalError, "Failed to get group", nil)
	}
	members, err := h.store.ListMembers(ctx, group.ID)
	if err != nil {
		h.logger.Error("failed to list group members", zap.Error(err))
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeInternalError, "Failed to list group members", nil)
	}
	if members == nil {
		members = []*models.GroupMember{}
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{"group": group, "members": members})
}
